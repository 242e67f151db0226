package player

import (
	"strconv"
	"strings"
)

// Artwork describes the templated artwork image of a track. URL contains
// literal {w} and {h} placeholders that must be substituted before use.
type Artwork struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// ResolveURL returns the artwork URL with the width and height placeholders
// substituted. Returns an empty string when no URL is set.
func (a Artwork) ResolveURL() string {
	if a.URL == "" {
		return ""
	}
	url := strings.ReplaceAll(a.URL, "{w}", strconv.Itoa(a.Width))
	return strings.ReplaceAll(url, "{h}", strconv.Itoa(a.Height))
}

// TrackMetadata is the attributes object the embedded page reports for the
// current track. The shape is controlled by a third party; unknown fields are
// ignored and any field may be absent.
type TrackMetadata struct {
	Name             string   `json:"name"`
	ArtistName       string   `json:"artistName"`
	AlbumName        string   `json:"albumName"`
	ComposerName     string   `json:"composerName"`
	DurationInMillis int      `json:"durationInMillis"`
	Artwork          Artwork  `json:"artwork"`
	DiscNumber       int      `json:"discNumber"`
	TrackNumber      int      `json:"trackNumber"`
	GenreNames       []string `json:"genreNames"`
	ContentRating    string   `json:"contentRating"`
	ISRC             string   `json:"isrc"`
	// Attribution carries classical-specific performer credits.
	Attribution string `json:"attribution"`
	ReleaseDate string `json:"releaseDate"`
	HasLyrics   bool   `json:"hasLyrics"`
	URL         string `json:"url"`
}

// DurationSeconds returns the track duration in seconds.
func (m *TrackMetadata) DurationSeconds() float64 {
	return float64(m.DurationInMillis) / 1000
}

// AlbumData is the supplementary album payload the page emits after the
// now-playing attributes, carrying the album-level artist credit.
type AlbumData struct {
	ArtistName string `json:"artistName"`
}
