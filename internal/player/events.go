package player

// Inbound channel names consumed from the page boundary. The names are the
// wire contract and must match the page script exactly.
const (
	ChannelNowPlaying          = "nowPlaying"
	ChannelNowPlayingAlbumData = "nowPlayingAlbumData"
	ChannelPlaybackState       = "playbackState"
	ChannelPlaybackTime        = "playbackTime"
	ChannelShuffle             = "shuffle"
	ChannelRepeat              = "repeat"
)

// Outbound channel names dispatched to the page boundary. The outbound
// playbackTime channel carries a seek request and is distinct from the
// inbound position report of the same name.
const (
	ChannelPlayPause     = "playpause"
	ChannelNextTrack     = "nextTrack"
	ChannelPreviousTrack = "previousTrack"
)

type playbackStatePayload struct {
	State PlaybackState `json:"state"`
}

type playbackTimePayload struct {
	Position float64 `json:"position"`
}

type seekPayload struct {
	Progress float64 `json:"progress"`
}

type shufflePayload struct {
	Mode bool `json:"mode"`
}

type repeatPayload struct {
	Mode RepeatMode `json:"mode"`
}
