//go:build linux

// Package mpris exposes the player over D-Bus so desktop media controls
// and hardware media keys work.
package mpris

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/quarckster/go-mpris-server/pkg/events"
	"github.com/quarckster/go-mpris-server/pkg/server"
	"github.com/quarckster/go-mpris-server/pkg/types"
	"go.uber.org/zap"

	"github.com/attacca-player/attacca/internal/player"
)

const integrationName = "mpris"

// Adapter connects the player hub to MPRIS over D-Bus. A missing session
// bus is not fatal; the adapter logs once and stays inert.
type Adapter struct {
	player *player.Player
	log    *zap.Logger

	mu       sync.Mutex
	server   *server.Server
	events   *events.EventHandler
	unloaded bool
}

// New creates the adapter. It does nothing until Load is called.
func New(p *player.Player, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{player: p, log: log}
}

// Name implements player.Integration.
func (a *Adapter) Name() string { return integrationName }

// Load registers the D-Bus service and subscribes to hub events so
// property changes are pushed to listeners.
func (a *Adapter) Load() error {
	a.mu.Lock()
	a.server = server.NewServer("attacca", &rootAdapter{}, &playerAdapter{player: a.player})
	a.events = events.NewEventHandler(a.server)
	srv := a.server
	a.mu.Unlock()

	go func() {
		if err := srv.Listen(); err != nil {
			a.log.Warn("mpris unavailable", zap.Error(err))
		}
	}()

	a.player.OnNowPlaying(func(*player.TrackMetadata) {
		a.emit(a.events.Player.OnTitle)
	})
	a.player.OnPlaybackState(func(player.PlaybackState) {
		a.emit(a.events.Player.OnPlayPause)
	})
	a.player.OnShuffle(func(bool) {
		a.emit(a.events.Player.OnOptions)
	})
	a.player.OnRepeat(func(player.RepeatMode) {
		a.emit(a.events.Player.OnOptions)
	})
	return nil
}

// Unload releases the D-Bus name. The hub keeps no reference back, so the
// handlers simply become inert.
func (a *Adapter) Unload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unloaded = true
	if a.server != nil {
		if err := a.server.Stop(); err != nil {
			return fmt.Errorf("stopping mpris server: %w", err)
		}
	}
	return nil
}

func (a *Adapter) emit(fn func() error) {
	a.mu.Lock()
	if a.unloaded {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	if err := fn(); err != nil {
		a.log.Debug("mpris property change not delivered", zap.Error(err))
	}
}

// rootAdapter implements OrgMprisMediaPlayer2Adapter.
type rootAdapter struct{}

func (r *rootAdapter) Raise() error { return nil }

func (r *rootAdapter) Quit() error { return nil }

func (r *rootAdapter) CanQuit() (bool, error) { return false, nil }

func (r *rootAdapter) CanRaise() (bool, error) { return false, nil }

func (r *rootAdapter) HasTrackList() (bool, error) { return false, nil }

func (r *rootAdapter) Identity() (string, error) { return "Attacca", nil }

//nolint:revive // Method name required by interface.
func (r *rootAdapter) SupportedUriSchemes() ([]string, error) {
	return []string{}, nil
}

func (r *rootAdapter) SupportedMimeTypes() ([]string, error) {
	return []string{}, nil
}

// playerAdapter implements OrgMprisMediaPlayer2PlayerAdapter and the
// optional loop and shuffle interfaces, delegating to the hub.
type playerAdapter struct {
	player *player.Player
}

func (p *playerAdapter) Next() error {
	p.player.Next()
	return nil
}

func (p *playerAdapter) Previous() error {
	p.player.Previous()
	return nil
}

func (p *playerAdapter) Pause() error {
	p.player.Pause()
	return nil
}

func (p *playerAdapter) PlayPause() error {
	p.player.PlayPause()
	return nil
}

func (p *playerAdapter) Stop() error {
	p.player.Stop()
	return nil
}

func (p *playerAdapter) Play() error {
	p.player.Play()
	return nil
}

// Seek is relative per the MPRIS contract; the page only takes absolute
// positions, so the offset is applied to the current position.
func (p *playerAdapter) Seek(offset types.Microseconds) error {
	target := p.player.PlaybackTime() + float64(offset)/1e6
	if target < 0 {
		target = 0
	}
	p.player.Seek(target)
	return nil
}

func (p *playerAdapter) SetPosition(_ string, position types.Microseconds) error {
	p.player.Seek(float64(position) / 1e6)
	return nil
}

//nolint:revive // Method name required by interface.
func (p *playerAdapter) OpenUri(_ string) error { return nil }

func (p *playerAdapter) PlaybackStatus() (types.PlaybackStatus, error) {
	switch p.player.State() {
	case player.StatePlaying:
		return types.PlaybackStatusPlaying, nil
	case player.StatePaused:
		return types.PlaybackStatusPaused, nil
	case player.StateStopped:
		return types.PlaybackStatusStopped, nil
	}
	return types.PlaybackStatusStopped, nil
}

func (p *playerAdapter) Rate() (float64, error) { return 1.0, nil }

func (p *playerAdapter) SetRate(_ float64) error { return nil }

func (p *playerAdapter) Metadata() (types.Metadata, error) {
	meta := p.player.Metadata()
	if meta == nil {
		return types.Metadata{}, nil
	}

	m := types.Metadata{
		TrackId:     dbus.ObjectPath(formatTrackID(meta)),
		Length:      types.Microseconds(meta.DurationInMillis * 1000),
		Title:       meta.Name,
		Artist:      []string{meta.ArtistName},
		Album:       meta.AlbumName,
		TrackNumber: meta.TrackNumber,
	}
	if meta.GenreNames != nil {
		m.Genre = meta.GenreNames
	}
	if meta.ComposerName != "" {
		m.Composer = []string{meta.ComposerName}
	}
	if meta.DiscNumber > 0 {
		m.DiscNumber = meta.DiscNumber
	}
	if url := meta.Artwork.ResolveURL(); url != "" {
		m.ArtUrl = url
	}
	return m, nil
}

func (p *playerAdapter) Volume() (float64, error) { return 1.0, nil }

func (p *playerAdapter) SetVolume(_ float64) error { return nil }

func (p *playerAdapter) Position() (int64, error) {
	return int64(p.player.PlaybackTime() * 1e6), nil
}

func (p *playerAdapter) MinimumRate() (float64, error) { return 1.0, nil }

func (p *playerAdapter) MaximumRate() (float64, error) { return 1.0, nil }

func (p *playerAdapter) CanGoNext() (bool, error) { return true, nil }

func (p *playerAdapter) CanGoPrevious() (bool, error) { return true, nil }

func (p *playerAdapter) CanPlay() (bool, error) { return true, nil }

func (p *playerAdapter) CanPause() (bool, error) { return true, nil }

func (p *playerAdapter) CanSeek() (bool, error) { return true, nil }

func (p *playerAdapter) CanControl() (bool, error) { return true, nil }

// LoopStatus implements OrgMprisMediaPlayer2PlayerAdapterLoopStatus.
func (p *playerAdapter) LoopStatus() (types.LoopStatus, error) {
	switch p.player.RepeatMode() {
	case player.RepeatOne:
		return types.LoopStatusTrack, nil
	case player.RepeatAll:
		return types.LoopStatusPlaylist, nil
	case player.RepeatNone:
		return types.LoopStatusNone, nil
	}
	return types.LoopStatusNone, nil
}

// SetLoopStatus implements OrgMprisMediaPlayer2PlayerAdapterLoopStatus.
func (p *playerAdapter) SetLoopStatus(status types.LoopStatus) error {
	switch status {
	case types.LoopStatusNone:
		p.player.SetRepeat(player.RepeatNone)
	case types.LoopStatusTrack:
		p.player.SetRepeat(player.RepeatOne)
	case types.LoopStatusPlaylist:
		p.player.SetRepeat(player.RepeatAll)
	}
	return nil
}

// Shuffle implements OrgMprisMediaPlayer2PlayerAdapterShuffle.
func (p *playerAdapter) Shuffle() (bool, error) {
	return p.player.ShuffleMode(), nil
}

// SetShuffle implements OrgMprisMediaPlayer2PlayerAdapterShuffle.
func (p *playerAdapter) SetShuffle(shuffle bool) error {
	p.player.SetShuffle(shuffle)
	return nil
}

// formatTrackID derives a stable D-Bus object path for the current track.
func formatTrackID(meta *player.TrackMetadata) string {
	h := fnv.New64a()
	h.Write([]byte(meta.ArtistName))
	h.Write([]byte{0})
	h.Write([]byte(meta.AlbumName))
	h.Write([]byte{0})
	h.Write([]byte(meta.Name))
	return fmt.Sprintf("/org/mpris/MediaPlayer2/Track/%x", h.Sum64())
}
