// Package player is the bridge hub between the embedded page boundary and
// the registered integrations. It owns the canonical playback snapshot,
// normalizes raw page events into typed ones, and routes commands from
// integrations back to the page.
package player

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher sends an outbound message to the page boundary.
type Dispatcher interface {
	Dispatch(channel string, payload any) error
}

// ErrUnknownChannel is returned for inbound messages on a channel outside the
// fixed set the hub subscribes to.
var ErrUnknownChannel = errors.New("unknown inbound channel")

type loadTracker struct {
	mu      sync.Mutex
	pending int
	failed  int
}

// Player is the event hub. There is exactly one per running application; it
// is the single writer of the playback snapshot.
type Player struct {
	mu  sync.RWMutex
	log *zap.Logger
	out Dispatcher

	initialized bool
	decoders    map[string]func(json.RawMessage) error

	// Snapshot. PlaybackTime resets to 0 whenever metadata changes; state
	// and metadata are independent axes.
	metadata     *TrackMetadata
	state        PlaybackState
	playbackTime float64
	shuffleMode  bool
	repeatMode   RepeatMode

	integrations map[string]Integration
	loads        loadTracker

	nowPlayingHandlers []func(*TrackMetadata)
	albumDataHandlers  []func(*AlbumData)
	stateHandlers      []func(PlaybackState)
	timeHandlers       []func(float64)
	shuffleHandlers    []func(bool)
	repeatHandlers     []func(RepeatMode)
}

// New creates the hub. Outbound commands go through out; inbound messages are
// delivered by the page boundary via HandleMessage after Initialize.
func New(out Dispatcher, log *zap.Logger) *Player {
	return &Player{
		log:          log,
		out:          out,
		state:        StateStopped,
		repeatMode:   RepeatNone,
		integrations: make(map[string]Integration),
	}
}

// Initialize installs the typed decoders for the fixed inbound channel set.
// Calling it a second time is a no-op with a warning.
func (p *Player) Initialize() {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		p.log.Warn("player already initialized")
		return
	}
	p.initialized = true
	p.decoders = map[string]func(json.RawMessage) error{
		ChannelNowPlaying:          p.handleNowPlaying,
		ChannelNowPlayingAlbumData: p.handleAlbumData,
		ChannelPlaybackState:       p.handlePlaybackState,
		ChannelPlaybackTime:        p.handlePlaybackTime,
		ChannelShuffle:             p.handleShuffle,
		ChannelRepeat:              p.handleRepeat,
	}
	p.mu.Unlock()
}

// HandleMessage routes one inbound page message to its typed decoder. A
// malformed payload or unknown channel yields an error; the caller logs and
// drops it, the hub state is untouched.
func (p *Player) HandleMessage(channel string, data json.RawMessage) error {
	p.mu.RLock()
	decode, ok := p.decoders[channel]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return decode(data)
}

func (p *Player) handleNowPlaying(data json.RawMessage) error {
	// The page sends an empty object to mean "cleared".
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("nowPlaying payload: %w", err)
	}

	var meta *TrackMetadata
	if len(probe) > 0 {
		meta = &TrackMetadata{}
		if err := json.Unmarshal(data, meta); err != nil {
			return fmt.Errorf("nowPlaying payload: %w", err)
		}
	}

	p.mu.Lock()
	p.metadata = meta
	p.playbackTime = 0 // new track, fresh timeline
	handlers := append([]func(*TrackMetadata){}, p.nowPlayingHandlers...)
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(meta)
	}
	return nil
}

func (p *Player) handleAlbumData(data json.RawMessage) error {
	var album *AlbumData
	if err := json.Unmarshal(data, &album); err != nil {
		return fmt.Errorf("nowPlayingAlbumData payload: %w", err)
	}

	p.mu.RLock()
	handlers := append([]func(*AlbumData){}, p.albumDataHandlers...)
	p.mu.RUnlock()

	for _, fn := range handlers {
		fn(album)
	}
	return nil
}

func (p *Player) handlePlaybackState(data json.RawMessage) error {
	var payload playbackStatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("playbackState payload: %w", err)
	}
	if !payload.State.Valid() {
		return fmt.Errorf("playbackState payload: invalid state %q", payload.State)
	}

	p.mu.Lock()
	p.state = payload.State
	handlers := append([]func(PlaybackState){}, p.stateHandlers...)
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(payload.State)
	}
	return nil
}

func (p *Player) handlePlaybackTime(data json.RawMessage) error {
	var payload playbackTimePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("playbackTime payload: %w", err)
	}
	if payload.Position < 0 || math.IsNaN(payload.Position) || math.IsInf(payload.Position, 0) {
		return fmt.Errorf("playbackTime payload: invalid position %v", payload.Position)
	}

	p.mu.Lock()
	p.playbackTime = payload.Position
	handlers := append([]func(float64){}, p.timeHandlers...)
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(payload.Position)
	}
	return nil
}

func (p *Player) handleShuffle(data json.RawMessage) error {
	var payload shufflePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("shuffle payload: %w", err)
	}

	p.mu.Lock()
	p.shuffleMode = payload.Mode
	handlers := append([]func(bool){}, p.shuffleHandlers...)
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(payload.Mode)
	}
	return nil
}

func (p *Player) handleRepeat(data json.RawMessage) error {
	var payload repeatPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("repeat payload: %w", err)
	}
	if !payload.Mode.Valid() {
		return fmt.Errorf("repeat payload: invalid mode %q", payload.Mode)
	}

	p.mu.Lock()
	p.repeatMode = payload.Mode
	handlers := append([]func(RepeatMode){}, p.repeatHandlers...)
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(payload.Mode)
	}
	return nil
}

// Event subscription. Handlers run on the delivery goroutine after the
// snapshot has been updated, so reading the snapshot from a handler observes
// the state that produced the event. Integrations must not assume any
// ordering relative to each other.

// OnNowPlaying registers a handler for track metadata changes. A nil
// metadata means the page cleared the current track.
func (p *Player) OnNowPlaying(fn func(*TrackMetadata)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowPlayingHandlers = append(p.nowPlayingHandlers, fn)
}

// OnAlbumData registers a handler for album data events.
func (p *Player) OnAlbumData(fn func(*AlbumData)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.albumDataHandlers = append(p.albumDataHandlers, fn)
}

// OnPlaybackState registers a handler for playback state changes.
func (p *Player) OnPlaybackState(fn func(PlaybackState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateHandlers = append(p.stateHandlers, fn)
}

// OnPlaybackTime registers a handler for position reports.
func (p *Player) OnPlaybackTime(fn func(float64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeHandlers = append(p.timeHandlers, fn)
}

// OnShuffle registers a handler for shuffle mode changes.
func (p *Player) OnShuffle(fn func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shuffleHandlers = append(p.shuffleHandlers, fn)
}

// OnRepeat registers a handler for repeat mode changes.
func (p *Player) OnRepeat(fn func(RepeatMode)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeatHandlers = append(p.repeatHandlers, fn)
}

// Snapshot accessors.

// Metadata returns the current track metadata, or nil when no track is set.
func (p *Player) Metadata() *TrackMetadata {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metadata
}

// State returns the current playback state.
func (p *Player) State() PlaybackState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// PlaybackTime returns the last reported playback position in seconds.
func (p *Player) PlaybackTime() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.playbackTime
}

// ShuffleMode returns the current shuffle mode.
func (p *Player) ShuffleMode() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shuffleMode
}

// RepeatMode returns the current repeat mode.
func (p *Player) RepeatMode() RepeatMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.repeatMode
}

// Outbound commands. Transport commands always forward; shuffle and repeat
// are deduplicated against the snapshot so near-simultaneous identical
// commands from multiple integrations cost a single round-trip.

func (p *Player) dispatch(channel string, payload any) {
	if err := p.out.Dispatch(channel, payload); err != nil {
		p.log.Debug("outbound dispatch failed",
			zap.String("channel", channel), zap.Error(err))
	}
}

// PlayPause toggles playback on the page.
func (p *Player) PlayPause() {
	p.dispatch(ChannelPlayPause, nil)
}

// Play requests the playing state.
func (p *Player) Play() {
	p.dispatch(ChannelPlaybackState, playbackStatePayload{State: StatePlaying})
}

// Pause requests the paused state.
func (p *Player) Pause() {
	p.dispatch(ChannelPlaybackState, playbackStatePayload{State: StatePaused})
}

// Stop requests the stopped state.
func (p *Player) Stop() {
	p.dispatch(ChannelPlaybackState, playbackStatePayload{State: StateStopped})
}

// Next skips to the next track.
func (p *Player) Next() {
	p.dispatch(ChannelNextTrack, nil)
}

// Previous skips to the previous track.
func (p *Player) Previous() {
	p.dispatch(ChannelPreviousTrack, nil)
}

// Seek requests a jump to the given position in seconds.
func (p *Player) Seek(seconds float64) {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		p.log.Warn("ignoring invalid seek position", zap.Float64("seconds", seconds))
		return
	}
	p.dispatch(ChannelPlaybackTime, seekPayload{Progress: seconds})
}

// SetShuffle requests a shuffle mode change. No-op when the requested mode
// matches the snapshot.
func (p *Player) SetShuffle(mode bool) {
	p.mu.RLock()
	current := p.shuffleMode
	p.mu.RUnlock()
	if current == mode {
		return
	}
	p.log.Debug("setShuffle", zap.Bool("mode", mode))
	p.dispatch(ChannelShuffle, shufflePayload{Mode: mode})
}

// SetRepeat requests a repeat mode change. No-op when the requested mode is
// invalid or matches the snapshot.
func (p *Player) SetRepeat(mode RepeatMode) {
	if !mode.Valid() {
		p.log.Warn("ignoring invalid repeat mode", zap.String("mode", string(mode)))
		return
	}
	p.mu.RLock()
	current := p.repeatMode
	p.mu.RUnlock()
	if current == mode {
		return
	}
	p.log.Debug("setRepeat", zap.String("mode", string(mode)))
	p.dispatch(ChannelRepeat, repeatPayload{Mode: mode})
}
