// Package presence mirrors the player state into Discord rich presence.
// Discord may not be running; the integration degrades to a no-op and
// keeps retrying the socket at a fixed interval.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/attacca-player/attacca/internal/player"
)

const (
	integrationName = "discord"

	// maxImageURLLen is Discord's limit on asset URLs. Longer URLs are
	// rejected by the gateway, so they are dropped client-side.
	maxImageURLLen = 256

	defaultRetryDelay = 3 * time.Second
)

// Activity is the presence payload. Start and End drive the progress bar
// Discord renders for the current track.
type Activity struct {
	Details    string
	State      string
	LargeImage string
	LargeText  string
	SmallImage string
	SmallText  string
	Start      *time.Time
	End        *time.Time
}

// rpcClient is the Discord IPC surface, narrowed for tests.
type rpcClient interface {
	Login(appID string) error
	SetActivity(Activity) error
	Logout()
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnected
)

// Options configures a Presence.
type Options struct {
	AppID string
	// Client overrides the IPC transport. Nil means the real socket.
	Client rpcClient
	Logger *zap.Logger
	// RetryDelay overrides the reconnect interval. Zero means 3s.
	RetryDelay time.Duration
}

// Presence is the discord integration registered with the player hub.
type Presence struct {
	player     *player.Player
	rpc        rpcClient
	appID      string
	log        *zap.Logger
	retryDelay time.Duration
	now        func() time.Time

	mu       sync.Mutex
	conn     connState
	retry    *time.Timer
	unloaded bool
	// asserted tracks whether an activity is currently visible, so a
	// clear only logs out when there is something to clear.
	asserted bool
	// needsRefresh requests a presence re-assert on the next playback
	// tick, after a reconnect or a failed update.
	needsRefresh bool
}

// New creates the presence integration. It does nothing until Load is
// called.
func New(p *player.Player, opts Options) *Presence {
	rpc := opts.Client
	if rpc == nil {
		rpc = &richClient{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	delay := opts.RetryDelay
	if delay == 0 {
		delay = defaultRetryDelay
	}
	return &Presence{
		player:     p,
		rpc:        rpc,
		appID:      opts.AppID,
		log:        log,
		retryDelay: delay,
		now:        time.Now,
	}
}

// Name implements player.Integration.
func (d *Presence) Name() string { return integrationName }

// Load connects to Discord and subscribes to hub events. A missing socket
// is not an error; the integration stays loaded and retries.
func (d *Presence) Load() error {
	d.mu.Lock()
	d.connectLocked()
	d.mu.Unlock()

	d.player.OnNowPlaying(d.handleNowPlaying)
	d.player.OnPlaybackState(d.handlePlaybackState)
	d.player.OnPlaybackTime(d.handlePlaybackTime)
	return nil
}

// Unload clears the presence and stops reconnecting. The hub keeps no
// reference back, so the handlers simply become inert.
func (d *Presence) Unload() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unloaded = true
	if d.retry != nil {
		d.retry.Stop()
		d.retry = nil
	}
	if d.conn == stateConnected {
		d.rpc.Logout()
		d.conn = stateDisconnected
	}
	return nil
}

func (d *Presence) handleNowPlaying(*player.TrackMetadata) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshLocked()
}

func (d *Presence) handlePlaybackState(player.PlaybackState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshLocked()
}

// handlePlaybackTime re-asserts the presence only when a previous update
// failed or a reconnect just completed. Routine ticks are ignored; the
// timestamps set on the last update keep Discord's progress bar moving.
func (d *Presence) handlePlaybackTime(float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.needsRefresh {
		return
	}
	d.refreshLocked()
}

// connectLocked attempts the IPC handshake. On failure it schedules a
// retry. Caller holds d.mu.
func (d *Presence) connectLocked() {
	if err := d.rpc.Login(d.appID); err != nil {
		d.log.Debug("discord not reachable", zap.Error(err))
		d.scheduleRetryLocked()
		return
	}
	d.conn = stateConnected
	d.needsRefresh = true
	d.log.Info("discord connected")
}

// scheduleRetryLocked arms the reconnect timer, replacing any pending one
// so at most a single timer is outstanding. Caller holds d.mu.
func (d *Presence) scheduleRetryLocked() {
	d.conn = stateDisconnected
	if d.retry != nil {
		d.retry.Stop()
	}
	d.retry = time.AfterFunc(d.retryDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.unloaded || d.conn == stateConnected {
			return
		}
		d.connectLocked()
	})
}

// refreshLocked pushes the current snapshot to Discord. Caller holds d.mu.
func (d *Presence) refreshLocked() {
	if d.unloaded {
		return
	}

	meta := d.player.Metadata()
	st := d.player.State()

	if meta == nil || st == player.StateStopped {
		if d.conn == stateConnected && d.asserted {
			// Logging out is the only way to clear the presence.
			d.rpc.Logout()
			d.conn = stateDisconnected
		}
		d.asserted = false
		d.needsRefresh = false
		return
	}

	if d.conn != stateConnected {
		d.connectLocked()
		if d.conn != stateConnected {
			return
		}
	}

	activity := d.buildActivity(meta, st)
	if err := d.rpc.SetActivity(activity); err != nil {
		d.log.Debug("presence update failed", zap.Error(err))
		d.needsRefresh = true
		d.scheduleRetryLocked()
		return
	}
	d.asserted = true
	d.needsRefresh = false
}

func (d *Presence) buildActivity(meta *player.TrackMetadata, st player.PlaybackState) Activity {
	activity := Activity{
		Details:   meta.Name,
		State:     "by " + meta.ArtistName,
		LargeText: meta.AlbumName,
	}

	if url := meta.Artwork.ResolveURL(); len(url) > 0 && len(url) <= maxImageURLLen {
		activity.LargeImage = url
	}

	if st == player.StatePlaying {
		position := d.player.PlaybackTime()
		start := d.now().Add(-time.Duration(position * float64(time.Second)))
		end := start.Add(time.Duration(meta.DurationSeconds() * float64(time.Second)))
		activity.Start = &start
		activity.End = &end
	} else {
		activity.SmallText = "Paused"
	}

	return activity
}
