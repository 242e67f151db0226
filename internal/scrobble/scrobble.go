// Package scrobble decides when the current track qualifies as played and
// submits it to the scrobbling backend, exactly once per track, tolerating
// late and duplicate playback-time updates.
package scrobble

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/attacca-player/attacca/internal/lastfm"
	"github.com/attacca-player/attacca/internal/player"
	"github.com/attacca-player/attacca/internal/state"
)

const (
	// Tracks at or below this length are never scrobbled.
	minTrackSeconds = 30
	// Playing half the track qualifies, capped at four minutes.
	capSeconds = 240

	defaultRequestTimeout = 10 * time.Second

	integrationName = "lastfm"
)

// Client is the remote API surface the scrobbler needs.
type Client interface {
	IsAuthenticated() bool
	UpdateNowPlaying(ctx context.Context, track lastfm.TrackInfo) error
	Scrobble(ctx context.Context, track lastfm.TrackInfo, startedAt time.Time) (*lastfm.ScrobbleResult, error)
}

// Store queues scrobbles that could not be submitted, for a later flush.
type Store interface {
	AddPendingScrobble(state.PendingScrobble) error
	GetPendingScrobbles() ([]state.PendingScrobble, error)
	DeletePendingScrobble(id int64) error
	UpdatePendingScrobbleAttempt(id int64, errMsg string) error
}

// Policy holds the behaviors that varied across versions of this machine.
type Policy struct {
	// ClearCandidateOnStop drops the candidate when playback stops.
	ClearCandidateOnStop bool
}

// Candidate is the track currently eligible for scrobbling. It is replaced,
// never mutated in place, when new now-playing album data arrives;
// replacement resets all flags and releases the lock.
type Candidate struct {
	ArtistCredit      string
	AlbumArtistCredit string
	AlbumName         string
	TrackName         string
	TrackNumber       int
	DurationSeconds   float64

	scrobbled bool
	ignored   bool
	failed    bool
	queued    bool

	// inFlight is the single-flight guard: at most one outstanding
	// network call per candidate.
	inFlight atomic.Bool
}

// threshold returns how many seconds must have played before the candidate
// qualifies.
func (c *Candidate) threshold() float64 {
	if c.DurationSeconds > capSeconds {
		return capSeconds
	}
	return c.DurationSeconds / 2
}

// Status is the derived state a UI layer may poll.
type Status struct {
	Active    bool
	Scrobbled bool
	Ignored   bool
	Failed    bool
}

// Options configures a Scrobbler.
type Options struct {
	Client Client
	// Store is optional; without it failed scrobbles are not queued.
	Store  Store
	Policy Policy
	// OnSessionInvalid is called when the backend reports the stored
	// session key is no longer valid, so the app can prompt
	// re-authentication. Optional.
	OnSessionInvalid func()
	Logger           *zap.Logger
	// RequestTimeout bounds one scrobble call. Zero means the default 10s.
	RequestTimeout time.Duration
}

// Scrobbler is the lastfm integration registered with the player hub.
type Scrobbler struct {
	player           *player.Player
	client           Client
	store            Store
	policy           Policy
	onSessionInvalid func()
	log              *zap.Logger
	requestTimeout   time.Duration
	now              func() time.Time

	mu        sync.Mutex
	candidate *Candidate
	unloaded  bool
}

// New creates the scrobbler. It does nothing until Load is called.
func New(p *player.Player, opts Options) *Scrobbler {
	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Scrobbler{
		player:           p,
		client:           opts.Client,
		store:            opts.Store,
		policy:           opts.Policy,
		onSessionInvalid: opts.OnSessionInvalid,
		log:              log,
		requestTimeout:   timeout,
		now:              time.Now,
	}
}

// Name implements player.Integration.
func (s *Scrobbler) Name() string { return integrationName }

// Load subscribes to hub events.
func (s *Scrobbler) Load() error {
	s.player.OnAlbumData(s.handleAlbumData)
	s.player.OnPlaybackState(s.handlePlaybackState)
	s.player.OnPlaybackTime(s.handlePlaybackTime)
	return nil
}

// Unload deactivates the scrobbler. The hub keeps no reference back, so the
// handlers simply become inert.
func (s *Scrobbler) Unload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloaded = true
	s.candidate = nil
	return nil
}

// Status returns the candidate's derived state.
func (s *Scrobbler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil {
		return Status{}
	}
	return Status{
		Active:    true,
		Scrobbled: s.candidate.scrobbled,
		Ignored:   s.candidate.ignored,
		Failed:    s.candidate.failed,
	}
}

// handleAlbumData always constructs a fresh candidate, even when a previous
// one is resolved or has a call in flight. The in-flight call for the old
// candidate completes against that candidate only.
func (s *Scrobbler) handleAlbumData(album *player.AlbumData) {
	meta := s.player.Metadata()

	s.mu.Lock()
	if s.unloaded {
		s.mu.Unlock()
		return
	}
	if meta == nil {
		s.candidate = nil
		s.mu.Unlock()
		return
	}

	albumArtist := meta.ArtistName
	if album != nil && album.ArtistName != "" {
		albumArtist = album.ArtistName
	}
	cand := &Candidate{
		ArtistCredit:      meta.ArtistName,
		AlbumArtistCredit: albumArtist,
		AlbumName:         meta.AlbumName,
		TrackName:         meta.Name,
		TrackNumber:       meta.TrackNumber,
		DurationSeconds:   meta.DurationSeconds(),
	}
	if cand.DurationSeconds <= minTrackSeconds {
		// Short-track exclusion: never attempted.
		cand.ignored = true
		s.log.Debug("track too short to scrobble",
			zap.String("track", cand.TrackName),
			zap.Float64("duration", cand.DurationSeconds))
	}
	s.candidate = cand
	s.mu.Unlock()

	s.log.Debug("new scrobble candidate",
		zap.String("artist", cand.ArtistCredit),
		zap.String("track", cand.TrackName))

	if s.client.IsAuthenticated() {
		go s.updateNowPlaying(cand)
	}
}

func (s *Scrobbler) handlePlaybackState(st player.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unloaded || s.candidate == nil {
		return
	}
	if st == player.StateStopped {
		s.candidate.inFlight.Store(false)
		if s.policy.ClearCandidateOnStop {
			s.candidate = nil
		}
	}
}

func (s *Scrobbler) handlePlaybackTime(position float64) {
	s.mu.Lock()
	if s.unloaded || s.candidate == nil {
		s.mu.Unlock()
		return
	}
	cand := s.candidate
	if cand.scrobbled || cand.ignored || cand.failed {
		s.mu.Unlock()
		return
	}
	if cand.DurationSeconds <= minTrackSeconds {
		cand.ignored = true
		s.mu.Unlock()
		return
	}
	if position <= cand.threshold() {
		s.mu.Unlock()
		return
	}

	if !s.client.IsAuthenticated() {
		// Degrade to a no-op; queue once for a later flush.
		if !cand.queued {
			cand.queued = true
			s.queueLocked(cand, "not authenticated")
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Single-flight: a failed swap means another attempt is in flight for
	// this candidate; drop the event silently.
	if !cand.inFlight.CompareAndSwap(false, true) {
		return
	}

	go s.attempt(cand)
}

// attempt issues the remote scrobble call for cand. The lock is released on
// every exit path; flags are applied only to the captured candidate, so a
// late completion cannot touch a replacement.
func (s *Scrobbler) attempt(cand *Candidate) {
	defer cand.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	track := lastfm.TrackInfo{
		Artist:      cand.ArtistCredit,
		Track:       cand.TrackName,
		Album:       cand.AlbumName,
		AlbumArtist: cand.AlbumArtistCredit,
		TrackNumber: cand.TrackNumber,
		Duration:    int(cand.DurationSeconds),
	}

	s.log.Debug("scrobbling", zap.String("artist", track.Artist), zap.String("track", track.Track))

	result, err := s.client.Scrobble(ctx, track, s.now())

	sessionInvalid := false
	s.mu.Lock()
	if err != nil {
		cand.failed = true
		var apiErr *lastfm.APIError
		if errors.As(err, &apiErr) && apiErr.SessionInvalid() {
			sessionInvalid = true
		}
		s.queueLocked(cand, err.Error())
		s.mu.Unlock()

		s.log.Warn("scrobble failed",
			zap.String("track", track.Track), zap.Error(err))
		if sessionInvalid && s.onSessionInvalid != nil {
			s.onSessionInvalid()
		}
		return
	}

	if result.Ignored {
		cand.ignored = true
	} else {
		cand.scrobbled = true
	}
	s.mu.Unlock()

	s.log.Info("scrobbled",
		zap.String("artist", track.Artist),
		zap.String("track", track.Track),
		zap.Bool("ignored", result.Ignored))
}

// queueLocked records cand in the offline queue. Caller holds s.mu.
func (s *Scrobbler) queueLocked(cand *Candidate, reason string) {
	if s.store == nil {
		return
	}
	err := s.store.AddPendingScrobble(state.PendingScrobble{
		Artist:          cand.ArtistCredit,
		Track:           cand.TrackName,
		Album:           cand.AlbumName,
		AlbumArtist:     cand.AlbumArtistCredit,
		TrackNumber:     cand.TrackNumber,
		DurationSeconds: int(cand.DurationSeconds),
		Timestamp:       s.now(),
	})
	if err != nil {
		s.log.Warn("queueing pending scrobble failed",
			zap.String("reason", reason), zap.Error(err))
	}
}

func (s *Scrobbler) updateNowPlaying(cand *Candidate) {
	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	err := s.client.UpdateNowPlaying(ctx, lastfm.TrackInfo{
		Artist:      cand.ArtistCredit,
		Track:       cand.TrackName,
		Album:       cand.AlbumName,
		AlbumArtist: cand.AlbumArtistCredit,
		TrackNumber: cand.TrackNumber,
		Duration:    int(cand.DurationSeconds),
	})
	if err != nil {
		s.log.Debug("update now playing failed", zap.Error(err))
	}
}

const maxFlushAttempts = 10

// FlushPending submits queued scrobbles. Entries that keep failing are left
// in the queue until they exceed the attempt budget.
func (s *Scrobbler) FlushPending(ctx context.Context) (succeeded, failed int, err error) {
	if s.store == nil || !s.client.IsAuthenticated() {
		return 0, 0, nil
	}

	pending, err := s.store.GetPendingScrobbles()
	if err != nil {
		return 0, 0, err
	}

	for i := range pending {
		p := &pending[i]
		if p.Attempts >= maxFlushAttempts {
			continue
		}

		track := lastfm.TrackInfo{
			Artist:      p.Artist,
			Track:       p.Track,
			Album:       p.Album,
			AlbumArtist: p.AlbumArtist,
			TrackNumber: p.TrackNumber,
			Duration:    p.DurationSeconds,
		}
		if _, scrobbleErr := s.client.Scrobble(ctx, track, p.Timestamp); scrobbleErr != nil {
			failed++
			_ = s.store.UpdatePendingScrobbleAttempt(p.ID, scrobbleErr.Error())
		} else {
			succeeded++
			_ = s.store.DeletePendingScrobble(p.ID)
		}
	}

	return succeeded, failed, nil
}
