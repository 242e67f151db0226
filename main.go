// Attacca bridges an embedded web music player into the desktop: MPRIS
// media controls, Discord rich presence and Last.fm scrobbling. The page
// script connects over a loopback websocket and streams playback events;
// integrations subscribe to the hub and push commands back.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/attacca-player/attacca/internal/bridge"
	"github.com/attacca-player/attacca/internal/config"
	"github.com/attacca-player/attacca/internal/lastfm"
	"github.com/attacca-player/attacca/internal/logging"
	"github.com/attacca-player/attacca/internal/mpris"
	"github.com/attacca-player/attacca/internal/player"
	"github.com/attacca-player/attacca/internal/presence"
	"github.com/attacca-player/attacca/internal/scrobble"
	"github.com/attacca-player/attacca/internal/state"
)

// Last.fm rejects scrobbles older than two weeks, so queued entries past
// that age are unsubmittable.
const pendingScrobbleMaxAge = 14 * 24 * time.Hour

func main() {
	var (
		logLevel   string
		lastfmAuth bool
	)
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.BoolVar(&lastfmAuth, "lastfm-auth", false, "link a Last.fm account and exit")
	flag.Parse()

	if err := run(logLevel, lastfmAuth); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(logLevel string, lastfmAuth bool) error {
	logger, err := logging.Build(logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := config.Open(logger.Named("config"))
	if err != nil {
		return err
	}
	cfg, err := store.Config()
	if err != nil {
		return err
	}

	stateMgr, err := state.Open()
	if err != nil {
		return err
	}
	defer func() { _ = stateMgr.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var lfm *lastfm.Client
	if cfg.HasLastfmCredentials() {
		lfm = lastfm.New(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret)
	}

	if lastfmAuth {
		if lfm == nil {
			return errors.New("lastfm.api_key and lastfm.api_secret must be configured first")
		}
		return linkLastfm(ctx, lfm, stateMgr, logger.Named("lastfm"))
	}

	if lfm != nil {
		restoreLastfmSession(ctx, lfm, stateMgr, logger.Named("lastfm"))
	}

	// The hub and the bridge reference each other; the sink closure breaks
	// the construction cycle.
	var hub *player.Player
	srv := bridge.New(cfg.BridgeAddr(), bridge.SinkFunc(func(channel string, data json.RawMessage) error {
		return hub.HandleMessage(channel, data)
	}), logger.Named("bridge"))
	hub = player.New(srv, logger.Named("player"))
	hub.Initialize()

	if err := srv.Start(); err != nil {
		return err
	}

	addIntegration := func(i player.Integration) {
		if err := hub.AddIntegration(i); err != nil {
			logger.Error("registering integration",
				zap.String("name", i.Name()), zap.Error(err))
		}
	}

	if cfg.MprisEnabled() {
		addIntegration(mpris.New(hub, logger.Named("mpris")))
	}

	if cfg.DiscordRPCEnabled() {
		addIntegration(presence.New(hub, presence.Options{
			AppID:  cfg.DiscordAppID(),
			Logger: logger.Named("presence"),
		}))
	}

	var scrobbler *scrobble.Scrobbler
	if cfg.LastfmEnabled() && lfm != nil {
		scrobbler = scrobble.New(hub, scrobble.Options{
			Client: lfm,
			Store:  stateMgr,
			Policy: scrobble.Policy{
				ClearCandidateOnStop: cfg.Scrobble.ClearCandidateOnStop,
			},
			OnSessionInvalid: func() {
				logger.Warn("lastfm session expired, relink with -lastfm-auth")
				if err := stateMgr.DeleteLastfmSession(); err != nil {
					logger.Error("deleting stale lastfm session", zap.Error(err))
				}
			},
			Logger: logger.Named("scrobble"),
		})
		addIntegration(scrobbler)
	}

	if scrobbler != nil {
		if err := stateMgr.DeleteOldPendingScrobbles(pendingScrobbleMaxAge); err != nil {
			logger.Warn("pruning pending scrobbles", zap.Error(err))
		}
		go func() {
			succeeded, failed, err := scrobbler.FlushPending(ctx)
			if err != nil {
				logger.Warn("flushing pending scrobbles", zap.Error(err))
				return
			}
			if succeeded+failed > 0 {
				logger.Info("flushed pending scrobbles",
					zap.Int("succeeded", succeeded), zap.Int("failed", failed))
			}
		}()
	}

	logger.Info("attacca running", zap.String("bridge", srv.Addr()))
	<-ctx.Done()

	logger.Info("shutting down")
	for _, name := range []string{"lastfm", "discord", "mpris"} {
		if hub.HasIntegration(name) {
			hub.RemoveIntegration(name)
		}
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// restoreLastfmSession loads the stored session key, or completes a link
// the user approved while the app was closed.
func restoreLastfmSession(ctx context.Context, lfm *lastfm.Client, stateMgr *state.Manager, log *zap.Logger) {
	session, err := stateMgr.GetLastfmSession()
	if err != nil {
		log.Error("loading lastfm session", zap.Error(err))
		return
	}
	if session != nil {
		lfm.SetSessionKey(session.SessionKey)
		log.Info("lastfm session restored", zap.String("username", session.Username))
		return
	}

	token, err := stateMgr.GetPendingAuthToken()
	if err != nil || token == "" {
		return
	}
	s, err := lfm.ValidateAuthToken(ctx, token)
	if err != nil {
		log.Debug("pending auth token not yet approved", zap.Error(err))
		return
	}
	_ = stateMgr.ClearPendingAuthToken()
	if err := stateMgr.SaveLastfmSession(state.LastfmSession{
		Username:   s.Username,
		SessionKey: s.Key,
		Subscriber: s.Subscriber,
		LinkedAt:   time.Now(),
	}); err != nil {
		log.Error("saving lastfm session", zap.Error(err))
		return
	}
	lfm.SetSessionKey(s.Key)
	log.Info("lastfm account linked", zap.String("username", s.Username))
}

// linkLastfm runs the interactive out-of-band authorization flow: request a
// token, open the approval page, wait for the browser callback, exchange
// the token for a session key.
func linkLastfm(ctx context.Context, lfm *lastfm.Client, stateMgr *state.Manager, log *zap.Logger) error {
	token, err := lfm.RequestAuthToken(ctx)
	if err != nil {
		return fmt.Errorf("requesting auth token: %w", err)
	}
	if err := stateMgr.SavePendingAuthToken(token); err != nil {
		log.Warn("saving pending auth token", zap.Error(err))
	}

	authServer, err := lastfm.StartAuthServer()
	if err != nil {
		return err
	}
	defer authServer.Shutdown()

	url := lfm.AuthURL(token)
	fmt.Println("Opening browser to authorize Attacca with Last.fm...")
	fmt.Println("If nothing happens, visit:", url)
	if err := lastfm.OpenBrowser(url); err != nil {
		log.Debug("opening browser", zap.Error(err))
	}

	select {
	case <-authServer.TokenChan():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return errors.New("authorization timed out")
	}

	session, err := lfm.ValidateAuthToken(ctx, token)
	if err != nil {
		return fmt.Errorf("validating auth token: %w", err)
	}
	_ = stateMgr.ClearPendingAuthToken()
	if err := stateMgr.SaveLastfmSession(state.LastfmSession{
		Username:   session.Username,
		SessionKey: session.Key,
		Subscriber: session.Subscriber,
		LinkedAt:   time.Now(),
	}); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	fmt.Printf("Linked Last.fm account %s\n", session.Username)
	return nil
}
