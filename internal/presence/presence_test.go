package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/attacca-player/attacca/internal/player"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(string, any) error { return nil }

type fakeRPC struct {
	mu         sync.Mutex
	loginErr   error
	setErr     error
	logins     int
	logouts    int
	activities []Activity
}

func (f *fakeRPC) Login(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.loginErr
}

func (f *fakeRPC) SetActivity(a Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeRPC) Logout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
}

func (f *fakeRPC) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeRPC) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

func (f *fakeRPC) activityCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.activities)
}

func (f *fakeRPC) lastActivity() Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activities[len(f.activities)-1]
}

func newTestPresence(t *testing.T, rpc *fakeRPC, retryDelay time.Duration) (*player.Player, *Presence) {
	t.Helper()
	p := player.New(nopDispatcher{}, zap.NewNop())
	p.Initialize()
	d := New(p, Options{AppID: "123", Client: rpc, RetryDelay: retryDelay})
	if err := d.Load(); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	return p, d
}

func deliver(t *testing.T, p *player.Player, channel, payload string) {
	t.Helper()
	if err := p.HandleMessage(channel, json.RawMessage(payload)); err != nil {
		t.Fatalf("HandleMessage(%s) = %v", channel, err)
	}
}

func startPlaying(t *testing.T, p *player.Player) {
	t.Helper()
	deliver(t, p, player.ChannelNowPlaying,
		`{"name":"Track","artistName":"Artist","albumName":"Album","durationInMillis":200000,"artwork":{"width":512,"height":512,"url":"https://img.example/{w}x{h}.jpg"}}`)
	deliver(t, p, player.ChannelPlaybackState, `{"state":"playing"}`)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPresence_PlayingActivity(t *testing.T) {
	rpc := &fakeRPC{}
	p, _ := newTestPresence(t, rpc, time.Hour)

	startPlaying(t, p)

	if rpc.activityCount() == 0 {
		t.Fatal("no activity set")
	}
	got := rpc.lastActivity()
	if got.Details != "Track" {
		t.Errorf("Details = %q, want %q", got.Details, "Track")
	}
	if got.State != "by Artist" {
		t.Errorf("State = %q, want %q", got.State, "by Artist")
	}
	if got.LargeImage != "https://img.example/512x512.jpg" {
		t.Errorf("LargeImage = %q", got.LargeImage)
	}
	if got.Start == nil || got.End == nil {
		t.Fatal("playing activity must carry timestamps")
	}
	if d := got.End.Sub(*got.Start); d != 200*time.Second {
		t.Errorf("End-Start = %v, want 200s", d)
	}
}

func TestPresence_PausedActivityHasNoTimestamps(t *testing.T) {
	rpc := &fakeRPC{}
	p, _ := newTestPresence(t, rpc, time.Hour)

	startPlaying(t, p)
	deliver(t, p, player.ChannelPlaybackState, `{"state":"paused"}`)

	got := rpc.lastActivity()
	if got.Start != nil || got.End != nil {
		t.Error("paused activity must not carry timestamps")
	}
	if got.SmallText != "Paused" {
		t.Errorf("SmallText = %q, want %q", got.SmallText, "Paused")
	}
}

func TestPresence_StopClearsPresence(t *testing.T) {
	rpc := &fakeRPC{}
	p, _ := newTestPresence(t, rpc, time.Hour)

	startPlaying(t, p)
	deliver(t, p, player.ChannelPlaybackState, `{"state":"stopped"}`)

	if rpc.logoutCount() != 1 {
		t.Errorf("logouts = %d, want 1", rpc.logoutCount())
	}
}

func TestPresence_OversizedArtworkURLDropped(t *testing.T) {
	rpc := &fakeRPC{}
	p, _ := newTestPresence(t, rpc, time.Hour)

	long := "https://img.example/" + strings.Repeat("a", 300)
	deliver(t, p, player.ChannelNowPlaying,
		fmt.Sprintf(`{"name":"Track","artistName":"Artist","durationInMillis":200000,"artwork":{"width":512,"height":512,"url":"%s"}}`, long))
	deliver(t, p, player.ChannelPlaybackState, `{"state":"playing"}`)

	if got := rpc.lastActivity().LargeImage; got != "" {
		t.Errorf("LargeImage = %q, want empty for oversized URL", got)
	}
}

func TestPresence_RoutineTicksDoNotReassert(t *testing.T) {
	rpc := &fakeRPC{}
	p, _ := newTestPresence(t, rpc, time.Hour)

	startPlaying(t, p)
	n := rpc.activityCount()

	for i := 1; i <= 5; i++ {
		deliver(t, p, player.ChannelPlaybackTime, fmt.Sprintf(`{"position":%d}`, i*10))
	}

	if got := rpc.activityCount(); got != n {
		t.Errorf("activities = %d after ticks, want %d", got, n)
	}
}

func TestPresence_ReconnectThenRefreshOnNextTick(t *testing.T) {
	rpc := &fakeRPC{loginErr: errors.New("no socket")}
	p, _ := newTestPresence(t, rpc, 20*time.Millisecond)

	startPlaying(t, p)
	if rpc.activityCount() != 0 {
		t.Fatal("activity set while disconnected")
	}

	// Discord comes up; the retry timer connects.
	rpc.mu.Lock()
	rpc.loginErr = nil
	rpc.mu.Unlock()
	before := rpc.loginCount()
	waitFor(t, func() bool { return rpc.loginCount() > before })

	// The next tick re-asserts the presence.
	deliver(t, p, player.ChannelPlaybackTime, `{"position":42}`)
	if rpc.activityCount() != 1 {
		t.Errorf("activities = %d after reconnect tick, want 1", rpc.activityCount())
	}
}

func TestPresence_SinglePendingRetryTimer(t *testing.T) {
	rpc := &fakeRPC{loginErr: errors.New("no socket")}
	p, _ := newTestPresence(t, rpc, 50*time.Millisecond)

	// Each of these refreshes fails to connect and re-arms the timer.
	startPlaying(t, p)
	deliver(t, p, player.ChannelPlaybackState, `{"state":"paused"}`)
	deliver(t, p, player.ChannelPlaybackState, `{"state":"playing"}`)

	base := rpc.loginCount()
	time.Sleep(80 * time.Millisecond)

	// One armed timer means one retry attempt fired, not one per failure.
	if got := rpc.loginCount() - base; got != 1 {
		t.Errorf("retry attempts = %d, want 1", got)
	}
}

func TestPresence_UnloadStopsRetrying(t *testing.T) {
	rpc := &fakeRPC{loginErr: errors.New("no socket")}
	p, d := newTestPresence(t, rpc, 20*time.Millisecond)

	startPlaying(t, p)
	if err := d.Unload(); err != nil {
		t.Fatalf("Unload() = %v", err)
	}

	base := rpc.loginCount()
	time.Sleep(60 * time.Millisecond)
	if got := rpc.loginCount(); got != base {
		t.Errorf("logins = %d after unload, want %d", got, base)
	}
}
