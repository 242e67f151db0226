//go:build linux

package mpris

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/quarckster/go-mpris-server/pkg/types"
	"go.uber.org/zap"

	"github.com/attacca-player/attacca/internal/player"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	channels []string
	payloads []any
}

func (r *recordingDispatcher) Dispatch(channel string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingDispatcher) last() (string, any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.channels) == 0 {
		return "", nil
	}
	return r.channels[len(r.channels)-1], r.payloads[len(r.payloads)-1]
}

func newTestPlayer(t *testing.T) (*player.Player, *recordingDispatcher) {
	t.Helper()
	out := &recordingDispatcher{}
	p := player.New(out, zap.NewNop())
	p.Initialize()
	return p, out
}

func deliver(t *testing.T, p *player.Player, channel, payload string) {
	t.Helper()
	if err := p.HandleMessage(channel, json.RawMessage(payload)); err != nil {
		t.Fatalf("HandleMessage(%s) = %v", channel, err)
	}
}

func TestPlayerAdapter_PlaybackStatus(t *testing.T) {
	p, _ := newTestPlayer(t)
	pa := &playerAdapter{player: p}

	got, _ := pa.PlaybackStatus()
	if got != types.PlaybackStatusStopped {
		t.Errorf("initial status = %v, want Stopped", got)
	}

	deliver(t, p, player.ChannelPlaybackState, `{"state":"playing"}`)
	got, _ = pa.PlaybackStatus()
	if got != types.PlaybackStatusPlaying {
		t.Errorf("status = %v, want Playing", got)
	}

	deliver(t, p, player.ChannelPlaybackState, `{"state":"paused"}`)
	got, _ = pa.PlaybackStatus()
	if got != types.PlaybackStatusPaused {
		t.Errorf("status = %v, want Paused", got)
	}
}

func TestPlayerAdapter_Metadata(t *testing.T) {
	p, _ := newTestPlayer(t)
	pa := &playerAdapter{player: p}

	m, err := pa.Metadata()
	if err != nil {
		t.Fatalf("Metadata() = %v", err)
	}
	if m.Title != "" {
		t.Errorf("empty player: Title = %q, want empty", m.Title)
	}

	deliver(t, p, player.ChannelNowPlaying,
		`{"name":"Track","artistName":"Artist","albumName":"Album","trackNumber":3,"durationInMillis":200000,"genreNames":["Jazz"],"artwork":{"width":64,"height":64,"url":"https://img.example/{w}x{h}.jpg"}}`)

	m, err = pa.Metadata()
	if err != nil {
		t.Fatalf("Metadata() = %v", err)
	}
	if m.Title != "Track" || m.Album != "Album" || m.TrackNumber != 3 {
		t.Errorf("Metadata() = %+v", m)
	}
	if len(m.Artist) != 1 || m.Artist[0] != "Artist" {
		t.Errorf("Artist = %v", m.Artist)
	}
	if m.Length != types.Microseconds(200_000_000) {
		t.Errorf("Length = %d, want 200000000", m.Length)
	}
	if m.ArtUrl != "https://img.example/64x64.jpg" {
		t.Errorf("ArtUrl = %q", m.ArtUrl)
	}
	if m.TrackId == "" {
		t.Error("TrackId must be set")
	}
}

func TestPlayerAdapter_TrackIDStable(t *testing.T) {
	p, _ := newTestPlayer(t)
	pa := &playerAdapter{player: p}

	deliver(t, p, player.ChannelNowPlaying, `{"name":"Track","artistName":"Artist","durationInMillis":1000}`)
	m1, _ := pa.Metadata()
	deliver(t, p, player.ChannelNowPlaying, `{"name":"Track","artistName":"Artist","durationInMillis":1000}`)
	m2, _ := pa.Metadata()

	if m1.TrackId != m2.TrackId {
		t.Errorf("TrackId changed for identical track: %q vs %q", m1.TrackId, m2.TrackId)
	}
}

func TestPlayerAdapter_SeekIsRelative(t *testing.T) {
	p, out := newTestPlayer(t)
	pa := &playerAdapter{player: p}

	deliver(t, p, player.ChannelPlaybackTime, `{"position":100}`)

	if err := pa.Seek(types.Microseconds(5_000_000)); err != nil {
		t.Fatalf("Seek() = %v", err)
	}
	channel, payload := out.last()
	if channel != player.ChannelPlaybackTime {
		t.Fatalf("channel = %q, want %q", channel, player.ChannelPlaybackTime)
	}
	data, _ := json.Marshal(payload)
	var decoded struct {
		Progress float64 `json:"progress"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if decoded.Progress != 105 {
		t.Errorf("progress = %v, want 105", decoded.Progress)
	}
}

func TestPlayerAdapter_SeekClampsAtZero(t *testing.T) {
	p, out := newTestPlayer(t)
	pa := &playerAdapter{player: p}

	deliver(t, p, player.ChannelPlaybackTime, `{"position":10}`)

	if err := pa.Seek(types.Microseconds(-60_000_000)); err != nil {
		t.Fatalf("Seek() = %v", err)
	}
	_, payload := out.last()
	data, _ := json.Marshal(payload)
	var decoded struct {
		Progress float64 `json:"progress"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if decoded.Progress != 0 {
		t.Errorf("progress = %v, want 0", decoded.Progress)
	}
}

func TestPlayerAdapter_LoopStatusMapping(t *testing.T) {
	p, _ := newTestPlayer(t)
	pa := &playerAdapter{player: p}

	cases := []struct {
		payload string
		want    types.LoopStatus
	}{
		{`{"mode":"none"}`, types.LoopStatusNone},
		{`{"mode":"one"}`, types.LoopStatusTrack},
		{`{"mode":"all"}`, types.LoopStatusPlaylist},
	}
	for _, tc := range cases {
		deliver(t, p, player.ChannelRepeat, tc.payload)
		got, _ := pa.LoopStatus()
		if got != tc.want {
			t.Errorf("LoopStatus() after %s = %v, want %v", tc.payload, got, tc.want)
		}
	}
}

func TestPlayerAdapter_SetLoopStatusForwards(t *testing.T) {
	p, out := newTestPlayer(t)
	pa := &playerAdapter{player: p}

	if err := pa.SetLoopStatus(types.LoopStatusTrack); err != nil {
		t.Fatalf("SetLoopStatus() = %v", err)
	}
	channel, _ := out.last()
	if channel != player.ChannelRepeat {
		t.Errorf("channel = %q, want %q", channel, player.ChannelRepeat)
	}
}
