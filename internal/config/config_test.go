package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenPath(filepath.Join(t.TempDir(), "config.toml"), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestOpenPath_MissingFileStartsEmpty(t *testing.T) {
	s := openTestStore(t)

	cfg, err := s.Config()
	require.NoError(t, err)

	assert.True(t, cfg.MprisEnabled())
	assert.True(t, cfg.DiscordRPCEnabled())
	assert.True(t, cfg.LastfmEnabled())
	assert.False(t, cfg.HasLastfmCredentials())
	assert.Equal(t, DefaultBridgeAddr, cfg.BridgeAddr())
	assert.Equal(t, DefaultDiscordAppID, cfg.DiscordAppID())
}

func TestOpenPath_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
enable_mpris = false

[lastfm]
api_key = "key"
api_secret = "secret"

[bridge]
listen = "127.0.0.1:7777"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := OpenPath(path, zap.NewNop())
	require.NoError(t, err)

	cfg, err := s.Config()
	require.NoError(t, err)
	assert.False(t, cfg.MprisEnabled())
	assert.True(t, cfg.DiscordRPCEnabled())
	assert.True(t, cfg.HasLastfmCredentials())
	assert.Equal(t, "127.0.0.1:7777", cfg.BridgeAddr())
}

func TestSet_PersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	s, err := OpenPath(path, zap.NewNop())
	require.NoError(t, err)

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.Set("lastfm.api_key", "key"))

	require.Len(t, changes, 1)
	assert.Equal(t, Change{Kind: ChangeSet, Key: "lastfm.api_key"}, changes[0])
	assert.Equal(t, "key", s.Get("lastfm.api_key"))

	// A fresh store sees the persisted value.
	reopened, err := OpenPath(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "key", reopened.Get("lastfm.api_key"))
}

func TestDelete_PersistsAndNotifies(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set("discord.app_id", "42"))

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.Delete("discord.app_id"))

	require.Len(t, changes, 1)
	assert.Equal(t, Change{Kind: ChangeDeleted, Key: "discord.app_id"}, changes[0])
	assert.Nil(t, s.Get("discord.app_id"))

	cfg, err := s.Config()
	require.NoError(t, err)
	assert.Equal(t, DefaultDiscordAppID, cfg.DiscordAppID())
}

func TestDelete_AbsentKeyIsSilent(t *testing.T) {
	s := openTestStore(t)

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.Delete("no.such.key"))
	assert.Empty(t, changes)
}
