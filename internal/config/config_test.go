package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var allVars = []string{
	"LANROOM_DEBUG",
	"LANROOM_FEED_ADDR",
	"LANROOM_MOTD",
	"LANROOM_REACH_INTERVAL",
	"LANROOM_ALIVE_INTERVAL",
	"LANROOM_BOOT_TIMEOUT",
	"LANROOM_PEERS",
	"LANROOM_DATA_DIR",
}

// clearEnv unsets every agent variable. t.Setenv registers the
// restore; the Unsetenv after it does the actual clearing.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allVars {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.False(t, cfg.Debug)
	require.Equal(t, "127.0.0.1:7620", cfg.FeedAddr)
	require.Equal(t, "LAN Room", cfg.MOTD)
	require.Equal(t, 200*time.Millisecond, cfg.ReachInterval)
	require.Equal(t, time.Second, cfg.AliveInterval)
	require.Equal(t, 10*time.Second, cfg.BootTimeout)
	require.Empty(t, cfg.Peers)
	require.Equal(t, "lanroom", filepath.Base(cfg.DataDir))
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("LANROOM_DEBUG", "true")
	t.Setenv("LANROOM_MOTD", "Skyblock Weekend")
	t.Setenv("LANROOM_REACH_INTERVAL", "50ms")
	t.Setenv("LANROOM_BOOT_TIMEOUT", "30s")
	t.Setenv("LANROOM_PEERS", "tcp://relay-a.example.net:11010,tcp://relay-b.example.net:11010")
	t.Setenv("LANROOM_DATA_DIR", dir)

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.True(t, cfg.Debug)
	require.Equal(t, "Skyblock Weekend", cfg.MOTD)
	require.Equal(t, 50*time.Millisecond, cfg.ReachInterval)
	require.Equal(t, 30*time.Second, cfg.BootTimeout)
	require.Equal(t, []string{
		"tcp://relay-a.example.net:11010",
		"tcp://relay-b.example.net:11010",
	}, cfg.Peers)
	require.Equal(t, dir, cfg.DataDir)
}

func TestFromEnvRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("LANROOM_BOOT_TIMEOUT", "whenever")

	_, err := FromEnv()
	require.Error(t, err)
}

func TestDeviceIDIsStable(t *testing.T) {
	cfg := Config{DataDir: t.TempDir()}

	first, err := cfg.DeviceID()
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := cfg.DeviceID()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDeviceIDReplacesGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device-id")
	require.NoError(t, os.WriteFile(path, []byte("not a uuid\n"), 0o600))

	cfg := Config{DataDir: dir}
	id, err := cfg.DeviceID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, id, strings.TrimSpace(string(raw)))
}

func TestSessionOptions(t *testing.T) {
	cfg := Config{
		MOTD:          "Skyblock Weekend",
		ReachInterval: 100 * time.Millisecond,
		AliveInterval: 2 * time.Second,
		BootTimeout:   15 * time.Second,
		Peers:         []string{"tcp://relay.example.net:11010"},
	}
	opts := cfg.SessionOptions()
	require.Equal(t, cfg.MOTD, opts.MOTD)
	require.Equal(t, cfg.ReachInterval, opts.ReachEvery)
	require.Equal(t, cfg.AliveInterval, opts.AliveEvery)
	require.Equal(t, cfg.BootTimeout, opts.BootTimeout)
	require.Equal(t, cfg.Peers, opts.Peers)
}
