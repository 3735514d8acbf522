// Package config loads agent settings from the environment and owns
// the persistent per-device identity.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/lanroom/lanroom/internal/session"
	"github.com/lanroom/lanroom/internal/util"
)

// Config carries every LANROOM_* setting. The environment is the
// baseline; command flags may override individual fields afterwards.
type Config struct {
	Debug         bool          `env:"LANROOM_DEBUG"`
	FeedAddr      string        `env:"LANROOM_FEED_ADDR"      envDefault:"127.0.0.1:7620"`
	MOTD          string        `env:"LANROOM_MOTD"           envDefault:"LAN Room"`
	ReachInterval time.Duration `env:"LANROOM_REACH_INTERVAL" envDefault:"200ms"`
	AliveInterval time.Duration `env:"LANROOM_ALIVE_INTERVAL" envDefault:"1s"`
	BootTimeout   time.Duration `env:"LANROOM_BOOT_TIMEOUT"   envDefault:"10s"`
	Peers         []string      `env:"LANROOM_PEERS"`
	DataDir       string        `env:"LANROOM_DATA_DIR"`
}

// FromEnv parses the LANROOM_* variables and fills in the data
// directory when the operator left it unset.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	return cfg, nil
}

func defaultDataDir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "lanroom")
	}
	return filepath.Join(os.TempDir(), "lanroom")
}

// DeviceID returns the stable per-device identifier, minting and
// persisting one on first use. Guests derive their virtual address
// from it, so losing the file only costs a different address on the
// next join.
func (c Config) DeviceID() (string, error) {
	path := filepath.Join(c.DataDir, "device-id")
	if raw, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(raw))); err == nil {
			return id.String(), nil
		}
		util.Warnf("config: %s does not hold a UUID, replacing it", path)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return "", fmt.Errorf("config: create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("config: persist device id: %w", err)
	}
	return id, nil
}

// SessionOptions maps the agent settings onto orchestrator options.
func (c Config) SessionOptions() session.Options {
	return session.Options{
		BootTimeout: c.BootTimeout,
		ReachEvery:  c.ReachInterval,
		AliveEvery:  c.AliveInterval,
		MOTD:        c.MOTD,
		Peers:       c.Peers,
	}
}
