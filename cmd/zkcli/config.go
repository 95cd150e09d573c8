package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mikekulinski/zkclient/pkg/conn"
)

// zkcli.toml key mapping to the CLI settings.
type fileConfig struct {
	Server         string `toml:"server"`
	SessionTimeout string `toml:"session_timeout"`
	SpinDelay      string `toml:"spin_delay"`
	SessionDir     string `toml:"session_dir"`
	LogLevel       string `toml:"log_level"`
	ReadOnly       bool   `toml:"read_only"`
}

type config struct {
	Server         string
	SessionTimeout time.Duration
	SpinDelay      time.Duration
	SessionDir     string
	LogLevel       string
	ReadOnly       bool
}

func defaultConfig() config {
	return config{
		Server:         "127.0.0.1:2181",
		SessionTimeout: conn.DefaultSessionTimeout,
		SpinDelay:      conn.DefaultSpinDelay,
		LogLevel:       "warn",
	}
}

// loadConfig overlays the keys set in the file at path onto the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load zkcli config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load zkcli config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("server") {
		cfg.Server = strings.TrimSpace(raw.Server)
	}
	if meta.IsDefined("session_timeout") {
		if cfg.SessionTimeout, err = time.ParseDuration(raw.SessionTimeout); err != nil {
			return config{}, fmt.Errorf("load zkcli config: session_timeout: %w", err)
		}
	}
	if meta.IsDefined("spin_delay") {
		if cfg.SpinDelay, err = time.ParseDuration(raw.SpinDelay); err != nil {
			return config{}, fmt.Errorf("load zkcli config: spin_delay: %w", err)
		}
	}
	if meta.IsDefined("session_dir") {
		cfg.SessionDir = strings.TrimSpace(raw.SessionDir)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("read_only") {
		cfg.ReadOnly = raw.ReadOnly
	}
	return cfg, nil
}
