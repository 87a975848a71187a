package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds server configuration, loaded from environment variables.
// Command-line flags override it.
type Config struct {
	Port              int
	DataDir           string
	PluginsDir        string
	ClaudeBin         string
	StaticDir         string
	MaxUploadBytes    int64
	MaxProcesses      int
	IdleTimeout       time.Duration
	Heartbeat         time.Duration
	PluginAuthor      string
	PluginMarketplace string
	ValidateCmd       string
}

func defaultPluginsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "plugins")
	}
	return filepath.Join(home, ".claude", "plugins")
}

func loadConfig() Config {
	cfg := Config{
		Port:              8420,
		DataDir:           "./data/drafts",
		PluginsDir:        defaultPluginsDir(),
		ClaudeBin:         "claude",
		StaticDir:         "",
		MaxUploadBytes:    10 << 20,
		MaxProcesses:      10,
		IdleTimeout:       30 * time.Minute,
		Heartbeat:         15 * time.Second,
		PluginAuthor:      "skill-creator",
		PluginMarketplace: "local",
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("SKILLFORGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CLAUDE_PLUGINS_DIR"); v != "" {
		cfg.PluginsDir = v
	}
	if v := os.Getenv("CLAUDE_BIN"); v != "" {
		cfg.ClaudeBin = v
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("MAX_PROCESSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxProcesses = n
		}
	}
	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IdleTimeout = d
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Heartbeat = d
		}
	}
	if v := os.Getenv("PLUGIN_AUTHOR"); v != "" {
		cfg.PluginAuthor = v
	}
	if v := os.Getenv("PLUGIN_MARKETPLACE"); v != "" {
		cfg.PluginMarketplace = v
	}
	if v := os.Getenv("PLUGIN_VALIDATE_CMD"); v != "" {
		cfg.ValidateCmd = v
	}

	return cfg
}
