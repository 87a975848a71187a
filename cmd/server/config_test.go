package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()

	assert.Equal(t, 8420, cfg.Port)
	assert.Equal(t, "claude", cfg.ClaudeBin)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Heartbeat)
	assert.Equal(t, "skill-creator", cfg.PluginAuthor)
	assert.Empty(t, cfg.ValidateCmd)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SKILLFORGE_DATA_DIR", "/tmp/drafts")
	t.Setenv("CLAUDE_PLUGINS_DIR", "/tmp/plugins")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("MAX_PROCESSES", "2")
	t.Setenv("IDLE_TIMEOUT", "0")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("PLUGIN_VALIDATE_CMD", "claude plugin validate")

	cfg := loadConfig()

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/tmp/drafts", cfg.DataDir)
	assert.Equal(t, "/tmp/plugins", cfg.PluginsDir)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.Equal(t, 2, cfg.MaxProcesses)
	assert.Equal(t, time.Duration(0), cfg.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat)
	assert.Equal(t, "claude plugin validate", cfg.ValidateCmd)
}

func TestLoadConfig_IgnoresInvalidValues(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("HEARTBEAT_INTERVAL", "-1s")
	t.Setenv("MAX_UPLOAD_BYTES", "0")

	cfg := loadConfig()

	assert.Equal(t, 8420, cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.Heartbeat)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
}

func TestRootCmd_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("PORT", "9000")

	cmd := rootCmd()
	serve, _, err := cmd.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("find serve: %v", err)
	}
	if err := serve.Flags().Set("port", "9100"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	assert.Equal(t, "9100", serve.Flags().Lookup("port").Value.String())
	assert.Equal(t, "9000", serve.Flags().Lookup("port").DefValue)
}
