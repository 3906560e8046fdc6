package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amicare/internal/apperr"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8420", cfg.Backend.URL)
	assert.Equal(t, time.Second, cfg.Tracker.Tick)
	assert.Equal(t, 15*time.Second, cfg.Tracker.Refetch)
	assert.Equal(t, 3*time.Second, cfg.Payout.InitialInterval)
	assert.Equal(t, 5, cfg.Socket.ReconnectAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "ws://localhost:8420/ws", cfg.SocketURL())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, 8420, cfg.Sandbox.Port)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amicare.yml")
	content := `
backend:
  url: https://api.example.com
user:
  id: psw-1
  is_psw: true
tracker:
  tick: 250ms
  refetch: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("AMICARE_USER_STRIPE_ACCOUNT_ID", "acct_123")
	t.Setenv("AMICARE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "psw-1", cfg.User.ID)
	assert.True(t, cfg.User.IsPsw)
	assert.Equal(t, "acct_123", cfg.User.StripeAccountID)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracker.Tick)
	assert.Equal(t, 5*time.Second, cfg.Tracker.Refetch)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "wss://api.example.com/ws", cfg.SocketURL())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "relative backend url",
			mutate: func(c *Config) { c.Backend.URL = "/api" },
		},
		{
			name:   "http socket url",
			mutate: func(c *Config) { c.Backend.SocketURL = "http://localhost/ws" },
		},
		{
			name:   "zero tick",
			mutate: func(c *Config) { c.Tracker.Tick = 0 },
		},
		{
			name:   "negative refetch",
			mutate: func(c *Config) { c.Tracker.Refetch = -time.Second },
		},
		{
			name:   "max interval below initial",
			mutate: func(c *Config) { c.Payout.MaxInterval = time.Second },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tc.mutate(cfg)
			err = cfg.Validate()
			assert.True(t, apperr.Is(err, apperr.CodeInvalidInput), "got %v", err)
		})
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amicare.yml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "warn", cfg.Log.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
