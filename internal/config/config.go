// Package config loads coordinator settings from defaults, an optional YAML
// file and AMICARE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"amicare/internal/apperr"
)

const envPrefix = "AMICARE"

// Keys with defaults. Every key needs a default for env overrides to apply
// during Unmarshal.
const (
	keyBackendURL       = "backend.url"
	keyBackendSocketURL = "backend.socket_url"
	keyBackendToken     = "backend.token"
	keyBackendTimeout   = "backend.timeout"

	keyUserID              = "user.id"
	keyUserIsPsw           = "user.is_psw"
	keyUserStripeAccountID = "user.stripe_account_id"

	keyTrackerTick    = "tracker.tick"
	keyTrackerRefetch = "tracker.refetch"

	keyPayoutInitialInterval = "payout.initial_interval"
	keyPayoutMaxInterval     = "payout.max_interval"
	keyPayoutMaxElapsed      = "payout.max_elapsed"

	keySocketReconnectAttempts = "socket.reconnect_attempts"
	keySocketReconnectDelay    = "socket.reconnect_delay"
	keySocketReconnectDelayMax = "socket.reconnect_delay_max"
	keySocketPingInterval      = "socket.ping_interval"

	keyLogLevel      = "log.level"
	keyLogFormat     = "log.format"
	keyLogFile       = "log.file"
	keyLogMaxSizeMB  = "log.max_size_mb"
	keyLogMaxBackups = "log.max_backups"

	keySandboxPort     = "sandbox.port"
	keySandboxHistory  = "sandbox.history"
	keySandboxFixtures = "sandbox.fixtures"
)

// Config is the full set of settings.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	User    UserConfig    `mapstructure:"user"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Payout  PayoutConfig  `mapstructure:"payout"`
	Socket  SocketConfig  `mapstructure:"socket"`
	Log     LogConfig     `mapstructure:"log"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
}

// BackendConfig locates the REST and realtime backend.
type BackendConfig struct {
	URL       string        `mapstructure:"url"`
	SocketURL string        `mapstructure:"socket_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// UserConfig is the read-only identity of the current user.
type UserConfig struct {
	ID              string `mapstructure:"id"`
	IsPsw           bool   `mapstructure:"is_psw"`
	StripeAccountID string `mapstructure:"stripe_account_id"`
}

// TrackerConfig tunes the live session tracker.
type TrackerConfig struct {
	Tick    time.Duration `mapstructure:"tick"`
	Refetch time.Duration `mapstructure:"refetch"`
}

// PayoutConfig bounds payout status polling.
type PayoutConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
}

// SocketConfig tunes the shared realtime connection.
type SocketConfig struct {
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectDelayMax time.Duration `mapstructure:"reconnect_delay_max"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// SandboxConfig configures the local development backend.
type SandboxConfig struct {
	Port     int    `mapstructure:"port"`
	History  int    `mapstructure:"history"`
	Fixtures string `mapstructure:"fixtures"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyBackendURL, "http://localhost:8420")
	v.SetDefault(keyBackendSocketURL, "")
	v.SetDefault(keyBackendToken, "")
	v.SetDefault(keyBackendTimeout, "10s")

	v.SetDefault(keyUserID, "")
	v.SetDefault(keyUserIsPsw, false)
	v.SetDefault(keyUserStripeAccountID, "")

	v.SetDefault(keyTrackerTick, "1s")
	v.SetDefault(keyTrackerRefetch, "15s")

	v.SetDefault(keyPayoutInitialInterval, "3s")
	v.SetDefault(keyPayoutMaxInterval, "30s")
	v.SetDefault(keyPayoutMaxElapsed, "10m")

	v.SetDefault(keySocketReconnectAttempts, 5)
	v.SetDefault(keySocketReconnectDelay, "1s")
	v.SetDefault(keySocketReconnectDelayMax, "5s")
	v.SetDefault(keySocketPingInterval, "30s")

	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "text")
	v.SetDefault(keyLogFile, "")
	v.SetDefault(keyLogMaxSizeMB, 10)
	v.SetDefault(keyLogMaxBackups, 3)

	v.SetDefault(keySandboxPort, 8420)
	v.SetDefault(keySandboxHistory, 20)
	v.SetDefault(keySandboxFixtures, "")
}

// Load reads configuration. An empty path, or a path that does not exist,
// yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperr.New(apperr.CodeInvalidInput, "backend.url must be an absolute URL").
			WithDetail("value", c.Backend.URL)
	}

	if c.Backend.SocketURL != "" {
		s, err := url.Parse(c.Backend.SocketURL)
		if err != nil || (s.Scheme != "ws" && s.Scheme != "wss") {
			return apperr.New(apperr.CodeInvalidInput, "backend.socket_url must use ws or wss").
				WithDetail("value", c.Backend.SocketURL)
		}
	}

	if c.Tracker.Tick <= 0 {
		return apperr.New(apperr.CodeInvalidInput, "tracker.tick must be positive")
	}
	if c.Tracker.Refetch < 0 {
		return apperr.New(apperr.CodeInvalidInput, "tracker.refetch must not be negative")
	}

	if c.Payout.InitialInterval <= 0 || c.Payout.MaxInterval < c.Payout.InitialInterval {
		return apperr.New(apperr.CodeInvalidInput, "payout intervals are inconsistent")
	}

	if c.Socket.ReconnectAttempts < 0 {
		return apperr.New(apperr.CodeInvalidInput, "socket.reconnect_attempts cannot be negative")
	}

	return nil
}

// SocketURL returns the websocket endpoint, derived from the backend URL when
// not set explicitly.
func (c *Config) SocketURL() string {
	if c.Backend.SocketURL != "" {
		return c.Backend.SocketURL
	}

	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return ""
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	return u.String()
}
