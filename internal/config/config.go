// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port      string `env:"PORT" envDefault:"3000"`
	TableName string `env:"TABLE_NAME,required"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// ParamPrefix switches secrets to SSM parameters under this path.
	ParamPrefix string `env:"PARAM_PREFIX"`

	WhatsAppAccessToken   string `env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppVerifyToken   string `env:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppPhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	PortalAPIKey          string `env:"PORTAL_API_KEY"`

	GraphVersion string `env:"META_GRAPH_VERSION" envDefault:"v24.0"`
	GraphBaseURL string `env:"META_GRAPH_BASE_URL" envDefault:"https://graph.facebook.com"`

	AutoCloseAfter time.Duration `env:"AUTO_CLOSE_AFTER" envDefault:"24h"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"15m"`
	SweepCron      string        `env:"SWEEP_CRON"`
	SyncInterval   time.Duration `env:"SYNC_INTERVAL" envDefault:"10m"`
	SyncCron       string        `env:"SYNC_CRON"`
	SyncLimit      int           `env:"SYNC_LIMIT" envDefault:"50"`

	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	SSEIdleTimeout time.Duration `env:"SSE_IDLE_TIMEOUT" envDefault:"30m"`

	ClosedAutoReply string `env:"CLOSED_AUTO_REPLY"`
	CloseNotice     string `env:"CLOSE_NOTICE"`
	AutoCloseNotice string `env:"AUTO_CLOSE_NOTICE"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return load(env.Options{})
}

// LoadFrom reads the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.TableName) == "" {
		return errors.New("config: TABLE_NAME must not be empty")
	}
	if c.AutoCloseAfter <= 0 {
		return errors.New("config: AUTO_CLOSE_AFTER must be positive")
	}
	if c.SweepCron == "" && c.SweepInterval <= 0 {
		return errors.New("config: SWEEP_INTERVAL must be positive")
	}
	if c.SyncCron == "" && c.SyncInterval <= 0 {
		return errors.New("config: SYNC_INTERVAL must be positive")
	}
	if c.SyncLimit <= 0 || c.SyncLimit > 100 {
		return errors.New("config: SYNC_LIMIT must be between 1 and 100")
	}
	return nil
}

// ParameterName returns the SSM name for a secret under ParamPrefix.
func (c Config) ParameterName(secret string) string {
	return c.ParamPrefix + "/" + secret
}

// SlogLevel maps LOG_LEVEL to a slog.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
