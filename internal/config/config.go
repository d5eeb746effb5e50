package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// MaxPurgeScan is the largest page Discord returns from a channel history request.
const MaxPurgeScan = 100

type Config struct {
	DiscordToken  string           `yaml:"discord_token"`
	DatabaseURL   string           `yaml:"database_url"`
	LogLevel      string           `yaml:"log_level"`
	RetentionDays int              `yaml:"retention_days"`
	Health        HealthConfig     `yaml:"health"`
	Tracker       TrackerConfig    `yaml:"tracker"`
	Mitigation    MitigationConfig `yaml:"mitigation"`
	Notifications NotifyConfig     `yaml:"notifications"`
	Defaults      PolicyDefaults   `yaml:"defaults"`
}

type HealthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	MaxConns int    `yaml:"max_conns"`
}

type TrackerConfig struct {
	MaxWindows int `yaml:"max_windows"`
}

type MitigationConfig struct {
	Workers              int     `yaml:"workers"`
	QueueSize            int     `yaml:"queue_size"`
	ActionTimeoutSeconds int     `yaml:"action_timeout_seconds"`
	PurgeScanLimit       int     `yaml:"purge_scan_limit"`
	LogRatePerSecond     float64 `yaml:"log_rate_per_second"`
	LogBurst             int     `yaml:"log_burst"`
}

type NotifyConfig struct {
	EmbedColor   int `yaml:"embed_color"`
	SuccessColor int `yaml:"success_color"`
	ErrorColor   int `yaml:"error_color"`
}

// PolicyDefaults are shown to operators as hints; they never create a policy.
type PolicyDefaults struct {
	WindowSeconds  int `yaml:"window_seconds"`
	Threshold      int `yaml:"threshold"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		RetentionDays: 30,
		Health:        HealthConfig{Enabled: false, Addr: ":8080", MaxConns: 16},
		Tracker:       TrackerConfig{MaxWindows: 100000},
		Mitigation: MitigationConfig{
			Workers:              4,
			QueueSize:            256,
			ActionTimeoutSeconds: 10,
			PurgeScanLimit:       MaxPurgeScan,
			LogRatePerSecond:     1,
			LogBurst:             5,
		},
		Notifications: NotifyConfig{
			EmbedColor:   0xEF4444,
			SuccessColor: 0x22C55E,
			ErrorColor:   0xF97316,
		},
		Defaults: PolicyDefaults{WindowSeconds: 5, Threshold: 5, TimeoutSeconds: 60},
	}
}

// LoadFile reads path if it exists, applies env overrides and validates the result.
// A missing file is not an error; the token can come from the environment alone.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	if c.Mitigation.Workers <= 0 {
		return fmt.Errorf("mitigation.workers must be positive, got %d", c.Mitigation.Workers)
	}
	if c.Mitigation.ActionTimeoutSeconds <= 0 {
		return fmt.Errorf("mitigation.action_timeout_seconds must be positive, got %d", c.Mitigation.ActionTimeoutSeconds)
	}
	if c.Tracker.MaxWindows <= 0 {
		return fmt.Errorf("tracker.max_windows must be positive, got %d", c.Tracker.MaxWindows)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Health.MaxConns = envInt("HEALTH_MAX_CONNS", cfg.Health.MaxConns)
	cfg.Tracker.MaxWindows = envInt("TRACKER_MAX_WINDOWS", cfg.Tracker.MaxWindows)
	cfg.Mitigation.Workers = envInt("MITIGATION_WORKERS", cfg.Mitigation.Workers)
	cfg.Mitigation.QueueSize = envInt("MITIGATION_QUEUE_SIZE", cfg.Mitigation.QueueSize)
	cfg.Mitigation.ActionTimeoutSeconds = envInt("MITIGATION_ACTION_TIMEOUT_SECONDS", cfg.Mitigation.ActionTimeoutSeconds)
	cfg.Mitigation.PurgeScanLimit = envInt("PURGE_SCAN_LIMIT", cfg.Mitigation.PurgeScanLimit)
	cfg.Mitigation.LogRatePerSecond = envFloat("LOG_RATE_PER_SECOND", cfg.Mitigation.LogRatePerSecond)
	cfg.Mitigation.LogBurst = envInt("LOG_BURST", cfg.Mitigation.LogBurst)
	cfg.Notifications.EmbedColor = envInt("EMBED_COLOR", cfg.Notifications.EmbedColor)
}

func normalize(cfg *Config) {
	if cfg.Mitigation.PurgeScanLimit <= 0 || cfg.Mitigation.PurgeScanLimit > MaxPurgeScan {
		cfg.Mitigation.PurgeScanLimit = MaxPurgeScan
	}
	if cfg.Mitigation.QueueSize < 0 {
		cfg.Mitigation.QueueSize = 0
	}
	if cfg.Mitigation.LogBurst <= 0 {
		cfg.Mitigation.LogBurst = 1
	}
	if cfg.Health.MaxConns <= 0 {
		cfg.Health.MaxConns = 16
	}
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 0, 64); err == nil {
			return int(parsed)
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
