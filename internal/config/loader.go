package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage engines selectable through SCHEDULER_STORAGE.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config captures environment driven configuration values for the scheduler service.
type Config struct {
	HTTPPort          int
	Storage           string
	SQLiteDSN         string
	CatalogPath       string
	KeepAliveInterval time.Duration
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	NotifyInterval    time.Duration
	ChannelBuffer     int
	LogLevel          slog.Level
	AllowedOrigins    []string
}

// Load parses configuration values from the current process environment.
//
// The loader applies defaults for optional fields while validating required
// values and reporting every invalid variable at once.
func Load() (Config, error) {
	cfg, err := FromEnvironment()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnvironment parses the environment without checking required values or
// relationships between fields, so command-line flags can be layered on top
// before Validate runs.
func FromEnvironment() (Config, error) {
	cfg := Config{
		HTTPPort:          8080,
		Storage:           StorageSQLite,
		SQLiteDSN:         "scheduler.db",
		KeepAliveInterval: 20 * time.Second,
		IdleTimeout:       2 * time.Minute,
		SweepInterval:     5 * time.Second,
		NotifyInterval:    30 * time.Second,
		ChannelBuffer:     32,
		LogLevel:          slog.LevelInfo,
	}

	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("SCHEDULER_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "SCHEDULER_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if storage := strings.ToLower(strings.TrimSpace(os.Getenv("SCHEDULER_STORAGE"))); storage != "" {
		switch storage {
		case StorageSQLite, StorageMemory:
			cfg.Storage = storage
		default:
			invalid = append(invalid, "SCHEDULER_STORAGE")
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("SCHEDULER_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	cfg.CatalogPath = strings.TrimSpace(os.Getenv("SCHEDULER_CATALOG_PATH"))

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"SCHEDULER_KEEPALIVE_INTERVAL", &cfg.KeepAliveInterval},
		{"SCHEDULER_IDLE_TIMEOUT", &cfg.IdleTimeout},
		{"SCHEDULER_SWEEP_INTERVAL", &cfg.SweepInterval},
		{"SCHEDULER_NOTIFY_INTERVAL", &cfg.NotifyInterval},
	}
	for _, d := range durations {
		value := strings.TrimSpace(os.Getenv(d.key))
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, d.key)
			continue
		}
		*d.target = parsed
	}

	if bufferValue := strings.TrimSpace(os.Getenv("SCHEDULER_CHANNEL_BUFFER")); bufferValue != "" {
		buffer, err := strconv.Atoi(bufferValue)
		if err != nil || buffer <= 0 {
			invalid = append(invalid, "SCHEDULER_CHANNEL_BUFFER")
		} else {
			cfg.ChannelBuffer = buffer
		}
	}

	if levelValue := strings.TrimSpace(os.Getenv("SCHEDULER_LOG_LEVEL")); levelValue != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(levelValue)); err != nil {
			invalid = append(invalid, "SCHEDULER_LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}

	if origins := strings.TrimSpace(os.Getenv("SCHEDULER_ALLOWED_ORIGINS")); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// Validate checks required values and relationships between fields.
func (c Config) Validate() error {
	if c.CatalogPath == "" {
		return fmt.Errorf("必須の環境変数が設定されていません: SCHEDULER_CATALOG_PATH")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP ポートが不正です: %d", c.HTTPPort)
	}
	if c.Storage != StorageSQLite && c.Storage != StorageMemory {
		return fmt.Errorf("ストレージ種別が不正です: %q", c.Storage)
	}
	if c.ChannelBuffer <= 0 {
		return fmt.Errorf("チャネルバッファが不正です: %d", c.ChannelBuffer)
	}
	if c.IdleTimeout <= c.KeepAliveInterval {
		return fmt.Errorf("SCHEDULER_IDLE_TIMEOUT (%s) は SCHEDULER_KEEPALIVE_INTERVAL (%s) より長くする必要があります", c.IdleTimeout, c.KeepAliveInterval)
	}
	if c.IdleTimeout <= c.NotifyInterval {
		return fmt.Errorf("SCHEDULER_IDLE_TIMEOUT (%s) は SCHEDULER_NOTIFY_INTERVAL (%s) より長くする必要があります", c.IdleTimeout, c.NotifyInterval)
	}
	return nil
}
