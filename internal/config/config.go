// Package config assembles server settings from an optional YAML file, a
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"chat-realtime/internal/utils"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Port     string         `yaml:"port"`
	LogLevel string         `yaml:"log_level"`
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	MaxConns    int    `yaml:"max_conns"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type RealtimeConfig struct {
	SendBuffer       int           `yaml:"send_buffer"`
	ReadLimit        int           `yaml:"read_limit"`
	FramesPerSecond  float64       `yaml:"frames_per_second"`
	FrameBurst       int           `yaml:"frame_burst"`
	LastSeenInterval time.Duration `yaml:"last_seen_interval"`
}

func Default() Config {
	return Config{
		Port:     "3001",
		LogLevel: "info",
		Store: StoreConfig{
			Driver:     DriverPostgres,
			SQLitePath: "chat.db",
			MaxConns:   10,
		},
		Realtime: RealtimeConfig{
			SendBuffer:       64,
			ReadLimit:        64 * 1024,
			FramesPerSecond:  20,
			FrameBurst:       40,
			LastSeenInterval: 30 * time.Second,
		},
	}
}

// Load reads CONFIG_FILE (if set), then the environment on top of it.
func Load() (Config, error) {
	cfg := Default()
	if err := utils.LoadEnv(); err != nil {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path := utils.GetEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = utils.GetEnv("PORT", cfg.Port)
	cfg.LogLevel = utils.GetEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.Store.Driver = utils.GetEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DatabaseURL = utils.GetEnv("DATABASE_URL", cfg.Store.DatabaseURL)
	if cfg.Store.DatabaseURL == "" {
		// Fallback to individual vars
		cfg.Store.DatabaseURL = "postgres://" + utils.GetEnv("POSTGRES_USER", "postgres") + ":" +
			utils.GetEnv("POSTGRES_PASSWORD", "postgres") + "@" +
			utils.GetEnv("POSTGRES_HOST", "localhost") + ":" +
			utils.GetEnv("POSTGRES_PORT", "5432") + "/" +
			utils.GetEnv("POSTGRES_DB", "chatdb") + "?sslmode=disable"
	}
	cfg.Store.SQLitePath = utils.GetEnv("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.MaxConns = utils.GetEnvInt("DB_MAX_CONNS", cfg.Store.MaxConns)

	cfg.Auth.JWTSecret = utils.GetEnv("JWT_SECRET", cfg.Auth.JWTSecret)

	rt := &cfg.Realtime
	rt.SendBuffer = utils.GetEnvInt("WS_SEND_BUFFER", rt.SendBuffer)
	rt.ReadLimit = utils.GetEnvInt("WS_READ_LIMIT", rt.ReadLimit)
	rt.FramesPerSecond = utils.GetEnvFloat("WS_FRAMES_PER_SECOND", rt.FramesPerSecond)
	rt.FrameBurst = utils.GetEnvInt("WS_FRAME_BURST", rt.FrameBurst)
	rt.LastSeenInterval = utils.GetEnvDuration("LAST_SEEN_INTERVAL", rt.LastSeenInterval)
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite_path is required for the sqlite driver"))
	}
	if c.Store.MaxConns <= 0 {
		errs = append(errs, errors.New("max_conns must be positive"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Realtime.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.Realtime.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.Realtime.FramesPerSecond <= 0 || c.Realtime.FrameBurst <= 0 {
		errs = append(errs, errors.New("frame rate and burst must be positive"))
	}
	return errors.Join(errs...)
}
