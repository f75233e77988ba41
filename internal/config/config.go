package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Upstream UpstreamConfig `json:"upstream"`
	SMTP     SMTPConfig     `json:"smtp"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Address string `json:"address"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// UpstreamConfig points at the chat-completion provider.
type UpstreamConfig struct {
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Sender   string `json:"sender"`
}

type LoggingConfig struct {
	FilePath string `json:"file_path"`
	Prod     bool   `json:"prod"`
}

const (
	DefaultUpstreamBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel           = "llama-3.1-8b-instant"
)

// Timeout returns the upstream request timeout.
func (u UpstreamConfig) Timeout() time.Duration {
	if u.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file is not an error: defaults plus environment overrides apply,
// so the service can run from env alone.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case os.IsNotExist(err):
		// env-only setup
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn must be configured")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Address: ":8080"},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "./data/app.db"},
		Upstream: UpstreamConfig{
			BaseURL: DefaultUpstreamBaseURL,
			Model:   DefaultModel,
		},
		Logging: LoggingConfig{FilePath: "./logs/app.log"},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("GROQ_MODEL"); v != "" {
		cfg.Upstream.Model = v
	}
	if v := os.Getenv("SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}
