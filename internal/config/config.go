package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	Local   LocalConfig   `json:"local"`
	Remote  RemoteConfig  `json:"remote"`
	Assist  AssistConfig  `json:"assist"`
	Flights FlightsConfig `json:"flights"`
	Sync    SyncConfig    `json:"sync"`
	Auth    AuthConfig    `json:"auth"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig controls the HTTP server
type ServerConfig struct {
	Port        int    `json:"port"`
	BindAddress string `json:"bind_address"`
}

// LocalConfig controls the embedded on-device store
type LocalConfig struct {
	Path string `json:"path"` // SQLite database file
}

// RemoteConfig controls the hosted relational mirror
type RemoteConfig struct {
	DSN      string `json:"dsn"` // Postgres connection string; empty disables mirroring
	Disabled bool   `json:"disabled"`
}

// AssistConfig controls the inference backend client
type AssistConfig struct {
	BaseURL            string `json:"base_url"`
	APIKey             string `json:"api_key"`
	ConnectTimeoutSecs int    `json:"connect_timeout_secs"` // dial + headers
	IdleTimeoutSecs    int    `json:"idle_timeout_secs"`    // max gap between stream chunks
}

// FlightsConfig controls the flight-search wrapper
type FlightsConfig struct {
	BaseURL      string `json:"base_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// SyncConfig controls the coordinator and its outbox
type SyncConfig struct {
	OutboxIntervalSecs int  `json:"outbox_interval_secs"`
	OutboxMaxAttempts  int  `json:"outbox_max_attempts"`
	StrictSequence     bool `json:"strict_sequence"` // reject out-of-order stream events
}

// AuthConfig controls authentication behavior
type AuthConfig struct {
	SessionExpiryDays      int `json:"session_expiry_days"`
	LockoutThreshold       int `json:"lockout_threshold"`
	LockoutDurationMinutes int `json:"lockout_duration_minutes"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level       string `json:"level"` // "debug", "info", "warn", "error"
	FileEnabled bool   `json:"file_enabled"`
	File        string `json:"file"`
	MaxSizeMB   int    `json:"max_size_mb"`
	MaxBackups  int    `json:"max_backups"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			BindAddress: "127.0.0.1",
		},
		Local: LocalConfig{
			Path: "wayfarer.db",
		},
		Remote: RemoteConfig{},
		Assist: AssistConfig{
			BaseURL:            "http://localhost:8000",
			ConnectTimeoutSecs: 15,
			IdleTimeoutSecs:    60,
		},
		Flights: FlightsConfig{
			BaseURL: "https://test.api.amadeus.com",
		},
		Sync: SyncConfig{
			OutboxIntervalSecs: 30,
			OutboxMaxAttempts:  5,
			StrictSequence:     true,
		},
		Auth: AuthConfig{
			SessionExpiryDays:      7,
			LockoutThreshold:       5,
			LockoutDurationMinutes: 15,
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: true,
			File:        "wayfarer.log",
			MaxSizeMB:   10,
			MaxBackups:  3,
		},
	}
}

// Load reads configuration from file and environment. A missing file is not
// an error; defaults are used and secrets may come from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets stay out of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WAYFARER_REMOTE_DSN"); v != "" {
		c.Remote.DSN = v
	}
	if v := os.Getenv("WAYFARER_ASSIST_URL"); v != "" {
		c.Assist.BaseURL = v
	}
	if v := os.Getenv("WAYFARER_ASSIST_KEY"); v != "" {
		c.Assist.APIKey = v
	}
	if v := os.Getenv("WAYFARER_FLIGHTS_CLIENT_ID"); v != "" {
		c.Flights.ClientID = v
	}
	if v := os.Getenv("WAYFARER_FLIGHTS_CLIENT_SECRET"); v != "" {
		c.Flights.ClientSecret = v
	}
}

// Validate checks invariants that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Local.Path == "" {
		return fmt.Errorf("local database path must not be empty")
	}
	if c.Assist.BaseURL == "" {
		return fmt.Errorf("assist base URL must not be empty")
	}
	if c.Sync.OutboxIntervalSecs <= 0 {
		return fmt.Errorf("outbox interval must be positive")
	}
	if c.Sync.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("outbox max attempts must be positive")
	}
	return nil
}

// Save writes the configuration back to disk.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
