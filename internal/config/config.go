// Package config reads client settings from the environment, with an
// optional yaml file layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the client. Reconnect parameters are
// configuration, not protocol.
type Config struct {
	API    APIConfig    `yaml:"api"`
	Socket SocketConfig `yaml:"socket"`

	LogLevel string `yaml:"log_level"`
}

// APIConfig configures the REST client.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SocketConfig configures the push channel.
type SocketConfig struct {
	URL                   string        `yaml:"url"`
	HandshakeTimeout      time.Duration `yaml:"handshake_timeout"`
	PingInterval          time.Duration `yaml:"ping_interval"`
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `yaml:"reconnect_max_attempts"`
}

// FromEnv builds a config from DROPWATCH_* environment variables with
// defaults matching the server's documented client settings.
func FromEnv() Config {
	return Config{
		API: APIConfig{
			BaseURL: getEnv("DROPWATCH_API_URL", "http://localhost:5000"),
			Timeout: getEnvAsDuration("DROPWATCH_API_TIMEOUT", 30*time.Second),
		},
		Socket: SocketConfig{
			URL:                   getEnv("DROPWATCH_SOCKET_URL", "ws://localhost:5000/ws"),
			HandshakeTimeout:      getEnvAsDuration("DROPWATCH_SOCKET_TIMEOUT", 20*time.Second),
			PingInterval:          getEnvAsDuration("DROPWATCH_SOCKET_PING_INTERVAL", 30*time.Second),
			ReconnectInitialDelay: getEnvAsDuration("DROPWATCH_RECONNECT_DELAY", time.Second),
			ReconnectMaxDelay:     getEnvAsDuration("DROPWATCH_RECONNECT_MAX_DELAY", 5*time.Second),
			ReconnectMaxAttempts:  getEnvAsInt("DROPWATCH_RECONNECT_ATTEMPTS", 10),
		},
		LogLevel: getEnv("DROPWATCH_LOG_LEVEL", "info"),
	}
}

// Load builds the env config and, when path names an existing file,
// merges yaml overrides on top of it.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
