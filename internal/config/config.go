// Package config loads runtime settings with precedence
// file > environment > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the service reads at startup.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Limits    *LimitsConfig    `json:"limits"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// LimitsConfig bounds per-client inbound message throughput.
type LimitsConfig struct {
	MessagesPerMinute int `json:"messages_per_minute"`
}

// DefaultConfig returns settings suitable for a single-classroom
// deployment: 30s heartbeat, 60s read timeout, 100-message write buffer.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			BufferSize:   100,
		},
		Limits: &LimitsConfig{
			MessagesPerMinute: 600,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Limits == nil {
		return fmt.Errorf("limits configuration is required")
	}
	if c.Limits.MessagesPerMinute <= 0 {
		return fmt.Errorf("messages per minute must be positive")
	}

	return nil
}

// LoadFromEnv starts from defaults and applies LOOKOUT_* overrides.
// Unparseable values fall back to the default silently.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("LOOKOUT_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("LOOKOUT_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if readTimeout := os.Getenv("LOOKOUT_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}
	if writeTimeout := os.Getenv("LOOKOUT_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}
	if pingInterval := os.Getenv("LOOKOUT_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}
	if wsReadTimeout := os.Getenv("LOOKOUT_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}
	if bufferSize := os.Getenv("LOOKOUT_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}
	if perMinute := os.Getenv("LOOKOUT_LIMITS_MESSAGES_PER_MINUTE"); perMinute != "" {
		if n, err := strconv.Atoi(perMinute); err == nil {
			config.Limits.MessagesPerMinute = n
		}
	}

	return config
}

// ConfigFile mirrors Config with string durations for JSON parsing.
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Limits    *LimitsConfig        `json:"limits"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

// LoadFromFile reads a JSON config file on top of the defaults and
// validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := DefaultConfig()

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = interval
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = timeout
			}
		}
	}

	if configFile.Limits != nil && configFile.Limits.MessagesPerMinute > 0 {
		config.Limits.MessagesPerMinute = configFile.Limits.MessagesPerMinute
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return config, nil
}

// LoadWithPrecedence resolves the effective configuration: a readable file
// wins over environment overrides, which win over defaults. File errors are
// ignored so a deployment without a config file still starts.
func LoadWithPrecedence(path string) *Config {
	config := LoadFromEnv()

	if path != "" {
		if fileConfig, err := LoadFromFile(path); err == nil {
			config = fileConfig
		}
	}

	return config
}
