package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Send modes for outbound chat messages
const (
	SendModeWebSocket = "ws"
	SendModeREST      = "rest"
)

// Config structure represents the application configuration. The client sections
// drive the sync layer, the server sections drive the reference chat server.
type Config struct {
	Client struct {
		ServerURL string `yaml:"server_url" env:"CHAT_SERVER_URL"`
		WSPath    string `yaml:"ws_path" env:"CHAT_WS_PATH"`
		Token     string `yaml:"token" env:"CHAT_TOKEN"`
		SendMode  string `yaml:"send_mode" env:"CHAT_SEND_MODE"`
		Timeout   string `yaml:"timeout" env:"CHAT_REQUEST_TIMEOUT"`
	} `yaml:"client"`

	Reconnect struct {
		MaxAttempts int    `yaml:"max_attempts" env:"RECONNECT_MAX_ATTEMPTS"`
		BaseDelay   string `yaml:"base_delay" env:"RECONNECT_BASE_DELAY"`
		MaxDelay    string `yaml:"max_delay" env:"RECONNECT_MAX_DELAY"`
	} `yaml:"reconnect"`

	Heartbeat struct {
		Interval string `yaml:"interval" env:"HEARTBEAT_INTERVAL"`
		Timeout  string `yaml:"timeout" env:"HEARTBEAT_TIMEOUT"`
	} `yaml:"heartbeat"`

	History struct {
		PageSize int `yaml:"page_size" env:"HISTORY_PAGE_SIZE"`
	} `yaml:"history"`

	Server struct {
		Port  string `yaml:"port" env:"SERVER_PORT"`
		Mode  string `yaml:"mode" env:"SERVER_MODE"`
		Store string `yaml:"store" env:"SERVER_STORE"`

		// SeedDemo posts a few welcome messages to the "general" channel at startup
		SeedDemo bool `yaml:"seed_demo" env:"SERVER_SEED_DEMO"`
	} `yaml:"server"`

	Database struct {
		Host            string `yaml:"host" env:"DB_HOST"`
		Port            string `yaml:"port" env:"DB_PORT"`
		User            string `yaml:"user" env:"DB_USER"`
		Password        string `yaml:"password" env:"DB_PASSWORD"`
		DBName          string `yaml:"dbname" env:"DB_NAME"`
		SSLMode         string `yaml:"sslmode" env:"DB_SSLMODE"`
		MaxIdleConns    int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
		MaxOpenConns    int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
	} `yaml:"database"`

	JWT struct {
		Secret          string `yaml:"secret" env:"JWT_SECRET"`
		TokenExpiration string `yaml:"token_expiration" env:"JWT_TOKEN_EXPIRATION"`
		Issuer          string `yaml:"issuer" env:"JWT_ISSUER"`
	} `yaml:"jwt"`

	Logging struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			file, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(file, config); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := processStructFields(config); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Default returns a configuration populated with defaults only
func Default() *Config {
	config := &Config{}
	setDefaults(config)
	return config
}

// setDefaults sets default values for the configuration
func setDefaults(config *Config) {
	config.Client.ServerURL = "http://localhost:8080"
	config.Client.WSPath = "/ws"
	config.Client.SendMode = SendModeWebSocket
	config.Client.Timeout = "10s"

	config.Reconnect.MaxAttempts = 5
	config.Reconnect.BaseDelay = "1s"
	config.Reconnect.MaxDelay = "30s"

	config.Heartbeat.Interval = "10s"
	config.Heartbeat.Timeout = "25s"

	config.History.PageSize = 30

	config.Server.Port = "8080"
	config.Server.Mode = "development"
	config.Server.Store = "memory"

	config.Database.Host = "localhost"
	config.Database.Port = "5432"
	config.Database.User = "postgres"
	config.Database.Password = "postgres"
	config.Database.DBName = "coursechat"
	config.Database.SSLMode = "disable"
	config.Database.MaxIdleConns = 2
	config.Database.MaxOpenConns = 10
	config.Database.ConnMaxLifetime = "1h"

	config.JWT.Secret = "coursechat-dev-secret"
	config.JWT.TokenExpiration = "24h"
	config.JWT.Issuer = "coursechat.dev"

	config.Logging.Level = "info"
	config.Logging.Format = "text"
}

// validateConfig ensures that the configuration is valid
func validateConfig(config *Config) error {
	u, err := url.Parse(config.Client.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client server_url must be an absolute http(s) URL, got %q", config.Client.ServerURL)
	}

	switch config.Client.SendMode {
	case SendModeWebSocket, SendModeREST:
	default:
		return fmt.Errorf("client send_mode must be %q or %q", SendModeWebSocket, SendModeREST)
	}

	if config.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect max_attempts must be at least 1")
	}

	durations := map[string]string{
		"client timeout":       config.Client.Timeout,
		"reconnect base_delay": config.Reconnect.BaseDelay,
		"reconnect max_delay":  config.Reconnect.MaxDelay,
		"heartbeat interval":   config.Heartbeat.Interval,
		"heartbeat timeout":    config.Heartbeat.Timeout,
		"jwt token_expiration": config.JWT.TokenExpiration,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s format: %w", name, err)
		}
	}

	base, _ := time.ParseDuration(config.Reconnect.BaseDelay)
	max, _ := time.ParseDuration(config.Reconnect.MaxDelay)
	if max < base {
		return fmt.Errorf("reconnect max_delay (%s) is below base_delay (%s)", max, base)
	}

	interval, _ := time.ParseDuration(config.Heartbeat.Interval)
	timeout, _ := time.ParseDuration(config.Heartbeat.Timeout)
	if timeout <= interval {
		return fmt.Errorf("heartbeat timeout must exceed the heartbeat interval")
	}

	if config.History.PageSize < 1 {
		return fmt.Errorf("history page_size must be positive")
	}

	switch strings.ToLower(config.Server.Store) {
	case "memory", "postgres":
	default:
		return fmt.Errorf("server store must be memory or postgres")
	}

	return nil
}

// WebSocketURL derives the ws(s):// endpoint from the configured server URL
func (c *Config) WebSocketURL() string {
	u, err := url.Parse(c.Client.ServerURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + c.Client.WSPath
	return u.String()
}

// GetPostgresConnectionString returns postgres connection string
func (c *Config) GetPostgresConnectionString() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		sslMode,
	)
}
