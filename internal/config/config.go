// Package config handles configuration management for the attendance
// service and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/abyssinia-assembly/attendance/internal/realtime"
)

// EnvPrefix prefixes every environment override, e.g. ATTENDANCE_SERVER_PORT.
const EnvPrefix = "ATTENDANCE"

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Audit   AuditConfig   `mapstructure:"audit" yaml:"audit"`
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds channel server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	BasePath       string   `mapstructure:"base_path" yaml:"base_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	InitialEnabled bool     `mapstructure:"initial_enabled" yaml:"initial_enabled"`
	// ToggleRateLimit caps PUT /api/attendance/status per client per minute.
	ToggleRateLimit int `mapstructure:"toggle_rate_limit" yaml:"toggle_rate_limit"`
	// PublicURL is the page URL check-in devices open; used for the QR code.
	PublicURL string `mapstructure:"public_url" yaml:"public_url"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// AuditConfig holds the toggle history database settings.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ClientConfig holds realtime client settings.
type ClientConfig struct {
	// Endpoint overrides the URL derived from PageURL.
	Endpoint             string        `mapstructure:"endpoint" yaml:"endpoint"`
	PageURL              string        `mapstructure:"page_url" yaml:"page_url"`
	SessionFile          string        `mapstructure:"session_file" yaml:"session_file"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	KeepaliveInterval    time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	BaseReconnectDelay   time.Duration `mapstructure:"base_reconnect_delay" yaml:"base_reconnect_delay"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay" yaml:"max_reconnect_delay"`
	ReconnectGrace       time.Duration `mapstructure:"reconnect_grace" yaml:"reconnect_grace"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.attendance")
		v.AddConfigPath("/etc/attendance")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// A missing config file is fine; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8082,
			BasePath:        "/assemblyservice",
			AllowedOrigins:  []string{},
			InitialEnabled:  true,
			ToggleRateLimit: 10,
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Client: ClientConfig{
			MaxReconnectAttempts: realtime.DefaultMaxReconnectAttempts,
			KeepaliveInterval:    realtime.DefaultKeepaliveInterval,
			BaseReconnectDelay:   realtime.DefaultBaseReconnectDelay,
			MaxReconnectDelay:    realtime.DefaultMaxReconnectDelay,
			ReconnectGrace:       realtime.DefaultReconnectGrace,
			HandshakeTimeout:     realtime.DefaultHandshakeTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.initial_enabled", d.Server.InitialEnabled)
	v.SetDefault("server.toggle_rate_limit", d.Server.ToggleRateLimit)
	v.SetDefault("server.public_url", "")

	// Auth defaults. The secret has no usable default; serve refuses to start
	// without one.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	// Audit defaults
	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.path", "")

	// Client defaults
	v.SetDefault("client.endpoint", "")
	v.SetDefault("client.page_url", "")
	v.SetDefault("client.session_file", "")
	v.SetDefault("client.max_reconnect_attempts", d.Client.MaxReconnectAttempts)
	v.SetDefault("client.keepalive_interval", d.Client.KeepaliveInterval)
	v.SetDefault("client.base_reconnect_delay", d.Client.BaseReconnectDelay)
	v.SetDefault("client.max_reconnect_delay", d.Client.MaxReconnectDelay)
	v.SetDefault("client.reconnect_grace", d.Client.ReconnectGrace)
	v.SetDefault("client.handshake_timeout", d.Client.HandshakeTimeout)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// postProcess fills derived paths and normalizes values.
func postProcess(cfg *Config) error {
	dir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to resolve config directory: %w", err)
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = filepath.Join(dir, "attendance.db")
	}
	if cfg.Client.SessionFile == "" {
		cfg.Client.SessionFile = filepath.Join(dir, "session.yaml")
	}

	cfg.Audit.Path = expandHome(cfg.Audit.Path)
	cfg.Client.SessionFile = expandHome(cfg.Client.SessionFile)

	cfg.Server.BasePath = "/" + strings.Trim(cfg.Server.BasePath, "/")
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ResolvedEndpoint returns Endpoint when set, otherwise the endpoint derived
// from PageURL.
func (c ClientConfig) ResolvedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return realtime.ResolveEndpoint(c.PageURL)
}

// RealtimeConfig converts the client section into realtime settings. Zero
// reconnect attempts disables automatic reconnects.
func (c ClientConfig) RealtimeConfig() realtime.Config {
	attempts := c.MaxReconnectAttempts
	if attempts == 0 {
		attempts = -1
	}
	return realtime.Config{
		Endpoint:             c.ResolvedEndpoint(),
		MaxReconnectAttempts: attempts,
		KeepaliveInterval:    c.KeepaliveInterval,
		BaseReconnectDelay:   c.BaseReconnectDelay,
		MaxReconnectDelay:    c.MaxReconnectDelay,
		ReconnectGrace:       c.ReconnectGrace,
	}
}

// GetConfigDir returns the user config directory.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".attendance"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
