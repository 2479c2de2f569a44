package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/abyssinia-assembly/attendance/internal/domain"
)

var (
	validLogLevels  = []string{"trace", "debug", "info", "warn", "error"}
	validLogFormats = []string{"console", "json"}
)

// Validate validates the configuration. Failures are *domain.ValidationError.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}

	if err := validateAuth(&cfg.Auth); err != nil {
		return err
	}

	if err := validateAudit(&cfg.Audit); err != nil {
		return err
	}

	if err := validateClient(&cfg.Client); err != nil {
		return err
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}

	return nil
}

// RequireSecret reports an error when no JWT secret is configured. Only the
// server and token minting need one.
func (c *Config) RequireSecret() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return domain.NewValidationError("auth.jwt_secret", fmt.Sprintf("must be set (or %s_AUTH_JWT_SECRET)", EnvPrefix))
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return domain.NewValidationError("server.port", "must be between 1 and 65535")
	}
	if cfg.Host == "" {
		return domain.NewValidationError("server.host", "cannot be empty")
	}
	if !strings.HasPrefix(cfg.BasePath, "/") {
		return domain.NewValidationError("server.base_path", "must start with /")
	}
	if cfg.ToggleRateLimit < 0 {
		return domain.NewValidationError("server.toggle_rate_limit", "cannot be negative")
	}

	for _, origin := range cfg.AllowedOrigins {
		if strings.HasPrefix(origin, "*.") {
			continue
		}
		if err := validateURL(origin, "server.allowed_origins", []string{"http", "https"}); err != nil {
			return err
		}
	}

	if cfg.PublicURL != "" {
		if err := validateURL(cfg.PublicURL, "server.public_url", []string{"http", "https"}); err != nil {
			return err
		}
	}

	return nil
}

func validateAuth(cfg *AuthConfig) error {
	if cfg.TokenTTL <= 0 {
		return domain.NewValidationError("auth.token_ttl", "must be positive")
	}
	return nil
}

func validateAudit(cfg *AuditConfig) error {
	if cfg.Enabled && cfg.Path == "" {
		return domain.NewValidationError("audit.path", "cannot be empty when audit is enabled")
	}
	return nil
}

func validateClient(cfg *ClientConfig) error {
	if cfg.Endpoint != "" {
		if err := validateURL(cfg.Endpoint, "client.endpoint", []string{"ws", "wss"}); err != nil {
			return err
		}
	}
	if cfg.PageURL != "" {
		if err := validateURL(cfg.PageURL, "client.page_url", []string{"http", "https"}); err != nil {
			return err
		}
	}
	if cfg.MaxReconnectAttempts < 0 {
		return domain.NewValidationError("client.max_reconnect_attempts", "cannot be negative")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"client.keepalive_interval", cfg.KeepaliveInterval},
		{"client.base_reconnect_delay", cfg.BaseReconnectDelay},
		{"client.max_reconnect_delay", cfg.MaxReconnectDelay},
		{"client.reconnect_grace", cfg.ReconnectGrace},
		{"client.handshake_timeout", cfg.HandshakeTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return domain.NewValidationError(d.name, "must be positive")
		}
	}
	if cfg.MaxReconnectDelay < cfg.BaseReconnectDelay {
		return domain.NewValidationError("client.max_reconnect_delay", "cannot be less than client.base_reconnect_delay")
	}

	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if !contains(validLogLevels, cfg.Level) {
		return domain.NewValidationError("logging.level", "must be one of: "+strings.Join(validLogLevels, ", "))
	}
	if !contains(validLogFormats, cfg.Format) {
		return domain.NewValidationError("logging.format", "must be one of: "+strings.Join(validLogFormats, ", "))
	}
	return nil
}

// validateURL validates that a URL is well-formed and uses an allowed scheme.
func validateURL(rawURL, fieldName string, allowedSchemes []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return domain.NewValidationError(fieldName, fmt.Sprintf("is not a valid URL: %v", err))
	}

	if parsed.Host == "" {
		return domain.NewValidationError(fieldName, "must include a host")
	}

	if !contains(allowedSchemes, strings.ToLower(parsed.Scheme)) {
		return domain.NewValidationError(fieldName, "must use one of these schemes: "+strings.Join(allowedSchemes, ", "))
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
