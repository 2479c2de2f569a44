package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abyssinia-assembly/attendance/internal/domain"
	"github.com/abyssinia-assembly/attendance/internal/realtime"
)

// isolateHome points HOME at a temp dir so no user config leaks in.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolateHome(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8082 {
		t.Errorf("default Port = %d, want 8082", cfg.Server.Port)
	}
	if cfg.Server.BasePath != "/assemblyservice" {
		t.Errorf("default BasePath = %s", cfg.Server.BasePath)
	}
	if !cfg.Server.InitialEnabled {
		t.Error("default InitialEnabled should be true")
	}
	if cfg.Client.MaxReconnectAttempts != 3 {
		t.Errorf("default MaxReconnectAttempts = %d, want 3", cfg.Client.MaxReconnectAttempts)
	}
	if cfg.Client.KeepaliveInterval != 30*time.Second {
		t.Errorf("default KeepaliveInterval = %v, want 30s", cfg.Client.KeepaliveInterval)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("default TokenTTL = %v", cfg.Auth.TokenTTL)
	}
	if want := filepath.Join(home, ".attendance", "attendance.db"); cfg.Audit.Path != want {
		t.Errorf("default Audit.Path = %s, want %s", cfg.Audit.Path, want)
	}
	if want := filepath.Join(home, ".attendance", "session.yaml"); cfg.Client.SessionFile != want {
		t.Errorf("default SessionFile = %s, want %s", cfg.Client.SessionFile, want)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("default logging = %+v", cfg.Logging)
	}
}

func TestLoad_FromFile(t *testing.T) {
	isolateHome(t)
	tempDir := t.TempDir()

	configContent := `
server:
  port: 9000
  host: "127.0.0.1"
  base_path: "assemblyservice/"
  allowed_origins:
    - "https://assembly.example.com"
    - "*.example.com"

auth:
  jwt_secret: "s3cret"
  token_ttl: 2h

client:
  page_url: "https://assembly.example.com/checkin"
  max_reconnect_attempts: 5
  keepalive_interval: 15s

logging:
  level: DEBUG
  format: json
`
	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.BasePath != "/assemblyservice" {
		t.Errorf("BasePath = %s, want /assemblyservice", cfg.Server.BasePath)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Auth.JWTSecret != "s3cret" || cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.Client.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.Client.MaxReconnectAttempts)
	}
	if cfg.Client.KeepaliveInterval != 15*time.Second {
		t.Errorf("KeepaliveInterval = %v, want 15s", cfg.Client.KeepaliveInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s, want debug", cfg.Logging.Level)
	}
	if got := cfg.Client.ResolvedEndpoint(); got != "wss://assembly.example.com/assemblyservice/ws/attendance" {
		t.Errorf("ResolvedEndpoint = %s", got)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	isolateHome(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server: [broken"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("ATTENDANCE_SERVER_PORT", "9123")
	t.Setenv("ATTENDANCE_AUTH_JWT_SECRET", "from-env")
	t.Setenv("ATTENDANCE_CLIENT_ENDPOINT", "ws://10.0.0.5:8082/assemblyservice/ws/attendance")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9123 {
		t.Errorf("Server.Port = %d, want 9123", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want from-env", cfg.Auth.JWTSecret)
	}
	if err := cfg.RequireSecret(); err != nil {
		t.Errorf("RequireSecret() = %v", err)
	}
	if got := cfg.Client.ResolvedEndpoint(); got != "ws://10.0.0.5:8082/assemblyservice/ws/attendance" {
		t.Errorf("ResolvedEndpoint = %s", got)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	isolateHome(t)
	t.Setenv("ATTENDANCE_CLIENT_MAX_RECONNECT_ATTEMPTS", "-2")

	if _, err := Load(""); err == nil {
		t.Error("expected validation error for negative reconnect attempts")
	}
}

func TestClientConfig_RealtimeConfig(t *testing.T) {
	c := Default().Client
	rc := c.RealtimeConfig()

	if rc.Endpoint != realtime.LocalEndpoint {
		t.Errorf("Endpoint = %s, want %s", rc.Endpoint, realtime.LocalEndpoint)
	}
	if rc.MaxReconnectAttempts != realtime.DefaultMaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d", rc.MaxReconnectAttempts)
	}
	if rc.BaseReconnectDelay != time.Second || rc.MaxReconnectDelay != 10*time.Second {
		t.Errorf("delays = %v/%v", rc.BaseReconnectDelay, rc.MaxReconnectDelay)
	}
}

func TestClientConfig_ZeroAttemptsDisablesReconnect(t *testing.T) {
	c := Default().Client
	c.MaxReconnectAttempts = 0
	if got := c.RealtimeConfig().MaxReconnectAttempts; got >= 0 {
		t.Errorf("MaxReconnectAttempts = %d, want negative", got)
	}
}

func TestExpandHome(t *testing.T) {
	home := isolateHome(t)

	tests := map[string]string{
		"~":                 home,
		"~/x/session.yaml":  filepath.Join(home, "x", "session.yaml"),
		"/abs/session.yaml": "/abs/session.yaml",
		"rel/~/file":        "rel/~/file",
	}
	for in, want := range tests {
		if got := expandHome(in); got != want {
			t.Errorf("expandHome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRequireSecret(t *testing.T) {
	cfg := Default()
	err := cfg.RequireSecret()
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "auth.jwt_secret" {
		t.Errorf("empty secret: RequireSecret() = %v, want auth.jwt_secret validation error", err)
	}
	cfg.Auth.JWTSecret = "   "
	if err := cfg.RequireSecret(); err == nil {
		t.Error("blank secret should be rejected")
	}
}

func TestDefault_YAMLRoundTrip(t *testing.T) {
	isolateHome(t)

	out, err := yaml.Marshal(Default())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), "token_ttl: 12h0m0s") {
		t.Errorf("durations should be written as strings:\n%s", out)
	}

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, out, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("TokenTTL = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Client.MaxReconnectDelay != realtime.DefaultMaxReconnectDelay {
		t.Errorf("MaxReconnectDelay = %v", cfg.Client.MaxReconnectDelay)
	}
}
