// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/examguard/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// isolateEnv points the loader away from any config file in the working
// directory and sets the variables every successful load needs.
func isolateEnv(t *testing.T) {
	t.Helper()
	chdirForTest(t, t.TempDir())
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("JWT_SECRET", testSecret)
}

// chdirForTest changes the working directory for the duration of the test
// and restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir(%q): %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(orig); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}
	return path
}

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 3857 {
		t.Errorf("Server.Port = %d, want 3857", cfg.Server.Port)
	}
	if cfg.WebSocket.HeartbeatInterval != 60*time.Second {
		t.Errorf("WebSocket.HeartbeatInterval = %v, want 60s", cfg.WebSocket.HeartbeatInterval)
	}
	if cfg.Ingest.MaxClockSkew != 30*time.Second || cfg.Ingest.MaxEventAge != 15*time.Minute {
		t.Errorf("Ingest skew/age = %v/%v, want 30s/15m", cfg.Ingest.MaxClockSkew, cfg.Ingest.MaxEventAge)
	}
	if cfg.Session.SuspendThreshold != 3 {
		t.Errorf("Session.SuspendThreshold = %d, want 3", cfg.Session.SuspendThreshold)
	}
	if cfg.Flagging.WindowSize != 200 {
		t.Errorf("Flagging.WindowSize = %d, want 200", cfg.Flagging.WindowSize)
	}
	if cfg.Store.Backend != "badger" || cfg.Store.Path != "/data/examguard" {
		t.Errorf("Store = %s at %s, want badger at /data/examguard", cfg.Store.Backend, cfg.Store.Path)
	}
	if cfg.Security.JWTSecret != "" {
		t.Error("Security.JWTSecret must not have a default")
	}
	if cfg.Notify.RedisURL != "" || len(cfg.Notify.KafkaBrokers) != 0 {
		t.Error("external sinks should be disabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %s/%s, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}

	// Defaults must pass validation once the secret is supplied.
	cfg.Security.JWTSecret = testSecret
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults with secret should validate: %v", err)
	}
}

// TestEnvTransformFunc tests the environment variable name mapping
func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"HTTP_PORT", "server.port"},
		{"LOG_LEVEL", "logging.level"},
		{"JWT_SECRET", "security.jwt_secret"},
		{"BADGER_PATH", "store.path"},
		{"WS_HEARTBEAT_INTERVAL", "websocket.heartbeat_interval"},
		{"ALLOWED_ORIGINS", "security.cors_origins"},
		{"CORS_ORIGINS", "security.cors_origins"},
		{"SUSPEND_THRESHOLD", "session.suspend_threshold"},
		{"KAFKA_BROKERS", "notify.kafka_brokers"},
		{"redis_url", "notify.redis_url"},

		// Unmapped variables are skipped
		{"PATH", ""},
		{"HOME", ""},
		{"RANDOM_VAR", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := envTransformFunc(tt.input); got != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	chdirForTest(t, tmpDir)

	t.Run("no config file exists", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, "")
		if result := findConfigFile(); result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})

	t.Run("config.yaml exists", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(configPath, []byte("server: {}"), 0o600); err != nil {
			t.Fatalf("Failed to create config file: %v", err)
		}
		defer os.Remove(configPath)

		t.Setenv(ConfigPathEnvVar, "")
		if result := findConfigFile(); result != "config.yaml" {
			t.Errorf("findConfigFile() = %q, want config.yaml", result)
		}
	})

	t.Run("CONFIG_PATH env var takes precedence", func(t *testing.T) {
		customPath := writeConfigFile(t, "server: {}")
		t.Setenv(ConfigPathEnvVar, customPath)

		if result := findConfigFile(); result != customPath {
			t.Errorf("findConfigFile() = %q, want %q", result, customPath)
		}
		if result := ConfigFilePath(); result != customPath {
			t.Errorf("ConfigFilePath() = %q, want %q", result, customPath)
		}
	})

	t.Run("CONFIG_PATH env var with non-existent file", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, "/non/existent/config.yaml")
		if result := findConfigFile(); result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})
}

// TestLoadWithKoanfEnvVars tests loading configuration from environment variables
func TestLoadWithKoanfEnvVars(t *testing.T) {
	isolateEnv(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "45s")
	t.Setenv("CONNECTION_IDLE_TIMEOUT", "2m")
	t.Setenv("SUSPEND_THRESHOLD", "5")
	t.Setenv("BADGER_PATH", "/tmp/examguard")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("FLAGGING_DISABLED_RULES", "focus_loss,tab_switch_burst")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.WebSocket.HeartbeatInterval != 45*time.Second {
		t.Errorf("WebSocket.HeartbeatInterval = %v, want 45s", cfg.WebSocket.HeartbeatInterval)
	}
	if cfg.Registry.IdleTimeout != 2*time.Minute {
		t.Errorf("Registry.IdleTimeout = %v, want 2m", cfg.Registry.IdleTimeout)
	}
	if cfg.Session.SuspendThreshold != 5 {
		t.Errorf("Session.SuspendThreshold = %d, want 5", cfg.Session.SuspendThreshold)
	}
	if cfg.Store.Path != "/tmp/examguard" {
		t.Errorf("Store.Path = %q, want /tmp/examguard", cfg.Store.Path)
	}
	wantOrigins := []string{"https://a.example.com", "https://b.example.com"}
	if !reflect.DeepEqual(cfg.Security.CORSOrigins, wantOrigins) {
		t.Errorf("Security.CORSOrigins = %v, want %v", cfg.Security.CORSOrigins, wantOrigins)
	}
	wantDisabled := []string{"focus_loss", "tab_switch_burst"}
	if !reflect.DeepEqual(cfg.Flagging.Disabled, wantDisabled) {
		t.Errorf("Flagging.Disabled = %v, want %v", cfg.Flagging.Disabled, wantDisabled)
	}

	// Defaults still apply for unset values
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0 (default)", cfg.Server.Host)
	}
	if cfg.Flagging.PasteBurst.Threshold != 3 {
		t.Errorf("Flagging.PasteBurst.Threshold = %d, want 3 (default)", cfg.Flagging.PasteBurst.Threshold)
	}
}

// TestLoadWithKoanfConfigFile tests loading configuration from a YAML file
func TestLoadWithKoanfConfigFile(t *testing.T) {
	isolateEnv(t)
	configPath := writeConfigFile(t, `
server:
  port: 8888
  host: "127.0.0.1"

flagging:
  window_size: 100
  paste_burst:
    threshold: 5
    severity: high

notify:
  redis_url: "redis://localhost:6379/0"
  kafka_brokers:
    - "kafka-1:9092"
    - "kafka-2:9092"

logging:
  level: "warn"
`)
	t.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.Port != 8888 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server = %s:%d, want 127.0.0.1:8888", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Flagging.WindowSize != 100 {
		t.Errorf("Flagging.WindowSize = %d, want 100", cfg.Flagging.WindowSize)
	}
	if cfg.Flagging.PasteBurst.Threshold != 5 || cfg.Flagging.PasteBurst.Severity != models.SeverityHigh {
		t.Errorf("Flagging.PasteBurst = %+v, want threshold 5 severity high", cfg.Flagging.PasteBurst)
	}
	if cfg.Flagging.PasteBurst.WindowSeconds != 60 {
		t.Errorf("Flagging.PasteBurst.WindowSeconds = %d, want 60 (default)", cfg.Flagging.PasteBurst.WindowSeconds)
	}
	if cfg.Notify.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Notify.RedisURL = %q", cfg.Notify.RedisURL)
	}
	if len(cfg.Notify.KafkaBrokers) != 2 {
		t.Errorf("Notify.KafkaBrokers = %v, want 2 brokers", cfg.Notify.KafkaBrokers)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

// TestLoadWithKoanfEnvOverridesFile tests that env vars override config file
func TestLoadWithKoanfEnvOverridesFile(t *testing.T) {
	isolateEnv(t)
	configPath := writeConfigFile(t, `
server:
  port: 8888
session:
  suspend_threshold: 4
logging:
  level: "warn"
`)
	t.Setenv(ConfigPathEnvVar, configPath)
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 (env override)", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %q, want error (env override)", cfg.Logging.Level)
	}
	if cfg.Session.SuspendThreshold != 4 {
		t.Errorf("Session.SuspendThreshold = %d, want 4 (from file)", cfg.Session.SuspendThreshold)
	}
}

// TestLoadWithKoanfValidation tests that validation runs after loading
func TestLoadWithKoanfValidation(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "valid minimal configuration",
			envVars: map[string]string{},
		},
		{
			name:    "missing JWT secret",
			envVars: map[string]string{"JWT_SECRET": ""},
			wantErr: true,
		},
		{
			name:    "invalid port",
			envVars: map[string]string{"HTTP_PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			envVars: map[string]string{"LOG_LEVEL": "verbose"},
			wantErr: true,
		},
		{
			name:    "unknown disabled rule",
			envVars: map[string]string{"FLAGGING_DISABLED_RULES": "mind_reading"},
			wantErr: true,
		},
		{
			name:    "malformed duration",
			envVars: map[string]string{"WS_HEARTBEAT_INTERVAL": "soon"},
			wantErr: true,
		},
		{
			name:    "wildcard CORS in production",
			envVars: map[string]string{"ENVIRONMENT": "production", "ALLOWED_ORIGINS": "*"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := LoadWithKoanf()
			if tt.wantErr {
				if err == nil {
					t.Error("LoadWithKoanf() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadWithKoanf() unexpected error = %v", err)
			}
			if cfg == nil {
				t.Fatal("LoadWithKoanf() returned nil config")
			}
		})
	}
}

func TestProcessSliceFields(t *testing.T) {
	k := koanf.New(".")
	_ = k.Set("security.cors_origins", " https://a.example.com ,,https://b.example.com ")
	_ = k.Set("notify.kafka_brokers", []string{"k:9092"})

	if err := processSliceFields(k); err != nil {
		t.Fatalf("processSliceFields() error = %v", err)
	}

	got := k.Strings("security.cors_origins")
	want := []string{"https://a.example.com", "https://b.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cors_origins = %v, want %v", got, want)
	}
	if got := k.Strings("notify.kafka_brokers"); !reflect.DeepEqual(got, []string{"k:9092"}) {
		t.Errorf("kafka_brokers = %v, slices should be left alone", got)
	}
}
