package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// Helper to clear all config-related env vars
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"SYNCDESK_CONFIG_PATH",
		"SYNCDESK_FRESHDESK_DOMAIN",
		"SYNCDESK_FRESHDESK_API_KEY",
		"SYNCDESK_CLARITY_URL",
		"SYNCDESK_CLARITY_USER",
		"SYNCDESK_CLARITY_PASSWORD",
		"SYNCDESK_HTTP_TIMEOUT",
		"SYNCDESK_HTTP_MAX_ATTEMPTS",
		"SYNCDESK_HTTP_BASE_WAIT",
		"SYNCDESK_STRICT",
		"SYNCDESK_FOLD_CASE",
		"SYNCDESK_ARCHIVE_BUCKET",
		"SYNCDESK_ARCHIVE_ENDPOINT",
		"SYNCDESK_ARCHIVE_REGION",
		"SYNCDESK_ARCHIVE_ACCESS_KEY",
		"SYNCDESK_ARCHIVE_SECRET_KEY",
		"SYNCDESK_TRANSACTIONS_DIR",
		"SYNCDESK_JOURNAL_DB",
		"SYNCDESK_EXPORT_DIR",
		"SYNCDESK_LOG_LEVEL",
		"SYNCDESK_LOG_FILE",
		"SYNCDESK_PORT",
		"SYNCDESK_API_KEY",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

// missingPath returns a config path that does not exist.
func missingPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(missingPath(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTP.Timeout.Std() != 30*time.Second {
		t.Errorf("HTTP.Timeout = %v, want 30s", cfg.HTTP.Timeout.Std())
	}
	if cfg.HTTP.MaxAttempts != 3 {
		t.Errorf("HTTP.MaxAttempts = %d, want 3", cfg.HTTP.MaxAttempts)
	}
	if cfg.HTTP.BaseWait.Std() != 2*time.Second {
		t.Errorf("HTTP.BaseWait = %v, want 2s", cfg.HTTP.BaseWait.Std())
	}
	if cfg.Sync.Strict {
		t.Error("Sync.Strict should default to false")
	}
	if cfg.Sync.FoldCase {
		t.Error("Sync.FoldCase should default to false")
	}
	if cfg.Sync.DetailLimit != 20 {
		t.Errorf("Sync.DetailLimit = %d, want 20", cfg.Sync.DetailLimit)
	}
	if cfg.Paths.TransactionsDir != "data/transactions" {
		t.Errorf("Paths.TransactionsDir = %q, want data/transactions", cfg.Paths.TransactionsDir)
	}
	if cfg.Notes.MinInactiveDays != 10 {
		t.Errorf("Notes.MinInactiveDays = %d, want 10", cfg.Notes.MinInactiveDays)
	}
	if len(cfg.Tags.ExcludedGroups) != 2 {
		t.Errorf("Tags.ExcludedGroups = %v, want 2 defaults", cfg.Tags.ExcludedGroups)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNCDESK_FRESHDESK_DOMAIN", "acme")
	t.Setenv("SYNCDESK_FRESHDESK_API_KEY", "fd-key")
	t.Setenv("SYNCDESK_CLARITY_PASSWORD", "secret")
	t.Setenv("SYNCDESK_HTTP_MAX_ATTEMPTS", "5")
	t.Setenv("SYNCDESK_FOLD_CASE", "true")
	t.Setenv("SYNCDESK_LOG_LEVEL", "debug")

	cfg, err := Load(missingPath(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Freshdesk.Domain != "acme" {
		t.Errorf("Freshdesk.Domain = %q, want acme", cfg.Freshdesk.Domain)
	}
	if cfg.Freshdesk.APIKey != "fd-key" {
		t.Errorf("Freshdesk.APIKey = %q, want fd-key", cfg.Freshdesk.APIKey)
	}
	if cfg.Clarity.Password != "secret" {
		t.Errorf("Clarity.Password = %q, want secret", cfg.Clarity.Password)
	}
	if cfg.HTTP.MaxAttempts != 5 {
		t.Errorf("HTTP.MaxAttempts = %d, want 5", cfg.HTTP.MaxAttempts)
	}
	if !cfg.Sync.FoldCase {
		t.Error("Sync.FoldCase = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9000
log:
  level: warn
`)
	t.Setenv("SYNCDESK_CONFIG_PATH", path)
	t.Setenv("SYNCDESK_PORT", "8888")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Env should win over YAML
	if cfg.Server.Port != 8888 {
		t.Errorf("Server.Port = %d, want 8888 (env override)", cfg.Server.Port)
	}
	// YAML value should still apply where no env override
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q (from YAML)", cfg.Log.Level, "warn")
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
freshdesk:
  domain: acme.freshdesk.com
clarity:
  base_url: https://ppm.example.com/ppm/rest/v1
  username: sync-bot
http:
  timeout: 15s
  base_wait: 500ms
sync:
  strict: true
  detail_limit: 5
tags:
  pause: 2s
  excluded_groups: ["TRIAGE"]
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Freshdesk.Domain != "acme.freshdesk.com" {
		t.Errorf("Freshdesk.Domain = %q", cfg.Freshdesk.Domain)
	}
	if cfg.Clarity.Username != "sync-bot" {
		t.Errorf("Clarity.Username = %q, want sync-bot", cfg.Clarity.Username)
	}
	if cfg.HTTP.Timeout.Std() != 15*time.Second {
		t.Errorf("HTTP.Timeout = %v, want 15s", cfg.HTTP.Timeout.Std())
	}
	if cfg.HTTP.BaseWait.Std() != 500*time.Millisecond {
		t.Errorf("HTTP.BaseWait = %v, want 500ms", cfg.HTTP.BaseWait.Std())
	}
	if !cfg.Sync.Strict {
		t.Error("Sync.Strict = false, want true")
	}
	if cfg.Sync.DetailLimit != 5 {
		t.Errorf("Sync.DetailLimit = %d, want 5", cfg.Sync.DetailLimit)
	}
	if cfg.Tags.Pause.Std() != 2*time.Second {
		t.Errorf("Tags.Pause = %v, want 2s", cfg.Tags.Pause.Std())
	}
	if len(cfg.Tags.ExcludedGroups) != 1 || cfg.Tags.ExcludedGroups[0] != "TRIAGE" {
		t.Errorf("Tags.ExcludedGroups = %v, want [TRIAGE]", cfg.Tags.ExcludedGroups)
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
http:
  timeout: [
`)

	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile() expected error for invalid YAML, got nil")
	}
}

func TestLoadFromFile_InvalidDuration(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
http:
  timeout: soon
`)

	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("LoadFromFile() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %v, want invalid duration", err)
	}
}

func TestLoad_ValidationRejectsZeroAttempts(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
http:
  max_attempts: 0
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected validation error for max_attempts 0")
	}
}

func TestLoad_ValidationRejectsBadLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNCDESK_LOG_LEVEL", "loud")

	if _, err := Load(missingPath(t)); err == nil {
		t.Fatal("Load() expected validation error for unknown log level")
	}
}

func TestLoad_ArchiveFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNCDESK_ARCHIVE_BUCKET", "syncdesk-archive")
	t.Setenv("SYNCDESK_ARCHIVE_ENDPOINT", "s3.example.com")
	t.Setenv("SYNCDESK_ARCHIVE_ACCESS_KEY", "AK")
	t.Setenv("SYNCDESK_ARCHIVE_SECRET_KEY", "SK")

	cfg, err := Load(missingPath(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	a := cfg.Archive
	if a.Bucket != "syncdesk-archive" || a.Endpoint != "s3.example.com" || a.AccessKey != "AK" || a.SecretKey != "SK" {
		t.Errorf("archive = %+v", a)
	}
	if a.Prefix != "syncdesk" || a.URLExpiry.Std() != 15*time.Minute {
		t.Errorf("archive defaults = %q / %v", a.Prefix, a.URLExpiry.Std())
	}
}

func TestLoad_ValidationRejectsBucketWithoutEndpoint(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNCDESK_ARCHIVE_BUCKET", "b")

	if _, err := Load(missingPath(t)); err == nil {
		t.Fatal("Load() expected validation error for bucket without endpoint")
	}
}

func TestLoad_ValidationRejectsSweeperWithoutThreshold(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  sweep_interval: 1h
  stale_after: 0s
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected validation error for zero stale_after")
	}
}

func TestConfig_SecretsNotInYAML(t *testing.T) {
	cfg := newDefaults()
	cfg.Freshdesk.APIKey = "fd-secret"
	cfg.Clarity.Password = "clarity-secret"
	cfg.Server.APIKey = "server-secret"
	cfg.Archive.AccessKey = "s3-access"
	cfg.Archive.SecretKey = "s3-secret"

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}

	for _, secret := range []string{"fd-secret", "clarity-secret", "server-secret", "s3-access", "s3-secret"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("marshaled YAML leaks %q", secret)
		}
	}
}

func TestRequireFreshdesk(t *testing.T) {
	cfg := newDefaults()
	if err := cfg.RequireFreshdesk(); err == nil {
		t.Fatal("RequireFreshdesk() expected error with no domain")
	}

	cfg.Freshdesk.Domain = "acme"
	if err := cfg.RequireFreshdesk(); err == nil {
		t.Fatal("RequireFreshdesk() expected error with no API key")
	}

	cfg.Freshdesk.APIKey = "key"
	if err := cfg.RequireFreshdesk(); err != nil {
		t.Fatalf("RequireFreshdesk() error = %v", err)
	}
}

func TestRequireClarity_PasswordOptional(t *testing.T) {
	cfg := newDefaults()
	cfg.Clarity.BaseURL = "https://ppm.example.com"
	cfg.Clarity.Username = "bot"

	if err := cfg.RequireClarity(); err != nil {
		t.Fatalf("RequireClarity() error = %v", err)
	}
}

func TestFreshdeskConfig_BaseURL(t *testing.T) {
	tests := []struct {
		domain string
		want   string
	}{
		{"acme", "https://acme.freshdesk.com"},
		{"acme.freshdesk.com", "https://acme.freshdesk.com"},
		{"acme.freshdesk.com/", "https://acme.freshdesk.com"},
		{"http://127.0.0.1:9000", "http://127.0.0.1:9000"},
	}
	for _, tt := range tests {
		got := FreshdeskConfig{Domain: tt.domain}.BaseURL()
		if got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.domain, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupLoggerWithWriters_FansOut(t *testing.T) {
	// Given: a logger writing to two buffers
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	// When: a record is logged
	logger.Info("sync finished", "changes", 3)

	// Then: stderr gets text and the file gets JSON
	if !strings.Contains(stderr.String(), "msg=\"sync finished\"") {
		t.Errorf("stderr = %q, want text record", stderr.String())
	}
	if !strings.Contains(file.String(), `"msg":"sync finished"`) {
		t.Errorf("file = %q, want JSON record", file.String())
	}
}

func TestSetupLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "syncdesk.log")

	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %q, want JSON record", data)
	}
}
