package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when neither --config nor SYNCDESK_CONFIG_PATH is set.
const DefaultConfigPath = "config/syncdesk.yaml"

// Config is the root configuration structure.
// It is read-only after Load() returns.
type Config struct {
	Freshdesk FreshdeskConfig `yaml:"freshdesk"`
	Clarity   ClarityConfig   `yaml:"clarity"`
	HTTP      HTTPConfig      `yaml:"http"`
	Sync      SyncConfig      `yaml:"sync"`
	Paths     PathsConfig     `yaml:"paths"`
	Notes     NotesConfig     `yaml:"notes"`
	Tags      TagsConfig      `yaml:"tags"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// FreshdeskConfig contains helpdesk API settings.
type FreshdeskConfig struct {
	Domain string `yaml:"domain"`
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// BaseURL returns the API root for the configured domain.
func (f FreshdeskConfig) BaseURL() string {
	d := strings.TrimSuffix(strings.TrimSpace(f.Domain), "/")
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return d
	}
	if !strings.Contains(d, ".") {
		d += ".freshdesk.com"
	}
	return "https://" + d
}

// ClarityConfig contains PPM REST API settings.
type ClarityConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"-"` // env-only, never in YAML
}

// HTTPConfig controls timeouts and retry behavior shared by both gateways.
type HTTPConfig struct {
	Timeout     Duration `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	BaseWait    Duration `yaml:"base_wait"`
	MaxWait     Duration `yaml:"max_wait"`
}

// SyncConfig contains state synchronization options.
type SyncConfig struct {
	Strict      bool `yaml:"strict"`
	FoldCase    bool `yaml:"fold_case"`
	DetailLimit int  `yaml:"detail_limit"`
}

// PathsConfig contains on-disk locations.
type PathsConfig struct {
	TransactionsDir string `yaml:"transactions_dir"`
	JournalDB       string `yaml:"journal_db"`
	ExportDir       string `yaml:"export_dir"`
}

// NotesConfig contains stale-ticket reminder settings.
type NotesConfig struct {
	MinInactiveDays int      `yaml:"min_inactive_days"`
	AgentsFile      string   `yaml:"agents_file"`
	NotifyEmails    []string `yaml:"notify_emails"`
}

// TagsConfig contains tag regeneration settings.
type TagsConfig struct {
	Pause          Duration `yaml:"pause"`
	ExcludedGroups []string `yaml:"excluded_groups"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ServerConfig contains settings for the read-only transactions API.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	APIKey          string   `yaml:"-"` // env-only, never in YAML
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	// SweepInterval is how often STARTED transactions are checked for
	// abandonment. Zero disables the sweeper.
	SweepInterval   Duration `yaml:"sweep_interval"`
	// StaleAfter is the inactivity after which a STARTED transaction is
	// closed as FAILED.
	StaleAfter      Duration `yaml:"stale_after"`
}

// ArchiveConfig contains S3-compatible storage settings for journal and
// export archives. An empty bucket keeps archives local-only.
type ArchiveConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	Prefix    string   `yaml:"prefix"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	URLExpiry Duration `yaml:"url_expiry"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// A .env file in the working directory is loaded into the environment first.
// An empty path falls back to SYNCDESK_CONFIG_PATH, then DefaultConfigPath.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := newDefaults()

	if path == "" {
		path = getEnv("SYNCDESK_CONFIG_PATH", DefaultConfigPath)
	}

	// Missing file is not an error
	if err := loadYAMLFile(cfg, path); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path that must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:     Duration(30 * time.Second),
			MaxAttempts: 3,
			BaseWait:    Duration(2 * time.Second),
			MaxWait:     Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			DetailLimit: 20,
		},
		Paths: PathsConfig{
			TransactionsDir: "data/transactions",
			JournalDB:       "data/journal.db",
			ExportDir:       "data/exports",
		},
		Notes: NotesConfig{
			MinInactiveDays: 10,
		},
		Tags: TagsConfig{
			Pause:          Duration(1 * time.Second),
			ExcludedGroups: []string{"TRIAGE CHILE", "SOPORTE N0"},
		},
		Log: LogConfig{
			Level: "info",
			File:  "data/logs/syncdesk.log",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			SweepInterval:   Duration(1 * time.Hour),
			StaleAfter:      Duration(24 * time.Hour),
		},
		Archive: ArchiveConfig{
			Prefix:    "syncdesk",
			URLExpiry: Duration(15 * time.Minute),
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Freshdesk
	if v := os.Getenv("SYNCDESK_FRESHDESK_DOMAIN"); v != "" {
		cfg.Freshdesk.Domain = v
	}
	if v := os.Getenv("SYNCDESK_FRESHDESK_API_KEY"); v != "" {
		cfg.Freshdesk.APIKey = v
	}

	// Clarity
	if v := os.Getenv("SYNCDESK_CLARITY_URL"); v != "" {
		cfg.Clarity.BaseURL = v
	}
	if v := os.Getenv("SYNCDESK_CLARITY_USER"); v != "" {
		cfg.Clarity.Username = v
	}
	if v := os.Getenv("SYNCDESK_CLARITY_PASSWORD"); v != "" {
		cfg.Clarity.Password = v
	}

	// HTTP
	if v := os.Getenv("SYNCDESK_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("SYNCDESK_HTTP_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.MaxAttempts = n
		}
	}
	if v := os.Getenv("SYNCDESK_HTTP_BASE_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.BaseWait = Duration(d)
		}
	}

	// Sync
	if v := os.Getenv("SYNCDESK_STRICT"); v != "" {
		cfg.Sync.Strict = v == "true" || v == "1"
	}
	if v := os.Getenv("SYNCDESK_FOLD_CASE"); v != "" {
		cfg.Sync.FoldCase = v == "true" || v == "1"
	}

	// Paths
	if v := os.Getenv("SYNCDESK_TRANSACTIONS_DIR"); v != "" {
		cfg.Paths.TransactionsDir = v
	}
	if v := os.Getenv("SYNCDESK_JOURNAL_DB"); v != "" {
		cfg.Paths.JournalDB = v
	}
	if v := os.Getenv("SYNCDESK_EXPORT_DIR"); v != "" {
		cfg.Paths.ExportDir = v
	}

	// Log
	if v := os.Getenv("SYNCDESK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SYNCDESK_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	// Server
	if v := os.Getenv("SYNCDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SYNCDESK_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}

	// Archive
	if v := os.Getenv("SYNCDESK_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("SYNCDESK_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("SYNCDESK_ARCHIVE_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("SYNCDESK_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("SYNCDESK_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
}

// validate checks ranges and formats. Credentials are checked per command.
func (c *Config) validate() error {
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.HTTP.MaxAttempts < 1 {
		return errors.New("http.max_attempts must be at least 1")
	}
	if c.HTTP.BaseWait < 0 || c.HTTP.MaxWait < 0 {
		return errors.New("http wait durations must not be negative")
	}
	if c.Sync.DetailLimit < 0 {
		return errors.New("sync.detail_limit must not be negative")
	}
	if c.Notes.MinInactiveDays < 0 {
		return errors.New("notes.min_inactive_days must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.SweepInterval < 0 {
		return errors.New("server.sweep_interval must not be negative")
	}
	if c.Server.SweepInterval > 0 && c.Server.StaleAfter <= 0 {
		return errors.New("server.stale_after must be positive when the sweeper is enabled")
	}
	if c.Archive.Bucket != "" && c.Archive.Endpoint == "" {
		return errors.New("archive.endpoint is required when archive.bucket is set")
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// RequireFreshdesk reports whether helpdesk credentials are present.
func (c *Config) RequireFreshdesk() error {
	if c.Freshdesk.Domain == "" {
		return errors.New("SYNCDESK_FRESHDESK_DOMAIN (freshdesk.domain) is required")
	}
	if c.Freshdesk.APIKey == "" {
		return errors.New("SYNCDESK_FRESHDESK_API_KEY is required")
	}
	return nil
}

// RequireClarity reports whether PPM connection settings are present.
// The password is not checked here; the CLI may prompt for it.
func (c *Config) RequireClarity() error {
	if c.Clarity.BaseURL == "" {
		return errors.New("SYNCDESK_CLARITY_URL (clarity.base_url) is required")
	}
	if c.Clarity.Username == "" {
		return errors.New("SYNCDESK_CLARITY_USER (clarity.username) is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
