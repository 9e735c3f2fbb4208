// Package config loads creditflow runtime configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const maxConfigFileSize = 1024 * 1024

// Config is the complete runtime configuration. It is loaded once at startup
// and passed to constructors; nothing else reads the environment.
type Config struct {
	HTTP       HTTPConfig       `koanf:"http"`
	Database   DatabaseConfig   `koanf:"database"`
	Auth       AuthConfig       `koanf:"auth"`
	Disputes   DisputeConfig    `koanf:"disputes"`
	Automation AutomationConfig `koanf:"automation"`
	Storage    StorageConfig    `koanf:"storage"`
	Mail       MailConfig       `koanf:"mail"`
	Log        LogConfig        `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
	InviteTTL time.Duration `koanf:"invite_ttl"`
}

type DisputeConfig struct {
	DueDays int `koanf:"due_days"`
}

// AutomationConfig drives the scheduler. ReminderDays is the raw
// comma-separated list; ReminderOffsets holds the parsed positive values.
type AutomationConfig struct {
	Schedule             string        `koanf:"schedule"`
	EnableReminders      bool          `koanf:"enable_reminders"`
	ReminderDays         string        `koanf:"reminder_days"`
	ReminderOffsets      []int         `koanf:"-"`
	AutoCreateNextRounds bool          `koanf:"auto_create_next_rounds"`
	PassTimeout          time.Duration `koanf:"pass_timeout"`
	JobBatch             int           `koanf:"job_batch"`
}

type StorageConfig struct {
	Mode            string        `koanf:"mode"`
	LocalDir        string        `koanf:"local_dir"`
	LocalPublicBase string        `koanf:"local_public_base"`
	S3Bucket        string        `koanf:"s3_bucket"`
	S3Region        string        `koanf:"s3_region"`
	S3Endpoint      string        `koanf:"s3_endpoint"`
	SignedURLTTL    time.Duration `koanf:"signed_url_ttl"`
}

type MailConfig struct {
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPSecure   bool   `koanf:"smtp_secure"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPass     string `koanf:"smtp_pass"`
	From         string `koanf:"from"`
	BrandName    string `koanf:"brand_name"`
	SupportEmail string `koanf:"support_email"`
	PortalURL    string `koanf:"portal_url"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// envKeys maps the deployment environment variables onto config keys.
// Variables not listed here are ignored.
var envKeys = map[string]string{
	"HTTP_ADDR":               "http.addr",
	"DATABASE_URL":            "database.url",
	"DATABASE_MAX_CONNS":      "database.max_conns",
	"JWT_SECRET":              "auth.jwt_secret",
	"DISPUTE_DUE_DAYS":        "disputes.due_days",
	"AUTOMATION_SCHEDULE":     "automation.schedule",
	"ENABLE_REMINDERS":        "automation.enable_reminders",
	"REMINDER_DAYS":           "automation.reminder_days",
	"AUTO_CREATE_NEXT_ROUNDS": "automation.auto_create_next_rounds",
	"AUTOMATION_PASS_TIMEOUT": "automation.pass_timeout",
	"STORAGE_MODE":            "storage.mode",
	"LOCAL_STORAGE_DIR":       "storage.local_dir",
	"LOCAL_PUBLIC_BASE":       "storage.local_public_base",
	"S3_BUCKET":               "storage.s3_bucket",
	"S3_REGION":               "storage.s3_region",
	"S3_ENDPOINT":             "storage.s3_endpoint",
	"SMTP_HOST":               "mail.smtp_host",
	"SMTP_PORT":               "mail.smtp_port",
	"SMTP_SECURE":             "mail.smtp_secure",
	"SMTP_USER":               "mail.smtp_user",
	"SMTP_PASS":               "mail.smtp_pass",
	"MAIL_FROM":               "mail.from",
	"BRAND_NAME":              "mail.brand_name",
	"SUPPORT_EMAIL":           "mail.support_email",
	"CLIENT_PORTAL_URL":       "mail.portal_url",
	"LOG_LEVEL":               "log.level",
	"LOG_FORMAT":              "log.format",
}

// Load reads the embedded defaults, then the optional YAML file at path,
// then the environment.
//
// Precedence (highest first):
//  1. Environment variables (DATABASE_URL, DISPUTE_DUE_DAYS, ...)
//  2. YAML config file, when path is non-empty
//  3. Embedded defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config: file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return content, nil
}

func applyDefaults(cfg *Config) {
	cfg.Storage.Mode = strings.ToLower(strings.TrimSpace(cfg.Storage.Mode))
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = "local"
	}
	if cfg.Storage.SignedURLTTL <= 0 {
		cfg.Storage.SignedURLTTL = 10 * time.Minute
	}
	if cfg.Automation.PassTimeout <= 0 {
		cfg.Automation.PassTimeout = 10 * time.Minute
	}
	if cfg.Automation.JobBatch <= 0 {
		cfg.Automation.JobBatch = 10
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Auth.InviteTTL <= 0 {
		cfg.Auth.InviteTTL = 24 * time.Hour
	}
	if cfg.Mail.BrandName == "" {
		cfg.Mail.BrandName = "Clear Start Credit"
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = cfg.Mail.BrandName + " <no-reply@localhost>"
	}
	cfg.Automation.ReminderOffsets = ParseReminderDays(cfg.Automation.ReminderDays)
}

// ParseReminderDays parses a comma-separated list of day offsets, keeping
// only positive integers in their given order.
func ParseReminderDays(raw string) []int {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Validate checks the loaded configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Disputes.DueDays <= 0 {
		errs = append(errs, fmt.Errorf("disputes.due_days must be positive, got %d", c.Disputes.DueDays))
	}
	switch c.Storage.Mode {
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required in local mode"))
		}
	case "s3":
		if c.Storage.S3Bucket == "" || c.Storage.S3Region == "" {
			errs = append(errs, errors.New("storage.s3_bucket and storage.s3_region are required in s3 mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.mode must be local or s3, got %q", c.Storage.Mode))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Mail.SMTPHost != "" && c.Mail.SMTPPort <= 0 {
		errs = append(errs, fmt.Errorf("mail.smtp_port must be positive, got %d", c.Mail.SMTPPort))
	}
	return errors.Join(errs...)
}

// RequireServe reports the settings that only the HTTP server and scheduler need.
func (c *Config) RequireServe() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	return errors.Join(errs...)
}
