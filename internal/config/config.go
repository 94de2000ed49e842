package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gcalsync/internal/model"
)

// Writer selects how feed events reach the server.
const (
	WriterAppointment = "appointment"
	WriterFreeBusy    = "freebusy"
)

// ExchangeConfig holds the WebDAV server settings.
type ExchangeConfig struct {
	// ServerURL hosts the users' mailboxes, e.g. "https://mail.example.com".
	ServerURL string `yaml:"server_url" json:"server_url"`
	// FreeBusyServerURL hosts the public free/busy folders. Defaults to
	// ServerURL.
	FreeBusyServerURL string `yaml:"freebusy_server_url,omitempty" json:"freebusy_server_url,omitempty"`
	// FreeBusyTemplateURL is copied over each user's free/busy message
	// before publishing. A path is relative to FreeBusyServerURL.
	FreeBusyTemplateURL string `yaml:"freebusy_template_url,omitempty" json:"freebusy_template_url,omitempty"`

	Login    string `yaml:"login" json:"login"`
	Password string `yaml:"password" json:"-"`

	// RequestsPerSecond limits WebDAV traffic; 0 disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// RasterLookup reads free/busy through the OWA raster interface.
	RasterLookup          bool `yaml:"raster_lookup" json:"raster_lookup"`
	RasterIntervalMinutes int  `yaml:"raster_interval_minutes" json:"raster_interval_minutes"`
}

// UserConfig describes one synchronized mailbox.
type UserConfig struct {
	Email string `yaml:"email" json:"email"`
	// FeedURL is the private ICS address of the user's source calendar.
	FeedURL string `yaml:"feed_url" json:"-"`
	// LegacyDN is the legacyExchangeDN locating the free/busy message.
	LegacyDN           string `yaml:"legacy_dn,omitempty" json:"legacy_dn,omitempty"`
	FreeBusyCommonName string `yaml:"freebusy_common_name,omitempty" json:"freebusy_common_name,omitempty"`
	MailboxURL         string `yaml:"mailbox_url,omitempty" json:"mailbox_url,omitempty"`
	// ExternalEmail is the address used in the source calendar. Derived
	// from external_domains when empty.
	ExternalEmail string `yaml:"external_email,omitempty" json:"external_email,omitempty"`
	// Timezone is an IANA name used for all-day and floating events.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/30 * * * *")
	// for sync passes.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// SyncWindowDays N syncs the window [now-N days, now+N days].
	SyncWindowDays int `yaml:"sync_window_days" json:"sync_window_days"`

	// ThreadCount is the number of users synced in parallel.
	ThreadCount int `yaml:"thread_count" json:"thread_count"`

	// ErrorThreshold aborts a pass once more users than this have failed.
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// Writer is "appointment" or "freebusy".
	Writer string `yaml:"writer" json:"writer"`

	// PlaceholderSubject is the subject of appointments the sync creates.
	PlaceholderSubject string `yaml:"placeholder_subject" json:"placeholder_subject"`

	// EnableAppointmentLookup reads existing appointments so placeholders
	// are reconciled instead of duplicated.
	EnableAppointmentLookup bool `yaml:"enable_appointment_lookup" json:"enable_appointment_lookup"`

	// StateDir keeps the feed cache and per-user sync times.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	Exchange ExchangeConfig `yaml:"exchange" json:"exchange"`

	// ExternalDomains maps a mailbox domain to the domain the same users
	// have in the source calendar, e.g. "example.com": "example.org".
	ExternalDomains map[string]string `yaml:"external_domains,omitempty" json:"external_domains,omitempty"`

	Users []UserConfig `yaml:"users" json:"users"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen         = "127.0.0.1:8080"
	defaultLogLevel       = "info"
	defaultRefreshCron    = "*/30 * * * *"
	defaultSyncWindowDays = 30
	maxSyncWindowDays     = 30
	defaultThreadCount    = 1
	defaultErrorThreshold = 15
	defaultRasterInterval = 15
	defaultStateDir       = "./state"
	defaultSubject        = "Busy"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                  defaultListen,
		LogLevel:                defaultLogLevel,
		RefreshCron:             defaultRefreshCron,
		SyncWindowDays:          defaultSyncWindowDays,
		ThreadCount:             defaultThreadCount,
		ErrorThreshold:          defaultErrorThreshold,
		Writer:                  WriterAppointment,
		PlaceholderSubject:      defaultSubject,
		EnableAppointmentLookup: true,
		StateDir:                defaultStateDir,
		Exchange: ExchangeConfig{
			RasterIntervalMinutes: defaultRasterInterval,
		},
		Users: []UserConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	switch {
	case c.SyncWindowDays <= 0:
		c.SyncWindowDays = defaultSyncWindowDays
	case c.SyncWindowDays > maxSyncWindowDays:
		c.SyncWindowDays = maxSyncWindowDays
	}
	if c.ThreadCount < 1 {
		c.ThreadCount = defaultThreadCount
	}
	if c.ErrorThreshold < 0 {
		c.ErrorThreshold = defaultErrorThreshold
	}

	switch strings.ToLower(c.Writer) {
	case WriterAppointment, WriterFreeBusy:
		c.Writer = strings.ToLower(c.Writer)
	default:
		c.Writer = WriterAppointment
	}

	if c.PlaceholderSubject == "" {
		c.PlaceholderSubject = defaultSubject
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	if c.Exchange.RasterIntervalMinutes <= 0 {
		c.Exchange.RasterIntervalMinutes = defaultRasterInterval
	}
	if c.Users == nil {
		c.Users = []UserConfig{}
	}
}

// Validate reports configuration that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Exchange.ServerURL == "" {
		errs = append(errs, errors.New("exchange.server_url is required"))
	}
	seen := make(map[string]bool)
	for i, u := range c.Users {
		email := strings.ToLower(u.Email)
		switch {
		case email == "":
			errs = append(errs, fmt.Errorf("users[%d]: email is required", i))
		case seen[email]:
			errs = append(errs, fmt.Errorf("users[%d]: duplicate email %s", i, u.Email))
		}
		seen[email] = true
		if u.FeedURL == "" {
			errs = append(errs, fmt.Errorf("users[%d]: feed_url is required", i))
		}
		if c.Writer == WriterFreeBusy && u.LegacyDN == "" {
			errs = append(errs, fmt.Errorf("users[%d]: legacy_dn is required by the freebusy writer", i))
		}
		if u.Timezone != "" {
			if _, err := time.LoadLocation(u.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("users[%d]: %w", i, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SyncUsers converts the configured users for the sync engine.
func (c *Config) SyncUsers() ([]model.User, error) {
	out := make([]model.User, 0, len(c.Users))
	for _, u := range c.Users {
		loc := time.UTC
		if u.Timezone != "" {
			l, err := time.LoadLocation(u.Timezone)
			if err != nil {
				return nil, fmt.Errorf("config: user %s: %w", u.Email, err)
			}
			loc = l
		}
		out = append(out, model.User{
			Email:              u.Email,
			FeedURL:            u.FeedURL,
			LegacyExchangeDN:   u.LegacyDN,
			FreeBusyCommonName: u.FreeBusyCommonName,
			MailboxURL:         u.MailboxURL,
			ExternalEmail:      c.ExternalEmail(u),
			Location:           loc,
		})
	}
	return out, nil
}

// ExternalEmail returns the user's source-calendar address: the configured
// one, else the mailbox address with its domain mapped through
// ExternalDomains, else empty.
func (c *Config) ExternalEmail(u UserConfig) string {
	if u.ExternalEmail != "" {
		return u.ExternalEmail
	}
	local, domain, ok := strings.Cut(u.Email, "@")
	if !ok {
		return ""
	}
	for from, to := range c.ExternalDomains {
		if strings.EqualFold(from, domain) {
			return local + "@" + to
		}
	}
	return ""
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".gcalsync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
