// Package config loads and validates the collector configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tallyhq/gitlab-tally/internal/identity"
	"gopkg.in/yaml.v3"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// UTC offsets currently in use worldwide span -12:00 to +14:00.
const (
	minUTCOffsetMinutes = -12 * 60
	maxUTCOffsetMinutes = 14 * 60
)

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig
	GitLab      GitLabConfig
	Repos       []string
	Window      WindowConfig
	Sheet       SheetConfig
	Members     map[string]identity.MemberProfile
	RosterCache RosterCacheConfig
	Retry       RetryConfig
	RateLimit   RateLimitConfig
	Telemetry   TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// GitLabConfig configures GitLab API interactions. Token wins over
// TokenFile when both are set.
type GitLabConfig struct {
	Domain         string
	APIBaseURL     string
	Token          string
	TokenFile      string
	PageSize       int
	RequestTimeout time.Duration
}

// WindowConfig defines the collection window in local calendar days.
type WindowConfig struct {
	Days             int `yaml:"days"`
	UTCOffsetMinutes int `yaml:"utc_offset_minutes"`
}

// SheetConfig configures the report-sheet webhook sink. RosterSheetName is
// where the official name roster lives; it defaults to SheetName.
type SheetConfig struct {
	WebhookURL      string           `yaml:"webhook_url"`
	SpreadsheetID   string           `yaml:"spreadsheet_id"`
	SheetName       string           `yaml:"sheet_name"`
	RosterSheetName string           `yaml:"roster_sheet_name"`
	HeaderRow       int              `yaml:"header_row"`
	NameCol         int              `yaml:"name_col"`
	HeaderSpec      HeaderSpecConfig `yaml:"header_spec"`
}

// HeaderSpecConfig locates the dated header grid inside the report sheet.
type HeaderSpecConfig struct {
	MonthRow     int `yaml:"month_row"`
	DayRow       int `yaml:"day_row"`
	WeekdayRow   int `yaml:"weekday_row"`
	StartDateCol int `yaml:"start_date_col"`
}

// RosterCacheConfig configures the between-run roster cache.
type RosterCacheConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Namespace     string
	TTL           time.Duration
}

// RetryConfig configures retries.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RateLimitConfig configures rate-limit controls.
type RateLimitConfig struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	ThrottleBackoff       time.Duration
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool
	OTELTraceMode        string
	OTELTraceSampleRatio float64
}

// Load reads configuration from YAML and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if c.GitLab.Token == "" && c.GitLab.TokenFile == "" {
		errs = append(errs, "gitlab.token or gitlab.token_file is required")
	}
	if c.GitLab.Domain == "" && c.GitLab.APIBaseURL == "" {
		errs = append(errs, "gitlab.domain or gitlab.api_base_url is required")
	}
	if c.GitLab.PageSize < 1 || c.GitLab.PageSize > 100 {
		errs = append(errs, "gitlab.page_size must be within 1..100")
	}

	if len(c.Repos) == 0 {
		errs = append(errs, "repos must contain at least one repository path")
	}
	seenRepos := make(map[string]struct{}, len(c.Repos))
	for i, repo := range c.Repos {
		trimmed := strings.Trim(strings.TrimSpace(repo), "/")
		if trimmed == "" {
			errs = append(errs, fmt.Sprintf("repos[%d] must not be empty", i))
			continue
		}
		if !strings.Contains(trimmed, "/") {
			errs = append(errs, fmt.Sprintf("repos[%d] must be a namespaced path like group/project", i))
		}
		if _, ok := seenRepos[trimmed]; ok {
			errs = append(errs, "repos contains duplicate path: "+trimmed)
		}
		seenRepos[trimmed] = struct{}{}
	}

	if c.Window.Days < 1 {
		errs = append(errs, "window.days must be >= 1")
	}
	if c.Window.UTCOffsetMinutes < minUTCOffsetMinutes || c.Window.UTCOffsetMinutes > maxUTCOffsetMinutes {
		errs = append(errs, "window.utc_offset_minutes must be within -720..840")
	}

	if c.Sheet.WebhookURL == "" {
		errs = append(errs, "sheet.webhook_url is required")
	}
	if c.Sheet.SpreadsheetID == "" {
		errs = append(errs, "sheet.spreadsheet_id is required")
	}
	if c.Sheet.SheetName == "" {
		errs = append(errs, "sheet.sheet_name is required")
	}

	if c.RosterCache.Backend != "memory" && c.RosterCache.Backend != "redis" {
		errs = append(errs, "roster_cache.backend must be memory or redis")
	}
	if c.RosterCache.Backend == "redis" && c.RosterCache.RedisAddr == "" {
		errs = append(errs, "roster_cache.redis_addr is required when roster_cache.backend=redis")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.GitLab.PageSize == 0 {
		cfg.GitLab.PageSize = 100
	}
	if cfg.GitLab.RequestTimeout <= 0 {
		cfg.GitLab.RequestTimeout = 30 * time.Second
	}
	if cfg.Window.Days == 0 {
		cfg.Window.Days = 7
	}
	if cfg.Sheet.RosterSheetName == "" {
		cfg.Sheet.RosterSheetName = cfg.Sheet.SheetName
	}
	if cfg.Sheet.HeaderRow == 0 {
		cfg.Sheet.HeaderRow = 2
	}
	if cfg.Sheet.NameCol == 0 {
		cfg.Sheet.NameCol = 1
	}
	if cfg.Sheet.HeaderSpec.MonthRow == 0 {
		cfg.Sheet.HeaderSpec.MonthRow = 1
	}
	if cfg.Sheet.HeaderSpec.DayRow == 0 {
		cfg.Sheet.HeaderSpec.DayRow = 2
	}
	if cfg.Sheet.HeaderSpec.WeekdayRow == 0 {
		cfg.Sheet.HeaderSpec.WeekdayRow = 3
	}
	if cfg.Sheet.HeaderSpec.StartDateCol == 0 {
		cfg.Sheet.HeaderSpec.StartDateCol = 2
	}
	if cfg.RosterCache.Backend == "" {
		cfg.RosterCache.Backend = "memory"
	}
	if cfg.RosterCache.Namespace == "" {
		cfg.RosterCache.Namespace = "gitlab-tally"
	}
	if cfg.RosterCache.TTL <= 0 {
		cfg.RosterCache.TTL = 12 * time.Hour
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = 10 * time.Second
	}
	if cfg.RateLimit.MinRemainingThreshold == 0 {
		cfg.RateLimit.MinRemainingThreshold = 20
	}
	if cfg.RateLimit.MinResetBuffer <= 0 {
		cfg.RateLimit.MinResetBuffer = time.Second
	}
	if cfg.RateLimit.ThrottleBackoff <= 0 {
		cfg.RateLimit.ThrottleBackoff = 30 * time.Second
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server      ServerConfig                      `yaml:"server"`
	GitLab      rawGitLab                         `yaml:"gitlab"`
	Repos       []string                          `yaml:"repos"`
	Window      WindowConfig                      `yaml:"window"`
	Sheet       SheetConfig                       `yaml:"sheet"`
	Members     map[string]identity.MemberProfile `yaml:"members"`
	RosterCache rawRosterCache                    `yaml:"roster_cache"`
	Retry       rawRetry                          `yaml:"retry"`
	RateLimit   rawRateLimit                      `yaml:"rate_limit"`
	Telemetry   rawTelemetry                      `yaml:"telemetry"`
}

type rawGitLab struct {
	Domain         string   `yaml:"domain"`
	APIBaseURL     string   `yaml:"api_base_url"`
	Token          string   `yaml:"token"`
	TokenFile      string   `yaml:"token_file"`
	PageSize       int      `yaml:"page_size"`
	RequestTimeout duration `yaml:"request_timeout"`
}

type rawRosterCache struct {
	Backend       string   `yaml:"backend"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	Namespace     string   `yaml:"namespace"`
	TTL           duration `yaml:"ttl"`
}

type rawRetry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff duration `yaml:"initial_backoff"`
	MaxBackoff     duration `yaml:"max_backoff"`
}

type rawRateLimit struct {
	MinRemainingThreshold int      `yaml:"min_remaining_threshold"`
	MinResetBuffer        duration `yaml:"min_reset_buffer"`
	ThrottleBackoff       duration `yaml:"throttle_backoff"`
}

type rawTelemetry struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

func (r rawConfig) toConfig() *Config {
	cfg := &Config{
		Server: r.Server,
		GitLab: GitLabConfig{
			Domain:         r.GitLab.Domain,
			APIBaseURL:     r.GitLab.APIBaseURL,
			Token:          r.GitLab.Token,
			TokenFile:      r.GitLab.TokenFile,
			PageSize:       r.GitLab.PageSize,
			RequestTimeout: r.GitLab.RequestTimeout.Duration,
		},
		Repos:   r.Repos,
		Window:  r.Window,
		Sheet:   r.Sheet,
		Members: r.Members,
		RosterCache: RosterCacheConfig{
			Backend:       r.RosterCache.Backend,
			RedisAddr:     r.RosterCache.RedisAddr,
			RedisPassword: r.RosterCache.RedisPassword,
			RedisDB:       r.RosterCache.RedisDB,
			Namespace:     r.RosterCache.Namespace,
			TTL:           r.RosterCache.TTL.Duration,
		},
		Retry: RetryConfig{
			MaxAttempts:    r.Retry.MaxAttempts,
			InitialBackoff: r.Retry.InitialBackoff.Duration,
			MaxBackoff:     r.Retry.MaxBackoff.Duration,
		},
		RateLimit: RateLimitConfig{
			MinRemainingThreshold: r.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        r.RateLimit.MinResetBuffer.Duration,
			ThrottleBackoff:       r.RateLimit.ThrottleBackoff.Duration,
		},
		Telemetry: TelemetryConfig{
			OTELEnabled:          r.Telemetry.OTELEnabled,
			OTELTraceMode:        r.Telemetry.OTELTraceMode,
			OTELTraceSampleRatio: r.Telemetry.OTELTraceSampleRatio,
		},
	}

	return cfg
}
