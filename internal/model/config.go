package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// WindowConfig bounds an ingestion fetch window in whole days around now.
type WindowConfig struct {
	PastDays   int `mapstructure:"past_days" yaml:"past_days"`
	FutureDays int `mapstructure:"future_days" yaml:"future_days"`
}

// RateLimitConfig is a per-provider token bucket: RPS refill and burst
// capacity.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// WorkingWindowConfig is the earliest/latest allowed plan time of day,
// in "HH:MM" form, interpreted in the user's configured zone.
type WorkingWindowConfig struct {
	Start string `mapstructure:"start" yaml:"start"`
	End   string `mapstructure:"end" yaml:"end"`
}

// LLMConfig holds settings for the chat model integration.
type LLMConfig struct {
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SMTPConfig holds the nudge email transport settings.
type SMTPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	From string `mapstructure:"from" yaml:"from"`
}

// OAuthConfig holds the token-refresh endpoint and client credentials
// shared by the OAuth-backed providers.
type OAuthConfig struct {
	TokenURL     string `mapstructure:"token_url" yaml:"token_url"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
}

// ProvidersConfig points the source adapters at their endpoints. The
// IMAP username is deployment-level because this service fronts one
// operator's accounts; per-user tokens still come from the credential
// store.
type ProvidersConfig struct {
	CalendarBaseURL    string `mapstructure:"calendar_base_url" yaml:"calendar_base_url"`
	CalendarID         string `mapstructure:"calendar_id" yaml:"calendar_id"`
	MailHost           string `mapstructure:"mail_host" yaml:"mail_host"`
	MailPort           string `mapstructure:"mail_port" yaml:"mail_port"`
	MailUsername       string `mapstructure:"mail_username" yaml:"mail_username"`
	MailTLS            bool   `mapstructure:"mail_tls" yaml:"mail_tls"`
	TaskManagerBaseURL string `mapstructure:"task_manager_base_url" yaml:"task_manager_base_url"`

	OAuth OAuthConfig `mapstructure:"oauth" yaml:"oauth"`
}

// VectorConfig points at the vector store the encoding stage writes to.
type VectorConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// AppConfig is the top-level service configuration.
type AppConfig struct {
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	TickInterval   time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	NudgeLookahead time.Duration `mapstructure:"nudge_lookahead" yaml:"nudge_lookahead"`
	NudgeGrace     time.Duration `mapstructure:"nudge_grace" yaml:"nudge_grace"`

	// PlanGenerationTime is the local "HH:MM" at which plans for all
	// users are regenerated.
	PlanGenerationTime string `mapstructure:"plan_generation_time" yaml:"plan_generation_time"`

	IngestWindowCalendar WindowConfig `mapstructure:"ingest_window_calendar" yaml:"ingest_window_calendar"`
	IngestWindowMail     WindowConfig `mapstructure:"ingest_window_mail" yaml:"ingest_window_mail"`

	LLMRetryBudget int `mapstructure:"llm_retry_budget" yaml:"llm_retry_budget"`

	ProviderRateLimits map[string]RateLimitConfig `mapstructure:"provider_rate_limits" yaml:"provider_rate_limits"`

	EmailEnabled bool `mapstructure:"email_enabled" yaml:"email_enabled"`

	SpamLLMThreshold float64 `mapstructure:"spam_llm_threshold" yaml:"spam_llm_threshold"`

	WorkingWindow WorkingWindowConfig `mapstructure:"working_window" yaml:"working_window"`

	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	SMTP      SMTPConfig      `mapstructure:"smtp" yaml:"smtp"`
	Vector    VectorConfig    `mapstructure:"vector" yaml:"vector"`
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
}

// knownConfigKeys are the accepted top-level keys. Anything else in the
// file is rejected at load so typos surface immediately.
var knownConfigKeys = map[string]bool{
	"database_path":          true,
	"tick_interval":          true,
	"nudge_lookahead":        true,
	"nudge_grace":            true,
	"plan_generation_time":   true,
	"ingest_window_calendar": true,
	"ingest_window_mail":     true,
	"llm_retry_budget":       true,
	"provider_rate_limits":   true,
	"email_enabled":          true,
	"spam_llm_threshold":     true,
	"working_window":         true,
	"llm":                    true,
	"smtp":                   true,
	"vector":                 true,
	"providers":              true,
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/lifeflow/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "lifeflow", "config.yaml")
}

func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DatabasePath:         "lifeflow.db",
		TickInterval:         2 * time.Minute,
		NudgeLookahead:       5 * time.Minute,
		NudgeGrace:           time.Minute,
		PlanGenerationTime:   "06:00",
		IngestWindowCalendar: WindowConfig{PastDays: 30, FutureDays: 90},
		IngestWindowMail:     WindowConfig{PastDays: 7},
		LLMRetryBudget:       2,
		ProviderRateLimits: map[string]RateLimitConfig{
			"calendar":     {RPS: 5, Burst: 10},
			"mail":         {RPS: 2, Burst: 5},
			"task_manager": {RPS: 3, Burst: 6},
		},
		EmailEnabled:     false,
		SpamLLMThreshold: 0.7,
		WorkingWindow:    WorkingWindowConfig{Start: "08:00", End: "20:00"},
		LLM:              LLMConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 4096},
		SMTP:             SMTPConfig{Host: "localhost", Port: 25, From: "nudges@lifeflow.local"},
		Vector:           VectorConfig{BaseURL: "http://localhost:8000", Collection: "task_context_embeddings"},
		Providers: ProvidersConfig{
			CalendarBaseURL:    "https://www.googleapis.com/calendar/v3",
			CalendarID:         "primary",
			MailHost:           "imap.gmail.com",
			MailPort:           "993",
			MailTLS:            true,
			TaskManagerBaseURL: "https://api.todoist.com/rest/v2",
			OAuth:              OAuthConfig{TokenURL: "https://oauth2.googleapis.com/token"},
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file yields the defaults; an unknown top-level key is an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("database_path", "lifeflow.db")
	v.SetDefault("tick_interval", "2m")
	v.SetDefault("nudge_lookahead", "5m")
	v.SetDefault("nudge_grace", "1m")
	v.SetDefault("plan_generation_time", "06:00")
	v.SetDefault("llm_retry_budget", 2)
	v.SetDefault("email_enabled", false)
	v.SetDefault("spam_llm_threshold", 0.7)
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.max_tokens", 4096)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	for _, key := range v.AllKeys() {
		top := key
		for i := 0; i < len(key); i++ {
			if key[i] == '.' {
				top = key[:i]
				break
			}
		}
		if !knownConfigKeys[top] {
			return nil, fmt.Errorf("unknown config option %q in %s", top, path)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.NudgeLookahead <= 0 || c.NudgeGrace < 0 {
		return fmt.Errorf("nudge window must be positive (lookahead=%s grace=%s)",
			c.NudgeLookahead, c.NudgeGrace)
	}
	if c.SpamLLMThreshold < 0 || c.SpamLLMThreshold > 1 {
		return fmt.Errorf("spam_llm_threshold must be in [0,1], got %g", c.SpamLLMThreshold)
	}
	if c.LLMRetryBudget < 0 {
		return fmt.Errorf("llm_retry_budget must be non-negative, got %d", c.LLMRetryBudget)
	}
	for name, rl := range c.ProviderRateLimits {
		if rl.RPS <= 0 || rl.Burst <= 0 {
			return fmt.Errorf("provider_rate_limits.%s: rps and burst must be positive", name)
		}
	}
	if _, err := ParseClockTime(c.PlanGenerationTime); err != nil {
		return fmt.Errorf("plan_generation_time: %w", err)
	}
	if _, err := ParseClockTime(c.WorkingWindow.Start); err != nil {
		return fmt.Errorf("working_window.start: %w", err)
	}
	if _, err := ParseClockTime(c.WorkingWindow.End); err != nil {
		return fmt.Errorf("working_window.end: %w", err)
	}
	return nil
}

// ClockTime is an "HH:MM" time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// Minutes returns the time of day as minutes since midnight.
func (ct ClockTime) Minutes() int { return ct.Hour*60 + ct.Minute }

// ParseClockTime parses an "HH:MM" string.
func ParseClockTime(s string) (ClockTime, error) {
	var ct ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d", &ct.Hour, &ct.Minute); err != nil {
		return ct, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
		return ct, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return ct, nil
}
