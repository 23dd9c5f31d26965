package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend identifiers accepted in the config file.
const (
	BackendGemini   = "gemini"
	BackendLMStudio = "lmstudio"
)

// Config holds all application configuration.
type Config struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
	AdminUserID   int64  `yaml:"admin_user_id"`
	AdminOnly     *bool  `yaml:"admin_only"`

	Backend         string `yaml:"backend"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	GeminiModel     string `yaml:"gemini_model"`
	LMStudioBaseURL string `yaml:"lmstudio_base_url"`
	LMStudioAPIKey  string `yaml:"lmstudio_api_key"`
	LMStudioModel   string `yaml:"lmstudio_model"`

	TargetLanguage  string `yaml:"target_language"`
	SummaryMaxChars int    `yaml:"summary_max_chars"`
	EnrichRetries   int    `yaml:"enrich_retries"`

	DefaultIntervalMins int `yaml:"default_interval_mins"`
	MaxArticlesPerPoll  int `yaml:"max_articles_per_poll"`
	MaxArticleAttempts  int `yaml:"max_article_attempts"`

	FetchTimeoutSecs   int `yaml:"fetch_timeout_secs"`
	EnrichTimeoutSecs  int `yaml:"enrich_timeout_secs"`
	PublishTimeoutSecs int `yaml:"publish_timeout_secs"`
	PublishPauseMs     int `yaml:"publish_pause_ms"`

	SeenRetentionDays    int    `yaml:"seen_retention_days"`
	SeenRetentionPerFeed int    `yaml:"seen_retention_per_feed"`
	CleanupTime          string `yaml:"cleanup_time"`
	Timezone             string `yaml:"timezone"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
}

// clockTimeRegex validates HH:MM format with proper ranges.
var clockTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// ParseClockTime parses a wall-clock time of day in HH:MM form. It is
// the single validator for cleanup_time and any other clock-valued
// setting.
func ParseClockTime(value string) (hour, minute int, err error) {
	matches := clockTimeRegex.FindStringSubmatch(value)
	if len(matches) != 3 {
		return 0, 0, fmt.Errorf("invalid time %q (expected HH:MM, 00:00-23:59)", value)
	}
	hour, _ = strconv.Atoi(matches[1])
	minute, _ = strconv.Atoi(matches[2])
	return hour, minute, nil
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("RSS_BOT_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

// AdminRestricted reports whether config-changing commands are gated
// to the admin user. Defaults to true when unset.
func (c *Config) AdminRestricted() bool {
	if c.AdminOnly == nil {
		return true
	}
	return *c.AdminOnly
}

func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendGemini
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.0-flash-lite"
	}
	if cfg.LMStudioBaseURL == "" {
		cfg.LMStudioBaseURL = "http://localhost:1234/v1"
	}
	if cfg.LMStudioAPIKey == "" {
		cfg.LMStudioAPIKey = "lm-studio"
	}
	if cfg.LMStudioModel == "" {
		cfg.LMStudioModel = "local-model"
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = "Japanese"
	}
	if cfg.SummaryMaxChars == 0 {
		cfg.SummaryMaxChars = 200
	}
	if cfg.EnrichRetries == 0 {
		cfg.EnrichRetries = 3
	}
	if cfg.DefaultIntervalMins == 0 {
		cfg.DefaultIntervalMins = 15
	}
	if cfg.MaxArticlesPerPoll == 0 {
		cfg.MaxArticlesPerPoll = 10
	}
	if cfg.MaxArticleAttempts == 0 {
		cfg.MaxArticleAttempts = 5
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 30
	}
	if cfg.EnrichTimeoutSecs == 0 {
		cfg.EnrichTimeoutSecs = 30
	}
	if cfg.PublishTimeoutSecs == 0 {
		cfg.PublishTimeoutSecs = 15
	}
	if cfg.PublishPauseMs == 0 {
		cfg.PublishPauseMs = 2000
	}
	if cfg.SeenRetentionDays == 0 {
		cfg.SeenRetentionDays = 30
	}
	if cfg.CleanupTime == "" {
		cfg.CleanupTime = "04:00"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./rss-bot.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.GeminiAPIKey = key
	}
	if url := os.Getenv("LMSTUDIO_API_URL"); url != "" {
		cfg.LMStudioBaseURL = url
	}
	if key := os.Getenv("LMSTUDIO_API_KEY"); key != "" {
		cfg.LMStudioAPIKey = key
	}
	if dbPath := os.Getenv("RSS_BOT_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if adminOnly := os.Getenv("ADMIN_ONLY"); adminOnly != "" {
		if v, err := strconv.ParseBool(adminOnly); err == nil {
			cfg.AdminOnly = &v
		}
	}
	if adminID := os.Getenv("ADMIN_USER_ID"); adminID != "" {
		if id, err := strconv.ParseInt(adminID, 10, 64); err == nil {
			cfg.AdminUserID = id
		}
	}
}

func validate(cfg *Config) error {
	if cfg.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required")
	}
	switch cfg.Backend {
	case BackendGemini:
		if cfg.GeminiAPIKey == "" {
			return fmt.Errorf("gemini_api_key is required when backend is %q", BackendGemini)
		}
	case BackendLMStudio:
		if cfg.LMStudioBaseURL == "" {
			return fmt.Errorf("lmstudio_base_url is required when backend is %q", BackendLMStudio)
		}
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendGemini, BackendLMStudio, cfg.Backend)
	}
	if cfg.DefaultIntervalMins < 1 {
		return fmt.Errorf("default_interval_mins must be positive, got %d", cfg.DefaultIntervalMins)
	}
	if cfg.SummaryMaxChars < 1 {
		return fmt.Errorf("summary_max_chars must be positive, got %d", cfg.SummaryMaxChars)
	}
	if _, _, err := ParseClockTime(cfg.CleanupTime); err != nil {
		return fmt.Errorf("cleanup_time: %w", err)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	return nil
}
