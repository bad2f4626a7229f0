// Package config loads application configuration from file, environment and defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       App       `mapstructure:"app"`
	Database  Database  `mapstructure:"database"`
	AI        AI        `mapstructure:"ai"`
	Scoring   Scoring   `mapstructure:"scoring"`
	Credits   Credits   `mapstructure:"credits"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Server    Server    `mapstructure:"server"`
	Cache     Cache     `mapstructure:"cache"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Database holds PostgreSQL connection configuration
type Database struct {
	URL string `mapstructure:"url"`
}

// AI holds provider configuration for the LLM router
type AI struct {
	Gemini         GeminiConfig `mapstructure:"gemini"`
	OpenAI         OpenAIConfig `mapstructure:"openai"`
	TimeoutSeconds int          `mapstructure:"timeout_seconds"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey           string `mapstructure:"api_key"`
	SubscriptionAuth bool   `mapstructure:"subscription_auth"` // credential-based auth instead of a per-call API key
	TriageModel      string `mapstructure:"triage_model"`
	SummarizeModel   string `mapstructure:"summarize_model"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
	CallsPerHour     int    `mapstructure:"calls_per_hour"`
}

// OpenAIConfig holds configuration for OpenAI-compatible endpoints
type OpenAIConfig struct {
	APIKey           string `mapstructure:"api_key"`
	SubscriptionAuth bool   `mapstructure:"subscription_auth"`
	BaseURL          string `mapstructure:"base_url"`
	TriageModel      string `mapstructure:"triage_model"`
	TriageEffort     string `mapstructure:"triage_effort"`
	SummarizeModel   string `mapstructure:"summarize_model"`
	SummarizeEffort  string `mapstructure:"summarize_effort"`
	CallsPerHour     int    `mapstructure:"calls_per_hour"`
}

// Scoring holds the composite score weight vector and tunables
type Scoring struct {
	WeightAI               float64 `mapstructure:"weight_ai"`
	WeightHeuristic        float64 `mapstructure:"weight_heuristic"`
	WeightPref             float64 `mapstructure:"weight_pref"`
	WeightNovelty          float64 `mapstructure:"weight_novelty"`
	WeightSignal           float64 `mapstructure:"weight_signal"`
	RecencyHalfLifeHours   float64 `mapstructure:"recency_half_life_hours"`
	PrefConfidenceK        float64 `mapstructure:"pref_confidence_k"`    // feedback count at which preference confidence ≈ 63%
	PrefConfidenceGain     float64 `mapstructure:"pref_confidence_gain"` // slope of the user preference multiplier
	ProfileLearningRate    float64 `mapstructure:"profile_learning_rate"`
	NoveltyLookbackItems   int     `mapstructure:"novelty_lookback_items"`
	MaxCandidatesPerWindow int     `mapstructure:"max_candidates_per_window"`
}

// Credits holds spend limits in the internal credit unit
type Credits struct {
	MonthlyLimit float64  `mapstructure:"monthly_limit"`
	DailyLimit   *float64 `mapstructure:"daily_limit"` // nil disables the daily ceiling
}

// Scheduler holds windowing policy configuration
type Scheduler struct {
	TickSeconds int `mapstructure:"tick_seconds"`
	Workers     int `mapstructure:"workers"`
}

// Server holds the admin HTTP surface configuration
type Server struct {
	Addr string `mapstructure:"addr"`
}

// Cache holds the local triage cache configuration
type Cache struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from an optional config file, .env, environment
// variables prefixed SCOUT_, and code defaults, in ascending precedence of
// file < env.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigName(".scout")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("SCOUT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secrets fall back to conventional unprefixed env names.
	if cfg.AI.Gemini.APIKey == "" {
		cfg.AI.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.AI.OpenAI.APIKey == "" {
		cfg.AI.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.debug", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.data_dir", ".scout-data")

	v.SetDefault("ai.timeout_seconds", 45)
	v.SetDefault("ai.gemini.triage_model", "gemini-flash-lite-latest")
	v.SetDefault("ai.gemini.summarize_model", "gemini-flash-latest")
	v.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	v.SetDefault("ai.gemini.calls_per_hour", 600)
	v.SetDefault("ai.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.openai.triage_model", "gpt-4o-mini")
	v.SetDefault("ai.openai.triage_effort", "low")
	v.SetDefault("ai.openai.summarize_model", "gpt-4o")
	v.SetDefault("ai.openai.summarize_effort", "medium")
	v.SetDefault("ai.openai.calls_per_hour", 600)

	v.SetDefault("scoring.weight_ai", 0.45)
	v.SetDefault("scoring.weight_heuristic", 0.2)
	v.SetDefault("scoring.weight_pref", 0.2)
	v.SetDefault("scoring.weight_novelty", 0.15)
	v.SetDefault("scoring.weight_signal", 0.1)
	v.SetDefault("scoring.recency_half_life_hours", 12.0)
	v.SetDefault("scoring.pref_confidence_k", 12.0)
	v.SetDefault("scoring.pref_confidence_gain", 1.0)
	v.SetDefault("scoring.profile_learning_rate", 0.15)
	v.SetDefault("scoring.novelty_lookback_items", 50)
	v.SetDefault("scoring.max_candidates_per_window", 50)

	v.SetDefault("credits.monthly_limit", 1000.0)

	v.SetDefault("scheduler.tick_seconds", 300)
	v.SetDefault("scheduler.workers", 2)

	v.SetDefault("server.addr", ":8484")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "")
}

func validate(cfg *Config) error {
	if cfg.Credits.MonthlyLimit <= 0 {
		return fmt.Errorf("credits.monthly_limit must be positive, got %v", cfg.Credits.MonthlyLimit)
	}
	if cfg.Credits.DailyLimit != nil && *cfg.Credits.DailyLimit <= 0 {
		return fmt.Errorf("credits.daily_limit must be positive when set, got %v", *cfg.Credits.DailyLimit)
	}
	if cfg.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1, got %d", cfg.Scheduler.Workers)
	}
	return nil
}
