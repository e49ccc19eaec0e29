package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// Weights is the three-term linear blend the Scoring Engine computes the
// composite score from (spec §4.3): composite = base*Base + seo*SEO +
// personal*Personal.
type Weights struct {
	Base     float64
	SEO      float64
	Personal float64
}

// Validate enforces the weight-sum decision from Open Question 2: the three
// weights must sum to 1.0 within a 1e-2 tolerance, checked once at startup.
func (w Weights) Validate() error {
	sum := w.Base + w.SEO + w.Personal
	if math.Abs(sum-1.0) > 1e-2 {
		return &model.ConfigError{Message: fmt.Sprintf("scoring weights must sum to 1.0, got %.4f (base=%.2f seo=%.2f personal=%.2f)", sum, w.Base, w.SEO, w.Personal)}
	}
	return nil
}

// Config holds every knob named across SPEC_FULL.md, grouped by the
// component that reads it.
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Bolt      BoltConfig
	S3        S3Config
	LLM       LLMConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Matching  MatchingConfig
	Scoring   ScoringConfig
	Section   SectionConfig
	Perf      PerformanceConfig
	Sentry    SentryConfig
}

// SentryConfig configures error/alert reporting for the Observability Core.
type SentryConfig struct {
	DSN         string
	Environment string
}

// DatabaseConfig configures the Repository Gateway's PostgreSQL adapter.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig backs the Session cache tier (company popularity, §4.2).
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c *RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", c.Host, c.Port) }

// BoltConfig points at the durable checkpoint/lock store (C12), independent
// of the relational database so a scheduler can resume even if Postgres is
// briefly unreachable.
type BoltConfig struct {
	Path string
}

// S3Config is optional; when Bucket is empty, report-artifact upload is
// disabled and the batch still completes normally.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// LLMConfig gates the optional section/subject-copy enrichment (§4.6). When
// Enabled is false the Supplementer always takes its templated fallback.
type LLMConfig struct {
	Enabled   bool
	APIKey    string
	Model     string
	TimeoutMS int
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig configures the Scheduler (§4.9).
type SchedulerConfig struct {
	Timezone                  string
	MaxConcurrentJobs         int
	DefaultCoalesce           bool
	DefaultMaxInstances       int
	DefaultMisfireGrace       time.Duration
	MonitoringEnabled         bool
	RetryEnabled              bool
	MaxRetries                int
	RetryBackoffFactor        float64
	RetryMaxDelay             time.Duration
	HealthCheckInterval       time.Duration
	MetricsCollectionInterval time.Duration
	PersistenceEnabled        bool
	NotificationEnabled       bool
	ResourceMonitoringEnabled bool
	JobHistoryRetentionDays   int
	BackupConfigInterval      time.Duration
	ShutdownGraceSeconds      int
}

// ConcurrencyStrategy selects how the Matching Orchestrator dispatches
// per-user work (spec §5).
type ConcurrencyStrategy string

const (
	StrategySequential ConcurrencyStrategy = "SEQUENTIAL"
	StrategyParallel   ConcurrencyStrategy = "PARALLEL"
	StrategyAdaptive   ConcurrencyStrategy = "ADAPTIVE"
)

// MatchingConfig configures the Matching Orchestrator (§4.7).
type MatchingConfig struct {
	BatchSize                int
	MaxParallelWorkers       int
	QueueSizeLimit           int
	Strategy                 ConcurrencyStrategy
	UserFailureRateThreshold float64
}

// RuleConfig is one registered bonus or penalty rule: an expr-lang boolean
// predicate evaluated over a scored pair, and the delta it contributes to
// the composite score when the predicate holds. This is the data-driven
// table the Scoring Engine dispatches through instead of a fixed set of
// named conditionals, so a new rule ships as config, not code.
type RuleConfig struct {
	Name  string  `json:"name"`
	When  string  `json:"when"`
	Delta float64 `json:"delta"`
}

// ScoringConfig configures the Scoring Engine (§4.3).
type ScoringConfig struct {
	Weights         Weights
	MinDistanceKM   float64
	HighIncome      int
	DedupWindowDays int
	BonusRules      []RuleConfig
	PenaltyRules    []RuleConfig
}

// DefaultBonusRules reproduces the engine's built-in bonuses as rule-table
// entries, so an operator who never sets SCORING_BONUS_RULES_JSON still
// gets the stock behavior.
func DefaultBonusRules() []RuleConfig {
	return []RuleConfig{
		{Name: "perfect_match", When: "preferred_category && location_sub == 100", Delta: 15},
		{Name: "high_income", When: "hourly_equivalent >= high_income_threshold", Delta: 10},
		{Name: "daily_payment_preferred", When: "daily_payment && daily_payment_preference >= 0.7", Delta: 8},
		{Name: "student_friendly", When: "student_band && student_welcome", Delta: 5},
	}
}

// DefaultPenaltyRules reproduces the engine's built-in penalties as
// rule-table entries.
func DefaultPenaltyRules() []RuleConfig {
	return []RuleConfig{
		{Name: "recent_application", When: "recent_application", Delta: -20},
		{Name: "out_of_region", When: "out_of_region", Delta: -15},
	}
}

// SectionConfig configures the Section Selector (§4.5).
type SectionConfig struct {
	Total                int
	MinPerSection        int
	MaxPerSection        int
	MinCategoryDiversity int
	MaxJobsPerCategory   int
}

// PerformanceConfig carries the SLO targets from spec §4/§6.
type PerformanceConfig struct {
	TotalRuntime    time.Duration
	ImportBudget    time.Duration
	MatchingBudget  time.Duration
	EmailBudget     time.Duration
	PerUserBudgetMS int
}

// Load reads configuration from the environment and validates it. Any
// returned error is a *model.ConfigError and should be treated as fatal.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "shortlist"),
			Password:        getEnv("DB_PASSWORD", "shortlist"),
			DBName:          getEnv("DB_NAME", "shortlist"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Bolt: BoltConfig{
			Path: getEnv("BOLT_PATH", "./data/shortlist-batch.db"),
		},
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "ap-northeast-1"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		LLM: LLMConfig{
			Enabled:   getEnvAsBool("LLM_ENABLED", false),
			APIKey:    getEnv("LLM_API_KEY", ""),
			Model:     getEnv("LLM_MODEL", "claude-haiku-4-5"),
			TimeoutMS: getEnvAsInt("LLM_TIMEOUT_MS", 1500),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Sentry: SentryConfig{
			DSN:         getEnv("SENTRY_DSN", ""),
			Environment: getEnv("SENTRY_ENVIRONMENT", "production"),
		},
		Scheduler: SchedulerConfig{
			Timezone:                  getEnv("SCHEDULER_TIMEZONE", "Asia/Tokyo"),
			MaxConcurrentJobs:         getEnvAsInt("SCHEDULER_MAX_CONCURRENT_JOBS", 10),
			DefaultCoalesce:           getEnvAsBool("SCHEDULER_COALESCE", true),
			DefaultMaxInstances:       getEnvAsInt("SCHEDULER_MAX_INSTANCES", 1),
			DefaultMisfireGrace:       getEnvAsDuration("SCHEDULER_MISFIRE_GRACE", 5*time.Minute),
			MonitoringEnabled:         getEnvAsBool("SCHEDULER_MONITORING_ENABLED", true),
			RetryEnabled:              getEnvAsBool("SCHEDULER_RETRY_ENABLED", true),
			MaxRetries:                getEnvAsInt("SCHEDULER_MAX_RETRIES", 5),
			RetryBackoffFactor:        getEnvAsFloat("SCHEDULER_RETRY_BACKOFF_FACTOR", 2.0),
			RetryMaxDelay:             getEnvAsDuration("SCHEDULER_RETRY_MAX_DELAY", 3600*time.Second),
			HealthCheckInterval:       getEnvAsDuration("SCHEDULER_HEALTH_CHECK_INTERVAL", 30*time.Second),
			MetricsCollectionInterval: getEnvAsDuration("SCHEDULER_METRICS_INTERVAL", 15*time.Second),
			PersistenceEnabled:        getEnvAsBool("SCHEDULER_PERSISTENCE_ENABLED", true),
			NotificationEnabled:       getEnvAsBool("SCHEDULER_NOTIFICATION_ENABLED", true),
			ResourceMonitoringEnabled: getEnvAsBool("SCHEDULER_RESOURCE_MONITORING_ENABLED", true),
			JobHistoryRetentionDays:   getEnvAsInt("SCHEDULER_JOB_HISTORY_RETENTION_DAYS", 30),
			BackupConfigInterval:      getEnvAsDuration("SCHEDULER_BACKUP_CONFIG_INTERVAL", 1800*time.Second),
			ShutdownGraceSeconds:      getEnvAsInt("SCHEDULER_SHUTDOWN_GRACE_S", 30),
		},
		Matching: MatchingConfig{
			BatchSize:                getEnvAsInt("MATCHING_BATCH_SIZE", 100),
			MaxParallelWorkers:       getEnvAsInt("MATCHING_MAX_PARALLEL_WORKERS", 10),
			QueueSizeLimit:           getEnvAsInt("MATCHING_QUEUE_SIZE_LIMIT", 1000),
			Strategy:                 ConcurrencyStrategy(getEnv("MATCHING_STRATEGY", string(StrategyAdaptive))),
			UserFailureRateThreshold: getEnvAsFloat("MATCHING_USER_FAILURE_RATE_THRESHOLD", 0.10),
		},
		Scoring: ScoringConfig{
			Weights: Weights{
				Base:     getEnvAsFloat("SCORING_WEIGHT_BASE", 0.40),
				SEO:      getEnvAsFloat("SCORING_WEIGHT_SEO", 0.30),
				Personal: getEnvAsFloat("SCORING_WEIGHT_PERSONAL", 0.30),
			},
			MinDistanceKM:   getEnvAsFloat("SCORING_MIN_DISTANCE_KM", 50),
			HighIncome:      getEnvAsInt("SCORING_HIGH_INCOME", 1500),
			DedupWindowDays: clampInt(getEnvAsInt("SCORING_DEDUP_WINDOW_DAYS", 14), 1, 90),
			BonusRules:      getEnvAsRules("SCORING_BONUS_RULES_JSON", DefaultBonusRules()),
			PenaltyRules:    getEnvAsRules("SCORING_PENALTY_RULES_JSON", DefaultPenaltyRules()),
		},
		Section: SectionConfig{
			Total:                getEnvAsInt("SECTION_TOTAL", 40),
			MinPerSection:        getEnvAsInt("SECTION_MIN_PER_SECTION", 3),
			MaxPerSection:        getEnvAsInt("SECTION_MAX_PER_SECTION", 10),
			MinCategoryDiversity: getEnvAsInt("SECTION_MIN_CATEGORY_DIVERSITY", 3),
			MaxJobsPerCategory:   getEnvAsInt("SECTION_MAX_JOBS_PER_CATEGORY", 15),
		},
		Perf: PerformanceConfig{
			TotalRuntime:    getEnvAsDuration("PERF_TOTAL_RUNTIME", 1800*time.Second),
			ImportBudget:    getEnvAsDuration("PERF_IMPORT_BUDGET", 300*time.Second),
			MatchingBudget:  getEnvAsDuration("PERF_MATCHING_BUDGET", 1200*time.Second),
			EmailBudget:     getEnvAsDuration("PERF_EMAIL_BUDGET", 300*time.Second),
			PerUserBudgetMS: getEnvAsInt("PERF_PER_USER_BUDGET_MS", 180),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces every startup-fatal check named in SPEC_FULL.md,
// including the weight-sum decision from Open Question 2.
func (c *Config) Validate() error {
	if err := c.Scoring.Weights.Validate(); err != nil {
		return err
	}
	if c.Scheduler.MaxConcurrentJobs <= 0 {
		return &model.ConfigError{Message: "scheduler.max_concurrent_jobs must be positive"}
	}
	if c.Section.MinPerSection*6 > c.Section.Total {
		return &model.ConfigError{Message: "section.min_per_section * 6 exceeds section.total"}
	}
	if c.Matching.MaxParallelWorkers <= 0 {
		return &model.ConfigError{Message: "matching.max_parallel_workers must be positive"}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(f) {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

// getEnvAsRules decodes key as a JSON array of RuleConfig, falling back to
// defaultValue when the variable is unset or malformed. A scoring rule table
// is the one config shape not expressible as a flat scalar env var, so it
// travels as JSON rather than gaining its own delimiter syntax.
func getEnvAsRules(key string, defaultValue []RuleConfig) []RuleConfig {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var rules []RuleConfig
	if err := json.Unmarshal([]byte(value), &rules); err != nil {
		return defaultValue
	}
	return rules
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
