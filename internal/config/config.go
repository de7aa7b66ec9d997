package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Vision     VisionConfig     `yaml:"vision" mapstructure:"vision"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Router     RouterConfig     `yaml:"router" mapstructure:"router"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Approval   ApprovalConfig   `yaml:"approval" mapstructure:"approval"`
	Corpus     CorpusConfig     `yaml:"corpus" mapstructure:"corpus"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Shadow     ShadowConfig     `yaml:"shadow" mapstructure:"shadow"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// VisionConfig holds the vision model API settings.
type VisionConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	PrimaryModel    string `yaml:"primary_model" mapstructure:"primary_model"`
	VerifierModel   string `yaml:"verifier_model" mapstructure:"verifier_model"`
	MaxTokens       int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	WarmupOnStartup bool   `yaml:"warmup_on_startup" mapstructure:"warmup_on_startup"`
}

// ClassifierConfig configures the primary classification stage.
type ClassifierConfig struct {
	FallbackEnabled bool   `yaml:"fallback_enabled" mapstructure:"fallback_enabled"`
	FallbackCommand string `yaml:"fallback_command" mapstructure:"fallback_command"`
}

// RouterConfig configures the confidence router.
type RouterConfig struct {
	AutoApproveEnabled bool    `yaml:"auto_approve_enabled" mapstructure:"auto_approve_enabled"`
	BypassEnabled      bool    `yaml:"bypass_enabled" mapstructure:"bypass_enabled"`
	BypassMargin       float64 `yaml:"bypass_margin" mapstructure:"bypass_margin"`
	SampleRate         float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// PolicyConfig locates the tier threshold overrides.
type PolicyConfig struct {
	TierFile string `yaml:"tier_file" mapstructure:"tier_file"`
}

// ApprovalConfig configures the auto-approval engine.
type ApprovalConfig struct {
	Enabled       bool `yaml:"enabled" mapstructure:"enabled"`
	MaxPerHour    int  `yaml:"max_per_hour" mapstructure:"max_per_hour"`
	RequireCorpus bool `yaml:"require_corpus" mapstructure:"require_corpus"`
}

// CorpusConfig configures the local reference corpus.
type CorpusConfig struct {
	Path          string  `yaml:"path" mapstructure:"path"`
	MinSimilarity float64 `yaml:"min_similarity" mapstructure:"min_similarity"`
	MaxMatches    int     `yaml:"max_matches" mapstructure:"max_matches"`
}

// ResilienceConfig tunes retries and circuit breaking for remote calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseMS    int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	BackoffMaxMS     int     `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int     `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BackoffBase returns the retry backoff base as a duration.
func (c ResilienceConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the retry backoff cap as a duration.
func (c ResilienceConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// Cooldown returns the breaker cool-down as a duration.
func (c ResilienceConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// BatchConfig configures the orchestrator.
type BatchConfig struct {
	ChunkSize        int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoffSecs int     `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs"`
	ChunksPerSecond  float64 `yaml:"chunks_per_second" mapstructure:"chunks_per_second"`
	QueueCapacity    int     `yaml:"queue_capacity" mapstructure:"queue_capacity"`
}

// ShadowConfig configures shadow evaluation of a candidate tier policy.
type ShadowConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	TierFile string `yaml:"tier_file" mapstructure:"tier_file"`
}

// MonitoringConfig configures metrics collection and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinApprovalRate      float64 `yaml:"min_approval_rate" mapstructure:"min_approval_rate"`
}

// ServerConfig configures the intake HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CARDMINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cardmint.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("vision.primary_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("vision.verifier_model", "claude-haiku-4-5-20251001")
	v.SetDefault("vision.max_tokens", 1024)
	v.SetDefault("vision.timeout_secs", 60)
	v.SetDefault("classifier.fallback_enabled", false)
	v.SetDefault("router.auto_approve_enabled", true)
	v.SetDefault("router.bypass_enabled", true)
	v.SetDefault("router.bypass_margin", 0.03)
	v.SetDefault("router.sample_rate", 0.10)
	v.SetDefault("approval.enabled", true)
	v.SetDefault("approval.max_per_hour", 50)
	v.SetDefault("approval.require_corpus", false)
	v.SetDefault("corpus.min_similarity", 0.4)
	v.SetDefault("corpus.max_matches", 10)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.backoff_base_ms", 500)
	v.SetDefault("resilience.backoff_max_ms", 30000)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.cooldown_secs", 30)
	v.SetDefault("resilience.jitter_fraction", 0.2)
	v.SetDefault("batch.chunk_size", 10)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.retry_backoff_secs", 5)
	v.SetDefault("batch.chunks_per_second", 0.5)
	v.SetDefault("batch.queue_capacity", 1000)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.min_approval_rate", 0.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
