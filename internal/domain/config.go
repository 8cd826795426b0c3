package domain

import "time"

// Config holds the complete fraudscore configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Model lifecycle
	Registry RegistryConfig `json:"registry" mapstructure:"registry"`
	Training TrainingConfig `json:"training" mapstructure:"training"`
	Scoring  ScoringConfig  `json:"scoring" mapstructure:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`
	Breaker    BreakerConfig    `json:"breaker" mapstructure:"breaker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// RegistryConfig locates model artifacts and selects the alias backend.
type RegistryConfig struct {
	// Root is the model directory.
	Root string `json:"root" mapstructure:"root"`

	// AliasStore is "file", "sql" or "redis".
	AliasStore string `json:"aliasStore" mapstructure:"alias_store"`

	// Redis alias store settings
	RedisAddr     string `json:"redisAddr" mapstructure:"redis_addr"`
	RedisPassword string `json:"-" mapstructure:"redis_password"`
	RedisDB       int    `json:"redisDb" mapstructure:"redis_db"`
}

// TrainingConfig holds dataset and hyperparameter settings.
type TrainingConfig struct {
	Samples      int     `json:"samples" mapstructure:"samples"`
	FraudRatio   float64 `json:"fraudRatio" mapstructure:"fraud_ratio"`
	Seed         uint64  `json:"seed" mapstructure:"seed"`
	TestFraction float64 `json:"testFraction" mapstructure:"test_fraction"`

	// Isolation forest
	Contamination float64 `json:"contamination" mapstructure:"contamination"`
	Trees         int     `json:"trees" mapstructure:"trees"`
	MaxSamples    int     `json:"maxSamples" mapstructure:"max_samples"`

	// Autoencoder
	Epochs              int     `json:"epochs" mapstructure:"epochs"`
	BatchSize           int     `json:"batchSize" mapstructure:"batch_size"`
	LearningRate        float64 `json:"learningRate" mapstructure:"learning_rate"`
	ThresholdPercentile float64 `json:"thresholdPercentile" mapstructure:"threshold_percentile"`
}

// ScoringConfig holds scoring-time settings.
type ScoringConfig struct {
	// Policy is a CEL expression returning the transaction status.
	Policy string `json:"policy" mapstructure:"policy"`

	// Audit persists every result to the repository.
	Audit bool `json:"audit" mapstructure:"audit"`
}

// BreakerConfig configures the circuit breaker around HTTP scoring.
type BreakerConfig struct {
	Enabled          bool          `json:"enabled" mapstructure:"enabled"`
	MaxRequests      uint32        `json:"maxRequests" mapstructure:"max_requests"`
	Interval         time.Duration `json:"interval" mapstructure:"interval"`
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	FailureThreshold uint32        `json:"failureThreshold" mapstructure:"failure_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// DefaultPolicy mirrors the fixed decision: flagged when is_fraud.
const DefaultPolicy = `is_fraud ? "flagged" : "completed"`

// DefaultTrainingConfig returns the reference training setup:
// 5000 rows with 5% fraud, seed 42 and a stratified 70/30 split.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Samples:             5000,
		FraudRatio:          0.05,
		Seed:                42,
		TestFraction:        0.3,
		Contamination:       0.05,
		Trees:               100,
		MaxSamples:          256,
		Epochs:              50,
		BatchSize:           32,
		LearningRate:        0.001,
		ThresholdPercentile: 95,
	}
}

// DefaultConfig returns a local single-node configuration:
// file alias store, no database, in-memory cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		Registry: RegistryConfig{
			Root:       "model",
			AliasStore: "file",
		},
		Training: DefaultTrainingConfig(),
		Scoring: ScoringConfig{
			Policy: DefaultPolicy,
		},
		Repository: RepositoryConfig{
			Driver:     "none",
			SQLitePath: "./fraudscore.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			LocalTTL:     5 * time.Minute,
			ArtifactTTL:  time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudscore",
		},
	}
}
