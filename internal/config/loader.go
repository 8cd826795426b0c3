// Package config loads fraudscore configuration from defaults, an
// optional yaml file and FRAUDSCORE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "FRAUDSCORE"

// Load reads configuration. An empty path searches for fraudscore.yaml
// in the working directory and /etc/fraudscore; a missing file is not
// an error unless path was given explicitly.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	setDefaults(v, domain.DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fraudscore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fraudscore/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
// during Unmarshal.
func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	v.SetDefault("registry.root", cfg.Registry.Root)
	v.SetDefault("registry.alias_store", cfg.Registry.AliasStore)
	v.SetDefault("registry.redis_addr", cfg.Registry.RedisAddr)
	v.SetDefault("registry.redis_password", cfg.Registry.RedisPassword)
	v.SetDefault("registry.redis_db", cfg.Registry.RedisDB)

	v.SetDefault("training.samples", cfg.Training.Samples)
	v.SetDefault("training.fraud_ratio", cfg.Training.FraudRatio)
	v.SetDefault("training.seed", cfg.Training.Seed)
	v.SetDefault("training.test_fraction", cfg.Training.TestFraction)
	v.SetDefault("training.contamination", cfg.Training.Contamination)
	v.SetDefault("training.trees", cfg.Training.Trees)
	v.SetDefault("training.max_samples", cfg.Training.MaxSamples)
	v.SetDefault("training.epochs", cfg.Training.Epochs)
	v.SetDefault("training.batch_size", cfg.Training.BatchSize)
	v.SetDefault("training.learning_rate", cfg.Training.LearningRate)
	v.SetDefault("training.threshold_percentile", cfg.Training.ThresholdPercentile)

	v.SetDefault("scoring.policy", cfg.Scoring.Policy)
	v.SetDefault("scoring.audit", cfg.Scoring.Audit)

	v.SetDefault("repository.driver", cfg.Repository.Driver)
	v.SetDefault("repository.sqlite_path", cfg.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", cfg.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", cfg.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", cfg.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", cfg.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", cfg.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", cfg.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", cfg.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", cfg.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", cfg.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.local_max_size", cfg.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", cfg.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", cfg.Cache.EnableTwoPhase)
	v.SetDefault("cache.artifact_ttl", cfg.Cache.ArtifactTTL)

	v.SetDefault("eventbus.type", cfg.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", cfg.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", cfg.EventBus.NATSUrl)
	v.SetDefault("eventbus.nats_token", cfg.EventBus.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", cfg.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", cfg.EventBus.NATSReconnectWait)

	v.SetDefault("breaker.enabled", cfg.Breaker.Enabled)
	v.SetDefault("breaker.max_requests", cfg.Breaker.MaxRequests)
	v.SetDefault("breaker.interval", cfg.Breaker.Interval)
	v.SetDefault("breaker.timeout", cfg.Breaker.Timeout)
	v.SetDefault("breaker.failure_threshold", cfg.Breaker.FailureThreshold)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
}

// Validate rejects settings no component can run with.
func Validate(cfg *domain.Config) error {
	if cfg.Registry.Root == "" {
		return fmt.Errorf("%w: registry.root is required", domain.ErrInvalidInput)
	}
	switch cfg.Registry.AliasStore {
	case "", "file", "sql", "redis":
	default:
		return fmt.Errorf("%w: unsupported alias store %q", domain.ErrInvalidInput, cfg.Registry.AliasStore)
	}
	if cfg.Registry.AliasStore == "sql" && (cfg.Repository.Driver == "" || cfg.Repository.Driver == "none") {
		return fmt.Errorf("%w: the sql alias store needs a repository driver", domain.ErrInvalidInput)
	}
	if cfg.Scoring.Audit && (cfg.Repository.Driver == "" || cfg.Repository.Driver == "none") {
		return fmt.Errorf("%w: scoring.audit needs a repository driver", domain.ErrInvalidInput)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port %d", domain.ErrInvalidInput, cfg.Server.Port)
	}

	t := cfg.Training
	if t.Samples <= 0 {
		return fmt.Errorf("%w: training.samples must be positive", domain.ErrInvalidInput)
	}
	if t.TestFraction <= 0 || t.TestFraction >= 1 {
		return fmt.Errorf("%w: training.test_fraction must be in (0, 1)", domain.ErrInvalidInput)
	}
	if t.Contamination <= 0 || t.Contamination > 0.5 {
		return fmt.Errorf("%w: training.contamination must be in (0, 0.5]", domain.ErrInvalidInput)
	}
	if t.ThresholdPercentile <= 0 || t.ThresholdPercentile >= 100 {
		return fmt.Errorf("%w: training.threshold_percentile must be in (0, 100)", domain.ErrInvalidInput)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidInput, cfg.Logging.Level)
	}
	return nil
}
