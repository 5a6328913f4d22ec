// Package config defines service configuration and its loading order.
package config

import "time"

// Config contains process configuration. Values are layered from defaults,
// an optional YAML file, and FACEVERIFY_* environment variables.
type Config struct {
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// DatabaseDSN is the Postgres connection string for the audit store.
	DatabaseDSN string `koanf:"database_dsn"`

	// RedisAddr is the address of the session cache.
	RedisAddr string `koanf:"redis_addr"`

	JWTSecret   string `koanf:"jwt_secret"`
	JWTAudience string `koanf:"jwt_audience"`

	// QualityFloor is the 0-100 acceptance floor below which a capture is
	// rejected before any matching work happens.
	QualityFloor float64 `koanf:"quality_floor"`

	// ScorerTimeout bounds each matcher run; slow scorers are dropped from
	// the ensemble rather than blocking the verification.
	ScorerTimeout time.Duration `koanf:"scorer_timeout"`

	// AlgorithmWeights maps embedding scorer names to reliability weights.
	// Weights are renormalized over the scorers that actually produced a
	// result.
	AlgorithmWeights map[string]float64 `koanf:"algorithm_weights"`

	// ClassicalWeight is the share of the final score contributed by the
	// classical comparator average; the rest comes from the embedding blend.
	ClassicalWeight float64 `koanf:"classical_weight"`

	// BaselineThreshold is the 0-100 starting point of the adaptive
	// threshold before quality and dispersion penalties.
	BaselineThreshold float64 `koanf:"baseline_threshold"`

	// QualityPenalty scales how much poor capture quality raises the bar.
	QualityPenalty float64 `koanf:"quality_penalty"`

	// DispersionPenalty scales how much scorer disagreement raises the bar.
	DispersionPenalty float64 `koanf:"dispersion_penalty"`

	// MinThreshold and MaxThreshold clamp the adaptive threshold.
	MinThreshold float64 `koanf:"min_threshold"`
	MaxThreshold float64 `koanf:"max_threshold"`

	// AuditRetryAttempts controls background audit write retries.
	AuditRetryAttempts int `koanf:"audit_retry_attempts"`
}

// New returns the configuration defaults. The decision coefficients are
// starting points pending calibration against labeled data; production
// deployments are expected to override them per environment.
func New() *Config {
	return &Config{
		Addr:          ":8080",
		LogLevel:      "info",
		DatabaseDSN:   "host=postgres user=postgres password=postgres dbname=faceverify port=5432 sslmode=disable",
		RedisAddr:     "redis:6379",
		JWTSecret:     "dev-secret",
		QualityFloor:  50,
		ScorerTimeout: 5 * time.Second,
		AlgorithmWeights: map[string]float64{
			"arcface":    0.30,
			"cosface":    0.25,
			"sphereface": 0.20,
			"triplet":    0.25,
		},
		ClassicalWeight:    0.15,
		BaselineThreshold:  70,
		QualityPenalty:     0.15,
		DispersionPenalty:  0.20,
		MinThreshold:       55,
		MaxThreshold:       90,
		AuditRetryAttempts: 5,
	}
}
