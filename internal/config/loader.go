package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if FACEVERIFY_CONFIG is set
//  3. env (prefix FACEVERIFY_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("FACEVERIFY_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// FACEVERIFY_QUALITY_FLOOR -> quality_floor; flat keys match the koanf
	// tags on the struct.
	envProvider := env.Provider("FACEVERIFY_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "faceverify_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.QualityFloor < 0 || c.QualityFloor > 100 {
		return errors.New("quality_floor must be within [0,100]")
	}
	if c.MinThreshold > c.MaxThreshold {
		return errors.New("min_threshold must not exceed max_threshold")
	}
	if c.ClassicalWeight < 0 || c.ClassicalWeight >= 1 {
		return errors.New("classical_weight must be within [0,1)")
	}
	if len(c.AlgorithmWeights) == 0 {
		return errors.New("algorithm_weights must not be empty")
	}
	return nil
}
