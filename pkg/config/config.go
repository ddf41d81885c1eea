// Package config loads the layered configuration for the memory core: an
// optional YAML file with environment-variable overrides, following the
// teacher's pkg/config/config.go env-var Load() idiom widened to also accept
// a file, matching the pack's broader use of gopkg.in/yaml.v3 for structured
// config.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the core and its ambient/domain stack consume.
type Config struct {
	StoragePath          string  `yaml:"storage_path"`
	RunsPath             string  `yaml:"runs_path"`
	ObserverThreshold    uint32  `yaml:"observer_threshold"`
	ReflectorThreshold   uint32  `yaml:"reflector_threshold"`
	MaxEntryChars        int     `yaml:"max_entry_chars"`
	AnchorDriftThreshold float64 `yaml:"anchor_drift_threshold"`
	RateLimitPerMinute   int     `yaml:"rate_limit_per_minute"`
}

func defaults() *Config {
	return &Config{
		StoragePath:          "./memory",
		RunsPath:             "./memory/runs",
		ObserverThreshold:    30000,
		ReflectorThreshold:   40000,
		MaxEntryChars:        2048,
		AnchorDriftThreshold: 0.2,
		RateLimitPerMinute:   30,
	}
}

// Load reads an optional YAML file at path (a missing file is not an error,
// defaults apply) and then applies environment-variable overrides, which
// always win over the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VAULTMIND_STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("VAULTMIND_RUNS_PATH"); v != "" {
		cfg.RunsPath = v
	}
	if v, ok := envUint32("VAULTMIND_OBSERVER_THRESHOLD"); ok {
		cfg.ObserverThreshold = v
	}
	if v, ok := envUint32("VAULTMIND_REFLECTOR_THRESHOLD"); ok {
		cfg.ReflectorThreshold = v
	}
	if v, ok := envInt("VAULTMIND_MAX_ENTRY_CHARS"); ok {
		cfg.MaxEntryChars = v
	}
	if v, ok := envFloat("VAULTMIND_ANCHOR_DRIFT_THRESHOLD"); ok {
		cfg.AnchorDriftThreshold = v
	}
	if v, ok := envInt("VAULTMIND_RATE_LIMIT_PER_MINUTE"); ok {
		cfg.RateLimitPerMinute = v
	}
}

func envUint32(key string) (uint32, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
