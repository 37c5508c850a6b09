package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration for contest tuning. Anything
// not set here falls back to environment variables and defaults.
type Config struct {
	Contest struct {
		QuestionCount     int      `yaml:"question_count"`
		MinSubmitInterval Duration `yaml:"min_submit_interval"`
	} `yaml:"contest"`
	Outbox struct {
		FallbackInterval Duration `yaml:"fallback_interval"`
		BatchSize        int      `yaml:"batch_size"`
	} `yaml:"outbox"`
	Gateway struct {
		PresenceInterval Duration `yaml:"presence_interval"`
	} `yaml:"gateway"`
}

// Duration accepts "90s" style values in YAML; a bare time.Duration field
// would only take integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}
