// Package config holds the engine runtime configuration: simulation defaults,
// FX config location, and the optional service integrations (HTTP monitoring,
// Postgres result store, Redis cache).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the top-level engine configuration structure
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	FX         FXRef            `yaml:"fx"`
	HTTP       HTTPConfig       `yaml:"http"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
}

// SimulationConfig holds default Monte Carlo execution parameters
type SimulationConfig struct {
	Runs           int  `yaml:"runs"`             // Monte Carlo iterations
	Parallelism    int  `yaml:"parallelism"`      // worker count, 0 = NumCPU
	ChunkSize      int  `yaml:"chunk_size"`       // runs claimed per worker step
	RawSampleLimit int  `yaml:"raw_sample_limit"` // samples kept in the envelope
	HistogramBins  int  `yaml:"histogram_bins"`
	CompatMixture  bool `yaml:"compat_first_component_mixture"`
}

// FXRef points at the FX configuration document
type FXRef struct {
	ConfigPath string `yaml:"config_path"`
}

// HTTPConfig configures the monitoring HTTP server
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// PostgresConfig configures the result store
type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// RedisConfig configures the result cache
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	TTLSecs int    `yaml:"ttl_seconds"`
}

// DefaultConfig returns the built-in defaults used when no config file is
// supplied.
func DefaultConfig() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Runs:           10000,
			ChunkSize:      1024,
			RawSampleLimit: 1000,
			HistogramBins:  50,
		},
		HTTP:  HTTPConfig{Listen: "localhost:8087"},
		Redis: RedisConfig{Addr: "localhost:6379", TTLSecs: 3600},
	}
}

// LoadConfig loads engine configuration from file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse engine config YAML: %w", err)
	}

	return config, nil
}

// Validate returns a list of configuration problems, empty when valid.
func (c *Config) Validate() []string {
	var problems []string
	if c.Simulation.Runs <= 0 {
		problems = append(problems, "simulation.runs must be positive")
	}
	if c.Simulation.Parallelism < 0 {
		problems = append(problems, "simulation.parallelism must be >= 0")
	}
	if c.Simulation.HistogramBins <= 0 {
		problems = append(problems, "simulation.histogram_bins must be positive")
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		problems = append(problems, "http.listen is required when http.enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		problems = append(problems, "postgres.dsn is required when postgres.enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when redis.enabled")
	}
	return problems
}
