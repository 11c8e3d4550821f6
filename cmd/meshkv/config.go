package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration accepted by `meshkv serve`.
type Config struct {
	DataDir             string        `yaml:"data_dir"`
	Namespace           string        `yaml:"namespace"`
	MetricsAddr         string        `yaml:"metrics_addr"`
	RebroadcastInterval time.Duration `yaml:"rebroadcast_interval"`
	DAGSyncerTimeout    time.Duration `yaml:"dag_syncer_timeout"`
	NumWorkers          int           `yaml:"num_workers"`
	BroadcastTopics     []string      `yaml:"broadcast_topics"`
	ListenTopics        []string      `yaml:"listen_topics"`
}

// DefaultConfig returns the serve defaults used when no config file is
// given.
func DefaultConfig() *Config {
	return &Config{
		Namespace:           "/meshkv",
		MetricsAddr:         "127.0.0.1:9090",
		RebroadcastInterval: time.Minute,
		DAGSyncerTimeout:    5 * time.Minute,
		NumWorkers:          5,
	}
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
