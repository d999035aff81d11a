package main

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk configuration. Flags override any value set
// here.
type fileConfig struct {
	// Dir is the data directory for the change log.
	Dir string `yaml:"dir"`
	// Listen is the node's gossip address, host:port.
	Listen string `yaml:"listen"`
	// Peers seed the membership view.
	Peers []string `yaml:"peers"`
	// Metrics is the address for the prometheus endpoint; empty disables
	// it.
	Metrics string `yaml:"metrics"`

	Sampling struct {
		Period          time.Duration `yaml:"period"`
		PeriodDeviation time.Duration `yaml:"period_deviation"`
		ViewSize        int           `yaml:"view_size"`
		HealingFactor   int           `yaml:"healing_factor"`
		SwappingFactor  int           `yaml:"swapping_factor"`
	} `yaml:"sampling"`

	Propagation struct {
		Period          time.Duration `yaml:"period"`
		PeriodDeviation time.Duration `yaml:"period_deviation"`
		ActionsSize     int           `yaml:"actions_size"`
		MaxBroadcast    int           `yaml:"max_broadcast"`
	} `yaml:"propagation"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}
