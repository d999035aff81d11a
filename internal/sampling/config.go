package sampling

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/transport"
	"github.com/strombase/strom/internal/wire"
	"go.uber.org/zap"
)

type Config struct {
	// Host is the local node's gossip address. Required.
	Host address.Address
	// HostID is an optional stable identifier advertised with the local
	// peer record. Identity on the wire remains address-only.
	HostID uuid.UUID
	// Transport delivers sampling messages. Required.
	Transport transport.Transport[wire.Sampling]
	// Push sends the local sample to a target each round. Pull answers
	// inbound requests with a response sample. At least one must be
	// enabled; a node with both disabled would neither offer nor refresh
	// membership.
	Push bool
	Pull bool
	// Period is the base round interval; each round waits an extra
	// uniform [0, PeriodDeviation] so rounds never synchronize across
	// nodes.
	Period          time.Duration
	PeriodDeviation time.Duration
	// ViewSize caps the membership view.
	ViewSize int
	// HealingFactor and SwappingFactor bound how many view entries a
	// single merge may replace by age and at random, respectively.
	HealingFactor  int
	SwappingFactor int
	Logger         *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Transport == nil {
		cfg.Transport = def.Transport
	}
	if !cfg.Push && !cfg.Pull {
		cfg.Push, cfg.Pull = def.Push, def.Pull
	}
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.PeriodDeviation == 0 {
		cfg.PeriodDeviation = def.PeriodDeviation
	}
	if cfg.ViewSize == 0 {
		cfg.ViewSize = def.ViewSize
	}
	if cfg.HealingFactor == 0 {
		cfg.HealingFactor = def.HealingFactor
	}
	if cfg.SwappingFactor == 0 {
		cfg.SwappingFactor = def.SwappingFactor
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func (cfg Config) Validate() error {
	if cfg.Host == "" {
		return errors.New("sampling: host address required")
	}
	if cfg.Transport == nil {
		return errors.New("sampling: transport required")
	}
	if cfg.ViewSize <= 0 {
		return errors.New("sampling: view size must be positive")
	}
	if cfg.HealingFactor < 0 || cfg.SwappingFactor < 0 {
		return errors.New("sampling: healing and swapping factors must be non-negative")
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Push:            true,
		Pull:            true,
		Period:          5 * time.Second,
		PeriodDeviation: 5 * time.Second,
		ViewSize:        30,
		HealingFactor:   3,
		SwappingFactor:  12,
		Logger:          zap.NewNop(),
	}
}
