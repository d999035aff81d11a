package propagate

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/changelog"
	"github.com/strombase/strom/internal/peer"
	"github.com/strombase/strom/internal/transport"
	"github.com/strombase/strom/internal/wire"
	"go.uber.org/zap"
)

// Log is the local change log the propagator reconciles. Implemented by
// *changelog.Log.
type Log interface {
	// ChangesSince lists change ids strictly after the cursor in
	// (updated-at, change-id) order.
	ChangesSince(changelog.Cursor) ([]uuid.UUID, error)
	// Fetch returns the current record for the row the change id belongs
	// to; false when the id is unknown.
	Fetch(uuid.UUID) (changelog.Record, bool, error)
	// Apply idempotently folds a remote record into the log, reporting
	// whether it was applied.
	Apply(changelog.Record) (bool, error)
	// Watermark is the position of the newest local change.
	Watermark() (changelog.Cursor, error)
	// RemoteCursor and SetRemoteCursor track the catch-up cursor per
	// remote peer.
	RemoteCursor(address.Address) (changelog.Cursor, error)
	SetRemoteCursor(address.Address, changelog.Cursor) error
}

// ViewSource provides read-only membership snapshots. Implemented by
// *peer.View; the propagator never mutates the view.
type ViewSource interface {
	Snapshot() []peer.Peer
}

type Config struct {
	// Host is the local node's gossip address. Required.
	Host address.Address
	// View supplies exchange partners. Required.
	View ViewSource
	// Log is the local change log. Required.
	Log Log
	// Headers and Contents deliver the two halves of the exchange
	// protocol. Required.
	Headers  transport.Transport[wire.Header]
	Contents transport.Transport[wire.Content]
	// Push initiates an exchange with a sampled peer each round. Pull
	// serves inbound header requests. At least one must be enabled.
	Push bool
	Pull bool
	// Period is the base round interval, jittered by an extra uniform
	// [0, PeriodDeviation] per round.
	Period          time.Duration
	PeriodDeviation time.Duration
	// ActionsSize caps the outbound buffer of not-yet-propagated local
	// changes; insertion beyond it evicts the oldest entry.
	ActionsSize int
	// MaxBroadcast bounds how many peers receive a fresh local change
	// directly, ahead of the periodic anti-entropy cycle.
	MaxBroadcast int
	Logger       *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.View == nil {
		cfg.View = def.View
	}
	if cfg.Log == nil {
		cfg.Log = def.Log
	}
	if cfg.Headers == nil {
		cfg.Headers = def.Headers
	}
	if cfg.Contents == nil {
		cfg.Contents = def.Contents
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
	if cfg.ActionsSize == 0 {
		cfg.ActionsSize = def.ActionsSize
	}
	if cfg.MaxBroadcast == 0 {
		cfg.MaxBroadcast = def.MaxBroadcast
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func (cfg Config) Validate() error {
	if cfg.Host == "" {
		return errors.New("propagate: host address required")
	}
	if cfg.View == nil {
		return errors.New("propagate: view source required")
	}
	if cfg.Log == nil {
		return errors.New("propagate: change log required")
	}
	if cfg.Headers == nil || cfg.Contents == nil {
		return errors.New("propagate: header and content transports required")
	}
	if cfg.ActionsSize <= 0 {
		return errors.New("propagate: actions size must be positive")
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Push:            true,
		Pull:            true,
		Period:          60 * time.Second,
		PeriodDeviation: 10 * time.Second,
		ActionsSize:     100,
		MaxBroadcast:    3,
		Logger:          zap.NewNop(),
	}
}
