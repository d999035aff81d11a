package strom

import (
	"context"

	"github.com/google/uuid"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/changelog"
	"github.com/strombase/strom/internal/peer"
	"github.com/strombase/strom/internal/propagate"
	"github.com/strombase/strom/internal/sampling"
	"golang.org/x/sync/errgroup"
)

// Gossip is a running gossip node. Open for construction.
type Gossip struct {
	host       address.Address
	log        *changelog.Log
	view       *peer.View
	sampler    *sampling.Sampling
	propagator *propagate.Propagate
	cancel     context.CancelFunc
	eg         *errgroup.Group
}

// Host returns the node's gossip address.
func (g *Gossip) Host() address.Address { return g.host }

// Record appends a local mutation to the change log and broadcasts it
// to a bounded number of peers ahead of the periodic anti-entropy cycle.
func (g *Gossip) Record(
	ctx context.Context,
	kind changelog.Kind,
	table string,
	dataID uuid.UUID,
	data []byte,
) (changelog.Record, error) {
	rec, err := changelog.New(kind, table, dataID, data)
	if err != nil {
		return changelog.Record{}, err
	}
	if err := g.log.Append(rec); err != nil {
		return changelog.Record{}, err
	}
	g.propagator.Broadcast(ctx, rec)
	return rec, nil
}

// Log exposes the node's change log for reads.
func (g *Gossip) Log() *changelog.Log { return g.log }

// Peers returns a snapshot of the node's current membership view.
func (g *Gossip) Peers() []peer.Peer { return g.view.Snapshot() }

// Close stops the gossip services and closes the change log.
func (g *Gossip) Close() error {
	g.cancel()
	err := g.eg.Wait()
	if cErr := g.log.Close(); err == nil {
		err = cErr
	}
	return err
}
