// Package strom implements the gossip layer of a multi-node deployment:
// a peer sampling service that maintains a bounded partial view of the
// cluster on every node, and an anti-entropy change propagator that
// reconciles each node's change log with its peers'. A node joins the
// cluster knowing only its own address and at least one seed peer;
// membership and data convergence follow from the periodic exchanges.
package strom

import (
	"context"

	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/changelog"
	"github.com/strombase/strom/internal/peer"
	"github.com/strombase/strom/internal/propagate"
	"github.com/strombase/strom/internal/sampling"
	"github.com/strombase/strom/transport/tcp"
	"golang.org/x/sync/errgroup"
)

// Open starts a gossip node: it opens the change log at dirname, binds
// the transport to host, seeds the membership view with peers, and
// launches the sampling and propagation services. The node runs until
// ctx is cancelled or Close is called.
func Open(
	ctx context.Context,
	dirname string,
	host address.Address,
	peers []address.Address,
	opts ...Option,
) (*Gossip, error) {
	o := newOptions(opts...)
	log, err := changelog.Open(dirname, o.fs)
	if err != nil {
		return nil, err
	}
	tr := o.transport
	if tr == nil {
		tr = tcp.New(o.tcp)
	}
	runCtx, cancel := context.WithCancel(ctx)
	if err := tr.Configure(runCtx, host); err != nil {
		cancel()
		_ = log.Close()
		return nil, err
	}
	seed := make([]peer.Peer, len(peers))
	for i, addr := range peers {
		seed[i] = peer.New(addr)
	}
	view := peer.NewView(host, seed)

	o.sampling.Host = host
	o.sampling.Transport = tr.Sampling()
	sampler, err := sampling.New(view, o.sampling)
	if err != nil {
		cancel()
		_ = log.Close()
		return nil, err
	}

	o.propagation.Host = host
	o.propagation.View = view
	o.propagation.Log = log
	o.propagation.Headers = tr.Headers()
	o.propagation.Contents = tr.Contents()
	propagator, err := propagate.New(o.propagation)
	if err != nil {
		cancel()
		_ = log.Close()
		return nil, err
	}

	g := &Gossip{
		host:       host,
		log:        log,
		view:       view,
		sampler:    sampler,
		propagator: propagator,
		cancel:     cancel,
	}
	g.eg, runCtx = errgroup.WithContext(runCtx)
	g.eg.Go(func() error { return sampler.Run(runCtx) })
	g.eg.Go(func() error { return propagator.Run(runCtx) })
	return g, nil
}
