// Package mock provides an in-memory gossip network for tests: a bundle
// of the three per-subsystem message networks behind the root Transport
// interface, and a Builder that spins up fully wired nodes on it.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/strombase/strom"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/transport"
	"github.com/strombase/strom/internal/wire"
	"github.com/strombase/strom/transport/tmock"
)

// Network routes all three gossip message kinds between addresses in
// memory.
type Network struct {
	Sampling *tmock.Network[wire.Sampling]
	Headers  *tmock.Network[wire.Header]
	Contents *tmock.Network[wire.Content]
}

func NewNetwork() *Network {
	return &Network{
		Sampling: tmock.NewNetwork[wire.Sampling](),
		Headers:  tmock.NewNetwork[wire.Header](),
		Contents: tmock.NewNetwork[wire.Content](),
	}
}

// NewTransport returns an unconfigured transport bound to the network.
func (n *Network) NewTransport() strom.Transport { return &Transport{net: n} }

// Unplug makes addr unreachable on every message network, simulating a
// node failure.
func (n *Network) Unplug(addr address.Address) {
	n.Sampling.Unplug(addr)
	n.Headers.Unplug(addr)
	n.Contents.Unplug(addr)
}

// Transport implements the root transport interface over a Network.
type Transport struct {
	net      *Network
	sampling *tmock.Unary[wire.Sampling]
	headers  *tmock.Unary[wire.Header]
	contents *tmock.Unary[wire.Content]
}

func (t *Transport) Configure(_ context.Context, host address.Address) error {
	t.sampling = t.net.Sampling.Route(host)
	t.headers = t.net.Headers.Route(host)
	t.contents = t.net.Contents.Route(host)
	return nil
}

func (t *Transport) Sampling() transport.Transport[wire.Sampling] { return t.sampling }

func (t *Transport) Headers() transport.Transport[wire.Header] { return t.headers }

func (t *Transport) Contents() transport.Transport[wire.Content] { return t.contents }

// Builder opens gossip nodes on a shared in-memory network. Each node
// gets the next localhost address and an in-memory change log, and is
// seeded with the addresses of every node opened before it.
type Builder struct {
	// DefaultOptions apply to every node, before per-node options.
	DefaultOptions []strom.Option
	Net            *Network

	mu    sync.Mutex
	port  int
	peers []address.Address
	nodes []*strom.Gossip
}

func NewBuilder(opts ...strom.Option) *Builder {
	return &Builder{
		DefaultOptions: opts,
		Net:            NewNetwork(),
		port:           2200,
	}
}

// New opens the next node on the network.
func (b *Builder) New(ctx context.Context, opts ...strom.Option) (*strom.Gossip, error) {
	b.mu.Lock()
	host := address.Newf("localhost:%d", b.port)
	b.port++
	seed := make([]address.Address, len(b.peers))
	copy(seed, b.peers)
	b.mu.Unlock()

	combined := append([]strom.Option{
		strom.WithFS(vfs.NewMem()),
		strom.WithTransport(b.Net.NewTransport()),
	}, b.DefaultOptions...)
	combined = append(combined, opts...)
	g, err := strom.Open(ctx, fmt.Sprintf("node-%s", host.Port()), host, seed, combined...)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.peers = append(b.peers, host)
	b.nodes = append(b.nodes, g)
	b.mu.Unlock()
	return g, nil
}

// Nodes returns every node opened so far.
func (b *Builder) Nodes() []*strom.Gossip {
	b.mu.Lock()
	defer b.mu.Unlock()
	nodes := make([]*strom.Gossip, len(b.nodes))
	copy(nodes, b.nodes)
	return nodes
}

// Close shuts down every node. The first error wins.
func (b *Builder) Close() error {
	var first error
	for _, g := range b.Nodes() {
		if err := g.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
