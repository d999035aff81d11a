// Package tmock provides an in-memory, synchronous transport for tests.
// A Network routes messages of one kind between addresses; sending to an
// address without a route fails with the transport's network error, which
// is how tests simulate unreachable peers.
package tmock

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/transport"
)

type Network[M any] struct {
	mu     sync.Mutex
	routes map[address.Address]*Unary[M]
	port   int
}

func NewNetwork[M any]() *Network[M] {
	return &Network[M]{routes: make(map[address.Address]*Unary[M]), port: 1700}
}

// Route binds a transport at addr. An empty addr allocates the next
// localhost address.
func (n *Network[M]) Route(addr address.Address) *Unary[M] {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == "" {
		addr = address.Newf("localhost:%d", n.port)
		n.port++
	}
	u := &Unary[M]{Address: addr, net: n}
	n.routes[addr] = u
	return u
}

// Unplug removes the route for addr, making it unreachable.
func (n *Network[M]) Unplug(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.routes, addr)
}

func (n *Network[M]) lookup(addr address.Address) (*Unary[M], bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	u, ok := n.routes[addr]
	return u, ok
}

// Unary implements transport.Transport[M] over the network.
type Unary[M any] struct {
	Address address.Address
	net     *Network[M]
	mu      sync.RWMutex
	handler func(ctx context.Context, sender address.Address, msg M) error
}

func (u *Unary[M]) Send(ctx context.Context, target address.Address, msg M) (int, error) {
	route, ok := u.net.lookup(target)
	if !ok {
		return 0, errors.Mark(
			errors.Newf("tmock: no route to %s", target), transport.ErrNetwork)
	}
	route.mu.RLock()
	handler := route.handler
	route.mu.RUnlock()
	if handler == nil {
		return 0, errors.Mark(
			errors.Newf("tmock: no handler at %s", target), transport.ErrNetwork)
	}
	body, err := cbor.Marshal(msg)
	if err != nil {
		return 0, err
	}
	if err := handler(ctx, u.Address, msg); err != nil {
		return 0, err
	}
	return len(body), nil
}

func (u *Unary[M]) Handle(handler func(ctx context.Context, sender address.Address, msg M) error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = handler
}
