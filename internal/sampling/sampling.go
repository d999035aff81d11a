// Package sampling implements the peer sampling service: the membership
// gossip protocol that keeps a bounded, continuously refreshed partial
// view of the cluster on every node. Each round the service pushes a
// sample of its view (self included) to a selected peer and answers
// inbound requests with a response sample; received samples are merged
// into the view under the healing/swapping policy.
package sampling

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/peer"
	"github.com/strombase/strom/internal/telemetry"
	"github.com/strombase/strom/internal/transport"
	"github.com/strombase/strom/internal/wire"
	"go.uber.org/zap"
)

type inbound struct {
	sender address.Address
	msg    wire.Sampling
}

// Sampling runs the peer sampling protocol over a view it owns
// exclusively. Other subsystems read the view through snapshots only.
type Sampling struct {
	Config
	view    *peer.View
	inbound chan inbound
	done    chan struct{}
}

// New wires a sampling service over the given view and registers it with
// the transport. The service does nothing until Run is called.
func New(view *peer.View, cfg Config) (*Sampling, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sampling{
		Config:  cfg,
		view:    view,
		inbound: make(chan inbound, 64),
		done:    make(chan struct{}),
	}
	cfg.Transport.Handle(s.enqueue)
	return s, nil
}

// View exposes the service's view for read-only snapshots.
func (s *Sampling) View() *peer.View { return s.view }

// Run drives rounds and inbound processing until ctx is cancelled.
// Rounds are spawned fire-and-forget so a slow peer exchange never
// delays the next scheduled tick; Run waits for in-flight work before
// returning.
func (s *Sampling) Run(ctx context.Context) error {
	defer close(s.done)
	s.Logger.Info("running peer sampling service",
		zap.String("host", s.Host.String()),
		zap.Int("viewSize", s.ViewSize),
		zap.Bool("push", s.Push),
		zap.Bool("pull", s.Pull),
	)
	var wg sync.WaitGroup
	defer wg.Wait()
	timer := time.NewTimer(s.jitter())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-s.inbound:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.process(ctx, in)
			}()
		case <-timer.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.RoundOnce(ctx)
			}()
			timer.Reset(s.jitter())
		}
	}
}

// RoundOnce executes a single gossip round: contact one selected target,
// then age the view.
func (s *Sampling) RoundOnce(ctx context.Context) {
	telemetry.SamplingRounds.Inc()
	target, ok := s.view.SelectTarget(s.Push)
	if !ok {
		s.Logger.Warn("no peer available for sampling round")
	} else if s.Push {
		s.send(ctx, target.Address, wire.Sampling{
			Kind:  wire.KindRequest,
			Peers: s.buildSample(),
		})
	} else {
		// Pull only: solicit a response without offering a sample.
		s.send(ctx, target.Address, wire.Sampling{Kind: wire.KindRequest})
	}
	s.view.Tick()
	telemetry.ViewSize.Set(float64(s.view.Len()))
}

// enqueue is the transport handler. It hands the message to the service
// task without blocking network I/O on view state.
func (s *Sampling) enqueue(ctx context.Context, sender address.Address, msg wire.Sampling) error {
	select {
	case <-s.done:
		return transport.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.inbound <- inbound{sender: sender, msg: msg}:
		return nil
	}
}

func (s *Sampling) process(ctx context.Context, in inbound) {
	if in.msg.Kind == wire.KindRequest && s.Pull {
		s.send(ctx, in.sender, wire.Sampling{
			Kind:  wire.KindResponse,
			Peers: s.buildSample(),
		})
	}
	if len(in.msg.Peers) == 0 {
		s.Logger.Debug("received sampling without peers", zap.String("sender", in.sender.String()))
		return
	}
	s.view.Merge(s.ViewSize, s.HealingFactor, s.SwappingFactor, in.msg.Peers)
	s.view.Contacted(in.sender)
	telemetry.ViewSize.Set(float64(s.view.Len()))
}

// buildSample assembles the gossiped sample: the local node first, then
// the freshest entries of the permuted view.
func (s *Sampling) buildSample() []peer.Peer {
	sample := []peer.Peer{{ID: s.HostID, Address: s.Host}}
	return append(sample, s.view.SampleHead(s.HealingFactor+s.SwappingFactor)...)
}

func (s *Sampling) send(ctx context.Context, target address.Address, msg wire.Sampling) {
	written, err := s.Transport.Send(ctx, target, msg)
	if err != nil {
		telemetry.SendFailures.WithLabelValues("sampling").Inc()
		s.Logger.Warn("sampling send failed",
			zap.String("target", target.String()),
			zap.Error(err),
		)
		return
	}
	s.Logger.Debug("sampling message sent",
		zap.String("target", target.String()),
		zap.Int("bytes", written),
	)
}

func (s *Sampling) jitter() time.Duration {
	if s.PeriodDeviation <= 0 {
		return s.Period
	}
	return s.Period + rand.N(s.PeriodDeviation+1)
}
