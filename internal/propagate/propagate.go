// Package propagate implements the anti-entropy change propagator. It
// rides on the peer sampling service's view to pick exchange partners
// and reconciles divergent change logs in two phases: a header exchange
// negotiates which change ids are missing, then a content exchange
// transfers the payloads, which are applied idempotently. Fresh local
// changes are additionally pushed directly to a bounded number of peers
// ahead of the periodic cycle.
package propagate

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/changelog"
	"github.com/strombase/strom/internal/peer"
	"github.com/strombase/strom/internal/telemetry"
	"github.com/strombase/strom/internal/transport"
	"github.com/strombase/strom/internal/wire"
	"go.uber.org/zap"
)

type headerInbound struct {
	sender address.Address
	msg    wire.Header
}

type contentInbound struct {
	sender address.Address
	msg    wire.Content
}

// Propagate is the anti-entropy engine. It owns the outbound change
// buffer; the view and the change log are shared collaborators accessed
// through their own synchronization.
type Propagate struct {
	Config
	buf      *buffer
	headers  chan headerInbound
	contents chan contentInbound
	done     chan struct{}
}

// New wires a propagator and registers it with the header and content
// transports. The service does nothing until Run is called.
func New(cfg Config) (*Propagate, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Propagate{
		Config:   cfg,
		buf:      newBuffer(cfg.ActionsSize),
		headers:  make(chan headerInbound, 64),
		contents: make(chan contentInbound, 64),
		done:     make(chan struct{}),
	}
	cfg.Headers.Handle(p.enqueueHeader)
	cfg.Contents.Handle(p.enqueueContent)
	return p, nil
}

// Run drives rounds and inbound processing until ctx is cancelled,
// waiting for in-flight exchanges before returning.
func (p *Propagate) Run(ctx context.Context) error {
	defer close(p.done)
	p.Logger.Info("running change propagation service",
		zap.String("host", p.Host.String()),
		zap.Int("actionsSize", p.ActionsSize),
		zap.Int("maxBroadcast", p.MaxBroadcast),
	)
	var wg sync.WaitGroup
	defer wg.Wait()
	timer := time.NewTimer(p.jitter())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-p.headers:
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.processHeader(ctx, in)
			}()
		case in := <-p.contents:
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.processContent(ctx, in)
			}()
		case <-timer.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.RoundOnce(ctx)
			}()
			timer.Reset(p.jitter())
		}
	}
}

// Broadcast records a fresh local change for direct push and fans it out
// to up to MaxBroadcast peers immediately. Called by the storage layer
// after the change has been appended to the local log.
func (p *Propagate) Broadcast(ctx context.Context, rec changelog.Record) {
	p.buf.Push(rec, p.MaxBroadcast)
	snap := p.View.Snapshot()
	rand.Shuffle(len(snap), func(i, j int) { snap[i], snap[j] = snap[j], snap[i] })
	if len(snap) > p.MaxBroadcast {
		snap = snap[:p.MaxBroadcast]
	}
	for _, target := range snap {
		p.sendPending(ctx, target.Address)
	}
}

// RoundOnce runs a single anti-entropy round: flush pending broadcasts
// to a sampled peer and open a header exchange with it.
func (p *Propagate) RoundOnce(ctx context.Context) {
	telemetry.PropagationRounds.Inc()
	if !p.Push {
		return
	}
	target, ok := p.pickPeer()
	if !ok {
		p.Logger.Warn("no peer available for propagation round")
		return
	}
	p.sendPending(ctx, target.Address)
	cursor, err := p.Log.RemoteCursor(target.Address)
	if err != nil {
		p.Logger.Error("failed to load remote cursor", zap.Error(err))
		return
	}
	p.sendHeader(ctx, target.Address, wire.Header{
		Kind:         wire.KindRequest,
		FromTime:     cursor.Time,
		LastChangeID: cursor.ChangeID,
	})
}

func (p *Propagate) pickPeer() (peer.Peer, bool) {
	snap := p.View.Snapshot()
	if len(snap) == 0 {
		return peer.Peer{}, false
	}
	return snap[rand.IntN(len(snap))], true
}

// sendPending pushes buffered changes not yet delivered to target.
func (p *Propagate) sendPending(ctx context.Context, target address.Address) {
	pending := p.buf.Pending(target)
	if len(pending) == 0 {
		return
	}
	written, err := p.Contents.Send(ctx, target, wire.Content{
		Kind:    wire.KindBroadcast,
		Changes: pending,
	})
	if err != nil {
		telemetry.SendFailures.WithLabelValues("content").Inc()
		p.Logger.Warn("change broadcast failed",
			zap.String("target", target.String()),
			zap.Error(err),
		)
		return
	}
	ids := make([]uuid.UUID, len(pending))
	for i, rec := range pending {
		ids[i] = rec.ChangeID
	}
	p.buf.MarkSent(target, ids)
	telemetry.ChangesBroadcast.Add(float64(len(pending)))
	p.Logger.Debug("change broadcast sent",
		zap.String("target", target.String()),
		zap.Int("changes", len(pending)),
		zap.Int("bytes", written),
	)
}

func (p *Propagate) enqueueHeader(ctx context.Context, sender address.Address, msg wire.Header) error {
	select {
	case <-p.done:
		return transport.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.headers <- headerInbound{sender: sender, msg: msg}:
		return nil
	}
}

func (p *Propagate) enqueueContent(ctx context.Context, sender address.Address, msg wire.Content) error {
	select {
	case <-p.done:
		return transport.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.contents <- contentInbound{sender: sender, msg: msg}:
		return nil
	}
}

func (p *Propagate) processHeader(ctx context.Context, in headerInbound) {
	switch in.msg.Kind {
	case wire.KindRequest:
		if !p.Pull {
			return
		}
		ids, err := p.Log.ChangesSince(in.msg.Cursor())
		if err != nil {
			p.Logger.Error("failed to list changes for header request", zap.Error(err))
			return
		}
		p.sendHeader(ctx, in.sender, wire.Header{Kind: wire.KindResponse, ChangeIDs: ids})
	case wire.KindResponse:
		p.reconcileHeader(ctx, in.sender, in.msg.ChangeIDs)
	default:
		telemetry.MessagesDropped.Inc()
		p.Logger.Warn("dropping header with unknown kind", zap.Uint8("kind", uint8(in.msg.Kind)))
	}
}

// reconcileHeader diffs the responder's id list against the local log.
// Missing ids are pulled via a content request. When nothing is missing
// the exchange is complete, and the remote cursor advances to the newest
// listed position so future headers shrink; a listed id that has been
// superseded locally carries no position and is skipped, which at worst
// re-lists it next round.
func (p *Propagate) reconcileHeader(ctx context.Context, sender address.Address, ids []uuid.UUID) {
	var missing []uuid.UUID
	advance := changelog.Cursor{}
	for _, id := range ids {
		rec, found, err := p.Log.Fetch(id)
		if err != nil {
			p.Logger.Error("failed to probe change id", zap.Error(err))
			return
		}
		if !found {
			missing = append(missing, id)
			continue
		}
		if rec.ChangeID == id && advance.Before(rec.UpdatedAt, rec.ChangeID) {
			advance = rec.Position()
		}
	}
	if len(missing) > 0 {
		written, err := p.Contents.Send(ctx, sender, wire.Content{
			Kind:      wire.KindRequest,
			ChangeIDs: missing,
		})
		if err != nil {
			telemetry.SendFailures.WithLabelValues("content").Inc()
			p.Logger.Warn("content request failed",
				zap.String("target", sender.String()),
				zap.Error(err),
			)
			return
		}
		p.Logger.Debug("content request sent",
			zap.String("target", sender.String()),
			zap.Int("missing", len(missing)),
			zap.Int("bytes", written),
		)
		return
	}
	if !advance.IsZero() {
		p.advanceCursor(sender, advance)
	}
}

func (p *Propagate) processContent(ctx context.Context, in contentInbound) {
	switch in.msg.Kind {
	case wire.KindRequest:
		recs := make([]changelog.Record, 0, len(in.msg.ChangeIDs))
		for _, id := range in.msg.ChangeIDs {
			rec, found, err := p.Log.Fetch(id)
			if err != nil {
				p.Logger.Error("failed to fetch change", zap.Error(err))
				return
			}
			if found {
				recs = append(recs, rec)
			}
		}
		written, err := p.Contents.Send(ctx, in.sender, wire.Content{
			Kind:    wire.KindResponse,
			Changes: recs,
		})
		if err != nil {
			telemetry.SendFailures.WithLabelValues("content").Inc()
			p.Logger.Warn("content response failed",
				zap.String("target", in.sender.String()),
				zap.Error(err),
			)
			return
		}
		p.Logger.Debug("content response sent",
			zap.String("target", in.sender.String()),
			zap.Int("changes", len(recs)),
			zap.Int("bytes", written),
		)
	case wire.KindResponse, wire.KindBroadcast:
		for _, rec := range in.msg.Changes {
			applied, err := p.Log.Apply(rec)
			if err != nil {
				p.Logger.Error("failed to apply change",
					zap.String("changeID", rec.ChangeID.String()),
					zap.Error(err),
				)
				return
			}
			if applied {
				telemetry.ChangesApplied.Inc()
			}
		}
	default:
		telemetry.MessagesDropped.Inc()
		p.Logger.Warn("dropping content with unknown kind", zap.Uint8("kind", uint8(in.msg.Kind)))
	}
}

func (p *Propagate) sendHeader(ctx context.Context, target address.Address, msg wire.Header) {
	written, err := p.Headers.Send(ctx, target, msg)
	if err != nil {
		telemetry.SendFailures.WithLabelValues("header").Inc()
		p.Logger.Warn("header send failed",
			zap.String("target", target.String()),
			zap.Error(err),
		)
		return
	}
	p.Logger.Debug("header sent",
		zap.String("target", target.String()),
		zap.Int("bytes", written),
	)
}

func (p *Propagate) advanceCursor(addr address.Address, pos changelog.Cursor) {
	current, err := p.Log.RemoteCursor(addr)
	if err != nil {
		p.Logger.Error("failed to load remote cursor", zap.Error(err))
		return
	}
	if !current.Before(pos.Time, pos.ChangeID) {
		return
	}
	if err := p.Log.SetRemoteCursor(addr, pos); err != nil {
		p.Logger.Error("failed to advance remote cursor", zap.Error(err))
	}
}

func (p *Propagate) jitter() time.Duration {
	if p.PeriodDeviation <= 0 {
		return p.Period
	}
	return p.Period + rand.N(p.PeriodDeviation+1)
}
