package tcp

import (
	"context"
	"net"
	"time"

	"github.com/strombase/strom/internal/telemetry"
	"github.com/strombase/strom/internal/transport"
	"github.com/strombase/strom/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cockroachdb/errors"
)

// serve accepts inbound connections and spawns one bounded task per
// connection to decode and dispatch exactly one envelope. Per-message
// failures are logged and dropped; only listener closure ends the loop.
func (t *Transport) serve(ctx context.Context, lis net.Listener) {
	sem := semaphore.NewWeighted(t.cfg.MaxInflight)
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.cfg.Logger.Error("accept failed", zap.Error(err))
			return
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			_ = conn.Close()
			return
		}
		go func() {
			defer sem.Release(1)
			defer conn.Close()
			t.handleConn(ctx, conn)
		}()
	}
}

func (t *Transport) handleConn(ctx context.Context, conn net.Conn) {
	if err := conn.SetReadDeadline(time.Now().Add(t.cfg.Timeout)); err != nil {
		t.cfg.Logger.Warn("failed to set read deadline", zap.Error(err))
		return
	}
	env, err := wire.Decode(conn)
	if err != nil {
		telemetry.MessagesDropped.Inc()
		t.cfg.Logger.Warn("dropping malformed inbound frame",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err),
		)
		return
	}
	if err := t.dispatch(ctx, env); err != nil {
		telemetry.MessagesDropped.Inc()
		if errors.Is(err, transport.ErrChannelClosed) {
			t.cfg.Logger.Warn("dropping message for stopped subsystem",
				zap.String("sender", env.From.String()),
			)
			return
		}
		t.cfg.Logger.Warn("failed to dispatch inbound message",
			zap.String("sender", env.From.String()),
			zap.Error(err),
		)
	}
}

// dispatch routes a decoded envelope to the owning subsystem. The
// envelope kinds form a closed set; decode rejects anything else before
// this point.
func (t *Transport) dispatch(ctx context.Context, env wire.Envelope) error {
	switch env.Variant() {
	case wire.VariantSampling:
		telemetry.MessagesReceived.WithLabelValues("sampling").Inc()
		return t.sampling.deliver(ctx, env.From, *env.Sampling)
	case wire.VariantHeader:
		telemetry.MessagesReceived.WithLabelValues("header").Inc()
		return t.headers.deliver(ctx, env.From, *env.Header)
	case wire.VariantContent:
		telemetry.MessagesReceived.WithLabelValues("content").Inc()
		return t.contents.deliver(ctx, env.From, *env.Content)
	}
	return errors.Mark(errors.New("tcp: envelope has no valid body"), wire.ErrSerialization)
}
