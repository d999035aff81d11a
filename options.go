package strom

import (
	"github.com/cockroachdb/pebble/vfs"
	"github.com/strombase/strom/internal/propagate"
	"github.com/strombase/strom/internal/sampling"
	"github.com/strombase/strom/transport/tcp"
	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	// logger is shared by every subsystem unless a sub-config overrides
	// it.
	logger *zap.Logger
	// fs sets the filesystem backing the change log. Pass vfs.NewMem()
	// for tests.
	fs vfs.FS
	// transport overrides the default TCP transport.
	transport Transport
	// tcp configures the default transport; ignored when a custom
	// transport is set.
	tcp tcp.Config
	// sampling and propagation carry per-subsystem tuning; zero fields
	// fall back to defaults.
	sampling    sampling.Config
	propagation propagate.Config
}

func newOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sampling.Logger == nil {
		o.sampling.Logger = o.logger
	}
	if o.propagation.Logger == nil {
		o.propagation.Logger = o.logger
	}
	if o.tcp.Logger == nil {
		o.tcp.Logger = o.logger
	}
	return o
}

// WithLogger sets the logger shared by all subsystems.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFS sets the filesystem backing the change log.
func WithFS(fs vfs.FS) Option {
	return func(o *options) { o.fs = fs }
}

// WithTransport replaces the default TCP transport.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithTCP tunes the default TCP transport.
func WithTCP(cfg tcp.Config) Option {
	return func(o *options) { o.tcp = cfg }
}

// WithSampling tunes the peer sampling service.
func WithSampling(cfg sampling.Config) Option {
	return func(o *options) { o.sampling = cfg }
}

// WithPropagation tunes the change propagation service.
func WithPropagation(cfg propagate.Config) Option {
	return func(o *options) { o.propagation = cfg }
}
