package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/metrics"
	"github.com/sirupsen/logrus"
)

type config struct {
	pollInterval time.Duration
	metrics      *metrics.Metrics
}

// Option configures sequencers created by a Registry.
type Option func(*config)

// WithPollInterval sets how often an idle sequencer checks its queue.
func WithPollInterval(interval time.Duration) Option {
	return func(c *config) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// Registry owns one Sequencer per signer.
type Registry struct {
	ctx    context.Context
	client types.NonceSource
	logger *logrus.Logger
	cfg    *config

	sequencersMutex sync.Mutex                          // Mutex for sequencers.
	sequencers      map[types.SignerIdentity]*Sequencer // Sequencers by signer.
}

// NewRegistry creates an empty registry.
//
// Parameters:
// - ctx: the context bounding every sequencer loop and operation.
// - client: the source of chain transaction counts.
// - logger: the logger for logging events.
// - opts: optional settings.
//
// Returns:
// - *Registry: the new registry.
func NewRegistry(ctx context.Context, client types.NonceSource, logger *logrus.Logger, opts ...Option) *Registry {
	cfg := &config{pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Registry{
		ctx:        ctx,
		client:     client,
		logger:     logger,
		cfg:        cfg,
		sequencers: make(map[types.SignerIdentity]*Sequencer),
	}
}

// Get returns the sequencer for signer, creating it on first use. Identities that
// differ only in letter case share one sequencer.
func (r *Registry) Get(signer types.SignerIdentity) *Sequencer {
	signer = types.NewSignerIdentity(signer.String())

	r.sequencersMutex.Lock()
	defer r.sequencersMutex.Unlock()

	if s, ok := r.sequencers[signer]; ok {
		return s
	}
	s := newSequencer(r.ctx, signer, r.client, r.logger, r.cfg)
	r.sequencers[signer] = s
	return s
}

// Clear stops and forgets the sequencer of signer. The next Get creates a fresh one.
func (r *Registry) Clear(signer types.SignerIdentity) {
	signer = types.NewSignerIdentity(signer.String())

	r.sequencersMutex.Lock()
	s, ok := r.sequencers[signer]
	delete(r.sequencers, signer)
	r.sequencersMutex.Unlock()

	if ok {
		s.Stop()
	}
}

// ClearAll stops and forgets every sequencer, waiting for their loops to exit.
func (r *Registry) ClearAll() {
	r.sequencersMutex.Lock()
	all := r.sequencers
	r.sequencers = make(map[types.SignerIdentity]*Sequencer)
	r.sequencersMutex.Unlock()

	for _, s := range all {
		s.StopAndWait()
	}
}

// Len returns the number of live sequencers.
func (r *Registry) Len() int {
	r.sequencersMutex.Lock()
	defer r.sequencersMutex.Unlock()
	return len(r.sequencers)
}
