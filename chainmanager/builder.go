package chainmanager

import (
	"context"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/executor"
	"github.com/ClipFinance/gas-relay/metrics"
	"github.com/ClipFinance/gas-relay/nonce"
	"github.com/ClipFinance/gas-relay/relay"
	"github.com/ClipFinance/gas-relay/sequencer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ChainBuilder is a builder pattern implementation for the relay stack of one chain.
// It wires the chain client and hot wallet into the nonce allocator, the retrying
// executor, the sequencer registry and the validation pipeline.
type ChainBuilder struct {
	config  *types.ChainConfig  // Chain configuration.
	client  types.ChainClient   // Chain client implementation.
	funder  types.FundingSigner // Hot wallet implementation.
	metrics *metrics.Metrics    // Optional instrumentation.
	closer  func()              // Releases the chain client on Close.

	nonceOptions     []nonce.Option
	executorOptions  []executor.Option
	sequencerOptions []sequencer.Option
	pipelineOptions  []relay.Option
}

// NewChainBuilder creates a new chain builder instance.
//
// Parameters:
// - config: the chain configuration.
//
// Returns:
// - *ChainBuilder: a new ChainBuilder instance.
func NewChainBuilder(config *types.ChainConfig) *ChainBuilder {
	return &ChainBuilder{
		config: config,
	}
}

// WithChainClient sets the chain client implementation.
//
// Parameters:
// - client: the chain client implementation.
//
// Returns:
// - *ChainBuilder: the updated ChainBuilder instance.
func (b *ChainBuilder) WithChainClient(client types.ChainClient) *ChainBuilder {
	b.client = client
	return b
}

// WithFundingSigner sets the hot wallet implementation.
//
// Parameters:
// - funder: the hot wallet implementation.
//
// Returns:
// - *ChainBuilder: the updated ChainBuilder instance.
func (b *ChainBuilder) WithFundingSigner(funder types.FundingSigner) *ChainBuilder {
	b.funder = funder
	return b
}

// WithMetrics shares m with every component of the stack.
func (b *ChainBuilder) WithMetrics(m *metrics.Metrics) *ChainBuilder {
	b.metrics = m
	return b
}

// WithCloser sets the function releasing the chain client when the chain is closed.
func (b *ChainBuilder) WithCloser(closer func()) *ChainBuilder {
	b.closer = closer
	return b
}

func (b *ChainBuilder) WithNonceOptions(opts ...nonce.Option) *ChainBuilder {
	b.nonceOptions = append(b.nonceOptions, opts...)
	return b
}

func (b *ChainBuilder) WithExecutorOptions(opts ...executor.Option) *ChainBuilder {
	b.executorOptions = append(b.executorOptions, opts...)
	return b
}

func (b *ChainBuilder) WithSequencerOptions(opts ...sequencer.Option) *ChainBuilder {
	b.sequencerOptions = append(b.sequencerOptions, opts...)
	return b
}

func (b *ChainBuilder) WithPipelineOptions(opts ...relay.Option) *ChainBuilder {
	b.pipelineOptions = append(b.pipelineOptions, opts...)
	return b
}

// Build creates the relay stack with the configured implementations.
//
// Parameters:
// - ctx: the context bounding background work of the stack (sequencer loops, confirmation watchers).
// - logger: the logger shared by all components.
//
// Returns:
// - *Chain: the assembled chain.
// - error: an error if the chain id, the chain client or the hot wallet is missing.
func (b *ChainBuilder) Build(ctx context.Context, logger *logrus.Logger) (*Chain, error) {
	if b.config == nil {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "chain config is required")
	}
	if b.config.ChainID == 0 {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "chain id is required")
	}
	if b.client == nil {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "chain client is required")
	}
	if b.funder == nil {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "funding signer is required")
	}

	ctx, cancel := context.WithCancel(ctx)

	allocator := nonce.NewAllocator(b.client, logger, append([]nonce.Option{nonce.WithMetrics(b.metrics)}, b.nonceOptions...)...)
	exec := executor.NewExecutor(ctx, allocator, b.client, logger, append([]executor.Option{executor.WithMetrics(b.metrics)}, b.executorOptions...)...)
	registry := sequencer.NewRegistry(ctx, b.client, logger, append([]sequencer.Option{sequencer.WithMetrics(b.metrics)}, b.sequencerOptions...)...)
	pipeline := relay.NewPipeline(
		b.client,
		b.funder,
		exec,
		sequencer.NewStrategy(registry),
		logger,
		append([]relay.Option{relay.WithMetrics(b.metrics), relay.WithChainID(b.config.ChainID)}, b.pipelineOptions...)...,
	)

	return NewChain(b.config, b.funder, allocator, exec, registry, pipeline, cancel, b.closer), nil
}
