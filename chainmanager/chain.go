package chainmanager

import (
	"context"
	"sync"

	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/executor"
	"github.com/ClipFinance/gas-relay/nonce"
	"github.com/ClipFinance/gas-relay/relay"
	"github.com/ClipFinance/gas-relay/sequencer"
	"github.com/ethereum/go-ethereum/common"
)

// Chain owns the relay stack of one chain and releases it on Close.
// Request handling is delegated to the pipeline, which is safe for concurrent use.
type Chain struct {
	config    *types.ChainConfig  // Chain configuration.
	funder    types.FundingSigner // Hot wallet implementation.
	allocator *nonce.Allocator    // Optimistic hot wallet nonce allocator.
	executor  *executor.Executor  // Retrying executor over the allocator.
	registry  *sequencer.Registry // Per-signer sequencers for strictly ordered funding.
	pipeline  *relay.Pipeline     // Validation and relay pipeline.
	cancel    context.CancelFunc  // Cancels background work of the stack.
	closer    func()              // Releases the chain client.

	closeOnce sync.Once // Guards Close.
}

// NewChain creates a new Chain instance from already assembled components.
//
// Parameters:
// - config: the chain configuration.
// - funder: the hot wallet.
// - allocator: the nonce allocator behind exec.
// - exec: the retrying executor.
// - registry: the sequencer registry.
// - pipeline: the relay pipeline using exec and registry.
// - cancel: cancels the context the components were created with, may be nil.
// - closer: releases the chain client, may be nil.
//
// Returns:
// - *Chain: a new Chain instance.
func NewChain(
	config *types.ChainConfig,
	funder types.FundingSigner,
	allocator *nonce.Allocator,
	exec *executor.Executor,
	registry *sequencer.Registry,
	pipeline *relay.Pipeline,
	cancel context.CancelFunc,
	closer func(),
) *Chain {
	return &Chain{
		config:    config,
		funder:    funder,
		allocator: allocator,
		executor:  exec,
		registry:  registry,
		pipeline:  pipeline,
		cancel:    cancel,
		closer:    closer,
	}
}

// RelayTransaction funds the sender of req and broadcasts req.
//
// Parameters:
// - ctx: the context for managing the request.
// - req: the client's pre-signed transaction.
// - ordered: fund through the hot wallet's sequencer instead of the retrying executor.
//
// Returns:
// - *types.RelayResult: the hashes of the client and funding transactions.
// - error: an error convertible with errors.ToRelayError.
func (c *Chain) RelayTransaction(ctx context.Context, req *types.RelayTransactionRequest, ordered bool) (*types.RelayResult, error) {
	var opts []relay.RelayOption
	if ordered {
		opts = append(opts, relay.WithStrictOrdering())
	}
	return c.pipeline.RelayTransaction(ctx, req, opts...)
}

// FundAddressIfEmpty sends the configured fund amount to an address without balance.
func (c *Chain) FundAddressIfEmpty(ctx context.Context, address string) (*types.FundResult, error) {
	return c.pipeline.FundAddressIfEmpty(ctx, address)
}

// GetConfig returns chain configuration.
//
// Returns:
// - *types.ChainConfig: the chain configuration instance.
func (c *Chain) GetConfig() *types.ChainConfig {
	return c.config
}

// HotWallet returns the address paying for funding transactions.
func (c *Chain) HotWallet() common.Address {
	return c.funder.Address()
}

// PendingNonces returns the hot wallet nonces handed out by the allocator and not yet completed.
func (c *Chain) PendingNonces() []uint64 {
	return c.allocator.Pending(types.SignerFromAddress(c.funder.Address()))
}

// Close cancels in-flight background work, stops the sequencers and releases
// the chain client. It is safe to call more than once.
func (c *Chain) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.registry.ClearAll()
		c.executor.Wait()
		if c.closer != nil {
			c.closer()
		}
	})
}
