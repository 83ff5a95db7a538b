package executor

import (
	"context"
	"sync"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/metrics"
	"github.com/ClipFinance/gas-relay/nonce"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultMaxRetries is the number of send attempts made before giving up.
const DefaultMaxRetries = 3

// NonceAllocator is the subset of nonce.Allocator the executor drives.
type NonceAllocator interface {
	NextNonce(ctx context.Context, signer types.SignerIdentity) (uint64, error)
	MarkComplete(signer types.SignerIdentity, nonce uint64, success bool)
	ForceResync(signer types.SignerIdentity)
	Reset(signer types.SignerIdentity)
}

// Executor submits transactions with optimistic nonces, retrying transient nonce conflicts.
// Confirmations are tracked in the background and fed back into the allocator.
type Executor struct {
	ctx        context.Context
	allocator  NonceAllocator
	watcher    types.TransactionWatcher
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	maxRetries int

	wg sync.WaitGroup // Tracks confirmation watchers.
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxRetries sets the number of send attempts.
func WithMaxRetries(maxRetries int) Option {
	return func(e *Executor) {
		if maxRetries > 0 {
			e.maxRetries = maxRetries
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates a new retrying executor.
//
// Parameters:
// - ctx: the context bounding background confirmation watchers.
// - allocator: the nonce allocator.
// - watcher: the chain client used to await confirmations.
// - logger: the logger for logging events.
// - opts: optional settings.
//
// Returns:
// - *Executor: the new executor.
func NewExecutor(ctx context.Context, allocator NonceAllocator, watcher types.TransactionWatcher, logger *logrus.Logger, opts ...Option) *Executor {
	e := &Executor{
		ctx:        ctx,
		allocator:  allocator,
		watcher:    watcher,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit implements types.NonceStrategy.
func (e *Executor) Submit(ctx context.Context, signer types.SignerIdentity, send types.SendFunc) (*types.Transaction, error) {
	return e.Execute(ctx, signer, send)
}

// Execute obtains a nonce for signer and sends with it, retrying retryable rejections.
//
// A retryable rejection forces a chain resync before the next attempt. A fatal rejection
// resets the signer's nonce cache and is returned immediately.
//
// Parameters:
// - ctx: the context for managing the request.
// - signer: the identity whose nonces are used.
// - send: the function that signs and broadcasts with a given nonce.
//
// Returns:
// - *types.Transaction: the submitted transaction.
// - error: a FatalChainError, a RetriesExhaustedError, or a nonce allocation error.
func (e *Executor) Execute(ctx context.Context, signer types.SignerIdentity, send types.SendFunc) (*types.Transaction, error) {
	var (
		lastErr   error
		lastNonce uint64
	)

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		n, err := e.allocator.NextNonce(ctx, signer)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to allocate nonce for %s", signer)
		}

		tx, err := send(ctx, n)
		if err == nil {
			e.metrics.SendAttempted("success")
			e.track(signer, n, tx)
			return tx, nil
		}

		e.allocator.MarkComplete(signer, n, false)
		lastErr, lastNonce = err, n

		if nonce.ClassifyError(err) == nonce.Fatal {
			e.metrics.SendAttempted("fatal")
			e.allocator.Reset(signer)
			e.logger.WithFields(logrus.Fields{
				"signer":  signer.String(),
				"nonce":   n,
				"attempt": attempt,
			}).WithError(err).Error("Transaction rejected")
			return nil, &commonerrors.FatalChainError{Signer: signer.String(), Nonce: n, Cause: err}
		}

		e.metrics.SendAttempted("retryable")
		e.logger.WithFields(logrus.Fields{
			"signer":      signer.String(),
			"nonce":       n,
			"attempt":     attempt,
			"maxAttempts": e.maxRetries,
		}).WithError(err).Warn("Retryable nonce error")

		if attempt < e.maxRetries {
			e.allocator.ForceResync(signer)
		}
	}

	return nil, &commonerrors.RetriesExhaustedError{
		Signer:    signer.String(),
		Attempts:  e.maxRetries,
		LastNonce: lastNonce,
		Cause:     &commonerrors.NonceRetryableError{Signer: signer.String(), Nonce: lastNonce, Cause: lastErr},
	}
}

// track waits for tx in the background and releases its nonce once the outcome is known.
func (e *Executor) track(signer types.SignerIdentity, n uint64, tx *types.Transaction) {
	if tx == nil || tx.Hash == "" {
		e.allocator.MarkComplete(signer, n, true)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		status, err := e.watcher.WaitForConfirmation(e.ctx, tx.Hash)
		confirmed := err == nil && status.Confirmed()
		e.allocator.MarkComplete(signer, n, confirmed)

		fields := logrus.Fields{
			"signer": signer.String(),
			"nonce":  n,
			"txHash": tx.Hash,
			"status": status,
		}
		switch {
		case err != nil:
			e.logger.WithFields(fields).WithError(err).Error("Failed to confirm transaction")
		case !confirmed:
			e.logger.WithFields(fields).Warn("Transaction not confirmed")
		default:
			e.logger.WithFields(fields).Debug("Transaction confirmed")
		}
	}()
}

// Wait blocks until every background confirmation watcher has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}
