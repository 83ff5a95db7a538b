package nonce

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultSyncTTL is how long a chain nonce lookup is trusted before it is refreshed.
const DefaultSyncTTL = 5 * time.Second

// unknownNonce marks a signer whose chain nonce must be looked up before use.
const unknownNonce = -1

// nonceState is the per-signer cache. nextNonce >= baseNonce and every pending nonce < nextNonce.
type nonceState struct {
	mutex           sync.Mutex
	baseNonce       int64
	nextNonce       int64
	lastChainSyncAt time.Time
	pending         map[uint64]struct{}
}

// Allocator hands out optimistic, strictly increasing nonces per signer without a chain
// round-trip on every call. Correctness under contention relies on the chain rejecting
// duplicates, which callers classify with ClassifyError and answer with ForceResync.
type Allocator struct {
	client  types.NonceSource
	logger  *logrus.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
	now     func() time.Time

	statesMutex sync.RWMutex                         // Mutex for states.
	states      map[types.SignerIdentity]*nonceState // Per-signer nonce caches.

	group singleflight.Group
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithSyncTTL sets how long a chain lookup is trusted.
func WithSyncTTL(ttl time.Duration) Option {
	return func(a *Allocator) {
		a.ttl = ttl
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Allocator) {
		a.metrics = m
	}
}

// NewAllocator creates a new nonce allocator.
//
// Parameters:
// - client: the source of chain transaction counts.
// - logger: the logger for logging events.
// - opts: optional settings.
//
// Returns:
// - *Allocator: the new allocator.
func NewAllocator(client types.NonceSource, logger *logrus.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		client: client,
		logger: logger,
		ttl:    DefaultSyncTTL,
		now:    time.Now,
		states: make(map[types.SignerIdentity]*nonceState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// state returns the cache for signer, creating it on first use.
func (a *Allocator) state(signer types.SignerIdentity) *nonceState {
	a.statesMutex.RLock()
	st, ok := a.states[signer]
	a.statesMutex.RUnlock()
	if ok {
		return st
	}

	a.statesMutex.Lock()
	defer a.statesMutex.Unlock()
	if st, ok = a.states[signer]; ok {
		return st
	}
	st = &nonceState{
		baseNonce: unknownNonce,
		pending:   make(map[uint64]struct{}),
	}
	a.states[signer] = st
	return st
}

// lookup returns an existing cache without creating one.
func (a *Allocator) lookup(signer types.SignerIdentity) (*nonceState, bool) {
	a.statesMutex.RLock()
	defer a.statesMutex.RUnlock()
	st, ok := a.states[signer]
	return st, ok
}

// NextNonce returns the next nonce for signer.
//
// The chain is consulted when nothing is cached or the cache is older than the sync TTL.
// A failed lookup is fatal only when no nonce is cached yet.
//
// Parameters:
// - ctx: the context for managing the request.
// - signer: the identity to allocate for.
//
// Returns:
// - uint64: the allocated nonce.
// - error: an error if the chain lookup fails and no nonce is cached.
func (a *Allocator) NextNonce(ctx context.Context, signer types.SignerIdentity) (uint64, error) {
	st := a.state(signer)

	st.mutex.Lock()
	needSync := st.baseNonce == unknownNonce || st.lastChainSyncAt.IsZero() || a.now().Sub(st.lastChainSyncAt) >= a.ttl
	st.mutex.Unlock()

	var (
		chainNonce uint64
		syncErr    error
	)
	if needSync {
		chainNonce, syncErr = a.fetch(ctx, signer)
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()

	if needSync {
		if syncErr != nil {
			if st.baseNonce == unknownNonce {
				return 0, errors.Wrapf(syncErr, "failed to get transaction count for %s", signer)
			}
			a.logger.WithFields(logrus.Fields{
				"signer":    signer.String(),
				"nextNonce": st.nextNonce,
			}).WithError(syncErr).Warn("Nonce refresh failed, using cached value")
		} else {
			a.reconcile(signer, st, int64(chainNonce))
		}
	}

	nonce := uint64(st.nextNonce)
	st.nextNonce++
	st.pending[nonce] = struct{}{}
	a.metrics.NonceAllocated()

	return nonce, nil
}

// fetch queries the chain once for all concurrent callers of the same signer. The shared
// query outlives any single caller's cancellation; each caller stops waiting on its own ctx.
func (a *Allocator) fetch(ctx context.Context, signer types.SignerIdentity) (uint64, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(signer.String(), func() (interface{}, error) {
		return a.client.GetTransactionCount(flightCtx, signer.Address())
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		a.metrics.ChainSynced(res.Err == nil)
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(uint64), nil
	}
}

// reconcile adopts the chain count when it is ahead of the local counter or the local state
// is unknown. Must be called with st.mutex held.
func (a *Allocator) reconcile(signer types.SignerIdentity, st *nonceState, chainNonce int64) {
	if st.baseNonce == unknownNonce || chainNonce > st.nextNonce {
		if st.baseNonce != unknownNonce || st.nextNonce != 0 {
			a.logger.WithFields(logrus.Fields{
				"signer":     signer.String(),
				"localNonce": st.nextNonce,
				"chainNonce": chainNonce,
			}).Debug("Adopting chain nonce")
		}
		st.baseNonce = chainNonce
		st.nextNonce = chainNonce
		for pending := range st.pending {
			if int64(pending) >= st.nextNonce {
				delete(st.pending, pending)
			}
		}
	}
	st.lastChainSyncAt = a.now()
}

// MarkComplete forgets an issued nonce. It never blocks on I/O and is safe to call repeatedly.
//
// Parameters:
// - signer: the identity the nonce was issued for.
// - nonce: the issued nonce.
// - success: whether the transaction using it was confirmed.
func (a *Allocator) MarkComplete(signer types.SignerIdentity, nonce uint64, success bool) {
	st, ok := a.lookup(signer)
	if !ok {
		return
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()

	delete(st.pending, nonce)
	if success && st.baseNonce != unknownNonce && int64(nonce)+1 > st.baseNonce {
		st.baseNonce = int64(nonce) + 1
	}
}

// ForceResync makes the next NextNonce call query the chain.
func (a *Allocator) ForceResync(signer types.SignerIdentity) {
	st, ok := a.lookup(signer)
	if !ok {
		return
	}

	st.mutex.Lock()
	st.lastChainSyncAt = time.Time{}
	st.mutex.Unlock()
	a.metrics.Resynced("soft")
}

// Reset forgets the cached nonce entirely so the next chain value is adopted even if it is
// lower than the local counter. Used after a non-retryable rejection.
func (a *Allocator) Reset(signer types.SignerIdentity) {
	st, ok := a.lookup(signer)
	if !ok {
		return
	}

	st.mutex.Lock()
	st.baseNonce = unknownNonce
	st.lastChainSyncAt = time.Time{}
	st.mutex.Unlock()
	a.metrics.Resynced("hard")
}

// Pending returns the issued but unresolved nonces of signer in ascending order.
func (a *Allocator) Pending(signer types.SignerIdentity) []uint64 {
	st, ok := a.lookup(signer)
	if !ok {
		return nil
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()

	nonces := make([]uint64, 0, len(st.pending))
	for nonce := range st.pending {
		nonces = append(nonces, nonce)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	return nonces
}

// State returns the base and next nonce of signer.
//
// Returns:
// - int64: the last chain-confirmed count, -1 when unknown.
// - int64: the next nonce to hand out.
// - bool: false when the signer has never been seen.
func (a *Allocator) State(signer types.SignerIdentity) (int64, int64, bool) {
	st, ok := a.lookup(signer)
	if !ok {
		return unknownNonce, 0, false
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()
	return st.baseNonce, st.nextNonce, true
}
