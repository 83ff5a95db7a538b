package sequencer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/mocks"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigner = types.NewSignerIdentity("0x00000000000000000000000000000000000000aa")

func newTestRegistry(t *testing.T, client types.NonceSource) (*Registry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r := NewRegistry(context.Background(), client, logger, WithPollInterval(time.Millisecond))
	t.Cleanup(r.ClearAll)
	return r, hook
}

// recordNonce returns an operation that succeeds with a transaction carrying the assigned nonce.
func recordNonce() Operation {
	return func(_ context.Context, params types.TxParams) (*types.Transaction, error) {
		nonce, _ := params.Nonce()
		return &types.Transaction{Nonce: nonce}, nil
	}
}

// blockUntil returns an operation that signals started and then waits for release.
func blockUntil(started, release chan struct{}) Operation {
	return func(ctx context.Context, params types.TxParams) (*types.Transaction, error) {
		close(started)
		<-release
		return recordNonce()(ctx, params)
	}
}

func TestSequencerRunsActionsInOrderWithConsecutiveNonces(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(10), nil).Once()

	r, _ := newTestRegistry(t, client)
	s := r.Get(testSigner)

	var order []int
	futures := make([]*Future, 0, 3)
	for i := 0; i < 3; i++ {
		i := i
		futures = append(futures, s.Enqueue(func(ctx context.Context, params types.TxParams) (*types.Transaction, error) {
			order = append(order, i)
			return recordNonce()(ctx, params)
		}, types.TxParams{"label": i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, f := range futures {
		tx, err := f.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(10+i), tx.Nonce)
	}
	require.Equal(t, []int{0, 1, 2}, order)
	client.AssertNumberOfCalls(t, "GetTransactionCount", 1)
}

func TestSequencerPassesExtraParams(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(1), nil).Once()

	r, _ := newTestRegistry(t, client)

	var seen types.TxParams
	f := r.Get(testSigner).Enqueue(func(_ context.Context, params types.TxParams) (*types.Transaction, error) {
		seen = params
		return &types.Transaction{}, nil
	}, types.TxParams{"gasPrice": "7"})

	_, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "7", seen["gasPrice"])
	nonce, ok := seen.Nonce()
	require.True(t, ok)
	require.Equal(t, uint64(1), nonce)
}

func TestSequencerFailureFlushesQueue(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(10), nil).Once()
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(11), nil).Once()

	r, hook := newTestRegistry(t, client)
	s := r.Get(testSigner)

	started := make(chan struct{})
	release := make(chan struct{})
	var cInvoked atomic.Bool

	a := s.Enqueue(blockUntil(started, release), nil)
	<-started
	b := s.Enqueue(func(context.Context, types.TxParams) (*types.Transaction, error) {
		return nil, errors.New("execution reverted")
	}, nil)
	c := s.Enqueue(func(ctx context.Context, params types.TxParams) (*types.Transaction, error) {
		cInvoked.Store(true)
		return recordNonce()(ctx, params)
	}, nil)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	txA, err := a.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), txA.Nonce)

	_, errB := b.Wait(ctx)
	var flushB *commonerrors.SequencerFlushError
	require.True(t, errors.As(errB, &flushB))
	require.Equal(t, b.ID(), flushB.ActionID)
	require.Equal(t, uint64(11), flushB.Nonce)
	require.ErrorContains(t, errB, "execution reverted")

	_, errC := c.Wait(ctx)
	var flushC *commonerrors.SequencerFlushError
	require.True(t, errors.As(errC, &flushC))
	require.Equal(t, b.ID(), flushC.ActionID)
	require.False(t, cInvoked.Load())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.ErrorLevel, entry.Level)
	require.Equal(t, 1, entry.Data["flushed"])

	d := s.Enqueue(recordNonce(), nil)
	txD, err := d.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(11), txD.Nonce)
	client.AssertExpectations(t)
}

func TestSequencerNonceLookupFailureRejectsAction(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(0), errors.New("dial tcp: refused")).Once()

	r, _ := newTestRegistry(t, client)

	var invoked atomic.Bool
	f := r.Get(testSigner).Enqueue(func(context.Context, types.TxParams) (*types.Transaction, error) {
		invoked.Store(true)
		return nil, nil
	}, nil)

	_, err := f.Wait(context.Background())
	var flushErr *commonerrors.SequencerFlushError
	require.True(t, errors.As(err, &flushErr))
	require.ErrorContains(t, err, "refused")
	require.False(t, invoked.Load())
}

func TestSequencerStopRejectsQueuedAndLaterActions(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(0), nil).Once()

	r, _ := newTestRegistry(t, client)
	s := r.Get(testSigner)

	started := make(chan struct{})
	release := make(chan struct{})
	a := s.Enqueue(blockUntil(started, release), nil)
	<-started
	b := s.Enqueue(recordNonce(), nil)

	s.Stop()

	_, err := b.Wait(context.Background())
	require.ErrorIs(t, err, commonerrors.ErrSequencerStopped)

	close(release)
	_, err = a.Wait(context.Background())
	require.NoError(t, err)

	_, err = s.Enqueue(recordNonce(), nil).Wait(context.Background())
	require.ErrorIs(t, err, commonerrors.ErrSequencerStopped)

	require.NotPanics(t, s.StopAndWait)
}

func TestSequencerStopAndWaitWithoutActions(t *testing.T) {
	r, _ := newTestRegistry(t, &mocks.MockChainClient{})
	s := r.Get(testSigner)

	done := make(chan struct{})
	go func() {
		s.StopAndWait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StopAndWait did not return")
	}
}

func TestSequencerCancelQueuedAction(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(4), nil).Once()

	r, _ := newTestRegistry(t, client)
	s := r.Get(testSigner)

	started := make(chan struct{})
	release := make(chan struct{})
	a := s.Enqueue(blockUntil(started, release), nil)
	<-started
	b := s.Enqueue(recordNonce(), nil)

	require.ElementsMatch(t, []string{a.ID(), b.ID()}, s.InFlight())
	require.False(t, s.Cancel(a.ID()))
	require.True(t, s.Cancel(b.ID()))
	require.False(t, s.Cancel(b.ID()))

	_, err := b.Wait(context.Background())
	require.ErrorIs(t, err, commonerrors.ErrActionCancelled)
	require.Equal(t, []string{a.ID()}, s.InFlight())

	close(release)
	tx, err := a.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(4), tx.Nonce)

	tx, err = s.Enqueue(recordNonce(), nil).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(5), tx.Nonce)
}

func TestRegistryKeysByNormalizedSigner(t *testing.T) {
	r, _ := newTestRegistry(t, &mocks.MockChainClient{})

	lower := r.Get(types.SignerIdentity("0x00000000000000000000000000000000000000aa"))
	upper := r.Get(types.SignerIdentity("0x00000000000000000000000000000000000000AA"))
	require.Same(t, lower, upper)
	require.Equal(t, testSigner, upper.Signer())
	require.Equal(t, 1, r.Len())

	other := r.Get(types.NewSignerIdentity("0x00000000000000000000000000000000000000bb"))
	require.NotSame(t, lower, other)
	require.Equal(t, 2, r.Len())
}

func TestRegistryClearCreatesFreshSequencer(t *testing.T) {
	r, _ := newTestRegistry(t, &mocks.MockChainClient{})

	first := r.Get(testSigner)
	r.Clear(testSigner)
	require.Equal(t, 0, r.Len())

	_, err := first.Enqueue(recordNonce(), nil).Wait(context.Background())
	require.ErrorIs(t, err, commonerrors.ErrSequencerStopped)

	second := r.Get(testSigner)
	require.NotSame(t, first, second)
}

func TestStrategySubmitPassesAssignedNonce(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(5), nil).Once()

	r, _ := newTestRegistry(t, client)
	strategy := NewStrategy(r)

	send := func(_ context.Context, nonce uint64) (*types.Transaction, error) {
		return &types.Transaction{Nonce: nonce}, nil
	}

	for want := uint64(5); want < 8; want++ {
		tx, err := strategy.Submit(context.Background(), testSigner, send)
		require.NoError(t, err)
		require.Equal(t, want, tx.Nonce)
	}
	client.AssertNumberOfCalls(t, "GetTransactionCount", 1)
}

func TestStrategySubmitCancelsQueuedActionOnContextEnd(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(0), nil).Once()

	r, _ := newTestRegistry(t, client)
	s := r.Get(testSigner)

	started := make(chan struct{})
	release := make(chan struct{})
	a := s.Enqueue(blockUntil(started, release), nil)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sent atomic.Bool
	_, err := NewStrategy(r).Submit(ctx, testSigner, func(context.Context, uint64) (*types.Transaction, error) {
		sent.Store(true)
		return &types.Transaction{}, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, s.Len())

	close(release)
	_, err = a.Wait(context.Background())
	require.NoError(t, err)
	require.False(t, sent.Load())
}
