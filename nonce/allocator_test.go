package nonce

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/mocks"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigner = types.NewSignerIdentity("0xAbCdEf0000000000000000000000000000000001")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAllocator(client types.NonceSource, clock *fakeClock) (*Allocator, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewAllocator(client, logger, WithClock(clock.Now)), hook
}

func TestNextNonceFetchesOnFirstUseThenIncrements(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(7), nil).Once()

	a, _ := newTestAllocator(client, newFakeClock())
	ctx := context.Background()

	first, err := a.NextNonce(ctx, testSigner)
	require.NoError(t, err)
	second, err := a.NextNonce(ctx, testSigner)
	require.NoError(t, err)

	require.Equal(t, uint64(7), first)
	require.Equal(t, uint64(8), second)
	require.Equal(t, []uint64{7, 8}, a.Pending(testSigner))
	client.AssertNumberOfCalls(t, "GetTransactionCount", 1)
}

func TestNextNonceConcurrentCallsNeverRepeat(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(3), nil)

	a, _ := newTestAllocator(client, newFakeClock())

	const callers = 64
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		issued []uint64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := a.NextNonce(context.Background(), testSigner)
			assert.NoError(t, err)
			mu.Lock()
			issued = append(issued, n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(issued, func(i, j int) bool { return issued[i] < issued[j] })
	require.Len(t, issued, callers)
	for i, n := range issued {
		require.Equal(t, uint64(3+i), n)
	}
}

func TestNextNonceCancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var (
		startOnce sync.Once
		mu        sync.Mutex
		fetchErrs []error
	)

	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).
		Run(func(args mock.Arguments) {
			startOnce.Do(func() { close(started) })
			<-release
			mu.Lock()
			fetchErrs = append(fetchErrs, args.Get(0).(context.Context).Err())
			mu.Unlock()
		}).
		Return(uint64(3), nil)

	a, _ := newTestAllocator(client, newFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := a.NextNonce(ctx, testSigner)
		firstErr <- err
	}()
	<-started

	type result struct {
		nonce uint64
		err   error
	}
	second := make(chan result, 1)
	go func() {
		n, err := a.NextNonce(context.Background(), testSigner)
		second <- result{n, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, uint64(3), res.nonce)

	mu.Lock()
	defer mu.Unlock()
	for _, err := range fetchErrs {
		require.NoError(t, err)
	}
}

func TestNextNonceAdoptsHigherChainValueAfterTTL(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(5), nil).Once()
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(10), nil).Once()

	clock := newFakeClock()
	a, _ := newTestAllocator(client, clock)
	ctx := context.Background()

	n, err := a.NextNonce(ctx, testSigner)
	require.NoError(t, err)
	require.Equal(t, uint64(5), n)

	clock.Advance(DefaultSyncTTL)

	n, err = a.NextNonce(ctx, testSigner)
	require.NoError(t, err)
	require.Equal(t, uint64(10), n)

	base, next, ok := a.State(testSigner)
	require.True(t, ok)
	require.Equal(t, int64(10), base)
	require.Equal(t, int64(11), next)
	require.Equal(t, []uint64{5, 10}, a.Pending(testSigner))
}

func TestNextNonceKeepsLocalCounterWhenChainIsBehind(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(5), nil)

	clock := newFakeClock()
	a, _ := newTestAllocator(client, clock)
	ctx := context.Background()

	for want := uint64(5); want < 7; want++ {
		n, err := a.NextNonce(ctx, testSigner)
		require.NoError(t, err)
		require.Equal(t, want, n)
	}

	clock.Advance(2 * DefaultSyncTTL)

	n, err := a.NextNonce(ctx, testSigner)
	require.NoError(t, err)
	require.Equal(t, uint64(7), n)
	client.AssertNumberOfCalls(t, "GetTransactionCount", 2)
}

func TestNextNonceFailsWhenNothingCached(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(0), errors.New("connection refused"))

	a, _ := newTestAllocator(client, newFakeClock())

	_, err := a.NextNonce(context.Background(), testSigner)
	require.ErrorContains(t, err, "connection refused")
	require.Empty(t, a.Pending(testSigner))
}

func TestNextNonceUsesCacheWhenRefreshFails(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(5), nil).Once()
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(0), errors.New("timeout")).Once()

	a, hook := newTestAllocator(client, newFakeClock())
	ctx := context.Background()

	_, err := a.NextNonce(ctx, testSigner)
	require.NoError(t, err)

	a.ForceResync(testSigner)

	n, err := a.NextNonce(ctx, testSigner)
	require.NoError(t, err)
	require.Equal(t, uint64(6), n)

	require.NotNil(t, hook.LastEntry())
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, "Nonce refresh failed, using cached value", hook.LastEntry().Message)
}

func TestForceResyncQueriesChainWithinTTL(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(1), nil).Once()
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(4), nil).Once()

	a, _ := newTestAllocator(client, newFakeClock())
	ctx := context.Background()

	_, err := a.NextNonce(ctx, testSigner)
	require.NoError(t, err)

	a.ForceResync(testSigner)

	n, err := a.NextNonce(ctx, testSigner)
	require.NoError(t, err)
	require.Equal(t, uint64(4), n)
	client.AssertExpectations(t)
}

func TestResetAdoptsLowerChainValue(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(9), nil).Once()
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(9), nil).Once()

	a, _ := newTestAllocator(client, newFakeClock())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.NextNonce(ctx, testSigner)
		require.NoError(t, err)
	}

	a.Reset(testSigner)
	base, _, _ := a.State(testSigner)
	require.Equal(t, int64(-1), base)

	n, err := a.NextNonce(ctx, testSigner)
	require.NoError(t, err)
	require.Equal(t, uint64(9), n)
	require.Equal(t, []uint64{9}, a.Pending(testSigner))
}

func TestMarkCompleteIsIdempotent(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(2), nil)

	a, _ := newTestAllocator(client, newFakeClock())

	n, err := a.NextNonce(context.Background(), testSigner)
	require.NoError(t, err)
	_, err = a.NextNonce(context.Background(), testSigner)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		a.MarkComplete(testSigner, n, true)
		a.MarkComplete(testSigner, n, true)
	})
	require.Equal(t, []uint64{3}, a.Pending(testSigner))

	base, next, _ := a.State(testSigner)
	require.Equal(t, int64(3), base)
	require.Equal(t, int64(4), next)
}

func TestMarkCompleteUnknownSignerIsNoop(t *testing.T) {
	a, _ := newTestAllocator(&mocks.MockChainClient{}, newFakeClock())
	require.NotPanics(t, func() {
		a.MarkComplete(types.NewSignerIdentity("0x01"), 1, false)
		a.ForceResync(types.NewSignerIdentity("0x01"))
	})
	_, _, ok := a.State(types.NewSignerIdentity("0x01"))
	require.False(t, ok)
}

func TestSignerIdentityIsCaseInsensitive(t *testing.T) {
	client := &mocks.MockChainClient{}
	client.On("GetTransactionCount", mock.Anything, testSigner.Address()).Return(uint64(0), nil).Once()

	a, _ := newTestAllocator(client, newFakeClock())
	upper := types.NewSignerIdentity("0xABCDEF0000000000000000000000000000000001")

	first, err := a.NextNonce(context.Background(), testSigner)
	require.NoError(t, err)
	second, err := a.NextNonce(context.Background(), upper)
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}
