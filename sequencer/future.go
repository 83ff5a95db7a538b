package sequencer

import (
	"context"
	"sync"

	"github.com/ClipFinance/gas-relay/common/types"
)

// Future is the pending result of a queued action.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once
	tx   *types.Transaction
	err  error
}

func newFuture(id string) *Future {
	return &Future{
		id:   id,
		done: make(chan struct{}),
	}
}

// ID returns the id of the queued action.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the action has been resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the action resolves or ctx ends.
//
// Parameters:
// - ctx: the context bounding the wait. Cancelling it does not cancel the action.
//
// Returns:
// - *types.Transaction: the transaction produced by the action.
// - error: the action's failure, or ctx.Err() if the wait was abandoned.
func (f *Future) Wait(ctx context.Context) (*types.Transaction, error) {
	select {
	case <-f.done:
		return f.tx, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve settles the future; later calls are ignored.
func (f *Future) resolve(tx *types.Transaction, err error) {
	f.once.Do(func() {
		f.tx = tx
		f.err = err
		close(f.done)
	})
}
