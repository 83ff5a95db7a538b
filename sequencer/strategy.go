package sequencer

import (
	"context"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/pkg/errors"
)

// Strategy submits through the per-signer sequencers of a Registry, trading throughput
// for strict ordering.
type Strategy struct {
	registry *Registry
}

// NewStrategy wraps registry as a types.NonceStrategy.
func NewStrategy(registry *Registry) *Strategy {
	return &Strategy{registry: registry}
}

// Submit enqueues send on the signer's sequencer and waits for it to run.
// If ctx ends while the action is still queued, the action is cancelled.
func (s *Strategy) Submit(ctx context.Context, signer types.SignerIdentity, send types.SendFunc) (*types.Transaction, error) {
	seq := s.registry.Get(signer)
	future := seq.Enqueue(func(opCtx context.Context, params types.TxParams) (*types.Transaction, error) {
		nonce, ok := params.Nonce()
		if !ok {
			return nil, errors.Wrap(commonerrors.ErrNonceUnavailable, "sequencer did not assign a nonce")
		}
		return send(opCtx, nonce)
	}, nil)

	tx, err := future.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		seq.Cancel(future.ID())
	}
	return tx, err
}
