package sequencer

import (
	"context"
	"sync"
	"time"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPollInterval is how long an idle sequencer sleeps before checking its queue again.
	DefaultPollInterval = 100 * time.Millisecond
	// unknownNonce forces a chain lookup for the next action.
	unknownNonce = -1
)

// Operation is a deferred chain-mutating call. params always carries the assigned nonce.
type Operation func(ctx context.Context, params types.TxParams) (*types.Transaction, error)

// queuedAction is one unit of work waiting in a sequencer.
type queuedAction struct {
	id            string
	operation     Operation
	extraTxParams types.TxParams
	future        *Future
}

// Sequencer executes chain-mutating actions for one signer strictly one at a time,
// in enqueue order. A failed action invalidates everything queued behind it, because
// the locally remembered nonce can no longer be trusted.
type Sequencer struct {
	ctx          context.Context
	signer       types.SignerIdentity
	client       types.NonceSource
	logger       *logrus.Logger
	metrics      *metrics.Metrics
	pollInterval time.Duration

	// These fields are protected by the mutex.
	mutex          sync.Mutex
	queue          []*queuedAction
	running        bool
	started        bool
	stopped        bool
	lastKnownNonce int64
	inFlight       map[string]*Future
	executing      string

	stopChan chan struct{}
	loopDone chan struct{}
}

// newSequencer creates an idle sequencer; its loop starts with the first enqueued action.
func newSequencer(ctx context.Context, signer types.SignerIdentity, client types.NonceSource, logger *logrus.Logger, cfg *config) *Sequencer {
	return &Sequencer{
		ctx:            ctx,
		signer:         signer,
		client:         client,
		logger:         logger,
		metrics:        cfg.metrics,
		pollInterval:   cfg.pollInterval,
		lastKnownNonce: unknownNonce,
		inFlight:       make(map[string]*Future),
		stopChan:       make(chan struct{}),
		loopDone:       make(chan struct{}),
	}
}

// Signer returns the identity whose actions this sequencer orders.
func (s *Sequencer) Signer() types.SignerIdentity {
	return s.signer
}

// Enqueue appends an action and returns a handle that resolves when it completes.
//
// Parameters:
// - operation: the chain-mutating call to run.
// - extra: parameters merged into the call; the assigned nonce is added under types.ParamNonce.
//
// Returns:
// - *Future: the pending result of the action.
func (s *Sequencer) Enqueue(operation Operation, extra types.TxParams) *Future {
	action := &queuedAction{
		id:            uuid.NewString(),
		operation:     operation,
		extraTxParams: extra,
	}
	action.future = newFuture(action.id)

	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		action.future.resolve(nil, errors.Wrapf(commonerrors.ErrSequencerStopped, "signer %s", s.signer))
		return action.future
	}

	s.queue = append(s.queue, action)
	s.inFlight[action.id] = action.future
	if !s.running {
		s.running = true
		s.started = true
		go s.run()
	}
	s.mutex.Unlock()

	s.metrics.QueueChanged(1)
	return action.future
}

// Cancel removes a queued action that has not started executing.
//
// Returns:
// - bool: true if the action was removed and its future rejected.
func (s *Sequencer) Cancel(id string) bool {
	s.mutex.Lock()
	var cancelled *queuedAction
	for i, action := range s.queue {
		if action.id == id {
			cancelled = action
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			delete(s.inFlight, id)
			break
		}
	}
	s.mutex.Unlock()

	if cancelled == nil {
		return false
	}
	s.metrics.QueueChanged(-1)
	cancelled.future.resolve(nil, errors.Wrapf(commonerrors.ErrActionCancelled, "action %s", id))
	return true
}

// InFlight returns the ids of all unresolved actions, queued or executing.
func (s *Sequencer) InFlight() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ids := make([]string, 0, len(s.inFlight))
	if s.executing != "" {
		ids = append(ids, s.executing)
	}
	for _, action := range s.queue {
		ids = append(ids, action.id)
	}
	return ids
}

// Len returns the number of actions waiting to execute.
func (s *Sequencer) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.queue)
}

// Stop rejects every queued action and lets the loop exit on its next wake.
// An action that is already executing runs to completion.
func (s *Sequencer) Stop() {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	rejected := s.queue
	s.queue = nil
	for _, action := range rejected {
		delete(s.inFlight, action.id)
	}
	close(s.stopChan)
	s.mutex.Unlock()

	s.metrics.QueueChanged(-len(rejected))
	for _, action := range rejected {
		action.future.resolve(nil, errors.Wrapf(commonerrors.ErrSequencerStopped, "signer %s", s.signer))
	}

	if len(rejected) > 0 {
		s.logger.WithFields(logrus.Fields{
			"signer":   s.signer.String(),
			"rejected": len(rejected),
		}).Info("Sequencer stopped with queued actions")
	}
}

// StopAndWait stops the sequencer and waits for its loop to exit.
func (s *Sequencer) StopAndWait() {
	s.mutex.Lock()
	started := s.started
	s.mutex.Unlock()

	s.Stop()
	if started {
		<-s.loopDone
	}
}

// run is the single consumer of the queue.
func (s *Sequencer) run() {
	defer close(s.loopDone)

	for {
		s.mutex.Lock()
		if !s.running {
			s.mutex.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mutex.Unlock()
			timer := time.NewTimer(s.pollInterval)
			select {
			case <-s.stopChan:
				timer.Stop()
				return
			case <-s.ctx.Done():
				timer.Stop()
				s.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		action := s.queue[0]
		s.queue = s.queue[1:]
		s.executing = action.id
		s.mutex.Unlock()

		s.metrics.QueueChanged(-1)
		s.execute(action)
	}
}

// execute assigns a nonce to action and runs it.
func (s *Sequencer) execute(action *queuedAction) {
	nonce, err := s.resolveNonce()
	if err != nil {
		s.fail(action, 0, err)
		return
	}

	params := action.extraTxParams.With(types.ParamNonce, nonce)
	tx, err := action.operation(s.ctx, params)
	if err != nil {
		s.fail(action, nonce, err)
		return
	}

	s.mutex.Lock()
	s.lastKnownNonce = int64(nonce)
	s.executing = ""
	delete(s.inFlight, action.id)
	s.mutex.Unlock()

	s.logger.WithFields(logrus.Fields{
		"signer":   s.signer.String(),
		"actionId": action.id,
		"nonce":    nonce,
	}).Debug("Sequenced action completed")

	action.future.resolve(tx, nil)
}

// resolveNonce returns the nonce for the next action: the chain count when nothing is
// remembered, otherwise one past the last nonce used successfully.
func (s *Sequencer) resolveNonce() (uint64, error) {
	s.mutex.Lock()
	last := s.lastKnownNonce
	s.mutex.Unlock()

	if last != unknownNonce {
		return uint64(last) + 1, nil
	}

	nonce, err := s.client.GetTransactionCount(s.ctx, s.signer.Address())
	if err != nil {
		return 0, errors.Wrap(err, "failed to get transaction count")
	}
	return nonce, nil
}

// fail resolves action with a flush error and rejects everything queued behind it.
func (s *Sequencer) fail(action *queuedAction, nonce uint64, cause error) {
	flushErr := &commonerrors.SequencerFlushError{
		ActionID: action.id,
		Signer:   s.signer.String(),
		Nonce:    nonce,
		Cause:    cause,
	}

	s.mutex.Lock()
	flushed := s.queue
	s.queue = nil
	s.lastKnownNonce = unknownNonce
	s.executing = ""
	delete(s.inFlight, action.id)
	for _, queued := range flushed {
		delete(s.inFlight, queued.id)
	}
	s.mutex.Unlock()

	s.metrics.SequencerFlushed()
	s.metrics.QueueChanged(-len(flushed))

	s.logger.WithFields(logrus.Fields{
		"signer":   s.signer.String(),
		"actionId": action.id,
		"nonce":    nonce,
		"flushed":  len(flushed),
	}).WithError(cause).Error("Sequenced action failed, flushing queue")

	action.future.resolve(nil, flushErr)
	for _, queued := range flushed {
		queued.future.resolve(nil, flushErr)
	}
}
