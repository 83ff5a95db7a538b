package errors

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

var (
	ErrChainNotFound     = errors.New("chain not found")
	ErrInvalidChainID    = errors.New("invalid chain id")
	ErrDatabaseConnect   = errors.New("failed to connect to database")
	ErrInvalidConfig     = errors.New("invalid relay configuration")
	ErrNoActiveRPC       = errors.New("no active rpc for chain")
	ErrSequencerStopped  = errors.New("sequencer stopped")
	ErrActionCancelled   = errors.New("queued action cancelled")
	ErrNonceUnavailable  = errors.New("nonce unavailable")
	ErrFundingFailed     = errors.New("funding transaction failed")
	ErrInvalidRequest    = errors.New("invalid relay request")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrClientUnavailable = errors.New("client not initialized")
)

// Kind classifies errors surfaced to callers of the relay.
type Kind string

const (
	KindAuthentication   Kind = "AUTHENTICATION"
	KindValidation       Kind = "VALIDATION"
	KindGasBounds        Kind = "GAS_BOUNDS"
	KindNonceRetryable   Kind = "NONCE_RETRYABLE"
	KindFatalChain       Kind = "FATAL_CHAIN"
	KindSequencerFlush   Kind = "SEQUENCER_FLUSH"
	KindRetriesExhausted Kind = "RETRIES_EXHAUSTED"
	KindInternal         Kind = "INTERNAL"
)

// AuthenticationError is returned when the recovered signer does not match the claimed sender.
type AuthenticationError struct {
	Claimed   string
	Recovered string
	Cause     error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed for %s: %v", e.Claimed, e.Cause)
	}
	return fmt.Sprintf("authentication failed: recovered signer %s does not match claimed sender %s", e.Recovered, e.Claimed)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// GasBoundsError is returned when a client gas value falls outside the allowed band.
type GasBoundsError struct {
	Field   string
	Client  *big.Int
	Network *big.Int
	Lower   *big.Int
	Upper   *big.Int
}

func (e *GasBoundsError) Error() string {
	return fmt.Sprintf("%s out of bounds: client %s, network %s, allowed [%s, %s]", e.Field, e.Client, e.Network, e.Lower, e.Upper)
}

// NonceRetryableError wraps a transient chain rejection that may succeed with a fresh nonce.
type NonceRetryableError struct {
	Signer string
	Nonce  uint64
	Cause  error
}

func (e *NonceRetryableError) Error() string {
	return fmt.Sprintf("retryable nonce error for %s at nonce %d: %v", e.Signer, e.Nonce, e.Cause)
}

func (e *NonceRetryableError) Unwrap() error { return e.Cause }

// FatalChainError wraps a chain rejection that must not be retried.
type FatalChainError struct {
	Signer string
	Nonce  uint64
	Cause  error
}

func (e *FatalChainError) Error() string {
	return fmt.Sprintf("chain rejected transaction for %s at nonce %d: %v", e.Signer, e.Nonce, e.Cause)
}

func (e *FatalChainError) Unwrap() error { return e.Cause }

// SequencerFlushError is delivered to every action of a batch invalidated by one failure.
type SequencerFlushError struct {
	ActionID string
	Signer   string
	Nonce    uint64
	Cause    error
}

func (e *SequencerFlushError) Error() string {
	return fmt.Sprintf("sequencer for %s flushed by action %s (nonce %d): %v", e.Signer, e.ActionID, e.Nonce, e.Cause)
}

func (e *SequencerFlushError) Unwrap() error { return e.Cause }

// RetriesExhaustedError aggregates the attempts of a retrying submission.
type RetriesExhaustedError struct {
	Signer    string
	Attempts  int
	LastNonce uint64
	Cause     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts for %s (last nonce %d): %v", e.Attempts, e.Signer, e.LastNonce, e.Cause)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Cause }

// RelayError is the structured error handed to the transport layer.
type RelayError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ToRelayError converts any error returned by the relay into a RelayError.
//
// Parameters:
// - err: the error to convert.
//
// Returns:
// - *RelayError: the structured error, nil when err is nil.
func ToRelayError(err error) *RelayError {
	if err == nil {
		return nil
	}

	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr
	}

	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return &RelayError{
			Kind:    KindAuthentication,
			Message: "signature does not match sender",
			Details: map[string]interface{}{"claimed": authErr.Claimed, "recovered": authErr.Recovered},
		}
	}

	var boundsErr *GasBoundsError
	if errors.As(err, &boundsErr) {
		return &RelayError{
			Kind:    KindGasBounds,
			Message: boundsErr.Field + " out of bounds",
			Details: map[string]interface{}{
				"field":   boundsErr.Field,
				"client":  bigString(boundsErr.Client),
				"network": bigString(boundsErr.Network),
				"lower":   bigString(boundsErr.Lower),
				"upper":   bigString(boundsErr.Upper),
			},
		}
	}

	var flushErr *SequencerFlushError
	if errors.As(err, &flushErr) {
		return &RelayError{
			Kind:    KindSequencerFlush,
			Message: "queued funding batch invalidated",
			Details: map[string]interface{}{"actionId": flushErr.ActionID, "signer": flushErr.Signer, "nonce": flushErr.Nonce, "cause": causeString(flushErr.Cause)},
		}
	}

	var exhaustedErr *RetriesExhaustedError
	if errors.As(err, &exhaustedErr) {
		return &RelayError{
			Kind:    KindRetriesExhausted,
			Message: "funding transaction could not be submitted",
			Details: map[string]interface{}{"signer": exhaustedErr.Signer, "attempts": exhaustedErr.Attempts, "nonce": exhaustedErr.LastNonce, "cause": causeString(exhaustedErr.Cause)},
		}
	}

	var retryableErr *NonceRetryableError
	if errors.As(err, &retryableErr) {
		return &RelayError{
			Kind:    KindNonceRetryable,
			Message: "transient nonce error",
			Details: map[string]interface{}{"signer": retryableErr.Signer, "nonce": retryableErr.Nonce, "cause": causeString(retryableErr.Cause)},
		}
	}

	var fatalErr *FatalChainError
	if errors.As(err, &fatalErr) {
		return &RelayError{
			Kind:    KindFatalChain,
			Message: "chain rejected transaction",
			Details: map[string]interface{}{"signer": fatalErr.Signer, "nonce": fatalErr.Nonce, "cause": causeString(fatalErr.Cause)},
		}
	}

	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrInvalidSignature) {
		return &RelayError{Kind: KindValidation, Message: err.Error()}
	}

	return &RelayError{Kind: KindInternal, Message: err.Error()}
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func causeString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
