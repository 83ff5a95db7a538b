package errors

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRelayError(t *testing.T) {
	cause := errors.New("nonce too low")

	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"authentication", &AuthenticationError{Claimed: "0xa", Recovered: "0xb"}, KindAuthentication},
		{"gas bounds", &GasBoundsError{Field: "gasPrice", Client: big.NewInt(89), Network: big.NewInt(100), Lower: big.NewInt(90), Upper: big.NewInt(110)}, KindGasBounds},
		{"retryable", &NonceRetryableError{Signer: "0xa", Nonce: 1, Cause: cause}, KindNonceRetryable},
		{"fatal", errors.Wrap(&FatalChainError{Signer: "0xa", Nonce: 1, Cause: cause}, "failed to fund sender"), KindFatalChain},
		{"flush", &SequencerFlushError{ActionID: "id", Signer: "0xa", Nonce: 2, Cause: cause}, KindSequencerFlush},
		{"exhausted", &RetriesExhaustedError{Signer: "0xa", Attempts: 3, LastNonce: 7, Cause: &NonceRetryableError{Cause: cause}}, KindRetriesExhausted},
		{"validation", errors.Wrap(ErrInvalidRequest, "missing gas limit"), KindValidation},
		{"signature", errors.Wrap(ErrInvalidSignature, "v out of range"), KindValidation},
		{"internal", errors.New("connection refused"), KindInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			relayErr := ToRelayError(tc.err)
			require.NotNil(t, relayErr)
			assert.Equal(t, tc.kind, relayErr.Kind)
			assert.NotEmpty(t, relayErr.Message)
		})
	}

	assert.Nil(t, ToRelayError(nil))
}

func TestToRelayErrorDetails(t *testing.T) {
	relayErr := ToRelayError(&GasBoundsError{
		Field:   "gasLimit",
		Client:  big.NewInt(40000),
		Network: big.NewInt(30000),
		Lower:   big.NewInt(27000),
		Upper:   big.NewInt(33000),
	})
	assert.Equal(t, "gasLimit", relayErr.Details["field"])
	assert.Equal(t, "33000", relayErr.Details["upper"])

	exhausted := ToRelayError(&RetriesExhaustedError{Signer: "0xa", Attempts: 3, LastNonce: 7, Cause: errors.New("nonce too low")})
	assert.Equal(t, 3, exhausted.Details["attempts"])
	assert.Equal(t, uint64(7), exhausted.Details["nonce"])

	existing := &RelayError{Kind: KindValidation, Message: "bad"}
	assert.Same(t, existing, ToRelayError(errors.Wrap(existing, "context")))
}

func TestErrorsUnwrapToCause(t *testing.T) {
	cause := errors.New("replacement transaction underpriced")
	err := &RetriesExhaustedError{Cause: &NonceRetryableError{Cause: cause}}

	require.ErrorIs(t, err, cause)

	var retryable *NonceRetryableError
	require.ErrorAs(t, err, &retryable)

	auth := &AuthenticationError{Claimed: "0xa", Cause: ErrInvalidSignature}
	require.ErrorIs(t, auth, ErrInvalidSignature)
	assert.Contains(t, auth.Error(), "0xa")
}
