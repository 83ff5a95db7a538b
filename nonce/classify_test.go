package nonce

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nonce too low", errors.New("nonce too low"), Retryable},
		{"nonce too high", errors.New("Nonce too high: next nonce 4, tx nonce 9"), Retryable},
		{"underpriced replacement", errors.New("replacement transaction underpriced"), Retryable},
		{"already known", errors.New("already known"), Retryable},
		{"invalid nonce", errors.New("rpc error: invalid nonce; got 3, expected 4"), Retryable},
		{"wrapped", errors.Wrap(errors.New("nonce too low"), "failed to send transaction"), Retryable},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), Fatal},
		{"execution reverted", errors.New("execution reverted"), Fatal},
		{"nil", nil, Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestErrorClassString(t *testing.T) {
	require.Equal(t, "retryable", Retryable.String())
	require.Equal(t, "fatal", Fatal.String())
}
