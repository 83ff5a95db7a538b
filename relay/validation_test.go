package relay

import (
	"math/big"
	"testing"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestRecoveryID(t *testing.T) {
	chainID := big.NewInt(1)
	for _, tc := range []struct {
		v       int64
		want    byte
		invalid bool
	}{
		{v: 0, want: 0},
		{v: 1, want: 1},
		{v: 27, want: 0},
		{v: 28, want: 1},
		{v: 37, want: 0},
		{v: 38, want: 1},
		{v: 39, invalid: true},
		{v: 2, invalid: true},
		{v: 36, invalid: true},
	} {
		got, err := recoveryID(big.NewInt(tc.v), chainID)
		if tc.invalid {
			require.ErrorIs(t, err, commonerrors.ErrInvalidSignature, "v=%d", tc.v)
			continue
		}
		require.NoError(t, err, "v=%d", tc.v)
		require.Equal(t, tc.want, got, "v=%d", tc.v)
	}
}

func TestAuthenticateAcceptsAllRecoveryEncodings(t *testing.T) {
	key := newKey(t)
	req, raw := signedRequest(t, key, 100, 21000)

	eip155V := new(big.Int).Set(req.V)
	recID := new(big.Int).Sub(eip155V, big.NewInt(35))
	recID.Sub(recID, new(big.Int).Mul(testChainID, big.NewInt(2)))

	for _, v := range []*big.Int{
		eip155V,
		new(big.Int).Set(recID),
		new(big.Int).Add(recID, big.NewInt(27)),
	} {
		req.V = v
		signed, err := authenticate(req, testChainID)
		require.NoError(t, err, "v=%s", v)

		encoded, err := signed.MarshalBinary()
		require.NoError(t, err)
		require.Equal(t, raw, encoded)
	}
}

func TestAuthenticateRejectsOutOfRangeSignature(t *testing.T) {
	req, _ := signedRequest(t, newKey(t), 100, 21000)
	req.S = new(big.Int).Set(crypto.S256().Params().N)

	_, err := authenticate(req, testChainID)

	var authErr *commonerrors.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.ErrorIs(t, err, commonerrors.ErrInvalidSignature)
}

func TestCheckRequestRejectsForeignChain(t *testing.T) {
	req, _ := signedRequestForChain(t, newKey(t), big.NewInt(999), 100, 21000)

	err := checkRequest(req, testChainID)
	require.ErrorIs(t, err, commonerrors.ErrInvalidRequest)
	require.Contains(t, err.Error(), "does not match relay chain 1337")

	req.ChainID = big.NewInt(1337)
	require.NoError(t, checkRequest(req, testChainID))
}

func TestCheckGasBands(t *testing.T) {
	bounds := &types.GasBounds{
		CurrentNetworkGasPrice:  big.NewInt(100),
		EstimatedGasLimit:       50000,
		AllowedDeviationPercent: types.DefaultDeviationPercent,
	}

	require.Error(t, checkGasPrice(bounds, big.NewInt(89)))
	require.NoError(t, checkGasPrice(bounds, big.NewInt(95)))
	require.Error(t, checkGasPrice(bounds, nil))

	require.NoError(t, checkGasLimit(bounds, 45000))
	require.NoError(t, checkGasLimit(bounds, 55000))
	require.Error(t, checkGasLimit(bounds, 44999))
	require.Error(t, checkGasLimit(bounds, 55001))
}
