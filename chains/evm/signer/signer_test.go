package signer

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestNewSignerFromHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hex.EncodeToString(crypto.FromECDSA(key))

	for _, input := range []string{hexKey, "0x" + hexKey, " " + hexKey + "\n"} {
		s, err := NewSignerFromHex(input)
		require.NoError(t, err)
		require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
	}

	_, err = NewSignerFromHex("zz")
	require.Error(t, err)
	_, err = NewSigner(nil)
	require.Error(t, err)
}

func TestSignTxRecoversToSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewSigner(key)
	require.NoError(t, err)

	chainID := big.NewInt(10)
	to := common.HexToAddress("0x0000000000000000000000000000000000000001")
	for _, tx := range []*ethtypes.Transaction{
		ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: big.NewInt(5)}),
		ethtypes.NewTx(&ethtypes.DynamicFeeTx{ChainID: chainID, Nonce: 2, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2), Gas: 21000, To: &to, Value: big.NewInt(5)}),
	} {
		signed, err := s.SignTx(tx, chainID)
		require.NoError(t, err)

		sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), signed)
		require.NoError(t, err)
		require.Equal(t, s.Address(), sender)
		require.Zero(t, chainID.Cmp(signed.ChainId()))
	}
}
