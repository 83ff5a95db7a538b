package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// fundingGasLimit is the gas of a plain native transfer.
const fundingGasLimit = 21000

// SignFunding builds and signs a native transfer of value from the hot wallet.
//
// Parameters:
// - ctx: the context for managing the request.
// - to: the funded address.
// - value: the amount to transfer.
// - nonce: the hot wallet nonce to use.
//
// Returns:
// - *ethtypes.Transaction: the signed transaction.
// - error: an error if fee data cannot be fetched or signing fails.
func (c *Chain) SignFunding(ctx context.Context, to common.Address, value *big.Int, nonce uint64) (*ethtypes.Transaction, error) {
	s, err := c.getSigner()
	if err != nil {
		return nil, err
	}

	tx, err := c.prepareTransaction(ctx, nonce, to, value)
	if err != nil {
		return nil, err
	}

	signedTx, err := s.SignTx(tx, c.chainID)
	if err != nil {
		c.logger.WithError(err).Error("Failed to sign transaction")
		return nil, errors.Wrap(err, "failed to sign transaction")
	}
	return signedTx, nil
}

// prepareTransaction prepares an unsigned transfer using the configured transaction type.
func (c *Chain) prepareTransaction(ctx context.Context, nonce uint64, to common.Address, value *big.Int) (*ethtypes.Transaction, error) {
	if c.config.TxType == TxTypeEIP1559 {
		gasPriceData, err := c.getEIP1559GasPrice(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get EIP-1559 gas price")
		}

		return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasFeeCap: gasPriceData.MaxFeePerGas,
			GasTipCap: gasPriceData.MaxPriorityFeePerGas,
			Gas:       fundingGasLimit,
			To:        &to,
			Value:     value,
		}), nil
	}

	gasPrice, err := c.GetGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasPrice = new(big.Int).Mul(gasPrice, big.NewInt(150))
	gasPrice = new(big.Int).Div(gasPrice, big.NewInt(100))

	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      fundingGasLimit,
		To:       &to,
		Value:    value,
	}), nil
}

// SendSignedTransaction decodes raw and broadcasts it.
//
// Parameters:
// - ctx: the context for managing the request.
// - raw: the signed transaction in its binary encoding.
//
// Returns:
// - string: the transaction hash.
// - error: the node's rejection; its message is kept intact for nonce classification.
func (c *Chain) SendSignedTransaction(ctx context.Context, raw []byte) (string, error) {
	client, err := c.getClient()
	if err != nil {
		return "", err
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", errors.Wrap(err, "failed to decode transaction")
	}

	if err := client.SendTransaction(ctx, tx); err != nil {
		c.logger.WithField("txHash", tx.Hash().Hex()).WithError(err).Error("Failed to send transaction")
		return "", errors.Wrap(err, "failed to send transaction")
	}
	return tx.Hash().Hex(), nil
}
