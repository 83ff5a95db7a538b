package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// GasPriceData represents the gas price data for EIP-1559 transactions.
type GasPriceData struct {
	MaxFeePerGas         *big.Int // The maximum fee per gas.
	MaxPriorityFeePerGas *big.Int // The maximum priority fee per gas.
}

// overrideAccount is one entry of the eth_estimateGas state override set.
type overrideAccount struct {
	Balance *hexutil.Big `json:"balance"`
}

// GetGasPrice returns the gas price currently suggested by the node.
func (c *Chain) GetGasPrice(ctx context.Context) (*big.Int, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}

	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gas price")
	}
	return price, nil
}

// EstimateGasWithBalanceOverride estimates msg with the balance of address overridden, so
// that an unfunded sender can be estimated before it is funded.
//
// Parameters:
// - ctx: the context for managing the request.
// - msg: the call to estimate.
// - address: the account whose balance is overridden.
// - balance: the balance to pretend address holds.
//
// Returns:
// - uint64: the estimated gas limit.
// - error: an error if the client is not initialized or the node rejects the estimation.
func (c *Chain) EstimateGasWithBalanceOverride(ctx context.Context, msg ethereum.CallMsg, address common.Address, balance *big.Int) (uint64, error) {
	client, err := c.getClient()
	if err != nil {
		return 0, err
	}

	overrides := map[common.Address]overrideAccount{
		address: {Balance: (*hexutil.Big)(balance)},
	}

	var estimate hexutil.Uint64
	err = client.Client().CallContext(ctx, &estimate, "eth_estimateGas", toCallArg(msg), "latest", overrides)
	if err != nil {
		return 0, errors.Wrap(err, "failed to estimate gas with balance override")
	}
	return uint64(estimate), nil
}

// toCallArg encodes msg the way the node expects call arguments.
func toCallArg(msg ethereum.CallMsg) map[string]interface{} {
	arg := map[string]interface{}{
		"from": msg.From,
	}
	if msg.To != nil {
		arg["to"] = msg.To
	}
	if len(msg.Data) > 0 {
		arg["input"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	if msg.GasPrice != nil {
		arg["gasPrice"] = (*hexutil.Big)(msg.GasPrice)
	}
	return arg
}

// getEIP1559GasPrice retrieves the gas price data for EIP-1559 transactions.
//
// Parameters:
// - ctx: the context for managing the request.
//
// Returns:
// - *GasPriceData: the gas price data for EIP-1559 transactions.
// - error: an error if the client is not initialized or if there is an issue retrieving the gas price data.
func (c *Chain) getEIP1559GasPrice(ctx context.Context) (*GasPriceData, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}

	suggestedTip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Failed to get suggested gas tip")
		suggestedTip = big.NewInt(1)
	}

	if suggestedTip.Sign() == 0 {
		suggestedTip = big.NewInt(1)
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		c.logger.WithField("chain", c.config.Name).WithError(err).Warn("Failed to get header by number")
		return nil, errors.Wrap(err, "failed to get header by number")
	}

	baseFee := header.BaseFee
	if baseFee == nil {
		c.logger.WithField("chain", c.config.Name).Warn("Base fee is nil")
		return nil, errors.New("base fee is nil")
	}

	baseFeeBuf := new(big.Int).Mul(baseFee, big.NewInt(130))
	baseFeeBuf = baseFeeBuf.Div(baseFeeBuf, big.NewInt(100))
	maxFeePerGas := new(big.Int).Add(baseFeeBuf, suggestedTip)

	return &GasPriceData{
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: suggestedTip,
	}, nil
}
