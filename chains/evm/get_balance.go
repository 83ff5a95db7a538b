package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// GetBalance returns the native balance of address at the latest block.
//
// Parameters:
// - ctx: the context for managing the request.
// - address: the address to check balance for.
//
// Returns:
// - *big.Int: the balance in wei.
// - error: an error if the balance check fails.
func (c *Chain) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}

	balance, err := client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get native token balance")
	}
	return balance, nil
}

// GetTransactionCount returns the pending transaction count of address.
func (c *Chain) GetTransactionCount(ctx context.Context, address common.Address) (uint64, error) {
	client, err := c.getClient()
	if err != nil {
		return 0, err
	}

	count, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get nonce")
	}
	return count, nil
}
