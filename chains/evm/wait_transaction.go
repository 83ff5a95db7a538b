package evm

import (
	"context"
	"sync"
	"time"

	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// subscriptionHandler manages block header subscriptions
type subscriptionHandler struct {
	subscription ethereum.Subscription
	headerChan   chan *ethtypes.Header
	sync.RWMutex
}

// close safely unsubscribes. The header channel is left to the garbage collector
// because the subscription may still be delivering to it.
func (h *subscriptionHandler) close() {
	h.Lock()
	defer h.Unlock()
	if h.subscription != nil {
		h.subscription.Unsubscribe()
		h.subscription = nil
	}
}

// WaitForConfirmation waits until txHash is included and buried under WaitNBlocks blocks.
// There is no timeout besides ctx.
//
// Parameters:
// - ctx: the context for managing the request.
// - txHash: the hash of the transaction to wait for.
//
// Returns:
// - types.TransactionStatus: TxDone or TxFailed from the receipt, TxNeedsRetry when undetermined.
// - error: an error if the client is not initialized, ctx ends, or a query fails.
func (c *Chain) WaitForConfirmation(ctx context.Context, txHash string) (types.TransactionStatus, error) {
	client, err := c.getClient()
	if err != nil {
		return types.TxNeedsRetry, err
	}

	hash := common.HexToHash(txHash)
	if types.GetSubscriptionMode(c.config.RpcUrl) == types.WebSocketMode {
		return c.waitForConfirmationWS(ctx, client, hash)
	}
	return c.waitForConfirmationHTTP(ctx, client, hash)
}

// waitForConfirmationWS waits for transaction confirmation using a new-head subscription.
func (c *Chain) waitForConfirmationWS(ctx context.Context, client *ethclient.Client, hash common.Hash) (types.TransactionStatus, error) {
	handler := &subscriptionHandler{
		headerChan: make(chan *ethtypes.Header),
	}
	defer handler.close()

	sub, err := client.SubscribeNewHead(ctx, handler.headerChan)
	if err != nil {
		return types.TxNeedsRetry, errors.Wrap(err, "failed to subscribe to new headers")
	}

	handler.Lock()
	handler.subscription = sub
	handler.Unlock()

	for {
		select {
		case <-ctx.Done():
			c.logger.WithField("txHash", hash.Hex()).Warn("WaitForConfirmation: context done")
			return types.TxNeedsRetry, ctx.Err()

		case err := <-sub.Err():
			return types.TxNeedsRetry, errors.Wrap(err, "subscription error")

		case header := <-handler.headerChan:
			if header == nil {
				continue
			}
			status, done, err := c.checkReceipt(ctx, client, hash, header.Number.Uint64())
			if done || err != nil {
				return status, err
			}
		}
	}
}

// waitForConfirmationHTTP waits for transaction confirmation using HTTP polling.
func (c *Chain) waitForConfirmationHTTP(ctx context.Context, client *ethclient.Client, hash common.Hash) (types.TransactionStatus, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.WithField("txHash", hash.Hex()).Warn("WaitForConfirmation: context done")
			return types.TxNeedsRetry, ctx.Err()

		case <-ticker.C:
			currentBlock, err := client.BlockNumber(ctx)
			if err != nil {
				return types.TxNeedsRetry, errors.Wrap(err, "failed to get current block number")
			}
			status, done, err := c.checkReceipt(ctx, client, hash, currentBlock)
			if done || err != nil {
				return status, err
			}
		}
	}
}

// checkReceipt reports the status of hash once its receipt is deep enough below currentBlock.
//
// Returns:
// - types.TransactionStatus: the receipt outcome.
// - bool: false while the receipt is missing or not yet buried deep enough.
// - error: an error if the receipt query fails.
func (c *Chain) checkReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash, currentBlock uint64) (types.TransactionStatus, bool, error) {
	receipt, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return types.TxNeedsRetry, false, nil
		}
		return types.TxNeedsRetry, false, errors.Wrap(err, "failed to get transaction receipt")
	}

	if currentBlock < receipt.BlockNumber.Uint64()+c.config.WaitNBlocks {
		return types.TxNeedsRetry, false, nil
	}

	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return types.TxDone, true, nil
	}
	return types.TxFailed, true, nil
}
