package evm

import (
	"context"

	"github.com/ClipFinance/gas-relay/connectionmonitor"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// evmConnection adapts the chain client to connectionmonitor.ChainConnection.
type evmConnection struct {
	chain *Chain // Reference to the EVM chain instance.
}

// initMonitor initializes the connection monitor for the EVM chain.
//
// Parameters:
// - ctx: the context for managing the monitoring loop.
// - opts: monitor settings.
//
// Returns:
// - error: an error if there is an issue starting the connection monitor.
func (c *Chain) initMonitor(ctx context.Context, opts ...connectionmonitor.Option) error {
	c.monitorMutex.Lock()
	defer c.monitorMutex.Unlock()

	c.monitor = connectionmonitor.NewConnectionMonitor(&evmConnection{chain: c}, c.logger, c.config.Name, opts...)
	return c.monitor.Start(ctx)
}

// CheckConnection checks the connection to the Ethereum client by retrieving the current block number.
//
// Parameters:
// - ctx: the context for managing the connection check.
//
// Returns:
// - error: an error if the client is not initialized or if there is an issue retrieving the block number.
func (w *evmConnection) CheckConnection(ctx context.Context) error {
	client, err := w.chain.getClient()
	if err != nil {
		return err
	}

	_, err = client.BlockNumber(ctx)
	return err
}

// Reconnect re-establishes the connection to the Ethereum client.
//
// Parameters:
// - ctx: the context for managing the reconnection process.
//
// Returns:
// - error: an error if there is an issue dialing the new client.
func (w *evmConnection) Reconnect(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, w.chain.config.RpcUrl)
	if err != nil {
		return errors.Wrap(err, "failed to dial rpc")
	}

	w.chain.clientMutex.Lock()
	old := w.chain.client
	w.chain.client = client
	w.chain.clientMutex.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}
