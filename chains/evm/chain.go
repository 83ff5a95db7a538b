package evm

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ClipFinance/gas-relay/chains/evm/signer"
	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/connectionmonitor"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// TxTypeLegacy represents the legacy transaction type.
	TxTypeLegacy = 0
	// TxTypeEIP1559 represents the EIP-1559 transaction type.
	TxTypeEIP1559 = 2
	// defaultPollInterval is how often receipts are polled over HTTP.
	defaultPollInterval = time.Second
)

// Chain is the go-ethereum backed chain client. It also acts as the hot wallet
// when the configuration carries a private key.
type Chain struct {
	config       *types.ChainConfig // Chain configuration.
	logger       *logrus.Logger     // Logger for logging events.
	chainID      *big.Int           // Chain id used for signing.
	pollInterval time.Duration      // Receipt polling interval.

	// Protected fields with their own mutexes.
	clientMutex sync.RWMutex      // Mutex for client.
	client      *ethclient.Client // Ethereum client.

	signerMutex sync.RWMutex  // Mutex for signer.
	signer      signer.Signer // Signer for funding transactions.

	monitorMutex sync.RWMutex                        // Mutex for connection monitor.
	monitor      connectionmonitor.ConnectionMonitor // Connection monitor.
}

// Option configures a Chain.
type Option func(*chainOptions)

type chainOptions struct {
	pollInterval   time.Duration
	monitorOptions []connectionmonitor.Option
}

// WithPollInterval sets how often receipts are polled while waiting for confirmation.
func WithPollInterval(interval time.Duration) Option {
	return func(o *chainOptions) {
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// WithHealthCheckInterval sets how often the RPC connection is checked.
func WithHealthCheckInterval(interval time.Duration) Option {
	return func(o *chainOptions) {
		o.monitorOptions = append(o.monitorOptions, connectionmonitor.WithHealthCheckInterval(interval))
	}
}

// NewEvmChain dials the configured RPC endpoint and starts monitoring the connection.
//
// Parameters:
// - ctx: the context for managing the connection monitor.
// - config: the chain configuration.
// - logger: the logger for logging events.
// - opts: optional settings.
//
// Returns:
// - *Chain: a new EVM chain client.
// - error: an error if any issue occurs during creation.
func NewEvmChain(ctx context.Context, config *types.ChainConfig, logger *logrus.Logger, opts ...Option) (*Chain, error) {
	client, err := ethclient.DialContext(ctx, config.RpcUrl)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client")
	}

	chain, err := newChain(config, logger, client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}

	options := collectOptions(opts)
	if err := chain.initMonitor(ctx, options.monitorOptions...); err != nil {
		chain.Close()
		return nil, errors.Wrap(err, "failed to init connection monitor")
	}

	return chain, nil
}

func collectOptions(opts []Option) *chainOptions {
	options := &chainOptions{pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// newChain wraps an already dialed client.
func newChain(config *types.ChainConfig, logger *logrus.Logger, client *ethclient.Client, opts ...Option) (*Chain, error) {
	if config.ChainID == 0 {
		return nil, errors.Wrap(commonerrors.ErrInvalidChainID, "chain id is required")
	}

	chain := &Chain{
		config:       config,
		logger:       logger,
		chainID:      new(big.Int).SetUint64(config.ChainID),
		pollInterval: collectOptions(opts).pollInterval,
		client:       client,
	}

	if config.PrivateKey != "" {
		s, err := signer.NewSignerFromHex(config.PrivateKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create signer")
		}
		chain.signer = s
	}

	return chain, nil
}

// Close should be called when the chain is no longer needed.
// It stops the connection monitor and closes the client.
func (c *Chain) Close() {
	c.monitorMutex.Lock()
	if c.monitor != nil {
		c.monitor.Stop()
		c.monitor = nil
	}
	c.monitorMutex.Unlock()

	c.clientMutex.Lock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.clientMutex.Unlock()
}

// getClient returns the current client or an error if it was closed.
func (c *Chain) getClient() (*ethclient.Client, error) {
	c.clientMutex.RLock()
	defer c.clientMutex.RUnlock()

	if c.client == nil {
		return nil, commonerrors.ErrClientUnavailable
	}
	return c.client, nil
}

// getSigner returns the hot wallet signer or an error if no private key was configured.
func (c *Chain) getSigner() (signer.Signer, error) {
	c.signerMutex.RLock()
	defer c.signerMutex.RUnlock()

	if c.signer == nil {
		return nil, errors.New("signer not initialized")
	}
	return c.signer, nil
}

// Address returns the hot wallet address, the zero address when no key is configured.
func (c *Chain) Address() common.Address {
	s, err := c.getSigner()
	if err != nil {
		return common.Address{}
	}
	return s.Address()
}
