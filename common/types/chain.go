package types

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ChainConfig holds the configuration for the chain the relay operates on.
//
// Fields:
// - Name: the name of the chain.
// - ChainID: the unique identifier for the chain.
// - RpcUrl: the URL for the chain's RPC endpoint.
// - TxType: the type of transactions the hot wallet sends.
// - WaitNBlocks: the number of blocks to wait for transaction confirmation.
// - PrivateKey: the hot wallet private key for signing funding transactions.
type ChainConfig struct {
	Name        string
	ChainID     uint64
	RpcUrl      string
	TxType      uint64
	WaitNBlocks uint64
	PrivateKey  string
}

// NonceSource provides the chain's view of an account's nonce.
type NonceSource interface {
	// GetTransactionCount returns the pending-inclusive transaction count of address.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - address: the account to query.
	//
	// Returns:
	// - uint64: the next nonce the chain expects for address.
	// - error: an error if the query fails.
	GetTransactionCount(ctx context.Context, address common.Address) (uint64, error)
}

// GasOracle provides the live gas values requests are checked against.
type GasOracle interface {
	// GetGasPrice returns the current network gas price.
	GetGasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGasWithBalanceOverride estimates msg while pretending address holds balance.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - msg: the call to estimate.
	// - address: the account whose balance is overridden.
	// - balance: the balance to pretend address holds.
	//
	// Returns:
	// - uint64: the estimated gas limit.
	// - error: an error if the estimation fails.
	EstimateGasWithBalanceOverride(ctx context.Context, msg ethereum.CallMsg, address common.Address, balance *big.Int) (uint64, error)
}

// TransactionBroadcaster submits signed transactions.
type TransactionBroadcaster interface {
	// SendSignedTransaction broadcasts a signed, binary encoded transaction.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - raw: the signed transaction in its canonical binary encoding.
	//
	// Returns:
	// - string: the transaction hash.
	// - error: an error if the chain rejects the transaction.
	SendSignedTransaction(ctx context.Context, raw []byte) (string, error)
}

// TransactionWatcher provides transaction confirmation functionality.
type TransactionWatcher interface {
	// WaitForConfirmation blocks until txHash is included, the context ends, or the query fails.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - txHash: the hash of the transaction to wait for.
	//
	// Returns:
	// - TransactionStatus: the outcome of the transaction.
	// - error: an error if the confirmation could not be determined.
	WaitForConfirmation(ctx context.Context, txHash string) (TransactionStatus, error)
}

// BalanceProvider provides native balance lookups.
type BalanceProvider interface {
	// GetBalance returns the native balance of address.
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
}

// ChainClient combines all chain functionality the relay consumes.
type ChainClient interface {
	NonceSource
	GasOracle
	TransactionBroadcaster
	TransactionWatcher
	BalanceProvider
}

// FundingSigner is the hot wallet that pays for funding transactions.
type FundingSigner interface {
	// Address returns the hot wallet address.
	Address() common.Address

	// SignFunding signs a native transfer of value to the given address.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - to: the funded address.
	// - value: the amount to transfer.
	// - nonce: the hot wallet nonce to use.
	//
	// Returns:
	// - *ethtypes.Transaction: the signed funding transaction.
	// - error: an error if fee data cannot be fetched or signing fails.
	SignFunding(ctx context.Context, to common.Address, value *big.Int, nonce uint64) (*ethtypes.Transaction, error)
}
