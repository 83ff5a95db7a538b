package types

import (
	"context"
	"math/big"
)

// Transaction represents a transaction submitted by the relay.
//
// Fields:
// - Hash: the hash of the transaction.
// - From: the address from which the transaction is sent.
// - To: the address to which the transaction is sent.
// - Value: the amount of native currency transferred.
// - Nonce: the nonce of the transaction.
// - ChainID: the unique identifier for the chain where the transaction was sent.
type Transaction struct {
	Hash    string
	From    string
	To      string
	Value   *big.Int
	Nonce   uint64
	ChainID uint64
}

// ParamNonce is the TxParams key that always carries the assigned nonce.
const ParamNonce = "nonce"

// TxParams holds extra parameters merged into a chain-mutating call.
type TxParams map[string]interface{}

// Nonce returns the nonce stored under ParamNonce.
//
// Returns:
// - uint64: the assigned nonce.
// - bool: false when no nonce has been assigned yet.
func (p TxParams) Nonce() (uint64, bool) {
	nonce, ok := p[ParamNonce].(uint64)
	return nonce, ok
}

// With returns a copy of the params with key set to value.
func (p TxParams) With(key string, value interface{}) TxParams {
	merged := make(TxParams, len(p)+1)
	for k, v := range p {
		merged[k] = v
	}
	merged[key] = value
	return merged
}

// SendFunc sends a chain-mutating transaction using the given nonce.
type SendFunc func(ctx context.Context, nonce uint64) (*Transaction, error)

// NonceStrategy issues a nonce for the signer and drives send with it.
// Implementations differ in their ordering guarantees: callers pick the one
// matching their needs for a given code path.
type NonceStrategy interface {
	// Submit obtains a nonce for signer and invokes send with it.
	//
	// Parameters:
	// - ctx: the context for managing the request.
	// - signer: the identity whose nonce sequence is used.
	// - send: the function that signs and broadcasts the transaction.
	//
	// Returns:
	// - *Transaction: the submitted transaction.
	// - error: an error if no transaction could be submitted.
	Submit(ctx context.Context, signer SignerIdentity, send SendFunc) (*Transaction, error)
}
