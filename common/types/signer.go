package types

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SignerIdentity is a chain account address normalized to lower case.
// It is the key for every piece of per-signer state (nonce caches, sequencers).
type SignerIdentity string

// NewSignerIdentity normalizes the given hex address into a SignerIdentity.
//
// Parameters:
// - address: the hex encoded account address, with or without checksum casing.
//
// Returns:
// - SignerIdentity: the lower-cased identity.
func NewSignerIdentity(address string) SignerIdentity {
	return SignerIdentity(strings.ToLower(strings.TrimSpace(address)))
}

// SignerFromAddress converts a go-ethereum address into a SignerIdentity.
func SignerFromAddress(address common.Address) SignerIdentity {
	return NewSignerIdentity(address.Hex())
}

// Address returns the identity as a go-ethereum address.
func (s SignerIdentity) Address() common.Address {
	return common.HexToAddress(string(s))
}

// String returns the normalized identity.
func (s SignerIdentity) String() string {
	return string(s)
}
