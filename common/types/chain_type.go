package types

import "strings"

// ChainType represents the chain family stored with a chain configuration.
type ChainType string

const (
	// EVM represents Ethereum Virtual Machine based chains (e.g. Ethereum, Linea, Base, etc.)
	EVM ChainType = "EVM"
	// UNKNOWN represents a chain family the relay cannot fund on.
	UNKNOWN ChainType = "UNKNOWN"
)

// String converts ChainType to string representation
func (t ChainType) String() string {
	return string(t)
}

// ParseChainType converts a stored chain type to ChainType, ignoring case.
func ParseChainType(s string) ChainType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case EVM.String():
		return EVM
	default:
		return UNKNOWN
	}
}
