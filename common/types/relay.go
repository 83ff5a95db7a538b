package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RelayTransactionRequest is the client-supplied, pre-signed transaction.
// The relay never re-signs it: it validates the fields and forwards them.
//
// Fields:
// - From: the address the client claims signed the transaction.
// - To: the recipient address, empty for contract creation.
// - Data: the call data.
// - Value: the amount of native currency transferred.
// - GasLimit: the gas limit chosen by the client.
// - GasPrice: the gas price chosen by the client.
// - Nonce: the client's own account nonce.
// - ChainID: the chain the transaction is signed for.
// - V, R, S: the signature components.
type RelayTransactionRequest struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Data     hexutil.Bytes `json:"data"`
	Value    *big.Int      `json:"value"`
	GasLimit uint64        `json:"gasLimit"`
	GasPrice *big.Int      `json:"gasPrice"`
	Nonce    uint64        `json:"nonce"`
	ChainID  *big.Int      `json:"chainId"`
	V        *big.Int      `json:"v"`
	R        *big.Int      `json:"r"`
	S        *big.Int      `json:"s"`
}

// Sender returns the claimed sender identity.
func (r *RelayTransactionRequest) Sender() SignerIdentity {
	return NewSignerIdentity(r.From)
}

// Recipient returns the recipient address, or nil for contract creation.
func (r *RelayTransactionRequest) Recipient() *common.Address {
	if r.To == "" {
		return nil
	}
	to := common.HexToAddress(r.To)
	return &to
}

// RelayResult is returned for a successfully relayed transaction.
type RelayResult struct {
	TransactionHash string `json:"transactionHash"`
	FundingTxHash   string `json:"fundingTxHash"`
}

// FundResult is returned by the fund-if-empty operation.
type FundResult struct {
	Message string `json:"message"`
	TxHash  string `json:"txHash,omitempty"`
}
