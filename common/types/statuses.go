package types

// TransactionStatus is the outcome of waiting for a transaction confirmation.
type TransactionStatus string

const (
	// TxDone is the status of a transaction included with a successful receipt.
	TxDone TransactionStatus = "DONE"
	// TxFailed is the status of a transaction included with a failed receipt.
	TxFailed TransactionStatus = "FAILED"
	// TxNeedsRetry is the status when the confirmation could not be determined.
	TxNeedsRetry TransactionStatus = "NEEDS_RETRY"
)

// Confirmed reports whether the transaction was included successfully.
func (s TransactionStatus) Confirmed() bool {
	return s == TxDone
}
