package veil

type RawTransactionState string

const (
	RawTransactionStateUnspent RawTransactionState = "unspent"
	RawTransactionStateSpent   RawTransactionState = "spent"
)

type RawTransactionType string

const (
	RawTransactionTypeTransfer   RawTransactionType = "transfer"
	RawTransactionTypeWithdrawal RawTransactionType = "withdrawal"
	RawTransactionTypeFee        RawTransactionType = "fee"
)

// RawTransaction is a signed transaction that has been durably
// committed locally but whose broadcast acceptance is still pending.
// It transitions to spent only after the remote service confirms.
type RawTransaction struct {
	RequestID      string              `json:"request_id"` // equals the trace ID
	RawTransaction string              `json:"raw_transaction"`
	ReceiverID     string              `json:"receiver_id"`
	// Inputs are the IDs of the signed outputs this transaction
	// consumes; recovery spends them when settlement confirms.
	Inputs    []string            `json:"inputs"`
	State     RawTransactionState `json:"state"`
	Type      RawTransactionType  `json:"type"`
	CreatedAt string              `json:"created_at"`
}
