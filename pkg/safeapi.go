package veil

import (
	"context"
)

// GhostKeyRequest asks the verification service for one one-time key
// set. Requests are batched; by convention the final entry of a batch
// is the sender's own change key set.
type GhostKeyRequest struct {
	ReceiverIDs []string `json:"receivers"`
	SenderIDs   []string `json:"senders,omitempty"`
	TraceID     string   `json:"hint"`
	Index       int      `json:"index"`
}

// GhostKey is one returned key set; entry order matches request order.
type GhostKey struct {
	Keys []string `json:"keys"`
	Mask string   `json:"mask"`
}

// ContactTransferGhostKeys builds the request pair for a transfer to
// known recipients: one receiver set, one change set for the sender.
func ContactTransferGhostKeys(receiverIDs, senderIDs []string, traceID string) []GhostKeyRequest {
	return []GhostKeyRequest{
		{ReceiverIDs: receiverIDs, TraceID: UniqueObjectID(traceID, "OUTPUT", "0"), Index: 0},
		{ReceiverIDs: senderIDs, TraceID: UniqueObjectID(traceID, "OUTPUT", "1"), Index: 1},
	}
}

// MainnetAddressTransferGhostKeys builds the single change request for
// a transfer to a mainnet address, which has no native recipient ID.
func MainnetAddressTransferGhostKeys(senderID, traceID string) []GhostKeyRequest {
	return []GhostKeyRequest{
		{ReceiverIDs: []string{senderID}, TraceID: UniqueObjectID(traceID, "OUTPUT", "1"), Index: 1},
	}
}

// WithdrawSubmitGhostKeys builds the requests for a withdrawal whose
// fee is paid in the withdrawal asset: cashier fee output + change.
func WithdrawSubmitGhostKeys(cashierID, senderID, traceID string) []GhostKeyRequest {
	return []GhostKeyRequest{
		{ReceiverIDs: []string{cashierID}, TraceID: UniqueObjectID(traceID, "OUTPUT", "0"), Index: 0},
		{ReceiverIDs: []string{senderID}, TraceID: UniqueObjectID(traceID, "OUTPUT", "1"), Index: 1},
	}
}

// WithdrawFeeGhostKeys builds the requests for a withdrawal with a
// distinct fee asset: cashier fee output, withdrawal change, fee change.
func WithdrawFeeGhostKeys(cashierID, senderID, traceID string) []GhostKeyRequest {
	feeTraceID := FeeTraceID(traceID)
	return []GhostKeyRequest{
		{ReceiverIDs: []string{cashierID}, TraceID: UniqueObjectID(feeTraceID, "OUTPUT", "0"), Index: 0},
		{ReceiverIDs: []string{senderID}, TraceID: UniqueObjectID(traceID, "OUTPUT", "1"), Index: 1},
		{ReceiverIDs: []string{senderID}, TraceID: UniqueObjectID(feeTraceID, "OUTPUT", "1"), Index: 1},
	}
}

// TransactionRequest submits a built or signed transaction keyed by
// its trace ID, for verification or broadcast respectively.
type TransactionRequest struct {
	ID  string `json:"request_id"`
	Raw string `json:"raw"`
}

// TransactionResponse is the service's view of one transaction.
// Views is populated by verification responses; SnapshotID by
// broadcast/settlement responses.
type TransactionResponse struct {
	RequestID  string   `json:"request_id"`
	SnapshotID string   `json:"snapshot_id"`
	State      string   `json:"state"`
	Views      []string `json:"views"`
	CreatedAt  string   `json:"created_at"`
}

// SafeService is the remote verification/broadcast surface. A NotFound
// error from Transaction/Transactions means "definitely not settled";
// a RemoteServer error is transient and retryable.
type SafeService interface {
	GhostKeys(ctx context.Context, requests []GhostKeyRequest) ([]GhostKey, error)
	RequestTransaction(ctx context.Context, requests []TransactionRequest) ([]TransactionResponse, error)
	PostTransaction(ctx context.Context, requests []TransactionRequest) ([]TransactionResponse, error)
	Transaction(ctx context.Context, id string) (TransactionResponse, error)
	Transactions(ctx context.Context, ids []string) ([]TransactionResponse, error)
	Outputs(ctx context.Context, members string, threshold int, offset int64, limit int) ([]Output, error)
	SignMultisig(ctx context.Context, id string, request TransactionRequest) error
	UnlockMultisig(ctx context.Context, id string) error
}
