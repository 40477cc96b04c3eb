package veil

type SnapshotType string

const (
	SnapshotTypeSnapshot   SnapshotType = "snapshot"
	SnapshotTypeWithdrawal SnapshotType = "withdrawal"
	SnapshotTypePending    SnapshotType = "pending"
)

// SafeSnapshot is the immutable ledger entry recording one value
// movement, written in the same commit as the RawTransaction.
// Amount is signed: outgoing movements are negative.
type SafeSnapshot struct {
	ID              string       `json:"snapshot_id"`
	Type            SnapshotType `json:"type"`
	AssetID         string       `json:"asset_id"`
	Amount          string       `json:"amount"`
	UserID          string       `json:"user_id"`
	OpponentID      string       `json:"opponent_id"`
	Memo            string       `json:"memo"`
	TransactionHash string       `json:"transaction_hash"`
	TraceID         string       `json:"trace_id"`
	InscriptionHash string       `json:"inscription_hash,omitempty"`
	CreatedAt       string       `json:"created_at"`
}

// NewSafeSnapshot derives the snapshot ID deterministically from the
// trace ID so a replayed commit produces the same row.
func NewSafeSnapshot(typ SnapshotType, assetID, amount, userID, opponentID, memo, transactionHash, traceID, inscriptionHash, now string) SafeSnapshot {
	return SafeSnapshot{
		ID:              UniqueObjectID(traceID, "SNAPSHOT"),
		Type:            typ,
		AssetID:         assetID,
		Amount:          amount,
		UserID:          userID,
		OpponentID:      opponentID,
		Memo:            memo,
		TransactionHash: transactionHash,
		TraceID:         traceID,
		InscriptionHash: inscriptionHash,
		CreatedAt:       now,
	}
}
