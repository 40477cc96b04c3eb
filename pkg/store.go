package veil

import "time"

// Store is the spending persistence. Implementations must serialize
// writes; Begin returns a transaction that sees a consistent view.
type Store interface {
	Begin() (StoreTransaction, error)

	// ListUnspentOutputs returns up to limit unspent outputs of one
	// kernel asset, ordered by sequence ascending.
	ListUnspentOutputs(kernelAssetID string, limit int) ([]Output, error)

	// ListPendingOutputs returns deposits that exist but are not yet
	// confirmed spendable.
	ListPendingOutputs(kernelAssetID string) ([]Output, error)

	// MaxOutputSequence returns the highest sequence seen, or 0.
	MaxOutputSequence() (int64, error)

	// GetInscriptionOutput finds the output holding one inscription.
	GetInscriptionOutput(inscriptionHash string) (Output, error)

	GetTrace(traceID string) (Trace, error)

	// FindRecentTrace finds a trace with matching intent fields
	// created after since, for duplicate-payment prompts.
	FindRecentTrace(assetID, amount, opponentID, destination, tag string, since time.Time) (Trace, error)

	CountUnspentRawTransactions(types []RawTransactionType) (int, error)
	ListUnspentRawTransactions(limit int) ([]RawTransaction, error)
	GetRawTransaction(requestID string) (RawTransaction, error)

	GetBalance(assetID string) (Balance, error)
	ListBalances() ([]Balance, error)

	// CountTracesWithDestination counts prior withdrawals to one
	// external address, for first-withdrawal prompts.
	CountTracesWithDestination(destination string) (int, error)

	// CountSnapshotsWithOpponent reports how many settled snapshots
	// involve the given opponent, for unfamiliar-recipient prompts.
	CountSnapshotsWithOpponent(opponentID string) (int, error)

	ListSnapshots(assetID string, limit int) ([]SafeSnapshot, error)

	Close() error
}

// StoreTransaction is a single atomic unit of spending state change.
// Commit or Rollback must be called exactly once.
type StoreTransaction interface {
	Commit() error
	Rollback() error

	// SignOutputs moves the given outputs from unspent to signed.
	// It fails with UnknownError if any output is not currently
	// unspent, which aborts the enclosing transaction.
	SignOutputs(ids []string, signedAt string) error

	// SpendOutputs moves signed outputs to spent after settlement.
	SpendOutputs(ids []string, spentAt string) error

	SaveOutput(output Output) error
	UpsertOutputs(outputs []Output) error
	DeleteOutput(id string) error

	SaveTrace(trace Trace) error
	UpdateTraceSnapshot(traceID, snapshotID string) error

	SaveRawTransaction(tx RawTransaction) error

	// SignRawTransactions marks raw transactions spent once their
	// settlement is confirmed.
	SignRawTransactions(requestIDs []string) error

	SaveSnapshot(snapshot SafeSnapshot) error

	// UpdateBalance recomputes the cached balance of one asset from
	// its unspent outputs.
	UpdateBalance(assetID, kernelAssetID string) error
}
