package store

import (
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"
	veil "github.com/veilnet/veilwallet/pkg"
)

// interface guard ensures SQLiteStoreTransaction implements veil.StoreTransaction
var _ veil.StoreTransaction = &SQLiteStoreTransaction{}

type SQLiteStoreTransaction struct {
	tx       *sql.Tx
	finality bool
}

func (t *SQLiteStoreTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return dbErr(err, "committing")
	}
	t.finality = true
	return nil
}

// Rollback is a no-op after Commit, so it can be deferred
// unconditionally.
func (t *SQLiteStoreTransaction) Rollback() error {
	if t.finality {
		return nil
	}
	return t.tx.Rollback()
}

// SignOutputs guards the unspent state in the WHERE clause: a row
// count short of len(ids) means another operation spent one of these
// outputs, and the whole transaction must abort.
func (t *SQLiteStoreTransaction) SignOutputs(ids []string, signedAt string) error {
	if len(ids) == 0 {
		return nil
	}
	res, err := t.tx.Exec(`UPDATE outputs SET state = ?, signed_at = ?, updated_at = ?
		WHERE output_id IN (?`+strings.Repeat(",?", len(ids)-1)+`) AND state = ?`,
		idArgs([]any{veil.OutputStateSigned, signedAt, signedAt}, ids, veil.OutputStateUnspent)...)
	if err != nil {
		return dbErr(err, "signing outputs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(err, "signing outputs")
	}
	if int(n) != len(ids) {
		return veil.NewErr(veil.UnknownError, "signed %d of %d outputs, one was spent concurrently", n, len(ids))
	}
	return nil
}

func (t *SQLiteStoreTransaction) SpendOutputs(ids []string, spentAt string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(`UPDATE outputs SET state = ?, spent_at = ?, updated_at = ?
		WHERE output_id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`,
		idArgs([]any{veil.OutputStateSpent, spentAt, spentAt}, ids)...)
	if err != nil {
		return dbErr(err, "spending outputs")
	}
	return nil
}

func (t *SQLiteStoreTransaction) SaveOutput(o veil.Output) error {
	_, err := t.tx.Exec(`INSERT INTO outputs (`+outputCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.TransactionHash, o.OutputIndex, o.KernelAssetID, o.Amount, o.Mask, strings.Join(o.Keys, ","),
		strings.Join(o.Receivers, ","), o.ReceiversThreshold, o.State, o.Sequence, o.InscriptionHash,
		o.CreatedAt, o.UpdatedAt, o.SignedAt, o.SpentAt)
	if err != nil {
		return dbErr(err, "saving output")
	}
	return nil
}

// UpsertOutputs writes synced outputs. A synced row replaces the
// stored state except when the local copy is already signed or spent,
// which the remote feed lags behind.
func (t *SQLiteStoreTransaction) UpsertOutputs(outputs []veil.Output) error {
	for _, o := range outputs {
		_, err := t.tx.Exec(`INSERT INTO outputs (`+outputCols+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (output_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
			WHERE outputs.state NOT IN ('signed', 'spent')`,
			o.ID, o.TransactionHash, o.OutputIndex, o.KernelAssetID, o.Amount, o.Mask, strings.Join(o.Keys, ","),
			strings.Join(o.Receivers, ","), o.ReceiversThreshold, o.State, o.Sequence, o.InscriptionHash,
			o.CreatedAt, o.UpdatedAt, o.SignedAt, o.SpentAt)
		if err != nil {
			return dbErr(err, "upserting output")
		}
	}
	return nil
}

func (t *SQLiteStoreTransaction) DeleteOutput(id string) error {
	_, err := t.tx.Exec(`DELETE FROM outputs WHERE output_id = ?`, id)
	if err != nil {
		return dbErr(err, "deleting output")
	}
	return nil
}

func (t *SQLiteStoreTransaction) SaveTrace(trace veil.Trace) error {
	_, err := t.tx.Exec(`INSERT INTO traces (trace_id, asset_id, amount, opponent_id, destination, tag, snapshot_id, created_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (trace_id) DO UPDATE SET snapshot_id = excluded.snapshot_id`,
		trace.TraceID, trace.AssetID, trace.Amount, trace.OpponentID, trace.Destination, trace.Tag,
		trace.SnapshotID, trace.CreatedAt)
	if err != nil {
		return dbErr(err, "saving trace")
	}
	return nil
}

func (t *SQLiteStoreTransaction) UpdateTraceSnapshot(traceID, snapshotID string) error {
	_, err := t.tx.Exec(`UPDATE traces SET snapshot_id = ? WHERE trace_id = ?`, snapshotID, traceID)
	if err != nil {
		return dbErr(err, "updating trace snapshot")
	}
	return nil
}

func (t *SQLiteStoreTransaction) SaveRawTransaction(tx veil.RawTransaction) error {
	_, err := t.tx.Exec(`INSERT INTO raw_transactions (request_id, raw_transaction, receiver_id, inputs, state, type, created_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (request_id) DO NOTHING`,
		tx.RequestID, tx.RawTransaction, tx.ReceiverID, strings.Join(tx.Inputs, ","), tx.State, tx.Type, tx.CreatedAt)
	if err != nil {
		return dbErr(err, "saving raw transaction")
	}
	return nil
}

func (t *SQLiteStoreTransaction) SignRawTransactions(requestIDs []string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(`UPDATE raw_transactions SET state = ?
		WHERE request_id IN (?`+strings.Repeat(",?", len(requestIDs)-1)+`)`,
		idArgs([]any{veil.RawTransactionStateSpent}, requestIDs)...)
	if err != nil {
		return dbErr(err, "signing raw transactions")
	}
	return nil
}

func (t *SQLiteStoreTransaction) SaveSnapshot(snapshot veil.SafeSnapshot) error {
	_, err := t.tx.Exec(`INSERT INTO safe_snapshots (snapshot_id, type, asset_id, amount, user_id, opponent_id, memo, transaction_hash, trace_id, inscription_hash, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (snapshot_id) DO UPDATE SET type = excluded.type`,
		snapshot.ID, snapshot.Type, snapshot.AssetID, snapshot.Amount, snapshot.UserID, snapshot.OpponentID,
		snapshot.Memo, snapshot.TransactionHash, snapshot.TraceID, snapshot.InscriptionHash, snapshot.CreatedAt)
	if err != nil {
		return dbErr(err, "saving snapshot")
	}
	return nil
}

// UpdateBalance recomputes the cached aggregate from unspent outputs
// inside the same transaction that changed them.
func (t *SQLiteStoreTransaction) UpdateBalance(assetID, kernelAssetID string) error {
	rows, err := t.tx.Query(`SELECT amount FROM outputs WHERE kernel_asset_id = ? AND state = ?`,
		kernelAssetID, veil.OutputStateUnspent)
	if err != nil {
		return dbErr(err, "summing outputs")
	}
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return dbErr(err, "scanning amount")
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return veil.NewErr(veil.UnknownError, "invalid stored amount %q", amount)
		}
		total = total.Add(value)
	}
	if err := rows.Err(); err != nil {
		return dbErr(err, "summing outputs")
	}
	_, err = t.tx.Exec(`INSERT INTO balances (asset_id, kernel_asset_id, amount) VALUES (?,?,?)
		ON CONFLICT (asset_id) DO UPDATE SET amount = excluded.amount`,
		assetID, kernelAssetID, total.String())
	if err != nil {
		return dbErr(err, "updating balance")
	}
	return nil
}

func idArgs(prefix []any, ids []string, suffix ...any) []any {
	args := append([]any{}, prefix...)
	for _, id := range ids {
		args = append(args, id)
	}
	return append(args, suffix...)
}
