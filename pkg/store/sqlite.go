// Package store persists spending state in SQLite.
package store

import (
	"database/sql"
	"strings"
	"time"

	veil "github.com/veilnet/veilwallet/pkg"

	_ "github.com/mattn/go-sqlite3"
)

var SETUP_SQL string = `
CREATE TABLE IF NOT EXISTS outputs (
	output_id TEXT NOT NULL PRIMARY KEY,
	transaction_hash TEXT NOT NULL,
	output_index INTEGER NOT NULL,
	kernel_asset_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	mask TEXT NOT NULL,
	keys TEXT NOT NULL,
	receivers TEXT NOT NULL,
	receivers_threshold INTEGER NOT NULL,
	state TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	inscription_hash TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	signed_at TEXT NOT NULL DEFAULT '',
	spent_at TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS outputs_hash_index ON outputs (transaction_hash, output_index);
CREATE INDEX IF NOT EXISTS outputs_asset_state_sequence ON outputs (kernel_asset_id, state, sequence);

CREATE TABLE IF NOT EXISTS traces (
	trace_id TEXT NOT NULL PRIMARY KEY,
	asset_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	opponent_id TEXT NOT NULL DEFAULT '',
	destination TEXT NOT NULL DEFAULT '',
	tag TEXT NOT NULL DEFAULT '',
	snapshot_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS traces_intent ON traces (asset_id, amount, created_at);

CREATE TABLE IF NOT EXISTS raw_transactions (
	request_id TEXT NOT NULL PRIMARY KEY,
	raw_transaction TEXT NOT NULL,
	receiver_id TEXT NOT NULL DEFAULT '',
	inputs TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	type TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS raw_transactions_state ON raw_transactions (state, type);

CREATE TABLE IF NOT EXISTS safe_snapshots (
	snapshot_id TEXT NOT NULL PRIMARY KEY,
	type TEXT NOT NULL,
	asset_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	user_id TEXT NOT NULL,
	opponent_id TEXT NOT NULL DEFAULT '',
	memo TEXT NOT NULL DEFAULT '',
	transaction_hash TEXT NOT NULL,
	trace_id TEXT NOT NULL DEFAULT '',
	inscription_hash TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS safe_snapshots_opponent ON safe_snapshots (opponent_id);

CREATE TABLE IF NOT EXISTS balances (
	asset_id TEXT NOT NULL PRIMARY KEY,
	kernel_asset_id TEXT NOT NULL,
	amount TEXT NOT NULL
);
`

// interface guard ensures SQLiteStore implements veil.Store
var _ veil.Store = &SQLiteStore{}

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a veil.Store implementor that uses sqlite.
// Connections are capped at one because the engine serializes writes
// through store transactions anyway.
func NewSQLiteStore(fileName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fileName+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, dbErr(err, "opening database")
	}
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(SETUP_SQL); err != nil {
		return nil, dbErr(err, "creating tables")
	}
	return &SQLiteStore{db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Begin() (veil.StoreTransaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, dbErr(err, "beginning transaction")
	}
	return &SQLiteStoreTransaction{tx: tx}, nil
}

func (s *SQLiteStore) ListUnspentOutputs(kernelAssetID string, limit int) ([]veil.Output, error) {
	rows, err := s.db.Query(`SELECT `+outputCols+` FROM outputs
		WHERE kernel_asset_id = ? AND state = ? AND inscription_hash = ''
		ORDER BY sequence ASC LIMIT ?`,
		kernelAssetID, veil.OutputStateUnspent, limit)
	if err != nil {
		return nil, dbErr(err, "querying unspent outputs")
	}
	defer rows.Close()
	return scanOutputs(rows)
}

func (s *SQLiteStore) ListPendingOutputs(kernelAssetID string) ([]veil.Output, error) {
	rows, err := s.db.Query(`SELECT `+outputCols+` FROM outputs WHERE kernel_asset_id = ? AND state = ?
		ORDER BY sequence ASC`,
		kernelAssetID, veil.OutputStatePending)
	if err != nil {
		return nil, dbErr(err, "querying pending outputs")
	}
	defer rows.Close()
	return scanOutputs(rows)
}

func (s *SQLiteStore) MaxOutputSequence() (int64, error) {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(sequence), 0) FROM outputs`)
	var sequence int64
	if err := row.Scan(&sequence); err != nil {
		return 0, dbErr(err, "querying max sequence")
	}
	return sequence, nil
}

func (s *SQLiteStore) GetInscriptionOutput(inscriptionHash string) (veil.Output, error) {
	row := s.db.QueryRow(`SELECT `+outputCols+` FROM outputs WHERE inscription_hash = ?`, inscriptionHash)
	output, err := scanOutput(row)
	if err == sql.ErrNoRows {
		return veil.Output{}, veil.NewErr(veil.NotFound, "no output holds inscription %s", inscriptionHash)
	}
	if err != nil {
		return veil.Output{}, dbErr(err, "querying inscription output")
	}
	return output, nil
}

func (s *SQLiteStore) GetTrace(traceID string) (veil.Trace, error) {
	row := s.db.QueryRow(`SELECT trace_id, asset_id, amount, opponent_id, destination, tag, snapshot_id, created_at
		FROM traces WHERE trace_id = ?`, traceID)
	return scanTrace(row, traceID)
}

func (s *SQLiteStore) FindRecentTrace(assetID, amount, opponentID, destination, tag string, since time.Time) (veil.Trace, error) {
	row := s.db.QueryRow(`SELECT trace_id, asset_id, amount, opponent_id, destination, tag, snapshot_id, created_at
		FROM traces
		WHERE asset_id = ? AND amount = ? AND opponent_id = ? AND destination = ? AND tag = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		assetID, amount, opponentID, destination, tag, veil.TimestampUTC(since))
	return scanTrace(row, "")
}

func (s *SQLiteStore) CountTracesWithDestination(destination string) (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM traces WHERE destination = ?`, destination)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, dbErr(err, "counting traces by destination")
	}
	return n, nil
}

func (s *SQLiteStore) CountUnspentRawTransactions(types []veil.RawTransactionType) (int, error) {
	query := `SELECT COUNT(*) FROM raw_transactions WHERE state = ?`
	args := []any{veil.RawTransactionStateUnspent}
	if len(types) > 0 {
		query += ` AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, dbErr(err, "counting raw transactions")
	}
	return n, nil
}

func (s *SQLiteStore) ListUnspentRawTransactions(limit int) ([]veil.RawTransaction, error) {
	rows, err := s.db.Query(`SELECT request_id, raw_transaction, receiver_id, inputs, state, type, created_at
		FROM raw_transactions WHERE state = ? ORDER BY created_at ASC LIMIT ?`,
		veil.RawTransactionStateUnspent, limit)
	if err != nil {
		return nil, dbErr(err, "querying raw transactions")
	}
	defer rows.Close()
	var txs []veil.RawTransaction
	for rows.Next() {
		var tx veil.RawTransaction
		var inputs string
		if err := rows.Scan(&tx.RequestID, &tx.RawTransaction, &tx.ReceiverID, &inputs, &tx.State, &tx.Type, &tx.CreatedAt); err != nil {
			return nil, dbErr(err, "scanning raw transaction")
		}
		tx.Inputs = splitJoined(inputs)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *SQLiteStore) GetRawTransaction(requestID string) (veil.RawTransaction, error) {
	row := s.db.QueryRow(`SELECT request_id, raw_transaction, receiver_id, inputs, state, type, created_at
		FROM raw_transactions WHERE request_id = ?`, requestID)
	var tx veil.RawTransaction
	var inputs string
	err := row.Scan(&tx.RequestID, &tx.RawTransaction, &tx.ReceiverID, &inputs, &tx.State, &tx.Type, &tx.CreatedAt)
	if err == sql.ErrNoRows {
		return veil.RawTransaction{}, veil.NewErr(veil.NotFound, "no raw transaction %s", requestID)
	}
	if err != nil {
		return veil.RawTransaction{}, dbErr(err, "querying raw transaction")
	}
	tx.Inputs = splitJoined(inputs)
	return tx, nil
}

func (s *SQLiteStore) GetBalance(assetID string) (veil.Balance, error) {
	row := s.db.QueryRow(`SELECT asset_id, kernel_asset_id, amount FROM balances WHERE asset_id = ?`, assetID)
	var b veil.Balance
	err := row.Scan(&b.AssetID, &b.KernelAssetID, &b.Amount)
	if err == sql.ErrNoRows {
		return veil.Balance{AssetID: assetID, Amount: "0"}, nil
	}
	if err != nil {
		return veil.Balance{}, dbErr(err, "querying balance")
	}
	return b, nil
}

func (s *SQLiteStore) ListBalances() ([]veil.Balance, error) {
	rows, err := s.db.Query(`SELECT asset_id, kernel_asset_id, amount FROM balances ORDER BY asset_id`)
	if err != nil {
		return nil, dbErr(err, "querying balances")
	}
	defer rows.Close()
	var balances []veil.Balance
	for rows.Next() {
		var b veil.Balance
		if err := rows.Scan(&b.AssetID, &b.KernelAssetID, &b.Amount); err != nil {
			return nil, dbErr(err, "scanning balance")
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *SQLiteStore) CountSnapshotsWithOpponent(opponentID string) (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM safe_snapshots WHERE opponent_id = ?`, opponentID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, dbErr(err, "counting snapshots")
	}
	return n, nil
}

func (s *SQLiteStore) ListSnapshots(assetID string, limit int) ([]veil.SafeSnapshot, error) {
	query := `SELECT snapshot_id, type, asset_id, amount, user_id, opponent_id, memo, transaction_hash, trace_id, inscription_hash, created_at
		FROM safe_snapshots`
	args := []any{}
	if assetID != "" {
		query += ` WHERE asset_id = ?`
		args = append(args, assetID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, dbErr(err, "querying snapshots")
	}
	defer rows.Close()
	var snapshots []veil.SafeSnapshot
	for rows.Next() {
		var sn veil.SafeSnapshot
		if err := rows.Scan(&sn.ID, &sn.Type, &sn.AssetID, &sn.Amount, &sn.UserID, &sn.OpponentID,
			&sn.Memo, &sn.TransactionHash, &sn.TraceID, &sn.InscriptionHash, &sn.CreatedAt); err != nil {
			return nil, dbErr(err, "scanning snapshot")
		}
		snapshots = append(snapshots, sn)
	}
	return snapshots, rows.Err()
}

const outputCols = `output_id, transaction_hash, output_index, kernel_asset_id, amount, mask, keys,
	receivers, receivers_threshold, state, sequence, inscription_hash, created_at, updated_at, signed_at, spent_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanOutput(row scannable) (veil.Output, error) {
	var o veil.Output
	var keys, receivers string
	err := row.Scan(&o.ID, &o.TransactionHash, &o.OutputIndex, &o.KernelAssetID, &o.Amount, &o.Mask, &keys,
		&receivers, &o.ReceiversThreshold, &o.State, &o.Sequence, &o.InscriptionHash,
		&o.CreatedAt, &o.UpdatedAt, &o.SignedAt, &o.SpentAt)
	if err != nil {
		return veil.Output{}, err
	}
	o.Keys = splitJoined(keys)
	o.Receivers = splitJoined(receivers)
	return o, nil
}

func scanOutputs(rows *sql.Rows) ([]veil.Output, error) {
	var outputs []veil.Output
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, dbErr(err, "scanning output")
		}
		outputs = append(outputs, o)
	}
	return outputs, rows.Err()
}

func scanTrace(row *sql.Row, traceID string) (veil.Trace, error) {
	var t veil.Trace
	err := row.Scan(&t.TraceID, &t.AssetID, &t.Amount, &t.OpponentID, &t.Destination, &t.Tag, &t.SnapshotID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return veil.Trace{}, veil.NewErr(veil.NotFound, "no trace %s", traceID)
	}
	if err != nil {
		return veil.Trace{}, dbErr(err, "querying trace")
	}
	return t, nil
}

func splitJoined(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func dbErr(err error, context string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint") {
		return veil.NewErr(veil.AlreadyExists, "SQLiteStore: %s: %v", context, err)
	}
	if strings.Contains(err.Error(), "database is locked") {
		return veil.NewErr(veil.DBConflict, "SQLiteStore: %s: %v", context, err)
	}
	return veil.NewErr(veil.UnknownError, "SQLiteStore: %s: %v", context, err)
}
