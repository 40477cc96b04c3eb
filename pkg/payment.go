package veil

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CashierID receives the fee output of every withdrawal.
const CashierID = "674d6776-d600-4346-af46-58e77d8df185"

// Engine wires the payment operations to their dependencies. One
// Engine serves all concurrent operations; per-payment state lives in
// the operation values.
type Engine struct {
	Store     Store
	Safe      SafeService
	Kernel    Kernel
	TIP       TIP
	Collector *Collector
	Session   *Session
	Bus       *MessageBus
	Config    Config
}

func NewEngine(store Store, safe SafeService, kernel Kernel, tip TIP, session *Session, bus *MessageBus, config Config) *Engine {
	return &Engine{
		Store:     store,
		Safe:      safe,
		Kernel:    kernel,
		TIP:       tip,
		Collector: NewCollector(store, bus, config.Payment.MaxSpendingCount),
		Session:   session,
		Bus:       bus,
		Config:    config,
	}
}

// DestinationKind discriminates where a transfer pays to.
type DestinationKind int

const (
	DestinationUser DestinationKind = iota
	DestinationMultisig
	DestinationMainnet
)

// TransferDestination is the closed set of transfer targets. Use the
// constructors; the zero value is not valid.
type TransferDestination struct {
	Kind      DestinationKind
	UserIDs   []string
	Threshold int
	Address   string
}

func UserDestination(userID string) TransferDestination {
	return TransferDestination{Kind: DestinationUser, UserIDs: []string{userID}, Threshold: 1}
}

func MultisigDestination(userIDs []string, threshold int) TransferDestination {
	return TransferDestination{Kind: DestinationMultisig, UserIDs: userIDs, Threshold: threshold}
}

func MainnetDestination(address string) TransferDestination {
	return TransferDestination{Kind: DestinationMainnet, Address: address}
}

// OpponentID returns the single counterpart user for ledger rows, or
// empty when the destination has none.
func (d TransferDestination) OpponentID() string {
	if d.Kind == DestinationUser && len(d.UserIDs) == 1 {
		return d.UserIDs[0]
	}
	return ""
}

// outputWait is the collector backoff between confirmation checks.
func (e *Engine) outputWait() time.Duration {
	return time.Duration(e.Config.Payment.OutputWaitSeconds) * time.Second
}

func (e *Engine) duplicateWindow() time.Duration {
	return time.Duration(e.Config.Payment.DuplicateWindowHours) * time.Hour
}

func (e *Engine) spendKey(ctx context.Context, pin string) (string, error) {
	if err := e.Session.RequireLogin(); err != nil {
		return "", err
	}
	return e.TIP.SpendKey(ctx, pin)
}

// ghostKeys fetches the requested key sets with the standard retry
// policy and checks the response is complete. Ghost key fetches are
// idempotent, so no probe is needed.
func (e *Engine) ghostKeys(ctx context.Context, requests []GhostKeyRequest) ([]GhostKey, error) {
	var keys []GhostKey
	err := WithRetryOnServerError(ctx, e.Session, e.Config.Payment.MaxBroadcastTries, func(ctx context.Context) error {
		var err error
		keys, err = e.Safe.GhostKeys(ctx, requests)
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(keys) != len(requests) {
		return nil, NewErr(MissingResponse, "requested %d ghost keys, got %d", len(requests), len(keys))
	}
	return keys, nil
}

// verifyTx submits built transactions for verification and returns the
// per-transaction view keys. Any transaction no longer in the unspent
// state has been consumed by an earlier attempt.
func (e *Engine) verifyTx(ctx context.Context, requests []TransactionRequest) ([]TransactionResponse, error) {
	var responses []TransactionResponse
	err := WithRetryOnServerError(ctx, e.Session, e.Config.Payment.MaxBroadcastTries, func(ctx context.Context) error {
		var err error
		responses, err = e.Safe.RequestTransaction(ctx, requests)
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(responses) != len(requests) {
		return nil, NewErr(MissingResponse, "verified %d of %d transactions", len(responses), len(requests))
	}
	for _, r := range responses {
		if r.State != "unspent" {
			return nil, NewErr(AlreadyPaid, "request %s is %s", r.RequestID, r.State)
		}
	}
	return responses, nil
}

// broadcast posts signed transactions and confirms acceptance. A
// server failure is followed by a settlement probe, because a timed
// out post may have landed. When only a subset of a batch settles the
// settled request IDs are confirmed individually and the whole call
// fails with InconsistentBroadcast carrying the settled set.
func (e *Engine) broadcast(ctx context.Context, requests []TransactionRequest) ([]TransactionResponse, error) {
	ids := make([]string, len(requests))
	for i, r := range requests {
		ids[i] = r.ID
	}
	var responses []TransactionResponse
	err := WithRetryOnServerError(ctx, e.Session, e.Config.Payment.MaxBroadcastTries, func(ctx context.Context) error {
		var err error
		responses, err = e.Safe.PostTransaction(ctx, requests)
		return err
	}, func(ctx context.Context) (bool, error) {
		found, perr := e.Safe.Transactions(ctx, ids)
		if perr != nil {
			return false, perr
		}
		if len(found) == len(ids) {
			responses = found
			return true, nil
		}
		if len(found) > 0 {
			responses = found
			return true, NewErr(InconsistentBroadcast, "%d of %d transactions settled", len(found), len(ids))
		}
		return false, nil
	})
	return responses, err
}

// settle records remote acceptance: raw transactions become spent,
// their signed inputs become spent, and each trace gets its snapshot
// ID. Partial settlement passes only the settled subset.
func (e *Engine) settle(responses []TransactionResponse, outputIDs []string) error {
	now := Now()
	dbtx, err := e.Store.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()
	ids := make([]string, len(responses))
	for i, r := range responses {
		ids[i] = r.RequestID
		if r.SnapshotID != "" {
			if err := dbtx.UpdateTraceSnapshot(r.RequestID, r.SnapshotID); err != nil {
				return err
			}
		}
	}
	if err := dbtx.SignRawTransactions(ids); err != nil {
		return err
	}
	if len(outputIDs) > 0 {
		if err := dbtx.SpendOutputs(outputIDs, now); err != nil {
			return err
		}
	}
	return dbtx.Commit()
}

// hexExtra renders a transfer memo the way mainnet-address builds
// expect it.
func hexExtra(memo string) string {
	return hex.EncodeToString([]byte(memo))
}

// parseAmount rejects non-positive or malformed amounts before any
// outputs are reserved.
func parseAmount(amount string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil || !value.IsPositive() {
		return decimal.Zero, NewErr(BadRequest, "invalid amount %q", amount)
	}
	return value, nil
}

// splitReferences undoes the comma-joined hash list form; an empty
// string yields nil.
func splitReferences(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

// parseThreshold reads a configured fiat threshold; empty means
// disabled.
func parseThreshold(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewErr(BadRequest, "invalid threshold %q", s)
	}
	return value, nil
}

// VerifyReferences checks that every referenced transaction hash is a
// 32-byte hex string.
func VerifyReferences(refs []string) error {
	for _, r := range refs {
		raw, err := hex.DecodeString(r)
		if err != nil || len(raw) != 32 {
			return NewErr(InvalidReference, "reference %q is not a transaction hash", r)
		}
	}
	return nil
}
