package veil

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IssueKind names an advisory condition that does not block a payment
// but should be acknowledged by the caller before it proceeds.
type IssueKind string

const (
	IssueDuplication         IssueKind = "duplication"
	IssueLargeAmount         IssueKind = "large-amount"
	IssueUnfamiliarRecipient IssueKind = "unfamiliar-recipient"
	IssueAgedAddress         IssueKind = "aged-address"
	IssueFirstWithdraw       IssueKind = "first-withdraw"
)

type Issue struct {
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
}

// Precondition is one pre-payment check. It returns a non-nil Issue
// for advisory conditions, or an error for conditions that block the
// payment outright.
type Precondition interface {
	Check(ctx context.Context) (*Issue, error)
}

// CheckPreconditions runs checks in order. The first blocking error
// aborts; advisory issues from all checks are accumulated. Callers
// ask for acknowledgement of the returned issues and re-run the
// operation with them marked acknowledged.
func CheckPreconditions(ctx context.Context, checks ...Precondition) ([]Issue, error) {
	var issues []Issue
	for _, check := range checks {
		issue, err := check.Check(ctx)
		if err != nil {
			return nil, err
		}
		if issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues, nil
}

// Acknowledged reports whether kind is in the caller's acknowledged
// set, letting an operation skip advisory checks it already surfaced.
func Acknowledged(acked []IssueKind, kind IssueKind) bool {
	for _, k := range acked {
		if k == kind {
			return true
		}
	}
	return false
}

type preconditionFunc func(ctx context.Context) (*Issue, error)

func (f preconditionFunc) Check(ctx context.Context) (*Issue, error) {
	return f(ctx)
}

// NoPendingTransaction blocks while earlier signed transactions are
// still awaiting settlement, because their change is not yet spendable
// and a second spend could double-reserve. Blocking also kicks the
// recovery sweep so the backlog clears without waiting for the ticker.
func NoPendingTransaction(store Store, bus *MessageBus, types ...RawTransactionType) Precondition {
	return preconditionFunc(func(ctx context.Context) (*Issue, error) {
		n, err := store.CountUnspentRawTransactions(types)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			if bus != nil {
				bus.Send(RAW_RECOVERY_REQUESTED, nil)
			}
			return nil, NewErr(PendingTransaction, "%d transactions awaiting settlement", n)
		}
		return nil, nil
	})
}

// NotAlreadyPaid blocks when the trace ID has already settled, which
// makes the payment a replay rather than a retry. The local trace is
// checked first; a trace the service knows and we do not, after a
// lost broadcast response on another device, still blocks.
func NotAlreadyPaid(store Store, safe SafeService, traceID string) Precondition {
	return preconditionFunc(func(ctx context.Context) (*Issue, error) {
		trace, err := store.GetTrace(traceID)
		if err != nil && !IsNotFoundError(err) {
			return nil, err
		}
		if err == nil && trace.SnapshotID != "" {
			return nil, NewErr(AlreadyPaid, "trace %s settled as snapshot %s", traceID, trace.SnapshotID)
		}
		response, rerr := safe.Transaction(ctx, traceID)
		if rerr != nil {
			if IsNotFoundError(rerr) {
				return nil, nil
			}
			return nil, rerr
		}
		return nil, NewErr(AlreadyPaid, "trace %s settled as snapshot %s", traceID, response.SnapshotID)
	})
}

// Duplication flags a payment with the same asset, amount and
// destination as one made inside the lookback window. A matched trace
// missing its snapshot ID is back-filled from the service so the
// prompt can show where the earlier payment settled.
func Duplication(store Store, safe SafeService, window time.Duration, assetID, amount, opponentID, destination, tag string) Precondition {
	return preconditionFunc(func(ctx context.Context) (*Issue, error) {
		since := time.Now().Add(-window)
		trace, err := store.FindRecentTrace(assetID, amount, opponentID, destination, tag, since)
		if err != nil {
			if IsNotFoundError(err) {
				return nil, nil
			}
			return nil, err
		}
		if trace.SnapshotID == "" {
			if response, rerr := safe.Transaction(ctx, trace.TraceID); rerr == nil && response.SnapshotID != "" {
				if berr := backfillTraceSnapshot(store, trace.TraceID, response.SnapshotID); berr != nil {
					return nil, berr
				}
			}
		}
		return &Issue{
			Kind:    IssueDuplication,
			Message: "similar payment made at " + trace.CreatedAt,
		}, nil
	})
}

func backfillTraceSnapshot(store Store, traceID, snapshotID string) error {
	dbtx, err := store.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()
	if err := dbtx.UpdateTraceSnapshot(traceID, snapshotID); err != nil {
		return err
	}
	return dbtx.Commit()
}

// LargeAmount flags a transfer whose fiat value meets the configured
// threshold. A zero threshold disables the check.
func LargeAmount(token TokenInfo, amount decimal.Decimal, threshold decimal.Decimal) Precondition {
	return preconditionFunc(func(ctx context.Context) (*Issue, error) {
		if threshold.IsZero() {
			return nil, nil
		}
		value := FiatValue(token, amount)
		if value.GreaterThanOrEqual(threshold) {
			return &Issue{
				Kind:    IssueLargeAmount,
				Message: "transfer worth " + value.StringFixed(2),
			}, nil
		}
		return nil, nil
	})
}

// KnownOpponent flags a recipient who appears in no settled snapshot.
func KnownOpponent(store Store, opponentID string) Precondition {
	return preconditionFunc(func(ctx context.Context) (*Issue, error) {
		n, err := store.CountSnapshotsWithOpponent(opponentID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return &Issue{
				Kind:    IssueUnfamiliarRecipient,
				Message: "no prior settlements with " + opponentID,
			}, nil
		}
		return nil, nil
	})
}

// AgedAddress flags a withdrawal to an address recorded before the
// configured age, a common swapped-address fraud signal.
func AgedAddress(recordedAt time.Time, maxAge time.Duration) Precondition {
	return preconditionFunc(func(ctx context.Context) (*Issue, error) {
		if recordedAt.IsZero() || time.Since(recordedAt) < maxAge {
			return nil, nil
		}
		return &Issue{
			Kind:    IssueAgedAddress,
			Message: "address recorded " + recordedAt.Format("2006-01-02"),
		}, nil
	})
}

// FirstWithdraw flags the first withdrawal to a destination when its
// fiat value exceeds the configured threshold.
func FirstWithdraw(store Store, destination string, token TokenInfo, amount decimal.Decimal, threshold decimal.Decimal) Precondition {
	return preconditionFunc(func(ctx context.Context) (*Issue, error) {
		n, err := store.CountTracesWithDestination(destination)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, nil
		}
		if FiatValue(token, amount).GreaterThan(threshold) {
			return &Issue{
				Kind:    IssueFirstWithdraw,
				Message: "first withdrawal to " + destination,
			}, nil
		}
		return nil, nil
	})
}

// AboveDustThreshold blocks withdrawals below the chain's dust limit,
// which the destination network would reject or strand.
func AboveDustThreshold(amount, dust decimal.Decimal) Precondition {
	return preconditionFunc(func(ctx context.Context) (*Issue, error) {
		if dust.IsPositive() && amount.LessThan(dust) {
			return nil, NewErr(AddressDust, "amount %s below dust threshold %s", amount, dust)
		}
		return nil, nil
	})
}
