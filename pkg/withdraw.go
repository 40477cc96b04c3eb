package veil

import (
	"context"
	"time"
)

// WithdrawOperation moves value to an external chain address. The
// network fee is either carried inside the withdrawal transaction
// (fee paid in the withdrawal asset) or by a second fee transaction
// that references the withdrawal's hash, so the two settle together.
type WithdrawOperation struct {
	Engine   *Engine
	TraceID  string
	Token    TokenInfo
	FeeToken TokenInfo

	Amount      string
	FeeAmount   string
	Destination string
	Tag         string

	// DustThreshold is the destination chain's minimum; empty disables
	// the check.
	DustThreshold string
	// AddressRecordedAt is when the caller last saved this address;
	// zero disables the aged-address check.
	AddressRecordedAt time.Time

	Acknowledged []IssueKind
}

// feeTraceID derives the idempotent request ID of the separate fee
// transaction.
func (op *WithdrawOperation) feeTraceID() string {
	return FeeTraceID(op.TraceID)
}

func (op *WithdrawOperation) sameAssetFee() bool {
	return op.FeeToken.AssetID() == op.Token.AssetID()
}

func (op *WithdrawOperation) Issues(ctx context.Context) ([]Issue, error) {
	e := op.Engine
	amount, err := parseAmount(op.Amount)
	if err != nil {
		return nil, err
	}
	dust, err := parseThreshold(op.DustThreshold)
	if err != nil {
		return nil, err
	}
	checks := []Precondition{
		AboveDustThreshold(amount, dust),
		NoPendingTransaction(e.Store, e.Bus, RawTransactionTypeWithdrawal, RawTransactionTypeFee),
		NotAlreadyPaid(e.Store, e.Safe, op.TraceID),
	}
	if !Acknowledged(op.Acknowledged, IssueDuplication) {
		checks = append(checks, Duplication(e.Store, e.Safe, e.duplicateWindow(),
			op.Token.AssetID(), op.Amount, "", op.Destination, op.Tag))
	}
	if !Acknowledged(op.Acknowledged, IssueAgedAddress) {
		maxAge := time.Duration(e.Config.Payment.AgedAddressDays) * 24 * time.Hour
		checks = append(checks, AgedAddress(op.AddressRecordedAt, maxAge))
	}
	if !Acknowledged(op.Acknowledged, IssueFirstWithdraw) {
		threshold, terr := parseThreshold(e.Config.Payment.FirstWithdrawThreshold)
		if terr != nil {
			return nil, terr
		}
		checks = append(checks, FirstWithdraw(e.Store, op.Destination, op.Token, amount, threshold))
	}
	return CheckPreconditions(ctx, checks...)
}

func (op *WithdrawOperation) Execute(ctx context.Context, pin string) (*TransferResult, error) {
	e := op.Engine
	issues, err := op.Issues(ctx)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, NewErr(NotAvailable, "%d advisory issues need acknowledgement", len(issues))
	}
	amount, err := parseAmount(op.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount(op.FeeAmount)
	if err != nil {
		return nil, NewErr(InsufficientFee, "invalid fee amount %q", op.FeeAmount)
	}

	var result *TransferResult
	if op.sameAssetFee() {
		collection, cerr := e.Collector.CollectOrWait(ctx, e.Session, op.Token.KernelAssetID(), amount.Add(fee), e.outputWait())
		if cerr != nil {
			return nil, cerr
		}
		result, err = op.runCombined(ctx, pin, collection)
		if err != nil {
			e.Collector.Release(collection)
		}
	} else {
		collection, cerr := e.Collector.CollectOrWait(ctx, e.Session, op.Token.KernelAssetID(), amount, e.outputWait())
		if cerr != nil {
			return nil, cerr
		}
		feeCollection, cerr := e.Collector.CollectOrWait(ctx, e.Session, op.FeeToken.KernelAssetID(), fee, e.outputWait())
		if cerr != nil {
			e.Collector.Release(collection)
			return nil, cerr
		}
		result, err = op.runSeparateFee(ctx, pin, collection, feeCollection)
		if err != nil {
			e.Collector.Release(collection)
			e.Collector.Release(feeCollection)
		}
	}
	if err != nil {
		e.Bus.Send(PAY_FAILED, struct {
			TraceID string    `json:"trace_id"`
			Code    ErrorCode `json:"code"`
		}{op.TraceID, CodeOf(err)}, op.TraceID)
		return nil, err
	}
	return result, nil
}

// runCombined is the single-transaction path: the cashier fee output
// rides inside the withdrawal itself.
func (op *WithdrawOperation) runCombined(ctx context.Context, pin string, collection *OutputCollection) (*TransferResult, error) {
	e := op.Engine
	inputs, err := collection.EncodeAsInputData()
	if err != nil {
		return nil, err
	}
	keys, err := e.ghostKeys(ctx, WithdrawSubmitGhostKeys(CashierID, e.Session.UserID(), op.TraceID))
	if err != nil {
		return nil, err
	}
	feeOutput, change := keys[0], keys[1]
	tx, err := e.Kernel.BuildWithdrawalTx(op.Token.KernelAssetID(), op.Amount, op.Destination, op.Tag,
		op.FeeAmount, JoinKeys(feeOutput.Keys), feeOutput.Mask,
		inputs, JoinKeys(change.Keys), change.Mask, "")
	if err != nil {
		return nil, err
	}
	responses, err := e.verifyTx(ctx, []TransactionRequest{{ID: op.TraceID, Raw: tx.Raw}})
	if err != nil {
		return nil, err
	}
	spendKey, err := e.spendKey(ctx, pin)
	if err != nil {
		return nil, err
	}
	outputKeys, err := collection.EncodedKeys()
	if err != nil {
		return nil, err
	}
	signed, err := e.Kernel.SignTx(tx.Raw, outputKeys, JoinKeys(responses[0].Views), spendKey, false)
	if err != nil {
		return nil, err
	}
	commit := withdrawCommit{
		op:         op,
		signed:     signed,
		collection: collection,
		change:     change,
	}
	if err := commit.apply(); err != nil {
		return nil, err
	}
	e.Bus.Send(PAY_SIGNED, signed.Hash, op.TraceID)

	broadcast, err := e.broadcast(ctx, []TransactionRequest{{ID: op.TraceID, Raw: signed.Raw}})
	if err != nil {
		return nil, err
	}
	if err := e.settle(broadcast, collection.IDs()); err != nil {
		return nil, err
	}
	result := &TransferResult{TraceID: op.TraceID, TransactionHash: signed.Hash, SnapshotID: broadcast[0].SnapshotID}
	e.Bus.Send(PAY_SETTLED, result, op.TraceID)
	return result, nil
}

// runSeparateFee builds a withdrawal plus a fee transfer to the
// cashier that references the withdrawal hash, verifies and signs
// both, and broadcasts them as one batch.
func (op *WithdrawOperation) runSeparateFee(ctx context.Context, pin string, collection, feeCollection *OutputCollection) (*TransferResult, error) {
	e := op.Engine
	inputs, err := collection.EncodeAsInputData()
	if err != nil {
		return nil, err
	}
	feeInputs, err := feeCollection.EncodeAsInputData()
	if err != nil {
		return nil, err
	}
	keys, err := e.ghostKeys(ctx, WithdrawFeeGhostKeys(CashierID, e.Session.UserID(), op.TraceID))
	if err != nil {
		return nil, err
	}
	feeOutput, change, feeChange := keys[0], keys[1], keys[2]

	tx, err := e.Kernel.BuildWithdrawalTx(op.Token.KernelAssetID(), op.Amount, op.Destination, op.Tag,
		"", "", "", inputs, JoinKeys(change.Keys), change.Mask, "")
	if err != nil {
		return nil, err
	}
	feeTx, err := e.Kernel.BuildTx(op.FeeToken.KernelAssetID(), op.FeeAmount, 1,
		JoinKeys(feeOutput.Keys), feeOutput.Mask, feeInputs,
		JoinKeys(feeChange.Keys), feeChange.Mask, "", tx.Hash)
	if err != nil {
		return nil, err
	}

	feeTraceID := op.feeTraceID()
	responses, err := e.verifyTx(ctx, []TransactionRequest{
		{ID: op.TraceID, Raw: tx.Raw},
		{ID: feeTraceID, Raw: feeTx.Raw},
	})
	if err != nil {
		return nil, err
	}
	views := viewsByRequest(responses)

	spendKey, err := e.spendKey(ctx, pin)
	if err != nil {
		return nil, err
	}
	outputKeys, err := collection.EncodedKeys()
	if err != nil {
		return nil, err
	}
	feeOutputKeys, err := feeCollection.EncodedKeys()
	if err != nil {
		return nil, err
	}
	signed, err := e.Kernel.SignTx(tx.Raw, outputKeys, views[op.TraceID], spendKey, true)
	if err != nil {
		return nil, err
	}
	signedFee, err := e.Kernel.SignTx(feeTx.Raw, feeOutputKeys, views[feeTraceID], spendKey, false)
	if err != nil {
		return nil, err
	}

	commit := withdrawCommit{
		op:            op,
		signed:        signed,
		collection:    collection,
		change:        change,
		signedFee:     signedFee,
		feeCollection: feeCollection,
		feeChange:     feeChange,
	}
	if err := commit.apply(); err != nil {
		return nil, err
	}
	e.Bus.Send(PAY_SIGNED, signed.Hash, op.TraceID)

	broadcast, err := e.broadcast(ctx, []TransactionRequest{
		{ID: op.TraceID, Raw: signed.Raw},
		{ID: feeTraceID, Raw: signedFee.Raw},
	})
	if err != nil && !IsError(err, InconsistentBroadcast) {
		return nil, err
	}
	settleErr := err
	outputIDs := settledOutputIDs(broadcast, op.TraceID, feeTraceID, collection, feeCollection)
	if err := e.settle(broadcast, outputIDs); err != nil {
		return nil, err
	}
	if settleErr != nil {
		e.Bus.Send(PAY_PARTIAL, broadcast, op.TraceID)
		return nil, settleErr
	}
	result := &TransferResult{TraceID: op.TraceID, TransactionHash: signed.Hash, SnapshotID: snapshotFor(broadcast, op.TraceID)}
	e.Bus.Send(PAY_SETTLED, result, op.TraceID)
	return result, nil
}

// withdrawCommit writes the signed withdrawal (and optional fee
// transaction) durably in one store transaction.
type withdrawCommit struct {
	op         *WithdrawOperation
	signed     *KernelSignedTx
	collection *OutputCollection
	change     GhostKey

	signedFee     *KernelSignedTx
	feeCollection *OutputCollection
	feeChange     GhostKey
}

func (c withdrawCommit) apply() error {
	op, e := c.op, c.op.Engine
	now := Now()
	dbtx, err := e.Store.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()
	if err := e.Collector.Finalize(dbtx, c.collection, now); err != nil {
		return err
	}
	if c.signed.Change != nil {
		out := ChangeOutput(c.signed.Change, op.Token.KernelAssetID(),
			c.change.Mask, c.change.Keys, c.collection.LastOutput(), now)
		if err := dbtx.SaveOutput(out); err != nil {
			return err
		}
	}
	raw := RawTransaction{
		RequestID:      op.TraceID,
		RawTransaction: c.signed.Raw,
		Inputs:         c.collection.IDs(),
		State:          RawTransactionStateUnspent,
		Type:           RawTransactionTypeWithdrawal,
		CreatedAt:      now,
	}
	if err := dbtx.SaveRawTransaction(raw); err != nil {
		return err
	}
	if c.signedFee != nil {
		if err := e.Collector.Finalize(dbtx, c.feeCollection, now); err != nil {
			return err
		}
		if c.signedFee.Change != nil {
			out := ChangeOutput(c.signedFee.Change, op.FeeToken.KernelAssetID(),
				c.feeChange.Mask, c.feeChange.Keys, c.feeCollection.LastOutput(), now)
			if err := dbtx.SaveOutput(out); err != nil {
				return err
			}
		}
		feeRaw := RawTransaction{
			RequestID:      op.feeTraceID(),
			RawTransaction: c.signedFee.Raw,
			ReceiverID:     CashierID,
			Inputs:         c.feeCollection.IDs(),
			State:          RawTransactionStateUnspent,
			Type:           RawTransactionTypeFee,
			CreatedAt:      now,
		}
		if err := dbtx.SaveRawTransaction(feeRaw); err != nil {
			return err
		}
	}
	trace := Trace{
		TraceID:     op.TraceID,
		AssetID:     op.Token.AssetID(),
		Amount:      op.Amount,
		Destination: op.Destination,
		Tag:         op.Tag,
		CreatedAt:   now,
	}
	if err := dbtx.SaveTrace(trace); err != nil {
		return err
	}
	snapshot := NewSafeSnapshot(SnapshotTypeWithdrawal, op.Token.AssetID(), "-"+op.Amount,
		e.Session.UserID(), "", "", c.signed.Hash, op.TraceID, "", now)
	if err := dbtx.SaveSnapshot(snapshot); err != nil {
		return err
	}
	if err := dbtx.UpdateBalance(op.Token.AssetID(), op.Token.KernelAssetID()); err != nil {
		return err
	}
	if c.signedFee != nil {
		if err := dbtx.UpdateBalance(op.FeeToken.AssetID(), op.FeeToken.KernelAssetID()); err != nil {
			return err
		}
	}
	return dbtx.Commit()
}

// viewsByRequest indexes verification responses by request ID with
// view keys joined for the signer.
func viewsByRequest(responses []TransactionResponse) map[string]string {
	views := make(map[string]string, len(responses))
	for _, r := range responses {
		views[r.RequestID] = JoinKeys(r.Views)
	}
	return views
}

func snapshotFor(responses []TransactionResponse, requestID string) string {
	for _, r := range responses {
		if r.RequestID == requestID {
			return r.SnapshotID
		}
	}
	return ""
}

// settledOutputIDs maps the settled subset of a two-transaction
// broadcast back to the input output IDs that may now be spent.
func settledOutputIDs(responses []TransactionResponse, traceID, feeTraceID string, collection, feeCollection *OutputCollection) []string {
	var ids []string
	for _, r := range responses {
		switch r.RequestID {
		case traceID:
			ids = append(ids, collection.IDs()...)
		case feeTraceID:
			if feeCollection != nil {
				ids = append(ids, feeCollection.IDs()...)
			}
		}
	}
	return ids
}
