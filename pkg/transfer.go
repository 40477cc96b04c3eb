package veil

import (
	"context"
)

// TransferBehavior selects the variant of the shared transfer flow.
type TransferBehavior string

const (
	BehaviorTransfer      TransferBehavior = "transfer"
	BehaviorConsolidation TransferBehavior = "consolidation"
	BehaviorInscription   TransferBehavior = "inscription"
	BehaviorSwap          TransferBehavior = "swap"
)

// TransferOperation moves one asset amount to a destination. The same
// flow serves plain transfers, output consolidation, inscription
// transfers and swap legs; Behavior adjusts the bits that differ.
type TransferOperation struct {
	Engine          *Engine
	TraceID         string
	Token           TokenInfo
	Amount          string
	Destination     TransferDestination
	Memo            string
	References      []string
	Behavior        TransferBehavior
	InscriptionHash string

	// Collection is set by inscription and consolidation flows that
	// pick their outputs before the operation starts; nil means the
	// operation collects by amount.
	Collection *OutputCollection

	// Acknowledged advisory issues from a previous attempt.
	Acknowledged []IssueKind
}

// TransferResult is what settles back to the caller.
type TransferResult struct {
	TraceID         string `json:"trace_id"`
	TransactionHash string `json:"transaction_hash"`
	SnapshotID      string `json:"snapshot_id"`
}

// Issues runs the advisory and blocking pre-payment checks, skipping
// advisory checks the caller already acknowledged. A non-empty result
// means the caller must acknowledge before Execute proceeds.
func (op *TransferOperation) Issues(ctx context.Context) ([]Issue, error) {
	e := op.Engine
	amount, err := parseAmount(op.Amount)
	if err != nil {
		return nil, err
	}
	if err := VerifyReferences(op.References); err != nil {
		return nil, err
	}
	checks := []Precondition{
		NoPendingTransaction(e.Store, e.Bus, RawTransactionTypeTransfer, RawTransactionTypeWithdrawal),
		NotAlreadyPaid(e.Store, e.Safe, op.TraceID),
	}
	if op.Behavior == BehaviorTransfer {
		if !Acknowledged(op.Acknowledged, IssueDuplication) {
			checks = append(checks, Duplication(e.Store, e.Safe, e.duplicateWindow(),
				op.Token.AssetID(), op.Amount, op.Destination.OpponentID(), op.Destination.Address, ""))
		}
		if !Acknowledged(op.Acknowledged, IssueLargeAmount) {
			threshold, terr := parseThreshold(e.Config.Payment.LargeAmountThreshold)
			if terr != nil {
				return nil, terr
			}
			checks = append(checks, LargeAmount(op.Token, amount, threshold))
		}
		if opponent := op.Destination.OpponentID(); opponent != "" && !Acknowledged(op.Acknowledged, IssueUnfamiliarRecipient) {
			checks = append(checks, KnownOpponent(e.Store, opponent))
		}
	}
	return CheckPreconditions(ctx, checks...)
}

// Execute runs the full transfer: collect, build, verify, sign, commit
// locally, broadcast, settle. Unacknowledged issues abort before any
// output is reserved.
func (op *TransferOperation) Execute(ctx context.Context, pin string) (*TransferResult, error) {
	e := op.Engine
	amount, err := parseAmount(op.Amount)
	if err != nil {
		return nil, err
	}
	issues, err := op.Issues(ctx)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, NewErr(NotAvailable, "%d advisory issues need acknowledgement", len(issues))
	}

	collection := op.Collection
	if collection == nil {
		collection, err = e.Collector.CollectOrWait(ctx, e.Session, op.Token.KernelAssetID(), amount, e.outputWait())
		if err != nil {
			return nil, err
		}
	}
	result, err := op.run(ctx, pin, collection)
	if err != nil {
		e.Collector.Release(collection)
		e.Bus.Send(PAY_FAILED, struct {
			TraceID string    `json:"trace_id"`
			Code    ErrorCode `json:"code"`
		}{op.TraceID, CodeOf(err)}, op.TraceID)
		return nil, err
	}
	return result, nil
}

func (op *TransferOperation) run(ctx context.Context, pin string, collection *OutputCollection) (*TransferResult, error) {
	e := op.Engine
	inputs, err := collection.EncodeAsInputData()
	if err != nil {
		return nil, err
	}
	references := JoinKeys(op.References)

	// Receiver key set first, sender change set last.
	var tx *KernelTx
	var receiver, change GhostKey
	switch op.Destination.Kind {
	case DestinationUser, DestinationMultisig:
		keys, gerr := e.ghostKeys(ctx, ContactTransferGhostKeys(op.Destination.UserIDs, []string{e.Session.UserID()}, op.TraceID))
		if gerr != nil {
			return nil, gerr
		}
		receiver = keys[0]
		change = keys[1]
		tx, err = e.Kernel.BuildTx(op.Token.KernelAssetID(), op.Amount, op.Destination.Threshold,
			JoinKeys(receiver.Keys), receiver.Mask, inputs, JoinKeys(change.Keys), change.Mask, op.Memo, references)
	case DestinationMainnet:
		keys, gerr := e.ghostKeys(ctx, MainnetAddressTransferGhostKeys(e.Session.UserID(), op.TraceID))
		if gerr != nil {
			return nil, gerr
		}
		change = keys[0]
		tx, err = e.Kernel.BuildTxToKernelAddress(op.Token.KernelAssetID(), op.Amount, 1,
			op.Destination.Address, inputs, JoinKeys(change.Keys), change.Mask, hexExtra(op.Memo), references)
	default:
		return nil, NewErr(BadRequest, "unsupported destination kind %d", op.Destination.Kind)
	}
	if err != nil {
		return nil, err
	}

	responses, err := e.verifyTx(ctx, []TransactionRequest{{ID: op.TraceID, Raw: tx.Raw}})
	if err != nil {
		return nil, err
	}
	views := JoinKeys(responses[0].Views)

	spendKey, err := e.spendKey(ctx, pin)
	if err != nil {
		return nil, err
	}
	outputKeys, err := collection.EncodedKeys()
	if err != nil {
		return nil, err
	}
	signed, err := e.Kernel.SignTx(tx.Raw, outputKeys, views, spendKey, false)
	if err != nil {
		return nil, err
	}

	if err := op.commit(signed, collection, change, receiver); err != nil {
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
	result := &TransferResult{
		TraceID:         op.TraceID,
		TransactionHash: signed.Hash,
		SnapshotID:      broadcast[0].SnapshotID,
	}
	if op.Behavior == BehaviorConsolidation {
		e.Bus.Send(OUT_CONSOLIDATED, result, op.TraceID)
	} else {
		e.Bus.Send(PAY_SETTLED, result, op.TraceID)
	}
	return result, nil
}

// commit durably records the signed transaction before any broadcast:
// inputs move to signed, the change output (if any) appears as
// unspent, and the trace, ledger row and balance change in the same
// transaction.
func (op *TransferOperation) commit(signed *KernelSignedTx, collection *OutputCollection, change, receiver GhostKey) error {
	e := op.Engine
	now := Now()
	dbtx, err := e.Store.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()
	if err := e.Collector.Finalize(dbtx, collection, now); err != nil {
		return err
	}
	if signed.Change != nil {
		out := ChangeOutput(signed.Change, op.Token.KernelAssetID(),
			change.Mask, change.Keys, collection.LastOutput(), now)
		if err := dbtx.SaveOutput(out); err != nil {
			return err
		}
	}
	if op.Behavior == BehaviorConsolidation {
		// the self-transfer's merged output is spendable as soon as the
		// transaction is durable locally
		merged := ConsolidationOutput(signed.Hash, op.Token.KernelAssetID(), op.Amount,
			receiver.Mask, receiver.Keys, collection.LastOutput(), now)
		if err := dbtx.SaveOutput(merged); err != nil {
			return err
		}
	}
	raw := RawTransaction{
		RequestID:      op.TraceID,
		RawTransaction: signed.Raw,
		ReceiverID:     op.Destination.OpponentID(),
		Inputs:         collection.IDs(),
		State:          RawTransactionStateUnspent,
		Type:           RawTransactionTypeTransfer,
		CreatedAt:      now,
	}
	if err := dbtx.SaveRawTransaction(raw); err != nil {
		return err
	}
	trace := Trace{
		TraceID:    op.TraceID,
		AssetID:    op.Token.AssetID(),
		Amount:     op.Amount,
		OpponentID: op.Destination.OpponentID(),
		CreatedAt:  now,
	}
	if op.Destination.Kind == DestinationMainnet {
		trace.Destination = op.Destination.Address
	}
	if err := dbtx.SaveTrace(trace); err != nil {
		return err
	}
	// a consolidation moves nothing of value, so no ledger row
	if op.Behavior != BehaviorConsolidation {
		snapshot := NewSafeSnapshot(SnapshotTypePending, op.Token.AssetID(), "-"+op.Amount,
			e.Session.UserID(), op.Destination.OpponentID(), op.Memo, signed.Hash, op.TraceID, op.InscriptionHash, now)
		if err := dbtx.SaveSnapshot(snapshot); err != nil {
			return err
		}
	}
	if err := dbtx.UpdateBalance(op.Token.AssetID(), op.Token.KernelAssetID()); err != nil {
		return err
	}
	return dbtx.Commit()
}
