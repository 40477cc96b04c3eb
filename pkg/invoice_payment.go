package veil

import (
	"context"
	"encoding/hex"

	"github.com/veilnet/veilwallet/pkg/mix"
)

// InvoiceEntryPayment pairs one invoice entry with the token it pays
// and the outputs reserved for it.
type InvoiceEntryPayment struct {
	Entry      mix.Entry
	Token      TokenInfo
	Collection *OutputCollection
}

// DestinationFromAddress maps a decoded recipient address onto a
// transfer destination.
func DestinationFromAddress(addr *mix.Address) TransferDestination {
	switch addr.Kind() {
	case mix.AddressKindUser:
		return UserDestination(addr.UserIDs[0])
	case mix.AddressKindMultisig:
		return MultisigDestination(addr.UserIDs, int(addr.Threshold))
	default:
		return MainnetDestination(addr.MainnetAddress)
	}
}

// CollectInvoiceEntries reserves outputs for every entry up front, so
// an atomic payment either holds everything it needs or nothing. The
// blocking preconditions run first, per entry, before anything is
// reserved. Tokens maps asset IDs to their token records.
func CollectInvoiceEntries(ctx context.Context, e *Engine, invoice *mix.Invoice, tokens map[string]TokenInfo) ([]InvoiceEntryPayment, error) {
	checks := []Precondition{
		NoPendingTransaction(e.Store, e.Bus, RawTransactionTypeTransfer, RawTransactionTypeWithdrawal),
	}
	for _, entry := range invoice.Entries {
		checks = append(checks, NotAlreadyPaid(e.Store, e.Safe, entry.TraceID))
	}
	if _, err := CheckPreconditions(ctx, checks...); err != nil {
		return nil, err
	}

	var payments []InvoiceEntryPayment
	for _, entry := range invoice.Entries {
		token, ok := tokens[entry.AssetID]
		if !ok {
			releaseEntryCollections(e, payments)
			return nil, NewErr(NotFound, "unknown asset %s", entry.AssetID)
		}
		amount, err := parseAmount(entry.Amount)
		if err != nil {
			releaseEntryCollections(e, payments)
			return nil, err
		}
		collection, err := e.Collector.CollectOrWait(ctx, e.Session, token.KernelAssetID(), amount, e.outputWait())
		if err != nil {
			releaseEntryCollections(e, payments)
			return nil, err
		}
		payments = append(payments, InvoiceEntryPayment{Entry: entry, Token: token, Collection: collection})
	}
	return payments, nil
}

func releaseEntryCollections(e *Engine, payments []InvoiceEntryPayment) {
	for _, p := range payments {
		e.Collector.Release(p.Collection)
	}
}

// resolveReferences renders an entry's references as the comma-joined
// hash list the builder takes. Index references resolve against the
// hashes of entries already built in this run.
func resolveReferences(refs []mix.Reference, builtHashes []string) (string, error) {
	hashes := make([]string, len(refs))
	for i, ref := range refs {
		if ref.IsIndex {
			if ref.Index >= len(builtHashes) {
				return "", NewErr(InvalidReference, "reference to unbuilt entry %d", ref.Index)
			}
			hashes[i] = builtHashes[ref.Index]
		} else {
			hashes[i] = hex.EncodeToString(ref.Hash)
		}
	}
	return JoinKeys(hashes), nil
}

// AtomicInvoiceOperation pays all entries of an invoice as one batch:
// every transaction is built and signed before anything is committed,
// the commit covers all of them, and they broadcast together. When
// the service settles only a subset, the settled subset is recorded
// and the operation fails with InconsistentBroadcast.
type AtomicInvoiceOperation struct {
	Engine      *Engine
	Destination TransferDestination
	Payments    []InvoiceEntryPayment
}

// builtEntry carries one entry through the build/verify/sign stages.
type builtEntry struct {
	payment InvoiceEntryPayment
	change  GhostKey
	tx      *KernelTx
	signed  *KernelSignedTx
}

func (op *AtomicInvoiceOperation) Execute(ctx context.Context, pin string) ([]TransferResult, error) {
	e := op.Engine
	results, err := op.run(ctx, pin)
	if err != nil {
		for _, p := range op.Payments {
			e.Collector.Release(p.Collection)
		}
		e.Bus.Send(PAY_FAILED, struct {
			Code ErrorCode `json:"code"`
		}{CodeOf(err)})
		return results, err
	}
	return results, nil
}

func (op *AtomicInvoiceOperation) run(ctx context.Context, pin string) ([]TransferResult, error) {
	e := op.Engine
	if len(op.Payments) == 0 {
		return nil, NewErr(BadRequest, "invoice has no entries")
	}
	// A wrong PIN must fail before anything is built.
	spendKey, err := e.spendKey(ctx, pin)
	if err != nil {
		return nil, err
	}

	built := make([]builtEntry, 0, len(op.Payments))
	builtHashes := make([]string, 0, len(op.Payments))
	for _, payment := range op.Payments {
		entry := payment.Entry
		inputs, err := payment.Collection.EncodeAsInputData()
		if err != nil {
			return nil, err
		}
		references, err := resolveReferences(entry.References, builtHashes)
		if err != nil {
			return nil, err
		}
		var tx *KernelTx
		var change GhostKey
		switch op.Destination.Kind {
		case DestinationUser, DestinationMultisig:
			keys, gerr := e.ghostKeys(ctx, ContactTransferGhostKeys(op.Destination.UserIDs, []string{e.Session.UserID()}, entry.TraceID))
			if gerr != nil {
				return nil, gerr
			}
			receiver := keys[0]
			change = keys[1]
			tx, err = e.Kernel.BuildTx(payment.Token.KernelAssetID(), entry.Amount, op.Destination.Threshold,
				JoinKeys(receiver.Keys), receiver.Mask, inputs,
				JoinKeys(change.Keys), change.Mask, string(entry.Extra), references)
		case DestinationMainnet:
			keys, gerr := e.ghostKeys(ctx, MainnetAddressTransferGhostKeys(e.Session.UserID(), entry.TraceID))
			if gerr != nil {
				return nil, gerr
			}
			change = keys[0]
			tx, err = e.Kernel.BuildTxToKernelAddress(payment.Token.KernelAssetID(), entry.Amount, 1,
				op.Destination.Address, inputs, JoinKeys(change.Keys), change.Mask,
				hex.EncodeToString(entry.Extra), references)
		default:
			return nil, NewErr(BadRequest, "unsupported destination kind %d", op.Destination.Kind)
		}
		if err != nil {
			return nil, err
		}
		built = append(built, builtEntry{payment: payment, change: change, tx: tx})
		builtHashes = append(builtHashes, tx.Hash)
	}

	requests := make([]TransactionRequest, len(built))
	for i, b := range built {
		requests[i] = TransactionRequest{ID: b.payment.Entry.TraceID, Raw: b.tx.Raw}
	}
	responses, err := e.verifyTx(ctx, requests)
	if err != nil {
		return nil, err
	}
	views := viewsByRequest(responses)

	for i := range built {
		b := &built[i]
		view, ok := views[b.payment.Entry.TraceID]
		if !ok {
			return nil, NewErr(MissingResponse, "no verification for %s", b.payment.Entry.TraceID)
		}
		outputKeys, err := b.payment.Collection.EncodedKeys()
		if err != nil {
			return nil, err
		}
		b.signed, err = e.Kernel.SignTx(b.tx.Raw, outputKeys, view, spendKey, false)
		if err != nil {
			return nil, err
		}
	}

	if err := op.commit(built); err != nil {
		return nil, err
	}
	for _, b := range built {
		e.Bus.Send(PAY_SIGNED, b.signed.Hash, b.payment.Entry.TraceID)
	}

	broadcastRequests := make([]TransactionRequest, len(built))
	var outputIDs []string
	for i, b := range built {
		broadcastRequests[i] = TransactionRequest{ID: b.payment.Entry.TraceID, Raw: b.signed.Raw}
		outputIDs = append(outputIDs, b.payment.Collection.IDs()...)
	}
	broadcast, err := e.broadcast(ctx, broadcastRequests)
	if err != nil && !IsError(err, InconsistentBroadcast) {
		return nil, err
	}
	partialErr := err
	settled := map[string]bool{}
	var settledOutputs []string
	for _, r := range broadcast {
		settled[r.RequestID] = true
	}
	for _, b := range built {
		if settled[b.payment.Entry.TraceID] {
			settledOutputs = append(settledOutputs, b.payment.Collection.IDs()...)
		}
	}
	if err := e.settle(broadcast, settledOutputs); err != nil {
		return nil, err
	}
	if partialErr != nil {
		e.Bus.Send(PAY_PARTIAL, broadcast)
		return nil, partialErr
	}

	results := make([]TransferResult, len(built))
	for i, b := range built {
		results[i] = TransferResult{
			TraceID:         b.payment.Entry.TraceID,
			TransactionHash: b.signed.Hash,
			SnapshotID:      snapshotFor(broadcast, b.payment.Entry.TraceID),
		}
		e.Bus.Send(PAY_SETTLED, results[i], results[i].TraceID)
	}
	return results, nil
}

// commit persists every signed entry in one store transaction, so an
// invoice is either fully durable or untouched locally.
func (op *AtomicInvoiceOperation) commit(built []builtEntry) error {
	e := op.Engine
	now := Now()
	dbtx, err := e.Store.Begin()
	if err != nil {
		return err
	}
	defer dbtx.Rollback()
	assets := map[string]TokenInfo{}
	for _, b := range built {
		entry := b.payment.Entry
		if err := e.Collector.Finalize(dbtx, b.payment.Collection, now); err != nil {
			return err
		}
		if b.signed.Change != nil {
			out := ChangeOutput(b.signed.Change, b.payment.Token.KernelAssetID(),
				b.change.Mask, b.change.Keys, b.payment.Collection.LastOutput(), now)
			if err := dbtx.SaveOutput(out); err != nil {
				return err
			}
		}
		raw := RawTransaction{
			RequestID:      entry.TraceID,
			RawTransaction: b.signed.Raw,
			ReceiverID:     op.Destination.OpponentID(),
			Inputs:         b.payment.Collection.IDs(),
			State:          RawTransactionStateUnspent,
			Type:           RawTransactionTypeTransfer,
			CreatedAt:      now,
		}
		if err := dbtx.SaveRawTransaction(raw); err != nil {
			return err
		}
		trace := Trace{
			TraceID:    entry.TraceID,
			AssetID:    b.payment.Token.AssetID(),
			Amount:     entry.Amount,
			OpponentID: op.Destination.OpponentID(),
			CreatedAt:  now,
		}
		if op.Destination.Kind == DestinationMainnet {
			trace.Destination = op.Destination.Address
		}
		if err := dbtx.SaveTrace(trace); err != nil {
			return err
		}
		snapshot := NewSafeSnapshot(SnapshotTypePending, b.payment.Token.AssetID(), "-"+entry.Amount,
			e.Session.UserID(), op.Destination.OpponentID(), hex.EncodeToString(entry.Extra),
			b.signed.Hash, entry.TraceID, "", now)
		if err := dbtx.SaveSnapshot(snapshot); err != nil {
			return err
		}
		assets[b.payment.Token.AssetID()] = b.payment.Token
	}
	for _, token := range assets {
		if err := dbtx.UpdateBalance(token.AssetID(), token.KernelAssetID()); err != nil {
			return err
		}
	}
	return dbtx.Commit()
}

// SequentialInvoiceOperation pays the entries of an invoice one at a
// time as independent transfers. Earlier entries settle before later
// ones start, and index references resolve to their settled hashes. A
// failure leaves the earlier entries paid.
type SequentialInvoiceOperation struct {
	Engine      *Engine
	Destination TransferDestination
	Invoice     *mix.Invoice
	Tokens      map[string]TokenInfo

	// Acknowledged advisory issues, passed through to every entry's
	// transfer.
	Acknowledged []IssueKind
}

func (op *SequentialInvoiceOperation) Execute(ctx context.Context, pin string) ([]TransferResult, error) {
	e := op.Engine
	var results []TransferResult
	hashes := make([]string, 0, len(op.Invoice.Entries))
	for _, entry := range op.Invoice.Entries {
		token, ok := op.Tokens[entry.AssetID]
		if !ok {
			return results, NewErr(NotFound, "unknown asset %s", entry.AssetID)
		}
		references, err := resolveReferences(entry.References, hashes)
		if err != nil {
			return results, err
		}
		transfer := &TransferOperation{
			Engine:       e,
			TraceID:      entry.TraceID,
			Token:        token,
			Amount:       entry.Amount,
			Destination:  op.Destination,
			Memo:         string(entry.Extra),
			References:   splitReferences(references),
			Behavior:     BehaviorTransfer,
			Acknowledged: op.Acknowledged,
		}
		result, err := transfer.Execute(ctx, pin)
		if err != nil {
			return results, err
		}
		results = append(results, *result)
		hashes = append(hashes, result.TransactionHash)
	}
	return results, nil
}
