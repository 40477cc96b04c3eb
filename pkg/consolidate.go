package veil

import (
	"context"
)

// ConsolidateOperation merges the wallet's spendable outputs of one
// asset into a single output with a self-transfer, keeping later
// payments under the input cap.
type ConsolidateOperation struct {
	Engine  *Engine
	TraceID string
	Token   TokenInfo
}

func (op *ConsolidateOperation) Execute(ctx context.Context, pin string) (*TransferResult, error) {
	e := op.Engine
	collection, err := e.Collector.CollectAll(op.Token.KernelAssetID())
	if err != nil {
		return nil, err
	}
	if len(collection.Outputs) < 2 {
		e.Collector.Release(collection)
		return nil, NewErr(NotAvailable, "%d spendable outputs, nothing to consolidate", len(collection.Outputs))
	}
	transfer := &TransferOperation{
		Engine:      e,
		TraceID:     op.TraceID,
		Token:       op.Token,
		Amount:      collection.Amount.String(),
		Destination: UserDestination(e.Session.UserID()),
		Behavior:    BehaviorConsolidation,
		Collection:  collection,
	}
	return transfer.Execute(ctx, pin)
}
