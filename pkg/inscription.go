package veil

import (
	"context"
)

// InscriptionOperation transfers a whole inscribed output to a user.
// The output is spent in full; the transfer flow receives the
// single-output collection pre-picked so no amount-based collection
// happens.
type InscriptionOperation struct {
	Engine          *Engine
	TraceID         string
	Token           TokenInfo
	OpponentID      string
	InscriptionHash string
}

func (op *InscriptionOperation) Execute(ctx context.Context, pin string) (*TransferResult, error) {
	e := op.Engine
	output, err := e.Store.GetInscriptionOutput(op.InscriptionHash)
	if err != nil {
		return nil, err
	}
	if output.State != OutputStateUnspent {
		return nil, NewErr(NotAvailable, "inscription output is %s", output.State)
	}
	collection, err := e.Collector.Reserve(output)
	if err != nil {
		return nil, err
	}

	transfer := &TransferOperation{
		Engine:          e,
		TraceID:         op.TraceID,
		Token:           op.Token,
		Amount:          output.Amount,
		Destination:     UserDestination(op.OpponentID),
		Behavior:        BehaviorInscription,
		Collection:      collection,
		InscriptionHash: op.InscriptionHash,
		Acknowledged: []IssueKind{
			IssueDuplication, IssueLargeAmount, IssueUnfamiliarRecipient,
		},
	}
	return transfer.Execute(ctx, pin)
}
