package veil

import (
	"context"
)

// SwapOperation pays one leg of a swap order: a transfer of the send
// asset to the provider account named by the quote, with the order ID
// as the memo so the provider matches the deposit to the order. The
// recipient advisories do not apply; the provider is fixed by the
// order, not chosen by the user.
type SwapOperation struct {
	Engine  *Engine
	TraceID string
	OrderID string
	Token   TokenInfo
	Amount  string
	// ReceiverID is the provider account the order pays to.
	ReceiverID string
}

func (op *SwapOperation) Execute(ctx context.Context, pin string) (*TransferResult, error) {
	if op.OrderID == "" {
		return nil, NewErr(BadRequest, "missing swap order ID")
	}
	transfer := &TransferOperation{
		Engine:      op.Engine,
		TraceID:     op.TraceID,
		Token:       op.Token,
		Amount:      op.Amount,
		Destination: UserDestination(op.ReceiverID),
		Memo:        op.OrderID,
		Behavior:    BehaviorSwap,
	}
	return transfer.Execute(ctx, pin)
}
