package veil

import (
	"context"
)

// MultisigOperation signs or revokes this wallet's slot of a pending
// threshold transaction held by the verification service. Neither
// action mutates local spending state; the signed transaction's
// effects arrive later through output sync.
type MultisigOperation struct {
	Engine *Engine

	// RequestID identifies the pending transaction at the service.
	RequestID string
	// Raw is the unsigned transaction to counter-sign.
	Raw string
	// ViewKeys are the comma-joined view keys from the service.
	ViewKeys string
	// Index is this wallet's signer slot.
	Index int
}

// Sign produces this wallet's partial signature and submits it.
func (op *MultisigOperation) Sign(ctx context.Context, pin string) error {
	e := op.Engine
	spendKey, err := e.spendKey(ctx, pin)
	if err != nil {
		return err
	}
	signature, err := e.Kernel.SignPartial(op.Raw, op.ViewKeys, spendKey, op.Index)
	if err != nil {
		return err
	}
	return WithRetryOnServerError(ctx, e.Session, e.Config.Payment.MaxBroadcastTries, func(ctx context.Context) error {
		return e.Safe.SignMultisig(ctx, op.RequestID, TransactionRequest{ID: op.RequestID, Raw: signature.Raw})
	}, nil)
}

// Unlock revokes the pending transaction, releasing its inputs. The
// PIN check still runs so revocation needs the same authority as
// signing.
func (op *MultisigOperation) Unlock(ctx context.Context, pin string) error {
	e := op.Engine
	if _, err := e.spendKey(ctx, pin); err != nil {
		return err
	}
	return WithRetryOnServerError(ctx, e.Session, e.Config.Payment.MaxBroadcastTries, func(ctx context.Context) error {
		return e.Safe.UnlockMultisig(ctx, op.RequestID)
	}, nil)
}
