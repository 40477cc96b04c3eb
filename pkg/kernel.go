package veil

import (
	"context"
)

// KernelTx is an unsigned transaction produced by the kernel builder.
type KernelTx struct {
	Raw  string
	Hash string
}

// KernelChange describes the change output of a signed transaction.
type KernelChange struct {
	Hash   string
	Index  int
	Amount string
}

// KernelSignedTx is a fully signed transaction plus its optional
// change output descriptor.
type KernelSignedTx struct {
	Raw    string
	Hash   string
	Change *KernelChange
}

// Kernel is the opaque transaction build/sign capability. The ghost
// key derivation and ring signature math behind it are out of scope;
// the engine only depends on this narrow surface.
type Kernel interface {
	// BuildTx builds an unsigned transaction paying amount of asset to
	// the given receiver key set. References is a comma-joined list of
	// transaction hashes the new transaction depends on.
	BuildTx(assetID, amount string, threshold int, receiverKeys, receiverMask string, inputs []byte, changeKeys, changeMask, memo, references string) (*KernelTx, error)

	// BuildTxToKernelAddress builds an unsigned transaction paying to a
	// mainnet kernel address. Extra must already be hex-encoded.
	BuildTxToKernelAddress(assetID, amount string, threshold int, address string, inputs []byte, changeKeys, changeMask, extraHex, references string) (*KernelTx, error)

	// BuildWithdrawalTx builds an unsigned withdrawal. When the fee is
	// carried by the same transaction, feeAmount/feeKeys/feeMask hold
	// the cashier output; when the fee rides a separate transaction
	// they are empty.
	BuildWithdrawalTx(assetID, amount, destination, tag, feeAmount, feeKeys, feeMask string, inputs []byte, changeKeys, changeMask, memo string) (*KernelTx, error)

	// SignTx signs a built transaction with the PIN-derived spend key.
	// outputKeys is the serialized per-input key sets, viewKeys the
	// comma-joined view keys from the verification service.
	// hasExternalFee marks a withdrawal whose fee rides a separate tx.
	SignTx(raw, outputKeys, viewKeys, spendKey string, hasExternalFee bool) (*KernelSignedTx, error)

	// SignPartial produces the partial signature for one signer index
	// of a threshold scheme.
	SignPartial(raw, viewKeys, spendKey string, index int) (*KernelTx, error)
}

// TIP derives the spend key from the user's PIN via the threshold
// identity protocol. The key is held in memory for the duration of a
// single operation and never persisted or logged. A wrong PIN yields
// an error with code WrongPIN.
type TIP interface {
	SpendKey(ctx context.Context, pin string) (string, error)
}
