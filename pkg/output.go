package veil

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OutputState string

// Output lifecycle. `pending` outputs were discovered by the sync job
// but are not yet confirmed spendable; `signed` outputs are committed
// to a locally-signed transaction whose broadcast is not yet confirmed.
const (
	OutputStatePending OutputState = "pending"
	OutputStateUnspent OutputState = "unspent"
	OutputStateSigned  OutputState = "signed"
	OutputStateSpent   OutputState = "spent"
)

// Output is an unspent transaction output owned by this wallet.
// Amount is a decimal string; Keys are the one-time output keys.
type Output struct {
	ID                 string      `json:"output_id"`
	TransactionHash    string      `json:"transaction_hash"`
	OutputIndex        int         `json:"output_index"`
	KernelAssetID      string      `json:"asset"`
	Amount             string      `json:"amount"`
	Mask               string      `json:"mask"`
	Keys               []string    `json:"keys"`
	Receivers          []string    `json:"receivers"`
	ReceiversThreshold int         `json:"receivers_threshold"`
	State              OutputState `json:"state"`
	Sequence           int64       `json:"sequence"`
	InscriptionHash    string      `json:"inscription_hash,omitempty"`
	CreatedAt          string      `json:"created_at"`
	UpdatedAt          string      `json:"updated_at"`
	SignedAt           string      `json:"signed_at,omitempty"`
	SpentAt            string      `json:"spent_at,omitempty"`
}

func (o Output) DecimalAmount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(o.Amount)
	if err != nil {
		return decimal.Zero, NewErr(UnknownError, "invalid decimal amount in output %s: %q", o.ID, o.Amount)
	}
	return amount, nil
}

// ChangeOutput derives the locally-known change output of a signed
// transaction, carrying forward receiver data and sequence ordering
// from the last consumed output.
func ChangeOutput(change *KernelChange, kernelAssetID, mask string, keys []string, lastOutput Output, now string) Output {
	return Output{
		ID:                 uuid.NewString(),
		TransactionHash:    change.Hash,
		OutputIndex:        change.Index,
		KernelAssetID:      kernelAssetID,
		Amount:             change.Amount,
		Mask:               mask,
		Keys:               keys,
		Receivers:          lastOutput.Receivers,
		ReceiversThreshold: lastOutput.ReceiversThreshold,
		State:              OutputStateUnspent,
		Sequence:           lastOutput.Sequence + 1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// ConsolidationOutput is the merged output created by a self-transfer.
func ConsolidationOutput(hash, kernelAssetID, amount, mask string, keys []string, lastOutput Output, now string) Output {
	out := ChangeOutput(&KernelChange{Hash: hash, Index: 0, Amount: amount}, kernelAssetID, mask, keys, lastOutput, now)
	return out
}

// OutputCollection is an ordered, immutable selection of outputs plus
// the cached total, owned exclusively by one signing operation.
type OutputCollection struct {
	Outputs []Output
	Amount  decimal.Decimal
}

func (c *OutputCollection) IDs() []string {
	ids := make([]string, len(c.Outputs))
	for i, o := range c.Outputs {
		ids[i] = o.ID
	}
	return ids
}

func (c *OutputCollection) LastOutput() Output {
	return c.Outputs[len(c.Outputs)-1]
}

// EncodeAsInputData serializes the collection in the JSON shape the
// kernel builder consumes.
func (c *OutputCollection) EncodeAsInputData() ([]byte, error) {
	type input struct {
		Hash   string   `json:"hash"`
		Index  int      `json:"index"`
		Amount string   `json:"amount"`
		Mask   string   `json:"mask"`
		Keys   []string `json:"keys"`
	}
	inputs := make([]input, len(c.Outputs))
	for i, o := range c.Outputs {
		inputs[i] = input{
			Hash:   o.TransactionHash,
			Index:  o.OutputIndex,
			Amount: o.Amount,
			Mask:   o.Mask,
			Keys:   o.Keys,
		}
	}
	return json.Marshal(inputs)
}

// EncodedKeys serializes the per-output key sets consumed by the signer.
func (c *OutputCollection) EncodedKeys() (string, error) {
	keys := make([][]string, len(c.Outputs))
	for i, o := range c.Outputs {
		keys[i] = o.Keys
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *OutputCollection) String() string {
	return fmt.Sprintf("%d outputs, amount %s", len(c.Outputs), c.Amount.String())
}

// Balance is the cached per-asset aggregate maintained inside the
// same commit that changes the asset's outputs.
type Balance struct {
	AssetID       string `json:"asset_id"`
	KernelAssetID string `json:"kernel_asset_id"`
	Amount        string `json:"amount"`
}

// JoinKeys renders a key set in the comma-joined form the kernel takes.
func JoinKeys(keys []string) string {
	return strings.Join(keys, ",")
}
