// Package signer talks to the local signer daemon that holds the
// kernel transaction primitives and the PIN-derived key scheme. The
// wallet never sees key material beyond the per-operation spend key.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	veil "github.com/veilnet/veilwallet/pkg"
)

// interface guards ensure SignerRPC implements both capabilities
var _ veil.Kernel = &SignerRPC{}
var _ veil.TIP = &SignerRPC{}

// NewSignerRPC returns a veil.Kernel and veil.TIP implementor that
// uses the signer daemon's JSON-RPC endpoint.
func NewSignerRPC(config veil.Config) (*SignerRPC, error) {
	addr := fmt.Sprintf("http://%s:%d", config.Signer.RPCHost, config.Signer.RPCPort)
	var id uint64 = 1
	return &SignerRPC{addr, config.Signer.RPCUser, config.Signer.RPCPass, &id}, nil
}

type SignerRPC struct {
	url  string
	user string
	pass string
	id   *uint64
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	Id     uint64 `json:"id"`
}
type rpcResponse struct {
	Id     uint64           `json:"id"`
	Result *json.RawMessage `json:"result"`
	Error  any              `json:"error"`
}

func (s *SignerRPC) request(method string, params []any, result any) error {
	body := rpcRequest{
		Method: method,
		Params: params,
		Id:     *s.id,
	}
	*s.id += 1 // each request should use a unique ID
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("signer-rpc marshal request: %v", err)
	}
	req, err := http.NewRequest("POST", s.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("signer-rpc request: %v", err)
	}
	req.SetBasicAuth(s.user, s.pass)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("signer-rpc transport: %v", err)
	}
	// we MUST read all of res.Body and call res.Close,
	// otherwise the underlying connection cannot be re-used.
	defer res.Body.Close()
	resBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("signer-rpc read response: %v", err)
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("signer-rpc status code: %s", res.Status)
	}
	var rpcres rpcResponse
	err = json.Unmarshal(resBytes, &rpcres)
	if err != nil {
		return fmt.Errorf("signer-rpc unmarshal response: %v", err)
	}
	if rpcres.Id != body.Id {
		return fmt.Errorf("signer-rpc wrong ID returned: %v vs %v", rpcres.Id, body.Id)
	}
	if rpcres.Error != nil {
		return fmt.Errorf("signer-rpc error returned: %v", rpcres.Error)
	}
	if rpcres.Result == nil {
		return fmt.Errorf("signer-rpc missing result")
	}
	err = json.Unmarshal(*rpcres.Result, result)
	if err != nil {
		return fmt.Errorf("signer-rpc unmarshal result: %v", err)
	}
	return nil
}

func (s *SignerRPC) BuildTx(assetID, amount string, threshold int, receiverKeys, receiverMask string, inputs []byte, changeKeys, changeMask, memo, references string) (*veil.KernelTx, error) {
	var tx veil.KernelTx
	err := s.request("buildtransaction", []any{
		assetID, amount, threshold, receiverKeys, receiverMask,
		json.RawMessage(inputs), changeKeys, changeMask, memo, references,
	}, &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *SignerRPC) BuildTxToKernelAddress(assetID, amount string, threshold int, address string, inputs []byte, changeKeys, changeMask, extraHex, references string) (*veil.KernelTx, error) {
	var tx veil.KernelTx
	err := s.request("buildaddresstransaction", []any{
		assetID, amount, threshold, address,
		json.RawMessage(inputs), changeKeys, changeMask, extraHex, references,
	}, &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *SignerRPC) BuildWithdrawalTx(assetID, amount, destination, tag, feeAmount, feeKeys, feeMask string, inputs []byte, changeKeys, changeMask, memo string) (*veil.KernelTx, error) {
	var tx veil.KernelTx
	err := s.request("buildwithdrawaltransaction", []any{
		assetID, amount, destination, tag, feeAmount, feeKeys, feeMask,
		json.RawMessage(inputs), changeKeys, changeMask, memo,
	}, &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *SignerRPC) SignTx(raw, outputKeys, viewKeys, spendKey string, hasExternalFee bool) (*veil.KernelSignedTx, error) {
	var tx veil.KernelSignedTx
	err := s.request("signtransaction", []any{raw, outputKeys, viewKeys, spendKey, hasExternalFee}, &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *SignerRPC) SignPartial(raw, viewKeys, spendKey string, index int) (*veil.KernelTx, error) {
	var tx veil.KernelTx
	err := s.request("signtransactionpartial", []any{raw, viewKeys, spendKey, index}, &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// SpendKey derives the spend key from the PIN. The daemon reports a
// wrong PIN distinctly so callers can prompt again instead of
// retrying.
func (s *SignerRPC) SpendKey(ctx context.Context, pin string) (string, error) {
	var result struct {
		SpendKey string `json:"spend_key"`
		WrongPIN bool   `json:"wrong_pin"`
	}
	if err := s.request("derivespendkey", []any{pin}, &result); err != nil {
		return "", err
	}
	if result.WrongPIN {
		return "", veil.NewErr(veil.WrongPIN, "PIN rejected by signer")
	}
	return result.SpendKey, nil
}
