package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/tjstebbing/conductor"
	veil "github.com/veilnet/veilwallet/pkg"
	"github.com/veilnet/veilwallet/pkg/mix"
)

// WebAPI is the local control surface: balances, outputs, pending
// transactions, invoice tooling and payment submission. It binds to
// localhost only; there is no public server.
type WebAPI struct {
	engine *veil.Engine
	config veil.Config
}

// interface guard ensures WebAPI implements conductor.Service
var _ conductor.Service = WebAPI{}

func NewWebAPI(config veil.Config, engine *veil.Engine) (WebAPI, error) {
	return WebAPI{engine: engine, config: config}, nil
}

func (t WebAPI) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		mux := t.createRouter()
		server := &http.Server{Addr: t.config.WebAPI.AdminBind + ":" + t.config.WebAPI.AdminPort, Handler: mux}
		fmt.Printf("\nControl API listening on %s:%s", t.config.WebAPI.AdminBind, t.config.WebAPI.AdminPort)
		go func() {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("HTTP server ListenAndServe: %v", err)
			}
		}()
		started <- true
		ctx := <-stop
		server.Shutdown(ctx)
		stopped <- true
	}()
	return nil
}

func (t WebAPI) createRouter() *httprouter.Router {
	mux := httprouter.New()

	// GET /balances -> [ {asset_id, amount}, ... ]
	mux.GET("/balances", t.listBalances)

	// GET /balance/:assetID -> { asset_id, amount }
	mux.GET("/balance/:assetID", t.getBalance)

	// GET /snapshots ? asset, limit -> ledger entries
	mux.GET("/snapshots", t.listSnapshots)

	// GET /transactions/pending -> raw transactions awaiting settlement
	mux.GET("/transactions/pending", t.listPendingTransactions)

	// POST /transactions/recover -> request a recovery sweep
	mux.POST("/transactions/recover", t.requestRecovery)

	// POST /outputs/sync -> request an output pull
	mux.POST("/outputs/sync", t.requestSync)

	// POST { token, pin } /outputs/consolidate -> merge spendable outputs
	mux.POST("/outputs/consolidate", t.consolidate)

	// POST { invoice } /invoice/decode -> parsed invoice
	mux.POST("/invoice/decode", t.decodeInvoice)

	// POST { invoice } /invoice/encode -> MIN string
	mux.POST("/invoice/encode", t.encodeInvoice)

	// GET /invoice/:invoice/qr.png -> QR code of the invoice string
	mux.GET("/invoice/:invoice/qr.png", t.getInvoiceQR)

	// POST { address } /address/decode -> parsed address
	mux.POST("/address/decode", t.decodeAddress)

	// POST { payment } /pay/transfer -> transfer result
	mux.POST("/pay/transfer", t.payTransfer)

	// POST { payment } /pay/invoice -> per-entry results
	mux.POST("/pay/invoice", t.payInvoice)

	// POST { payment } /pay/withdraw -> withdrawal result
	mux.POST("/pay/withdraw", t.payWithdraw)

	// POST { payment } /pay/swap -> swap leg result
	mux.POST("/pay/swap", t.paySwap)

	return mux
}

func (t WebAPI) listBalances(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	balances, err := t.engine.Store.ListBalances()
	if err != nil {
		sendError(w, "ListBalances", err)
		return
	}
	sendResponse(w, balances)
}

func (t WebAPI) getBalance(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	assetID := p.ByName("assetID")
	if assetID == "" {
		sendBadRequest(w, "missing asset ID in URL")
		return
	}
	balance, err := t.engine.Store.GetBalance(assetID)
	if err != nil {
		sendError(w, "GetBalance", err)
		return
	}
	sendResponse(w, balance)
}

func (t WebAPI) listSnapshots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := 100
	if arg := r.URL.Query().Get("limit"); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			sendBadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	snapshots, err := t.engine.Store.ListSnapshots(r.URL.Query().Get("asset"), limit)
	if err != nil {
		sendError(w, "ListSnapshots", err)
		return
	}
	sendResponse(w, snapshots)
}

func (t WebAPI) listPendingTransactions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	txs, err := t.engine.Store.ListUnspentRawTransactions(100)
	if err != nil {
		sendError(w, "ListUnspentRawTransactions", err)
		return
	}
	sendResponse(w, txs)
}

func (t WebAPI) requestRecovery(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	t.engine.Bus.Send(veil.RAW_RECOVERY_REQUESTED, nil)
	sendResponse(w, map[string]string{"status": "requested"})
}

func (t WebAPI) requestSync(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	t.engine.Bus.Send(veil.OUT_SYNC_REQUESTED, nil)
	sendResponse(w, map[string]string{"status": "requested"})
}

func (t WebAPI) consolidate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		TraceID string          `json:"trace_id"`
		Token   veil.MixinToken `json:"token"`
		PIN     string          `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	if body.TraceID == "" {
		body.TraceID = veil.NewTraceID()
	}
	op := &veil.ConsolidateOperation{Engine: t.engine, TraceID: body.TraceID, Token: body.Token}
	result, err := op.Execute(r.Context(), body.PIN)
	if err != nil {
		sendError(w, "Consolidate", err)
		return
	}
	sendResponse(w, result)
}

func (t WebAPI) decodeInvoice(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Invoice string `json:"invoice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	invoice, err := mix.ParseInvoice(body.Invoice)
	if err != nil {
		sendError(w, "ParseInvoice", veil.NewErr(veil.InvalidInvoice, "%v", err))
		return
	}
	sendResponse(w, invoiceView(invoice))
}

func (t WebAPI) encodeInvoice(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Recipient string `json:"recipient"`
		Entries   []struct {
			TraceID string `json:"trace_id"`
			AssetID string `json:"asset_id"`
			Amount  string `json:"amount"`
			Extra   string `json:"extra"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	recipient, err := mix.ParseAddress(body.Recipient)
	if err != nil {
		sendError(w, "ParseAddress", veil.NewErr(veil.InvalidAddress, "%v", err))
		return
	}
	invoice := &mix.Invoice{Version: mix.InvoiceVersion, Recipient: recipient}
	for _, e := range body.Entries {
		traceID := e.TraceID
		if traceID == "" {
			traceID = veil.NewTraceID()
		}
		invoice.Entries = append(invoice.Entries, mix.Entry{
			TraceID: traceID,
			AssetID: e.AssetID,
			Amount:  e.Amount,
			Extra:   []byte(e.Extra),
		})
	}
	encoded := invoice.String()
	// reject anything the parser would refuse, before it circulates
	if _, err := mix.ParseInvoice(encoded); err != nil {
		sendError(w, "encode", veil.NewErr(veil.InvalidInvoice, "%v", err))
		return
	}
	sendResponse(w, map[string]string{"invoice": encoded})
}

func (t WebAPI) getInvoiceQR(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	encoded := p.ByName("invoice")
	if _, err := mix.ParseInvoice(encoded); err != nil {
		sendError(w, "ParseInvoice", veil.NewErr(veil.InvalidInvoice, "%v", err))
		return
	}
	size := 256
	if arg := r.URL.Query().Get("size"); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 32 || n > 2048 {
			sendBadRequest(w, "invalid size")
			return
		}
		size = n
	}
	png, err := GenerateQRCodePNG(encoded, size)
	if err != nil {
		sendError(w, "qrcode", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (t WebAPI) decodeAddress(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	addr, err := mix.ParseAddress(body.Address)
	if err != nil {
		sendError(w, "ParseAddress", veil.NewErr(veil.InvalidAddress, "%v", err))
		return
	}
	sendResponse(w, addressView(addr))
}

type transferBody struct {
	TraceID string          `json:"trace_id"`
	Token   veil.MixinToken `json:"token"`
	Amount  string          `json:"amount"`
	To      string          `json:"to"` // MIX address
	Memo    string          `json:"memo"`
	PIN     string          `json:"pin"`
	// Acknowledged advisory issue kinds, from a previous 409.
	Acknowledged []veil.IssueKind `json:"acknowledged"`
}

func (t WebAPI) payTransfer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body transferBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	addr, err := mix.ParseAddress(body.To)
	if err != nil {
		sendError(w, "ParseAddress", veil.NewErr(veil.InvalidAddress, "%v", err))
		return
	}
	if body.TraceID == "" {
		body.TraceID = veil.NewTraceID()
	}
	op := &veil.TransferOperation{
		Engine:       t.engine,
		TraceID:      body.TraceID,
		Token:        body.Token,
		Amount:       body.Amount,
		Destination:  veil.DestinationFromAddress(addr),
		Memo:         body.Memo,
		Behavior:     veil.BehaviorTransfer,
		Acknowledged: body.Acknowledged,
	}
	issues, err := op.Issues(r.Context())
	if err != nil {
		sendError(w, "Transfer", err)
		return
	}
	if len(issues) > 0 {
		sendStatusResponse(w, http.StatusConflict, map[string]any{"issues": issues})
		return
	}
	result, err := op.Execute(r.Context(), body.PIN)
	if err != nil {
		sendError(w, "Transfer", err)
		return
	}
	sendResponse(w, result)
}

func (t WebAPI) payInvoice(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Invoice string                     `json:"invoice"`
		Tokens  map[string]veil.MixinToken `json:"tokens"` // keyed by asset ID
		PIN     string                     `json:"pin"`
		// Atomic pays all entries in one batch; otherwise entries pay
		// one at a time.
		Atomic bool `json:"atomic"`
		// Acknowledged advisory issue kinds, from a previous 409.
		Acknowledged []veil.IssueKind `json:"acknowledged"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	invoice, err := mix.ParseInvoice(body.Invoice)
	if err != nil {
		sendError(w, "ParseInvoice", veil.NewErr(veil.InvalidInvoice, "%v", err))
		return
	}
	tokens := make(map[string]veil.TokenInfo, len(body.Tokens))
	for assetID, token := range body.Tokens {
		tokens[assetID] = token
	}
	destination := veil.DestinationFromAddress(invoice.Recipient)
	if body.Atomic {
		payments, err := veil.CollectInvoiceEntries(r.Context(), t.engine, invoice, tokens)
		if err != nil {
			sendError(w, "CollectInvoiceEntries", err)
			return
		}
		op := &veil.AtomicInvoiceOperation{Engine: t.engine, Destination: destination, Payments: payments}
		results, err := op.Execute(r.Context(), body.PIN)
		if err != nil {
			sendError(w, "AtomicInvoice", err)
			return
		}
		sendResponse(w, results)
		return
	}
	op := &veil.SequentialInvoiceOperation{
		Engine:       t.engine,
		Destination:  destination,
		Invoice:      invoice,
		Tokens:       tokens,
		Acknowledged: body.Acknowledged,
	}
	results, err := op.Execute(r.Context(), body.PIN)
	if err != nil {
		sendError(w, "SequentialInvoice", err)
		return
	}
	sendResponse(w, results)
}

func (t WebAPI) payWithdraw(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		TraceID      string           `json:"trace_id"`
		Token        veil.MixinToken  `json:"token"`
		FeeToken     veil.MixinToken  `json:"fee_token"`
		Amount       string           `json:"amount"`
		Fee          string           `json:"fee"`
		Destination  string           `json:"destination"`
		Tag          string           `json:"tag"`
		Dust         string           `json:"dust"`
		PIN          string           `json:"pin"`
		Acknowledged []veil.IssueKind `json:"acknowledged"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	if body.TraceID == "" {
		body.TraceID = veil.NewTraceID()
	}
	op := &veil.WithdrawOperation{
		Engine:        t.engine,
		TraceID:       body.TraceID,
		Token:         body.Token,
		FeeToken:      body.FeeToken,
		Amount:        body.Amount,
		FeeAmount:     body.Fee,
		Destination:   body.Destination,
		Tag:           body.Tag,
		DustThreshold: body.Dust,
		Acknowledged:  body.Acknowledged,
	}
	issues, err := op.Issues(r.Context())
	if err != nil {
		sendError(w, "Withdraw", err)
		return
	}
	if len(issues) > 0 {
		sendStatusResponse(w, http.StatusConflict, map[string]any{"issues": issues})
		return
	}
	result, err := op.Execute(r.Context(), body.PIN)
	if err != nil {
		sendError(w, "Withdraw", err)
		return
	}
	sendResponse(w, result)
}

func (t WebAPI) paySwap(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		TraceID    string          `json:"trace_id"`
		OrderID    string          `json:"order_id"`
		Token      veil.MixinToken `json:"token"`
		Amount     string          `json:"amount"`
		ReceiverID string          `json:"receiver_id"`
		PIN        string          `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	if body.TraceID == "" {
		body.TraceID = veil.NewTraceID()
	}
	op := &veil.SwapOperation{
		Engine:     t.engine,
		TraceID:    body.TraceID,
		OrderID:    body.OrderID,
		Token:      body.Token,
		Amount:     body.Amount,
		ReceiverID: body.ReceiverID,
	}
	result, err := op.Execute(r.Context(), body.PIN)
	if err != nil {
		sendError(w, "Swap", err)
		return
	}
	sendResponse(w, result)
}

// invoiceView renders a parsed invoice with binary fields made
// printable.
func invoiceView(invoice *mix.Invoice) any {
	type entryView struct {
		TraceID string `json:"trace_id"`
		AssetID string `json:"asset_id"`
		Amount  string `json:"amount"`
		Extra   string `json:"extra"`
		Refs    int    `json:"references"`
	}
	entries := make([]entryView, len(invoice.Entries))
	for i, e := range invoice.Entries {
		entries[i] = entryView{
			TraceID: e.TraceID,
			AssetID: e.AssetID,
			Amount:  e.Amount,
			Extra:   string(e.Extra),
			Refs:    len(e.References),
		}
	}
	return map[string]any{
		"version":   invoice.Version,
		"recipient": addressView(invoice.Recipient),
		"entries":   entries,
	}
}

func addressView(addr *mix.Address) any {
	view := map[string]any{
		"version":   addr.Version,
		"threshold": addr.Threshold,
	}
	switch addr.Kind() {
	case mix.AddressKindUser:
		view["kind"] = "user"
		view["user_id"] = addr.UserIDs[0]
	case mix.AddressKindMultisig:
		view["kind"] = "multisig"
		view["user_ids"] = addr.UserIDs
	case mix.AddressKindMainnet:
		view["kind"] = "mainnet"
		view["address"] = addr.MainnetAddress
	}
	return view
}
