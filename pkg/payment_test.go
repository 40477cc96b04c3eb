package veil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store for engine tests. Transactions apply
// directly; the guarded state checks mirror the real store.
type memStore struct {
	mu        sync.Mutex
	outputs   map[string]Output
	traces    map[string]Trace
	rawTxs    map[string]RawTransaction
	snapshots map[string]SafeSnapshot
	balances  map[string]Balance
}

func newMemStore() *memStore {
	return &memStore{
		outputs:   map[string]Output{},
		traces:    map[string]Trace{},
		rawTxs:    map[string]RawTransaction{},
		snapshots: map[string]SafeSnapshot{},
		balances:  map[string]Balance{},
	}
}

func (s *memStore) addOutput(id, asset, amount string, state OutputState, sequence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[id] = Output{
		ID:              id,
		TransactionHash: "hash-" + id,
		KernelAssetID:   asset,
		Amount:          amount,
		Mask:            "mask-" + id,
		Keys:            []string{"key-" + id},
		Receivers:       []string{"owner"},
		State:           state,
		Sequence:        sequence,
		CreatedAt:       Now(),
		UpdatedAt:       Now(),
	}
}

func (s *memStore) outputState(id string) OutputState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[id].State
}

func (s *memStore) Begin() (StoreTransaction, error) { return &memTx{s: s}, nil }
func (s *memStore) Close() error                     { return nil }

func (s *memStore) ListUnspentOutputs(kernelAssetID string, limit int) ([]Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var outputs []Output
	for _, o := range s.outputs {
		if o.KernelAssetID == kernelAssetID && o.State == OutputStateUnspent && o.InscriptionHash == "" {
			outputs = append(outputs, o)
		}
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Sequence < outputs[j].Sequence })
	if len(outputs) > limit {
		outputs = outputs[:limit]
	}
	return outputs, nil
}

func (s *memStore) ListPendingOutputs(kernelAssetID string) ([]Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var outputs []Output
	for _, o := range s.outputs {
		if o.KernelAssetID == kernelAssetID && o.State == OutputStatePending {
			outputs = append(outputs, o)
		}
	}
	return outputs, nil
}

func (s *memStore) MaxOutputSequence() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, o := range s.outputs {
		if o.Sequence > max {
			max = o.Sequence
		}
	}
	return max, nil
}

func (s *memStore) GetInscriptionOutput(inscriptionHash string) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.outputs {
		if o.InscriptionHash == inscriptionHash {
			return o, nil
		}
	}
	return Output{}, NewErr(NotFound, "no output holds inscription %s", inscriptionHash)
}

func (s *memStore) GetTrace(traceID string) (Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trace, ok := s.traces[traceID]
	if !ok {
		return Trace{}, NewErr(NotFound, "no trace %s", traceID)
	}
	return trace, nil
}

func (s *memStore) FindRecentTrace(assetID, amount, opponentID, destination, tag string, since time.Time) (Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, trace := range s.traces {
		if trace.AssetID == assetID && trace.Amount == amount && trace.OpponentID == opponentID &&
			trace.Destination == destination && trace.Tag == tag && trace.CreatedAt >= TimestampUTC(since) {
			return trace, nil
		}
	}
	return Trace{}, NewErr(NotFound, "no matching trace")
}

func (s *memStore) CountTracesWithDestination(destination string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, trace := range s.traces {
		if trace.Destination == destination {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountUnspentRawTransactions(types []RawTransactionType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tx := range s.rawTxs {
		if tx.State != RawTransactionStateUnspent {
			continue
		}
		if len(types) == 0 {
			n++
			continue
		}
		for _, t := range types {
			if tx.Type == t {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *memStore) ListUnspentRawTransactions(limit int) ([]RawTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var txs []RawTransaction
	for _, tx := range s.rawTxs {
		if tx.State == RawTransactionStateUnspent {
			txs = append(txs, tx)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt < txs[j].CreatedAt })
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (s *memStore) GetRawTransaction(requestID string) (RawTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rawTxs[requestID]
	if !ok {
		return RawTransaction{}, NewErr(NotFound, "no raw transaction %s", requestID)
	}
	return tx, nil
}

func (s *memStore) GetBalance(assetID string) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[assetID]
	if !ok {
		return Balance{AssetID: assetID, Amount: "0"}, nil
	}
	return b, nil
}

func (s *memStore) ListBalances() ([]Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var balances []Balance
	for _, b := range s.balances {
		balances = append(balances, b)
	}
	return balances, nil
}

func (s *memStore) CountSnapshotsWithOpponent(opponentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, snapshot := range s.snapshots {
		if snapshot.OpponentID == opponentID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListSnapshots(assetID string, limit int) ([]SafeSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snapshots []SafeSnapshot
	for _, snapshot := range s.snapshots {
		if assetID == "" || snapshot.AssetID == assetID {
			snapshots = append(snapshots, snapshot)
		}
	}
	return snapshots, nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) Commit() error   { return nil }
func (t *memTx) Rollback() error { return nil }

func (t *memTx) SignOutputs(ids []string, signedAt string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, id := range ids {
		o, ok := t.s.outputs[id]
		if !ok || o.State != OutputStateUnspent {
			return NewErr(UnknownError, "output %s not unspent", id)
		}
	}
	for _, id := range ids {
		o := t.s.outputs[id]
		o.State = OutputStateSigned
		o.SignedAt = signedAt
		t.s.outputs[id] = o
	}
	return nil
}

func (t *memTx) SpendOutputs(ids []string, spentAt string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, id := range ids {
		o := t.s.outputs[id]
		o.State = OutputStateSpent
		o.SpentAt = spentAt
		t.s.outputs[id] = o
	}
	return nil
}

func (t *memTx) SaveOutput(o Output) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.outputs[o.ID] = o
	return nil
}

func (t *memTx) UpsertOutputs(outputs []Output) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, o := range outputs {
		if existing, ok := t.s.outputs[o.ID]; ok &&
			(existing.State == OutputStateSigned || existing.State == OutputStateSpent) {
			continue
		}
		t.s.outputs[o.ID] = o
	}
	return nil
}

func (t *memTx) DeleteOutput(id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	delete(t.s.outputs, id)
	return nil
}

func (t *memTx) SaveTrace(trace Trace) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.traces[trace.TraceID] = trace
	return nil
}

func (t *memTx) UpdateTraceSnapshot(traceID, snapshotID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if trace, ok := t.s.traces[traceID]; ok {
		trace.SnapshotID = snapshotID
		t.s.traces[traceID] = trace
	}
	return nil
}

func (t *memTx) SaveRawTransaction(tx RawTransaction) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.rawTxs[tx.RequestID]; !ok {
		t.s.rawTxs[tx.RequestID] = tx
	}
	return nil
}

func (t *memTx) SignRawTransactions(requestIDs []string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, id := range requestIDs {
		if tx, ok := t.s.rawTxs[id]; ok {
			tx.State = RawTransactionStateSpent
			t.s.rawTxs[id] = tx
		}
	}
	return nil
}

func (t *memTx) SaveSnapshot(snapshot SafeSnapshot) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.snapshots[snapshot.ID] = snapshot
	return nil
}

func (t *memTx) UpdateBalance(assetID, kernelAssetID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.balances[assetID] = Balance{AssetID: assetID, KernelAssetID: kernelAssetID, Amount: "recalculated"}
	return nil
}

// fakeSafe scripts the remote service. failPosts makes the first N
// PostTransaction calls fail with a server error; knownTransactions
// is what the settlement probe reports. landOnFailure maps request
// IDs to snapshot IDs for transactions that settle remotely even
// though the post call errored, modeling a lost response.
type fakeSafe struct {
	mu                sync.Mutex
	failPosts         int
	postCalls         int
	verifyState       string
	knownTransactions map[string]TransactionResponse
	landOnFailure     map[string]string
	postedRequests    [][]TransactionRequest
}

func newFakeSafe() *fakeSafe {
	return &fakeSafe{
		verifyState:       "unspent",
		knownTransactions: map[string]TransactionResponse{},
		landOnFailure:     map[string]string{},
	}
}

func (f *fakeSafe) GhostKeys(ctx context.Context, requests []GhostKeyRequest) ([]GhostKey, error) {
	keys := make([]GhostKey, len(requests))
	for i, r := range requests {
		keys[i] = GhostKey{Keys: []string{"ghost-" + r.TraceID}, Mask: "mask-" + r.TraceID}
	}
	return keys, nil
}

func (f *fakeSafe) RequestTransaction(ctx context.Context, requests []TransactionRequest) ([]TransactionResponse, error) {
	responses := make([]TransactionResponse, len(requests))
	for i, r := range requests {
		responses[i] = TransactionResponse{
			RequestID: r.ID,
			State:     f.verifyState,
			Views:     []string{"view-" + r.ID},
		}
	}
	return responses, nil
}

func (f *fakeSafe) PostTransaction(ctx context.Context, requests []TransactionRequest) ([]TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	f.postedRequests = append(f.postedRequests, requests)
	if f.postCalls <= f.failPosts {
		for _, r := range requests {
			if snapshotID, ok := f.landOnFailure[r.ID]; ok {
				f.knownTransactions[r.ID] = TransactionResponse{
					RequestID:  r.ID,
					SnapshotID: snapshotID,
					State:      "spent",
					CreatedAt:  Now(),
				}
			}
		}
		return nil, NewErr(RemoteServer, "post failed")
	}
	responses := make([]TransactionResponse, len(requests))
	for i, r := range requests {
		responses[i] = TransactionResponse{
			RequestID:  r.ID,
			SnapshotID: "snapshot-" + r.ID,
			State:      "spent",
			CreatedAt:  Now(),
		}
		f.knownTransactions[r.ID] = responses[i]
	}
	return responses, nil
}

func (f *fakeSafe) Transaction(ctx context.Context, id string) (TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	response, ok := f.knownTransactions[id]
	if !ok {
		return TransactionResponse{}, NewErr(NotFound, "no transaction %s", id)
	}
	return response, nil
}

func (f *fakeSafe) Transactions(ctx context.Context, ids []string) ([]TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var responses []TransactionResponse
	for _, id := range ids {
		if response, ok := f.knownTransactions[id]; ok {
			responses = append(responses, response)
		}
	}
	return responses, nil
}

func (f *fakeSafe) Outputs(ctx context.Context, members string, threshold int, offset int64, limit int) ([]Output, error) {
	return nil, nil
}

func (f *fakeSafe) SignMultisig(ctx context.Context, id string, request TransactionRequest) error {
	return nil
}

func (f *fakeSafe) UnlockMultisig(ctx context.Context, id string) error {
	return nil
}

// fakeKernel builds deterministic transactions. changeAmount, when
// set, makes SignTx report a change output.
type fakeKernel struct {
	mu           sync.Mutex
	builds       int
	changeAmount string
	references   []string
}

func (f *fakeKernel) nextTx() *KernelTx {
	f.builds++
	return &KernelTx{
		Raw:  fmt.Sprintf("raw-%d", f.builds),
		Hash: fmt.Sprintf("%064d", f.builds),
	}
}

func (f *fakeKernel) BuildTx(assetID, amount string, threshold int, receiverKeys, receiverMask string, inputs []byte, changeKeys, changeMask, memo, references string) (*KernelTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.references = append(f.references, references)
	return f.nextTx(), nil
}

func (f *fakeKernel) BuildTxToKernelAddress(assetID, amount string, threshold int, address string, inputs []byte, changeKeys, changeMask, extraHex, references string) (*KernelTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.references = append(f.references, references)
	return f.nextTx(), nil
}

func (f *fakeKernel) BuildWithdrawalTx(assetID, amount, destination, tag, feeAmount, feeKeys, feeMask string, inputs []byte, changeKeys, changeMask, memo string) (*KernelTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextTx(), nil
}

func (f *fakeKernel) SignTx(raw, outputKeys, viewKeys, spendKey string, hasExternalFee bool) (*KernelSignedTx, error) {
	if spendKey != testSpendKey {
		return nil, NewErr(UnknownError, "bad spend key")
	}
	signed := &KernelSignedTx{
		Raw:  "signed-" + raw,
		Hash: strings.Repeat("f", 64),
	}
	if f.changeAmount != "" {
		signed.Change = &KernelChange{Hash: signed.Hash, Index: 1, Amount: f.changeAmount}
	}
	return signed, nil
}

func (f *fakeKernel) SignPartial(raw, viewKeys, spendKey string, index int) (*KernelTx, error) {
	return &KernelTx{Raw: fmt.Sprintf("partial-%d-%s", index, raw)}, nil
}

const testSpendKey = "deadbeef"

type fakeTIP struct{}

func (fakeTIP) SpendKey(ctx context.Context, pin string) (string, error) {
	if pin != "123456" {
		return "", NewErr(WrongPIN, "PIN rejected")
	}
	return testSpendKey, nil
}

func testToken(assetID, kernelAssetID string) MixinToken {
	return MixinToken{
		TokenSymbol:   "TEST",
		TokenAssetID:  assetID,
		TokenKernelID: kernelAssetID,
		TokenChainID:  "chain",
		USDPrice:      "2",
	}
}

// drainedBus is a bus nobody subscribes to; a goroutine drains it so
// Send never blocks during a test.
func drainedBus() *MessageBus {
	bus := NewMessageBus()
	go func() {
		for range bus.inbound {
		}
	}()
	return &bus
}

func newTestEngine(store Store) (*Engine, *fakeSafe, *fakeKernel) {
	conf := TestConfig()
	safe := newFakeSafe()
	kernel := &fakeKernel{}
	session := NewSession("owner")
	engine := NewEngine(store, safe, kernel, fakeTIP{}, session, drainedBus(), conf)
	return engine, safe, kernel
}
