package veil

import (
	"context"
	"testing"
)

const (
	testTraceID  = "3c5fbc72-9f3b-4f56-97f1-3b4c92f0a15e"
	testOpponent = "ccb6f98a-5c98-4c46-ba4a-f3ec3b6d6a42"
)

func newTransfer(engine *Engine) *TransferOperation {
	return &TransferOperation{
		Engine:      engine,
		TraceID:     testTraceID,
		Token:       testToken("asset", testAsset),
		Amount:      "3",
		Destination: UserDestination(testOpponent),
		Memo:        "lunch",
		Behavior:    BehaviorTransfer,
		Acknowledged: []IssueKind{
			IssueDuplication, IssueLargeAmount, IssueUnfamiliarRecipient,
		},
	}
}

func TestTransferHappyPath(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "2", OutputStateUnspent, 1)
	store.addOutput("b", testAsset, "2", OutputStateUnspent, 2)
	engine, safe, kernel := newTestEngine(store)
	kernel.changeAmount = "1"

	op := newTransfer(engine)
	result, err := op.Execute(context.Background(), "123456")
	if err != nil {
		t.Fatal(err)
	}
	if result.TraceID != testTraceID {
		t.Fatalf("wrong trace ID %s", result.TraceID)
	}
	if result.SnapshotID != "snapshot-"+testTraceID {
		t.Fatalf("wrong snapshot ID %s", result.SnapshotID)
	}

	// both inputs spent, change recorded as a fresh unspent output
	if store.outputState("a") != OutputStateSpent || store.outputState("b") != OutputStateSpent {
		t.Fatal("inputs were not spent")
	}
	unspent, err := store.ListUnspentOutputs(testAsset, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(unspent) != 1 || unspent[0].Amount != "1" {
		t.Fatalf("expected one change output of 1, got %v", unspent)
	}

	// the raw transaction settled and the trace carries the snapshot
	raw, err := store.GetRawTransaction(testTraceID)
	if err != nil {
		t.Fatal(err)
	}
	if raw.State != RawTransactionStateSpent || raw.Type != RawTransactionTypeTransfer {
		t.Fatalf("raw transaction not settled: %+v", raw)
	}
	trace, err := store.GetTrace(testTraceID)
	if err != nil {
		t.Fatal(err)
	}
	if trace.SnapshotID != result.SnapshotID {
		t.Fatalf("trace snapshot %s, want %s", trace.SnapshotID, result.SnapshotID)
	}

	if safe.postCalls != 1 {
		t.Fatalf("expected 1 broadcast, got %d", safe.postCalls)
	}
}

func TestTransferRecoversFromTransientBroadcastFailure(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "5", OutputStateUnspent, 1)
	engine, safe, _ := newTestEngine(store)
	safe.failPosts = 1 // first post times out, retry lands

	op := newTransfer(engine)
	result, err := op.Execute(context.Background(), "123456")
	if err != nil {
		t.Fatal(err)
	}
	if result.SnapshotID == "" {
		t.Fatal("missing snapshot ID after retried broadcast")
	}
	if store.outputState("a") != OutputStateSpent {
		t.Fatal("input was not spent")
	}
}

func TestTransferSettlesThroughProbeWhenPostNeverReturns(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "5", OutputStateUnspent, 1)
	engine, safe, _ := newTestEngine(store)
	// every post fails, but the transaction actually lands remotely
	safe.failPosts = 100
	safe.landOnFailure[testTraceID] = "snapshot-probed"

	op := newTransfer(engine)
	result, err := op.Execute(context.Background(), "123456")
	if err != nil {
		t.Fatal(err)
	}
	if result.SnapshotID != "snapshot-probed" {
		t.Fatalf("expected the probed snapshot, got %s", result.SnapshotID)
	}
}

func TestTransferReleasesOutputsOnWrongPIN(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "5", OutputStateUnspent, 1)
	engine, _, _ := newTestEngine(store)

	op := newTransfer(engine)
	_, err := op.Execute(context.Background(), "000000")
	if !IsError(err, WrongPIN) {
		t.Fatalf("expected WrongPIN, got %v", err)
	}
	if store.outputState("a") != OutputStateUnspent {
		t.Fatal("input should remain unspent after an aborted payment")
	}

	// the reservation was released, so a second attempt can collect
	if _, err := engine.Collector.Collect(testAsset, amt("5")); err != nil {
		t.Fatalf("outputs were not released: %v", err)
	}
}

func TestTransferRefusesUnacknowledgedIssues(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "5", OutputStateUnspent, 1)
	engine, _, _ := newTestEngine(store)

	op := newTransfer(engine)
	op.Acknowledged = nil // recipient is unfamiliar, so an issue surfaces

	issues, err := op.Issues(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 || issues[0].Kind != IssueUnfamiliarRecipient {
		t.Fatalf("expected an unfamiliar-recipient issue, got %v", issues)
	}
	if _, err := op.Execute(context.Background(), "123456"); !IsError(err, NotAvailable) {
		t.Fatalf("expected NotAvailable, got %v", err)
	}
}

func TestTransferBlockedByPendingTransaction(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "5", OutputStateUnspent, 1)
	store.rawTxs["earlier"] = RawTransaction{
		RequestID: "earlier",
		State:     RawTransactionStateUnspent,
		Type:      RawTransactionTypeTransfer,
	}
	engine, safe, _ := newTestEngine(store)

	op := newTransfer(engine)
	if _, err := op.Execute(context.Background(), "123456"); !IsError(err, PendingTransaction) {
		t.Fatalf("expected PendingTransaction, got %v", err)
	}
	if safe.postCalls != 0 {
		t.Fatalf("blocked transfer still broadcast %d times", safe.postCalls)
	}
	if store.outputState("a") != OutputStateUnspent {
		t.Fatal("blocked transfer consumed an output")
	}
}

func TestTransferRejectsTraceSettledRemotely(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "5", OutputStateUnspent, 1)
	engine, safe, _ := newTestEngine(store)
	// another device paid this trace; only the service knows
	safe.knownTransactions[testTraceID] = TransactionResponse{
		RequestID:  testTraceID,
		SnapshotID: "snapshot-elsewhere",
		State:      "spent",
	}

	op := newTransfer(engine)
	if _, err := op.Execute(context.Background(), "123456"); !IsError(err, AlreadyPaid) {
		t.Fatalf("expected AlreadyPaid, got %v", err)
	}
	if store.outputState("a") != OutputStateUnspent {
		t.Fatal("rejected transfer consumed an output")
	}
}

func TestTransferRejectsReplayedTrace(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "5", OutputStateUnspent, 1)
	store.traces[testTraceID] = Trace{TraceID: testTraceID, SnapshotID: "snap-old"}
	engine, _, _ := newTestEngine(store)

	op := newTransfer(engine)
	if _, err := op.Execute(context.Background(), "123456"); !IsError(err, AlreadyPaid) {
		t.Fatalf("expected AlreadyPaid, got %v", err)
	}
}

func TestTransferRejectsMalformedAmount(t *testing.T) {
	engine, _, _ := newTestEngine(newMemStore())
	op := newTransfer(engine)

	for _, bad := range []string{"", "0", "-1", "abc"} {
		op.Amount = bad
		if _, err := op.Execute(context.Background(), "123456"); !IsError(err, BadRequest) {
			t.Fatalf("amount %q: expected BadRequest, got %v", bad, err)
		}
	}
}

func TestMainnetTransferUsesAddressBuild(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "5", OutputStateUnspent, 1)
	engine, _, _ := newTestEngine(store)

	op := newTransfer(engine)
	op.Destination = MainnetDestination("XINtestaddress")
	result, err := op.Execute(context.Background(), "123456")
	if err != nil {
		t.Fatal(err)
	}
	if result.TransactionHash == "" {
		t.Fatal("missing transaction hash")
	}
	trace, err := store.GetTrace(testTraceID)
	if err != nil {
		t.Fatal(err)
	}
	if trace.Destination != "XINtestaddress" {
		t.Fatalf("trace destination %q, want the mainnet address", trace.Destination)
	}
}
