package veil

import (
	"context"
	"strings"
	"testing"
)

const consolidateTrace = "9f7d2a80-6c2e-4a4d-9f6a-0d8a5b2f4e61"

func TestConsolidateMergesOutputs(t *testing.T) {
	store := newMemStore()
	store.addOutput("a", testAsset, "1", OutputStateUnspent, 1)
	store.addOutput("b", testAsset, "2", OutputStateUnspent, 2)
	store.addOutput("c", testAsset, "3", OutputStateUnspent, 3)
	engine, _, _ := newTestEngine(store)

	op := &ConsolidateOperation{
		Engine:  engine,
		TraceID: consolidateTrace,
		Token:   testToken(testAsset, testAsset),
	}
	result, err := op.Execute(context.Background(), "123456")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.TransactionHash != strings.Repeat("f", 64) {
		t.Fatalf("unexpected transaction hash %s", result.TransactionHash)
	}
	for _, id := range []string{"a", "b", "c"} {
		if got := store.outputState(id); got != OutputStateSpent {
			t.Fatalf("input %s is %s, want spent", id, got)
		}
	}
	var merged *Output
	for _, o := range store.outputs {
		if o.State == OutputStateUnspent {
			o := o
			merged = &o
		}
	}
	if merged == nil {
		t.Fatal("no merged output recorded")
	}
	if merged.Amount != "6" || merged.TransactionHash != result.TransactionHash {
		t.Fatalf("merged output mismatch: %+v", merged)
	}
	if tx := store.rawTxs[consolidateTrace]; tx.State != RawTransactionStateSpent {
		t.Fatalf("raw transaction state: %s", tx.State)
	}
	// a self-transfer leaves no ledger row
	if len(store.snapshots) != 0 {
		t.Fatalf("expected no snapshots, got %d", len(store.snapshots))
	}
}

func TestConsolidateNeedsAtLeastTwoOutputs(t *testing.T) {
	store := newMemStore()
	store.addOutput("only", testAsset, "5", OutputStateUnspent, 1)
	engine, _, _ := newTestEngine(store)

	op := &ConsolidateOperation{
		Engine:  engine,
		TraceID: consolidateTrace,
		Token:   testToken(testAsset, testAsset),
	}
	if _, err := op.Execute(context.Background(), "123456"); !IsError(err, NotAvailable) {
		t.Fatalf("expected not-available, got %v", err)
	}
	// the single output must be released for other operations
	if _, err := engine.Collector.Collect(testAsset, amt("5")); err != nil {
		t.Fatalf("output still reserved after aborted consolidation: %v", err)
	}
}
