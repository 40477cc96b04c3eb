package safe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	veil "github.com/veilnet/veilwallet/pkg"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	config := veil.Config{}
	config.Veilwallet.SafeURL = server.URL
	return NewClient(config), server
}

func TestClientDecodesData(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/safe/keys" || r.Method != "POST" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var requests []veil.GhostKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&requests); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []veil.GhostKey{{Keys: []string{"k1"}, Mask: "m1"}},
		})
	})
	defer server.Close()

	keys, err := client.GhostKeys(context.Background(), []veil.GhostKeyRequest{{TraceID: "t"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].Mask != "m1" {
		t.Fatalf("keys did not decode: %v", keys)
	}
}

func TestClientMapsServerFailures(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer server.Close()

	_, err := client.Transaction(context.Background(), "id-1")
	if !veil.IsError(err, veil.RemoteServer) {
		t.Fatalf("expected RemoteServer, got %v", err)
	}
}

func TestClientMapsAPIErrors(t *testing.T) {
	responses := map[string]any{
		"/safe/transactions/missing": map[string]any{
			"error": map[string]any{"status": 404, "code": 404, "description": "not found"},
		},
		"/safe/transactions/locked": map[string]any{
			"error": map[string]any{"status": 401, "code": 401, "description": "unauthorized"},
		},
		"/safe/transactions/refused": map[string]any{
			"error": map[string]any{"status": 202, "code": 20119, "description": "insufficient pool"},
		},
	}
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(responses[r.URL.Path])
	})
	defer server.Close()

	ctx := context.Background()
	if _, err := client.Transaction(ctx, "missing"); !veil.IsNotFoundError(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := client.Transaction(ctx, "locked"); !veil.IsError(err, veil.LoggedOut) {
		t.Fatalf("expected LoggedOut, got %v", err)
	}
	if _, err := client.Transaction(ctx, "refused"); !veil.IsError(err, veil.NotAvailable) {
		t.Fatalf("expected NotAvailable, got %v", err)
	}
}

func TestClientRejectsEmptyData(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	defer server.Close()

	_, err := client.Transaction(context.Background(), "id-1")
	if !veil.IsError(err, veil.MissingResponse) {
		t.Fatalf("expected MissingResponse, got %v", err)
	}
}

func TestClientQueriesSettledSubset(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "a,b" {
			t.Fatalf("ids query %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []veil.TransactionResponse{{RequestID: "a", SnapshotID: "s-a"}},
		})
	})
	defer server.Close()

	responses, err := client.Transactions(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != 1 || responses[0].RequestID != "a" {
		t.Fatalf("expected the settled subset, got %v", responses)
	}
}
