package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"MarketLedger/internal/ingestion"
	"MarketLedger/internal/observability"
	"MarketLedger/internal/op"
	"MarketLedger/internal/query"
	"MarketLedger/internal/server"
)

func newTestServer(t *testing.T) (*server.Server, chan ingestion.RawOp) {
	t.Helper()
	submitChan := make(chan ingestion.RawOp, 16)
	srv := server.NewServer(query.NewService(nil, nil), submitChan, observability.NewHealthChecker(), nil)
	return srv, submitChan
}

func postJSON(t *testing.T, srv *server.Server, path string, payload map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// ==============================
// Submission routing
// ==============================

// The market id in the URL is authoritative for path-scoped submissions; a
// conflicting id in the body must not redirect the operation.
func TestSubmit_PathMarketIDOverridesBody(t *testing.T) {
	srv, submitChan := newTestServer(t)

	rec := postJSON(t, srv, "/api/v1/markets/5/bets", map[string]interface{}{
		"from":      "alice",
		"side":      "A",
		"amount":    uint64(100),
		"market_id": int64(999),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}

	raw := <-submitChan
	operation, err := ingestion.ParseRawOp(raw, "PlaceBet")
	if err != nil {
		t.Fatalf("parse enqueued op: %v", err)
	}
	if operation.(*op.PlaceBet).Market != 5 {
		t.Errorf("market id: got %d, want 5 (from path)", operation.MarketID())
	}
}

// CreateMarket has no path id, so the body must name the market explicitly.
// A missing id is a client error, not market 0.
func TestSubmit_CreateRequiresExplicitMarketID(t *testing.T) {
	srv, submitChan := newTestServer(t)

	rec := postJSON(t, srv, "/api/v1/markets", map[string]interface{}{
		"from":        "owner-1",
		"description": []byte("will it rain"),
		"label_a":     []byte("yes"),
		"label_b":     []byte("no"),
		"end_time_us": int64(1_900_000_000_000_000),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status without market_id: got %d, want 400", rec.Code)
	}
	select {
	case raw := <-submitChan:
		t.Fatalf("rejected submission was enqueued: %s", raw.Data)
	default:
	}
}

func TestSubmit_CreateWithMarketID(t *testing.T) {
	srv, submitChan := newTestServer(t)

	rec := postJSON(t, srv, "/api/v1/markets", map[string]interface{}{
		"from":        "owner-1",
		"market_id":   int64(3),
		"description": []byte("will it rain"),
		"label_a":     []byte("yes"),
		"label_b":     []byte("no"),
		"end_time_us": int64(1_900_000_000_000_000),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}

	raw := <-submitChan
	operation, err := ingestion.ParseRawOp(raw, "CreateMarket")
	if err != nil {
		t.Fatalf("parse enqueued op: %v", err)
	}
	if operation.MarketID() != 3 {
		t.Errorf("market id: got %d, want 3", operation.MarketID())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "accepted" || resp["op_id"] == "" {
		t.Errorf("response: %v", resp)
	}
}

func TestSubmit_MalformedBody(t *testing.T) {
	srv, submitChan := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/markets/5/bets", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	select {
	case <-submitChan:
		t.Fatal("malformed submission was enqueued")
	default:
	}
}
