package httpledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/narrata/pkg/provider/ledger"
)

func TestDebit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != debitEndpoint || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		var req ledger.DebitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.OwnerID != "owner-1" || req.Amount != 12 || req.Category != "voice_narration" || !req.AllowNegativeBalance {
			t.Errorf("request = %+v", req)
		}
		if req.Metadata["profile_id"] != "p1" {
			t.Errorf("metadata = %v", req.Metadata)
		}
		_, _ = w.Write([]byte(`{"success": true, "balance_after": 88}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New(srv.URL, WithAPIKey("k"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Debit(context.Background(), ledger.DebitRequest{
		OwnerID:              "owner-1",
		Amount:               12,
		Category:             "voice_narration",
		Description:          "narration",
		Metadata:             map[string]string{"profile_id": "p1"},
		AllowNegativeBalance: true,
	})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if !res.Success || res.BalanceAfter != 88 {
		t.Errorf("result = %+v", res)
	}
}

func TestDebit_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "ledger locked", http.StatusConflict)
	}))
	t.Cleanup(srv.Close)

	p, _ := New(srv.URL)
	if _, err := p.Debit(context.Background(), ledger.DebitRequest{OwnerID: "o"}); err == nil {
		t.Fatal("expected error for 409")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}
