package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ent0n29/maitred/internal/protocol"
	"github.com/ent0n29/maitred/internal/reliability"
)

func TestFetchStatusDecodesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Errorf("path = %q, want /api/status", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "guest-1" {
			t.Errorf("user_id = %q, want guest-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"tables": [{"id": "T1", "seats": 2, "type": "window", "status": "occupied", "guest_name": "Ana"}],
			"waitlist": [{"name": "Bo", "party_size": 3, "eta_minutes": 15}],
			"last_event": {"type": "table_assigned", "table": "T1", "name": "Ana"}
		}`))
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL+"/", nil).FetchStatus(context.Background(), "guest-1")
	if err != nil {
		t.Fatalf("FetchStatus() error = %v", err)
	}
	if len(st.Tables) != 1 || !st.Tables[0].Occupied() || *st.Tables[0].GuestName != "Ana" {
		t.Fatalf("tables = %+v", st.Tables)
	}
	if len(st.Waitlist) != 1 || *st.Waitlist[0].ETAMinutes != 15 {
		t.Fatalf("waitlist = %+v", st.Waitlist)
	}
	if st.LastEvent == nil || !st.LastEvent.EndsSession() {
		t.Fatalf("last_event = %+v, want table_assigned", st.LastEvent)
	}
}

func TestFetchStatusReturnsHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).FetchStatus(context.Background(), "ui")
	var statusErr *reliability.HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("FetchStatus() error = %v, want 503 HTTPStatusError", err)
	}
	if reliability.Classify(err) != reliability.ClassRetryable {
		t.Fatalf("Classify() = %q, want retryable", reliability.Classify(err))
	}
}

func TestCheckoutSendsTableID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/checkout" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var req protocol.CheckoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(protocol.CheckoutResponse{
			Success:      true,
			Table:        req.TableID,
			ClearedGuest: "Ana",
		})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, nil).Checkout(context.Background(), "ui", " T4 ")
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if res.Table != "T4" || res.ClearedGuest != "Ana" {
		t.Fatalf("Checkout() = %+v", res)
	}
}

func TestCheckoutRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocol.CheckoutResponse{Success: false, Message: "table not occupied"})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, nil).Checkout(context.Background(), "ui", "T2")
	if !errors.Is(err, ErrCheckoutRejected) {
		t.Fatalf("Checkout() error = %v, want ErrCheckoutRejected", err)
	}
	if res.Message != "table not occupied" {
		t.Fatalf("Message = %q", res.Message)
	}
}

func TestCheckoutRequiresTableID(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)
	if _, err := c.Checkout(context.Background(), "ui", "  "); !errors.Is(err, ErrCheckoutRejected) {
		t.Fatalf("Checkout() error = %v, want ErrCheckoutRejected", err)
	}
}
