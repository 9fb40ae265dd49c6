package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendAlertPostsJSON(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			t.Errorf("decode body: %v", err)
		}
		got.Store(a)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	alert := &Alert{Reporter: "alice", ReportType: "user", Reason: "harassment"}
	if err := c.SendAlert(context.Background(), alert); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	stored, _ := got.Load().(Alert)
	if stored.Reporter != "alice" || stored.Reason != "harassment" {
		t.Fatalf("unexpected payload: %+v", stored)
	}
}

func TestSendAlertRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithRetries(2), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.SendAlert(context.Background(), &Alert{Reporter: "alice"}); err != nil {
		t.Fatalf("SendAlert after retries: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestSendAlertExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithRetries(1), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.SendAlert(context.Background(), &Alert{Reporter: "alice"}); err == nil {
		t.Fatalf("expected delivery failure")
	}
}

func TestSendAlertRespectsContext(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", WithRetries(5))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.SendAlert(ctx, &Alert{Reporter: "alice"}); err == nil {
		t.Fatalf("cancelled context accepted")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatalf("blank url accepted")
	}
}

func TestSendAlertNilReceiverAndAlert(t *testing.T) {
	var c *Client
	if err := c.SendAlert(context.Background(), &Alert{}); err != nil {
		t.Fatalf("nil client must be a no-op: %v", err)
	}
	real, err := NewClient("http://example.invalid")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := real.SendAlert(context.Background(), nil); err != nil {
		t.Fatalf("nil alert must be a no-op: %v", err)
	}
}
