package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestBreakerTransport_PassesThrough5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewBreakerTransport(BreakerSettings{Name: "test", ConsecutiveFailures: 10}, http.DefaultTransport)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", resp.StatusCode)
	}
}

func TestBreakerTransport_OpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rt := NewBreakerTransport(BreakerSettings{Name: "test", ConsecutiveFailures: 2, OpenTimeout: time.Minute}, http.DefaultTransport)
	client := &http.Client{Transport: rt}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
		resp.Body.Close()
	}

	_, err := client.Get(srv.URL)
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("third request error = %v, want ErrBreakerOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2 (open breaker must not reach backend)", hits.Load())
	}
}

func TestNew_DefaultStackWorksOverPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	for _, opts := range []Options{
		{},
		{Fingerprint: true},
		{Tracing: true, Breaker: &BreakerSettings{Name: "x"}},
	} {
		client := &http.Client{Transport: New(opts)}
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("New(%+v) Get error: %v", opts, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("New(%+v) status = %d", opts, resp.StatusCode)
		}
	}
}
