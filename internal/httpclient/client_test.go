package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
)

type staticTokens struct {
	current   atomic.Value
	refreshed int32
	next      string
}

func newStaticTokens(current, next string) *staticTokens {
	t := &staticTokens{next: next}
	t.current.Store(current)
	return t
}

func (s *staticTokens) AccessToken(ctx context.Context) (string, error) {
	return s.current.Load().(string), nil
}

func (s *staticTokens) ForceRefresh(ctx context.Context) (string, error) {
	atomic.AddInt32(&s.refreshed, 1)
	s.current.Store(s.next)
	return s.next, nil
}

func TestDoDecodesSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"checkout_id":"c1"}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, time.Second, newStaticTokens("tok-1", ""), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	var out struct {
		CheckoutID string `json:"checkout_id"`
	}
	if err := client.Do(context.Background(), http.MethodPost, "cart/checkout", map[string]string{"k": "v"}, &out); err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if out.CheckoutID != "c1" {
		t.Fatalf("expected decoded checkout id, got %q", out.CheckoutID)
	}
}

func TestDoRetriesOnceAfterUnauthorized(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-2" {
			t.Errorf("retry did not carry refreshed token, got %q", got)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tokens := newStaticTokens("tok-1", "tok-2")
	client, err := New(srv.URL, time.Second, tokens, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := client.Do(context.Background(), http.MethodPost, "payment/create-order", nil, nil); err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", hits)
	}
	if atomic.LoadInt32(&tokens.refreshed) != 1 {
		t.Fatalf("expected exactly 1 refresh, got %d", tokens.refreshed)
	}
}

func TestDoDoesNotRetryTwice(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, time.Second, newStaticTokens("tok-1", "tok-2"), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	err = client.Do(context.Background(), http.MethodGet, "cart", nil, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", statusErr.StatusCode)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected the retry to stop after one attempt, got %d requests", hits)
	}
}

func TestDoSkipsRetryWithoutAuth(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no auth header")
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := New(srv.URL, time.Second, newStaticTokens("tok-1", "tok-2"), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	err = client.Do(context.Background(), http.MethodGet, "status", nil, nil, WithoutAuth())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected a single request, got %d", hits)
	}
}

func TestDoKeepsErrorBodyIntact(t *testing.T) {
	const body = `{"error":"validation_error","message":"total mismatch","calculated_total":129.5}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client, err := New(srv.URL, time.Second, nil, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	err = client.Do(context.Background(), http.MethodPost, "cart/checkout", nil, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if string(statusErr.Body) != body {
		t.Fatalf("expected full error body, got %q", statusErr.Body)
	}
}

func TestDoMapsTransportFailureToNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client, err := New(srv.URL, time.Second, nil, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	err = client.Do(context.Background(), http.MethodGet, "cart", nil, nil)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNetwork {
		t.Fatalf("expected network code, got %v", err)
	}
}
