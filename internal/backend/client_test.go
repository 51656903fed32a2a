package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repurposehub/checkout-service/internal/httpclient"
	"github.com/repurposehub/checkout-service/internal/provider"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	transport, err := httpclient.New(srv.URL, time.Second, nil, nil)
	if err != nil {
		t.Fatalf("httpclient.New returned error: %v", err)
	}
	client, err := NewClient(transport, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client, srv
}

func TestCreateCheckoutReturnsID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cart/checkout" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["user_id"] != "u1" {
			t.Errorf("unexpected user_id %v", body["user_id"])
		}
		if body["total_payment"] != 129.5 {
			t.Errorf("expected numeric total_payment, got %v", body["total_payment"])
		}
		if body["idempotency_key"] == "" {
			t.Error("missing idempotency_key")
		}
		json.NewEncoder(w).Encode(map[string]string{"checkout_id": "chk-1"})
	}))

	id, err := client.CreateCheckout(context.Background(), CreateCheckoutParams{
		UserID:         "u1",
		TotalAmount:    decimal.RequireFromString("129.5"),
		IdempotencyKey: "u1-1700000000000-abcd1234",
	})
	if err != nil {
		t.Fatalf("CreateCheckout returned error: %v", err)
	}
	if id != "chk-1" {
		t.Fatalf("expected checkout id chk-1, got %q", id)
	}
}

func TestCreateCheckoutSurfacesValidationMismatch(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"validation_error","message":"Total mismatch","calculated_total":119.25}`))
	}))

	_, err := client.CreateCheckout(context.Background(), CreateCheckoutParams{
		UserID:         "u1",
		TotalAmount:    decimal.RequireFromString("129.50"),
		IdempotencyKey: "key",
	})

	var mismatch *ValidationMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ValidationMismatchError, got %v", err)
	}
	if mismatch.Message != "Total mismatch" {
		t.Fatalf("unexpected message %q", mismatch.Message)
	}
	if !mismatch.SubmittedTotal.Equal(decimal.RequireFromString("129.50")) {
		t.Fatalf("unexpected submitted total %s", mismatch.SubmittedTotal)
	}
	if !mismatch.CalculatedTotal.Equal(decimal.RequireFromString("119.25")) {
		t.Fatalf("unexpected calculated total %s", mismatch.CalculatedTotal)
	}
}

func TestCreateCheckoutPassesThroughOtherErrors(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))

	_, err := client.CreateCheckout(context.Background(), CreateCheckoutParams{
		UserID:         "u1",
		TotalAmount:    decimal.NewFromInt(10),
		IdempotencyKey: "key",
	})
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", statusErr.StatusCode)
	}
}

func TestCreateProviderOrder(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment/create-order" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["currency"] != "INR" {
			t.Errorf("unexpected currency %v", body["currency"])
		}
		json.NewEncoder(w).Encode(map[string]string{"orderId": "order_123"})
	}))

	orderID, err := client.CreateProviderOrder(context.Background(), decimal.NewFromInt(500), "INR", "u1")
	if err != nil {
		t.Fatalf("CreateProviderOrder returned error: %v", err)
	}
	if orderID != "order_123" {
		t.Fatalf("expected order_123, got %q", orderID)
	}
}

func TestVerifyPayment(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{"verified", http.StatusOK, `{"success":true}`, true, false},
		{"rejected_signature", http.StatusBadRequest, `{"success":false,"error":"invalid signature"}`, false, false},
		{"backend_error", http.StatusInternalServerError, `{"error":"boom"}`, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))

			ok, err := client.VerifyPayment(context.Background(), provider.PaymentProof{
				OrderID:   "order_123",
				PaymentID: "pay_456",
				Signature: "sig",
			})
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyPayment returned error: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("VerifyPayment = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestCompleteCheckout(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cart/complete-checkout" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["order_id"] != "chk-1" || body["razorpay_order_id"] != "order_123" || body["razorpay_payment_id"] != "pay_456" {
			t.Errorf("unexpected body %v", body)
		}
		w.Write([]byte(`{"message":"Checkout completed"}`))
	}))

	if err := client.CompleteCheckout(context.Background(), "chk-1", "order_123", "pay_456"); err != nil {
		t.Fatalf("CompleteCheckout returned error: %v", err)
	}
}
