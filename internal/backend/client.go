// Package backend is the typed client for the storefront API the checkout
// flow drives: checkout creation, provider orders, payment verification and
// finalization.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/repurposehub/checkout-service/internal/httpclient"
	"github.com/repurposehub/checkout-service/internal/provider"
	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

// ValidationMismatchError is the backend rejecting a checkout because the
// submitted total no longer matches the server-side cart.
type ValidationMismatchError struct {
	Message         string
	SubmittedTotal  decimal.Decimal
	CalculatedTotal decimal.Decimal
}

func (e *ValidationMismatchError) Error() string {
	return fmt.Sprintf("checkout total mismatch: submitted %s, calculated %s",
		e.SubmittedTotal.String(), e.CalculatedTotal.String())
}

// Doer is the slice of the HTTP transport this client needs.
type Doer interface {
	Do(ctx context.Context, method, path string, body any, out any, opts ...httpclient.Option) error
}

// Client wraps the storefront endpoints used during checkout.
type Client struct {
	http Doer
	logg *logger.Logger
}

// NewClient builds a Client over the authenticated transport.
func NewClient(doer Doer, logg *logger.Logger) (*Client, error) {
	if doer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "backend: transport is required")
	}
	return &Client{http: doer, logg: logg}, nil
}

// CreateCheckoutParams are the inputs for opening a checkout on the backend.
type CreateCheckoutParams struct {
	UserID         string
	TotalAmount    decimal.Decimal
	IdempotencyKey string
}

type createCheckoutRequest struct {
	UserID         string      `json:"user_id"`
	TotalPayment   json.Number `json:"total_payment"`
	IdempotencyKey string      `json:"idempotency_key"`
}

type createCheckoutResponse struct {
	CheckoutID string `json:"checkout_id"`
}

type backendErrorBody struct {
	Error           string          `json:"error"`
	Message         string          `json:"message"`
	CalculatedTotal decimal.Decimal `json:"calculated_total"`
}

// CreateCheckout opens a checkout for the given total and returns the
// backend checkout id. A stale-total rejection surfaces as
// *ValidationMismatchError with both totals.
func (c *Client) CreateCheckout(ctx context.Context, p CreateCheckoutParams) (string, error) {
	req := createCheckoutRequest{
		UserID:         p.UserID,
		TotalPayment:   json.Number(p.TotalAmount.String()),
		IdempotencyKey: p.IdempotencyKey,
	}
	var resp createCheckoutResponse
	err := c.http.Do(ctx, http.MethodPost, "cart/checkout", req, &resp)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest {
			var body backendErrorBody
			if jsonErr := json.Unmarshal(statusErr.Body, &body); jsonErr == nil && body.Error == "validation_error" {
				return "", &ValidationMismatchError{
					Message:         body.Message,
					SubmittedTotal:  p.TotalAmount,
					CalculatedTotal: body.CalculatedTotal,
				}
			}
		}
		return "", err
	}
	if resp.CheckoutID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "backend returned empty checkout id")
	}
	return resp.CheckoutID, nil
}

type createOrderRequest struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	UserID   string      `json:"user_id"`
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
}

// CreateProviderOrder asks the backend to mint a gateway order for the
// amount and returns the provider order id.
func (c *Client) CreateProviderOrder(ctx context.Context, amount decimal.Decimal, currency, userID string) (string, error) {
	req := createOrderRequest{
		Amount:   json.Number(amount.String()),
		Currency: currency,
		UserID:   userID,
	}
	var resp createOrderResponse
	if err := c.http.Do(ctx, http.MethodPost, "payment/create-order", req, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "backend returned empty provider order id")
	}
	return resp.OrderID, nil
}

type verifyPaymentRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"razorpayPaymentId"`
	Signature string `json:"razorpaySignature"`
}

type verifyPaymentResponse struct {
	Success bool `json:"success"`
}

// VerifyPayment checks the payment proof signature server-side. A definitive
// rejection returns (false, nil); an error means the verification could not
// be completed and the charge state is unknown.
func (c *Client) VerifyPayment(ctx context.Context, proof provider.PaymentProof) (bool, error) {
	req := verifyPaymentRequest{
		OrderID:   proof.OrderID,
		PaymentID: proof.PaymentID,
		Signature: proof.Signature,
	}
	var resp verifyPaymentResponse
	err := c.http.Do(ctx, http.MethodPost, "payment/verify-payment", req, &resp)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest {
			return false, nil
		}
		return false, err
	}
	return resp.Success, nil
}

type completeCheckoutRequest struct {
	OrderID           string `json:"order_id"`
	ProviderOrderID   string `json:"razorpay_order_id"`
	ProviderPaymentID string `json:"razorpay_payment_id"`
}

// CompleteCheckout finalizes the checkout after a verified payment.
func (c *Client) CompleteCheckout(ctx context.Context, checkoutID, providerOrderID, providerPaymentID string) error {
	req := completeCheckoutRequest{
		OrderID:           checkoutID,
		ProviderOrderID:   providerOrderID,
		ProviderPaymentID: providerPaymentID,
	}
	return c.http.Do(ctx, http.MethodPost, "cart/complete-checkout", req, nil)
}
