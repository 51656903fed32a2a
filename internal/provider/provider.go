// Package provider fronts the hosted Razorpay checkout surface. The gateway
// is loaded lazily the first time a checkout opens, concurrent opens share
// one load, and a failed load is retried on the next open.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/repurposehub/checkout-service/pkg/config"
	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

// ErrGatewayUnavailable marks opens that failed because the hosted checkout
// could not be reached.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// PaymentProof is the artifact the gateway hands back after the shopper pays.
type PaymentProof struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Prefill seeds the payment surface with shopper contact details.
type Prefill struct {
	Name    string
	Email   string
	Contact string
}

// OpenParams describes one payment surface session. Amount is in major
// currency units; the adapter converts to minor units for the gateway.
// VisitID names the visit opening the session; gateway outcomes are only
// accepted from that visit.
type OpenParams struct {
	VisitID     string
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Prefill     Prefill
}

// Callbacks receive the outcome of an open session. Exactly one of the three
// fires per session, and never synchronously from within Open.
type Callbacks struct {
	OnSuccess func(ctx context.Context, proof PaymentProof)
	OnFailure func(ctx context.Context, reason string)
	OnDismiss func(ctx context.Context)
}

// CheckoutUI is the surface the orchestrator opens payments on.
type CheckoutUI interface {
	Open(ctx context.Context, params OpenParams, cb Callbacks) error
	// Close discards the visit's session for the order without firing any
	// callback. Closing a session that is already settled is a no-op.
	Close(ctx context.Context, visitID, orderID string)
}

type loadState int

const (
	stateUnloaded loadState = iota
	stateLoading
	stateLoaded
)

// Adapter implements CheckoutUI against the hosted gateway and routes
// gateway outcomes back to the session that opened them.
type Adapter struct {
	keyID       string
	checkoutURL string
	themeColor  string
	http        *http.Client
	logg        *logger.Logger

	// loadFn probes the gateway; swapped out by tests.
	loadFn func(ctx context.Context) error

	mu       sync.Mutex
	state    loadState
	inflight chan struct{}
	sessions map[string]session
}

// session ties an open payment surface to the visit that opened it.
type session struct {
	visitID string
	cb      Callbacks
}

// NewAdapter builds an Adapter from provider configuration.
func NewAdapter(cfg config.ProviderConfig, logg *logger.Logger) (*Adapter, error) {
	if cfg.KeyID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider: key id is required")
	}
	a := &Adapter{
		keyID:       cfg.KeyID,
		checkoutURL: cfg.CheckoutURL,
		themeColor:  cfg.ThemeColor,
		http:        &http.Client{Timeout: cfg.LoadTimeout},
		logg:        logg,
		sessions:    map[string]session{},
	}
	a.loadFn = a.probeGateway
	return a, nil
}

// Open registers a payment session for the provider order and presents the
// gateway. The gateway is loaded on first use.
func (a *Adapter) Open(ctx context.Context, params OpenParams, cb Callbacks) error {
	if params.VisitID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider: visit id is required")
	}
	if params.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider: order id is required")
	}
	if !params.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider: amount must be positive")
	}
	if cb.OnSuccess == nil || cb.OnFailure == nil || cb.OnDismiss == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "provider: all callbacks are required")
	}
	if _, err := MinorUnits(params.Amount); err != nil {
		return err
	}

	if err := a.ensureLoaded(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err), "open payment gateway")
	}

	a.mu.Lock()
	if _, exists := a.sessions[params.OrderID]; exists {
		a.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict, "provider: session already open for order")
	}
	a.sessions[params.OrderID] = session{visitID: params.VisitID, cb: cb}
	a.mu.Unlock()

	if a.logg != nil {
		ctx = a.logg.WithFields(ctx, map[string]any{
			"provider_order_id": params.OrderID,
			"currency":          params.Currency,
		})
		a.logg.Info(ctx, "provider.session_opened")
	}
	return nil
}

// ensureLoaded makes exactly one probe at a time. A failed probe leaves the
// adapter unloaded so the next open tries again.
func (a *Adapter) ensureLoaded(ctx context.Context) error {
	for {
		a.mu.Lock()
		switch a.state {
		case stateLoaded:
			a.mu.Unlock()
			return nil
		case stateLoading:
			done := a.inflight
			a.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			// Re-check: the shared load may have failed.
			a.mu.Lock()
			loaded := a.state == stateLoaded
			a.mu.Unlock()
			if loaded {
				return nil
			}
			return ErrGatewayUnavailable
		case stateUnloaded:
			done := make(chan struct{})
			a.state = stateLoading
			a.inflight = done
			a.mu.Unlock()

			err := a.loadFn(ctx)

			a.mu.Lock()
			if err != nil {
				a.state = stateUnloaded
			} else {
				a.state = stateLoaded
			}
			a.inflight = nil
			close(done)
			a.mu.Unlock()

			if err != nil {
				if a.logg != nil {
					a.logg.Error(ctx, "provider.load_failed", err)
				}
				return err
			}
			if a.logg != nil {
				a.logg.Info(ctx, "provider.loaded")
			}
			return nil
		}
	}
}

func (a *Adapter) probeGateway(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.checkoutURL, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway responded with status %d", resp.StatusCode)
	}
	return nil
}

// DispatchSuccess routes a completed payment to the session that opened it.
// Only the visit that opened the session may settle it.
func (a *Adapter) DispatchSuccess(ctx context.Context, visitID string, proof PaymentProof) error {
	cb, err := a.takeSession(visitID, proof.OrderID)
	if err != nil {
		return err
	}
	cb.OnSuccess(ctx, proof)
	return nil
}

// DispatchFailure routes a declined or errored payment to its session.
func (a *Adapter) DispatchFailure(ctx context.Context, visitID, orderID, reason string) error {
	cb, err := a.takeSession(visitID, orderID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "payment failed"
	}
	cb.OnFailure(ctx, reason)
	return nil
}

// DispatchDismiss routes a closed payment surface to its session.
func (a *Adapter) DispatchDismiss(ctx context.Context, visitID, orderID string) error {
	cb, err := a.takeSession(visitID, orderID)
	if err != nil {
		return err
	}
	cb.OnDismiss(ctx)
	return nil
}

// takeSession removes and returns the session, but only for its opener. A
// mismatched visit gets the same not-found as an unknown order so callers
// cannot probe other visits' sessions, and the session stays live.
func (a *Adapter) takeSession(visitID, orderID string) (Callbacks, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.sessions[orderID]
	if !ok || sess.visitID != visitID {
		return Callbacks{}, pkgerrors.New(pkgerrors.CodeNotFound, "provider: no open session for order")
	}
	delete(a.sessions, orderID)
	return sess.cb, nil
}

// Close discards the visit's session for the order without firing callbacks.
func (a *Adapter) Close(ctx context.Context, visitID, orderID string) {
	a.mu.Lock()
	sess, ok := a.sessions[orderID]
	if ok && sess.visitID == visitID {
		delete(a.sessions, orderID)
	} else {
		ok = false
	}
	a.mu.Unlock()

	if ok && a.logg != nil {
		lctx := a.logg.WithField(ctx, "provider_order_id", orderID)
		a.logg.Info(a.logg.WithVisitID(lctx, visitID), "provider.session_closed")
	}
}

// KeyID exposes the publishable gateway key for clients rendering the surface.
func (a *Adapter) KeyID() string {
	return a.keyID
}

// ThemeColor exposes the storefront accent used on the payment surface.
func (a *Adapter) ThemeColor() string {
	return a.themeColor
}

// MinorUnits converts a major-unit amount to the gateway's integer minor
// units. Amounts with sub-minor precision are rejected.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(decimal.NewFromInt(100))
	if !minor.IsInteger() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "provider: amount has sub-paise precision").
			WithDetails(map[string]any{"amount": amount.String()})
	}
	return minor.IntPart(), nil
}
