package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/repurposehub/checkout-service/api/middleware"
	"github.com/repurposehub/checkout-service/api/responses"
	"github.com/repurposehub/checkout-service/api/validators"
	"github.com/repurposehub/checkout-service/internal/journal"
	"github.com/repurposehub/checkout-service/internal/orchestrator"
	"github.com/repurposehub/checkout-service/internal/provider"
	"github.com/repurposehub/checkout-service/pkg/config"
	"github.com/repurposehub/checkout-service/pkg/db/models"
	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

// CheckoutController exposes the checkout flow over HTTP. Flow outcomes,
// including failed attempts, come back as 200s carrying the attempt view;
// error responses are reserved for malformed or out-of-order requests.
type CheckoutController struct {
	registry *orchestrator.Registry
	gateway  *provider.Adapter
	attempts journal.Reader
	cfg      *config.Config
	logg     *logger.Logger
}

func NewCheckoutController(registry *orchestrator.Registry, gateway *provider.Adapter, attempts journal.Reader, cfg *config.Config, logg *logger.Logger) *CheckoutController {
	return &CheckoutController{registry: registry, gateway: gateway, attempts: attempts, cfg: cfg, logg: logg}
}

type failureView struct {
	Kind            string `json:"kind"`
	Reason          string `json:"reason"`
	SubmittedTotal  string `json:"submitted_total,omitempty"`
	CalculatedTotal string `json:"calculated_total,omitempty"`
	At              string `json:"at"`
	Retryable       bool   `json:"retryable"`
	Cancellable     bool   `json:"cancellable"`
	PossiblyCharged bool   `json:"possibly_charged"`
}

type paymentView struct {
	KeyID       string `json:"key_id"`
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	ThemeColor  string `json:"theme_color"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Contact     string `json:"contact"`
}

type attemptView struct {
	State           string       `json:"state"`
	CheckoutID      string       `json:"checkout_id,omitempty"`
	ProviderOrderID string       `json:"provider_order_id,omitempty"`
	Total           string       `json:"total,omitempty"`
	IdempotencyKey  string       `json:"idempotency_key,omitempty"`
	Resumed         bool         `json:"resumed,omitempty"`
	CountdownMS     int64        `json:"countdown_ms,omitempty"`
	RedirectPath    string       `json:"redirect_path,omitempty"`
	Failure         *failureView `json:"failure,omitempty"`
	Payment         *paymentView `json:"payment,omitempty"`
}

func (c *CheckoutController) view(snap orchestrator.Snapshot, id middleware.Identity) attemptView {
	v := attemptView{
		State:           string(snap.State),
		CheckoutID:      snap.CheckoutID,
		ProviderOrderID: snap.ProviderOrderID,
		IdempotencyKey:  snap.IdempotencyKey,
		Resumed:         snap.Resumed,
	}
	if !snap.Total.IsZero() {
		v.Total = snap.Total.String()
	}
	if snap.State == orchestrator.StateSucceeded {
		v.CountdownMS = snap.CountdownRemaining.Milliseconds()
		v.RedirectPath = c.cfg.Checkout.SuccessRedirect
	}
	if snap.Failure != nil {
		f := &failureView{
			Kind:            string(snap.Failure.Kind),
			Reason:          snap.Failure.Reason,
			At:              string(snap.Failure.At),
			Retryable:       snap.Failure.Retryable(),
			Cancellable:     snap.Failure.Cancellable(),
			PossiblyCharged: snap.Failure.PossiblyCharged,
		}
		if snap.Failure.SubmittedTotal != nil {
			f.SubmittedTotal = snap.Failure.SubmittedTotal.String()
		}
		if snap.Failure.CalculatedTotal != nil {
			f.CalculatedTotal = snap.Failure.CalculatedTotal.String()
		}
		v.Failure = f
	}
	if snap.State == orchestrator.StateAwaitingUserPayment {
		if minor, err := provider.MinorUnits(snap.Total); err == nil {
			v.Payment = &paymentView{
				KeyID:       c.gateway.KeyID(),
				OrderID:     snap.ProviderOrderID,
				AmountMinor: minor,
				Currency:    c.cfg.Provider.Currency,
				ThemeColor:  c.gateway.ThemeColor(),
				Name:        id.Name,
				Email:       id.Email,
				Contact:     id.Contact,
			}
		}
	}
	return v
}

func (c *CheckoutController) orchestratorFor(r *http.Request) (*orchestrator.Orchestrator, middleware.Identity, error) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return nil, middleware.Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity")
	}
	visitID := middleware.VisitIDFromContext(r.Context())
	if visitID == "" {
		return nil, id, pkgerrors.New(pkgerrors.CodeValidation, "missing visit id")
	}
	orch, err := c.registry.For(visitID, orchestrator.User{
		ID:      id.UserID,
		Name:    id.Name,
		Email:   id.Email,
		Contact: id.Contact,
	})
	return orch, id, err
}

type submitRequest struct {
	Total string `json:"total" validate:"required"`
}

// Submit starts a fresh checkout attempt.
func (c *CheckoutController) Submit(w http.ResponseWriter, r *http.Request) {
	orch, id, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var body submitRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	total, err := decimal.NewFromString(body.Total)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w,
			pkgerrors.Wrap(pkgerrors.CodeValidation, err, "total must be a decimal amount"))
		return
	}

	snap, err := orch.Submit(r.Context(), total)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, c.view(snap, id))
}

type pendingView struct {
	CheckoutID     string `json:"checkout_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Total          string `json:"total"`
	AgeSeconds     int64  `json:"age_seconds"`
}

// Pending reports the visit's resumable checkout, if any.
func (c *CheckoutController) Pending(w http.ResponseWriter, r *http.Request) {
	orch, _, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	rec, err := orch.PendingAttempt(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if rec == nil {
		responses.WriteSuccess(w, map[string]any{"pending": nil})
		return
	}
	responses.WriteSuccess(w, map[string]any{"pending": pendingView{
		CheckoutID:     rec.CheckoutID,
		IdempotencyKey: rec.IdempotencyKey,
		Total:          rec.Total.String(),
		AgeSeconds:     int64(rec.Age(time.Now()).Seconds()),
	}})
}

// Resume picks the pending checkout back up.
func (c *CheckoutController) Resume(w http.ResponseWriter, r *http.Request) {
	orch, id, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	snap, err := orch.Resume(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, c.view(snap, id))
}

// Discard drops the pending checkout without resuming it. The visit's
// orchestrator is released; a later request builds a fresh one.
func (c *CheckoutController) Discard(w http.ResponseWriter, r *http.Request) {
	orch, _, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := orch.Discard(r.Context()); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	c.registry.Evict(middleware.VisitIDFromContext(r.Context()))
	responses.WriteSuccess(w, map[string]string{"status": "discarded"})
}

// Retry re-runs the failed attempt.
func (c *CheckoutController) Retry(w http.ResponseWriter, r *http.Request) {
	orch, id, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	snap, err := orch.Retry(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, c.view(snap, id))
}

// Cancel abandons a failed attempt and clears the pending record.
func (c *CheckoutController) Cancel(w http.ResponseWriter, r *http.Request) {
	orch, _, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := orch.Cancel(r.Context()); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	c.registry.Evict(middleware.VisitIDFromContext(r.Context()))
	responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
}

// Abandon closes the checkout dialog, stopping a success countdown if one
// is running.
func (c *CheckoutController) Abandon(w http.ResponseWriter, r *http.Request) {
	orch, _, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := orch.Abandon(r.Context()); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]string{"status": "closed"})
}

// Continue skips the success countdown and navigates immediately.
func (c *CheckoutController) Continue(w http.ResponseWriter, r *http.Request) {
	orch, _, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := orch.Continue(r.Context()); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]string{
		"status":        "continuing",
		"redirect_path": c.cfg.Checkout.SuccessRedirect,
	})
}

// Attempt returns the current attempt view. A visit that never started an
// attempt reads as idle without registering an orchestrator.
func (c *CheckoutController) Attempt(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), c.logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity"))
		return
	}
	visitID := middleware.VisitIDFromContext(r.Context())
	if visitID == "" {
		responses.WriteError(r.Context(), c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "missing visit id"))
		return
	}

	orch, ok := c.registry.Lookup(visitID)
	if !ok {
		responses.WriteSuccess(w, attemptView{State: string(orchestrator.StateIdle)})
		return
	}
	responses.WriteSuccess(w, c.view(orch.Snapshot(), id))
}

type callbackSuccessRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// CallbackSuccess feeds a completed gateway payment into the flow. Gateway
// outcomes are accepted only from the visit that opened the payment surface.
func (c *CheckoutController) CallbackSuccess(w http.ResponseWriter, r *http.Request) {
	orch, id, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var body callbackSuccessRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	if err := c.gateway.DispatchSuccess(r.Context(), middleware.VisitIDFromContext(r.Context()), provider.PaymentProof{
		OrderID:   body.OrderID,
		PaymentID: body.PaymentID,
		Signature: body.Signature,
	}); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, c.view(orch.Snapshot(), id))
}

type callbackFailureRequest struct {
	OrderID string `json:"razorpay_order_id" validate:"required"`
	Reason  string `json:"reason"`
}

// CallbackFailure feeds a gateway decline into the flow.
func (c *CheckoutController) CallbackFailure(w http.ResponseWriter, r *http.Request) {
	orch, id, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var body callbackFailureRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	if err := c.gateway.DispatchFailure(r.Context(), middleware.VisitIDFromContext(r.Context()), body.OrderID, body.Reason); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, c.view(orch.Snapshot(), id))
}

type callbackDismissRequest struct {
	OrderID string `json:"razorpay_order_id" validate:"required"`
}

// CallbackDismiss feeds the shopper closing the payment surface into the
// flow.
func (c *CheckoutController) CallbackDismiss(w http.ResponseWriter, r *http.Request) {
	orch, id, err := c.orchestratorFor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var body callbackDismissRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	if err := c.gateway.DispatchDismiss(r.Context(), middleware.VisitIDFromContext(r.Context()), body.OrderID); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, c.view(orch.Snapshot(), id))
}

type historyEntryView struct {
	IdempotencyKey    string `json:"idempotency_key"`
	CheckoutID        string `json:"checkout_id,omitempty"`
	ProviderOrderID   string `json:"provider_order_id,omitempty"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	Total             string `json:"total"`
	CalculatedTotal   string `json:"calculated_total,omitempty"`
	State             string `json:"state"`
	FailureKind       string `json:"failure_kind,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
	Resumed           bool   `json:"resumed,omitempty"`
	UpdatedAt         string `json:"updated_at"`
}

func historyEntry(row models.CheckoutAttempt) historyEntryView {
	v := historyEntryView{
		IdempotencyKey: row.IdempotencyKey,
		Total:          row.TotalAmount,
		State:          row.State,
		Resumed:        row.Resumed,
		UpdatedAt:      row.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if row.CheckoutID != nil {
		v.CheckoutID = *row.CheckoutID
	}
	if row.ProviderOrderID != nil {
		v.ProviderOrderID = *row.ProviderOrderID
	}
	if row.ProviderPaymentID != nil {
		v.ProviderPaymentID = *row.ProviderPaymentID
	}
	if row.CalculatedTotal != nil {
		v.CalculatedTotal = *row.CalculatedTotal
	}
	if row.FailureKind != nil {
		v.FailureKind = *row.FailureKind
	}
	if row.FailureReason != nil {
		v.FailureReason = *row.FailureReason
	}
	return v
}

// History lists the visit's journaled attempts, most recent first.
func (c *CheckoutController) History(w http.ResponseWriter, r *http.Request) {
	visitID := middleware.VisitIDFromContext(r.Context())
	if visitID == "" {
		responses.WriteError(r.Context(), c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "missing visit id"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			responses.WriteError(r.Context(), c.logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	rows, err := c.attempts.ListByVisit(r.Context(), visitID, limit)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w,
			pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list checkout attempts"))
		return
	}
	views := make([]historyEntryView, 0, len(rows))
	for _, row := range rows {
		views = append(views, historyEntry(row))
	}
	responses.WriteSuccess(w, map[string]any{"attempts": views})
}

// HistoryByKey looks up one journaled attempt by its idempotency key, the
// reference a shopper quotes to support. Only the attempt's own user can
// read it.
func (c *CheckoutController) HistoryByKey(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), c.logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity"))
		return
	}

	key := chi.URLParam(r, "key")
	row, err := c.attempts.FindByIdempotencyKey(r.Context(), key)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w,
			pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout attempt"))
		return
	}
	if row == nil || row.UserID != id.UserID {
		responses.WriteError(r.Context(), c.logg, w,
			pkgerrors.New(pkgerrors.CodeNotFound, "no attempt recorded for that reference"))
		return
	}
	responses.WriteSuccess(w, historyEntry(*row))
}
