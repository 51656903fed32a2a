// Package orchestrator drives a visit's checkout attempt through its whole
// lifecycle: opening the checkout on the backend, minting a provider order,
// collecting the gateway outcome, verifying the payment and finalizing.
//
// One orchestrator handles one visit. All entry points serialize on an
// internal mutex, so a visit never has two steps in flight at once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/repurposehub/checkout-service/internal/backend"
	"github.com/repurposehub/checkout-service/internal/journal"
	"github.com/repurposehub/checkout-service/internal/pending"
	"github.com/repurposehub/checkout-service/internal/provider"
	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
	"github.com/repurposehub/checkout-service/pkg/logger"
	"github.com/repurposehub/checkout-service/pkg/metrics"
)

// State is a phase of the checkout lifecycle.
type State string

const (
	StateIdle                  State = "idle"
	StateCreatingCheckout      State = "creating_checkout"
	StateAwaitingProviderOrder State = "awaiting_provider_order"
	StateAwaitingUserPayment   State = "awaiting_user_payment"
	StateVerifying             State = "verifying"
	StateFinalizing            State = "finalizing"
	StateSucceeded             State = "succeeded"
	StateFailed                State = "failed"
	StateCancelled             State = "cancelled"
)

// FailureKind classifies why an attempt failed and drives which recovery
// actions the storefront offers.
type FailureKind string

const (
	FailureNetwork    FailureKind = "network"
	FailureValidation FailureKind = "validation"
	FailureProvider   FailureKind = "provider"
	FailureServer     FailureKind = "server"
)

// Failure captures a failed attempt. For validation failures both totals are
// present so the storefront can show the discrepancy.
type Failure struct {
	Kind            FailureKind
	Reason          string
	SubmittedTotal  *decimal.Decimal
	CalculatedTotal *decimal.Decimal
	// At is the lifecycle phase the failure happened in. Retry uses it to
	// decide between a full restart and resuming.
	At State
	// PossiblyCharged marks server failures where the payment may have gone
	// through even though the order did not finalize.
	PossiblyCharged bool
}

// Retryable reports whether the storefront should offer a retry.
func (f Failure) Retryable() bool { return true }

// Cancellable reports whether the storefront should offer cancelling the
// order outright.
func (f Failure) Cancellable() bool {
	return f.Kind == FailureValidation || f.Kind == FailureServer
}

// User is the shopper the attempt belongs to.
type User struct {
	ID      string
	Name    string
	Email   string
	Contact string
}

// Backend is the slice of the storefront API the orchestrator calls.
type Backend interface {
	CreateCheckout(ctx context.Context, p backend.CreateCheckoutParams) (string, error)
	CreateProviderOrder(ctx context.Context, amount decimal.Decimal, currency, userID string) (string, error)
	VerifyPayment(ctx context.Context, proof provider.PaymentProof) (bool, error)
	CompleteCheckout(ctx context.Context, checkoutID, providerOrderID, providerPaymentID string) error
}

// Params configure one orchestrator.
type Params struct {
	VisitID string
	User    User

	Backend Backend
	Gateway provider.CheckoutUI
	Pending pending.Store

	// Journal and Metrics are optional.
	Journal journal.Recorder
	Metrics *metrics.CheckoutMetrics
	Logger  *logger.Logger

	Currency string
	// Countdown delays the post-success navigation; zero fires immediately.
	Countdown time.Duration
	// OnComplete is the navigation hook. It fires exactly once per
	// successful attempt, either after the countdown or on Continue.
	OnComplete func()

	// Clock and KeyGen override time and idempotency key generation in tests.
	Clock  func() time.Time
	KeyGen func(userID string) string
}

// Orchestrator owns the attempt state for a single visit.
type Orchestrator struct {
	visitID  string
	user     User
	backend  Backend
	gateway  provider.CheckoutUI
	pending  pending.Store
	journal  journal.Recorder
	metrics  *metrics.CheckoutMetrics
	logg     *logger.Logger
	currency string

	countdown  time.Duration
	onComplete func()
	clock      func() time.Time
	keyGen     func(userID string) string

	mu                sync.Mutex
	state             State
	failure           *Failure
	total             decimal.Decimal
	idemKey           string
	checkoutID        string
	providerOrderID   string
	proof             *provider.PaymentProof
	resumed           bool
	navigated         bool
	countdownTimer    *time.Timer
	countdownDeadline time.Time
}

// New validates params and returns an idle orchestrator.
func New(p Params) (*Orchestrator, error) {
	if p.VisitID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orchestrator: visit id is required")
	}
	if p.User.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orchestrator: user is required")
	}
	if p.Backend == nil || p.Gateway == nil || p.Pending == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orchestrator: backend, gateway and pending store are required")
	}
	if p.Journal == nil {
		p.Journal = journal.Nop{}
	}
	if p.Currency == "" {
		p.Currency = "INR"
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	clock := p.Clock
	if p.KeyGen == nil {
		p.KeyGen = func(userID string) string {
			suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
			return fmt.Sprintf("%s-%d-%s", userID, clock().UnixMilli(), suffix)
		}
	}
	return &Orchestrator{
		visitID:    p.VisitID,
		user:       p.User,
		backend:    p.Backend,
		gateway:    p.Gateway,
		pending:    p.Pending,
		journal:    p.Journal,
		metrics:    p.Metrics,
		logg:       p.Logger,
		currency:   p.Currency,
		countdown:  p.Countdown,
		onComplete: p.OnComplete,
		clock:      p.Clock,
		keyGen:     p.KeyGen,
		state:      StateIdle,
	}, nil
}

// PendingAttempt reports the visit's resumable record, if one exists.
func (o *Orchestrator) PendingAttempt(ctx context.Context) (*pending.Record, error) {
	return o.pending.Get(ctx, o.visitID)
}

// Submit starts a fresh attempt for the given total. The attempt runs up to
// the point where the payment surface is open; the outcome then arrives
// through the gateway callbacks. Flow failures land in the snapshot, not in
// the returned error.
func (o *Orchestrator) Submit(ctx context.Context, total decimal.Decimal) (Snapshot, error) {
	if !total.IsPositive() {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "total must be positive")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateIdle, StateCancelled, StateFailed:
	default:
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("cannot start a checkout while %s", o.state))
	}

	o.resetLocked()
	o.total = total
	o.idemKey = o.keyGen(o.user.ID)
	o.observeStart("fresh")

	o.runAttemptLocked(ctx, true)
	return o.snapshotLocked(), nil
}

// Resume picks up the visit's pending attempt: the backend checkout and
// idempotency key are reused and the flow re-enters at provider order
// creation.
func (o *Orchestrator) Resume(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateIdle, StateCancelled, StateFailed:
	default:
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("cannot resume while %s", o.state))
	}

	rec, err := o.pending.Get(ctx, o.visitID)
	if err != nil {
		return Snapshot{}, err
	}
	if rec == nil {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeNotFound, "no pending checkout to resume")
	}

	o.resetLocked()
	o.total = rec.Total
	o.idemKey = rec.IdempotencyKey
	o.checkoutID = rec.CheckoutID
	o.resumed = true
	o.observeStart("resume")

	o.runAttemptLocked(ctx, false)
	return o.snapshotLocked(), nil
}

// Discard drops the visit's pending record without resuming it.
func (o *Orchestrator) Discard(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateIdle, StateCancelled, StateFailed, StateSucceeded:
	default:
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("cannot discard while %s", o.state))
	}

	if err := o.pending.Delete(ctx, o.visitID); err != nil {
		return err
	}
	o.resetLocked()
	o.state = StateIdle
	return nil
}

// Retry re-runs a failed attempt. Failures before the backend checkout
// existed restart from scratch with a fresh idempotency key; later failures
// resume with the same checkout and key, minting a new provider order.
func (o *Orchestrator) Retry(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateFailed || o.failure == nil {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeConflict, "no failed attempt to retry")
	}

	restart := o.failure.At == StateCreatingCheckout
	total := o.total
	checkoutID := o.checkoutID
	idemKey := o.idemKey
	resumed := o.resumed

	o.resetLocked()
	o.total = total
	o.observeStart("retry")

	if restart {
		o.idemKey = o.keyGen(o.user.ID)
		o.runAttemptLocked(ctx, true)
	} else {
		o.idemKey = idemKey
		o.checkoutID = checkoutID
		o.resumed = resumed
		o.runAttemptLocked(ctx, false)
	}
	return o.snapshotLocked(), nil
}

// Cancel abandons a failed attempt for good: the pending record is removed
// and the orchestrator returns to idle.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateFailed || o.failure == nil {
		return pkgerrors.New(pkgerrors.CodeConflict, "no failed attempt to cancel")
	}
	if !o.failure.Cancellable() {
		return pkgerrors.New(pkgerrors.CodeConflict, "this failure does not allow cancelling the order")
	}

	if err := o.pending.Delete(ctx, o.visitID); err != nil {
		return err
	}
	o.resetLocked()
	o.state = StateIdle
	return nil
}

// Abandon closes the checkout dialog without touching the pending record.
// An open payment surface is closed so late gateway outcomes cannot land,
// and a running success countdown is stopped without navigating. The pending
// record survives, so the shopper can resume later.
func (o *Orchestrator) Abandon(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateAwaitingUserPayment && o.providerOrderID != "" {
		o.gateway.Close(ctx, o.visitID, o.providerOrderID)
	}

	o.stopCountdownLocked()
	o.resetLocked()
	o.state = StateIdle
	return nil
}

// Continue skips the rest of the success countdown and navigates now.
func (o *Orchestrator) Continue(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateSucceeded || o.navigated {
		o.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict, "no completed checkout to continue from")
	}
	o.stopCountdownLocked()
	o.mu.Unlock()

	o.fireComplete()
	return nil
}

// runAttemptLocked executes the flow from the current re-entry point until
// the payment surface is open or the attempt fails. createFirst selects
// whether the backend checkout must still be created.
func (o *Orchestrator) runAttemptLocked(ctx context.Context, createFirst bool) {
	if createFirst {
		if !o.createCheckoutLocked(ctx) {
			return
		}
	} else {
		o.setStateLocked(ctx, StateAwaitingProviderOrder)
	}
	o.openPaymentLocked(ctx)
}

// createCheckoutLocked runs the first flow step and reports whether to keep
// going.
func (o *Orchestrator) createCheckoutLocked(ctx context.Context) bool {
	o.setStateLocked(ctx, StateCreatingCheckout)

	start := o.clock()
	checkoutID, err := o.backend.CreateCheckout(ctx, backend.CreateCheckoutParams{
		UserID:         o.user.ID,
		TotalAmount:    o.total,
		IdempotencyKey: o.idemKey,
	})
	o.observeStep("create_checkout", start)

	if err != nil {
		if mismatch, ok := asValidationMismatch(err); ok {
			submitted := mismatch.SubmittedTotal
			calculated := mismatch.CalculatedTotal
			reason := mismatch.Message
			if reason == "" {
				reason = "cart total no longer matches"
			}
			o.failLocked(ctx, Failure{
				Kind:            FailureValidation,
				Reason:          reason,
				SubmittedTotal:  &submitted,
				CalculatedTotal: &calculated,
				At:              StateCreatingCheckout,
			})
			return false
		}
		o.failLocked(ctx, Failure{
			Kind:   FailureNetwork,
			Reason: "could not reach the checkout service",
			At:     StateCreatingCheckout,
		})
		return false
	}

	o.checkoutID = checkoutID

	rec := pending.Record{
		CheckoutID:     checkoutID,
		IdempotencyKey: o.idemKey,
		Total:          o.total,
		CreatedAt:      o.clock().UnixMilli(),
	}
	if err := o.pending.Put(ctx, o.visitID, rec); err != nil && o.logg != nil {
		o.logg.Error(ctx, "checkout.pending_record_not_saved", err)
	}

	o.setStateLocked(ctx, StateAwaitingProviderOrder)
	return true
}

// openPaymentLocked mints a provider order and opens the payment surface.
func (o *Orchestrator) openPaymentLocked(ctx context.Context) {
	start := o.clock()
	orderID, err := o.backend.CreateProviderOrder(ctx, o.total, o.currency, o.user.ID)
	o.observeStep("create_provider_order", start)
	if err != nil {
		o.failLocked(ctx, Failure{
			Kind:   FailureNetwork,
			Reason: "could not prepare the payment",
			At:     StateAwaitingProviderOrder,
		})
		return
	}
	o.providerOrderID = orderID

	err = o.gateway.Open(ctx, provider.OpenParams{
		VisitID:     o.visitID,
		OrderID:     orderID,
		Amount:      o.total,
		Currency:    o.currency,
		Description: "Repurpose Hub order",
		Prefill: provider.Prefill{
			Name:    o.user.Name,
			Email:   o.user.Email,
			Contact: o.user.Contact,
		},
	}, provider.Callbacks{
		OnSuccess: o.handlePaymentSuccess,
		OnFailure: o.handlePaymentFailure,
		OnDismiss: o.handlePaymentDismiss,
	})
	if err != nil {
		o.failLocked(ctx, Failure{
			Kind:   FailureNetwork,
			Reason: "payment gateway unavailable",
			At:     StateAwaitingProviderOrder,
		})
		return
	}

	o.setStateLocked(ctx, StateAwaitingUserPayment)
}

// handlePaymentSuccess verifies the proof and finalizes the checkout.
func (o *Orchestrator) handlePaymentSuccess(ctx context.Context, proof provider.PaymentProof) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateAwaitingUserPayment {
		o.logStale(ctx, "success")
		return
	}
	o.proof = &proof
	o.setStateLocked(ctx, StateVerifying)

	start := o.clock()
	ok, err := o.backend.VerifyPayment(ctx, proof)
	o.observeStep("verify_payment", start)
	if err != nil {
		o.failLocked(ctx, Failure{
			Kind:            FailureServer,
			Reason:          "payment verification could not be completed",
			At:              StateVerifying,
			PossiblyCharged: true,
		})
		return
	}
	if !ok {
		o.failLocked(ctx, Failure{
			Kind:            FailureServer,
			Reason:          "payment verification failed",
			At:              StateVerifying,
			PossiblyCharged: true,
		})
		return
	}

	o.setStateLocked(ctx, StateFinalizing)
	start = o.clock()
	err = o.backend.CompleteCheckout(ctx, o.checkoutID, proof.OrderID, proof.PaymentID)
	o.observeStep("complete_checkout", start)
	if err != nil {
		o.failLocked(ctx, Failure{
			Kind:            FailureServer,
			Reason:          "order could not be finalized",
			At:              StateFinalizing,
			PossiblyCharged: true,
		})
		return
	}

	if err := o.pending.Delete(ctx, o.visitID); err != nil && o.logg != nil {
		o.logg.Error(ctx, "checkout.pending_record_not_cleared", err)
	}

	o.setStateLocked(ctx, StateSucceeded)
	o.observeOutcome(StateSucceeded, "")
	o.startCountdownLocked()
}

// handlePaymentFailure records a gateway-side decline. The pending record
// stays so the shopper can resume later.
func (o *Orchestrator) handlePaymentFailure(ctx context.Context, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateAwaitingUserPayment {
		o.logStale(ctx, "failure")
		return
	}
	o.failLocked(ctx, Failure{
		Kind:   FailureProvider,
		Reason: reason,
		At:     StateAwaitingUserPayment,
	})
}

// handlePaymentDismiss records the shopper closing the payment surface.
func (o *Orchestrator) handlePaymentDismiss(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateAwaitingUserPayment {
		o.logStale(ctx, "dismiss")
		return
	}
	o.setStateLocked(ctx, StateCancelled)
	o.observeOutcome(StateCancelled, "")
	o.recordJournalLocked(ctx)
}

func (o *Orchestrator) startCountdownLocked() {
	if o.countdown <= 0 {
		// No countdown configured: navigate on the spot.
		go o.fireComplete()
		return
	}
	o.countdownDeadline = o.clock().Add(o.countdown)
	o.countdownTimer = time.AfterFunc(o.countdown, o.fireComplete)
}

func (o *Orchestrator) stopCountdownLocked() {
	if o.countdownTimer != nil {
		o.countdownTimer.Stop()
		o.countdownTimer = nil
	}
	o.countdownDeadline = time.Time{}
}

// fireComplete invokes the navigation hook at most once per attempt.
func (o *Orchestrator) fireComplete() {
	o.mu.Lock()
	if o.navigated || o.state != StateSucceeded {
		o.mu.Unlock()
		return
	}
	o.navigated = true
	cb := o.onComplete
	o.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (o *Orchestrator) failLocked(ctx context.Context, f Failure) {
	o.failure = &f
	o.setStateLocked(ctx, StateFailed)
	o.observeOutcome(StateFailed, string(f.Kind))
	o.recordJournalLocked(ctx)
}

func (o *Orchestrator) setStateLocked(ctx context.Context, next State) {
	o.state = next
	if o.logg != nil {
		fields := map[string]any{"state": string(next)}
		if o.checkoutID != "" {
			fields["checkout_id"] = o.checkoutID
		}
		if o.providerOrderID != "" {
			fields["provider_order_id"] = o.providerOrderID
		}
		lctx := o.logg.WithVisitID(ctx, o.visitID)
		lctx = o.logg.WithAttemptKey(lctx, o.idemKey)
		o.logg.Info(o.logg.WithFields(lctx, fields), "checkout.state")
	}
	switch next {
	case StateCreatingCheckout, StateAwaitingProviderOrder, StateAwaitingUserPayment,
		StateVerifying, StateFinalizing, StateSucceeded:
		o.recordJournalLocked(ctx)
	}
}

func (o *Orchestrator) resetLocked() {
	o.stopCountdownLocked()
	o.state = StateIdle
	o.failure = nil
	o.total = decimal.Decimal{}
	o.idemKey = ""
	o.checkoutID = ""
	o.providerOrderID = ""
	o.proof = nil
	o.resumed = false
	o.navigated = false
}

func (o *Orchestrator) recordJournalLocked(ctx context.Context) {
	entry := journal.Entry{
		VisitID:        o.visitID,
		UserID:         o.user.ID,
		IdempotencyKey: o.idemKey,
		CheckoutID:     o.checkoutID,
		Total:          o.total,
		State:          string(o.state),
		Resumed:        o.resumed,
	}
	entry.ProviderOrderID = o.providerOrderID
	if o.proof != nil {
		entry.ProviderPaymentID = o.proof.PaymentID
	}
	if o.failure != nil {
		entry.FailureKind = string(o.failure.Kind)
		entry.FailureReason = o.failure.Reason
		entry.CalculatedTotal = o.failure.CalculatedTotal
	}
	if err := o.journal.Record(ctx, entry); err != nil && o.logg != nil {
		o.logg.Error(ctx, "checkout.journal_write_failed", err)
	}
}

func (o *Orchestrator) observeStart(mode string) {
	if o.metrics != nil {
		o.metrics.IncStarted(mode)
	}
}

func (o *Orchestrator) observeOutcome(state State, kind string) {
	if o.metrics != nil {
		o.metrics.IncOutcome(string(state), kind)
	}
}

func (o *Orchestrator) observeStep(step string, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStep(step, o.clock().Sub(start))
	}
}

func (o *Orchestrator) logStale(ctx context.Context, outcome string) {
	if o.logg != nil {
		lctx := o.logg.WithField(ctx, "outcome", outcome)
		o.logg.Warn(o.logg.WithVisitID(lctx, o.visitID), "checkout.stale_gateway_outcome")
	}
}

func asValidationMismatch(err error) (*backend.ValidationMismatchError, bool) {
	var mismatch *backend.ValidationMismatchError
	if errors.As(err, &mismatch) {
		return mismatch, true
	}
	return nil, false
}
