// Package authctx holds the service account credentials used when calling
// the storefront backend and keeps the access token fresh in the background.
package authctx

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

// Token is an access token plus the instant it stops being usable.
type Token struct {
	Access string
	Expiry time.Time
}

// Identity describes the shopper the checkout runs on behalf of.
type Identity struct {
	UserID  string
	Name    string
	Email   string
	Contact string
}

// Refresher exchanges the long-lived credential for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context) (Token, error)
}

// Holder caches the current access token and refreshes it on demand.
// Concurrent refresh requests share a single in-flight exchange.
type Holder struct {
	refresher Refresher
	leeway    time.Duration
	logg      *logger.Logger
	clock     func() time.Time

	mu       sync.Mutex
	token    Token
	inflight chan struct{}
	lastErr  error
}

// Options configure a Holder.
type Options struct {
	// Initial seeds the holder so the first call does not block on a refresh.
	Initial Token
	// Leeway refreshes the token this long before its expiry.
	Leeway time.Duration
	Logger *logger.Logger
	// Clock overrides time.Now, used by tests.
	Clock func() time.Time
}

// NewHolder builds a Holder around the given refresher.
func NewHolder(refresher Refresher, opts Options) (*Holder, error) {
	if refresher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "authctx: refresher is required")
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = 2 * time.Minute
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Holder{
		refresher: refresher,
		leeway:    leeway,
		logg:      opts.Logger,
		clock:     clock,
		token:     opts.Initial,
	}, nil
}

// AccessToken returns the cached token, refreshing it first when it is
// missing or within the expiry leeway.
func (h *Holder) AccessToken(ctx context.Context) (string, error) {
	h.mu.Lock()
	if h.token.Access != "" && !h.expiringLocked() {
		tok := h.token.Access
		h.mu.Unlock()
		return tok, nil
	}
	h.mu.Unlock()
	return h.ForceRefresh(ctx)
}

// ForceRefresh discards the cached token and fetches a new one. When a
// refresh is already in flight the caller waits for that result instead of
// issuing a second exchange.
func (h *Holder) ForceRefresh(ctx context.Context) (string, error) {
	h.mu.Lock()
	if h.inflight != nil {
		done := h.inflight
		h.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return "", pkgerrors.Wrap(pkgerrors.CodeNetwork, ctx.Err(), "token refresh interrupted")
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.lastErr != nil {
			return "", h.lastErr
		}
		return h.token.Access, nil
	}

	done := make(chan struct{})
	h.inflight = done
	h.mu.Unlock()

	tok, err := h.refresher.Refresh(ctx)
	if err == nil && tok.Expiry.IsZero() {
		if exp, derr := TokenExpiry(tok.Access); derr == nil {
			tok.Expiry = exp
		}
	}

	h.mu.Lock()
	defer func() {
		h.inflight = nil
		close(done)
		h.mu.Unlock()
	}()

	if err != nil {
		h.lastErr = pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "refresh access token")
		if h.logg != nil {
			h.logg.Error(context.Background(), "authctx.refresh_failed", err)
		}
		return "", h.lastErr
	}

	h.token = tok
	h.lastErr = nil
	return tok.Access, nil
}

// Reload replaces the cached token out of band, for example after the
// credential store is rotated by an operator.
func (h *Holder) Reload(tok Token) {
	if tok.Expiry.IsZero() {
		if exp, err := TokenExpiry(tok.Access); err == nil {
			tok.Expiry = exp
		}
	}
	h.mu.Lock()
	h.token = tok
	h.lastErr = nil
	h.mu.Unlock()
}

// Run refreshes the token ahead of expiry until ctx is cancelled.
func (h *Holder) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			stale := h.token.Access == "" || h.expiringLocked()
			h.mu.Unlock()
			if !stale {
				continue
			}
			if _, err := h.ForceRefresh(ctx); err != nil && h.logg != nil {
				h.logg.Warn(ctx, "authctx.poll_refresh_failed")
			}
		}
	}
}

func (h *Holder) expiringLocked() bool {
	if h.token.Expiry.IsZero() {
		return false
	}
	return h.clock().Add(h.leeway).After(h.token.Expiry)
}

// TokenExpiry reads the exp claim from a JWT without verifying its
// signature. The holder only needs the timestamp; the backend verifies.
func TokenExpiry(raw string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeInternal, "token has no expiry claim")
	}
	return claims.ExpiresAt.Time, nil
}
