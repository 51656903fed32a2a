package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/repurposehub/checkout-service/internal/authctx"
	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
)

// TokenRefresher exchanges the long-lived service credential for access
// tokens. It deliberately uses a bare HTTP client so a refresh can never
// recurse into the authenticated transport.
type TokenRefresher struct {
	url          string
	refreshToken string
	http         *http.Client
}

// NewTokenRefresher builds a refresher against the backend auth endpoint.
func NewTokenRefresher(baseURL, refreshToken string, timeout time.Duration) (*TokenRefresher, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "backend: base URL is required")
	}
	if refreshToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "backend: refresh token is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TokenRefresher{
		url:          baseURL + "/auth/refresh",
		refreshToken: refreshToken,
		http:         &http.Client{Timeout: timeout},
	}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Refresh implements authctx.Refresher.
func (r *TokenRefresher) Refresh(ctx context.Context) (authctx.Token, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: r.refreshToken})
	if err != nil {
		return authctx.Token{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode refresh request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return authctx.Token{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return authctx.Token{}, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "call auth refresh")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return authctx.Token{}, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "read refresh response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return authctx.Token{}, pkgerrors.New(pkgerrors.CodeUnauthorized,
			fmt.Sprintf("auth refresh returned status %d", resp.StatusCode))
	}

	var decoded refreshResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return authctx.Token{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode refresh response")
	}
	if decoded.AccessToken == "" {
		return authctx.Token{}, pkgerrors.New(pkgerrors.CodeDependency, "auth refresh returned empty token")
	}

	tok := authctx.Token{Access: decoded.AccessToken}
	if decoded.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second)
	}
	return tok, nil
}
