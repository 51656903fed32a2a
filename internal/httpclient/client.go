// Package httpclient is the authenticated JSON transport for the storefront
// backend. Every request carries the current access token and a request that
// comes back 401 is retried exactly once after a forced token refresh.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

// TokenProvider supplies bearer tokens for outgoing requests.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// StatusError is a non-2xx response. The body is kept whole so callers can
// branch on structured error payloads.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// Client issues JSON requests against a single base URL.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenProvider
	logg    *logger.Logger
}

// New builds a Client. tokens may be nil when every call opts out of auth.
func New(baseURL string, timeout time.Duration, tokens TokenProvider, logg *logger.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "httpclient: base URL is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logg:    logg,
	}, nil
}

type requestOptions struct {
	skipAuth bool
}

// Option tweaks a single request.
type Option func(*requestOptions)

// WithoutAuth sends the request without a bearer token.
func WithoutAuth() Option {
	return func(o *requestOptions) { o.skipAuth = true }
}

// Do sends a JSON request and decodes a 2xx response body into out when out
// is non-nil. Transport failures surface as network errors; non-2xx responses
// surface as *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, body any, out any, opts ...Option) error {
	options := requestOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request body")
		}
		payload = encoded
	}

	status, respBody, err := c.send(ctx, method, path, payload, options)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && !options.skipAuth && c.tokens != nil {
		if c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "path", path), "httpclient.retry_after_refresh")
		}
		if _, err := c.tokens.ForceRefresh(ctx); err != nil {
			return err
		}
		status, respBody, err = c.send(ctx, method, path, payload, options)
		if err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		return &StatusError{StatusCode: status, Body: respBody}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode backend response")
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, options requestOptions) (int, []byte, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if !options.skipAuth && c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "call backend")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "read backend response")
	}
	return resp.StatusCode, respBody, nil
}
