package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/repurposehub/checkout-service/pkg/config"
)

func signTestToken(t *testing.T, secret, issuer string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": "u1",
		"name":    "Asha",
		"email":   "asha@example.com",
		"iss":     issuer,
		"exp":     exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthSeedsIdentity(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "repurposehub"}

	var got Identity
	var ok bool
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "secret", "repurposehub", time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !ok || got.UserID != "u1" || got.Email != "asha@example.com" {
		t.Fatalf("identity not seeded: %+v", got)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(config.JWTConfig{Secret: "secret", Issuer: "repurposehub"}, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	handler := Auth(config.JWTConfig{Secret: "secret", Issuer: "repurposehub"}, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "other-secret", "repurposehub", time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	handler := Auth(config.JWTConfig{Secret: "secret", Issuer: "repurposehub"}, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "secret", "repurposehub", time.Now().Add(-time.Minute)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestVisitRequiresHeader(t *testing.T) {
	handler := Visit(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if VisitIDFromContext(r.Context()) != "visit-9" {
			t.Error("visit id not seeded")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without header, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Visit-Id", "visit-9")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with header, got %d", w.Code)
	}
}
