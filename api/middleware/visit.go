package middleware

import (
	"net/http"

	"github.com/repurposehub/checkout-service/api/responses"
	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

const visitIDHeader = "X-Visit-Id"

// Visit requires the storefront's visit identifier on every checkout route.
// The visit scopes the pending record, so requests without one are rejected
// rather than silently sharing state.
func Visit(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitID := r.Header.Get(visitIDHeader)
			if visitID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "missing visit id header"))
				return
			}

			ctx := WithVisitID(r.Context(), visitID)
			if logg != nil {
				ctx = logg.WithVisitID(ctx, visitID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
