package middleware

import "context"

type contextKey string

const (
	ctxIdentity contextKey = "identity"
	ctxVisitID  contextKey = "visit_id"
)

// Identity is the authenticated shopper attached to the request.
type Identity struct {
	UserID  string
	Name    string
	Email   string
	Contact string
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(ctxIdentity).(Identity)
	return id, ok
}

func VisitIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxVisitID).(string); ok {
		return v
	}
	return ""
}

// WithIdentity injects the shopper identity into the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxIdentity, id)
}

// WithVisitID injects the visit identifier into the context for downstream
// handlers.
func WithVisitID(ctx context.Context, visitID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxVisitID, visitID)
}
