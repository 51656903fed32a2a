package controllers

import (
	"net/http"
	"time"

	"github.com/repurposehub/checkout-service/api/responses"
	"github.com/repurposehub/checkout-service/api/validators"
	"github.com/repurposehub/checkout-service/internal/authctx"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

// OpsController exposes operator hooks. The routes live under /internal and,
// like /metrics, are expected to be unreachable from outside the deployment.
type OpsController struct {
	tokens *authctx.Holder
	logg   *logger.Logger
}

func NewOpsController(tokens *authctx.Holder, logg *logger.Logger) *OpsController {
	return &OpsController{tokens: tokens, logg: logg}
}

type tokenReloadRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
	ExpiresIn   int64  `json:"expires_in" validate:"omitempty,gt=0"`
}

// TokenReload swaps in a backend access token out of band, used after the
// service credential is rotated without waiting for the refresh poll.
func (c *OpsController) TokenReload(w http.ResponseWriter, r *http.Request) {
	var body tokenReloadRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	tok := authctx.Token{Access: body.AccessToken}
	if body.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	c.tokens.Reload(tok)

	if c.logg != nil {
		c.logg.Info(r.Context(), "ops.backend_token_reloaded")
	}
	responses.WriteSuccess(w, map[string]string{"status": "reloaded"})
}
