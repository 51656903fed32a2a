package db

import (
	"context"
	"fmt"

	"github.com/repurposehub/checkout-service/pkg/config"
	"github.com/repurposehub/checkout-service/pkg/db/models"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

// MaybeAutoMigrate creates the journal schema when running in dev mode with
// the auto-migrate flag enabled. Production schemas are managed externally.
func MaybeAutoMigrate(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *Client) error {
	if !cfg.App.IsDev() || !cfg.DB.AutoMigrate {
		return nil
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "env", cfg.App.Env), "running schema auto-migration (dev)")
	}

	if err := client.DB().AutoMigrate(&models.CheckoutAttempt{}); err != nil {
		return fmt.Errorf("auto-migrating journal schema: %w", err)
	}
	return nil
}
