package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunReconciler replays billing calls that failed during finalize. The
// gateway is idempotent on the consultation instance id, so a replay after
// a lost acknowledgement cannot double-bill.
func (c *Coordinator) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(c.Tunables.BillingRetry)
	defer ticker.Stop()

	log.Info().Str("module", "app.reconciler").Dur("interval", c.Tunables.BillingRetry).Msg("billing reconciler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.reconciler").Msg("billing reconciler stopped")
			return
		case <-ticker.C:
			c.Finalizer.RetryPending(ctx)
		}
	}
}
