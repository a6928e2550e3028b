package jobs

import (
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/metrics"
)

// BestEffort runs an observability write whose failure must never fail a
// sync. Errors are logged and counted under op, then dropped.
func BestEffort(op string, fn func() error) {
	if err := fn(); err != nil {
		metrics.BestEffortFailures.WithLabelValues(op).Inc()
		log.Warn().Err(err).Str("op", op).Msg("Best-effort write failed")
	}
}
