// README: Scheduled job that forces silent couriers offline.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"delixmi/internal/modules/courier"
)

// PresenceSweeper periodically flips couriers offline once their last
// location ping is older than the configured threshold, so stale profiles
// stop showing up as claim candidates.
type PresenceSweeper struct {
	couriers   *courier.Service
	staleAfter time.Duration
	spec       string
	cron       *cron.Cron
	logger     *slog.Logger
}

// NewPresenceSweeper builds the sweeper. spec is a six-field cron expression.
func NewPresenceSweeper(couriers *courier.Service, staleAfter time.Duration, spec string, logger *slog.Logger) *PresenceSweeper {
	return &PresenceSweeper{
		couriers:   couriers,
		staleAfter: staleAfter,
		spec:       spec,
		cron:       cron.New(cron.WithSeconds()),
		logger:     logger.With("component", "presence_sweeper"),
	}
}

func (j *PresenceSweeper) Start() error {
	_, err := j.cron.AddFunc(j.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cutoff := time.Now().UTC().Add(-j.staleAfter)
		n, err := j.couriers.SweepStale(ctx, cutoff)
		if err != nil {
			j.logger.Error("presence sweep failed", "error", err)
			return
		}
		if n > 0 {
			j.logger.Info("swept stale couriers offline", "count", n)
		}
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.logger.Info("presence sweeper started", "spec", j.spec, "stale_after", j.staleAfter.String())
	return nil
}

// Stop halts scheduling; a sweep already in flight finishes on its own.
func (j *PresenceSweeper) Stop() {
	j.cron.Stop()
	j.logger.Info("presence sweeper stopped")
}
