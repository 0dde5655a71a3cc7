package jobs

import (
	"context"
	"time"

	"ticketing/internal/logger"
	"ticketing/internal/service"
)

// Sweeper closes checkouts whose reservation hold has run out.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (service.SweepReport, error)
}

// PoolMonitor is optional; the job reports pool pressure once per run.
type PoolMonitor interface {
	WarnOnPoolPressure()
}

// ReservationExpirationJob periodically returns inventory held by
// abandoned checkouts.
type ReservationExpirationJob struct {
	sweeper  Sweeper
	pool     PoolMonitor
	interval time.Duration
	now      func() time.Time
}

func NewReservationExpirationJob(sweeper Sweeper, pool PoolMonitor, interval time.Duration) *ReservationExpirationJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReservationExpirationJob{
		sweeper:  sweeper,
		pool:     pool,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (j *ReservationExpirationJob) Run(ctx context.Context) error {
	logger.Get().Info("Starting reservation expiration job", "check_interval", j.interval.String())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Get().Info("Reservation expiration job stopped")
			return nil
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ReservationExpirationJob) runOnce(ctx context.Context) {
	if j.pool != nil {
		j.pool.WarnOnPoolPressure()
	}

	report, err := j.sweeper.SweepExpired(ctx, j.now())
	if err != nil && ctx.Err() == nil {
		logger.Get().Error("Reservation sweep failed", "error", err,
			"expired", report.Expired, "failed", report.Failed)
	}
}
