package risk

import (
	"context"
	"log/slog"
	"time"
)

const reviewBatchSize = 100

// ReviewTimer periodically reassesses profiles whose review date has passed.
type ReviewTimer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewReviewTimer creates a review timer. A non-positive interval means hourly.
func NewReviewTimer(service *Service, interval time.Duration, logger *slog.Logger) *ReviewTimer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ReviewTimer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the review loop. Call in a goroutine.
func (t *ReviewTimer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.reviewDue(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *ReviewTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *ReviewTimer) reviewDue(ctx context.Context) {
	count, err := t.service.ReviewDue(ctx, reviewBatchSize)
	if err != nil {
		t.logger.Warn("failed to run scheduled risk reviews", "error", err)
		return
	}
	if count > 0 {
		t.logger.Info("risk profiles reassessed", "count", count)
	}
}
