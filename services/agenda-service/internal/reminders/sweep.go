package reminders

import (
	"context"
	"log/slog"
	"time"
)

// Sweep periodically re-dispatches due reminders whose status is still
// pending or failed. It is the only retry path: Process itself never
// retries.
type Sweep struct {
	svc         *Service
	store       ReminderStore
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	retryAfter  time.Duration
	maxAttempts int
}

type SweepConfig struct {
	Interval    time.Duration
	BatchSize   int
	RetryAfter  time.Duration
	MaxAttempts int
}

func NewSweep(svc *Service, store ReminderStore, logger *slog.Logger, cfg SweepConfig) *Sweep {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Sweep{
		svc:         svc,
		store:       store,
		logger:      logger,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		retryAfter:  cfg.RetryAfter,
		maxAttempts: cfg.MaxAttempts,
	}
}

func (s *Sweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runBatch(ctx)
		}
	}
}

func (s *Sweep) runBatch(ctx context.Context) {
	ids, err := s.store.ClaimDue(ctx, s.batchSize, s.retryAfter, s.maxAttempts)
	if err != nil {
		s.logger.Error("due reminder claim failed", "err", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	counts := map[Outcome]int{}
	for _, id := range ids {
		counts[s.svc.Process(ctx, id)]++
	}
	s.logger.Info("reminder sweep batch done",
		"claimed", len(ids),
		"sent", counts[OutcomeSent],
		"skipped", counts[OutcomeSkipped],
		"failed", counts[OutcomeFailed]+counts[OutcomeNotFound],
	)
}
