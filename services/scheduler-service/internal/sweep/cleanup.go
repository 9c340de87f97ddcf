package sweep

import (
	"context"
	"log/slog"
	"time"
)

// DefaultGrace is how long after an appointment's end a confirmed appointment
// may stay untouched before it is considered a no-show.
const DefaultGrace = time.Hour

// CleanupSweeper marks confirmed appointments whose end passed more than the
// grace period ago as no-shows. Pending appointments are left alone: the
// business never acknowledged them, so punishing the client would be wrong.
type CleanupSweeper struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	interval   time.Duration
	grace      time.Duration
	batchSize  int
	now        func() time.Time
}

type CleanupConfig struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
	Now       func() time.Time
}

func NewCleanupSweeper(store Store, dispatcher Dispatcher, logger *slog.Logger, cfg CleanupConfig) *CleanupSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &CleanupSweeper{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   cfg.Interval,
		grace:      cfg.Grace,
		batchSize:  cfg.BatchSize,
		now:        cfg.Now,
	}
}

func (s *CleanupSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("no-show sweep failed", "err", err)
			}
		}
	}
}

func (s *CleanupSweeper) Sweep(ctx context.Context) error {
	now := s.now()
	cutoff := now.Add(-s.grace)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	overdue, err := s.store.OverdueConfirmed(ctx, tx, cutoff, s.batchSize)
	if err != nil {
		return err
	}
	if len(overdue) == 0 {
		return tx.Commit(ctx)
	}

	marked := 0
	for _, d := range overdue {
		if err := s.store.MarkNoShow(ctx, tx, d.AppointmentID, now); err != nil {
			return err
		}
		if err := s.dispatcher.Dispatch(ctx, tx, EventNoShow, d, map[string]any{
			"marked_at": now.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		marked++
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Info("no-shows recorded", "count", marked)
	return nil
}
