package alert

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// SweepRunner - то, что Sweeper запускает по таймеру
type SweepRunner interface {
	Sweep(ctx context.Context, force bool) (*SweepResult, error)
}

// Sweeper периодически запускает проход Evaluator-а в фоне
type Sweeper struct {
	logger   *zap.Logger
	runner   SweepRunner
	interval time.Duration
}

// NewSweeper создаёт Sweeper
func NewSweeper(logger *zap.Logger, runner SweepRunner, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		logger:   logger,
		runner:   runner,
		interval: interval,
	}
}

// Start блокируется до отмены ctx; первый проход сразу при старте
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("starting alert sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("alert sweeper context cancelled, stopping")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.runner.Sweep(ctx, false); err != nil {
		// прерванный проход не ошибка: следующий повторит его
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		s.logger.Error("alert sweep failed", zap.Error(err))
	}
}
