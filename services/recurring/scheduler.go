package recurring

import (
	"context"
	"time"

	"opsdesk/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler drives periodic evaluation of recurring configs.
type Scheduler struct {
	service *Service
	tick    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	return &Scheduler{
		service: svc,
		tick:    cfg.Scheduler.TickInterval,
	}
}

// StartScheduler hooks the evaluation loop into the application lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.done = make(chan struct{})
			go s.run(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.cancel()
			select {
			case <-s.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	zap.L().Info("[Scheduler] started recurring evaluation loop",
		zap.Duration("tick", s.tick),
	)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()

	res, err := s.service.Evaluate(ctx, start.UTC())
	if err != nil {
		zap.L().Error("[Scheduler] evaluation pass failed", zap.Error(err))
		return
	}

	if len(res.GeneratedTaskIDs) > 0 {
		zap.L().Info("[Scheduler] evaluation pass finished",
			zap.Int("generated", len(res.GeneratedTaskIDs)),
			zap.Int("failures", len(res.Failures)),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
