package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookline-app/bookline/internal/clock"
	"github.com/bookline-app/bookline/internal/config"
	extrachargedomain "github.com/bookline-app/bookline/internal/extracharge/domain"
	"github.com/bookline-app/bookline/internal/lock"
)

const (
	sweepLockKey = "sweep:extracharge"
	sweepLockTTL = time.Minute
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Cfg     config.Config
	Clock   clock.Clock
	Locker  lock.Locker
	Charges extrachargedomain.Repository
}

// Sweeper walks pending extra charges past their deadline and marks them
// expired, so reads do not depend on the lazy per-request sweep. A named lock
// keeps concurrent instances from racing; losing the lock just means another
// instance is already sweeping.
type Sweeper struct {
	db       *gorm.DB
	log      *zap.Logger
	interval time.Duration
	clock    clock.Clock
	locker   lock.Locker
	charges  extrachargedomain.Repository
}

func NewSweeper(p Params) *Sweeper {
	interval := time.Duration(p.Cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		db:       p.DB,
		log:      p.Log.Named("scheduler.sweeper"),
		interval: interval,
		clock:    p.Clock,
		locker:   p.Locker,
		charges:  p.Charges,
	}
}

// SweepOnce runs a single pass under the cross-process lock. It reports how
// many charges it expired; zero with a nil error also covers the case where
// another instance holds the lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	token, ok, err := s.locker.TryLock(ctx, sweepLockKey, sweepLockTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
			s.log.Warn("sweep lock release failed", zap.Error(err))
		}
	}()

	expired, err := s.charges.ExpirePending(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("expired pending extra charges", zap.Int64("count", expired))
	}
	return expired, nil
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Warn("extra charge sweep failed", zap.Error(err))
			}
		}
	}
}

var Module = fx.Module("scheduler",
	fx.Provide(NewSweeper),
	fx.Invoke(start),
)

func start(lc fx.Lifecycle, s *Sweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
