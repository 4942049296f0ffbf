package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const taskTimeout = 30 * time.Second

// Dispatcher runs side-effect tasks detached from the request that spawned
// them. Failures are logged and swallowed: a lost notification must never
// fail a webhook acknowledgment or roll back a ledger write.
type Dispatcher struct {
	log *zap.Logger
	wg  sync.WaitGroup
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log.Named("notify.dispatcher")}
}

func (d *Dispatcher) Go(name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				d.log.Error("notification task panicked",
					zap.String("task", name),
					zap.Any("panic", rec),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			d.log.Warn("notification task failed",
				zap.String("task", name),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until all in-flight tasks finish. Tests use it; the server
// calls it on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
