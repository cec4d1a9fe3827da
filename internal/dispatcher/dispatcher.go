// Package dispatcher runs the worker pool over a frontier and ends the crawl
// once the frontier has drained.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDrainInterval = time.Second
	defaultDrainChecks   = 3
)

// Frontier is the lifecycle surface the dispatcher watches.
type Frontier interface {
	IsEmpty() bool
	IsTerminated() bool
	Terminate()
}

// Runner is one worker loop.
type Runner interface {
	Run(ctx context.Context) error
	Busy() bool
}

// Config controls drain detection.
type Config struct {
	// StopWhenDrained terminates the frontier once it stays empty with every
	// worker idle for DrainChecks consecutive checks.
	StopWhenDrained bool
	DrainInterval   time.Duration
	DrainChecks     int
}

// Dispatcher fans the frontier out to a pool of workers.
type Dispatcher struct {
	front   Frontier
	workers []Runner
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(front Frontier, workers []Runner, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = defaultDrainInterval
	}
	if cfg.DrainChecks <= 0 {
		cfg.DrainChecks = defaultDrainChecks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		front:   front,
		workers: workers,
		cfg:     cfg,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until they stop. A worker error cancels
// the others and is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if d.cfg.StopWhenDrained {
		watchCtx, stop := context.WithCancel(gctx)
		defer stop()
		go d.watchDrain(watchCtx)
	}
	d.logger.Info("workers started", zap.Int("workers", len(d.workers)))
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	d.logger.Info("workers stopped")
	return nil
}

func (d *Dispatcher) watchDrain(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.DrainInterval)
	defer ticker.Stop()
	empty := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if d.front.IsTerminated() {
			return
		}
		if d.anyBusy() || !d.front.IsEmpty() {
			empty = 0
			continue
		}
		empty++
		if empty >= d.cfg.DrainChecks {
			d.logger.Info("frontier drained, terminating")
			d.front.Terminate()
			return
		}
	}
}

func (d *Dispatcher) anyBusy() bool {
	for _, w := range d.workers {
		if w.Busy() {
			return true
		}
	}
	return false
}
