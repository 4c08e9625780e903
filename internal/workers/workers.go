// Package workers runs periodic background jobs.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Worker calls Work every Interval until closed. A failing or panicking
// Work is logged and the loop carries on.
type Worker struct {
	Name     string
	Interval time.Duration
	Work     func(ctx context.Context) error

	log       zerolog.Logger
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func New(name string, interval time.Duration, work func(ctx context.Context) error, logger zerolog.Logger) *Worker {
	return &Worker{
		Name:     name,
		Interval: interval,
		Work:     work,
		log:      logger.With().Str("component", "worker").Str("worker", name).Logger(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop once; later calls do nothing.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.log.Debug().Dur("interval", w.Interval).Msg("worker started")
	timer := time.NewTimer(w.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-timer.C:
		}
		if err := w.runOnce(ctx); err != nil {
			w.log.Error().Err(err).Msg("worker run failed")
		}
		timer.Reset(w.Interval)
	}
}

func (w *Worker) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.Work(ctx)
}

// Close stops the loop and waits for an in-flight run to finish.
func (w *Worker) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		close(w.quit)
	})
	w.startOnce.Do(func() { close(w.done) })
	<-w.done
}
