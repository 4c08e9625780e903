package ui

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
)

// Source is a cancellable stream such as an eventbus or control iterator.
type Source[T any] interface {
	Next(ctx context.Context) (T, error)
	Cancel()
}

// Feed pumps node streams and periodic counters into a Sink.
type Feed struct {
	Squeaks  Source[models.SqueakEntry]
	Payments Source[models.ReceivedPayment]
	Counters func() metrics.Snapshot
	Interval time.Duration
	Log      zerolog.Logger
}

// Run blocks until ctx is done, then cancels both streams.
func (f *Feed) Run(ctx context.Context, sink Sink) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(ctx, f.Squeaks, sink.ShowSqueak, f.Log)
	}()
	go func() {
		defer wg.Done()
		pump(ctx, f.Payments, sink.ShowPayment, f.Log)
	}()

	interval := f.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if f.Counters != nil {
		sink.ShowCounters(f.Counters())
	}
	for {
		select {
		case <-ctx.Done():
			f.Squeaks.Cancel()
			f.Payments.Cancel()
			wg.Wait()
			return
		case <-ticker.C:
			if f.Counters != nil {
				sink.ShowCounters(f.Counters())
			}
		}
	}
}

func pump[T any](ctx context.Context, src Source[T], show func(T), log zerolog.Logger) {
	for {
		v, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, eventbus.ErrClosed) && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("dashboard stream failed")
			}
			return
		}
		show(v)
	}
}
