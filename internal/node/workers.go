package node

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/config"
	"github.com/yzernik/squeakroad-sub000/internal/workers"
)

const (
	journalRetention     = 30 * 24 * time.Hour
	journalPruneInterval = time.Hour
)

type maintainer interface {
	timelineDownloader
	DeleteExpiredOffers(ctx context.Context) error
	DeleteOldSqueaks(ctx context.Context) error
}

type pruner interface {
	Prune(cutoff time.Time) (int, error)
}

// newWorkers builds the periodic jobs. Jobs with a non-positive interval are
// left out.
func newWorkers(cfg *config.Config, c maintainer, journal pruner, logger zerolog.Logger) []*workers.Worker {
	var out []*workers.Worker
	add := func(name string, interval time.Duration, work func(ctx context.Context) error) {
		if interval <= 0 {
			return
		}
		out = append(out, workers.New(name, interval, work, logger))
	}
	add("delete-offers", cfg.Node.OfferDeletionInterval(), c.DeleteExpiredOffers)
	add("delete-squeaks", cfg.Node.SqueakDeletionInterval(), c.DeleteOldSqueaks)
	add("download-timeline", cfg.Node.PeerDownloadInterval(), func(ctx context.Context) error {
		_, err := c.DownloadTimeline(ctx)
		return err
	})
	add("prune-journal", journalPruneInterval, func(ctx context.Context) error {
		n, err := journal.Prune(time.Now().Add(-journalRetention))
		if err == nil && n > 0 {
			logger.Debug().Int("removed", n).Msg("journal pruned")
		}
		return err
	})
	return out
}
