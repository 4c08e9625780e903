package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/storage"
)

type activityLog interface {
	Append(a storage.Activity) error
}

type timelineDownloader interface {
	DownloadTimeline(ctx context.Context) (models.DownloadResult, error)
}

// activityOf maps a bus event to a journal line. UpdateSubscriptions is not
// recorded.
func activityOf(ev eventbus.Event, now time.Time) (storage.Activity, bool) {
	a := storage.Activity{ID: uuid.NewString(), Time: now.UTC()}
	switch e := ev.(type) {
	case eventbus.NewSqueak:
		a.Kind = storage.ActivityNewSqueak
		a.Subject = e.Squeak.Hash().String()
		a.Detail = fmt.Sprintf("author %s block %d", e.Squeak.Author, e.Squeak.BlockHeight)
	case eventbus.NewSecretKey:
		a.Kind = storage.ActivityNewSecretKey
		a.Subject = e.Squeak.Hash().String()
	case eventbus.NewReceivedOffer:
		a.Kind = storage.ActivityReceivedOffer
		a.Subject = e.Offer.SqueakHash.String()
		a.Detail = fmt.Sprintf("%d msat from %s", e.Offer.PriceMsat, e.Offer.PeerAddress)
	case eventbus.NewReceivedPayment:
		a.Kind = storage.ActivityReceivedPayment
		a.Subject = e.Payment.SqueakHash.String()
		a.Detail = fmt.Sprintf("%d msat settle index %d", e.Payment.PriceMsat, e.Payment.SettleIndex)
	default:
		return storage.Activity{}, false
	}
	return a, true
}

// startRecorder copies bus events into the journal until ctx ends or the bus
// closes.
func startRecorder(ctx context.Context, wg *sync.WaitGroup, bus *eventbus.Bus, journal activityLog, log zerolog.Logger) error {
	sub, err := bus.Subscribe("journal")
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sub.Close()
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				if !errors.Is(err, eventbus.ErrClosed) && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Msg("journal subscription failed")
				}
				return
			}
			a, ok := activityOf(ev, time.Now())
			if !ok {
				continue
			}
			if err := journal.Append(a); err != nil {
				log.Error().Err(err).Str("kind", a.Kind).Msg("journal append failed")
			}
		}
	}()
	return nil
}

// startFollowWatcher refreshes the timeline whenever the followed set
// changes.
func startFollowWatcher(ctx context.Context, wg *sync.WaitGroup, bus *eventbus.Bus, d timelineDownloader, log zerolog.Logger) error {
	sub, err := bus.Subscribe("follow-watcher")
	if err != nil {
		return err
	}
	updates := eventbus.Filter(sub, func(ev eventbus.Event) (struct{}, bool) {
		_, ok := ev.(eventbus.UpdateSubscriptions)
		return struct{}{}, ok
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer updates.Cancel()
		for {
			if _, err := updates.Next(ctx); err != nil {
				return
			}
			res, err := d.DownloadTimeline(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("timeline download failed")
				continue
			}
			log.Debug().Int("peers", res.NumPeers).Msg("timeline refreshed")
		}
	}()
	return nil
}
