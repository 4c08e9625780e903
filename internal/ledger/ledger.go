// Package ledger records payments for sent offers as the lightning node
// settles their invoices.
package ledger

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/lightning"
	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
)

var (
	retryJitterRange = time.Second
	randSrc          = rand.New(rand.NewSource(time.Now().UnixNano()))
	randMu           sync.Mutex
)

type State int

const (
	Idle State = iota
	Streaming
	Failed
	Backoff
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Failed:
		return "failed"
	case Backoff:
		return "backoff"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

type Store interface {
	GetLatestSettleIndex(ctx context.Context) (uint64, error)
	GetSentOfferByPaymentHash(ctx context.Context, hash models.Hash32) (*models.SentOffer, error)
	InsertReceivedPayment(ctx context.Context, p models.ReceivedPayment) (*int64, error)
	SetSentOfferPaid(ctx context.Context, hash models.Hash32) error
	SetReceivedPaymentSettleIndex(ctx context.Context, hash models.Hash32, index uint64) error
	ClearReceivedPaymentSettleIndices(ctx context.Context) error
}

type Publisher interface {
	Publish(ev eventbus.Event)
}

// Ledger supervises one invoice subscription at a time. After a stream
// failure it waits the retry interval and resumes from the highest settle
// index in the store.
type Ledger struct {
	store   Store
	ln      lightning.Client
	bus     Publisher
	metrics *metrics.Metrics
	retry   time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	state  State
	base   context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store Store, ln lightning.Client, bus Publisher, m *metrics.Metrics, retry time.Duration, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		ln:      ln,
		bus:     bus,
		metrics: m,
		retry:   retry,
		log:     logger.With().Str("component", "ledger").Logger(),
	}
}

func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Ledger) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Start launches the settlement loop. It is a no-op while a loop is running.
func (l *Ledger) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	if l.base == nil {
		l.base = ctx
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	l.state = Idle
	go func() {
		defer close(done)
		l.run(runCtx)
	}()
}

// Stop cancels the stream and waits for the loop to exit.
func (l *Ledger) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.setState(Cancelled)
}

// Reprocess replays every settlement from index 0. Payments already
// recorded are skipped by payment hash. The loop is running again when
// Reprocess returns, even if the reset failed.
func (l *Ledger) Reprocess(ctx context.Context) error {
	l.Stop()
	// The loop outlives ctx, which may belong to a single request.
	defer l.Start(l.baseContext())
	if err := l.store.ClearReceivedPaymentSettleIndices(ctx); err != nil {
		l.log.Error().Err(err).Msg("reset settle indices failed, resuming")
		return err
	}
	l.log.Info().Msg("reprocessing received payments")
	return nil
}

func (l *Ledger) baseContext() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.base == nil {
		return context.Background()
	}
	return l.base
}

func (l *Ledger) run(ctx context.Context) {
	for {
		err := l.subscribe(ctx)
		if ctx.Err() != nil {
			l.setState(Cancelled)
			return
		}
		l.setState(Failed)
		l.log.Warn().Err(err).Dur("retry", l.retry).Msg("subscribe invoices failed")
		l.setState(Backoff)
		timer := time.NewTimer(l.retry + jitter())
		select {
		case <-ctx.Done():
			timer.Stop()
			l.setState(Cancelled)
			return
		case <-timer.C:
		}
	}
}

func jitter() time.Duration {
	if retryJitterRange <= 0 {
		return 0
	}
	randMu.Lock()
	defer randMu.Unlock()
	return time.Duration(randSrc.Int63n(int64(retryJitterRange)))
}

func (l *Ledger) subscribe(ctx context.Context) error {
	index, err := l.store.GetLatestSettleIndex(ctx)
	if err != nil {
		return err
	}
	stream, err := l.ln.SubscribeInvoices(ctx, index)
	if err != nil {
		return err
	}
	defer stream.Cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			stream.Cancel()
		case <-stop:
		}
	}()

	l.setState(Streaming)
	l.log.Info().Uint64("settle_index", index).Msg("streaming invoices")
	for {
		inv, err := stream.Next()
		if err != nil {
			return err
		}
		if err := l.settle(ctx, inv); err != nil {
			return err
		}
	}
}

func (l *Ledger) settle(ctx context.Context, inv lightning.Invoice) error {
	hash := models.Hash32(inv.PaymentHash)
	offer, err := l.store.GetSentOfferByPaymentHash(ctx, hash)
	if err != nil {
		return err
	}
	if offer == nil {
		l.log.Debug().Str("payment_hash", hash.String()).Msg("settled invoice has no offer")
		return nil
	}
	payment := models.ReceivedPayment{
		SqueakHash:  offer.SqueakHash,
		PaymentHash: hash,
		PriceMsat:   offer.PriceMsat,
		SettleIndex: inv.SettleIndex,
		PeerAddress: offer.PeerAddress,
	}
	id, err := l.store.InsertReceivedPayment(ctx, payment)
	if err != nil {
		return err
	}
	if err := l.store.SetSentOfferPaid(ctx, hash); err != nil {
		return err
	}
	if id == nil {
		return l.store.SetReceivedPaymentSettleIndex(ctx, hash, inv.SettleIndex)
	}
	payment.ID = *id
	l.metrics.IncPaymentsReceived()
	l.log.Info().
		Str("squeak", offer.SqueakHash.String()).
		Int64("price_msat", offer.PriceMsat).
		Uint64("settle_index", inv.SettleIndex).
		Msg("settle invoice")
	l.bus.Publish(eventbus.NewReceivedPayment{Payment: payment})
	return nil
}
