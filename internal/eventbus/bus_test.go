package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

func TestSubscriptionPreservesOrder(t *testing.T) {
	bus := New(zerolog.Nop())
	sub, err := bus.Subscribe("ordered")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(NewReceivedOffer{Offer: models.ReceivedOffer{ID: int64(i)}})
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(i), ev.(NewReceivedOffer).Offer.ID)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	bus := New(zerolog.Nop())
	_, err := bus.Subscribe("dup")
	require.NoError(t, err)
	_, err = bus.Subscribe("dup")
	assert.Error(t, err)
}

func TestPublishDoesNotBlockOnFullQueue(t *testing.T) {
	bus := New(zerolog.Nop())
	sub, err := bus.SubscribeSize("small", 2)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(UpdateSubscriptions{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	assert.Len(t, sub.queue, 2)
}

func TestCloseWakesConsumer(t *testing.T) {
	bus := New(zerolog.Nop())
	sub, err := bus.Subscribe("")
	require.NoError(t, err)
	assert.NotEmpty(t, sub.Name())

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()
	sub.Close()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit")
	}

	// closed subscriptions no longer receive events and the name is free again
	bus.Publish(UpdateSubscriptions{})
	_, err = bus.Subscribe(sub.Name())
	require.NoError(t, err)
}

func TestBusCloseStopsAll(t *testing.T) {
	bus := New(zerolog.Nop())
	a, _ := bus.Subscribe("a")
	b, _ := bus.Subscribe("b")
	bus.Close()
	_, err := a.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNextAfterCloseDropsQueuedEvents(t *testing.T) {
	bus := New(zerolog.Nop())
	sub, err := bus.Subscribe("pending")
	require.NoError(t, err)
	bus.Publish(UpdateSubscriptions{})
	bus.Publish(UpdateSubscriptions{})
	sub.Close()

	for i := 0; i < 20; i++ {
		_, err := sub.Next(context.Background())
		require.ErrorIs(t, err, ErrClosed)
	}
}

func TestIteratorCancelWithPendingEvents(t *testing.T) {
	bus := New(zerolog.Nop())
	sub, err := bus.Subscribe("")
	require.NoError(t, err)
	it := Filter(sub, func(ev Event) (struct{}, bool) { return struct{}{}, true })
	bus.Publish(NewSqueak{})
	bus.Publish(NewSecretKey{})
	it.Cancel()

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNextHonoursContext(t *testing.T) {
	bus := New(zerolog.Nop())
	sub, _ := bus.Subscribe("ctx")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFilteredIterator(t *testing.T) {
	bus := New(zerolog.Nop())
	sub, _ := bus.Subscribe("squeaks")
	it := Filter(sub, func(ev Event) (squeak.Hash, bool) {
		if ns, ok := ev.(NewSqueak); ok {
			return ns.Squeak.Hash(), true
		}
		return squeak.Hash{}, false
	})
	defer it.Cancel()

	sq := squeak.Squeak{Version: squeak.Version1, BlockHeight: 3}
	bus.Publish(UpdateSubscriptions{})
	bus.Publish(NewSqueak{Squeak: sq})
	got, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sq.Hash(), got)
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	bus := New(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s, err := bus.Subscribe("")
			if err == nil {
				s.Close()
			}
		}()
		go func() {
			defer wg.Done()
			bus.Publish(UpdateSubscriptions{})
		}()
	}
	wg.Wait()
}
