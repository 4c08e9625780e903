package lightning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sliceRecv(invoices []Invoice, tail error) func() (Invoice, error) {
	var mu sync.Mutex
	i := 0
	return func() (Invoice, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(invoices) {
			return Invoice{}, tail
		}
		inv := invoices[i]
		i++
		return inv, nil
	}
}

func TestInvoiceStreamSkipsBelowWatermarkAndUnsettled(t *testing.T) {
	stream := NewInvoiceStream(5, sliceRecv([]Invoice{
		{SettleIndex: 3, Settled: true},
		{SettleIndex: 0, Settled: false},
		{SettleIndex: 5, Settled: true},
		{SettleIndex: 7, Settled: true},
	}, errors.New("eof")), nil)

	inv, err := stream.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 5, inv.SettleIndex)
	inv, err = stream.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 7, inv.SettleIndex)

	_, err = stream.Next()
	assert.ErrorIs(t, err, ErrInvoiceSubscription)
}

func TestInvoiceStreamCancelUnblocksNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	recv := func() (Invoice, error) {
		<-ctx.Done()
		return Invoice{}, ctx.Err()
	}
	stream := NewInvoiceStream(0, recv, cancel)
	done := make(chan error, 1)
	go func() {
		_, err := stream.Next()
		done <- err
	}()
	stream.Cancel()
	stream.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStreamCancelled)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Cancel")
	}
}

func TestPaymentSucceeded(t *testing.T) {
	assert.True(t, Payment{Preimage: make([]byte, 32)}.Succeeded())
	assert.False(t, Payment{Preimage: make([]byte, 32), Error: "no route"}.Succeeded())
	assert.False(t, Payment{}.Succeeded())
}
