package lightning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/yzernik/squeakroad-sub000/internal/apperr"
)

const (
	requestFailed      = "lightning request failed"
	subscriptionFailed = "invoice subscription failed"
)

var (
	// ErrRequest matches failures of any lightning RPC.
	ErrRequest = apperr.Unavailable(requestFailed)
	// ErrInvoiceSubscription matches an aborted invoice stream.
	ErrInvoiceSubscription = apperr.Unavailable(subscriptionFailed)
	// ErrStreamCancelled is returned by Next after Cancel.
	ErrStreamCancelled = errors.New("invoice stream cancelled")
)

func requestError(err error) error {
	return apperr.Wrap(apperr.CodeUnavailable, requestFailed, err)
}

func subscriptionError(err error) error {
	return apperr.Wrap(apperr.CodeUnavailable, subscriptionFailed, err)
}

// Invoice is a lightning invoice as reported by the node. Times are seconds.
type Invoice struct {
	PaymentHash    [32]byte
	PaymentRequest string
	ValueMsat      int64
	CreationDate   int64
	Expiry         int64
	SettleIndex    uint64
	Settled        bool
}

// PayReq is a decoded payment request. PaymentPoint is empty when the backend
// does not expose one.
type PayReq struct {
	PaymentHash  [32]byte
	NumMsat      int64
	Destination  string
	Timestamp    int64
	Expiry       int64
	PaymentPoint []byte
}

// Payment is the outcome of paying an invoice. Success means a 32-byte
// Preimage and an empty Error.
type Payment struct {
	Preimage    []byte
	PaymentHash []byte
	Error       string
}

func (p Payment) Succeeded() bool {
	return p.Error == "" && len(p.Preimage) == 32
}

type Info struct {
	IdentityPubkey string
	URIs           []string
}

// Client is the narrow surface the node needs from a lightning backend.
type Client interface {
	CreateInvoice(ctx context.Context, preimage [32]byte, amountMsat int64) (Invoice, error)
	DecodePayReq(ctx context.Context, paymentRequest string) (PayReq, error)
	PayInvoice(ctx context.Context, paymentRequest string) (Payment, error)
	SubscribeInvoices(ctx context.Context, settleIndex uint64) (*InvoiceStream, error)
	GetInfo(ctx context.Context) (Info, error)
}

// PaymentHashOf returns sha256(preimage).
func PaymentHashOf(preimage [32]byte) [32]byte {
	return sha256.Sum256(preimage[:])
}

func decodeHash(s string) ([32]byte, error) {
	var h [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid payment hash length %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// InvoiceStream yields settled invoices with SettleIndex at or above the
// index it was opened from. Next and Cancel may be called from different
// goroutines.
type InvoiceStream struct {
	from   uint64
	recv   func() (Invoice, error)
	cancel context.CancelFunc

	mu       sync.Mutex
	canceled bool
	once     sync.Once
}

func NewInvoiceStream(from uint64, recv func() (Invoice, error), cancel context.CancelFunc) *InvoiceStream {
	return &InvoiceStream{from: from, recv: recv, cancel: cancel}
}

// Next blocks until the next settled invoice.
func (s *InvoiceStream) Next() (Invoice, error) {
	for {
		inv, err := s.recv()
		if err != nil {
			if s.isCanceled() {
				return Invoice{}, ErrStreamCancelled
			}
			return Invoice{}, subscriptionError(err)
		}
		if !inv.Settled || inv.SettleIndex < s.from {
			continue
		}
		return inv, nil
	}
}

// Cancel stops the stream; a blocked Next returns ErrStreamCancelled.
func (s *InvoiceStream) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.canceled = true
		s.mu.Unlock()
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *InvoiceStream) isCanceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}
