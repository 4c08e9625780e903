// Package lntest provides an in-memory lightning network for tests.
package lntest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/yzernik/squeakroad-sub000/internal/lightning"
)

const invoicePrefix = "lnfake1"

var ErrUnknownInvoice = errors.New("unknown invoice")

type invoice struct {
	owner    *Node
	preimage [32]byte
	inv      lightning.Invoice
}

// Network routes payments between fake nodes.
type Network struct {
	mu       sync.Mutex
	invoices map[string]*invoice
	Now      func() int64
}

func NewNetwork() *Network {
	return &Network{
		invoices: make(map[string]*invoice),
		Now:      func() int64 { return 1_700_000_000 },
	}
}

// Node is a fake lightning node implementing lightning.Client.
type Node struct {
	net    *Network
	Pubkey string
	URIs   []string
	Expiry int64

	// PayHook, when set, replaces the outcome of PayInvoice.
	PayHook func(paymentRequest string) (lightning.Payment, error)

	mu          sync.Mutex
	settleIndex uint64
	settled     []lightning.Invoice
	subscribers map[chan lightning.Invoice]struct{}
	subscribeErr error
}

func (n *Network) NewNode(pubkey string) *Node {
	return &Node{
		net:         n,
		Pubkey:      pubkey,
		URIs:        []string{pubkey + "@127.0.0.1:9735"},
		Expiry:      3600,
		subscribers: make(map[chan lightning.Invoice]struct{}),
	}
}

func (n *Node) CreateInvoice(ctx context.Context, preimage [32]byte, amountMsat int64) (lightning.Invoice, error) {
	hash := lightning.PaymentHashOf(preimage)
	inv := lightning.Invoice{
		PaymentHash:    hash,
		PaymentRequest: invoicePrefix + hex.EncodeToString(hash[:]),
		ValueMsat:      amountMsat,
		CreationDate:   n.net.Now(),
		Expiry:         n.Expiry,
	}
	n.net.mu.Lock()
	n.net.invoices[inv.PaymentRequest] = &invoice{owner: n, preimage: preimage, inv: inv}
	n.net.mu.Unlock()
	return inv, nil
}

func (n *Node) DecodePayReq(ctx context.Context, paymentRequest string) (lightning.PayReq, error) {
	n.net.mu.Lock()
	entry, ok := n.net.invoices[paymentRequest]
	n.net.mu.Unlock()
	if !ok {
		return lightning.PayReq{}, fmt.Errorf("decode %q: %w", paymentRequest, ErrUnknownInvoice)
	}
	return lightning.PayReq{
		PaymentHash: entry.inv.PaymentHash,
		NumMsat:     entry.inv.ValueMsat,
		Destination: entry.owner.Pubkey,
		Timestamp:   entry.inv.CreationDate,
		Expiry:      entry.inv.Expiry,
	}, nil
}

// PayInvoice settles the invoice on its owner and returns the pre-image.
func (n *Node) PayInvoice(ctx context.Context, paymentRequest string) (lightning.Payment, error) {
	if n.PayHook != nil {
		return n.PayHook(paymentRequest)
	}
	if !strings.HasPrefix(paymentRequest, invoicePrefix) {
		return lightning.Payment{Error: "invalid payment request"}, nil
	}
	n.net.mu.Lock()
	entry, ok := n.net.invoices[paymentRequest]
	n.net.mu.Unlock()
	if !ok {
		return lightning.Payment{Error: "invoice not found"}, nil
	}
	entry.owner.settle(entry.inv)
	return lightning.Payment{Preimage: entry.preimage[:], PaymentHash: entry.inv.PaymentHash[:]}, nil
}

// Settle marks inv as settled on n as if a payer had paid it.
func (n *Node) Settle(inv lightning.Invoice) {
	n.settle(inv)
}

func (n *Node) settle(inv lightning.Invoice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settleIndex++
	inv.SettleIndex = n.settleIndex
	inv.Settled = true
	n.settled = append(n.settled, inv)
	for ch := range n.subscribers {
		select {
		case ch <- inv:
		default:
		}
	}
}

// SettleWithIndex settles inv at an explicit index.
func (n *Node) SettleWithIndex(inv lightning.Invoice, index uint64) {
	n.mu.Lock()
	if index > n.settleIndex {
		n.settleIndex = index - 1
	}
	n.mu.Unlock()
	n.settle(inv)
}

func (n *Node) SubscribeInvoices(ctx context.Context, settleIndex uint64) (*lightning.InvoiceStream, error) {
	n.mu.Lock()
	if n.subscribeErr != nil {
		err := n.subscribeErr
		n.mu.Unlock()
		return nil, err
	}
	ch := make(chan lightning.Invoice, 1024)
	for _, inv := range n.settled {
		if inv.SettleIndex > settleIndex {
			ch <- inv
		}
	}
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	recv := func() (lightning.Invoice, error) {
		select {
		case <-sctx.Done():
			n.mu.Lock()
			delete(n.subscribers, ch)
			n.mu.Unlock()
			return lightning.Invoice{}, sctx.Err()
		case inv := <-ch:
			return inv, nil
		}
	}
	return lightning.NewInvoiceStream(settleIndex, recv, cancel), nil
}

// SetSubscribeErr makes subsequent SubscribeInvoices calls fail.
func (n *Node) SetSubscribeErr(err error) {
	n.mu.Lock()
	n.subscribeErr = err
	n.mu.Unlock()
}

// Subscribers reports the number of open invoice streams.
func (n *Node) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}

// Preimage returns the pre-image behind paymentRequest.
func (n *Network) Preimage(paymentRequest string) ([32]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	entry, ok := n.invoices[paymentRequest]
	if !ok {
		return [32]byte{}, false
	}
	return entry.preimage, true
}

func (n *Node) GetInfo(ctx context.Context) (lightning.Info, error) {
	return lightning.Info{IdentityPubkey: n.Pubkey, URIs: n.URIs}, nil
}

var _ lightning.Client = (*Node)(nil)
