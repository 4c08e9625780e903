package metrics

import (
	"fmt"
	"sync"
)

// Metrics counts sale-engine activity since start.
type Metrics struct {
	mu               sync.Mutex
	squeaksSaved     int
	secretKeysSaved  int
	offersCreated    int
	offersReceived   int
	paymentsReceived int
	paymentsSent     int
	peerRequests     int
}

func New() *Metrics { return &Metrics{} }

func (m *Metrics) IncSqueaksSaved()     { m.inc(func(m *Metrics) *int { return &m.squeaksSaved }) }
func (m *Metrics) IncSecretKeysSaved()  { m.inc(func(m *Metrics) *int { return &m.secretKeysSaved }) }
func (m *Metrics) IncOffersCreated()    { m.inc(func(m *Metrics) *int { return &m.offersCreated }) }
func (m *Metrics) IncOffersReceived()   { m.inc(func(m *Metrics) *int { return &m.offersReceived }) }
func (m *Metrics) IncPaymentsReceived() { m.inc(func(m *Metrics) *int { return &m.paymentsReceived }) }
func (m *Metrics) IncPaymentsSent()     { m.inc(func(m *Metrics) *int { return &m.paymentsSent }) }
func (m *Metrics) IncPeerRequests()     { m.inc(func(m *Metrics) *int { return &m.peerRequests }) }

// inc is a no-op on a nil receiver so components may run without metrics.
// The field is resolved only after the nil check.
func (m *Metrics) inc(field func(*Metrics) *int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	*field(m)++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		SqueaksSaved:     m.squeaksSaved,
		SecretKeysSaved:  m.secretKeysSaved,
		OffersCreated:    m.offersCreated,
		OffersReceived:   m.offersReceived,
		PaymentsReceived: m.paymentsReceived,
		PaymentsSent:     m.paymentsSent,
		PeerRequests:     m.peerRequests,
	}
}

// Snapshot is served by the status server and drawn in the dashboard header.
type Snapshot struct {
	SqueaksSaved     int `json:"squeaks_saved"`
	SecretKeysSaved  int `json:"secret_keys_saved"`
	OffersCreated    int `json:"offers_created"`
	OffersReceived   int `json:"offers_received"`
	PaymentsReceived int `json:"payments_received"`
	PaymentsSent     int `json:"payments_sent"`
	PeerRequests     int `json:"peer_requests"`
}

func (s Snapshot) String() string {
	return fmt.Sprintf("squeaks=%d keys=%d offers=%d/%d payments=%d/%d requests=%d",
		s.SqueaksSaved, s.SecretKeysSaved, s.OffersCreated, s.OffersReceived,
		s.PaymentsReceived, s.PaymentsSent, s.PeerRequests)
}
