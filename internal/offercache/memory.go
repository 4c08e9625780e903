package offercache

import (
	"context"
	"sync"
	"time"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

var _ Cache = (*Memory)(nil)

type entry struct {
	offer   models.SentOffer
	expires time.Time
}

// Memory is an in-process Cache whose entries lapse with their invoices.
type Memory struct {
	mu     sync.Mutex
	offers map[string]entry
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		offers: make(map[string]entry),
		now:    time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, hash squeak.Hash, peerHost string) (*models.SentOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpired()
	e, ok := m.offers[key(hash, peerHost)]
	if !ok {
		return nil, nil
	}
	o := e.offer
	return &o, nil
}

func (m *Memory) Put(ctx context.Context, o models.SentOffer) error {
	expires := o.ExpiresAt()
	if !expires.After(m.now()) {
		return ErrExpired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[key(o.SqueakHash, o.PeerAddress.Host)] = entry{offer: o, expires: expires}
	return nil
}

func (m *Memory) Delete(ctx context.Context, hash squeak.Hash, peerHost string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offers, key(hash, peerHost))
	return nil
}

// Len counts unexpired entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpired()
	return len(m.offers)
}

func (m *Memory) Close() error { return nil }

func (m *Memory) pruneExpired() {
	now := m.now()
	for k, e := range m.offers {
		if !e.expires.After(now) {
			delete(m.offers, k)
		}
	}
}
