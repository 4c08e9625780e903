// Package offercache remembers the unpaid offer made to each peer for a
// squeak so repeated requests reuse one invoice until it expires.
package offercache

import (
	"context"
	"errors"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

var ErrExpired = errors.New("offer already expired")

// Cache returns (nil, nil) on a miss.
type Cache interface {
	Get(ctx context.Context, hash squeak.Hash, peerHost string) (*models.SentOffer, error)
	Put(ctx context.Context, o models.SentOffer) error
	Delete(ctx context.Context, hash squeak.Hash, peerHost string) error
	Close() error
}

func key(hash squeak.Hash, peerHost string) string {
	return "offer:" + hash.String() + ":" + peerHost
}
