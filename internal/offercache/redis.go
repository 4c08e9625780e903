package offercache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

var _ Cache = (*Redis)(nil)

// Redis stores offers as JSON under a TTL equal to the invoice's remaining
// lifetime.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(ctx context.Context, options *redis.Options) (*Redis, error) {
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, now: time.Now}, nil
}

func (r *Redis) Get(ctx context.Context, hash squeak.Hash, peerHost string) (*models.SentOffer, error) {
	data, err := r.client.Get(ctx, key(hash, peerHost)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var o models.SentOffer
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Redis) Put(ctx context.Context, o models.SentOffer) error {
	ttl := o.ExpiresAt().Sub(r.now())
	if ttl <= 0 {
		return ErrExpired
	}
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key(o.SqueakHash, o.PeerAddress.Host), data, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, hash squeak.Hash, peerHost string) error {
	return r.client.Del(ctx, key(hash, peerHost)).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
