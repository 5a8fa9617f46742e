package snapshot

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

type RedisPersister struct {
	client *redis.Client
	prefix string
}

func NewRedisPersister(addr string, password string, db int, prefix string) *RedisPersister {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})

	return &RedisPersister{client: client, prefix: prefix}
}

func (p *RedisPersister) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPersister) Close() error {
	return p.client.Close()
}

// Save overwrites the blob for key. Blobs do not expire.
func (p *RedisPersister) Save(ctx context.Context, key string, payload []byte) error {
	return p.client.Set(ctx, p.prefix+key, payload, 0).Err()
}

func (p *RedisPersister) Load(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}
