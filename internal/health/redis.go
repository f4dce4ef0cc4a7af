package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPinger adapts a redis.Cmdable's PING command to the Pinger
// interface — go-redis returns a *StatusCmd rather than a bare error.
type RedisPinger struct {
	Client redis.Cmdable
}

func (r RedisPinger) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
