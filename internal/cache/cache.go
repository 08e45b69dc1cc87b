package cache

import (
	"context"
	"time"
)

// BytesCache is a TTL'd byte-blob cache. Implementations must treat a missing
// key as (nil, false, nil), not an error.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
