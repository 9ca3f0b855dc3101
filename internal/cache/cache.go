package cache

import (
	"context"
	"fmt"
	"time"
)

// BytesCache is a best-effort key/value cache with expiry.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// PersonKey is where the current person snapshot is cached.
func PersonKey(id int64) string {
	return fmt.Sprintf("person:%d:current", id)
}
