package memory

import (
	"context"
	"strings"
)

// NewStore picks a backend from configuration: postgres when a database URL
// is set, redis when only a redis URL is set, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, redisURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(redisURL) != "" {
		return NewRedisStore(ctx, redisURL)
	}
	return NewInMemoryStore(), nil
}
