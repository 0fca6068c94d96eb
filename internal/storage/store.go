package storage

import "context"

// SessionCacheStore caches session lookups and tracks per-user message rate.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type SessionCacheStore interface {
	CacheSession(ctx context.Context, sessionID string, userID int64) error
	GetSession(ctx context.Context, sessionID string) (userID int64, ok bool, err error)
	DeleteSession(ctx context.Context, sessionID string) error
	CheckMessageRate(ctx context.Context, userID int64) (allowed bool, err error)
	Close() error
}
