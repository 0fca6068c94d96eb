package memory

import (
	"context"
	"sync"
	"time"
)

const (
	sessionCacheTTL  = 600 * time.Second
	messageRateWin   = 10 * time.Second
	messageRateLimit = 30
)

type item struct {
	userID int64
	exp    time.Time
}

// Client is the in-process stand-in for the Redis session cache, used by the
// -dev mode so the service runs without external stores.
type Client struct {
	mu       sync.RWMutex
	sessions map[string]item
	sends    map[int64][]time.Time
}

func New() *Client {
	return &Client{
		sessions: make(map[string]item),
		sends:    make(map[int64][]time.Time),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) CacheSession(ctx context.Context, sessionID string, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = item{userID: userID, exp: time.Now().Add(sessionCacheTTL)}
	return nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (int64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.sessions[sessionID]
	if !ok || time.Now().After(v.exp) {
		return 0, false, nil
	}
	return v.userID, true, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}

func (c *Client) CheckMessageRate(ctx context.Context, userID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	cut := now.Add(-messageRateWin)
	var kept []time.Time
	for _, t := range c.sends[userID] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= messageRateLimit {
		c.sends[userID] = kept
		return false, nil
	}
	c.sends[userID] = append(kept, now)
	return true, nil
}
