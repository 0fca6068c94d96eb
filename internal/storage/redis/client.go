package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session cache TTL 10 minutes (DB stays authoritative, cache only cuts
// lookups); message rate limit 30 sends / 10 seconds per user.
const (
	SessionCacheTTL  = 600
	MessageRateWin   = 10
	MessageRateLimit = 30
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// CacheSession stores session:{id} -> userID for SessionCacheTTL. The DB row
// is the source of truth; logout deletes the key explicitly.
func (c *Client) CacheSession(ctx context.Context, sessionID string, userID int64) error {
	return c.cli.Set(ctx, "session:"+sessionID, userID, SessionCacheTTL*time.Second).Err()
}

// GetSession returns (0, false, nil) on a cache miss.
func (c *Client) GetSession(ctx context.Context, sessionID string) (int64, bool, error) {
	val, err := c.cli.Get(ctx, "session:"+sessionID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.cli.Del(ctx, "session:"+sessionID).Err()
}

// CheckMessageRate counts sends in msg_limit:{userID}: at most MessageRateLimit
// per window. Above the limit the caller answers HTTP 429.
func (c *Client) CheckMessageRate(ctx context.Context, userID int64) (bool, error) {
	key := fmt.Sprintf("msg_limit:%d", userID)
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, MessageRateWin*time.Second)
	}
	return n <= int64(MessageRateLimit), nil
}

// FlushDB clears the current Redis DB (session cache and rate counters on
// tests/restart).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
