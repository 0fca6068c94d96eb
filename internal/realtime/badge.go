package realtime

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hezronokwach/soshi/internal/logger"
)

// DefaultPollInterval is how often the badge counters are refreshed while
// authenticated.
const DefaultPollInterval = 30 * time.Second

// badgeCeiling caps the displayed value; the underlying integer is unbounded.
const badgeCeiling = 99

// BadgeCounter aggregates the unread-notification and unread-message counts
// for global navigation. It is poll-only: envelopes do not decrement it, so
// staleness is bounded by the poll interval.
type BadgeCounter struct {
	// Interval may be set before Start. Zero means DefaultPollInterval.
	Interval time.Duration

	api API

	mu     sync.Mutex
	counts UnreadCounts
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewBadgeCounter(api API) *BadgeCounter {
	return &BadgeCounter{api: api, done: make(chan struct{})}
}

// Start refreshes once, then polls until Stop. Poll failures are logged and
// the previous values stand.
func (b *BadgeCounter) Start(ctx context.Context) {
	b.Refresh(ctx)
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Refresh(ctx)
			}
		}
	}()
}

// Refresh fetches the counters once.
func (b *BadgeCounter) Refresh(ctx context.Context) {
	counts, err := b.api.UnreadCounts(ctx)
	if err != nil {
		logger.Errorf("badge poll: %v", err)
		return
	}
	b.mu.Lock()
	b.counts = counts
	b.mu.Unlock()
}

// Counts returns the current raw counters.
func (b *BadgeCounter) Counts() UnreadCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// NotificationBadge returns the bell-icon display value.
func (b *BadgeCounter) NotificationBadge() string {
	return FormatBadge(b.Counts().Notifications)
}

// MessageBadge returns the chat-icon display value.
func (b *BadgeCounter) MessageBadge() string {
	return FormatBadge(b.Counts().Messages)
}

// Stop terminates the poll loop.
func (b *BadgeCounter) Stop() {
	select {
	case <-b.done:
		return
	default:
	}
	close(b.done)
	b.wg.Wait()
}

// FormatBadge renders a counter for display, capped at "99+". Zero renders
// empty (no badge shown).
func FormatBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > badgeCeiling:
		return strconv.Itoa(badgeCeiling) + "+"
	default:
		return strconv.Itoa(n)
	}
}
