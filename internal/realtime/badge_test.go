package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBadge(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{-3, ""},
		{1, "1"},
		{42, "42"},
		{99, "99"},
		{100, "99+"},
		{1234, "99+"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBadge(tt.n), "n=%d", tt.n)
	}
}

func TestBadgeCounterRefresh(t *testing.T) {
	api := &fakeAPI{counts: UnreadCounts{Notifications: 2, Messages: 105}}
	b := NewBadgeCounter(api)

	b.Refresh(context.Background())
	assert.Equal(t, UnreadCounts{Notifications: 2, Messages: 105}, b.Counts())
	assert.Equal(t, "2", b.NotificationBadge())
	assert.Equal(t, "99+", b.MessageBadge())
}

func TestBadgeCounterKeepsOldValuesOnError(t *testing.T) {
	api := &fakeAPI{counts: UnreadCounts{Notifications: 1, Messages: 1}}
	b := NewBadgeCounter(api)
	b.Refresh(context.Background())

	api.setCounts(UnreadCounts{}, errors.New("server down"))
	b.Refresh(context.Background())

	assert.Equal(t, UnreadCounts{Notifications: 1, Messages: 1}, b.Counts(), "failed poll leaves previous values")
}

func TestBadgeCounterPolls(t *testing.T) {
	api := &fakeAPI{counts: UnreadCounts{Messages: 7}}
	b := NewBadgeCounter(api)
	b.Interval = 20 * time.Millisecond

	b.Start(context.Background())
	defer b.Stop()

	require.Eventually(t, func() bool { return api.pollCount() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 7, b.Counts().Messages)
}
