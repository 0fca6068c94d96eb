package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/hezronokwach/soshi/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerExpiry(t *testing.T) {
	tr := NewTracker()
	tr.TTL = 50 * time.Millisecond
	defer tr.Close()

	tr.Apply(ws.Typing(peer, self, true))
	assert.True(t, tr.IsTyping(peer))

	// Without a follow-up signal the indicator clears on its own.
	assert.Eventually(t, func() bool { return !tr.IsTyping(peer) }, time.Second, 10*time.Millisecond)
}

func TestTrackerReArm(t *testing.T) {
	tr := NewTracker()
	tr.TTL = 80 * time.Millisecond
	defer tr.Close()

	tr.Apply(ws.Typing(peer, self, true))
	time.Sleep(50 * time.Millisecond)
	tr.Apply(ws.Typing(peer, self, true))
	time.Sleep(50 * time.Millisecond)

	// 100ms after the first signal but only 50ms after the second: the timer
	// was re-armed, not stacked.
	assert.True(t, tr.IsTyping(peer))
	assert.Eventually(t, func() bool { return !tr.IsTyping(peer) }, time.Second, 10*time.Millisecond)
}

func TestTrackerExplicitStop(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	tr.Apply(ws.Typing(peer, self, true))
	tr.Apply(ws.Typing(peer, self, false))
	assert.False(t, tr.IsTyping(peer))
}

func TestTrackerOnlineStatus(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	assert.False(t, tr.IsOnline(peer))
	tr.ApplyStatus(ws.UserStatus(peer, true))
	assert.True(t, tr.IsOnline(peer))
	tr.ApplyStatus(ws.UserStatus(peer, false))
	assert.False(t, tr.IsOnline(peer))
}

type typingCall struct {
	recipientID int64
	typing      bool
}

type fakeTypingSender struct {
	mu    sync.Mutex
	calls []typingCall
}

func (f *fakeTypingSender) SendTyping(userID, recipientID int64, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, typingCall{recipientID: recipientID, typing: typing})
	return nil
}

func (f *fakeTypingSender) snapshot() []typingCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]typingCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func TestTypistDebounce(t *testing.T) {
	sender := &fakeTypingSender{}
	ty := NewTypist(sender, self, peer)
	ty.Idle = 60 * time.Millisecond

	// Burst of keystrokes: exactly one true goes out.
	ty.Keystroke()
	ty.Keystroke()
	ty.Keystroke()
	calls := sender.snapshot()
	require.Equal(t, 1, len(calls))
	assert.True(t, calls[0].typing)
	assert.Equal(t, peer, calls[0].recipientID)

	// After the idle window the stop signal follows.
	require.Eventually(t, func() bool { return len(sender.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	assert.False(t, sender.snapshot()[1].typing)

	// Typing again starts a fresh true.
	ty.Keystroke()
	calls = sender.snapshot()
	require.Equal(t, 3, len(calls))
	assert.True(t, calls[2].typing)
}

func TestTypistStopOnSubmit(t *testing.T) {
	sender := &fakeTypingSender{}
	ty := NewTypist(sender, self, peer)
	ty.Idle = time.Minute

	ty.Keystroke()
	ty.Stop()

	calls := sender.snapshot()
	require.Equal(t, 2, len(calls))
	assert.True(t, calls[0].typing)
	assert.False(t, calls[1].typing)

	// Stop without activity is a no-op.
	ty.Stop()
	assert.Equal(t, 2, len(sender.snapshot()))
}
