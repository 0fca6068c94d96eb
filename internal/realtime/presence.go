package realtime

import (
	"sync"
	"time"

	"github.com/hezronokwach/soshi/internal/ws"
)

const (
	// DefaultTypingTTL clears a displayed typing indicator when no follow-up
	// signal arrives, so a dropped "stopped typing" frame cannot leave the
	// indicator stuck.
	DefaultTypingTTL = 3 * time.Second

	// DefaultTypingIdle is the keystroke silence after which the outbound
	// "stopped typing" signal is sent.
	DefaultTypingIdle = 2 * time.Second
)

// Tracker holds the ephemeral inbound presence state: who is typing (time
// boxed) and who is online. One Tracker serves the whole session.
type Tracker struct {
	// TTL may be set before the first Apply. Zero means DefaultTypingTTL.
	TTL time.Duration

	mu     sync.Mutex
	typing map[int64]*time.Timer
	online map[int64]bool
	closed bool
}

func NewTracker() *Tracker {
	return &Tracker{
		typing: make(map[int64]*time.Timer),
		online: make(map[int64]bool),
	}
}

// Apply folds a typing_indicator envelope in: true arms (or re-arms, never
// stacks) the expiry timer for that user; false clears immediately.
func (t *Tracker) Apply(env ws.Envelope) {
	if env.Type != ws.EventTyping || env.IsTyping == nil {
		return
	}
	if *env.IsTyping {
		t.setTyping(env.UserID)
	} else {
		t.clearTyping(env.UserID)
	}
}

func (t *Tracker) setTyping(userID int64) {
	ttl := t.TTL
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if timer, ok := t.typing[userID]; ok {
		timer.Reset(ttl)
		return
	}
	t.typing[userID] = time.AfterFunc(ttl, func() {
		t.clearTyping(userID)
	})
}

func (t *Tracker) clearTyping(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.typing[userID]; ok {
		timer.Stop()
		delete(t.typing, userID)
	}
}

// IsTyping reports whether the user's typing indicator is currently shown.
func (t *Tracker) IsTyping(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[userID]
	return ok
}

// Clear drops the typing state for one user, used when the active
// conversation switches away.
func (t *Tracker) Clear(userID int64) {
	t.clearTyping(userID)
}

// ApplyStatus folds a user_online_status envelope into the online map.
func (t *Tracker) ApplyStatus(env ws.Envelope) {
	if env.Type != ws.EventUserStatus || env.IsOnline == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[env.UserID] = *env.IsOnline
}

// IsOnline reports the last known online flag for a user.
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// Close stops all timers. The tracker is unusable afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, timer := range t.typing {
		timer.Stop()
		delete(t.typing, id)
	}
}

// TypingSender writes outbound typing frames; satisfied by Manager.
type TypingSender interface {
	SendTyping(userID, recipientID int64, typing bool) error
}

// Typist drives the outbound typing signal for one open conversation: the
// first keystroke sends is_typing=true, further keystrokes are debounced, and
// after two seconds of silence (or on submit) is_typing=false goes out. It is
// the sole writer of outbound typing frames for its conversation.
type Typist struct {
	// Idle may be set before the first Keystroke. Zero means DefaultTypingIdle.
	Idle time.Duration

	sender      TypingSender
	selfID      int64
	recipientID int64

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

func NewTypist(sender TypingSender, selfID, recipientID int64) *Typist {
	return &Typist{sender: sender, selfID: selfID, recipientID: recipientID}
}

// Keystroke registers composer activity. Send errors are ignored: typing
// signals are ephemeral and the indicator self-expires on the peer.
func (ty *Typist) Keystroke() {
	idle := ty.Idle
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	ty.mu.Lock()
	defer ty.mu.Unlock()
	if !ty.active {
		ty.active = true
		_ = ty.sender.SendTyping(ty.selfID, ty.recipientID, true)
		ty.timer = time.AfterFunc(idle, ty.idleExpired)
		return
	}
	ty.timer.Reset(idle)
}

func (ty *Typist) idleExpired() {
	ty.mu.Lock()
	defer ty.mu.Unlock()
	if !ty.active {
		return
	}
	ty.active = false
	_ = ty.sender.SendTyping(ty.selfID, ty.recipientID, false)
}

// Stop sends the stop signal immediately; called on submit and on
// conversation switch.
func (ty *Typist) Stop() {
	ty.mu.Lock()
	defer ty.mu.Unlock()
	if !ty.active {
		return
	}
	ty.active = false
	if ty.timer != nil {
		ty.timer.Stop()
	}
	_ = ty.sender.SendTyping(ty.selfID, ty.recipientID, false)
}
