package realtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hezronokwach/soshi/internal/model"
	"github.com/hezronokwach/soshi/internal/ws"
)

// timestampGap is the silence between consecutive messages of one sender
// after which a timestamp is shown again.
const timestampGap = 5 * time.Minute

// Message is one entry in an open thread's ordered log. A pending entry
// carries a locally generated TempID until the server-confirmed copy arrives.
type Message struct {
	ID          int64     `json:"id"`
	TempID      string    `json:"temp_id,omitempty"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id,omitempty"`
	GroupID     int64     `json:"group_id,omitempty"`
	Content     string    `json:"content"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
	Pending     bool      `json:"pending,omitempty"`
}

// Thread is the ordered message log of one open conversation or group,
// supporting optimistic local echo. Provisional entries are appended at the
// tail on send, replaced in place on confirmation, and removed on rollback.
// Ordering is created_at ascending as yielded by history plus arrival order.
type Thread struct {
	mu      sync.Mutex
	selfID  int64
	peerID  int64 // 1:1 threads
	groupID int64 // group threads
	msgs    []Message
}

// NewThread creates the log for a 1:1 conversation with peerID.
func NewThread(selfID, peerID int64) *Thread {
	return &Thread{selfID: selfID, peerID: peerID}
}

// NewGroupThread creates the log for a group.
func NewGroupThread(selfID, groupID int64) *Thread {
	return &Thread{selfID: selfID, groupID: groupID}
}

// SetHistory replaces the log with messages fetched over HTTP (ascending
// created_at). Pending entries are preserved at the tail so a history load
// racing an in-flight send does not drop the optimistic echo.
func (t *Thread) SetHistory(history []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending []Message
	for _, m := range t.msgs {
		if m.Pending {
			pending = append(pending, m)
		}
	}
	t.msgs = make([]Message, 0, len(history)+len(pending))
	for _, m := range history {
		t.msgs = append(t.msgs, fromModel(m))
	}
	t.msgs = append(t.msgs, pending...)
}

// tempSeq disambiguates temp ids minted within the same millisecond.
var tempSeq atomic.Int64

// AppendLocal inserts a provisional entry at the tail and returns its temp id.
// At most one provisional entry may be in flight per content: submitting the
// same text again before the first confirmation reuses the outstanding entry.
func (t *Thread) AppendLocal(content string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range t.msgs {
		if m.Pending && m.Content == content {
			return m.TempID
		}
	}

	tempID := fmt.Sprintf("temp-%d-%d", time.Now().UnixMilli(), tempSeq.Add(1))
	t.msgs = append(t.msgs, Message{
		TempID:      tempID,
		SenderID:    t.selfID,
		RecipientID: t.peerID,
		GroupID:     t.groupID,
		Content:     content,
		CreatedAt:   time.Now(),
		Pending:     true,
	})
	return tempID
}

// Apply folds one inbound envelope into the log. Returns true if the log
// changed. Envelopes for other conversations, and redeliveries of an id
// already present, are no-ops. A message from self matching an outstanding
// provisional entry (same sender, same content) replaces it in place; the
// provisional id is locally generated and unknown to the server, so matching
// is content+sender based.
func (t *Thread) Apply(env ws.Envelope) bool {
	m := env.Message
	if m == nil || !t.accepts(env) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Idempotent apply: the same confirmation may be delivered twice.
	for _, existing := range t.msgs {
		if !existing.Pending && existing.ID == m.ID {
			return false
		}
	}

	if m.SenderID == t.selfID {
		for i, existing := range t.msgs {
			if existing.Pending && existing.SenderID == m.SenderID && existing.Content == m.Content {
				t.msgs[i] = fromModel(*m)
				return true
			}
		}
	}

	t.msgs = append(t.msgs, fromModel(*m))
	return true
}

func (t *Thread) accepts(env ws.Envelope) bool {
	m := env.Message
	if t.groupID != 0 {
		return env.Type == ws.EventGroupMessage && env.GroupID == t.groupID && m.GroupID == t.groupID
	}
	if env.Type != ws.EventPrivateMessage {
		return false
	}
	return (m.SenderID == t.selfID && m.RecipientID == t.peerID) ||
		(m.SenderID == t.peerID && m.RecipientID == t.selfID)
}

// Rollback removes a provisional entry after a failed send. A no-op when the
// entry was already confirmed (the envelope can win the race against the
// failing HTTP response).
func (t *Thread) Rollback(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.msgs {
		if m.Pending && m.TempID == tempID {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return
		}
	}
}

// Messages returns a snapshot of the log in display order.
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the current log length.
func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// ShowAvatar reports whether the message at index i starts a sender run.
// Derived from the log on each call, never stored.
func (t *Thread) ShowAvatar(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.msgs) {
		return false
	}
	return i == 0 || t.msgs[i-1].SenderID != t.msgs[i].SenderID
}

// ShowTimestamp reports whether the message at index i ends a sender run or
// is followed by a gap longer than five minutes.
func (t *Thread) ShowTimestamp(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.msgs) {
		return false
	}
	if i == len(t.msgs)-1 {
		return true
	}
	next := t.msgs[i+1]
	return next.SenderID != t.msgs[i].SenderID || next.CreatedAt.Sub(t.msgs[i].CreatedAt) > timestampGap
}

// PeerID returns the 1:1 peer (0 for group threads).
func (t *Thread) PeerID() int64 { return t.peerID }

// GroupID returns the group id (0 for 1:1 threads).
func (t *Thread) GroupID() int64 { return t.groupID }

func fromModel(m model.Message) Message {
	return Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		GroupID:     m.GroupID,
		Content:     m.Content,
		IsRead:      m.IsRead,
		CreatedAt:   m.CreatedAt,
	}
}
