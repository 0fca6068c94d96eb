package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/hezronokwach/soshi/internal/model"
	"github.com/hezronokwach/soshi/internal/ws"
)

// ConversationList maintains the ordered set of 1:1 conversations with
// last-message preview, unread counters and online flags. It mutates only
// from inbound envelopes and explicit user actions; display order is the
// order of the source fetch, with locally started conversations prepended.
type ConversationList struct {
	mu     sync.Mutex
	selfID int64
	order  []int64
	items  map[int64]*model.Conversation
	active int64
}

func NewConversationList(selfID int64) *ConversationList {
	return &ConversationList{
		selfID: selfID,
		items:  make(map[int64]*model.Conversation),
	}
}

// LoadInitial fetches the conversation list from the persistence collaborator
// and replaces the whole list. One-time per session start, not incremental.
func (l *ConversationList) LoadInitial(ctx context.Context, api API) error {
	list, err := api.Conversations(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = l.order[:0]
	l.items = make(map[int64]*model.Conversation, len(list))
	for i := range list {
		c := list[i]
		l.order = append(l.order, c.UserID)
		l.items[c.UserID] = &c
	}
	return nil
}

// ApplyMessage folds a private_message envelope into the list: the
// conversation is keyed by the other participant; the preview is updated and
// the unread counter incremented iff the message is inbound and the
// conversation is not the open one. A message from a user not yet in the list
// creates the conversation lazily, flagged as a request.
func (l *ConversationList) ApplyMessage(env ws.Envelope) {
	if env.Type != ws.EventPrivateMessage || env.Message == nil {
		return
	}
	m := env.Message
	var peerID int64
	switch {
	case m.SenderID == l.selfID:
		peerID = m.RecipientID
	case m.RecipientID == l.selfID:
		peerID = m.SenderID
	default:
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.items[peerID]
	if !ok {
		c = &model.Conversation{UserID: peerID, IsRequest: true}
		if m.Sender != nil && m.SenderID == peerID {
			c.Username = m.Sender.Username
			c.Nickname = m.Sender.Nickname
			c.AvatarURL = m.Sender.AvatarURL
			c.IsOnline = m.Sender.IsOnline
		}
		l.items[peerID] = c
		l.order = append([]int64{peerID}, l.order...)
	}

	c.LastMessage = m.Content
	c.LastMessageTime = m.CreatedAt
	if m.SenderID != l.selfID && peerID != l.active {
		c.UnreadCount++
	}
}

// Select marks the conversation as the open one and clears its unread counter
// immediately, before any server acknowledgment.
func (l *ConversationList) Select(peerID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = peerID
	if c, ok := l.items[peerID]; ok {
		c.UnreadCount = 0
	}
}

// Deselect clears the open conversation (e.g. navigating away from chat).
func (l *ConversationList) Deselect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = 0
}

// StartNew prepends a conversation for the chosen user if none exists. The
// server is not contacted until the first message is sent.
func (l *ConversationList) StartNew(user model.UserPublic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[user.ID]; ok {
		return
	}
	l.items[user.ID] = &model.Conversation{
		UserID:    user.ID,
		Username:  user.Username,
		Nickname:  user.Nickname,
		AvatarURL: user.AvatarURL,
		IsOnline:  user.IsOnline,
	}
	l.order = append([]int64{user.ID}, l.order...)
}

// ApplyPresence folds a user_online_status envelope into the matching
// conversation; a no-op when the user is not in the list.
func (l *ConversationList) ApplyPresence(env ws.Envelope) {
	if env.Type != ws.EventUserStatus || env.IsOnline == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.items[env.UserID]; ok {
		c.IsOnline = *env.IsOnline
	}
}

// UpdatePreview sets the preview optimistically on an explicit send. The
// authoritative echo envelope overwrites it moments later.
func (l *ConversationList) UpdatePreview(peerID int64, content string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.items[peerID]; ok {
		c.LastMessage = content
		c.LastMessageTime = at
	}
}

// Accept clears the request flag after the user accepts a message request.
func (l *ConversationList) Accept(peerID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.items[peerID]; ok {
		c.IsRequest = false
	}
}

// ActiveID returns the currently open conversation's peer id (0 if none).
func (l *ConversationList) ActiveID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Get returns a copy of one conversation.
func (l *ConversationList) Get(peerID int64) (model.Conversation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.items[peerID]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

// Conversations returns a snapshot in display order.
func (l *ConversationList) Conversations() []model.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Conversation, 0, len(l.order))
	for _, id := range l.order {
		if c, ok := l.items[id]; ok {
			out = append(out, *c)
		}
	}
	return out
}
