package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hezronokwach/soshi/internal/model"
	"github.com/hezronokwach/soshi/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inbound(senderID int64, content string) ws.Envelope {
	return ws.PrivateMessage(&model.Message{
		ID:          time.Now().UnixNano(),
		SenderID:    senderID,
		RecipientID: self,
		Content:     content,
		CreatedAt:   time.Now(),
		Sender:      &model.UserPublic{ID: senderID, Username: "sender", Nickname: "Sender"},
	})
}

func TestConversationListLazyCreate(t *testing.T) {
	l := NewConversationList(self)

	l.ApplyMessage(inbound(peer, "first contact"))

	c, ok := l.Get(peer)
	require.True(t, ok)
	assert.True(t, c.IsRequest, "unknown inbound peer shows as a request")
	assert.Equal(t, "first contact", c.LastMessage)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "sender", c.Username)

	// Lazily created conversations go to the top.
	list := l.Conversations()
	require.NotEmpty(t, list)
	assert.Equal(t, peer, list[0].UserID)
}

func TestConversationListUnreadRules(t *testing.T) {
	l := NewConversationList(self)
	l.StartNew(model.UserPublic{ID: peer, Username: "bob"})

	// Inbound while not selected: increments.
	l.ApplyMessage(inbound(peer, "one"))
	l.ApplyMessage(inbound(peer, "two"))
	c, _ := l.Get(peer)
	assert.Equal(t, 2, c.UnreadCount)

	// Selecting clears immediately, before any server ack.
	l.Select(peer)
	c, _ = l.Get(peer)
	assert.Equal(t, 0, c.UnreadCount)

	// Inbound while selected: stays read.
	l.ApplyMessage(inbound(peer, "three"))
	c, _ = l.Get(peer)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, "three", c.LastMessage)

	// Own echo never counts as unread.
	l.Deselect()
	l.ApplyMessage(ws.PrivateMessage(&model.Message{ID: 99, SenderID: self, RecipientID: peer, Content: "mine", CreatedAt: time.Now()}))
	c, _ = l.Get(peer)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, "mine", c.LastMessage)
}

func TestConversationListPresence(t *testing.T) {
	l := NewConversationList(self)
	l.StartNew(model.UserPublic{ID: peer, Username: "bob"})

	l.ApplyPresence(ws.UserStatus(peer, true))
	c, _ := l.Get(peer)
	assert.True(t, c.IsOnline)

	l.ApplyPresence(ws.UserStatus(peer, false))
	c, _ = l.Get(peer)
	assert.False(t, c.IsOnline)

	// Presence for someone not in the list is a no-op.
	l.ApplyPresence(ws.UserStatus(777, true))
	_, ok := l.Get(777)
	assert.False(t, ok)
}

func TestConversationListStartNewIdempotent(t *testing.T) {
	l := NewConversationList(self)
	l.StartNew(model.UserPublic{ID: peer, Username: "bob"})
	l.StartNew(model.UserPublic{ID: peer, Username: "bob"})
	assert.Equal(t, 1, len(l.Conversations()))
}

func TestConversationListAccept(t *testing.T) {
	l := NewConversationList(self)
	l.ApplyMessage(inbound(peer, "hi"))

	l.Accept(peer)
	c, _ := l.Get(peer)
	assert.False(t, c.IsRequest)
}

type fakeAPI struct {
	mu            sync.Mutex
	conversations []model.Conversation
	counts        UnreadCounts
	countsErr     error
	sendErr       error
	historyErr    error

	sent      []string
	markRead  []int64
	accepted  []int64
	pollCalls int
}

func (f *fakeAPI) Conversations(ctx context.Context) ([]model.Conversation, error) {
	return f.conversations, nil
}
func (f *fakeAPI) Messages(ctx context.Context, peerID int64, limit, offset int) ([]model.Message, error) {
	return nil, f.historyErr
}
func (f *fakeAPI) GroupMessages(ctx context.Context, groupID int64, limit, offset int) ([]model.Message, error) {
	return nil, f.historyErr
}
func (f *fakeAPI) SendMessage(ctx context.Context, recipientID int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return f.sendErr
}
func (f *fakeAPI) SendGroupMessage(ctx context.Context, groupID int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return f.sendErr
}
func (f *fakeAPI) MarkRead(ctx context.Context, peerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markRead = append(f.markRead, peerID)
	return nil
}
func (f *fakeAPI) AcceptRequest(ctx context.Context, peerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, peerID)
	return nil
}
func (f *fakeAPI) UnreadCounts(ctx context.Context) (UnreadCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	return f.counts, f.countsErr
}

func (f *fakeAPI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls
}

func (f *fakeAPI) setCounts(c UnreadCounts, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = c
	f.countsErr = err
}

func TestConversationListLoadInitial(t *testing.T) {
	api := &fakeAPI{conversations: []model.Conversation{
		{UserID: 5, Username: "eve", LastMessage: "yo", UnreadCount: 3},
		{UserID: 6, Username: "mallory", IsRequest: true},
	}}
	l := NewConversationList(self)
	require.NoError(t, l.LoadInitial(context.Background(), api))

	list := l.Conversations()
	require.Equal(t, 2, len(list))
	assert.Equal(t, int64(5), list[0].UserID)
	assert.True(t, list[1].IsRequest)
}
