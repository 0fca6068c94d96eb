package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hezronokwach/soshi/internal/logger"
)

// PresenceStore persists a user's online flag. Implemented by the user
// repository; faked in tests.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID int64, online bool) error
}

// GroupMembers lists the member ids of a group for fan-out.
type GroupMembers interface {
	MemberIDs(ctx context.Context, groupID int64) ([]int64, error)
}

// PushNotifier sends push notifications. If nil, pushes are disabled.
type PushNotifier interface {
	Notify(ctx context.Context, userID int64, title, body string, data map[string]string)
}

// Hub owns every live WebSocket connection, keyed by user id. A user may hold
// several sockets (multiple tabs); presence flips online on the first socket
// and offline on the last.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]map[*Client]struct{}
	total    int
	maxConns int

	presence PresenceStore
	groups   GroupMembers
	push     PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(presence PresenceStore, groups GroupMembers, maxConns int, push PushNotifier) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		maxConns:   maxConns,
		presence:   presence,
		groups:     groups,
		push:       push,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[int64]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%d", h.maxConns, c.userID)
		c.Close()
		return
	}
	firstSocket := false
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
		firstSocket = true
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	if firstSocket {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, true); err != nil {
			logger.Errorf("ws set online user=%d: %v", c.userID, err)
		}
		h.broadcastAll(UserStatus(c.userID, true), c.userID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastSocket := len(clients) == 0
	if lastSocket {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastSocket {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%d: %v", c.userID, err)
		}
		h.broadcastAll(UserStatus(c.userID, false), c.userID)
	}
}

// HandleFrame dispatches one inbound client frame. Only typing indicators are
// client-initiated over the socket; message sends go through HTTP and come
// back as envelopes. Unknown or malformed frames are dropped.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	env, err := Decode(raw)
	if err != nil {
		if !errors.Is(err, ErrUnknownType) {
			logger.Errorf("ws bad frame user=%d: %v", c.userID, err)
		}
		return
	}
	switch env.Type {
	case EventTyping:
		h.handleTyping(c, env)
	default:
		// Clients have no business sending anything else; ignore.
	}
}

func (h *Hub) handleTyping(c *Client, env Envelope) {
	if env.RecipientID == 0 || env.RecipientID == c.userID {
		return
	}
	// The sender id is taken from the authenticated connection, never from
	// the frame.
	h.SendToUser(env.RecipientID, Typing(c.userID, env.RecipientID, *env.IsTyping))
}

// BroadcastToGroup sends an envelope to every member of a group.
func (h *Hub) BroadcastToGroup(ctx context.Context, groupID int64, env Envelope) {
	defer logger.DeferLogDuration("ws.BroadcastToGroup", time.Now())()
	memberIDs, err := h.groups.MemberIDs(ctx, groupID)
	if err != nil {
		logger.Errorf("ws broadcast to group %d: %v", groupID, err)
		return
	}
	for _, uid := range memberIDs {
		h.SendToUser(uid, env)
	}
}

// broadcastAll fans out to every connected user except skipID. Used for
// presence changes; recipients without a matching conversation no-op on it.
func (h *Hub) broadcastAll(env Envelope, skipID int64) {
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for uid, clients := range h.clients {
		if uid == skipID {
			continue
		}
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, env)
	}
}

// SendToUser delivers an envelope to every socket the user has open.
func (h *Hub) SendToUser(userID int64, env Envelope) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, env)
	}
}

// IsOnline reports whether the user has at least one open socket.
func (h *Hub) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Push sends a push notification to an offline recipient, if configured.
func (h *Hub) Push(ctx context.Context, userID int64, title, body string, data map[string]string) {
	if h.push == nil {
		return
	}
	go h.push.Notify(ctx, userID, title, body, data)
}

func (h *Hub) sendToClient(c *Client, env Envelope) {
	select {
	case c.send <- env:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%d", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
