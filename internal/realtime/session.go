package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/model"
	"github.com/hezronokwach/soshi/internal/ws"
)

const historyPageSize = 50

// Session ties the realtime pieces of one authenticated user together: it
// owns the Manager and fans every inbound envelope out to whichever reducers
// consume its type. User actions (open, send, type) flow the other way:
// optimistic local mutation first, then the outbound request. Create it on
// login, Logout() tears everything down.
type Session struct {
	selfID int64
	api    API
	mgr    *Manager

	Conversations *ConversationList
	Presence      *Tracker
	Badge         *BadgeCounter

	// OnNotification, when set, receives notification envelopes for toast
	// display. The badge itself stays poll-driven.
	OnNotification func(model.Notification)

	mu     sync.Mutex
	thread *Thread
	typist *Typist
}

func NewSession(selfID int64, api API, dialer Dialer) *Session {
	s := &Session{
		selfID:        selfID,
		api:           api,
		mgr:           NewManager(dialer),
		Conversations: NewConversationList(selfID),
		Presence:      NewTracker(),
		Badge:         NewBadgeCounter(api),
	}
	return s
}

// Manager exposes the connection manager (probe tooling, reconnect tuning).
func (s *Session) Manager() *Manager { return s.mgr }

// Start loads the initial conversation list, starts the badge poller and
// opens the realtime connection.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Conversations.LoadInitial(ctx, s.api); err != nil {
		return err
	}
	s.Badge.Start(ctx)
	return s.mgr.Connect(s.dispatch)
}

// dispatch routes one inbound envelope to the interested reducers, per type
// and addressing fields. Runs on the manager's read goroutine, so reducers
// observe envelopes in arrival order.
func (s *Session) dispatch(env ws.Envelope) {
	switch env.Type {
	case ws.EventPrivateMessage:
		s.Conversations.ApplyMessage(env)
		if th := s.activeThread(); th != nil {
			th.Apply(env)
		}
	case ws.EventGroupMessage:
		if th := s.activeThread(); th != nil {
			th.Apply(env)
		}
	case ws.EventTyping:
		s.Presence.Apply(env)
	case ws.EventUserStatus:
		s.Conversations.ApplyPresence(env)
		s.Presence.ApplyStatus(env)
	case ws.EventNotification:
		if s.OnNotification != nil && env.Notification != nil {
			s.OnNotification(*env.Notification)
		}
	}
}

func (s *Session) activeThread() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}

// OpenConversation selects a 1:1 conversation: loads history, then clears the
// unread counter optimistically and tells the server to mark it read (failure
// only logged, the optimistic clear stands), and makes the thread the active
// one. A failed history load leaves nothing selected and nothing marked read.
// Typing state for the previously open conversation is cleared.
func (s *Session) OpenConversation(ctx context.Context, peerID int64) (*Thread, error) {
	s.closeActiveLocked()

	th := NewThread(s.selfID, peerID)
	history, err := s.api.Messages(ctx, peerID, historyPageSize, 0)
	if err != nil {
		return nil, err
	}
	th.SetHistory(history)

	s.Conversations.Select(peerID)
	if err := s.api.MarkRead(ctx, peerID); err != nil {
		logger.Errorf("mark read peer=%d: %v", peerID, err)
	}

	s.mu.Lock()
	s.thread = th
	s.typist = NewTypist(s.mgr, s.selfID, peerID)
	s.mu.Unlock()
	return th, nil
}

// OpenGroup makes a group thread the active one. Group chat reuses the same
// reconciliation logic addressed by group id; typing indicators are 1:1 only.
func (s *Session) OpenGroup(ctx context.Context, groupID int64) (*Thread, error) {
	s.closeActiveLocked()

	th := NewGroupThread(s.selfID, groupID)
	history, err := s.api.GroupMessages(ctx, groupID, historyPageSize, 0)
	if err != nil {
		return nil, err
	}
	th.SetHistory(history)

	s.mu.Lock()
	s.thread = th
	s.typist = nil
	s.mu.Unlock()
	return th, nil
}

// CloseThread leaves the active conversation or group.
func (s *Session) CloseThread() {
	s.closeActiveLocked()
}

// closeActiveLocked tears the active thread down and deselects the open
// conversation, so unread counting resumes for it immediately. Every path that
// leaves a thread (close, switch to another conversation or group, logout)
// goes through here.
func (s *Session) closeActiveLocked() {
	s.mu.Lock()
	th := s.thread
	ty := s.typist
	s.thread = nil
	s.typist = nil
	s.mu.Unlock()

	s.Conversations.Deselect()
	if ty != nil {
		ty.Stop()
	}
	if th != nil && th.PeerID() != 0 {
		s.Presence.Clear(th.PeerID())
	}
}

var ErrNoOpenThread = errors.New("realtime: no open thread")

// Send submits a message from the active thread: a provisional entry is
// appended immediately, the persistence request is issued, and on failure the
// provisional entry is rolled back. The authoritative copy arrives as an
// inbound envelope and replaces the provisional one; nothing in the HTTP
// response is applied to the log.
func (s *Session) Send(ctx context.Context, content string) error {
	s.mu.Lock()
	th := s.thread
	ty := s.typist
	s.mu.Unlock()
	if th == nil {
		return ErrNoOpenThread
	}

	tempID := th.AppendLocal(content)
	if ty != nil {
		ty.Stop()
	}

	var err error
	if groupID := th.GroupID(); groupID != 0 {
		err = s.api.SendGroupMessage(ctx, groupID, content)
	} else {
		s.Conversations.UpdatePreview(th.PeerID(), content, time.Now())
		err = s.api.SendMessage(ctx, th.PeerID(), content)
	}
	if err != nil {
		th.Rollback(tempID)
		return err
	}
	return nil
}

// Keystroke reports composer activity for the open 1:1 conversation.
func (s *Session) Keystroke() {
	s.mu.Lock()
	ty := s.typist
	s.mu.Unlock()
	if ty != nil {
		ty.Keystroke()
	}
}

// StartNewConversation inserts a conversation from the user selector without
// contacting the server.
func (s *Session) StartNewConversation(user model.UserPublic) {
	s.Conversations.StartNew(user)
}

// AcceptRequest accepts a message request from peerID.
func (s *Session) AcceptRequest(ctx context.Context, peerID int64) error {
	if err := s.api.AcceptRequest(ctx, peerID); err != nil {
		return err
	}
	s.Conversations.Accept(peerID)
	return nil
}

// Logout tears the whole realtime layer down: the connection closes for good,
// timers stop, and no reconnect is scheduled. This is the only deliberate
// teardown path.
func (s *Session) Logout() {
	s.closeActiveLocked()
	s.mgr.Close()
	s.Badge.Stop()
	s.Presence.Close()
}
