package model

import "time"

// Message is one chat message. A message belongs to exactly one 1:1
// conversation (RecipientID set) or one group (GroupID set), never both.
type Message struct {
	ID          int64       `json:"id"`
	SenderID    int64       `json:"sender_id"`
	RecipientID int64       `json:"recipient_id,omitempty"`
	GroupID     int64       `json:"group_id,omitempty"`
	Content     string      `json:"content"`
	IsRead      bool        `json:"is_read"`
	CreatedAt   time.Time   `json:"created_at"`
	Sender      *UserPublic `json:"sender,omitempty"`
}

// Conversation is one row of a user's 1:1 conversation list: the other
// participant plus preview/unread/online state.
type Conversation struct {
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username"`
	Nickname        string    `json:"nickname"`
	AvatarURL       string    `json:"avatar_url"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int       `json:"unread_count"`
	IsOnline        bool      `json:"is_online"`
	IsRequest       bool      `json:"is_request"`
}
