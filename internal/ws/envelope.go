package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hezronokwach/soshi/internal/model"
)

type EventType string

const (
	EventPrivateMessage EventType = "private_message"
	EventGroupMessage   EventType = "group_message"
	EventTyping         EventType = "typing_indicator"
	EventUserStatus     EventType = "user_online_status"
	EventNotification   EventType = "notification"
)

// ErrUnknownType marks envelopes whose type tag is not part of the protocol.
// Dispatchers treat it as a forward-compatible no-op, not a failure.
var ErrUnknownType = errors.New("ws: unknown envelope type")

// Envelope is the unit carried over the duplex connection: a tagged union
// multiplexing every realtime message type. Fields are populated per Type;
// an envelope is immutable once decoded.
type Envelope struct {
	Type EventType `json:"type"`

	// private_message, group_message
	Message *model.Message `json:"message,omitempty"`

	// group_message
	GroupID int64 `json:"group_id,omitempty"`

	// typing_indicator, user_online_status
	UserID int64 `json:"user_id,omitempty"`

	// typing_indicator
	RecipientID int64 `json:"recipient_id,omitempty"`
	IsTyping    *bool `json:"is_typing,omitempty"`

	// user_online_status
	IsOnline *bool `json:"is_online,omitempty"`

	// notification (implementation-defined payload for badge/toast display)
	Notification *model.Notification `json:"notification,omitempty"`
}

// Decode parses one wire frame and validates the mandatory field set for its
// type. Unknown types return ErrUnknownType so callers can drop them without
// logging noise; every other error means a malformed frame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("ws: decode frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("ws: frame missing type")
	}
	if err := env.validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validate() error {
	switch e.Type {
	case EventPrivateMessage:
		if e.Message == nil {
			return errors.New("ws: private_message missing message")
		}
		if e.Message.SenderID == 0 || e.Message.RecipientID == 0 {
			return errors.New("ws: private_message missing sender_id/recipient_id")
		}
	case EventGroupMessage:
		if e.Message == nil {
			return errors.New("ws: group_message missing message")
		}
		if e.GroupID == 0 || e.Message.GroupID == 0 || e.Message.SenderID == 0 {
			return errors.New("ws: group_message missing group_id/sender_id")
		}
	case EventTyping:
		if e.UserID == 0 || e.RecipientID == 0 || e.IsTyping == nil {
			return errors.New("ws: typing_indicator missing user_id/recipient_id/is_typing")
		}
	case EventUserStatus:
		if e.UserID == 0 || e.IsOnline == nil {
			return errors.New("ws: user_online_status missing user_id/is_online")
		}
	case EventNotification:
		if e.Notification == nil {
			return errors.New("ws: notification missing payload")
		}
	default:
		return ErrUnknownType
	}
	return nil
}

// PrivateMessage builds the envelope broadcast for a persisted 1:1 message.
func PrivateMessage(m *model.Message) Envelope {
	return Envelope{Type: EventPrivateMessage, Message: m}
}

// GroupMessage builds the envelope broadcast for a persisted group message.
func GroupMessage(m *model.Message) Envelope {
	return Envelope{Type: EventGroupMessage, GroupID: m.GroupID, Message: m}
}

// Typing builds a typing indicator envelope.
func Typing(userID, recipientID int64, typing bool) Envelope {
	return Envelope{Type: EventTyping, UserID: userID, RecipientID: recipientID, IsTyping: &typing}
}

// UserStatus builds an online/offline presence envelope.
func UserStatus(userID int64, online bool) Envelope {
	return Envelope{Type: EventUserStatus, UserID: userID, IsOnline: &online}
}

// Notification builds a notification envelope.
func Notification(n *model.Notification) Envelope {
	return Envelope{Type: EventNotification, Notification: n}
}
