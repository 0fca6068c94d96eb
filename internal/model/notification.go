package model

import "time"

type NotificationType string

const (
	NotificationMessageRequest NotificationType = "message_request"
	NotificationGroupAdded     NotificationType = "group_added"
	NotificationSystem         NotificationType = "system"
)

type Notification struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	Type      NotificationType `json:"type"`
	Content   string           `json:"content"`
	ActorID   int64            `json:"actor_id,omitempty"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}
