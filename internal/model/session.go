package model

import "time"

type Session struct {
	ID         string     `json:"id"`
	UserID     int64      `json:"user_id"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}
