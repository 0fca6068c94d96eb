package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists a 1:1 message; id and created_at come back from the server
// so the broadcast envelope carries the authoritative values.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (sender_id, recipient_id, content, is_read, created_at)
		 VALUES ($1, $2, $3, false, NOW())
		 RETURNING id, created_at`,
		m.SenderID, m.RecipientID, m.Content,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// GetConversation returns the latest page of a 1:1 thread in ascending
// created_at order, ready for display.
func (r *MessageRepository) GetConversation(ctx context.Context, userID, peerID int64, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, sender_id, recipient_id, content, is_read, created_at FROM (
			SELECT m.id, m.sender_id, m.recipient_id, m.content, m.is_read, m.created_at
			FROM messages m
			WHERE (m.sender_id = $1 AND m.recipient_id = $2)
			   OR (m.sender_id = $2 AND m.recipient_id = $1)
			ORDER BY m.created_at DESC
			LIMIT $3 OFFSET $4
		 ) page ORDER BY created_at ASC`,
		userID, peerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversation query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.GetConversation scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetConversation rows: %w", err)
	}
	return messages, nil
}

// MarkAsRead flags everything the peer sent to the user as read.
func (r *MessageRepository) MarkAsRead(ctx context.Context, userID, peerID int64) error {
	defer logger.DeferLogDuration("msg.MarkAsRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE recipient_id = $1 AND sender_id = $2 AND is_read = false`,
		userID, peerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkAsRead: %w", err)
	}
	return nil
}

// UnreadCount returns the user's total unread 1:1 messages (chat badge).
func (r *MessageRepository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	defer logger.DeferLogDuration("msg.UnreadCount", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE recipient_id = $1 AND is_read = false`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.UnreadCount: %w", err)
	}
	return n, nil
}

// Conversations builds the user's 1:1 conversation list: one row per peer
// with profile, last-message preview, per-peer unread count and the request
// flag (no accepted contact row yet).
func (r *MessageRepository) Conversations(ctx context.Context, userID int64) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("msg.Conversations", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT t.peer_id, u.username, u.nickname, u.avatar_url, u.is_online,
		        t.content, t.created_at,
		        (SELECT COUNT(*) FROM messages um
		          WHERE um.sender_id = t.peer_id AND um.recipient_id = $1 AND um.is_read = false),
		        COALESCE((SELECT NOT c.accepted FROM contacts c
		          WHERE c.user_id = $1 AND c.peer_id = t.peer_id), true)
		 FROM (
			SELECT peer_id, content, created_at FROM (
				SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS peer_id,
				       content, created_at,
				       ROW_NUMBER() OVER (
				         PARTITION BY CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END
				         ORDER BY created_at DESC) AS rn
				FROM messages
				WHERE sender_id = $1 OR recipient_id = $1
			) latest WHERE rn = 1
		 ) t
		 JOIN users u ON u.id = t.peer_id
		 ORDER BY t.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Conversations query: %w", err)
	}
	defer rows.Close()

	var list []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.UserID, &c.Username, &c.Nickname, &c.AvatarURL, &c.IsOnline,
			&c.LastMessage, &c.LastMessageTime, &c.UnreadCount, &c.IsRequest); err != nil {
			return nil, fmt.Errorf("msgRepo.Conversations scan: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Conversations rows: %w", err)
	}
	return list, nil
}
