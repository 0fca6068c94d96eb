package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// Create persists a group and adds the creator as its first member.
func (r *GroupRepository) Create(ctx context.Context, g *model.Group) error {
	defer logger.DeferLogDuration("group.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("groupRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO groups (name, description, creator_id, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, created_at`,
		g.Name, g.Description, g.CreatorID,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("groupRepo.Create insert: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at)
		 VALUES ($1, $2, 'creator', NOW())`,
		g.ID, g.CreatorID,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.Create member: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *GroupRepository) GetByID(ctx context.Context, id int64) (*model.Group, error) {
	defer logger.DeferLogDuration("group.GetByID", time.Now())()
	g := &model.Group{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, creator_id, created_at FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatorID, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetByID: %w", err)
	}
	return g, nil
}

func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID int64) error {
	defer logger.DeferLogDuration("group.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at)
		 VALUES ($1, $2, 'member', NOW())
		 ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.AddMember: %w", err)
	}
	return nil
}

func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	defer logger.DeferLogDuration("group.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("groupRepo.IsMember: %w", err)
	}
	return exists, nil
}

// MemberIDs lists the group's member ids for envelope fan-out. Satisfies
// ws.GroupMembers.
func (r *GroupRepository) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	defer logger.DeferLogDuration("group.MemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.MemberIDs query: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("groupRepo.MemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByUser returns the groups the user belongs to.
func (r *GroupRepository) ListByUser(ctx context.Context, userID int64) ([]model.Group, error) {
	defer logger.DeferLogDuration("group.ListByUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.name, g.description, g.creator_id, g.created_at
		 FROM groups g
		 JOIN group_members gm ON gm.group_id = g.id AND gm.user_id = $1
		 ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.ListByUser query: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatorID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("groupRepo.ListByUser scan: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CreateMessage persists a group message, returning id and created_at for the
// broadcast envelope.
func (r *GroupRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("group.CreateMessage", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO group_messages (group_id, sender_id, content, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, created_at`,
		m.GroupID, m.SenderID, m.Content,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("groupRepo.CreateMessage: %w", err)
	}
	return nil
}

// GetMessages returns the latest page of a group thread in ascending order.
func (r *GroupRepository) GetMessages(ctx context.Context, groupID int64, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("group.GetMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, group_id, sender_id, content, created_at FROM (
			SELECT gm.id, gm.group_id, gm.sender_id, gm.content, gm.created_at
			FROM group_messages gm
			WHERE gm.group_id = $1
			ORDER BY gm.created_at DESC
			LIMIT $2 OFFSET $3
		 ) page ORDER BY created_at ASC`,
		groupID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("groupRepo.GetMessages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.GetMessages rows: %w", err)
	}
	return messages, nil
}
