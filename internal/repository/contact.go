package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContactRepository tracks the accepted/request state between message peers.
// A conversation shows as a request until the receiving side accepts (or
// replies, which accepts implicitly).
type ContactRepository struct {
	pool *pgxpool.Pool
}

func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

// Ensure upserts the contact row. accepted=true always wins; an existing
// accepted row is never downgraded back to a request.
func (r *ContactRepository) Ensure(ctx context.Context, userID, peerID int64, accepted bool) error {
	defer logger.DeferLogDuration("contact.Ensure", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO contacts (user_id, peer_id, accepted, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, peer_id) DO UPDATE SET
		   accepted = contacts.accepted OR EXCLUDED.accepted`,
		userID, peerID, accepted,
	)
	if err != nil {
		return fmt.Errorf("contactRepo.Ensure: %w", err)
	}
	return nil
}

// Accept flips a request to accepted. Returns ErrNotFound when no request
// exists.
func (r *ContactRepository) Accept(ctx context.Context, userID, peerID int64) error {
	defer logger.DeferLogDuration("contact.Accept", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE contacts SET accepted = true WHERE user_id = $1 AND peer_id = $2`,
		userID, peerID,
	)
	if err != nil {
		return fmt.Errorf("contactRepo.Accept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsAccepted reports whether userID has an accepted contact row for peerID.
// No row means not accepted.
func (r *ContactRepository) IsAccepted(ctx context.Context, userID, peerID int64) (bool, error) {
	defer logger.DeferLogDuration("contact.IsAccepted", time.Now())()
	var accepted bool
	err := r.pool.QueryRow(ctx,
		`SELECT accepted FROM contacts WHERE user_id = $1 AND peer_id = $2`,
		userID, peerID,
	).Scan(&accepted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("contactRepo.IsAccepted: %w", err)
	}
	return accepted, nil
}
