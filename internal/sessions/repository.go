package sessions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulselive/backend/internal/models"
)

// Repository handles live_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new live session record, live as of now.
func (r *Repository) Create(ctx context.Context, hostHandle, title string) (*models.LiveSession, error) {
	const q = `INSERT INTO live_sessions (id, host_handle, title, is_live, started_at)
		VALUES (gen_random_uuid(), $1, $2, TRUE, NOW())
		RETURNING id, host_handle, title, is_live, started_at, ended_at, created_at`
	var s models.LiveSession
	err := r.pool.QueryRow(ctx, q, hostHandle, title).Scan(
		&s.ID, &s.HostHandle, &s.Title, &s.IsLive, &s.StartedAt, &s.EndedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert live session: %w", err)
	}
	return &s, nil
}

// MarkEnded flips is_live to false and stamps ended_at. Idempotent: an
// already-ended record keeps its original ended_at.
func (r *Repository) MarkEnded(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE live_sessions SET is_live = FALSE, ended_at = NOW()
		WHERE id = $1 AND ended_at IS NULL`
	_, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark session ended: %w", err)
	}
	return nil
}

// ListActive returns live sessions ordered by most-recently-started first.
func (r *Repository) ListActive(ctx context.Context) ([]models.LiveSession, error) {
	const q = `SELECT id, host_handle, title, is_live, started_at, ended_at, created_at
		FROM live_sessions WHERE is_live = TRUE ORDER BY started_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []models.LiveSession
	for rows.Next() {
		var s models.LiveSession
		if err := rows.Scan(&s.ID, &s.HostHandle, &s.Title, &s.IsLive, &s.StartedAt, &s.EndedAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
