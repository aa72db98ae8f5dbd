package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrSessionNotFound is returned when a session row does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is one persisted play session. Protagonist and State are
// stored as jsonb; the engine state is an opaque snapshot owned by the
// service layer.
type SessionRecord struct {
	ID          uuid.UUID `db:"id"`
	Protagonist []byte    `db:"protagonist"`
	State       []byte    `db:"state"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// FeedbackEvent is one applied choice, recorded so the story tree can be
// grown from what players actually pick.
type FeedbackEvent struct {
	ID         int64     `db:"id"`
	SessionID  uuid.UUID `db:"session_id"`
	NodeID     string    `db:"node_id"`
	ChoiceID   int       `db:"choice_id"`
	ChoiceText string    `db:"choice_text"`
	CreatedAt  time.Time `db:"created_at"`
}

// SessionRepository provides access to session and feedback rows.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates the repository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, rec *SessionRecord) error {
	query := `
		INSERT INTO sessions (id, protagonist, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`
	now := time.Now()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if _, err := r.pool.Exec(ctx, query, rec.ID, rec.Protagonist, rec.State, now); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	log.Debug().Str("sessionID", rec.ID.String()).Msg("session row created")
	return nil
}

// SaveState overwrites the stored engine snapshot for a session.
func (r *SessionRepository) SaveState(ctx context.Context, id uuid.UUID, state []byte) error {
	query := `UPDATE sessions SET state = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, state, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Get returns a session row by id.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*SessionRecord, error) {
	query := `SELECT id, protagonist, state, created_at, updated_at FROM sessions WHERE id = $1`

	var rec SessionRecord
	if err := pgxscan.Get(ctx, r.pool, &rec, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return &rec, nil
}

// AppendFeedback records one applied choice.
func (r *SessionRepository) AppendFeedback(ctx context.Context, ev FeedbackEvent) error {
	query := `
		INSERT INTO feedback_events (session_id, node_id, choice_id, choice_text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, query, ev.SessionID, ev.NodeID, ev.ChoiceID, ev.ChoiceText, time.Now()); err != nil {
		return fmt.Errorf("failed to insert feedback event: %w", err)
	}
	return nil
}

// ListFeedback returns the feedback trail of a session in chronological
// order.
func (r *SessionRepository) ListFeedback(ctx context.Context, sessionID uuid.UUID) ([]FeedbackEvent, error) {
	query := `
		SELECT id, session_id, node_id, choice_id, choice_text, created_at
		FROM feedback_events
		WHERE session_id = $1
		ORDER BY id
	`
	var events []FeedbackEvent
	if err := pgxscan.Select(ctx, r.pool, &events, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list feedback events: %w", err)
	}
	return events, nil
}
