// Package followup persists deferred re-call intents and runs the periodic
// sweep that turns them back into intake submissions.
package followup

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FollowUp is one deferred re-call intent.
type FollowUp struct {
	ID           int64
	ContactID    string
	FollowUpAt   time.Time
	Status       string
	Province     string
	Service      string
	CreatedAt    time.Time
	FailureCount int
	LastError    string
}

// Store persists follow-ups.
type Store struct {
	db *sql.DB
}

// NewStore wraps the shared database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a pending follow-up and returns its id.
func (s *Store) Create(ctx context.Context, f *FollowUp) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO follow_ups (contact_id, follow_up_at, status, province, service)
		VALUES (?, ?, 'pending', ?, ?)`,
		f.ContactID, f.FollowUpAt.UTC(), nullable(f.Province), nullable(f.Service))
	if err != nil {
		return 0, fmt.Errorf("followup: create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("followup: create id: %w", err)
	}
	return id, nil
}

const columns = `id, contact_id, follow_up_at, status, province, service,
	created_at, failure_count, last_error`

// Due returns pending follow-ups whose time has come.
func (s *Store) Due(ctx context.Context, now time.Time) ([]*FollowUp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM follow_ups
		WHERE status = 'pending' AND follow_up_at <= ?
		ORDER BY follow_up_at, id`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("followup: due: %w", err)
	}
	return scan(rows)
}

// Stuck returns entries the sweeper should give up on: pending for more
// than 24h past their due time, or due over an hour ago with at least one
// failed resubmission.
func (s *Store) Stuck(ctx context.Context, now time.Time) ([]*FollowUp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM follow_ups
		WHERE status = 'pending' AND (
			follow_up_at < ? OR
			(follow_up_at < ? AND failure_count > 0)
		)`,
		now.UTC().Add(-24*time.Hour), now.UTC().Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("followup: stuck: %w", err)
	}
	return scan(rows)
}

// Delete removes a follow-up after successful resubmission, permanent
// failure, or stuck cleanup.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM follow_ups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("followup: delete %d: %w", id, err)
	}
	return nil
}

// RecordFailure increments the failure counter so the next sweep can apply
// the stuck-entry rules.
func (s *Store) RecordFailure(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET failure_count = failure_count + 1, last_error = ?
		WHERE id = ?`, msg, id); err != nil {
		return fmt.Errorf("followup: record failure %d: %w", id, err)
	}
	return nil
}

func scan(rows *sql.Rows) ([]*FollowUp, error) {
	defer rows.Close()
	var out []*FollowUp
	for rows.Next() {
		var (
			f                 FollowUp
			province, service sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.ContactID, &f.FollowUpAt, &f.Status,
			&province, &service, &f.CreatedAt, &f.FailureCount, &f.LastError); err != nil {
			return nil, fmt.Errorf("followup: scan: %w", err)
		}
		f.Province = province.String
		f.Service = service.String
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("followup: rows: %w", err)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
