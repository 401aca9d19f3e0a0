// Package callqueue owns the durable call work queue and the call records
// that track every placed call through its lifecycle.
package callqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Queue entry statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
)

// Entry is one unit of outbound-call work.
type Entry struct {
	ID                    int64
	ContactID             string
	PhoneNumber           string
	FirstName             string
	FullName              string
	Email                 string
	Service               string
	Province              string
	RetryStage            int
	Status                string
	ScheduledAt           time.Time
	CreatedAt             time.Time
	LastAttemptAt         time.Time
	LastError             string
	CallOptionsBlob       string
	AvailableSlotsText    string
	SlotLayout            string
	InitialSignedURL      string
	FirstAttemptTimestamp time.Time

	// Abrupt-ending retry context, carried into the next attempt so the
	// agent can resume instead of restarting.
	PastCallSummary        string
	OriginalConversationID string
}

// Store persists queue entries.
type Store struct {
	db *sql.DB
}

// NewStore wraps the shared database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Enqueue inserts a pending entry and returns its id.
func (s *Store) Enqueue(ctx context.Context, e *Entry) (int64, error) {
	if e.Status == "" {
		e.Status = StatusPending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO call_queue (
			contact_id, phone_number, first_name, full_name, email, service,
			province, retry_stage, status, scheduled_at, call_options_blob,
			available_slots_text, slot_layout, initial_signed_url,
			first_attempt_timestamp, past_call_summary, original_conversation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ContactID, e.PhoneNumber, e.FirstName, e.FullName, e.Email, e.Service,
		nullString(e.Province), e.RetryStage, e.Status, e.ScheduledAt.UTC(),
		e.CallOptionsBlob, e.AvailableSlotsText, e.SlotLayout, e.InitialSignedURL,
		nullTime(e.FirstAttemptTimestamp), e.PastCallSummary, e.OriginalConversationID,
	)
	if err != nil {
		return 0, fmt.Errorf("callqueue: enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("callqueue: enqueue id: %w", err)
	}
	return id, nil
}

const entryColumns = `id, contact_id, phone_number, first_name, full_name, email,
	service, province, retry_stage, status, scheduled_at, created_at,
	last_attempt_at, last_error, call_options_blob, available_slots_text,
	slot_layout, initial_signed_url, first_attempt_timestamp,
	past_call_summary, original_conversation_id`

// ClaimDue atomically moves the oldest limit pending entries whose
// scheduled_at has passed into processing, stamping last_attempt_at. The
// two-statement protocol is safe under the single-worker assumption; the
// single writer connection serializes it besides.
func (s *Store) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM call_queue
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at, id
		LIMIT ?`,
		StatusPending, now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("callqueue: claim select: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	claimed := entries[:0]
	for _, e := range entries {
		res, err := s.db.ExecContext(ctx, `
			UPDATE call_queue SET status = ?, last_attempt_at = ?
			WHERE id = ? AND status = ?`,
			StatusProcessing, now.UTC(), e.ID, StatusPending,
		)
		if err != nil {
			return nil, fmt.Errorf("callqueue: claim update %d: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			e.Status = StatusProcessing
			e.LastAttemptAt = now.UTC()
			claimed = append(claimed, e)
		}
	}
	return claimed, nil
}

// Get loads one entry by id.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM call_queue WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("callqueue: get: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sql.ErrNoRows
	}
	return entries[0], nil
}

// Delete removes a completed entry.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM call_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("callqueue: delete %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a placement failure on a processing entry.
func (s *Store) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE call_queue SET status = ?, last_error = ? WHERE id = ?`,
		StatusFailed, msg, id); err != nil {
		return fmt.Errorf("callqueue: mark failed %d: %w", id, err)
	}
	return nil
}

// PendingCount reports the current queue depth for metrics.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_queue WHERE status = ?`, StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("callqueue: pending count: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		var (
			e             Entry
			province      sql.NullString
			lastAttemptAt sql.NullTime
			firstAttempt  sql.NullTime
		)
		if err := rows.Scan(
			&e.ID, &e.ContactID, &e.PhoneNumber, &e.FirstName, &e.FullName, &e.Email,
			&e.Service, &province, &e.RetryStage, &e.Status, &e.ScheduledAt, &e.CreatedAt,
			&lastAttemptAt, &e.LastError, &e.CallOptionsBlob, &e.AvailableSlotsText,
			&e.SlotLayout, &e.InitialSignedURL, &firstAttempt,
			&e.PastCallSummary, &e.OriginalConversationID,
		); err != nil {
			return nil, fmt.Errorf("callqueue: scan: %w", err)
		}
		e.Province = province.String
		e.LastAttemptAt = lastAttemptAt.Time
		e.FirstAttemptTimestamp = firstAttempt.Time
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callqueue: rows: %w", err)
	}
	return out, nil
}

// ErrNotFound aliases sql.ErrNoRows for callers outside the package.
var ErrNotFound = sql.ErrNoRows

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
