package callqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CallRecord is one placed call, keyed by the telephony-assigned sid.
// Records are never deleted; they are the audit trail.
type CallRecord struct {
	CallSid               string
	To                    string
	ContactID             string
	RetryCount            int
	Status                string
	CreatedAt             time.Time
	SignedURL             string
	FullName              string
	FirstName             string
	Email                 string
	AnsweredBy            string
	AvailableSlots        string
	SlotLayout            string
	ConversationID        string
	FirstAttemptTimestamp time.Time
	Service               string
	RetryScheduled        bool
	Province              string
	StreamSid             string
	TranscriptSummary     string

	// Abrupt-ending retry context. A non-empty OriginalConversationID marks
	// the attempt as a resume of a dropped conversation.
	PastCallSummary        string
	OriginalConversationID string
}

// CallStore persists call records.
type CallStore struct {
	db *sql.DB
}

// NewCallStore wraps the shared database handle.
func NewCallStore(db *sql.DB) *CallStore {
	return &CallStore{db: db}
}

// Create inserts the record. The worker calls this immediately after the
// telephony API returns a sid, before any status callback can arrive.
func (s *CallStore) Create(ctx context.Context, r *CallRecord) error {
	if r.Status == "" {
		r.Status = "initiated"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (
			call_sid, to_number, contact_id, retry_count, status, signed_url,
			full_name, first_name, email, available_slots, slot_layout,
			first_attempt_timestamp, service, province,
			past_call_summary, original_conversation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CallSid, r.To, r.ContactID, r.RetryCount, r.Status, r.SignedURL,
		r.FullName, r.FirstName, r.Email, r.AvailableSlots, r.SlotLayout,
		nullTime(r.FirstAttemptTimestamp), r.Service, nullString(r.Province),
		r.PastCallSummary, r.OriginalConversationID,
	)
	if err != nil {
		return fmt.Errorf("calls: create %s: %w", r.CallSid, err)
	}
	return nil
}

// Get loads one record by sid.
func (s *CallStore) Get(ctx context.Context, callSid string) (*CallRecord, error) {
	var (
		r            CallRecord
		province     sql.NullString
		firstAttempt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT call_sid, to_number, contact_id, retry_count, status, created_at,
			signed_url, full_name, first_name, email, answered_by,
			available_slots, slot_layout, conversation_id,
			first_attempt_timestamp, service, retry_scheduled, province,
			stream_sid, transcript_summary, past_call_summary,
			original_conversation_id
		FROM calls WHERE call_sid = ?`, callSid,
	).Scan(
		&r.CallSid, &r.To, &r.ContactID, &r.RetryCount, &r.Status, &r.CreatedAt,
		&r.SignedURL, &r.FullName, &r.FirstName, &r.Email, &r.AnsweredBy,
		&r.AvailableSlots, &r.SlotLayout, &r.ConversationID,
		&firstAttempt, &r.Service, &r.RetryScheduled, &province,
		&r.StreamSid, &r.TranscriptSummary, &r.PastCallSummary,
		&r.OriginalConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("calls: get %s: %w", callSid, err)
	}
	r.Province = province.String
	r.FirstAttemptTimestamp = firstAttempt.Time
	return &r, nil
}

// UpdateStatus records a status callback. An empty answeredBy leaves the
// stored value untouched, since machine-detection callbacks can arrive on
// a separate event from the status change.
func (s *CallStore) UpdateStatus(ctx context.Context, callSid, status, answeredBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calls SET status = ?,
			answered_by = CASE WHEN ? = '' THEN answered_by ELSE ? END
		WHERE call_sid = ?`,
		status, answeredBy, answeredBy, callSid)
	if err != nil {
		return fmt.Errorf("calls: update status %s: %w", callSid, err)
	}
	return nil
}

// SetConversationID persists the voice-AI conversation id once the bridge
// receives the initiation metadata.
func (s *CallStore) SetConversationID(ctx context.Context, callSid, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET conversation_id = ? WHERE call_sid = ?`, conversationID, callSid)
	if err != nil {
		return fmt.Errorf("calls: set conversation id %s: %w", callSid, err)
	}
	return nil
}

// SetStreamSid records the telephony media-stream id for the call.
func (s *CallStore) SetStreamSid(ctx context.Context, callSid, streamSid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET stream_sid = ? WHERE call_sid = ?`, streamSid, callSid)
	if err != nil {
		return fmt.Errorf("calls: set stream sid %s: %w", callSid, err)
	}
	return nil
}

// SetTranscriptSummary stores the post-call summary and final status.
func (s *CallStore) SetTranscriptSummary(ctx context.Context, callSid, status, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET status = ?, transcript_summary = ? WHERE call_sid = ?`,
		status, summary, callSid)
	if err != nil {
		return fmt.Errorf("calls: set transcript summary %s: %w", callSid, err)
	}
	return nil
}

// TrySetRetryScheduled sets the one-way retry latch. It returns true only
// for the first caller; duplicate status callbacks observe false and must
// become no-ops.
func (s *CallStore) TrySetRetryScheduled(ctx context.Context, callSid string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calls SET retry_scheduled = 1 WHERE call_sid = ? AND retry_scheduled = 0`,
		callSid)
	if err != nil {
		return false, fmt.Errorf("calls: set retry latch %s: %w", callSid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("calls: retry latch rows %s: %w", callSid, err)
	}
	return n == 1, nil
}

// FindByConversationID resolves the record owning a voice-AI conversation.
func (s *CallStore) FindByConversationID(ctx context.Context, conversationID string) (*CallRecord, error) {
	var sid string
	err := s.db.QueryRowContext(ctx,
		`SELECT call_sid FROM calls WHERE conversation_id = ?`, conversationID).Scan(&sid)
	if err != nil {
		return nil, fmt.Errorf("calls: find by conversation %s: %w", conversationID, err)
	}
	return s.Get(ctx, sid)
}

// LatestProvinceForContact returns the most recent known province for a
// contact, used by the follow-up sweeper's derivation chain.
func (s *CallStore) LatestProvinceForContact(ctx context.Context, contactID string) (string, error) {
	var province sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT province FROM calls
		WHERE contact_id = ? AND province IS NOT NULL AND province != ''
		ORDER BY created_at DESC LIMIT 1`, contactID).Scan(&province)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("calls: latest province %s: %w", contactID, err)
	}
	return province.String, nil
}
