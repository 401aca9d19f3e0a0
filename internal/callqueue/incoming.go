package callqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IncomingCall mirrors CallRecord for inbound calls, keyed on its own sid.
type IncomingCall struct {
	CallSid        string
	FromNumber     string
	Status         string
	CreatedAt      time.Time
	ConversationID string
	StreamSid      string
	AvailableSlots string
}

// IncomingStore persists inbound call records.
type IncomingStore struct {
	db *sql.DB
}

// NewIncomingStore wraps the shared database handle.
func NewIncomingStore(db *sql.DB) *IncomingStore {
	return &IncomingStore{db: db}
}

// Create inserts the record when the incoming-call webhook fires.
func (s *IncomingStore) Create(ctx context.Context, r *IncomingCall) error {
	if r.Status == "" {
		r.Status = "initiated"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incoming_calls (call_sid, from_number, status, available_slots)
		VALUES (?, ?, ?, ?)`,
		r.CallSid, r.FromNumber, r.Status, r.AvailableSlots)
	if err != nil {
		return fmt.Errorf("incoming: create %s: %w", r.CallSid, err)
	}
	return nil
}

// Get loads one record by sid.
func (s *IncomingStore) Get(ctx context.Context, callSid string) (*IncomingCall, error) {
	var r IncomingCall
	err := s.db.QueryRowContext(ctx, `
		SELECT call_sid, from_number, status, created_at, conversation_id, stream_sid, available_slots
		FROM incoming_calls WHERE call_sid = ?`, callSid,
	).Scan(&r.CallSid, &r.FromNumber, &r.Status, &r.CreatedAt,
		&r.ConversationID, &r.StreamSid, &r.AvailableSlots)
	if err != nil {
		return nil, fmt.Errorf("incoming: get %s: %w", callSid, err)
	}
	return &r, nil
}

// UpdateStatus records an inbound status callback.
func (s *IncomingStore) UpdateStatus(ctx context.Context, callSid, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE incoming_calls SET status = ? WHERE call_sid = ?`, status, callSid)
	if err != nil {
		return fmt.Errorf("incoming: update status %s: %w", callSid, err)
	}
	return nil
}

// SetStream records the media-stream id and conversation id as the bridge
// learns them.
func (s *IncomingStore) SetStream(ctx context.Context, callSid, streamSid, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE incoming_calls SET
			stream_sid = CASE WHEN ? = '' THEN stream_sid ELSE ? END,
			conversation_id = CASE WHEN ? = '' THEN conversation_id ELSE ? END
		WHERE call_sid = ?`,
		streamSid, streamSid, conversationID, conversationID, callSid)
	if err != nil {
		return fmt.Errorf("incoming: set stream %s: %w", callSid, err)
	}
	return nil
}
