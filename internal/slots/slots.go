// Package slots fetches and normalizes CRM calendar availability and owns
// the display-string contract the voice agent's chosen time is parsed
// against.
package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// Slot is one bookable {instant, rep} pair.
type Slot struct {
	Time  time.Time
	RepID string
}

// ErrAPI marks an upstream CRM failure, as opposed to a genuinely empty
// calendar. Intake treats the two very differently (§ fatal path).
var ErrAPI = errors.New("slots: calendar api error")

// Fetcher is the CRM free-slots call.
type Fetcher interface {
	FreeSlots(ctx context.Context, startUTC, endUTC time.Time, userIDs []string) (json.RawMessage, error)
}

// Service normalizes CRM availability into bounded, chronologically sorted
// slot lists with a deterministic rep per slot.
type Service struct {
	crm    Fetcher
	logger *logging.Logger
}

// NewService creates a slot service over the CRM client.
func NewService(crm Fetcher, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{crm: crm, logger: logger}
}

// Fetch returns up to limit chronological slots inside the window for the
// given reps. A nil, nil return means the calendar is genuinely empty;
// ErrAPI wraps upstream failures.
func (s *Service) Fetch(ctx context.Context, startUTC, endUTC time.Time, repIDs []string, limit int) ([]Slot, error) {
	raw, err := s.crm.FreeSlots(ctx, startUTC, endUTC, repIDs)
	if err != nil {
		s.logger.Error("free-slots fetch failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}

	times, err := normalize(raw)
	if err != nil {
		s.logger.Error("free-slots response unrecognized", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	if len(times) == 0 {
		return nil, nil
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	if limit > 0 && len(times) > limit {
		times = times[:limit]
	}

	// The CRM response carries no per-slot rep identity; round-robin the
	// requested rep set so booking can resolve a deterministic rep later.
	out := make([]Slot, len(times))
	for i, t := range times {
		slot := Slot{Time: t}
		if len(repIDs) > 0 {
			slot.RepID = repIDs[i%len(repIDs)]
		}
		out[i] = slot
	}
	return out, nil
}

var dateKeyRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// normalize accepts every response shape the CRM has been seen to produce:
// a {YYYY-MM-DD: {slots:[iso…]}} map, {freeSlots:[…]}, {slots:[…]}, or a
// bare array of ISO strings.
func normalize(raw json.RawMessage) ([]time.Time, error) {
	var bare []string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return parseTimes(bare)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("neither array nor object: %w", err)
	}

	for _, key := range []string{"freeSlots", "slots"} {
		if inner, ok := obj[key]; ok {
			var list []string
			if err := json.Unmarshal(inner, &list); err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			return parseTimes(list)
		}
	}

	var all []string
	for key, inner := range obj {
		if !dateKeyRe.MatchString(key) {
			continue
		}
		var day struct {
			Slots []string `json:"slots"`
		}
		if err := json.Unmarshal(inner, &day); err != nil {
			return nil, fmt.Errorf("date key %s: %w", key, err)
		}
		all = append(all, day.Slots...)
	}
	return parseTimes(all)
}

func parseTimes(list []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(list))
	for _, s := range list {
		t, err := parseISO(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t.UTC())
	}
	return out, nil
}

func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable slot time %q", s)
}
