// Package timeutil centralizes Italian civil-time arithmetic. Everything
// persisted or compared by the orchestrator is UTC; Europe/Rome only appears
// at the boundaries (parsing operator input, rendering slots, business-hours
// gates).
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

var rome *time.Location

func init() {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		panic(fmt.Sprintf("timeutil: load Europe/Rome: %v", err))
	}
	rome = loc
}

// Rome returns the Europe/Rome location.
func Rome() *time.Location {
	return rome
}

// ItalianToUTC converts a civil wall-clock pair ("DD-MM-YYYY", "HH:mm")
// interpreted in Europe/Rome to the corresponding UTC instant. DST is
// handled by the location database.
func ItalianToUTC(dmy, hm string) (time.Time, error) {
	t, err := time.ParseInLocation("02-01-2006 15:04", dmy+" "+hm, rome)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid italian datetime %q %q: %w", dmy, hm, err)
	}
	return t.UTC(), nil
}

// UTCToItalian renders a UTC instant as the ("DD-MM-YYYY", "HH:mm") civil
// pair in Europe/Rome.
func UTCToItalian(t time.Time) (string, string) {
	local := t.In(rome)
	return local.Format("02-01-2006"), local.Format("15:04")
}

// ParseFlexibleDateTime accepts "DD-MM-YYYY HH:mm" or "YYYY-MM-DD HH:mm"
// (Europe/Rome civil time) and returns the UTC instant.
func ParseFlexibleDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"02-01-2006 15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, rome); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q: want DD-MM-YYYY HH:mm or YYYY-MM-DD HH:mm", s)
}

// IsOperatingHours reports whether the instant falls inside the 08:00-20:00
// Europe/Rome window in which outbound activity is allowed.
func IsOperatingHours(now time.Time) bool {
	h := now.In(rome).Hour()
	return h >= 8 && h < 20
}

// IsWithinItalianBusiness reports whether the instant falls inside the
// 09:00-20:00 Europe/Rome appointment window.
func IsWithinItalianBusiness(t time.Time) bool {
	h := t.In(rome).Hour()
	return h >= 9 && h < 20
}

// NextValidWorkday adds one calendar day and then skips Saturdays and
// Sundays. Weekend detection is UTC-based, which can drift by a day near
// midnight in Rome; downstream retry times depend on this behavior, so it
// stays as an approximation.
func NextValidWorkday(d time.Time) time.Time {
	next := d.AddDate(0, 0, 1)
	for next.UTC().Weekday() == time.Saturday || next.UTC().Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextItalianTime returns the next UTC instant at which the Europe/Rome
// wall clock reads hour:min, strictly after now.
func NextItalianTime(now time.Time, hour, min int) time.Time {
	local := now.In(rome)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, min, 0, 0, rome)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate.UTC()
}

var italianWeekdays = map[time.Weekday]string{
	time.Monday:    "Lunedì",
	time.Tuesday:   "Martedì",
	time.Wednesday: "Mercoledì",
	time.Thursday:  "Giovedì",
	time.Friday:    "Venerdì",
	time.Saturday:  "Sabato",
	time.Sunday:    "Domenica",
}

// ItalianWeekday returns the Italian name for the weekday of t in
// Europe/Rome.
func ItalianWeekday(t time.Time) string {
	return italianWeekdays[t.In(rome).Weekday()]
}

// NowItalianStamp renders the current Italian wall clock for injection into
// the voice agent's context, e.g. "Lunedì 24-08-2026 15:04".
func NowItalianStamp(now time.Time) string {
	local := now.In(rome)
	return fmt.Sprintf("%s %s", italianWeekdays[local.Weekday()], local.Format("02-01-2006 15:04"))
}
