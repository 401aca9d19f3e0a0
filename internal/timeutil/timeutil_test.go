package timeutil

import (
	"testing"
	"time"
)

func TestItalianToUTCWinter(t *testing.T) {
	got, err := ItalianToUTC("15-01-2026", "10:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("ItalianToUTC = %v, want %v", got, want)
	}
}

func TestItalianToUTCSummer(t *testing.T) {
	got, err := ItalianToUTC("15-07-2026", "10:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 7, 15, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("ItalianToUTC = %v, want %v", got, want)
	}
}

func TestUTCToItalianRoundTrip(t *testing.T) {
	utc, err := ItalianToUTC("03-06-2026", "18:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dmy, hm := UTCToItalian(utc)
	if dmy != "03-06-2026" || hm != "18:30" {
		t.Fatalf("round trip gave %s %s", dmy, hm)
	}
}

func TestParseFlexibleDateTime(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"17-03-2025 10:00", false},
		{"2025-03-17 10:00", false},
		{"  17-03-2025 10:00  ", false},
		{"17/03/2025 10:00", true},
		{"not a date", true},
	}
	var first time.Time
	for _, tt := range tests {
		got, err := ParseFlexibleDateTime(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFlexibleDateTime(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFlexibleDateTime(%q): %v", tt.in, err)
			continue
		}
		if first.IsZero() {
			first = got
		} else if !got.Equal(first) {
			t.Errorf("ParseFlexibleDateTime(%q) = %v, want %v", tt.in, got, first)
		}
	}
}

func TestNextItalianTime(t *testing.T) {
	// 11:00 in Rome (winter): 09:00 today has passed, expect tomorrow.
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	got := NextItalianTime(now, 9, 0)
	want := time.Date(2026, 1, 16, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextItalianTime = %v, want %v", got, want)
	}

	// 07:00 in Rome: 09:00 is still ahead today.
	now = time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)
	got = NextItalianTime(now, 9, 0)
	want = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextItalianTime = %v, want %v", got, want)
	}
}

func TestIsOperatingHours(t *testing.T) {
	tests := []struct {
		hour int
		want bool
	}{
		{7, false},
		{8, true},
		{13, true},
		{19, true},
		{20, false},
		{23, false},
	}
	for _, tt := range tests {
		at := time.Date(2026, 1, 15, tt.hour, 30, 0, 0, Rome())
		if got := IsOperatingHours(at); got != tt.want {
			t.Errorf("IsOperatingHours(%02d:30) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestIsWithinItalianBusiness(t *testing.T) {
	tests := []struct {
		hour int
		want bool
	}{
		{8, false},
		{9, true},
		{19, true},
		{20, false},
	}
	for _, tt := range tests {
		at := time.Date(2026, 1, 15, tt.hour, 30, 0, 0, Rome())
		if got := IsWithinItalianBusiness(at); got != tt.want {
			t.Errorf("IsWithinItalianBusiness(%02d:30) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestNextValidWorkdaySkipsWeekend(t *testing.T) {
	// Friday 16 Jan 2026 + 1 day lands on Saturday, expect Monday.
	friday := time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)
	got := NextValidWorkday(friday)
	if got.Weekday() != time.Monday {
		t.Fatalf("NextValidWorkday(%v) = %v (%s), want Monday", friday, got, got.Weekday())
	}
}

func TestItalianWeekday(t *testing.T) {
	// 15 Jan 2026 is a Thursday.
	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	if got := ItalianWeekday(at); got != "Giovedì" {
		t.Fatalf("ItalianWeekday = %q", got)
	}
}

func TestNowItalianStamp(t *testing.T) {
	at := time.Date(2026, 1, 15, 11, 4, 0, 0, time.UTC)
	if got := NowItalianStamp(at); got != "Giovedì 15-01-2026 12:04" {
		t.Fatalf("NowItalianStamp = %q", got)
	}
}
