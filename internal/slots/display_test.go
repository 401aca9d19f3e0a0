package slots

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slotAt(t *testing.T, iso, rep string) Slot {
	t.Helper()
	at, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		t.Fatalf("bad test time %q: %v", iso, err)
	}
	return Slot{Time: at.UTC(), RepID: rep}
}

func TestRenderSingleRep(t *testing.T) {
	list := []Slot{
		slotAt(t, "2026-01-19T09:00:00Z", "U1"),
		slotAt(t, "2026-01-19T10:30:00Z", "U1"),
		slotAt(t, "2026-01-20T14:00:00Z", "U1"),
	}
	text, layout := Render(list, []string{"U1"})
	assert.Equal(t, LayoutSingleRep, layout)
	// Winter: 09:00 UTC is 10:00 in Rome.
	assert.Contains(t, text, "Lunedì 19-01-2026: 10:00, 11:30")
	assert.Contains(t, text, "Martedì 20-01-2026: 15:00")
	assert.Contains(t, text, "Sales Rep: U1")
}

func TestRenderAbbreviated(t *testing.T) {
	list := []Slot{
		slotAt(t, "2026-01-19T09:00:00Z", "U1"),
		slotAt(t, "2026-01-19T10:30:00Z", "U2"),
	}
	text, layout := Render(list, []string{"U1", "U2"})
	assert.Equal(t, LayoutAbbreviated, layout)
	assert.Contains(t, text, "10:00 (A)")
	assert.Contains(t, text, "11:30 (B)")
	assert.Contains(t, text, "(A) = U1")
	assert.Contains(t, text, "(B) = U2")
}

func TestRenderGrouped(t *testing.T) {
	reps := []string{"U1", "U2", "U3", "U4"}
	list := []Slot{
		slotAt(t, "2026-01-19T09:00:00Z", "U1"),
		slotAt(t, "2026-01-19T10:30:00Z", "U2"),
		slotAt(t, "2026-01-20T09:00:00Z", "U4"),
	}
	text, layout := Render(list, reps)
	assert.Equal(t, LayoutGrouped, layout)
	assert.Contains(t, text, "Sales Rep: U1")
	assert.Contains(t, text, "Sales Rep: U2")
	assert.Contains(t, text, "Sales Rep: U4")
	// U3 has no slots, so no empty section for it.
	assert.Equal(t, 3, strings.Count(text, "Sales Rep: "))
}

func TestRenderEmpty(t *testing.T) {
	text, layout := Render(nil, []string{"U1"})
	assert.Empty(t, text)
	assert.Equal(t, LayoutSingleRep, layout)
}

func TestRenderTimesHasNoRepAnnotation(t *testing.T) {
	list := []Slot{
		slotAt(t, "2026-01-19T09:00:00Z", "U1"),
		slotAt(t, "2026-01-19T10:30:00Z", "U2"),
	}
	text := RenderTimes(list)
	assert.Contains(t, text, "Lunedì 19-01-2026: 10:00, 11:30")
	assert.NotContains(t, text, "Sales Rep")
	assert.NotContains(t, text, "(A)")
}

func TestResolveRepSingle(t *testing.T) {
	list := []Slot{slotAt(t, "2026-01-19T09:00:00Z", "U1")}
	text, layout := Render(list, []string{"U1"})
	assert.Equal(t, "U1", ResolveRep(text, layout, "10:00"))
}

func TestResolveRepLetterSuffix(t *testing.T) {
	list := []Slot{
		slotAt(t, "2026-01-19T09:00:00Z", "U1"),
		slotAt(t, "2026-01-19T10:30:00Z", "U2"),
	}
	text, layout := Render(list, []string{"U1", "U2"})
	assert.Equal(t, "U2", ResolveRep(text, layout, "11:30 (B)"))
	assert.Equal(t, "U1", ResolveRep(text, layout, "Lunedì 19-01-2026 10:00 (A)"))
	// No letter in the chosen time, no guess.
	assert.Empty(t, ResolveRep(text, layout, "11:30"))
}

func TestResolveRepGrouped(t *testing.T) {
	reps := []string{"U1", "U2", "U3", "U4"}
	list := []Slot{
		slotAt(t, "2026-01-19T09:00:00Z", "U1"),
		slotAt(t, "2026-01-20T09:00:00Z", "U2"),
	}
	text, layout := Render(list, reps)
	require.Equal(t, LayoutGrouped, layout)

	// Both reps show 10:00 local, on different days. The date in the
	// chosen string must disambiguate.
	assert.Equal(t, "U1", ResolveRep(text, layout, "19-01-2026 10:00"))
	assert.Equal(t, "U2", ResolveRep(text, layout, "20-01-2026 10:00"))
	// Without a date the first section wins.
	assert.Equal(t, "U1", ResolveRep(text, layout, "10:00"))
}

func TestResolveRepUnknownLayoutTriesEverything(t *testing.T) {
	list := []Slot{slotAt(t, "2026-01-19T09:00:00Z", "U1")}
	text, _ := Render(list, []string{"U1"})
	assert.Equal(t, "U1", ResolveRep(text, "", "10:00"))
}

func TestResolveRepNeverGuesses(t *testing.T) {
	assert.Empty(t, ResolveRep("", LayoutGrouped, "10:00"))
	assert.Empty(t, ResolveRep("garbage", LayoutAbbreviated, "nonsense"))
}
