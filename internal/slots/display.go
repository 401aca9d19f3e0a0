package slots

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
)

// Layout tags which display format was rendered, so rep recovery can use a
// typed lookup instead of guessing from the text.
const (
	LayoutSingleRep   = "single"
	LayoutAbbreviated = "abbreviated"
	LayoutGrouped     = "grouped"
)

var letters = []string{"A", "B", "C"}

// Render produces the human-readable availability string injected into the
// voice agent, plus the layout tag. The format is a stable contract: the
// media bridge parses the agent's chosen slot against it to recover the
// rep id.
//
//   - 1 rep: per-date lines, then a trailing "Sales Rep: <id>".
//   - 2–3 reps: times suffixed (A)/(B)/(C) with a trailing legend.
//   - 4+ reps: grouped per rep, each rep header followed by its dates.
func Render(list []Slot, repIDs []string) (string, string) {
	if len(list) == 0 {
		return "", LayoutSingleRep
	}
	switch {
	case len(repIDs) <= 1:
		var b strings.Builder
		writeDateLines(&b, list, nil)
		rep := ""
		if len(repIDs) == 1 {
			rep = repIDs[0]
		} else {
			rep = list[0].RepID
		}
		fmt.Fprintf(&b, "\nSales Rep: %s", rep)
		return b.String(), LayoutSingleRep

	case len(repIDs) <= 3:
		letterFor := make(map[string]string, len(repIDs))
		for i, id := range repIDs {
			letterFor[id] = letters[i]
		}
		var b strings.Builder
		writeDateLines(&b, list, letterFor)
		b.WriteString("\n")
		for i, id := range repIDs {
			fmt.Fprintf(&b, "(%s) = %s\n", letters[i], id)
		}
		return strings.TrimRight(b.String(), "\n"), LayoutAbbreviated

	default:
		byRep := make(map[string][]Slot)
		for _, s := range list {
			byRep[s.RepID] = append(byRep[s.RepID], s)
		}
		var b strings.Builder
		for _, id := range repIDs {
			own := byRep[id]
			if len(own) == 0 {
				continue
			}
			fmt.Fprintf(&b, "Sales Rep: %s\n", id)
			writeDateLines(&b, own, nil)
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), LayoutGrouped
	}
}

// RenderTimes produces date lines without any rep annotation, for surfaces
// where rep recovery is not needed (the inbound agent).
func RenderTimes(list []Slot) string {
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	writeDateLines(&b, list, nil)
	return strings.TrimRight(b.String(), "\n")
}

// writeDateLines renders "Lunedì 17-03-2025: 10:00, 11:30" lines in
// Europe/Rome civil time, preserving chronological order.
func writeDateLines(b *strings.Builder, list []Slot, letterFor map[string]string) {
	var (
		currentDate string
		first       bool
	)
	for _, s := range list {
		local := s.Time.In(timeutil.Rome())
		date := local.Format("02-01-2006")
		if date != currentDate {
			if currentDate != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(b, "%s %s:", timeutil.ItalianWeekday(s.Time), date)
			currentDate = date
			first = true
		}
		if first {
			b.WriteString(" ")
			first = false
		} else {
			b.WriteString(", ")
		}
		b.WriteString(local.Format("15:04"))
		if letterFor != nil {
			fmt.Fprintf(b, " (%s)", letterFor[s.RepID])
		}
	}
	b.WriteString("\n")
}

var (
	letterSuffixRe = regexp.MustCompile(`\(([A-Z])\)`)
	legendRe       = regexp.MustCompile(`\(([A-Z])\) = (\S+)`)
	trailerRe      = regexp.MustCompile(`Sales Rep: (\S+)\s*$`)
	timeTokenRe    = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
)

// ResolveRep recovers the rep id for a time the agent chose out of the
// rendered string. The layout tag drives a typed lookup; when it is absent
// (older rows) every strategy is tried in order. Returns "" when the rep
// cannot be determined, never a wrong rep.
func ResolveRep(displayText, layout, chosen string) string {
	// Letter suffix in the chosen time wins regardless of layout.
	if m := letterSuffixRe.FindStringSubmatch(chosen); m != nil {
		for _, lm := range legendRe.FindAllStringSubmatch(displayText, -1) {
			if lm[1] == m[1] {
				return lm[2]
			}
		}
	}

	if layout == LayoutSingleRep || layout == "" {
		if m := trailerRe.FindStringSubmatch(displayText); m != nil {
			return m[1]
		}
	}

	if layout == LayoutGrouped || layout == "" {
		if rep := resolveGrouped(displayText, chosen); rep != "" {
			return rep
		}
	}
	return ""
}

var dateTokenRe = regexp.MustCompile(`\b\d{2}-\d{2}-\d{4}\b`)

// resolveGrouped scans the rep-grouped format for the section whose date
// lines contain the chosen time. When the chosen string carries a date the
// line must match both, so a shared time on another rep's day cannot
// resolve to the wrong rep.
func resolveGrouped(displayText, chosen string) string {
	timeToken := timeTokenRe.FindString(chosen)
	if timeToken == "" {
		return ""
	}
	dateToken := dateTokenRe.FindString(chosen)

	var currentRep string
	for _, line := range strings.Split(displayText, "\n") {
		if strings.HasPrefix(line, "Sales Rep: ") {
			currentRep = strings.TrimSpace(strings.TrimPrefix(line, "Sales Rep: "))
			continue
		}
		if currentRep == "" || !strings.Contains(line, timeToken) {
			continue
		}
		if dateToken != "" && !strings.Contains(line, dateToken) {
			continue
		}
		return currentRep
	}
	return ""
}
