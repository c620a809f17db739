package match

import (
	"fmt"
	"strings"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// Narrative renders a match result as human-readable text for the explain
// endpoint. The wording mirrors the factor reasons so the narrative and the
// breakdown never disagree.
func Narrative(m models.MatchResult, programTitle string) string {
	var b strings.Builder

	if !m.GatePassed {
		fmt.Fprintf(&b, "Not eligible for %q.\n", programTitle)
		for _, reason := range m.BlockedReasons {
			fmt.Fprintf(&b, "- Blocked: %s\n", reason)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "Scored %d/100 for %q.\n", m.Score, programTitle)
	for _, f := range m.FactorBreakdown {
		fmt.Fprintf(&b, "- %s: %d/%d (%s)\n", f.Label, f.Points, f.MaxPoints, f.Reason)
	}
	for _, w := range m.WarningReasons {
		fmt.Fprintf(&b, "- Note: %s\n", w)
	}
	return b.String()
}
