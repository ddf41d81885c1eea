// Package contextbuilder assembles the two-block prompt the rest of the
// system hands to an LLM call: a stable observation-log prefix (Block 1)
// that stays byte-identical across calls so provider prompt caching can
// bill it once, followed by the rolling session messages (Block 2).
//
// Grounded in the teacher's pkg/context/assembler.go strings.Builder
// assembly shape, replacing its RAG/ledger lookups with the observation
// log this system owns.
package contextbuilder

import (
	"fmt"
	"strings"
	"time"

	"github.com/vaultmind/core/pkg/observationlog"
)

// Message is one rolling session message for Block 2.
type Message struct {
	Role    string
	Content string
}

// Build renders Block 1 (observations, stable for a fixed today and
// observation set) followed by Block 2 (session messages). Block 1's
// bytes are a pure function of observations and today — calling Build
// twice with the same observations and today, but different messages,
// yields identical Block 1 bytes (spec.md §4.6 prefix stability).
func Build(observations []observationlog.Observation, today time.Time, messages []Message) string {
	var b strings.Builder
	b.WriteString(Block1(observations, today))
	b.WriteString(Block2(messages))
	return b.String()
}

// Block1 renders just the stable observation-log section.
func Block1(observations []observationlog.Observation, today time.Time) string {
	var b strings.Builder
	b.WriteString("<observation_log>\n")
	for _, o := range observations {
		fmt.Fprintf(&b, "  %s", priorityEmoji(o.Priority))
		if o.Trust == observationlog.TrustExternal {
			b.WriteString(" [EXT]")
		}
		fmt.Fprintf(&b, " observed_on:%s event_date:%s relative:%s\n",
			observationlog.FormatDate(o.ObservedOn), observationlog.FormatDate(o.EventDate), Relative(today, o.EventDate))
		b.WriteString("  ")
		b.WriteString(o.Body)
		b.WriteString("\n\n")
	}
	b.WriteString("</observation_log>\n")
	return b.String()
}

// Block2 renders the rolling per-session message region.
func Block2(messages []Message) string {
	var b strings.Builder
	b.WriteString("<session>\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "  %s: %s\n", m.Role, m.Content)
	}
	b.WriteString("</session>\n")
	return b.String()
}

func priorityEmoji(p observationlog.Priority) string {
	switch p {
	case observationlog.PriorityRed:
		return "🔴"
	case observationlog.PriorityYellow:
		return "🟡"
	default:
		return "🟢"
	}
}

// Relative computes the human-readable date bucket for eventDate relative
// to today (spec.md §4.6): 0_days_ago, 1_day_ago, N_days_ago, N_weeks_ago
// (N≥2), N_months_ago (N≥2), N_years_ago. Never stored — always derived
// at render time.
func Relative(today, eventDate time.Time) string {
	today = truncateToDay(today)
	eventDate = truncateToDay(eventDate)

	days := int(today.Sub(eventDate).Hours() / 24)
	if days < 0 {
		days = 0
	}

	switch {
	case days == 0:
		return "0_days_ago"
	case days == 1:
		return "1_day_ago"
	case days < 14:
		return fmt.Sprintf("%d_days_ago", days)
	case days < 60:
		weeks := days / 7
		return fmt.Sprintf("%d_weeks_ago", weeks)
	case days < 730:
		months := days / 30
		if months < 2 {
			months = 2
		}
		return fmt.Sprintf("%d_months_ago", months)
	default:
		years := days / 365
		if years < 1 {
			years = 1
		}
		return fmt.Sprintf("%d_years_ago", years)
	}
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
