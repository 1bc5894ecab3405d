package findings

import (
	"fmt"
	"strings"
)

// recentEventsInContext is how many of the most recent timeline events are
// carried into the next batch's prompt context.
const recentEventsInContext = 10

// BatchContext renders accumulated findings as a short natural-language
// summary given to the next analysis batch for continuity. The gateway is
// a text-completion service, so this is text, not structured data.
func (a *Accumulator) BatchContext() string {
	if a.Empty() {
		return ""
	}

	var b strings.Builder
	b.WriteString("Findings so far from earlier document batches:\n")

	if len(a.TimelineEvents) > 0 {
		events := a.TimelineEvents
		if len(events) > recentEventsInContext {
			events = events[len(events)-recentEventsInContext:]
		}
		b.WriteString("\nRecent timeline events:\n")
		for _, e := range events {
			fmt.Fprintf(&b, "- %s: %s\n", e.Date, e.Description)
		}
	}

	if len(a.Persons) > 0 {
		b.WriteString("\nKnown persons:\n")
		for _, p := range a.Persons {
			line := p.Name
			if p.Role != "" {
				line += " (" + p.Role + ")"
			}
			if len(p.Aliases) > 0 {
				line += ", aka " + strings.Join(p.Aliases, ", ")
			}
			fmt.Fprintf(&b, "- %s, mentioned %d time(s)\n", line, p.MentionCount)
		}
	}

	if len(a.Conflicts) > 0 {
		b.WriteString("\nKnown conflicts:\n")
		for _, c := range a.Conflicts {
			fmt.Fprintf(&b, "- %s\n", c.Description)
		}
	}

	return b.String()
}

// Digest renders the complete accumulated findings as text for the
// consolidation call.
func (a *Accumulator) Digest() string {
	var b strings.Builder
	b.WriteString("Accumulated findings across all document batches:\n")

	if len(a.TimelineEvents) > 0 {
		b.WriteString("\nTimeline events:\n")
		for _, e := range a.TimelineEvents {
			fmt.Fprintf(&b, "- %s: %s", e.Date, e.Description)
			if e.Source != "" {
				fmt.Fprintf(&b, " [%s]", e.Source)
			}
			b.WriteString("\n")
		}
	}

	if len(a.Persons) > 0 {
		b.WriteString("\nPersons:\n")
		for _, p := range a.Persons {
			fmt.Fprintf(&b, "- %s", p.Name)
			if len(p.Aliases) > 0 {
				fmt.Fprintf(&b, " (aka %s)", strings.Join(p.Aliases, ", "))
			}
			if p.Role != "" {
				fmt.Fprintf(&b, ", role: %s", p.Role)
			}
			fmt.Fprintf(&b, ", mentions: %d", p.MentionCount)
			if p.SuspicionScore > 0 {
				fmt.Fprintf(&b, ", suspicion: %.2f", p.SuspicionScore)
			}
			b.WriteString("\n")
		}
	}

	if len(a.Conflicts) > 0 {
		b.WriteString("\nConflicts:\n")
		for _, c := range a.Conflicts {
			fmt.Fprintf(&b, "- %s", c.Description)
			if len(c.Parties) > 0 {
				fmt.Fprintf(&b, " (parties: %s)", strings.Join(c.Parties, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(a.Tips) > 0 {
		b.WriteString("\nTips:\n")
		for _, tip := range a.Tips {
			fmt.Fprintf(&b, "- %s", tip.Summary)
			if tip.Priority != "" {
				fmt.Fprintf(&b, " [%s]", tip.Priority)
			}
			b.WriteString("\n")
		}
	}

	if len(a.Insights) > 0 {
		b.WriteString("\nInsights:\n")
		for _, ins := range a.Insights {
			fmt.Fprintf(&b, "- %s\n", ins)
		}
	}

	if len(a.Suspects) > 0 {
		b.WriteString("\nSuspects:\n")
		for _, s := range a.Suspects {
			fmt.Fprintf(&b, "- %s, risk %.2f", s.Name, s.RiskScore)
			if s.Reasoning != "" {
				fmt.Fprintf(&b, ": %s", s.Reasoning)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
