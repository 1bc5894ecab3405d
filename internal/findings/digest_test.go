package findings

import (
	"fmt"
	"strings"
	"testing"
)

func TestBatchContext_Empty(t *testing.T) {
	var acc Accumulator
	if got := acc.BatchContext(); got != "" {
		t.Errorf("empty accumulator should render no context, got %q", got)
	}
}

func TestBatchContext_RecentEventsOnly(t *testing.T) {
	var acc Accumulator
	for i := 0; i < recentEventsInContext+5; i++ {
		acc.TimelineEvents = append(acc.TimelineEvents, TimelineEvent{
			Date:        fmt.Sprintf("1987-03-%02d", i+1),
			Description: fmt.Sprintf("event %d", i),
		})
	}

	ctx := acc.BatchContext()
	if strings.Contains(ctx, "event 0") {
		t.Error("oldest event should be dropped from batch context")
	}
	if !strings.Contains(ctx, fmt.Sprintf("event %d", recentEventsInContext+4)) {
		t.Error("newest event should appear in batch context")
	}
}

func TestBatchContext_PersonsAndConflicts(t *testing.T) {
	var acc Accumulator
	acc.Persons = []PersonMention{
		{Name: "John Doe", Role: "suspect", Aliases: []string{"Johnny"}, MentionCount: 4},
	}
	acc.Conflicts = []Conflict{{Description: "alibi contradicts phone records"}}

	ctx := acc.BatchContext()
	for _, want := range []string{"John Doe", "suspect", "Johnny", "4 time(s)", "alibi contradicts phone records"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("batch context missing %q:\n%s", want, ctx)
		}
	}
}

func TestDigest_IncludesAllSections(t *testing.T) {
	var acc Accumulator
	acc.Add(&BatchFindings{
		TimelineEvents: []TimelineEvent{{Date: "1987-03-01", Description: "Body discovered", Source: "report.pdf"}},
		Persons:        []PersonMention{{Name: "John Doe", MentionCount: 2, SuspicionScore: 0.6}},
		Conflicts:      []Conflict{{Description: "conflicting timestamps", Parties: []string{"John Doe"}}},
		Tips:           []Tip{{Summary: "re-interview the neighbor", Priority: "high"}},
		Insights:       []string{"attack was not random"},
		Suspects:       []SuspectNote{{Name: "John Doe", RiskScore: 0.6, Reasoning: "no alibi"}},
	})

	digest := acc.Digest()
	for _, want := range []string{
		"Timeline events:", "Body discovered", "[report.pdf]",
		"Persons:", "suspicion: 0.60",
		"Conflicts:", "conflicting timestamps",
		"Tips:", "[high]",
		"Insights:", "attack was not random",
		"Suspects:", "risk 0.60", "no alibi",
	} {
		if !strings.Contains(digest, want) {
			t.Errorf("digest missing %q", want)
		}
	}
}
