package findings

import (
	"reflect"
	"sort"
	"strings"
	"testing"
)

func TestMergePerson_NewPerson(t *testing.T) {
	persons := MergePerson(nil, PersonMention{Name: "John Doe", MentionCount: 2})
	if len(persons) != 1 {
		t.Fatalf("expected 1 person, got %d", len(persons))
	}
	if persons[0].Name != "John Doe" || persons[0].MentionCount != 2 {
		t.Errorf("unexpected person: %+v", persons[0])
	}
}

func TestMergePerson_CaseInsensitiveName(t *testing.T) {
	persons := MergePerson(nil, PersonMention{Name: "John Doe", MentionCount: 1, Sources: []string{"a.pdf"}})
	persons = MergePerson(persons, PersonMention{Name: "JOHN DOE", MentionCount: 3, Sources: []string{"a.pdf", "b.pdf"}})

	if len(persons) != 1 {
		t.Fatalf("expected merge into 1 person, got %d", len(persons))
	}
	p := persons[0]
	if p.Name != "John Doe" {
		t.Errorf("first-seen name should be kept, got %q", p.Name)
	}
	if p.MentionCount != 4 {
		t.Errorf("mention counts should sum: got %d, want 4", p.MentionCount)
	}
	if !reflect.DeepEqual(p.Sources, []string{"a.pdf", "b.pdf"}) {
		t.Errorf("sources should union without duplicates: %v", p.Sources)
	}
}

func TestMergePerson_AliasMatch(t *testing.T) {
	persons := MergePerson(nil, PersonMention{Name: "John Doe", Aliases: []string{"Johnny"}, MentionCount: 1})
	persons = MergePerson(persons, PersonMention{Name: "Johnny", MentionCount: 2})

	if len(persons) != 1 {
		t.Fatalf("alias match should merge, got %d persons", len(persons))
	}
	if persons[0].MentionCount != 3 {
		t.Errorf("mention count = %d, want 3", persons[0].MentionCount)
	}
}

func TestMergePerson_DifferingNameBecomesAlias(t *testing.T) {
	persons := MergePerson(nil, PersonMention{Name: "John Doe", Aliases: []string{"J. Doe"}})
	persons = MergePerson(persons, PersonMention{Name: "J. Doe", MentionCount: 1})

	p := persons[0]
	if p.Name != "John Doe" {
		t.Errorf("name = %q, want John Doe", p.Name)
	}
	found := false
	for _, a := range p.Aliases {
		if a == "J. Doe" {
			found = true
		}
	}
	if !found {
		t.Errorf("incoming name should be folded into aliases: %v", p.Aliases)
	}
}

func TestMergePerson_SuspicionTakesMax(t *testing.T) {
	persons := MergePerson(nil, PersonMention{Name: "X", SuspicionScore: 0.9})
	persons = MergePerson(persons, PersonMention{Name: "X", SuspicionScore: 0.2})

	if got := persons[0].SuspicionScore; got != 0.9 {
		t.Errorf("suspicion score = %v, want max 0.9 (not averaged)", got)
	}

	persons = MergePerson(persons, PersonMention{Name: "X", SuspicionScore: 0.95})
	if got := persons[0].SuspicionScore; got != 0.95 {
		t.Errorf("suspicion score = %v, want 0.95", got)
	}
}

func TestMergePerson_RoleOverwrite(t *testing.T) {
	persons := MergePerson(nil, PersonMention{Name: "X", Role: "witness"})
	persons = MergePerson(persons, PersonMention{Name: "X", Role: "unknown"})
	if persons[0].Role != "witness" {
		t.Errorf("unknown role must not overwrite: got %q", persons[0].Role)
	}
	persons = MergePerson(persons, PersonMention{Name: "X", Role: "suspect"})
	if persons[0].Role != "suspect" {
		t.Errorf("known role should overwrite: got %q", persons[0].Role)
	}
}

func TestMergePerson_ContextsCappedPerMerge(t *testing.T) {
	persons := MergePerson(nil, PersonMention{Name: "X"})
	persons = MergePerson(persons, PersonMention{
		Name:     "X",
		Contexts: []string{"c1", "c2", "c3", "c4", "c5"},
	})
	if got := len(persons[0].Contexts); got != maxContextsPerMerge {
		t.Errorf("contexts per merge = %d, want %d", got, maxContextsPerMerge)
	}
}

// Merging the same mentions in a different order must converge on the same
// suspicion score and alias set.
func TestMergePerson_OrderInsensitive(t *testing.T) {
	mentions := []PersonMention{
		{Name: "John Doe", Aliases: []string{"Johnny"}, MentionCount: 1, SuspicionScore: 0.3},
		{Name: "Johnny", MentionCount: 2, SuspicionScore: 0.8},
		{Name: "JOHN DOE", MentionCount: 1, SuspicionScore: 0.5},
	}

	forward := []PersonMention(nil)
	for _, m := range mentions {
		forward = MergePerson(forward, m)
	}
	reversed := []PersonMention(nil)
	for i := len(mentions) - 1; i >= 0; i-- {
		reversed = MergePerson(reversed, mentions[i])
	}

	if len(forward) != 1 || len(reversed) != 1 {
		t.Fatalf("both orders should merge to 1 person: %d vs %d", len(forward), len(reversed))
	}
	if forward[0].SuspicionScore != reversed[0].SuspicionScore {
		t.Errorf("suspicion diverges by order: %v vs %v",
			forward[0].SuspicionScore, reversed[0].SuspicionScore)
	}
	if forward[0].MentionCount != reversed[0].MentionCount {
		t.Errorf("mention count diverges by order: %d vs %d",
			forward[0].MentionCount, reversed[0].MentionCount)
	}
	if !sameAliasSet(forward[0], reversed[0]) {
		t.Errorf("alias sets diverge by order: %v vs %v",
			forward[0].Aliases, reversed[0].Aliases)
	}
}

// sameAliasSet compares name+aliases as one case-folded identity set.
func sameAliasSet(a, b PersonMention) bool {
	fold := func(p PersonMention) []string {
		set := map[string]struct{}{strings.ToLower(p.Name): {}}
		for _, alias := range p.Aliases {
			set[strings.ToLower(alias)] = struct{}{}
		}
		out := make([]string, 0, len(set))
		for k := range set {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	return reflect.DeepEqual(fold(a), fold(b))
}

func TestDedupTimeline(t *testing.T) {
	events := []TimelineEvent{
		{Date: "1987-03-02", Description: "Witness interviewed", Source: "b.pdf"},
		{Date: "1987-03-01", Description: "Body discovered"},
		{Date: "1987-03-02", Description: "Witness interviewed", Source: "c.pdf"},
	}
	out := DedupTimeline(events)

	if len(out) != 2 {
		t.Fatalf("expected 2 events after dedup, got %d", len(out))
	}
	if out[0].Date != "1987-03-01" || out[1].Date != "1987-03-02" {
		t.Errorf("events should sort ascending by date: %+v", out)
	}
	if out[1].Source != "b.pdf" {
		t.Errorf("first occurrence should win: got source %q", out[1].Source)
	}
}

func TestDedupTimeline_LongDescriptionPrefix(t *testing.T) {
	long := strings.Repeat("x", timelineKeyLen)
	events := []TimelineEvent{
		{Date: "1987-03-01", Description: long + " first tail"},
		{Date: "1987-03-01", Description: long + " second tail"},
	}
	if out := DedupTimeline(events); len(out) != 1 {
		t.Errorf("descriptions sharing the key prefix should dedup, got %d", len(out))
	}
}

func TestDedupSuspects(t *testing.T) {
	suspects := []SuspectNote{
		{Name: "John Doe", RiskScore: 0.4, Reasoning: "near the scene"},
		{Name: "jane roe", RiskScore: 0.2},
		{Name: "JOHN DOE", RiskScore: 0.7, Reasoning: "inconsistent alibi"},
	}
	out := DedupSuspects(suspects)

	if len(out) != 2 {
		t.Fatalf("expected 2 suspects, got %d", len(out))
	}
	john := out[0]
	if john.RiskScore != 0.7 {
		t.Errorf("risk score = %v, want max 0.7", john.RiskScore)
	}
	if john.Reasoning != "near the scene; inconsistent alibi" {
		t.Errorf("reasoning = %q", john.Reasoning)
	}
}

func TestAccumulator_AddAndConsolidate(t *testing.T) {
	var acc Accumulator
	if !acc.Empty() {
		t.Fatal("new accumulator should be empty")
	}

	acc.Add(&BatchFindings{
		TimelineEvents: []TimelineEvent{{Date: "1987-03-01", Description: "Body discovered"}},
		Persons:        []PersonMention{{Name: "John Doe", MentionCount: 1}},
		Insights:       []string{"victim knew attacker"},
	})
	acc.Add(&BatchFindings{
		TimelineEvents: []TimelineEvent{{Date: "1987-03-01", Description: "Body discovered"}},
		Persons:        []PersonMention{{Name: "John Doe", MentionCount: 2}},
		Suspects: []SuspectNote{
			{Name: "John Doe", RiskScore: 0.5},
			{Name: "John Doe", RiskScore: 0.8},
		},
	})
	acc.Add(nil) // no-op

	if acc.Empty() {
		t.Fatal("accumulator should not be empty after adds")
	}

	result := acc.Consolidate()
	if len(result.TimelineEvents) != 1 {
		t.Errorf("timeline should dedup: got %d events", len(result.TimelineEvents))
	}
	if len(result.Persons) != 1 || result.Persons[0].MentionCount != 3 {
		t.Errorf("persons should merge: %+v", result.Persons)
	}
	if len(result.Suspects) != 1 || result.Suspects[0].RiskScore != 0.8 {
		t.Errorf("suspects should dedup with max risk: %+v", result.Suspects)
	}
	if len(result.Insights) != 1 {
		t.Errorf("insights should carry through: %v", result.Insights)
	}
}
