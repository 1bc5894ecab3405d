package findings

import (
	"sort"
	"strings"
)

// maxContextsPerMerge bounds how many context snippets a single merge can
// contribute, so accumulated persons grow at most linearly in batch count.
const maxContextsPerMerge = 3

// timelineKeyLen is how much of the description participates in dedup.
const timelineKeyLen = 50

// Accumulator collects findings across analysis batches. The merge rules
// are the same whether applied incrementally per batch or in one bulk
// pass at consolidation time.
type Accumulator struct {
	TimelineEvents []TimelineEvent `json:"timeline_events,omitempty"`
	Persons        []PersonMention `json:"persons,omitempty"`
	Conflicts      []Conflict      `json:"conflicts,omitempty"`
	Tips           []Tip           `json:"tips,omitempty"`
	Insights       []string        `json:"insights,omitempty"`
	Suspects       []SuspectNote   `json:"suspects,omitempty"`
}

// Add merges one batch of findings into the accumulator.
// Timeline events, conflicts, tips and insights append; persons merge by
// name or alias; suspects are accumulated as-is and deduplicated later.
func (a *Accumulator) Add(batch *BatchFindings) {
	if batch == nil {
		return
	}
	a.TimelineEvents = append(a.TimelineEvents, batch.TimelineEvents...)
	for i := range batch.Persons {
		a.Persons = MergePerson(a.Persons, batch.Persons[i])
	}
	a.Conflicts = append(a.Conflicts, batch.Conflicts...)
	a.Tips = append(a.Tips, batch.Tips...)
	a.Insights = append(a.Insights, batch.Insights...)
	a.Suspects = append(a.Suspects, batch.Suspects...)
}

// Empty returns true if nothing has been accumulated.
func (a *Accumulator) Empty() bool {
	return len(a.TimelineEvents) == 0 && len(a.Persons) == 0 &&
		len(a.Conflicts) == 0 && len(a.Tips) == 0 &&
		len(a.Insights) == 0 && len(a.Suspects) == 0
}

// Consolidate applies the bulk dedup pass and returns a structurally
// valid analysis. This is the local fallback used when no analysis
// gateway is available for the consolidation step.
func (a *Accumulator) Consolidate() *CaseAnalysis {
	return &CaseAnalysis{
		TimelineEvents: DedupTimeline(a.TimelineEvents),
		Persons:        append([]PersonMention(nil), a.Persons...),
		Conflicts:      append([]Conflict(nil), a.Conflicts...),
		Tips:           append([]Tip(nil), a.Tips...),
		Insights:       append([]string(nil), a.Insights...),
		Suspects:       DedupSuspects(a.Suspects),
	}
}

// samePerson reports whether two mentions refer to the same person: names
// match case-insensitively, or either's alias set contains the other's name.
func samePerson(a, b *PersonMention) bool {
	if strings.EqualFold(a.Name, b.Name) {
		return true
	}
	for _, alias := range a.Aliases {
		if strings.EqualFold(alias, b.Name) {
			return true
		}
	}
	for _, alias := range b.Aliases {
		if strings.EqualFold(alias, a.Name) {
			return true
		}
	}
	return false
}

// MergePerson merges an incoming mention into the list, combining with an
// existing entry when it refers to the same person:
//   - mention counts sum
//   - source lists union without duplicates
//   - context snippets concatenate, capped per merge
//   - suspicion score takes the maximum, never an average, so a single
//     strong signal is not diluted by weaker batches
//   - role is overwritten only by a known incoming role
func MergePerson(persons []PersonMention, incoming PersonMention) []PersonMention {
	for i := range persons {
		if !samePerson(&persons[i], &incoming) {
			continue
		}
		p := &persons[i]

		p.MentionCount += incoming.MentionCount
		p.Sources = unionStrings(p.Sources, incoming.Sources)

		contexts := incoming.Contexts
		if len(contexts) > maxContextsPerMerge {
			contexts = contexts[:maxContextsPerMerge]
		}
		p.Contexts = append(p.Contexts, contexts...)

		if incoming.SuspicionScore > p.SuspicionScore {
			p.SuspicionScore = incoming.SuspicionScore
		}
		if incoming.Role != "" && !strings.EqualFold(incoming.Role, "unknown") {
			p.Role = incoming.Role
		}

		// Keep the first-seen name; fold differing names into the alias set.
		aliases := incoming.Aliases
		if !strings.EqualFold(p.Name, incoming.Name) {
			aliases = append(aliases, incoming.Name)
		}
		p.Aliases = unionStrings(p.Aliases, aliases)
		return persons
	}

	copied := incoming
	copied.Aliases = append([]string(nil), incoming.Aliases...)
	copied.Sources = append([]string(nil), incoming.Sources...)
	copied.Contexts = append([]string(nil), incoming.Contexts...)
	return append(persons, copied)
}

// unionStrings appends entries of add not already present (case-insensitive).
func unionStrings(base, add []string) []string {
	for _, candidate := range add {
		found := false
		for _, existing := range base {
			if strings.EqualFold(existing, candidate) {
				found = true
				break
			}
		}
		if !found {
			base = append(base, candidate)
		}
	}
	return base
}

// timelineKey identifies an event for dedup purposes.
func timelineKey(e *TimelineEvent) string {
	desc := e.Description
	if len(desc) > timelineKeyLen {
		desc = desc[:timelineKeyLen]
	}
	return e.Date + "\x00" + desc
}

// DedupTimeline removes duplicate events (same date and description
// prefix), keeping the first occurrence, and sorts ascending by date
// string.
func DedupTimeline(events []TimelineEvent) []TimelineEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]TimelineEvent, 0, len(events))
	for i := range events {
		key := timelineKey(&events[i])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, events[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// DedupSuspects merges suspect notes by lowercased name: risk score takes
// the maximum and reasoning strings concatenate.
func DedupSuspects(suspects []SuspectNote) []SuspectNote {
	index := make(map[string]int, len(suspects))
	out := make([]SuspectNote, 0, len(suspects))
	for _, s := range suspects {
		key := strings.ToLower(s.Name)
		if i, ok := index[key]; ok {
			if s.RiskScore > out[i].RiskScore {
				out[i].RiskScore = s.RiskScore
			}
			if s.Reasoning != "" {
				if out[i].Reasoning != "" {
					out[i].Reasoning += "; " + s.Reasoning
				} else {
					out[i].Reasoning = s.Reasoning
				}
			}
			continue
		}
		index[key] = len(out)
		out = append(out, s)
	}
	return out
}
