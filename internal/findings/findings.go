// Package findings defines the structured output of case analysis and the
// merge rules used to accumulate partial results across batches.
package findings

// TimelineEvent is a dated event recovered from case documents.
type TimelineEvent struct {
	Date        string `json:"date"` // ISO date or best-effort date string
	Description string `json:"description"`
	Source      string `json:"source,omitempty"` // document name the event came from
	Confidence  string `json:"confidence,omitempty"`
}

// PersonMention is a person surfaced by analysis, with accumulated signal.
type PersonMention struct {
	Name           string   `json:"name"`
	Aliases        []string `json:"aliases,omitempty"`
	Role           string   `json:"role,omitempty"` // witness, suspect, victim, unknown...
	MentionCount   int      `json:"mention_count"`
	Sources        []string `json:"sources,omitempty"`
	Contexts       []string `json:"contexts,omitempty"` // short snippets around mentions
	SuspicionScore float64  `json:"suspicion_score,omitempty"`
}

// Conflict is a contradiction between statements or documents.
type Conflict struct {
	Description string   `json:"description"`
	Parties     []string `json:"parties,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// Tip is an investigative lead worth following up.
type Tip struct {
	Summary  string `json:"summary"`
	Priority string `json:"priority,omitempty"` // high, medium, low
	Source   string `json:"source,omitempty"`
}

// SuspectNote is an analysis note about a potential suspect.
type SuspectNote struct {
	Name      string  `json:"name"`
	RiskScore float64 `json:"risk_score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// BatchFindings is the partial output of analyzing one batch of documents.
type BatchFindings struct {
	TimelineEvents []TimelineEvent `json:"timeline_events,omitempty"`
	Persons        []PersonMention `json:"persons,omitempty"`
	Conflicts      []Conflict      `json:"conflicts,omitempty"`
	Tips           []Tip           `json:"tips,omitempty"`
	Insights       []string        `json:"insights,omitempty"`
	Suspects       []SuspectNote   `json:"suspects,omitempty"`
}

// Empty returns true if the batch produced nothing at all.
func (b *BatchFindings) Empty() bool {
	return len(b.TimelineEvents) == 0 && len(b.Persons) == 0 &&
		len(b.Conflicts) == 0 && len(b.Tips) == 0 &&
		len(b.Insights) == 0 && len(b.Suspects) == 0
}

// CaseAnalysis is the consolidated final output of a chunked analysis job.
type CaseAnalysis struct {
	Summary        string          `json:"summary,omitempty"`
	TimelineEvents []TimelineEvent `json:"timeline_events,omitempty"`
	Persons        []PersonMention `json:"persons,omitempty"`
	Conflicts      []Conflict      `json:"conflicts,omitempty"`
	Tips           []Tip           `json:"tips,omitempty"`
	Insights       []string        `json:"insights,omitempty"`
	Suspects       []SuspectNote   `json:"suspects,omitempty"`
}
