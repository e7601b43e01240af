package models

import (
	"sort"
	"time"
)

// TeamRecord is the condensed scouting profile for one team at an event.
// Metrics is an opaque mapping of metric name to value (numeric, boolean,
// or categorical) produced by the scouting data source; the picklist
// pipeline treats it as ranking input without interpreting individual keys.
type TeamRecord struct {
	TeamNumber int                    `json:"team_number" badgerhold:"key"`
	Nickname   string                 `json:"nickname"`
	EventKey   string                 `json:"event_key,omitempty"`
	Metrics    map[string]interface{} `json:"metrics,omitempty"`
	// Notes holds free-text scouting observations. Prompt condensation
	// keeps at most the latest entry.
	Notes     []TeamNote `json:"notes,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TeamNote is a single free-text scouting observation
type TeamNote struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// LatestNote returns the most recent note text, or "" when none exist
func (t *TeamRecord) LatestNote() string {
	if len(t.Notes) == 0 {
		return ""
	}
	latest := t.Notes[0]
	for _, n := range t.Notes[1:] {
		if n.CreatedAt.After(latest.CreatedAt) {
			latest = n
		}
	}
	return latest.Text
}

// TeamNumbers returns the sorted distinct team numbers of a roster
func TeamNumbers(teams []TeamRecord) []int {
	seen := make(map[int]bool, len(teams))
	numbers := make([]int, 0, len(teams))
	for _, t := range teams {
		if !seen[t.TeamNumber] {
			seen[t.TeamNumber] = true
			numbers = append(numbers, t.TeamNumber)
		}
	}
	sort.Ints(numbers)
	return numbers
}
