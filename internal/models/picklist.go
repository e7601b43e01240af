package models

import "time"

// PickPosition identifies which draft pick the list is built for
type PickPosition string

const (
	PickPositionFirst  PickPosition = "first"
	PickPositionSecond PickPosition = "second"
	PickPositionThird  PickPosition = "third"
)

// Valid reports whether the pick position is one of the known values
func (p PickPosition) Valid() bool {
	switch p {
	case PickPositionFirst, PickPositionSecond, PickPositionThird:
		return true
	}
	return false
}

// GenerateRequest is the input to picklist generation.
// Teams must be non-empty with distinct team numbers.
type GenerateRequest struct {
	RequestingTeam int          `json:"requesting_team" validate:"required,gt=0"`
	PickPosition   PickPosition `json:"pick_position" validate:"required"`
	EventKey       string       `json:"event_key,omitempty"`
	// Priorities is free-form weighting guidance passed to the model,
	// e.g. "prioritize auto scoring and climb reliability".
	Priorities string       `json:"priorities,omitempty"`
	Teams      []TeamRecord `json:"teams" validate:"required,min=1"`
	Model      string       `json:"model,omitempty"`
}

// RankingEntry is one ranked team in a picklist. IsFallback marks entries
// synthesized for teams the model failed to rank; the model itself never
// produces fallback entries.
type RankingEntry struct {
	TeamNumber int     `json:"team_number"`
	Nickname   string  `json:"nickname,omitempty"`
	Score      float64 `json:"score"`
	Reasoning  string  `json:"reasoning"`
	IsFallback bool    `json:"is_fallback,omitempty"`
}

// Picklist is the final ordered ranking for one generation run.
// Rankings are sorted by score descending, exactly one entry per
// distinct input team number.
type Picklist struct {
	ID             string         `json:"id" badgerhold:"key"`
	OperationID    string         `json:"operation_id"`
	RequestingTeam int            `json:"requesting_team"`
	PickPosition   PickPosition   `json:"pick_position"`
	EventKey       string         `json:"event_key,omitempty"`
	Priorities     string         `json:"priorities,omitempty"`
	Rankings       []RankingEntry `json:"rankings"`
	Analysis       string         `json:"analysis,omitempty"`
	DuplicateCount int            `json:"duplicate_count"`
	FallbackCount  int            `json:"fallback_count"`
	ChunkCount     int            `json:"chunk_count"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// FallbackTeams returns the team numbers still flagged as fallback entries
func (p *Picklist) FallbackTeams() []int {
	var teams []int
	for _, r := range p.Rankings {
		if r.IsFallback {
			teams = append(teams, r.TeamNumber)
		}
	}
	return teams
}

// RefineRequest asks for a second, narrower ranking pass over the
// fallback-filled entries of a previously stored picklist.
type RefineRequest struct {
	PicklistID string `json:"picklist_id" validate:"required"`
	// Priorities overrides the stored priorities when non-empty
	Priorities string `json:"priorities,omitempty"`
	Model      string `json:"model,omitempty"`
}

// ChunkPayload is the wire format of one completion consumed by the
// reconciler. Continue signals more chunks remain; PartTotal is populated
// only on the declared-final chunk. Analysis appears on the first and the
// final chunk only.
type ChunkPayload struct {
	Status    string         `json:"status,omitempty"`
	Part      int            `json:"part,omitempty"`
	PartTotal *int           `json:"part_total,omitempty"`
	Picklist  []RankingEntry `json:"picklist"`
	Analysis  *ChunkAnalysis `json:"analysis,omitempty"`
	Continue  bool           `json:"continue,omitempty"`
}

// ChunkAnalysis is the optional model commentary attached to a chunk
type ChunkAnalysis struct {
	Summary        string   `json:"summary,omitempty"`
	KeyStrengths   []string `json:"key_strengths,omitempty"`
	Considerations []string `json:"considerations,omitempty"`
}
