package picklist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gridscout/gridscout/internal/interfaces"
	"github.com/gridscout/gridscout/internal/models"
)

// fallbackReasoning is the fixed explanation attached to synthesized
// entries for teams the model failed to rank
const fallbackReasoning = "Ranked by fallback: the model response did not cover this team, so it was placed below all model-ranked teams pending refinement."

// systemPrompt is the instruction block sent with every ranking request.
// The coverage rules are textually explicit because the prompt contract is
// best-effort; the reconciler remains the authoritative enforcement layer.
const systemPrompt = `You are an expert FRC (FIRST Robotics Competition) alliance selection strategist. You rank teams for a draft-style picklist using scouting data.

Rules you must follow exactly:
1. Rank EVERY team in the verification list exactly once. Do not skip any team. Do not rank any team twice.
2. Respond with a single JSON object only. No markdown fences, no prose outside the JSON.
3. For each team, "reasoning" must cite at least one concrete metric value from its scouting data.
4. "score" is a number; higher means a better pick for the requesting team at the stated pick position.
5. If you cannot fit all teams in one response, rank as many as you can in order, set "continue" to true, and omit "part_total". On your final part set "continue" to false and set "part_total" to the total number of parts.
6. Include an "analysis" object only on the first and the final part.

Response shape:
{"status":"ok","part":1,"picklist":[{"team_number":254,"nickname":"The Cheesy Poofs","score":97.5,"reasoning":"..."}],"analysis":{"summary":"..."},"continue":false,"part_total":1}`

// condensedTeam is the token-bounded per-team representation embedded in
// the prompt: ranking metrics plus at most the latest free-text note.
type condensedTeam struct {
	TeamNumber int                    `json:"team_number"`
	Nickname   string                 `json:"nickname,omitempty"`
	Metrics    map[string]interface{} `json:"metrics,omitempty"`
	LatestNote string                 `json:"latest_note,omitempty"`
}

// Prompt is a rendered request ready for the completion service
type Prompt struct {
	Messages []interfaces.Message
	// VerificationList is the sorted team numbers embedded in the
	// prompt text, kept for cross-checking in tests
	VerificationList []int
}

// PromptBuilder renders system/user prompt text from a team roster.
// It is pure: no external calls, no shared state.
type PromptBuilder struct{}

// NewPromptBuilder creates a new prompt builder
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// BuildInitial renders the first ranking request covering the full roster
func (b *PromptBuilder) BuildInitial(req *models.GenerateRequest) (*Prompt, error) {
	if len(req.Teams) == 0 {
		return nil, fmt.Errorf("%w: team set is empty", ErrInvalidRequest)
	}

	verification := models.TeamNumbers(req.Teams)

	condensed := condenseTeams(req.Teams)
	teamData, err := json.Marshal(condensed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode team data: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Team %d is building a %s-pick picklist.\n", req.RequestingTeam, req.PickPosition)
	if req.Priorities != "" {
		fmt.Fprintf(&sb, "Selection priorities: %s\n", req.Priorities)
	}
	fmt.Fprintf(&sb, "\nScouting data for %d teams:\n%s\n", len(condensed), teamData)
	fmt.Fprintf(&sb, "\nVerification list (every one of these %d team numbers must appear exactly once in your ranking):\n%s\n",
		len(verification), formatTeamNumbers(verification))
	sb.WriteString("\nRank all teams now.")

	return &Prompt{
		Messages: []interfaces.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
		VerificationList: verification,
	}, nil
}

// BuildContinuation renders a targeted follow-up request restricted to the
// teams not yet ranked. Processed team numbers are listed explicitly so the
// model never repeats them.
func (b *PromptBuilder) BuildContinuation(req *models.GenerateRequest, processed, next []int) (*Prompt, error) {
	if len(next) == 0 {
		return nil, fmt.Errorf("%w: no remaining teams for continuation", ErrInvalidRequest)
	}

	nextSet := make(map[int]bool, len(next))
	for _, n := range next {
		nextSet[n] = true
	}

	var subset []models.TeamRecord
	for _, t := range req.Teams {
		if nextSet[t.TeamNumber] {
			subset = append(subset, t)
		}
	}

	teamData, err := json.Marshal(condenseTeams(subset))
	if err != nil {
		return nil, fmt.Errorf("failed to encode team data: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Continue the %s-pick picklist for team %d.\n", req.PickPosition, req.RequestingTeam)
	if req.Priorities != "" {
		fmt.Fprintf(&sb, "Selection priorities: %s\n", req.Priorities)
	}
	fmt.Fprintf(&sb, "\nAlready ranked in previous parts (NEVER rank these again):\n%s\n", formatTeamNumbers(processed))
	fmt.Fprintf(&sb, "\nRank ONLY the following %d teams, in this order:\n%s\n", len(next), formatTeamNumbers(next))
	fmt.Fprintf(&sb, "\nScouting data:\n%s\n", teamData)
	sb.WriteString("\nRank the listed teams now. Scores must stay consistent with the previous parts.")

	return &Prompt{
		Messages: []interfaces.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
		VerificationList: next,
	}, nil
}

// condenseTeams strips fields not relevant to ranking and limits free-text
// notes to the most recent entry, keeping the prompt inside the completion
// token budget.
func condenseTeams(teams []models.TeamRecord) []condensedTeam {
	condensed := make([]condensedTeam, 0, len(teams))
	for i := range teams {
		t := &teams[i]
		condensed = append(condensed, condensedTeam{
			TeamNumber: t.TeamNumber,
			Nickname:   t.Nickname,
			Metrics:    t.Metrics,
			LatestNote: t.LatestNote(),
		})
	}
	return condensed
}

// formatTeamNumbers renders team numbers as a comma-separated list
func formatTeamNumbers(numbers []int) string {
	if len(numbers) == 0 {
		return "(none)"
	}
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
