package picklist

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gridscout/gridscout/internal/models"
)

// Reconciliation is the validated view of one chunk's completion: entries
// deduplicated first-seen, filtered to the known team set, with the raw
// payload retained for chunk-protocol fields.
type Reconciliation struct {
	// Entries are the surviving model-ranked entries in received order
	Entries []models.RankingEntry
	// Duplicates counts later occurrences of an already-ranked team
	// number within this chunk (discarded, first-seen wins)
	Duplicates int
	// Unknown counts entries referencing team numbers outside the
	// known set (discarded)
	Unknown int
	// Missing lists known team numbers absent from this chunk's
	// ranking, ascending
	Missing []int
	// Payload carries the parsed chunk-protocol fields
	// (continue, part, part_total, analysis)
	Payload *models.ChunkPayload
}

// Reconcile parses a completion and validates it against the authoritative
// team set. Missing teams are a normal condition reported via Missing, not
// an error; unparsable input always fails with ErrMalformedResponse.
func Reconcile(completionText string, known map[int]models.TeamRecord) (*Reconciliation, error) {
	payload, err := parseChunk(completionText)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{Payload: payload}

	seen := make(map[int]bool, len(payload.Picklist))
	for _, entry := range payload.Picklist {
		if _, ok := known[entry.TeamNumber]; !ok {
			rec.Unknown++
			continue
		}
		if seen[entry.TeamNumber] {
			rec.Duplicates++
			continue
		}
		seen[entry.TeamNumber] = true

		// The model never produces fallback entries; clear the flag
		// defensively and backfill the nickname from scouting data.
		entry.IsFallback = false
		if entry.Nickname == "" {
			entry.Nickname = known[entry.TeamNumber].Nickname
		}
		rec.Entries = append(rec.Entries, entry)
	}

	for number := range known {
		if !seen[number] {
			rec.Missing = append(rec.Missing, number)
		}
	}
	sort.Ints(rec.Missing)

	return rec, nil
}

// FillGaps appends one synthesized entry per known team absent from
// entries. The fallback score is max(0.1, min_existing*0.5), or 0.1 when
// no model-ranked entries exist, so fallbacks always sort below every
// model-ranked team. Returns the filled list and the fallback count.
func FillGaps(entries []models.RankingEntry, known map[int]models.TeamRecord) ([]models.RankingEntry, int) {
	ranked := make(map[int]bool, len(entries))
	for _, e := range entries {
		ranked[e.TeamNumber] = true
	}

	var missing []int
	for number := range known {
		if !ranked[number] {
			missing = append(missing, number)
		}
	}
	if len(missing) == 0 {
		return entries, 0
	}
	sort.Ints(missing)

	score := backupScore(entries)
	for _, number := range missing {
		entries = append(entries, models.RankingEntry{
			TeamNumber: number,
			Nickname:   known[number].Nickname,
			Score:      score,
			Reasoning:  fallbackReasoning,
			IsFallback: true,
		})
	}

	return entries, len(missing)
}

// backupScore computes the score assigned to synthesized entries:
// max(0.1, min_existing*0.5), 0.1 when no scores exist
func backupScore(entries []models.RankingEntry) float64 {
	if len(entries) == 0 {
		return 0.1
	}

	min := entries[0].Score
	for _, e := range entries[1:] {
		if e.Score < min {
			min = e.Score
		}
	}

	score := min * 0.5
	if score < 0.1 {
		score = 0.1
	}
	return score
}

// fencePattern strips a markdown code fence wrapping the whole response
var fencePattern = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// parseChunk decodes a completion into the chunk payload wire format.
// Markdown fences are tolerated; anything else unparsable, or a payload
// without a picklist array, fails with ErrMalformedResponse.
func parseChunk(completionText string) (*models.ChunkPayload, error) {
	cleaned := cleanMarkdownFences(completionText)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrMalformedResponse)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if _, ok := raw["picklist"]; !ok {
		return nil, fmt.Errorf("%w: missing picklist key", ErrMalformedResponse)
	}

	var payload models.ChunkPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &payload, nil
}

// cleanMarkdownFences removes a markdown code fence wrapping the response
func cleanMarkdownFences(s string) string {
	s = strings.TrimSpace(s)

	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}
