package picklist

import (
	"fmt"
	"sort"

	"github.com/gridscout/gridscout/internal/models"
)

// ControllerState tracks the chunk continuation state machine
type ControllerState int

const (
	// AwaitingFirstChunk means no chunk has been ingested yet
	AwaitingFirstChunk ControllerState = iota
	// AwaitingNextChunk means the last chunk declared more parts remain
	AwaitingNextChunk
	// StateDone means the full team set is covered or the model declared
	// the final part
	StateDone
	// StateExhausted means the chunk ceiling was hit without coverage;
	// the accumulated partial result must be discarded
	StateExhausted
)

// Controller drives the multi-chunk continuation loop. Chunks are
// processed strictly in sequence: each later chunk depends on the
// accumulated processed set of all earlier ones. The processed set only
// grows; a team ranked by an earlier chunk is dropped from any later
// chunk's output before merging.
type Controller struct {
	known     map[int]models.TeamRecord
	processed map[int]bool
	merged    []models.RankingEntry

	state         ControllerState
	chunkIndex    int
	maxChunks     int
	chunkSize     int
	expectedTotal *int

	duplicates   int
	crossRepeats int
	unknown      int
	analysis     *models.ChunkAnalysis
}

// NewController creates a continuation controller over the known team set
func NewController(teams []models.TeamRecord, chunkSize, maxChunks int) *Controller {
	if chunkSize <= 0 {
		chunkSize = 80
	}
	if maxChunks <= 0 {
		maxChunks = 5
	}

	known := make(map[int]models.TeamRecord, len(teams))
	for _, t := range teams {
		known[t.TeamNumber] = t
	}

	return &Controller{
		known:     known,
		processed: make(map[int]bool, len(teams)),
		state:     AwaitingFirstChunk,
		maxChunks: maxChunks,
		chunkSize: chunkSize,
	}
}

// Known returns the authoritative team set indexed by team number
func (c *Controller) Known() map[int]models.TeamRecord {
	return c.known
}

// State returns the current controller state
func (c *Controller) State() ControllerState {
	return c.state
}

// ChunkIndex returns the number of chunks ingested so far
func (c *Controller) ChunkIndex() int {
	return c.chunkIndex
}

// Ingest merges one chunk's reconciled result and advances the state
// machine. It returns ErrChunkBudgetExhausted when the chunk ceiling is
// hit while teams remain unranked.
func (c *Controller) Ingest(rec *Reconciliation) error {
	if c.state == StateDone || c.state == StateExhausted {
		return fmt.Errorf("controller is terminal, cannot ingest chunk %d", c.chunkIndex+1)
	}

	c.chunkIndex++
	c.duplicates += rec.Duplicates
	c.unknown += rec.Unknown

	// First-chunk (and declared-final-chunk) analysis wins; later chunks
	// are not expected to carry one.
	if rec.Payload.Analysis != nil && c.analysis == nil {
		c.analysis = rec.Payload.Analysis
	}

	for _, entry := range rec.Entries {
		// Belt and suspenders: the per-chunk dedup is chunk-local, so a
		// model re-ranking a team against instructions is dropped here.
		if c.processed[entry.TeamNumber] {
			c.crossRepeats++
			continue
		}
		c.processed[entry.TeamNumber] = true
		c.merged = append(c.merged, entry)
	}

	remaining := c.Remaining()

	// The model's self-reported completeness is cross-checked against the
	// known team set rather than trusted outright.
	declaredFinal := !rec.Payload.Continue && rec.Payload.PartTotal != nil
	if declaredFinal {
		c.expectedTotal = rec.Payload.PartTotal
	}

	switch {
	case len(remaining) == 0 || declaredFinal || !rec.Payload.Continue:
		c.state = StateDone
	case c.chunkIndex >= c.maxChunks:
		c.state = StateExhausted
		return fmt.Errorf("%w: %d chunks consumed, %d teams still unranked",
			ErrChunkBudgetExhausted, c.chunkIndex, len(remaining))
	default:
		c.state = AwaitingNextChunk
	}

	return nil
}

// Remaining returns the known team numbers not yet ranked, ascending
func (c *Controller) Remaining() []int {
	var remaining []int
	for number := range c.known {
		if !c.processed[number] {
			remaining = append(remaining, number)
		}
	}
	sort.Ints(remaining)
	return remaining
}

// ProcessedTeams returns the already-ranked team numbers, ascending
func (c *Controller) ProcessedTeams() []int {
	processed := make([]int, 0, len(c.processed))
	for number := range c.processed {
		processed = append(processed, number)
	}
	sort.Ints(processed)
	return processed
}

// NextBatch returns the next batch of unranked team numbers for a
// targeted continuation prompt, bounded by the chunk size
func (c *Controller) NextBatch() []int {
	remaining := c.Remaining()
	if len(remaining) > c.chunkSize {
		remaining = remaining[:c.chunkSize]
	}
	return remaining
}

// Finalize fills coverage gaps with fallback entries and returns the
// complete merged ranking plus reconciliation counts. Only valid once the
// controller is Done.
func (c *Controller) Finalize() (entries []models.RankingEntry, duplicates, fallbacks int, analysis *models.ChunkAnalysis, err error) {
	if c.state != StateDone {
		return nil, 0, 0, nil, fmt.Errorf("cannot finalize in state %d", c.state)
	}

	entries, fallbacks = FillGaps(c.merged, c.known)
	return entries, c.duplicates + c.crossRepeats, fallbacks, c.analysis, nil
}
