package picklist

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gridscout/gridscout/internal/models"
)

func sequentialRoster(count int) []models.TeamRecord {
	teams := make([]models.TeamRecord, 0, count)
	for i := 1; i <= count; i++ {
		teams = append(teams, models.TeamRecord{
			TeamNumber: i * 10,
			Nickname:   fmt.Sprintf("Team %d", i*10),
		})
	}
	return teams
}

func chunkOf(numbers []int, cont bool, partTotal *int) *Reconciliation {
	entries := make([]models.RankingEntry, 0, len(numbers))
	for i, n := range numbers {
		entries = append(entries, models.RankingEntry{
			TeamNumber: n,
			Score:      float64(100 - i),
			Reasoning:  "ranked",
		})
	}
	return &Reconciliation{
		Entries: entries,
		Payload: &models.ChunkPayload{Picklist: entries, Continue: cont, PartTotal: partTotal},
	}
}

func TestControllerSingleChunkDone(t *testing.T) {
	teams := sequentialRoster(3)
	c := NewController(teams, 80, 5)

	one := 1
	rec := chunkOf([]int{10, 20, 30}, false, &one)
	if err := c.Ingest(rec); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if c.State() != StateDone {
		t.Fatalf("state = %d, want done", c.State())
	}

	entries, duplicates, fallbacks, _, err := c.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(entries) != 3 || duplicates != 0 || fallbacks != 0 {
		t.Errorf("entries = %d dup = %d fallbacks = %d, want 3/0/0", len(entries), duplicates, fallbacks)
	}
}

func TestControllerContinuation(t *testing.T) {
	// 150 teams, the model ranks 80 and declares more parts remain
	teams := sequentialRoster(150)
	c := NewController(teams, 80, 5)

	first := make([]int, 80)
	for i := range first {
		first[i] = (i + 1) * 10
	}
	if err := c.Ingest(chunkOf(first, true, nil)); err != nil {
		t.Fatalf("Ingest(first) error = %v", err)
	}
	if c.State() != AwaitingNextChunk {
		t.Fatalf("state = %d, want awaiting next chunk", c.State())
	}

	// The next batch must be exactly the 70 unranked teams, nothing else
	batch := c.NextBatch()
	if len(batch) != 70 {
		t.Fatalf("next batch = %d teams, want 70", len(batch))
	}
	for i, n := range batch {
		want := (81 + i) * 10
		if n != want {
			t.Fatalf("batch[%d] = %d, want %d", i, n, want)
		}
	}

	two := 2
	if err := c.Ingest(chunkOf(batch, false, &two)); err != nil {
		t.Fatalf("Ingest(second) error = %v", err)
	}
	if c.State() != StateDone {
		t.Fatalf("state = %d, want done", c.State())
	}

	entries, _, fallbacks, _, err := c.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(entries) != 150 || fallbacks != 0 {
		t.Errorf("entries = %d fallbacks = %d, want 150/0", len(entries), fallbacks)
	}
	if c.ChunkIndex() != 2 {
		t.Errorf("chunks = %d, want 2", c.ChunkIndex())
	}
}

func TestControllerCrossChunkRepeatDropped(t *testing.T) {
	teams := sequentialRoster(4)
	c := NewController(teams, 2, 5)

	if err := c.Ingest(chunkOf([]int{10, 20}, true, nil)); err != nil {
		t.Fatalf("Ingest(first) error = %v", err)
	}
	// Second chunk re-ranks team 10 against instructions
	if err := c.Ingest(chunkOf([]int{10, 30, 40}, false, nil)); err != nil {
		t.Fatalf("Ingest(second) error = %v", err)
	}

	entries, duplicates, _, _, err := c.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if duplicates != 1 {
		t.Errorf("duplicates = %d, want 1 cross-chunk repeat counted", duplicates)
	}
	// The first chunk's score for team 10 wins
	for _, e := range entries {
		if e.TeamNumber == 10 && e.Score != 100 {
			t.Errorf("team 10 score = %f, want first chunk's 100", e.Score)
		}
	}
}

func TestControllerIncompleteChunkFillsOnFinalize(t *testing.T) {
	teams := sequentialRoster(5)
	c := NewController(teams, 80, 5)

	// Model stops early without declaring continuation
	if err := c.Ingest(chunkOf([]int{10, 20, 30}, false, nil)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if c.State() != StateDone {
		t.Fatalf("state = %d, want done", c.State())
	}

	entries, _, fallbacks, _, err := c.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if fallbacks != 2 || len(entries) != 5 {
		t.Errorf("entries = %d fallbacks = %d, want 5/2", len(entries), fallbacks)
	}
}

func TestControllerBudgetExhausted(t *testing.T) {
	teams := sequentialRoster(10)
	c := NewController(teams, 2, 2)

	if err := c.Ingest(chunkOf([]int{10, 20}, true, nil)); err != nil {
		t.Fatalf("Ingest(first) error = %v", err)
	}
	err := c.Ingest(chunkOf([]int{30, 40}, true, nil))
	if !errors.Is(err, ErrChunkBudgetExhausted) {
		t.Fatalf("Ingest() error = %v, want ErrChunkBudgetExhausted", err)
	}
	if c.State() != StateExhausted {
		t.Fatalf("state = %d, want exhausted", c.State())
	}

	// The partial result must not be finalizable
	if _, _, _, _, err := c.Finalize(); err == nil {
		t.Fatal("Finalize() on exhausted controller must fail")
	}
}

func TestControllerTerminalRejectsIngest(t *testing.T) {
	teams := sequentialRoster(1)
	c := NewController(teams, 80, 5)

	if err := c.Ingest(chunkOf([]int{10}, false, nil)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if err := c.Ingest(chunkOf([]int{10}, false, nil)); err == nil {
		t.Fatal("Ingest() after done must fail")
	}
}

func TestControllerFirstAnalysisWins(t *testing.T) {
	teams := sequentialRoster(4)
	c := NewController(teams, 2, 5)

	first := chunkOf([]int{10, 20}, true, nil)
	first.Payload.Analysis = &models.ChunkAnalysis{Summary: "opening analysis"}
	if err := c.Ingest(first); err != nil {
		t.Fatal(err)
	}

	second := chunkOf([]int{30, 40}, false, nil)
	second.Payload.Analysis = &models.ChunkAnalysis{Summary: "closing analysis"}
	if err := c.Ingest(second); err != nil {
		t.Fatal(err)
	}

	_, _, _, analysis, err := c.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if analysis == nil || analysis.Summary != "opening analysis" {
		t.Errorf("analysis = %+v, want the first chunk's", analysis)
	}
}
