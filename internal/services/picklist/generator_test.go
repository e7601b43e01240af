package picklist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/gridscout/gridscout/internal/common"
	"github.com/gridscout/gridscout/internal/interfaces"
	"github.com/gridscout/gridscout/internal/models"
	"github.com/gridscout/gridscout/internal/services/progress"
)

// scriptedLLM returns canned completions in order, recording the requests
// it received
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []*interfaces.CompletionRequest
}

func (s *scriptedLLM) Complete(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	call := len(s.requests) - 1

	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	if call >= len(s.responses) {
		return nil, fmt.Errorf("unexpected call %d", call+1)
	}
	return &interfaces.CompletionResponse{Text: s.responses[call], Provider: "test", Model: req.Model}, nil
}

func (s *scriptedLLM) Close() error { return nil }

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// memTeamStorage is an in-memory TeamStorage for orchestrator tests
type memTeamStorage struct {
	mu    sync.Mutex
	teams map[int]models.TeamRecord
}

func newMemTeamStorage(teams []models.TeamRecord) *memTeamStorage {
	m := &memTeamStorage{teams: make(map[int]models.TeamRecord)}
	for _, t := range teams {
		m.teams[t.TeamNumber] = t
	}
	return m
}

func (m *memTeamStorage) SaveTeam(ctx context.Context, team *models.TeamRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[team.TeamNumber] = *team
	return nil
}

func (m *memTeamStorage) SaveTeams(ctx context.Context, teams []models.TeamRecord) error {
	for i := range teams {
		if err := m.SaveTeam(ctx, &teams[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memTeamStorage) GetTeam(ctx context.Context, teamNumber int) (*models.TeamRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	team, ok := m.teams[teamNumber]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &team, nil
}

func (m *memTeamStorage) ListTeams(ctx context.Context, eventKey string) ([]models.TeamRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var teams []models.TeamRecord
	for _, t := range m.teams {
		if eventKey == "" || t.EventKey == eventKey {
			teams = append(teams, t)
		}
	}
	return teams, nil
}

func (m *memTeamStorage) DeleteTeam(ctx context.Context, teamNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.teams, teamNumber)
	return nil
}

func (m *memTeamStorage) CountTeams(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.teams), nil
}

// memPicklistStorage is an in-memory PicklistStorage
type memPicklistStorage struct {
	mu        sync.Mutex
	picklists map[string]models.Picklist
}

func newMemPicklistStorage() *memPicklistStorage {
	return &memPicklistStorage{picklists: make(map[string]models.Picklist)}
}

func (m *memPicklistStorage) SavePicklist(ctx context.Context, p *models.Picklist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.picklists[p.ID] = *p
	return nil
}

func (m *memPicklistStorage) GetPicklist(ctx context.Context, id string) (*models.Picklist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.picklists[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	clone := p
	return &clone, nil
}

func (m *memPicklistStorage) ListPicklists(ctx context.Context, limit int) ([]models.Picklist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Picklist
	for _, p := range m.picklists {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPicklistStorage) DeletePicklist(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.picklists, id)
	return nil
}

func newTestService(t *testing.T, llm *scriptedLLM, teams []models.TeamRecord) (*Service, *progress.Service, *memPicklistStorage) {
	t.Helper()
	cfg := common.NewDefaultConfig()
	logger := arbor.NewLogger()
	ledger := progress.NewService(&cfg.Picklist, nil, logger)
	picklists := newMemPicklistStorage()
	svc := NewService(&cfg.Picklist, llm, ledger, newMemTeamStorage(teams), picklists, logger)
	svc.poll = 10 * time.Millisecond
	return svc, ledger, picklists
}

func waitTerminal(t *testing.T, ledger *progress.Service, operationID string) *models.Operation {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		op, err := ledger.Get(operationID)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", operationID, err)
		}
		if op.Status.IsTerminal() {
			return op
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("operation %s did not reach a terminal state", operationID)
	return nil
}

func completion(entries []models.RankingEntry, cont bool, partTotal *int, analysis string) string {
	payload := models.ChunkPayload{
		Status:   "ok",
		Picklist: entries,
		Continue: cont,
	}
	if partTotal != nil {
		payload.PartTotal = partTotal
	}
	if analysis != "" {
		payload.Analysis = &models.ChunkAnalysis{Summary: analysis}
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func rankedEntries(scoreBase float64, numbers ...int) []models.RankingEntry {
	entries := make([]models.RankingEntry, 0, len(numbers))
	for i, n := range numbers {
		entries = append(entries, models.RankingEntry{
			TeamNumber: n,
			Score:      scoreBase - float64(i),
			Reasoning:  fmt.Sprintf("avg_points %d supports this slot", n%50),
		})
	}
	return entries
}

func TestGenerationFullCoverage(t *testing.T) {
	teams := rosterOf(254, 1678, 118, 2056)
	one := 1
	llm := &scriptedLLM{responses: []string{
		completion(rankedEntries(95, 254, 2056, 1678, 118), false, &one, "254 dominates scoring"),
	}}
	svc, ledger, picklists := newTestService(t, llm, teams)

	req := &models.GenerateRequest{
		RequestingTeam: 1234,
		PickPosition:   models.PickPositionFirst,
		Teams:          teams,
	}

	operationID, err := svc.StartGeneration(context.Background(), req)
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}

	op := waitTerminal(t, ledger, operationID)
	if op.Status != models.OperationCompleted {
		t.Fatalf("status = %s (%s), want completed", op.Status, op.Error)
	}
	if op.Progress != 100 {
		t.Errorf("progress = %f, want 100", op.Progress)
	}
	if op.Result == nil {
		t.Fatal("completed operation has no result")
	}

	result := op.Result
	if len(result.Rankings) != 4 {
		t.Fatalf("rankings = %d, want 4", len(result.Rankings))
	}
	if result.FallbackCount != 0 || result.DuplicateCount != 0 {
		t.Errorf("fallbacks = %d duplicates = %d, want 0/0", result.FallbackCount, result.DuplicateCount)
	}
	// Score-descending order
	for i := 1; i < len(result.Rankings); i++ {
		if result.Rankings[i].Score > result.Rankings[i-1].Score {
			t.Errorf("rankings not sorted by score descending at %d", i)
		}
	}
	if result.Analysis != "254 dominates scoring" {
		t.Errorf("analysis = %q", result.Analysis)
	}

	// The result is persisted
	stored, err := picklists.GetPicklist(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("stored picklist missing: %v", err)
	}
	if stored.OperationID != operationID {
		t.Errorf("stored operation id = %s, want %s", stored.OperationID, operationID)
	}
}

func TestGenerationPartialResponseFillsFallbacks(t *testing.T) {
	teams := rosterOf(254, 1678, 118, 2056, 971)
	llm := &scriptedLLM{responses: []string{
		// Model covers only three of five teams and does not ask to continue
		completion(rankedEntries(90, 254, 1678, 118), false, nil, ""),
	}}
	svc, ledger, _ := newTestService(t, llm, teams)

	operationID, err := svc.StartGeneration(context.Background(), &models.GenerateRequest{
		RequestingTeam: 1234,
		PickPosition:   models.PickPositionFirst,
		Teams:          teams,
	})
	if err != nil {
		t.Fatal(err)
	}

	op := waitTerminal(t, ledger, operationID)
	if op.Status != models.OperationCompleted {
		t.Fatalf("status = %s (%s), want completed", op.Status, op.Error)
	}

	result := op.Result
	if len(result.Rankings) != 5 {
		t.Fatalf("rankings = %d, want 5 (fallback-filled)", len(result.Rankings))
	}
	if result.FallbackCount != 2 {
		t.Errorf("fallback count = %d, want 2", result.FallbackCount)
	}
	// Fallbacks sort below every model-ranked team
	for _, r := range result.Rankings[:3] {
		if r.IsFallback {
			t.Errorf("team %d flagged fallback in top positions", r.TeamNumber)
		}
	}
	for _, r := range result.Rankings[3:] {
		if !r.IsFallback {
			t.Errorf("team %d not flagged fallback at the bottom", r.TeamNumber)
		}
	}
}

func TestGenerationDuplicateFirstSeen(t *testing.T) {
	teams := rosterOf(254, 1678)
	llm := &scriptedLLM{responses: []string{
		`{"picklist":[
			{"team_number":254,"score":90,"reasoning":"first"},
			{"team_number":254,"score":10,"reasoning":"again"},
			{"team_number":1678,"score":50,"reasoning":"fine"}
		],"continue":false}`,
	}}
	svc, ledger, _ := newTestService(t, llm, teams)

	operationID, err := svc.StartGeneration(context.Background(), &models.GenerateRequest{
		RequestingTeam: 1234,
		PickPosition:   models.PickPositionSecond,
		Teams:          teams,
	})
	if err != nil {
		t.Fatal(err)
	}

	op := waitTerminal(t, ledger, operationID)
	if op.Status != models.OperationCompleted {
		t.Fatalf("status = %s (%s), want completed", op.Status, op.Error)
	}

	result := op.Result
	if len(result.Rankings) != 2 {
		t.Fatalf("rankings = %d, want 2", len(result.Rankings))
	}
	if result.DuplicateCount != 1 {
		t.Errorf("duplicate count = %d, want 1", result.DuplicateCount)
	}
	if result.Rankings[0].TeamNumber != 254 || result.Rankings[0].Score != 90 {
		t.Errorf("top entry = %+v, want team 254 with first-seen score 90", result.Rankings[0])
	}
}

func TestGenerationChunkContinuation(t *testing.T) {
	// 150 teams: chunk one covers 80, the continuation covers the other 70
	numbers := make([]int, 150)
	for i := range numbers {
		numbers[i] = (i + 1) * 10
	}
	teams := rosterOf(numbers...)

	two := 2
	llm := &scriptedLLM{responses: []string{
		completion(rankedEntries(500, numbers[:80]...), true, nil, "deep field"),
		completion(rankedEntries(300, numbers[80:]...), false, &two, ""),
	}}
	svc, ledger, _ := newTestService(t, llm, teams)

	operationID, err := svc.StartGeneration(context.Background(), &models.GenerateRequest{
		RequestingTeam: 1234,
		PickPosition:   models.PickPositionFirst,
		Teams:          teams,
	})
	if err != nil {
		t.Fatal(err)
	}

	op := waitTerminal(t, ledger, operationID)
	if op.Status != models.OperationCompleted {
		t.Fatalf("status = %s (%s), want completed", op.Status, op.Error)
	}

	result := op.Result
	if len(result.Rankings) != 150 {
		t.Fatalf("rankings = %d, want 150", len(result.Rankings))
	}
	if result.FallbackCount != 0 {
		t.Errorf("fallback count = %d, want 0", result.FallbackCount)
	}
	if result.ChunkCount != 2 {
		t.Errorf("chunk count = %d, want 2", result.ChunkCount)
	}
	if llm.callCount() != 2 {
		t.Fatalf("llm calls = %d, want 2", llm.callCount())
	}

	// The continuation prompt lists exactly the 70 unranked teams
	continuation := llm.requests[1].Messages[1].Content
	if !strings.Contains(continuation, "Rank ONLY the following 70 teams") {
		t.Error("continuation prompt does not target the 70 remaining teams")
	}
	for _, ranked := range numbers[:3] {
		if strings.Contains(continuation, fmt.Sprintf("\"team_number\":%d,", ranked)) {
			t.Errorf("continuation scouting data includes already-ranked team %d", ranked)
		}
	}
}

func TestGenerationMalformedResponseFails(t *testing.T) {
	teams := rosterOf(254, 1678)
	// Initial response and the single retry are both unparsable
	llm := &scriptedLLM{responses: []string{
		"The top teams are 254 and 1678 because of their autonomous performance.",
		"Still not json.",
	}}
	svc, ledger, _ := newTestService(t, llm, teams)

	operationID, err := svc.StartGeneration(context.Background(), &models.GenerateRequest{
		RequestingTeam: 1234,
		PickPosition:   models.PickPositionFirst,
		Teams:          teams,
	})
	if err != nil {
		t.Fatal(err)
	}

	op := waitTerminal(t, ledger, operationID)
	if op.Status != models.OperationFailed {
		t.Fatalf("status = %s, want failed", op.Status)
	}
	if !strings.Contains(op.Error, "malformed") {
		t.Errorf("error = %q, want malformed response description", op.Error)
	}
	if llm.callCount() != 2 {
		t.Errorf("llm calls = %d, want initial + one retry", llm.callCount())
	}
}

func TestGenerationParseRetryRecovers(t *testing.T) {
	teams := rosterOf(254, 1678)
	one := 1
	llm := &scriptedLLM{responses: []string{
		"not json",
		completion(rankedEntries(90, 254, 1678), false, &one, ""),
	}}
	svc, ledger, _ := newTestService(t, llm, teams)

	operationID, err := svc.StartGeneration(context.Background(), &models.GenerateRequest{
		RequestingTeam: 1234,
		PickPosition:   models.PickPositionFirst,
		Teams:          teams,
	})
	if err != nil {
		t.Fatal(err)
	}

	op := waitTerminal(t, ledger, operationID)
	if op.Status != models.OperationCompleted {
		t.Fatalf("status = %s (%s), want completed after retry", op.Status, op.Error)
	}
}

func TestGenerationTransportFailure(t *testing.T) {
	teams := rosterOf(254)
	llm := &scriptedLLM{errs: []error{fmt.Errorf("connection reset")}}
	svc, ledger, _ := newTestService(t, llm, teams)

	operationID, err := svc.StartGeneration(context.Background(), &models.GenerateRequest{
		RequestingTeam: 1234,
		PickPosition:   models.PickPositionFirst,
		Teams:          teams,
	})
	if err != nil {
		t.Fatal(err)
	}

	op := waitTerminal(t, ledger, operationID)
	if op.Status != models.OperationFailed {
		t.Fatalf("status = %s, want failed", op.Status)
	}
	if !strings.Contains(op.Error, "model call failed") {
		t.Errorf("error = %q, want transport failure description", op.Error)
	}
}

func TestStartGenerationValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &scriptedLLM{}, nil)

	tests := []struct {
		name string
		req  *models.GenerateRequest
	}{
		{"nil request", nil},
		{"no teams", &models.GenerateRequest{RequestingTeam: 1, PickPosition: models.PickPositionFirst}},
		{"zero requesting team", &models.GenerateRequest{PickPosition: models.PickPositionFirst, Teams: rosterOf(10)}},
		{"bad pick position", &models.GenerateRequest{RequestingTeam: 1, PickPosition: "fourth", Teams: rosterOf(10)}},
		{"duplicate team numbers", &models.GenerateRequest{
			RequestingTeam: 1, PickPosition: models.PickPositionFirst,
			Teams: append(rosterOf(10), rosterOf(10)...),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.StartGeneration(context.Background(), tt.req); err == nil {
				t.Error("StartGeneration() must reject the request")
			}
		})
	}
}

func TestRefinementReplacesFallbacks(t *testing.T) {
	teams := rosterOf(254, 1678, 118)
	one := 1

	// First run: model covers only 254, the other two become fallbacks
	llm := &scriptedLLM{responses: []string{
		completion(rankedEntries(90, 254), false, nil, ""),
		// Refinement run: model ranks the two fallback teams
		completion(rankedEntries(60, 1678, 118), false, &one, ""),
	}}
	svc, ledger, picklists := newTestService(t, llm, teams)

	operationID, err := svc.StartGeneration(context.Background(), &models.GenerateRequest{
		RequestingTeam: 1234,
		PickPosition:   models.PickPositionFirst,
		Teams:          teams,
	})
	if err != nil {
		t.Fatal(err)
	}
	op := waitTerminal(t, ledger, operationID)
	if op.Status != models.OperationCompleted {
		t.Fatalf("generation status = %s (%s)", op.Status, op.Error)
	}
	if op.Result.FallbackCount != 2 {
		t.Fatalf("fallback count = %d, want 2", op.Result.FallbackCount)
	}

	refineID, err := svc.StartRefinement(context.Background(), &models.RefineRequest{
		PicklistID: op.Result.ID,
	})
	if err != nil {
		t.Fatalf("StartRefinement() error = %v", err)
	}

	refineOp := waitTerminal(t, ledger, refineID)
	if refineOp.Status != models.OperationCompleted {
		t.Fatalf("refinement status = %s (%s)", refineOp.Status, refineOp.Error)
	}

	refined, err := picklists.GetPicklist(context.Background(), op.Result.ID)
	if err != nil {
		t.Fatal(err)
	}
	if refined.FallbackCount != 0 {
		t.Errorf("fallback count after refinement = %d, want 0", refined.FallbackCount)
	}
	for _, r := range refined.Rankings {
		if r.IsFallback {
			t.Errorf("team %d still flagged fallback", r.TeamNumber)
		}
	}
	if refined.Rankings[0].TeamNumber != 254 {
		t.Errorf("top pick = %d, want 254 kept on top", refined.Rankings[0].TeamNumber)
	}
}

func TestRefinementRejectsCleanPicklist(t *testing.T) {
	svc, _, picklists := newTestService(t, &scriptedLLM{}, rosterOf(254))

	clean := &models.Picklist{
		ID:             "clean",
		RequestingTeam: 1234,
		PickPosition:   models.PickPositionFirst,
		Rankings:       rankedEntries(90, 254),
	}
	if err := picklists.SavePicklist(context.Background(), clean); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.StartRefinement(context.Background(), &models.RefineRequest{PicklistID: "clean"}); err == nil {
		t.Fatal("StartRefinement() on a picklist without fallbacks must fail")
	}
}
