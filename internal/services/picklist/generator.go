package picklist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/gridscout/gridscout/internal/common"
	"github.com/gridscout/gridscout/internal/interfaces"
	"github.com/gridscout/gridscout/internal/models"
	"github.com/gridscout/gridscout/internal/services/progress"
)

// Service orchestrates picklist generation: it owns the ledger entry for
// the lifetime of one run, drives the model call off the progress-reporting
// path, and hands completions to the reconciler and continuation
// controller. All progress-visible mutation goes through the ledger.
type Service struct {
	config    *common.PicklistConfig
	llm       interfaces.CompletionService
	ledger    *progress.Service
	prompts   *PromptBuilder
	teams     interfaces.TeamStorage
	picklists interfaces.PicklistStorage
	validate  *validator.Validate
	logger    arbor.ILogger
	poll      time.Duration
}

// NewService creates a new picklist generation service
func NewService(
	config *common.PicklistConfig,
	llm interfaces.CompletionService,
	ledger *progress.Service,
	teams interfaces.TeamStorage,
	picklists interfaces.PicklistStorage,
	logger arbor.ILogger,
) *Service {
	return &Service{
		config:    config,
		llm:       llm,
		ledger:    ledger,
		prompts:   NewPromptBuilder(),
		teams:     teams,
		picklists: picklists,
		validate:  validator.New(),
		logger:    logger,
		poll:      time.Second,
	}
}

// StartGeneration validates the request, registers a ledger entry, and
// launches the generation run asynchronously. Returns the operation id
// for polling.
func (s *Service) StartGeneration(ctx context.Context, req *models.GenerateRequest) (string, error) {
	if err := s.validateRequest(req); err != nil {
		return "", err
	}

	operationID := common.NewOperationID(req.RequestingTeam, string(req.PickPosition))
	if _, err := s.ledger.Create(operationID); err != nil {
		return "", err
	}

	s.logger.Info().
		Str("operation_id", operationID).
		Int("requesting_team", req.RequestingTeam).
		Str("pick_position", string(req.PickPosition)).
		Int("team_count", len(req.Teams)).
		Msg("Picklist generation started")

	// The run outlives the HTTP request that triggered it
	go s.run(context.Background(), operationID, req, "")

	return operationID, nil
}

// StartRefinement launches a narrower re-ranking pass over the teams that
// were fallback-filled in a stored picklist. Refined entries replace the
// corresponding fallback entries; teams still missing stay flagged.
func (s *Service) StartRefinement(ctx context.Context, req *models.RefineRequest) (string, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	prior, err := s.picklists.GetPicklist(ctx, req.PicklistID)
	if err != nil {
		return "", fmt.Errorf("failed to load picklist %s: %w", req.PicklistID, err)
	}

	fallbackTeams := prior.FallbackTeams()
	if len(fallbackTeams) == 0 {
		return "", fmt.Errorf("%w: picklist %s has no fallback entries to refine", ErrInvalidRequest, req.PicklistID)
	}

	teams := make([]models.TeamRecord, 0, len(fallbackTeams))
	for _, number := range fallbackTeams {
		team, err := s.teams.GetTeam(ctx, number)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				// Keep the fallback entry; refinement covers what it can
				s.logger.Warn().Int("team", number).Msg("No scouting record for fallback team, skipping")
				continue
			}
			return "", fmt.Errorf("failed to load team %d: %w", number, err)
		}
		teams = append(teams, *team)
	}
	if len(teams) == 0 {
		return "", fmt.Errorf("%w: no scouting records exist for the fallback teams", ErrInvalidRequest)
	}

	priorities := prior.Priorities
	if req.Priorities != "" {
		priorities = req.Priorities
	}

	genReq := &models.GenerateRequest{
		RequestingTeam: prior.RequestingTeam,
		PickPosition:   prior.PickPosition,
		EventKey:       prior.EventKey,
		Priorities:     priorities,
		Teams:          teams,
		Model:          req.Model,
	}

	operationID := common.NewOperationID(prior.RequestingTeam, "refine")
	if _, err := s.ledger.Create(operationID); err != nil {
		return "", err
	}

	s.logger.Info().
		Str("operation_id", operationID).
		Str("picklist_id", prior.ID).
		Int("fallback_teams", len(teams)).
		Msg("Picklist refinement started")

	go s.run(context.Background(), operationID, genReq, prior.ID)

	return operationID, nil
}

// GetProgress returns the current operation record for polling clients
func (s *Service) GetProgress(operationID string) (*models.Operation, error) {
	return s.ledger.Get(operationID)
}

// ListOperations returns all tracked operations ordered by creation time
func (s *Service) ListOperations() []*models.Operation {
	return s.ledger.List()
}

// GetResult returns the final picklist when the operation has completed.
// Non-terminal operations report their status instead.
func (s *Service) GetResult(operationID string) (*models.Picklist, models.OperationStatus, error) {
	op, err := s.ledger.Get(operationID)
	if err != nil {
		return nil, "", err
	}
	if op.Status == models.OperationCompleted {
		return op.Result, op.Status, nil
	}
	return nil, op.Status, nil
}

// run executes one full generation: prompt, paced model call, reconcile,
// continuation chunks, merge, persist. refineTarget is the picklist whose
// fallback entries the result replaces; empty for a fresh generation.
// Every failure path ends in a ledger fail transition.
func (s *Service) run(ctx context.Context, operationID string, req *models.GenerateRequest, refineTarget string) {
	result, err := s.generate(ctx, operationID, req)
	if err != nil {
		s.logger.Error().Err(err).Str("operation_id", operationID).Msg("Picklist generation failed")
		if ferr := s.ledger.Fail(operationID, err.Error()); ferr != nil {
			s.logger.Warn().Err(ferr).Str("operation_id", operationID).Msg("Failed to record operation failure")
		}
		return
	}

	if refineTarget != "" {
		merged, mergeErr := s.applyRefinement(ctx, refineTarget, result)
		if mergeErr != nil {
			s.logger.Error().Err(mergeErr).Str("operation_id", operationID).Msg("Refinement merge failed")
			_ = s.ledger.Fail(operationID, mergeErr.Error())
			return
		}
		result = merged
	} else {
		result.ID = common.NewPicklistID()
		result.OperationID = operationID
		if err := s.picklists.SavePicklist(ctx, result); err != nil {
			s.logger.Error().Err(err).Str("operation_id", operationID).Msg("Failed to persist picklist")
			_ = s.ledger.Fail(operationID, fmt.Sprintf("failed to persist picklist: %v", err))
			return
		}
	}

	if err := s.ledger.Complete(operationID, "picklist ready", result); err != nil {
		s.logger.Warn().Err(err).Str("operation_id", operationID).Msg("Failed to record operation completion")
	}
}

// generate produces the merged, ordered picklist for one request
func (s *Service) generate(ctx context.Context, operationID string, req *models.GenerateRequest) (*models.Picklist, error) {
	_ = s.ledger.Update(operationID, 5, "preparing scouting data", "prepare")
	_ = s.ledger.Update(operationID, 10, "condensing team records", "prompt")

	prompt, err := s.prompts.BuildInitial(req)
	if err != nil {
		return nil, err
	}
	_ = s.ledger.Update(operationID, 20, fmt.Sprintf("prompt ready for %d teams", len(req.Teams)), "prompt")

	controller := NewController(req.Teams, s.config.ChunkSize, s.config.MaxChunks)

	for {
		batchSize := len(prompt.VerificationList)
		window := s.progressWindow(controller.ChunkIndex())

		completion, err := s.completeWithPacing(ctx, operationID, req.Model, prompt, batchSize, window)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
		}
		if controller.ChunkIndex() == 0 {
			_ = s.ledger.Update(operationID, 60, "response received", "llm_call")
			_ = s.ledger.Update(operationID, 70, "reconciling response", "reconcile")
		} else {
			_ = s.ledger.Update(operationID, window.end, "response received", "reconcile")
		}

		rec, err := s.reconcileWithRetry(ctx, operationID, req.Model, completion, controller.Known(), prompt, batchSize, window)
		if err != nil {
			return nil, err
		}

		if err := controller.Ingest(rec); err != nil {
			return nil, err
		}

		if controller.State() != AwaitingNextChunk {
			break
		}

		next := controller.NextBatch()
		s.logger.Info().
			Str("operation_id", operationID).
			Int("chunk", controller.ChunkIndex()+1).
			Int("remaining_teams", len(controller.Remaining())).
			Msg("Model declared continuation, requesting next chunk")

		prompt, err = s.prompts.BuildContinuation(req, controller.ProcessedTeams(), next)
		if err != nil {
			return nil, err
		}
		_ = s.ledger.Update(operationID, window.end,
			fmt.Sprintf("requesting chunk %d (%d teams remaining)", controller.ChunkIndex()+1, len(next)), "continuation")
	}

	_ = s.ledger.Update(operationID, 80, "deduplicating and merging results", "merge")

	entries, duplicates, fallbacks, analysis, err := controller.Finalize()
	if err != nil {
		return nil, err
	}

	// Sort by score descending, stable on ties by original response order
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	_ = s.ledger.Update(operationID, 90, "finalizing picklist", "finalize")

	now := time.Now().UTC()
	picklist := &models.Picklist{
		RequestingTeam: req.RequestingTeam,
		PickPosition:   req.PickPosition,
		EventKey:       req.EventKey,
		Priorities:     req.Priorities,
		Rankings:       entries,
		DuplicateCount: duplicates,
		FallbackCount:  fallbacks,
		ChunkCount:     controller.ChunkIndex(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if analysis != nil {
		picklist.Analysis = analysis.Summary
	}

	s.logger.Info().
		Str("operation_id", operationID).
		Int("rankings", len(entries)).
		Int("duplicates_removed", duplicates).
		Int("fallbacks_added", fallbacks).
		Int("chunks", controller.ChunkIndex()).
		Msg("Picklist generation finished")

	return picklist, nil
}

// reconcileWithRetry reconciles a completion, re-requesting the same chunk
// a bounded number of times when the payload is unparsable
func (s *Service) reconcileWithRetry(
	ctx context.Context,
	operationID, model string,
	completion string,
	known map[int]models.TeamRecord,
	prompt *Prompt,
	batchSize int,
	window progressWindow,
) (*Reconciliation, error) {
	rec, err := Reconcile(completion, known)
	if err == nil {
		return rec, nil
	}

	retries := s.config.ParseRetries
	for attempt := 1; attempt <= retries && errors.Is(err, ErrMalformedResponse); attempt++ {
		s.logger.Warn().
			Err(err).
			Str("operation_id", operationID).
			Int("attempt", attempt).
			Msg("Malformed model response, re-requesting chunk")
		_ = s.ledger.Update(operationID, window.end,
			fmt.Sprintf("response unparsable, retrying (%d/%d)", attempt, retries), "reconcile")

		completion, err = s.completeWithPacing(ctx, operationID, model, prompt, batchSize, window)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
		}

		rec, err = Reconcile(completion, known)
		if err == nil {
			return rec, nil
		}
	}

	return nil, err
}

// progressWindow is the advisory progress range one chunk's model call
// paces through
type progressWindow struct {
	start float64
	end   float64
}

// progressWindow assigns the first chunk the 20-50 range (60 and 70 are
// reserved for the receive and reconcile milestones) and spreads
// continuation chunks across 70-79. Monotonicity is enforced by the
// ledger either way.
func (s *Service) progressWindow(chunkIndex int) progressWindow {
	if chunkIndex == 0 {
		return progressWindow{start: 20, end: 50}
	}

	maxChunks := s.config.MaxChunks
	if maxChunks < 2 {
		maxChunks = 2
	}
	span := 9.0 / float64(maxChunks-1)
	start := 70 + span*float64(chunkIndex-1)
	return progressWindow{start: start, end: start + span}
}

// completeWithPacing dispatches the model call on its own goroutine and
// emits advisory progress on a fixed cadence while the call is
// outstanding, scaled against the team-count-derived estimate. The
// reporting loop never blocks on the call itself.
func (s *Service) completeWithPacing(
	ctx context.Context,
	operationID, model string,
	prompt *Prompt,
	teamCount int,
	window progressWindow,
) (string, error) {
	request := &interfaces.CompletionRequest{
		Messages:  prompt.Messages,
		Model:     model,
		MaxTokens: s.config.MaxOutputTokens,
	}

	type outcome struct {
		response *interfaces.CompletionResponse
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		response, err := s.llm.Complete(ctx, request)
		done <- outcome{response: response, err: err}
	}()

	secondsPerTeam := s.config.SecondsPerTeam
	if secondsPerTeam <= 0 {
		secondsPerTeam = 0.9
	}
	estimated := time.Duration(float64(teamCount) * secondsPerTeam * float64(time.Second))
	if estimated < time.Second {
		estimated = time.Second
	}

	started := time.Now()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case result := <-done:
			if result.err != nil {
				return "", result.err
			}
			return result.response.Text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			elapsed := time.Since(started)
			fraction := float64(elapsed) / float64(estimated)
			if fraction > 1 {
				fraction = 1
			}
			progressValue := window.start + (window.end-window.start)*fraction
			_ = s.ledger.Update(operationID, progressValue,
				fmt.Sprintf("waiting for model (%s elapsed, ~%s estimated)",
					elapsed.Round(time.Second), estimated.Round(time.Second)),
				"llm_call")
		}
	}
}

// applyRefinement replaces the fallback entries of a stored picklist with
// the refined results, clearing the fallback flag for covered teams
func (s *Service) applyRefinement(ctx context.Context, picklistID string, refined *models.Picklist) (*models.Picklist, error) {
	prior, err := s.picklists.GetPicklist(ctx, picklistID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload picklist %s: %w", picklistID, err)
	}

	refinedByTeam := make(map[int]models.RankingEntry, len(refined.Rankings))
	for _, entry := range refined.Rankings {
		if !entry.IsFallback {
			refinedByTeam[entry.TeamNumber] = entry
		}
	}

	replaced := 0
	for i, entry := range prior.Rankings {
		if !entry.IsFallback {
			continue
		}
		if update, ok := refinedByTeam[entry.TeamNumber]; ok {
			prior.Rankings[i] = update
			replaced++
		}
	}

	prior.FallbackCount -= replaced
	if prior.FallbackCount < 0 {
		prior.FallbackCount = 0
	}

	sort.SliceStable(prior.Rankings, func(i, j int) bool {
		return prior.Rankings[i].Score > prior.Rankings[j].Score
	})

	if err := s.picklists.SavePicklist(ctx, prior); err != nil {
		return nil, fmt.Errorf("failed to save refined picklist: %w", err)
	}

	s.logger.Info().
		Str("picklist_id", picklistID).
		Int("refined", replaced).
		Int("still_fallback", prior.FallbackCount).
		Msg("Refinement applied to stored picklist")

	return prior, nil
}

// validateRequest enforces the InvalidRequest contract before any model
// call is made
func (s *Service) validateRequest(req *models.GenerateRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.PickPosition.Valid() {
		return fmt.Errorf("%w: unknown pick position %q", ErrInvalidRequest, req.PickPosition)
	}

	seen := make(map[int]bool, len(req.Teams))
	for _, t := range req.Teams {
		if t.TeamNumber <= 0 {
			return fmt.Errorf("%w: team number %d is not positive", ErrInvalidRequest, t.TeamNumber)
		}
		if seen[t.TeamNumber] {
			return fmt.Errorf("%w: duplicate team number %d", ErrInvalidRequest, t.TeamNumber)
		}
		seen[t.TeamNumber] = true
	}

	return nil
}
