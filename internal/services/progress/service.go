package progress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/gridscout/gridscout/internal/common"
	"github.com/gridscout/gridscout/internal/interfaces"
	"github.com/gridscout/gridscout/internal/models"
)

var (
	// ErrOperationExists is returned when creating an operation whose id
	// is already tracked and not terminal
	ErrOperationExists = errors.New("operation already exists")

	// ErrOperationNotFound is returned for unknown or evicted operations
	ErrOperationNotFound = errors.New("operation not found")

	// ErrTerminalConflict is returned when a terminal transition conflicts
	// with the terminal state already recorded
	ErrTerminalConflict = errors.New("operation already in conflicting terminal state")
)

// Service is the process-wide ledger of picklist generation operations.
// It is the only shared mutable state in the generation pipeline; every
// mutation goes through the registry mutex. Records are transient: no
// durability is provided across process restarts.
type Service struct {
	mu         sync.RWMutex
	operations map[string]*models.Operation

	staleTimeout time.Duration
	retention    time.Duration

	eventService interfaces.EventService
	logger       arbor.ILogger

	// now is injectable for staleness tests
	now func() time.Time
}

// NewService creates a new progress ledger
func NewService(config *common.PicklistConfig, eventService interfaces.EventService, logger arbor.ILogger) *Service {
	staleTimeout := config.StaleTimeout
	if staleTimeout <= 0 {
		staleTimeout = 60 * time.Second
	}
	retention := config.Retention
	if retention <= 0 {
		retention = time.Hour
	}

	return &Service{
		operations:   make(map[string]*models.Operation),
		staleTimeout: staleTimeout,
		retention:    retention,
		eventService: eventService,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create registers a new operation in pending state with progress 0.
// A terminal record under the same id is replaced; an in-flight one
// causes ErrOperationExists.
func (s *Service) Create(operationID string) (*models.Operation, error) {
	if operationID == "" {
		return nil, fmt.Errorf("operation id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.operations[operationID]; ok && !existing.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrOperationExists, operationID)
	}

	now := s.now()
	op := &models.Operation{
		ID:        operationID,
		Status:    models.OperationPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.operations[operationID] = op

	s.logger.Debug().Str("operation_id", operationID).Msg("Operation created")

	return op.Clone(), nil
}

// Update advances the operation's progress and description. Progress is
// clamped to [0,100] and never regresses below the stored value. Updating
// a terminal or unknown operation fails with ErrOperationNotFound.
func (s *Service) Update(operationID string, progress float64, message, currentStep string) error {
	s.mu.Lock()

	op, ok := s.operations[operationID]
	if !ok || op.Status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	// Monotonic: clamp regressions up to the stored value
	if progress < op.Progress {
		progress = op.Progress
	}

	op.Status = models.OperationActive
	op.Progress = progress
	op.Message = message
	if currentStep != "" {
		op.CurrentStep = currentStep
	}
	op.UpdatedAt = s.now()

	snapshot := op.Clone()
	s.mu.Unlock()

	s.publish(interfaces.EventPicklistProgress, snapshot)
	return nil
}

// Complete transitions the operation to its completed terminal state.
// Repeating the call is a no-op; completing a failed operation returns
// ErrTerminalConflict.
func (s *Service) Complete(operationID, message string, result *models.Picklist) error {
	s.mu.Lock()

	op, ok := s.operations[operationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}

	if op.Status == models.OperationCompleted {
		s.mu.Unlock()
		return nil
	}
	if op.Status == models.OperationFailed {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot complete failed operation %s", ErrTerminalConflict, operationID)
	}

	op.Status = models.OperationCompleted
	op.Progress = 100
	if message != "" {
		op.Message = message
	}
	op.CurrentStep = "done"
	op.Result = result
	op.UpdatedAt = s.now()

	snapshot := op.Clone()
	s.mu.Unlock()

	s.logger.Info().Str("operation_id", operationID).Msg("Operation completed")
	s.publish(interfaces.EventPicklistCompleted, snapshot)
	return nil
}

// Fail transitions the operation to its failed terminal state.
// Repeating the call is a no-op; failing a completed operation returns
// ErrTerminalConflict.
func (s *Service) Fail(operationID, message string) error {
	s.mu.Lock()

	op, ok := s.operations[operationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}

	if op.Status == models.OperationFailed {
		s.mu.Unlock()
		return nil
	}
	if op.Status == models.OperationCompleted {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot fail completed operation %s", ErrTerminalConflict, operationID)
	}

	op.Status = models.OperationFailed
	op.Error = message
	if message != "" {
		op.Message = message
	}
	op.UpdatedAt = s.now()

	snapshot := op.Clone()
	s.mu.Unlock()

	s.logger.Warn().Str("operation_id", operationID).Str("error", message).Msg("Operation failed")
	s.publish(interfaces.EventPicklistFailed, snapshot)
	return nil
}

// Get returns a copy of the operation record
func (s *Service) Get(operationID string) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operations[operationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}

	return op.Clone(), nil
}

// ListActive returns non-terminal operations ordered by creation time
func (s *Service) ListActive() []*models.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*models.Operation
	for _, op := range s.operations {
		if !op.Status.IsTerminal() {
			active = append(active, op.Clone())
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	return active
}

// List returns all tracked operations ordered by creation time
func (s *Service) List() []*models.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Operation, 0, len(s.operations))
	for _, op := range s.operations {
		all = append(all, op.Clone())
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	return all
}

// Sweep force-fails active operations that have not progressed within the
// staleness window and evicts terminal records older than the retention
// window. Returns the number of stalled and evicted records.
func (s *Service) Sweep() (stalled int, evicted int) {
	now := s.nowLocked()

	s.mu.Lock()
	var failedSnapshots []*models.Operation
	for id, op := range s.operations {
		switch {
		case !op.Status.IsTerminal() && now.Sub(op.UpdatedAt) > s.staleTimeout:
			op.Status = models.OperationFailed
			op.Error = fmt.Sprintf("operation stalled: no progress for %s", now.Sub(op.UpdatedAt).Round(time.Second))
			op.Message = op.Error
			op.UpdatedAt = now
			stalled++
			failedSnapshots = append(failedSnapshots, op.Clone())
		case op.Status.IsTerminal() && now.Sub(op.UpdatedAt) > s.retention:
			delete(s.operations, id)
			evicted++
		}
	}
	s.mu.Unlock()

	for _, snapshot := range failedSnapshots {
		s.logger.Warn().Str("operation_id", snapshot.ID).Msg("Stalled operation force-failed by sweeper")
		s.publish(interfaces.EventPicklistFailed, snapshot)
	}

	if stalled > 0 || evicted > 0 {
		s.logger.Info().Int("stalled", stalled).Int("evicted", evicted).Msg("Ledger sweep finished")
	}

	return stalled, evicted
}

func (s *Service) nowLocked() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *Service) publish(eventType interfaces.EventType, op *models.Operation) {
	if s.eventService == nil {
		return
	}
	_ = s.eventService.Publish(context.Background(), interfaces.Event{
		Type:    eventType,
		Payload: op,
	})
}
