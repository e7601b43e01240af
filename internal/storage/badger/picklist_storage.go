package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/gridscout/gridscout/internal/interfaces"
	"github.com/gridscout/gridscout/internal/models"
)

// PicklistStorage implements the PicklistStorage interface for Badger
type PicklistStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPicklistStorage creates a new PicklistStorage instance
func NewPicklistStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PicklistStorage {
	return &PicklistStorage{
		db:     db,
		logger: logger,
	}
}

// SavePicklist inserts or updates a picklist, preserving CreatedAt on update
func (s *PicklistStorage) SavePicklist(ctx context.Context, picklist *models.Picklist) error {
	if picklist.ID == "" {
		return fmt.Errorf("picklist id is required")
	}

	now := time.Now().UTC()
	picklist.UpdatedAt = now

	var existing models.Picklist
	if err := s.db.Store().Get(picklist.ID, &existing); err == nil {
		picklist.CreatedAt = existing.CreatedAt
	} else if picklist.CreatedAt.IsZero() {
		picklist.CreatedAt = now
	}

	if err := s.db.Store().Upsert(picklist.ID, picklist); err != nil {
		return fmt.Errorf("failed to save picklist %s: %w", picklist.ID, err)
	}

	return nil
}

// GetPicklist retrieves a picklist by ID
func (s *PicklistStorage) GetPicklist(ctx context.Context, id string) (*models.Picklist, error) {
	var picklist models.Picklist
	err := s.db.Store().Get(id, &picklist)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get picklist %s: %w", id, err)
	}

	return &picklist, nil
}

// ListPicklists returns stored picklists ordered by creation time descending
func (s *PicklistStorage) ListPicklists(ctx context.Context, limit int) ([]models.Picklist, error) {
	var picklists []models.Picklist
	if err := s.db.Store().Find(&picklists, nil); err != nil {
		return nil, fmt.Errorf("failed to list picklists: %w", err)
	}

	sort.Slice(picklists, func(i, j int) bool {
		return picklists[i].CreatedAt.After(picklists[j].CreatedAt)
	})

	if limit > 0 && len(picklists) > limit {
		picklists = picklists[:limit]
	}

	return picklists, nil
}

// DeletePicklist removes a picklist
func (s *PicklistStorage) DeletePicklist(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.Picklist{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete picklist %s: %w", id, err)
	}

	return nil
}
