package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/gridscout/gridscout/internal/interfaces"
	"github.com/gridscout/gridscout/internal/models"
)

// TeamStorage implements the TeamStorage interface for Badger
type TeamStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTeamStorage creates a new TeamStorage instance
func NewTeamStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TeamStorage {
	return &TeamStorage{
		db:     db,
		logger: logger,
	}
}

// SaveTeam inserts or updates a team record
func (s *TeamStorage) SaveTeam(ctx context.Context, team *models.TeamRecord) error {
	if team.TeamNumber <= 0 {
		return fmt.Errorf("team number must be positive, got %d", team.TeamNumber)
	}

	team.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Upsert(team.TeamNumber, team); err != nil {
		return fmt.Errorf("failed to save team %d: %w", team.TeamNumber, err)
	}

	return nil
}

// SaveTeams inserts or updates a batch of team records
func (s *TeamStorage) SaveTeams(ctx context.Context, teams []models.TeamRecord) error {
	for i := range teams {
		if err := s.SaveTeam(ctx, &teams[i]); err != nil {
			return err
		}
	}

	s.logger.Debug().Int("count", len(teams)).Msg("Saved team records")
	return nil
}

// GetTeam retrieves a team record by team number
func (s *TeamStorage) GetTeam(ctx context.Context, teamNumber int) (*models.TeamRecord, error) {
	var team models.TeamRecord
	err := s.db.Store().Get(teamNumber, &team)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team %d: %w", teamNumber, err)
	}

	return &team, nil
}

// ListTeams returns all team records, optionally filtered by event key
func (s *TeamStorage) ListTeams(ctx context.Context, eventKey string) ([]models.TeamRecord, error) {
	var teams []models.TeamRecord

	var err error
	if eventKey != "" {
		err = s.db.Store().Find(&teams, badgerhold.Where("EventKey").Eq(eventKey))
	} else {
		err = s.db.Store().Find(&teams, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}

	return teams, nil
}

// DeleteTeam removes a team record
func (s *TeamStorage) DeleteTeam(ctx context.Context, teamNumber int) error {
	err := s.db.Store().Delete(teamNumber, &models.TeamRecord{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete team %d: %w", teamNumber, err)
	}

	return nil
}

// CountTeams returns the total number of stored team records
func (s *TeamStorage) CountTeams(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.TeamRecord{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count teams: %w", err)
	}
	return int(count), nil
}
