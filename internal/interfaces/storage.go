package interfaces

import (
	"context"
	"errors"

	"github.com/gridscout/gridscout/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// TeamStorage persists scouting team records
type TeamStorage interface {
	SaveTeam(ctx context.Context, team *models.TeamRecord) error
	SaveTeams(ctx context.Context, teams []models.TeamRecord) error
	GetTeam(ctx context.Context, teamNumber int) (*models.TeamRecord, error)
	ListTeams(ctx context.Context, eventKey string) ([]models.TeamRecord, error)
	DeleteTeam(ctx context.Context, teamNumber int) error
	CountTeams(ctx context.Context) (int, error)
}

// PicklistStorage persists generated picklists
type PicklistStorage interface {
	SavePicklist(ctx context.Context, picklist *models.Picklist) error
	GetPicklist(ctx context.Context, id string) (*models.Picklist, error)
	ListPicklists(ctx context.Context, limit int) ([]models.Picklist, error)
	DeletePicklist(ctx context.Context, id string) error
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	TeamStorage() TeamStorage
	PicklistStorage() PicklistStorage
	Close() error
}
