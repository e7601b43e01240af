package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/gridscout/gridscout/internal/common"
	"github.com/gridscout/gridscout/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	team     interfaces.TeamStorage
	picklist interfaces.PicklistStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		team:     NewTeamStorage(db, logger),
		picklist: NewPicklistStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// TeamStorage returns the Team storage interface
func (m *Manager) TeamStorage() interfaces.TeamStorage {
	return m.team
}

// PicklistStorage returns the Picklist storage interface
func (m *Manager) PicklistStorage() interfaces.PicklistStorage {
	return m.picklist
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
