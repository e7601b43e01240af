package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewOperationID derives a readable, unique operation identifier from the
// requesting team and pick position, e.g. "picklist-1234-first-1700000000-a1b2c3d4"
func NewOperationID(teamNumber int, position string) string {
	return fmt.Sprintf("picklist-%d-%s-%d-%s",
		teamNumber, position, time.Now().Unix(), uuid.New().String()[:8])
}

// NewPicklistID returns a fresh picklist identifier
func NewPicklistID() string {
	return uuid.New().String()
}
