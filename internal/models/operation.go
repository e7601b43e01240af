package models

import "time"

// OperationStatus represents the lifecycle state of a long-running operation
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationActive    OperationStatus = "active"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// IsTerminal reports whether the status accepts no further updates
func (s OperationStatus) IsTerminal() bool {
	return s == OperationCompleted || s == OperationFailed
}

// Operation tracks one in-flight picklist generation for polling clients.
// Progress is monotonically non-decreasing while the operation is active;
// once the status is terminal the record is frozen until eviction.
type Operation struct {
	ID          string          `json:"operation_id"`
	Status      OperationStatus `json:"status"`
	Progress    float64         `json:"progress"` // 0-100
	Message     string          `json:"message,omitempty"`
	CurrentStep string          `json:"current_step,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	// Result is populated only when Status is completed
	Result *Picklist `json:"result,omitempty"`
	// Error is populated only when Status is failed
	Error string `json:"error,omitempty"`
}

// Clone returns a copy safe to hand to callers while the original
// keeps being mutated under the ledger lock.
func (o *Operation) Clone() *Operation {
	c := *o
	return &c
}
