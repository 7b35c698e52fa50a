package st

import "time"

// Operation is a record of one CLI or daemon command that mutated state.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// OperationLog persists Operation records.
type OperationLog interface {
	Start(operation, parameters string) (int64, error)
	Finish(id int64, status string) error
	List(limit int) ([]*Operation, error)
}
