package domain

import "time"

// CycleRun is the journal entry of one fetch, normalize and load execution.
type CycleRun struct {
	ID         string
	Cadence    Cadence
	Trigger    string
	Status     CycleStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Fetched    int
	Result     LoadResult
	Error      *string
}
