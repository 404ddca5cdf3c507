package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks a batch of translations.
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
	Faults     uint64    `json:"faults"`
}

// IncrementInProgress adds the number of in-progress translations.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// IncrementFaults counts translations that ended in a page fault.
func (b *ProgressBar) IncrementFaults(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Faults += amount
}

// MoveInProgressToFinished reduces the number of in progress translations by
// a certain amount and increases the finished ones by the same amount.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress -= amount
	b.Finished += amount
}

// Counts returns the finished, in-progress and faulted translations.
func (b *ProgressBar) Counts() (finished, inProgress, faults uint64) {
	b.Lock()
	defer b.Unlock()

	return b.Finished, b.InProgress, b.Faults
}
