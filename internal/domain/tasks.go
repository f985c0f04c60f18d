package domain

import "sort"

// TaskID identifies one onboarding sub-task.
type TaskID string

// The fixed required task set. A conversation may not proceed to underwriting
// until every one of these is complete.
const (
	TaskConfirmEligibility  TaskID = "confirm_eligibility"
	TaskBusinessProfile     TaskID = "capture_business_profile"
	TaskBusinessFinancials  TaskID = "capture_business_financials"
	TaskBusinessPhotos      TaskID = "capture_business_photos"
	TaskPhotoAnalysisDone   TaskID = "photo_analysis_complete"
)

// RequiredTasks returns the fixed required task set.
func RequiredTasks() []TaskID {
	return []TaskID{
		TaskConfirmEligibility,
		TaskBusinessProfile,
		TaskBusinessFinancials,
		TaskBusinessPhotos,
		TaskPhotoAnalysisDone,
	}
}

// TaskLedger tracks which onboarding sub-tasks are done. A task, once marked
// complete, is never unmarked.
type TaskLedger map[TaskID]bool

// NewTaskLedger returns an empty ledger.
func NewTaskLedger() TaskLedger {
	return make(TaskLedger)
}

// MarkComplete records a task as done. Idempotent: marking a completed task
// again is a no-op.
func (l TaskLedger) MarkComplete(id TaskID) {
	l[id] = true
}

// IsComplete reports whether the task has been completed.
func (l TaskLedger) IsComplete(id TaskID) bool {
	return l[id]
}

// AllComplete reports whether the ledger covers the full required task set.
func (l TaskLedger) AllComplete() bool {
	for _, id := range RequiredTasks() {
		if !l[id] {
			return false
		}
	}
	return true
}

// Completed returns the completed task IDs in stable order.
func (l TaskLedger) Completed() []TaskID {
	out := make([]TaskID, 0, len(l))
	for id, done := range l {
		if done {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy of the ledger.
func (l TaskLedger) Clone() TaskLedger {
	c := make(TaskLedger, len(l))
	for id, done := range l {
		c[id] = done
	}
	return c
}
