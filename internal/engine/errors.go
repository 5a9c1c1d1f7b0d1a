package engine

import (
	"errors"
	"fmt"
)

// ErrNoCandidates aborts governance when no active candidates exist to
// decide on. Prior decisions are left untouched.
var ErrNoCandidates = errors.New("no active project candidates")

// InvalidSignalError marks an issue whose signal data cannot be scored.
type InvalidSignalError struct {
	IssueID int64
	Reason  string
}

func (e *InvalidSignalError) Error() string {
	return fmt.Sprintf("issue %d has invalid signal: %s", e.IssueID, e.Reason)
}

// DuplicateCandidateError marks an attempt to form a second live candidate
// for the same issue.
type DuplicateCandidateError struct {
	IssueID int64
}

func (e *DuplicateCandidateError) Error() string {
	return fmt.Sprintf("issue %d already has an active project candidate", e.IssueID)
}

// BudgetConfigError marks an unusable budget, found before allocation
// touches any decision row.
type BudgetConfigError struct {
	Budget float64
	Reason string
}

func (e *BudgetConfigError) Error() string {
	return fmt.Sprintf("budget %.2f unusable: %s", e.Budget, e.Reason)
}

// CapacityExceededError marks a schedule write that would overbook a crew
// week. Scheduling only commits allocations it has verified, so seeing this
// means the ledger and the task table disagree.
type CapacityExceededError struct {
	ResourceType string
	Week         int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s overbooked in week %d", e.ResourceType, e.Week)
}

// UnschedulableProjectError marks an approved project with no feasible
// window inside the horizon. Reported per project, never fatal to the run.
type UnschedulableProjectError struct {
	ProjectID int64
	Title     string
}

func (e *UnschedulableProjectError) Error() string {
	return fmt.Sprintf("no feasible window for project %d (%s)", e.ProjectID, e.Title)
}

// StageTransitionError marks an illegal pipeline stage move.
type StageTransitionError struct {
	From, To string
}

func (e *StageTransitionError) Error() string {
	return fmt.Sprintf("illegal stage transition %s -> %s", e.From, e.To)
}
