package models

import "time"

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskStatusAssigned        TaskStatus = "Assigned"
	TaskStatusInProgress      TaskStatus = "In Progress"
	TaskStatusPendingApproval TaskStatus = "Pending Approval"
	TaskStatusCompleted       TaskStatus = "Completed"
)

// taskStatusRank orders the lifecycle. Transitions may only move forward;
// Assigned → In Progress → Pending Approval → Completed.
var taskStatusRank = map[TaskStatus]int{
	TaskStatusAssigned:        0,
	TaskStatusInProgress:      1,
	TaskStatusPendingApproval: 2,
	TaskStatusCompleted:       3,
}

// Valid reports whether the status is a known lifecycle state.
func (s TaskStatus) Valid() bool {
	_, ok := taskStatusRank[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is a forward (or
// same-state) transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	from, ok := taskStatusRank[s]
	if !ok {
		return false
	}
	to, ok := taskStatusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// ApprovalMinProgress is the progress floor for requesting approval.
const ApprovalMinProgress = 90

// StudentProgressCap is the highest progress a student actor may record.
const StudentProgressCap = 90

// Task represents a task lifecycle record.
type Task struct {
	ID            string     `db:"id" json:"id"`
	Title         string     `db:"title" json:"title"`
	SubHeading    string     `db:"sub_heading" json:"sub_heading"`
	Description   string     `db:"description" json:"description"`
	Project       string     `db:"project" json:"project"`
	AssignedByID  string     `db:"assigned_by" json:"-"`
	DueDate       time.Time  `db:"due_date" json:"due_date"`
	Status        TaskStatus `db:"status" json:"status"`
	Progress      int        `db:"progress" json:"progress"`
	StartDate     *time.Time `db:"start_date" json:"start_date,omitempty"`
	CompletedDate *time.Time `db:"completed_date" json:"completed_date,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	AssignedTo []UserRef `json:"assigned_to"`
	AssignedBy *UserRef  `json:"assigned_by,omitempty"`
}

// HasAssignee reports whether the given identity is part of the assignee set.
func (t *Task) HasAssignee(userID string) bool {
	for _, ref := range t.AssignedTo {
		if ref.ID == userID {
			return true
		}
	}
	return false
}
