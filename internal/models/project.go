package models

import (
	"strings"
	"time"
)

// ProjectStatus is the canonical project state enumeration. The legacy data
// carried overlapping casing variants (todo/Active/Completed/On Hold); input
// is normalized onto this single set.
type ProjectStatus string

const (
	ProjectStatusTodo       ProjectStatus = "todo"
	ProjectStatusActive     ProjectStatus = "active"
	ProjectStatusInProgress ProjectStatus = "inprogress"
	ProjectStatusOnHold     ProjectStatus = "onhold"
	ProjectStatusCompleted  ProjectStatus = "completed"
)

// NormalizeProjectStatus folds casing/spacing variants onto the canonical
// enumeration. The second result is false for unknown values.
func NormalizeProjectStatus(raw string) (ProjectStatus, bool) {
	folded := strings.ToLower(raw)
	folded = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(folded)
	switch ProjectStatus(folded) {
	case ProjectStatusTodo, ProjectStatusActive, ProjectStatusInProgress, ProjectStatusOnHold, ProjectStatusCompleted:
		return ProjectStatus(folded), true
	}
	return "", false
}

// DefaultProjectColor is applied when a project is created without a tag.
const DefaultProjectColor = "#3b82f6"

// Project represents a project registry record.
type Project struct {
	ID          string        `db:"id" json:"id"`
	Title       string        `db:"title" json:"title"`
	Description string        `db:"description" json:"description"`
	DueDate     *time.Time    `db:"due_date" json:"due_date,omitempty"`
	Color       string        `db:"color" json:"color"`
	Status      ProjectStatus `db:"status" json:"status"`
	CreatedBy   *string       `db:"created_by" json:"-"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`

	AssignedTo []UserRef `json:"assigned_to"`
	Owner      *UserRef  `json:"created_by,omitempty"`
}
