package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusTransitions(t *testing.T) {
	cases := []struct {
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{TaskStatusAssigned, TaskStatusInProgress, true},
		{TaskStatusAssigned, TaskStatusCompleted, true},
		{TaskStatusInProgress, TaskStatusPendingApproval, true},
		{TaskStatusPendingApproval, TaskStatusCompleted, true},
		{TaskStatusInProgress, TaskStatusInProgress, true},
		{TaskStatusInProgress, TaskStatusAssigned, false},
		{TaskStatusCompleted, TaskStatusPendingApproval, false},
		{TaskStatusCompleted, TaskStatusAssigned, false},
		{TaskStatusAssigned, TaskStatus("Archived"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTaskStatusValid(t *testing.T) {
	assert.True(t, TaskStatusPendingApproval.Valid())
	assert.False(t, TaskStatus("Done").Valid())
	assert.False(t, TaskStatus("").Valid())
}

func TestHasAssignee(t *testing.T) {
	task := &Task{AssignedTo: []UserRef{{ID: "stu-1"}, {ID: "stu-2"}}}
	assert.True(t, task.HasAssignee("stu-1"))
	assert.False(t, task.HasAssignee("stu-3"))
}
