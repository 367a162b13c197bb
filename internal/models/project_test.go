package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeProjectStatusFoldsVariants(t *testing.T) {
	cases := map[string]ProjectStatus{
		"todo":        ProjectStatusTodo,
		"Todo":        ProjectStatusTodo,
		"Active":      ProjectStatusActive,
		"In Progress": ProjectStatusInProgress,
		"in-progress": ProjectStatusInProgress,
		"inProgress":  ProjectStatusInProgress,
		"ON HOLD":     ProjectStatusOnHold,
		"on_hold":     ProjectStatusOnHold,
		"Completed":   ProjectStatusCompleted,
	}
	for raw, want := range cases {
		got, ok := NormalizeProjectStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestNormalizeProjectStatusRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"archived", "done", ""} {
		_, ok := NormalizeProjectStatus(raw)
		assert.False(t, ok, raw)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "sara@cloud.neduet.edu.pk", NormalizeEmail("  Sara@Cloud.NEDUET.edu.pk "))
}
