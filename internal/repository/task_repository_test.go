package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cohort-portal-api/internal/models"
)

func taskRowColumns() []string {
	return []string{
		"id", "title", "sub_heading", "description", "project", "assigned_by", "due_date",
		"status", "progress", "start_date", "completed_date", "created_at", "updated_at",
	}
}

func TestTaskRepositoryCreateInsertsAssigneesInTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTaskRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tasks")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_assignees")).
		WithArgs(sqlmock.AnyArg(), "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_assignees")).
		WithArgs(sqlmock.AnyArg(), "stu-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task := &models.Task{
		Title:        "Prototype review",
		AssignedByID: "admin-1",
		DueDate:      time.Now().Add(48 * time.Hour),
		Status:       models.TaskStatusAssigned,
		AssignedTo: []models.UserRef{
			{ID: "stu-1"},
			{ID: "stu-2"},
		},
	}
	require.NoError(t, repo.Create(context.Background(), task))
	require.NotEmpty(t, task.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryFindByIDAttachesRefs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTaskRepository(db)
	now := time.Now()
	due := now.Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT t.id, t.title")).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows(taskRowColumns()).
			AddRow("task-1", "Prototype review", "", "", "", "admin-1", due,
				"In Progress", 40, now, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM task_assignees ta JOIN users u")).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email"}).
			AddRow("stu-1", "Sara Ahmed", "sara@cloud.neduet.edu.pk"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, COALESCE(full_name, '') AS full_name, email FROM users WHERE id = $1")).
		WithArgs("admin-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email"}).
			AddRow("admin-1", "Dr. Imran", "admin@cloud.neduet.edu.pk"))

	task, err := repo.FindByID(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusInProgress, task.Status)
	require.Len(t, task.AssignedTo, 1)
	require.Equal(t, "sara@cloud.neduet.edu.pk", task.AssignedTo[0].Email)
	require.NotNil(t, task.AssignedBy)
	require.Equal(t, "admin-1", task.AssignedBy.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryDeleteMissingReturnsNoRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTaskRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tasks WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryReplaceAssigneesTransactional(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTaskRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM task_assignees WHERE task_id = $1")).
		WithArgs("task-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_assignees")).
		WithArgs("task-1", "stu-3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceAssignees(context.Background(), "task-1", []string{"stu-3"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
