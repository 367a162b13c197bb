package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-portal-api/internal/models"
	appErrors "github.com/noah-isme/cohort-portal-api/pkg/errors"
)

type mockTaskRepo struct {
	tasks       map[string]*models.Task
	nextID      int
	updateCalls int
	replaced    map[string][]string
	added       map[string][]string
}

func newMockTaskRepo(tasks ...*models.Task) *mockTaskRepo {
	m := &mockTaskRepo{
		tasks:    make(map[string]*models.Task),
		replaced: make(map[string][]string),
		added:    make(map[string][]string),
	}
	for _, task := range tasks {
		m.tasks[task.ID] = task
	}
	return m
}

func (m *mockTaskRepo) Create(_ context.Context, task *models.Task) error {
	m.nextID++
	task.ID = fmt.Sprintf("task-%d", m.nextID)
	m.tasks[task.ID] = task
	return nil
}

func (m *mockTaskRepo) FindByID(_ context.Context, id string) (*models.Task, error) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *task
	return &copied, nil
}

func (m *mockTaskRepo) List(_ context.Context) ([]models.Task, error) {
	out := make([]models.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, *task)
	}
	return out, nil
}

func (m *mockTaskRepo) ListByAssignee(_ context.Context, userID string) ([]models.Task, error) {
	var out []models.Task
	for _, task := range m.tasks {
		if task.HasAssignee(userID) {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (m *mockTaskRepo) Update(_ context.Context, task *models.Task) error {
	m.updateCalls++
	stored, ok := m.tasks[task.ID]
	if !ok {
		return sql.ErrNoRows
	}
	assignees := stored.AssignedTo
	*stored = *task
	stored.AssignedTo = assignees
	return nil
}

func (m *mockTaskRepo) AddAssignees(_ context.Context, taskID string, userIDs []string) error {
	m.added[taskID] = append(m.added[taskID], userIDs...)
	return nil
}

func (m *mockTaskRepo) ReplaceAssignees(_ context.Context, taskID string, userIDs []string) error {
	m.replaced[taskID] = userIDs
	return nil
}

func (m *mockTaskRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.tasks[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.tasks, id)
	return nil
}

type mockResolver struct {
	known map[string]models.UserRef
}

func (m *mockResolver) FindByEmail(_ context.Context, email string) (*models.User, error) {
	ref, ok := m.known[models.NormalizeEmail(email)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.User{ID: ref.ID, Email: ref.Email, FullName: ref.FullName}, nil
}

func (m *mockResolver) ResolveEmails(_ context.Context, emails []string) ([]models.UserRef, []string, error) {
	var refs []models.UserRef
	var missing []string
	for _, email := range emails {
		if ref, ok := m.known[models.NormalizeEmail(email)]; ok {
			refs = append(refs, ref)
		} else {
			missing = append(missing, email)
		}
	}
	return refs, missing, nil
}

type mockNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockNotifier) ApprovalRequested(assignerEmail, studentName, taskTitle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, assignerEmail+"|"+taskTitle)
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Email: "admin@cloud.neduet.edu.pk"}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent, Email: id + "@cloud.neduet.edu.pk"}
}

func newTestTaskService(repo *mockTaskRepo, notifier ApprovalNotifier) (*TaskService, *mockResolver) {
	resolver := &mockResolver{known: map[string]models.UserRef{
		"sara@cloud.neduet.edu.pk": {ID: "stu-1", Email: "sara@cloud.neduet.edu.pk", FullName: "Sara Ahmed"},
		"ali@cloud.neduet.edu.pk":  {ID: "stu-2", Email: "ali@cloud.neduet.edu.pk", FullName: "Ali Raza"},
	}}
	return NewTaskService(repo, resolver, notifier, nil, nil, zap.NewNop()), resolver
}

func seedTask(status models.TaskStatus, progress int) *models.Task {
	return &models.Task{
		ID:           "task-1",
		Title:        "FYP literature review",
		Status:       status,
		Progress:     progress,
		AssignedByID: "admin-1",
		DueDate:      time.Now().Add(72 * time.Hour),
		AssignedTo: []models.UserRef{
			{ID: "stu-1", Email: "sara@cloud.neduet.edu.pk", FullName: "Sara Ahmed"},
		},
		AssignedBy: &models.UserRef{ID: "admin-1", Email: "admin@cloud.neduet.edu.pk"},
	}
}

func TestCreateTaskForcesInitialState(t *testing.T) {
	repo := newMockTaskRepo()
	svc, _ := newTestTaskService(repo, nil)

	task, err := svc.Create(context.Background(), CreateTaskRequest{
		Title:      "  Wire up the sensor rig  ",
		AssignedTo: []string{"sara@cloud.neduet.edu.pk"},
		DueDate:    time.Now().Add(48 * time.Hour),
	}, adminClaims())
	require.NoError(t, err)

	assert.Equal(t, "Wire up the sensor rig", task.Title)
	assert.Equal(t, models.TaskStatusAssigned, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Nil(t, task.StartDate)
	assert.Nil(t, task.CompletedDate)
}

func TestCreateTaskRejectsNonAdmin(t *testing.T) {
	svc, _ := newTestTaskService(newMockTaskRepo(), nil)

	_, err := svc.Create(context.Background(), CreateTaskRequest{
		Title:      "Nope",
		AssignedTo: []string{"sara@cloud.neduet.edu.pk"},
		DueDate:    time.Now(),
	}, studentClaims("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCreateTaskUnknownAssignee(t *testing.T) {
	svc, _ := newTestTaskService(newMockTaskRepo(), nil)

	_, err := svc.Create(context.Background(), CreateTaskRequest{
		Title:      "Task",
		AssignedTo: []string{"ghost@cloud.neduet.edu.pk"},
		DueDate:    time.Now(),
	}, adminClaims())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "ghost@cloud.neduet.edu.pk")
}

func TestUpdateStatusRejectsBackwardTransition(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusPendingApproval, 95))
	svc, _ := newTestTaskService(repo, nil)

	_, err := svc.UpdateStatus(context.Background(), "task-1", UpdateStatusRequest{Status: "In Progress"}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Zero(t, repo.updateCalls)
}

func TestLifecycleMutationsRejectMissingActor(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 95))
	svc, _ := newTestTaskService(repo, nil)

	_, err := svc.UpdateStatus(context.Background(), "task-1", UpdateStatusRequest{Status: "Completed"}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	progress := 60
	_, err = svc.UpdateProgress(context.Background(), "task-1", UpdateProgressRequest{Progress: &progress}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	_, err = svc.RequestApproval(context.Background(), "task-1", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
	assert.Zero(t, repo.updateCalls)
}

func TestUpdateStatusUnknownValue(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusAssigned, 0))
	svc, _ := newTestTaskService(repo, nil)

	_, err := svc.UpdateStatus(context.Background(), "task-1", UpdateStatusRequest{Status: "Almost Done"}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdateStatusPendingApprovalNeedsProgress(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 50))
	svc, _ := newTestTaskService(repo, nil)

	_, err := svc.UpdateStatus(context.Background(), "task-1", UpdateStatusRequest{Status: "Pending Approval"}, studentClaims("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdateStatusPendingApprovalNonAssigneeForbidden(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 90))
	svc, _ := newTestTaskService(repo, nil)

	_, err := svc.UpdateStatus(context.Background(), "task-1", UpdateStatusRequest{Status: "Pending Approval"}, studentClaims("stu-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestUpdateStatusCompletedAdminOnly(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusPendingApproval, 95))
	svc, _ := newTestTaskService(repo, nil)

	_, err := svc.UpdateStatus(context.Background(), "task-1", UpdateStatusRequest{Status: "Completed"}, studentClaims("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	task, err := svc.UpdateStatus(context.Background(), "task-1", UpdateStatusRequest{Status: "Completed"}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.CompletedDate)
}

func TestUpdateStatusCompletedDateSetOnce(t *testing.T) {
	stamped := time.Now().Add(-24 * time.Hour).UTC()
	seeded := seedTask(models.TaskStatusPendingApproval, 95)
	seeded.CompletedDate = &stamped
	repo := newMockTaskRepo(seeded)
	svc, _ := newTestTaskService(repo, nil)

	task, err := svc.UpdateStatus(context.Background(), "task-1", UpdateStatusRequest{Status: "Completed"}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, stamped, *task.CompletedDate)
}

func TestUpdateProgressMovesAssignedToInProgress(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusAssigned, 0))
	svc, _ := newTestTaskService(repo, nil)

	progress := 25
	task, err := svc.UpdateProgress(context.Background(), "task-1", UpdateProgressRequest{Progress: &progress}, studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, task.Status)
	assert.Equal(t, 25, task.Progress)
	require.NotNil(t, task.StartDate)
}

func TestUpdateProgressStudentCappedAt90(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 80))
	svc, _ := newTestTaskService(repo, nil)

	progress := 100
	task, err := svc.UpdateProgress(context.Background(), "task-1", UpdateProgressRequest{Progress: &progress}, studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StudentProgressCap, task.Progress)
}

func TestUpdateProgressAdminNotCapped(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 80))
	svc, _ := newTestTaskService(repo, nil)

	progress := 100
	task, err := svc.UpdateProgress(context.Background(), "task-1", UpdateProgressRequest{Progress: &progress}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, 100, task.Progress)
}

func TestUpdateProgressOutOfRange(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 10))
	svc, _ := newTestTaskService(repo, nil)

	progress := 120
	_, err := svc.UpdateProgress(context.Background(), "task-1", UpdateProgressRequest{Progress: &progress}, adminClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdateProgressNonAssigneeForbidden(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 10))
	svc, _ := newTestTaskService(repo, nil)

	progress := 50
	_, err := svc.UpdateProgress(context.Background(), "task-1", UpdateProgressRequest{Progress: &progress}, studentClaims("stu-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRequestApprovalNotifiesAssigner(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 90))
	notifier := &mockNotifier{}
	svc, _ := newTestTaskService(repo, notifier)

	task, err := svc.RequestApproval(context.Background(), "task-1", studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPendingApproval, task.Status)

	require.Len(t, notifier.calls, 1)
	assert.Contains(t, notifier.calls[0], "admin@cloud.neduet.edu.pk")
}

func TestRequestApprovalBelowThreshold(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 60))
	svc, _ := newTestTaskService(repo, &mockNotifier{})

	_, err := svc.RequestApproval(context.Background(), "task-1", studentClaims("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignUnionsStudents(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusAssigned, 0))
	svc, _ := newTestTaskService(repo, nil)

	_, err := svc.Assign(context.Background(), "task-1", AssignStudentsRequest{
		AssignedTo: []string{"ali@cloud.neduet.edu.pk"},
	}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, []string{"stu-2"}, repo.added["task-1"])
}

func TestFullUpdateReplacesAssignees(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusAssigned, 0))
	svc, _ := newTestTaskService(repo, nil)

	assignees := []string{"ali@cloud.neduet.edu.pk"}
	title := "Revised title"
	_, err := svc.Update(context.Background(), "task-1", UpdateTaskRequest{
		Title:      &title,
		AssignedTo: &assignees,
	}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, []string{"stu-2"}, repo.replaced["task-1"])
	assert.Equal(t, "Revised title", repo.tasks["task-1"].Title)
}

func TestDeleteMissingTask(t *testing.T) {
	svc, _ := newTestTaskService(newMockTaskRepo(), nil)

	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExportCSVIncludesTasks(t *testing.T) {
	repo := newMockTaskRepo(seedTask(models.TaskStatusInProgress, 40))
	svc, _ := newTestTaskService(repo, nil)

	payload, contentType, err := svc.Export(context.Background(), "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Contains(t, string(payload), "FYP literature review")
	assert.Contains(t, string(payload), "sara@cloud.neduet.edu.pk")
}

func TestExportUnknownFormat(t *testing.T) {
	svc, _ := newTestTaskService(newMockTaskRepo(), nil)

	_, _, err := svc.Export(context.Background(), "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
