package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-portal-api/internal/middleware"
	"github.com/noah-isme/cohort-portal-api/internal/models"
	"github.com/noah-isme/cohort-portal-api/internal/service"
)

type memoryTaskRepo struct {
	tasks map[string]*models.Task
}

func (m *memoryTaskRepo) Create(_ context.Context, task *models.Task) error {
	task.ID = "task-1"
	m.tasks[task.ID] = task
	return nil
}

func (m *memoryTaskRepo) FindByID(_ context.Context, id string) (*models.Task, error) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *task
	return &copied, nil
}

func (m *memoryTaskRepo) List(_ context.Context) ([]models.Task, error) {
	out := make([]models.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, *task)
	}
	return out, nil
}

func (m *memoryTaskRepo) ListByAssignee(_ context.Context, userID string) ([]models.Task, error) {
	var out []models.Task
	for _, task := range m.tasks {
		if task.HasAssignee(userID) {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (m *memoryTaskRepo) Update(_ context.Context, task *models.Task) error {
	stored, ok := m.tasks[task.ID]
	if !ok {
		return sql.ErrNoRows
	}
	assignees := stored.AssignedTo
	*stored = *task
	stored.AssignedTo = assignees
	return nil
}

func (m *memoryTaskRepo) AddAssignees(context.Context, string, []string) error     { return nil }
func (m *memoryTaskRepo) ReplaceAssignees(context.Context, string, []string) error { return nil }

func (m *memoryTaskRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.tasks[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.tasks, id)
	return nil
}

type memoryResolver struct{}

func (memoryResolver) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if models.NormalizeEmail(email) == "sara@cloud.neduet.edu.pk" {
		return &models.User{ID: "stu-1", Email: "sara@cloud.neduet.edu.pk"}, nil
	}
	return nil, sql.ErrNoRows
}

func (memoryResolver) ResolveEmails(_ context.Context, emails []string) ([]models.UserRef, []string, error) {
	var refs []models.UserRef
	var missing []string
	for _, email := range emails {
		if models.NormalizeEmail(email) == "sara@cloud.neduet.edu.pk" {
			refs = append(refs, models.UserRef{ID: "stu-1", Email: "sara@cloud.neduet.edu.pk"})
		} else {
			missing = append(missing, email)
		}
	}
	return refs, missing, nil
}

func newTaskRouter(t *testing.T) (*gin.Engine, *service.AuthService, *memoryTaskRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authSvc, _ := newTestAuthStack()
	repo := &memoryTaskRepo{tasks: make(map[string]*models.Task)}
	taskSvc := service.NewTaskService(repo, memoryResolver{}, nil, nil, nil, zap.NewNop())
	h := NewTaskHandler(taskSvc)

	r := gin.New()
	tasks := r.Group("/tasks")
	tasks.Use(middleware.JWT(authSvc))
	tasks.GET("", h.List)
	tasks.POST("", middleware.RequireRoles(models.RoleAdmin), h.Create)
	tasks.PATCH("/:id/progress", h.UpdateProgress)
	return r, authSvc, repo
}

func tokenFor(t *testing.T, authSvc *service.AuthService, email, role string) string {
	t.Helper()
	router := newAuthRouter(authSvc)
	rec := postJSON(t, router, "/auth/register", gin.H{
		"email":    email,
		"password": "secret123",
		"role":     role,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var envelope struct {
		Data models.AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data.Token
}

func TestTaskHandlerCreateStudentForbidden(t *testing.T) {
	router, authSvc, _ := newTaskRouter(t)
	token := tokenFor(t, authSvc, "sara@cloud.neduet.edu.pk", "student")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTaskHandlerCreateAdmin(t *testing.T) {
	router, authSvc, repo := newTaskRouter(t)
	token := tokenFor(t, authSvc, "admin@cloud.neduet.edu.pk", "admin")

	body := authedJSON(t, router, token, http.MethodPost, "/tasks", gin.H{
		"title":      "Prototype review",
		"assignedTo": []string{"sara@cloud.neduet.edu.pk"},
		"dueDate":    time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusCreated, body.Code)
	require.Len(t, repo.tasks, 1)
	assert.Equal(t, models.TaskStatusAssigned, repo.tasks["task-1"].Status)
}

func TestTaskHandlerProgressRoleDerivedFromToken(t *testing.T) {
	router, authSvc, repo := newTaskRouter(t)
	repo.tasks["task-1"] = &models.Task{
		ID:         "task-1",
		Title:      "Prototype review",
		Status:     models.TaskStatusAssigned,
		AssignedTo: []models.UserRef{{ID: "user-sara@cloud.neduet.edu.pk"}},
	}
	token := tokenFor(t, authSvc, "sara@cloud.neduet.edu.pk", "student")

	// A student claiming 100% is capped at 90 even if the payload says more.
	rec := authedJSON(t, router, token, http.MethodPatch, "/tasks/task-1/progress", gin.H{"progress": 100})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StudentProgressCap, repo.tasks["task-1"].Progress)
	assert.Equal(t, models.TaskStatusInProgress, repo.tasks["task-1"].Status)
}

func authedJSON(t *testing.T, router *gin.Engine, token, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	return rec
}
