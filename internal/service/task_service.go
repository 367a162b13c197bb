package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-portal-api/internal/models"
	appErrors "github.com/noah-isme/cohort-portal-api/pkg/errors"
	"github.com/noah-isme/cohort-portal-api/pkg/export"
)

type taskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context) ([]models.Task, error)
	ListByAssignee(ctx context.Context, userID string) ([]models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	AddAssignees(ctx context.Context, taskID string, userIDs []string) error
	ReplaceAssignees(ctx context.Context, taskID string, userIDs []string) error
	Delete(ctx context.Context, id string) error
}

type taskUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ResolveEmails(ctx context.Context, emails []string) ([]models.UserRef, []string, error)
}

// ApprovalNotifier alerts a task assigner that approval was requested.
// Delivery is asynchronous; failures never affect the lifecycle mutation.
type ApprovalNotifier interface {
	ApprovalRequested(assignerEmail, studentName, taskTitle string)
}

// CreateTaskRequest holds payload for creating tasks.
type CreateTaskRequest struct {
	Title       string    `json:"title" validate:"required"`
	SubHeading  string    `json:"subHeading"`
	Description string    `json:"description"`
	Project     string    `json:"project"`
	AssignedTo  []string  `json:"assignedTo" validate:"required,min=1,dive,email"`
	DueDate     time.Time `json:"dueDate" validate:"required"`
}

// UpdateStatusRequest moves a task along the lifecycle.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateProgressRequest records progress for a task.
type UpdateProgressRequest struct {
	Progress *int `json:"progress" validate:"required"`
}

// AssignStudentsRequest unions additional assignees onto a task.
type AssignStudentsRequest struct {
	AssignedTo []string `json:"assignedTo" validate:"required,min=1,dive,email"`
}

// UpdateTaskRequest is the admin partial update; nil fields stay untouched.
type UpdateTaskRequest struct {
	Title       *string    `json:"title"`
	SubHeading  *string    `json:"subHeading"`
	Description *string    `json:"description"`
	Project     *string    `json:"project"`
	DueDate     *time.Time `json:"dueDate"`
	Progress    *int       `json:"progress"`
	Status      *string    `json:"status"`
	AssignedTo  *[]string  `json:"assignedTo"`
}

// TaskService enforces the task lifecycle state machine and its role-gated
// transitions.
type TaskService struct {
	repo      taskRepository
	users     taskUserRepository
	notifier  ApprovalNotifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTaskService constructs the task service.
func NewTaskService(repo taskRepository, users taskUserRepository, notifier ApprovalNotifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *TaskService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{repo: repo, users: users, notifier: notifier, metrics: metrics, validator: validate, logger: logger}
}

// Create registers a new task. Tasks always start at Assigned with zero
// progress and unset dates regardless of the payload.
func (s *TaskService) Create(ctx context.Context, req CreateTaskRequest, actor *models.JWTClaims) (*models.Task, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can create tasks")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}

	refs, err := s.resolveAssignees(ctx, req.AssignedTo)
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		Title:        strings.TrimSpace(req.Title),
		SubHeading:   req.SubHeading,
		Description:  req.Description,
		Project:      req.Project,
		AssignedByID: actor.UserID,
		DueDate:      req.DueDate,
		Status:       models.TaskStatusAssigned,
		Progress:     0,
		AssignedTo:   refs,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create task")
	}

	return s.reload(ctx, task.ID)
}

// List returns all tasks newest first.
func (s *TaskService) List(ctx context.Context) ([]models.Task, error) {
	tasks, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tasks")
	}
	return tasks, nil
}

// ListByStudentEmail returns the tasks assigned to the student with the
// given email, soonest due first.
func (s *TaskService) ListByStudentEmail(ctx context.Context, email string) ([]models.Task, error) {
	student, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no user found with that email")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	tasks, err := s.repo.ListByAssignee(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student tasks")
	}
	return tasks, nil
}

// Get returns a single task.
func (s *TaskService) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.load(ctx, id)
}

// UpdateStatus applies a lifecycle transition. Transitions only move forward;
// Pending Approval requires progress >= 90 and, for students, membership of
// the assignee set; Completed is admin-only and stamps completedDate once.
func (s *TaskService) UpdateStatus(ctx context.Context, id string, req UpdateStatusRequest, actor *models.JWTClaims) (*models.Task, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	next := models.TaskStatus(req.Status)
	if !next.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid status value")
	}

	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !task.Status.CanTransitionTo(next) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot move task backward from %s to %s", task.Status, next))
	}

	switch next {
	case models.TaskStatusPendingApproval:
		if task.Progress < models.ApprovalMinProgress {
			return nil, appErrors.Clone(appErrors.ErrValidation, "task progress must reach at least 90% before approval")
		}
		if actor.Role != models.RoleAdmin && !task.HasAssignee(actor.UserID) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not assigned to this task")
		}
	case models.TaskStatusCompleted:
		if actor.Role != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can complete tasks")
		}
	}

	s.applyStatus(task, next)

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update task status")
	}
	s.metrics.TaskTransition(string(next))
	return s.reload(ctx, task.ID)
}

// UpdateProgress records progress in [0,100]. Student values are capped at
// 90; any update moves an Assigned task to In Progress and stamps startDate
// once.
func (s *TaskService) UpdateProgress(ctx context.Context, id string, req UpdateProgressRequest, actor *models.JWTClaims) (*models.Task, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}
	progress := *req.Progress
	if progress < 0 || progress > 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "progress must be a number between 0 and 100")
	}

	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role != models.RoleAdmin {
		if !task.HasAssignee(actor.UserID) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not assigned to this task")
		}
		if progress > models.StudentProgressCap {
			progress = models.StudentProgressCap
		}
	}

	now := time.Now().UTC()
	if task.StartDate == nil {
		task.StartDate = &now
	}
	started := false
	if task.Status == models.TaskStatusAssigned {
		task.Status = models.TaskStatusInProgress
		started = true
	}
	task.Progress = progress

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update task progress")
	}
	if started {
		s.metrics.TaskTransition(string(models.TaskStatusInProgress))
	}
	return s.reload(ctx, task.ID)
}

// RequestApproval lets an assignee move their task to Pending Approval once
// progress has reached 90. The assigner is notified asynchronously.
func (s *TaskService) RequestApproval(ctx context.Context, id string, actor *models.JWTClaims) (*models.Task, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !task.HasAssignee(actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not assigned to this task")
	}
	if task.Progress < models.ApprovalMinProgress {
		return nil, appErrors.Clone(appErrors.ErrValidation, "you must reach at least 90% progress to request approval")
	}
	if !task.Status.CanTransitionTo(models.TaskStatusPendingApproval) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot move task backward from %s to %s", task.Status, models.TaskStatusPendingApproval))
	}

	s.applyStatus(task, models.TaskStatusPendingApproval)

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to request approval")
	}
	s.metrics.TaskTransition(string(models.TaskStatusPendingApproval))

	if s.notifier != nil && task.AssignedBy != nil {
		s.notifier.ApprovalRequested(task.AssignedBy.Email, actor.Email, task.Title)
	}

	return s.reload(ctx, task.ID)
}

// Update is the admin full-record update. Provided fields are validated
// independently; assignedTo replaces the whole assignee set.
func (s *TaskService) Update(ctx context.Context, id string, req UpdateTaskRequest, actor *models.JWTClaims) (*models.Task, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can update tasks")
	}

	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		task.Title = strings.TrimSpace(*req.Title)
	}
	if req.SubHeading != nil {
		task.SubHeading = *req.SubHeading
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Project != nil {
		task.Project = *req.Project
	}
	if req.DueDate != nil {
		task.DueDate = *req.DueDate
	}

	if req.Progress != nil {
		if *req.Progress < 0 || *req.Progress > 100 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "progress must be a number between 0 and 100")
		}
		task.Progress = *req.Progress
	}

	transitioned := ""
	if req.Status != nil {
		next := models.TaskStatus(*req.Status)
		if !next.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid status value")
		}
		if !task.Status.CanTransitionTo(next) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot move task backward from %s to %s", task.Status, next))
		}
		if next == models.TaskStatusPendingApproval && task.Progress < models.ApprovalMinProgress {
			return nil, appErrors.Clone(appErrors.ErrValidation, "task progress must reach at least 90% before approval")
		}
		if next != task.Status {
			transitioned = string(next)
		}
		s.applyStatus(task, next)
	}

	if req.AssignedTo != nil {
		refs, err := s.resolveAssignees(ctx, *req.AssignedTo)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(refs))
		for _, ref := range refs {
			ids = append(ids, ref.ID)
		}
		if err := s.repo.ReplaceAssignees(ctx, task.ID, ids); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace assignees")
		}
	}

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update task")
	}
	if transitioned != "" {
		s.metrics.TaskTransition(transitioned)
	}
	return s.reload(ctx, task.ID)
}

// Assign unions additional students into the assignee set; repeating the
// call is a no-op.
func (s *TaskService) Assign(ctx context.Context, id string, req AssignStudentsRequest, actor *models.JWTClaims) (*models.Task, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can assign students")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assign payload")
	}

	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	refs, err := s.resolveAssignees(ctx, req.AssignedTo)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	if err := s.repo.AddAssignees(ctx, task.ID, ids); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign students")
	}
	return s.reload(ctx, task.ID)
}

// Delete removes a task permanently.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete task")
	}
	return nil
}

// Export renders the full task list as a CSV or PDF report.
func (s *TaskService) Export(ctx context.Context, format string) ([]byte, string, error) {
	tasks, err := s.List(ctx)
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"Title", "Project", "Assignees", "Status", "Progress", "Due Date"},
	}
	for _, task := range tasks {
		emails := make([]string, 0, len(task.AssignedTo))
		for _, ref := range task.AssignedTo {
			emails = append(emails, ref.Email)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Title":     task.Title,
			"Project":   task.Project,
			"Assignees": strings.Join(emails, ", "),
			"Status":    string(task.Status),
			"Progress":  fmt.Sprintf("%d%%", task.Progress),
			"Due Date":  task.DueDate.Format("2006-01-02"),
		})
	}

	switch format {
	case "csv", "":
		payload, err := export.NewCSVExporter().Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	case "pdf":
		payload, err := export.NewPDFExporter().Render(dataset, "Task Report")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

// applyStatus sets the state and stamps startDate/completedDate exactly
// once.
func (s *TaskService) applyStatus(task *models.Task, next models.TaskStatus) {
	now := time.Now().UTC()
	if next == models.TaskStatusInProgress && task.StartDate == nil {
		task.StartDate = &now
	}
	if next == models.TaskStatusCompleted && task.CompletedDate == nil {
		task.CompletedDate = &now
	}
	task.Status = next
}

func (s *TaskService) resolveAssignees(ctx context.Context, emails []string) ([]models.UserRef, error) {
	if len(emails) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one assignee is required")
	}
	refs, missing, err := s.users.ResolveEmails(ctx, emails)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve assignees")
	}
	if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no matching users found for: %s", strings.Join(missing, ", ")))
	}
	return refs, nil
}

func (s *TaskService) load(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	return task, nil
}

func (s *TaskService) reload(ctx context.Context, id string) (*models.Task, error) {
	return s.load(ctx, id)
}
