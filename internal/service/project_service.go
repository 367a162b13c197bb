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
)

type projectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	FindByID(ctx context.Context, id string) (*models.Project, error)
	List(ctx context.Context) ([]models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	ExistsByTitle(ctx context.Context, title, excludeID string) (bool, error)
	Delete(ctx context.Context, id string) error
	AddAssignee(ctx context.Context, projectID, userID string) error
	RemoveAssignee(ctx context.Context, projectID, userID string) error
}

type projectUserRepository interface {
	ResolveEmails(ctx context.Context, emails []string) ([]models.UserRef, []string, error)
}

// CreateProjectRequest holds payload for creating projects.
type CreateProjectRequest struct {
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Color       string     `json:"color"`
	DueDate     *time.Time `json:"dueDate"`
	AssignedTo  []string   `json:"assignedTo" validate:"omitempty,dive,email"`
}

// UpdateProjectRequest is the admin partial update; nil fields stay
// untouched.
type UpdateProjectRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	Color       *string    `json:"color"`
	DueDate     *time.Time `json:"dueDate"`
	AssignedTo  *[]string  `json:"assignedTo"`
}

// ModifyAssigneesRequest adds or removes a single member of the project
// roster.
type ModifyAssigneesRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Action string `json:"action" validate:"required,oneof=assign unassign"`
}

// ProjectService manages the project registry: unique trimmed titles and a
// canonical status vocabulary.
type ProjectService struct {
	repo      projectRepository
	users     projectUserRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewProjectService constructs the project service.
func NewProjectService(repo projectRepository, users projectUserRepository, validate *validator.Validate, logger *zap.Logger) *ProjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectService{repo: repo, users: users, validator: validate, logger: logger}
}

// Create registers a project. Titles are trimmed and must be unique; the
// status is normalized to the canonical vocabulary and defaults to todo.
func (s *ProjectService) Create(ctx context.Context, req CreateProjectRequest, actor *models.JWTClaims) (*models.Project, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can create projects")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}

	status := models.ProjectStatusTodo
	if req.Status != "" {
		normalized, ok := models.NormalizeProjectStatus(req.Status)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid status: %s", req.Status))
		}
		status = normalized
	}

	color := req.Color
	if color == "" {
		color = models.DefaultProjectColor
	}

	project := &models.Project{
		Title:       title,
		Description: req.Description,
		Status:      status,
		Color:       color,
		DueDate:     req.DueDate,
	}
	if actor.UserID != "" {
		project.CreatedBy = &actor.UserID
	}

	if len(req.AssignedTo) > 0 {
		refs, err := s.resolveMembers(ctx, req.AssignedTo)
		if err != nil {
			return nil, err
		}
		project.AssignedTo = refs
	}

	if err := s.repo.Create(ctx, project); err != nil {
		if isUniqueErr(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a project with this title already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create project")
	}

	return s.load(ctx, project.ID)
}

// List returns all projects newest first.
func (s *ProjectService) List(ctx context.Context) ([]models.Project, error) {
	projects, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list projects")
	}
	return projects, nil
}

// Get returns a single project.
func (s *ProjectService) Get(ctx context.Context, id string) (*models.Project, error) {
	return s.load(ctx, id)
}

// Update applies a partial admin update; a new title keeps the uniqueness
// guarantee and a new status must be canonical.
func (s *ProjectService) Update(ctx context.Context, id string, req UpdateProjectRequest, actor *models.JWTClaims) (*models.Project, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can update projects")
	}

	project, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title cannot be empty")
		}
		taken, err := s.repo.ExistsByTitle(ctx, title, project.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check title")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a project with this title already exists")
		}
		project.Title = title
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.Status != nil {
		normalized, ok := models.NormalizeProjectStatus(*req.Status)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid status: %s", *req.Status))
		}
		project.Status = normalized
	}
	if req.Color != nil {
		project.Color = *req.Color
	}
	if req.DueDate != nil {
		project.DueDate = req.DueDate
	}

	if req.AssignedTo != nil {
		refs, err := s.resolveMembers(ctx, *req.AssignedTo)
		if err != nil {
			return nil, err
		}
		project.AssignedTo = refs
	}

	if err := s.repo.Update(ctx, project); err != nil {
		if isUniqueErr(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a project with this title already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update project")
	}
	return s.load(ctx, project.ID)
}

// ModifyAssignees adds or removes one member of the project roster.
func (s *ProjectService) ModifyAssignees(ctx context.Context, id string, req ModifyAssigneesRequest, actor *models.JWTClaims) (*models.Project, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can modify project members")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid member payload")
	}

	project, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	refs, err := s.resolveMembers(ctx, []string{req.Email})
	if err != nil {
		return nil, err
	}
	member := refs[0]

	switch req.Action {
	case "assign":
		err = s.repo.AddAssignee(ctx, project.ID, member.ID)
	case "unassign":
		err = s.repo.RemoveAssignee(ctx, project.ID, member.ID)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to modify project members")
	}
	return s.load(ctx, project.ID)
}

// Delete removes a project permanently.
func (s *ProjectService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil || actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins can delete projects")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete project")
	}
	return nil
}

func (s *ProjectService) resolveMembers(ctx context.Context, emails []string) ([]models.UserRef, error) {
	refs, missing, err := s.users.ResolveEmails(ctx, emails)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve members")
	}
	if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no matching users found for: %s", strings.Join(missing, ", ")))
	}
	return refs, nil
}

func (s *ProjectService) load(ctx context.Context, id string) (*models.Project, error) {
	project, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}
	return project, nil
}
