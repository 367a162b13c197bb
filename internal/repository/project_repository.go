package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-portal-api/internal/models"
)

// ProjectRepository provides database access for the project registry.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository creates a new instance of ProjectRepository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `p.id, p.title, COALESCE(p.description, '') AS description, p.due_date, p.color, p.status, p.created_by, p.created_at, p.updated_at`

// Create inserts a new project. The unique title index is the serialization
// point for concurrent creates; callers map unique violations to Conflict.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	project.Title = strings.TrimSpace(project.Title)

	const query = `INSERT INTO projects (id, title, description, due_date, color, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(ctx, query,
		project.ID, project.Title, project.Description, project.DueDate,
		project.Color, project.Status, project.CreatedBy, project.CreatedAt, project.UpdatedAt,
	); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// FindByID returns a project with its assignee and owner references.
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*models.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects p WHERE p.id = $1 LIMIT 1`, projectColumns)
	var project models.Project
	if err := r.db.GetContext(ctx, &project, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find project by id: %w", err)
	}
	if err := r.attachRefs(ctx, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// List returns all projects newest first.
func (r *ProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects p ORDER BY p.created_at DESC`, projectColumns)
	var projects []models.Project
	if err := r.db.SelectContext(ctx, &projects, query); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	for i := range projects {
		if err := r.attachRefs(ctx, &projects[i]); err != nil {
			return nil, err
		}
	}
	return projects, nil
}

// ExistsByTitle reports whether another project already uses the trimmed
// title.
func (r *ProjectRepository) ExistsByTitle(ctx context.Context, title, excludeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM projects WHERE title = $1 AND id <> $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, strings.TrimSpace(title), excludeID); err != nil {
		return false, fmt.Errorf("project exists by title: %w", err)
	}
	return exists, nil
}

// Update overwrites the mutable fields of a project.
func (r *ProjectRepository) Update(ctx context.Context, project *models.Project) error {
	project.UpdatedAt = time.Now().UTC()
	project.Title = strings.TrimSpace(project.Title)

	const query = `UPDATE projects SET title = $2, description = $3, due_date = $4, color = $5, status = $6, updated_at = $7 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query,
		project.ID, project.Title, project.Description, project.DueDate,
		project.Color, project.Status, project.UpdatedAt,
	); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// Delete removes a project and its assignee links. Returns sql.ErrNoRows when
// the project is absent.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddAssignee links an identity to the project; repeating the call is a
// no-op.
func (r *ProjectRepository) AddAssignee(ctx context.Context, projectID, userID string) error {
	const query = `INSERT INTO project_assignees (project_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, projectID, userID); err != nil {
		return fmt.Errorf("add project assignee: %w", err)
	}
	return nil
}

// RemoveAssignee unlinks an identity from the project.
func (r *ProjectRepository) RemoveAssignee(ctx context.Context, projectID, userID string) error {
	const query = `DELETE FROM project_assignees WHERE project_id = $1 AND user_id = $2`
	if _, err := r.db.ExecContext(ctx, query, projectID, userID); err != nil {
		return fmt.Errorf("remove project assignee: %w", err)
	}
	return nil
}

func (r *ProjectRepository) attachRefs(ctx context.Context, project *models.Project) error {
	const assigneeQuery = `SELECT u.id, COALESCE(u.full_name, '') AS full_name, u.email
		FROM project_assignees pa JOIN users u ON u.id = pa.user_id WHERE pa.project_id = $1 ORDER BY u.email`
	refs := []models.UserRef{}
	if err := r.db.SelectContext(ctx, &refs, assigneeQuery, project.ID); err != nil {
		return fmt.Errorf("load project assignees: %w", err)
	}
	project.AssignedTo = refs

	if project.CreatedBy != nil {
		const ownerQuery = `SELECT id, COALESCE(full_name, '') AS full_name, email FROM users WHERE id = $1`
		var owner models.UserRef
		err := r.db.GetContext(ctx, &owner, ownerQuery, *project.CreatedBy)
		if err == nil {
			project.Owner = &owner
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("load project owner: %w", err)
		}
	}
	return nil
}
