package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-portal-api/internal/models"
)

// TaskRepository provides database access for the task lifecycle engine.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new instance of TaskRepository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `t.id, t.title, COALESCE(t.sub_heading, '') AS sub_heading, COALESCE(t.description, '') AS description,
	COALESCE(t.project, '') AS project, t.assigned_by, t.due_date, t.status, t.progress,
	t.start_date, t.completed_date, t.created_at, t.updated_at`

// Create inserts a task together with its assignee set.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertTask = `INSERT INTO tasks (id, title, sub_heading, description, project, assigned_by, due_date, status, progress, start_date, completed_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := tx.ExecContext(ctx, insertTask,
		task.ID, task.Title, task.SubHeading, task.Description, task.Project,
		task.AssignedByID, task.DueDate, task.Status, task.Progress,
		task.StartDate, task.CompletedDate, task.CreatedAt, task.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	for _, ref := range task.AssignedTo {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			task.ID, ref.ID,
		); err != nil {
			return fmt.Errorf("create task assignee: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create task: %w", err)
	}
	return nil
}

// FindByID returns a task with its assignee and assigner references.
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks t WHERE t.id = $1 LIMIT 1`, taskColumns)
	var task models.Task
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find task by id: %w", err)
	}
	if err := r.attachRefs(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// List returns all tasks newest first.
func (r *TaskRepository) List(ctx context.Context) ([]models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks t ORDER BY t.created_at DESC`, taskColumns)
	return r.selectTasks(ctx, query)
}

// ListByAssignee returns the tasks assigned to a user, soonest due first.
func (r *TaskRepository) ListByAssignee(ctx context.Context, userID string) ([]models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks t
		JOIN task_assignees ta ON ta.task_id = t.id WHERE ta.user_id = $1 ORDER BY t.due_date ASC`, taskColumns)
	return r.selectTasks(ctx, query, userID)
}

// Update overwrites the mutable fields of a task record.
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	const query = `UPDATE tasks SET title = $2, sub_heading = $3, description = $4, project = $5,
		due_date = $6, status = $7, progress = $8, start_date = $9, completed_date = $10, updated_at = $11
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query,
		task.ID, task.Title, task.SubHeading, task.Description, task.Project,
		task.DueDate, task.Status, task.Progress, task.StartDate, task.CompletedDate, task.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// AddAssignees unions the given identities into the assignee set.
func (r *TaskRepository) AddAssignees(ctx context.Context, taskID string, userIDs []string) error {
	for _, userID := range userIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			taskID, userID,
		); err != nil {
			return fmt.Errorf("add task assignee: %w", err)
		}
	}
	return nil
}

// ReplaceAssignees swaps the full assignee set in one transaction.
func (r *TaskRepository) ReplaceAssignees(ctx context.Context, taskID string, userIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace assignees: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("clear task assignees: %w", err)
	}
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			taskID, userID,
		); err != nil {
			return fmt.Errorf("insert task assignee: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace assignees: %w", err)
	}
	return nil
}

// Delete removes a task and its assignee links. Returns sql.ErrNoRows when
// the task is absent.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *TaskRepository) selectTasks(ctx context.Context, query string, args ...interface{}) ([]models.Task, error) {
	var tasks []models.Task
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	for i := range tasks {
		if err := r.attachRefs(ctx, &tasks[i]); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (r *TaskRepository) attachRefs(ctx context.Context, task *models.Task) error {
	const assigneeQuery = `SELECT u.id, COALESCE(u.full_name, '') AS full_name, u.email
		FROM task_assignees ta JOIN users u ON u.id = ta.user_id WHERE ta.task_id = $1 ORDER BY u.email`
	refs := []models.UserRef{}
	if err := r.db.SelectContext(ctx, &refs, assigneeQuery, task.ID); err != nil {
		return fmt.Errorf("load task assignees: %w", err)
	}
	task.AssignedTo = refs

	if task.AssignedByID != "" {
		const assignerQuery = `SELECT id, COALESCE(full_name, '') AS full_name, email FROM users WHERE id = $1`
		var assigner models.UserRef
		err := r.db.GetContext(ctx, &assigner, assignerQuery, task.AssignedByID)
		if err == nil {
			task.AssignedBy = &assigner
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("load task assigner: %w", err)
		}
	}
	return nil
}
