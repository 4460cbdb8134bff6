package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tarsy-labs/kopsy/pkg/models"
)

// PostgresStore is the production EventStore, backed directly by
// database/sql over the pgx stdlib driver (pkg/database.Open). There is no
// ORM: this mirrors the teacher's own pkg/events/publisher.go, which
// bypasses its ent client entirely for the identical
// transactional-insert-then-commit shape.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateTask(ctx context.Context, taskID string, fields models.CreateTaskFields) error {
	resourceCtx, err := json.Marshal(fields.ResourceContext)
	if err != nil {
		return fmt.Errorf("marshal resource_context: %w", err)
	}
	logCtx, err := json.Marshal(fields.LogContext)
	if err != nil {
		return fmt.Errorf("marshal log_context: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, status, created_at, updated_at, prompt, resource_context, log_context, sub_tasks, next_step_index)
		 VALUES ($1, $2, $3, $3, $4, $5, $6, '[]', 0)`,
		taskID, models.TaskStatusProcessing, now, fields.Prompt, resourceCtx, logCtx,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTaskConflict
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// AppendEvent inserts the event row inside a transaction; the
// (task_id, step_index) primary key makes the insert atomically idempotent
// under concurrent writers — ON CONFLICT DO NOTHING yields ErrDuplicateStep
// without an explicit row lock.
func (s *PostgresStore) AppendEvent(ctx context.Context, taskID string, event models.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)`, taskID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check task exists: %w", err)
	}
	if !exists {
		return ErrTaskMissing
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (task_id, step_index, kind, timestamp, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (task_id, step_index) DO NOTHING`,
		taskID, event.StepIndex, event.Kind, event.Timestamp, payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDuplicateStep
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET next_step_index = GREATEST(next_step_index, $2), updated_at = $3 WHERE task_id = $1`,
		taskID, event.StepIndex+1, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("advance next_step_index: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, patch models.TaskPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus models.TaskStatus
	if err := tx.QueryRowContext(ctx,
		`SELECT status FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID,
	).Scan(&currentStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskMissing
		}
		return fmt.Errorf("select task status: %w", err)
	}

	settingFirstTerminal := patch.Status != nil && patch.Status.IsTerminal()
	if currentStatus.IsTerminal() && !settingFirstTerminal {
		return ErrTaskTerminal
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET
			status      = COALESCE($2, status),
			summary     = COALESCE($3, summary),
			remediation = COALESCE($4, remediation),
			title       = COALESCE($5, title),
			tags        = COALESCE($6, tags),
			resolved    = COALESCE($7, resolved),
			updated_at  = $8
		 WHERE task_id = $1`,
		taskID,
		nullableStatus(patch.Status),
		patch.Summary,
		patch.Remediation,
		patch.Title,
		nullableTags(patch.Tags),
		patch.Resolved,
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) AddSubtask(ctx context.Context, taskID string, subtask models.SubTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	if err := tx.QueryRowContext(ctx,
		`SELECT sub_tasks FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID,
	).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskMissing
		}
		return fmt.Errorf("select sub_tasks: %w", err)
	}

	var subTasks []models.SubTask
	if err := json.Unmarshal(raw, &subTasks); err != nil {
		return fmt.Errorf("unmarshal sub_tasks: %w", err)
	}
	subTasks = append(subTasks, subtask)

	updated, err := json.Marshal(subTasks)
	if err != nil {
		return fmt.Errorf("marshal sub_tasks: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET sub_tasks = $2, updated_at = $3 WHERE task_id = $1`,
		taskID, updated, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("update sub_tasks: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) ReadEventsSince(ctx context.Context, taskID string, afterStepIndex int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_index, kind, timestamp, payload FROM events
		 WHERE task_id = $1 AND step_index > $2 ORDER BY step_index ASC`,
		taskID, afterStepIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var raw []byte
		if err := rows.Scan(&ev.StepIndex, &ev.Kind, &ev.Timestamp, &raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(raw, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) ListStaleProcessingTasks(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id FROM tasks WHERE status = $1 AND updated_at < $2`,
		models.TaskStatusProcessing, before,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale processing tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ReadTask(ctx context.Context, taskID string) (*models.Task, error) {
	task := &models.Task{TaskID: taskID}
	var tagsRaw, resourceRaw, logRaw, subTasksRaw []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT title, tags, status, severity, created_at, updated_at, summary, remediation,
		        prompt, resource_context, log_context, resolved, sub_tasks
		 FROM tasks WHERE task_id = $1`, taskID,
	).Scan(
		&task.Title, &tagsRaw, &task.Status, &task.Severity, &task.CreatedAt, &task.UpdatedAt,
		&task.Summary, &task.Remediation, &task.Prompt, &resourceRaw, &logRaw, &task.Resolved, &subTasksRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskMissing
		}
		return nil, fmt.Errorf("select task: %w", err)
	}

	if err := json.Unmarshal(tagsRaw, &task.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(resourceRaw, &task.ResourceContext); err != nil {
		return nil, fmt.Errorf("unmarshal resource_context: %w", err)
	}
	if err := json.Unmarshal(logRaw, &task.LogContext); err != nil {
		return nil, fmt.Errorf("unmarshal log_context: %w", err)
	}
	if err := json.Unmarshal(subTasksRaw, &task.SubTasks); err != nil {
		return nil, fmt.Errorf("unmarshal sub_tasks: %w", err)
	}

	events, err := s.ReadEventsSince(ctx, taskID, -1)
	if err != nil {
		return nil, err
	}
	task.Events = events

	return task, nil
}

func nullableStatus(s *models.TaskStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func nullableTags(tags []string) []byte {
	if tags == nil {
		return nil
	}
	b, _ := json.Marshal(tags)
	return b
}

func isUniqueViolation(err error) bool {
	// pgx/pgconn errors expose a Code field; matching on the SQLSTATE text
	// in Error() keeps this file from depending on pgconn directly.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key value")
}
