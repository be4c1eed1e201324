package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewTask carries the caller-supplied fields for task creation.
type NewTask struct {
	Title    string
	Score    int
	ParentID string
	Status   Status // defaults to backlog when empty
}

// CreateTask inserts a task and returns the stored record.
func (s *Store) CreateTask(ctx context.Context, input NewTask) (*Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationf("task title must not be empty")
	}
	status := input.Status
	if status == "" {
		status = StatusBacklog
	}
	if _, ok := statusSet[status]; !ok {
		return nil, validationf("unknown status %q", status)
	}
	if input.ParentID != "" {
		if err := s.requireTask(ctx, input.ParentID); err != nil {
			return nil, fmt.Errorf("parent: %w", err)
		}
	}

	id := uuid.NewString()
	now := formatTime(s.now())
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (id, title, status, score, parent_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id,
		title,
		status,
		input.Score,
		nullableString(input.ParentID),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks filtered by status set (or all tasks when no status
// is provided), ordered by score descending then id for determinism.
func (s *Store) ListTasks(ctx context.Context, statuses ...Status) ([]*Task, error) {
	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`
	orderClause := ` ORDER BY score DESC, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// SetTaskStatus transitions a task to the given status. Transitioning to done
// stamps completedAt; leaving done clears it.
func (s *Store) SetTaskStatus(ctx context.Context, id string, status Status) (*Task, error) {
	if _, ok := statusSet[status]; !ok {
		return nil, validationf("unknown status %q", status)
	}

	now := s.now()
	var completedAt any
	if status == StatusDone {
		completedAt = formatTime(now)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		status,
		completedAt,
		formatTime(now),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrTaskNotFound
	}
	return s.GetTask(ctx, id)
}

// Complete marks a task done and returns the dependents that became ready as
// a result, so callers can hand newly unblocked work straight to pollers.
func (s *Store) Complete(ctx context.Context, id string) (*Task, []*ReadyTask, error) {
	task, err := s.SetTaskStatus(ctx, id, StatusDone)
	if err != nil {
		return nil, nil, err
	}

	dependents := make(map[string]struct{})
	rows, err := s.db.QueryContext(ctx, `SELECT blocked_id FROM task_deps WHERE blocker_id = ?`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("query dependents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var blocked string
		if err := rows.Scan(&blocked); err != nil {
			return nil, nil, err
		}
		dependents[blocked] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(dependents) == 0 {
		return task, nil, nil
	}

	ready, err := s.Ready(ctx)
	if err != nil {
		return nil, nil, err
	}
	var unblocked []*ReadyTask
	for _, rt := range ready {
		if _, ok := dependents[rt.Task.ID]; ok {
			unblocked = append(unblocked, rt)
		}
	}
	return task, unblocked, nil
}

// DeleteTask removes a task. Edges cascade; claim history for the task is
// dropped with it.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Children returns the ids of a task's direct children, sorted.
func (s *Store) Children(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks WHERE parent_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, rows.Err()
}

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (TaskStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return TaskStats{}, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := TaskStats{ByStatus: make(map[Status]int)}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return TaskStats{}, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

func (s *Store) requireTask(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	return nil
}

const taskColumns = "id, title, status, score, parent_id, created_at, updated_at, completed_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id           string
		title        string
		statusStr    string
		score        int
		parentID     sql.NullString
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &title, &statusStr, &score, &parentID, &createdRaw, &updatedRaw, &completedRaw); err != nil {
		return nil, err
	}

	task := &Task{
		ID:       id,
		Title:    title,
		Status:   Status(statusStr),
		Score:    score,
		ParentID: parentID.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			task.CompletedAt = &completed
		}
	}
	return task, nil
}
