package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewWorker carries the caller-supplied fields for worker registration.
type NewWorker struct {
	Name         string
	Hostname     string
	PID          int
	Capabilities []string
	Metadata     map[string]string
}

// RegisterWorker records a new worker process and returns the stored record.
func (s *Store) RegisterWorker(ctx context.Context, input NewWorker) (*Worker, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationf("worker name must not be empty")
	}

	var capabilitiesJSON, metadataJSON any
	if len(input.Capabilities) > 0 {
		data, err := json.Marshal(input.Capabilities)
		if err != nil {
			return nil, fmt.Errorf("marshal capabilities: %w", err)
		}
		capabilitiesJSON = string(data)
	}
	if len(input.Metadata) > 0 {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	id := uuid.NewString()
	now := formatTime(s.now())
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO workers (id, name, hostname, pid, status, registered_at, last_heartbeat_at, capabilities_json, metadata_json)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		name,
		nullableString(input.Hostname),
		input.PID,
		WorkerOnline,
		now,
		now,
		capabilitiesJSON,
		metadataJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("insert worker: %w", err)
	}
	return s.GetWorker(ctx, id)
}

// GetWorker fetches a worker by id.
func (s *Store) GetWorker(ctx context.Context, id string) (*Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	worker, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return worker, nil
}

// ListWorkers returns all workers ordered by registration time.
func (s *Store) ListWorkers(ctx context.Context) ([]*Worker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY registered_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []*Worker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

// Heartbeat refreshes a worker's liveness timestamp and flips it back online
// if a watchdog had previously marked it offline.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workers SET last_heartbeat_at = ?, status = ? WHERE id = ?`,
		formatTime(s.now()),
		WorkerOnline,
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrWorkerNotFound
	}
	return nil
}

// MarkWorkersOffline flips online workers whose heartbeat predates cutoff to
// offline and returns how many changed. Offline workers keep their claims;
// the lease watchdog reclaims those separately.
func (s *Store) MarkWorkersOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workers SET status = ? WHERE status = ? AND last_heartbeat_at < ?`,
		WorkerOffline,
		WorkerOnline,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("mark workers offline: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) requireWorker(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM workers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrWorkerNotFound
	}
	if err != nil {
		return fmt.Errorf("check worker: %w", err)
	}
	return nil
}

const workerColumns = "id, name, hostname, pid, status, registered_at, last_heartbeat_at, current_task_id, capabilities_json, metadata_json"

func scanWorker(scanner interface{ Scan(dest ...any) error }) (*Worker, error) {
	var (
		id            string
		name          string
		hostname      sql.NullString
		pid           int
		statusStr     string
		registeredRaw string
		heartbeatRaw  string
		currentTask   sql.NullString
		capsRaw       sql.NullString
		metaRaw       sql.NullString
	)
	if err := scanner.Scan(&id, &name, &hostname, &pid, &statusStr, &registeredRaw, &heartbeatRaw, &currentTask, &capsRaw, &metaRaw); err != nil {
		return nil, err
	}

	worker := &Worker{
		ID:            id,
		Name:          name,
		Hostname:      hostname.String,
		PID:           pid,
		Status:        WorkerStatus(statusStr),
		CurrentTaskID: currentTask.String,
	}
	if registered, err := parseTimeString(registeredRaw); err == nil {
		worker.RegisteredAt = registered
	}
	if heartbeat, err := parseTimeString(heartbeatRaw); err == nil {
		worker.LastHeartbeatAt = heartbeat
	}
	if capsRaw.Valid && capsRaw.String != "" {
		if err := json.Unmarshal([]byte(capsRaw.String), &worker.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	if metaRaw.Valid && metaRaw.String != "" {
		if err := json.Unmarshal([]byte(metaRaw.String), &worker.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return worker, nil
}
