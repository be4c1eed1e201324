package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Claim grants the worker an exclusive lease on the task. Exactly one of any
// number of concurrent callers succeeds; the rest receive AlreadyClaimedError
// naming the winner.
//
// Exclusivity rests on the claims_active_task partial unique index: the
// insert either commits as the sole active row for the task or fails inside
// the storage engine. There is no check-then-insert window for a race to slip
// through. The task's own status is not touched here; lifecycle transitions
// are a separate operation.
func (s *Store) Claim(ctx context.Context, taskID, workerID string) (*Claim, error) {
	if err := s.requireTask(ctx, taskID); err != nil {
		return nil, err
	}
	if err := s.requireWorker(ctx, workerID); err != nil {
		return nil, err
	}

	now := s.now()
	claim := &Claim{
		ID:             uuid.NewString(),
		TaskID:         taskID,
		WorkerID:       workerID,
		ClaimedAt:      now,
		LeaseExpiresAt: now.Add(s.leaseDuration),
		Status:         ClaimActive,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO claims (id, task_id, worker_id, claimed_at, lease_expires_at, renewed_count, status)
         VALUES (?, ?, ?, ?, ?, 0, ?)`,
		claim.ID,
		claim.TaskID,
		claim.WorkerID,
		formatTime(claim.ClaimedAt),
		formatTime(claim.LeaseExpiresAt),
		ClaimActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback()
			holder, lookupErr := s.GetActiveClaim(ctx, taskID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			claimedBy := ""
			if holder != nil {
				claimedBy = holder.WorkerID
			}
			return nil, &AlreadyClaimedError{TaskID: taskID, ClaimedBy: claimedBy}
		}
		return nil, fmt.Errorf("insert claim: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE workers SET current_task_id = ? WHERE id = ?`,
		taskID,
		workerID,
	); err != nil {
		return nil, fmt.Errorf("assign worker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claim, nil
}

// Renew extends the caller's lease and increments the renewal counter. Only
// the owning worker succeeds; anyone else gets ErrClaimNotFound, which is the
// same answer as for a task with no active claim at all.
func (s *Store) Renew(ctx context.Context, taskID, workerID string) (*Claim, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE claims
         SET lease_expires_at = ?, renewed_count = renewed_count + 1
         WHERE task_id = ? AND worker_id = ? AND status = ?`,
		formatTime(s.now().Add(s.leaseDuration)),
		taskID,
		workerID,
		ClaimActive,
	)
	if err != nil {
		return nil, fmt.Errorf("renew claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrClaimNotFound
	}

	claim, err := s.GetActiveClaim(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrClaimNotFound
	}
	return claim, nil
}

// Release ends the caller's active claim, freeing the task for a new claim.
// The same ownership rule as Renew applies.
func (s *Store) Release(ctx context.Context, taskID, workerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE claims SET status = ?, finished_at = ?
         WHERE task_id = ? AND worker_id = ? AND status = ?`,
		ClaimReleased,
		formatTime(s.now()),
		taskID,
		workerID,
		ClaimActive,
	)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrClaimNotFound
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE workers SET current_task_id = NULL WHERE id = ? AND current_task_id = ?`,
		workerID,
		taskID,
	); err != nil {
		return fmt.Errorf("unassign worker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release: %w", err)
	}
	return nil
}

// ReleaseByWorker releases every active claim owned by the worker and returns
// how many were released. Used on clean worker shutdown.
func (s *Store) ReleaseByWorker(ctx context.Context, workerID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk release tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE claims SET status = ?, finished_at = ?
         WHERE worker_id = ? AND status = ?`,
		ClaimReleased,
		formatTime(s.now()),
		workerID,
		ClaimActive,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk release claims: %w", err)
	}
	released, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE workers SET current_task_id = NULL WHERE id = ?`,
		workerID,
	); err != nil {
		return 0, fmt.Errorf("unassign worker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk release: %w", err)
	}
	return released, nil
}

// Expire transitions a specific claim from active to expired regardless of
// owner. Intended for the watchdog once a lease has lapsed without renewal;
// the store itself never expires claims on its own.
func (s *Store) Expire(ctx context.Context, claimID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin expire tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(
		ctx,
		`SELECT task_id, worker_id FROM claims WHERE id = ? AND status = ?`,
		claimID,
		ClaimActive,
	)
	var taskID, workerID string
	if err := row.Scan(&taskID, &workerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrClaimNotFound
		}
		return fmt.Errorf("load claim: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE claims SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
		ClaimExpired,
		formatTime(s.now()),
		claimID,
		ClaimActive,
	); err != nil {
		return fmt.Errorf("expire claim: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE workers SET current_task_id = NULL WHERE id = ? AND current_task_id = ?`,
		workerID,
		taskID,
	); err != nil {
		return fmt.Errorf("unassign worker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expire: %w", err)
	}
	return nil
}

// GetActiveClaim returns the task's active claim, or nil when the task is
// unclaimed. A claim whose lease has lapsed but has not been expired by the
// watchdog is still reported as active.
func (s *Store) GetActiveClaim(ctx context.Context, taskID string) (*Claim, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+claimColumns+` FROM claims WHERE task_id = ? AND status = ?`,
		taskID,
		ClaimActive,
	)
	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active claim: %w", err)
	}
	return claim, nil
}

// ListActiveClaims returns all active claims ordered by claim time.
func (s *Store) ListActiveClaims(ctx context.Context) ([]*Claim, error) {
	return s.queryClaims(
		ctx,
		`SELECT `+claimColumns+` FROM claims WHERE status = ? ORDER BY claimed_at, id`,
		ClaimActive,
	)
}

// ListExpiredActive returns active claims whose lease lapsed before now.
// These are the watchdog's expiry candidates.
func (s *Store) ListExpiredActive(ctx context.Context, now time.Time) ([]*Claim, error) {
	return s.queryClaims(
		ctx,
		`SELECT `+claimColumns+` FROM claims
         WHERE status = ? AND lease_expires_at < ? ORDER BY lease_expires_at, id`,
		ClaimActive,
		formatTime(now),
	)
}

// ClaimHistory returns every claim ever made on the task, oldest first.
func (s *Store) ClaimHistory(ctx context.Context, taskID string) ([]*Claim, error) {
	return s.queryClaims(
		ctx,
		`SELECT `+claimColumns+` FROM claims WHERE task_id = ? ORDER BY claimed_at, id`,
		taskID,
	)
}

func (s *Store) queryClaims(ctx context.Context, query string, args ...any) ([]*Claim, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

const claimColumns = "id, task_id, worker_id, claimed_at, lease_expires_at, renewed_count, status, finished_at"

func scanClaim(scanner interface{ Scan(dest ...any) error }) (*Claim, error) {
	var (
		id          string
		taskID      string
		workerID    string
		claimedRaw  string
		leaseRaw    string
		renewed     int
		statusStr   string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &taskID, &workerID, &claimedRaw, &leaseRaw, &renewed, &statusStr, &finishedRaw); err != nil {
		return nil, err
	}

	claim := &Claim{
		ID:           id,
		TaskID:       taskID,
		WorkerID:     workerID,
		RenewedCount: renewed,
		Status:       ClaimStatus(statusStr),
	}
	if claimed, err := parseTimeString(claimedRaw); err == nil {
		claim.ClaimedAt = claimed
	}
	if lease, err := parseTimeString(leaseRaw); err == nil {
		claim.LeaseExpiresAt = lease
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			claim.FinishedAt = &finished
		}
	}
	return claim, nil
}
