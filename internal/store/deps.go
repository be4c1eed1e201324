package store

import (
	"context"
	"fmt"
)

// AddBlocker records that blockerID must be done before taskID is workable.
//
// The cycle check and the insert execute as one SQL statement: the edge is
// inserted only when no path taskID -> blockerID exists in the blocks
// direction at that instant. Concurrent AddBlocker calls therefore cannot
// both pass the check and jointly close a cycle; the storage engine
// serializes them and the loser sees zero rows inserted.
func (s *Store) AddBlocker(ctx context.Context, taskID, blockerID string) error {
	if taskID == blockerID {
		return validationf("self-blocking task %s", taskID)
	}
	if err := s.requireTask(ctx, taskID); err != nil {
		return err
	}
	if err := s.requireTask(ctx, blockerID); err != nil {
		return err
	}

	existing, err := s.edgeExists(ctx, blockerID, taskID)
	if err != nil {
		return err
	}
	if existing {
		return validationf("task %s is already blocked by %s", taskID, blockerID)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO task_deps (blocker_id, blocked_id, created_at)
         SELECT ?, ?, ?
         WHERE NOT EXISTS (
             WITH RECURSIVE chain(id) AS (
                 SELECT blocked_id FROM task_deps WHERE blocker_id = ?
                 UNION
                 SELECT d.blocked_id FROM task_deps d JOIN chain c ON d.blocker_id = c.id
             )
             SELECT 1 FROM chain WHERE id = ?
         )`,
		blockerID,
		taskID,
		formatTime(s.now()),
		taskID,
		blockerID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return validationf("task %s is already blocked by %s", taskID, blockerID)
		}
		return fmt.Errorf("insert dependency: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return &CircularDependencyError{BlockerID: blockerID, BlockedID: taskID}
	}
	return nil
}

// RemoveBlocker deletes the edge blockerID -> taskID if present.
func (s *Store) RemoveBlocker(ctx context.Context, taskID, blockerID string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM task_deps WHERE blocker_id = ? AND blocked_id = ?`,
		blockerID,
		taskID,
	)
	if err != nil {
		return false, fmt.Errorf("delete dependency: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// HasPath reports whether toID is reachable from fromID following edges in
// the blocks direction, over any number of hops. Breadth-first with a visited
// set so it terminates on any finite graph.
func (s *Store) HasPath(ctx context.Context, fromID, toID string) (bool, error) {
	if fromID == toID {
		return true, nil
	}
	adjacency, err := s.blocksAdjacency(ctx)
	if err != nil {
		return false, err
	}

	visited := map[string]struct{}{fromID: {}}
	frontier := []string{fromID}
	for len(frontier) > 0 {
		var next []string
		for _, node := range frontier {
			for _, blocked := range adjacency[node] {
				if blocked == toID {
					return true, nil
				}
				if _, seen := visited[blocked]; seen {
					continue
				}
				visited[blocked] = struct{}{}
				next = append(next, blocked)
			}
		}
		frontier = next
	}
	return false, nil
}

// AllEdges returns every dependency edge, ordered for determinism. Intended
// for diagnostics and tests.
func (s *Store) AllEdges(ctx context.Context) ([]Edge, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT blocker_id, blocked_id, created_at FROM task_deps ORDER BY blocker_id, blocked_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var edge Edge
		var createdRaw string
		if err := rows.Scan(&edge.BlockerID, &edge.BlockedID, &createdRaw); err != nil {
			return nil, err
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			edge.CreatedAt = created
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// BlockersOf returns the ids of tasks that directly block taskID.
func (s *Store) BlockersOf(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT blocker_id FROM task_deps WHERE blocked_id = ? ORDER BY blocker_id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list blockers: %w", err)
	}
	defer rows.Close()

	var blockers []string
	for rows.Next() {
		var blocker string
		if err := rows.Scan(&blocker); err != nil {
			return nil, err
		}
		blockers = append(blockers, blocker)
	}
	return blockers, rows.Err()
}

func (s *Store) edgeExists(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM task_deps WHERE blocker_id = ? AND blocked_id = ?`,
		blockerID,
		blockedID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check edge: %w", err)
	}
	return count > 0, nil
}

// blocksAdjacency loads the full edge set once and builds a blocker -> blocked
// adjacency map. One pass over tasks plus edges keeps graph queries off the
// one-query-per-task path.
func (s *Store) blocksAdjacency(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blocker_id, blocked_id FROM task_deps`)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	defer rows.Close()

	adjacency := make(map[string][]string)
	for rows.Next() {
		var blocker, blocked string
		if err := rows.Scan(&blocker, &blocked); err != nil {
			return nil, err
		}
		adjacency[blocker] = append(adjacency[blocker], blocked)
	}
	return adjacency, rows.Err()
}
