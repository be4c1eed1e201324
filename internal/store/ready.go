package store

import (
	"context"
	"sort"
)

// Ready computes the tasks currently eligible for claiming: own status is
// workable and every blocker has reached done. Tasks without blockers qualify
// on their own status alone. Results are ordered by score descending with id
// as the tie-break so pollers see a stable order.
//
// The computation is a pure read built from one pass over tasks and edges;
// nothing is cached, so callers always observe the current graph.
func (s *Store) Ready(ctx context.Context) ([]*ReadyTask, error) {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT blocker_id, blocked_id FROM task_deps`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blockedBy := make(map[string][]string)
	for rows.Next() {
		var blocker, blocked string
		if err := rows.Scan(&blocker, &blocked); err != nil {
			return nil, err
		}
		blockedBy[blocked] = append(blockedBy[blocked], blocker)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statusByID := make(map[string]Status, len(tasks))
	childrenByID := make(map[string][]string)
	for _, task := range tasks {
		statusByID[task.ID] = task.Status
		if task.ParentID != "" {
			childrenByID[task.ParentID] = append(childrenByID[task.ParentID], task.ID)
		}
	}

	var ready []*ReadyTask
	for _, task := range tasks {
		if !task.Status.IsWorkable() {
			continue
		}
		blocked := false
		for _, blocker := range blockedBy[task.ID] {
			if statusByID[blocker] != StatusDone {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		children := childrenByID[task.ID]
		sort.Strings(children)
		ready = append(ready, &ReadyTask{Task: task, Children: children})
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Task.Score != ready[j].Task.Score {
			return ready[i].Task.Score > ready[j].Task.Score
		}
		return ready[i].Task.ID < ready[j].Task.ID
	})
	return ready, nil
}
