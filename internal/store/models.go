package store

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusPlanning   Status = "planning"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusBacklog,
	StatusPlanning,
	StatusReady,
	StatusInProgress,
	StatusDone,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// workableStatuses is the subset of statuses eligible for the ready set.
// Keep this in sync with any status-transition validation: the ready
// computation and the lifecycle operations must agree on what "workable" means.
var workableStatuses = map[Status]struct{}{
	StatusBacklog:  {},
	StatusPlanning: {},
	StatusReady:    {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsWorkable reports whether a task with this status may enter the ready set.
func (s Status) IsWorkable() bool {
	_, ok := workableStatuses[s]
	return ok
}

// IsTerminal reports whether the status ends a task's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of work persisted in SQLite.
type Task struct {
	ID          string
	Title       string
	Status      Status
	Score       int
	ParentID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Edge is a directed blocking relation: the blocker must reach done before
// the blocked task becomes workable.
type Edge struct {
	BlockerID string
	BlockedID string
	CreatedAt time.Time
}

// WorkerStatus represents worker liveness as tracked by the registry.
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerOffline WorkerStatus = "offline"
)

// Worker is one process competing for work.
type Worker struct {
	ID              string
	Name            string
	Hostname        string
	PID             int
	Status          WorkerStatus
	RegisteredAt    time.Time
	LastHeartbeatAt time.Time
	CurrentTaskID   string
	Capabilities    []string
	Metadata        map[string]string
}

// ClaimStatus represents the lease lifecycle of a claim.
type ClaimStatus string

const (
	ClaimActive   ClaimStatus = "active"
	ClaimReleased ClaimStatus = "released"
	ClaimExpired  ClaimStatus = "expired"
)

// Claim is an exclusive, time-bounded grant of one task to one worker.
type Claim struct {
	ID             string
	TaskID         string
	WorkerID       string
	ClaimedAt      time.Time
	LeaseExpiresAt time.Time
	RenewedCount   int
	Status         ClaimStatus
	FinishedAt     *time.Time
}

// LeaseExpired reports whether the lease has lapsed at the given instant.
// A lapsed lease does not change the claim's status; only Expire does.
func (c *Claim) LeaseExpired(now time.Time) bool {
	return now.After(c.LeaseExpiresAt)
}

// ReadyTask pairs a ready task with the ids of its child tasks. Children are
// reported for grouping in consumers; they never gate readiness.
type ReadyTask struct {
	Task     *Task
	Children []string
}

// TaskStats aggregates task counts per status for diagnostics.
type TaskStats struct {
	Total    int
	ByStatus map[Status]int
}
