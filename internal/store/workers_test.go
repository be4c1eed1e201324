package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loom/internal/store"
	"loom/internal/testsupport"
)

func TestRegisterWorkerRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	worker, err := st.RegisterWorker(ctx, store.NewWorker{
		Name:         "agent-1",
		Hostname:     "buildbox",
		PID:          4242,
		Capabilities: []string{"go", "docs"},
		Metadata:     map[string]string{"team": "infra"},
	})
	if err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if worker.Status != store.WorkerOnline {
		t.Fatalf("expected online status, got %s", worker.Status)
	}

	fetched, err := st.GetWorker(ctx, worker.ID)
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if fetched.Hostname != "buildbox" || fetched.PID != 4242 {
		t.Fatalf("unexpected worker: %#v", fetched)
	}
	if len(fetched.Capabilities) != 2 || fetched.Capabilities[0] != "go" {
		t.Fatalf("unexpected capabilities: %v", fetched.Capabilities)
	}
	if fetched.Metadata["team"] != "infra" {
		t.Fatalf("unexpected metadata: %v", fetched.Metadata)
	}
}

func TestRegisterWorkerRequiresName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	if _, err := st.RegisterWorker(context.Background(), store.NewWorker{Name: "  "}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	worker := testsupport.NewWorker(t, st, "w1")

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return base })
	if err := st.Heartbeat(ctx, worker.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	fetched, err := st.GetWorker(ctx, worker.ID)
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if !fetched.LastHeartbeatAt.Equal(base) {
		t.Fatalf("expected heartbeat %v, got %v", base, fetched.LastHeartbeatAt)
	}

	if err := st.Heartbeat(ctx, "ghost"); !errors.Is(err, store.ErrWorkerNotFound) {
		t.Fatalf("expected worker-not-found, got %v", err)
	}
}

func TestMarkWorkersOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	past := time.Now().UTC().Add(-30 * time.Minute)
	st.SetClock(func() time.Time { return past })
	stale := testsupport.NewWorker(t, st, "stale")

	st.SetClock(func() time.Time { return time.Now().UTC() })
	fresh := testsupport.NewWorker(t, st, "fresh")

	count, err := st.MarkWorkersOffline(ctx, time.Now().UTC().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("MarkWorkersOffline: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 worker offlined, got %d", count)
	}

	staleFetched, err := st.GetWorker(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetWorker stale: %v", err)
	}
	if staleFetched.Status != store.WorkerOffline {
		t.Fatalf("expected stale worker offline, got %s", staleFetched.Status)
	}
	freshFetched, err := st.GetWorker(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetWorker fresh: %v", err)
	}
	if freshFetched.Status != store.WorkerOnline {
		t.Fatalf("expected fresh worker online, got %s", freshFetched.Status)
	}

	// A heartbeat brings an offlined worker back.
	if err := st.Heartbeat(ctx, stale.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	revived, err := st.GetWorker(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetWorker revived: %v", err)
	}
	if revived.Status != store.WorkerOnline {
		t.Fatalf("expected revived worker online, got %s", revived.Status)
	}
}

func TestListWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	testsupport.NewWorker(t, st, "a")
	testsupport.NewWorker(t, st, "b")

	workers, err := st.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(workers))
	}
}
