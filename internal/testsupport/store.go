package testsupport

import (
	"context"
	"testing"

	"loom/internal/config"
	"loom/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewTask creates a task for tests using the provided store.
func NewTask(t testing.TB, st *store.Store, title string, score int) *store.Task {
	t.Helper()

	task, err := st.CreateTask(context.Background(), store.NewTask{Title: title, Score: score})
	if err != nil {
		t.Fatalf("store.CreateTask: %v", err)
	}
	return task
}

// NewWorker registers a worker for tests using the provided store.
func NewWorker(t testing.TB, st *store.Store, name string) *store.Worker {
	t.Helper()

	worker, err := st.RegisterWorker(context.Background(), store.NewWorker{Name: name, Hostname: "test", PID: 1})
	if err != nil {
		t.Fatalf("store.RegisterWorker: %v", err)
	}
	return worker
}
