package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"loom/internal/store"
	"loom/internal/testsupport"
)

func TestAddBlockerRejectsSelfBlocking(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "solo", 0)
	err := st.AddBlocker(ctx, task.ID, task.ID)
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	edges, err := st.AllEdges(ctx)
	if err != nil {
		t.Fatalf("AllEdges: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected no edges persisted, got %d", len(edges))
	}
}

func TestAddBlockerRejectsTwoNodeCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewTask(t, st, "A", 0)
	b := testsupport.NewTask(t, st, "B", 0)

	if err := st.AddBlocker(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("AddBlocker B<-A: %v", err)
	}

	err := st.AddBlocker(ctx, a.ID, b.ID)
	var cycleErr *store.CircularDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected circular dependency error, got %v", err)
	}
	if cycleErr.BlockerID != b.ID || cycleErr.BlockedID != a.ID {
		t.Fatalf("unexpected offending pair: %#v", cycleErr)
	}

	edges, err := st.AllEdges(ctx)
	if err != nil {
		t.Fatalf("AllEdges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected edge set unchanged, got %d edges", len(edges))
	}
	if edges[0].BlockerID != a.ID || edges[0].BlockedID != b.ID {
		t.Fatalf("unexpected surviving edge: %#v", edges[0])
	}
}

func TestAddBlockerRejectsThreeNodeCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewTask(t, st, "A", 0)
	b := testsupport.NewTask(t, st, "B", 0)
	c := testsupport.NewTask(t, st, "C", 0)

	// A blocks B, B blocks C.
	if err := st.AddBlocker(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("AddBlocker B<-A: %v", err)
	}
	if err := st.AddBlocker(ctx, c.ID, b.ID); err != nil {
		t.Fatalf("AddBlocker C<-B: %v", err)
	}

	// C blocking A would close the loop through two hops.
	err := st.AddBlocker(ctx, a.ID, c.ID)
	if !errors.Is(err, store.ErrCircularDependency) {
		t.Fatalf("expected circular dependency error, got %v", err)
	}

	edges, err := st.AllEdges(ctx)
	if err != nil {
		t.Fatalf("AllEdges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected edge set unchanged, got %d edges", len(edges))
	}
}

func TestAddBlockerRejectsDuplicateEdge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewTask(t, st, "A", 0)
	b := testsupport.NewTask(t, st, "B", 0)

	if err := st.AddBlocker(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("AddBlocker: %v", err)
	}
	if err := st.AddBlocker(ctx, b.ID, a.ID); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error on duplicate edge, got %v", err)
	}
}

func TestAddBlockerRequiresExistingTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "real", 0)
	if err := st.AddBlocker(ctx, task.ID, "ghost"); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("expected task-not-found for missing blocker, got %v", err)
	}
	if err := st.AddBlocker(ctx, "ghost", task.ID); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("expected task-not-found for missing task, got %v", err)
	}
}

func TestHasPathFollowsMultiHopChains(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewTask(t, st, "A", 0)
	b := testsupport.NewTask(t, st, "B", 0)
	c := testsupport.NewTask(t, st, "C", 0)
	d := testsupport.NewTask(t, st, "D", 0)

	if err := st.AddBlocker(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("AddBlocker: %v", err)
	}
	if err := st.AddBlocker(ctx, c.ID, b.ID); err != nil {
		t.Fatalf("AddBlocker: %v", err)
	}

	if ok, err := st.HasPath(ctx, a.ID, c.ID); err != nil || !ok {
		t.Fatalf("expected path A->C via B, got ok=%v err=%v", ok, err)
	}
	if ok, err := st.HasPath(ctx, c.ID, a.ID); err != nil || ok {
		t.Fatalf("expected no reverse path C->A, got ok=%v err=%v", ok, err)
	}
	if ok, err := st.HasPath(ctx, a.ID, d.ID); err != nil || ok {
		t.Fatalf("expected no path to disconnected task, got ok=%v err=%v", ok, err)
	}
	if ok, err := st.HasPath(ctx, a.ID, a.ID); err != nil || !ok {
		t.Fatalf("expected trivial path to self, got ok=%v err=%v", ok, err)
	}
}

func TestRemoveBlocker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewTask(t, st, "A", 0)
	b := testsupport.NewTask(t, st, "B", 0)
	if err := st.AddBlocker(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("AddBlocker: %v", err)
	}

	removed, err := st.RemoveBlocker(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatalf("RemoveBlocker: %v", err)
	}
	if !removed {
		t.Fatal("expected edge removed")
	}
	removed, err = st.RemoveBlocker(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatalf("RemoveBlocker second call: %v", err)
	}
	if removed {
		t.Fatal("expected second removal to report no edge")
	}

	// With the edge gone, the former cycle direction is legal again.
	if err := st.AddBlocker(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("AddBlocker after removal: %v", err)
	}
}

func TestBlockersOf(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewTask(t, st, "A", 0)
	b := testsupport.NewTask(t, st, "B", 0)
	c := testsupport.NewTask(t, st, "C", 0)
	if err := st.AddBlocker(ctx, c.ID, a.ID); err != nil {
		t.Fatalf("AddBlocker: %v", err)
	}
	if err := st.AddBlocker(ctx, c.ID, b.ID); err != nil {
		t.Fatalf("AddBlocker: %v", err)
	}

	blockers, err := st.BlockersOf(ctx, c.ID)
	if err != nil {
		t.Fatalf("BlockersOf: %v", err)
	}
	if len(blockers) != 2 {
		t.Fatalf("expected 2 blockers, got %d", len(blockers))
	}
}

func TestConcurrentAddBlockerNeverCreatesCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewTask(t, st, "A", 0)
	b := testsupport.NewTask(t, st, "B", 0)

	// Opposite directions racing: at most one may win.
	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = st.AddBlocker(ctx, b.ID, a.ID)
	}()
	go func() {
		defer wg.Done()
		results[1] = st.AddBlocker(ctx, a.ID, b.ID)
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		t.Fatalf("expected at least one insert to succeed: %v / %v", results[0], results[1])
	}

	edges, err := st.AllEdges(ctx)
	if err != nil {
		t.Fatalf("AllEdges: %v", err)
	}
	if len(edges) != succeeded || len(edges) > 1 {
		t.Fatalf("expected an acyclic outcome, got %d edges after %d successes", len(edges), succeeded)
	}
}
