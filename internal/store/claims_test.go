package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"loom/internal/store"
	"loom/internal/testsupport"
)

func TestClaimGrantsLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "work", 0)
	worker := testsupport.NewWorker(t, st, "w1")

	claim, err := st.Claim(ctx, task.ID, worker.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim.Status != store.ClaimActive {
		t.Fatalf("expected active claim, got %s", claim.Status)
	}
	want := claim.ClaimedAt.Add(st.LeaseDuration())
	if !claim.LeaseExpiresAt.Equal(want) {
		t.Fatalf("expected lease %v, got %v", want, claim.LeaseExpiresAt)
	}

	active, err := st.GetActiveClaim(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetActiveClaim: %v", err)
	}
	if active == nil || active.ID != claim.ID || active.WorkerID != worker.ID {
		t.Fatalf("unexpected active claim: %#v", active)
	}

	assigned, err := st.GetWorker(ctx, worker.ID)
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if assigned.CurrentTaskID != task.ID {
		t.Fatalf("expected worker assigned to %s, got %q", task.ID, assigned.CurrentTaskID)
	}
}

func TestClaimRequiresExistingRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "work", 0)
	worker := testsupport.NewWorker(t, st, "w1")

	if _, err := st.Claim(ctx, "ghost", worker.ID); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("expected task-not-found, got %v", err)
	}
	if _, err := st.Claim(ctx, task.ID, "ghost"); !errors.Is(err, store.ErrWorkerNotFound) {
		t.Fatalf("expected worker-not-found, got %v", err)
	}
}

func TestClaimConflictNamesWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "contested", 0)
	w1 := testsupport.NewWorker(t, st, "w1")
	w2 := testsupport.NewWorker(t, st, "w2")

	if _, err := st.Claim(ctx, task.ID, w1.ID); err != nil {
		t.Fatalf("Claim w1: %v", err)
	}

	_, err := st.Claim(ctx, task.ID, w2.ID)
	var conflict *store.AlreadyClaimedError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected already-claimed error, got %v", err)
	}
	if conflict.TaskID != task.ID || conflict.ClaimedBy != w1.ID {
		t.Fatalf("unexpected conflict details: %#v", conflict)
	}
}

func TestClaimExclusivityUnderConcurrency(t *testing.T) {
	for _, workers := range []int{5, 10, 20} {
		t.Run(fmt.Sprintf("%d_workers", workers), func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			st := testsupport.MustOpenStore(t, cfg)
			ctx := context.Background()

			task := testsupport.NewTask(t, st, "hot", 0)
			ids := make([]string, workers)
			for i := range ids {
				ids[i] = testsupport.NewWorker(t, st, fmt.Sprintf("w%d", i)).ID
			}

			var wg sync.WaitGroup
			errs := make([]error, workers)
			wg.Add(workers)
			for i := 0; i < workers; i++ {
				go func(i int) {
					defer wg.Done()
					_, errs[i] = st.Claim(ctx, task.ID, ids[i])
				}(i)
			}
			wg.Wait()

			successful := 0
			for i, err := range errs {
				switch {
				case err == nil:
					successful++
				case errors.Is(err, store.ErrAlreadyClaimed):
				default:
					t.Fatalf("worker %d: unexpected error %v", i, err)
				}
			}
			if successful != 1 {
				t.Fatalf("expected exactly 1 successful claim, got %d", successful)
			}

			active, err := st.GetActiveClaim(ctx, task.ID)
			if err != nil {
				t.Fatalf("GetActiveClaim: %v", err)
			}
			if active == nil {
				t.Fatal("expected one active claim after the race")
			}
			all, err := st.ListActiveClaims(ctx)
			if err != nil {
				t.Fatalf("ListActiveClaims: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("expected a single active row, got %d", len(all))
			}
		})
	}
}

func TestReleaseThenReclaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "handoff", 0)
	w1 := testsupport.NewWorker(t, st, "w1")
	w2 := testsupport.NewWorker(t, st, "w2")

	if _, err := st.Claim(ctx, task.ID, w1.ID); err != nil {
		t.Fatalf("Claim w1: %v", err)
	}
	if err := st.Release(ctx, task.ID, w1.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	claim, err := st.Claim(ctx, task.ID, w2.ID)
	if err != nil {
		t.Fatalf("Claim w2 after release: %v", err)
	}
	if claim.WorkerID != w2.ID {
		t.Fatalf("expected claim owned by w2, got %s", claim.WorkerID)
	}

	history, err := st.ClaimHistory(ctx, task.ID)
	if err != nil {
		t.Fatalf("ClaimHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected released claim retained in history, got %d rows", len(history))
	}
	if history[0].Status != store.ClaimReleased || history[0].FinishedAt == nil {
		t.Fatalf("expected first claim released with finish time, got %#v", history[0])
	}
}

func TestOwnershipIsolation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "owned", 0)
	w1 := testsupport.NewWorker(t, st, "w1")
	w2 := testsupport.NewWorker(t, st, "w2")

	original, err := st.Claim(ctx, task.ID, w1.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if _, err := st.Renew(ctx, task.ID, w2.ID); !errors.Is(err, store.ErrClaimNotFound) {
		t.Fatalf("expected claim-not-found for non-owner renew, got %v", err)
	}
	if err := st.Release(ctx, task.ID, w2.ID); !errors.Is(err, store.ErrClaimNotFound) {
		t.Fatalf("expected claim-not-found for non-owner release, got %v", err)
	}

	active, err := st.GetActiveClaim(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetActiveClaim: %v", err)
	}
	if active == nil || active.ID != original.ID || active.RenewedCount != 0 {
		t.Fatalf("expected original claim untouched, got %#v", active)
	}
	if !active.LeaseExpiresAt.Equal(original.LeaseExpiresAt) {
		t.Fatalf("expected lease unchanged, got %v", active.LeaseExpiresAt)
	}
}

func TestRenewExtendsLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "long haul", 0)
	worker := testsupport.NewWorker(t, st, "w1")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	st.SetClock(func() time.Time { return current })

	claim, err := st.Claim(ctx, task.ID, worker.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	current = base.Add(10 * time.Minute)
	renewed, err := st.Renew(ctx, task.ID, worker.ID)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed.RenewedCount != 1 {
		t.Fatalf("expected renewedCount 1, got %d", renewed.RenewedCount)
	}
	if !renewed.LeaseExpiresAt.After(claim.LeaseExpiresAt) {
		t.Fatalf("expected lease extended past %v, got %v", claim.LeaseExpiresAt, renewed.LeaseExpiresAt)
	}

	current = base.Add(20 * time.Minute)
	renewed, err = st.Renew(ctx, task.ID, worker.ID)
	if err != nil {
		t.Fatalf("second Renew: %v", err)
	}
	if renewed.RenewedCount != 2 {
		t.Fatalf("expected renewedCount 2, got %d", renewed.RenewedCount)
	}

	if _, err := st.Renew(ctx, "ghost", worker.ID); !errors.Is(err, store.ErrClaimNotFound) {
		t.Fatalf("expected claim-not-found for unknown task, got %v", err)
	}
}

func TestReleaseByWorker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	t1 := testsupport.NewTask(t, st, "T1", 0)
	t2 := testsupport.NewTask(t, st, "T2", 0)
	t3 := testsupport.NewTask(t, st, "T3", 0)
	w1 := testsupport.NewWorker(t, st, "w1")
	w2 := testsupport.NewWorker(t, st, "w2")

	for _, taskID := range []string{t1.ID, t2.ID} {
		if _, err := st.Claim(ctx, taskID, w1.ID); err != nil {
			t.Fatalf("Claim %s: %v", taskID, err)
		}
	}
	if _, err := st.Claim(ctx, t3.ID, w2.ID); err != nil {
		t.Fatalf("Claim t3: %v", err)
	}

	released, err := st.ReleaseByWorker(ctx, w1.ID)
	if err != nil {
		t.Fatalf("ReleaseByWorker: %v", err)
	}
	if released != 2 {
		t.Fatalf("expected 2 claims released, got %d", released)
	}

	other, err := st.GetActiveClaim(ctx, t3.ID)
	if err != nil {
		t.Fatalf("GetActiveClaim t3: %v", err)
	}
	if other == nil || other.WorkerID != w2.ID {
		t.Fatalf("expected w2 claim untouched, got %#v", other)
	}

	released, err = st.ReleaseByWorker(ctx, w1.ID)
	if err != nil {
		t.Fatalf("ReleaseByWorker second call: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected nothing left to release, got %d", released)
	}
}

func TestExpireReopensTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "stalled", 0)
	w1 := testsupport.NewWorker(t, st, "w1")
	w2 := testsupport.NewWorker(t, st, "w2")

	past := time.Now().UTC().Add(-2 * time.Hour)
	st.SetClock(func() time.Time { return past })
	claim, err := st.Claim(ctx, task.ID, w1.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	st.SetClock(func() time.Time { return time.Now().UTC() })

	// The store keeps reporting the stale claim active until someone expires it.
	active, err := st.GetActiveClaim(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetActiveClaim: %v", err)
	}
	if active == nil || !active.LeaseExpired(time.Now().UTC()) {
		t.Fatalf("expected stale active claim, got %#v", active)
	}

	if err := st.Expire(ctx, claim.ID); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if err := st.Expire(ctx, claim.ID); !errors.Is(err, store.ErrClaimNotFound) {
		t.Fatalf("expected claim-not-found on double expire, got %v", err)
	}

	next, err := st.Claim(ctx, task.ID, w2.ID)
	if err != nil {
		t.Fatalf("Claim after expire: %v", err)
	}
	if next.WorkerID != w2.ID {
		t.Fatalf("expected w2 to own the new claim, got %s", next.WorkerID)
	}
}

func TestListExpiredActive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	stale := testsupport.NewTask(t, st, "stale", 0)
	fresh := testsupport.NewTask(t, st, "fresh", 0)
	worker := testsupport.NewWorker(t, st, "w1")

	past := time.Now().UTC().Add(-2 * time.Hour)
	st.SetClock(func() time.Time { return past })
	staleClaim, err := st.Claim(ctx, stale.ID, worker.ID)
	if err != nil {
		t.Fatalf("Claim stale: %v", err)
	}
	st.SetClock(func() time.Time { return time.Now().UTC() })
	if _, err := st.Claim(ctx, fresh.ID, worker.ID); err != nil {
		t.Fatalf("Claim fresh: %v", err)
	}

	expired, err := st.ListExpiredActive(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ListExpiredActive: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != staleClaim.ID {
		t.Fatalf("expected only the stale claim, got %#v", expired)
	}
}
