package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"loom/internal/store"
	"loom/internal/testsupport"
)

func startAPIDaemon(t *testing.T) (*store.Store, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, st)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return st, "http://" + d.APIAddr()
}

func TestAPIStatusEndpoint(t *testing.T) {
	st, base := startAPIDaemon(t)
	testsupport.NewTask(t, st, "visible", 5)

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Running    bool `json:"running"`
		TotalTasks int  `json:"total_tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Running {
		t.Fatal("expected running daemon")
	}
	if payload.TotalTasks != 1 {
		t.Fatalf("expected 1 task, got %d", payload.TotalTasks)
	}
}

func TestAPIClaimLifecycle(t *testing.T) {
	st, base := startAPIDaemon(t)
	ctx := context.Background()

	task := testsupport.NewTask(t, st, "api claim", 0)
	worker := testsupport.NewWorker(t, st, "api-worker")
	rival := testsupport.NewWorker(t, st, "api-rival")

	body := func() *bytes.Buffer {
		raw, _ := json.Marshal(map[string]string{"task_id": task.ID, "worker_id": worker.ID})
		return bytes.NewBuffer(raw)
	}

	resp, err := http.Post(base+"/api/claims", "application/json", body())
	if err != nil {
		t.Fatalf("POST /api/claims: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	rivalRaw, _ := json.Marshal(map[string]string{"task_id": task.ID, "worker_id": rival.ID})
	resp, err = http.Post(base+"/api/claims", "application/json", bytes.NewBuffer(rivalRaw))
	if err != nil {
		t.Fatalf("POST rival claim: %v", err)
	}
	var conflict struct {
		ClaimedBy string `json:"claimed_by"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
		t.Fatalf("decode conflict: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for rival claim, got %d", resp.StatusCode)
	}
	if conflict.ClaimedBy != worker.ID {
		t.Fatalf("expected conflict to name %s, got %s", worker.ID, conflict.ClaimedBy)
	}

	resp, err = http.Post(base+"/api/claims/renew", "application/json", body())
	if err != nil {
		t.Fatalf("POST /api/claims/renew: %v", err)
	}
	var renewed struct {
		RenewedCount int `json:"renewed_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&renewed); err != nil {
		t.Fatalf("decode renewed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for renew, got %d", resp.StatusCode)
	}
	if renewed.RenewedCount != 1 {
		t.Fatalf("expected renewed_count 1, got %d", renewed.RenewedCount)
	}

	resp, err = http.Post(base+"/api/claims/release", "application/json", body())
	if err != nil {
		t.Fatalf("POST /api/claims/release: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for release, got %d", resp.StatusCode)
	}

	active, err := st.GetActiveClaim(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetActiveClaim: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active claim after release, got %#v", active)
	}
}

func TestAPIReadyEndpoint(t *testing.T) {
	st, base := startAPIDaemon(t)
	ctx := context.Background()

	blocker := testsupport.NewTask(t, st, "blocker", 0)
	blocked := testsupport.NewTask(t, st, "blocked", 0)
	if err := st.AddBlocker(ctx, blocked.ID, blocker.ID); err != nil {
		t.Fatalf("AddBlocker: %v", err)
	}

	resp, err := http.Get(base + "/api/ready")
	if err != nil {
		t.Fatalf("GET /api/ready: %v", err)
	}
	defer resp.Body.Close()

	var payload []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload) != 1 || payload[0].ID != blocker.ID {
		t.Fatalf("expected only blocker ready, got %#v", payload)
	}
}

func TestAPITokenRequired(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "secret"
	st := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, st)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	base := "http://" + d.APIAddr()

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/status", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}
