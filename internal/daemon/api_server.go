package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"loom/internal/config"
	"loom/internal/store"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logger.With(slog.String("component", "api")),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(srv.token, srv.handleStatus))
	mux.HandleFunc("/api/ready", authMiddleware(srv.token, srv.handleReady))
	mux.HandleFunc("/api/tasks", authMiddleware(srv.token, srv.handleTasks))
	mux.HandleFunc("/api/workers", authMiddleware(srv.token, srv.handleWorkers))
	mux.HandleFunc("/api/claims", authMiddleware(srv.token, srv.handleClaims))
	mux.HandleFunc("/api/claims/renew", authMiddleware(srv.token, srv.handleRenew))
	mux.HandleFunc("/api/claims/release", authMiddleware(srv.token, srv.handleRelease))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type statusPayload struct {
	Running       bool           `json:"running"`
	DBPath        string         `json:"db_path"`
	ActiveClaims  int            `json:"active_claims"`
	OnlineWorkers int            `json:"online_workers"`
	TotalTasks    int            `json:"total_tasks"`
	TasksByStatus map[string]int `json:"tasks_by_status"`
}

type readyPayload struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Status   string   `json:"status"`
	Score    int      `json:"score"`
	Children []string `json:"children,omitempty"`
}

type claimRequest struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
}

type claimPayload struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	WorkerID       string    `json:"worker_id"`
	ClaimedAt      time.Time `json:"claimed_at"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
	RenewedCount   int       `json:"renewed_count"`
	Status         string    `json:"status"`
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := statusPayload{
		Running:       status.Running,
		DBPath:        status.DBPath,
		ActiveClaims:  status.ActiveClaims,
		OnlineWorkers: status.OnlineWorkers,
		TotalTasks:    status.TaskStats.Total,
		TasksByStatus: make(map[string]int, len(status.TaskStats.ByStatus)),
	}
	for st, count := range status.TaskStats.ByStatus {
		payload.TasksByStatus[string(st)] = count
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ready, err := s.daemon.store.Ready(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]readyPayload, 0, len(ready))
	for _, rt := range ready {
		payload = append(payload, readyPayload{
			ID:       rt.Task.ID,
			Title:    rt.Task.Title,
			Status:   string(rt.Task.Status),
			Score:    rt.Task.Score,
			Children: rt.Children,
		})
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []store.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			status, ok := store.ParseStatus(value)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
				return
			}
			statuses = append(statuses, status)
		}
	}
	tasks, err := s.daemon.store.ListTasks(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *apiServer) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	workers, err := s.daemon.store.ListWorkers(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, workers)
}

func (s *apiServer) handleClaims(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		claims, err := s.daemon.store.ListActiveClaims(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		payload := make([]claimPayload, 0, len(claims))
		for _, claim := range claims {
			payload = append(payload, toClaimPayload(claim))
		}
		s.writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		req, ok := s.decodeClaimRequest(w, r)
		if !ok {
			return
		}
		claim, err := s.daemon.store.Claim(r.Context(), req.TaskID, req.WorkerID)
		if err != nil {
			s.writeClaimError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, toClaimPayload(claim))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleRenew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := s.decodeClaimRequest(w, r)
	if !ok {
		return
	}
	claim, err := s.daemon.store.Renew(r.Context(), req.TaskID, req.WorkerID)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toClaimPayload(claim))
}

func (s *apiServer) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := s.decodeClaimRequest(w, r)
	if !ok {
		return
	}
	if err := s.daemon.store.Release(r.Context(), req.TaskID, req.WorkerID); err != nil {
		s.writeClaimError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) decodeClaimRequest(w http.ResponseWriter, r *http.Request) (claimRequest, bool) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if strings.TrimSpace(req.TaskID) == "" || strings.TrimSpace(req.WorkerID) == "" {
		s.writeError(w, http.StatusBadRequest, "task_id and worker_id are required")
		return req, false
	}
	return req, true
}

func (s *apiServer) writeClaimError(w http.ResponseWriter, err error) {
	var conflict *store.AlreadyClaimedError
	switch {
	case errors.As(err, &conflict):
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":      conflict.Error(),
			"claimed_by": conflict.ClaimedBy,
		})
	case errors.Is(err, store.ErrClaimNotFound),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrWorkerNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func toClaimPayload(claim *store.Claim) claimPayload {
	return claimPayload{
		ID:             claim.ID,
		TaskID:         claim.TaskID,
		WorkerID:       claim.WorkerID,
		ClaimedAt:      claim.ClaimedAt,
		LeaseExpiresAt: claim.LeaseExpiresAt,
		RenewedCount:   claim.RenewedCount,
		Status:         string(claim.Status),
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", slog.Any("error", err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
