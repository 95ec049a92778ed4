package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vietddude/curator/internal/infra/fetch"
)

// Server provides the HTTP surface for operators and the CLI.
type Server struct {
	svc    *Service
	server *http.Server
}

// NewServer creates the control server.
func NewServer(svc *Service, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		svc: svc,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/items", s.handleItems)
	mux.HandleFunc("/credentials/unblock", s.handleUnblock)
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/cancel", s.handleCancel)
	mux.HandleFunc("/tasks/status", s.handleTaskStatus)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pool := s.svc.fetcher.Pool()
	status := "healthy"
	code := http.StatusOK

	// A populated pool with every credential blocked means fetches can
	// no longer authenticate; an empty pool still works cookie-less.
	if pool.Len() > 0 && pool.Exhausted() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	pool := s.svc.fetcher.Pool()
	response := map[string]any{
		"credentials":     pool.Reports(),
		"pool_exhausted":  pool.Len() > 0 && pool.Exhausted(),
		"storage":         storageBackend(s.svc),
		"redis_connected": s.svc.redisClient != nil,
		"checked_at":      time.Now().UTC(),
	}
	if s.svc.failedRepo != nil {
		if parked, err := s.svc.failedRepo.GetAll(r.Context()); err == nil {
			response["parked_fetches"] = parked
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.repo.CountByStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"items":       counts,
		"credentials": s.svc.fetcher.Pool().Reports(),
		"admission":   s.svc.queue.Snapshot(),
	}
	if s.svc.failedRepo != nil {
		if n, err := s.svc.failedRepo.Count(r.Context()); err == nil {
			response["parked_fetches"] = n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := s.svc.repo.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type itemView struct {
		ID       string `json:"id"`
		URL      string `json:"url"`
		Title    string `json:"title"`
		Uploader string `json:"uploader"`
		Duration string `json:"duration"`
		Status   string `json:"status"`
	}
	views := make([]itemView, 0, len(items))
	for _, it := range items {
		views = append(views, itemView{
			ID:       it.ID,
			URL:      it.URL,
			Title:    it.Title,
			Uploader: it.Uploader,
			Duration: it.Duration.String(),
			Status:   string(it.Status),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pool := s.svc.fetcher.Pool()
	pool.UnblockAll()
	s.svc.log.Info("All credentials unblocked by operator")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"unblocked":   true,
		"credentials": pool.Reports(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	item, err := s.svc.pipe.Ingest(r.Context(), req.URL)
	if err != nil {
		code := http.StatusBadGateway
		switch {
		case errors.Is(err, fetch.ErrInvalidURL):
			code = http.StatusBadRequest
		case errors.Is(err, fetch.ErrPoolExhausted):
			code = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":       item.ID,
		"title":    item.Title,
		"uploader": item.Uploader,
		"duration": item.Duration.String(),
		"status":   item.Status,
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Category    string `json:"category"`
		RequesterID int64  `json:"requester_id"`
		URL         string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category == "" || req.URL == "" {
		http.Error(w, "category and url are required", http.StatusBadRequest)
		return
	}

	status, err := s.svc.pipe.Submit(r.Context(), req.Category, req.RequesterID, req.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Category    string `json:"category"`
		RequesterID int64  `json:"requester_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category == "" {
		http.Error(w, "category is required", http.StatusBadRequest)
		return
	}

	removed := s.svc.pipe.Cancel(req.Category, req.RequesterID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"removed": removed})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	requester, err := strconv.ParseInt(r.URL.Query().Get("requester_id"), 10, 64)
	if category == "" || err != nil {
		http.Error(w, "category and requester_id are required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.svc.queue.Status(category, requester))
}

func storageBackend(s *Service) string {
	if s.db != nil {
		return "postgres"
	}
	return "memory"
}
