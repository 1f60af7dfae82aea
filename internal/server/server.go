// Package server exposes the research pipeline over a small JSON HTTP API.
// The browser front-end lives elsewhere; this is the boundary it talks to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deepscout/internal/jobs"
	"deepscout/internal/logging"
	"deepscout/internal/ragstore"
	"deepscout/internal/tasks"
)

// TaskStore is the slice of the task store the API serves. *tasks.Store
// satisfies it.
type TaskStore interface {
	Snapshot() tasks.Data
	Group(index int) (tasks.Group, error)
	Descriptions() []string
	AppendGenerated(prompt string, items []tasks.Item) error
}

// TaskGenerator produces new task items from a prompt. *tasks.Generator
// satisfies it.
type TaskGenerator interface {
	Generate(ctx context.Context, prompt string, existing []string) ([]tasks.Item, error)
}

// JobRegistry starts and polls background research jobs. *jobs.Registry
// satisfies it.
type JobRegistry interface {
	Start(ctx context.Context, key jobs.Key) error
	Status(key jobs.Key) jobs.Status
}

// IndexQuerier answers questions against a retrieval index. *ragstore.Store
// satisfies it.
type IndexQuerier interface {
	Query(ctx context.Context, id, query string, topK int, threshold float64) (*ragstore.QueryResult, error)
}

// Server wires the HTTP handlers to the pipeline components.
type Server struct {
	store     TaskStore
	generator TaskGenerator
	registry  JobRegistry
	indexes   IndexQuerier
	log       logging.Sink

	httpServer *http.Server
}

func New(store TaskStore, generator TaskGenerator, registry JobRegistry, indexes IndexQuerier, log logging.Sink) *Server {
	return &Server{
		store:     store,
		generator: generator,
		registry:  registry,
		indexes:   indexes,
		log:       log,
	}
}

// Handler builds the route table. Split out from ListenAndServe so tests
// can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /research/start/{group}", s.handleStart)
	mux.HandleFunc("GET /research/progress/{group}", s.handleProgress)
	mux.HandleFunc("POST /research/query/{group}", s.handleQuery)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("POST /tasks/generate", s.handleGenerate)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe runs the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// groupIndex parses the {group} path segment.
func groupIndex(r *http.Request) (int, error) {
	return strconv.Atoi(r.PathValue("group"))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	group, err := groupIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group index")
		return
	}

	// The job must outlive this request.
	err = s.registry.Start(context.WithoutCancel(r.Context()), jobs.Key{GroupID: group})
	switch {
	case errors.Is(err, jobs.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrNoPendingTasks):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Infow("research job started", "group", group)
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	group, err := groupIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group index")
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Status(jobs.Key{GroupID: group}))
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Success  bool              `json:"success"`
	Response string            `json:"response"`
	Sources  []ragstore.Source `json:"sources"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	group, err := groupIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group index")
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	g, err := s.store.Group(group)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if g.IndexID == "" {
		writeError(w, http.StatusNotFound, "no retrieval index for this group")
		return
	}

	result, err := s.indexes.Query(r.Context(), g.IndexID, req.Query, 0, 0)
	if err != nil {
		s.log.Errorw("index query failed", "index", g.IndexID, "error", err)
		writeError(w, http.StatusInternalServerError, "index query failed")
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Success:  true,
		Response: result.Response,
		Sources:  result.Sources,
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	items, err := s.generator.Generate(r.Context(), req.Prompt, s.store.Descriptions())
	if err != nil {
		s.log.Errorw("task generation failed", "error", err)
		writeError(w, http.StatusBadGateway, "task generation failed")
		return
	}
	if err := s.store.AppendGenerated(req.Prompt, items); err != nil {
		writeError(w, http.StatusInternalServerError, "could not save tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "added": len(items)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
