package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/datastage/internal/history"
	"github.com/JonMunkholm/datastage/internal/logging"
	"github.com/JonMunkholm/datastage/internal/tables"
	"github.com/JonMunkholm/datastage/internal/warehouse"
	"github.com/go-chi/chi/v5"
)

// dashboardRuns is the number of runs listed on the dashboard.
const dashboardRuns = 10

// RunResponse is the body returned by POST /api/runs.
type RunResponse struct {
	Run       history.Run        `json:"run"`
	Tables    []tables.TableFile `json:"tables"`
	Skipped   []string           `json:"skipped,omitempty"`
	Warehouse []warehouse.Output `json:"warehouse,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDashboard renders the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	// Render what is available; a broken history store should not hide tables.
	data := DashboardData{Status: s.pipeline.Status()}
	var err error
	if data.Tables, err = s.pipeline.Tables(); err != nil {
		logger.Warn("dashboard: list tables", "error", err)
	}
	if data.Runs, err = s.pipeline.History(ctx, dashboardRuns); err != nil {
		logger.Warn("dashboard: list runs", "error", err)
	}
	if m, err := s.pipeline.Manifest(); err != nil {
		logger.Warn("dashboard: read manifest", "error", err)
	} else if m != nil {
		data.LastManifest = m.GeneratedAt
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := Dashboard(data).Render(ctx, w); err != nil {
		logger.Error("dashboard render", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

// handleListTables returns the tables currently staged in csv/.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	list, err := s.pipeline.Tables()
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if list == nil {
		list = []tables.TableFile{}
	}
	writeData(w, r, http.StatusOK, list)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", history.DefaultListLimit)
	runs, err := s.pipeline.History(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleTriggerRun performs a staging run and returns its outcome.
// The run outlives a dropped client connection.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	resp := RunResponse{Run: result.Run}
	if result.Manifest != nil {
		resp.Tables = result.Manifest.Tables
		resp.Skipped = result.Manifest.Skipped
		resp.Warehouse = result.Manifest.Warehouse
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleProfile summarizes the columns of one table.
//
//	GET /api/tables/train/profile?sample=5&prefix=VAR_00,VAR_01&type=VARCHAR
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	opts := warehouse.ProfileOptions{
		SampleSize: parseIntParam(r, "sample", 0),
		Prefixes:   splitList(r.URL.Query().Get("prefix")),
		Types:      splitList(r.URL.Query().Get("type")),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	summaries, err := s.pipeline.Profile(ctx, name, opts)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if summaries == nil {
		summaries = []warehouse.ColumnSummary{}
	}
	writeData(w, r, http.StatusOK, summaries)
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// splitList splits a comma-separated query value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
