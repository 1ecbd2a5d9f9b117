// Package api serves stored runs, their records and summaries, the HTML
// dashboard and the live websocket feed.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/laneguard/internal/aggregate"
	"github.com/banshee-data/laneguard/internal/analytics"
	"github.com/banshee-data/laneguard/internal/config"
	"github.com/banshee-data/laneguard/internal/db"
	"github.com/banshee-data/laneguard/internal/export"
	"github.com/banshee-data/laneguard/internal/httputil"
	"github.com/banshee-data/laneguard/internal/monitoring"
	"github.com/banshee-data/laneguard/internal/report"
	"github.com/banshee-data/laneguard/internal/security"
	"github.com/banshee-data/laneguard/internal/version"
)

const defaultRunLimit = 50

type Server struct {
	db  *db.DB
	hub *Hub
	cfg *config.RunConfig
}

// NewServer creates a server over database. hub may be nil when no live
// feed is wanted; cfg nil serves the built-in defaults on /api/config.
func NewServer(database *db.DB, hub *Hub, cfg *config.RunConfig) *Server {
	if cfg == nil {
		cfg = &config.RunConfig{}
	}
	return &Server{db: database, hub: hub, cfg: cfg}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/records", s.listRecords)
	mux.HandleFunc("GET /api/runs/{id}/records.csv", s.downloadCSV)
	mux.HandleFunc("GET /api/runs/{id}/summary", s.showSummary)
	mux.HandleFunc("GET /api/runs/{id}/violations", s.listViolations)
	mux.HandleFunc("GET /dashboard/{id}", s.showDashboard)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/version", s.showVersion)
	if s.hub != nil {
		mux.Handle("GET /ws/live", s.hub)
	}
	return mux
}

// writeStoreError maps a storage error to a JSON response.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	monitoring.Logf("api: storage error: %v", err)
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", defaultRunLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	runs, err := s.db.ListRuns(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// filteredRecords loads a run's records and applies the query filter. It
// writes the error response itself and reports whether to continue.
func (s *Server) filteredRecords(w http.ResponseWriter, r *http.Request) ([]aggregate.FrameRecord, analytics.Filter, bool) {
	f, err := parseFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, f, false
	}
	records, err := s.db.FrameRecords(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return nil, f, false
	}
	return f.Apply(records), f, true
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	records, _, ok := s.filteredRecords(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) downloadCSV(w http.ResponseWriter, r *http.Request) {
	records, _, ok := s.filteredRecords(w, r)
	if !ok {
		return
	}
	httputil.Attachment(w, "text/csv", fmt.Sprintf("laneguard-%s.csv", security.SanitizeFilename(r.PathValue("id"))))
	if err := export.WriteCSV(w, records); err != nil {
		monitoring.Logf("api: csv export: %v", err)
	}
}

type summaryResponse struct {
	RunID  string `json:"run_id"`
	Filter string `json:"filter"`
	analytics.Summary
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	records, f, ok := s.filteredRecords(w, r)
	if !ok {
		return
	}
	sum, err := analytics.Summarize(records)
	if err != nil && !errors.Is(err, analytics.ErrUndefinedRatio) {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, summaryResponse{RunID: r.PathValue("id"), Filter: f.String(), Summary: sum})
}

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	events, err := s.db.Violations(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) showDashboard(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	records, f, ok := s.filteredRecords(w, r)
	if !ok {
		return
	}
	d := report.Dashboard{
		Title:    run.StreetName,
		Subtitle: fmt.Sprintf("run %s (%s)  %s", run.ID, run.Status, f.String()),
		Records:  records,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := d.Render(w); err != nil {
		if errors.Is(err, report.ErrNoRecords) {
			httputil.NotFound(w, "no records match the filter")
			return
		}
		monitoring.Logf("api: dashboard render: %v", err)
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.cfg.Resolved())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Current())
}
