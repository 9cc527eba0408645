// Package api implements the admin HTTP/JSON API from §6: version info,
// auth status, and journal-backed overview/run/log queries, gated by an
// optional shared-secret password.
package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/schema"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/frectonz/penny/cpuhist"
	"github.com/frectonz/penny/journal"
	"github.com/frectonz/penny/registry"
	"github.com/frectonz/penny/xlog"
)

// Version is set at build time (ldflags) or defaults to "dev".
var Version = "dev"

var queryDecoder = schema.NewDecoder()

func init() {
	queryDecoder.IgnoreUnknownKeys(true)
}

// Server serves the admin API over the journal.
type Server struct {
	journal  *journal.Journal
	registry *registry.Registry
	password string
	log      *xlog.Logger
	mux      *http.ServeMux
}

// New builds an API server. An empty password disables auth entirely. reg
// is used only to enrich app-overview responses with live resource usage of
// the app's current run, when one is active.
func New(j *journal.Journal, reg *registry.Registry, password string) *Server {
	s := &Server{
		journal:  j,
		registry: reg,
		password: password,
		log:      xlog.NewDomain("api"),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /api/version", s.auth(s.handleVersion))
	s.mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	s.mux.Handle("GET /api/total-overview", s.auth(s.handleTotalOverview))
	s.mux.Handle("GET /api/apps-overview", s.auth(s.handleAppsOverview))
	s.mux.Handle("GET /api/app-overview/{host}", s.auth(s.handleAppOverview))
	s.mux.Handle("GET /api/app-runs/{host}", s.auth(s.handleAppRuns))
	s.mux.Handle("GET /api/run-logs/{run_id}", s.auth(s.handleRunLogs))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// auth wraps h with the base64-password check required on every /api/*
// endpoint except /api/auth/status, per §6. The Authorization header must
// read "Bearer " followed by base64(password); a header without the Bearer
// prefix is rejected with 401.
func (s *Server) auth(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.password == "" {
			h(w, r)
			return
		}
		given := r.Header.Get("Authorization")
		encoded, ok := strings.CutPrefix(given, "Bearer ")
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || string(decoded) != s.password {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": Version})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"auth_required": s.password != ""})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		xlog.Error().Err(err).Msg("failed to encode response")
	}
}

// timeRangeQuery binds the start/end query parameters shared by every
// overview and run-listing endpoint.
type timeRangeQuery struct {
	Start *int64 `schema:"start"`
	End   *int64 `schema:"end"`
}

func parseTimeRange(r *http.Request) journal.TimeRange {
	var q timeRangeQuery
	queryDecoder.Decode(&q, r.URL.Query())
	return journal.TimeRange{Start: q.Start, End: q.End}
}

// appRunsQuery additionally binds the cursor-pagination parameters of
// GET /api/app-runs/{host}.
type appRunsQuery struct {
	timeRangeQuery
	Cursor *int64 `schema:"cursor"`
	Limit  int    `schema:"limit"`
}

func (s *Server) handleTotalOverview(w http.ResponseWriter, r *http.Request) {
	totals, err := s.journal.Totals(r.Context(), parseTimeRange(r))
	if err != nil {
		s.log.Error().Err(err).Msg("total-overview query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, totals)
}

func (s *Server) handleAppsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.journal.AppsOverview(r.Context(), parseTimeRange(r))
	if err != nil {
		s.log.Error().Err(err).Msg("apps-overview query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, overview)
}

// appOverview wraps the journal's historical totals with the live resource
// usage of the app's current run, when one is active.
type appOverview struct {
	journal.Totals
	Live *liveUsage `json:"live,omitempty"`
}

type liveUsage struct {
	Pid        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

func (s *Server) liveUsageFor(host string) *liveUsage {
	ctrl, ok := s.registry.Get(host)
	if !ok {
		return nil
	}
	pid, ok := ctrl.CurrentPID()
	if !ok {
		return nil
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	usage := &liveUsage{Pid: pid, CPUPercent: cpuhist.GetUsePercentage(proc)}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		usage.RSSBytes = mem.RSS
	}
	return usage
}

func (s *Server) handleAppOverview(w http.ResponseWriter, r *http.Request) {
	host := r.PathValue("host")
	totals, ok, err := s.journal.Overview(r.Context(), host, parseTimeRange(r))
	if err != nil {
		s.log.Error().Err(err).Str("host", host).Msg("app-overview query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, appOverview{Totals: totals, Live: s.liveUsageFor(host)})
}

func (s *Server) handleAppRuns(w http.ResponseWriter, r *http.Request) {
	host := r.PathValue("host")

	var q appRunsQuery
	queryDecoder.Decode(&q, r.URL.Query())
	tr := journal.TimeRange{Start: q.Start, End: q.End}

	page, err := s.journal.ListRuns(r.Context(), host, tr, q.Cursor, q.Limit)
	if err != nil {
		s.log.Error().Err(err).Str("host", host).Msg("app-runs query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, page)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	logs, ok, err := s.journal.Logs(r.Context(), runID)
	if err != nil {
		s.log.Error().Err(err).Str("run_id", runID).Msg("run-logs query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, logs)
}
