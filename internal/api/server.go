// Package api serves sessions, analyses, charts and summaries over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/luna-labs/accuracy.report/internal/db"
	"github.com/luna-labs/accuracy.report/internal/ingest"
	"github.com/luna-labs/accuracy.report/internal/monitoring"
	"github.com/luna-labs/accuracy.report/internal/report"
	"github.com/luna-labs/accuracy.report/internal/rollup"
	"github.com/luna-labs/accuracy.report/internal/security"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db       *db.DB
	pipeline *ingest.Pipeline
}

func NewServer(store *db.DB, pipeline *ingest.Pipeline) *Server {
	return &Server{
		db:       store,
		pipeline: pipeline,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/sessions/{id}/analysis", s.getAnalysis)
	mux.HandleFunc("POST /api/sessions/{id}/analyze", s.analyzeSession)
	mux.HandleFunc("GET /api/sessions/{id}/charts/blandaltman", s.blandAltmanChart)
	mux.HandleFunc("GET /api/summaries/{kind}", s.listSummaries)
	mux.HandleFunc("GET /api/export.xlsx", s.exportWorkbook)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeStoreError maps db.ErrNotFound to 404 and anything else to 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to encode response: %v", err)
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := db.SessionFilter{
		UserID: q.Get("user"),
		Status: vitals.SessionStatus(q.Get("status")),
	}
	if m := q.Get("metric"); m != "" {
		metric, err := vitals.ParseMetric(m)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Metric = metric
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		f.Limit = limit
	}

	sessions, err := s.db.ListSessions(r.Context(), f)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []vitals.Session{}
	}
	s.writeJSON(w, sessions)
}

type sessionResponse struct {
	Session  *vitals.Session   `json:"session"`
	Readings []db.ReadingCount `json:"readings"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.db.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	counts, err := s.db.ReadingCounts(r.Context(), sess.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if counts == nil {
		counts = []db.ReadingCount{}
	}
	s.writeJSON(w, sessionResponse{Session: sess, Readings: counts})
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.db.GetSessionAnalysis(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, a)
}

// analyzeSession re-runs analysis. A rollup failure still returns the
// fresh analysis; summaries catch up on the next recompute.
func (s *Server) analyzeSession(w http.ResponseWriter, r *http.Request) {
	a, err := s.pipeline.Analyze(r.Context(), r.PathValue("id"))
	if err != nil && !errors.Is(err, ingest.ErrRollup) {
		s.writeStoreError(w, err)
		return
	}
	if err != nil {
		monitoring.Logf("analyze %s: %v", r.PathValue("id"), err)
	}
	s.writeJSON(w, a)
}

func (s *Server) blandAltmanChart(w http.ResponseWriter, r *http.Request) {
	device := vitals.DeviceType(r.URL.Query().Get("device"))
	if !device.IsBenchmark() {
		s.writeJSONError(w, http.StatusBadRequest, "'device' must name a benchmark device")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "html"
	}
	if format != "html" && format != "png" {
		s.writeJSONError(w, http.StatusBadRequest, "'format' must be html or png")
		return
	}

	a, err := s.db.GetSessionAnalysis(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	chart, err := report.NewBlandAltmanChart(a, device)
	if errors.Is(err, report.ErrNoComparison) || errors.Is(err, report.ErrNoPairs) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Disposition", "inline; filename="+security.ArtifactName(format, "blandaltman", a.SessionID, string(device)))
	if format == "png" {
		w.Header().Set("Content-Type", "image/png")
		err = chart.WritePNG(w)
	} else {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err = chart.WriteHTML(w)
	}
	if err != nil {
		monitoring.Logf("failed to render chart for %s: %v", a.SessionID, err)
	}
}

func validKind(k string) bool {
	for _, kind := range rollup.Kinds {
		if string(kind) == k {
			return true
		}
	}
	return false
}

// listSummaries returns every summary of a kind, or a single one when
// 'key' is present (global summaries use an empty key).
func (s *Server) listSummaries(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if !validKind(kind) {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown summary kind %q", kind))
		return
	}
	q := r.URL.Query()
	metric := q.Get("metric")
	if metric != "" {
		m, err := vitals.ParseMetric(metric)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		metric = string(m)
	}

	if q.Has("key") {
		sum, err := s.db.GetSummary(r.Context(), kind, q.Get("key"), metric)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.writeJSON(w, sum)
		return
	}

	sums, err := s.db.ListSummaries(r.Context(), kind, metric)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if sums == nil {
		sums = []db.Summary{}
	}
	s.writeJSON(w, sums)
}

func (s *Server) exportWorkbook(w http.ResponseWriter, r *http.Request) {
	var all []db.Summary
	for _, kind := range rollup.Kinds {
		sums, err := s.db.ListSummaries(r.Context(), string(kind), "")
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		all = append(all, sums...)
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=accuracy-summaries.xlsx")
	if err := report.WriteWorkbook(w, all); err != nil {
		monitoring.Logf("failed to write workbook: %v", err)
	}
}
