package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"vaxdash/internal/amqp"
	"vaxdash/internal/core"
	"vaxdash/internal/dataset"
	"vaxdash/internal/log"
	"vaxdash/internal/middleware/trace"
	"vaxdash/internal/services"
	"vaxdash/internal/sheets"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps filter errors to 400 and everything else to 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	if services.IsInputError(err) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogError(r.Context(), "Report request failed", err, log.ComponentReport, op, nil)
	status := http.StatusInternalServerError
	var missing *dataset.MissingColumnsError
	if errors.As(err, &missing) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"error":      "report unavailable",
		"request_id": trace.GetRequestID(r.Context()),
	})
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks templates, the backend and that a report can be built.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := make(map[string]string)
	ready := true
	fail := func(name string, err error) {
		checks[name] = "failed: " + err.Error()
		ready = false
	}

	if s.templates == nil {
		fail("templates", errors.New("templates not loaded"))
	} else {
		checks["templates"] = "ok"
	}

	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			fail("backend", err)
		} else {
			checks["backend"] = "ok"
		}
	}

	if _, err := s.reports.Build(ctx); err != nil {
		fail("report", err)
	} else {
		checks["report"] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "checks", checks)
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

type reportResponse struct {
	core.RunSummary
	Months     []core.MonthKey `json:"months"`
	Continents []string        `json:"continents"`
}

func (s *Server) handleAPIReport(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	rep, err := s.reports.Build(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, log.OpBuild)
		return
	}

	seen := make(map[string]bool)
	var continents []string
	for _, c := range rep.Continents {
		if !seen[c.ContinentName] {
			seen[c.ContinentName] = true
			continents = append(continents, c.ContinentName)
		}
	}
	writeJSON(w, http.StatusOK, reportResponse{
		RunSummary: rep.Summary(),
		Months:     rep.Months(),
		Continents: continents,
	})
}

func (s *Server) handleAPILocations(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	f, err := ParseLocationFilter(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.reports.Locations(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err, log.OpLoad)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "rows": rows})
}

func (s *Server) handleAPIContinents(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	f, err := ParseContinentFilter(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.reports.Continents(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err, log.OpLoad)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "rows": rows})
}

// handleAPIRuns lists persisted runs when the backend keeps history.
func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	if s.runs == nil {
		writeJSONError(w, http.StatusNotFound, "run history not available for this backend")
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), ParseLimit(r.URL.Query(), 20, 100))
	if err != nil {
		s.writeServiceError(w, r, err, log.OpLoad)
		return
	}
	if runs == nil {
		runs = []core.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(runs), "runs": runs})
}

// handleAPIRun returns one persisted run with its rows.
func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	if s.runs == nil {
		writeJSONError(w, http.StatusNotFound, "run history not available for this backend")
		return
	}
	id := sanitizeInput(r.PathValue("id"))
	rep, err := s.runs.ReportByID(r.Context(), id)
	if errors.Is(err, sheets.ErrNoReport) {
		writeJSONError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err, log.OpLoad)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	var cachedRun string
	if rep, ok := s.reports.Cached(); ok {
		cachedRun = rep.RunID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cached_run": cachedRun,
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"requests":   s.tracer.TotalRequests(),
		"builds":     s.reports.Builds(),
		"latency":    s.metrics.Snapshot(),
		"cache":      s.reports.CacheStats(),
		"rate_limit": s.limiter.GetMetrics(),
		"security":   s.detector.GetMetrics(),
	})
}

// handleRefresh drops the cached report. With a broker the rebuild is queued
// for the worker; otherwise, or when publishing fails, it runs inline.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	ctx := r.Context()
	logger := log.FromContext(ctx)

	reason, err := ParseRefreshReason(r)
	if err != nil {
		if isHTMX(r) {
			BadRequestError(err.Error()).Write(w)
			return
		}
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.reports.Invalidate()

	if s.publisher != nil {
		msg := amqp.NewReportRefreshMessage(reason)
		err := s.publisher.PublishRefresh(ctx, msg)
		if err == nil {
			logger.InfoContext(ctx, "Report refresh queued", log.FieldRunID, msg.RunID, "reason", reason)
			if isHTMX(r) {
				NewHTMXResponse().
					Status(http.StatusAccepted).
					TriggerRefreshQueued(msg.RunID).
					TriggerNotification(NotificationInfo, "Refresh queued", 3000).
					Write(w)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "request_id": msg.RunID})
			return
		}
		logger.WarnContext(ctx, "Publish refresh failed, rebuilding inline", log.FieldError, err)
	}

	rep, err := s.reports.Build(ctx)
	if err != nil {
		if isHTMX(r) {
			NewHTMXResponse().
				Status(http.StatusInternalServerError).
				TriggerErrorNotification("Report rebuild failed").
				Write(w)
			return
		}
		s.writeServiceError(w, r, err, log.OpRefresh)
		return
	}

	if isHTMX(r) {
		NewHTMXResponse().
			TriggerReportRefreshed(rep.RunID).
			TriggerSuccessNotification("Report rebuilt").
			Write(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "rebuilt", "report": rep.Summary()})
}
