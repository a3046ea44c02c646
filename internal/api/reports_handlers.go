package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/complyarc/grc/internal/models"
	"github.com/complyarc/grc/internal/reports"
)

// parseReportFilters builds the shared report filter set from query
// parameters. Unknown parameters are ignored; malformed ids and dates
// are rejected.
func parseReportFilters(r *http.Request) (reports.Filters, error) {
	var f reports.Filters
	q := r.URL.Query()

	parseDate := func(name string) (*time.Time, error) {
		v := q.Get(name)
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		return &t, nil
	}
	parseID := func(name string) (*uuid.UUID, error) {
		v := q.Get(name)
		if v == "" {
			return nil, nil
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		return &id, nil
	}

	var err error
	if f.DateFrom, err = parseDate("dateFrom"); err != nil {
		return f, err
	}
	if f.DateTo, err = parseDate("dateTo"); err != nil {
		return f, err
	}
	if f.EntityID, err = parseID("entityId"); err != nil {
		return f, err
	}
	if f.FrameworkID, err = parseID("frameworkId"); err != nil {
		return f, err
	}
	if f.ControlID, err = parseID("controlId"); err != nil {
		return f, err
	}
	if f.AssigneeID, err = parseID("assigneeId"); err != nil {
		return f, err
	}
	if v := q.Get("status"); v != "" {
		st := models.TaskStatus(v)
		f.TaskStatus = &st
	}
	if v := q.Get("assignmentStatus"); v != "" {
		st := models.AssignmentStatus(v)
		f.AssignmentStatus = &st
	}
	if v := q.Get("priority"); v != "" {
		p := models.Priority(v)
		f.Priority = &p
	}
	if v := q.Get("category"); v != "" {
		f.Category = &v
	}
	if v := q.Get("region"); v != "" {
		f.Region = &v
	}
	if v := q.Get("riskLevel"); v != "" {
		rl := models.RiskLevel(v)
		f.RiskLevel = &rl
	}
	f.Granularity = reports.ParseGranularity(q.Get("granularity"))

	return f, nil
}

// cachedReport runs fetch through the report cache when one is
// configured. Cache failures degrade to a direct fetch.
func cachedReport[T any](s *Server, r *http.Request, orgID uuid.UUID, name string, f reports.Filters, fetch func() (T, error)) (T, error) {
	if s.reportCache == nil {
		return fetch()
	}

	var cached T
	hit, err := s.reportCache.GetReport(r.Context(), orgID, name, f.Hash(), &cached)
	if err == nil && hit {
		return cached, nil
	}

	result, err := fetch()
	if err != nil {
		return result, err
	}
	_ = s.reportCache.SetReport(r.Context(), orgID, name, f.Hash(), result)
	return result, nil
}

func (s *Server) getOverview(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	f, err := parseReportFilters(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	stats, err := cachedReport(s, r, orgID, "overview", f, func() (*reports.OverviewStats, error) {
		return s.aggregator.Overview(r.Context(), orgID, f)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) getFrameworksReport(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	f, err := parseReportFilters(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	stats, err := cachedReport(s, r, orgID, "frameworks", f, func() ([]reports.FrameworkStats, error) {
		return s.aggregator.FrameworksReport(r.Context(), orgID, f)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) getControlsReport(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	f, err := parseReportFilters(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	stats, err := cachedReport(s, r, orgID, "controls", f, func() ([]reports.ControlStats, error) {
		return s.aggregator.ControlsReport(r.Context(), orgID, f)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) getTasksReport(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	f, err := parseReportFilters(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	stats, err := cachedReport(s, r, orgID, "tasks", f, func() ([]reports.TaskStats, error) {
		return s.aggregator.TasksReport(r.Context(), orgID, f)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) getTrends(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	f, err := parseReportFilters(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	points, err := cachedReport(s, r, orgID, "trends", f, func() ([]reports.TrendPoint, error) {
		return s.aggregator.Trends(r.Context(), orgID, f)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, points)
}

func (s *Server) getInsights(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}

	result, err := s.insights.Generate(r.Context(), orgID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "insights_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) exportReport(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}

	var req reports.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Format == "" {
		req.Format = reports.FormatCSV
	}
	switch req.Format {
	case reports.FormatCSV, reports.FormatPDF:
	default:
		respondError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("unsupported format: %s", req.Format))
		return
	}

	export, err := s.exporter.Export(r.Context(), orgID, &req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "export_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", export.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

func (s *Server) runSnapshotNow(w http.ResponseWriter, r *http.Request) {
	if err := s.snapshotter.Run(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "snapshot_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
