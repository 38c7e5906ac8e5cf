package handler

import (
	"net/http"
	"strconv"

	"github.com/Mohith0505/NextGenAlgo/internal/analytics"
	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/server/middleware"
)

// AnalyticsHandler serves the dashboard, PnL series and data exports.
type AnalyticsHandler struct {
	analytics *analytics.Service
	archiver  *analytics.Archiver
}

// NewAnalyticsHandler wires the handler. archiver may be nil, which disables
// export archiving.
func NewAnalyticsHandler(svc *analytics.Service, archiver *analytics.Archiver) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: svc, archiver: archiver}
}

// Dashboard returns the aggregated run/PnL/latency snapshot.
// GET /api/analytics/dashboard
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.analytics.Dashboard(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

// DailyPnL returns the trailing daily PnL series.
// GET /api/analytics/daily-pnl?days=N
func (h *AnalyticsHandler) DailyPnL(w http.ResponseWriter, r *http.Request) {
	points, err := h.analytics.DailyPnL(r.Context(), middleware.UserID(r.Context()), daysParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"daily_pnl": points})
}

// ExportDailyPnL streams the daily PnL series as csv or json. With
// archive=true the export is also written to blob storage and the object key
// is returned in the X-Archive-Key header.
// GET /api/analytics/exports/daily-pnl?format=csv&days=N&archive=true
func (h *AnalyticsHandler) ExportDailyPnL(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	format := exportFormat(r)
	days := daysParam(r)

	data, err := h.analytics.ExportDailyPnL(r.Context(), userID, days, format)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.archiver != nil && r.URL.Query().Get("archive") == "true" {
		key, err := h.archiver.ArchiveDailyPnL(r.Context(), userID, days, format)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("X-Archive-Key", key)
	}

	writeRaw(w, format, "daily-pnl", data)
}

// ExportLatencySummary streams the aggregated latency stats.
// GET /api/analytics/exports/latency-summary?format=csv
func (h *AnalyticsHandler) ExportLatencySummary(w http.ResponseWriter, r *http.Request) {
	format := exportFormat(r)
	data, err := h.analytics.ExportLatencySummary(r.Context(),
		middleware.UserID(r.Context()), exportOpts(r), format)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, format, "latency-summary", data)
}

// ExportLegStatus streams the per-status leg counts.
// GET /api/analytics/exports/leg-status?format=csv
func (h *AnalyticsHandler) ExportLegStatus(w http.ResponseWriter, r *http.Request) {
	format := exportFormat(r)
	data, err := h.analytics.ExportLegStatus(r.Context(),
		middleware.UserID(r.Context()), exportOpts(r), format)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, format, "leg-status", data)
}

func writeRaw(w http.ResponseWriter, format analytics.ExportFormat, name string, data []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	if format != analytics.FormatJSON {
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.csv"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func exportFormat(r *http.Request) analytics.ExportFormat {
	return analytics.ExportFormat(r.URL.Query().Get("format"))
}

func daysParam(r *http.Request) int {
	if raw := r.URL.Query().Get("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 365 {
			return n
		}
	}
	return 0 // service default
}

func exportOpts(r *http.Request) domain.ListOpts {
	opts := listOpts(r)
	if opts.Limit == 50 {
		// Exports aggregate over a wider window than paginated lists.
		opts.Limit = 1000
	}
	return opts
}
