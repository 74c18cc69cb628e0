package httpx

import (
	"net/http"
	"strconv"
	"strings"
)

// analyticsDays reads the optional days query parameter. Zero selects the default window.
func analyticsDays(w http.ResponseWriter, req *http.Request) (int, bool) {
	raw := strings.TrimSpace(req.URL.Query().Get("days"))
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		writeError(w, http.StatusBadRequest, "days must be a positive integer")
		return 0, false
	}
	return days, true
}

func (r *Router) handleEnableAnalytics(w http.ResponseWriter, req *http.Request) {
	site, err := r.stats.Enable(req.Context(), req.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	status := http.StatusOK
	if site.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, site)
}

func (r *Router) handleDisableAnalytics(w http.ResponseWriter, req *http.Request) {
	if err := r.stats.Disable(req.Context(), req.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleAnalyticsSummary(w http.ResponseWriter, req *http.Request) {
	days, ok := analyticsDays(w, req)
	if !ok {
		return
	}
	summary, err := r.stats.Summary(req.Context(), req.PathValue("id"), days)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (r *Router) handleAnalyticsTotals(w http.ResponseWriter, req *http.Request) {
	days, ok := analyticsDays(w, req)
	if !ok {
		return
	}
	totals, err := r.stats.Totals(req.Context(), days)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
