package handlers

import (
	"net/http"

	"kjandoc-demoware/core/monitoring"
)

// DashboardHandler serves operational endpoints
type DashboardHandler struct {
	metrics *monitoring.MetricsExporter
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(metrics *monitoring.MetricsExporter) *DashboardHandler {
	return &DashboardHandler{metrics: metrics}
}

// GetMetrics handles GET /metrics
func (h *DashboardHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(h.metrics.GetPrometheusMetrics()))
}

// Health handles GET /health
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
