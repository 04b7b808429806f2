package monitoring

import (
	"fmt"
	"strings"
	"sync/atomic"

	"kjandoc-demoware/core/models"
	"kjandoc-demoware/core/repository"
)

// MetricsExporter exports job and request metrics in Prometheus text format
type MetricsExporter struct {
	registry *repository.JobRegistry

	uploadsAccepted atomic.Int64
	uploadsRejected atomic.Int64
	mergesSubmitted atomic.Int64
	mergesRejected  atomic.Int64
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(registry *repository.JobRegistry) *MetricsExporter {
	return &MetricsExporter{registry: registry}
}

// RecordUpload counts one upload attempt
func (me *MetricsExporter) RecordUpload(ok bool) {
	if ok {
		me.uploadsAccepted.Add(1)
		return
	}
	me.uploadsRejected.Add(1)
}

// RecordMerge counts one merge request
func (me *MetricsExporter) RecordMerge(ok bool) {
	if ok {
		me.mergesSubmitted.Add(1)
		return
	}
	me.mergesRejected.Add(1)
}

// GetPrometheusMetrics returns metrics in Prometheus format
func (me *MetricsExporter) GetPrometheusMetrics() string {
	var b strings.Builder

	stats := me.registry.Stats()
	b.WriteString("# HELP demoware_jobs Number of merge jobs by status\n")
	b.WriteString("# TYPE demoware_jobs gauge\n")
	for _, status := range models.AllJobStatuses {
		fmt.Fprintf(&b, "demoware_jobs{status=%q} %d\n", status, stats[status])
	}

	b.WriteString("# HELP demoware_uploads_total Upload requests by result\n")
	b.WriteString("# TYPE demoware_uploads_total counter\n")
	fmt.Fprintf(&b, "demoware_uploads_total{result=\"accepted\"} %d\n", me.uploadsAccepted.Load())
	fmt.Fprintf(&b, "demoware_uploads_total{result=\"rejected\"} %d\n", me.uploadsRejected.Load())

	b.WriteString("# HELP demoware_merges_total Merge requests by result\n")
	b.WriteString("# TYPE demoware_merges_total counter\n")
	fmt.Fprintf(&b, "demoware_merges_total{result=\"submitted\"} %d\n", me.mergesSubmitted.Load())
	fmt.Fprintf(&b, "demoware_merges_total{result=\"rejected\"} %d\n", me.mergesRejected.Load())

	return b.String()
}
