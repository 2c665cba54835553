// Package metrics exposes job statistics as Prometheus metrics. The
// collector reads aggregates from the store on scrape rather than keeping
// in-process counters, so values survive restarts.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openscribe/scribed/pkg/store"
)

// scrapeTimeout bounds the store queries behind one scrape.
const scrapeTimeout = 5 * time.Second

var (
	jobsTotalDesc = prometheus.NewDesc(
		"stt_jobs_total",
		"Number of jobs by status.",
		[]string{"status"}, nil,
	)
	audioProcessedDesc = prometheus.NewDesc(
		"stt_audio_processed_seconds",
		"Total seconds of audio in completed jobs.",
		nil, nil,
	)
	processingTimeDesc = prometheus.NewDesc(
		"stt_processing_time_seconds",
		"Average wall-clock processing time of completed jobs.",
		nil, nil,
	)
	jobsLastHourDesc = prometheus.NewDesc(
		"stt_jobs_last_hour",
		"Jobs created in the last hour.",
		nil, nil,
	)
	modelsDownloadedDesc = prometheus.NewDesc(
		"stt_models_downloaded",
		"Registered models with bytes present on disk.",
		nil, nil,
	)
)

// Collector reads job statistics from the store on each scrape.
type Collector struct {
	store *store.Store
}

// NewCollector creates a collector over the store.
func NewCollector(st *store.Store) *Collector {
	return &Collector{store: st}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- jobsTotalDesc
	ch <- audioProcessedDesc
	ch <- processingTimeDesc
	ch <- jobsLastHourDesc
	ch <- modelsDownloadedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	stats, err := c.store.Statistics(ctx)
	if err != nil {
		slog.Warn("Failed to collect job statistics", "error", err)
		return
	}

	for status, count := range stats.CountsByStatus {
		ch <- prometheus.MustNewConstMetric(jobsTotalDesc, prometheus.GaugeValue,
			float64(count), string(status))
	}
	ch <- prometheus.MustNewConstMetric(audioProcessedDesc, prometheus.CounterValue,
		stats.AudioProcessedSeconds)
	ch <- prometheus.MustNewConstMetric(processingTimeDesc, prometheus.GaugeValue,
		stats.AvgProcessingSeconds)
	ch <- prometheus.MustNewConstMetric(jobsLastHourDesc, prometheus.GaugeValue,
		float64(stats.JobsLastHour))
	ch <- prometheus.MustNewConstMetric(modelsDownloadedDesc, prometheus.GaugeValue,
		float64(stats.ModelsDownloaded))
}

// Handler returns an HTTP handler serving the metrics endpoint with the
// collector registered on a dedicated registry.
func Handler(st *store.Store) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(st)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
