package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics tracks the webhook ingest and retry pipeline.
type PipelineMetrics struct {
	eventsReceived   *prometheus.CounterVec
	eventsProcessed  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	retryBacklog     prometheus.Gauge
	retryBacklogAge  prometheus.Gauge
	notifyEnqueued   *prometheus.CounterVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "stratobill"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	eventsReceived := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "stratobill_webhook_events_received_total",
			Help:        "Webhook events accepted into the ledger by category.",
			ConstLabels: constLabels,
		},
		[]string{"category"},
	)

	eventsProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "stratobill_webhook_events_processed_total",
			Help:        "Webhook dispatch outcomes.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // completed | failed | skipped
	)

	dispatchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "stratobill_webhook_dispatch_duration_seconds",
			Help:        "Time spent handling a single webhook event.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			ConstLabels: constLabels,
		},
		[]string{"category"},
	)

	retryBacklog := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "stratobill_webhook_retry_backlog_total",
			Help:        "Failed webhook events still eligible for retry.",
			ConstLabels: constLabels,
		},
	)

	retryBacklogAge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "stratobill_webhook_retry_backlog_oldest_seconds",
			Help:        "Age of the oldest retry-eligible webhook event.",
			ConstLabels: constLabels,
		},
	)

	notifyEnqueued := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "stratobill_notification_jobs_total",
			Help:        "Notification jobs enqueued by kind.",
			ConstLabels: constLabels,
		},
		[]string{"kind"},
	)

	registerer.MustRegister(
		eventsReceived,
		eventsProcessed,
		dispatchDuration,
		retryBacklog,
		retryBacklogAge,
		notifyEnqueued,
	)

	return &PipelineMetrics{
		eventsReceived:   eventsReceived,
		eventsProcessed:  eventsProcessed,
		dispatchDuration: dispatchDuration,
		retryBacklog:     retryBacklog,
		retryBacklogAge:  retryBacklogAge,
		notifyEnqueued:   notifyEnqueued,
	}
}

func (m *PipelineMetrics) IncReceived(category string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(category).Inc()
}

func (m *PipelineMetrics) IncProcessed(result string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) ObserveDispatch(category string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(category).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) SetRetryBacklog(value int) {
	if m == nil {
		return
	}
	m.retryBacklog.Set(float64(value))
}

func (m *PipelineMetrics) SetRetryBacklogOldest(age time.Duration) {
	if m == nil {
		return
	}
	seconds := age.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.retryBacklogAge.Set(seconds)
}

func (m *PipelineMetrics) IncNotificationEnqueued(kind string) {
	if m == nil {
		return
	}
	m.notifyEnqueued.WithLabelValues(kind).Inc()
}
