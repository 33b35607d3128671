package httpx

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

var deployBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200}

// Metrics aggregates the daemon's Prometheus collectors. It also satisfies
// the deploy service's outcome observer.
type Metrics struct {
	once           sync.Once
	initialized    bool
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
	deployTotal    *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on the default registry. Re-registration
// reuses the existing collectors so tests can build multiple routers.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.init()
	return m
}

func (m *Metrics) init() {
	m.once.Do(func() {
		m.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pier",
			Subsystem: "daemon",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		m.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pier",
			Subsystem: "daemon",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		m.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pier",
			Subsystem: "daemon",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route"})

		m.deployTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pier",
			Subsystem: "deploy",
			Name:      "runs_total",
			Help:      "Count of finished deployment pipelines",
		}, []string{"mode", "outcome"})

		m.deployDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pier",
			Subsystem: "deploy",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of deployment pipelines",
			Buckets:   deployBuckets,
		}, []string{"mode", "outcome"})

		collectors := []prometheus.Collector{m.requestTotal, m.requestLatency, m.rateLimitHits, m.deployTotal, m.deployDuration}
		for i, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						switch i {
						case 0:
							m.requestTotal = v
						case 2:
							m.rateLimitHits = v
						case 3:
							m.deployTotal = v
						}
					case *prometheus.HistogramVec:
						if i == 1 {
							m.requestLatency = v
						} else {
							m.deployDuration = v
						}
					}
				}
			}
		}
		m.initialized = true
	})
}

func (m *Metrics) recordRequest(method, route string, status int, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) recordRateLimitHit(route string) {
	if m == nil || !m.initialized {
		return
	}
	m.rateLimitHits.With(prometheus.Labels{"route": route}).Inc()
}

// ObserveDeploy records the outcome of one deployment pipeline.
func (m *Metrics) ObserveDeploy(mode, outcome string, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	labels := prometheus.Labels{"mode": mode, "outcome": outcome}
	m.deployTotal.With(labels).Inc()
	m.deployDuration.With(labels).Observe(duration.Seconds())
}
