package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/research-agent-backend/internal/platform/envutil"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

const namespace = "research_agent"

// Metrics methods are nil-safe so callers can pass Current() unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge
	apiStreams  *prometheus.HistogramVec

	chainAppends    *prometheus.CounterVec
	chainRetries    prometheus.Counter
	chainDeletes    *prometheus.CounterVec
	historyWalk     *prometheus.HistogramVec
	agentRuns       *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	llmRequests     *prometheus.CounterVec
	llmLatency      *prometheus.HistogramVec
	liveSubscribers prometheus.Gauge
	busPublishFail  prometheus.Counter

	pgStats   *prometheus.GaugeVec
	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", true)
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	return envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
}

// Init builds the process-wide metrics set once. Returns nil when disabled.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		instance = NewMetrics(reg)
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// NewMetrics registers a fresh metric set on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total", Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_request_duration_seconds", Help: "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "api_inflight_requests", Help: "HTTP requests in flight.",
		}),
		apiStreams: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_stream_duration_seconds", Help: "How long SSE streams stay open.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"route"}),
		chainAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "chain_appends_total", Help: "Chain append attempts by result.",
		}, []string{"result"}),
		chainRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chain_cas_retries_total", Help: "Conditional writes retried after a version move.",
		}),
		chainDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "chain_deletes_total", Help: "Message deletes by chain position.",
		}, []string{"position"}),
		historyWalk: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "history_walk_length", Help: "Nodes visited per history walk.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"mode"}),
		agentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "agent_runs_total", Help: "Agent runs by terminal status.",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "agent_step_duration_seconds", Help: "Pipeline step latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step", "outcome"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_requests_total", Help: "LLM calls by model, endpoint and status.",
		}, []string{"model", "endpoint", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "llm_request_duration_seconds", Help: "LLM call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model", "endpoint"}),
		liveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "publisher_subscribers", Help: "Open event subscriptions.",
		}),
		busPublishFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_bus_publish_failures_total", Help: "Events that fell back to local delivery.",
		}),
		pgStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "db_pool", Help: "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_up", Help: "1 when the last redis ping succeeded.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_ping_seconds", Help: "Latency of the last redis ping.",
		}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiStreams,
		m.chainAppends, m.chainRetries, m.chainDeletes, m.historyWalk,
		m.agentRuns, m.stepDuration, m.llmRequests, m.llmLatency,
		m.liveSubscribers, m.busPublishFail,
		m.pgStats, m.redisUp, m.redisPing,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

// ObserveStream counts a finished SSE request and records how long it stayed
// open, keeping long-lived streams out of the request latency histogram.
func (m *Metrics) ObserveStream(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiStreams.WithLabelValues(route).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveAppend records one append outcome: ok, conflict, invalid or error.
func (m *Metrics) ObserveAppend(result string) {
	if m == nil {
		return
	}
	m.chainAppends.WithLabelValues(result).Inc()
}

func (m *Metrics) IncCASRetry() {
	if m == nil {
		return
	}
	m.chainRetries.Inc()
}

func (m *Metrics) ObserveDelete(position string) {
	if m == nil {
		return
	}
	m.chainDeletes.WithLabelValues(position).Inc()
}

func (m *Metrics) ObserveWalk(mode string, visited int) {
	if m == nil {
		return
	}
	m.historyWalk.WithLabelValues(mode).Observe(float64(visited))
}

func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.agentRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveStep(step, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, outcome).Observe(dur.Seconds())
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration) {
	if m == nil {
		return
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "unknown"
	}
	m.llmRequests.WithLabelValues(model, endpoint, status).Inc()
	if dur > 0 {
		m.llmLatency.WithLabelValues(model, endpoint).Observe(dur.Seconds())
	}
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.liveSubscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.liveSubscribers.Dec()
}

func (m *Metrics) IncBusPublishFailure() {
	if m == nil {
		return
	}
	m.busPublishFail.Inc()
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.pgStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
