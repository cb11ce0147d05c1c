package observability

import (
	"context"
	"io"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/botforge-backend/internal/platform/envutil"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *GaugeVec

	jobsTotal   *CounterVec
	jobDuration *HistogramVec
	queueDepth  *GaugeVec
	purged      *CounterVec

	dbStats   *GaugeVec
	redisUp   *GaugeVec
	redisPing *GaugeVec
}

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL", 10*time.Second)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("botforge_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"botforge_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGaugeVec("botforge_api_inflight_requests", "In-flight API requests.", nil),
		jobsTotal:   NewCounterVec("botforge_jobs_total", "Finished job executions by type and outcome.", []string{"type", "outcome"}),
		jobDuration: NewHistogramVec(
			"botforge_job_duration_seconds",
			"Job execution time in seconds by type and outcome.",
			[]string{"type", "outcome"},
			[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		),
		queueDepth: NewGaugeVec("botforge_queue_jobs", "Jobs by status.", []string{"status"}),
		purged:     NewCounterVec("botforge_queue_purged_total", "Jobs removed or failed by the janitor.", []string{"action"}),
		dbStats:    NewGaugeVec("botforge_db_pool", "database/sql pool statistics.", []string{"stat"}),
		redisUp:    NewGaugeVec("botforge_redis_up", "1 when the last Redis ping succeeded.", nil),
		redisPing:  NewGaugeVec("botforge_redis_ping_seconds", "Last Redis ping latency.", nil),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.jobsTotal, m.jobDuration, m.queueDepth, m.purged,
		m.dbStats, m.redisUp, m.redisPing,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
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
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) APIInflight(delta float64) {
	if m == nil {
		return
	}
	m.apiInflight.Add(delta)
}

// ObserveJob records one finished execution. outcome is the status the job landed in
// (completed, pending for a scheduled retry, failed, cancelled) or "interrupted".
func (m *Metrics) ObserveJob(jobType, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.Inc(jobType, outcome)
	m.jobDuration.Observe(dur.Seconds(), jobType, outcome)
}

func (m *Metrics) JobCount(jobType, outcome string) float64 {
	if m == nil {
		return 0
	}
	return m.jobsTotal.Value(jobType, outcome)
}

func (m *Metrics) ObservePurge(deleted, failed int64) {
	if m == nil {
		return
	}
	m.purged.Add(float64(deleted), "deleted")
	m.purged.Add(float64(failed), "failed_stale")
}

// StartQueueCollector samples depth every scrape interval until ctx is done.
func (m *Metrics) StartQueueCollector(ctx context.Context, log *logger.Logger, depth func(context.Context) (map[string]int64, error)) {
	if m == nil || depth == nil {
		return
	}
	go m.every(ctx, func() {
		counts, err := depth(ctx)
		if err != nil {
			if log != nil {
				log.Warn("metrics: queue depth query failed", "error", err)
			}
			return
		}
		for status, n := range counts {
			m.queueDepth.Set(float64(n), status)
		}
	})
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go m.every(ctx, func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: db stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.dbStats.Set(float64(stats.OpenConnections), "open_connections")
		m.dbStats.Set(float64(stats.InUse), "in_use")
		m.dbStats.Set(float64(stats.Idle), "idle")
		m.dbStats.Set(float64(stats.WaitCount), "wait_count")
		m.dbStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *goredis.Client) {
	if m == nil || rdb == nil {
		return
	}
	go m.every(ctx, func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			if log != nil {
				log.Warn("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

func (m *Metrics) every(ctx context.Context, fn func()) {
	ticker := time.NewTicker(scrapeInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
