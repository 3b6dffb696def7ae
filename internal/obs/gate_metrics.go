package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Check sources reported by the gate read path.
const (
	SourceCacheHit  = "cache_hit"
	SourceCacheMiss = "cache_miss"
	SourceDisabled  = "disabled"
	SourceError     = "error"
)

// Command outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics is the passive observer the authorization and gate services report to.
// Implementations must be safe for concurrent use and must never block callers.
type Metrics interface {
	CommandCompleted(op, outcome, code string)
	CooldownBlocked()
	LimitReached(op string)
	GateChecked(source string, d time.Duration)
	BulkChecked(size int, hitRate float64, d time.Duration)
	CacheError(op string)
	CacheInvalidated(ok bool)
	CacheWarmed(n int)
	FeatureState(enabled bool)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) CommandCompleted(string, string, string) {}
func (NopMetrics) CooldownBlocked()                        {}
func (NopMetrics) LimitReached(string)                     {}
func (NopMetrics) GateChecked(string, time.Duration)       {}
func (NopMetrics) BulkChecked(int, float64, time.Duration) {}
func (NopMetrics) CacheError(string)                       {}
func (NopMetrics) CacheInvalidated(bool)                   {}
func (NopMetrics) CacheWarmed(int)                         {}
func (NopMetrics) FeatureState(bool)                       {}

var _ Metrics = NopMetrics{}
var _ Metrics = (*GateMetrics)(nil)

// GateMetrics implements Metrics with Prometheus collectors.
type GateMetrics struct {
	commands       *prometheus.CounterVec
	cooldownBlocks prometheus.Counter
	limitReached   *prometheus.CounterVec
	checks         *prometheus.CounterVec
	checkDuration  *prometheus.HistogramVec
	bulkSize       prometheus.Histogram
	bulkHitRate    prometheus.Histogram
	bulkDuration   prometheus.Histogram
	cacheErrors    *prometheus.CounterVec
	invalidations  *prometheus.CounterVec
	warmed         prometheus.Counter
	enabled        prometheus.Gauge
}

// NewGateMetrics creates the gate collectors and registers them with reg.
func NewGateMetrics(reg prometheus.Registerer) (*GateMetrics, error) {
	m := &GateMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellergate",
			Name:      "commands_total",
			Help:      "Authorization commands by operation, outcome and error code.",
		}, []string{"operation", "outcome", "code"}),
		cooldownBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sellergate",
			Name:      "cooldown_blocks_total",
			Help:      "Re-requests blocked by an active cooldown, counting every attempt.",
		}),
		limitReached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellergate",
			Name:      "limit_reached_total",
			Help:      "Commands rejected because the seller product limit was reached.",
		}, []string{"operation"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellergate",
			Name:      "gate_checks_total",
			Help:      "Gate checks by answer source.",
		}, []string{"source"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sellergate",
			Name:      "gate_check_duration_seconds",
			Help:      "Gate check latency by answer source.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .015, .025, .05, .1, .25},
		}, []string{"source"}),
		bulkSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sellergate",
			Name:      "bulk_check_size",
			Help:      "Distinct products per bulk check.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		bulkHitRate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sellergate",
			Name:      "bulk_check_cache_hit_ratio",
			Help:      "Cache hit ratio of bulk checks.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		bulkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sellergate",
			Name:      "bulk_check_duration_seconds",
			Help:      "Bulk check latency.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellergate",
			Name:      "cache_errors_total",
			Help:      "Cache failures by operation; each is treated as a miss.",
		}, []string{"operation"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellergate",
			Name:      "cache_invalidations_total",
			Help:      "Cache invalidations by outcome.",
		}, []string{"outcome"}),
		warmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sellergate",
			Name:      "cache_warmed_entries_total",
			Help:      "Entries preloaded by cache warming.",
		}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sellergate",
			Name:      "feature_enabled",
			Help:      "1 when the gate was enabled at the last flag read.",
		}),
	}
	collectors := []prometheus.Collector{
		m.commands, m.cooldownBlocks, m.limitReached, m.checks, m.checkDuration,
		m.bulkSize, m.bulkHitRate, m.bulkDuration, m.cacheErrors, m.invalidations,
		m.warmed, m.enabled,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *GateMetrics) CommandCompleted(op, outcome, code string) {
	m.commands.WithLabelValues(op, outcome, code).Inc()
}

func (m *GateMetrics) CooldownBlocked() { m.cooldownBlocks.Inc() }

func (m *GateMetrics) LimitReached(op string) { m.limitReached.WithLabelValues(op).Inc() }

func (m *GateMetrics) GateChecked(source string, d time.Duration) {
	m.checks.WithLabelValues(source).Inc()
	m.checkDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *GateMetrics) BulkChecked(size int, hitRate float64, d time.Duration) {
	m.bulkSize.Observe(float64(size))
	m.bulkHitRate.Observe(hitRate)
	m.bulkDuration.Observe(d.Seconds())
}

func (m *GateMetrics) CacheError(op string) { m.cacheErrors.WithLabelValues(op).Inc() }

func (m *GateMetrics) CacheInvalidated(ok bool) {
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeError
	}
	m.invalidations.WithLabelValues(outcome).Inc()
}

func (m *GateMetrics) CacheWarmed(n int) {
	if n > 0 {
		m.warmed.Add(float64(n))
	}
}

func (m *GateMetrics) FeatureState(enabled bool) {
	if enabled {
		m.enabled.Set(1)
		return
	}
	m.enabled.Set(0)
}
