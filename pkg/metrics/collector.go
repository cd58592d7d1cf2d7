// Package metrics provides Prometheus-compatible metrics collection for
// the daemon: session/tab/stream counts and the tab-follow scheduler's
// switch rate, for real-time monitoring and dashboard integration.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector holds every daemon-level metric with Prometheus
// compatibility.
type MetricsCollector struct {
	// Session lifecycle
	SessionsCreated prometheus.Counter
	SessionsCleaned *prometheus.CounterVec // labeled by reason
	ActiveSessions  prometheus.Gauge

	// Tab-follow scheduler
	TabSwitches  prometheus.Counter
	SwitchRate   prometheus.Gauge // switches per minute
	switchesPerMin *RateCalculator
	TickDuration prometheus.Histogram
	TicksAbandoned prometheus.Counter

	// Stream binder
	StreamFramesSent   prometheus.Counter
	StreamFramesDropped prometheus.Counter
	ActiveBindings     prometheus.Gauge

	// Tabs
	TotalTabs prometheus.Gauge

	// Internal tracking
	mu              sync.RWMutex
	startTime       time.Time
	sessionCount    int64
	tabCount        int64
	bindingCount    int64
	totalSwitches   int64
	totalAbandoned  int64
}

// RateCalculator calculates hits per minute using a sliding window
type RateCalculator struct {
	mu       sync.Mutex
	hits     []time.Time
	window   time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	current  float64
}

// NewRateCalculator creates a new rate calculator with specified window
func NewRateCalculator(window time.Duration) *RateCalculator {
	rc := &RateCalculator{
		hits:   make([]time.Time, 0, 1000),
		window: window,
		stopCh: make(chan struct{}),
	}
	go rc.cleanupLoop()
	return rc
}

// Record records a hit
func (rc *RateCalculator) Record() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.hits = append(rc.hits, time.Now())
}

// GetRate returns current hits per minute
func (rc *RateCalculator) GetRate() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cleanup(time.Now())
	return float64(len(rc.hits)) * (60.0 / rc.window.Seconds())
}

// cleanup removes old hits outside the window
func (rc *RateCalculator) cleanup(now time.Time) {
	cutoff := now.Add(-rc.window)
	idx := len(rc.hits)
	for i, t := range rc.hits {
		if t.After(cutoff) {
			idx = i
			break
		}
	}
	rc.hits = rc.hits[idx:]
}

// cleanupLoop periodically cleans up old hits
func (rc *RateCalculator) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.mu.Lock()
			rc.cleanup(time.Now())
			rc.current = float64(len(rc.hits)) * (60.0 / rc.window.Seconds())
			rc.mu.Unlock()
		case <-rc.stopCh:
			return
		}
	}
}

// Stop stops the rate calculator
func (rc *RateCalculator) Stop() {
	close(rc.stopCh)
}

// Namespace for all metrics.
const namespace = "tabwatch"

// NewMetricsCollector creates and initializes a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		startTime:      time.Now(),
		switchesPerMin: NewRateCalculator(time.Minute),
	}

	mc.SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Total number of sessions created",
	})

	mc.SessionsCleaned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_cleaned_total",
		Help:      "Total number of sessions cleaned up, by reason",
	}, []string{"reason"})

	mc.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of sessions currently active",
	})

	mc.TabSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tab_switches_total",
		Help:      "Total number of committed tab-follow switches",
	})

	mc.SwitchRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tab_switch_rate_per_minute",
		Help:      "Current tab-follow switch rate per minute",
	})

	mc.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_tick_duration_seconds",
		Help:      "Tab-follow scheduler tick duration distribution",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 1.5, 2},
	})

	mc.TicksAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_ticks_abandoned_total",
		Help:      "Total number of scheduler ticks abandoned for exceeding the tick bound",
	})

	mc.StreamFramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_frames_sent_total",
		Help:      "Total number of screencast frames delivered to a sink",
	})

	mc.StreamFramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_frames_dropped_total",
		Help:      "Total number of screencast frames dropped by backpressure",
	})

	mc.ActiveBindings = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_stream_bindings",
		Help:      "Number of sessions currently streaming",
	})

	mc.TotalTabs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_tabs",
		Help:      "Total number of tabs tracked across all sessions",
	})

	mc.register()
	go mc.updateLoop()

	return mc
}

// register registers all metrics with Prometheus.
func (mc *MetricsCollector) register() {
	prometheus.MustRegister(
		mc.SessionsCreated,
		mc.SessionsCleaned,
		mc.ActiveSessions,
		mc.TabSwitches,
		mc.SwitchRate,
		mc.TickDuration,
		mc.TicksAbandoned,
		mc.StreamFramesSent,
		mc.StreamFramesDropped,
		mc.ActiveBindings,
		mc.TotalTabs,
	)
}

// updateLoop periodically updates calculated metrics.
func (mc *MetricsCollector) updateLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		mc.SwitchRate.Set(mc.switchesPerMin.GetRate())
	}
}

// RecordSessionCreated records a new session.
func (mc *MetricsCollector) RecordSessionCreated() {
	mc.SessionsCreated.Inc()
}

// RecordSessionCleaned records a session teardown, labeled by reason.
func (mc *MetricsCollector) RecordSessionCleaned(reason string) {
	mc.SessionsCleaned.WithLabelValues(reason).Inc()
}

// RecordTabSwitch records one committed tab-follow switch.
func (mc *MetricsCollector) RecordTabSwitch() {
	mc.TabSwitches.Inc()
	mc.switchesPerMin.Record()
	mc.mu.Lock()
	mc.totalSwitches++
	mc.mu.Unlock()
}

// RecordTickDuration records how long one scheduler tick took.
func (mc *MetricsCollector) RecordTickDuration(d time.Duration) {
	mc.TickDuration.Observe(d.Seconds())
}

// RecordTickAbandoned records a tick that exceeded its bound.
func (mc *MetricsCollector) RecordTickAbandoned() {
	mc.TicksAbandoned.Inc()
	mc.mu.Lock()
	mc.totalAbandoned++
	mc.mu.Unlock()
}

// RecordStreamFrame records a delivered or dropped screencast frame.
func (mc *MetricsCollector) RecordStreamFrame(dropped bool) {
	if dropped {
		mc.StreamFramesDropped.Inc()
		return
	}
	mc.StreamFramesSent.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (mc *MetricsCollector) SetActiveSessions(count int64) {
	mc.ActiveSessions.Set(float64(count))
	mc.mu.Lock()
	mc.sessionCount = count
	mc.mu.Unlock()
}

// SetActiveBindings sets the active stream-binding gauge.
func (mc *MetricsCollector) SetActiveBindings(count int64) {
	mc.ActiveBindings.Set(float64(count))
	mc.mu.Lock()
	mc.bindingCount = count
	mc.mu.Unlock()
}

// SetTrackedTabs sets the total tracked tab gauge.
func (mc *MetricsCollector) SetTrackedTabs(count int64) {
	mc.TotalTabs.Set(float64(count))
	mc.mu.Lock()
	mc.tabCount = count
	mc.mu.Unlock()
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (mc *MetricsCollector) GetSnapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return Snapshot{
		Timestamp:      time.Now(),
		ActiveSessions: mc.sessionCount,
		TrackedTabs:    mc.tabCount,
		ActiveBindings: mc.bindingCount,
		TotalSwitches:  mc.totalSwitches,
		TotalAbandoned: mc.totalAbandoned,
		SwitchRatePerMin: mc.switchesPerMin.GetRate(),
		UptimeSeconds:  time.Since(mc.startTime).Seconds(),
	}
}

// Snapshot represents a point-in-time metrics snapshot.
type Snapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	ActiveSessions   int64     `json:"active_sessions"`
	TrackedTabs      int64     `json:"tracked_tabs"`
	ActiveBindings   int64     `json:"active_bindings"`
	TotalSwitches    int64     `json:"total_switches"`
	TotalAbandoned   int64     `json:"total_abandoned"`
	SwitchRatePerMin float64   `json:"switch_rate_per_min"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
}

// MetricsHandler returns HTTP handler for Prometheus metrics
func (mc *MetricsCollector) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// JSONHandler returns metrics in JSON format
func (mc *MetricsCollector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mc.GetSnapshot())
	}
}

// Close cleans up resources
func (mc *MetricsCollector) Close() {
	if mc.switchesPerMin != nil {
		mc.switchesPerMin.Stop()
	}
}

// Global instance for easy access
var globalCollector *MetricsCollector
var globalMu sync.Once

// GetGlobalCollector returns the global metrics collector instance
func GetGlobalCollector() *MetricsCollector {
	globalMu.Do(func() {
		globalCollector = NewMetricsCollector()
	})
	return globalCollector
}

// SetGlobalCollector sets the global metrics collector (for testing)
func SetGlobalCollector(mc *MetricsCollector) {
	globalCollector = mc
}
