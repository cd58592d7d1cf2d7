// Package metrics provides integration utilities for connecting the
// metrics system with other components.
package metrics

import (
	"context"
	"time"
)

// SessionHooks provides hooks for the Session Lifecycle Manager.
type SessionHooks struct {
	collector *MetricsCollector
}

// NewSessionHooks creates new session hooks.
func NewSessionHooks(collector *MetricsCollector) *SessionHooks {
	return &SessionHooks{collector: collector}
}

// OnSessionCreated records a new session.
func (h *SessionHooks) OnSessionCreated() {
	h.collector.RecordSessionCreated()
}

// OnSessionCleaned records a session teardown.
func (h *SessionHooks) OnSessionCleaned(reason string) {
	h.collector.RecordSessionCleaned(reason)
}

// SchedulerHooks provides hooks for the Tab-Follow Scheduler.
type SchedulerHooks struct {
	collector *MetricsCollector
}

// NewSchedulerHooks creates new scheduler hooks.
func NewSchedulerHooks(collector *MetricsCollector) *SchedulerHooks {
	return &SchedulerHooks{collector: collector}
}

// OnSwitch records a committed tab-follow switch.
func (h *SchedulerHooks) OnSwitch() {
	h.collector.RecordTabSwitch()
}

// OnTickAbandoned records a tick that exceeded its bound.
func (h *SchedulerHooks) OnTickAbandoned() {
	h.collector.RecordTickAbandoned()
}

// StartTick begins timing one scheduler tick.
func (h *SchedulerHooks) StartTick() *Timer {
	return &Timer{start: time.Now(), collector: h.collector, tick: true}
}

// StreamHooks provides hooks for the Stream Binder.
type StreamHooks struct {
	collector *MetricsCollector
}

// NewStreamHooks creates new stream hooks.
func NewStreamHooks(collector *MetricsCollector) *StreamHooks {
	return &StreamHooks{collector: collector}
}

// OnFrame records a delivered or dropped screencast frame.
func (h *StreamHooks) OnFrame(dropped bool) {
	h.collector.RecordStreamFrame(dropped)
}

// ctxKey is the context key type used to carry a collector through context.
type ctxKey string

const metricsKey ctxKey = "metrics"

// WithContext adds a metrics collector to context.
func WithContext(ctx context.Context, collector *MetricsCollector) context.Context {
	return context.WithValue(ctx, metricsKey, collector)
}

// FromContext extracts the metrics collector from context.
func FromContext(ctx context.Context) *MetricsCollector {
	if v := ctx.Value(metricsKey); v != nil {
		if mc, ok := v.(*MetricsCollector); ok {
			return mc
		}
	}
	return nil
}

// Timer helps measure operation durations.
type Timer struct {
	start     time.Time
	collector *MetricsCollector
	tick      bool
}

// Stop stops the timer and records the duration against the appropriate
// histogram/counter.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	if t.tick {
		t.collector.RecordTickDuration(duration)
	}
	return duration
}
