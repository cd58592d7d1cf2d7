// Package session implements the Session Lifecycle Manager (SLM, §4.1):
// the top-level owner that creates, time-bounds, and deterministically
// tears down per-user browser sessions.
package session

import (
	"context"
	"sync"
	"time"

	"tabwatch/internal/browserctl"
	"tabwatch/internal/fingerprint"
	"tabwatch/internal/follow"
	"tabwatch/internal/socket"
	"tabwatch/internal/stream"
	"tabwatch/internal/tab"
)

// Status is the §3 session state machine. It only ever advances.
type Status int

const (
	StatusCreated Status = iota
	StatusActive
	StatusCleaningUp
	StatusCleanedUp
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusCleaningUp:
		return "cleaning_up"
	case StatusCleanedUp:
		return "cleaned_up"
	default:
		return "unknown"
	}
}

// Viewport bounds a session's page dimensions, clamped to ≤1920x1080
// (§4.5).
type Viewport struct {
	Width, Height int
}

// Options configures one session, all fields defaulted per §6.
type Options struct {
	Timeout                time.Duration
	MaxIdle                time.Duration
	AutoClose               bool
	Viewport                Viewport
	StealthEnabled          bool
	ManualProtectionWindow  time.Duration
	Task                    string
	FirstURL                string
	Headless                bool
	StreamQuality           int
}

// DefaultOptions returns the §6 configuration defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:                30 * time.Minute,
		MaxIdle:                10 * time.Minute,
		AutoClose:              true,
		Viewport:               Viewport{Width: 1920, Height: 1080},
		StealthEnabled:         true,
		ManualProtectionWindow: 5 * time.Second,
		Headless:               true,
		StreamQuality:          stream.Quality,
	}
}

func (o Options) clampViewport() Viewport {
	v := o.Viewport
	if v.Width <= 0 || v.Width > 1920 {
		v.Width = 1920
	}
	if v.Height <= 0 || v.Height > 1080 {
		v.Height = 1080
	}
	return v
}

// manualProtection is the §3 "manual_protection" optional field.
type manualProtection struct {
	tabID string
	until time.Time
}

// Session is one isolated browser+tab-graph+stream owned by one user.
// Every mutation of tabs/active_tab_id/streaming goes through mu, the
// per-session mutex §5 requires so TFS, manual switches, and cleanup
// never interleave.
type Session struct {
	ID            string
	CreatedAt     time.Time
	Options       Options
	Fingerprint   *fingerprint.Fingerprint

	mu                  sync.Mutex
	status              Status
	lastActivity        time.Time
	activeTabID         string
	manual              *manualProtection
	cleanupSched        bool
	cleanupReason       string
	cleanupScheduledAt  time.Time
	streamEnabled       bool

	Tabs    *tab.Registry
	Browser *browserctl.Browser
	Binder  *stream.Binder
	sched   *follow.Scheduler
	hub     *socket.Hub

	ctx    context.Context
	cancel context.CancelFunc

	frameSink stream.FrameSink
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ActiveTabID returns the currently active tab id, or "" if none.
func (s *Session) ActiveTabID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTabID
}

// LastActivity returns the last-touched timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// touch advances last_activity to now. Called on every request-driven or
// ATS-driven internal event (§4.1 "touch").
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// manualProtectionSnapshot reports the currently protected tab id and
// expiry, read by the scheduler's gate (§4.2 step 6) without taking the
// scheduler's own lock.
func (s *Session) manualProtectionSnapshot() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manual == nil {
		return "", time.Time{}
	}
	return s.manual.tabID, s.manual.until
}

// broadcastTabs emits the available-tabs event (§4.6, §6) with the
// registry's current snapshot. Called once per scheduler tick after the
// registry has been refreshed, and is a no-op if this session has no hub
// (e.g. under test).
func (s *Session) broadcastTabs() {
	if s.hub == nil {
		return
	}
	active := s.ActiveTabID()
	tabs := s.Tabs.List()
	summaries := make([]socket.TabSummary, 0, len(tabs))
	for _, t := range tabs {
		summaries = append(summaries, socket.TabSummary{
			ID:     t.ID,
			Title:  t.Title,
			URL:    t.URL,
			Active: t.ID == active,
		})
	}
	s.hub.EmitAvailableTabs(socket.AvailableTabsPayload{
		SessionID:   s.ID,
		Tabs:        summaries,
		ActiveTabID: active,
	})
}

