package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tabwatch/internal/activity"
	"tabwatch/internal/browserctl"
	"tabwatch/internal/fingerprint"
	"tabwatch/internal/follow"
	"tabwatch/internal/platform"
	"tabwatch/internal/proxy"
	"tabwatch/internal/socket"
	"tabwatch/internal/stealth"
	"tabwatch/internal/stream"
	"tabwatch/internal/tab"
	"tabwatch/pkg/metrics"
)

// Errors returned by Manager operations.
var (
	ErrAtCapacity  = errors.New("session: at max concurrent sessions")
	ErrNotFound    = errors.New("session: not found")
	ErrAlreadyGone = errors.New("session: already cleaned up")
)

// Reasons recorded on ScheduleCleanup/Cleanup, surfaced in the
// session-cleanup socket event (§6).
const (
	ReasonIdleTimeout    = "idle_timeout"
	ReasonAbsoluteExpiry = "timeout"
	ReasonManualClose    = "manual_close"
	ReasonShutdown       = "shutdown"
	ReasonCapacityLimit  = "capacity_limit"
)

// idleScanInterval and sweepInterval are the two background timers §4.1
// names: the idle scanner runs often and only flags sessions, the main
// sweeper runs less often and actually tears flagged sessions down once
// their cleanup delay has elapsed.
const (
	idleScanInterval = 30 * time.Second
	sweepInterval    = 60 * time.Second
)

// DefaultCleanupDelay is the grace period between a session being flagged
// for cleanup and the sweeper actually destroying it (§4.1 step 5), giving
// in-flight requests a chance to finish, used when NewManager is given a
// non-positive cleanupDelay.
const DefaultCleanupDelay = 2 * time.Minute

// DefaultEvalRate bounds how many in-page evaluate() calls per second a
// session's scheduler may issue, used when NewManager is given a
// non-positive evalRate.
const DefaultEvalRate = 50

// Manager is the Session Lifecycle Manager (SLM, §4.1): it owns every
// session's full lifecycle and is the only component allowed to create a
// Browser, a Binder, or a follow.Scheduler.
type Manager struct {
	log *zap.Logger
	hub *socket.Hub
	fp  *fingerprint.Generator
	px  proxy.Selector

	maxConcurrent int
	evalRate      float64
	cleanupDelay  time.Duration

	collector      *metrics.MetricsCollector
	sessionHooks   *metrics.SessionHooks
	schedulerHooks *metrics.SchedulerHooks
	streamHooks    *metrics.StreamHooks

	mu       sync.RWMutex
	sessions map[string]*Session

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager constructs an SLM. fpSeed seeds the Fingerprint Generator
// (§4.7); px may be nil, in which case sessions launch without a proxy.
// cleanupDelay and evalRate fall back to DefaultCleanupDelay/DefaultEvalRate
// when non-positive, matching §6's configuration-inputs-with-defaults
// convention.
func NewManager(log *zap.Logger, hub *socket.Hub, fpSeed int64, px proxy.Selector, maxConcurrent int, cleanupDelay time.Duration, evalRate float64) *Manager {
	if px == nil {
		px = proxy.None{}
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}
	if cleanupDelay <= 0 {
		cleanupDelay = DefaultCleanupDelay
	}
	if evalRate <= 0 {
		evalRate = DefaultEvalRate
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	collector := metrics.GetGlobalCollector()
	m := &Manager{
		log:            log,
		hub:            hub,
		fp:             fingerprint.NewGenerator(fpSeed),
		px:             px,
		maxConcurrent:  maxConcurrent,
		evalRate:       evalRate,
		cleanupDelay:   cleanupDelay,
		collector:      collector,
		sessionHooks:   metrics.NewSessionHooks(collector),
		schedulerHooks: metrics.NewSchedulerHooks(collector),
		streamHooks:    metrics.NewStreamHooks(collector),
		sessions:       make(map[string]*Session),
		bgCtx:          bgCtx,
		bgCancel:       bgCancel,
	}
	m.wg.Add(2)
	go m.idleScanLoop()
	go m.sweepLoop()
	return m
}

// Count returns how many sessions the manager currently tracks,
// regardless of status.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Get returns a tracked session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Create launches a new session: a fresh browser, its Stealth Injector
// script on every new document, a Tab Registry wired to the browser's
// new-target events, a Stream Binder, and a running Tab-Follow Scheduler
// (§4.1 "create"). At-capacity is checked before any CDP process is
// spawned.
func (m *Manager) Create(ctx context.Context, opts Options, sink stream.FrameSink) (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.maxConcurrent {
		m.mu.Unlock()
		return nil, ErrAtCapacity
	}
	m.mu.Unlock()

	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("session: id generation: %w", err)
	}

	viewport := opts.clampViewport()
	opts.Viewport = viewport
	plat := platform.Detect(opts.Task, opts.FirstURL)

	fp := m.fp.Generate(id)

	proxyCfg, err := m.px.Select(ctx)
	if err != nil {
		m.log.Warn("proxy selection failed, continuing without one", zap.String("session_id", id), zap.Error(err))
		proxyCfg = proxy.Config{}
	}

	browser, err := browserctl.Launch(m.bgCtx, browserctl.LaunchOptions{
		Headless:       opts.Headless,
		ViewportWidth:  viewport.Width,
		ViewportHeight: viewport.Height,
		Platform:       plat,
		ProxyURL:       proxyCfg.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("session: browser launch: %w", err)
	}

	sessCtx, cancel := context.WithCancel(m.bgCtx)
	now := time.Now()
	s := &Session{
		ID:           id,
		CreatedAt:    now,
		Options:      opts,
		Fingerprint:  fp,
		status:       StatusCreated,
		lastActivity: now,
		Tabs:         tab.New(),
		Browser:      browser,
		hub:          m.hub,
		ctx:          sessCtx,
		cancel:       cancel,
		frameSink:    sink,
	}
	instrumentedSink := sink
	if instrumentedSink != nil {
		hooks := m.streamHooks
		instrumentedSink = func(f stream.Frame) {
			hooks.OnFrame(false)
			sink(f)
		}
	}
	s.Binder = stream.New(instrumentedSink, viewport.Width, viewport.Height)

	siScript := ""
	var headers stealth.Headers
	if opts.StealthEnabled {
		siScript = stealth.Build(fp, stealth.Platform(plat))
		headers = stealth.BuildHeaders(fp)
	}

	browser.OnNewTarget(func(targetID string) {
		page, err := browser.PageFor(targetID)
		if err != nil {
			return
		}
		// The Activity Tracker Script is installed regardless of
		// stealth_enabled (§4.4) — the scheduler needs its snapshot
		// contract to score every tab, disguised or not.
		_ = page.EvaluateOnNewDocument(activity.Script)
		if siScript != "" {
			_ = page.EvaluateOnNewDocument(siScript)
		}
		if len(headers) > 0 {
			_ = page.SetExtraHeaders(headers)
		}
		s.Tabs.Upsert(targetID, page, "", "")
	})

	s.sched = follow.New(follow.Deps{
		ListTargets: func(ctx context.Context) ([]follow.TargetInfo, error) {
			infos, err := browser.ListTargets(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]follow.TargetInfo, 0, len(infos))
			for _, i := range infos {
				out = append(out, follow.TargetInfo{ID: string(i.TargetID), URL: i.URL, Title: i.Title})
			}
			return out, nil
		},
		PageFor: func(id string) (tab.Handle, error) {
			p, err := browser.PageFor(id)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		Registry:         s.Tabs,
		ManualProtection: s.manualProtectionSnapshot,
		ActiveTabID:      s.ActiveTabID,
		Commit:           s.commitSwitch,
		BroadcastTabs:    s.broadcastTabs,
		Hooks:            m.schedulerHooks,
	}, m.evalRate)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.mu.Lock()
	s.status = StatusActive
	s.mu.Unlock()

	s.sched.Start(sessCtx)
	m.sessionHooks.OnSessionCreated()
	m.collector.SetActiveSessions(int64(m.Count()))

	m.log.Info("session created",
		zap.String("session_id", id),
		zap.String("platform", string(plat)),
		zap.Bool("stealth", opts.StealthEnabled),
	)

	return s, nil
}

// commitSwitch is the follow.Deps.Commit callback: it runs under the
// scheduler's serialization, so it is the one place active_tab_id, the
// foreground page, and the stream binding move together (§4.2 step 7,
// §4.3's bind exclusivity).
func (s *Session) commitSwitch(ctx context.Context, winner *tab.Tab) error {
	s.mu.Lock()
	s.activeTabID = winner.ID
	s.mu.Unlock()
	s.Tabs.SetActive(winner.ID)

	if err := winner.Page.BringToFront(); err != nil {
		return err
	}

	if page, ok := winner.Page.(*browserctl.Page); ok {
		s.mu.Lock()
		streaming := s.streamEnabled
		s.mu.Unlock()
		if streaming {
			_ = s.Binder.Bind(ctx, page)
		}
	}

	if s.hub != nil {
		s.hub.EmitTabSwitched(socket.TabSwitchedPayload{
			SessionID: s.ID,
			TabID:     winner.ID,
			URL:       winner.URL,
			Title:     winner.Title,
		})
	}

	s.touch()
	return nil
}

// Touch records activity on a session, resetting its idle clock (§4.1
// "touch").
func (m *Manager) Touch(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.touch()
	return nil
}

// SwitchTab performs a manually-requested tab switch: it takes manual
// protection for the session's configured window so the scheduler can't
// immediately override the user's choice (§4.2's manual-protection gate,
// §3's manual_protection field).
func (m *Manager) SwitchTab(ctx context.Context, sessionID, tabID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return ErrAlreadyGone
	}
	window := s.Options.ManualProtectionWindow
	if window <= 0 {
		window = 5 * time.Second
	}
	s.manual = &manualProtection{tabID: tabID, until: time.Now().Add(window)}
	s.mu.Unlock()

	t := s.Tabs.Get(tabID)
	if t == nil {
		return fmt.Errorf("session: %w: tab %s", ErrNotFound, tabID)
	}

	if err := s.commitSwitch(ctx, t); err != nil {
		return err
	}
	m.collector.RecordTabSwitch()

	if page, ok := t.Page.(*browserctl.Page); ok {
		s.mu.Lock()
		streaming := s.streamEnabled
		s.mu.Unlock()
		if streaming {
			return s.Binder.RebindOnManualSwitch(ctx, page)
		}
	}
	return nil
}

// EnableStreaming turns on the session's stream binding onto its current
// active tab, if any.
func (m *Manager) EnableStreaming(ctx context.Context, sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.streamEnabled = true
	activeID := s.activeTabID
	s.mu.Unlock()

	if activeID == "" {
		return nil
	}
	t := s.Tabs.Get(activeID)
	if t == nil {
		return nil
	}
	if page, ok := t.Page.(*browserctl.Page); ok {
		return s.Binder.Bind(ctx, page)
	}
	return nil
}

// DisableStreaming stops the session's stream binding without affecting
// the active tab.
func (m *Manager) DisableStreaming(sessionID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.streamEnabled = false
	s.mu.Unlock()
	s.Binder.Unbind()
	return nil
}

// ScheduleCleanup flags a session for teardown without destroying it
// immediately, letting in-flight work finish before the next sweep
// (§4.1 step 5). Calling it twice is a no-op — cleanup scheduling is
// idempotent.
func (m *Manager) ScheduleCleanup(sessionID, reason string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	if s.status == StatusCleaningUp || s.status == StatusCleanedUp {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusCleaningUp
	s.cleanupSched = true
	s.cleanupReason = reason
	s.cleanupScheduledAt = time.Now()
	s.mu.Unlock()

	if m.hub != nil {
		m.hub.EmitSessionCleanup(socket.SessionCleanupPayload{
			SessionID: sessionID,
			Reason:    reason,
			Message:   "session scheduled for cleanup",
		})
	}
	return nil
}

// Cleanup tears a session down immediately: stop the scheduler (waiting
// for any in-flight tick), unbind the stream, close the browser, notify
// over the socket hub, then delete it from the manager (§4.1 step 5's
// ordering). Idempotent — cleaning up an already-gone session returns
// nil.
func (m *Manager) Cleanup(sessionID, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	if s.status == StatusCleanedUp {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusCleaningUp
	s.mu.Unlock()

	if s.sched != nil {
		s.sched.Stop()
	}
	s.Binder.Unbind()
	s.cancel()
	if s.Browser != nil {
		s.Browser.Close()
	}

	s.mu.Lock()
	s.status = StatusCleanedUp
	s.mu.Unlock()

	if m.hub != nil {
		m.hub.EmitSessionCleanup(socket.SessionCleanupPayload{
			SessionID: sessionID,
			Reason:    reason,
			Message:   "session cleaned up",
		})
		m.hub.DropRoom(sessionID)
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	m.sessionHooks.OnSessionCleaned(reason)
	m.collector.SetActiveSessions(int64(m.Count()))

	m.log.Info("session cleaned up", zap.String("session_id", sessionID), zap.String("reason", reason))
	return nil
}

// DestroyAll tears down every tracked session and stops the manager's
// background timers, for process shutdown (§4.1's destroy_all).
func (m *Manager) DestroyAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Cleanup(id, ReasonShutdown)
	}

	m.bgCancel()
	m.wg.Wait()
}

// idleScanLoop flags sessions idle past MaxIdle for cleanup every
// idleScanInterval (§4.1's idle scanner).
func (m *Manager) idleScanLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(idleScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.bgCtx.Done():
			return
		case <-ticker.C:
			m.scanIdle()
		}
	}
}

func (m *Manager) scanIdle() {
	now := time.Now()
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if s.Status() != StatusActive {
			continue
		}
		maxIdle := s.Options.MaxIdle
		if maxIdle <= 0 {
			continue
		}
		if now.Sub(s.LastActivity()) >= maxIdle {
			_ = m.ScheduleCleanup(s.ID, ReasonIdleTimeout)
		}
	}
}

// sweepLoop runs the main sweeper: every sweepInterval it destroys
// sessions that have been in cleaning_up status, flags sessions that
// exceeded their absolute Timeout, and — if the active count exceeds the
// configured cap — flags the oldest overflow for capacity-driven cleanup
// (§4.1's main sweeper).
func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.bgCtx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	active := make([]*Session, 0, len(snapshot))
	for _, s := range snapshot {
		status := s.Status()
		if status == StatusActive {
			active = append(active, s)
			timeout := s.Options.Timeout
			if timeout > 0 && now.Sub(s.CreatedAt) >= timeout {
				_ = m.ScheduleCleanup(s.ID, ReasonAbsoluteExpiry)
			}
			continue
		}
		if status == StatusCleaningUp {
			reason, scheduledAt := s.cleanupSnapshot()
			if now.Sub(scheduledAt) >= m.cleanupDelay {
				_ = m.Cleanup(s.ID, reason)
			}
		}
	}

	if m.maxConcurrent > 0 && len(active) > m.maxConcurrent {
		overflow := len(active) - m.maxConcurrent + 2
		sort.Slice(active, func(i, j int) bool {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		})
		if overflow > len(active) {
			overflow = len(active)
		}
		for _, s := range active[:overflow] {
			_ = m.ScheduleCleanup(s.ID, ReasonCapacityLimit)
		}
	}
}

func (s *Session) cleanupSnapshot() (reason string, scheduledAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupReason == "" {
		return ReasonIdleTimeout, s.cleanupScheduledAt
	}
	return s.cleanupReason, s.cleanupScheduledAt
}

func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
