package follow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tabwatch/internal/activity"
	"tabwatch/internal/tab"
	"tabwatch/pkg/metrics"
)

// TargetInfo is what the browser's target enumeration reports for one
// page-type target (§4.2 step 1).
type TargetInfo struct {
	ID    string
	URL   string
	Title string
}

// Deps is everything one session's scheduler needs from the rest of the
// system, kept as an interface set so this package never imports
// internal/session (which owns the scheduler) or internal/browserctl
// directly.
type Deps struct {
	// ListTargets enumerates all live page-type targets.
	ListTargets func(ctx context.Context) ([]TargetInfo, error)
	// PageFor resolves a target id to its tab.Handle.
	PageFor func(id string) (tab.Handle, error)
	// Registry is the session's Tab Registry.
	Registry *tab.Registry
	// ManualProtection returns the tab id under manual protection and
	// the instant that protection expires, or ("", zero) if none.
	ManualProtection func() (string, time.Time)
	// ActiveTabID returns the session's current active_tab_id.
	ActiveTabID func() string
	// Commit is called once a different tab wins, under the scheduler's
	// own serialization — it must update active_tab_id, bring the page
	// to front, rebind the stream, and broadcast, in that order.
	Commit func(ctx context.Context, winner *tab.Tab) error
	// BroadcastTabs, if set, is called once per tick after the registry
	// has been refreshed (§4.2 step 2) so the session can emit the
	// available-tabs socket event (§4.6, §6) with the latest tab list.
	BroadcastTabs func()
	// Hooks records tick timing, abandonment, and switches. May be nil.
	Hooks *metrics.SchedulerHooks
}

// Tick cadence and bound, from §4.2 and §5.
const (
	Interval = 2500 * time.Millisecond
	TickBound = 1500 * time.Millisecond
)

// Scheduler runs one session's tab-follow tick loop. Ticks are strictly
// serialized with respect to each other and with manual switches and
// cleanup via the caller's session mutex — Scheduler itself holds no
// lock across CDP calls so an in-flight tick can be preempted by
// cancelling its context (§5).
type Scheduler struct {
	deps    Deps
	limiter *rate.Limiter

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  chan struct{}
	inFlight chan struct{}
}

// New creates a Scheduler for one session. evalRate bounds how many
// in-page evaluate() calls per second this scheduler may issue, so a
// session with many open tabs cannot starve the CDP connection on one
// tick (grounded on the teacher's token-bucket usage pattern).
func New(deps Deps, evalRate float64) *Scheduler {
	if evalRate <= 0 {
		evalRate = 50
	}
	return &Scheduler{
		deps:     deps,
		limiter:  rate.NewLimiter(rate.Limit(evalRate), int(evalRate)),
		stopped:  make(chan struct{}, 1),
		inFlight: make(chan struct{}, 1),
	}
}

// Start launches the periodic tick goroutine. Calling Start twice is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.loop(runCtx)
}

// Stop cancels the loop and blocks until any in-flight tick returns,
// satisfying §4.2's "session cleanup cancels it and waits for the
// in-flight tick to return."
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-s.stopped
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	defer func() {
		select {
		case s.stopped <- struct{}{}:
		default:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick executes one scoring pass, bounded at TickBound. On overrun the
// tick is abandoned and the session's last committed state is kept
// (§5: "on overrun, the tick is abandoned").
func (s *Scheduler) runTick(parent context.Context) {
	select {
	case s.inFlight <- struct{}{}:
	default:
		return // previous tick somehow still running; skip this one
	}
	defer func() { <-s.inFlight }()

	var timer *metrics.Timer
	if s.deps.Hooks != nil {
		timer = s.deps.Hooks.StartTick()
		defer timer.Stop()
	}

	ctx, cancel := context.WithTimeout(parent, TickBound)
	defer cancel()

	targets, err := s.deps.ListTargets(ctx)
	if err != nil {
		return
	}

	removed := s.deps.Registry.PruneClosed()
	_ = removed

	seen := make(map[string]bool, len(targets))
	for _, ti := range targets {
		seen[ti.ID] = true
		page, perr := s.deps.PageFor(ti.ID)
		var handle tab.Handle
		if perr == nil {
			handle = page
		}
		s.deps.Registry.Upsert(ti.ID, handle, ti.Title, ti.URL)
	}
	for _, t := range s.deps.Registry.List() {
		if !seen[t.ID] {
			s.deps.Registry.Remove(t.ID)
		}
	}

	if s.deps.BroadcastTabs != nil {
		s.deps.BroadcastTabs()
	}

	now := time.Now()
	var candidates []candidate
	for _, t := range s.deps.Registry.List() {
		if ctx.Err() != nil {
			if s.deps.Hooks != nil {
				s.deps.Hooks.OnTickAbandoned()
			}
			return // tick bound exceeded mid-scoring; abandon
		}
		snap := s.snapshot(ctx, t)
		candidates = append(candidates, candidate{tab: t, score: Score(t, snap, now)})
	}

	currentID := s.deps.ActiveTabID()
	winner := pickWinner(candidates, currentID)
	if winner == nil {
		return
	}

	if protectedID, until := s.deps.ManualProtection(); protectedID != "" && now.Before(until) {
		return // manual-protection gate (§4.2 step 6)
	}

	winnerScore := 0
	for _, c := range candidates {
		if c.tab.ID == winner.ID {
			winnerScore = c.score
			break
		}
	}
	if winnerScore < MinWinningScore {
		return
	}
	if winner.ID == currentID {
		return
	}

	if err := s.deps.Commit(ctx, winner); err == nil && s.deps.Hooks != nil {
		s.deps.Hooks.OnSwitch()
	}
}

// snapshot evaluates the ATS in-page function for one tab, rate-limited,
// and returns the "no activity" zero value on any failure or when the
// rate limiter would block past the tick bound (§4.4's bounded-time
// contract).
func (s *Scheduler) snapshot(ctx context.Context, t *tab.Tab) activity.Snapshot {
	if t.Page == nil || t.Page.Closed() {
		return activity.Empty()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return activity.Empty()
	}

	var raw json.RawMessage
	if err := t.Page.Evaluate(activity.EvalExpr, &raw); err != nil || raw == nil {
		return activity.Empty()
	}
	var snap activity.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return activity.Empty()
	}
	return snap
}
