package follow

import (
	"testing"
	"time"

	"tabwatch/internal/activity"
	"tabwatch/internal/tab"
)

func TestScoreInternalSchemePenalized(t *testing.T) {
	now := time.Now()
	extTab := &tab.Tab{ID: "a", URL: "chrome-extension://abc/popup.html", LastActiveAt: now.Add(-time.Hour)}
	realTab := &tab.Tab{ID: "b", URL: "https://example.com", LastActiveAt: now.Add(-time.Hour)}

	extScore := Score(extTab, activity.Empty(), now)
	realScore := Score(realTab, activity.Empty(), now)

	if extScore > 0 {
		t.Errorf("internal-scheme tab scored %d, want <= 0", extScore)
	}
	if realScore <= extScore {
		t.Errorf("real tab scored %d, not greater than internal-scheme tab's %d", realScore, extScore)
	}
}

func TestScoreFormActivityDominates(t *testing.T) {
	now := time.Now()
	idle := &tab.Tab{ID: "a", URL: "https://example.com", LastActiveAt: now.Add(-time.Hour)}
	active := &tab.Tab{ID: "b", URL: "https://x.example/search", LastActiveAt: now}

	snap := activity.Snapshot{
		HasFormActivity: true,
		IsVisible:       true,
		HasFocus:        true,
	}

	idleScore := Score(idle, activity.Empty(), now)
	activeScore := Score(active, snap, now)

	// End-to-end scenario 1: B should clear 17200 while A stays near base.
	if activeScore < 17200 {
		t.Errorf("form-active tab scored %d, want >= 17200", activeScore)
	}
	if idleScore >= MinWinningScore {
		t.Errorf("idle tab scored %d, want < MinWinningScore (%d)", idleScore, MinWinningScore)
	}
	if activeScore <= idleScore {
		t.Errorf("active tab (%d) did not outscore idle tab (%d)", activeScore, idleScore)
	}
}

func TestScoreAboutBlankIsInternal(t *testing.T) {
	now := time.Now()
	blank := &tab.Tab{ID: "a", URL: "about:blank", LastActiveAt: now}
	if !isInternal(blank.URL) {
		t.Error("about:blank should be treated as an internal scheme")
	}
	if Score(blank, activity.Empty(), now) > 0 {
		t.Error("about:blank tab should not score positively with no activity")
	}
}

func TestScoreRecentActivityWindows(t *testing.T) {
	base := &tab.Tab{ID: "a", URL: "https://example.com", LastActiveAt: time.Now().Add(-time.Hour)}
	now := time.Now()

	mk := func(agoMs int64) activity.Snapshot {
		return activity.Snapshot{
			IsVisible:        true,
			HasFocus:         true,
			LastActivityTime: now.Add(-time.Duration(agoMs) * time.Millisecond).UnixMilli(),
		}
	}

	s3 := Score(base, mk(1000), now)
	s5 := Score(base, mk(4000), now)
	s10 := Score(base, mk(8000), now)
	sOld := Score(base, mk(20000), now)

	if !(s3 > s5 && s5 > s10 && s10 > sOld) {
		t.Errorf("activity-recency ordering violated: s3=%d s5=%d s10=%d sOld=%d", s3, s5, s10, sOld)
	}
}

func TestPickWinnerTieBreakStability(t *testing.T) {
	now := time.Now()
	a := &tab.Tab{ID: "current", LastActiveAt: now}
	b := &tab.Tab{ID: "other", LastActiveAt: now}

	winner := pickWinner([]candidate{{tab: a, score: 100}, {tab: b, score: 100}}, "current")
	if winner.ID != "current" {
		t.Errorf("tie-break should retain current active tab, got %s", winner.ID)
	}
}

func TestPickWinnerMostRecentLastActive(t *testing.T) {
	now := time.Now()
	older := &tab.Tab{ID: "older", LastActiveAt: now.Add(-time.Minute)}
	newer := &tab.Tab{ID: "newer", LastActiveAt: now}

	winner := pickWinner([]candidate{{tab: older, score: 100}, {tab: newer, score: 100}}, "older")
	if winner.ID != "newer" {
		t.Errorf("tie-break should prefer most recent LastActiveAt, got %s", winner.ID)
	}
}

func TestPickWinnerHighestScoreWins(t *testing.T) {
	low := &tab.Tab{ID: "low"}
	high := &tab.Tab{ID: "high"}
	winner := pickWinner([]candidate{{tab: low, score: 10}, {tab: high, score: 9000}}, "low")
	if winner.ID != "high" {
		t.Errorf("highest score should win, got %s", winner.ID)
	}
}
