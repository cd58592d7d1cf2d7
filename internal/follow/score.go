// Package follow implements the Tab-Follow Scheduler (TFS, §4.2): the
// per-session periodic task that decides which tab's stream should be
// showing and requests a rebind when the winner changes.
package follow

import (
	"strings"
	"time"

	"tabwatch/internal/activity"
	"tabwatch/internal/tab"
)

// internalSchemes are the url prefixes that make a candidate score at or
// below zero even though it's a live target (§4.2 step 3).
var internalSchemes = []string{"chrome:", "chrome-extension:"}

// MinWinningScore is the gate below which TFS keeps the current tab even
// if a different one technically scored higher (§4.2 step 6).
const MinWinningScore = 1000

// isInternal reports whether a url is empty, about:blank, or an internal
// scheme.
func isInternal(url string) bool {
	if url == "" || url == "about:blank" {
		return true
	}
	for _, s := range internalSchemes {
		if strings.HasPrefix(url, s) {
			return true
		}
	}
	return false
}

// isRealURL reports whether url has an http(s) scheme, the §4.2 "base"
// signal.
func isRealURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// Score computes the §4.2 step-4 score for one candidate tab given its
// most recent activity snapshot and the tick time "now". The table's
// point values are reproduced literally per §9's "retained literally
// because they encode an ordering lattice" note.
func Score(t *tab.Tab, snap activity.Snapshot, now time.Time) int {
	score := 0

	if isInternal(t.URL) {
		score -= 1000
	} else {
		score += 100 // base constant for a visible candidate
		if isRealURL(t.URL) {
			score += 200 // base (candidate is a real URL)
		}
	}

	hasFormOrInput := snap.HasFormActivity || snap.HasInputFocus
	if snap.HasFormActivity {
		score += 12000
	} else if snap.HasInputFocus {
		score += 8000
	}
	if snap.IsActiveElement {
		score += 4000
	}
	if snap.IsVisible && snap.HasFocus && hasFormOrInput {
		score += 5000
	}

	nowMs := now.UnixMilli()
	var sinceActivity time.Duration = -1
	if snap.LastActivityTime > 0 {
		sinceActivity = time.Duration(nowMs-snap.LastActivityTime) * time.Millisecond
	}

	if snap.IsVisible && snap.HasFocus {
		switch {
		case sinceActivity >= 0 && sinceActivity <= 3*time.Second:
			score += 8000
		case sinceActivity >= 0 && sinceActivity <= 5*time.Second:
			score += 6000
		case sinceActivity >= 0 && sinceActivity <= 10*time.Second:
			score += 4000
		}
	} else if !snap.IsVisible {
		if sinceActivity >= 0 && sinceActivity <= 3*time.Second {
			score += 3000
		}
	}

	if sinceActivity >= 0 && sinceActivity < 15*time.Second {
		score += 500
	}

	sinceURLChange := now.Sub(t.LastActiveAt)
	switch {
	case sinceURLChange <= 2*time.Second:
		score += 1500
	case sinceURLChange <= 5*time.Second:
		score += 1000
	case sinceURLChange <= 15*time.Second:
		score += 500
	case sinceURLChange <= 30*time.Second:
		score += 200
	}

	if isInternal(t.URL) && score > 0 {
		score = 0
	}

	return score
}

// candidate bundles a tab with its computed score for tie-breaking.
type candidate struct {
	tab   *tab.Tab
	score int
}

// pickWinner applies §4.2 step 5's tie-break: highest score, then most
// recent LastActiveAt, then stability (keep currentActiveID).
func pickWinner(candidates []candidate, currentActiveID string) *tab.Tab {
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.score > best.score:
			best = c
		case c.score == best.score:
			if c.tab.LastActiveAt.After(best.tab.LastActiveAt) {
				best = c
			} else if c.tab.LastActiveAt.Equal(best.tab.LastActiveAt) {
				if c.tab.ID == currentActiveID {
					best = c
				}
			}
		}
	}
	return best.tab
}
