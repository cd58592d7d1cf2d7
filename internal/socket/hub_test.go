package socket

import (
	"encoding/json"
	"testing"
)

func TestEmitOnUnknownSessionIsNoop(t *testing.T) {
	h := NewHub()
	// No room has been joined for this session; emitting must not panic
	// and must simply be a dropped, best-effort no-op (§4.6).
	h.EmitAvailableTabs(AvailableTabsPayload{SessionID: "ghost"})
	h.EmitTabSwitched(TabSwitchedPayload{SessionID: "ghost"})
	h.EmitSessionCleanup(SessionCleanupPayload{SessionID: "ghost", Reason: "idle_timeout"})
}

func TestDropRoomOnUnknownSessionIsNoop(t *testing.T) {
	h := NewHub()
	h.DropRoom("never-joined")
}

func TestLeaveOnUnknownSessionIsNoop(t *testing.T) {
	h := NewHub()
	h.Leave("never-joined", nil)
}

func TestJoinCreatesRoomAndLeaveDrainsIt(t *testing.T) {
	h := NewHub()
	ch := h.Join("s1", nil)
	if ch == nil {
		t.Fatal("Join should return a non-nil channel")
	}

	h.mu.RLock()
	_, ok := h.rooms["s1"]
	h.mu.RUnlock()
	if !ok {
		t.Fatal("Join should register the session's room")
	}

	h.Leave("s1", nil)

	h.mu.RLock()
	_, stillThere := h.rooms["s1"]
	h.mu.RUnlock()
	if stillThere {
		t.Error("room should be dropped once its last connection leaves")
	}
}

func TestEmitDeliversToJoinedConnAndDropsOnFullBuffer(t *testing.T) {
	h := NewHub()
	ch := h.Join("s1", nil)

	h.EmitTabSwitched(TabSwitchedPayload{SessionID: "s1", TabID: "t1"})

	select {
	case payload := <-ch:
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("failed to decode emitted payload: %v", err)
		}
		if env.Event != EventTabSwitched {
			t.Errorf("event = %s, want %s", env.Event, EventTabSwitched)
		}
	default:
		t.Fatal("expected a payload to be delivered to the joined channel")
	}

	// Fill the outbound buffer, then emit once more: the extra message is
	// dropped instead of blocking the broadcaster.
	for i := 0; i < cap(ch); i++ {
		h.EmitTabSwitched(TabSwitchedPayload{SessionID: "s1", TabID: "t1"})
	}
	h.EmitTabSwitched(TabSwitchedPayload{SessionID: "s1", TabID: "t2"})
	if len(ch) != cap(ch) {
		t.Errorf("buffer holds %d messages, want %d (full, extra dropped)", len(ch), cap(ch))
	}
}
