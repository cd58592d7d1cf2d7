package tab

import "testing"

func TestUpsertCreatesAndAdvancesOnURLChange(t *testing.T) {
	r := New()
	r.Upsert("t1", nil, "Example", "https://example.com")
	first := r.Get("t1")
	if first == nil {
		t.Fatal("expected tab to be registered")
	}
	firstActive := first.LastActiveAt

	r.Upsert("t1", nil, "Example", "https://example.com/other")
	updated := r.Get("t1")
	if updated.URL != "https://example.com/other" {
		t.Errorf("url not updated, got %s", updated.URL)
	}
	if !updated.LastActiveAt.After(firstActive) && !updated.LastActiveAt.Equal(firstActive) {
		t.Error("LastActiveAt should advance (or stay equal under fast clocks) on url change")
	}
}

func TestUpsertSameURLDoesNotAdvance(t *testing.T) {
	r := New()
	r.Upsert("t1", nil, "Example", "https://example.com")
	first := r.Get("t1").LastActiveAt

	r.Upsert("t1", nil, "Example 2", "https://example.com")
	second := r.Get("t1")
	if second.Title != "Example 2" {
		t.Errorf("title not updated, got %s", second.Title)
	}
	if !second.LastActiveAt.Equal(first) {
		t.Error("LastActiveAt should not advance when url is unchanged")
	}
}

func TestSetActiveExclusive(t *testing.T) {
	r := New()
	r.Upsert("a", nil, "", "https://a.example")
	r.Upsert("b", nil, "", "https://b.example")

	if !r.SetActive("a") {
		t.Fatal("SetActive(a) should succeed")
	}
	if !r.SetActive("b") {
		t.Fatal("SetActive(b) should succeed")
	}

	a := r.Get("a")
	b := r.Get("b")
	if a.IsActive {
		t.Error("a should no longer be active after b is activated")
	}
	if !b.IsActive {
		t.Error("b should be active")
	}
	active := r.Active()
	if active == nil || active.ID != "b" {
		t.Error("Active() should return b")
	}
}

func TestSetActiveUnknownID(t *testing.T) {
	r := New()
	if r.SetActive("missing") {
		t.Error("SetActive on unregistered id should return false")
	}
}

func TestRemove(t *testing.T) {
	r := New()
	r.Upsert("a", nil, "", "https://a.example")
	r.Remove("a")
	if r.Get("a") != nil {
		t.Error("tab should be gone after Remove")
	}
	if r.Len() != 0 {
		t.Errorf("registry should be empty, got len %d", r.Len())
	}
}

type fakeHandle struct {
	id     string
	closed bool
}

func (f *fakeHandle) TargetID() string                          { return f.id }
func (f *fakeHandle) Navigate(string) error                     { return nil }
func (f *fakeHandle) BringToFront() error                       { return nil }
func (f *fakeHandle) Evaluate(string, interface{}) error        { return nil }
func (f *fakeHandle) EvaluateOnNewDocument(string) error         { return nil }
func (f *fakeHandle) Closed() bool                               { return f.closed }

func TestPruneClosed(t *testing.T) {
	r := New()
	open := &fakeHandle{id: "open"}
	closed := &fakeHandle{id: "closed", closed: true}
	r.Upsert("open", open, "", "https://open.example")
	r.Upsert("closed", closed, "", "https://closed.example")

	removed := r.PruneClosed()
	if len(removed) != 1 || removed[0] != "closed" {
		t.Errorf("expected only 'closed' pruned, got %v", removed)
	}
	if r.Get("closed") != nil {
		t.Error("closed tab should be removed from registry")
	}
	if r.Get("open") == nil {
		t.Error("open tab should remain")
	}
}
