package session

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestRegistry() *Registry {
	return New(slog.Default())
}

func TestGetOrCreate_Fresh(t *testing.T) {
	r := newTestRegistry()

	snap := r.GetOrCreate("c1")
	if snap.ID != "c1" {
		t.Errorf("ID = %q, want c1", snap.ID)
	}
	if snap.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0", snap.MessageCount)
	}
	if snap.HistoryLen != 0 {
		t.Errorf("HistoryLen = %d, want 0", snap.HistoryLen)
	}
	if snap.LastActivity.Before(snap.CreatedAt) {
		t.Errorf("LastActivity %v before CreatedAt %v", snap.LastActivity, snap.CreatedAt)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestGetOrCreate_Existing(t *testing.T) {
	r := newTestRegistry()

	first := r.GetOrCreate("c1")
	r.RecordTurn("c1", steps(2), 10)
	second := r.GetOrCreate("c1")

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on second GetOrCreate")
	}
	if second.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", second.MessageCount)
	}
	if second.LastActivity.Before(first.LastActivity) {
		t.Errorf("LastActivity went backwards")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestGetOrCreate_ConcurrentSameID(t *testing.T) {
	r := newTestRegistry()

	const n = 16
	snaps := make([]Snapshot, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			snaps[i] = r.GetOrCreate("racy")
		}(i)
	}
	wg.Wait()

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (exactly one creation under race)", r.Len())
	}
	for i := 1; i < n; i++ {
		if !snaps[i].CreatedAt.Equal(snaps[0].CreatedAt) {
			t.Fatalf("caller %d observed a different entry (CreatedAt %v != %v)",
				i, snaps[i].CreatedAt, snaps[0].CreatedAt)
		}
	}
}

func TestRecordTurn_HistoryBound(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("c1")

	// 15 single-step turns with maxHistory 10: after every turn the
	// history fits the bound; the anchor is the very first step.
	for i := 0; i < 15; i++ {
		step := Step{Role: "user", Content: "turn-" + string(rune('a'+i)), CreatedAt: time.Now()}
		length, ok := r.RecordTurn("c1", []Step{step}, 10)
		if !ok {
			t.Fatalf("RecordTurn %d: conversation missing", i)
		}
		if length > 10 {
			t.Fatalf("history length %d exceeds bound after turn %d", length, i)
		}
	}

	h := r.History("c1")
	if len(h) != 10 {
		t.Fatalf("final history length = %d, want 10", len(h))
	}
	if h[0].Content != "turn-a" {
		t.Errorf("anchor = %q, want the very first step", h[0].Content)
	}
	if h[len(h)-1].Content != "turn-"+string(rune('a'+14)) {
		t.Errorf("newest = %q, want the last step", h[len(h)-1].Content)
	}

	snap, ok := r.Stats("c1")
	if !ok {
		t.Fatal("Stats: conversation missing")
	}
	if snap.MessageCount != 15 {
		t.Errorf("MessageCount = %d, want 15", snap.MessageCount)
	}
}

func TestRecordTurn_UnknownConversation(t *testing.T) {
	r := newTestRegistry()

	if _, ok := r.RecordTurn("ghost", steps(1), 10); ok {
		t.Error("RecordTurn on unknown id reported success")
	}
}

func TestStats_NonCreating(t *testing.T) {
	r := newTestRegistry()

	if _, ok := r.Stats("unknown"); ok {
		t.Error("Stats on unknown id reported found")
	}
	if r.Len() != 0 {
		t.Errorf("Stats created an entry: Len = %d", r.Len())
	}
}

func TestDelete_Idempotent(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("c1")

	if !r.Delete("c1") {
		t.Error("Delete existing = false, want true")
	}
	if r.Delete("c1") {
		t.Error("Delete absent = true, want false")
	}

	// A later reference creates a brand-new entry with reset counters.
	snap := r.GetOrCreate("c1")
	if snap.MessageCount != 0 {
		t.Errorf("recreated MessageCount = %d, want 0", snap.MessageCount)
	}
	if snap.HistoryLen != 0 {
		t.Errorf("recreated HistoryLen = %d, want 0", snap.HistoryLen)
	}
}

func TestListIDs(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("a")
	r.GetOrCreate("b")
	r.GetOrCreate("c")

	ids := r.ListIDs()
	if len(ids) != 3 {
		t.Fatalf("ListIDs len = %d, want 3", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("ListIDs missing %q", want)
		}
	}
}

func TestSweepStale(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("old")
	r.GetOrCreate("recent")

	// Backdate the entries directly; the sweep compares lastActivity.
	r.mu.Lock()
	r.conversations["old"].lastActivity = time.Now().Add(-25 * time.Hour)
	r.conversations["recent"].lastActivity = time.Now().Add(-30 * time.Minute)
	r.mu.Unlock()

	if removed := r.SweepStale(24 * time.Hour); removed != 1 {
		t.Fatalf("SweepStale removed %d, want 1", removed)
	}
	if _, ok := r.Stats("old"); ok {
		t.Error("stale conversation survived the sweep")
	}
	if _, ok := r.Stats("recent"); !ok {
		t.Error("fresh conversation was swept")
	}

	// Re-running immediately removes nothing further.
	if removed := r.SweepStale(24 * time.Hour); removed != 0 {
		t.Errorf("second SweepStale removed %d, want 0", removed)
	}
}

func TestSweepStale_ConcurrentActivity(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 50; i++ {
		id := "conv-" + string(rune('0'+i%10)) + string(rune('a'+i/10))
		r.GetOrCreate(id)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.GetOrCreate("busy")
			r.RecordTurn("busy", steps(1), 10)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			r.SweepStale(time.Hour)
		}
	}()
	wg.Wait()

	// Everything was active within the hour; nothing may vanish.
	if _, ok := r.Stats("busy"); !ok {
		t.Error("active conversation was swept")
	}
}

func TestBindAgent(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("c1")

	if r.Agent("c1") != nil {
		t.Error("fresh conversation has a bound agent")
	}

	type fakeAgent struct{ name string }
	a := &fakeAgent{name: "runner"}
	r.BindAgent("c1", a)

	got, ok := r.Agent("c1").(*fakeAgent)
	if !ok || got != a {
		t.Errorf("Agent = %#v, want the bound instance", r.Agent("c1"))
	}

	snap, _ := r.Stats("c1")
	if !snap.HasAgent {
		t.Error("Snapshot.HasAgent = false after binding")
	}

	// Binding to an unknown id must not create an entry.
	r.BindAgent("ghost", a)
	if _, ok := r.Stats("ghost"); ok {
		t.Error("BindAgent created a conversation")
	}
}

func TestHistory_ReturnsCopy(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("c1")
	r.RecordTurn("c1", steps(3), 10)

	h := r.History("c1")
	h[0].Content = "tampered"

	if got := r.History("c1"); got[0].Content == "tampered" {
		t.Error("History returned a live reference, want a copy")
	}
}

func TestClose(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("c1")
	r.Close()

	if r.Len() != 0 {
		t.Errorf("Len after Close = %d, want 0", r.Len())
	}
}
