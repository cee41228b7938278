package settings

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if !d.Enabled {
		t.Error("Enabled: got false, want true")
	}
	if d.TimerDelay != 1000 {
		t.Errorf("TimerDelay: got %d, want 1000", d.TimerDelay)
	}
	if !d.ShowPopup || d.AutoReplace {
		t.Errorf("ShowPopup/AutoReplace: got %v/%v", d.ShowPopup, d.AutoReplace)
	}
	for _, w := range QuestionWords {
		if !d.TypeEnabled(w) {
			t.Errorf("question type %q disabled by default", w)
		}
	}
}

func TestMerge_ChangedFieldsWin(t *testing.T) {
	got, err := Merge(Defaults(), []byte(`{"enabled":false,"timerDelay":2500}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("Enabled: got true, want false")
	}
	if got.TimerDelay != 2500 {
		t.Errorf("TimerDelay: got %d, want 2500", got.TimerDelay)
	}
	if !got.TypeEnabled("who") {
		t.Error("untouched questionTypes should survive the merge")
	}
}

func TestMerge_QuestionTypesReplacedWholesale(t *testing.T) {
	got, err := Merge(Defaults(), []byte(`{"questionTypes":{"who":false,"what":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.TypeEnabled("who") {
		t.Error("who: got true, want false")
	}
	if !got.TypeEnabled("what") {
		t.Error("what: got false, want true")
	}
	// Shallow merge: keys missing from the new map are gone.
	if got.TypeEnabled("how") {
		t.Error("how: got true, want false after wholesale replacement")
	}
}

func TestMerge_MalformedFieldSkipped(t *testing.T) {
	base := Defaults()
	got, err := Merge(base, []byte(`{"timerDelay":"soon","enabled":false}`))
	if err == nil {
		t.Fatal("expected an error for the malformed timerDelay")
	}
	if got.TimerDelay != base.TimerDelay {
		t.Errorf("TimerDelay: got %d, want %d", got.TimerDelay, base.TimerDelay)
	}
	if got.Enabled {
		t.Error("well-formed fields must still be applied")
	}
}

func TestMerge_NotAnObject(t *testing.T) {
	base := Defaults()
	got, err := Merge(base, []byte(`[1,2]`))
	if err == nil {
		t.Fatal("expected error")
	}
	if got.TimerDelay != base.TimerDelay || got.Enabled != base.Enabled {
		t.Errorf("base must be returned unchanged, got %+v", got)
	}
}

func TestMerge_DoesNotAliasBase(t *testing.T) {
	base := Defaults()
	got, _ := Merge(base, []byte(`{}`))
	got.QuestionTypes["who"] = false
	if !base.QuestionTypes["who"] {
		t.Error("Merge result shares its map with base")
	}
}

func TestDelay_Clamped(t *testing.T) {
	tests := []struct {
		ms   int
		want time.Duration
	}{
		{1000, time.Second},
		{0, 100 * time.Millisecond},
		{-5, 100 * time.Millisecond},
		{100, 100 * time.Millisecond},
		{10000, 10 * time.Second},
		{60000, 10 * time.Second},
	}
	for _, tt := range tests {
		s := Settings{TimerDelay: tt.ms}
		if got := s.Delay(); got != tt.want {
			t.Errorf("Delay(%d): got %v, want %v", tt.ms, got, tt.want)
		}
	}
}

type fakeSource struct {
	raw []byte
	ok  bool
	err error
}

func (f fakeSource) Lookup(context.Context, string) ([]byte, bool, error) {
	return f.raw, f.ok, f.err
}

func TestCache_StartsWithDefaults(t *testing.T) {
	c := NewCache(nil)
	if s := c.Snapshot(); !s.Enabled || s.TimerDelay != DefaultTimerDelay {
		t.Errorf("fresh cache: got %+v", s)
	}
}

func TestCache_Load(t *testing.T) {
	c := NewCache(nil)
	if err := c.Load(context.Background(), fakeSource{raw: []byte(`{"timerDelay":300}`), ok: true}); err != nil {
		t.Fatal(err)
	}
	if got := c.Snapshot().TimerDelay; got != 300 {
		t.Errorf("TimerDelay: got %d, want 300", got)
	}
}

func TestCache_LoadMissingKeepsDefaults(t *testing.T) {
	c := NewCache(nil)
	if err := c.Load(context.Background(), fakeSource{}); err != nil {
		t.Fatal(err)
	}
	if got := c.Snapshot().TimerDelay; got != DefaultTimerDelay {
		t.Errorf("TimerDelay: got %d, want %d", got, DefaultTimerDelay)
	}
}

func TestCache_LoadError(t *testing.T) {
	c := NewCache(nil)
	boom := errors.New("boom")
	if err := c.Load(context.Background(), fakeSource{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("Load: got %v, want %v", err, boom)
	}
	if !c.Snapshot().Enabled {
		t.Error("cache must stay on defaults after a failed load")
	}
}

func TestCache_ApplyMergesOverPrevious(t *testing.T) {
	c := NewCache(nil)
	c.Apply([]byte(`{"timerDelay":400}`))
	c.Apply([]byte(`{"enabled":false}`))

	s := c.Snapshot()
	if s.TimerDelay != 400 {
		t.Errorf("TimerDelay: got %d, want 400 (previous cache must survive)", s.TimerDelay)
	}
	if s.Enabled {
		t.Error("Enabled: got true, want false")
	}
}

func TestCache_SnapshotIsolated(t *testing.T) {
	c := NewCache(nil)
	s := c.Snapshot()
	s.QuestionTypes["who"] = false
	if !c.Snapshot().TypeEnabled("who") {
		t.Error("mutating a snapshot leaked into the cache")
	}
}

func TestCache_Subscribe(t *testing.T) {
	c := NewCache(nil)
	var calls atomic.Int32
	var last atomic.Bool
	last.Store(true)
	cancel := c.Subscribe(func(s Settings) {
		calls.Add(1)
		last.Store(s.Enabled)
	})

	c.Apply([]byte(`{"enabled":false}`))
	if calls.Load() != 1 || last.Load() {
		t.Fatalf("after Apply: calls=%d enabled=%v", calls.Load(), last.Load())
	}

	cancel()
	c.Apply([]byte(`{"enabled":true}`))
	if calls.Load() != 1 {
		t.Errorf("listener called after cancel: calls=%d", calls.Load())
	}
}

type fakeFeed struct {
	changes []struct {
		key   string
		value string
	}
}

func (f *fakeFeed) Watch(_ context.Context, fn func(string, []byte)) error {
	for _, ch := range f.changes {
		fn(ch.key, []byte(ch.value))
	}
	return nil
}

func TestCache_FollowIgnoresOtherKeys(t *testing.T) {
	c := NewCache(nil)
	feed := &fakeFeed{}
	feed.changes = append(feed.changes,
		struct{ key, value string }{"other", `{"enabled":false}`},
		struct{ key, value string }{StorageKey, `{"timerDelay":750}`},
	)
	if err := c.Follow(context.Background(), feed); err != nil {
		t.Fatal(err)
	}
	s := c.Snapshot()
	if !s.Enabled {
		t.Error("change on an unrelated key was applied")
	}
	if s.TimerDelay != 750 {
		t.Errorf("TimerDelay: got %d, want 750", s.TimerDelay)
	}
}
