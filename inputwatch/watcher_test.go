package inputwatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/morph/idgen"
	"github.com/hazyhaar/morph/internal/debounce"
	"github.com/hazyhaar/morph/internal/dom"
	"github.com/hazyhaar/morph/message"
	"github.com/hazyhaar/morph/settings"
)

const page = `<!doctype html><html><body>
<input id="q" type="text">
<textarea id="notes"></textarea>
<div id="ed" contenteditable="true"></div>
<input id="pw" type="password">
<div id="box"></div>
</body></html>`

type recorder struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (r *recorder) Notify(msg message.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Text
	}
	return out
}

type harness struct {
	doc   *dom.Document
	cache *settings.Cache
	clock *debounce.Fake
	rec   *recorder
	w     *Watcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	doc, err := dom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		doc:   doc,
		cache: settings.NewCache(nil),
		clock: debounce.NewFake(),
		rec:   &recorder{},
	}
	h.w = NewWatcher(WatcherConfig{
		Document: doc,
		Settings: h.cache,
		Notify:   h.rec,
		PageID:   "p1",
		PageURL:  "https://example.com/form",
		Clock:    h.clock,
		IDs:      idgen.Sequence("q"),
	})
	if err := h.w.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) id(t *testing.T, htmlID string) string {
	t.Helper()
	id, ok := h.doc.Lookup("id", htmlID)
	if !ok {
		t.Fatalf("#%s not found", htmlID)
	}
	return id
}

// typeText changes the element's text and delivers the input event.
func (h *harness) typeText(t *testing.T, id, text string) {
	t.Helper()
	if err := h.doc.Type(id, text); err != nil {
		t.Fatal(err)
	}
	h.w.HandleInput(context.Background(), id)
}

func TestScan_RegistersWatchableOnce(t *testing.T) {
	h := newHarness(t)
	if got := h.w.Stats().Registered; got != 3 {
		t.Fatalf("registered: got %d, want 3", got)
	}
	if h.w.Registered(h.id(t, "pw")) || h.w.Registered(h.id(t, "box")) {
		t.Error("non-watchable element registered")
	}

	for i := 0; i < 3; i++ {
		if err := h.w.Scan(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"q", "notes", "ed"} {
		if n := h.doc.Listeners(h.id(t, name)); n != 1 {
			t.Errorf("#%s listeners: got %d, want 1", name, n)
		}
	}
	if got := h.w.Stats().Registrations; got != 3 {
		t.Errorf("registrations: got %d, want 3", got)
	}
}

func TestScan_PicksUpInsertedElements(t *testing.T) {
	h := newHarness(t)
	ids, err := h.doc.Append("", `<section><textarea id="late"></textarea><span></span></section>`)
	if err != nil || len(ids) != 1 {
		t.Fatalf("append: ids=%v err=%v", ids, err)
	}
	if err := h.w.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	late := h.id(t, "late")
	if !h.w.Registered(late) {
		t.Fatal("inserted textarea not registered")
	}

	h.typeText(t, late, "where did it go")
	h.clock.Advance(time.Second)
	if got := h.rec.texts(); len(got) != 1 || got[0] != "where did it go" {
		t.Errorf("messages: got %v", got)
	}
}

func TestInput_QuestionDetectedAfterDelay(t *testing.T) {
	h := newHarness(t)
	q := h.id(t, "q")

	h.typeText(t, q, "What is the capital of France")
	h.clock.Advance(999 * time.Millisecond)
	if len(h.rec.texts()) != 0 {
		t.Fatal("message sent before the delay elapsed")
	}
	h.clock.Advance(time.Millisecond)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if len(h.rec.msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(h.rec.msgs))
	}
	m := h.rec.msgs[0]
	if m.Type != message.QuestionDetected || m.Text != "What is the capital of France" {
		t.Errorf("message: got %+v", m)
	}
	if m.ID != "q1" || m.PageID != "p1" || m.PageURL != "https://example.com/form" {
		t.Errorf("envelope: got id=%q page=%q url=%q", m.ID, m.PageID, m.PageURL)
	}
}

func TestInput_BurstSendsLastTextOnce(t *testing.T) {
	h := newHarness(t)
	q := h.id(t, "q")

	for _, s := range []string{"W", "Wh", "Who", "Who is", "Who is that"} {
		h.typeText(t, q, s)
		h.clock.Advance(200 * time.Millisecond)
	}
	h.clock.Advance(time.Second)

	if got := h.rec.texts(); len(got) != 1 || got[0] != "Who is that" {
		t.Errorf("messages: got %v, want [Who is that]", got)
	}
	if fires := h.w.Stats().Fires; fires != 1 {
		t.Errorf("fires: got %d, want 1", fires)
	}
}

func TestInput_NonQuestionSilent(t *testing.T) {
	h := newHarness(t)
	tests := []string{"Hello there", "what?", "   ", "", "whom do we trust"}
	for _, s := range tests {
		h.typeText(t, h.id(t, "notes"), s)
		h.clock.Advance(time.Second)
	}
	if got := h.rec.texts(); len(got) != 0 {
		t.Errorf("messages: got %v, want none", got)
	}
}

func TestInput_LeadingWhitespaceAndCase(t *testing.T) {
	h := newHarness(t)
	h.typeText(t, h.id(t, "ed"), "   HOW does this work")
	h.clock.Advance(time.Second)
	if got := h.rec.texts(); len(got) != 1 || got[0] != "   HOW does this work" {
		t.Errorf("messages: got %q", got)
	}
}

func TestInput_DisabledArmsNothing(t *testing.T) {
	h := newHarness(t)
	h.cache.Apply([]byte(`{"enabled":false}`))

	h.typeText(t, h.id(t, "q"), "Why not")
	if h.clock.Armed() != 0 {
		t.Fatalf("armed timers while disabled: %d", h.clock.Armed())
	}
	h.clock.Advance(time.Minute)
	if got := h.rec.texts(); len(got) != 0 {
		t.Errorf("messages while disabled: got %v", got)
	}
	if h.w.Stats().Ignored != 1 {
		t.Errorf("ignored: got %d, want 1", h.w.Stats().Ignored)
	}
}

func TestInput_DisabledQuestionType(t *testing.T) {
	h := newHarness(t)
	h.cache.Apply([]byte(`{"questionTypes":{"who":false,"what":true}}`))

	h.typeText(t, h.id(t, "q"), "who cares")
	h.clock.Advance(time.Second)
	h.typeText(t, h.id(t, "q"), "what now")
	h.clock.Advance(time.Second)

	if got := h.rec.texts(); len(got) != 1 || got[0] != "what now" {
		t.Errorf("messages: got %v, want [what now]", got)
	}
}

func TestInput_ClassifiesWithSettingsAtExpiry(t *testing.T) {
	h := newHarness(t)
	h.typeText(t, h.id(t, "q"), "when is lunch")
	h.cache.Apply([]byte(`{"questionTypes":{"when":false}}`))
	h.clock.Advance(time.Second)

	if got := h.rec.texts(); len(got) != 0 {
		t.Errorf("messages: got %v, want none", got)
	}
}

func TestInput_DelayChangeAppliesToNextInput(t *testing.T) {
	h := newHarness(t)
	q := h.id(t, "q")

	h.cache.Apply([]byte(`{"timerDelay":3000}`))
	h.typeText(t, q, "why wait")
	h.clock.Advance(2999 * time.Millisecond)
	if len(h.rec.texts()) != 0 {
		t.Fatal("fired before the new delay")
	}
	h.clock.Advance(time.Millisecond)
	if len(h.rec.texts()) != 1 {
		t.Fatalf("messages: got %d, want 1", len(h.rec.texts()))
	}
}

func TestInput_DelayClamped(t *testing.T) {
	h := newHarness(t)
	h.cache.Apply([]byte(`{"timerDelay":0}`))
	h.typeText(t, h.id(t, "q"), "who")
	h.clock.Advance(99 * time.Millisecond)
	if len(h.rec.texts()) != 0 {
		t.Fatal("fired before the minimum delay")
	}
	h.clock.Advance(time.Millisecond)
	if len(h.rec.texts()) != 1 {
		t.Fatalf("messages: got %d, want 1", len(h.rec.texts()))
	}
}

func TestInput_ElementsIndependent(t *testing.T) {
	h := newHarness(t)
	h.typeText(t, h.id(t, "q"), "who is first")
	h.clock.Advance(500 * time.Millisecond)
	h.typeText(t, h.id(t, "notes"), "what is second")
	h.clock.Advance(500 * time.Millisecond)

	if got := h.rec.texts(); len(got) != 1 || got[0] != "who is first" {
		t.Fatalf("after 1s: got %v", got)
	}
	h.clock.Advance(500 * time.Millisecond)
	if got := h.rec.texts(); len(got) != 2 || got[1] != "what is second" {
		t.Errorf("after 1.5s: got %v", got)
	}
}

func TestInput_DetachedBeforeExpiry(t *testing.T) {
	h := newHarness(t)
	notes := h.id(t, "notes")

	h.typeText(t, notes, "where am I")
	if err := h.doc.Remove(notes); err != nil {
		t.Fatal(err)
	}
	if err := h.w.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.w.Registered(notes) {
		t.Fatal("detached element still registered")
	}
	h.clock.Advance(time.Second)

	if got := h.rec.texts(); len(got) != 0 {
		t.Errorf("messages: got %v, want none", got)
	}
	if s := h.w.Stats(); s.Detached != 1 || s.Registered != 2 {
		t.Errorf("stats: got %+v", s)
	}
}

func TestInput_UnregisteredIgnored(t *testing.T) {
	h := newHarness(t)
	h.w.HandleInput(context.Background(), h.id(t, "box"))
	if h.clock.Armed() != 0 {
		t.Error("timer armed for an unregistered element")
	}
}

func TestRun_ServesDocumentEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	ids, err := h.doc.Append("", `<input id="dyn" type="text">`)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.w.Registered(ids[0]) })

	if err := h.doc.Type(ids[0], "how did this get here"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.clock.Armed() == 1 })
	h.clock.Advance(time.Second)

	if got := h.rec.texts(); len(got) != 1 || got[0] != "how did this get here" {
		t.Errorf("messages: got %v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}
