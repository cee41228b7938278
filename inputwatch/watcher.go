// Package inputwatch watches the text-entry fields of a page and reports a
// QUESTION_DETECTED message whenever the text in one of them settles on
// something that starts with an enabled question word.
//
// A Watcher owns one page. It discovers watchable elements (initially and
// on every structural change), attaches one input listener per element,
// debounces input per element, and on expiry reads the text, classifies it
// against the current settings and hands a message to the Notifier.
package inputwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/morph/detect"
	"github.com/hazyhaar/morph/idgen"
	"github.com/hazyhaar/morph/internal/debounce"
	"github.com/hazyhaar/morph/internal/dom"
	"github.com/hazyhaar/morph/message"
)

// Publisher accepts messages for fire-and-forget delivery. *Notifier
// satisfies it.
type Publisher interface {
	Notify(msg message.Message)
}

// WatcherConfig for creating a Watcher.
type WatcherConfig struct {
	Document Document
	Settings SettingsSource
	Notify   Publisher

	PageID  string
	PageURL string

	// Clock drives the debounce timers. Default: the wall clock.
	Clock debounce.Clock
	// IDs names each detection. Default: idgen.Detection.
	IDs    idgen.Generator
	Logger *slog.Logger
}

// Watcher is the input watcher for one page.
type Watcher struct {
	doc      Document
	settings SettingsSource
	notify   Publisher
	sched    *debounce.Scheduler
	ids      idgen.Generator
	logger   *slog.Logger
	pageID   string
	pageURL  string

	mu         sync.Mutex
	registered map[string]dom.Kind

	scans         atomic.Int64
	registrations atomic.Int64
	detached      atomic.Int64
	inputs        atomic.Int64
	ignored       atomic.Int64
	fires         atomic.Int64
	detections    atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Registered    int   `json:"registered"`
	Scans         int64 `json:"scans"`
	Registrations int64 `json:"registrations"`
	Detached      int64 `json:"detached"`
	Inputs        int64 `json:"inputs"`
	Ignored       int64 `json:"ignored"`
	Fires         int64 `json:"fires"`
	Detections    int64 `json:"detections"`
}

// NewWatcher creates a Watcher. Call Run, or drive it with Scan and
// HandleInput.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.Detection
	}
	return &Watcher{
		doc:        cfg.Document,
		settings:   cfg.Settings,
		notify:     cfg.Notify,
		sched:      debounce.New(cfg.Clock),
		ids:        cfg.IDs,
		logger:     cfg.Logger.With("page_id", cfg.PageID),
		pageID:     cfg.PageID,
		pageURL:    cfg.PageURL,
		registered: make(map[string]dom.Kind),
	}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	n := len(w.registered)
	w.mu.Unlock()
	return Stats{
		Registered:    n,
		Scans:         w.scans.Load(),
		Registrations: w.registrations.Load(),
		Detached:      w.detached.Load(),
		Inputs:        w.inputs.Load(),
		Ignored:       w.ignored.Load(),
		Fires:         w.fires.Load(),
		Detections:    w.detections.Load(),
	}
}

// Registered reports whether id is currently watched.
func (w *Watcher) Registered(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.registered[id]
	return ok
}

// Scan runs one discovery pass: every watchable element not yet registered
// is instrumented and registered, every registered element that left the
// page is forgotten. Scanning an unchanged page does nothing.
func (w *Watcher) Scan(ctx context.Context) error {
	snap, err := w.doc.Snapshot(ctx)
	if err != nil {
		w.logger.Warn("inputwatch: snapshot failed", "error", err)
		return err
	}
	w.scans.Add(1)

	w.mu.Lock()
	current := make(map[string]bool, len(w.registered))
	for id := range w.registered {
		current[id] = true
	}
	added, gone := dom.Diff(snap, current)
	for _, id := range gone {
		delete(w.registered, id)
	}
	w.mu.Unlock()

	if len(gone) > 0 {
		w.detached.Add(int64(len(gone)))
		w.logger.Debug("inputwatch: elements detached", "count", len(gone))
	}

	for _, el := range added {
		if err := w.doc.Instrument(ctx, el.ID); err != nil {
			// Not registered, so the next scan tries again.
			w.logger.Debug("inputwatch: instrument failed", "element_id", el.ID, "error", err)
			continue
		}
		w.mu.Lock()
		w.registered[el.ID] = dom.KindOf(el)
		w.mu.Unlock()
		w.registrations.Add(1)
		w.logger.Debug("inputwatch: element registered", "element_id", el.ID, "kind", dom.KindOf(el))
	}
	return nil
}

// HandleInput records an input event on element id. While enabled, it
// (re)arms the element's debounce timer for the current delay; any timer
// already pending for the element is cancelled.
func (w *Watcher) HandleInput(ctx context.Context, id string) {
	w.inputs.Add(1)
	if !w.Registered(id) {
		w.ignored.Add(1)
		return
	}
	s := w.settings.Snapshot()
	if !s.Enabled {
		w.ignored.Add(1)
		return
	}
	w.sched.Schedule(id, s.Delay(), func() { w.fire(ctx, id) })
}

// fire runs when an element has been quiet for the delay. It reads the
// text at that moment and classifies it with the settings current at that
// moment.
func (w *Watcher) fire(ctx context.Context, id string) {
	w.fires.Add(1)
	text := w.readText(ctx, id)
	s := w.settings.Snapshot()
	if !detect.Classify(text, s.QuestionTypes) {
		return
	}

	msg := message.Question(text)
	msg.ID = w.ids()
	msg.PageID = w.pageID
	msg.PageURL = w.pageURL
	w.detections.Add(1)
	w.logger.Info("inputwatch: question detected",
		"element_id", id, "detection_id", msg.ID, "word", detect.FirstToken(text))
	w.notify.Notify(msg)
}

// readText returns "" for elements no longer registered or unreadable.
func (w *Watcher) readText(ctx context.Context, id string) string {
	if !w.Registered(id) {
		return ""
	}
	text, err := w.doc.ReadText(ctx, id)
	if err != nil {
		w.logger.Debug("inputwatch: read text failed", "element_id", id, "error", err)
		return ""
	}
	return text
}

// Run scans the page, then serves document events until ctx is done or
// the event stream closes. Pending timers are cancelled on return.
func (w *Watcher) Run(ctx context.Context) {
	defer w.sched.Stop()

	_ = w.Scan(ctx)
	events := w.doc.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case dom.EventInput:
				w.HandleInput(ctx, ev.ID)
			case dom.EventSubtree:
				_ = w.Scan(ctx)
			}
		}
	}
}
