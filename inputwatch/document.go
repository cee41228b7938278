package inputwatch

import (
	"context"

	"github.com/hazyhaar/morph/internal/dom"
	"github.com/hazyhaar/morph/settings"
)

// Document is the page a Watcher observes. The in-memory dom.Document and
// the CDP-backed page both satisfy it.
//
// The Watcher calls Instrument once per registered element. ReadText may
// fail for elements that left the page.
type Document interface {
	Snapshot(ctx context.Context) ([]dom.Element, error)
	Instrument(ctx context.Context, id string) error
	ReadText(ctx context.Context, id string) (string, error)
	Events() <-chan dom.Event
}

// SettingsSource yields the current settings. *settings.Cache satisfies it.
type SettingsSource interface {
	Snapshot() settings.Settings
}
