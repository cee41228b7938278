// Package dom models the parts of a page the input watcher cares about:
// element identity, the watch selector, and the discovery diff between a
// document snapshot and the set of already-instrumented elements.
package dom

import (
	"sort"
	"strings"
)

// Selector is the fixed watch selector.
const Selector = `input[type="text"], textarea, [contenteditable="true"]`

// Kind is the kind of watchable element.
type Kind int

const (
	KindNone Kind = iota
	KindTextInput
	KindTextArea
	KindEditable
)

func (k Kind) String() string {
	switch k {
	case KindTextInput:
		return "input"
	case KindTextArea:
		return "textarea"
	case KindEditable:
		return "contenteditable"
	}
	return "none"
}

// Element is an element of a document snapshot. ID is stable for the
// lifetime of the element in its document.
type Element struct {
	ID    string            `json:"id"`
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Attr returns the attribute value and whether it is present.
func (e Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// KindOf matches el against Selector. The type attribute compares
// case-insensitively as in HTML attribute selectors; contenteditable must
// be exactly "true".
func KindOf(el Element) Kind {
	switch strings.ToLower(el.Tag) {
	case "input":
		if t, ok := el.Attr("type"); ok && strings.EqualFold(t, "text") {
			return KindTextInput
		}
	case "textarea":
		return KindTextArea
	}
	if v, ok := el.Attr("contenteditable"); ok && v == "true" {
		return KindEditable
	}
	return KindNone
}

// Watchable reports whether el matches Selector.
func Watchable(el Element) bool {
	return KindOf(el) != KindNone
}

// Diff compares a snapshot with the registered set. added holds the
// watchable elements not yet registered, in snapshot order; detached holds
// the registered IDs absent from the snapshot, sorted. Diff is pure and
// idempotent: applying its result and diffing the same snapshot again
// yields nothing.
func Diff(snapshot []Element, registered map[string]bool) (added []Element, detached []string) {
	present := make(map[string]bool, len(snapshot))
	for _, el := range snapshot {
		if present[el.ID] {
			continue
		}
		present[el.ID] = true
		if !registered[el.ID] && Watchable(el) {
			added = append(added, el)
		}
	}
	for id := range registered {
		if !present[id] {
			detached = append(detached, id)
		}
	}
	sort.Strings(detached)
	return added, detached
}
