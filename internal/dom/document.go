package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrDetached is returned for an element no longer in the document.
var ErrDetached = errors.New("dom: element detached")

// ErrUnknown is returned for an ID the document never assigned.
var ErrUnknown = errors.New("dom: unknown element")

// EventKind distinguishes document events.
type EventKind int

const (
	// EventInput is an input event on an instrumented element.
	EventInput EventKind = iota
	// EventSubtree means elements were inserted or removed somewhere.
	EventSubtree
)

// Event is emitted on Document.Events.
type Event struct {
	Kind EventKind
	ID   string
}

// Document is an in-memory page backed by golang.org/x/net/html. It plays
// the part of the browser for static scans and tests: elements get a
// stable ID on first sight, listeners are counted per element, and input
// and structural changes are reported on Events.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	ids       map[*html.Node]string
	nodes     map[string]*html.Node
	values    map[string]string
	listeners map[string]int
	next      int
	events    chan Event
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{
		root:      root,
		ids:       make(map[*html.Node]string),
		nodes:     make(map[string]*html.Node),
		values:    make(map[string]string),
		listeners: make(map[string]int),
		events:    make(chan Event, 1024),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Events returns the event stream. Events are dropped when nobody drains
// the buffer.
func (d *Document) Events() <-chan Event { return d.events }

// Elements returns every element currently attached, in document order.
func (d *Document) Elements() []Element {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			out = append(out, d.elementLocked(n))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// Snapshot is Elements for the watcher's document contract.
func (d *Document) Snapshot(_ context.Context) ([]Element, error) {
	return d.Elements(), nil
}

// Instrument attaches one input listener to the element.
func (d *Document) Instrument(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookupLocked(id)
	if err != nil {
		return err
	}
	if !d.attachedLocked(n) {
		return ErrDetached
	}
	d.listeners[id]++
	return nil
}

// Listeners returns how many input listeners the element carries.
func (d *Document) Listeners(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listeners[id]
}

// ReadText returns the element's current value, falling back to its text
// content, the way a content script reads `el.value || el.textContent`.
func (d *Document) ReadText(_ context.Context, id string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookupLocked(id)
	if err != nil {
		return "", err
	}
	if !d.attachedLocked(n) {
		return "", ErrDetached
	}
	if v := d.valueLocked(id, n); v != "" {
		return v, nil
	}
	return textContent(n), nil
}

// Lookup finds the first attached element whose attribute name equals
// value and returns its ID.
func (d *Document) Lookup(name, value string) (string, bool) {
	for _, el := range d.Elements() {
		if v, ok := el.Attr(name); ok && v == value {
			return el.ID, true
		}
	}
	return "", false
}

// Append parses fragment in the context of the parent element and appends
// the result. An empty parentID targets <body>. It returns the IDs of the
// inserted top-level elements.
func (d *Document) Append(parentID, fragment string) ([]string, error) {
	d.mu.Lock()
	var parent *html.Node
	if parentID == "" {
		parent = findAtom(d.root, atom.Body)
		if parent == nil {
			d.mu.Unlock()
			return nil, errors.New("dom: document has no body")
		}
	} else {
		var err error
		if parent, err = d.lookupLocked(parentID); err != nil {
			d.mu.Unlock()
			return nil, err
		}
	}

	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	var ids []string
	for _, n := range nodes {
		parent.AppendChild(n)
		if n.Type == html.ElementNode {
			ids = append(ids, d.idLocked(n))
		}
	}
	d.mu.Unlock()

	d.emit(Event{Kind: EventSubtree})
	return ids, nil
}

// Remove detaches the element and its subtree.
func (d *Document) Remove(id string) error {
	d.mu.Lock()
	n, err := d.lookupLocked(id)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if n.Parent == nil || !d.attachedLocked(n) {
		d.mu.Unlock()
		return ErrDetached
	}
	n.Parent.RemoveChild(n)
	d.mu.Unlock()

	d.emit(Event{Kind: EventSubtree})
	return nil
}

// Type replaces the element's value (inputs, textareas) or text content
// (editable regions) and fires one input event per attached listener.
func (d *Document) Type(id, text string) error {
	d.mu.Lock()
	n, err := d.lookupLocked(id)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if !d.attachedLocked(n) {
		d.mu.Unlock()
		return ErrDetached
	}
	switch n.DataAtom {
	case atom.Input, atom.Textarea:
		d.values[id] = text
	default:
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	listeners := d.listeners[id]
	d.mu.Unlock()

	for range listeners {
		d.emit(Event{Kind: EventInput, ID: id})
	}
	return nil
}

func (d *Document) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
	}
}

func (d *Document) idLocked(n *html.Node) string {
	if id, ok := d.ids[n]; ok {
		return id
	}
	d.next++
	id := "n" + strconv.Itoa(d.next)
	d.ids[n] = id
	d.nodes[id] = n
	return id
}

func (d *Document) elementLocked(n *html.Node) Element {
	el := Element{ID: d.idLocked(n), Tag: strings.ToLower(n.Data)}
	if len(n.Attr) > 0 {
		el.Attrs = make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			el.Attrs[strings.ToLower(a.Key)] = a.Val
		}
	}
	return el
}

func (d *Document) lookupLocked(id string) (*html.Node, error) {
	n, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return n, nil
}

func (d *Document) attachedLocked(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

func (d *Document) valueLocked(id string, n *html.Node) string {
	if v, ok := d.values[id]; ok {
		return v
	}
	if n.DataAtom == atom.Input {
		for _, a := range n.Attr {
			if a.Key == "value" {
				return a.Val
			}
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func findAtom(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findAtom(c, a); f != nil {
			return f
		}
	}
	return nil
}
