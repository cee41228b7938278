// Package cdpdoc exposes a live Chrome page as the document an input
// watcher observes. Elements are keyed by CDP backend node ID, which stays
// stable for the lifetime of the node. Input listeners report back through
// a Runtime binding; structural DOM events collapse into a single pending
// "subtree changed" signal that the next snapshot clears.
package cdpdoc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/morph/internal/dom"
)

// Binding is the window function instrumented elements call on input.
const Binding = "__morph_input"

// instrumentJS attaches one input listener per element. The element
// property survives a second Instrument call on the same node.
const instrumentJS = `(id) => {
	if (this.__morphListenerAttached) return;
	this.__morphListenerAttached = true;
	this.addEventListener('input', () => window.` + Binding + `(id));
}`

const readTextJS = `() => this.value || this.textContent || ''`

// Document is a CDP-backed page.
type Document struct {
	page   *rod.Page
	logger *slog.Logger
	events chan dom.Event
	dirty  atomic.Bool
	cancel context.CancelFunc
}

// Open enables the DOM domain, installs the binding and starts the event
// listener. Close stops it; the page itself is left open.
func Open(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := (proto.DOMEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("cdpdoc: DOM.enable: %w", err)
	}
	if err := (proto.RuntimeAddBinding{Name: Binding}).Call(page); err != nil {
		return nil, fmt.Errorf("cdpdoc: Runtime.addBinding: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d := &Document{
		page:   page,
		logger: logger,
		events: make(chan dom.Event, 256),
		cancel: cancel,
	}
	go d.listen(ctx)
	return d, nil
}

// Close stops the event listener.
func (d *Document) Close() { d.cancel() }

// Events implements the watcher's document contract.
func (d *Document) Events() <-chan dom.Event { return d.events }

// Snapshot fetches the whole tree with DOM.getDocument(depth=-1). Nodes
// only report childNodeInserted once their parent has been requested, so
// this call also keeps structural events flowing.
func (d *Document) Snapshot(ctx context.Context) ([]dom.Element, error) {
	d.dirty.Store(false)
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth}.Call(d.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: DOM.getDocument: %w", err)
	}
	return Flatten(doc.Root), nil
}

// Instrument attaches the input listener to the element.
func (d *Document) Instrument(ctx context.Context, id string) error {
	el, err := d.resolve(ctx, id)
	if err != nil {
		return err
	}
	if _, err := el.Eval(instrumentJS, id); err != nil {
		return fmt.Errorf("cdpdoc: instrument %s: %w", id, err)
	}
	return nil
}

// ReadText returns value, falling back to textContent.
func (d *Document) ReadText(ctx context.Context, id string) (string, error) {
	el, err := d.resolve(ctx, id)
	if err != nil {
		return "", err
	}
	res, err := el.Eval(readTextJS)
	if err != nil {
		return "", fmt.Errorf("cdpdoc: read %s: %w", id, err)
	}
	return res.Value.Str(), nil
}

func (d *Document) resolve(ctx context.Context, id string) (*rod.Element, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: bad element id %q", id)
	}
	page := d.page.Context(ctx)
	obj, err := proto.DOMResolveNode{BackendNodeID: proto.DOMBackendNodeID(n)}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: resolve %s: %w", id, err)
	}
	el, err := page.ElementFromObject(obj.Object)
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: element %s: %w", id, err)
	}
	return el, nil
}

func (d *Document) listen(ctx context.Context) {
	wait := d.page.Context(ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != Binding {
				return
			}
			d.send(ctx, dom.Event{Kind: dom.EventInput, ID: e.Payload})
		},
		func(*proto.DOMChildNodeInserted) { d.subtreeChanged(ctx) },
		func(*proto.DOMChildNodeRemoved) { d.subtreeChanged(ctx) },
		func(*proto.DOMDocumentUpdated) { d.subtreeChanged(ctx) },
	)
	wait()
	d.logger.Debug("cdpdoc: listener stopped")
}

// subtreeChanged sends at most one pending structural event.
func (d *Document) subtreeChanged(ctx context.Context) {
	if d.dirty.CompareAndSwap(false, true) {
		d.send(ctx, dom.Event{Kind: dom.EventSubtree})
	}
}

func (d *Document) send(ctx context.Context, ev dom.Event) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

// Flatten lists the element nodes of a DOM.getDocument tree in document
// order, keyed by backend node ID. Shadow roots and frame documents are
// not descended into, matching what querySelectorAll sees.
func Flatten(root *proto.DOMNode) []dom.Element {
	var out []dom.Element
	var walk func(*proto.DOMNode)
	walk = func(n *proto.DOMNode) {
		if n == nil {
			return
		}
		if n.NodeType == 1 {
			el := dom.Element{
				ID:  strconv.Itoa(int(n.BackendNodeID)),
				Tag: strings.ToLower(n.LocalName),
			}
			if el.Tag == "" {
				el.Tag = strings.ToLower(n.NodeName)
			}
			if len(n.Attributes) > 1 {
				el.Attrs = make(map[string]string, len(n.Attributes)/2)
				for i := 0; i+1 < len(n.Attributes); i += 2 {
					el.Attrs[strings.ToLower(n.Attributes[i])] = n.Attributes[i+1]
				}
			}
			out = append(out, el)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}
