package dom

import (
	"context"
	"errors"
	"testing"
)

const page = `<!doctype html><html><body>
<input id="name" type="text">
<input id="pw" type="password">
<input id="upper" type="TEXT" value="hi">
<textarea id="notes">draft</textarea>
<div id="ed" contenteditable="true">edit me</div>
<div id="off" contenteditable="false"></div>
<div id="plain"></div>
</body></html>`

func TestKindOf(t *testing.T) {
	tests := []struct {
		el   Element
		want Kind
	}{
		{Element{Tag: "input", Attrs: map[string]string{"type": "text"}}, KindTextInput},
		{Element{Tag: "INPUT", Attrs: map[string]string{"type": "Text"}}, KindTextInput},
		{Element{Tag: "input"}, KindNone},
		{Element{Tag: "input", Attrs: map[string]string{"type": "search"}}, KindNone},
		{Element{Tag: "textarea"}, KindTextArea},
		{Element{Tag: "div", Attrs: map[string]string{"contenteditable": "true"}}, KindEditable},
		{Element{Tag: "div", Attrs: map[string]string{"contenteditable": ""}}, KindNone},
		{Element{Tag: "div", Attrs: map[string]string{"contenteditable": "TRUE"}}, KindNone},
		{Element{Tag: "span"}, KindNone},
	}
	for _, tt := range tests {
		if got := KindOf(tt.el); got != tt.want {
			t.Errorf("KindOf(%s %v): got %v, want %v", tt.el.Tag, tt.el.Attrs, got, tt.want)
		}
	}
}

func TestDiff(t *testing.T) {
	snap := []Element{
		{ID: "a", Tag: "textarea"},
		{ID: "b", Tag: "div"},
		{ID: "c", Tag: "input", Attrs: map[string]string{"type": "text"}},
	}

	added, detached := Diff(snap, map[string]bool{"c": true, "gone": true})
	if len(added) != 1 || added[0].ID != "a" {
		t.Errorf("added: got %v, want [a]", added)
	}
	if len(detached) != 1 || detached[0] != "gone" {
		t.Errorf("detached: got %v, want [gone]", detached)
	}

	reg := map[string]bool{"a": true, "c": true}
	added, detached = Diff(snap, reg)
	if len(added) != 0 || len(detached) != 0 {
		t.Errorf("second diff: got added=%v detached=%v, want nothing", added, detached)
	}
}

func TestDiff_DuplicateIDsOnce(t *testing.T) {
	snap := []Element{{ID: "a", Tag: "textarea"}, {ID: "a", Tag: "textarea"}}
	added, _ := Diff(snap, nil)
	if len(added) != 1 {
		t.Fatalf("added: got %d, want 1", len(added))
	}
}

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := ParseString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func mustLookup(t *testing.T, d *Document, htmlID string) string {
	t.Helper()
	id, ok := d.Lookup("id", htmlID)
	if !ok {
		t.Fatalf("element #%s not found", htmlID)
	}
	return id
}

func TestDocument_WatchableElements(t *testing.T) {
	d := mustParse(t, page)
	var got []string
	for _, el := range d.Elements() {
		if Watchable(el) {
			v, _ := el.Attr("id")
			got = append(got, v)
		}
	}
	want := []string{"name", "upper", "notes", "ed"}
	if len(got) != len(want) {
		t.Fatalf("watchable: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("watchable[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDocument_IDsStable(t *testing.T) {
	d := mustParse(t, page)
	first := mustLookup(t, d, "notes")
	if _, err := d.Append("", `<p>more</p>`); err != nil {
		t.Fatal(err)
	}
	if again := mustLookup(t, d, "notes"); again != first {
		t.Errorf("ID changed across snapshots: %q -> %q", first, again)
	}
}

func TestDocument_ReadText(t *testing.T) {
	d := mustParse(t, page)
	ctx := context.Background()

	tests := []struct {
		htmlID string
		want   string
	}{
		{"name", ""},
		{"upper", "hi"},
		{"notes", "draft"},
		{"ed", "edit me"},
	}
	for _, tt := range tests {
		got, err := d.ReadText(ctx, mustLookup(t, d, tt.htmlID))
		if err != nil {
			t.Fatalf("ReadText(#%s): %v", tt.htmlID, err)
		}
		if got != tt.want {
			t.Errorf("ReadText(#%s): got %q, want %q", tt.htmlID, got, tt.want)
		}
	}
}

func TestDocument_TypeEmitsPerListener(t *testing.T) {
	d := mustParse(t, page)
	ctx := context.Background()
	id := mustLookup(t, d, "ed")

	if err := d.Type(id, "silent"); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-d.Events():
		t.Fatalf("event without listener: %+v", ev)
	default:
	}

	if err := d.Instrument(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := d.Type(id, "Who is there"); err != nil {
		t.Fatal(err)
	}
	ev := <-d.Events()
	if ev.Kind != EventInput || ev.ID != id {
		t.Errorf("event: got %+v", ev)
	}
	if got, _ := d.ReadText(ctx, id); got != "Who is there" {
		t.Errorf("text after Type: got %q", got)
	}
	if d.Listeners(id) != 1 {
		t.Errorf("listeners: got %d, want 1", d.Listeners(id))
	}
}

func TestDocument_AppendAndRemove(t *testing.T) {
	d := mustParse(t, page)
	ctx := context.Background()

	ids, err := d.Append("", `<textarea id="late"></textarea>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("inserted: got %v", ids)
	}
	if ev := <-d.Events(); ev.Kind != EventSubtree {
		t.Errorf("append event: got %+v", ev)
	}

	if err := d.Remove(ids[0]); err != nil {
		t.Fatal(err)
	}
	if ev := <-d.Events(); ev.Kind != EventSubtree {
		t.Errorf("remove event: got %+v", ev)
	}
	if _, err := d.ReadText(ctx, ids[0]); !errors.Is(err, ErrDetached) {
		t.Errorf("ReadText after remove: got %v, want ErrDetached", err)
	}
	if err := d.Instrument(ctx, ids[0]); !errors.Is(err, ErrDetached) {
		t.Errorf("Instrument after remove: got %v, want ErrDetached", err)
	}
	if _, ok := d.Lookup("id", "late"); ok {
		t.Error("removed element still listed")
	}
}

func TestDocument_UnknownID(t *testing.T) {
	d := mustParse(t, page)
	if _, err := d.ReadText(context.Background(), "n999"); !errors.Is(err, ErrUnknown) {
		t.Errorf("got %v, want ErrUnknown", err)
	}
}
