package fetcher

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Markers of a page whose body is mounted by script.
var shellMarkers = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	`<noscript>you need to enable javascript`,
	`<noscript>enable javascript`,
}

// NeedsBrowser reports whether body looks like a script-rendered shell: a
// known mount-point marker, or almost no visible text next to its markup.
// Pages that already carry a form field are never shells.
func NeedsBrowser(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range shellMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return true
		}
	}

	text, fields := visibleText(body)
	if fields > 0 {
		return false
	}
	if text < 200 {
		return true
	}
	return float64(text)/float64(len(body)) < 0.10
}

// visibleText counts non-space text bytes outside script and style, and the
// number of text-entry tags.
func visibleText(body []byte) (text, fields int) {
	z := html.NewTokenizer(bytes.NewReader(body))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return text, fields
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "input", "textarea":
				fields++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if s := string(name); (s == "script" || s == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				text += len(strings.Join(strings.Fields(string(z.Text())), ""))
			}
		}
	}
}
