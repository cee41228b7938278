// Package settings defines the process-wide morph configuration object and
// the reactive cache that keeps a local copy of it in sync with storage.
//
// The persisted form is a JSON object stored under StorageKey. Every
// execution context (background service, each page watcher) holds its own
// Cache and merges change notifications into it; the store is the only
// authority and writes are last-write-wins.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// StorageKey is the storage key holding the persisted settings object.
const StorageKey = "morphSettings"

// QuestionWords is the fixed set of interrogative words, in display order.
var QuestionWords = []string{"who", "what", "where", "when", "why", "how"}

// Debounce delay bounds in milliseconds.
const (
	MinTimerDelay     = 100
	MaxTimerDelay     = 10000
	DefaultTimerDelay = 1000
)

// Settings is the full configuration object.
type Settings struct {
	Enabled       bool            `json:"enabled"`
	QuestionTypes map[string]bool `json:"questionTypes"`
	TimerDelay    int             `json:"timerDelay"`
	OpenAIAPIKey  string          `json:"openaiApiKey"`
	AutoReplace   bool            `json:"autoReplace"`
	ShowPopup     bool            `json:"showPopup"`
}

// Defaults returns the hard-coded settings used before (or instead of) a
// persisted object.
func Defaults() Settings {
	qt := make(map[string]bool, len(QuestionWords))
	for _, w := range QuestionWords {
		qt[w] = true
	}
	return Settings{
		Enabled:       true,
		QuestionTypes: qt,
		TimerDelay:    DefaultTimerDelay,
		ShowPopup:     true,
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.QuestionTypes = maps.Clone(s.QuestionTypes)
	return s
}

// Delay is the debounce quiet period. TimerDelay is stored unvalidated;
// the bounds are applied here, at the point of use.
func (s Settings) Delay() time.Duration {
	ms := s.TimerDelay
	if ms < MinTimerDelay {
		ms = MinTimerDelay
	}
	if ms > MaxTimerDelay {
		ms = MaxTimerDelay
	}
	return time.Duration(ms) * time.Millisecond
}

// TypeEnabled reports whether detection is on for the given word.
func (s Settings) TypeEnabled(word string) bool {
	return s.QuestionTypes[word]
}

// Merge overlays the JSON object raw onto base, field by field. Fields
// present in raw win; questionTypes is replaced as a whole, not merged per
// key. A field that does not decode into its Go type is skipped and base's
// value kept; the returned error lists the skipped fields. If raw is not a
// JSON object base is returned unchanged with an error.
func Merge(base Settings, raw []byte) (Settings, error) {
	out := base.Clone()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out, fmt.Errorf("settings: decode object: %w", err)
	}
	if fields == nil {
		return out, nil
	}

	var errs []error
	decode := func(name string, dst any) {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			return
		}
		if err := json.Unmarshal(v, dst); err != nil {
			errs = append(errs, fmt.Errorf("settings: field %s: %w", name, err))
		}
	}

	enabled := out.Enabled
	decode("enabled", &enabled)
	out.Enabled = enabled

	if v, ok := fields["questionTypes"]; ok && string(v) != "null" {
		var qt map[string]bool
		if err := json.Unmarshal(v, &qt); err != nil {
			errs = append(errs, fmt.Errorf("settings: field questionTypes: %w", err))
		} else {
			out.QuestionTypes = qt
		}
	}

	delay := out.TimerDelay
	decode("timerDelay", &delay)
	out.TimerDelay = delay

	key := out.OpenAIAPIKey
	decode("openaiApiKey", &key)
	out.OpenAIAPIKey = key

	autoReplace := out.AutoReplace
	decode("autoReplace", &autoReplace)
	out.AutoReplace = autoReplace

	showPopup := out.ShowPopup
	decode("showPopup", &showPopup)
	out.ShowPopup = showPopup

	return out, errors.Join(errs...)
}

// Parse decodes a persisted object on top of Defaults.
func Parse(raw []byte) (Settings, error) {
	return Merge(Defaults(), raw)
}
