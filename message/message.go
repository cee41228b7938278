// Package message defines the runtime messages exchanged between input
// watchers and the background service. These are the public contract:
// sinks serialise them, the HTTP and WebSocket surfaces speak them.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type names a message.
type Type string

const (
	QuestionDetected Type = "QUESTION_DETECTED" // watcher → background
	GetSettings      Type = "GET_SETTINGS"
	UpdateSettings   Type = "UPDATE_SETTINGS"
	TestAPIKey       Type = "TEST_API_KEY"
	Toggle           Type = "TOGGLE"           // icon click equivalent
	SettingsUpdated  Type = "SETTINGS_UPDATED" // background → watchers
)

// Message is one runtime message. Only the fields relevant to Type are set.
type Message struct {
	Type     Type            `json:"type"`
	Text     string          `json:"text,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
	APIKey   string          `json:"apiKey,omitempty"`

	// Envelope fields filled by the watcher host, absent from the
	// messages a client sends.
	ID        string `json:"id,omitempty"`
	PageID    string `json:"pageId,omitempty"`
	PageURL   string `json:"pageUrl,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // epoch milliseconds
}

// Question builds a QUESTION_DETECTED message carrying the full text.
func Question(text string) Message {
	return Message{Type: QuestionDetected, Text: text, Timestamp: time.Now().UnixMilli()}
}

// Known reports whether t is one of the defined message types.
func (t Type) Known() bool {
	switch t {
	case QuestionDetected, GetSettings, UpdateSettings, TestAPIKey, Toggle, SettingsUpdated:
		return true
	}
	return false
}

// Decode parses a message and checks that it carries a type.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("message: decode: %w", err)
	}
	if m.Type == "" {
		return Message{}, errors.New("message: missing type")
	}
	return m, nil
}
