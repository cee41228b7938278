// Package idgen produces the identifiers morph attaches to detections,
// watcher sessions and WebSocket subscribers.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings. They sort by
// creation time, which keeps detection logs ordered.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID from gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator ("prefix1", "prefix2", ...)
// for tests and replay. It is not safe for concurrent use.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

var (
	// Detection identifies one QUESTION_DETECTED message.
	Detection = Prefixed("q_", UUIDv7())
	// Session identifies one watcher attached to one page.
	Session = Prefixed("ws_", UUIDv7())
	// Subscriber identifies one event-stream client.
	Subscriber = Prefixed("sub_", UUIDv7())
)

// Parse validates the UUID part of an optionally prefixed ID and returns
// the ID unchanged.
func Parse(id string) (string, error) {
	s := id
	if len(s) > 36 {
		s = s[len(s)-36:]
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", id, err)
	}
	return id, nil
}
