// Package sink defines delivery backends for runtime messages leaving an
// input watcher.
package sink

import (
	"context"

	"github.com/hazyhaar/morph/message"
)

// Sink delivers messages to one backend (stdout, a remote background over
// HTTP, an in-process background).
type Sink interface {
	Send(ctx context.Context, msg message.Message) error
	Close() error
}
