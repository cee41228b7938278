package sink

import (
	"context"

	"github.com/hazyhaar/morph/message"
)

// Func handles one message in-process.
type Func func(ctx context.Context, msg message.Message) error

// Callback hands messages to a Go function. This is the path used when the
// background service runs in the same binary as the watchers.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. A nil fn discards messages.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, msg message.Message) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, msg)
}

func (c *Callback) Close() error { return nil }
