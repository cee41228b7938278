package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/morph/message"
)

// Router fans out to every sink. A failing sink does not stop delivery to
// the others; errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Send(ctx context.Context, msg message.Message) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, msg); err != nil {
			r.logger.Warn("sink: send failed", "type", msg.Type, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
