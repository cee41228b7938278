package inputwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/morph/internal/sink"
	"github.com/hazyhaar/morph/message"
)

// Sink is the delivery interface for watcher messages.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a sink POSTing to a remote background.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn func(ctx context.Context, msg message.Message) error) Sink {
	return sink.NewCallback(fn)
}

// BuildSinks turns sink configuration into one fan-out sink. local handles
// the "background" type; it is required when that type is configured.
func BuildSinks(cfgs []SinkConfig, local func(ctx context.Context, msg message.Message) error, out io.Writer, logger *slog.Logger) (Sink, error) {
	var sinks []sink.Sink
	for _, c := range cfgs {
		switch c.Type {
		case "stdout":
			sinks = append(sinks, sink.NewStdout(out))
		case "webhook":
			sinks = append(sinks, sink.NewWebhook(c.URL, sink.WithWebhookLogger(logger)))
		case "background":
			if local == nil {
				return nil, fmt.Errorf("inputwatch: background sink without an in-process background")
			}
			sinks = append(sinks, sink.NewCallback(local))
		default:
			return nil, fmt.Errorf("inputwatch: unknown sink type %q", c.Type)
		}
	}
	return sink.NewRouter(logger, sinks...), nil
}
