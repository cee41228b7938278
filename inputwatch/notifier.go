package inputwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/morph/internal/sink"
	"github.com/hazyhaar/morph/message"
)

// NotifierConfig tunes a Notifier.
type NotifierConfig struct {
	// QueueSize bounds the messages waiting for delivery. Default: 64.
	QueueSize int
	// Timeout bounds one delivery. Default: 10s.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *NotifierConfig) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Notifier delivers messages to a sink without blocking the caller. Notify
// enqueues and returns; a single worker drains the queue. Delivery errors
// are logged and dropped, as is any message arriving on a full queue.
type Notifier struct {
	sink   sink.Sink
	cfg    NotifierConfig
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan message.Message
	done   chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NotifierStats are point-in-time counters.
type NotifierStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// NewNotifier starts a Notifier delivering to s.
func NewNotifier(s sink.Sink, cfg NotifierConfig) *Notifier {
	cfg.defaults()
	n := &Notifier{
		sink:   s,
		cfg:    cfg,
		logger: cfg.Logger,
		queue:  make(chan message.Message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go n.loop()
	return n
}

// Notify enqueues msg for delivery.
func (n *Notifier) Notify(msg message.Message) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.dropped.Add(1)
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.dropped.Add(1)
		n.logger.Warn("inputwatch: notify queue full, message dropped", "type", msg.Type, "id", msg.ID)
	}
}

// Stats returns the current counters.
func (n *Notifier) Stats() NotifierStats {
	return NotifierStats{
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
		Queued:    len(n.queue),
	}
}

// Close stops accepting messages, drains the queue and closes the sink.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	<-n.done
	return n.sink.Close()
}

func (n *Notifier) loop() {
	defer close(n.done)
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
		err := n.sink.Send(ctx, msg)
		cancel()
		if err != nil {
			n.failed.Add(1)
			n.logger.Warn("inputwatch: delivery failed", "type", msg.Type, "id", msg.ID, "error", err)
			continue
		}
		n.delivered.Add(1)
	}
}
