// Package watch polls a SQLite version token and runs an action for each
// settled change. It is the change-notification half of morph's storage:
// writes from any connection or process become visible to every watcher.
//
//	p := watch.New(db, watch.Options{Detector: watch.MaxColumn("kv", "version")})
//	go p.Run(ctx, func(ctx context.Context, from, to int64) error { ... })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Two different values mean something
// changed in between.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Action handles the change from version from (exclusive) to version to
// (inclusive). Returning an error keeps from unchanged so the same range
// is retried on the next poll.
type Action func(ctx context.Context, from, to int64) error

// Options tunes the poller.
type Options struct {
	// Interval between detector calls. Default: 200ms.
	Interval time.Duration
	// Debounce is the quiet period after a detected change before the
	// action runs. 0 runs it on the poll that saw the change.
	Debounce time.Duration
	// Detector defaults to PragmaDataVersion.
	Detector Detector
	// Start seeds the last handled version instead of reading the
	// detector on Run. Use 0 to replay everything.
	Start *int64
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 200 * time.Millisecond
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Poller runs an Action whenever the detected version moves.
type Poller struct {
	db   *sql.DB
	opts Options

	version atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond

	polls   atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	actions atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Polls   int64 `json:"polls"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Actions int64 `json:"actions"`
}

// New creates a Poller. Call Run to start it.
func New(db *sql.DB, opts Options) *Poller {
	opts.defaults()
	p := &Poller{db: db, opts: opts}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Stats returns the current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:   p.polls.Load(),
		Changes: p.changes.Load(),
		Errors:  p.errors.Load(),
		Actions: p.actions.Load(),
	}
}

// Version returns the last version handled successfully.
func (p *Poller) Version() int64 { return p.version.Load() }

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, action Action) {
	log := p.opts.Logger

	if p.opts.Start != nil {
		p.setVersion(*p.opts.Start)
	} else if v, err := p.opts.Detector(ctx, p.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		p.setVersion(v)
	}

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
			return

		case <-ticker.C:
			p.polls.Add(1)
			cur, err := p.opts.Detector(ctx, p.db)
			if err != nil {
				p.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == p.version.Load() || cur == pending {
				continue
			}
			p.changes.Add(1)
			pending = cur
			if p.opts.Debounce <= 0 {
				p.fire(ctx, action, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(p.opts.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			if pending >= 0 {
				p.fire(ctx, action, pending)
				pending = -1
			}
		}
	}
}

// WaitForVersion blocks until a version >= target has been handled or ctx
// is done.
func (p *Poller) WaitForVersion(ctx context.Context, target int64) error {
	if p.version.Load() >= target {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.version.Load() < target {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	return nil
}

// fire runs action; on failure the version stays put and the next poll
// sees the same change again.
func (p *Poller) fire(ctx context.Context, action Action, to int64) {
	from := p.version.Load()
	if err := action(ctx, from, to); err != nil {
		p.errors.Add(1)
		p.opts.Logger.Error("watch: action failed", "from", from, "to", to, "error", err)
		return
	}
	p.actions.Add(1)
	p.setVersion(to)
	p.opts.Logger.Debug("watch: change handled", "from", from, "to", to)
}

func (p *Poller) setVersion(v int64) {
	p.mu.Lock()
	p.version.Store(v)
	p.cond.Broadcast()
	p.mu.Unlock()
}

// PragmaDataVersion increments when another connection writes to the
// database file. It does not see writes made through the same connection.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// MaxColumn polls MAX(column) on table. Identifiers are quoted.
func MaxColumn(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
