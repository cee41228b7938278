// Package history keeps a queryable record of detected questions in SQLite.
// Writes are batched by a background goroutine; Record never blocks on the
// database unless its buffer is full.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/morph/dbopen"
	"github.com/hazyhaar/morph/detect"
	"github.com/hazyhaar/morph/message"
)

// Schema creates the detections table.
const Schema = `
CREATE TABLE IF NOT EXISTS detections (
	detection_id TEXT PRIMARY KEY,
	timestamp    INTEGER NOT NULL,
	page_id      TEXT NOT NULL DEFAULT '',
	page_url     TEXT NOT NULL DEFAULT '',
	word         TEXT NOT NULL,
	text         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detections_time ON detections(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_detections_page ON detections(page_id, timestamp DESC);
`

// Init applies Schema to db.
func Init(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("history: init: %w", err)
	}
	return nil
}

// Entry is one recorded detection.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	PageID    string    `json:"page_id,omitempty"`
	PageURL   string    `json:"page_url,omitempty"`
	Word      string    `json:"word"`
	Text      string    `json:"text"`
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	PageID string
	Word   string
	Since  time.Time
	Limit  int // default 50, max 1000
}

// Log is the detection history.
type Log struct {
	db       *sql.DB
	logger   *slog.Logger
	interval time.Duration
	ch       chan Entry
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Log) { h.logger = l } }

// WithFlushInterval sets how often buffered entries are written.
func WithFlushInterval(d time.Duration) Option { return func(h *Log) { h.interval = d } }

// WithBuffer sets the queue capacity.
func WithBuffer(n int) Option { return func(h *Log) { h.ch = make(chan Entry, n) } }

// New starts a Log over db. Schema must already be applied.
func New(db *sql.DB, opts ...Option) *Log {
	h := &Log{
		db:       db,
		logger:   slog.Default(),
		interval: time.Second,
		ch:       make(chan Entry, 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	go h.flushLoop()
	return h
}

// Record queues a QUESTION_DETECTED message. Other types are ignored. A
// full buffer falls back to a synchronous insert.
func (h *Log) Record(msg message.Message) {
	if msg.Type != message.QuestionDetected {
		return
	}
	e := Entry{
		ID:      msg.ID,
		PageID:  msg.PageID,
		PageURL: msg.PageURL,
		Word:    detect.FirstToken(msg.Text),
		Text:    msg.Text,
	}
	if msg.Timestamp > 0 {
		e.Timestamp = time.UnixMilli(msg.Timestamp)
	} else {
		e.Timestamp = time.Now()
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("local_%d", e.Timestamp.UnixNano())
	}

	select {
	case h.ch <- e:
	default:
		h.logger.Warn("history: buffer full, sync fallback", "detection_id", e.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.insert(ctx, []Entry{e}); err != nil {
			h.logger.Error("history: sync fallback failed", "error", err)
		}
	}
}

// Query returns matching entries, newest first.
func (h *Log) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var where []string
	var args []any
	if f.PageID != "" {
		where = append(where, "page_id = ?")
		args = append(args, f.PageID)
	}
	if f.Word != "" {
		where = append(where, "word = ?")
		args = append(args, strings.ToLower(f.Word))
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	q := `SELECT detection_id, timestamp, page_id, page_url, word, text FROM detections`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	q += " ORDER BY timestamp DESC, detection_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.PageID, &e.PageURL, &e.Word, &e.Text); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than age.
func (h *Log) Cleanup(ctx context.Context, age time.Duration) (int64, error) {
	res, err := h.db.ExecContext(ctx, "DELETE FROM detections WHERE timestamp < ?",
		time.Now().Add(-age).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close writes what is buffered and stops the flush goroutine.
func (h *Log) Close() error {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.done
	return nil
}

func (h *Log) insert(ctx context.Context, batch []Entry) error {
	return dbopen.RunTx(ctx, h.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO detections
			(detection_id, timestamp, page_id, page_url, word, text)
			VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx,
				e.ID, e.Timestamp.UnixMilli(), e.PageID, e.PageURL, e.Word, e.Text); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *Log) flushLoop() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	batch := make([]Entry, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.insert(ctx, batch); err != nil {
			h.logger.Error("history: flush failed", "error", err, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-h.stop:
			for {
				select {
				case e := <-h.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-h.ch:
			batch = append(batch, e)
			if len(batch) >= cap(batch) {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
