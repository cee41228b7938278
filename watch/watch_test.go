package watch

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, version INTEGER)"); err != nil {
		t.Fatal(err)
	}
	return db
}

func insert(t *testing.T, db *sql.DB, version int64) {
	t.Helper()
	if _, err := db.Exec("INSERT INTO items (version) VALUES (?)", version); err != nil {
		t.Fatal(err)
	}
}

func zero() *int64 {
	var v int64
	return &v
}

func TestMaxColumn(t *testing.T) {
	db := testDB(t)
	det := MaxColumn("items", "version")

	v, err := det(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("empty table: got %d, want 0", v)
	}

	insert(t, db, 7)
	if v, _ = det(context.Background(), db); v != 7 {
		t.Fatalf("got %d, want 7", v)
	}
}

func TestPragmaDataVersion(t *testing.T) {
	db := testDB(t)
	v, err := PragmaDataVersion(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	if v < 0 {
		t.Fatalf("negative data_version %d", v)
	}
}

func TestRun_ActionReceivesRange(t *testing.T) {
	db := testDB(t)
	p := New(db, Options{
		Interval: 10 * time.Millisecond,
		Detector: MaxColumn("items", "version"),
		Start:    zero(),
	})

	type span struct{ from, to int64 }
	var mu sync.Mutex
	var got []span

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, func(_ context.Context, from, to int64) error {
		mu.Lock()
		got = append(got, span{from, to})
		mu.Unlock()
		return nil
	})

	insert(t, db, 3)
	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if err := p.WaitForVersion(wctx, 3); err != nil {
		t.Fatalf("WaitForVersion(3): %v", err)
	}

	insert(t, db, 5)
	if err := p.WaitForVersion(wctx, 5); err != nil {
		t.Fatalf("WaitForVersion(5): %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("actions: got %d, want 2 (%v)", len(got), got)
	}
	if got[0] != (span{0, 3}) || got[1] != (span{3, 5}) {
		t.Errorf("ranges: got %v", got)
	}
}

func TestRun_FailedActionRetried(t *testing.T) {
	db := testDB(t)
	p := New(db, Options{
		Interval: 10 * time.Millisecond,
		Detector: MaxColumn("items", "version"),
		Start:    zero(),
	})

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, func(context.Context, int64, int64) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	insert(t, db, 1)
	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if err := p.WaitForVersion(wctx, 1); err != nil {
		t.Fatalf("WaitForVersion: %v", err)
	}
	if calls.Load() < 2 {
		t.Errorf("calls: got %d, want >= 2", calls.Load())
	}
	if p.Stats().Errors < 1 {
		t.Errorf("errors counter: got %d", p.Stats().Errors)
	}
}

func TestRun_DebounceCollapsesBursts(t *testing.T) {
	db := testDB(t)
	p := New(db, Options{
		Interval: 5 * time.Millisecond,
		Debounce: 80 * time.Millisecond,
		Detector: MaxColumn("items", "version"),
		Start:    zero(),
	})

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, func(context.Context, int64, int64) error {
		calls.Add(1)
		return nil
	})

	for v := int64(1); v <= 4; v++ {
		insert(t, db, v)
		time.Sleep(15 * time.Millisecond)
	}

	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if err := p.WaitForVersion(wctx, 4); err != nil {
		t.Fatalf("WaitForVersion: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("actions: got %d, want 1", n)
	}
}

func TestWaitForVersion_ContextCancelled(t *testing.T) {
	db := testDB(t)
	p := New(db, Options{Detector: MaxColumn("items", "version")})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := p.WaitForVersion(ctx, 100); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}
