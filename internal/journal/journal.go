// Package journal keeps an append-only record of every processed command in
// a local sqlite database.
//
// Appends go through a buffered channel into a single writer goroutine, so
// the command pipeline never blocks on disk. When the buffer is full the
// entry is dropped and counted; the journal is diagnostics, not a ledger.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one processed command.
type Entry struct {
	At      time.Time
	Agent   string
	Issuer  string
	Channel string
	Input   string
	Verb    string
	Outcome string // "executed", "denied", "unparsed", "error"
}

// Journal records command entries. Safe for concurrent use.
type Journal struct {
	db *sql.DB
	ch chan Entry
	wg sync.WaitGroup

	// mu serializes sends against close(ch): Append may race Close while
	// pipeline goroutines are still recording at shutdown.
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	dropped atomic.Uint64
}

// Open creates or opens the journal database at path and starts the writer.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal: empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL suits an append-style workload.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: pragma: %w", err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		agent TEXT NOT NULL,
		issuer TEXT NOT NULL,
		channel TEXT NOT NULL,
		input TEXT NOT NULL,
		verb TEXT NOT NULL,
		outcome TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_commands_at ON commands(at);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}

	j := &Journal{
		db: db,
		ch: make(chan Entry, 1024),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j, nil
}

func (j *Journal) loop() {
	for e := range j.ch {
		_, err := j.db.Exec(
			`INSERT INTO commands (at, agent, issuer, channel, input, verb, outcome)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.At.UTC().Format(time.RFC3339Nano),
			e.Agent, e.Issuer, e.Channel, e.Input, e.Verb, e.Outcome,
		)
		if err != nil {
			j.dropped.Add(1)
		}
	}
}

// Append records e without blocking. Entries are dropped when the buffer is
// full or the journal is closed.
func (j *Journal) Append(e Entry) {
	if j == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- e:
	default:
		j.dropped.Add(1)
	}
}

// Recent returns the latest n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, agent, issuer, channel, input, verb, outcome
		 FROM commands ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&at, &e.Agent, &e.Issuer, &e.Channel, &e.Input, &e.Verb, &e.Outcome); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Dropped returns how many entries were lost to backpressure or write
// failures.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Close drains pending entries and closes the database.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.ch)
		j.mu.Unlock()
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}
