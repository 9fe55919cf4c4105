// Package journal keeps an append-only SQLite log of served responses.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("journal closed")

const (
	DefaultBuffer = 1024
	maxBatch      = 128
)

// Entry is one served response.
type Entry struct {
	Time     time.Time     `json:"time"`
	ConnID   string        `json:"conn"`
	Method   string        `json:"method"`
	Path     string        `json:"path"`
	Status   int           `json:"status"`
	Cache    string        `json:"cache,omitempty"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration_ns"`
}

// Summary aggregates the journal.
type Summary struct {
	Total   int64            `json:"total"`
	Bytes   int64            `json:"bytes"`
	ByCache map[string]int64 `json:"by_cache"`
	Dropped uint64           `json:"dropped"`
}

type Option func(*Journal)

// WithBuffer sets how many entries may wait for the writer before new ones are dropped.
func WithBuffer(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.buffer = n
		}
	}
}

// WithDropHook is called for every dropped entry.
func WithDropHook(f func()) Option {
	return func(j *Journal) { j.onDrop = f }
}

type Journal struct {
	db      *sql.DB
	buffer  int
	entries chan Entry
	flushes chan chan error
	done    chan struct{}
	onDrop  func()

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// Open opens the journal database at filename.
// If filename is empty, a new private in-memory db is opened.
func Open(filename string, opts ...Option) (*Journal, error) {
	if filename == "" {
		filename = "file:journal-" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", filename, err)
	}
	// a single connection keeps the in-memory db alive and serializes writes
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time INTEGER,
			conn TEXT,
			method TEXT,
			path TEXT,
			status INTEGER,
			cache TEXT,
			bytes INTEGER,
			duration_us INTEGER
		)`,
		"CREATE INDEX IF NOT EXISTS time_idx ON journal (time)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing journal: %w", err)
		}
	}
	j := &Journal{
		db:      db,
		buffer:  DefaultBuffer,
		flushes: make(chan chan error),
		done:    make(chan struct{}),
		onDrop:  func() {},
	}
	for _, opt := range opts {
		opt(j)
	}
	j.entries = make(chan Entry, j.buffer)
	go j.run()
	return j, nil
}

// Record queues e for writing. It never blocks; when the buffer is full the entry is dropped.
func (j *Journal) Record(e Entry) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.entries <- e:
	default:
		j.dropped.Add(1)
		j.onDrop()
	}
}

func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) run() {
	defer close(j.done)
	batch := make([]Entry, 0, maxBatch)
	for {
		select {
		case e, ok := <-j.entries:
			if !ok {
				return
			}
			batch = append(batch[:0], e)
			batch = j.collect(batch)
			if err := j.write(batch); err != nil {
				log.Error().Err(err).Int("entries", len(batch)).Msg("Could not write journal")
			}
		case ack := <-j.flushes:
			var err error
			for len(j.entries) > 0 {
				batch = j.collect(batch[:0])
				if werr := j.write(batch); werr != nil {
					err = werr
				}
			}
			ack <- err
		}
	}
}

// collect appends queued entries without waiting.
func (j *Journal) collect(batch []Entry) []Entry {
	for len(batch) < maxBatch {
		select {
		case e, ok := <-j.entries:
			if !ok {
				return batch
			}
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) write(batch []Entry) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO journal
		(time, conn, method, path, status, cache, bytes, duration_us) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range batch {
		if _, err := stmt.Exec(e.Time.UnixMilli(), e.ConnID, e.Method, e.Path, e.Status, e.Cache, e.Bytes, e.Duration.Microseconds()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Flush waits until every entry queued so far is written.
func (j *Journal) Flush(ctx context.Context) error {
	ack := make(chan error, 1)
	select {
	case j.flushes <- ack:
	case <-j.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summary flushes and aggregates the journal by cache result.
func (j *Journal) Summary(ctx context.Context) (Summary, error) {
	if err := j.Flush(ctx); err != nil {
		return Summary{}, err
	}
	s := Summary{ByCache: map[string]int64{}, Dropped: j.Dropped()}
	rows, err := j.db.QueryContext(ctx, "SELECT cache, COUNT(*), COALESCE(SUM(bytes), 0) FROM journal GROUP BY cache")
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var cache string
		var count, bytes int64
		if err := rows.Scan(&cache, &count, &bytes); err != nil {
			return s, err
		}
		s.ByCache[cache] = count
		s.Total += count
		s.Bytes += bytes
	}
	return s, rows.Err()
}

// Recent returns the newest entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := j.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := j.db.QueryContext(ctx, `SELECT
		time, conn, method, path, status, cache, bytes, duration_us
		FROM journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var ms, us int64
		if err := rows.Scan(&ms, &e.ConnID, &e.Method, &e.Path, &e.Status, &e.Cache, &e.Bytes, &us); err != nil {
			return entries, err
		}
		e.Time = time.UnixMilli(ms)
		e.Duration = time.Duration(us) * time.Microsecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close writes what is queued and closes the database. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.entries)
	j.mu.Unlock()
	<-j.done
	return j.db.Close()
}
