// Package journal records refresh outcomes in a local SQLite database,
// for introspection of cache behavior across processes.
package journal

import (
	"database/sql"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Journal is an append-only log of refresh outcomes.
type Journal struct {
	db *sql.DB
}

// An Outcome describes how one refresh attempt concluded.
type Outcome string

const (
	OutcomeHit         Outcome = "hit"
	OutcomeRefreshed   Outcome = "refreshed"
	OutcomeNotModified Outcome = "not-modified"
	OutcomeError       Outcome = "error"
)

// Open opens (and if needed creates) a journal database at the given
// file name. Use ":memory:" for a throwaway in-memory journal.
func Open(filename string) (*Journal, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS fetches (
		url TEXT NOT NULL,
		outcome TEXT NOT NULL,
		status INTEGER,
		at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS fetches_at_idx ON fetches (at)"); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Record appends one refresh outcome. The HTTP status is zero when the
// attempt never produced a response.
func (j *Journal) Record(url string, outcome Outcome, status int) error {
	_, err := j.db.Exec(
		"INSERT INTO fetches (url, outcome, status, at) VALUES (?, ?, ?, ?)",
		url, string(outcome), status, time.Now().Unix(),
	)
	return err
}

// Counts returns the number of recorded fetches per outcome.
func (j *Journal) Counts() (map[Outcome]int, error) {
	rows, err := j.db.Query("SELECT outcome, COUNT(*) FROM fetches GROUP BY outcome")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[Outcome]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[Outcome(outcome)] = count
	}
	return counts, rows.Err()
}

// Recent returns the URLs of the most recently recorded fetches,
// newest first.
func (j *Journal) Recent(limit int) ([]string, error) {
	rows, err := j.db.Query("SELECT url FROM fetches ORDER BY at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
