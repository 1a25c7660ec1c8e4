package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Config describes the durable conversation store file.
type Config struct {
	Path        string        `split_words:"true" default:"sessions.db"`
	BusyTimeout time.Duration `split_words:"true" default:"5s"`
}

// Open opens the database in WAL mode with foreign keys enforced. SQLite only
// supports a single writer, so the pool is pinned to one connection.
func (c *Config) Open() (*sql.DB, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	dsn := "file:" + c.Path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), busy)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
