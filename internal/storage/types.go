package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: document not found")
	ErrClosed   = errors.New("storage: closed")
)

// Document names used by the bot.
const (
	DocJobs          = "jobs"
	DocSubscriptions = "subscriptions"
	DocReactables    = "reactables"
)

// Config configures storage.
//
// Driver values:
//   - "file": one <name>.json file per document under Path (a directory)
//   - "sqlite": a single SQLite database file at Path
//   - "postgres": a documents table in the database at DSN
//   - "redis": one key per document, Prefix + name, on the server at DSN
//   - "memory": nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Prefix      string        // redis only; default "kavitabot:"
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store loads and saves whole documents by name.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}
