package storage

import (
	"context"
	"errors"
	"strings"

	logx "pindrop/pkg/logx"
)

// Backend is the minimal persistence API the annotation store needs.
// Every call round-trips to the backing store; there is no cache layer.
type Backend interface {
	// GetAll returns every stored entry. Order is not meaningful.
	GetAll(ctx context.Context) (map[string][]byte, error)
	// Get returns the value at key, with ok=false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put inserts or unconditionally replaces the value at key.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Returns true iff an entry existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)
	// Maintain runs driver housekeeping (vacuum/compaction). Safe to skip.
	Maintain(ctx context.Context) error
	Close() error
}

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
