package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"SyncBoard/internal/state"
)

// Backend is a store that holds resources.
type Backend interface {
	state.Store
	Close() error
}

// Backends hands out one Backend per board from a shared database.
type Backends struct {
	kind  string
	open  func(board string) (Backend, error)
	close func() error

	mu     sync.Mutex
	boards map[string]Backend
}

// Open parses a backend spec: "memory", "badger:<dir>", "badger:mem" or
// "postgres:<dsn>".
func Open(ctx context.Context, spec string, logger *slog.Logger) (*Backends, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kind, arg, _ := strings.Cut(spec, ":")
	b := &Backends{kind: kind, boards: make(map[string]Backend), close: func() error { return nil }}

	switch kind {
	case "memory", "":
		b.kind = "memory"
		b.open = func(string) (Backend, error) { return NewMemory(), nil }
	case "badger":
		cfg := BadgerConfig{Path: arg, SyncWrites: true, Logger: logger.With("component", "badger")}
		if arg == "mem" {
			cfg = BadgerConfig{InMemory: true}
		}
		db, err := OpenBadger(cfg)
		if err != nil {
			return nil, err
		}
		b.open = func(board string) (Backend, error) { return NewBadger(db, board, logger), nil }
		b.close = db.Close
	case "postgres":
		if arg == "" {
			return nil, errors.New("postgres backend needs a dsn")
		}
		db, err := ConnectPostgres(ctx, arg)
		if err != nil {
			return nil, err
		}
		b.open = func(board string) (Backend, error) { return NewPostgres(db, arg, board, logger) }
		b.close = db.Close
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
	return b, nil
}

// Kind names the backend.
func (b *Backends) Kind() string { return b.kind }

// Board returns the backend for board, opening it on first use.
func (b *Backends) Board(board string) (Backend, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if be, ok := b.boards[board]; ok {
		return be, nil
	}
	be, err := b.open(board)
	if err != nil {
		return nil, fmt.Errorf("open board %s: %w", board, err)
	}
	b.boards[board] = be
	return be, nil
}

// Close closes every board and the shared database.
func (b *Backends) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for name, be := range b.boards {
		if err := be.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close board %s: %w", name, err))
		}
		delete(b.boards, name)
	}
	errs = append(errs, b.close())
	return errors.Join(errs...)
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*Badger)(nil)
	_ Backend = (*Postgres)(nil)
)
