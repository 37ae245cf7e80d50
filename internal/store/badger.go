package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"SyncBoard/internal/async"
	"SyncBoard/internal/state"
)

// BadgerConfig holds configuration for the embedded database.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's own log output. Nil disables it.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens the database described by cfg. The caller closes it.
func OpenBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// Badger stores one board's shapes under "board/<board>/shape/<id>" as
// JSON documents.
type Badger struct {
	db     *badger.DB
	prefix []byte
	log    *slog.Logger

	// mu orders commit and publish so subscribers see snapshots in commit
	// order.
	mu   sync.Mutex
	feed *async.Fanout[[]state.Shape]
}

var _ state.Store = (*Badger)(nil)

// NewBadger wraps an open database for one board.
func NewBadger(db *badger.DB, board string, logger *slog.Logger) *Badger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Badger{
		db:     db,
		prefix: []byte("board/" + board + "/shape/"),
		log:    logger.With("component", "store", "backend", "badger", "board", board),
		feed:   async.NewFanout[[]state.Shape](),
	}
}

func (b *Badger) key(id string) []byte {
	return append(append([]byte{}, b.prefix...), id...)
}

func (b *Badger) Create(ctx context.Context, s state.Shape) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode shape %s: %w", s.ID, err)
	}
	return b.write(ctx, "create", s.ID, func(txn *badger.Txn) error {
		if _, err := txn.Get(b.key(s.ID)); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, s.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(b.key(s.ID), doc)
	})
}

func (b *Badger) Update(ctx context.Context, id string, p state.Patch) error {
	return b.write(ctx, "update", id, func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		var s state.Shape
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &s) }); err != nil {
			return fmt.Errorf("decode shape %s: %w", id, err)
		}
		doc, err := json.Marshal(p.Apply(s))
		if err != nil {
			return err
		}
		return txn.Set(b.key(id), doc)
	})
}

// Delete removes the shape. Deleting an absent id succeeds.
func (b *Badger) Delete(ctx context.Context, id string) error {
	return b.write(ctx, "delete", id, func(txn *badger.Txn) error {
		return txn.Delete(b.key(id))
	})
}

func (b *Badger) Subscribe(ctx context.Context, fn func([]state.Shape)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	return b.feed.Subscribe(fn, snap), nil
}

// Snapshot reads the board's shapes in paint order.
func (b *Badger) Snapshot(ctx context.Context) ([]state.Shape, error) {
	return b.load(ctx)
}

// Close stops subscribers. The database is closed by its owner.
func (b *Badger) Close() error {
	b.feed.Close()
	return nil
}

func (b *Badger) write(ctx context.Context, op, id string, fn func(*badger.Txn) error) error {
	ctx, span := tracer.Start(ctx, "store.badger."+op, trace.WithAttributes(attribute.String("shape.id", id)))
	defer span.End()
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	start := time.Now()
	if err := b.db.Update(fn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	b.log.Debug("committed", "op", op, "shape_id", id, "took", time.Since(start))

	snap, err := b.load(ctx)
	if err != nil {
		// The write is committed; subscribers catch up on the next one.
		b.log.Warn("snapshot after write failed", "op", op, "shape_id", id, "error", err)
		return nil
	}
	b.feed.Publish(snap)
	return nil
}

func (b *Badger) load(ctx context.Context) ([]state.Shape, error) {
	var out []state.Shape
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: b.prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var s state.Shape
			err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &s) })
			if err != nil {
				b.log.Warn("skipping undecodable shape", "key", string(it.Item().Key()), "error", err)
				continue
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load shapes: %w", err)
	}
	state.SortShapes(out)
	return out, nil
}
