package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"SyncBoard/internal/async"
	"SyncBoard/internal/state"
)

const (
	notifyChannel = "shapes"

	schema = `CREATE TABLE IF NOT EXISTS shapes (
	board text NOT NULL,
	id    text NOT NULL,
	doc   jsonb NOT NULL,
	PRIMARY KEY (board, id)
)`

	uniqueViolation = "23505"
)

// ConnectPostgres opens and pings the database and creates the table.
func ConnectPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// Postgres stores one board's shapes as jsonb rows. Every write notifies
// the "shapes" channel with the board name in the same transaction, and a
// listener reloads the full set on each notification, so writes from other
// hub processes reach local subscribers too.
type Postgres struct {
	db    *sql.DB
	board string
	log   *slog.Logger

	mu   sync.Mutex
	feed *async.Fanout[[]state.Shape]

	listener *pq.Listener
	done     chan struct{}
	wg       sync.WaitGroup
}

var _ state.Store = (*Postgres)(nil)

// NewPostgres creates the store for board and starts listening for
// notifications on a dedicated connection opened from dsn.
func NewPostgres(db *sql.DB, dsn, board string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Postgres{
		db:    db,
		board: board,
		log:   logger.With("component", "store", "backend", "postgres", "board", board),
		feed:  async.NewFanout[[]state.Shape](),
		done:  make(chan struct{}),
	}
	p.listener = pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.log.Warn("listener event", "event", ev, "error", err)
		}
	})
	if err := p.listener.Listen(notifyChannel); err != nil {
		p.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	p.wg.Add(1)
	go p.listen()
	return p, nil
}

func (p *Postgres) listen() {
	defer p.wg.Done()
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-p.done:
			return
		case n := <-p.listener.Notify:
			// nil after a reconnect: notifications may have been missed.
			if n != nil && n.Extra != p.board {
				continue
			}
			p.reload(context.Background())
		case <-ping.C:
			if err := p.listener.Ping(); err != nil {
				p.log.Warn("listener ping failed", "error", err)
			}
		}
	}
}

func (p *Postgres) Create(ctx context.Context, s state.Shape) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode shape %s: %w", s.ID, err)
	}
	return p.write(ctx, "create", s.ID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO shapes (board, id, doc) VALUES ($1, $2, $3)`, p.board, s.ID, doc)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrExists, s.ID)
		}
		return err
	})
}

// Update merges the patch into the stored document. Concurrent updates
// are serialized by the row lock; the last committed one wins per field.
func (p *Postgres) Update(ctx context.Context, id string, patch state.Patch) error {
	fields, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch %s: %w", id, err)
	}
	return p.write(ctx, "update", id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE shapes SET doc = doc || $3::jsonb WHERE board = $1 AND id = $2`, p.board, id, fields)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

// Delete removes the shape. Deleting an absent id succeeds.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	return p.write(ctx, "delete", id, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM shapes WHERE board = $1 AND id = $2`, p.board, id)
		return err
	})
}

func (p *Postgres) Subscribe(ctx context.Context, fn func([]state.Shape)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return p.feed.Subscribe(fn, snap), nil
}

// Snapshot reads the board's shapes in paint order.
func (p *Postgres) Snapshot(ctx context.Context) ([]state.Shape, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM shapes WHERE board = $1`, p.board)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()

	var out []state.Shape
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var s state.Shape
		if err := json.Unmarshal(doc, &s); err != nil {
			p.log.Warn("skipping undecodable shape", "error", err)
			continue
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	state.SortShapes(out)
	return out, nil
}

// Close stops the listener and subscribers. The *sql.DB is closed by its
// owner.
func (p *Postgres) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	close(p.done)
	p.wg.Wait()
	p.feed.Close()
	return p.listener.Close()
}

func (p *Postgres) write(ctx context.Context, op, id string, fn func(*sql.Tx) error) (err error) {
	ctx, span := tracer.Start(ctx, "store.postgres."+op, trace.WithAttributes(
		attribute.String("shape.id", id),
		attribute.String("board", p.board),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, p.board); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.reload(ctx)
	return nil
}

// reload publishes a fresh snapshot. Reloads are serialized so subscribers
// never see an older set after a newer one.
func (p *Postgres) reload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, err := p.Snapshot(ctx)
	if err != nil {
		p.log.Warn("reload failed", "error", err)
		return
	}
	p.feed.Publish(snap)
}
