package command

import (
	"context"
	"fmt"
	"log/slog"

	"SyncBoard/internal/state"
)

// Executor applies operations to a Surface.
type Executor struct {
	surface   Surface
	log       *slog.Logger
	templates map[string]TemplateDef
}

// NewExecutor returns an executor with the built-in templates.
func NewExecutor(s Surface, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		surface:   s,
		log:       logger.With("component", "command"),
		templates: builtinTemplates(),
	}
}

// AddTemplates makes extra templates available, replacing built-ins of
// the same name.
func (x *Executor) AddTemplates(defs map[string]TemplateDef) {
	for name, def := range defs {
		x.templates[name] = def
	}
}

// OpError is the failure of one operation in an Apply call.
type OpError struct {
	// Index is the operation's 1-based position.
	Index int
	Op    string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("op %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Apply runs ops in order and waits for the durable writes they issue.
// Rejected operations are returned as *OpError, followed by any failed
// durable writes. A failed operation does not stop the ones after it.
func (x *Executor) Apply(ctx context.Context, ops []Operation) []error {
	var (
		errs   []error
		writes []*state.Write
	)
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			errs = append(errs, &OpError{Index: i + 1, Op: op.Name(), Err: err})
			break
		}
		ws, err := op.apply(x)
		writes = append(writes, ws...)
		if err != nil {
			x.log.Warn("operation failed", "index", i+1, "op", op.Name(), "error", err)
			errs = append(errs, &OpError{Index: i + 1, Op: op.Name(), Err: err})
			continue
		}
		x.log.Debug("operation applied", "index", i+1, "op", op.Name(), "writes", len(ws))
	}
	return append(errs, state.WaitAll(ctx, writes...)...)
}

// Query returns the ids of the shapes q selects, in paint order.
func (x *Executor) Query(q Query) []string {
	var ids []string
	for _, s := range q.Match(x.surface.Shapes()) {
		ids = append(ids, s.ID)
	}
	return ids
}

func (x *Executor) match(q Query) ([]state.Shape, error) {
	targets := q.Match(x.surface.Shapes())
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, q)
	}
	return targets, nil
}

func (x *Executor) updateEach(targets []state.Shape, patch func(state.Shape) state.Patch) []*state.Write {
	writes := make([]*state.Write, 0, len(targets))
	for _, s := range targets {
		writes = append(writes, x.surface.UpdateShape(s.ID, patch(s)))
	}
	return writes
}
