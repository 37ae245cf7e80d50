package state

import (
	"context"
	"fmt"
)

// Op names a durable write.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// WriteError is the failure of one durable write.
type WriteError struct {
	Op      Op
	ShapeID string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ShapeID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Write tracks one asynchronous durable write. The local view has already
// been updated when a Write is returned; callers that do not care about the
// outcome may drop it.
type Write struct {
	Op      Op
	ShapeID string

	done chan struct{}
	err  error
}

func newWrite(op Op, id string) *Write {
	return &Write{Op: op, ShapeID: id, done: make(chan struct{})}
}

// completed returns a Write that is already finished.
func completed(op Op, id string, err error) *Write {
	w := newWrite(op, id)
	w.finish(err)
	return w
}

func (w *Write) finish(err error) {
	w.err = err
	close(w.done)
}

// Done is closed when the write has finished.
func (w *Write) Done() <-chan struct{} { return w.done }

// Err returns the outcome, or nil while the write is in flight.
func (w *Write) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Wait blocks until the write finishes or ctx ends.
func (w *Write) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll waits for every write and returns the non-nil errors.
func WaitAll(ctx context.Context, writes ...*Write) []error {
	var errs []error
	for _, w := range writes {
		if w == nil {
			continue
		}
		if err := w.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
