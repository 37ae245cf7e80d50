package net

import (
	"errors"
	"fmt"

	"SyncBoard/internal/presence"
	"SyncBoard/internal/state"
	"SyncBoard/internal/store"
)

// FrameType names a hub message.
type FrameType string

// Client to hub. Every request carries an ID and is answered by an ack
// with the same ID.
const (
	TypeCreate            FrameType = "shape.create"
	TypeUpdate            FrameType = "shape.update"
	TypeDelete            FrameType = "shape.delete"
	TypeSubscribeShapes   FrameType = "shape.subscribe"
	TypePresenceSet       FrameType = "presence.set"
	TypePresenceUpdate    FrameType = "presence.update"
	TypePresenceRemove    FrameType = "presence.remove"
	TypeOnDisconnect      FrameType = "presence.onDisconnect"
	TypeSubscribePresence FrameType = "presence.subscribe"
)

// Hub to client.
const (
	TypeAck      FrameType = "ack"
	TypeShapes   FrameType = "shapes"
	TypePresence FrameType = "presence"
)

// Error codes carried by acks.
const (
	CodeExists   = "exists"
	CodeNotFound = "not_found"
	CodeInvalid  = "invalid"
	CodeClosed   = "closed"
	CodeUnknown  = "unknown_type"
	CodeBackend  = "backend"
)

var (
	// ErrClosed is returned for requests on a closed hub connection.
	ErrClosed = errors.New("hub connection closed")

	// ErrInvalid is returned when the hub rejects a malformed request.
	ErrInvalid = errors.New("invalid request")
)

// Frame is the single message shape in both directions. Only the fields
// relevant to Type are set.
type Frame struct {
	Type FrameType `json:"type"`
	ID   uint64    `json:"id,omitempty"`

	ShapeID string       `json:"shapeId,omitempty"`
	Shape   *state.Shape `json:"shape,omitempty"`
	Patch   *state.Patch `json:"patch,omitempty"`

	UserID string       `json:"userId,omitempty"`
	Doc    presence.Doc `json:"doc,omitempty"`

	Shapes   []state.Shape           `json:"shapes,omitempty"`
	Presence map[string]presence.Doc `json:"presence,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// ack builds the reply to req. A nil err acknowledges success.
func ack(req Frame, err error) Frame {
	f := Frame{Type: TypeAck, ID: req.ID}
	if err == nil {
		return f
	}
	f.Error = err.Error()
	switch {
	case errors.Is(err, store.ErrExists):
		f.Code = CodeExists
	case errors.Is(err, state.ErrNotFound):
		f.Code = CodeNotFound
	case errors.Is(err, ErrInvalid):
		f.Code = CodeInvalid
	case errors.Is(err, presence.ErrClosed):
		f.Code = CodeClosed
	default:
		f.Code = CodeBackend
	}
	return f
}

// ackError turns a failed ack back into an error that matches the hub's
// sentinel with errors.Is.
func ackError(f Frame) error {
	if f.Error == "" && f.Code == "" {
		return nil
	}
	var base error
	switch f.Code {
	case CodeExists:
		base = store.ErrExists
	case CodeNotFound:
		base = state.ErrNotFound
	case CodeInvalid, CodeUnknown:
		base = ErrInvalid
	case CodeClosed:
		base = presence.ErrClosed
	default:
		return fmt.Errorf("hub: %s", f.Error)
	}
	return fmt.Errorf("hub: %w (%s)", base, f.Error)
}
