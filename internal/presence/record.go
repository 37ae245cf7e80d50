// Package presence publishes this session's transient state (cursor,
// drawing preview, pending shape, active transform, selection) and ingests
// the transient state of every peer.
//
// A record is a flat JSON object per user. Every field is written on its
// own with a partial update, so rapid local writes to different fields
// never overwrite one another.
package presence

import (
	"bytes"
	"encoding/json"
	"errors"
	"maps"

	"SyncBoard/internal/state"
)

// Record field names as they appear on the wire.
const (
	FieldDisplayName     = "displayName"
	FieldColorHex        = "colorHex"
	FieldCursorX         = "cursorX"
	FieldCursorY         = "cursorY"
	FieldLastActive      = "lastActive"
	FieldOnlineStatus    = "onlineStatus"
	FieldShapePreview    = "shapePreview"
	FieldPendingShape    = "pendingShape"
	FieldSelectedShapes  = "selectedShapes"
	FieldActiveTransform = "activeTransform"
)

// Online status values.
const (
	StatusOnline = "online"
	StatusAway   = "away"
)

var (
	ErrNotStarted = errors.New("presence not started")
	ErrNoIdentity = errors.New("presence identity has no user id")
	ErrClosed     = errors.New("presence connection closed")
)

var null = json.RawMessage("null")

// Doc is one user's record in wire form.
type Doc map[string]json.RawMessage

// Merge returns a copy of d with update applied. A key whose value is JSON
// null is removed.
func (d Doc) Merge(update Doc) Doc {
	out := maps.Clone(d)
	if out == nil {
		out = make(Doc, len(update))
	}
	for k, v := range update {
		if isNull(v) {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Clean returns a copy of d without null values.
func (d Doc) Clean() Doc {
	return Doc{}.Merge(d)
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), null)
}

// Identity is how a user appears to peers.
type Identity struct {
	UserID      string
	DisplayName string
	ColorHex    string
}

// Cursor is a pointer position in board coordinates.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TransformMode is the kind of in-progress manipulation.
type TransformMode string

const (
	ModeDrag   TransformMode = "drag"
	ModeResize TransformMode = "resize"
	ModeRotate TransformMode = "rotate"
)

// Transform is an in-progress drag, resize or rotation of one shape. Patch
// holds the fields changed so far.
type Transform struct {
	ShapeID string        `json:"shapeId"`
	Mode    TransformMode `json:"mode"`
	Patch   state.Patch   `json:"patch"`
}

// Record is the decoded form of a Doc. Absent fields are nil.
type Record struct {
	UserID          string
	DisplayName     string
	ColorHex        string
	Cursor          *Cursor
	LastActive      int64
	OnlineStatus    string
	ShapePreview    *state.Shape
	PendingShape    *state.Shape
	SelectedShapes  []string
	ActiveTransform *Transform
}

// Decode reads the fields of d. A malformed field is skipped and reported
// in the returned error; the remaining fields are still decoded.
func Decode(userID string, d Doc) (Record, error) {
	r := Record{UserID: userID}
	var errs []error
	field := func(name string, dst any) {
		raw, ok := d[name]
		if !ok || isNull(raw) {
			return
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			errs = append(errs, fieldError{name, err})
		}
	}

	field(FieldDisplayName, &r.DisplayName)
	field(FieldColorHex, &r.ColorHex)
	field(FieldLastActive, &r.LastActive)
	field(FieldOnlineStatus, &r.OnlineStatus)
	field(FieldSelectedShapes, &r.SelectedShapes)

	var x, y *float64
	field(FieldCursorX, &x)
	field(FieldCursorY, &y)
	if x != nil && y != nil {
		r.Cursor = &Cursor{X: *x, Y: *y}
	}
	field(FieldShapePreview, &r.ShapePreview)
	field(FieldPendingShape, &r.PendingShape)
	field(FieldActiveTransform, &r.ActiveTransform)

	return r, errors.Join(errs...)
}

type fieldError struct {
	field string
	err   error
}

func (e fieldError) Error() string { return e.field + ": " + e.err.Error() }
func (e fieldError) Unwrap() error { return e.err }

// encode marshals v for a field write; nil clears the field.
func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return null, nil
	}
	return json.Marshal(v)
}
