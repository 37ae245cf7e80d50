package presence

import (
	"maps"
	"reflect"

	"SyncBoard/internal/state"
)

// Changed is a set of views that differ from the previous presence map.
type Changed uint8

const (
	ChangedUsers Changed = 1 << iota
	ChangedCursors
	ChangedPreviews
	ChangedPending
	ChangedTransforms
	ChangedSelections

	ChangedAll = ChangedUsers | ChangedCursors | ChangedPreviews | ChangedPending | ChangedTransforms | ChangedSelections
)

// Has reports whether every view in v changed.
func (c Changed) Has(v Changed) bool { return c&v == v }

// Views is the presence map split into independent projections, each keyed
// by user id. Users that have not set a field are absent from that view.
type Views struct {
	Users      map[string]Record
	Cursors    map[string]Cursor
	Previews   map[string]state.Shape
	Pending    map[string]state.Shape
	Transforms map[string]Transform
	Selections map[string][]string
}

func emptyViews() Views {
	return Views{
		Users:      map[string]Record{},
		Cursors:    map[string]Cursor{},
		Previews:   map[string]state.Shape{},
		Pending:    map[string]state.Shape{},
		Transforms: map[string]Transform{},
		Selections: map[string][]string{},
	}
}

func buildViews(records map[string]Record) Views {
	v := emptyViews()
	for uid, r := range records {
		v.Users[uid] = r
		if r.Cursor != nil {
			v.Cursors[uid] = *r.Cursor
		}
		if r.ShapePreview != nil {
			v.Previews[uid] = *r.ShapePreview
		}
		if r.PendingShape != nil {
			v.Pending[uid] = *r.PendingShape
		}
		if r.ActiveTransform != nil {
			v.Transforms[uid] = *r.ActiveTransform
		}
		if len(r.SelectedShapes) > 0 {
			v.Selections[uid] = r.SelectedShapes
		}
	}
	return v
}

// diff reports which projections of next differ from v.
func (v Views) diff(next Views) Changed {
	var c Changed
	if !reflect.DeepEqual(v.Users, next.Users) {
		c |= ChangedUsers
	}
	if !maps.Equal(v.Cursors, next.Cursors) {
		c |= ChangedCursors
	}
	if !reflect.DeepEqual(v.Previews, next.Previews) {
		c |= ChangedPreviews
	}
	if !reflect.DeepEqual(v.Pending, next.Pending) {
		c |= ChangedPending
	}
	if !reflect.DeepEqual(v.Transforms, next.Transforms) {
		c |= ChangedTransforms
	}
	if !reflect.DeepEqual(v.Selections, next.Selections) {
		c |= ChangedSelections
	}
	return c
}
