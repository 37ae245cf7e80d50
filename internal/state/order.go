package state

import (
	"cmp"
	"slices"
	"time"
)

// DefaultZ is the ordering key of a newly created shape: the creation time
// in milliseconds. Clients need no shared counter to agree on creation order.
func DefaultZ(now time.Time) float64 {
	return float64(now.UnixMilli())
}

// FrontZ returns a key strictly greater than every key in shapes. An empty
// collection falls back to DefaultZ.
func FrontZ(shapes []Shape, now time.Time) float64 {
	if len(shapes) == 0 {
		return DefaultZ(now)
	}
	top := shapes[0].Z
	for _, s := range shapes[1:] {
		top = max(top, s.Z)
	}
	return top + 1
}

// BackZ returns a key strictly less than every key in shapes. An empty
// collection falls back to DefaultZ.
//
// Keys are never renormalized, so heavy reordering grows them without bound.
func BackZ(shapes []Shape, now time.Time) float64 {
	if len(shapes) == 0 {
		return DefaultZ(now)
	}
	bottom := shapes[0].Z
	for _, s := range shapes[1:] {
		bottom = min(bottom, s.Z)
	}
	return bottom - 1
}

// compareShapes orders by Z, then creation time, then id.
func compareShapes(a, b Shape) int {
	if c := cmp.Compare(a.Z, b.Z); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortShapes sorts shapes into paint order, bottom first.
func SortShapes(shapes []Shape) {
	slices.SortFunc(shapes, compareShapes)
}
