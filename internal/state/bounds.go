package state

import "math"

// Rect is an axis-aligned area on the board.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Canvas is the area templates and layouts are kept inside.
var Canvas = Rect{X: 0, Y: 0, Width: 4000, Height: 3000}

// Bounds returns the axis-aligned box of the shape, ignoring rotation.
func (s Shape) Bounds() Rect {
	switch g := s.Geometry.(type) {
	case Box:
		return Rect{X: s.X, Y: s.Y, Width: g.Width, Height: g.Height}
	case Ellipse:
		return Rect{X: s.X - g.RadiusX, Y: s.Y - g.RadiusY, Width: 2 * g.RadiusX, Height: 2 * g.RadiusY}
	case Label:
		h := g.FontSize * 1.25
		w := g.Width
		if w == 0 {
			// Rough advance width for an unwrapped line.
			w = float64(len([]rune(g.Text))) * g.FontSize * 0.6
		}
		return Rect{X: s.X, Y: s.Y, Width: w, Height: h}
	case Arrow:
		return Rect{
			X:      math.Min(s.X, g.EndX),
			Y:      math.Min(s.Y, g.EndY),
			Width:  math.Abs(g.EndX - s.X),
			Height: math.Abs(g.EndY - s.Y),
		}
	}
	return Rect{X: s.X, Y: s.Y}
}

// Overlaps reports whether the two rects intersect or touch.
func (r Rect) Overlaps(o Rect) bool {
	return !(r.X+r.Width < o.X || o.X+o.Width < r.X ||
		r.Y+r.Height < o.Y || o.Y+o.Height < r.Y)
}

// Contains reports whether the point lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width &&
		y >= r.Y && y <= r.Y+r.Height
}

// Inside reports whether r lies entirely within outer.
func (r Rect) Inside(outer Rect) bool {
	return r.X >= outer.X && r.Y >= outer.Y &&
		r.X+r.Width <= outer.X+outer.Width && r.Y+r.Height <= outer.Y+outer.Height
}

// Union returns the smallest rect covering both.
func (r Rect) Union(o Rect) Rect {
	minX := math.Min(r.X, o.X)
	minY := math.Min(r.Y, o.Y)
	maxX := math.Max(r.X+r.Width, o.X+o.Width)
	maxY := math.Max(r.Y+r.Height, o.Y+o.Height)
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Center returns the midpoint of r.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// BoundsOf returns the union of the shapes' bounds. ok is false for an
// empty slice.
func BoundsOf(shapes []Shape) (r Rect, ok bool) {
	for i, s := range shapes {
		if i == 0 {
			r = s.Bounds()
			continue
		}
		r = r.Union(s.Bounds())
	}
	return r, len(shapes) > 0
}

// HitTest returns the topmost shape under the point. shapes must be in
// paint order, as returned by Board.Shapes.
func HitTest(shapes []Shape, x, y float64) (Shape, bool) {
	for i := len(shapes) - 1; i >= 0; i-- {
		if shapes[i].Bounds().Contains(x, y) {
			return shapes[i], true
		}
	}
	return Shape{}, false
}

// FreeSpot returns want if it overlaps none of the shapes, otherwise the
// first neighbouring area (below, above, right, left, then further out)
// that is free and inside Canvas.
func FreeSpot(shapes []Shape, want Rect, gap float64) (Rect, bool) {
	occupied := make([]Rect, 0, len(shapes))
	for _, s := range shapes {
		occupied = append(occupied, s.Bounds())
	}
	isFree := func(r Rect) bool {
		if !r.Inside(Canvas) {
			return false
		}
		for _, o := range occupied {
			if r.Overlaps(o) {
				return false
			}
		}
		return true
	}

	if isFree(want) {
		return want, true
	}
	for ring := 1.0; ring <= 8; ring++ {
		offsets := []struct{ dx, dy float64 }{
			{0, ring * (want.Height + gap)},
			{0, -ring * (want.Height + gap)},
			{ring * (want.Width + gap), 0},
			{-ring * (want.Width + gap), 0},
		}
		for _, off := range offsets {
			alt := Rect{X: want.X + off.dx, Y: want.Y + off.dy, Width: want.Width, Height: want.Height}
			if isFree(alt) {
				return alt, true
			}
		}
	}
	return Rect{}, false
}
