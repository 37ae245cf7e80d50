// Package command translates structured board operations, such as those
// produced by an assistant or read from a script, into the primitive shape
// mutations of a session.
package command

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"SyncBoard/internal/state"
)

var (
	// ErrNoMatch is returned when an operation's target selects nothing.
	ErrNoMatch = errors.New("no shapes match")
	// ErrNoSpace is returned when no free area is left for a new shape.
	ErrNoSpace = errors.New("no free space on the board")
	// ErrUnknownTemplate is returned for template names not loaded.
	ErrUnknownTemplate = errors.New("unknown template")
)

// Surface is what operations act on. Both *engine.Session and
// *state.Board satisfy it.
type Surface interface {
	AddShape(state.Shape) *state.Write
	UpdateShape(id string, p state.Patch) *state.Write
	DeleteShapes(ids ...string) []*state.Write
	BringToFront(id string) *state.Write
	SendToBack(id string) *state.Write
	Shapes() []state.Shape
}

// Operation is one translated command.
type Operation interface {
	Name() string
	apply(x *Executor) ([]*state.Write, error)
}

// Query selects shapes. Criteria combine with AND; a query with no
// criteria and All unset selects nothing.
type Query struct {
	IDs  []string
	Kind state.Kind
	Fill string
	Text string
	All  bool
}

// IsEmpty reports whether the query has no criteria.
func (q Query) IsEmpty() bool {
	return len(q.IDs) == 0 && q.Kind == "" && q.Fill == "" && q.Text == "" && !q.All
}

// Match returns the shapes selected by q, in the order given.
func (q Query) Match(shapes []state.Shape) []state.Shape {
	if q.IsEmpty() {
		return nil
	}
	var out []state.Shape
	for _, s := range shapes {
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, s.ID) {
			continue
		}
		if q.Kind != "" && s.Kind != q.Kind {
			continue
		}
		if q.Fill != "" && s.Style.Fill != q.Fill {
			continue
		}
		if q.Text != "" {
			l, ok := s.Geometry.(state.Label)
			if !ok || !strings.Contains(strings.ToLower(l.Text), strings.ToLower(q.Text)) {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func (q Query) String() string {
	var parts []string
	if q.All {
		parts = append(parts, "all")
	}
	if len(q.IDs) > 0 {
		parts = append(parts, "ids="+strings.Join(q.IDs, ","))
	}
	if q.Kind != "" {
		parts = append(parts, "kind="+string(q.Kind))
	}
	if q.Fill != "" {
		parts = append(parts, "fill="+q.Fill)
	}
	if q.Text != "" {
		parts = append(parts, "text="+q.Text)
	}
	return strings.Join(parts, " ")
}

// Create adds one shape. At is the top-left corner of the shape's bounds;
// when nil the first free spot near the top left of the board is used.
// Arrows run from At to To, or by Size when To is nil.
type Create struct {
	ID     string
	Kind   state.Kind
	At     *Point
	Size   Size
	To     *Point
	Text   string
	Fill   string
	Stroke string
	Border state.BorderStyle
}

// Move translates the target by By, or so that its bounds start at To.
type Move struct {
	Target Query
	By     *Point
	To     *Point
}

// Resize sets each target's box to Size, or scales it by Scale.
type Resize struct {
	Target Query
	Size   *Size
	Scale  float64
}

// Rotate sets each target's rotation in degrees.
type Rotate struct {
	Target  Query
	Degrees float64
}

// Restyle changes the fill, stroke or border of the target.
type Restyle struct {
	Target Query
	Fill   string
	Stroke string
	Border state.BorderStyle
}

// Delete removes the target.
type Delete struct {
	Target Query
}

// Order brings the target above, or sends it below, every other shape.
// The target keeps its own relative order.
type Order struct {
	Target Query
	Front  bool
}

// Grid lays the target out in rows of Columns, left to right, starting
// at At or at the target's current top-left corner.
type Grid struct {
	Target  Query
	Columns int
	Gap     float64
	At      *Point
}

// Axis is a layout direction.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

// Distribute spaces the target evenly along Axis. The first and last
// shapes stay put and the gaps between neighbours become equal.
type Distribute struct {
	Target Query
	Axis   Axis
}

// Template places a named composite such as a login form.
type Template struct {
	TemplateName string
	At           *Point
	Fill         string
}

func (Create) Name() string     { return "create" }
func (Move) Name() string       { return "move" }
func (Resize) Name() string     { return "resize" }
func (Rotate) Name() string     { return "rotate" }
func (Restyle) Name() string    { return "style" }
func (Delete) Name() string     { return "delete" }
func (Order) Name() string      { return "order" }
func (Grid) Name() string       { return "grid" }
func (Distribute) Name() string { return "distribute" }
func (Template) Name() string   { return "template" }

// defaultSize is used by Create when no size is given.
var defaultSize = Size{W: 120, H: 80}

const placementGap = 20

func (c Create) size() Size {
	if c.Size == (Size{}) {
		return defaultSize
	}
	return c.Size
}

func (c Create) shape(x *Executor) (state.Shape, error) {
	if c.At != nil {
		return c.build(*c.At)
	}
	size := c.size()
	want := state.Rect{X: 100, Y: 100, Width: size.W, Height: size.H}
	spot, ok := state.FreeSpot(x.surface.Shapes(), want, placementGap)
	if !ok {
		return state.Shape{}, ErrNoSpace
	}
	return c.build(Point{X: spot.X, Y: spot.Y})
}

// build makes the shape with its bounds starting at at.
func (c Create) build(at Point) (state.Shape, error) {
	size := c.size()
	var s state.Shape
	switch c.Kind {
	case state.KindRectangle:
		s = state.NewRectangle(at.X, at.Y, size.W, size.H)
	case state.KindDiamond:
		s = state.NewDiamond(at.X, at.Y, size.W, size.H)
	case state.KindCircle:
		s = state.NewCircle(at.X+size.W/2, at.Y+size.H/2, size.W/2, size.H/2)
	case state.KindText:
		s = state.NewText(at.X, at.Y, c.Text)
		if c.Size != (Size{}) {
			l := s.Geometry.(state.Label)
			l.Width = size.W
			s.Geometry = l
		}
	case state.KindArrow:
		to := Point{X: at.X + size.W, Y: at.Y + size.H}
		if c.To != nil {
			to = *c.To
		}
		s = state.NewArrow(at.X, at.Y, to.X, to.Y)
	default:
		return state.Shape{}, fmt.Errorf("%w: %q", state.ErrUnknownKind, c.Kind)
	}
	if c.ID != "" {
		s.ID = c.ID
	}
	if c.Fill != "" {
		s.Style.Fill = c.Fill
	}
	if c.Stroke != "" {
		s.Style.Stroke = c.Stroke
	}
	if c.Border != "" {
		s.Style.Border = c.Border
	}
	return s, nil
}

func (c Create) apply(x *Executor) ([]*state.Write, error) {
	s, err := c.shape(x)
	if err != nil {
		return nil, err
	}
	w := x.surface.AddShape(s)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return []*state.Write{w}, nil
}

func (m Move) apply(x *Executor) ([]*state.Write, error) {
	targets, err := x.match(m.Target)
	if err != nil {
		return nil, err
	}
	var dx, dy float64
	switch {
	case m.By != nil:
		dx, dy = m.By.X, m.By.Y
	case m.To != nil:
		b, _ := state.BoundsOf(targets)
		dx, dy = m.To.X-b.X, m.To.Y-b.Y
	default:
		return nil, fmt.Errorf("%w: move needs by or to", ErrParse)
	}
	return x.updateEach(targets, func(s state.Shape) state.Patch { return s.Translate(dx, dy) }), nil
}

func (r Resize) apply(x *Executor) ([]*state.Write, error) {
	if r.Size == nil && r.Scale <= 0 {
		return nil, fmt.Errorf("%w: resize needs size or a positive scale", ErrParse)
	}
	targets, err := x.match(r.Target)
	if err != nil {
		return nil, err
	}
	return x.updateEach(targets, func(s state.Shape) state.Patch {
		if r.Size != nil {
			return s.Resize(r.Size.W, r.Size.H)
		}
		b := s.Bounds()
		return s.Resize(b.Width*r.Scale, b.Height*r.Scale)
	}), nil
}

func (r Rotate) apply(x *Executor) ([]*state.Write, error) {
	targets, err := x.match(r.Target)
	if err != nil {
		return nil, err
	}
	return x.updateEach(targets, func(state.Shape) state.Patch {
		return state.Patch{Rotation: state.Ptr(r.Degrees)}
	}), nil
}

func (r Restyle) apply(x *Executor) ([]*state.Write, error) {
	var p state.Patch
	if r.Fill != "" {
		p.Fill = state.Ptr(r.Fill)
	}
	if r.Stroke != "" {
		p.Stroke = state.Ptr(r.Stroke)
	}
	if r.Border != "" {
		p.Border = state.Ptr(r.Border)
	}
	if p.IsEmpty() {
		return nil, fmt.Errorf("%w: style needs fill, stroke or border", ErrParse)
	}
	targets, err := x.match(r.Target)
	if err != nil {
		return nil, err
	}
	return x.updateEach(targets, func(state.Shape) state.Patch { return p }), nil
}

func (d Delete) apply(x *Executor) ([]*state.Write, error) {
	targets, err := x.match(d.Target)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(targets))
	for i, s := range targets {
		ids[i] = s.ID
	}
	return x.surface.DeleteShapes(ids...), nil
}

func (o Order) apply(x *Executor) ([]*state.Write, error) {
	targets, err := x.match(o.Target)
	if err != nil {
		return nil, err
	}
	// targets are in paint order; promote bottom-up to the front and
	// top-down to the back so they keep their relative order.
	var writes []*state.Write
	if o.Front {
		for _, s := range targets {
			writes = append(writes, x.surface.BringToFront(s.ID))
		}
	} else {
		for _, s := range slices.Backward(targets) {
			writes = append(writes, x.surface.SendToBack(s.ID))
		}
	}
	return writes, nil
}

func (g Grid) apply(x *Executor) ([]*state.Write, error) {
	if g.Columns <= 0 {
		return nil, fmt.Errorf("%w: grid needs a positive column count", ErrParse)
	}
	targets, err := x.match(g.Target)
	if err != nil {
		return nil, err
	}
	origin, _ := state.BoundsOf(targets)
	if g.At != nil {
		origin.X, origin.Y = g.At.X, g.At.Y
	}

	// Cells are as large as the largest target.
	var cellW, cellH float64
	for _, s := range targets {
		b := s.Bounds()
		cellW = max(cellW, b.Width)
		cellH = max(cellH, b.Height)
	}

	var writes []*state.Write
	for i, s := range targets {
		row, col := i/g.Columns, i%g.Columns
		b := s.Bounds()
		tx := origin.X + float64(col)*(cellW+g.Gap)
		ty := origin.Y + float64(row)*(cellH+g.Gap)
		writes = append(writes, x.surface.UpdateShape(s.ID, s.Translate(tx-b.X, ty-b.Y)))
	}
	return writes, nil
}

func (d Distribute) apply(x *Executor) ([]*state.Write, error) {
	if d.Axis != AxisX && d.Axis != AxisY {
		return nil, fmt.Errorf("%w: axis %q", ErrParse, d.Axis)
	}
	targets, err := x.match(d.Target)
	if err != nil {
		return nil, err
	}
	if len(targets) < 3 {
		return nil, nil
	}

	span := func(r state.Rect) (start, length float64) {
		if d.Axis == AxisX {
			return r.X, r.Width
		}
		return r.Y, r.Height
	}
	sorted := slices.Clone(targets)
	slices.SortStableFunc(sorted, func(a, b state.Shape) int {
		sa, _ := span(a.Bounds())
		sb, _ := span(b.Bounds())
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	})

	first, _ := span(sorted[0].Bounds())
	lastStart, lastLen := span(sorted[len(sorted)-1].Bounds())
	var total float64
	for _, s := range sorted {
		_, l := span(s.Bounds())
		total += l
	}
	gap := (lastStart + lastLen - first - total) / float64(len(sorted)-1)

	var writes []*state.Write
	pos := first
	for i, s := range sorted {
		start, l := span(s.Bounds())
		if i > 0 && i < len(sorted)-1 && start != pos {
			delta := pos - start
			p := s.Translate(delta, 0)
			if d.Axis == AxisY {
				p = s.Translate(0, delta)
			}
			writes = append(writes, x.surface.UpdateShape(s.ID, p))
		}
		pos += l + gap
	}
	return writes, nil
}

func (t Template) apply(x *Executor) ([]*state.Write, error) {
	tpl, ok := x.templates[t.TemplateName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, t.TemplateName)
	}
	at := t.At
	if at == nil {
		want := state.Rect{X: 100, Y: 100, Width: tpl.Width, Height: tpl.Height}
		spot, ok := state.FreeSpot(x.surface.Shapes(), want, placementGap)
		if !ok {
			return nil, ErrNoSpace
		}
		at = &Point{X: spot.X, Y: spot.Y}
	}

	var writes []*state.Write
	for _, part := range tpl.Parts {
		c := part
		c.At = &Point{X: at.X + part.At.X, Y: at.Y + part.At.Y}
		if part.To != nil {
			c.To = &Point{X: at.X + part.To.X, Y: at.Y + part.To.Y}
		}
		if t.Fill != "" && c.Kind != state.KindText && c.Kind != state.KindArrow {
			c.Fill = t.Fill
		}
		ws, err := c.apply(x)
		if err != nil {
			return writes, fmt.Errorf("template %s: %w", t.TemplateName, err)
		}
		writes = append(writes, ws...)
	}
	return writes, nil
}
