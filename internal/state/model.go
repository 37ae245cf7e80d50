package state

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the shape discriminant.
type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindDiamond   Kind = "diamond"
	KindCircle    Kind = "circle"
	KindText      Kind = "text"
	KindArrow     Kind = "arrow"
)

// Kinds lists every shape kind.
var Kinds = []Kind{KindRectangle, KindDiamond, KindCircle, KindText, KindArrow}

var (
	ErrUnknownKind      = errors.New("unknown shape kind")
	ErrGeometryMismatch = errors.New("geometry does not match shape kind")
)

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRectangle, KindDiamond, KindCircle, KindText, KindArrow:
		return true
	}
	return false
}

// Geometry is the kind-specific part of a shape. It is implemented only by
// Box, Ellipse, Label and Arrow.
type Geometry interface {
	geometry()
}

// Box is the geometry of rectangles and diamonds. X/Y is the top-left corner.
type Box struct {
	Width  float64
	Height float64
}

// Ellipse is the geometry of circles. X/Y is the center.
type Ellipse struct {
	RadiusX float64
	RadiusY float64
}

// Label is the geometry of text shapes. X/Y is the top-left corner.
type Label struct {
	Text       string
	Width      float64
	FontSize   float64
	FontFamily string
	Align      string
}

// Arrow runs from the shape's X/Y to EndX/EndY.
type Arrow struct {
	EndX float64
	EndY float64
}

func (Box) geometry()     {}
func (Ellipse) geometry() {}
func (Label) geometry()   {}
func (Arrow) geometry()   {}

// BorderStyle is the stroke pattern of a shape outline.
type BorderStyle string

const (
	BorderSolid  BorderStyle = "solid"
	BorderDashed BorderStyle = "dashed"
	BorderDotted BorderStyle = "dotted"
)

// Style holds the attributes shared by every kind.
type Style struct {
	Fill        string
	Stroke      string
	StrokeWidth float64
	Border      BorderStyle
	Rotation    float64
}

// DefaultStyle is applied by the constructors.
var DefaultStyle = Style{
	Fill:        "transparent",
	Stroke:      "#000000",
	StrokeWidth: 2,
	Border:      BorderSolid,
}

// Shape is one visual entity on the board.
type Shape struct {
	ID       string
	Kind     Kind
	X, Y     float64
	Geometry Geometry
	Style    Style

	// Z orders painting and hit-testing; larger is on top.
	Z float64

	OwnerID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastModifiedBy string
}

// NewRectangle returns a rectangle with a fresh id and the default style.
func NewRectangle(x, y, w, h float64) Shape {
	return Shape{ID: NewID(), Kind: KindRectangle, X: x, Y: y, Geometry: Box{Width: w, Height: h}, Style: DefaultStyle}
}

// NewDiamond returns a diamond inscribed in the w×h box at x, y.
func NewDiamond(x, y, w, h float64) Shape {
	return Shape{ID: NewID(), Kind: KindDiamond, X: x, Y: y, Geometry: Box{Width: w, Height: h}, Style: DefaultStyle}
}

// NewCircle returns an ellipse centered on cx, cy.
func NewCircle(cx, cy, rx, ry float64) Shape {
	return Shape{ID: NewID(), Kind: KindCircle, X: cx, Y: cy, Geometry: Ellipse{RadiusX: rx, RadiusY: ry}, Style: DefaultStyle}
}

// NewText returns a text shape with a 16pt default font.
func NewText(x, y float64, text string) Shape {
	return Shape{
		ID: NewID(), Kind: KindText, X: x, Y: y,
		Geometry: Label{Text: text, FontSize: 16, FontFamily: "Helvetica", Align: "left"},
		Style:    DefaultStyle,
	}
}

// NewArrow returns an arrow from x1, y1 to x2, y2.
func NewArrow(x1, y1, x2, y2 float64) Shape {
	return Shape{ID: NewID(), Kind: KindArrow, X: x1, Y: y1, Geometry: Arrow{EndX: x2, EndY: y2}, Style: DefaultStyle}
}

// CheckGeometry verifies that the geometry variant matches the kind.
func (s Shape) CheckGeometry() error {
	var ok bool
	switch s.Kind {
	case KindRectangle, KindDiamond:
		_, ok = s.Geometry.(Box)
	case KindCircle:
		_, ok = s.Geometry.(Ellipse)
	case KindText:
		_, ok = s.Geometry.(Label)
	case KindArrow:
		_, ok = s.Geometry.(Arrow)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: %s with %T", ErrGeometryMismatch, s.Kind, s.Geometry)
	}
	return nil
}

// emptyGeometry returns the zero geometry for k.
func emptyGeometry(k Kind) (Geometry, error) {
	switch k {
	case KindRectangle, KindDiamond:
		return Box{}, nil
	case KindCircle:
		return Ellipse{}, nil
	case KindText:
		return Label{}, nil
	case KindArrow:
		return Arrow{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
}

// Translate moves the shape by dx, dy. Arrows move both endpoints.
func (s Shape) Translate(dx, dy float64) Patch {
	p := Patch{X: Ptr(s.X + dx), Y: Ptr(s.Y + dy)}
	if a, ok := s.Geometry.(Arrow); ok {
		p.EndX = Ptr(a.EndX + dx)
		p.EndY = Ptr(a.EndY + dy)
	}
	return p
}

// Resize returns the patch that gives the shape a w×h bounding box while
// keeping its anchor point.
func (s Shape) Resize(w, h float64) Patch {
	switch g := s.Geometry.(type) {
	case Box:
		return Patch{Width: Ptr(w), Height: Ptr(h)}
	case Ellipse:
		return Patch{RadiusX: Ptr(w / 2), RadiusY: Ptr(h / 2)}
	case Label:
		return Patch{Width: Ptr(w)}
	case Arrow:
		dx, dy := g.EndX-s.X, g.EndY-s.Y
		sx, sy := 1.0, 1.0
		if dx < 0 {
			sx = -1
		}
		if dy < 0 {
			sy = -1
		}
		return Patch{EndX: Ptr(s.X + sx*w), EndY: Ptr(s.Y + sy*h)}
	}
	return Patch{}
}
