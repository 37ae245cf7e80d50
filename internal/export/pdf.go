// Package export renders board snapshots to PDF and uploads them.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"SyncBoard/internal/state"
)

// ErrNoGeometry is returned for a shape without geometry.
var ErrNoGeometry = errors.New("shape has no geometry")

// Options controls the page.
type Options struct {
	Title string
	// Grid draws the board grid behind the shapes, GridSize board units apart.
	Grid     bool
	GridSize float64
	// Margin in millimetres around the drawing.
	Margin float64
}

const (
	defaultMargin   = 10
	defaultGridSize = 50
	// maxScale keeps small boards from being blown up: one board unit is
	// at most a third of a millimetre.
	maxScale = 1.0 / 3
)

// page maps board coordinates to millimetres on an A4 landscape page.
type page struct {
	pdf      *gofpdf.Fpdf
	scale    float64
	originX  float64
	originY  float64
	area     state.Rect
	tr       func(string) string
	topInset float64
}

func (p *page) x(v float64) float64 { return p.originX + (v-p.area.X)*p.scale }
func (p *page) y(v float64) float64 { return p.originY + (v-p.area.Y)*p.scale }
func (p *page) d(v float64) float64 { return v * p.scale }

// Write renders shapes, in paint order, to w.
func Write(w io.Writer, shapes []state.Shape, opts Options) error {
	pdf, err := render(shapes, opts)
	if err != nil {
		return err
	}
	return pdf.Output(w)
}

// WriteFile renders shapes into a PDF file at path.
func WriteFile(path string, shapes []state.Shape, opts Options) error {
	pdf, err := render(shapes, opts)
	if err != nil {
		return err
	}
	return pdf.OutputFileAndClose(path)
}

func render(shapes []state.Shape, opts Options) (*gofpdf.Fpdf, error) {
	if opts.Margin <= 0 {
		opts.Margin = defaultMargin
	}
	if opts.GridSize <= 0 {
		opts.GridSize = defaultGridSize
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetCreator("SyncBoard", true)
	pdf.SetAutoPageBreak(false, 0)
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}
	pdf.AddPage()

	pw, ph := pdf.GetPageSize()
	p := &page{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	if opts.Title != "" {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetTextColor(0, 0, 0)
		pdf.Text(opts.Margin, opts.Margin+5, p.tr(opts.Title))
		p.topInset = 10
	}

	area, ok := state.BoundsOf(shapes)
	if !ok {
		area = state.Rect{Width: 1, Height: 1}
	}
	availW := pw - 2*opts.Margin
	availH := ph - 2*opts.Margin - p.topInset
	p.area = area
	p.scale = maxScale
	if area.Width > 0 {
		p.scale = math.Min(p.scale, availW/area.Width)
	}
	if area.Height > 0 {
		p.scale = math.Min(p.scale, availH/area.Height)
	}
	p.originX = opts.Margin
	p.originY = opts.Margin + p.topInset

	if opts.Grid {
		p.grid(opts.GridSize, availW, availH)
	}
	for _, s := range shapes {
		if err := p.shape(s); err != nil {
			return nil, fmt.Errorf("draw %s: %w", s.ID, err)
		}
	}
	if pdf.Err() {
		return nil, pdf.Error()
	}
	return pdf, nil
}

// grid draws light lines every size board units across the drawing area.
func (p *page) grid(size, w, h float64) {
	p.pdf.SetDashPattern(nil, 0)
	p.pdf.SetDrawColor(225, 228, 232)
	p.pdf.SetLineWidth(0.1)
	step := p.d(size)
	if step < 1 {
		return
	}
	startX := p.originX - math.Mod(p.area.X, size)*p.scale
	for gx := startX; gx <= p.originX+w; gx += step {
		if gx >= p.originX {
			p.pdf.Line(gx, p.originY, gx, p.originY+h)
		}
	}
	startY := p.originY - math.Mod(p.area.Y, size)*p.scale
	for gy := startY; gy <= p.originY+h; gy += step {
		if gy >= p.originY {
			p.pdf.Line(p.originX, gy, p.originX+w, gy)
		}
	}
}

func (p *page) shape(s state.Shape) error {
	fillStyle := p.style(s.Style)

	b := s.Bounds()
	cx, cy := b.Center()
	if s.Style.Rotation != 0 {
		p.pdf.TransformBegin()
		// PDF angles run counter-clockwise, board angles clockwise.
		p.pdf.TransformRotate(-s.Style.Rotation, p.x(cx), p.y(cy))
		defer p.pdf.TransformEnd()
	}

	switch g := s.Geometry.(type) {
	case state.Box:
		if s.Kind == state.KindDiamond {
			x, y, w, h := p.x(s.X), p.y(s.Y), p.d(g.Width), p.d(g.Height)
			p.pdf.Polygon([]gofpdf.PointType{
				{X: x + w/2, Y: y},
				{X: x + w, Y: y + h/2},
				{X: x + w/2, Y: y + h},
				{X: x, Y: y + h/2},
			}, fillStyle)
			return nil
		}
		p.pdf.Rect(p.x(s.X), p.y(s.Y), p.d(g.Width), p.d(g.Height), fillStyle)
	case state.Ellipse:
		p.pdf.Ellipse(p.x(s.X), p.y(s.Y), p.d(g.RadiusX), p.d(g.RadiusY), 0, fillStyle)
	case state.Label:
		p.label(s, g)
	case state.Arrow:
		p.arrow(s, g)
	case nil:
		return ErrNoGeometry
	default:
		return fmt.Errorf("%w: %T", state.ErrGeometryMismatch, g)
	}
	return nil
}

// style sets colors, width and dashes and returns the gofpdf draw style.
func (p *page) style(st state.Style) string {
	r, g, b, ok, err := state.RGB(st.Stroke)
	if err != nil || !ok {
		r, g, b = 0, 0, 0
	}
	p.pdf.SetDrawColor(r, g, b)
	p.pdf.SetLineWidth(math.Max(p.d(st.StrokeWidth), 0.1))

	w := math.Max(p.d(st.StrokeWidth), 0.2)
	switch st.Border {
	case state.BorderDashed:
		p.pdf.SetDashPattern([]float64{4 * w, 2 * w}, 0)
	case state.BorderDotted:
		p.pdf.SetDashPattern([]float64{w, 1.5 * w}, 0)
	default:
		p.pdf.SetDashPattern(nil, 0)
	}

	r, g, b, ok, err = state.RGB(st.Fill)
	if err != nil || !ok {
		return "D"
	}
	p.pdf.SetFillColor(r, g, b)
	return "FD"
}

var coreFonts = map[string]string{
	"helvetica": "Helvetica",
	"arial":     "Helvetica",
	"sans":      "Helvetica",
	"times":     "Times",
	"serif":     "Times",
	"courier":   "Courier",
	"monospace": "Courier",
}

func (p *page) label(s state.Shape, l state.Label) {
	family, ok := coreFonts[strings.ToLower(l.FontFamily)]
	if !ok {
		family = "Helvetica"
	}
	p.pdf.SetFont(family, "", 12)
	size := p.d(l.FontSize)
	p.pdf.SetFontUnitSize(size)

	// Text takes the stroke color; an unset stroke falls back to black.
	r, g, b, ok, err := state.RGB(s.Style.Stroke)
	if err != nil || !ok {
		r, g, b = 0, 0, 0
	}
	p.pdf.SetTextColor(r, g, b)

	x := p.x(s.X)
	y := p.y(s.Y) + size
	for i, line := range strings.Split(l.Text, "\n") {
		text := p.tr(line)
		lx := x
		if l.Width > 0 {
			width := p.pdf.GetStringWidth(text)
			switch l.Align {
			case "center":
				lx = x + (p.d(l.Width)-width)/2
			case "right":
				lx = x + p.d(l.Width) - width
			}
		}
		p.pdf.Text(lx, y+float64(i)*size*1.25, text)
	}
}

func (p *page) arrow(s state.Shape, a state.Arrow) {
	x1, y1, x2, y2 := p.x(s.X), p.y(s.Y), p.x(a.EndX), p.y(a.EndY)
	p.pdf.Line(x1, y1, x2, y2)

	length := math.Hypot(x2-x1, y2-y1)
	if length == 0 {
		return
	}
	head := math.Min(math.Max(p.d(s.Style.StrokeWidth)*4, 1.5), length/2)
	angle := math.Atan2(y2-y1, x2-x1)
	const spread = math.Pi / 7
	r, g, b, ok, err := state.RGB(s.Style.Stroke)
	if err != nil || !ok {
		r, g, b = 0, 0, 0
	}
	p.pdf.SetFillColor(r, g, b)
	p.pdf.SetDashPattern(nil, 0)
	p.pdf.Polygon([]gofpdf.PointType{
		{X: x2, Y: y2},
		{X: x2 - head*math.Cos(angle-spread), Y: y2 - head*math.Sin(angle-spread)},
		{X: x2 - head*math.Cos(angle+spread), Y: y2 - head*math.Sin(angle+spread)},
	}, "F")
}
