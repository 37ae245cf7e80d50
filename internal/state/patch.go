package state

import "time"

// Patch is a partial update. Nil fields are left unchanged. Fields that do
// not apply to a shape's geometry are ignored by Apply. The JSON keys match
// the document schema so a patch can be merged into a stored document.
type Patch struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`

	Width      *float64 `json:"width,omitempty"`
	Height     *float64 `json:"height,omitempty"`
	RadiusX    *float64 `json:"radiusX,omitempty"`
	RadiusY    *float64 `json:"radiusY,omitempty"`
	Text       *string  `json:"text,omitempty"`
	FontSize   *float64 `json:"fontSize,omitempty"`
	FontFamily *string  `json:"fontFamily,omitempty"`
	Align      *string  `json:"align,omitempty"`
	EndX       *float64 `json:"endX,omitempty"`
	EndY       *float64 `json:"endY,omitempty"`

	Fill        *string      `json:"fill,omitempty"`
	Stroke      *string      `json:"stroke,omitempty"`
	StrokeWidth *float64     `json:"strokeWidth,omitempty"`
	Border      *BorderStyle `json:"borderStyle,omitempty"`
	Rotation    *float64     `json:"rotation,omitempty"`

	Z *float64 `json:"zIndex,omitempty"`

	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
	LastModifiedBy *string    `json:"lastModifiedBy,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// Merge returns p with every field set in q taking precedence.
func (p Patch) Merge(q Patch) Patch {
	pick(&p.X, q.X)
	pick(&p.Y, q.Y)
	pick(&p.Width, q.Width)
	pick(&p.Height, q.Height)
	pick(&p.RadiusX, q.RadiusX)
	pick(&p.RadiusY, q.RadiusY)
	pick(&p.Text, q.Text)
	pick(&p.FontSize, q.FontSize)
	pick(&p.FontFamily, q.FontFamily)
	pick(&p.Align, q.Align)
	pick(&p.EndX, q.EndX)
	pick(&p.EndY, q.EndY)
	pick(&p.Fill, q.Fill)
	pick(&p.Stroke, q.Stroke)
	pick(&p.StrokeWidth, q.StrokeWidth)
	pick(&p.Border, q.Border)
	pick(&p.Rotation, q.Rotation)
	pick(&p.Z, q.Z)
	pick(&p.UpdatedAt, q.UpdatedAt)
	pick(&p.LastModifiedBy, q.LastModifiedBy)
	return p
}

func pick[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

// Apply returns s with the patch applied.
func (p Patch) Apply(s Shape) Shape {
	set(&s.X, p.X)
	set(&s.Y, p.Y)

	switch g := s.Geometry.(type) {
	case Box:
		set(&g.Width, p.Width)
		set(&g.Height, p.Height)
		s.Geometry = g
	case Ellipse:
		set(&g.RadiusX, p.RadiusX)
		set(&g.RadiusY, p.RadiusY)
		s.Geometry = g
	case Label:
		set(&g.Text, p.Text)
		set(&g.Width, p.Width)
		set(&g.FontSize, p.FontSize)
		set(&g.FontFamily, p.FontFamily)
		set(&g.Align, p.Align)
		s.Geometry = g
	case Arrow:
		set(&g.EndX, p.EndX)
		set(&g.EndY, p.EndY)
		s.Geometry = g
	}

	set(&s.Style.Fill, p.Fill)
	set(&s.Style.Stroke, p.Stroke)
	set(&s.Style.StrokeWidth, p.StrokeWidth)
	set(&s.Style.Border, p.Border)
	set(&s.Style.Rotation, p.Rotation)
	set(&s.Z, p.Z)
	set(&s.UpdatedAt, p.UpdatedAt)
	set(&s.LastModifiedBy, p.LastModifiedBy)
	return s
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
