package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// shapeValidate checks documents at the trust boundary (hub ingress,
// command translation, local creates).
var shapeValidate = validator.New()

// document is the flat wire and storage form of a Shape.
type document struct {
	ID   string  `json:"id" validate:"required,max=128"`
	Type Kind    `json:"type" validate:"required,oneof=rectangle diamond circle text arrow"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`

	Width      *float64 `json:"width,omitempty" validate:"omitempty,gte=0"`
	Height     *float64 `json:"height,omitempty" validate:"omitempty,gte=0"`
	RadiusX    *float64 `json:"radiusX,omitempty" validate:"omitempty,gte=0"`
	RadiusY    *float64 `json:"radiusY,omitempty" validate:"omitempty,gte=0"`
	Text       *string  `json:"text,omitempty" validate:"omitempty,max=10000"`
	FontSize   *float64 `json:"fontSize,omitempty" validate:"omitempty,gt=0"`
	FontFamily *string  `json:"fontFamily,omitempty"`
	Align      *string  `json:"align,omitempty" validate:"omitempty,oneof=left center right"`
	EndX       *float64 `json:"endX,omitempty"`
	EndY       *float64 `json:"endY,omitempty"`

	Fill        string      `json:"fill,omitempty"`
	Stroke      string      `json:"stroke,omitempty"`
	StrokeWidth float64     `json:"strokeWidth" validate:"gte=0"`
	BorderStyle BorderStyle `json:"borderStyle,omitempty" validate:"omitempty,oneof=solid dashed dotted"`
	Rotation    float64     `json:"rotation"`

	ZIndex float64 `json:"zIndex"`

	OwnerID        string    `json:"ownerId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
}

func (s Shape) document() document {
	d := document{
		ID:             s.ID,
		Type:           s.Kind,
		X:              s.X,
		Y:              s.Y,
		Fill:           s.Style.Fill,
		Stroke:         s.Style.Stroke,
		StrokeWidth:    s.Style.StrokeWidth,
		BorderStyle:    s.Style.Border,
		Rotation:       s.Style.Rotation,
		ZIndex:         s.Z,
		OwnerID:        s.OwnerID,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		LastModifiedBy: s.LastModifiedBy,
	}
	switch g := s.Geometry.(type) {
	case Box:
		d.Width, d.Height = Ptr(g.Width), Ptr(g.Height)
	case Ellipse:
		d.RadiusX, d.RadiusY = Ptr(g.RadiusX), Ptr(g.RadiusY)
	case Label:
		d.Text, d.Width = Ptr(g.Text), Ptr(g.Width)
		d.FontSize, d.FontFamily, d.Align = Ptr(g.FontSize), Ptr(g.FontFamily), Ptr(g.Align)
	case Arrow:
		d.EndX, d.EndY = Ptr(g.EndX), Ptr(g.EndY)
	}
	return d
}

func (d document) shape() (Shape, error) {
	s := Shape{
		ID:   d.ID,
		Kind: d.Type,
		X:    d.X,
		Y:    d.Y,
		Style: Style{
			Fill:        d.Fill,
			Stroke:      d.Stroke,
			StrokeWidth: d.StrokeWidth,
			Border:      d.BorderStyle,
			Rotation:    d.Rotation,
		},
		Z:              d.ZIndex,
		OwnerID:        d.OwnerID,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		LastModifiedBy: d.LastModifiedBy,
	}
	g, err := emptyGeometry(d.Type)
	if err != nil {
		return Shape{}, err
	}
	// Geometry fields are read through a Patch so that a document written
	// for a different kind decodes the same way Apply would treat it.
	s.Geometry = g
	s = Patch{
		Width: d.Width, Height: d.Height,
		RadiusX: d.RadiusX, RadiusY: d.RadiusY,
		Text: d.Text, FontSize: d.FontSize, FontFamily: d.FontFamily, Align: d.Align,
		EndX: d.EndX, EndY: d.EndY,
	}.Apply(s)
	return s, nil
}

// MarshalJSON encodes the shape as a flat document.
func (s Shape) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.document())
}

// UnmarshalJSON decodes a flat document.
func (s *Shape) UnmarshalJSON(data []byte) error {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	decoded, err := d.shape()
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// Validate checks the document constraints and that the geometry matches
// the kind.
func (s Shape) Validate() error {
	if err := s.CheckGeometry(); err != nil {
		return err
	}
	if err := shapeValidate.Struct(s.document()); err != nil {
		return fmt.Errorf("invalid shape %q: %w", s.ID, err)
	}
	return nil
}
