package command

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// opSpec is the file form of one operation. JSON input is read through
// the same YAML decoder.
type opSpec struct {
	Op       string     `yaml:"op" validate:"required,oneof=create move resize rotate style delete front back grid distribute template"`
	ID       string     `yaml:"id" validate:"omitempty,max=128"`
	Kind     string     `yaml:"kind"`
	Target   *querySpec `yaml:"target"`
	At       string     `yaml:"at"`
	To       string     `yaml:"to"`
	By       string     `yaml:"by"`
	Size     string     `yaml:"size"`
	Scale    float64    `yaml:"scale" validate:"gte=0"`
	Degrees  float64    `yaml:"degrees" validate:"gte=-360,lte=360"`
	Text     string     `yaml:"text" validate:"max=10000"`
	Fill     string     `yaml:"fill"`
	Stroke   string     `yaml:"stroke"`
	Border   string     `yaml:"border"`
	Columns  int        `yaml:"columns" validate:"gte=0,lte=100"`
	Gap      float64    `yaml:"gap" validate:"gte=0"`
	Axis     string     `yaml:"axis" validate:"omitempty,oneof=x y"`
	Template string     `yaml:"template"`
}

type querySpec struct {
	IDs  []string `yaml:"ids"`
	Kind string   `yaml:"kind"`
	Fill string   `yaml:"fill"`
	Text string   `yaml:"text"`
	All  bool     `yaml:"all"`
}

// Decode reads a YAML or JSON list of operations. Unknown fields are
// rejected. The first invalid entry fails the whole list.
func Decode(r io.Reader) ([]Operation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read operations: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var specs []opSpec
	if err := dec.Decode(&specs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: operations: %w", ErrParse, err)
	}

	ops := make([]Operation, 0, len(specs))
	for i, s := range specs {
		op, err := s.operation()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i+1, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (s opSpec) operation() (Operation, error) {
	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	target, err := s.target()
	if err != nil {
		return nil, err
	}

	switch s.Op {
	case "create":
		return s.create()
	case "move":
		m := Move{Target: target}
		if m.By, err = optionalPoint(s.By); err != nil {
			return nil, err
		}
		if m.To, err = optionalPoint(s.To); err != nil {
			return nil, err
		}
		return m, nil
	case "resize":
		r := Resize{Target: target, Scale: s.Scale}
		if s.Size != "" {
			size, err := ParseSize(s.Size)
			if err != nil {
				return nil, err
			}
			r.Size = &size
		}
		return r, nil
	case "rotate":
		return Rotate{Target: target, Degrees: s.Degrees}, nil
	case "style":
		r := Restyle{Target: target}
		if r.Fill, err = optionalColor(s.Fill); err != nil {
			return nil, err
		}
		if r.Stroke, err = optionalColor(s.Stroke); err != nil {
			return nil, err
		}
		if s.Border != "" {
			if r.Border, err = ParseBorder(s.Border); err != nil {
				return nil, err
			}
		}
		return r, nil
	case "delete":
		return Delete{Target: target}, nil
	case "front", "back":
		return Order{Target: target, Front: s.Op == "front"}, nil
	case "grid":
		g := Grid{Target: target, Columns: s.Columns, Gap: s.Gap}
		if g.At, err = optionalPoint(s.At); err != nil {
			return nil, err
		}
		return g, nil
	case "distribute":
		return Distribute{Target: target, Axis: Axis(s.Axis)}, nil
	case "template":
		t := Template{TemplateName: s.Template}
		if t.At, err = optionalPoint(s.At); err != nil {
			return nil, err
		}
		if t.Fill, err = optionalColor(s.Fill); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: op %q", ErrParse, s.Op)
}

func (s opSpec) create() (Operation, error) {
	kind, err := ParseKind(s.Kind)
	if err != nil {
		return nil, err
	}
	c := Create{ID: s.ID, Kind: kind, Text: s.Text}
	if c.At, err = optionalPoint(s.At); err != nil {
		return nil, err
	}
	if c.To, err = optionalPoint(s.To); err != nil {
		return nil, err
	}
	if s.Size != "" {
		if c.Size, err = ParseSize(s.Size); err != nil {
			return nil, err
		}
	}
	if c.Fill, err = optionalColor(s.Fill); err != nil {
		return nil, err
	}
	if c.Stroke, err = optionalColor(s.Stroke); err != nil {
		return nil, err
	}
	if s.Border != "" {
		if c.Border, err = ParseBorder(s.Border); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s opSpec) target() (Query, error) {
	if s.Target == nil {
		return Query{}, nil
	}
	q := Query{IDs: s.Target.IDs, Text: s.Target.Text, All: s.Target.All}
	var err error
	if s.Target.Kind != "" {
		if q.Kind, err = ParseKind(s.Target.Kind); err != nil {
			return Query{}, err
		}
	}
	if q.Fill, err = optionalColor(s.Target.Fill); err != nil {
		return Query{}, err
	}
	return q, nil
}

func optionalPoint(s string) (*Point, error) {
	if s == "" {
		return nil, nil
	}
	p, err := ParsePoint(s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func optionalColor(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return ParseColor(s)
}
