package command

import (
	_ "embed"
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"

	"SyncBoard/internal/state"
)

//go:embed templates.yaml
var templatesYAML []byte

// TemplateDef is a composite of shapes placed together. Part positions are
// offsets from the template origin.
type TemplateDef struct {
	Description string
	Parts       []Create

	// Width and Height cover every part.
	Width  float64
	Height float64
}

type templateSpec struct {
	Description string     `yaml:"description"`
	Parts       []partSpec `yaml:"parts" validate:"required,min=1,dive"`
}

type partSpec struct {
	Kind   string `yaml:"kind" validate:"required"`
	At     string `yaml:"at" validate:"required"`
	To     string `yaml:"to"`
	Size   string `yaml:"size"`
	Text   string `yaml:"text"`
	Fill   string `yaml:"fill"`
	Stroke string `yaml:"stroke"`
	Border string `yaml:"border"`
}

// LoadTemplates parses a YAML map of template name to definition.
func LoadTemplates(data []byte) (map[string]TemplateDef, error) {
	var specs map[string]templateSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("%w: templates: %w", ErrParse, err)
	}
	defs := make(map[string]TemplateDef, len(specs))
	for name, spec := range specs {
		def, err := spec.definition()
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		defs[name] = def
	}
	return defs, nil
}

func (t templateSpec) definition() (TemplateDef, error) {
	if err := validate.Struct(t); err != nil {
		return TemplateDef{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	def := TemplateDef{Description: t.Description}
	var shapes []state.Shape
	for i, p := range t.Parts {
		op, err := opSpec{
			Op: "create", Kind: p.Kind, At: p.At, To: p.To, Size: p.Size,
			Text: p.Text, Fill: p.Fill, Stroke: p.Stroke, Border: p.Border,
		}.create()
		if err != nil {
			return TemplateDef{}, fmt.Errorf("part %d: %w", i+1, err)
		}
		c := op.(Create)
		s, err := c.build(*c.At)
		if err != nil {
			return TemplateDef{}, fmt.Errorf("part %d: %w", i+1, err)
		}
		def.Parts = append(def.Parts, c)
		shapes = append(shapes, s)
	}
	b, _ := state.BoundsOf(shapes)
	def.Width, def.Height = b.X+b.Width, b.Y+b.Height
	return def, nil
}

var builtins map[string]TemplateDef

func init() {
	defs, err := LoadTemplates(templatesYAML)
	if err != nil {
		panic(err)
	}
	builtins = defs
}

func builtinTemplates() map[string]TemplateDef { return maps.Clone(builtins) }

// TemplateNames lists the built-in templates.
func TemplateNames() []string { return slices.Sorted(maps.Keys(builtins)) }
