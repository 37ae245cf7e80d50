package command

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SyncBoard/internal/state"
	"SyncBoard/internal/store"
)

func newBoard(t *testing.T) *state.Board {
	t.Helper()
	b := state.NewBoard(state.Config{Actor: "assistant", Store: store.NewMemory()})
	t.Cleanup(b.Close)
	return b
}

func byID(t *testing.T, b *state.Board, id string) state.Shape {
	t.Helper()
	s, ok := b.Shape(id)
	require.True(t, ok, "shape %s missing", id)
	return s
}

func TestParsePoint(t *testing.T) {
	for _, in := range []string{"10,20", "10 20", "(10, 20)", " 10 ,20 "} {
		p, err := ParsePoint(in)
		require.NoError(t, err, in)
		assert.Equal(t, Point{X: 10, Y: 20}, p, in)
	}
	for _, in := range []string{"", "10", "1,2,3", "a,b", "NaN,1"} {
		_, err := ParsePoint(in)
		assert.ErrorIs(t, err, ErrParse, in)
	}
}

func TestParseSize(t *testing.T) {
	cases := map[string]Size{
		"120x80":    {W: 120, H: 80},
		"120 x 80":  {W: 120, H: 80},
		"120*80":    {W: 120, H: 80},
		"120 by 80": {W: 120, H: 80},
		"50":        {W: 50, H: 50},
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "0x10", "-5", "wide", "1x2x3"} {
		_, err := ParseSize(in)
		assert.ErrorIs(t, err, ErrParse, in)
	}
}

func TestParseColorAndKind(t *testing.T) {
	c, err := ParseColor("Orange")
	require.NoError(t, err)
	assert.Equal(t, "#ffa500", c)

	_, err = ParseColor("blurple")
	assert.ErrorIs(t, err, ErrParse)
	assert.ErrorIs(t, err, state.ErrBadColor)

	k, err := ParseKind("Square")
	require.NoError(t, err)
	assert.Equal(t, state.KindRectangle, k)
	k, err = ParseKind("circle")
	require.NoError(t, err)
	assert.Equal(t, state.KindCircle, k)
	_, err = ParseKind("hexagon")
	assert.ErrorIs(t, err, ErrParse)
}

func TestDecode_YAML(t *testing.T) {
	ops, err := Decode(strings.NewReader(`
- op: create
  id: box1
  kind: square
  at: "10,10"
  size: 40x30
  fill: orange
- op: move
  target: {kind: rectangle}
  by: "5,0"
- op: style
  target: {ids: [box1]}
  border: dashed
- op: front
  target: {all: true}
- op: template
  template: card
`))
	require.NoError(t, err)
	require.Len(t, ops, 5)

	assert.Equal(t, Create{
		ID: "box1", Kind: state.KindRectangle, At: &Point{X: 10, Y: 10},
		Size: Size{W: 40, H: 30}, Fill: "#ffa500",
	}, ops[0])
	assert.Equal(t, Move{Target: Query{Kind: state.KindRectangle}, By: &Point{X: 5}}, ops[1])
	assert.Equal(t, Restyle{Target: Query{IDs: []string{"box1"}}, Border: state.BorderDashed}, ops[2])
	assert.Equal(t, Order{Target: Query{All: true}, Front: true}, ops[3])
	assert.Equal(t, Template{TemplateName: "card"}, ops[4])
}

func TestDecode_JSON(t *testing.T) {
	ops, err := Decode(strings.NewReader(`[{"op": "rotate", "target": {"text": "title"}, "degrees": 90}]`))
	require.NoError(t, err)
	assert.Equal(t, []Operation{Rotate{Target: Query{Text: "title"}, Degrees: 90}}, ops)

	ops, err = Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown op":    `[{op: explode}]`,
		"unknown field": `[{op: delete, colour: red}]`,
		"bad color":     `[{op: create, kind: rectangle, fill: blurple}]`,
		"bad kind":      `[{op: create, kind: hexagon}]`,
		"bad point":     `[{op: move, by: "left"}]`,
		"bad axis":      `[{op: distribute, axis: z}]`,
		"not a list":    `op: create`,
	}
	for name, in := range cases {
		_, err := Decode(strings.NewReader(in))
		assert.ErrorIs(t, err, ErrParse, name)
	}
}

func TestExecutor_CreateMoveResizeDelete(t *testing.T) {
	b := newBoard(t)
	x := NewExecutor(b, nil)
	ctx := context.Background()

	errs := x.Apply(ctx, []Operation{
		Create{ID: "r", Kind: state.KindRectangle, At: &Point{X: 0, Y: 0}, Size: Size{W: 10, H: 10}},
		Create{ID: "c", Kind: state.KindCircle, At: &Point{X: 100, Y: 100}, Size: Size{W: 20, H: 20}},
		Create{ID: "a", Kind: state.KindArrow, At: &Point{X: 0, Y: 50}, To: &Point{X: 30, Y: 50}},
		Move{Target: Query{IDs: []string{"r", "a"}}, By: &Point{X: 5, Y: 5}},
		Resize{Target: Query{Kind: state.KindCircle}, Scale: 2},
		Rotate{Target: Query{IDs: []string{"r"}}, Degrees: 30},
	})
	require.Empty(t, errs)

	r := byID(t, b, "r")
	assert.Equal(t, 5.0, r.X)
	assert.Equal(t, 30.0, r.Style.Rotation)
	assert.Equal(t, state.Arrow{EndX: 35, EndY: 55}, byID(t, b, "a").Geometry)
	c := byID(t, b, "c")
	assert.Equal(t, 110.0, c.X, "circles are placed by their bounds")
	assert.Equal(t, state.Ellipse{RadiusX: 20, RadiusY: 20}, c.Geometry)

	errs = x.Apply(ctx, []Operation{
		Delete{Target: Query{Kind: state.KindArrow}},
		Move{Target: Query{Kind: state.KindDiamond}, By: &Point{X: 1}},
		Move{Target: Query{IDs: []string{"r"}}, To: &Point{X: 200, Y: 200}},
	})
	require.Len(t, errs, 1, "a failed operation does not stop the rest")
	assert.ErrorIs(t, errs[0], ErrNoMatch)
	assert.Contains(t, errs[0].Error(), "op 2 (move)")

	_, ok := b.Shape("a")
	assert.False(t, ok)
	assert.Equal(t, 200.0, byID(t, b, "r").X)
}

func TestExecutor_MoveAfterRemoteDelete(t *testing.T) {
	m := store.NewMemory()
	b := state.NewBoard(state.Config{Actor: "assistant", Store: m})
	t.Cleanup(b.Close)
	x := NewExecutor(b, nil)
	ctx := context.Background()

	require.Empty(t, x.Apply(ctx, []Operation{
		Create{ID: "r", Kind: state.KindRectangle, At: &Point{}, Size: Size{W: 10, H: 10}},
	}))
	// Another user deletes it; this board has not seen the snapshot.
	require.NoError(t, m.Delete(ctx, "r"))

	errs := x.Apply(ctx, []Operation{
		Move{Target: Query{IDs: []string{"r"}}, By: &Point{X: 5}},
		Order{Target: Query{IDs: []string{"r"}}, Front: true},
	})
	assert.Empty(t, errs)
}

func TestExecutor_CreateFindsFreeSpot(t *testing.T) {
	b := newBoard(t)
	x := NewExecutor(b, nil)

	errs := x.Apply(context.Background(), []Operation{
		Create{ID: "one", Kind: state.KindRectangle},
		Create{ID: "two", Kind: state.KindDiamond},
	})
	require.Empty(t, errs)
	one, two := byID(t, b, "one"), byID(t, b, "two")
	assert.Equal(t, 100.0, one.X)
	assert.False(t, one.Bounds().Overlaps(two.Bounds()))
}

func TestExecutor_InvalidCreateIsReported(t *testing.T) {
	b := newBoard(t)
	x := NewExecutor(b, nil)
	errs := x.Apply(context.Background(), []Operation{
		Create{ID: "dup", Kind: state.KindRectangle, At: &Point{}},
		Create{ID: "dup", Kind: state.KindRectangle, At: &Point{}},
		Create{Kind: "hexagon", At: &Point{}},
	})
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], state.ErrDuplicateID)
	assert.ErrorIs(t, errs[1], state.ErrUnknownKind)
	assert.Equal(t, 1, b.Len())
}

func TestExecutor_GridAndDistribute(t *testing.T) {
	b := newBoard(t)
	x := NewExecutor(b, nil)
	ctx := context.Background()

	var ops []Operation
	for i, id := range []string{"a", "b", "c", "d"} {
		ops = append(ops, Create{ID: id, Kind: state.KindRectangle, At: &Point{X: float64(i) * 300, Y: 500}, Size: Size{W: 10, H: 10}})
	}
	ops = append(ops, Grid{Target: Query{All: true}, Columns: 2, Gap: 5, At: &Point{}})
	require.Empty(t, x.Apply(ctx, ops))

	pos := func(id string) Point {
		s := byID(t, b, id)
		return Point{X: s.X, Y: s.Y}
	}
	assert.Equal(t, Point{0, 0}, pos("a"))
	assert.Equal(t, Point{15, 0}, pos("b"))
	assert.Equal(t, Point{0, 15}, pos("c"))
	assert.Equal(t, Point{15, 15}, pos("d"))

	require.Empty(t, x.Apply(ctx, []Operation{
		Move{Target: Query{IDs: []string{"d"}}, To: &Point{X: 100, Y: 0}},
		Distribute{Target: Query{IDs: []string{"a", "b", "d"}}, Axis: AxisX},
	}))
	assert.Equal(t, 0.0, pos("a").X)
	assert.Equal(t, 50.0, pos("b").X)
	assert.Equal(t, 100.0, pos("d").X)
}

func TestExecutor_OrderKeepsRelativeOrder(t *testing.T) {
	b := newBoard(t)
	x := NewExecutor(b, nil)
	ctx := context.Background()

	require.Empty(t, x.Apply(ctx, []Operation{
		Create{ID: "a", Kind: state.KindRectangle, At: &Point{}, Fill: "#ff0000"},
		Create{ID: "b", Kind: state.KindRectangle, At: &Point{}, Fill: "#ff0000"},
		Create{ID: "c", Kind: state.KindRectangle, At: &Point{}},
	}))
	require.Empty(t, x.Apply(ctx, []Operation{Order{Target: Query{Fill: "#ff0000"}, Front: true}}))

	ids := func() []string {
		var out []string
		for _, s := range b.Shapes() {
			out = append(out, s.ID)
		}
		return out
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids())

	require.Empty(t, x.Apply(ctx, []Operation{Order{Target: Query{Fill: "#ff0000"}}}))
	assert.Equal(t, []string{"a", "b", "c"}, ids())
	assert.Equal(t, []string{"a", "b"}, x.Query(Query{Fill: "#ff0000"}))
}

func TestExecutor_Template(t *testing.T) {
	b := newBoard(t)
	x := NewExecutor(b, nil)
	ctx := context.Background()

	require.Empty(t, x.Apply(ctx, []Operation{Template{TemplateName: "login-form", At: &Point{X: 500, Y: 500}, Fill: "#eeeeee"}}))
	assert.Equal(t, 7, b.Len())
	assert.Len(t, x.Query(Query{Kind: state.KindText}), 4)
	assert.Len(t, x.Query(Query{Fill: "#eeeeee"}), 3)
	assert.Empty(t, x.Query(Query{Text: "missing"}))
	for _, s := range b.Shapes() {
		assert.GreaterOrEqual(t, s.X, 500.0)
	}

	errs := x.Apply(ctx, []Operation{Template{TemplateName: "spaceship"}})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownTemplate)
}

func TestLoadTemplates(t *testing.T) {
	assert.Equal(t, []string{"card", "flowchart", "kanban", "login-form"}, TemplateNames())
	card := builtinTemplates()["card"]
	assert.Equal(t, 220.0, card.Width)
	assert.Equal(t, 140.0, card.Height)

	_, err := LoadTemplates([]byte("broken:\n  parts: []\n"))
	assert.ErrorIs(t, err, ErrParse)

	defs, err := LoadTemplates([]byte("dot:\n  parts:\n    - {kind: circle, at: \"0,0\", size: \"4\"}\n"))
	require.NoError(t, err)
	x := NewExecutor(newBoard(t), nil)
	x.AddTemplates(defs)
	assert.Empty(t, x.Apply(context.Background(), []Operation{Template{TemplateName: "dot", At: &Point{X: 1, Y: 1}}}))
}

func TestQuery_EmptySelectsNothing(t *testing.T) {
	shapes := []state.Shape{state.NewRectangle(0, 0, 1, 1)}
	assert.Empty(t, Query{}.Match(shapes))
	assert.Len(t, Query{All: true}.Match(shapes), 1)
}
