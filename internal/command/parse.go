package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"SyncBoard/internal/state"
)

// ErrParse is returned for any value that cannot be read. Callers get the
// error, never a silent default.
var ErrParse = errors.New("parse error")

// Point is a board position.
type Point struct {
	X float64
	Y float64
}

// Size is a width and height.
type Size struct {
	W float64
	H float64
}

// ParseColor accepts a palette name, "#rgb", "#rrggbb" or "transparent"
// and returns the canonical form stored on shapes.
func ParseColor(s string) (string, error) {
	c, err := state.ParseColor(s)
	if err != nil {
		return "", fmt.Errorf("%w: color: %w", ErrParse, err)
	}
	return c, nil
}

// ParsePoint reads "x,y", "x y" or "(x, y)".
func ParsePoint(s string) (Point, error) {
	fields := numberFields(strings.Trim(strings.TrimSpace(s), "()"))
	if len(fields) != 2 {
		return Point{}, fmt.Errorf("%w: point %q: want two numbers", ErrParse, s)
	}
	x, err := parseNumber("point", fields[0])
	if err != nil {
		return Point{}, err
	}
	y, err := parseNumber("point", fields[1])
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}

// ParseSize reads "WxH", "W*H", "W by H" or a single number for a square.
// Both sides must be positive.
func ParseSize(s string) (Size, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" by ", "x", "*", "x", "×", "x", " ", "").Replace(norm)
	parts := strings.Split(norm, "x")
	if len(parts) > 2 || norm == "" {
		return Size{}, fmt.Errorf("%w: size %q", ErrParse, s)
	}
	w, err := parseNumber("size", parts[0])
	if err != nil {
		return Size{}, err
	}
	h := w
	if len(parts) == 2 {
		if h, err = parseNumber("size", parts[1]); err != nil {
			return Size{}, err
		}
	}
	if w <= 0 || h <= 0 {
		return Size{}, fmt.Errorf("%w: size %q must be positive", ErrParse, s)
	}
	return Size{W: w, H: h}, nil
}

var kindAliases = map[string]state.Kind{
	"rect":    state.KindRectangle,
	"box":     state.KindRectangle,
	"square":  state.KindRectangle,
	"rhombus": state.KindDiamond,
	"ellipse": state.KindCircle,
	"oval":    state.KindCircle,
	"label":   state.KindText,
	"line":    state.KindArrow,
}

// ParseKind reads a shape kind or a common synonym such as "square".
func ParseKind(s string) (state.Kind, error) {
	k := state.Kind(strings.ToLower(strings.TrimSpace(s)))
	if k.Valid() {
		return k, nil
	}
	if alias, ok := kindAliases[string(k)]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("%w: kind %q", ErrParse, s)
}

// ParseBorder reads solid, dashed or dotted.
func ParseBorder(s string) (state.BorderStyle, error) {
	switch b := state.BorderStyle(strings.ToLower(strings.TrimSpace(s))); b {
	case state.BorderSolid, state.BorderDashed, state.BorderDotted:
		return b, nil
	}
	return "", fmt.Errorf("%w: border %q", ErrParse, s)
}

func numberFields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
}

func parseNumber(what, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %q is not a number", ErrParse, what, s)
	}
	return v, nil
}
