package state

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadColor is returned for colors that are neither a known name nor hex.
var ErrBadColor = errors.New("unrecognized color")

// Transparent is the fill value for unfilled shapes.
const Transparent = "transparent"

// namedColors maps the palette names accepted from users to canonical hex.
var namedColors = map[string]string{
	"black":  "#000000",
	"white":  "#ffffff",
	"red":    "#ff0000",
	"green":  "#00ff00",
	"blue":   "#0000ff",
	"yellow": "#ffff00",
	"orange": "#ffa500",
	"purple": "#800080",
	"pink":   "#ffc0cb",
	"gray":   "#808080",
	"grey":   "#808080",
	"cyan":   "#00ffff",
	"brown":  "#a52a2a",
}

// ParseColor normalizes a color name, "#rgb", "#rrggbb" or bare "rrggbb" to lowercase
// "#rrggbb". "transparent" and "none" map to Transparent.
func ParseColor(s string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(s))
	switch c {
	case "":
		return "", fmt.Errorf("%w: empty", ErrBadColor)
	case Transparent, "none":
		return Transparent, nil
	}
	if hex, ok := namedColors[c]; ok {
		return hex, nil
	}
	digits, hashed := strings.CutPrefix(c, "#")
	if !hashed && len(digits) != 6 {
		return "", fmt.Errorf("%w: %q", ErrBadColor, s)
	}
	if len(digits) == 3 {
		digits = string([]byte{digits[0], digits[0], digits[1], digits[1], digits[2], digits[2]})
	}
	if len(digits) != 6 {
		return "", fmt.Errorf("%w: %q", ErrBadColor, s)
	}
	if _, err := strconv.ParseUint(digits, 16, 32); err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadColor, s)
	}
	return "#" + digits, nil
}

// RGB splits a color accepted by ParseColor into its components. ok is
// false for Transparent.
func RGB(color string) (r, g, b int, ok bool, err error) {
	hex, err := ParseColor(color)
	if err != nil {
		return 0, 0, 0, false, err
	}
	if hex == Transparent {
		return 0, 0, 0, false, nil
	}
	v, _ := strconv.ParseUint(hex[1:], 16, 32)
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), true, nil
}
