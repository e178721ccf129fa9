// Package legend maps 8-bit radar intensities to display colours.
package legend

import (
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"
)

// Size is the number of intensity levels a spoke sample can take.
const Size = 256

// Legend is the sparse intensity -> colour string mapping published by a
// radar source. Colour strings are CSS-style: "#rgb", "#rgba", "#rrggbb",
// "#rrggbbaa", "rgb(r,g,b)" or "rgba(r,g,b,a)".
type Legend map[int]string

// ColorTable is the dense lookup used while painting spokes.
type ColorTable [Size]color.NRGBA

// Transparent is the colour of intensities the legend does not define.
var Transparent = color.NRGBA{}

// Expand builds the dense table for l. Indices outside [0,255] and colour
// strings that do not parse are treated as absent. Index 0 ("no return") is
// always forced opaque so the background is distinct from undefined entries.
func Expand(l Legend) ColorTable {
	var table ColorTable
	for i := 0; i < Size; i++ {
		s, ok := l[i]
		if !ok {
			continue
		}
		c, err := ParseColor(s)
		if err != nil {
			continue
		}
		table[i] = c
	}
	table[0].A = 255
	return table
}

// Opaque reports whether the entry at i paints anything.
func (t *ColorTable) Opaque(i byte) bool {
	return t[i].A != 0
}

// Validate reports every legend entry Expand would ignore.
func (l Legend) Validate() error {
	var problems []string
	for _, k := range l.Indices() {
		if k < 0 || k >= Size {
			problems = append(problems, fmt.Sprintf("index %d out of range", k))
			continue
		}
		if _, err := ParseColor(l[k]); err != nil {
			problems = append(problems, fmt.Sprintf("index %d: %v", k, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid legend: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Indices returns the legend's keys in ascending order.
func (l Legend) Indices() []int {
	keys := make([]int, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Clone returns an independent copy of l.
func (l Legend) Clone() Legend {
	if l == nil {
		return nil
	}
	out := make(Legend, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Equal reports whether two legends hold the same entries.
func (l Legend) Equal(other Legend) bool {
	if len(l) != len(other) {
		return false
	}
	for k, v := range l {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ParseColor parses a CSS-style colour string into 4 channels. Alpha
// defaults to 255 when the string carries only red, green and blue.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:])
	case strings.HasPrefix(s, "rgba(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[len("rgba("):len(s)-1], 4)
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[len("rgb("):len(s)-1], 3)
	}
	return color.NRGBA{}, fmt.Errorf("unrecognised colour %q", s)
}

func parseHex(h string) (color.NRGBA, error) {
	switch len(h) {
	case 3, 4:
		// short form: each nibble is doubled
		expanded := make([]byte, 0, len(h)*2)
		for i := 0; i < len(h); i++ {
			expanded = append(expanded, h[i], h[i])
		}
		h = string(expanded)
	case 6, 8:
	default:
		return color.NRGBA{}, fmt.Errorf("hex colour %q must have 3, 4, 6 or 8 digits", h)
	}

	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("hex colour %q: %w", h, err)
	}
	if len(h) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func parseFunc(args string, n int) (color.NRGBA, error) {
	parts := strings.Split(args, ",")
	if len(parts) != n {
		return color.NRGBA{}, fmt.Errorf("expected %d components, got %d", n, len(parts))
	}
	var ch [4]uint8
	ch[3] = 255
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i == 3 {
			a, err := strconv.ParseFloat(p, 64)
			if err != nil || a < 0 {
				return color.NRGBA{}, fmt.Errorf("invalid alpha %q", p)
			}
			// CSS alpha is 0..1; some sources send 0..255
			if a <= 1 {
				a *= 255
			}
			if a > 255 {
				return color.NRGBA{}, fmt.Errorf("invalid alpha %q", p)
			}
			ch[3] = uint8(a + 0.5)
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return color.NRGBA{}, fmt.Errorf("invalid component %q", p)
		}
		ch[i] = uint8(v)
	}
	return color.NRGBA{R: ch[0], G: ch[1], B: ch[2], A: ch[3]}, nil
}
