// Package units formats and parses radar range distances.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unit suffixes
const (
	NM = "nm"
	KM = "km"
	M  = "m"
)

// MetersPerNauticalMile is the international nautical mile.
const MetersPerNauticalMile = 1852.0

// ValidUnits contains all accepted unit suffixes.
var ValidUnits = []string{NM, KM, M}

// IsValid checks if the given unit suffix is accepted.
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// FormatRange renders a range in metres the way a radar operator reads it.
// Multiples of 1/8 nm (the standard marine radar range steps) are shown in
// nautical miles, other values of a kilometre or more in kilometres, and
// everything else in metres.
func FormatRange(meters float64) string {
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters <= 0 {
		return "0 m"
	}
	eighths := meters / MetersPerNauticalMile * 8
	if eighths >= 1 && math.Abs(eighths-math.Round(eighths)) < 1e-6 {
		return trim(meters/MetersPerNauticalMile) + " " + NM
	}
	if meters >= 1000 {
		return trim(meters/1000) + " " + KM
	}
	return trim(meters) + " " + M
}

// RingLabels returns FormatRange labels for n evenly spaced range rings, the
// last of which sits at the full range.
func RingLabels(meters float64, n int) []string {
	if n <= 0 {
		return nil
	}
	labels := make([]string, n)
	for i := 1; i <= n; i++ {
		labels[i-1] = FormatRange(meters * float64(i) / float64(n))
	}
	return labels
}

// ParseRange parses "1.5nm", "2 km", "500m" or a bare number of metres.
func ParseRange(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty range")
	}

	scale := 1.0
	for _, suffix := range []struct {
		unit  string
		scale float64
	}{{NM, MetersPerNauticalMile}, {KM, 1000}, {M, 1}} {
		if strings.HasSuffix(s, suffix.unit) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix.unit))
			scale = suffix.scale
			break
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid range %q: %w", s, err)
	}
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("range must be positive, got %v", v)
	}
	return v * scale, nil
}

func trim(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}
