package nav

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/spokeview/internal/geo"
)

var (
	// ErrChecksum is returned for sentences whose checksum does not match.
	ErrChecksum = errors.New("nmea checksum mismatch")
	// ErrUnsupported is returned for well-formed sentences that carry no
	// heading or position.
	ErrUnsupported = errors.New("unsupported nmea sentence")
)

// Update is what one sentence contributes to the ship state.
type Update struct {
	Heading  *float64    // degrees true, [0,360)
	Position *geo.LatLon // WGS84
}

// ParseSentence parses one NMEA 0183 line. Heading comes from HDT, HDG
// (corrected by deviation and variation when present) and HDM; position from
// RMC and GGA fixes that report a valid status.
func ParseSentence(line string) (Update, error) {
	line = strings.TrimSpace(line)
	if len(line) < 7 || (line[0] != '$' && line[0] != '!') {
		return Update{}, fmt.Errorf("not an nmea sentence: %q", line)
	}
	body := line[1:]
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		want, err := strconv.ParseUint(body[star+1:], 16, 8)
		if err != nil {
			return Update{}, fmt.Errorf("bad checksum field in %q: %w", line, err)
		}
		body = body[:star]
		var sum byte
		for i := 0; i < len(body); i++ {
			sum ^= body[i]
		}
		if sum != byte(want) {
			return Update{}, fmt.Errorf("%w: %q (computed %02X)", ErrChecksum, line, sum)
		}
	}

	fields := strings.Split(body, ",")
	if len(fields[0]) < 5 {
		return Update{}, fmt.Errorf("short sentence id %q", fields[0])
	}
	kind := fields[0][len(fields[0])-3:]

	switch kind {
	case "HDT", "HDM":
		h, err := field(fields, 1)
		if err != nil {
			return Update{}, fmt.Errorf("%s heading: %w", kind, err)
		}
		return headingUpdate(h), nil

	case "HDG":
		h, err := field(fields, 1)
		if err != nil {
			return Update{}, fmt.Errorf("HDG heading: %w", err)
		}
		if dev, err := field(fields, 2); err == nil {
			h += signed(dev, fields, 3)
		}
		if variation, err := field(fields, 4); err == nil {
			h += signed(variation, fields, 5)
		}
		return headingUpdate(h), nil

	case "RMC":
		if len(fields) < 7 || fields[2] != "A" {
			return Update{}, nil
		}
		p, err := position(fields, 3)
		if err != nil {
			return Update{}, fmt.Errorf("RMC position: %w", err)
		}
		return Update{Position: &p}, nil

	case "GGA":
		if len(fields) < 7 || fields[6] == "" || fields[6] == "0" {
			return Update{}, nil
		}
		p, err := position(fields, 2)
		if err != nil {
			return Update{}, fmt.Errorf("GGA position: %w", err)
		}
		return Update{Position: &p}, nil
	}
	return Update{}, fmt.Errorf("%w: %s", ErrUnsupported, fields[0])
}

func headingUpdate(h float64) Update {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return Update{Heading: &h}
}

func field(fields []string, i int) (float64, error) {
	if i >= len(fields) || fields[i] == "" {
		return 0, errors.New("missing field")
	}
	return strconv.ParseFloat(fields[i], 64)
}

// signed applies an E/W hemisphere to a magnetic correction. West is
// subtracted.
func signed(v float64, fields []string, dirIdx int) float64 {
	if dirIdx < len(fields) && fields[dirIdx] == "W" {
		return -v
	}
	return v
}

// position parses "ddmm.mmmm,N,dddmm.mmmm,E" starting at fields[i].
func position(fields []string, i int) (geo.LatLon, error) {
	if i+3 >= len(fields) {
		return geo.LatLon{}, errors.New("missing fields")
	}
	lat, err := degMin(fields[i], 2)
	if err != nil {
		return geo.LatLon{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := degMin(fields[i+2], 3)
	if err != nil {
		return geo.LatLon{}, fmt.Errorf("longitude: %w", err)
	}
	switch fields[i+1] {
	case "S":
		lat = -lat
	case "N":
	default:
		return geo.LatLon{}, fmt.Errorf("bad latitude hemisphere %q", fields[i+1])
	}
	switch fields[i+3] {
	case "W":
		lon = -lon
	case "E":
	default:
		return geo.LatLon{}, fmt.Errorf("bad longitude hemisphere %q", fields[i+3])
	}
	p := geo.LatLon{Lat: lat, Lon: lon}
	if !p.Valid() {
		return geo.LatLon{}, fmt.Errorf("position %v out of range", p)
	}
	return p, nil
}

func degMin(s string, degDigits int) (float64, error) {
	if len(s) < degDigits+2 {
		return 0, fmt.Errorf("short value %q", s)
	}
	deg, err := strconv.Atoi(s[:degDigits])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(s[degDigits:], 64)
	if err != nil {
		return 0, err
	}
	if minutes >= 60 {
		return 0, fmt.Errorf("minutes %v out of range", minutes)
	}
	return float64(deg) + minutes/60, nil
}
