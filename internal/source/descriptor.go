package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/banshee-data/spokeview/internal/legend"
)

// DefaultRange is the range published with a fresh DisplayConfig until the
// host or a control loop sets one: one nautical mile.
const DefaultRange = 1852.0

// SourceDescriptor is one radar as advertised by the discovery endpoint.
type SourceDescriptor struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	StreamURL   string                     `json:"streamUrl"`
	ControlURL  string                     `json:"controlUrl,omitempty"`
	Spokes      int                        `json:"spokes"`
	MaxSpokeLen int                        `json:"maxSpokeLen"`
	Legend      legend.Legend              `json:"legend"`
	Controls    map[string]json.RawMessage `json:"controls,omitempty"`
}

// Validate checks the fields the pipeline depends on.
func (d SourceDescriptor) Validate() error {
	var errs []error
	if d.StreamURL == "" {
		errs = append(errs, errors.New("missing streamUrl"))
	}
	if d.Spokes <= 0 {
		errs = append(errs, fmt.Errorf("spokes must be positive, got %d", d.Spokes))
	}
	if d.MaxSpokeLen < 0 {
		errs = append(errs, fmt.Errorf("maxSpokeLen must not be negative, got %d", d.MaxSpokeLen))
	}
	return errors.Join(errs...)
}

// DisplayConfig is what the compositor needs to interpret spokes.
type DisplayConfig struct {
	Spokes      int           `json:"spokes"`
	MaxSpokeLen int           `json:"maxSpokeLen"`
	Legend      legend.Legend `json:"legend"`
	Range       float64       `json:"range"` // metres represented by a full-length spoke
}

// Clone returns a copy that shares nothing with c.
func (c DisplayConfig) Clone() DisplayConfig {
	c.Legend = c.Legend.Clone()
	return c
}

// configFor builds the initial DisplayConfig for a freshly selected source.
func configFor(d SourceDescriptor, rng float64) DisplayConfig {
	return DisplayConfig{
		Spokes:      d.Spokes,
		MaxSpokeLen: d.MaxSpokeLen,
		Legend:      d.Legend.Clone(),
		Range:       rng,
	}
}

// resolveStreamURL makes a stream URL absolute against the discovery base,
// mapping http(s) to ws(s). Sources commonly advertise a bare path.
func resolveStreamURL(base, stream string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	s, err := url.Parse(stream)
	if err != nil {
		return "", err
	}
	u := b.ResolveReference(s)
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported stream scheme %q", u.Scheme)
	}
	return u.String(), nil
}
