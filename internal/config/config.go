// Package config loads the spokeview runtime configuration.
//
// Every field is a pointer so a partial file only overrides what it names;
// the Get* accessors fall back to the defaults for everything else.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBaseURL         = "http://localhost:6502"
	DefaultListen          = ":8080"
	DefaultCanvasSize      = 1024
	DefaultRefreshInterval = 16 * time.Millisecond
	DefaultReconnectDelay  = 5 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultRangeRings      = 4
	DefaultNMEABaudRate    = 4800
	DefaultRange           = 1852.0
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration.
type Config struct {
	// Radar source
	BaseURL        *string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	SourceID       *string  `json:"source_id,omitempty" yaml:"source_id,omitempty"` // empty picks the first source
	ReconnectDelay *string  `json:"reconnect_delay,omitempty" yaml:"reconnect_delay,omitempty"`
	ConnectTimeout *string  `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	DefaultRange   *float64 `json:"default_range,omitempty" yaml:"default_range,omitempty"` // metres

	// Rendering
	CanvasSize      *int    `json:"canvas_size,omitempty" yaml:"canvas_size,omitempty"`
	RefreshInterval *string `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty"`
	RangeRings      *int    `json:"range_rings,omitempty" yaml:"range_rings,omitempty"`

	// Host surfaces
	Listen      *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	RelayListen *string `json:"relay_listen,omitempty" yaml:"relay_listen,omitempty"` // empty disables the relay

	// Ship state
	NMEAPort     *string  `json:"nmea_port,omitempty" yaml:"nmea_port,omitempty"` // empty disables the serial feed
	NMEABaudRate *int     `json:"nmea_baud_rate,omitempty" yaml:"nmea_baud_rate,omitempty"`
	ShipLat      *float64 `json:"ship_lat,omitempty" yaml:"ship_lat,omitempty"`
	ShipLon      *float64 `json:"ship_lon,omitempty" yaml:"ship_lon,omitempty"`
	ShipHeading  *float64 `json:"ship_heading,omitempty" yaml:"ship_heading,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Defaults returns a Config with every field set to its default.
func Defaults() *Config {
	return &Config{
		BaseURL:         ptrString(DefaultBaseURL),
		SourceID:        ptrString(""),
		ReconnectDelay:  ptrString(DefaultReconnectDelay.String()),
		ConnectTimeout:  ptrString(DefaultConnectTimeout.String()),
		DefaultRange:    ptrFloat64(DefaultRange),
		CanvasSize:      ptrInt(DefaultCanvasSize),
		RefreshInterval: ptrString(DefaultRefreshInterval.String()),
		RangeRings:      ptrInt(DefaultRangeRings),
		Listen:          ptrString(DefaultListen),
		RelayListen:     ptrString(""),
		NMEAPort:        ptrString(""),
		NMEABaudRate:    ptrInt(DefaultNMEABaudRate),
		ShipLat:         ptrFloat64(0),
		ShipLon:         ptrFloat64(0),
		ShipHeading:     ptrFloat64(0),
	}
}

// Load reads a .json, .yaml or .yml file. Fields the file omits keep their
// defaults through the Get* accessors.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field that is set.
func (c *Config) Validate() error {
	var errs []error

	if c.BaseURL != nil {
		u, err := url.Parse(*c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("base_url must be an http(s) URL, got %q", *c.BaseURL))
		}
	}

	for name, v := range map[string]*string{
		"reconnect_delay":  c.ReconnectDelay,
		"connect_timeout":  c.ConnectTimeout,
		"refresh_interval": c.RefreshInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s '%s': %w", name, *v, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if c.DefaultRange != nil && (*c.DefaultRange <= 0 || math.IsNaN(*c.DefaultRange) || math.IsInf(*c.DefaultRange, 0)) {
		errs = append(errs, fmt.Errorf("default_range must be a positive number of metres, got %v", *c.DefaultRange))
	}
	if c.CanvasSize != nil && (*c.CanvasSize < 16 || *c.CanvasSize > 8192) {
		errs = append(errs, fmt.Errorf("canvas_size must be between 16 and 8192, got %d", *c.CanvasSize))
	}
	if c.RangeRings != nil && (*c.RangeRings < 0 || *c.RangeRings > 16) {
		errs = append(errs, fmt.Errorf("range_rings must be between 0 and 16, got %d", *c.RangeRings))
	}
	if c.NMEABaudRate != nil && *c.NMEABaudRate <= 0 {
		errs = append(errs, fmt.Errorf("nmea_baud_rate must be positive, got %d", *c.NMEABaudRate))
	}
	if c.ShipLat != nil && (*c.ShipLat < -90 || *c.ShipLat > 90) {
		errs = append(errs, fmt.Errorf("ship_lat must be between -90 and 90, got %v", *c.ShipLat))
	}
	if c.ShipLon != nil && (*c.ShipLon < -180 || *c.ShipLon > 180) {
		errs = append(errs, fmt.Errorf("ship_lon must be between -180 and 180, got %v", *c.ShipLon))
	}
	return errors.Join(errs...)
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetBaseURL returns the discovery base URL.
func (c *Config) GetBaseURL() string { return stringOr(c.BaseURL, DefaultBaseURL) }

// GetSourceID returns the configured source id; empty means "first".
func (c *Config) GetSourceID() string { return stringOr(c.SourceID, "") }

func (c *Config) GetReconnectDelay() time.Duration {
	return durationOr(c.ReconnectDelay, DefaultReconnectDelay)
}

func (c *Config) GetConnectTimeout() time.Duration {
	return durationOr(c.ConnectTimeout, DefaultConnectTimeout)
}

func (c *Config) GetRefreshInterval() time.Duration {
	return durationOr(c.RefreshInterval, DefaultRefreshInterval)
}

// GetDefaultRange returns the range published before any range update.
func (c *Config) GetDefaultRange() float64 {
	if c.DefaultRange == nil {
		return DefaultRange
	}
	return *c.DefaultRange
}

func (c *Config) GetCanvasSize() int {
	if c.CanvasSize == nil {
		return DefaultCanvasSize
	}
	return *c.CanvasSize
}

func (c *Config) GetRangeRings() int {
	if c.RangeRings == nil {
		return DefaultRangeRings
	}
	return *c.RangeRings
}

func (c *Config) GetListen() string      { return stringOr(c.Listen, DefaultListen) }
func (c *Config) GetRelayListen() string { return stringOr(c.RelayListen, "") }
func (c *Config) GetNMEAPort() string    { return stringOr(c.NMEAPort, "") }

func (c *Config) GetNMEABaudRate() int {
	if c.NMEABaudRate == nil {
		return DefaultNMEABaudRate
	}
	return *c.NMEABaudRate
}

// GetShip returns the static ship state used when no NMEA feed is set:
// latitude, longitude and heading in degrees.
func (c *Config) GetShip() (lat, lon, heading float64) {
	if c.ShipLat != nil {
		lat = *c.ShipLat
	}
	if c.ShipLon != nil {
		lon = *c.ShipLon
	}
	if c.ShipHeading != nil {
		heading = *c.ShipHeading
	}
	return lat, lon, heading
}
