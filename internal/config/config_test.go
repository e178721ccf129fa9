package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := Empty()
	assert.Equal(t, DefaultBaseURL, cfg.GetBaseURL())
	assert.Equal(t, "", cfg.GetSourceID())
	assert.Equal(t, 5*time.Second, cfg.GetReconnectDelay())
	assert.Equal(t, 10*time.Second, cfg.GetConnectTimeout())
	assert.Equal(t, 16*time.Millisecond, cfg.GetRefreshInterval())
	assert.Equal(t, 1852.0, cfg.GetDefaultRange())
	assert.Equal(t, 1024, cfg.GetCanvasSize())
	assert.Equal(t, 4, cfg.GetRangeRings())
	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, "", cfg.GetRelayListen())
	assert.Equal(t, "", cfg.GetNMEAPort())
	assert.Equal(t, 4800, cfg.GetNMEABaudRate())
	lat, lon, hdg := cfg.GetShip()
	assert.Zero(t, lat)
	assert.Zero(t, lon)
	assert.Zero(t, hdg)
}

func TestDefaultsMatchGetters(t *testing.T) {
	d := Defaults()
	require.NoError(t, d.Validate())
	e := Empty()
	assert.Equal(t, e.GetBaseURL(), d.GetBaseURL())
	assert.Equal(t, e.GetReconnectDelay(), d.GetReconnectDelay())
	assert.Equal(t, e.GetConnectTimeout(), d.GetConnectTimeout())
	assert.Equal(t, e.GetRefreshInterval(), d.GetRefreshInterval())
	assert.Equal(t, e.GetCanvasSize(), d.GetCanvasSize())
	assert.Equal(t, e.GetRangeRings(), d.GetRangeRings())
	assert.Equal(t, e.GetListen(), d.GetListen())
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "spokeview.json", `{
  "base_url": "http://radar.local:6502",
  "source_id": "nav1",
  "reconnect_delay": "2s",
  "canvas_size": 512,
  "ship_lat": 52.1,
  "ship_heading": 270
}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://radar.local:6502", cfg.GetBaseURL())
	assert.Equal(t, "nav1", cfg.GetSourceID())
	assert.Equal(t, 2*time.Second, cfg.GetReconnectDelay())
	assert.Equal(t, 512, cfg.GetCanvasSize())
	// omitted fields fall back
	assert.Equal(t, 10*time.Second, cfg.GetConnectTimeout())
	assert.Equal(t, 4, cfg.GetRangeRings())

	lat, lon, hdg := cfg.GetShip()
	assert.Equal(t, 52.1, lat)
	assert.Zero(t, lon)
	assert.Equal(t, 270.0, hdg)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "spokeview.yaml", `
base_url: https://radar.example
range_rings: 0
nmea_port: /dev/ttyUSB0
nmea_baud_rate: 38400
default_range: 926
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := &Config{
		BaseURL:      ptrString("https://radar.example"),
		RangeRings:   ptrInt(0),
		NMEAPort:     ptrString("/dev/ttyUSB0"),
		NMEABaudRate: ptrInt(38400),
		DefaultRange: ptrFloat64(926),
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, cfg.GetRangeRings(), "explicit zero disables rings")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "config.toml", "x = 1"))
	assert.ErrorContains(t, err, "extension")

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat")

	_, err = Load(writeFile(t, "bad.json", "{"))
	assert.ErrorContains(t, err, "parse")

	_, err = Load(writeFile(t, "big.json", `{"listen": "`+strings.Repeat("x", maxFileSize)+`"}`))
	assert.ErrorContains(t, err, "too large")

	_, err = Load(writeFile(t, "invalid.json", `{"canvas_size": 4}`))
	assert.ErrorContains(t, err, "canvas_size")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"base url scheme", Config{BaseURL: ptrString("ftp://x")}, "base_url"},
		{"base url host", Config{BaseURL: ptrString("http://")}, "base_url"},
		{"duration", Config{ReconnectDelay: ptrString("soon")}, "reconnect_delay"},
		{"negative duration", Config{RefreshInterval: ptrString("-1s")}, "refresh_interval"},
		{"range", Config{DefaultRange: ptrFloat64(0)}, "default_range"},
		{"rings", Config{RangeRings: ptrInt(-1)}, "range_rings"},
		{"baud", Config{NMEABaudRate: ptrInt(0)}, "nmea_baud_rate"},
		{"lat", Config{ShipLat: ptrFloat64(91)}, "ship_lat"},
		{"lon", Config{ShipLon: ptrFloat64(-181)}, "ship_lon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	multi := Config{CanvasSize: ptrInt(1), RangeRings: ptrInt(99)}
	err := multi.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canvas_size")
	assert.Contains(t, err.Error(), "range_rings")
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load("../../config/spokeview.example.json")
	require.NoError(t, err)
	assert.Equal(t, ":50061", cfg.GetRelayListen())
}
