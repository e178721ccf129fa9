package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/spokeview/internal/compositor"
	"github.com/banshee-data/spokeview/internal/geo"
	"github.com/banshee-data/spokeview/internal/httputil"
	"github.com/banshee-data/spokeview/internal/legend"
	"github.com/banshee-data/spokeview/internal/nav"
	"github.com/banshee-data/spokeview/internal/relay"
	"github.com/banshee-data/spokeview/internal/source"
	"github.com/banshee-data/spokeview/internal/units"
	"github.com/banshee-data/spokeview/internal/version"
)

const maxBodySize = 64 * 1024

// ConfigResponse is the body of GET /api/config.
type ConfigResponse struct {
	Config     source.DisplayConfig `json:"config"`
	RangeLabel string               `json:"range_label"`
	RingLabels []string             `json:"ring_labels,omitempty"`
}

// Status is the body of GET /api/status.
type Status struct {
	State      source.State     `json:"state"`
	Source     string           `json:"source,omitempty"`
	Client     source.Stats     `json:"client"`
	Compositor compositor.Stats `json:"compositor"`
	Relay      *relay.Stats     `json:"relay,omitempty"`
	Ship       nav.ShipState    `json:"ship"`
	Build      version.Info     `json:"build"`
}

// ExtentResponse is the body of GET /api/extent.
type ExtentResponse struct {
	Extent geo.Extent `json:"extent"`
	Empty  bool       `json:"empty"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
}

func (s *Server) radarImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WritePNG(w, s.comp.Snapshot())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cfg, ok := s.src.DisplayConfig()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no radar configured")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ConfigResponse{
		Config:     cfg,
		RangeLabel: units.FormatRange(cfg.Range),
		RingLabels: units.RingLabels(cfg.Range, s.rings),
	})
}

func (s *Server) status() Status {
	st := Status{
		State:      s.src.State(),
		Client:     s.src.Stats(),
		Compositor: s.comp.Stats(),
		Ship:       s.ship.State(),
		Build:      version.Get(),
	}
	if d, ok := s.src.Current(); ok {
		st.Source = d.ID
	}
	if s.relay != nil {
		rs := s.relay()
		st.Relay = &rs
	}
	return st
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.status())
}

// Extent returns the geographic box the full raster covers. The configured
// range sits at compositor.RangeScale of the radius, so the canvas edge is
// further out than the range itself.
func (s *Server) Extent() geo.Extent {
	rng := 0.0
	if cfg, ok := s.src.DisplayConfig(); ok {
		rng = cfg.Range / compositor.RangeScale
	}
	e, _ := s.proj.Update(s.ship.State().Location, rng)
	return e
}

func (s *Server) showExtent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	e := s.Extent()
	size := s.comp.Size()
	httputil.WriteJSON(w, http.StatusOK, ExtentResponse{Extent: e, Empty: e.Empty(), Width: size, Height: size})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > maxBodySize {
		return errors.New("body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// parseRangeValue accepts metres as a number or a label such as "1.5 nm".
func parseRangeValue(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing range")
	}
	var meters float64
	if err := json.Unmarshal(raw, &meters); err == nil {
		return meters, nil
	}
	var label string
	if err := json.Unmarshal(raw, &label); err != nil {
		return 0, errors.New("range must be a number of metres or a label")
	}
	return units.ParseRange(label)
}

func (s *Server) updateRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		Range json.RawMessage `json:"range"`
	}
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	meters, err := parseRangeValue(req.Range)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.src.UpdateRange(meters); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"range":       meters,
		"range_label": units.FormatRange(meters),
	})
}

func (s *Server) updateShip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		Heading *float64 `json:"heading"`
		Lat     *float64 `json:"lat"`
		Lon     *float64 `json:"lon"`
	}
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if (req.Lat == nil) != (req.Lon == nil) {
		httputil.BadRequest(w, "lat and lon must be set together")
		return
	}

	st := s.ship.State()
	if req.Heading != nil {
		h := *req.Heading
		if math.IsNaN(h) || math.IsInf(h, 0) {
			httputil.BadRequest(w, "heading must be finite")
			return
		}
		st.Heading = math.Mod(math.Mod(h, 360)+360, 360)
	}
	if req.Lat != nil {
		loc := geo.LatLon{Lat: *req.Lat, Lon: *req.Lon}
		if !loc.Valid() {
			httputil.BadRequest(w, "location out of range")
			return
		}
		st.Location = loc
	}
	st.Updated = time.Time{}
	s.ship.Set(st)
	httputil.WriteJSON(w, http.StatusOK, s.ship.State())
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.src.Connect(r.Context(), req.ID); err != nil {
		var notFound *source.SourceNotFoundError
		switch {
		case errors.As(err, &notFound):
			httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		default:
			httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.src.Disconnect()
	httputil.WriteJSON(w, http.StatusOK, s.status())
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sources, err := s.src.Discover(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	out := make([]source.SourceDescriptor, 0, len(sources))
	for _, id := range source.SortedIDs(sources) {
		out = append(out, sources[id])
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) legendKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var l legend.Legend
	if cfg, ok := s.src.DisplayConfig(); ok {
		l = cfg.Legend
	}
	var buf bytes.Buffer
	if err := legend.RenderKey(&buf, l, 4*vg.Inch, vg.Inch); err != nil {
		logf("failed to render legend key: %v", err)
		httputil.WriteJSONError(w, http.StatusInternalServerError, "failed to render legend")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
