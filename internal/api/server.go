// Package api serves the rendered radar image and the pipeline's controls
// over HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/spokeview/internal/compositor"
	"github.com/banshee-data/spokeview/internal/geo"
	"github.com/banshee-data/spokeview/internal/monitoring"
	"github.com/banshee-data/spokeview/internal/nav"
	"github.com/banshee-data/spokeview/internal/relay"
	"github.com/banshee-data/spokeview/internal/source"
)

var logf = monitoring.Component("API")

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultSummaryInterval is how often /api/events reports spoke counts.
const DefaultSummaryInterval = time.Second

// Source is the part of source.Client the server drives.
type Source interface {
	Connect(ctx context.Context, id string) error
	Disconnect()
	UpdateRange(meters float64) error
	Discover(ctx context.Context) (map[string]source.SourceDescriptor, error)
	State() source.State
	Current() (source.SourceDescriptor, bool)
	DisplayConfig() (source.DisplayConfig, bool)
	Stats() source.Stats
	Subscribe() (string, <-chan source.Event)
	Unsubscribe(id string)
}

// Options carries the optional collaborators of a Server.
type Options struct {
	// Relay reports relay statistics on /api/status when set.
	Relay func() relay.Stats

	// RangeRings is the number of ring labels listed by /api/config.
	RangeRings int

	// SummaryInterval throttles spokeReceived events; DefaultSummaryInterval
	// when zero.
	SummaryInterval time.Duration
}

type Server struct {
	src   Source
	comp  *compositor.Compositor
	proj  *geo.Projector
	ship  *nav.Feed
	relay func() relay.Stats
	rings int

	summaryInterval time.Duration
}

func NewServer(src Source, comp *compositor.Compositor, proj *geo.Projector, ship *nav.Feed, opts Options) *Server {
	if opts.SummaryInterval <= 0 {
		opts.SummaryInterval = DefaultSummaryInterval
	}
	return &Server{
		src:             src,
		comp:            comp,
		proj:            proj,
		ship:            ship,
		relay:           opts.Relay,
		rings:           opts.RangeRings,
		summaryInterval: opts.SummaryInterval,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/radar.png", s.radarImage)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/extent", s.showExtent)
	mux.HandleFunc("/api/range", s.updateRange)
	mux.HandleFunc("/api/ship", s.updateShip)
	mux.HandleFunc("/api/connect", s.connect)
	mux.HandleFunc("/api/disconnect", s.disconnect)
	mux.HandleFunc("/api/sources", s.listSources)
	mux.HandleFunc("/api/legend.png", s.legendKey)
	mux.HandleFunc("/api/events", s.streamEvents)
	s.AttachAdminRoutes(mux)
	return mux
}

// AttachAdminRoutes adds the /debug/ pages.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("radar", "current raster, full size", s.radarImage)
	debug.HandleFunc("pipeline", "client, compositor and relay counters", s.showStatus)
	debug.HandleSilentFunc("render", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.comp.Render()
		w.WriteHeader(http.StatusNoContent)
	})
}
