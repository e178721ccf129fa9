// Command spoke-sim serves a simulated radar: the discovery document and a
// WebSocket spoke stream of synthetic targets.
//
// Usage:
//
//	go run ./cmd/tools/spoke-sim [flags]
//
// Flags:
//
//	-addr     Listen address (default: localhost:6502)
//	-spokes   Spokes per revolution (default: 2048)
//	-len      Samples per spoke (default: 512)
//	-rpm      Antenna revolutions per minute (default: 24)
//	-targets  Number of synthetic targets (default: 6)
//	-range    Range represented by a full spoke, in metres (default: 1852)
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/spokeview/internal/api"
	"github.com/banshee-data/spokeview/internal/httputil"
	"github.com/banshee-data/spokeview/internal/legend"
	"github.com/banshee-data/spokeview/internal/source"
	"github.com/banshee-data/spokeview/internal/wire"
)

const (
	simID      = "sim-1"
	streamPath = "/v1/api/spokes/" + simID
	framesHz   = 50
)

// simLegend covers every level the generator emits.
var simLegend = legend.Legend{
	1:   "#1a3d6b",
	2:   "#24527f",
	3:   "#2e8b57",
	128: "#ffd700",
	200: "#ff4500",
	255: "#ff0000",
}

type simulator struct {
	spokes   int
	spokeLen int
	rpm      float64
	targets  int
	rng      float64
	seed     uint64
	upgrader websocket.Upgrader
}

func (s *simulator) descriptor() source.SourceDescriptor {
	return source.SourceDescriptor{
		ID:          simID,
		Name:        "Simulated radar",
		StreamURL:   streamPath,
		Spokes:      s.spokes,
		MaxSpokeLen: s.spokeLen,
		Legend:      simLegend,
	}
}

func (s *simulator) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(source.DiscoveryPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]source.SourceDescriptor{simID: s.descriptor()})
	})
	mux.HandleFunc(streamPath, s.stream)
	return mux
}

// spokesPerFrame spreads one revolution over framesHz frames per second.
func (s *simulator) spokesPerFrame() int {
	perSecond := float64(s.spokes) * s.rpm / 60
	return max(1, int(perSecond/framesHz+0.5))
}

func (s *simulator) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("stream client connected: %s", r.RemoteAddr)

	// drain control frames so a client close is noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	gen := NewGenerator(s.spokes, s.spokeLen, s.rng, s.targets, s.seed)
	n := s.spokesPerFrame()
	ticker := time.NewTicker(time.Second / framesHz)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Printf("stream client gone: %s", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame := wire.Encode(wire.Message{Radar: 1, Spokes: gen.Next(n)})
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Printf("write failed, dropping client %s: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

func main() {
	addr := flag.String("addr", "localhost:6502", "Listen address")
	spokes := flag.Int("spokes", 2048, "Spokes per revolution")
	spokeLen := flag.Int("len", 512, "Samples per spoke")
	rpm := flag.Float64("rpm", 24, "Antenna revolutions per minute")
	targets := flag.Int("targets", 6, "Number of synthetic targets")
	rng := flag.Float64("range", 1852, "Range represented by a full spoke, in metres")
	flag.Parse()

	if *spokes <= 0 || *spokeLen <= 0 || *rpm <= 0 || *rng <= 0 {
		log.Fatal("spokes, len, rpm and range must be positive")
	}

	sim := &simulator{
		spokes:   *spokes,
		spokeLen: *spokeLen,
		rpm:      *rpm,
		targets:  *targets,
		rng:      *rng,
		seed:     uint64(time.Now().UnixNano()),
	}

	server := &http.Server{
		Addr:    *addr,
		Handler: api.LoggingMiddleware(sim.mux()),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Simulated radar %q on http://%s (%d spokes x %d samples, %.0f rpm)", simID, *addr, *spokes, *spokeLen, *rpm)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
		server.Close()
	}
}
