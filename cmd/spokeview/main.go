// Command spokeview connects to a radar source, renders its sweep and
// serves the image and controls over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/spokeview/internal/api"
	"github.com/banshee-data/spokeview/internal/compositor"
	"github.com/banshee-data/spokeview/internal/config"
	"github.com/banshee-data/spokeview/internal/geo"
	"github.com/banshee-data/spokeview/internal/nav"
	"github.com/banshee-data/spokeview/internal/relay"
	"github.com/banshee-data/spokeview/internal/source"
	"github.com/banshee-data/spokeview/internal/timeutil"
	"github.com/banshee-data/spokeview/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json or .yaml config file")
	listen      = flag.String("listen", config.DefaultListen, "HTTP listen address")
	baseURL     = flag.String("base-url", config.DefaultBaseURL, "Radar server base URL")
	sourceID    = flag.String("source", "", "Radar id to connect to (default: first discovered)")
	relayListen = flag.String("relay-listen", "", "gRPC relay listen address (empty disables the relay)")
	nmeaPort    = flag.String("nmea-port", "", "NMEA 0183 serial port for heading and position")
	autoConnect = flag.Bool("connect", true, "Connect to the radar at startup")
	showVersion = flag.Bool("version", false, "Print the version and exit")
	retryEvery  = flag.Duration("discovery-retry", 0, "Repeat a failed startup discovery at this interval (0 tries once)")
)

// loadConfig reads the config file at path, if any, and applies the flags
// named in set on top of it.
func loadConfig(path string, set map[string]bool) (*config.Config, error) {
	cfg := config.Empty()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if set["listen"] {
		cfg.Listen = listen
	}
	if set["base-url"] {
		cfg.BaseURL = baseURL
	}
	if set["source"] {
		cfg.SourceID = sourceID
	}
	if set["relay-listen"] {
		cfg.RelayListen = relayListen
	}
	if set["nmea-port"] {
		cfg.NMEAPort = nmeaPort
	}
	return cfg, cfg.Validate()
}

// connectWithRetry connects at startup. The client never repeats a failed
// discovery on its own; with a positive delay the operator has asked for it
// to be repeated until it succeeds or ctx ends. Once connected the client
// handles reconnection itself.
func connectWithRetry(ctx context.Context, client *source.Client, id string, delay time.Duration) {
	for {
		err := client.Connect(ctx, id)
		if err == nil {
			return
		}
		var notFound *source.SourceNotFoundError
		if delay <= 0 || errors.As(err, &notFound) {
			log.Printf("not retrying, use POST /api/connect: %v", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	log.Printf("starting %s", version.Get())

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	cfg, err := loadConfig(*configPath, set)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pub *relay.Publisher
	clientCfg := source.Config{
		BaseURL:        cfg.GetBaseURL(),
		ReconnectDelay: cfg.GetReconnectDelay(),
		ConnectTimeout: cfg.GetConnectTimeout(),
		DefaultRange:   cfg.GetDefaultRange(),
	}
	if addr := cfg.GetRelayListen(); addr != "" {
		rc := relay.DefaultConfig()
		rc.ListenAddr = addr
		pub = relay.NewPublisher(rc)
		if err := pub.Start(); err != nil {
			log.Fatalf("failed to start relay: %v", err)
		}
		defer pub.Stop()
		clientCfg.OnFrame = pub.Publish
	}

	client := source.NewClient(clientCfg)
	defer client.Close()

	size := cfg.GetCanvasSize()
	comp := compositor.New(compositor.Options{Size: size, RangeRings: cfg.GetRangeRings()})

	lat, lon, heading := cfg.GetShip()
	feed := nav.NewFeed(nav.ShipState{Heading: heading, Location: geo.LatLon{Lat: lat, Lon: lon}})
	defer feed.Close()
	comp.SetHeading(heading)

	opts := api.Options{RangeRings: cfg.GetRangeRings()}
	if pub != nil {
		opts.Relay = pub.Stats
	}
	server := api.NewServer(client, comp, geo.NewProjector(size, size), feed, opts)

	var wg sync.WaitGroup

	// compositor loop: client events and ship state in, renders on each tick
	eventsID, events := client.Subscribe()
	shipsID, ships := feed.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer client.Unsubscribe(eventsID)
		defer feed.Unsubscribe(shipsID)
		ticker := timeutil.RealClock{}.NewTicker(cfg.GetRefreshInterval())
		defer ticker.Stop()
		if err := comp.Run(ctx, events, ships, ticker.C(), nil); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("compositor stopped: %v", err)
		}
		log.Print("compositor routine terminated")
	}()

	if path := cfg.GetNMEAPort(); path != "" {
		port, err := nav.OpenSerial(path, nav.PortOptions{BaudRate: cfg.GetNMEABaudRate()})
		if err != nil {
			log.Fatalf("failed to open NMEA port: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer port.Close()
			if err := feed.Monitor(ctx, port); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor NMEA port: %v", err)
			}
			log.Print("NMEA routine terminated")
		}()
	}

	if *autoConnect {
		wg.Add(1)
		go func() {
			defer wg.Done()
			connectWithRetry(ctx, client, cfg.GetSourceID(), *retryEvery)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		httpServer := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(server.ServeMux()),
		}

		go func() {
			log.Printf("listening on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
