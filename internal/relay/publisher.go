// Package relay re-publishes decoded spoke frames to remote hosts over a
// gRPC server stream, so more than one display can share one radar
// connection.
package relay

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/spokeview/internal/monitoring"
	"github.com/banshee-data/spokeview/internal/wire"
)

var logf = monitoring.Component("Relay")

// Config holds configuration for the relay server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// ClientBuffer is the number of frames queued per subscriber before
	// frames are dropped for it.
	ClientBuffer int

	// MaxClients caps concurrent subscribers; zero means no limit.
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		ClientBuffer: 64,
		MaxClients:   8,
	}
}

// Publisher runs the relay server and fans frames out to subscribers.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	clients   map[string]chan []byte
	clientsMu sync.RWMutex

	frameCount   atomic.Uint64
	droppedCount atomic.Uint64
	clientCount  atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Stats contains publisher statistics.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Dropped uint64 `json:"dropped"`
	Clients int32  `json:"clients"`
	Running bool   `json:"running"`
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[string]chan []byte),
		stopCh:  make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background. The publisher owns lis from here.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("relay already running")
	}
	p.listener = lis
	p.server = grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.MaxSendMsgSize(16*1024*1024),
	)
	p.server.RegisterService(&serviceDesc, p)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logf("listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every subscriber and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.wg.Wait()
	logf("stopped")
}

// Publish queues one decoded frame for every subscriber. It never blocks:
// a subscriber whose queue is full misses the frame.
func (p *Publisher) Publish(msg wire.Message) {
	if !p.running.Load() {
		return
	}
	data := wire.Encode(msg)
	p.frameCount.Add(1)

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, ch := range p.clients {
		select {
		case ch <- data:
		default:
			if n := p.droppedCount.Add(1); n == 1 || n%1000 == 0 {
				logf("slow subscriber, %d frames dropped so far", n)
			}
		}
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() Stats {
	return Stats{
		Frames:  p.frameCount.Load(),
		Dropped: p.droppedCount.Load(),
		Clients: p.clientCount.Load(),
		Running: p.running.Load(),
	}
}

func (p *Publisher) addClient() (string, chan []byte, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return "", nil, fmt.Errorf("relay full: %d subscribers", len(p.clients))
	}
	id := uuid.NewString()
	ch := make(chan []byte, p.config.ClientBuffer)
	p.clients[id] = ch
	n := p.clientCount.Add(1)
	logf("subscriber connected: %s (total: %d)", id, n)
	return id, ch, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		n := p.clientCount.Add(-1)
		logf("subscriber disconnected: %s (remaining: %d)", id, n)
	}
}

func (p *Publisher) subscribe(_ *Frame, stream grpc.ServerStream) error {
	id, ch, err := p.addClient()
	if err != nil {
		return err
	}
	defer p.removeClient(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		case data := <-ch:
			if err := stream.SendMsg(&Frame{Data: data}); err != nil {
				return err
			}
		}
	}
}
