// Package source implements the radar protocol client: discovery, the
// binary spoke stream and the connection lifecycle with its reconnect
// policy.
package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/spokeview/internal/httputil"
	"github.com/banshee-data/spokeview/internal/monitoring"
	"github.com/banshee-data/spokeview/internal/timeutil"
	"github.com/banshee-data/spokeview/internal/wire"
)

var logf = monitoring.Component("Source")

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

var (
	errConnectTimeout = errors.New("connect timeout")
	errDisconnected   = errors.New("disconnected")
)

// Config configures a Client. Zero values select the defaults.
type Config struct {
	BaseURL        string
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
	DefaultRange   float64 // metres; DefaultRange when zero
	EventBuffer    int

	HTTP   httputil.HTTPClient
	Dialer Dialer
	Clock  timeutil.Clock

	// OnFrame, when set, is called from the read goroutine with every frame
	// that decoded cleanly. It must not block.
	OnFrame func(wire.Message)
}

// Stats are cumulative counters since the client was created.
type Stats struct {
	Frames       uint64 `json:"frames"`
	Spokes       uint64 `json:"spokes"`
	DecodeErrors uint64 `json:"decode_errors"`
	Reconnects   uint64 `json:"reconnects"`
	Dropped      uint64 `json:"dropped_events"`
}

// Client owns the connection to one radar source at a time.
//
// All state transitions happen under mu and their events are published
// while it is held, so subscribers observe them in order.
type Client struct {
	baseURL        string
	reconnectDelay time.Duration
	connectTimeout time.Duration
	defaultRange   float64
	http           httputil.HTTPClient
	dialer         Dialer
	clock          timeutil.Clock
	onFrame        func(wire.Message)

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped by Connect and Disconnect; stale goroutines compare against it
	current   *SourceDescriptor
	retry     *SourceDescriptor // kept across an unclean close for the reconnect
	config    DisplayConfig
	hasConfig bool
	nextRange float64 // range for the next source; defaultRange when zero
	conn      FrameConn
	cancel    context.CancelCauseFunc
	reconnect timeutil.Timer

	events *bus

	frames       atomic.Uint64
	spokes       atomic.Uint64
	decodeErrors atomic.Uint64
	reconnects   atomic.Uint64
}

// NewClient returns a disconnected client.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:        cfg.BaseURL,
		reconnectDelay: cfg.ReconnectDelay,
		connectTimeout: cfg.ConnectTimeout,
		defaultRange:   cfg.DefaultRange,
		http:           cfg.HTTP,
		dialer:         cfg.Dialer,
		clock:          cfg.Clock,
		onFrame:        cfg.OnFrame,
		events:         newBus(cfg.EventBuffer),
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = DefaultReconnectDelay
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = DefaultConnectTimeout
	}
	if c.defaultRange <= 0 {
		c.defaultRange = DefaultRange
	}
	if c.http == nil {
		c.http = httputil.NewStandardClient(c.connectTimeout)
	}
	if c.dialer == nil {
		c.dialer = WebSocketDialer{}
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	return c
}

// Subscribe registers for client events. The channel is closed by
// Unsubscribe or Close.
func (c *Client) Subscribe() (string, <-chan Event) { return c.events.subscribe() }

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(id string) { c.events.unsubscribe(id) }

// Discover queries the configured base URL.
func (c *Client) Discover(ctx context.Context) (map[string]SourceDescriptor, error) {
	return Discover(ctx, c.http, c.baseURL)
}

// Connect discovers sources and starts streaming from the one named id, or
// from the first one (by sorted id) when id is empty. It returns once the
// stream is being opened; the outcome arrives as events. Calling Connect
// while connecting or connected does nothing.
//
// ctx bounds discovery only. The stream lives until Disconnect.
func (c *Client) Connect(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectLocked()
	c.gen++
	gen := c.gen
	c.setStateLocked(Connecting, id)
	c.mu.Unlock()

	sources, err := c.Discover(ctx)
	var desc SourceDescriptor
	if err == nil {
		desc, err = Select(sources, id, strings.TrimRight(c.baseURL, "/")+DiscoveryPath)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// Disconnect ran while discovery was in flight
		return nil
	}
	if err != nil {
		logf("connect failed: %v", err)
		c.events.publish(Event{Kind: EventError, Source: id, Err: err})
		c.setStateLocked(Disconnected, id)
		return err
	}

	rng := c.defaultRange
	if c.nextRange > 0 {
		rng = c.nextRange
	}
	c.current = &desc
	c.retry = &desc
	c.config = configFor(desc, rng)
	c.hasConfig = true
	c.events.publish(Event{Kind: EventConfig, Source: desc.ID, Config: c.config.Clone()})
	c.dialLocked(gen, desc)
	return nil
}

// Disconnect closes the stream, cancels any connection attempt or pending
// reconnect and forgets the current source. Safe to call in any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopReconnectLocked()
	if c.cancel != nil {
		c.cancel(errDisconnected)
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	id := ""
	if c.current != nil {
		id = c.current.ID
	}
	c.current = nil
	c.retry = nil
	if c.hasConfig {
		c.nextRange = c.config.Range
		c.hasConfig = false
	}
	if c.state != Disconnected {
		logf("disconnected from %s", id)
		c.setStateLocked(Disconnected, id)
	}
	c.mu.Unlock()

	// closing a websocket writes a close frame, which may wait on the peer
	if conn != nil {
		if err := conn.Close(); err != nil {
			logf("close stream: %v", err)
		}
	}
}

// Close disconnects and closes every subscription.
func (c *Client) Close() {
	c.Disconnect()
	c.events.close()
}

// UpdateRange changes the range of the published DisplayConfig. Nothing is
// sent to the source.
func (c *Client) UpdateRange(meters float64) error {
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters <= 0 {
		return fmt.Errorf("invalid range %v: must be a positive number of metres", meters)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasConfig {
		// nothing published yet; the next source starts at this range
		c.nextRange = meters
		return nil
	}
	if c.config.Range == meters {
		return nil
	}
	c.config.Range = meters
	id := ""
	switch {
	case c.current != nil:
		id = c.current.ID
	case c.retry != nil:
		id = c.retry.ID
	}
	c.events.publish(Event{Kind: EventConfig, Source: id, Config: c.config.Clone()})
	return nil
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the source being connected to or streamed from.
func (c *Client) Current() (SourceDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return SourceDescriptor{}, false
	}
	return *c.current, true
}

// DisplayConfig returns the config of the source being connected to or
// streamed from. While disconnected there is none, even when a reconnect
// will restore the last one.
func (c *Client) DisplayConfig() (DisplayConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasConfig || c.current == nil {
		return DisplayConfig{}, false
	}
	return c.config.Clone(), true
}

// Stats returns the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Frames:       c.frames.Load(),
		Spokes:       c.spokes.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		Reconnects:   c.reconnects.Load(),
		Dropped:      c.events.dropped.Load(),
	}
}

func (c *Client) setStateLocked(s State, id string) {
	c.state = s
	c.events.publish(Event{Kind: EventState, Source: id, State: s})
}

func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// dialLocked starts opening the stream for desc. The attempt is cancelled by
// the connect timeout or by Disconnect.
func (c *Client) dialLocked(gen uint64, desc SourceDescriptor) {
	ctx, cancel := context.WithCancelCause(context.Background())
	timer := c.clock.AfterFunc(c.connectTimeout, func() { cancel(errConnectTimeout) })
	c.cancel = func(cause error) {
		timer.Stop()
		cancel(cause)
	}
	logf("connecting to %s at %s", desc.ID, desc.StreamURL)
	go c.stream(ctx, gen, desc, timer)
}

// stream opens the connection and reads frames until it fails or the
// generation moves on.
func (c *Client) stream(ctx context.Context, gen uint64, desc SourceDescriptor, timer timeutil.Timer) {
	conn, err := c.dialer.DialContext(ctx, desc.StreamURL)
	timer.Stop()
	if err != nil {
		switch cause := context.Cause(ctx); {
		case errors.Is(cause, errDisconnected):
			return
		case errors.Is(cause, errConnectTimeout):
			c.fail(gen, desc, &TimeoutError{ID: desc.ID, URL: desc.StreamURL, After: c.connectTimeout}, false)
		default:
			c.fail(gen, desc, &StreamError{ID: desc.ID, Err: err}, true)
		}
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.cancel = nil
	logf("connected to %s", desc.ID)
	c.setStateLocked(Connected, desc.ID)
	c.mu.Unlock()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrClosedCleanly) {
				logf("%s closed the stream", desc.ID)
				c.fail(gen, desc, nil, false)
			} else {
				c.fail(gen, desc, &StreamError{ID: desc.ID, Err: err}, true)
			}
			return
		}
		c.handleFrame(gen, desc.ID, frame)
	}
}

func (c *Client) handleFrame(gen uint64, id string, frame []byte) {
	msg, err := wire.Decode(frame)
	if err != nil {
		n := c.decodeErrors.Add(1)
		if n == 1 || n%100 == 0 {
			logf("dropping frame from %s (%d so far): %v", id, n, err)
		}
		c.publishIfCurrent(gen, Event{Kind: EventError, Source: id, Err: &FrameDecodeError{ID: id, Size: len(frame), Err: err}})
		return
	}
	c.frames.Add(1)
	if c.onFrame != nil {
		c.onFrame(msg)
	}
	for _, s := range msg.Spokes {
		c.spokes.Add(1)
		c.publishIfCurrent(gen, Event{Kind: EventSpoke, Source: id, Spoke: s})
	}
}

// publishIfCurrent drops events from a stream that has been superseded.
func (c *Client) publishIfCurrent(gen uint64, e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.events.publish(e)
	}
}

// fail moves to disconnected after the stream for gen ended. With retry set
// a single reconnect is scheduled; an earlier one is replaced.
func (c *Client) fail(gen uint64, desc SourceDescriptor, err error, retry bool) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.cancel = nil
	c.current = nil
	if err != nil {
		logf("%v", err)
		c.events.publish(Event{Kind: EventError, Source: desc.ID, Err: err})
	}

	// the timer exists before subscribers see the disconnected state
	if retry && c.retry != nil {
		c.stopReconnectLocked()
		logf("reconnecting to %s in %s", desc.ID, c.reconnectDelay)
		c.reconnect = c.clock.AfterFunc(c.reconnectDelay, func() { c.reconnectTo(gen) })
	} else {
		c.retry = nil
		if c.hasConfig {
			c.nextRange = c.config.Range
			c.hasConfig = false
		}
	}
	c.setStateLocked(Disconnected, desc.ID)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// reconnectTo reopens the stream to the retained source without a fresh
// discovery, keeping the current range.
func (c *Client) reconnectTo(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != Disconnected || c.retry == nil {
		return
	}
	c.reconnect = nil
	c.gen++
	desc := *c.retry
	c.current = &desc
	c.reconnects.Add(1)
	c.setStateLocked(Connecting, desc.ID)
	c.dialLocked(c.gen, desc)
}
