package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spokeview/internal/httputil"
	"github.com/banshee-data/spokeview/internal/monitoring"
	"github.com/banshee-data/spokeview/internal/timeutil"
	"github.com/banshee-data/spokeview/internal/wire"
)

const discoveryBody = `{
  "radar-b": {"name": "Aft", "streamUrl": "ws://radar.local:6502/v1/api/spokes/b", "spokes": 2048, "maxSpokeLen": 512,
              "legend": {"0": "#000000", "1": "#00ff00"}},
  "radar-a": {"name": "Fore", "streamUrl": "/v1/api/spokes/a", "spokes": 1024, "maxSpokeLen": 256,
              "legend": {"0": "#000000", "255": {"type": "Normal", "color": "#ff0000"}}}
}`

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	reads     chan readResult
	closed    chan struct{}
	closeOnce sync.Once
	hold      chan struct{} // when set, Close waits for it like a slow close handshake
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case r := <-c.reads:
		return r.data, r.err
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	if c.hold != nil {
		<-c.hold
	}
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(frame []byte) { c.reads <- readResult{data: frame} }
func (c *fakeConn) fail(err error)    { c.reads <- readResult{err: err} }

type fakeDialer struct {
	mu    sync.Mutex
	block bool
	err   error
	urls  []string
	dials atomic.Int32
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) DialContext(ctx context.Context, url string) (FrameConn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.urls = append(d.urls, url)
	block, err := d.block, d.err
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) set(block bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.block, d.err = block, err
}

type fixture struct {
	client *Client
	clock  *timeutil.MockClock
	dialer *fakeDialer
	http   *httputil.MockHTTPClient
	events <-chan Event
}

func newFixture(t *testing.T, body string, opts ...func(*Config)) *fixture {
	t.Helper()
	prev := monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	f := &fixture{
		clock:  timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		dialer: newFakeDialer(),
		http:   httputil.NewMockHTTPClient(),
	}
	f.http.AddResponse(200, body)
	cfg := Config{
		BaseURL: "http://radar.local:6502/",
		HTTP:    f.http,
		Dialer:  f.dialer,
		Clock:   f.clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.client = NewClient(cfg)
	_, f.events = f.client.Subscribe()
	t.Cleanup(f.client.Close)
	return f
}

// next returns the next event of the given kind, skipping others.
func (f *fixture) next(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-f.events:
			require.True(t, ok, "event channel closed")
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v event", kind)
		}
	}
}

func (f *fixture) nextState(t *testing.T) State {
	t.Helper()
	return f.next(t, EventState).State
}

// quiet asserts that no event of kind arrives within a short window.
func (f *fixture) quiet(t *testing.T, kind EventKind) {
	t.Helper()
	timeout := time.After(50 * time.Millisecond)
	for {
		select {
		case e, ok := <-f.events:
			if !ok {
				return
			}
			assert.NotEqual(t, kind, e.Kind, "unexpected event %+v", e)
		case <-timeout:
			return
		}
	}
}

func (f *fixture) connect(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, f.client.Connect(context.Background(), ""))
	require.Equal(t, Connecting, f.nextState(t))
	require.Equal(t, Connected, f.nextState(t))
	select {
	case c := <-f.dialer.conns:
		return c
	case <-time.After(time.Second):
		t.Fatal("no connection dialled")
	}
	return nil
}

func TestConnect_FirstSourceAndInitialConfig(t *testing.T) {
	f := newFixture(t, discoveryBody)

	require.NoError(t, f.client.Connect(context.Background(), ""))
	assert.Equal(t, Connecting, f.nextState(t))

	cfg := f.next(t, EventConfig)
	assert.Equal(t, "radar-a", cfg.Source)
	assert.Equal(t, 1024, cfg.Config.Spokes)
	assert.Equal(t, 256, cfg.Config.MaxSpokeLen)
	assert.Equal(t, 1852.0, cfg.Config.Range)
	assert.Equal(t, "#ff0000", cfg.Config.Legend[255])

	assert.Equal(t, Connected, f.nextState(t))
	assert.Equal(t, Connected, f.client.State())

	cur, ok := f.client.Current()
	require.True(t, ok)
	assert.Equal(t, "Fore", cur.Name)

	f.dialer.mu.Lock()
	defer f.dialer.mu.Unlock()
	assert.Equal(t, []string{"ws://radar.local:6502/v1/api/spokes/a"}, f.dialer.urls)

	require.Equal(t, 1, f.http.RequestCount())
	assert.Equal(t, "http://radar.local:6502/v1/api/radars", f.http.Requests()[0].URL.String())
}

func TestConnect_ExplicitID(t *testing.T) {
	f := newFixture(t, discoveryBody)
	require.NoError(t, f.client.Connect(context.Background(), "radar-b"))
	cfg := f.next(t, EventConfig)
	assert.Equal(t, 2048, cfg.Config.Spokes)
	assert.Equal(t, Connected, f.next(t, EventState).State)
}

func TestConnect_SourceNotFound(t *testing.T) {
	f := newFixture(t, discoveryBody)

	err := f.client.Connect(context.Background(), "radar-z")
	var nf *SourceNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "radar-z", nf.ID)
	assert.Equal(t, []string{"radar-a", "radar-b"}, nf.Available)
	assert.Contains(t, err.Error(), "radar-a, radar-b")

	assert.Equal(t, Connecting, f.nextState(t))
	e := f.next(t, EventError)
	assert.ErrorAs(t, e.Err, &nf)
	assert.Equal(t, Disconnected, f.nextState(t))
	assert.Equal(t, int32(0), f.dialer.dials.Load())
	assert.Equal(t, 0, f.clock.PendingTimers(), "no automatic retry")
}

func TestConnect_NoSources(t *testing.T) {
	f := newFixture(t, `{}`)

	err := f.client.Connect(context.Background(), "")
	var de *DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrNoSources)
	assert.Equal(t, Disconnected, f.client.State())
	assert.Equal(t, 0, f.clock.PendingTimers())
}

func TestConnect_DiscoveryFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *httputil.MockHTTPClient)
	}{
		{"network", func(m *httputil.MockHTTPClient) { m.AddErrorResponse(errors.New("connection refused")) }},
		{"status", func(m *httputil.MockHTTPClient) { m.AddResponse(503, "busy") }},
		{"malformed", func(m *httputil.MockHTTPClient) { m.AddResponse(200, "not json") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := monitoring.SetLogger(nil)
			defer monitoring.SetLogger(prev)

			m := httputil.NewMockHTTPClient()
			tt.setup(m)
			c := NewClient(Config{BaseURL: "http://radar.local", HTTP: m, Dialer: newFakeDialer(), Clock: timeutil.NewMockClock(time.Now())})
			defer c.Close()

			err := c.Connect(context.Background(), "")
			var de *DiscoveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "http://radar.local/v1/api/radars", de.URL)
			assert.Equal(t, Disconnected, c.State())
		})
	}
}

func TestConnect_NoOpWhileActive(t *testing.T) {
	f := newFixture(t, discoveryBody)
	f.connect(t)

	require.NoError(t, f.client.Connect(context.Background(), "radar-b"))
	assert.Equal(t, int32(1), f.dialer.dials.Load())
	assert.Equal(t, 1, f.http.RequestCount())
	cur, _ := f.client.Current()
	assert.Equal(t, "radar-a", cur.ID)
}

func TestStream_PublishesSpokesInOrder(t *testing.T) {
	f := newFixture(t, discoveryBody)

	var relayed atomic.Int32
	f.client.onFrame = func(m wire.Message) { relayed.Add(1) }
	conn := f.connect(t)

	conn.send(wire.Encode(wire.Message{Spokes: []wire.Spoke{
		{Angle: 1, Range: 1852, Data: []byte{1}},
		{Angle: 2, Range: 1852, Data: []byte{2}},
		{Angle: 3, Range: 1852, Data: []byte{3}},
	}}))
	conn.send([]byte{0xff})
	conn.send(wire.Encode(wire.Message{Spokes: []wire.Spoke{{Angle: 4, Range: 1852, Data: []byte{4}}}}))

	var got []uint32
	for len(got) < 3 {
		got = append(got, f.next(t, EventSpoke).Spoke.Angle)
	}
	assert.Equal(t, []uint32{1, 2, 3}, got)

	e := f.next(t, EventError)
	var fe *FrameDecodeError
	require.ErrorAs(t, e.Err, &fe)
	assert.Equal(t, 1, fe.Size)
	assert.ErrorIs(t, e.Err, wire.ErrEnvelope)

	assert.Equal(t, uint32(4), f.next(t, EventSpoke).Spoke.Angle)
	assert.Equal(t, Connected, f.client.State(), "decode errors are not fatal")

	st := f.client.Stats()
	assert.Equal(t, uint64(2), st.Frames)
	assert.Equal(t, uint64(4), st.Spokes)
	assert.Equal(t, uint64(1), st.DecodeErrors)
	assert.Equal(t, int32(2), relayed.Load())
}

func TestReconnect_AfterUncleanClose(t *testing.T) {
	f := newFixture(t, discoveryBody)
	conn := f.connect(t)
	require.NoError(t, f.client.UpdateRange(3704))

	conn.fail(io.ErrUnexpectedEOF)

	e := f.next(t, EventError)
	var se *StreamError
	require.ErrorAs(t, e.Err, &se)
	assert.ErrorIs(t, e.Err, io.ErrUnexpectedEOF)
	assert.Equal(t, Disconnected, f.nextState(t))
	assert.Equal(t, 1, f.clock.PendingTimers(), "exactly one reconnect timer")
	_, ok := f.client.Current()
	assert.False(t, ok)

	f.clock.Advance(4 * time.Second)
	assert.Equal(t, Disconnected, f.client.State())
	assert.Equal(t, int32(1), f.dialer.dials.Load())

	f.clock.Advance(time.Second)
	assert.Equal(t, Connecting, f.nextState(t))
	assert.Equal(t, Connected, f.nextState(t))
	assert.Equal(t, int32(2), f.dialer.dials.Load())
	assert.Equal(t, 1, f.http.RequestCount(), "reconnect reuses the discovered source")
	assert.Equal(t, 0, f.clock.PendingTimers())

	cfg, ok := f.client.DisplayConfig()
	require.True(t, ok)
	assert.Equal(t, 3704.0, cfg.Range, "range survives the reconnect")
	assert.Equal(t, uint64(1), f.client.Stats().Reconnects)
}

func TestReconnect_RetriesFailedDialOncePerFailure(t *testing.T) {
	f := newFixture(t, discoveryBody)
	conn := f.connect(t)

	f.dialer.set(false, errors.New("connection refused"))
	conn.fail(io.ErrUnexpectedEOF)
	require.Equal(t, Disconnected, f.nextState(t))

	for i := 0; i < 3; i++ {
		require.Equal(t, 1, f.clock.PendingTimers())
		f.clock.Advance(DefaultReconnectDelay)
		require.Equal(t, Connecting, f.nextState(t))
		require.Equal(t, Disconnected, f.nextState(t))
	}
	assert.Equal(t, 1, f.clock.PendingTimers())
	assert.Equal(t, int32(4), f.dialer.dials.Load())

	f.dialer.set(false, nil)
	f.clock.Advance(DefaultReconnectDelay)
	assert.Equal(t, Connecting, f.nextState(t))
	assert.Equal(t, Connected, f.nextState(t))
}

func TestConnect_Timeout(t *testing.T) {
	f := newFixture(t, discoveryBody)
	f.dialer.set(true, nil)

	require.NoError(t, f.client.Connect(context.Background(), ""))
	require.Equal(t, Connecting, f.nextState(t))

	f.clock.Advance(9 * time.Second)
	assert.Equal(t, Connecting, f.client.State())

	f.clock.Advance(time.Second)
	e := f.next(t, EventError)
	var te *TimeoutError
	require.ErrorAs(t, e.Err, &te)
	assert.Equal(t, DefaultConnectTimeout, te.After)
	assert.True(t, te.Timeout())
	assert.Contains(t, te.Error(), "timed out after 10s")
	assert.Equal(t, Disconnected, f.nextState(t))

	assert.Equal(t, 0, f.clock.PendingTimers(), "timeouts are not retried")
	f.clock.Advance(time.Minute)
	assert.Equal(t, int32(1), f.dialer.dials.Load())
}

func TestStream_CleanCloseDoesNotReconnect(t *testing.T) {
	f := newFixture(t, discoveryBody)
	conn := f.connect(t)

	conn.fail(fmt.Errorf("%w: 1000", ErrClosedCleanly))
	assert.Equal(t, Disconnected, f.nextState(t))
	assert.Equal(t, 0, f.clock.PendingTimers())
	f.quiet(t, EventError)
}

func TestDisconnect_CancelsReconnect(t *testing.T) {
	f := newFixture(t, discoveryBody)
	conn := f.connect(t)

	conn.fail(io.ErrUnexpectedEOF)
	require.Equal(t, Disconnected, f.nextState(t))
	require.Equal(t, 1, f.clock.PendingTimers())

	f.client.Disconnect()
	f.client.Disconnect()
	assert.Equal(t, 0, f.clock.PendingTimers())

	f.clock.Advance(time.Minute)
	assert.Equal(t, Disconnected, f.client.State())
	assert.Equal(t, int32(1), f.dialer.dials.Load())
	f.quiet(t, EventState)
}

func TestDisconnect_WhileConnected(t *testing.T) {
	f := newFixture(t, discoveryBody)
	conn := f.connect(t)

	f.client.Disconnect()
	assert.Equal(t, Disconnected, f.nextState(t))

	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
	_, ok := f.client.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, f.clock.PendingTimers())
	f.quiet(t, EventError)

	// connecting again works after an explicit disconnect
	f.connect(t)
}

func TestDisconnect_CancelsInFlightAttempt(t *testing.T) {
	f := newFixture(t, discoveryBody)
	f.dialer.set(true, nil)

	require.NoError(t, f.client.Connect(context.Background(), ""))
	require.Equal(t, Connecting, f.nextState(t))
	require.Equal(t, 1, f.clock.PendingTimers())

	f.client.Disconnect()
	assert.Equal(t, Disconnected, f.nextState(t))
	assert.Equal(t, 0, f.clock.PendingTimers())

	f.clock.Advance(time.Minute)
	f.quiet(t, EventError)
}

func TestDisconnect_Idempotent(t *testing.T) {
	f := newFixture(t, discoveryBody)
	f.client.Disconnect()
	f.client.Disconnect()
	assert.Equal(t, Disconnected, f.client.State())
	f.quiet(t, EventState)
}

func TestUpdateRange(t *testing.T) {
	f := newFixture(t, discoveryBody)

	require.NoError(t, f.client.UpdateRange(500))
	_, ok := f.client.DisplayConfig()
	assert.False(t, ok, "no config before a source is chosen")
	f.quiet(t, EventConfig)

	require.NoError(t, f.client.Connect(context.Background(), ""))
	assert.Equal(t, 500.0, f.next(t, EventConfig).Config.Range, "range set early applies to the first source")
	require.Equal(t, Connected, f.nextState(t))
	cfg, ok := f.client.DisplayConfig()
	require.True(t, ok)
	assert.Equal(t, 500.0, cfg.Range)

	require.NoError(t, f.client.UpdateRange(926))
	e := f.next(t, EventConfig)
	assert.Equal(t, 926.0, e.Config.Range)
	assert.Equal(t, 1024, e.Config.Spokes)

	require.NoError(t, f.client.UpdateRange(926))
	f.quiet(t, EventConfig)

	for _, bad := range []float64{0, -1} {
		assert.Error(t, f.client.UpdateRange(bad))
	}
	assert.Equal(t, int32(1), f.dialer.dials.Load(), "range changes never touch the stream")
}

func TestDisplayConfig_NoneWhileDisconnected(t *testing.T) {
	f := newFixture(t, discoveryBody)
	f.connect(t)
	require.NoError(t, f.client.UpdateRange(3704))
	_, ok := f.client.DisplayConfig()
	require.True(t, ok)

	f.client.Disconnect()
	require.Equal(t, Disconnected, f.nextState(t))
	_, ok = f.client.DisplayConfig()
	assert.False(t, ok, "no config after an explicit disconnect")

	conn := f.connect(t)
	cfg, ok := f.client.DisplayConfig()
	require.True(t, ok)
	assert.Equal(t, 3704.0, cfg.Range, "range carries over to the next connect")

	conn.fail(fmt.Errorf("%w: 1000", ErrClosedCleanly))
	require.Equal(t, Disconnected, f.nextState(t))
	_, ok = f.client.DisplayConfig()
	assert.False(t, ok, "no config after the source closed the stream")
}

func TestDisplayConfig_NoneWhileReconnectPending(t *testing.T) {
	f := newFixture(t, discoveryBody)
	conn := f.connect(t)

	conn.fail(io.ErrUnexpectedEOF)
	require.Equal(t, Disconnected, f.nextState(t))
	_, ok := f.client.DisplayConfig()
	assert.False(t, ok)

	f.clock.Advance(DefaultReconnectDelay)
	require.Equal(t, Connecting, f.nextState(t))
	_, ok = f.client.DisplayConfig()
	assert.True(t, ok)
}

func TestDisconnect_ClosesStreamOutsideLock(t *testing.T) {
	f := newFixture(t, discoveryBody)
	conn := f.connect(t)
	conn.hold = make(chan struct{})

	done := make(chan struct{})
	go func() {
		f.client.Disconnect()
		close(done)
	}()

	// the client stays responsive while the close handshake is outstanding
	assert.Equal(t, Disconnected, f.nextState(t))
	assert.Eventually(t, func() bool { return f.client.State() == Disconnected }, time.Second, time.Millisecond)
	_, ok := f.client.Current()
	assert.False(t, ok)
	select {
	case <-done:
		t.Fatal("Disconnect returned before the stream was closed")
	default:
	}

	close(conn.hold)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Disconnect did not return")
	}
	f.quiet(t, EventError)
}

func TestEvents_LaggingSubscriberKeepsControlEvents(t *testing.T) {
	const buffer = 16
	f := newFixture(t, discoveryBody, func(c *Config) { c.EventBuffer = buffer })
	conn := f.connect(t)

	frame := make([]wire.Spoke, 64)
	for i := range frame {
		frame[i] = wire.Spoke{Angle: uint32(i), Range: 1852, Data: []byte{1}}
	}
	for i := 0; i < 3; i++ {
		conn.send(wire.Encode(wire.Message{Spokes: frame}))
	}
	// an empty frame is counted only after every spoke before it was published
	conn.send(wire.Encode(wire.Message{}))
	require.Eventually(t, func() bool { return f.client.Stats().Frames == 4 }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.client.UpdateRange(3704))
	f.client.Disconnect()

	var kinds []EventKind
	spokes := 0
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case e, ok := <-f.events:
			require.True(t, ok, "event channel closed")
			kinds = append(kinds, e.Kind)
			switch e.Kind {
			case EventSpoke:
				spokes++
			case EventConfig:
				assert.Equal(t, 3704.0, e.Config.Range)
			case EventState:
				assert.Equal(t, Disconnected, e.State)
				done = true
			}
		case <-timeout:
			t.Fatalf("no disconnected state after %d spokes", spokes)
		}
	}

	// one spoke may already be on its way to the channel when the queue fills
	assert.GreaterOrEqual(t, spokes, buffer)
	assert.LessOrEqual(t, spokes, buffer+1)
	assert.Equal(t, uint64(192-spokes), f.client.Stats().Dropped)
	assert.Equal(t, []EventKind{EventConfig, EventState}, kinds[len(kinds)-2:])
}

func TestClose_ClosesSubscriptions(t *testing.T) {
	prev := monitoring.SetLogger(nil)
	defer monitoring.SetLogger(prev)

	c := NewClient(Config{Clock: timeutil.NewMockClock(time.Now())})
	id, ch := c.Subscribe()
	_, other := c.Subscribe()
	c.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	c.Close()
	_, ok = <-other
	assert.False(t, ok)
}

func TestStateAndKindNames(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	b, err := Connected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "connected", string(b))
	assert.Equal(t, "radarConfig", EventConfig.String())
	assert.Equal(t, "spokeReceived", EventSpoke.String())
}
