package source

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/spokeview/internal/wire"
)

// State is the connection state of a Client.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// MarshalText encodes the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// EventKind says which field of an Event is populated.
type EventKind int

const (
	EventConfig EventKind = iota + 1
	EventSpoke
	EventState
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConfig:
		return "radarConfig"
	case EventSpoke:
		return "spokeReceived"
	case EventState:
		return "state"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one notification from the client.
type Event struct {
	Kind   EventKind
	Source string // id of the source involved, if any

	Config DisplayConfig // EventConfig
	Spoke  wire.Spoke    // EventSpoke
	State  State         // EventState
	Err    error         // EventError
}

// DefaultEventBuffer is the number of spokes a subscriber may have queued
// before further spokes are dropped.
const DefaultEventBuffer = 4096

// bus fans events out to subscribers without ever blocking the publisher.
// Each subscriber has its own ordered queue drained by a goroutine. Spokes
// beyond the queue limit are dropped and counted; config, state and error
// events are always queued.
type bus struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	size        int
	closed      bool
	dropped     atomic.Uint64
}

type subscriber struct {
	out  chan Event
	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	queue  []Event
	spokes int
}

func newBus(size int) *bus {
	if size <= 0 {
		size = DefaultEventBuffer
	}
	return &bus{subscribers: make(map[string]*subscriber), size: size}
}

func (b *bus) subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	s := &subscriber{
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.out)
		return id, s.out
	}
	b.subscribers[id] = s
	go s.run()
	return id, s.out
}

func (b *bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subscribers[id]; ok {
		close(s.done)
		delete(b.subscribers, id)
	}
}

func (b *bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers {
		if s.push(e, b.size) {
			continue
		}
		if n := b.dropped.Add(1); n == 1 || n%1000 == 0 {
			logf("subscriber lagging, %d spokes dropped so far", n)
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, s := range b.subscribers {
		close(s.done)
		delete(b.subscribers, id)
	}
}

// push queues e and reports whether it was kept. Only spokes are refused,
// once limit of them are waiting.
func (s *subscriber) push(e Event, limit int) bool {
	s.mu.Lock()
	if e.Kind == EventSpoke {
		if s.spokes >= limit {
			s.mu.Unlock()
			return false
		}
		s.spokes++
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// run delivers queued events in order until the subscription ends, then
// closes out. Events still queued at that point are discarded.
func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.queue = nil
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		if e.Kind == EventSpoke {
			s.spokes--
		}
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}
