// Package nav supplies the ship state (heading and position) the radar
// image is corrected and anchored with, either pushed by the host or parsed
// from an NMEA 0183 talker.
package nav

import (
	"bufio"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spokeview/internal/geo"
	"github.com/banshee-data/spokeview/internal/monitoring"
)

var logf = monitoring.Component("Nav")

// ShipState is the vessel's latest heading and position.
type ShipState struct {
	Heading  float64    `json:"heading"` // degrees true
	Location geo.LatLon `json:"location"`
	Updated  time.Time  `json:"updated"`
}

// Feed owns the current ShipState and fans changes out to subscribers.
type Feed struct {
	mu    sync.RWMutex
	state ShipState

	subscriberMu sync.Mutex
	subscribers  map[string]chan ShipState
	closing      bool

	now func() time.Time
}

// NewFeed returns a Feed starting from initial.
func NewFeed(initial ShipState) *Feed {
	return &Feed{
		state:       initial,
		subscribers: make(map[string]chan ShipState),
		now:         time.Now,
	}
}

// State returns the current ship state.
func (f *Feed) State() ShipState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Set replaces the ship state and notifies subscribers.
func (f *Feed) Set(s ShipState) {
	if s.Updated.IsZero() {
		s.Updated = f.now()
	}
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	f.publish(s)
}

// Apply merges a parsed sentence into the state. It reports whether
// anything changed.
func (f *Feed) Apply(u Update) bool {
	if u.Heading == nil && u.Position == nil {
		return false
	}
	f.mu.Lock()
	if u.Heading != nil {
		f.state.Heading = *u.Heading
	}
	if u.Position != nil {
		f.state.Location = *u.Position
	}
	f.state.Updated = f.now()
	s := f.state
	f.mu.Unlock()
	f.publish(s)
	return true
}

// Subscribe returns an id and a channel receiving every state change. The
// channel holds one pending state; slower readers miss intermediate states.
func (f *Feed) Subscribe() (string, <-chan ShipState) {
	id := uuid.NewString()
	ch := make(chan ShipState, 1)
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	if f.closing {
		close(ch)
		return id, ch
	}
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (f *Feed) Unsubscribe(id string) {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

func (f *Feed) publish(s ShipState) {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- s:
		default:
			// replace the stale pending state with the newest one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Close closes every subscription.
func (f *Feed) Close() {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	f.closing = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Monitor reads NMEA lines from port until ctx is cancelled or the port
// reaches EOF, applying every heading and position it understands. Lines
// that fail to parse are logged and skipped.
func (f *Feed) Monitor(ctx context.Context, port Porter) error {
	scan := bufio.NewScanner(port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking Scan runs on its own goroutine so cancellation is
	// observed even while the talker is silent
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	var bad int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErrChan:
			return err
		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			u, err := ParseSentence(line)
			if err != nil {
				if !errors.Is(err, ErrUnsupported) {
					bad++
					if bad == 1 || bad%100 == 0 {
						logf("skipping sentence (%d bad so far): %v", bad, err)
					}
				}
				continue
			}
			f.Apply(u)
		}
	}
}
