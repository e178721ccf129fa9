package source

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoSources is wrapped in a DiscoveryError when discovery succeeds but
// advertises nothing usable.
var ErrNoSources = errors.New("no radar sources available")

// DiscoveryError means the source list could not be obtained. The connect
// attempt that triggered it is abandoned.
type DiscoveryError struct {
	URL string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery at %s failed: %v", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// SourceNotFoundError is returned when an explicit source id is not among
// the discovered ones.
type SourceNotFoundError struct {
	ID        string
	Available []string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("radar source %q not found (available: %s)", e.ID, strings.Join(e.Available, ", "))
}

// TimeoutError is surfaced when a connection attempt neither opens nor fails
// within the connect timeout. It is not retried automatically.
type TimeoutError struct {
	ID    string
	URL   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("connecting to %s (%s) timed out after %s", e.ID, e.URL, e.After)
}

// Timeout lets callers treat this like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// StreamError is a transport failure while opening or reading the stream.
// It schedules a reconnect.
type StreamError struct {
	ID  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream from %s failed: %v", e.ID, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// FrameDecodeError reports a dropped frame. The stream carries on.
type FrameDecodeError struct {
	ID   string
	Size int // frame length in bytes
	Err  error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("dropped %d byte frame from %s: %v", e.Size, e.ID, e.Err)
}

func (e *FrameDecodeError) Unwrap() error { return e.Err }
