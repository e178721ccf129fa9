package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/spokeview/internal/source"
)

// spokeSummary stands in for individual spokeReceived events, which arrive
// far too often to forward one by one.
type spokeSummary struct {
	Source    string `json:"source"`
	Count     uint64 `json:"count"`
	LastAngle uint32 `json:"last_angle"`
}

type stateEvent struct {
	Source string       `json:"source"`
	State  source.State `json:"state"`
}

type errorEvent struct {
	Source string `json:"source,omitempty"`
	Error  string `json:"error"`
}

type configEvent struct {
	Source string               `json:"source"`
	Config source.DisplayConfig `json:"config"`
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	w.(http.Flusher).Flush()
	return nil
}

// streamEvents forwards client events as server-sent events. Config, state
// and error events go out as they happen; spokes are summarised once per
// summary interval.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, events := s.src.Subscribe()
	defer s.src.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	ticker := time.NewTicker(s.summaryInterval)
	defer ticker.Stop()

	var summary spokeSummary
	for {
		var err error
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case source.EventSpoke:
				summary.Source = e.Source
				summary.Count++
				summary.LastAngle = e.Spoke.Angle
			case source.EventConfig:
				err = writeEvent(w, e.Kind.String(), configEvent{Source: e.Source, Config: e.Config})
			case source.EventState:
				err = writeEvent(w, e.Kind.String(), stateEvent{Source: e.Source, State: e.State})
			case source.EventError:
				msg := "unknown error"
				if e.Err != nil {
					msg = e.Err.Error()
				}
				err = writeEvent(w, e.Kind.String(), errorEvent{Source: e.Source, Error: msg})
			}
		case <-ticker.C:
			if summary.Count > 0 {
				err = writeEvent(w, source.EventSpoke.String(), summary)
				summary = spokeSummary{}
			}
		case <-r.Context().Done():
			return
		}
		if err != nil {
			return
		}
	}
}
