package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/banshee-data/spokeview/internal/httputil"
)

// DiscoveryPath is queried relative to the base URL.
const DiscoveryPath = "/v1/api/radars"

const maxDiscoveryBody = 4 << 20

// Discover lists the radars advertised at baseURL. Descriptors that fail
// validation are logged and left out; stream URLs are made absolute.
func Discover(ctx context.Context, client httputil.HTTPClient, baseURL string) (map[string]SourceDescriptor, error) {
	endpoint := strings.TrimRight(baseURL, "/") + DiscoveryPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &DiscoveryError{URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &DiscoveryError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DiscoveryError{URL: endpoint, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBody))
	if err != nil {
		return nil, &DiscoveryError{URL: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	var raw map[string]SourceDescriptor
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DiscoveryError{URL: endpoint, Err: fmt.Errorf("malformed response: %w", err)}
	}

	sources := make(map[string]SourceDescriptor, len(raw))
	for id, d := range raw {
		if d.ID == "" {
			d.ID = id
		}
		if d.Name == "" {
			d.Name = id
		}
		if err := d.Validate(); err != nil {
			logf("ignoring source %s: %v", id, err)
			continue
		}
		stream, err := resolveStreamURL(baseURL, d.StreamURL)
		if err != nil {
			logf("ignoring source %s: stream url %q: %v", id, d.StreamURL, err)
			continue
		}
		d.StreamURL = stream
		sources[id] = d
	}
	return sources, nil
}

// SortedIDs returns the ids of sources in lexicographic order, which is the
// order the "first" source is picked from.
func SortedIDs(sources map[string]SourceDescriptor) []string {
	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Select picks id from sources, or the first source when id is empty.
func Select(sources map[string]SourceDescriptor, id string, endpoint string) (SourceDescriptor, error) {
	ids := SortedIDs(sources)
	if len(ids) == 0 {
		return SourceDescriptor{}, &DiscoveryError{URL: endpoint, Err: ErrNoSources}
	}
	if id == "" {
		return sources[ids[0]], nil
	}
	d, ok := sources[id]
	if !ok {
		return SourceDescriptor{}, &SourceNotFoundError{ID: id, Available: ids}
	}
	return d, nil
}
