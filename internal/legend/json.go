package legend

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// UnmarshalJSON accepts either {"12": "#ff0000"} or the richer
// {"12": {"type": "Normal", "color": "#ff0000"}} form some sources send.
func (l *Legend) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("legend: %w", err)
	}
	out := make(Legend, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("legend: bad index %q", k)
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[idx] = s
			continue
		}
		var entry struct {
			Color string `json:"color"`
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("legend: index %d: %w", idx, err)
		}
		out[idx] = entry.Color
	}
	*l = out
	return nil
}
