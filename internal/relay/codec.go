package relay

import (
	"fmt"
)

// Frame is the only message type on the relay: an encoded RadarMessage.
// Subscribe requests are empty Frames.
type Frame struct {
	Data []byte
}

// rawCodec passes Frame payloads through untouched, so the relay speaks
// the same protobuf wire format as the radar stream without generated code.
type rawCodec struct{}

func (rawCodec) Name() string { return "spokeview-raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("relay codec: cannot marshal %T", v)
	}
	return f.Data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("relay codec: cannot unmarshal into %T", v)
	}
	f.Data = append(f.Data[:0], data...)
	return nil
}
