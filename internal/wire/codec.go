// Package wire encodes and decodes the binary spoke stream.
//
// Each WebSocket message carries one RadarMessage in protobuf wire format:
//
//	RadarMessage { uint32 radar = 1; repeated Spoke spokes = 2; }
//	Spoke {
//	  uint32 angle = 1;
//	  optional bearing = 2;   // varint, float or double
//	  range = 3;              // varint, float or double
//	  optional uint64 time = 4;
//	  bytes data = 5;
//	  optional double lat = 6;
//	  optional double lon = 7;
//	}
//
// The codec works directly on the wire format with protowire, so no
// generated code is needed and unknown fields are skipped.
package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers
const (
	fieldRadar  protowire.Number = 1
	fieldSpokes protowire.Number = 2

	fieldAngle   protowire.Number = 1
	fieldBearing protowire.Number = 2
	fieldRange   protowire.Number = 3
	fieldTime    protowire.Number = 4
	fieldData    protowire.Number = 5
	fieldLat     protowire.Number = 6
	fieldLon     protowire.Number = 7
)

var (
	// ErrEnvelope marks a frame whose outer RadarMessage cannot be parsed.
	ErrEnvelope = errors.New("malformed frame envelope")
	// ErrSpoke marks a frame with a malformed spoke record.
	ErrSpoke = errors.New("malformed spoke record")
)

// Spoke is one angular line of returns.
type Spoke struct {
	Angle   uint32   // bin index, 0 <= Angle < spokes
	Bearing *float64 // optional true bearing in degrees
	Range   float64  // metres represented by the full length of Data
	Time    *uint64  // optional capture time, ms since the Unix epoch
	Data    []byte   // intensities, index 0 nearest
	Lat     *float64 // optional antenna position
	Lon     *float64
}

// Message is one decoded frame.
type Message struct {
	Radar  uint32
	Spokes []Spoke
}

// Decode parses one frame. Spoke data is copied out of frame so the caller
// may reuse its read buffer. Any error drops the whole frame; errors wrap
// ErrEnvelope or ErrSpoke.
func Decode(frame []byte) (Message, error) {
	var msg Message
	b := frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: tag at offset %d: %v", ErrEnvelope, len(frame)-len(b), protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldRadar && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: radar id: %v", ErrEnvelope, protowire.ParseError(n))
			}
			msg.Radar = uint32(v)
			b = b[n:]
		case num == fieldSpokes && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: spoke %d length: %v", ErrEnvelope, len(msg.Spokes), protowire.ParseError(n))
			}
			s, err := decodeSpoke(raw)
			if err != nil {
				return Message{}, fmt.Errorf("%w: spoke %d: %v", ErrSpoke, len(msg.Spokes), err)
			}
			msg.Spokes = append(msg.Spokes, s)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %v", ErrEnvelope, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return msg, nil
}

func decodeSpoke(b []byte) (Spoke, error) {
	var s Spoke
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Spoke{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldAngle, fieldTime:
			if typ != protowire.VarintType {
				return Spoke{}, fmt.Errorf("field %d has wire type %d, want varint", num, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Spoke{}, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldAngle {
				if v > math.MaxUint32 {
					return Spoke{}, fmt.Errorf("angle %d overflows uint32", v)
				}
				s.Angle = uint32(v)
			} else {
				t := v
				s.Time = &t
			}
		case fieldBearing, fieldRange, fieldLat, fieldLon:
			v, n, err := consumeNumber(typ, b)
			if err != nil {
				return Spoke{}, fmt.Errorf("field %d: %w", num, err)
			}
			b = b[n:]
			switch num {
			case fieldBearing:
				s.Bearing = &v
			case fieldRange:
				s.Range = v
			case fieldLat:
				s.Lat = &v
			case fieldLon:
				s.Lon = &v
			}
		case fieldData:
			if typ != protowire.BytesType {
				return Spoke{}, fmt.Errorf("data has wire type %d, want bytes", typ)
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Spoke{}, protowire.ParseError(n)
			}
			s.Data = append([]byte(nil), raw...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Spoke{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if math.IsNaN(s.Range) || math.IsInf(s.Range, 0) || s.Range < 0 {
		return Spoke{}, fmt.Errorf("invalid range %v", s.Range)
	}
	return s, nil
}

// consumeNumber reads a numeric field that sources send as an integer,
// a float or a double.
func consumeNumber(typ protowire.Type, b []byte) (float64, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, n, protowire.ParseError(n)
		}
		return float64(v), n, nil
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, n, protowire.ParseError(n)
		}
		return float64(math.Float32frombits(v)), n, nil
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return 0, n, protowire.ParseError(n)
		}
		return math.Float64frombits(v), n, nil
	}
	return 0, 0, fmt.Errorf("unsupported wire type %d for numeric field", typ)
}

// Encode serialises msg. Integral non-negative bearings and ranges are
// written as varints, other values as doubles.
func Encode(msg Message) []byte {
	var b []byte
	if msg.Radar != 0 {
		b = protowire.AppendTag(b, fieldRadar, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(msg.Radar))
	}
	var sb []byte
	for i := range msg.Spokes {
		sb = appendSpoke(sb[:0], &msg.Spokes[i])
		b = protowire.AppendTag(b, fieldSpokes, protowire.BytesType)
		b = protowire.AppendBytes(b, sb)
	}
	return b
}

func appendSpoke(b []byte, s *Spoke) []byte {
	if s.Angle != 0 {
		b = protowire.AppendTag(b, fieldAngle, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Angle))
	}
	if s.Bearing != nil {
		b = appendNumber(b, fieldBearing, *s.Bearing)
	}
	if s.Range != 0 {
		b = appendNumber(b, fieldRange, s.Range)
	}
	if s.Time != nil {
		b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
		b = protowire.AppendVarint(b, *s.Time)
	}
	if len(s.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Data)
	}
	if s.Lat != nil {
		b = protowire.AppendTag(b, fieldLat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*s.Lat))
	}
	if s.Lon != nil {
		b = protowire.AppendTag(b, fieldLon, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*s.Lon))
	}
	return b
}

func appendNumber(b []byte, num protowire.Number, v float64) []byte {
	if v >= 0 && v <= math.MaxUint32 && v == math.Trunc(v) {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}
