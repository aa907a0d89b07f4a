package frame

import (
	"encoding/binary"
	"fmt"
)

// SegmentKind tells the device how to treat a segment of a device-data request
type SegmentKind uint16

const (
	SegmentFixed             SegmentKind = 0 // Literal bytes
	SegmentDeviceSubstituted SegmentKind = 1 // 2-byte placeholder index
)

// String returns string representation of SegmentKind
func (k SegmentKind) String() string {
	switch k {
	case SegmentFixed:
		return "Fixed"
	case SegmentDeviceSubstituted:
		return "DeviceSubstituted"
	default:
		return fmt.Sprintf("SegmentKind(%d)", uint16(k))
	}
}

// Segment is one typed chunk of a device-data signing request
type Segment struct {
	Kind SegmentKind
	Data []byte
}

// FixedSegment creates a literal segment
func FixedSegment(data []byte) Segment {
	return Segment{Kind: SegmentFixed, Data: data}
}

// PlaceholderSegment creates a device-substituted segment for placeholder index
func PlaceholderSegment(index uint16) Segment {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, index)
	return Segment{Kind: SegmentDeviceSubstituted, Data: b}
}

// Index returns the placeholder index of a device-substituted segment
func (s Segment) Index() (uint16, error) {
	if s.Kind != SegmentDeviceSubstituted || len(s.Data) != 2 {
		return 0, fmt.Errorf("%w: %v segment of %d bytes is not a placeholder", ErrMalformedPacket, s.Kind, len(s.Data))
	}
	return binary.LittleEndian.Uint16(s.Data), nil
}

// String returns a string representation of the segment
func (s Segment) String() string {
	if s.Kind == SegmentFixed {
		return fmt.Sprintf("Fixed(%q)", s.Data)
	}
	return fmt.Sprintf("%v(% X)", s.Kind, s.Data)
}

// EncodeSegments concatenates segments as {type u16LE, size u16LE, bytes} records
func EncodeSegments(segments []Segment) ([]byte, error) {
	size := 0
	for _, s := range segments {
		if len(s.Data) > MaxPayloadSize {
			return nil, ErrPayloadTooLarge
		}
		size += SegmentHeaderSize + len(s.Data)
	}
	if size > MaxPayloadSize-RequestHeaderSize {
		return nil, ErrPayloadTooLarge
	}

	out := make([]byte, 0, size)
	var hdr [SegmentHeaderSize]byte
	for _, s := range segments {
		binary.LittleEndian.PutUint16(hdr[0:2], uint16(s.Kind))
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(s.Data)))
		out = append(out, hdr[:]...)
		out = append(out, s.Data...)
	}
	return out, nil
}

// DecodeSegments splits a device-data request body into segments
func DecodeSegments(body []byte) ([]Segment, error) {
	var segments []Segment
	for pos := 0; pos < len(body); {
		if pos+SegmentHeaderSize > len(body) {
			return nil, fmt.Errorf("%w: truncated segment header at %d", ErrMalformedPacket, pos)
		}
		kind := SegmentKind(binary.LittleEndian.Uint16(body[pos : pos+2]))
		size := int(binary.LittleEndian.Uint16(body[pos+2 : pos+4]))
		pos += SegmentHeaderSize
		if pos+size > len(body) {
			return nil, fmt.Errorf("%w: segment of %d bytes at %d overruns body", ErrMalformedPacket, size, pos)
		}
		data := make([]byte, size)
		copy(data, body[pos:pos+size])
		segments = append(segments, Segment{Kind: kind, Data: data})
		pos += size
	}
	return segments, nil
}
