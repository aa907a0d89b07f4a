package frame

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 8-byte prefix of every outbound frame
type Header struct {
	Seq      uint32 // Request sequence number
	TotalLen uint16 // Length of the complete request payload
	Offset   uint16 // Offset of this frame's payload within the request
}

// Frame represents one MTU-bounded unit of an outbound request
type Frame struct {
	Header
	Payload []byte // Slice of the request payload starting at Offset
}

// EncodeHeader writes seq, totalLen and offset in little-endian order
func EncodeHeader(seq uint32, totalLen, offset uint16) [HeaderSize]byte {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], seq)
	binary.LittleEndian.PutUint16(b[4:6], totalLen)
	binary.LittleEndian.PutUint16(b[6:8], offset)
	return b
}

// DecodeHeader parses the 8-byte frame header
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: frame header needs %d bytes, got %d", ErrMalformedPacket, HeaderSize, len(data))
	}
	return Header{
		Seq:      binary.LittleEndian.Uint32(data[0:4]),
		TotalLen: binary.LittleEndian.Uint16(data[4:6]),
		Offset:   binary.LittleEndian.Uint16(data[6:8]),
	}, nil
}

// NewFrame creates a frame for the given header and payload slice
func NewFrame(seq uint32, totalLen, offset uint16, payload []byte) *Frame {
	return &Frame{
		Header: Header{
			Seq:      seq,
			TotalLen: totalLen,
			Offset:   offset,
		},
		Payload: payload,
	}
}

// Serialize converts frame to wire format
func (f *Frame) Serialize() []byte {
	header := EncodeHeader(f.Seq, f.TotalLen, f.Offset)
	result := make([]byte, HeaderSize+len(f.Payload))
	copy(result, header[:])
	copy(result[HeaderSize:], f.Payload)
	return result
}

// Parse parses wire format data into a Frame.
// The payload must not run past the declared total length.
func Parse(data []byte) (*Frame, error) {
	header, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	payload := data[HeaderSize:]
	if int(header.Offset)+len(payload) > int(header.TotalLen) {
		return nil, fmt.Errorf("%w: frame offset %d + %d bytes exceeds total %d",
			ErrMalformedPacket, header.Offset, len(payload), header.TotalLen)
	}

	p := make([]byte, len(payload))
	copy(p, payload)
	return &Frame{Header: header, Payload: p}, nil
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Seq=%d, Total=%d, Offset=%d, Len=%d}",
		f.Seq, f.TotalLen, f.Offset, len(f.Payload))
}

// EncodeRequest prefixes body with the 4-byte signing request header
func EncodeRequest(op OpType, body []byte) ([]byte, error) {
	if len(body) > MaxPayloadSize-RequestHeaderSize {
		return nil, ErrPayloadTooLarge
	}
	result := make([]byte, RequestHeaderSize+len(body))
	binary.LittleEndian.PutUint16(result[0:2], uint16(op))
	binary.LittleEndian.PutUint16(result[2:4], uint16(len(body)))
	copy(result[RequestHeaderSize:], body)
	return result, nil
}

// DecodeRequest splits a reassembled request into its op type and body
func DecodeRequest(data []byte) (OpType, []byte, error) {
	if len(data) < RequestHeaderSize {
		return 0, nil, fmt.Errorf("%w: request header needs %d bytes, got %d", ErrMalformedPacket, RequestHeaderSize, len(data))
	}
	op := OpType(binary.LittleEndian.Uint16(data[0:2]))
	size := int(binary.LittleEndian.Uint16(data[2:4]))
	if RequestHeaderSize+size > len(data) {
		return 0, nil, fmt.Errorf("%w: request body declares %d bytes, have %d", ErrMalformedPacket, size, len(data)-RequestHeaderSize)
	}
	return op, data[RequestHeaderSize : RequestHeaderSize+size], nil
}
