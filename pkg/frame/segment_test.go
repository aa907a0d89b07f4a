package frame

import (
	"bytes"
	"errors"
	"testing"
)

// TestSegments_Encode tests the segment record layout
func TestSegments_Encode(t *testing.T) {
	segments := []Segment{
		FixedSegment([]byte("call(")),
		PlaceholderSegment(0),
		FixedSegment([]byte(")")),
	}

	body, err := EncodeSegments(segments)
	if err != nil {
		t.Fatalf("EncodeSegments failed: %v", err)
	}

	want := []byte{
		0x00, 0x00, 0x05, 0x00, 'c', 'a', 'l', 'l', '(',
		0x01, 0x00, 0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, ')',
	}
	if !bytes.Equal(body, want) {
		t.Errorf("EncodeSegments = % X, want % X", body, want)
	}

	decoded, err := DecodeSegments(body)
	if err != nil {
		t.Fatalf("DecodeSegments failed: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("len(segments) = %d, want 3", len(decoded))
	}
	for i := range segments {
		if decoded[i].Kind != segments[i].Kind || !bytes.Equal(decoded[i].Data, segments[i].Data) {
			t.Errorf("segment %d = %v, want %v", i, decoded[i], segments[i])
		}
	}
	if idx, err := decoded[1].Index(); err != nil || idx != 0 {
		t.Errorf("Index() = %d, %v, want 0, nil", idx, err)
	}
}

// TestDecodeSegments_Truncated tests truncated segment bodies
func TestDecodeSegments_Truncated(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"Short header", []byte{0x00, 0x00, 0x05}},
		{"Short data", []byte{0x00, 0x00, 0x05, 0x00, 'a'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSegments(tt.body); !errors.Is(err, ErrMalformedPacket) {
				t.Errorf("DecodeSegments error = %v, want %v", err, ErrMalformedPacket)
			}
		})
	}
}

// TestSegment_IndexOnFixed tests that only placeholders carry an index
func TestSegment_IndexOnFixed(t *testing.T) {
	if _, err := FixedSegment([]byte{0, 0}).Index(); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("Index() error = %v, want %v", err, ErrMalformedPacket)
	}
}
