package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func signResultBuffer(errCode, flags uint16) []byte {
	b := make([]byte, SignResultSize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(NotifySignResult))
	binary.LittleEndian.PutUint16(b[2:4], SignResultSize-NotificationHeaderSize)
	binary.LittleEndian.PutUint16(b[4:6], errCode)
	binary.LittleEndian.PutUint16(b[6:8], flags)
	for i := 0; i < SignatureSize; i++ {
		b[8+i] = byte(i)
	}
	return b
}

// TestDecodePacketAck tests packet-ack field extraction
func TestDecodePacketAck(t *testing.T) {
	data := EncodePacketAck(0xDEADBEEF, 56, 0)

	ev, err := DecodeNotification(data)
	if err != nil {
		t.Fatalf("DecodeNotification failed: %v", err)
	}
	ack, ok := ev.(*PacketAck)
	if !ok {
		t.Fatalf("Event = %T, want *PacketAck", ev)
	}
	if ack.Seq != 0xDEADBEEF {
		t.Errorf("Seq = 0x%X, want 0xDEADBEEF", ack.Seq)
	}
	if ack.Offset != 56 {
		t.Errorf("Offset = %d, want 56", ack.Offset)
	}
	if ack.Status != 0 {
		t.Errorf("Status = %d, want 0", ack.Status)
	}
}

// TestDecodeSignResult_OneValue tests a single 5-byte value at offset 72
func TestDecodeSignResult_OneValue(t *testing.T) {
	b := signResultBuffer(0, 0x0001)
	binary.LittleEndian.PutUint16(b[72:74], 5)
	copy(b[74:79], []byte("hello"))
	// garbage after the terminator must be ignored
	b[81] = 0xFF

	r, err := DecodeSignResult(b)
	if err != nil {
		t.Fatalf("DecodeSignResult failed: %v", err)
	}
	if r.Error != 0 {
		t.Errorf("Error = %d, want 0", r.Error)
	}
	if r.Flags != 1 {
		t.Errorf("Flags = %d, want 1", r.Flags)
	}
	if r.Signature[0] != 0 || r.Signature[63] != 63 {
		t.Errorf("Signature = % X, want 00..3F", r.Signature)
	}
	if len(r.Values) != 1 {
		t.Fatalf("len(Values) = %d, want 1", len(r.Values))
	}
	if !bytes.Equal(r.Values[0], []byte("hello")) {
		t.Errorf("Values[0] = %q, want %q", r.Values[0], "hello")
	}
}

// TestDecodeSignResult_FullWindow tests that parsing stops at byte 108
func TestDecodeSignResult_FullWindow(t *testing.T) {
	b := signResultBuffer(0, 0)
	// 2+16 + 2+16 = 36 bytes, filling the window exactly
	binary.LittleEndian.PutUint16(b[72:74], 16)
	binary.LittleEndian.PutUint16(b[90:92], 16)
	b = append(b, 0x05, 0x00, 1, 2, 3, 4, 5)

	r, err := DecodeSignResult(b)
	if err != nil {
		t.Fatalf("DecodeSignResult failed: %v", err)
	}
	if len(r.Values) != 2 {
		t.Errorf("len(Values) = %d, want 2", len(r.Values))
	}
}

// TestDecodeSignResult_Overrun tests a value that crosses the window bound
func TestDecodeSignResult_Overrun(t *testing.T) {
	b := signResultBuffer(0, 0)
	binary.LittleEndian.PutUint16(b[72:74], 40)

	if _, err := DecodeSignResult(b); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("DecodeSignResult error = %v, want %v", err, ErrMalformedPacket)
	}
}

// TestDecodeNotification_Errors tests truncated and unknown notifications
func TestDecodeNotification_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
		unknown bool
	}{
		{"Empty", nil, true, false},
		{"Header only ack", []byte{0x01, 0x00, 0x08, 0x00}, true, false},
		{"Short sign result", []byte{0x02, 0x00, 0x68, 0x00, 0, 0, 0, 0}, true, false},
		{"Unknown type", []byte{0x09, 0x00, 0x00, 0x00}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeNotification(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPacket) {
					t.Errorf("error = %v, want %v", err, ErrMalformedPacket)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, ok := ev.(*UnknownNotification); ok != tt.unknown {
				t.Errorf("Event = %T, unknown want %v", ev, tt.unknown)
			}
		})
	}
}

// TestEncodeSignResult tests the device-side encoder
func TestEncodeSignResult(t *testing.T) {
	in := &SignResult{Flags: 2, Values: [][]byte{[]byte("abc"), []byte("de")}}
	in.Signature[10] = 0x7F

	data, err := EncodeSignResult(in)
	if err != nil {
		t.Fatalf("EncodeSignResult failed: %v", err)
	}
	if len(data) != SignResultSize {
		t.Fatalf("len = %d, want %d", len(data), SignResultSize)
	}

	out, err := DecodeSignResult(data)
	if err != nil {
		t.Fatalf("DecodeSignResult failed: %v", err)
	}
	if out.Signature != in.Signature {
		t.Errorf("Signature mismatch")
	}
	if len(out.Values) != 2 || string(out.Values[0]) != "abc" || string(out.Values[1]) != "de" {
		t.Errorf("Values = %q, want [abc de]", out.Values)
	}

	_, err = EncodeSignResult(&SignResult{Values: [][]byte{make([]byte, ValuesWindow)}})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized values error = %v, want %v", err, ErrPayloadTooLarge)
	}
}
