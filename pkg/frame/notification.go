package frame

import (
	"encoding/binary"
	"fmt"
)

// Event is a decoded inbound notification
type Event interface {
	Type() NotificationType
}

// PacketAck is the device's acknowledgement of one outbound frame
type PacketAck struct {
	Seq    uint32
	Offset uint16
	Status uint16
}

// Type implements Event
func (a *PacketAck) Type() NotificationType { return NotifyPacketAck }

// String returns a string representation of the ack
func (a *PacketAck) String() string {
	return fmt.Sprintf("PacketAck{Seq=%d, Offset=%d, Status=%d}", a.Seq, a.Offset, a.Status)
}

// SignResult carries the final answer of a signing request
type SignResult struct {
	Error     uint16
	Flags     uint16
	Signature [SignatureSize]byte
	Values    [][]byte // Device-substituted values in placeholder order
}

// Type implements Event
func (r *SignResult) Type() NotificationType { return NotifySignResult }

// String returns a string representation of the result
func (r *SignResult) String() string {
	return fmt.Sprintf("SignResult{Error=%d, Flags=0x%04X, Values=%d}", r.Error, r.Flags, len(r.Values))
}

// UnknownNotification is returned for a type tag this package does not know.
// It is an event, not a decode error.
type UnknownNotification struct {
	Tag  NotificationType
	Size uint16
	Raw  []byte
}

// Type implements Event
func (u *UnknownNotification) Type() NotificationType { return u.Tag }

// String returns a string representation of the notification
func (u *UnknownNotification) String() string {
	return fmt.Sprintf("UnknownNotification{Type=%d, Size=%d}", u.Tag, u.Size)
}

// DecodeNotificationHeader reads the type and size fields from data[0:4]
func DecodeNotificationHeader(data []byte) (NotificationType, uint16, error) {
	if len(data) < NotificationHeaderSize {
		return 0, 0, fmt.Errorf("%w: notification header needs %d bytes, got %d",
			ErrMalformedPacket, NotificationHeaderSize, len(data))
	}
	return NotificationType(binary.LittleEndian.Uint16(data[0:2])),
		binary.LittleEndian.Uint16(data[2:4]), nil
}

// DecodePacketAck parses a packet-ack notification
func DecodePacketAck(data []byte) (*PacketAck, error) {
	if len(data) < PacketAckSize {
		return nil, fmt.Errorf("%w: packet ack needs %d bytes, got %d", ErrMalformedPacket, PacketAckSize, len(data))
	}
	return &PacketAck{
		Seq:    binary.LittleEndian.Uint32(data[4:8]),
		Offset: binary.LittleEndian.Uint16(data[8:10]),
		Status: binary.LittleEndian.Uint16(data[10:12]),
	}, nil
}

// DecodeSignResult parses a sign-result notification
func DecodeSignResult(data []byte) (*SignResult, error) {
	if len(data) < ValuesOffset {
		return nil, fmt.Errorf("%w: sign result needs at least %d bytes, got %d", ErrMalformedPacket, ValuesOffset, len(data))
	}

	r := &SignResult{
		Error: binary.LittleEndian.Uint16(data[4:6]),
		Flags: binary.LittleEndian.Uint16(data[6:8]),
	}
	copy(r.Signature[:], data[signatureOffset:signatureOffset+SignatureSize])

	end := len(data)
	if end > ValuesEnd {
		end = ValuesEnd
	}
	values, err := ParseValueList(data[ValuesOffset:end])
	if err != nil {
		return nil, err
	}
	r.Values = values
	return r, nil
}

// ParseValueList reads {size u16LE, bytes[size]} records until a zero size
// or the end of window. window is at most ValuesWindow bytes.
func ParseValueList(window []byte) ([][]byte, error) {
	if len(window) > ValuesWindow {
		window = window[:ValuesWindow]
	}

	var values [][]byte
	pos := 0
	for pos+2 <= len(window) {
		size := int(binary.LittleEndian.Uint16(window[pos : pos+2]))
		if size == 0 {
			break
		}
		if pos+2+size > len(window) {
			return nil, fmt.Errorf("%w: value of %d bytes at offset %d overruns the value window",
				ErrMalformedPacket, size, ValuesOffset+pos)
		}
		v := make([]byte, size)
		copy(v, window[pos+2:pos+2+size])
		values = append(values, v)
		pos += 2 + size
	}
	return values, nil
}

// DecodeNotification converts raw notification bytes into an Event
func DecodeNotification(data []byte) (Event, error) {
	typ, size, err := DecodeNotificationHeader(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case NotifyPacketAck:
		return DecodePacketAck(data)
	case NotifySignResult:
		return DecodeSignResult(data)
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return &UnknownNotification{Tag: typ, Size: size, Raw: raw}, nil
	}
}

// EncodePacketAck builds the 12-byte packet-ack notification a device sends
func EncodePacketAck(seq uint32, offset, status uint16) []byte {
	b := make([]byte, PacketAckSize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(NotifyPacketAck))
	binary.LittleEndian.PutUint16(b[2:4], PacketAckSize-NotificationHeaderSize)
	binary.LittleEndian.PutUint32(b[4:8], seq)
	binary.LittleEndian.PutUint16(b[8:10], offset)
	binary.LittleEndian.PutUint16(b[10:12], status)
	return b
}

// EncodeSignResult builds the 108-byte sign-result notification a device sends.
// Values that do not fit in the value window are rejected.
func EncodeSignResult(r *SignResult) ([]byte, error) {
	b := make([]byte, SignResultSize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(NotifySignResult))
	binary.LittleEndian.PutUint16(b[2:4], SignResultSize-NotificationHeaderSize)
	binary.LittleEndian.PutUint16(b[4:6], r.Error)
	binary.LittleEndian.PutUint16(b[6:8], r.Flags)
	copy(b[signatureOffset:], r.Signature[:])

	pos := ValuesOffset
	for _, v := range r.Values {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty value would terminate the list", ErrMalformedPacket)
		}
		if pos+2+len(v) > ValuesEnd {
			return nil, fmt.Errorf("%w: values exceed the %d byte window", ErrPayloadTooLarge, ValuesWindow)
		}
		binary.LittleEndian.PutUint16(b[pos:pos+2], uint16(len(v)))
		copy(b[pos+2:], v)
		pos += 2 + len(v)
	}
	return b, nil
}
