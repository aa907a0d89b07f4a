package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Op identifies a bridge envelope
type Op uint8

// Commands sent from the host to the bridge
const (
	OpConnect      Op = 0x01
	OpDiscover     Op = 0x02
	OpEnableNotify Op = 0x03
	OpRequestMTU   Op = 0x04
	OpWrite        Op = 0x05
	OpRead         Op = 0x06
	OpDisconnect   Op = 0x07
)

// Events sent from the bridge to the host
const (
	OpConnectionState       Op = 0x81
	OpServicesDiscovered    Op = 0x82
	OpDescriptorWritten     Op = 0x83
	OpMtuChanged            Op = 0x84
	OpCharacteristicWrite   Op = 0x85
	OpCharacteristicChanged Op = 0x86
	OpCharacteristicRead    Op = 0x87
)

// IsEvent reports whether op travels from bridge to host
func (o Op) IsEvent() bool {
	return o&0x80 != 0
}

// String returns string representation of Op
func (o Op) String() string {
	switch o {
	case OpConnect:
		return "Connect"
	case OpDiscover:
		return "Discover"
	case OpEnableNotify:
		return "EnableNotify"
	case OpRequestMTU:
		return "RequestMTU"
	case OpWrite:
		return "Write"
	case OpRead:
		return "Read"
	case OpDisconnect:
		return "Disconnect"
	default:
		if o.IsEvent() {
			return EventKind(o & 0x7F).String()
		}
		return fmt.Sprintf("Op(0x%02X)", uint8(o))
	}
}

// Envelope layout: len(2) | op(1) | status(2) | value(2) | uuid(16) | addrLen(1) | addr | data
const (
	envelopeLenSize   = 2
	envelopeFixedSize = 1 + 2 + 2 + 16 + 1
	MaxEnvelopeSize   = 0xFFFF
)

var (
	ErrEnvelopeTooLarge = errors.New("envelope too large")
	ErrBadEnvelope      = errors.New("malformed envelope")
)

// Envelope is one command or event exchanged with a bridge
type Envelope struct {
	Op             Op
	Status         uint16
	Value          uint16 // MTU, or 1/0 for connected/disconnected
	Characteristic uuid.UUID
	Address        Address
	Data           []byte
}

// Serialize converts the envelope to wire format, length prefix included
func (e *Envelope) Serialize() ([]byte, error) {
	if len(e.Address) > 0xFF {
		return nil, fmt.Errorf("%w: address of %d bytes", ErrBadEnvelope, len(e.Address))
	}
	bodyLen := envelopeFixedSize + len(e.Address) + len(e.Data)
	if bodyLen > MaxEnvelopeSize {
		return nil, ErrEnvelopeTooLarge
	}

	b := make([]byte, envelopeLenSize+bodyLen)
	binary.LittleEndian.PutUint16(b[0:2], uint16(bodyLen))
	b[2] = byte(e.Op)
	binary.LittleEndian.PutUint16(b[3:5], e.Status)
	binary.LittleEndian.PutUint16(b[5:7], e.Value)
	copy(b[7:23], e.Characteristic[:])
	b[23] = byte(len(e.Address))
	pos := 24
	pos += copy(b[pos:], e.Address)
	copy(b[pos:], e.Data)
	return b, nil
}

// ParseEnvelope parses one envelope body (without the length prefix)
func ParseEnvelope(body []byte) (*Envelope, error) {
	if len(body) < envelopeFixedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadEnvelope, len(body))
	}
	e := &Envelope{
		Op:     Op(body[0]),
		Status: binary.LittleEndian.Uint16(body[1:3]),
		Value:  binary.LittleEndian.Uint16(body[3:5]),
	}
	copy(e.Characteristic[:], body[5:21])

	addrLen := int(body[21])
	if envelopeFixedSize+addrLen > len(body) {
		return nil, fmt.Errorf("%w: address overruns body", ErrBadEnvelope)
	}
	e.Address = Address(body[envelopeFixedSize : envelopeFixedSize+addrLen])
	if rest := body[envelopeFixedSize+addrLen:]; len(rest) > 0 {
		e.Data = make([]byte, len(rest))
		copy(e.Data, rest)
	}
	return e, nil
}

// ReadEnvelope reads one length-prefixed envelope from r
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var hdr [envelopeLenSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.LittleEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return ParseEnvelope(body)
}

// WriteEnvelope writes one length-prefixed envelope to w
func WriteEnvelope(w io.Writer, e *Envelope) error {
	data, err := e.Serialize()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// EnvelopeFromEvent wraps a link event for transmission to a host
func EnvelopeFromEvent(ev Event) *Envelope {
	e := &Envelope{
		Op:             Op(0x80 | uint8(ev.Kind)),
		Status:         uint16(ev.Status),
		Characteristic: ev.Characteristic,
		Address:        ev.Address,
		Data:           ev.Data,
	}
	switch ev.Kind {
	case EventConnectionState:
		if ev.Connected {
			e.Value = 1
		}
	case EventMtuChanged:
		e.Value = uint16(ev.MTU)
	}
	return e
}

// Event unwraps an event envelope
func (e *Envelope) Event() (Event, error) {
	if !e.Op.IsEvent() {
		return Event{}, fmt.Errorf("%w: %v is not an event", ErrBadEnvelope, e.Op)
	}
	kind := EventKind(e.Op & 0x7F)
	if kind > EventCharacteristicRead {
		return Event{}, fmt.Errorf("%w: unknown event op 0x%02X", ErrBadEnvelope, uint8(e.Op))
	}

	ev := Event{
		Kind:           kind,
		Address:        e.Address,
		Status:         int(e.Status),
		Characteristic: e.Characteristic,
		Data:           e.Data,
	}
	switch kind {
	case EventConnectionState:
		ev.Connected = e.Value == 1
	case EventMtuChanged:
		ev.MTU = int(e.Value)
	}
	return ev, nil
}

// resultKind is the event a command completes with
func (o Op) resultKind() EventKind {
	switch o {
	case OpDiscover:
		return EventServicesDiscovered
	case OpEnableNotify:
		return EventDescriptorWritten
	case OpRequestMTU:
		return EventMtuChanged
	case OpWrite:
		return EventCharacteristicWrite
	case OpRead:
		return EventCharacteristicRead
	default:
		return EventConnectionState
	}
}
