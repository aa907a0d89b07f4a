package frame

import "errors"

// Wallet device wire constants

// Outbound frame sizes
const (
	HeaderSize      = 8 // seq(4) | totalLen(2) | offset(2)
	MaxPayloadSize  = 0xFFFF
	DefaultMTU      = 128 // MTU requested during connection setup
	DefaultCapacity = 64  // Frame capacity used by the reference firmware
)

// Signing request header
const (
	RequestHeaderSize = 4  // opType(2) | bodySize(2)
	HashSize          = 32 // sha256 digest carried by a sign-hash request
)

// OpType identifies the operation carried by a signing request
type OpType uint16

const (
	OpSignWithDeviceData OpType = 0 // Body is a list of device input segments
	OpSignHash           OpType = 1 // Body is a 32-byte digest
)

// String returns string representation of OpType
func (o OpType) String() string {
	switch o {
	case OpSignWithDeviceData:
		return "SignWithDeviceData"
	case OpSignHash:
		return "SignHash"
	default:
		return "Unknown"
	}
}

// Inbound notification layout
const (
	NotificationHeaderSize = 4   // type(2) | size(2)
	PacketAckSize          = 12  // header + seq(4) + offset(2) + status(2)
	SignResultSize         = 108 // header + error(2) + flags(2) + signature(64) + values(36)
	SignatureSize          = 64
	signatureOffset        = 8
	ValuesOffset           = 72
	ValuesEnd              = SignResultSize
	ValuesWindow           = ValuesEnd - ValuesOffset // 36 bytes
)

// NotificationType identifies an inbound notification
type NotificationType uint16

const (
	NotifyPacketAck  NotificationType = 1 // Device acknowledged a frame
	NotifySignResult NotificationType = 2 // Device finished a signing request
)

// String returns string representation of NotificationType
func (t NotificationType) String() string {
	switch t {
	case NotifyPacketAck:
		return "PacketAck"
	case NotifySignResult:
		return "SignResult"
	default:
		return "Unknown"
	}
}

// Device input segment header
const (
	SegmentHeaderSize = 4 // type(2) | size(2)
)

// Errors
var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrPayloadTooLarge = errors.New("payload exceeds 65535 bytes")
)
