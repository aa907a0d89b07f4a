package link

import (
	"fmt"

	"github.com/google/uuid"
)

// Address is the opaque stable identifier of a peripheral
type Address string

// Adapter represents a pluggable platform radio stack.
// Implementations wrap a BLE host stack, a remote bridge, or a simulator.
type Adapter interface {
	// Connect issues a connect request and returns the link handle at once.
	// The outcome arrives later as an EventConnectionState.
	Connect(addr Address) (Conn, error)

	// Events returns the single channel every link event is delivered on.
	// It is closed when the adapter shuts down.
	Events() <-chan Event

	// Close releases the adapter and every open link
	Close() error
}

// Conn is the handle of one peripheral link, owned by exactly one session.
// Every method only issues a request: an error means the platform refused
// the call, and the result otherwise arrives as an Event.
type Conn interface {
	Address() Address

	// DiscoverServices starts GATT service discovery
	DiscoverServices() error

	// EnableNotifications writes the client configuration descriptor of characteristic
	EnableNotifications(characteristic uuid.UUID) error

	// RequestMTU starts MTU negotiation
	RequestMTU(mtu int) error

	// Write writes one value to characteristic
	Write(characteristic uuid.UUID, data []byte) error

	// Read reads the value of characteristic
	Read(characteristic uuid.UUID) error

	// Disconnect starts an orderly disconnect
	Disconnect() error
}

// EventKind identifies a link event
type EventKind int

const (
	EventConnectionState       EventKind = iota // Connected or disconnected
	EventServicesDiscovered                     // Service discovery finished
	EventDescriptorWritten                      // Notifications enabled
	EventMtuChanged                             // MTU negotiation finished
	EventCharacteristicWrite                    // Platform accepted a write
	EventCharacteristicChanged                  // Notification from the peripheral
	EventCharacteristicRead                     // Read finished
)

// String returns string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventConnectionState:
		return "ConnectionState"
	case EventServicesDiscovered:
		return "ServicesDiscovered"
	case EventDescriptorWritten:
		return "DescriptorWritten"
	case EventMtuChanged:
		return "MtuChanged"
	case EventCharacteristicWrite:
		return "CharacteristicWrite"
	case EventCharacteristicChanged:
		return "CharacteristicChanged"
	case EventCharacteristicRead:
		return "CharacteristicRead"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Status codes carried by events
const (
	StatusSuccess  = 0   // GATT_SUCCESS
	StatusFailure  = 257 // GATT_FAILURE
	StatusError    = 133 // GATT_ERROR, generic connect failure
	StatusLinkLost = 8   // Connection timeout / supervision loss
)

// Event is one callback from the platform link
type Event struct {
	Kind           EventKind
	Address        Address
	Status         int
	Connected      bool      // EventConnectionState only
	MTU            int       // EventMtuChanged only
	Characteristic uuid.UUID // Write, Changed and Read events
	Data           []byte    // Changed and Read events
}

// OK reports whether the event carries a success status
func (e Event) OK() bool {
	return e.Status == StatusSuccess
}

// String returns a string representation of the event
func (e Event) String() string {
	switch e.Kind {
	case EventConnectionState:
		return fmt.Sprintf("%v{%s, Status=%d, Connected=%v}", e.Kind, e.Address, e.Status, e.Connected)
	case EventMtuChanged:
		return fmt.Sprintf("%v{%s, Status=%d, MTU=%d}", e.Kind, e.Address, e.Status, e.MTU)
	default:
		return fmt.Sprintf("%v{%s, Status=%d, Len=%d}", e.Kind, e.Address, e.Status, len(e.Data))
	}
}
