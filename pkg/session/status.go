package session

// State represents the lifecycle state of a DeviceSession
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateServicesReady
	StateReady   // MTU known, no request pending
	StateSigning // Ready with a pending request
	StateDisconnecting
	StateFailed
)

// String returns string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateServicesReady:
		return "ServicesReady"
	case StateReady:
		return "Ready"
	case StateSigning:
		return "Signing"
	case StateDisconnecting:
		return "Disconnecting"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Status is the wallet status reported to listeners
type Status int

const (
	StatusConnecting    Status = 0
	StatusConnected     Status = 1
	StatusInitialized   Status = 2
	StatusDisconnecting Status = 3
	StatusDisconnected  Status = 4
	StatusFailed        Status = 5
)

// String returns string representation of Status
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusInitialized:
		return "INITIALIZED"
	case StatusDisconnecting:
		return "DISCONNECTING"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
