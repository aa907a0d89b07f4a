package transport

import "avaneesh/blesign-go/pkg/frame"

// Config holds configuration for the frame transport
type Config struct {
	// LinkCapacity is the frame size used for outbound requests, header included.
	// Zero means use the negotiated MTU.
	// Default: 64 bytes, the fixed size the reference firmware expects
	LinkCapacity int

	// EnableStatistics turns on the shared frame and request counters.
	// When false the registry hands sessions a nil *Statistics.
	EnableStatistics bool
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		LinkCapacity:     frame.DefaultCapacity,
		EnableStatistics: true,
	}
}

// FrameCapacity resolves the frame size for a session with the given MTU
func (c Config) FrameCapacity(mtu int) int {
	if c.LinkCapacity > 0 {
		return c.LinkCapacity
	}
	return mtu
}
