package session

import (
	"math/rand/v2"

	"avaneesh/blesign-go/pkg/frame"
	"avaneesh/blesign-go/pkg/transport"
)

// Config holds configuration for the session registry
type Config struct {
	// MTU is requested from the device once notifications are enabled
	// Default: 128
	MTU int

	// Transport configures outbound framing
	Transport transport.Config

	// SequenceSource returns the initial sequence of a new session
	// Default: random
	SequenceSource func() uint32

	// CommandBuffer is the capacity of the registry command queue
	CommandBuffer int
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		MTU:            frame.DefaultMTU,
		Transport:      transport.DefaultConfig(),
		SequenceSource: rand.Uint32,
		CommandBuffer:  32,
	}
}

func (c *Config) applyDefaults() {
	if c.MTU <= 0 {
		c.MTU = frame.DefaultMTU
	}
	if c.SequenceSource == nil {
		c.SequenceSource = rand.Uint32
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = 32
	}
}
