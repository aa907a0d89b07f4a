package session

import (
	"errors"
	"fmt"

	"avaneesh/blesign-go/pkg/frame"
	"avaneesh/blesign-go/pkg/transport"
)

// Errors
var (
	ErrNotConnected         = errors.New("not connected")
	ErrMtuUnknown           = errors.New("MTU size unknown")
	ErrDeviceBusy           = errors.New("device busy")
	ErrAlreadyConnected     = errors.New("already connected")
	ErrNotReady             = errors.New("session not in a state to initialize")
	ErrPlatformReadFailed   = errors.New("platform read failed")
	ErrDeviceRejectedPacket = errors.New("device rejected packet")
	ErrSequenceMismatch     = errors.New("sequence mismatch")
	ErrProtocolViolation    = errors.New("protocol violation")
	ErrAborted              = errors.New("request aborted")
	ErrInvalidHash          = errors.New("hash must be 32 bytes")
	ErrRegistryClosed       = errors.New("registry closed")

	// Re-exported from the layers that detect them
	ErrPlatformWriteFailed = transport.ErrPlatformWriteFailed
	ErrMalformedPacket     = frame.ErrMalformedPacket
)

// DeviceSigningError is a non-zero error code reported in a sign result
type DeviceSigningError struct {
	Code uint16
}

// Error implements error
func (e *DeviceSigningError) Error() string {
	return fmt.Sprintf("device signing error %d", e.Code)
}
