package blewallet

import (
	"context"
	"sync"

	"avaneesh/blesign-go/pkg/internal/logger"
	"avaneesh/blesign-go/pkg/link"
	"avaneesh/blesign-go/pkg/session"
	"avaneesh/blesign-go/pkg/txsign"
)

// DeviceSigner signs through one opened device. The public key is read from
// the device once and cached.
type DeviceSigner struct {
	registry *session.Registry
	addr     link.Address

	mu     sync.Mutex
	pubKey []byte

	logger logger.Logger
}

var _ txsign.Device = (*DeviceSigner)(nil)

func newDeviceSigner(registry *session.Registry, addr link.Address, log logger.Logger) *DeviceSigner {
	return &DeviceSigner{registry: registry, addr: addr, logger: log}
}

// Address returns the device address
func (s *DeviceSigner) Address() link.Address {
	return s.addr
}

// PublicKey returns the device public key
func (s *DeviceSigner) PublicKey(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubKey != nil {
		return s.pubKey, nil
	}

	key, err := s.registry.ReadPublicKey(s.addr).Wait(ctx)
	if err != nil {
		return nil, err
	}
	s.pubKey = key
	s.logger.Debug("Signer %s: public key %x", s.addr, key)
	return key, nil
}

// forgetKey drops the cached key; another device may answer at addr next time
func (s *DeviceSigner) forgetKey() {
	s.mu.Lock()
	s.pubKey = nil
	s.mu.Unlock()
}

// SignHash signs a 32-byte hash
func (s *DeviceSigner) SignHash(ctx context.Context, hash []byte) (session.SignResult, error) {
	return s.registry.SignHash(s.addr, hash).Wait(ctx)
}

// SignWithDeviceData signs a message the device completes with its own values
func (s *DeviceSigner) SignWithDeviceData(ctx context.Context, inputs []txsign.DeviceInput) (session.SignResult, error) {
	return s.registry.SignWithDeviceData(s.addr, inputs).Wait(ctx)
}

// SignTemplate signs a plain template such as "call({})" through the
// device-data path and returns the result with the completed text
func (s *DeviceSigner) SignTemplate(ctx context.Context, template string) (session.SignResult, string, error) {
	res, err := s.SignWithDeviceData(ctx, txsign.EncodeTemplate(nil, template, nil))
	if err != nil {
		return session.SignResult{}, "", err
	}
	return res, txsign.SubstituteValues(template, res.Values), nil
}

// Wallet returns a transaction signing service bound to this device
func (s *DeviceSigner) Wallet() *txsign.Service {
	return txsign.NewService(s, s.logger)
}

// Snapshot returns the current session state of the device
func (s *DeviceSigner) Snapshot() (session.Snapshot, bool) {
	return s.registry.SessionFor(s.addr)
}
