package blewallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"avaneesh/blesign-go/pkg/internal/logger"
	"avaneesh/blesign-go/pkg/link"
	"avaneesh/blesign-go/pkg/session"
	"avaneesh/blesign-go/pkg/transport"
)

var (
	ErrManagerClosed = errors.New("manager closed")
	ErrOpenFailed    = errors.New("device failed to open")
)

// Manager is the root object for device signing.
// It owns the session registry over one link adapter and hands out
// address-bound DeviceSigners.
type Manager struct {
	adapter  link.Adapter
	registry *session.Registry

	signers map[link.Address]*DeviceSigner
	mu      sync.RWMutex
	closed  bool

	logger logger.Logger
}

// NewManager creates a manager over adapter using the default logger
func NewManager(adapter link.Adapter, config session.Config) *Manager {
	return NewManagerWithLogger(adapter, config, logger.GetDefault())
}

// NewManagerWithLogger creates a manager over adapter with a custom logger
func NewManagerWithLogger(adapter link.Adapter, config session.Config, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	m := &Manager{
		adapter:  adapter,
		registry: session.NewRegistry(adapter, config, log),
		signers:  make(map[link.Address]*DeviceSigner),
		logger:   log,
	}
	m.registry.AddStatusListener(m.onStatus)
	return m
}

// onStatus forgets the signer of a device whose session ended
func (m *Manager) onStatus(status session.Status, addr link.Address) {
	if status != session.StatusDisconnected && status != session.StatusFailed {
		return
	}
	m.mu.Lock()
	if signer, ok := m.signers[addr]; ok {
		signer.forgetKey()
		delete(m.signers, addr)
		m.logger.Info("Manager: device %s gone (%v)", addr, status)
	}
	m.mu.Unlock()
}

// cached returns the signer of addr while its session is still usable.
// A signer whose session is gone is forgotten so Open reconnects.
func (m *Manager) cached(addr link.Address) *DeviceSigner {
	m.mu.RLock()
	signer := m.signers[addr]
	m.mu.RUnlock()
	if signer == nil {
		return nil
	}

	if snap, ok := m.registry.SessionFor(addr); ok {
		switch snap.State {
		case session.StateReady, session.StateSigning:
			return signer
		}
	}

	m.mu.Lock()
	if m.signers[addr] == signer {
		delete(m.signers, addr)
	}
	m.mu.Unlock()
	signer.forgetKey()
	return nil
}

// Registry returns the underlying session registry
func (m *Manager) Registry() *session.Registry {
	return m.registry
}

// Statistics returns the transport counters shared by every session
func (m *Manager) Statistics() *transport.Statistics {
	return m.registry.Statistics()
}

// AddStatusListener registers a wallet status listener
func (m *Manager) AddStatusListener(l session.StatusListener) int {
	return m.registry.AddStatusListener(l)
}

// RemoveStatusListener unregisters a listener
func (m *Manager) RemoveStatusListener(id int) {
	m.registry.RemoveStatusListener(id)
}

// Open connects to addr, initializes the session once connected and returns
// a signer when the device reports INITIALIZED
func (m *Manager) Open(ctx context.Context, addr link.Address) (*DeviceSigner, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if signer := m.cached(addr); signer != nil {
		return signer, nil
	}

	statuses := make(chan session.Status, 8)
	id := m.registry.AddStatusListener(func(status session.Status, a link.Address) {
		if a != addr {
			return
		}
		select {
		case statuses <- status:
		default:
		}
	})
	defer m.registry.RemoveStatusListener(id)

	if err := m.registry.Connect(addr); err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	for {
		select {
		case <-ctx.Done():
			m.registry.Disconnect(addr)
			return nil, ctx.Err()
		case status := <-statuses:
			m.logger.Debug("Manager: %s is %v", addr, status)
			switch status {
			case session.StatusConnected:
				if err := m.registry.Initialize(addr); err != nil {
					return nil, fmt.Errorf("initialize %s: %w", addr, err)
				}
			case session.StatusInitialized:
				return m.bind(addr), nil
			case session.StatusFailed, session.StatusDisconnected:
				if status == session.StatusFailed {
					m.registry.Disconnect(addr)
				}
				return nil, fmt.Errorf("%w: %s reported %v", ErrOpenFailed, addr, status)
			}
		}
	}
}

func (m *Manager) bind(addr link.Address) *DeviceSigner {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.signers[addr]; ok {
		return s
	}
	s := newDeviceSigner(m.registry, addr, m.logger)
	m.signers[addr] = s
	m.logger.Info("Manager: device %s ready", addr)
	return s
}

// Signer returns the signer of an opened device
func (m *Manager) Signer(addr link.Address) (*DeviceSigner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signers[addr]
	return s, ok
}

// Close disconnects one device and forgets its signer
func (m *Manager) Close(addr link.Address) error {
	m.mu.Lock()
	delete(m.signers, addr)
	m.mu.Unlock()
	return m.registry.Disconnect(addr)
}

// DeviceCount returns the number of opened devices
func (m *Manager) DeviceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.signers)
}

// Shutdown disconnects every device, stops the registry and closes the adapter
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.signers = make(map[link.Address]*DeviceSigner)
	m.mu.Unlock()

	m.logger.Info("Manager: Shutting down")

	if err := m.registry.CloseAll(); err != nil {
		m.logger.Warn("Manager: close sessions: %v", err)
	}
	if err := m.registry.Close(); err != nil {
		m.logger.Error("Manager: close registry: %v", err)
	}
	err := m.adapter.Close()
	m.logger.Info("Manager: Shutdown complete")
	return err
}
