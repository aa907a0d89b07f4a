package link

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"avaneesh/blesign-go/pkg/internal/logger"
)

// BridgeProtocol is the ALPN name of the bridge protocol
const BridgeProtocol = "blesign-bridge"

var ErrAdapterClosed = errors.New("adapter closed")

// QUICConfig configures both ends of a QUIC bridge link
type QUICConfig struct {
	Address      string        // "host:port" format
	WriteTimeout time.Duration // Write timeout (0 = no timeout)
	EventBuffer  int           // Capacity of the event channel
	TLSConfig    *tls.Config   // Optional TLS config (if nil, will generate self-signed cert)
}

// DefaultQUICConfig returns default QUIC configuration
func DefaultQUICConfig(address string) QUICConfig {
	return QUICConfig{
		Address:      address,
		WriteTimeout: 10 * time.Second,
		EventBuffer:  64,
	}
}

func (c *QUICConfig) applyDefaults() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.TLSConfig == nil {
		tlsConfig, err := selfSignedTLS()
		if err != nil {
			return fmt.Errorf("failed to generate TLS config: %w", err)
		}
		c.TLSConfig = tlsConfig
	}
	return nil
}

// selfSignedTLS returns a throwaway P-256 certificate for the bridge
// endpoint. Peers skip verification; the link is loopback or LAN only.
func selfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: BridgeProtocol},
		DNSNames:              []string{"localhost"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(30 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
		NextProtos:         []string{BridgeProtocol},
		InsecureSkipVerify: true,
	}, nil
}

// QUICAdapter implements Adapter by tunnelling GATT requests to a remote Bridge
type QUICAdapter struct {
	udpConn    *net.UDPConn
	connection *quic.Conn
	stream     *quic.Stream
	writeLock  sync.Mutex

	writeTimeout time.Duration
	events       chan Event

	// Addresses with a live link, reported as lost if the tunnel drops
	known     map[Address]struct{}
	knownLock sync.Mutex

	logger logger.Logger

	stats struct {
		envelopesSent     atomic.Uint64
		envelopesReceived atomic.Uint64
		writeErrors       atomic.Uint64
	}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// DialQUIC connects to the bridge at config.Address
func DialQUIC(ctx context.Context, config QUICConfig, log logger.Logger) (*QUICAdapter, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local UDP address: %w", err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP socket: %w", err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to resolve remote address %s: %w", config.Address, err)
	}

	conn, err := quic.Dial(ctx, udpConn, remoteAddr, config.TLSConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		udpConn.Close()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	actx, cancel := context.WithCancel(context.Background())
	a := &QUICAdapter{
		udpConn:      udpConn,
		connection:   conn,
		stream:       stream,
		writeTimeout: config.WriteTimeout,
		events:       make(chan Event, config.EventBuffer),
		known:        make(map[Address]struct{}),
		logger:       log,
		ctx:          actx,
		cancel:       cancel,
	}

	a.wg.Add(1)
	go a.readLoop()

	log.Info("QUIC adapter: connected to bridge %s", config.Address)
	return a, nil
}

// Connect implements Adapter.Connect
func (a *QUICAdapter) Connect(addr Address) (Conn, error) {
	if err := a.send(&Envelope{Op: OpConnect, Address: addr}); err != nil {
		return nil, err
	}
	return &quicConn{adapter: a, addr: addr}, nil
}

// Events implements Adapter.Events
func (a *QUICAdapter) Events() <-chan Event {
	return a.events
}

// Close implements Adapter.Close
func (a *QUICAdapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	a.cancel()
	a.stream.Close()
	a.connection.CloseWithError(0, "adapter closed")
	a.wg.Wait()
	return a.udpConn.Close()
}

// EnvelopesSent returns the number of commands written to the bridge
func (a *QUICAdapter) EnvelopesSent() uint64 {
	return a.stats.envelopesSent.Load()
}

// EnvelopesReceived returns the number of events read from the bridge
func (a *QUICAdapter) EnvelopesReceived() uint64 {
	return a.stats.envelopesReceived.Load()
}

// send writes one command envelope to the bridge stream
func (a *QUICAdapter) send(e *Envelope) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}

	a.writeLock.Lock()
	defer a.writeLock.Unlock()

	if a.writeTimeout > 0 {
		a.stream.SetWriteDeadline(time.Now().Add(a.writeTimeout))
	}
	if err := WriteEnvelope(a.stream, e); err != nil {
		a.stats.writeErrors.Add(1)
		return fmt.Errorf("bridge write %v: %w", e.Op, err)
	}
	a.stats.envelopesSent.Add(1)
	return nil
}

// readLoop turns bridge envelopes into events until the stream ends
func (a *QUICAdapter) readLoop() {
	defer a.wg.Done()
	defer close(a.events)

	for {
		env, err := ReadEnvelope(a.stream)
		if err != nil {
			if !a.closed.Load() {
				a.logger.Warn("QUIC adapter: bridge stream lost: %v", err)
				a.reportLinkLost()
			}
			return
		}
		a.stats.envelopesReceived.Add(1)

		ev, err := env.Event()
		if err != nil {
			a.logger.Warn("QUIC adapter: dropping envelope: %v", err)
			continue
		}
		a.track(ev)

		select {
		case a.events <- ev:
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *QUICAdapter) track(ev Event) {
	if ev.Kind != EventConnectionState {
		return
	}
	a.knownLock.Lock()
	defer a.knownLock.Unlock()
	if ev.Connected && ev.OK() {
		a.known[ev.Address] = struct{}{}
	} else {
		delete(a.known, ev.Address)
	}
}

// reportLinkLost fails every live link after the tunnel drops
func (a *QUICAdapter) reportLinkLost() {
	a.knownLock.Lock()
	addrs := make([]Address, 0, len(a.known))
	for addr := range a.known {
		addrs = append(addrs, addr)
	}
	a.known = make(map[Address]struct{})
	a.knownLock.Unlock()

	for _, addr := range addrs {
		ev := Event{Kind: EventConnectionState, Address: addr, Status: StatusLinkLost}
		select {
		case a.events <- ev:
		case <-a.ctx.Done():
			return
		}
	}
}

// quicConn is the link handle of one peripheral behind the bridge
type quicConn struct {
	adapter *QUICAdapter
	addr    Address
}

func (c *quicConn) Address() Address {
	return c.addr
}

func (c *quicConn) DiscoverServices() error {
	return c.adapter.send(&Envelope{Op: OpDiscover, Address: c.addr})
}

func (c *quicConn) EnableNotifications(characteristic uuid.UUID) error {
	return c.adapter.send(&Envelope{Op: OpEnableNotify, Address: c.addr, Characteristic: characteristic})
}

func (c *quicConn) RequestMTU(mtu int) error {
	return c.adapter.send(&Envelope{Op: OpRequestMTU, Address: c.addr, Value: uint16(mtu)})
}

func (c *quicConn) Write(characteristic uuid.UUID, data []byte) error {
	return c.adapter.send(&Envelope{Op: OpWrite, Address: c.addr, Characteristic: characteristic, Data: data})
}

func (c *quicConn) Read(characteristic uuid.UUID) error {
	return c.adapter.send(&Envelope{Op: OpRead, Address: c.addr, Characteristic: characteristic})
}

func (c *quicConn) Disconnect() error {
	return c.adapter.send(&Envelope{Op: OpDisconnect, Address: c.addr})
}
