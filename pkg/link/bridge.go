package link

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"avaneesh/blesign-go/pkg/internal/logger"
)

// Bridge serves a local Adapter to one remote QUICAdapter at a time.
// Commands from the host are replayed on the adapter and every adapter
// event is forwarded back over the same stream.
type Bridge struct {
	adapter Adapter

	listener *quic.Listener
	udpConn  *net.UDPConn

	connection *quic.Conn
	stream     *quic.Stream
	connLock   sync.RWMutex
	writeLock  sync.Mutex

	writeTimeout time.Duration

	// Links opened on behalf of the current host
	links     map[Address]Conn
	linksLock sync.Mutex

	logger logger.Logger

	stats struct {
		commands atomic.Uint64
		events   atomic.Uint64
		dropped  atomic.Uint64
		connects atomic.Uint64
		rejected atomic.Uint64
	}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewBridge starts listening on config.Address and serving adapter
func NewBridge(config QUICConfig, adapter Adapter, log logger.Logger) (*Bridge, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Address, err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
	}

	listener, err := quic.Listen(udpConn, config.TLSConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		adapter:      adapter,
		listener:     listener,
		udpConn:      udpConn,
		writeTimeout: config.WriteTimeout,
		links:        make(map[Address]Conn),
		logger:       log,
		ctx:          ctx,
		cancel:       cancel,
	}

	b.wg.Add(2)
	go b.acceptLoop()
	go b.eventLoop()

	log.Info("Bridge: listening on %s", udpConn.LocalAddr())
	return b, nil
}

// Addr returns the listening address
func (b *Bridge) Addr() net.Addr {
	return b.listener.Addr()
}

// Close stops the bridge and disconnects every link opened through it
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	b.cancel()
	b.listener.Close()

	b.connLock.Lock()
	if b.connection != nil {
		b.connection.CloseWithError(0, "bridge closed")
		b.connection = nil
		b.stream = nil
	}
	b.connLock.Unlock()

	b.dropLinks()
	b.wg.Wait()
	return b.udpConn.Close()
}

// acceptLoop accepts incoming host connections
func (b *Bridge) acceptLoop() {
	defer b.wg.Done()

	for {
		conn, err := b.listener.Accept(b.ctx)
		if err != nil {
			if b.closed.Load() {
				return
			}
			b.logger.Warn("Bridge: accept failed: %v", err)
			continue
		}

		b.connLock.Lock()
		if b.connection != nil {
			b.connection.CloseWithError(0, "new connection")
		}
		b.connection = conn
		b.stream = nil
		b.stats.connects.Add(1)
		b.connLock.Unlock()

		b.wg.Add(1)
		go b.serve(conn)
	}
}

// serve accepts the command stream of one host and executes its commands
func (b *Bridge) serve(conn *quic.Conn) {
	defer b.wg.Done()

	stream, err := conn.AcceptStream(b.ctx)
	if err != nil {
		return
	}

	b.connLock.Lock()
	if b.connection != conn {
		b.connLock.Unlock()
		stream.Close()
		return
	}
	b.stream = stream
	b.connLock.Unlock()

	b.logger.Info("Bridge: host %s attached", conn.RemoteAddr())

	for {
		env, err := ReadEnvelope(stream)
		if err != nil {
			break
		}
		b.stats.commands.Add(1)
		b.execute(env)
	}

	b.connLock.Lock()
	current := b.connection == conn
	if current {
		b.connection = nil
		b.stream = nil
	}
	b.connLock.Unlock()

	if current && !b.closed.Load() {
		b.logger.Info("Bridge: host %s detached", conn.RemoteAddr())
		b.dropLinks()
	}
}

// execute replays one host command on the local adapter
func (b *Bridge) execute(env *Envelope) {
	if env.Op.IsEvent() {
		b.logger.Warn("Bridge: host sent event %v", env.Op)
		return
	}

	if env.Op == OpConnect {
		conn, err := b.adapter.Connect(env.Address)
		if err != nil {
			b.reject(env, err)
			return
		}
		b.linksLock.Lock()
		b.links[env.Address] = conn
		b.linksLock.Unlock()
		return
	}

	b.linksLock.Lock()
	conn, ok := b.links[env.Address]
	b.linksLock.Unlock()
	if !ok {
		b.reject(env, fmt.Errorf("no link to %s", env.Address))
		return
	}

	var err error
	switch env.Op {
	case OpDiscover:
		err = conn.DiscoverServices()
	case OpEnableNotify:
		err = conn.EnableNotifications(env.Characteristic)
	case OpRequestMTU:
		err = conn.RequestMTU(int(env.Value))
	case OpWrite:
		err = conn.Write(env.Characteristic, env.Data)
	case OpRead:
		err = conn.Read(env.Characteristic)
	case OpDisconnect:
		err = conn.Disconnect()
	default:
		err = fmt.Errorf("unknown op %v", env.Op)
	}
	if err != nil {
		b.reject(env, err)
	}
}

// reject reports a refused command as a failed result event
func (b *Bridge) reject(env *Envelope, err error) {
	b.stats.rejected.Add(1)
	b.logger.Warn("Bridge: %v for %s rejected: %v", env.Op, env.Address, err)

	kind := env.Op.resultKind()
	status := StatusFailure
	if kind == EventConnectionState {
		status = StatusError
	}
	b.forward(Event{
		Kind:           kind,
		Address:        env.Address,
		Status:         status,
		Characteristic: env.Characteristic,
	})
}

// eventLoop forwards adapter events to the attached host
func (b *Bridge) eventLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-b.adapter.Events():
			if !ok {
				return
			}
			if ev.Kind == EventConnectionState && !(ev.Connected && ev.OK()) {
				b.linksLock.Lock()
				delete(b.links, ev.Address)
				b.linksLock.Unlock()
			}
			b.forward(ev)
		}
	}
}

// forward writes one event to the attached host, dropping it if none is attached
func (b *Bridge) forward(ev Event) {
	b.connLock.RLock()
	stream := b.stream
	b.connLock.RUnlock()

	if stream == nil {
		b.stats.dropped.Add(1)
		b.logger.Debug("Bridge: no host attached, dropping %v", ev)
		return
	}

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	if b.writeTimeout > 0 {
		stream.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	}
	if err := WriteEnvelope(stream, EnvelopeFromEvent(ev)); err != nil {
		b.stats.dropped.Add(1)
		b.logger.Warn("Bridge: forwarding %v failed: %v", ev, err)
		return
	}
	b.stats.events.Add(1)
}

// dropLinks disconnects every link the previous host left open
func (b *Bridge) dropLinks() {
	b.linksLock.Lock()
	links := b.links
	b.links = make(map[Address]Conn)
	b.linksLock.Unlock()

	for addr, conn := range links {
		if err := conn.Disconnect(); err != nil {
			b.logger.Debug("Bridge: disconnect %s: %v", addr, err)
		}
	}
}

// BridgeStats provides bridge statistics
type BridgeStats struct {
	Commands uint64 // Commands received from hosts
	Events   uint64 // Events forwarded to hosts
	Dropped  uint64 // Events with no host to receive them
	Connects uint64 // Host connections accepted
	Rejected uint64 // Commands the adapter refused
}

// Statistics returns bridge statistics
func (b *Bridge) Statistics() BridgeStats {
	return BridgeStats{
		Commands: b.stats.commands.Load(),
		Events:   b.stats.events.Load(),
		Dropped:  b.stats.dropped.Load(),
		Connects: b.stats.connects.Load(),
		Rejected: b.stats.rejected.Load(),
	}
}
