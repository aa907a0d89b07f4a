package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"avaneesh/blesign-go/pkg/frame"
	"avaneesh/blesign-go/pkg/internal/logger"
	"avaneesh/blesign-go/pkg/internal/queue"
	"avaneesh/blesign-go/pkg/link"
	"avaneesh/blesign-go/pkg/transport"
)

// StatusListener receives wallet status changes
type StatusListener func(status Status, addr link.Address)

// Registry owns every DeviceSession. A single goroutine consumes both the
// command queue and the adapter's event channel, so session state is never
// shared between goroutines.
type Registry struct {
	adapter  link.Adapter
	config   Config
	sessions map[link.Address]*DeviceSession // run goroutine only
	commands chan func()
	stats    *transport.Statistics
	logger   logger.Logger

	notifier *notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewRegistry creates a registry consuming adapter's events and starts it
func NewRegistry(adapter link.Adapter, config Config, log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	config.applyDefaults()

	var stats *transport.Statistics
	if config.Transport.EnableStatistics {
		stats = transport.NewStatistics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		adapter:  adapter,
		config:   config,
		sessions: make(map[link.Address]*DeviceSession),
		commands: make(chan func(), config.CommandBuffer),
		stats:    stats,
		logger:   log,
		notifier: newNotifier(log),
		ctx:      ctx,
		cancel:   cancel,
	}

	r.wg.Add(1)
	go r.run()
	return r
}

// Statistics returns the shared transport statistics, nil when
// Transport.EnableStatistics is off
func (r *Registry) Statistics() *transport.Statistics {
	return r.stats
}

// AddStatusListener registers a listener and returns its id
func (r *Registry) AddStatusListener(l StatusListener) int {
	return r.notifier.add(l)
}

// RemoveStatusListener unregisters a listener
func (r *Registry) RemoveStatusListener(id int) {
	r.notifier.remove(id)
}

// do runs fn on the registry goroutine and waits for it
func (r *Registry) do(fn func()) error {
	if r.closed.Load() {
		return ErrRegistryClosed
	}

	done := make(chan struct{})
	select {
	case r.commands <- func() { fn(); close(done) }:
	case <-r.ctx.Done():
		return ErrRegistryClosed
	}

	select {
	case <-done:
		return nil
	case <-r.ctx.Done():
		return ErrRegistryClosed
	}
}

// Connect issues a platform connect. The session exists in the Connecting
// state until the connection event arrives.
func (r *Registry) Connect(addr link.Address) error {
	var result error
	err := r.do(func() {
		if _, exists := r.sessions[addr]; exists {
			result = ErrAlreadyConnected
			return
		}
		conn, err := r.adapter.Connect(addr)
		if err != nil {
			result = fmt.Errorf("connect %s: %w", addr, err)
			return
		}
		r.sessions[addr] = newDeviceSession(addr, conn, r.config, r.stats, r.notifier.emit, r.logger)
		r.logger.Info("Registry: connecting to %s", addr)
		r.notifier.emit(StatusConnecting, addr)
	})
	if err != nil {
		return err
	}
	return result
}

// Initialize starts service discovery, notification setup and MTU negotiation.
// StatusInitialized is reported once the MTU is known.
func (r *Registry) Initialize(addr link.Address) error {
	var result error
	err := r.do(func() {
		s, ok := r.sessions[addr]
		if !ok {
			result = ErrNotConnected
			return
		}
		result = s.initialize()
	})
	if err != nil {
		return err
	}
	return result
}

// Disconnect rejects any pending request with ErrAborted and issues a
// platform disconnect
func (r *Registry) Disconnect(addr link.Address) error {
	var result error
	err := r.do(func() {
		s, ok := r.sessions[addr]
		if !ok {
			result = ErrNotConnected
			return
		}
		result = r.disconnect(s)
	})
	if err != nil {
		return err
	}
	return result
}

func (r *Registry) disconnect(s *DeviceSession) error {
	if s.state == StateDisconnecting {
		return nil
	}

	s.abort()
	s.setState(StateDisconnecting)
	r.notifier.emit(StatusDisconnecting, s.addr)

	if err := s.conn.Disconnect(); err != nil {
		// No disconnect event will follow
		r.remove(s, StatusDisconnected)
		return fmt.Errorf("disconnect %s: %w", s.addr, err)
	}
	return nil
}

// CloseAll disconnects every session
func (r *Registry) CloseAll() error {
	return r.do(func() {
		for _, s := range r.sessions {
			if err := r.disconnect(s); err != nil {
				r.logger.Warn("Registry: %v", err)
			}
		}
	})
}

// Close disconnects every session and stops the registry.
// Sessions whose disconnect event has not arrived yet are aborted and
// reported DISCONNECTED before the listeners stop.
func (r *Registry) Close() error {
	if r.closed.Load() {
		return nil
	}
	if err := r.CloseAll(); err != nil {
		r.logger.Warn("Registry: close: %v", err)
	}
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.cancel()
	r.wg.Wait()

	for _, s := range r.sessions {
		r.remove(s, StatusDisconnected)
	}
	r.notifier.close()
	r.logger.Info("Registry closed")
	return nil
}

// SessionFor returns a snapshot of the session at addr
func (r *Registry) SessionFor(addr link.Address) (Snapshot, bool) {
	var (
		snap Snapshot
		ok   bool
	)
	_ = r.do(func() {
		var s *DeviceSession
		if s, ok = r.sessions[addr]; ok {
			snap = s.snapshot()
		}
	})
	return snap, ok
}

// Sessions returns snapshots of every session ordered by address
func (r *Registry) Sessions() []Snapshot {
	var snaps []Snapshot
	_ = r.do(func() {
		for _, s := range r.sessions {
			snaps = append(snaps, s.snapshot())
		}
	})
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Address < snaps[j].Address })
	return snaps
}

// ReadPublicKey reads the device public key
func (r *Registry) ReadPublicKey(addr link.Address) *Future[[]byte] {
	f := newFuture[[]byte]()
	err := r.do(func() {
		s, ok := r.sessions[addr]
		if !ok {
			f.reject(ErrNotConnected)
			return
		}
		s.readPublicKey(f)
	})
	if err != nil {
		f.reject(err)
	}
	return f
}

// SignHash asks the device to sign a 32-byte digest
func (r *Registry) SignHash(addr link.Address, hash []byte) *Future[SignResult] {
	if len(hash) != frame.HashSize {
		return rejectedFuture[SignResult](fmt.Errorf("%w: got %d", ErrInvalidHash, len(hash)))
	}
	body := make([]byte, frame.HashSize)
	copy(body, hash)
	return r.sign(addr, frame.OpSignHash, body)
}

// SignWithDeviceData asks the device to sign the message described by inputs,
// substituting its own values for placeholder segments
func (r *Registry) SignWithDeviceData(addr link.Address, inputs []frame.Segment) *Future[SignResult] {
	body, err := frame.EncodeSegments(inputs)
	if err != nil {
		return rejectedFuture[SignResult](err)
	}
	return r.sign(addr, frame.OpSignWithDeviceData, body)
}

func (r *Registry) sign(addr link.Address, op frame.OpType, body []byte) *Future[SignResult] {
	f := newFuture[SignResult]()
	err := r.do(func() {
		s, ok := r.sessions[addr]
		if !ok {
			f.reject(ErrNotConnected)
			return
		}
		s.startSigning(op, body, f)
	})
	if err != nil {
		f.reject(err)
	}
	return f
}

// run is the single event-delivery goroutine
func (r *Registry) run() {
	defer r.wg.Done()
	r.logger.Debug("Registry event loop started")
	defer r.logger.Debug("Registry event loop stopped")

	events := r.adapter.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case cmd := <-r.commands:
			cmd()
		case ev, ok := <-events:
			if !ok {
				r.logger.Warn("Registry: adapter event channel closed")
				events = nil
				r.dropAll()
				continue
			}
			r.handleEvent(ev)
		}
	}
}

func (r *Registry) handleEvent(ev link.Event) {
	s, ok := r.sessions[ev.Address]
	if !ok {
		r.logger.Debug("Registry: %v for unknown session", ev)
		return
	}

	if ev.Kind == link.EventConnectionState {
		r.onConnectionState(s, ev)
		return
	}
	s.handleEvent(ev)
}

func (r *Registry) onConnectionState(s *DeviceSession, ev link.Event) {
	switch {
	case ev.Connected && ev.OK():
		if s.state == StateConnecting {
			s.setState(StateConnected)
			r.logger.Info("Registry: connected to %s", s.addr)
			r.notifier.emit(StatusConnected, s.addr)
		}

	case s.state == StateConnecting && !ev.OK():
		r.logger.Warn("Registry: connect to %s failed, status %d", s.addr, ev.Status)
		r.remove(s, StatusFailed)

	case s.state == StateDisconnecting || ev.OK():
		r.logger.Info("Registry: disconnected from %s", s.addr)
		r.remove(s, StatusDisconnected)

	default:
		// Hard link error on a live session
		r.logger.Error("Registry: link to %s lost, status %d", s.addr, ev.Status)
		s.setState(StateFailed)
		r.remove(s, StatusFailed)
	}
}

// remove drops a session, aborting its pending request
func (r *Registry) remove(s *DeviceSession, status Status) {
	s.abort()
	if status == StatusDisconnected {
		s.setState(StateDisconnected)
	}
	delete(r.sessions, s.addr)
	r.notifier.emit(status, s.addr)
}

// dropAll fails every session after the adapter went away
func (r *Registry) dropAll() {
	for _, s := range r.sessions {
		s.setState(StateFailed)
		r.remove(s, StatusFailed)
	}
}

// notifier delivers status changes in order on its own goroutine so that
// listeners may call back into the registry
type notifier struct {
	mu        sync.Mutex
	listeners map[int]StatusListener
	nextID    int
	queue     *queue.Queue[statusChange]
	wg        sync.WaitGroup
	logger    logger.Logger
}

type statusChange struct {
	status Status
	addr   link.Address
}

func newNotifier(log logger.Logger) *notifier {
	n := &notifier{
		listeners: make(map[int]StatusListener),
		queue:     queue.New[statusChange](),
		logger:    log,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *notifier) add(l StatusListener) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.listeners[n.nextID] = l
	return n.nextID
}

func (n *notifier) remove(id int) {
	n.mu.Lock()
	delete(n.listeners, id)
	n.mu.Unlock()
}

func (n *notifier) emit(status Status, addr link.Address) {
	n.logger.Debug("Wallet %s status %v", addr, status)
	n.queue.Push(statusChange{status, addr})
}

func (n *notifier) loop() {
	defer n.wg.Done()

	for {
		change, ok := n.queue.Pop()
		if !ok {
			if n.queue.Closed() {
				return
			}
			<-n.queue.Wake()
			continue
		}

		n.mu.Lock()
		ids := make([]int, 0, len(n.listeners))
		for id := range n.listeners {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		listeners := make([]StatusListener, 0, len(ids))
		for _, id := range ids {
			listeners = append(listeners, n.listeners[id])
		}
		n.mu.Unlock()

		for _, l := range listeners {
			l(change.status, change.addr)
		}
	}
}

// close delivers what is queued, then stops
func (n *notifier) close() {
	n.queue.Close()
	n.wg.Wait()
}
