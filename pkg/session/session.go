package session

import (
	"errors"
	"fmt"

	"avaneesh/blesign-go/pkg/frame"
	"avaneesh/blesign-go/pkg/internal/logger"
	"avaneesh/blesign-go/pkg/link"
	"avaneesh/blesign-go/pkg/transport"
)

// SignResult is the answer to a signing request
type SignResult struct {
	Signature [frame.SignatureSize]byte
	Values    [][]byte // Device-substituted values in placeholder order
}

// requestKind is the response a pending request waits for
type requestKind int

const (
	kindRead requestKind = iota
	kindSignature
)

// pendingRequest is the single outstanding request of a session
type pendingRequest struct {
	seq    uint32
	kind   requestKind
	sender *transport.Sender // nil for reads
	read   *Future[[]byte]
	sign   *Future[SignResult]
}

func (p *pendingRequest) fail(err error) {
	if p.read != nil {
		p.read.reject(err)
	}
	if p.sign != nil {
		p.sign.reject(err)
	}
}

// DeviceSession is the live state of one connected signing device.
// It is only touched from the registry goroutine.
type DeviceSession struct {
	addr    link.Address
	conn    link.Conn
	state   State
	mtu     int
	seq     uint32
	pending *pendingRequest

	config Config
	stats  *transport.Statistics
	notify func(Status, link.Address)
	logger logger.Logger
}

func newDeviceSession(addr link.Address, conn link.Conn, config Config, stats *transport.Statistics,
	notify func(Status, link.Address), log logger.Logger) *DeviceSession {
	return &DeviceSession{
		addr:   addr,
		conn:   conn,
		state:  StateConnecting,
		seq:    config.SequenceSource(),
		config: config,
		stats:  stats,
		notify: notify,
		logger: log,
	}
}

// Snapshot is a read-only view of a session
type Snapshot struct {
	Address    link.Address
	State      State
	MTU        int
	Seq        uint32
	Pending    bool
	PendingSeq uint32
}

func (s *DeviceSession) snapshot() Snapshot {
	snap := Snapshot{
		Address: s.addr,
		State:   s.state,
		MTU:     s.mtu,
		Seq:     s.seq,
	}
	if s.pending != nil {
		snap.Pending = true
		snap.PendingSeq = s.pending.seq
	}
	return snap
}

func (s *DeviceSession) setState(state State) {
	if s.state != state {
		s.logger.Debug("Session %s: %v -> %v", s.addr, s.state, state)
		s.state = state
	}
}

// live reports whether the session accepts requests at all
func (s *DeviceSession) live() bool {
	switch s.state {
	case StateConnected, StateServicesReady, StateReady, StateSigning:
		return true
	default:
		return false
	}
}

// guard enforces the single-flight invariant before any request
func (s *DeviceSession) guard() error {
	if !s.live() {
		return ErrNotConnected
	}
	if s.mtu == 0 {
		return ErrMtuUnknown
	}
	if s.pending != nil {
		return ErrDeviceBusy
	}
	return nil
}

// initialize starts service discovery
func (s *DeviceSession) initialize() error {
	if s.state != StateConnected {
		return fmt.Errorf("%w: %v", ErrNotReady, s.state)
	}
	if err := s.conn.DiscoverServices(); err != nil {
		return fmt.Errorf("discover services: %w", err)
	}
	return nil
}

// readPublicKey reads the public key characteristic
func (s *DeviceSession) readPublicKey(f *Future[[]byte]) {
	if err := s.guard(); err != nil {
		f.reject(err)
		return
	}

	s.pending = &pendingRequest{seq: s.seq, kind: kindRead, read: f}
	s.setState(StateSigning)

	if err := s.conn.Read(link.PublicKeyUUID); err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrPlatformReadFailed, err))
	}
}

// startSigning sends a signing request and registers it as pending
func (s *DeviceSession) startSigning(op frame.OpType, body []byte, f *Future[SignResult]) {
	if err := s.guard(); err != nil {
		f.reject(err)
		return
	}

	payload, err := frame.EncodeRequest(op, body)
	if err != nil {
		f.reject(err)
		return
	}

	s.seq++
	writer := transport.FrameWriterFunc(func(data []byte) error {
		return s.conn.Write(link.SignatureWriteUUID, data)
	})
	capacity := s.config.Transport.FrameCapacity(s.mtu)
	sender, err := transport.NewSender(s.seq, payload, capacity, writer, s.stats, s.logger)
	if err != nil {
		s.seq++
		f.reject(err)
		return
	}

	s.pending = &pendingRequest{seq: s.seq, kind: kindSignature, sender: sender, sign: f}
	s.setState(StateSigning)
	s.stats.IncrementRequestsStarted()
	s.logger.Debug("Session %s: %v request seq=%d, %d bytes", s.addr, op, s.seq, len(payload))

	if err := sender.SendFrame(); err != nil {
		s.stats.IncrementWriteFailures()
		s.fail(err)
	}
}

// fail rejects the pending request and bumps the sequence so a straggling
// response cannot match the next request
func (s *DeviceSession) fail(err error) {
	p := s.pending
	if p == nil {
		return
	}
	s.pending = nil
	s.seq++
	if s.state == StateSigning {
		s.setState(StateReady)
	}
	s.stats.IncrementRequestsFailed()
	s.logger.Warn("Session %s: request seq=%d failed: %v", s.addr, p.seq, err)
	p.fail(err)
}

// complete clears the pending request after success
func (s *DeviceSession) complete() *pendingRequest {
	p := s.pending
	s.pending = nil
	if s.state == StateSigning {
		s.setState(StateReady)
	}
	s.stats.IncrementRequestsCompleted()
	return p
}

// abort rejects the pending request with ErrAborted
func (s *DeviceSession) abort() {
	s.fail(ErrAborted)
}

// handleEvent processes every link event except connection state changes
func (s *DeviceSession) handleEvent(ev link.Event) {
	switch ev.Kind {
	case link.EventServicesDiscovered:
		s.onServicesDiscovered(ev)
	case link.EventDescriptorWritten:
		s.onDescriptorWritten(ev)
	case link.EventMtuChanged:
		s.onMtuChanged(ev)
	case link.EventCharacteristicWrite:
		s.onWriteAck(ev)
	case link.EventCharacteristicChanged:
		s.onNotification(ev)
	case link.EventCharacteristicRead:
		s.onRead(ev)
	default:
		s.logger.Warn("Session %s: unexpected event %v", s.addr, ev)
	}
}

// failSession moves to the absorbing Failed state
func (s *DeviceSession) failSession(reason string) {
	s.logger.Error("Session %s: %s", s.addr, reason)
	s.abort()
	s.setState(StateFailed)
	s.notify(StatusFailed, s.addr)
}

func (s *DeviceSession) onServicesDiscovered(ev link.Event) {
	if s.state != StateConnected {
		return
	}
	if !ev.OK() {
		s.failSession(fmt.Sprintf("service discovery failed, status %d", ev.Status))
		return
	}

	s.logger.Info("Session %s: wallet service discovered", s.addr)
	if err := s.conn.EnableNotifications(link.SignatureReadUUID); err != nil {
		s.failSession(fmt.Sprintf("enable notifications: %v", err))
		return
	}
	s.setState(StateServicesReady)
}

func (s *DeviceSession) onDescriptorWritten(ev link.Event) {
	if s.state != StateServicesReady {
		return
	}
	if !ev.OK() {
		s.failSession(fmt.Sprintf("enable notifications failed, status %d", ev.Status))
		return
	}
	if err := s.conn.RequestMTU(s.config.MTU); err != nil {
		s.failSession(fmt.Sprintf("request MTU: %v", err))
	}
}

func (s *DeviceSession) onMtuChanged(ev link.Event) {
	if s.state != StateServicesReady {
		return
	}
	if !ev.OK() || ev.MTU <= frame.HeaderSize {
		s.failSession(fmt.Sprintf("MTU negotiation failed, status %d mtu %d", ev.Status, ev.MTU))
		return
	}

	s.mtu = ev.MTU
	s.setState(StateReady)
	s.logger.Info("Session %s: initialized, MTU %d", s.addr, s.mtu)
	s.notify(StatusInitialized, s.addr)
}

// onWriteAck drives the sender: the offset only advances here
func (s *DeviceSession) onWriteAck(ev link.Event) {
	p := s.pending
	if p == nil || p.sender == nil {
		return
	}
	if !ev.OK() {
		s.stats.IncrementWriteFailures()
		s.fail(fmt.Errorf("%w: write status %d", ErrPlatformWriteFailed, ev.Status))
		return
	}

	sender := p.sender
	if sender.Finished() {
		return
	}
	sender.OnFrameAccepted()
	if sender.Finished() {
		return
	}
	if err := sender.SendFrame(); err != nil {
		s.stats.IncrementWriteFailures()
		s.fail(err)
	}
}

func (s *DeviceSession) onNotification(ev link.Event) {
	s.stats.IncrementNotifications()
	logger.DumpFrame(s.logger, "RX", ev.Data)

	p := s.pending
	if p == nil {
		s.logger.Debug("Session %s: notification with no pending request", s.addr)
		return
	}

	event, err := frame.DecodeNotification(ev.Data)
	if err != nil {
		s.fail(fmt.Errorf("%w: %w", ErrProtocolViolation, err))
		return
	}

	switch n := event.(type) {
	case *frame.PacketAck:
		s.onPacketAck(p, n)
	case *frame.SignResult:
		s.onSignResult(p, n)
	default:
		s.fail(fmt.Errorf("%w: unexpected notification %v", ErrProtocolViolation, event))
	}
}

// onPacketAck validates the device's acknowledgement against the sender
func (s *DeviceSession) onPacketAck(p *pendingRequest, ack *frame.PacketAck) {
	if p.sender == nil {
		s.fail(fmt.Errorf("%w: packet ack during a read", ErrProtocolViolation))
		return
	}
	if ack.Status != 0 {
		s.stats.IncrementRejectedPackets()
		s.fail(fmt.Errorf("%w: status %d", ErrDeviceRejectedPacket, ack.Status))
		return
	}
	if ack.Seq != p.sender.Seq() || int(ack.Offset) != p.sender.NextOffset() {
		s.stats.IncrementSequenceMismatches()
		s.fail(fmt.Errorf("%w: ack seq=%d offset=%d, sender seq=%d offset=%d",
			ErrSequenceMismatch, ack.Seq, ack.Offset, p.sender.Seq(), p.sender.NextOffset()))
		return
	}
	s.logger.Debug("Session %s: %v", s.addr, ack)
}

func (s *DeviceSession) onSignResult(p *pendingRequest, r *frame.SignResult) {
	if p.kind != kindSignature {
		s.fail(fmt.Errorf("%w: sign result during a read", ErrProtocolViolation))
		return
	}
	if r.Error != 0 {
		s.fail(&DeviceSigningError{Code: r.Error})
		return
	}

	s.complete()
	s.logger.Debug("Session %s: %v", s.addr, r)
	p.sign.resolve(SignResult{Signature: r.Signature, Values: r.Values})
}

func (s *DeviceSession) onRead(ev link.Event) {
	p := s.pending
	if p == nil || p.kind != kindRead {
		return
	}
	if !ev.OK() {
		s.fail(fmt.Errorf("%w: status %d", ErrPlatformReadFailed, ev.Status))
		return
	}

	s.complete()
	p.read.resolve(ev.Data)
}

// IsSigningError reports whether err carries a device signing error code
func IsSigningError(err error) (uint16, bool) {
	var se *DeviceSigningError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
