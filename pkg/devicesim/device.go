package devicesim

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"avaneesh/blesign-go/pkg/frame"
	"avaneesh/blesign-go/pkg/internal/logger"
	"avaneesh/blesign-go/pkg/link"
	"avaneesh/blesign-go/pkg/transport"
)

// NotifyUnknown is the type tag sent when Faults.UnknownNotification is set
const NotifyUnknown frame.NotificationType = 0x7F

// Faults injects misbehaviour into a simulated device
type Faults struct {
	FailConnect         bool   // Connect reports GATT_ERROR
	FailDiscovery       bool   // Service discovery reports failure
	FailRead            bool   // Public key read reports failure
	RejectWrites        bool   // The platform refuses write calls
	FailWriteAck        bool   // Writes complete with a failure status
	RejectPacketStatus  uint16 // Non-zero status in every packet-ack
	CorruptAckOffset    bool   // Packet-acks carry a wrong offset
	StaleAckSeq         bool   // Packet-acks carry the previous sequence
	SigningError        uint16 // Non-zero error in the sign result
	Silent              bool   // Never send a sign result
	UnknownNotification bool   // Answer with an unknown notification type
}

// Config holds the firmware limits of a simulated device
type Config struct {
	// MaxMTU is the largest MTU the device agrees to
	// Default: 517
	MaxMTU int

	// MaxReassemblySize bounds the request payload the device accepts.
	// Larger requests are rejected in the first packet-ack.
	// Default: 65535 bytes (largest totalLen a header can carry)
	MaxReassemblySize int
}

// DefaultConfig returns the limits of the reference firmware
func DefaultConfig() Config {
	return Config{
		MaxMTU:            517,
		MaxReassemblySize: frame.MaxPayloadSize,
	}
}

// Request is one reassembled request the device received
type Request struct {
	Seq  uint32
	Op   frame.OpType
	Body []byte
}

// Device models the firmware of one hardware signing device
type Device struct {
	addr   link.Address
	key    *ecdsa.PrivateKey
	maxMTU int

	mu          sync.Mutex
	values      [][]byte
	faults      Faults
	reassembler *transport.Reassembler
	requests    []Request

	logger logger.Logger
}

// NewDevice creates a device holding key with the default limits
func NewDevice(addr link.Address, key *ecdsa.PrivateKey) *Device {
	return NewDeviceWithConfig(addr, key, DefaultConfig())
}

// NewDeviceWithConfig creates a device holding key with custom limits.
// Zero fields take their defaults.
func NewDeviceWithConfig(addr link.Address, key *ecdsa.PrivateKey, config Config) *Device {
	def := DefaultConfig()
	if config.MaxMTU <= 0 {
		config.MaxMTU = def.MaxMTU
	}
	if config.MaxReassemblySize <= 0 {
		config.MaxReassemblySize = def.MaxReassemblySize
	}
	return &Device{
		addr:        addr,
		key:         key,
		maxMTU:      config.MaxMTU,
		reassembler: transport.NewReassembler(config.MaxReassemblySize),
		logger:      logger.GetDefault(),
	}
}

// GenerateDevice creates a device with a fresh secp256k1 key
func GenerateDevice(addr link.Address) (*Device, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	return NewDevice(addr, key), nil
}

// Address returns the device address
func (d *Device) Address() link.Address {
	return d.addr
}

// PublicKey returns the uncompressed public key served on the public key characteristic
func (d *Device) PublicKey() []byte {
	return crypto.FromECDSAPub(&d.key.PublicKey)
}

// SetMaxMTU caps the MTU the device agrees to
func (d *Device) SetMaxMTU(mtu int) {
	d.mu.Lock()
	d.maxMTU = mtu
	d.mu.Unlock()
}

// SetValues sets the values substituted for placeholder indexes 0, 1, ...
func (d *Device) SetValues(values ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values = make([][]byte, len(values))
	for i, v := range values {
		d.values[i] = []byte(v)
	}
}

// SetFaults replaces the injected faults
func (d *Device) SetFaults(f Faults) {
	d.mu.Lock()
	d.faults = f
	d.mu.Unlock()
}

// SetLogger sets the device logger
func (d *Device) SetLogger(log logger.Logger) {
	d.mu.Lock()
	d.logger = log
	d.mu.Unlock()
}

// Requests returns every request reassembled so far
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Request, len(d.requests))
	copy(out, d.requests)
	return out
}

func (d *Device) currentFaults() Faults {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.faults
}

func (d *Device) negotiate(requested int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if requested > d.maxMTU {
		return d.maxMTU
	}
	return requested
}

func (d *Device) reset() {
	d.mu.Lock()
	d.reassembler.Reset()
	d.mu.Unlock()
}

// receive handles one frame written to the signature characteristic and
// returns the notifications the device sends in response
func (d *Device) receive(data []byte) [][]byte {
	f, err := frame.Parse(data)
	if err != nil {
		d.logger.Warn("Device %s: dropping frame: %v", d.addr, err)
		return nil
	}

	faults := d.currentFaults()

	d.mu.Lock()
	payload, err := d.reassembler.Process(f)
	d.mu.Unlock()

	received := uint16(int(f.Offset) + len(f.Payload))
	if faults.CorruptAckOffset {
		received ^= 0x5A5A
	}
	ackSeq := f.Seq
	if faults.StaleAckSeq {
		ackSeq--
	}

	status := faults.RejectPacketStatus
	if err != nil {
		d.logger.Warn("Device %s: %v", d.addr, err)
		status = 1
	}

	out := [][]byte{frame.EncodePacketAck(ackSeq, received, status)}
	if status != 0 || payload == nil {
		return out
	}

	if result := d.handleRequest(f.Seq, payload, faults); result != nil {
		out = append(out, result)
	}
	return out
}

// handleRequest executes a complete request and builds its result notification
func (d *Device) handleRequest(seq uint32, payload []byte, faults Faults) []byte {
	op, body, err := frame.DecodeRequest(payload)
	if err != nil {
		d.logger.Warn("Device %s: bad request: %v", d.addr, err)
		return d.errorResult(1)
	}

	d.mu.Lock()
	d.requests = append(d.requests, Request{Seq: seq, Op: op, Body: append([]byte(nil), body...)})
	d.mu.Unlock()

	d.logger.Debug("Device %s: %v request seq=%d, %d bytes", d.addr, op, seq, len(body))

	if faults.Silent {
		return nil
	}
	if faults.UnknownNotification {
		b := make([]byte, frame.NotificationHeaderSize)
		binary.LittleEndian.PutUint16(b[0:2], uint16(NotifyUnknown))
		return b
	}
	if faults.SigningError != 0 {
		return d.errorResult(faults.SigningError)
	}

	var (
		digest []byte
		values [][]byte
	)
	switch op {
	case frame.OpSignHash:
		if len(body) != frame.HashSize {
			return d.errorResult(2)
		}
		digest = body
	case frame.OpSignWithDeviceData:
		message, used, err := d.substitute(body)
		if err != nil {
			d.logger.Warn("Device %s: %v", d.addr, err)
			return d.errorResult(3)
		}
		sum := sha256.Sum256(message)
		digest = sum[:]
		values = used
	default:
		return d.errorResult(4)
	}

	sig, err := crypto.Sign(digest, d.key)
	if err != nil {
		d.logger.Error("Device %s: sign failed: %v", d.addr, err)
		return d.errorResult(5)
	}

	r := &frame.SignResult{Values: values}
	copy(r.Signature[:], sig[:frame.SignatureSize])
	data, err := frame.EncodeSignResult(r)
	if err != nil {
		d.logger.Warn("Device %s: %v", d.addr, err)
		return d.errorResult(6)
	}
	d.logger.Debug("Device %s: signed %s", d.addr, hexutil.Encode(digest))
	return data
}

// substitute rebuilds the signed message from device input segments
func (d *Device) substitute(body []byte) ([]byte, [][]byte, error) {
	segments, err := frame.DecodeSegments(body)
	if err != nil {
		return nil, nil, err
	}

	d.mu.Lock()
	values := d.values
	d.mu.Unlock()

	var (
		message []byte
		used    [][]byte
	)
	for _, seg := range segments {
		switch seg.Kind {
		case frame.SegmentFixed:
			message = append(message, seg.Data...)
		case frame.SegmentDeviceSubstituted:
			idx, err := seg.Index()
			if err != nil {
				return nil, nil, err
			}
			if int(idx) >= len(values) {
				return nil, nil, fmt.Errorf("no value for placeholder %d", idx)
			}
			message = append(message, values[idx]...)
			used = append(used, values[idx])
		default:
			return nil, nil, fmt.Errorf("unknown segment type %v", seg.Kind)
		}
	}
	return message, used, nil
}

func (d *Device) errorResult(code uint16) []byte {
	data, _ := frame.EncodeSignResult(&frame.SignResult{Error: code})
	return data
}
