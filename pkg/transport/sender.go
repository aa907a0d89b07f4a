package transport

import (
	"errors"
	"fmt"

	"avaneesh/blesign-go/pkg/frame"
	"avaneesh/blesign-go/pkg/internal/logger"
)

var (
	ErrPlatformWriteFailed = errors.New("platform write failed")
	ErrCapacityTooSmall    = errors.New("link capacity must exceed the frame header")
	ErrEmptyPayload        = errors.New("empty payload")
	ErrFrameInFlight       = errors.New("frame already in flight")
	ErrSenderFinished      = errors.New("sender already finished")
)

// FrameWriter hands one frame to the platform link.
// An error means the platform rejected the write call itself.
type FrameWriter interface {
	WriteFrame(data []byte) error
}

// FrameWriterFunc adapts a function to FrameWriter
type FrameWriterFunc func(data []byte) error

// WriteFrame implements FrameWriter
func (f FrameWriterFunc) WriteFrame(data []byte) error {
	return f(data)
}

// Sender streams one request payload to the device in capacity-bounded frames.
// Frames go out strictly one at a time: SendFrame, then a write-ack drives
// OnFrameAccepted, then the next SendFrame.
type Sender struct {
	seq        uint32
	payload    []byte
	capacity   int
	nextOffset int
	inFlight   int // payload bytes of the frame awaiting its write-ack
	writer     FrameWriter
	stats      *Statistics
	logger     logger.Logger
}

// NewSender creates a sender for payload. stats may be nil.
func NewSender(seq uint32, payload []byte, capacity int, writer FrameWriter, stats *Statistics, log logger.Logger) (*Sender, error) {
	if capacity <= frame.HeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrCapacityTooSmall, capacity)
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > frame.MaxPayloadSize {
		return nil, frame.ErrPayloadTooLarge
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Sender{
		seq:      seq,
		payload:  payload,
		capacity: capacity,
		writer:   writer,
		stats:    stats,
		logger:   log,
	}, nil
}

// Seq returns the request sequence number
func (s *Sender) Seq() uint32 {
	return s.seq
}

// NextOffset returns the offset of the next unsent byte
func (s *Sender) NextOffset() int {
	return s.nextOffset
}

// Len returns the total payload length
func (s *Sender) Len() int {
	return len(s.payload)
}

// Finished reports whether every payload byte has been accepted
func (s *Sender) Finished() bool {
	return s.nextOffset == len(s.payload)
}

// InFlight reports whether a frame is awaiting its write-ack
func (s *Sender) InFlight() bool {
	return s.inFlight > 0
}

// NextFrameSize returns the payload size of the next frame
func (s *Sender) NextFrameSize() int {
	remaining := len(s.payload) - s.nextOffset
	if limit := s.capacity - frame.HeaderSize; remaining > limit {
		return limit
	}
	return remaining
}

// BuildFrame builds the next frame from the current offset
func (s *Sender) BuildFrame() *frame.Frame {
	size := s.NextFrameSize()
	return frame.NewFrame(s.seq, uint16(len(s.payload)), uint16(s.nextOffset),
		s.payload[s.nextOffset:s.nextOffset+size])
}

// SendFrame writes the next frame. It does not advance the offset.
func (s *Sender) SendFrame() error {
	if s.Finished() {
		return ErrSenderFinished
	}
	if s.inFlight > 0 {
		return ErrFrameInFlight
	}

	f := s.BuildFrame()
	data := f.Serialize()
	logger.DumpFrame(s.logger, "TX", data)

	if err := s.writer.WriteFrame(data); err != nil {
		return fmt.Errorf("%w: %v", ErrPlatformWriteFailed, err)
	}

	s.inFlight = len(f.Payload)
	if s.stats != nil {
		s.stats.IncrementFramesSent(len(data))
	}
	s.logger.Debug("Sender: sent %v", f)
	return nil
}

// OnFrameAccepted advances past the frame in flight. It must be called once
// per write-ack and reports false when no frame was in flight.
func (s *Sender) OnFrameAccepted() bool {
	if s.inFlight == 0 {
		return false
	}
	s.nextOffset += s.inFlight
	s.inFlight = 0
	if s.stats != nil {
		s.stats.IncrementFramesAccepted()
	}
	return true
}
