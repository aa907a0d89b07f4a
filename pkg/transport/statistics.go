package transport

import (
	"sync/atomic"
	"time"
)

// Statistics counts frames, notifications and request outcomes across every
// session of a registry. All methods are safe for concurrent use, and a nil
// *Statistics counts nothing.
type Statistics struct {
	framesSent     atomic.Uint64
	bytesSent      atomic.Uint64
	framesAccepted atomic.Uint64
	notifications  atomic.Uint64

	requestsStarted   atomic.Uint64
	requestsCompleted atomic.Uint64
	requestsFailed    atomic.Uint64

	sequenceMismatches atomic.Uint64
	rejectedPackets    atomic.Uint64
	writeFailures      atomic.Uint64

	// unix nanoseconds, zero until the first event
	lastTx atomic.Int64
	lastRx atomic.Int64
}

// Snapshot is a point-in-time copy of Statistics
type Snapshot struct {
	FramesSent         uint64
	BytesSent          uint64
	FramesAccepted     uint64
	Notifications      uint64
	RequestsStarted    uint64
	RequestsCompleted  uint64
	RequestsFailed     uint64
	SequenceMismatches uint64
	RejectedPackets    uint64
	WriteFailures      uint64
	LastTx             time.Time
	LastRx             time.Time
}

func NewStatistics() *Statistics {
	return new(Statistics)
}

// IncrementFramesSent counts one outbound frame of n bytes
func (s *Statistics) IncrementFramesSent(n int) {
	if s == nil {
		return
	}
	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(n))
	s.lastTx.Store(time.Now().UnixNano())
}

// IncrementFramesAccepted counts one write-ack
func (s *Statistics) IncrementFramesAccepted() {
	if s != nil {
		s.framesAccepted.Add(1)
	}
}

// IncrementNotifications counts one inbound notification
func (s *Statistics) IncrementNotifications() {
	if s == nil {
		return
	}
	s.notifications.Add(1)
	s.lastRx.Store(time.Now().UnixNano())
}

func (s *Statistics) IncrementRequestsStarted() {
	if s != nil {
		s.requestsStarted.Add(1)
	}
}

func (s *Statistics) IncrementRequestsCompleted() {
	if s != nil {
		s.requestsCompleted.Add(1)
	}
}

func (s *Statistics) IncrementRequestsFailed() {
	if s != nil {
		s.requestsFailed.Add(1)
	}
}

func (s *Statistics) IncrementSequenceMismatches() {
	if s != nil {
		s.sequenceMismatches.Add(1)
	}
}

// IncrementRejectedPackets counts a PacketAck whose status was not OK
func (s *Statistics) IncrementRejectedPackets() {
	if s != nil {
		s.rejectedPackets.Add(1)
	}
}

// IncrementWriteFailures counts a write the platform adapter refused
func (s *Statistics) IncrementWriteFailures() {
	if s != nil {
		s.writeFailures.Add(1)
	}
}

// GetFramesSent returns the number of frames handed to the adapter
func (s *Statistics) GetFramesSent() uint64 {
	if s == nil {
		return 0
	}
	return s.framesSent.Load()
}

// Snapshot returns a copy of every counter
func (s *Statistics) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		FramesSent:         s.framesSent.Load(),
		BytesSent:          s.bytesSent.Load(),
		FramesAccepted:     s.framesAccepted.Load(),
		Notifications:      s.notifications.Load(),
		RequestsStarted:    s.requestsStarted.Load(),
		RequestsCompleted:  s.requestsCompleted.Load(),
		RequestsFailed:     s.requestsFailed.Load(),
		SequenceMismatches: s.sequenceMismatches.Load(),
		RejectedPackets:    s.rejectedPackets.Load(),
		WriteFailures:      s.writeFailures.Load(),
		LastTx:             unixNano(s.lastTx.Load()),
		LastRx:             unixNano(s.lastRx.Load()),
	}
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Reset zeroes every counter and both timestamps
func (s *Statistics) Reset() {
	if s == nil {
		return
	}
	for _, c := range []*atomic.Uint64{
		&s.framesSent, &s.bytesSent, &s.framesAccepted, &s.notifications,
		&s.requestsStarted, &s.requestsCompleted, &s.requestsFailed,
		&s.sequenceMismatches, &s.rejectedPackets, &s.writeFailures,
	} {
		c.Store(0)
	}
	s.lastTx.Store(0)
	s.lastRx.Store(0)
}
