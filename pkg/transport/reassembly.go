package transport

import (
	"bytes"
	"errors"
	"fmt"

	"avaneesh/blesign-go/pkg/frame"
)

var (
	ErrUnexpectedOffset = errors.New("unexpected frame offset")
	ErrBufferOverflow   = errors.New("reassembly buffer overflow")
)

// Reassembler rebuilds a request payload from inbound frames on the device side
type Reassembler struct {
	buffer     bytes.Buffer
	seq        uint32
	totalLen   int
	inProgress bool
	maxSize    int
}

// NewReassembler creates a new reassembler bounded by maxSize bytes
func NewReassembler(maxSize int) *Reassembler {
	if maxSize <= 0 {
		maxSize = frame.MaxPayloadSize
	}
	return &Reassembler{maxSize: maxSize}
}

// Process adds one frame. It returns the complete payload once the last frame
// arrives, nil otherwise. A frame at offset 0 always starts a new request.
func (r *Reassembler) Process(f *frame.Frame) ([]byte, error) {
	if f.Offset == 0 {
		r.buffer.Reset()
		r.inProgress = true
		r.seq = f.Seq
		r.totalLen = int(f.TotalLen)
		if r.totalLen > r.maxSize {
			r.Reset()
			return nil, ErrBufferOverflow
		}
	} else if !r.inProgress {
		return nil, fmt.Errorf("%w: offset %d with no request in progress", ErrUnexpectedOffset, f.Offset)
	}

	if f.Seq != r.seq || int(f.Offset) != r.buffer.Len() || int(f.TotalLen) != r.totalLen {
		err := fmt.Errorf("%w: seq %d offset %d, want seq %d offset %d",
			ErrUnexpectedOffset, f.Seq, f.Offset, r.seq, r.buffer.Len())
		r.Reset()
		return nil, err
	}

	r.buffer.Write(f.Payload)

	if r.buffer.Len() == r.totalLen {
		result := make([]byte, r.buffer.Len())
		copy(result, r.buffer.Bytes())
		r.Reset()
		return result, nil
	}
	return nil, nil
}

// Received returns the number of payload bytes reassembled so far
func (r *Reassembler) Received() int {
	return r.buffer.Len()
}

// Seq returns the sequence of the request being reassembled
func (r *Reassembler) Seq() uint32 {
	return r.seq
}

// Reset resets the reassembler state
func (r *Reassembler) Reset() {
	r.buffer.Reset()
	r.inProgress = false
	r.totalLen = 0
}

// InProgress returns true if reassembly is in progress
func (r *Reassembler) InProgress() bool {
	return r.inProgress
}
