package devicesim

import (
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"avaneesh/blesign-go/pkg/frame"
	"avaneesh/blesign-go/pkg/link"
)

const simAddr link.Address = "C4:4F:33:12:AB:20"

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d, err := GenerateDevice(simAddr)
	require.NoError(t, err)
	return d
}

// frames splits a request into frames of at most capacity bytes
func frames(t *testing.T, seq uint32, op frame.OpType, body []byte, capacity int) [][]byte {
	t.Helper()
	payload, err := frame.EncodeRequest(op, body)
	require.NoError(t, err)

	var out [][]byte
	chunk := capacity - frame.HeaderSize
	for off := 0; off < len(payload); off += chunk {
		end := min(off+chunk, len(payload))
		f := frame.NewFrame(seq, uint16(len(payload)), uint16(off), payload[off:end])
		out = append(out, f.Serialize())
	}
	return out
}

func decodeAll(t *testing.T, notes [][]byte) []frame.Event {
	t.Helper()
	var out []frame.Event
	for _, n := range notes {
		ev, err := frame.DecodeNotification(n)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestDevice_SignHashAcrossFrames(t *testing.T) {
	d := newTestDevice(t)
	hash := sha256.Sum256([]byte("payload"))

	var events []frame.Event
	for _, f := range frames(t, 7, frame.OpSignHash, hash[:], 20) {
		events = append(events, decodeAll(t, d.receive(f))...)
	}

	// 36 bytes in 12-byte chunks: three acks then the result
	require.Len(t, events, 4)
	for i, want := range []uint16{12, 24, 36} {
		ack, ok := events[i].(*frame.PacketAck)
		require.True(t, ok, "event %d is %T", i, events[i])
		require.Equal(t, uint32(7), ack.Seq)
		require.Equal(t, want, ack.Offset)
		require.Zero(t, ack.Status)
	}

	res, ok := events[3].(*frame.SignResult)
	require.True(t, ok)
	require.Zero(t, res.Error)
	require.True(t, crypto.VerifySignature(d.PublicKey(), hash[:], res.Signature[:]))

	reqs := d.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, uint32(7), reqs[0].Seq)
}

func TestDevice_SignWithDeviceData(t *testing.T) {
	d := newTestDevice(t)
	d.SetValues("99")

	body, err := frame.EncodeSegments([]frame.Segment{
		frame.FixedSegment([]byte("call(")),
		frame.PlaceholderSegment(0),
		frame.FixedSegment([]byte(")")),
	})
	require.NoError(t, err)

	var events []frame.Event
	for _, f := range frames(t, 1, frame.OpSignWithDeviceData, body, 64) {
		events = append(events, decodeAll(t, d.receive(f))...)
	}

	res, ok := events[len(events)-1].(*frame.SignResult)
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte("99")}, res.Values)

	digest := sha256.Sum256([]byte("call(99)"))
	require.True(t, crypto.VerifySignature(d.PublicKey(), digest[:], res.Signature[:]))
}

func TestDevice_Faults(t *testing.T) {
	hash := make([]byte, frame.HashSize)

	tests := []struct {
		name   string
		faults Faults
		check  func(t *testing.T, events []frame.Event)
	}{
		{
			name:   "Rejected packet",
			faults: Faults{RejectPacketStatus: 3},
			check: func(t *testing.T, events []frame.Event) {
				require.Len(t, events, 1)
				require.Equal(t, uint16(3), events[0].(*frame.PacketAck).Status)
			},
		},
		{
			name:   "Corrupt offset",
			faults: Faults{CorruptAckOffset: true},
			check: func(t *testing.T, events []frame.Event) {
				require.NotEqual(t, uint16(36), events[0].(*frame.PacketAck).Offset)
			},
		},
		{
			name:   "Stale sequence",
			faults: Faults{StaleAckSeq: true},
			check: func(t *testing.T, events []frame.Event) {
				require.Equal(t, uint32(0), events[0].(*frame.PacketAck).Seq)
				require.Equal(t, uint16(36), events[0].(*frame.PacketAck).Offset)
			},
		},
		{
			name:   "Signing error",
			faults: Faults{SigningError: 0x6985},
			check: func(t *testing.T, events []frame.Event) {
				require.Len(t, events, 2)
				require.Equal(t, uint16(0x6985), events[1].(*frame.SignResult).Error)
			},
		},
		{
			name:   "Silent",
			faults: Faults{Silent: true},
			check: func(t *testing.T, events []frame.Event) {
				require.Len(t, events, 1)
			},
		},
		{
			name:   "Unknown notification",
			faults: Faults{UnknownNotification: true},
			check: func(t *testing.T, events []frame.Event) {
				require.Len(t, events, 2)
				require.Equal(t, NotifyUnknown, events[1].Type())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice(t)
			d.SetFaults(tt.faults)
			f := frames(t, 1, frame.OpSignHash, hash, 128)
			require.Len(t, f, 1)
			tt.check(t, decodeAll(t, d.receive(f[0])))
		})
	}
}

func TestDevice_OutOfOrderFrame(t *testing.T) {
	d := newTestDevice(t)
	f := frames(t, 1, frame.OpSignHash, make([]byte, frame.HashSize), 20)

	events := decodeAll(t, d.receive(f[1]))
	require.Len(t, events, 1)
	require.NotZero(t, events[0].(*frame.PacketAck).Status)
}

func TestDevice_Negotiate(t *testing.T) {
	d := newTestDevice(t)
	require.Equal(t, 128, d.negotiate(128))
	require.Equal(t, 517, d.negotiate(1000))

	d.SetMaxMTU(64)
	require.Equal(t, 64, d.negotiate(128))
}

func TestDevice_MaxReassemblySize(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	d := NewDeviceWithConfig(simAddr, key, Config{MaxReassemblySize: frame.HashSize})
	require.Equal(t, 517, d.negotiate(1000))

	// 4-byte request header plus the hash exceeds the limit
	events := decodeAll(t, d.receive(frames(t, 3, frame.OpSignHash, make([]byte, frame.HashSize), 128)[0]))
	require.Len(t, events, 1)
	require.NotZero(t, events[0].(*frame.PacketAck).Status)
	require.Empty(t, d.Requests())
}
