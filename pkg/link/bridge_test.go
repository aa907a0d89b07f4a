package link_test

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"avaneesh/blesign-go/pkg/devicesim"
	"avaneesh/blesign-go/pkg/link"
	"avaneesh/blesign-go/pkg/session"
)

const bridgedAddr link.Address = "C4:4F:33:12:AB:10"

func startBridge(t *testing.T) (*link.Bridge, *devicesim.Device, *link.QUICAdapter) {
	t.Helper()

	sim := devicesim.NewAdapter(nil)
	device, err := devicesim.GenerateDevice(bridgedAddr)
	require.NoError(t, err)
	sim.AddDevice(device)

	bridge, err := link.NewBridge(link.DefaultQUICConfig("127.0.0.1:0"), sim, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	host, err := link.DialQUIC(ctx, link.DefaultQUICConfig(bridge.Addr().String()), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		host.Close()
		bridge.Close()
		sim.Close()
	})
	return bridge, device, host
}

func nextEvent(t *testing.T, events <-chan link.Event) link.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return link.Event{}
	}
}

func TestBridge_ConnectAndRead(t *testing.T) {
	bridge, device, host := startBridge(t)

	conn, err := host.Connect(bridgedAddr)
	require.NoError(t, err)
	ev := nextEvent(t, host.Events())
	require.Equal(t, link.EventConnectionState, ev.Kind)
	require.True(t, ev.Connected)
	require.True(t, ev.OK())

	require.NoError(t, conn.RequestMTU(247))
	ev = nextEvent(t, host.Events())
	require.Equal(t, link.EventMtuChanged, ev.Kind)
	require.Equal(t, 247, ev.MTU)

	require.NoError(t, conn.Read(link.PublicKeyUUID))
	ev = nextEvent(t, host.Events())
	require.Equal(t, link.EventCharacteristicRead, ev.Kind)
	require.Equal(t, device.PublicKey(), ev.Data)

	require.NoError(t, conn.Disconnect())
	ev = nextEvent(t, host.Events())
	require.Equal(t, link.EventConnectionState, ev.Kind)
	require.False(t, ev.Connected)

	stats := bridge.Statistics()
	require.Equal(t, uint64(1), stats.Connects)
	require.Equal(t, uint64(4), stats.Commands)
	require.Positive(t, host.EnvelopesReceived())
}

func TestBridge_UnknownDevice(t *testing.T) {
	bridge, _, host := startBridge(t)

	_, err := host.Connect("00:00:00:00:00:00")
	require.NoError(t, err)
	ev := nextEvent(t, host.Events())
	require.Equal(t, link.EventConnectionState, ev.Kind)
	require.False(t, ev.OK())

	conn, err := host.Connect(bridgedAddr)
	require.NoError(t, err)
	nextEvent(t, host.Events())
	require.NoError(t, conn.Disconnect())
	nextEvent(t, host.Events())

	// The bridge forgets the link before forwarding the disconnect
	require.NoError(t, conn.DiscoverServices())
	ev = nextEvent(t, host.Events())
	require.Equal(t, link.EventServicesDiscovered, ev.Kind)
	require.Equal(t, link.StatusFailure, ev.Status)
	require.Positive(t, bridge.Statistics().Rejected)
}

func TestBridge_SignThroughRegistry(t *testing.T) {
	_, device, host := startBridge(t)

	reg := session.NewRegistry(host, session.DefaultConfig(), nil)
	defer reg.Close()

	statuses := make(chan session.Status, 16)
	reg.AddStatusListener(func(status session.Status, addr link.Address) {
		statuses <- status
	})
	wait := func(want session.Status) {
		select {
		case got := <-statuses:
			require.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %v", want)
		}
	}

	require.NoError(t, reg.Connect(bridgedAddr))
	wait(session.StatusConnecting)
	wait(session.StatusConnected)
	require.NoError(t, reg.Initialize(bridgedAddr))
	wait(session.StatusInitialized)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hash := sha256.Sum256([]byte("bridged"))
	result, err := reg.SignHash(bridgedAddr, hash[:]).Wait(ctx)
	require.NoError(t, err)
	require.True(t, crypto.VerifySignature(device.PublicKey(), hash[:], result.Signature[:]))
}

func TestBridge_CloseReportsLinkLost(t *testing.T) {
	bridge, _, host := startBridge(t)

	_, err := host.Connect(bridgedAddr)
	require.NoError(t, err)
	ev := nextEvent(t, host.Events())
	require.True(t, ev.Connected)

	require.NoError(t, bridge.Close())
	for ev := range host.Events() {
		if ev.Kind == link.EventConnectionState && ev.Status == link.StatusLinkLost {
			require.Equal(t, bridgedAddr, ev.Address)
			return
		}
	}
	t.Fatal("no link-lost event before the channel closed")
}
