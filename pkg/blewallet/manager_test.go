package blewallet

import (
	"context"
	"crypto/sha256"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"avaneesh/blesign-go/pkg/devicesim"
	"avaneesh/blesign-go/pkg/link"
	"avaneesh/blesign-go/pkg/session"
	"avaneesh/blesign-go/pkg/txsign"
)

const walletAddr link.Address = "C4:4F:33:12:AB:30"

func newTestManager(t *testing.T) (*Manager, *devicesim.Device) {
	t.Helper()
	adapter := devicesim.NewAdapter(nil)
	device, err := devicesim.GenerateDevice(walletAddr)
	require.NoError(t, err)
	adapter.AddDevice(device)

	m := NewManagerWithLogger(adapter, session.DefaultConfig(), nil)
	t.Cleanup(func() { m.Shutdown() })
	return m, device
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestManager_OpenAndSign(t *testing.T) {
	m, device := newTestManager(t)
	ctx := testCtx(t)

	signer, err := m.Open(ctx, walletAddr)
	require.NoError(t, err)
	require.Equal(t, walletAddr, signer.Address())
	require.Equal(t, 1, m.DeviceCount())

	again, err := m.Open(ctx, walletAddr)
	require.NoError(t, err)
	require.Same(t, signer, again)

	key, err := signer.PublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, device.PublicKey(), key)

	// Cached after the first read
	device.SetFaults(devicesim.Faults{FailRead: true})
	key, err = signer.PublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, device.PublicKey(), key)

	hash := sha256.Sum256([]byte("facade"))
	res, err := signer.SignHash(ctx, hash[:])
	require.NoError(t, err)
	require.True(t, crypto.VerifySignature(key, hash[:], res.Signature[:]))

	snap, ok := signer.Snapshot()
	require.True(t, ok)
	require.Equal(t, session.StateReady, snap.State)
}

func TestManager_ReopenAfterLinkLoss(t *testing.T) {
	adapter := devicesim.NewAdapter(nil)
	device, err := devicesim.GenerateDevice(walletAddr)
	require.NoError(t, err)
	adapter.AddDevice(device)
	m := NewManagerWithLogger(adapter, session.DefaultConfig(), nil)
	t.Cleanup(func() { m.Shutdown() })
	ctx := testCtx(t)

	signer, err := m.Open(ctx, walletAddr)
	require.NoError(t, err)
	key, err := signer.PublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, device.PublicKey(), key)

	// A different wallet answers at the same address after the drop
	replacement, err := devicesim.GenerateDevice(walletAddr)
	require.NoError(t, err)
	adapter.DropLink(walletAddr)
	require.Eventually(t, func() bool {
		_, ok := m.Registry().SessionFor(walletAddr)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
	adapter.AddDevice(replacement)

	reopened, err := m.Open(ctx, walletAddr)
	require.NoError(t, err)
	require.NotSame(t, signer, reopened)
	require.Equal(t, 1, m.DeviceCount())

	key, err = reopened.PublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, replacement.PublicKey(), key)

	hash := sha256.Sum256([]byte("after reconnect"))
	res, err := reopened.SignHash(ctx, hash[:])
	require.NoError(t, err)
	require.True(t, crypto.VerifySignature(key, hash[:], res.Signature[:]))
}

func TestManager_ForgetsSignerOnDisconnect(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := testCtx(t)

	_, err := m.Open(ctx, walletAddr)
	require.NoError(t, err)
	require.NoError(t, m.Registry().Disconnect(walletAddr))

	require.Eventually(t, func() bool {
		_, ok := m.Signer(walletAddr)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
	require.Zero(t, m.DeviceCount())
}

func TestManager_OpenFailure(t *testing.T) {
	m, device := newTestManager(t)
	device.SetFaults(devicesim.Faults{FailConnect: true})

	_, err := m.Open(testCtx(t), walletAddr)
	require.ErrorIs(t, err, ErrOpenFailed)
	require.Zero(t, m.DeviceCount())

	device.SetFaults(devicesim.Faults{FailDiscovery: true})
	_, err = m.Open(testCtx(t), walletAddr)
	require.ErrorIs(t, err, ErrOpenFailed)
}

func TestManager_CloseAndShutdown(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := testCtx(t)

	_, err := m.Open(ctx, walletAddr)
	require.NoError(t, err)
	require.NoError(t, m.Close(walletAddr))
	_, ok := m.Signer(walletAddr)
	require.False(t, ok)

	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())
	_, err = m.Open(ctx, walletAddr)
	require.ErrorIs(t, err, ErrManagerClosed)
}

func TestDeviceSigner_SignTemplate(t *testing.T) {
	m, device := newTestManager(t)
	device.SetValues("7", "x")
	ctx := testCtx(t)

	signer, err := m.Open(ctx, walletAddr)
	require.NoError(t, err)

	res, text, err := signer.SignTemplate(ctx, "f({},{})")
	require.NoError(t, err)
	require.Equal(t, "f(7,x)", text)

	digest := sha256.Sum256([]byte(text))
	require.True(t, crypto.VerifySignature(device.PublicKey(), digest[:], res.Signature[:]))
}

func TestDeviceSigner_Wallet(t *testing.T) {
	m, device := newTestManager(t)
	device.SetValues("1")
	ctx := testCtx(t)

	signer, err := m.Open(ctx, walletAddr)
	require.NoError(t, err)

	pkh, err := txsign.PublicKeyHash(device.PublicKey())
	require.NoError(t, err)
	utxos := []txsign.Utxo{{TxID: []byte{0x0A}, VoutIndex: 0, Amount: big.NewInt(100), PubKeyHash: pkh}}

	tx, err := signer.Wallet().NewDeviceDataTransaction(ctx, txsign.TransferRequest{
		Utxos:    utxos,
		Amount:   big.NewInt(0),
		Contract: "set({})",
	})
	require.NoError(t, err)
	require.Equal(t, "set(1)", tx.Vout[0].Contract)
	require.True(t, txsign.VerifyInput(tx, 0, utxos[0], device.PublicKey()))
}

func TestCollector(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := testCtx(t)

	signer, err := m.Open(ctx, walletAddr)
	require.NoError(t, err)
	hash := sha256.Sum256([]byte("metrics"))
	_, err = signer.SignHash(ctx, hash[:])
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(m)))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	help := make(map[string]string)
	for _, f := range families {
		help[f.GetName()] = f.GetHelp()
		for _, metric := range f.GetMetric() {
			name := f.GetName()
			for _, l := range metric.GetLabel() {
				name += "/" + l.GetValue()
			}
			if c := metric.GetCounter(); c != nil {
				values[name] = c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				values[name] = g.GetValue()
			}
		}
	}

	require.Equal(t, float64(1), values["blesign_transport_frames_sent_total"])
	require.Equal(t, float64(1), values["blesign_session_requests_total/completed"])
	require.Equal(t, float64(1), values["blesign_session_sessions/Ready"])

	// One 36-byte request fits a single frame, accepted by one write-ack
	require.Equal(t, float64(1), values["blesign_transport_frames_accepted_total"])
	require.Contains(t, help["blesign_transport_frames_accepted_total"], "write-ack")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.name); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestUseZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	UseZapLogger(zap.New(core), LevelWarn)
	t.Cleanup(func() { SetLogLevel(LevelInfo) })

	log := DefaultLogger()
	log.Info("opened %s", walletAddr)
	log.Warn("link lost on %s", walletAddr)
	SyncLogger()

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "link lost on "+string(walletAddr), entries[0].Message)
}
