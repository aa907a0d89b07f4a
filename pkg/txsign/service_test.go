package txsign_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"avaneesh/blesign-go/pkg/devicesim"
	"avaneesh/blesign-go/pkg/link"
	"avaneesh/blesign-go/pkg/session"
	"avaneesh/blesign-go/pkg/txsign"
)

const deviceAddr link.Address = "C4:4F:33:12:AB:02"

// registryDevice binds a registry session to txsign.Device
type registryDevice struct {
	reg  *session.Registry
	addr link.Address
}

func (d *registryDevice) PublicKey(ctx context.Context) ([]byte, error) {
	return d.reg.ReadPublicKey(d.addr).Wait(ctx)
}

func (d *registryDevice) SignHash(ctx context.Context, hash []byte) (session.SignResult, error) {
	return d.reg.SignHash(d.addr, hash).Wait(ctx)
}

func (d *registryDevice) SignWithDeviceData(ctx context.Context, inputs []txsign.DeviceInput) (session.SignResult, error) {
	return d.reg.SignWithDeviceData(d.addr, inputs).Wait(ctx)
}

func newSignedSetup(t *testing.T) (*txsign.Service, *devicesim.Device, context.Context) {
	t.Helper()

	adapter := devicesim.NewAdapter(nil)
	device, err := devicesim.GenerateDevice(deviceAddr)
	require.NoError(t, err)
	adapter.AddDevice(device)

	reg := session.NewRegistry(adapter, session.DefaultConfig(), nil)
	t.Cleanup(func() {
		reg.Close()
		adapter.Close()
	})

	ready := make(chan struct{}, 1)
	reg.AddStatusListener(func(status session.Status, addr link.Address) {
		switch status {
		case session.StatusConnected:
			reg.Initialize(addr)
		case session.StatusInitialized:
			ready <- struct{}{}
		}
	})
	require.NoError(t, reg.Connect(deviceAddr))

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for device")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return txsign.NewService(&registryDevice{reg: reg, addr: deviceAddr}, nil), device, ctx
}

func deviceUtxos(t *testing.T, pub []byte, amounts ...int64) []txsign.Utxo {
	pkh, err := txsign.PublicKeyHash(pub)
	require.NoError(t, err)

	var utxos []txsign.Utxo
	for i, a := range amounts {
		utxos = append(utxos, txsign.Utxo{
			TxID:       []byte{byte(i + 1), 0xEE},
			VoutIndex:  i,
			Amount:     big.NewInt(a),
			PubKeyHash: pkh,
		})
	}
	return utxos
}

func TestService_NewTransaction(t *testing.T) {
	svc, device, ctx := newSignedSetup(t)
	utxos := deviceUtxos(t, device.PublicKey(), 300, 300, 400)

	tx, err := svc.NewTransaction(ctx, txsign.TransferRequest{
		Utxos:  utxos,
		To:     "0x00000000000000000000000000000000000000b0",
		Amount: big.NewInt(850),
		Tip:    big.NewInt(5),
	})
	require.NoError(t, err)
	require.Len(t, tx.Vin, 3)
	require.Equal(t, tx.Hash(), tx.ID)

	for i := range tx.Vin {
		require.True(t, txsign.VerifyInput(tx, i, utxos[i], device.PublicKey()), "input %d", i)
	}
	require.False(t, txsign.VerifyInput(tx, 0, utxos[1], device.PublicKey()))
	require.Len(t, device.Requests(), 3)
}

func TestService_NewDeviceDataTransaction(t *testing.T) {
	svc, device, ctx := newSignedSetup(t)
	device.SetValues("1700000000")
	utxos := deviceUtxos(t, device.PublicKey(), 1000, 50)

	tx, err := svc.NewDeviceDataTransaction(ctx, txsign.TransferRequest{
		Utxos:    utxos,
		Amount:   big.NewInt(0),
		Contract: "'use strict'; record({})",
		GasLimit: big.NewInt(200),
		GasPrice: big.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, "'use strict'; record(1700000000)", tx.Vout[0].Contract)
	require.Equal(t, tx.Hash(), tx.ID)

	for i := range tx.Vin {
		require.True(t, txsign.VerifyInput(tx, i, utxos[i], device.PublicKey()), "input %d", i)
	}
	require.Len(t, device.Requests(), 2)
}

func TestService_MissingUtxo(t *testing.T) {
	svc, device, ctx := newSignedSetup(t)
	utxos := deviceUtxos(t, device.PublicKey(), 100)

	tx, err := txsign.NewTransaction(device.PublicKey(), txsign.TransferRequest{
		Utxos:  utxos,
		To:     "0x00000000000000000000000000000000000000b0",
		Amount: big.NewInt(10),
	})
	require.NoError(t, err)

	err = svc.Sign(ctx, tx, nil)
	require.ErrorIs(t, err, txsign.ErrUtxoNotFound)
}

func TestService_SigningErrorWrapped(t *testing.T) {
	svc, device, ctx := newSignedSetup(t)
	utxos := deviceUtxos(t, device.PublicKey(), 100)

	tx, err := txsign.NewTransaction(device.PublicKey(), txsign.TransferRequest{
		Utxos:  utxos,
		To:     "0x00000000000000000000000000000000000000b0",
		Amount: big.NewInt(10),
	})
	require.NoError(t, err)

	device.SetFaults(devicesim.Faults{SigningError: 9})
	err = svc.Sign(ctx, tx, utxos)
	require.Error(t, err)
	code, ok := session.IsSigningError(err)
	require.True(t, ok)
	require.Equal(t, uint16(9), code)
	require.Contains(t, err.Error(), "failed to sign input 0")
}
