package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"avaneesh/blesign-go/pkg/config"
)

func TestParseUtxos(t *testing.T) {
	pkh := bytes.Repeat([]byte{0x01}, 20)

	utxos, err := parseUtxos([]string{"0xabcd:1:500", "ef:0:7"}, pkh)
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	require.Equal(t, []byte{0xAB, 0xCD}, utxos[0].TxID)
	require.Equal(t, 1, utxos[0].VoutIndex)
	require.Equal(t, int64(500), utxos[0].Amount.Int64())
	require.Equal(t, pkh, utxos[1].PubKeyHash)

	for _, bad := range []string{"abcd:1", "zz:0:1", "ab:x:1", "ab:0:ten"} {
		_, err := parseUtxos([]string{bad}, pkh)
		require.Error(t, err, bad)
	}
}

func TestNewSimDevice(t *testing.T) {
	d, err := newSimDevice(config.DeviceConfig{
		Address: "C4:4F:33:12:AB:09",
		Key:     "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		Values:  []string{"5"},
		MaxMTU:  64,
	})
	require.NoError(t, err)
	require.Len(t, d.PublicKey(), 65)

	_, err = newSimDevice(config.DeviceConfig{Address: "x", Key: "nothex"})
	require.Error(t, err)
}
