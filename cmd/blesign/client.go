package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"avaneesh/blesign-go/pkg/blewallet"
	"avaneesh/blesign-go/pkg/link"
)

const deviceFlag = "device"

func addDeviceFlag(cmd *cobra.Command) {
	cmd.Flags().String(deviceFlag, defaultSimAddress, "device address")
}

func trimHexPrefix(s string) string {
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}

// withSigner dials the bridge, opens the device named by --device and runs fn
func withSigner(cmd *cobra.Command, fn func(ctx context.Context, s *blewallet.DeviceSigner) error) error {
	addr, _ := cmd.Flags().GetString(deviceFlag)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()

	qc := link.DefaultQUICConfig(cfg.Bridge.Address)
	qc.WriteTimeout = cfg.Bridge.WriteTimeout
	adapter, err := link.DialQUIC(ctx, qc, blewallet.DefaultLogger())
	if err != nil {
		return err
	}

	m := blewallet.NewManager(adapter, cfg.SessionConfig())
	defer m.Shutdown()

	signer, err := m.Open(ctx, link.Address(addr))
	if err != nil {
		return fmt.Errorf("open %s: %w", addr, err)
	}
	return fn(ctx, signer)
}
