package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"avaneesh/blesign-go/pkg/blewallet"
	"avaneesh/blesign-go/pkg/config"
	"avaneesh/blesign-go/pkg/devicesim"
	"avaneesh/blesign-go/pkg/link"
)

const defaultSimAddress = "C4:4F:33:12:AB:01"

func newBridgeCmd() *cobra.Command {
	var metrics string

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve simulated signing devices over a QUIC bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			if metrics != "" {
				cfg.Bridge.MetricsAddress = metrics
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx, cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&metrics, "metrics", "", "serve Prometheus /metrics on this address")
	return cmd
}

func runBridge(ctx context.Context, cmd *cobra.Command, c config.Config) error {
	log := blewallet.DefaultLogger()

	devices := c.Devices
	if len(devices) == 0 {
		devices = []config.DeviceConfig{{Address: defaultSimAddress}}
	}

	sim := devicesim.NewAdapter(log)
	defer sim.Close()
	for _, dc := range devices {
		d, err := newSimDevice(dc)
		if err != nil {
			return err
		}
		d.SetLogger(log)
		sim.AddDevice(d)
		fmt.Fprintf(cmd.OutOrStdout(), "device %s public key %s\n", d.Address(), hexutil.Encode(d.PublicKey()))
	}

	qc := link.DefaultQUICConfig(c.Bridge.Address)
	qc.WriteTimeout = c.Bridge.WriteTimeout
	bridge, err := link.NewBridge(qc, sim, log)
	if err != nil {
		return err
	}
	defer bridge.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "bridge listening on %s\n", bridge.Addr())

	if c.Bridge.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(blewallet.NewBridgeCollector(bridge))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: c.Bridge.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server: %v", err)
			}
		}()
		defer srv.Close()
		log.Info("Serving metrics on %s/metrics", c.Bridge.MetricsAddress)
	}

	<-ctx.Done()
	log.Info("Bridge shutting down")
	return nil
}

func newSimDevice(dc config.DeviceConfig) (*devicesim.Device, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if dc.Key != "" {
		key, err = crypto.HexToECDSA(trimHexPrefix(dc.Key))
	} else {
		key, err = crypto.GenerateKey()
	}
	if err != nil {
		return nil, fmt.Errorf("device %s key: %w", dc.Address, err)
	}

	d := devicesim.NewDeviceWithConfig(link.Address(dc.Address), key, devicesim.Config{
		MaxMTU:            dc.MaxMTU,
		MaxReassemblySize: dc.MaxRequestSize,
	})
	if len(dc.Values) > 0 {
		d.SetValues(dc.Values...)
	}
	return d, nil
}
