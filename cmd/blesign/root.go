package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"avaneesh/blesign-go/pkg/blewallet"
	"avaneesh/blesign-go/pkg/config"
)

const (
	configFlag     = "config"
	logLevelFlag   = "log-level"
	frameDebugFlag = "frame-debug"
	bridgeFlag     = "bridge"
	timeoutFlag    = "timeout"
)

var (
	v   = config.New()
	cfg config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blesign",
	Short: "Sign with hardware wallets over a BLE bridge",
	Long: `blesign drives hardware signing devices through a QUIC bridge.

The bridge command serves simulated devices; the other commands connect to a
bridge, open one device and sign with it. Configuration is read from an
optional YAML file and BLESIGN_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString(configFlag)
		c, err := config.Load(v, path)
		if err != nil {
			return err
		}
		cfg = c
		blewallet.SetLogLevel(blewallet.ParseLogLevel(cfg.LogLevel))
		blewallet.EnableFrameDebug(cfg.FrameDebug)
		return nil
	},
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
		panic(err)
	}
}

// Execute adds all child commands to the root command and runs it
func Execute() {
	flags := rootCmd.PersistentFlags()
	flags.String(configFlag, "", "YAML config file")
	flags.String(logLevelFlag, "info", "log level (debug, info, warn, error)")
	flags.Bool(frameDebugFlag, false, "hex dump every frame and notification")
	flags.String(bridgeFlag, config.Default().Bridge.Address, "bridge address host:port")
	flags.Duration(timeoutFlag, config.Default().Timeout, "timeout of device operations")

	bindFlag(v, "log_level", rootCmd, logLevelFlag)
	bindFlag(v, "frame_debug", rootCmd, frameDebugFlag)
	bindFlag(v, "bridge.address", rootCmd, bridgeFlag)
	bindFlag(v, "timeout", rootCmd, timeoutFlag)

	rootCmd.AddCommand(
		newBridgeCmd(),
		newPubkeyCmd(),
		newSignHashCmd(),
		newSignContractCmd(),
	)

	err := rootCmd.Execute()
	blewallet.SyncLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
