package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"avaneesh/blesign-go/pkg/frame"
	"avaneesh/blesign-go/pkg/session"
)

// EnvPrefix prefixes every environment override, e.g. BLESIGN_BRIDGE_ADDRESS
const EnvPrefix = "BLESIGN"

// Config is the file and environment configuration of the blesign CLI
type Config struct {
	LogLevel   string        `mapstructure:"log_level"`
	FrameDebug bool          `mapstructure:"frame_debug"`
	Timeout    time.Duration `mapstructure:"timeout"`

	Bridge  BridgeConfig   `mapstructure:"bridge"`
	Session SessionConfig  `mapstructure:"session"`
	Devices []DeviceConfig `mapstructure:"devices"`
}

// BridgeConfig configures the QUIC bridge on both ends
type BridgeConfig struct {
	Address        string        `mapstructure:"address"`
	MetricsAddress string        `mapstructure:"metrics_address"` // Empty disables /metrics
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// SessionConfig configures device sessions
type SessionConfig struct {
	MTU          int  `mapstructure:"mtu"`
	LinkCapacity int  `mapstructure:"link_capacity"` // 0 uses the negotiated MTU
	Statistics   bool `mapstructure:"statistics"`
}

// DeviceConfig describes one simulated device served by the bridge
type DeviceConfig struct {
	Address string   `mapstructure:"address"`
	Key     string   `mapstructure:"key"` // Hex secp256k1 private key; empty generates one
	Values  []string `mapstructure:"values"`
	MaxMTU  int      `mapstructure:"max_mtu"`

	// MaxRequestSize caps the request payload the device reassembles; 0 is the protocol maximum
	MaxRequestSize int `mapstructure:"max_request_size"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		LogLevel: "info",
		Timeout:  30 * time.Second,
		Bridge: BridgeConfig{
			Address:      "127.0.0.1:4690",
			WriteTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			MTU:          frame.DefaultMTU,
			LinkCapacity: frame.DefaultCapacity,
			Statistics:   true,
		},
	}
}

// SessionConfig converts the session section to a session.Config
func (c Config) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.MTU = c.Session.MTU
	sc.Transport.LinkCapacity = c.Session.LinkCapacity
	sc.Transport.EnableStatistics = c.Session.Statistics
	return sc
}

// Validate checks values viper cannot type-check
func (c Config) Validate() error {
	if c.Bridge.Address == "" {
		return fmt.Errorf("bridge.address is required")
	}
	if c.Session.MTU <= frame.HeaderSize {
		return fmt.Errorf("session.mtu %d must exceed the %d byte frame header", c.Session.MTU, frame.HeaderSize)
	}
	if c.Session.LinkCapacity != 0 && c.Session.LinkCapacity <= frame.HeaderSize {
		return fmt.Errorf("session.link_capacity %d must be 0 or exceed %d", c.Session.LinkCapacity, frame.HeaderSize)
	}
	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Address == "" {
			return fmt.Errorf("devices[%d].address is required", i)
		}
		if seen[d.Address] {
			return fmt.Errorf("device %s listed twice", d.Address)
		}
		seen[d.Address] = true
		if d.MaxRequestSize < 0 || d.MaxRequestSize > frame.MaxPayloadSize {
			return fmt.Errorf("device %s max_request_size %d out of range", d.Address, d.MaxRequestSize)
		}
	}
	return nil
}

// New returns a viper instance with defaults and BLESIGN_* environment
// overrides registered
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("frame_debug", d.FrameDebug)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("bridge.address", d.Bridge.Address)
	v.SetDefault("bridge.metrics_address", d.Bridge.MetricsAddress)
	v.SetDefault("bridge.write_timeout", d.Bridge.WriteTimeout)
	v.SetDefault("session.mtu", d.Session.MTU)
	v.SetDefault("session.link_capacity", d.Session.LinkCapacity)
	v.SetDefault("session.statistics", d.Session.Statistics)
	return v
}

// Load reads path (if not empty) into v and decodes the result
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
