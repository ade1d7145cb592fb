// Package config loads the bridge configuration file
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"avaneesh/dnp3-bridge/internal/logger"
	"avaneesh/dnp3-bridge/pkg/device"
	"avaneesh/dnp3-bridge/pkg/outstation"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file
type Config struct {
	Log         LogConfig          `yaml:"log"`
	Store       StoreConfig        `yaml:"store"`
	Session     SessionConfig      `yaml:"session"`
	UI          UIConfig           `yaml:"ui"`
	Outstations []OutstationConfig `yaml:"outstations"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // stderr when empty
	FrameDebug bool   `yaml:"frame_debug"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // persistence is disabled when empty
}

type SessionConfig struct {
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	EnableUnsolicited bool          `yaml:"enable_unsolicited"`
}

type UIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Refresh time.Duration `yaml:"refresh"`
}

// OutstationConfig seeds an outstation that is not in the store yet
type OutstationConfig struct {
	Name     string `yaml:"name"`
	Serial   bool   `yaml:"serial"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"` // tcp | udp | quic
	COMPort  string `yaml:"com_port"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   int    `yaml:"parity"`

	MasterAddress      uint16        `yaml:"master_address"`
	OutstationAddress  uint16        `yaml:"outstation_address"`
	EventPollInterval  time.Duration `yaml:"event_poll_interval"`
	StaticPollInterval time.Duration `yaml:"static_poll_interval"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info"},
		Store:   StoreConfig{Path: "dnp3-bridge.db"},
		Session: SessionConfig{ResponseTimeout: 5 * time.Second},
		UI:      UIConfig{Refresh: time.Second},
	}
}

// Load reads a YAML file over the defaults and validates it
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range cfg.Outstations {
		cfg.Outstations[i].applyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Session.ResponseTimeout <= 0 {
		return errors.New("session.response_timeout must be positive")
	}
	if c.UI.Refresh <= 0 {
		return errors.New("ui.refresh must be positive")
	}
	seen := make(map[string]bool)
	for _, o := range c.Outstations {
		if seen[o.Name] {
			return fmt.Errorf("outstation %q configured twice", o.Name)
		}
		seen[o.Name] = true
		cfg := o.Outstation()
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("outstation %q: %w", o.Name, err)
		}
	}
	return nil
}

func (o *OutstationConfig) applyDefaults() {
	if o.Serial {
		if o.BaudRate == 0 {
			o.BaudRate = 9600
		}
		if o.DataBits == 0 {
			o.DataBits = 8
		}
		if o.StopBits == 0 {
			o.StopBits = 1
		}
	} else {
		if o.Port == 0 {
			o.Port = 20000
		}
		if o.Protocol == "" {
			o.Protocol = device.ProtocolTCP
		}
	}
	if o.EventPollInterval == 0 {
		o.EventPollInterval = 5 * time.Second
	}
	if o.StaticPollInterval == 0 {
		o.StaticPollInterval = 25 * time.Second
	}
}

// Outstation converts the seed into an outstation configuration
func (o OutstationConfig) Outstation() outstation.Config {
	c := outstation.Config{
		Name:               o.Name,
		EventPollInterval:  uint64(o.EventPollInterval.Milliseconds()),
		StaticPollInterval: uint64(o.StaticPollInterval.Milliseconds()),
	}
	if o.Serial {
		c.Device.Serial = &device.SerialParams{
			Port:     o.COMPort,
			BaudRate: o.BaudRate,
			DataBits: o.DataBits,
			StopBits: o.StopBits,
			Parity:   o.Parity,
		}
	} else {
		c.Device.Network = &device.NetworkParams{Host: o.Host, Port: o.Port, Protocol: o.Protocol}
	}
	c.Device.MasterAddress = o.MasterAddress
	c.Device.OutstationAddress = o.OutstationAddress
	return c
}
