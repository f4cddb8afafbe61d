package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/distributed/ecatservo/ecal"
	"github.com/distributed/ecatservo/ecoe"
	"github.com/distributed/ecatservo/master"
	"github.com/distributed/ecatservo/pdomap"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	TransportRaw = "raw"
	TransportUDP = "udp"
	TransportSim = "sim"
)

type Config struct {
	Interface string `yaml:"interface"`
	Transport string `yaml:"transport"`
	UDPGroup  string `yaml:"udp_group"`
	SimDrives int    `yaml:"sim_drives"`

	// pin the cyclic thread, opt-in
	CPU *int `yaml:"cpu"`

	LogLevel string `yaml:"log_level"`

	Timing  TimingConfig  `yaml:"timing"`
	Drive   DriveConfig   `yaml:"drive"`
	Network NetworkConfig `yaml:"network"`

	StrictTransitions bool `yaml:"strict_transitions"`
}

// ---- TIMING ----

type TimingConfig struct {
	BaseTimeout     time.Duration `yaml:"base_timeout"`
	CyclePeriod     time.Duration `yaml:"cycle_period"`
	Cycles          int           `yaml:"cycles"`
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
	OpPollAttempts  int           `yaml:"op_poll_attempts"`
	OpPollInterval  time.Duration `yaml:"op_poll_interval"`
	SDOTimeout      time.Duration `yaml:"sdo_timeout"`
	SDOAttempts     int           `yaml:"sdo_attempts"`
}

// ---- DRIVE ----

type DriveConfig struct {
	JogStep       int32  `yaml:"jog_step"`
	InitialMode   int8   `yaml:"initial_mode"`
	ResetSlave    int    `yaml:"reset_slave"`
	ResetIndex    uint16 `yaml:"reset_index"`
	ResetSubindex uint8  `yaml:"reset_subindex"`
}

// ---- NETWORK ----

type NetworkConfig struct {
	LogicalBase  uint32        `yaml:"logical_base"`
	MailboxOut   uint16        `yaml:"mailbox_out"`
	MailboxIn    uint16        `yaml:"mailbox_in"`
	MailboxLen   uint16        `yaml:"mailbox_len"`
	FrameTimeout time.Duration `yaml:"frame_timeout"`
	SyncSlave    *int          `yaml:"sync_slave"`
	SyncCycle    time.Duration `yaml:"sync_cycle"`
}

// Load reads the YAML file at path. An empty path yields an empty
// configuration. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// MasterOptions turns the configuration into coordinator options.
func (c *Config) MasterOptions() master.Options {
	return master.Options{
		BaseTimeout:       c.Timing.BaseTimeout,
		CyclePeriod:       c.Timing.CyclePeriod,
		Cycles:            c.Timing.Cycles,
		ExchangeTimeout:   c.Timing.ExchangeTimeout,
		OpPollAttempts:    c.Timing.OpPollAttempts,
		OpPollInterval:    c.Timing.OpPollInterval,
		ObjectAttempts:    c.Timing.SDOAttempts,
		ObjectTimeout:     c.Timing.SDOTimeout,
		ResetSlave:        c.Drive.ResetSlave,
		ResetIndex:        c.Drive.ResetIndex,
		ResetSubindex:     c.Drive.ResetSubindex,
		InitialMode:       cia402.Mode(c.Drive.InitialMode),
		JogStep:           c.Drive.JogStep,
		StrictTransitions: c.StrictTransitions,
		Table:             pdomap.CSP,
	}
}

// ECALConfig is the network part of the configuration.
func (c *Config) ECALConfig() ecal.Config {
	cfg := ecal.Config{
		LogicalBase: c.Network.LogicalBase,
		Mailbox: ecoe.Mailbox{
			OutStart: c.Network.MailboxOut,
			OutLen:   c.Network.MailboxLen,
			InStart:  c.Network.MailboxIn,
			InLen:    c.Network.MailboxLen,
		},
		FrameTimeout:      c.Network.FrameTimeout,
		StatePollInterval: ecal.DefaultConfig.StatePollInterval,
		SyncCycle:         c.Network.SyncCycle,
	}
	if c.Network.SyncSlave != nil {
		cfg.SyncSlave = *c.Network.SyncSlave
	}
	return cfg
}
