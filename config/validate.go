package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/distributed/ecatservo/ecoe"
	"github.com/sirupsen/logrus"
)

// Validate checks a normalized configuration. It does not change it.
func Validate(cfg *Config) error {
	switch cfg.Transport {
	case TransportRaw, TransportUDP:
		if cfg.Interface == "" {
			return fmt.Errorf("transport %s needs an interface", cfg.Transport)
		}
	case TransportSim:
		if cfg.SimDrives <= 0 {
			return fmt.Errorf("sim_drives must be positive, have %d", cfg.SimDrives)
		}
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	if cfg.CPU != nil && *cfg.CPU < 0 {
		return fmt.Errorf("cpu must not be negative, have %d", *cfg.CPU)
	}

	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	t := cfg.Timing
	for name, d := range map[string]time.Duration{
		"base_timeout":     t.BaseTimeout,
		"cycle_period":     t.CyclePeriod,
		"exchange_timeout": t.ExchangeTimeout,
		"op_poll_interval": t.OpPollInterval,
		"sdo_timeout":      t.SDOTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("timing.%s must be positive", name)
		}
	}
	if t.Cycles < 0 {
		return fmt.Errorf("timing.cycles must not be negative, have %d", t.Cycles)
	}
	if t.OpPollAttempts <= 0 || t.SDOAttempts <= 0 {
		return fmt.Errorf("timing attempts must be positive")
	}

	if cfg.Drive.ResetSlave < 1 {
		return fmt.Errorf("drive.reset_slave counts from 1, have %d", cfg.Drive.ResetSlave)
	}

	n := cfg.Network
	if n.MailboxLen < ecoe.MailboxHeaderLen+ecoe.CoEHeaderLen+ecoe.SDOHeaderLen+4 {
		return fmt.Errorf("network.mailbox_len %d cannot hold an SDO request", n.MailboxLen)
	}
	if overlaps(n.MailboxOut, n.MailboxIn, n.MailboxLen) {
		return fmt.Errorf("network mailboxes %#04x and %#04x overlap", n.MailboxOut, n.MailboxIn)
	}
	if n.SyncSlave != nil && *n.SyncSlave < 0 {
		return fmt.Errorf("network.sync_slave must not be negative")
	}

	return nil
}

func overlaps(a, b, n uint16) bool {
	return int(a) < int(b)+int(n) && int(b) < int(a)+int(n)
}

// ParseLevel accepts the logrus level names and "off".
func ParseLevel(s string) (logrus.Level, error) {
	if strings.EqualFold(s, "off") {
		return logrus.PanicLevel, nil
	}
	l, err := logrus.ParseLevel(s)
	if err != nil {
		return l, fmt.Errorf("log_level: %v", err)
	}
	return l, nil
}
