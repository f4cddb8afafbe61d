package config

import (
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/distributed/ecatservo/ecal"
	"github.com/distributed/ecatservo/pdomap"
)

// Normalize fills everything left at its zero value with the default.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Transport == "" {
		cfg.Transport = TransportRaw
	}
	if cfg.UDPGroup == "" {
		cfg.UDPGroup = "239.255.136.164"
	}
	if cfg.Transport == TransportSim && cfg.SimDrives == 0 {
		cfg.SimDrives = 2
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	t := &cfg.Timing
	setDuration(&t.BaseTimeout, 2*time.Second)
	setDuration(&t.CyclePeriod, time.Millisecond)
	setInt(&t.Cycles, 10000)
	setDuration(&t.ExchangeTimeout, 2*time.Millisecond)
	setInt(&t.OpPollAttempts, 200)
	setDuration(&t.OpPollInterval, 2*time.Millisecond)
	setDuration(&t.SDOTimeout, pdomap.DefaultTimeout)
	setInt(&t.SDOAttempts, pdomap.DefaultAttempts)

	d := &cfg.Drive
	if d.JogStep == 0 {
		d.JogStep = cia402.DefaultJogStep
	}
	if d.InitialMode == 0 {
		d.InitialMode = int8(cia402.ModeProfilePosition)
	}
	setInt(&d.ResetSlave, 1)
	if d.ResetIndex == 0 {
		d.ResetIndex = 0x200d
		d.ResetSubindex = 0x02
	}

	n := &cfg.Network
	def := ecal.DefaultConfig
	if n.LogicalBase == 0 {
		n.LogicalBase = def.LogicalBase
	}
	if n.MailboxOut == 0 {
		n.MailboxOut = def.Mailbox.OutStart
	}
	if n.MailboxIn == 0 {
		n.MailboxIn = def.Mailbox.InStart
	}
	if n.MailboxLen == 0 {
		n.MailboxLen = def.Mailbox.OutLen
	}
	setDuration(&n.FrameTimeout, def.FrameTimeout)
	if n.SyncSlave == nil {
		s := def.SyncSlave
		n.SyncSlave = &s
	}
	setDuration(&n.SyncCycle, def.SyncCycle)
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setInt(n *int, def int) {
	if *n == 0 {
		*n = def
	}
}
