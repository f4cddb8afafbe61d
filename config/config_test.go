package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/distributed/ecatservo/cia402"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ecservo.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, &Config{}, cfg)
}

func TestLoadAndNormalize(t *testing.T) {
	p := writeFile(t, `
interface: eth1
transport: udp
log_level: debug
timing:
  cycle_period: 500us
  cycles: 42
drive:
  jog_step: 100
network:
  sync_slave: 0
`)

	cfg, err := Load(p)
	require.NoError(t, err)
	Normalize(cfg)
	require.NoError(t, Validate(cfg))

	require.Equal(t, "eth1", cfg.Interface)
	require.Equal(t, TransportUDP, cfg.Transport)
	require.Equal(t, 500*time.Microsecond, cfg.Timing.CyclePeriod)
	require.Equal(t, 42, cfg.Timing.Cycles)
	require.Equal(t, 2*time.Second, cfg.Timing.BaseTimeout)
	require.Equal(t, 700*time.Millisecond, cfg.Timing.SDOTimeout)
	require.EqualValues(t, 100, cfg.Drive.JogStep)

	opts := cfg.MasterOptions()
	require.Equal(t, 200, opts.OpPollAttempts)
	require.Equal(t, 10, opts.ObjectAttempts)
	require.Equal(t, cia402.ModeProfilePosition, opts.InitialMode)
	require.EqualValues(t, 0x200d, opts.ResetIndex)
	require.EqualValues(t, 2, opts.ResetSubindex)
	require.Equal(t, 1, opts.ResetSlave)

	ec := cfg.ECALConfig()
	require.Equal(t, 0, ec.SyncSlave)
	require.EqualValues(t, 0x1000, ec.Mailbox.OutStart)
	require.EqualValues(t, 0x1080, ec.Mailbox.InStart)
	require.EqualValues(t, 128, ec.Mailbox.InLen)
	require.Equal(t, 5*time.Millisecond, ec.SyncCycle)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := writeFile(t, "interface: eth0\ncycle_time: 1ms\n")
	_, err := Load(p)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvCycles, "7")
	t.Setenv(EnvCPU, "3")
	t.Setenv(EnvTransport, TransportSim)

	cfg := &Config{}
	require.NoError(t, ApplyEnv(cfg))
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, 7, cfg.Timing.Cycles)
	require.Equal(t, 3, *cfg.CPU)
	require.Equal(t, TransportSim, cfg.Transport)

	Normalize(cfg)
	require.NoError(t, Validate(cfg))
	require.Equal(t, 2, cfg.SimDrives)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	t.Setenv(EnvCycles, "many")
	require.Error(t, ApplyEnv(&Config{}))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Interface: "eth0"}
		Normalize(cfg)
		return cfg
	}
	require.NoError(t, Validate(valid()))

	cases := map[string]func(*Config){
		"no interface":      func(c *Config) { c.Interface = "" },
		"unknown transport": func(c *Config) { c.Transport = "can" },
		"bad level":         func(c *Config) { c.LogLevel = "loud" },
		"negative cpu":      func(c *Config) { n := -1; c.CPU = &n },
		"negative period":   func(c *Config) { c.Timing.CyclePeriod = -time.Millisecond },
		"reset slave":       func(c *Config) { c.Drive.ResetSlave = -2 },
		"small mailbox":     func(c *Config) { c.Network.MailboxLen = 8 },
		"mailbox overlap":   func(c *Config) { c.Network.MailboxIn = c.Network.MailboxOut + 64 },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		before := *cfg
		require.Error(t, Validate(cfg), name)
		require.Equal(t, before, *cfg, name)
	}
}

func TestParseLevelOff(t *testing.T) {
	_, err := ParseLevel("off")
	require.NoError(t, err)
	_, err = ParseLevel("OFF")
	require.NoError(t, err)
}
