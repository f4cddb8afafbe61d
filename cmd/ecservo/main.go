// Command ecservo brings a line of CiA-402 servo drives into operation and
// jogs them in cyclic synchronous position mode.
//
//	ecservo [-config file] [-esi file] [-sim N] <ifname>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/distributed/ecatservo/config"
	"github.com/distributed/ecatservo/cpupin"
	"github.com/distributed/ecatservo/ecal"
	"github.com/distributed/ecatservo/ecmd"
	"github.com/distributed/ecatservo/ll/raw"
	"github.com/distributed/ecatservo/ll/udp"
	"github.com/distributed/ecatservo/master"
	"github.com/distributed/ecatservo/raweni"
	"github.com/distributed/ecatservo/sim"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

const (
	exitOK    = 0
	exitRun   = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("ecservo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "YAML configuration file")
	esiPath := fs.String("esi", "", "ESI file describing the drives")
	simDrives := fs.Int("sim", 0, "run against `N` simulated drives")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: ecservo [-config file] [-esi file] [-sim N] <ifname>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(*cfgPath, fs.Arg(0), *simDrives)
	if err != nil {
		fmt.Fprintf(stderr, "ecservo: %v\n", err)
		return exitUsage
	}

	log := newLogger(cfg.LogLevel, stderr)

	opts := cfg.MasterOptions()
	ecfg := cfg.ECALConfig()
	var eci *raweni.EtherCATInfo
	if *esiPath != "" {
		eci, err = applyESI(*esiPath, &opts, &ecfg, log)
		if err != nil {
			log.WithError(err).Error("ESI")
			return exitUsage
		}
	}

	framer, err := openLink(cfg)
	if err != nil {
		log.WithError(err).WithField("transport", cfg.Transport).Error("open link layer")
		return exitRun
	}

	m := ecal.New(framer, ecfg, log)
	c := master.NewCoordinator(m, m.ObjectDictionary(), opts, log)

	var (
		t   tomb.Tomb
		rep master.Report
	)
	t.Go(func() (err error) {
		if cfg.CPU != nil {
			if err := cpupin.Pin(*cfg.CPU); err != nil {
				log.WithError(err).Warn("cyclic thread not pinned")
			} else if cpus, err := cpupin.Allowed(); err == nil {
				log.WithField("cpus", cpus).Debug("cyclic thread pinned")
			}
		} else {
			cpupin.Lock()
		}
		defer cpupin.Unlock()

		rep, err = c.Run(t.Context(nil))
		return
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case s := <-sigs:
		log.WithField("signal", s).Info("stopping")
		t.Kill(nil)
	case <-t.Dying():
	}
	err = t.Wait()

	log.WithFields(logrus.Fields{
		"run":          rep.RunID,
		"slaves":       rep.Slaves,
		"expected_wkc": rep.ExpectedWKC,
		"operational":  rep.Operational,
		"stragglers":   len(rep.Stragglers),
		"sdo_failures": rep.ObjectWriteFailures,
		"cycles":       rep.Stats.Cycles,
		"degraded":     rep.Stats.Degraded,
		"overruns":     rep.Stats.Overruns,
		"duration":     rep.Duration,
	}).Info("run finished")
	if eci != nil {
		describeSlaves(eci, m.Slaves(), log)
	}

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, master.ErrNoSlaves):
		log.WithError(err).Error("configuration failed")
	case errors.Is(err, master.ErrExchangeLost):
		log.WithError(err).Error("cyclic exchange lost")
	default:
		log.WithError(err).Error("run failed")
	}
	return exitRun
}

func loadConfig(path, ifname string, simDrives int) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err = config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if ifname != "" {
		cfg.Interface = ifname
	}
	if simDrives > 0 {
		cfg.Transport = config.TransportSim
		cfg.SimDrives = simDrives
	}

	config.Normalize(cfg)
	if err = config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(out)

	if strings.EqualFold(level, "off") {
		log.SetOutput(io.Discard)
		return log
	}
	if l, err := config.ParseLevel(level); err == nil {
		log.SetLevel(l)
	}
	return log
}

func openLink(cfg *config.Config) (ecmd.Framer, error) {
	switch cfg.Transport {
	case config.TransportSim:
		bus, _ := sim.NewDriveBus(cfg.SimDrives)
		return bus, nil
	case config.TransportUDP:
		iface, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, err
		}
		group := net.ParseIP(cfg.UDPGroup)
		if group == nil {
			return nil, errors.Errorf("bad multicast group %q", cfg.UDPGroup)
		}
		return udp.NewUDPFramer(iface, group, cfg.Network.FrameTimeout)
	}
	return raw.Open(cfg.Interface, cfg.Network.FrameTimeout)
}

// applyESI takes process data mapping and mailbox layout from the first
// device in the ESI file whose mapping fits the process image.
func applyESI(path string, opts *master.Options, ecfg *ecal.Config, log logrus.FieldLogger) (*raweni.EtherCATInfo, error) {
	eci, err := raweni.ReadEtherCATInfoFromFile(path)
	if err != nil {
		return nil, err
	}

	for _, d := range eci.Descriptions.Devices {
		tbl, err := d.Table()
		if err != nil {
			continue
		}
		if err = tbl.Verify(); err != nil {
			log.WithError(err).WithField("device", d.Type.Name).Debug("ESI mapping does not fit")
			continue
		}

		opts.Table = tbl
		if mbx, ok := d.Mailbox(); ok {
			ecfg.Mailbox = mbx
		}
		log.WithFields(logrus.Fields{
			"vendor":  eci.Vendor.Name,
			"device":  d.Type.Name,
			"product": fmt.Sprintf("%#08x", d.Type.ProductCode()),
		}).Info("using ESI device description")
		return &eci, nil
	}
	return nil, errors.Errorf("%s: no device with a usable process data mapping", path)
}

// describeSlaves reports which ESI device each configured slave identified
// as.
func describeSlaves(eci *raweni.EtherCATInfo, slaves []ecal.Slave, log logrus.FieldLogger) {
	for _, s := range slaves {
		l := log.WithFields(logrus.Fields{
			"slave":   s.Index,
			"product": fmt.Sprintf("%#08x", s.Identity.ProductCode),
		})
		if d, ok := eci.Find(s.Identity); ok {
			l.WithField("device", d.Type.Name).Info("slave described by ESI")
		} else {
			l.Warn("slave not described by ESI")
		}
	}
}
