package sim

import (
	"github.com/distributed/ecatservo/ecee"
	"github.com/distributed/ecatservo/ecfr"
)

const (
	maxDatagramsLen = 1470
)

// L2Bus passes frames through a line of simulated slaves. It implements
// ecmd.Framer.
type L2Bus struct {
	oframes []*ecfr.Frame

	Slaves []FrameProcessor

	// Lose, if set, is asked for every frame; returning true drops the
	// frame on its way back to the master.
	Lose func(frame *ecfr.Frame) bool

	Cycles int
}

func (b *L2Bus) New(maxdatalen int) (fr *ecfr.Frame, err error) {
	var vframe ecfr.Frame
	buf := make([]byte, maxDatagramsLen+ecfr.FrameOverheadLen)
	vframe, err = ecfr.PointFrameTo(buf)
	if err != nil {
		return
	}

	fr = &vframe
	b.oframes = append(b.oframes, fr)
	return
}

func (b *L2Bus) Cycle() (iframes []*ecfr.Frame, err error) {
	defer func() {
		b.oframes = nil
	}()
	b.Cycles++

	for _, oframe := range b.oframes {
		var obytes []byte

		obytes, err = oframe.Commit()
		if err != nil {
			return
		}

		// slaves work on a copy, like on the wire
		coframe := new(ecfr.Frame)
		cbytes := make([]byte, len(obytes))
		copy(cbytes, obytes)
		_, err = coframe.Overlay(cbytes)
		if err != nil {
			return
		}

		for _, slave := range b.Slaves {
			coframe = slave.ProcessFrame(coframe)
			if coframe == nil {
				break
			}
		}

		if coframe == nil || (b.Lose != nil && b.Lose(coframe)) {
			continue
		}
		iframes = append(iframes, coframe)
	}

	return
}

func (b *L2Bus) Close() error { return nil }

// NewDriveBus builds a bus of n CiA-402 drives. Drive k starts at actual
// position k*100000 and carries a distinct serial number.
func NewDriveBus(n int) (*L2Bus, []*Drive) {
	b := &L2Bus{}
	drives := make([]*Drive, n)
	for k := 0; k < n; k++ {
		drives[k] = NewDrive(int32(k+1) * 100000)
		s := NewL2Slave(drives[k])
		s.EEPROM.SetIdentity(ecee.Identity{
			VendorID:    0x00100000,
			ProductCode: 0x000c0108,
			Revision:    0x00010000,
			Serial:      uint32(k + 1),
		})
		b.Slaves = append(b.Slaves, s)
	}
	return b, drives
}
