package ecfr

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	EtherTypeEtherCAT = 0x88a4
)

type ETHAddr [6]byte

var BroadcastETHAddr = ETHAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

type ETHFrame struct {
	Destination, Source ETHAddr
	Type                uint16

	UseVlan bool
	VLANTCI uint16

	framebuf []byte
}

// OverlayETHFrame points an Ethernet frame at fb. A nil or empty fb gets a
// buffer for a maximum size untagged frame. The payload starts out as large
// as the buffer allows.
func OverlayETHFrame(fb []byte) (*ETHFrame, error) {
	if len(fb) == 0 {
		fb = make([]byte, max_framelen_vlan)
	}

	if len(fb) < min_framelen_with_fcs {
		return nil, errors.Errorf("OverlayETHFrame: buffer too small, need at least %d bytes", min_framelen_with_fcs)
	}

	ef := &ETHFrame{Type: EtherTypeEtherCAT}

	// leave room for the FCS the NIC appends
	ef.framebuf = fb[:len(fb)-fcs_len]

	return ef, nil
}

// ParseETHFrame reads the header of a received frame.
func ParseETHFrame(fb []byte) (*ETHFrame, error) {
	if len(fb) < 14 {
		return nil, errors.Errorf("ParseETHFrame: %d bytes is shorter than an Ethernet header", len(fb))
	}
	ef := &ETHFrame{framebuf: fb}
	copy(ef.Destination[:], fb[0:6])
	copy(ef.Source[:], fb[6:12])
	ef.Type = binary.BigEndian.Uint16(fb[12:14])
	if ef.Type == 0x8100 {
		if len(fb) < 18 {
			return nil, errors.New("ParseETHFrame: truncated VLAN tag")
		}
		ef.UseVlan = true
		ef.VLANTCI = binary.BigEndian.Uint16(fb[14:16])
		ef.Type = binary.BigEndian.Uint16(fb[16:18])
	}
	return ef, nil
}

func (ef *ETHFrame) GetHeaderLen() int {
	vlanlen := 0
	if ef.UseVlan {
		vlanlen = 4
	}
	// dest, src, type, (vlan len)
	return 6 + 6 + 2 + vlanlen
}

// header contents will be undefined if you do not call WriteDown() before.
func (ef *ETHFrame) GetFrameBuf() []byte {
	return ef.framebuf
}

func (ef *ETHFrame) GetPayload() []byte {
	return ef.framebuf[ef.GetHeaderLen():]
}

func (ef *ETHFrame) SetPayloadLen(npl int) error {
	nl := npl + ef.GetHeaderLen()
	if nl < min_headerandpayload {
		return errors.Errorf("SetPayloadLen: payload too small, need at least %d bytes", min_headerandpayload-ef.GetHeaderLen())
	}

	maxnl := max_framelen_novlan
	if ef.UseVlan {
		maxnl = max_framelen_vlan
	}

	if nl > maxnl {
		return errors.Errorf("SetPayloadLen: payload too big, maximum for this configuration is %d bytes", maxnl-ef.GetHeaderLen())
	}

	if nl > cap(ef.framebuf)-fcs_len {
		return errors.Errorf("SetPayloadLen: payload too big for buffer, buffer can hold a %d bytes maximum", cap(ef.framebuf)-fcs_len-ef.GetHeaderLen())
	}

	ef.framebuf = ef.framebuf[0:nl]
	return nil
}

func (ef *ETHFrame) WriteDown() error {
	if ef.UseVlan {
		return errors.New("VLAN tags are not supported")
	}

	copy(ef.framebuf[0:6], ef.Destination[:])
	copy(ef.framebuf[6:12], ef.Source[:])
	binary.BigEndian.PutUint16(ef.framebuf[12:14], ef.Type)

	return nil
}

const (
	min_framelen_with_fcs = 64
	fcs_len               = 4
	min_headerandpayload  = min_framelen_with_fcs - fcs_len

	// excluding fcs
	max_framelen_novlan = 1514
	max_framelen_vlan   = 1518

	MinETHPayloadLen = min_headerandpayload - 14
)
