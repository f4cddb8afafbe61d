// Package raw sends EtherCAT frames directly in Ethernet frames of type
// 0x88a4, the way a master on a dedicated port does.
package raw

import (
	"time"

	"github.com/distributed/ecatservo/ecfr"
	"github.com/pkg/errors"
)

const recvBuflen = 1518

var errTimeout = errors.New("receive timeout")

// packetConn moves whole Ethernet frames.
type packetConn interface {
	send(b []byte) error
	// recv reads one frame. own is set for frames this host sent.
	recv(b []byte, deadline time.Time) (n int, own bool, err error)
	close() error
}

type outFrame struct {
	eth *ecfr.ETHFrame
	fr  *ecfr.Frame
}

// Framer implements ecmd.Framer over a raw Ethernet socket.
type Framer struct {
	conn    packetConn
	src     ecfr.ETHAddr
	timeout time.Duration
	oframes []outFrame
}

func newFramer(conn packetConn, src ecfr.ETHAddr, timeout time.Duration) *Framer {
	return &Framer{conn: conn, src: src, timeout: timeout}
}

func (f *Framer) SetTimeout(d time.Duration) {
	f.timeout = d
}

func (f *Framer) New(maxdatalen int) (fr *ecfr.Frame, err error) {
	eth, err := ecfr.OverlayETHFrame(nil)
	if err != nil {
		return
	}
	eth.Destination = ecfr.BroadcastETHAddr
	eth.Source = f.src

	var vframe ecfr.Frame
	vframe, err = ecfr.PointFrameTo(eth.GetPayload())
	if err != nil {
		return
	}

	fr = &vframe
	f.oframes = append(f.oframes, outFrame{eth, fr})
	return
}

func (f *Framer) Cycle() (iframes []*ecfr.Frame, err error) {
	defer func() {
		f.oframes = nil
	}()

	for _, o := range f.oframes {
		var b []byte
		b, err = o.fr.Commit()
		if err != nil {
			return
		}

		n := len(b)
		if n < ecfr.MinETHPayloadLen {
			// the rest of a fresh buffer is zero
			n = ecfr.MinETHPayloadLen
		}
		if err = o.eth.SetPayloadLen(n); err != nil {
			return
		}
		if err = o.eth.WriteDown(); err != nil {
			return
		}
		if err = f.conn.send(o.eth.GetFrameBuf()); err != nil {
			err = errors.Wrap(err, "send")
			return
		}
	}

	deadline := time.Now().Add(f.timeout)
	for len(iframes) < len(f.oframes) {
		buf := make([]byte, recvBuflen)
		n, own, rerr := f.conn.recv(buf, deadline)
		if rerr == errTimeout {
			break
		}
		if rerr != nil {
			err = errors.Wrap(rerr, "receive")
			return
		}
		if own {
			continue
		}

		if fr, ok := decode(buf[:n]); ok {
			iframes = append(iframes, fr)
		}
	}

	return
}

// decode picks the EtherCAT frame out of an Ethernet frame. Anything else
// is dropped.
func decode(b []byte) (*ecfr.Frame, bool) {
	eth, err := ecfr.ParseETHFrame(b)
	if err != nil || eth.Type != ecfr.EtherTypeEtherCAT {
		return nil, false
	}

	fr := new(ecfr.Frame)
	if _, err = fr.Overlay(eth.GetPayload()); err != nil {
		return nil, false
	}
	return fr, true
}

func (f *Framer) Close() error {
	return f.conn.close()
}
