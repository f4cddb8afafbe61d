// Package udp carries EtherCAT frames in UDP datagrams to port 0x88a4, the
// encapsulation slaves with an IP stack in front of them understand.
package udp

import (
	"net"
	"time"

	"github.com/distributed/ecatservo/ecfr"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

const (
	EthercatUDPPort = 0x88a4
)

const (
	udpReceiveBuflen = 1500
	maxDatagramsLen  = 1470
)

type UDPFramer struct {
	oframes []*ecfr.Frame

	sock      *net.UDPConn
	mcsock    *ipv4.PacketConn
	group     net.IP
	iface     *net.Interface
	laddr     *net.UDPAddr
	groupaddr *net.UDPAddr
	timeout   time.Duration
}

// NewUDPFramer joins group on iface. Cycle collects answers for timeout
// after sending.
func NewUDPFramer(iface *net.Interface, group net.IP, timeout time.Duration) (f *UDPFramer, err error) {
	f = &UDPFramer{}
	f.group = group
	f.iface = iface
	f.timeout = timeout

	f.laddr = &net.UDPAddr{IP: net.IPv4zero, Port: EthercatUDPPort}
	f.groupaddr = &net.UDPAddr{IP: f.group, Port: EthercatUDPPort}

	f.sock, err = net.ListenUDP("udp4", f.laddr)
	if err != nil {
		return
	}

	f.mcsock = ipv4.NewPacketConn(f.sock)

	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	err = f.mcsock.SetMulticastInterface(f.iface)
	if err != nil {
		err = errors.Wrap(err, "set multicast interface")
		return
	}

	err = f.mcsock.JoinGroup(iface, &net.UDPAddr{IP: group})
	if err != nil {
		err = errors.Wrapf(err, "join %v", group)
		return
	}

	err = f.mcsock.SetMulticastLoopback(false)
	if err != nil {
		return
	}

	return
}

func (f *UDPFramer) SetTimeout(d time.Duration) {
	f.timeout = d
}

func (f *UDPFramer) New(maxdatalen int) (fr *ecfr.Frame, err error) {
	var vframe ecfr.Frame
	buf := make([]byte, maxDatagramsLen+ecfr.FrameOverheadLen)
	vframe, err = ecfr.PointFrameTo(buf)
	if err != nil {
		return
	}

	vframe.Header.SetType(1)

	fr = &vframe
	f.oframes = append(f.oframes, fr)
	return
}

func (f *UDPFramer) Cycle() (iframes []*ecfr.Frame, err error) {
	defer func() {
		f.oframes = nil
	}()

	var obytes []byte
	for _, oframe := range f.oframes {
		obytes, err = oframe.Commit()
		if err != nil {
			return
		}

		_, err = f.sock.WriteTo(obytes, f.groupaddr)
		err = errorMask(err)
		if err != nil {
			return
		}
	}

	err = f.sock.SetReadDeadline(time.Now().Add(f.timeout))
	if err != nil {
		return
	}

	rbuf := make([]byte, udpReceiveBuflen)
	for len(iframes) < len(f.oframes) {
		var n int
		n, _, err = f.sock.ReadFromUDP(rbuf)
		if isTimeout(err) {
			err = nil
			break
		}
		if err != nil {
			return
		}

		var fr ecfr.Frame
		_, err = fr.Overlay(rbuf[0:n])
		if err != nil {
			// discard malformed frames
			err = nil
			continue
		}

		iframes = append(iframes, &fr)
		rbuf = make([]byte, udpReceiveBuflen)
	}

	return
}

func (f *UDPFramer) Close() error {
	if f.mcsock != nil {
		f.mcsock.LeaveGroup(f.iface, &net.UDPAddr{IP: f.group})
	}
	if f.sock != nil {
		return f.sock.Close()
	}
	return nil
}

type timeouter interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
