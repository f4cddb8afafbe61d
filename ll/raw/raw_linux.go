//go:build linux

package raw

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/distributed/ecatservo/ecfr"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type afPacket struct {
	fd int
}

// htons returns v in network byte order as seen by a native uint16.
func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

// Open binds an AF_PACKET socket to the interface ifname. It needs
// CAP_NET_RAW.
func Open(ifname string, timeout time.Duration) (*Framer, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, err
	}

	proto := htons(ecfr.EtherTypeEtherCAT)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, errors.Wrap(err, "packet socket")
	}

	err = unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: iface.Index})
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind to %s", ifname)
	}

	var src ecfr.ETHAddr
	if copy(src[:], iface.HardwareAddr) != len(src) {
		// locally administered
		src = ecfr.ETHAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	}

	return newFramer(&afPacket{fd}, src, timeout), nil
}

func (c *afPacket) send(b []byte) error {
	_, err := unix.Write(c.fd, b)
	return err
}

func (c *afPacket) recv(b []byte, deadline time.Time) (int, bool, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, false, errTimeout
		}
		ms := int(remaining.Milliseconds())
		if ms <= 0 {
			ms = 1
		}

		pfd := []unix.PollFd{{
			Fd:     int32(c.fd),
			Events: unix.POLLIN,
		}}
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		if n == 0 {
			return 0, false, errTimeout
		}

		n, from, err := unix.Recvfrom(c.fd, b, 0)
		if err != nil {
			return 0, false, err
		}
		own := false
		if sll, ok := from.(*unix.SockaddrLinklayer); ok {
			own = sll.Pkttype == unix.PACKET_OUTGOING
		}
		return n, own, nil
	}
}

func (c *afPacket) close() error {
	return unix.Close(c.fd)
}
