//go:build darwin

package udp

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
)

// on darwin we filter out "can't assign requested address" errors. these happen
// when there is no link or when the interface has not yet been properly
// configured with IP addresses. the frame is lost, the cycle goes on.

func errorMask(err error) error {
	var oe *net.OpError
	if errors.As(err, &oe) {
		if se, ok := oe.Err.(syscall.Errno); ok {
			if se == syscall.EADDRNOTAVAIL {
				return nil
			}
		}
	}
	return err
}
