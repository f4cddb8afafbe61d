//go:build !linux

package raw

import (
	"time"

	"github.com/pkg/errors"
)

func Open(ifname string, timeout time.Duration) (*Framer, error) {
	return nil, errors.New("raw Ethernet needs linux, use the udp transport")
}
