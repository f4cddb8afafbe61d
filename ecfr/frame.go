package ecfr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Frame struct {
	Header    Header
	Datagrams []*Datagram
	buffer    []byte
}

func (f *Frame) Overlay(d []byte) (b []byte, err error) {
	b, err = f.Header.Overlay(d)
	if err != nil {
		return
	}

	dgbl := f.Header.FrameLength()
	if int(dgbl) > len(b) {
		err = errors.Errorf("frame expected %d bytes, only have %d", dgbl, len(b))
		return
	}
	b = b[:dgbl]

	f.Datagrams = f.Datagrams[:0]
	for {
		dg := &Datagram{}
		b, err = dg.Overlay(b)
		if err != nil {
			return
		}
		f.Datagrams = append(f.Datagrams, dg)

		if dg.Last() {
			break
		}
	}

	f.buffer = d

	return
}

func PointFrameTo(d []byte) (f Frame, err error) {
	if len(d) < FrameOverheadLen {
		err = errors.New("buffer too small to even contain frame header")
		return
	}

	d[0] = 0
	d[1] = 0
	_, err = f.Header.Overlay(d)
	if err != nil {
		return
	}
	f.Header.SetType(FrameTypeCommand)

	f.buffer = d

	return
}

func (f *Frame) Commit() (d []byte, err error) {
	var incbuf []byte
	totlen := 0

	if len(f.Datagrams) == 0 {
		err = errors.New("ecat frame needs at least one datagram")
		return
	}

	clen := f.ByteLen()
	if clen > len(f.buffer) {
		err = errors.Errorf("datagrams too long for frame, need %d, have %d", clen, len(f.buffer))
		return
	}

	f.Header.Word &^= lengthMask
	f.Header.Word |= uint16(clen-FrameOverheadLen) & lengthMask

	incbuf, err = f.Header.Commit()
	if err != nil {
		return
	}
	totlen += len(incbuf)

	for _, dgram := range f.Datagrams {
		incbuf, err = dgram.Commit()
		if err != nil {
			return
		}
		totlen += len(incbuf)
	}

	d = f.buffer[0:totlen]

	return
}

func (f *Frame) ByteLen() int {
	clen := FrameOverheadLen
	for _, dgram := range f.Datagrams {
		clen += dgram.ByteLen()
	}
	return clen
}

// NewDatagram appends a datagram with datalen bytes of payload. The previous
// last datagram gets its "more follows" flag set.
func (f *Frame) NewDatagram(datalen int) (*Datagram, error) {
	curlen := f.ByteLen()
	curfree := len(f.buffer) - curlen
	if datalen+DatagramOverheadLength > curfree {
		return nil, errors.Errorf("datagram with %d data bytes does not fit, %d bytes free", datalen, curfree)
	}

	dgram, err := PointDatagramTo(f.buffer[curlen:])
	if err != nil {
		return nil, err
	}

	err = dgram.SetDataLen(datalen)
	if err != nil {
		return nil, err
	}

	if n := len(f.Datagrams); n > 0 {
		f.Datagrams[n-1].SetLast(false)
	}
	dgram.SetLast(true)
	f.Datagrams = append(f.Datagrams, &dgram)

	return &dgram, nil
}

func (f *Frame) MultilineSummary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "frame len %d type %d\n", f.Header.FrameLength(), f.Header.Type())
	for _, dg := range f.Datagrams {
		sb.WriteString("  ")
		sb.WriteString(dg.Summary())
		sb.WriteString("\n")
	}
	return sb.String()
}
