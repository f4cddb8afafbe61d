package raw

import (
	"testing"
	"time"

	"github.com/distributed/ecatservo/ecfr"
	"github.com/stretchr/testify/require"
)

// wire is a link with the sent frames looped back, optionally answered by
// a slave that bumps every working counter.
type wire struct {
	sent   [][]byte
	queue  [][]byte
	answer bool
	closed bool
}

func (w *wire) send(b []byte) error {
	c := append([]byte(nil), b...)
	w.sent = append(w.sent, c)
	// the kernel hands our own frame back first
	w.queue = append(w.queue, c)
	if w.answer {
		a := append([]byte(nil), c...)
		a[6] |= 0x02
		if fr, ok := decode(a); ok {
			for _, dg := range fr.Datagrams {
				dg.WorkingCounter++
			}
			if _, err := fr.Commit(); err != nil {
				return err
			}
		}
		w.queue = append(w.queue, a)
	}
	return nil
}

func (w *wire) recv(b []byte, deadline time.Time) (int, bool, error) {
	if len(w.queue) == 0 {
		return 0, false, errTimeout
	}
	f := w.queue[0]
	w.queue = w.queue[1:]
	own := f[6]&0x02 == 0
	return copy(b, f), own, nil
}

func (w *wire) close() error {
	w.closed = true
	return nil
}

var hostMAC = ecfr.ETHAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

func TestCyclePadsAndAddresses(t *testing.T) {
	w := &wire{}
	f := newFramer(w, hostMAC, time.Millisecond)

	fr, err := f.New(ecfr.FrameOverheadLen)
	require.NoError(t, err)
	dg, err := fr.NewDatagram(2)
	require.NoError(t, err)
	dg.Command = ecfr.BRD

	in, err := f.Cycle()
	require.NoError(t, err)
	require.Empty(t, in)

	require.Len(t, w.sent, 1)
	b := w.sent[0]
	require.Len(t, b, 14+ecfr.MinETHPayloadLen)
	require.Equal(t, ecfr.BroadcastETHAddr[:], b[0:6])
	require.Equal(t, hostMAC[:], b[6:12])
	require.Equal(t, []byte{0x88, 0xa4}, b[12:14])
}

func TestCycleSkipsOwnFrames(t *testing.T) {
	w := &wire{answer: true}
	f := newFramer(w, hostMAC, time.Millisecond)

	for i := 0; i < 3; i++ {
		fr, err := f.New(ecfr.FrameOverheadLen)
		require.NoError(t, err)
		dg, err := fr.NewDatagram(200)
		require.NoError(t, err)
		dg.Command = ecfr.LRW
		dg.Index = uint8(i)
	}

	in, err := f.Cycle()
	require.NoError(t, err)
	require.Len(t, in, 3)
	for i, fr := range in {
		require.Len(t, fr.Datagrams, 1)
		require.EqualValues(t, i, fr.Datagrams[0].Index)
		require.EqualValues(t, 1, fr.Datagrams[0].WorkingCounter)
		require.EqualValues(t, 200, fr.Datagrams[0].DataLength())
	}

	require.NoError(t, f.Close())
	require.True(t, w.closed)
}

func TestDecodeDropsForeignFrames(t *testing.T) {
	b := make([]byte, 60)
	b[12], b[13] = 0x08, 0x00
	_, ok := decode(b)
	require.False(t, ok)

	_, ok = decode(b[:10])
	require.False(t, ok)
}
