package ecoe_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecal"
	"github.com/distributed/ecatservo/ecfr"
	"github.com/distributed/ecatservo/ecmd"
	"github.com/distributed/ecatservo/ecoe"
	"github.com/distributed/ecatservo/sim"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const timeout = 50 * time.Millisecond

func newClient(t *testing.T, mbx ecoe.Mailbox) (*ecoe.Client, *ecal.Master, []*sim.Drive) {
	t.Helper()
	log, _ := test.NewNullLogger()
	bus, ds := sim.NewDriveBus(2)
	cfg := ecal.DefaultConfig
	cfg.StatePollInterval = 0
	m := ecal.New(bus, cfg, log)

	_, err := m.Configure()
	require.NoError(t, err)

	cl := ecoe.NewClient(m.Commander(), mbx, m.Station, log)
	cl.PollInterval = 0
	return cl, m, ds
}

func TestClientRead(t *testing.T) {
	cl, _, _ := newClient(t, ecoe.DefaultMailbox)

	d, ack, err := cl.Read(1, 0x1000, 0, timeout)
	require.NoError(t, err)
	require.Equal(t, 1, ack)
	require.EqualValues(t, 0x00020192, binary.LittleEndian.Uint32(d))

	d, ack, err = cl.Read(2, 0x6064, 0, timeout)
	require.NoError(t, err)
	require.Equal(t, 1, ack)
	require.EqualValues(t, 200000, int32(binary.LittleEndian.Uint32(d)))
}

func TestClientCounterWraps(t *testing.T) {
	cl, _, ds := newClient(t, ecoe.DefaultMailbox)

	for i := 0; i < 10; i++ {
		mode := []byte{uint8(i)}
		_, err := cl.Write(1, 0x6060, 0, mode, timeout)
		require.NoError(t, err)
		require.Equal(t, mode, ds[0].Object(0x6060, 0))
	}
}

func TestClientAborts(t *testing.T) {
	cl, _, _ := newClient(t, ecoe.DefaultMailbox)

	for _, tc := range []struct {
		index    uint16
		subindex uint8
		data     []byte
		code     uint32
	}{
		{0x5000, 0, []byte{1}, ecoe.AbortObjectMissing},
		{0x200d, 7, []byte{1, 0}, ecoe.AbortSubindexMissing},
		{0x1000, 0, []byte{1, 2, 3, 4}, ecoe.AbortWriteReadOnly},
		{0x6060, 0, []byte{1, 0}, ecoe.AbortLengthMismatch},
		// PDO assignment only changes in PRE-OP
		{0x1c12, 0, []byte{1}, ecoe.AbortDeviceState},
	} {
		ack, err := cl.Write(1, tc.index, tc.subindex, tc.data, timeout)
		require.Equal(t, 0, ack)

		var ab *ecoe.AbortError
		require.True(t, errors.As(err, &ab), "%04x:%02x: %v", tc.index, tc.subindex, err)
		require.EqualValues(t, tc.code, ab.Code)
		require.Equal(t, tc.index, ab.Index)
	}
}

func TestClientPDOAssignmentInPreOp(t *testing.T) {
	cl, m, ds := newClient(t, ecoe.DefaultMailbox)
	require.NoError(t, m.RequestState(0, ecad.StatePreOp))

	// entries are locked while the count is set
	_, err := cl.Write(1, 0x1600, 0, []byte{0}, timeout)
	require.NoError(t, err)
	_, err = cl.Write(1, 0x1600, 1, []byte{0x20, 0x00, 0x7a, 0x60}, timeout)
	require.NoError(t, err)
	_, err = cl.Write(1, 0x1600, 0, []byte{1}, timeout)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, ds[0].Object(0x1600, 0))

	_, err = cl.Write(1, 0x1600, 1, []byte{0x10, 0x00, 0x40, 0x60}, timeout)
	var ab *ecoe.AbortError
	require.True(t, errors.As(err, &ab))
	require.EqualValues(t, ecoe.AbortDeviceState, ab.Code)

	// 0x6041 is an input, it does not map into an output PDO
	_, err = cl.Write(1, 0x1600, 0, []byte{0}, timeout)
	require.NoError(t, err)
	_, err = cl.Write(1, 0x1600, 1, []byte{0x10, 0x00, 0x41, 0x60}, timeout)
	require.NoError(t, err)
	_, err = cl.Write(1, 0x1600, 0, []byte{1}, timeout)
	require.True(t, errors.As(err, &ab))
	require.EqualValues(t, ecoe.AbortParameterMismatch, ab.Code)
}

func TestClientDropsStaleResponse(t *testing.T) {
	cl, m, _ := newClient(t, ecoe.DefaultMailbox)

	// a request nobody collects the answer of
	req := ecoe.UploadRequest(0x1000, 0)
	buf := make([]byte, ecoe.DefaultMailbox.OutLen)
	_, err := req.MarshalTo(buf)
	require.NoError(t, err)
	err = ecmd.ExecuteWrite(m.Commander(), ecfr.FixedAddress(m.Station(1), ecoe.DefaultMailbox.OutStart), buf, 1)
	require.NoError(t, err)

	d, _, err := cl.Read(1, 0x6064, 0, timeout)
	require.NoError(t, err)
	require.EqualValues(t, 100000, int32(binary.LittleEndian.Uint32(d)))
}

func TestClientTimeout(t *testing.T) {
	// the slave has no mailbox where the client writes
	mbx := ecoe.DefaultMailbox
	mbx.OutStart = 0x1800
	cl, _, _ := newClient(t, mbx)

	start := time.Now()
	ack, err := cl.Write(1, 0x6060, 0, []byte{8}, 5*time.Millisecond)
	require.Equal(t, 0, ack)
	require.True(t, errors.Is(err, ecoe.ErrTimeout), "%v", err)
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}
