package ecoe

import (
	"time"

	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecfr"
	"github.com/distributed/ecatservo/ecmd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Mailbox describes where the sync managers 0 and 1 of a slave put the
// mailboxes in its process memory.
type Mailbox struct {
	OutStart, OutLen uint16 // master to slave, SM0
	InStart, InLen   uint16 // slave to master, SM1
}

var DefaultMailbox = Mailbox{OutStart: 0x1000, OutLen: 128, InStart: 0x1080, InLen: 128}

var ErrTimeout = errors.New("no mailbox response")

// Client performs SDO transfers over the CoE mailbox. The returned int is
// the working counter style acknowledgement: 1 when the slave confirmed the
// transfer, 0 otherwise.
type Client struct {
	c       ecmd.Commander
	mbx     Mailbox
	station func(slave int) uint16
	counter uint8

	PollInterval time.Duration

	log logrus.FieldLogger
}

// NewClient returns a client talking to the slaves through c. station maps
// a slave index to its configured station address.
func NewClient(c ecmd.Commander, mbx Mailbox, station func(slave int) uint16, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		c:            c,
		mbx:          mbx,
		station:      station,
		PollInterval: 100 * time.Microsecond,
		log:          log,
	}
}

func (cl *Client) Write(slave int, index uint16, subindex uint8, data []byte, timeout time.Duration) (int, error) {
	req, err := DownloadRequest(index, subindex, data)
	if err != nil {
		return 0, err
	}

	resp, err := cl.transact(slave, req, timeout)
	if err != nil {
		return 0, err
	}

	if ab := resp.Abort(); ab != nil {
		return 0, ab
	}
	if resp.Command != CmdDownloadResponse || resp.Index != index || resp.Subindex != subindex {
		return 0, errors.Errorf("unexpected response %#02x %04x:%02x to download %04x:%02x",
			resp.Command, resp.Index, resp.Subindex, index, subindex)
	}

	return 1, nil
}

func (cl *Client) Read(slave int, index uint16, subindex uint8, timeout time.Duration) ([]byte, int, error) {
	resp, err := cl.transact(slave, UploadRequest(index, subindex), timeout)
	if err != nil {
		return nil, 0, err
	}

	if ab := resp.Abort(); ab != nil {
		return nil, 0, ab
	}
	if resp.Command&cmdSpecifierMask != CmdUploadRequest || resp.Index != index || resp.Subindex != subindex {
		return nil, 0, errors.Errorf("unexpected response %#02x %04x:%02x to upload %04x:%02x",
			resp.Command, resp.Index, resp.Subindex, index, subindex)
	}

	return resp.Data, 1, nil
}

func (cl *Client) transact(slave int, req Message, timeout time.Duration) (resp Message, err error) {
	station := cl.station(slave)
	deadline := time.Now().Add(timeout)

	// a response left over from an earlier timed out request
	full, err := cl.inFull(station)
	if err != nil {
		return
	}
	if full {
		_, err = cl.readIn(station)
		if err != nil {
			return
		}
	}

	cl.counter = cl.counter%7 + 1
	req.Counter = cl.counter

	buf := make([]byte, cl.mbx.OutLen)
	_, err = req.MarshalTo(buf)
	if err != nil {
		return
	}

	err = ecmd.ExecuteWrite(cl.c, ecfr.FixedAddress(station, cl.mbx.OutStart), buf, 1)
	if err != nil {
		err = errors.Wrapf(err, "slave %d: mailbox write", slave)
		return
	}

	for {
		full, err = cl.inFull(station)
		if err != nil {
			return
		}

		if full {
			var rb []byte
			rb, err = cl.readIn(station)
			if err != nil {
				return
			}
			resp, err = ParseMessage(rb)
			if err != nil {
				err = errors.Wrapf(err, "slave %d", slave)
				return
			}
			cl.log.WithFields(logrus.Fields{
				"slave":    slave,
				"index":    req.Index,
				"subindex": req.Subindex,
				"command":  resp.Command,
			}).Debug("sdo response")
			return
		}

		if time.Now().After(deadline) {
			err = errors.Wrapf(ErrTimeout, "slave %d %04x:%02x", slave, req.Index, req.Subindex)
			return
		}

		if cl.PollInterval > 0 {
			time.Sleep(cl.PollInterval)
		}
	}
}

func (cl *Client) inFull(station uint16) (bool, error) {
	addr := ecfr.FixedAddress(station, ecad.SyncManager(1)+ecad.SyncManagerStatusOffset)
	rb, err := ecmd.ExecuteRead(cl.c, addr, 1, 1)
	if err != nil {
		return false, err
	}
	return rb[0]&ecad.SMStatusMailboxFull != 0, nil
}

func (cl *Client) readIn(station uint16) ([]byte, error) {
	return ecmd.ExecuteRead(cl.c, ecfr.FixedAddress(station, cl.mbx.InStart), int(cl.mbx.InLen), 1)
}
