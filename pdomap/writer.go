package pdomap

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/distributed/ecatservo/retry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	DefaultAttempts = 10
	DefaultTimeout  = 700 * time.Millisecond
)

// ObjectWriter writes one object dictionary entry of a slave and returns
// the acknowledgement counter of the transfer, zero or less if the slave
// did not confirm it.
type ObjectWriter interface {
	Write(slave int, index uint16, subindex uint8, data []byte, timeout time.Duration) (int, error)
}

// ObjectReader reads one object dictionary entry of a slave, with the
// acknowledgement counter as for ObjectWriter.
type ObjectReader interface {
	Read(slave int, index uint16, subindex uint8, timeout time.Duration) ([]byte, int, error)
}

var (
	errNotAcknowledged = errors.New("transfer not acknowledged")
	errWriteOnly       = errors.New("object dictionary cannot be read")
)

// ObjectWriteError is returned when all attempts of an object write failed.
type ObjectWriteError struct {
	Slave    int
	Index    uint16
	Subindex uint8
	Attempts int
	Err      error
}

func (e *ObjectWriteError) Error() string {
	return fmt.Sprintf("slave %d: write %04x:%02x failed after %d attempts: %v",
		e.Slave, e.Index, e.Subindex, e.Attempts, e.Err)
}

func (e *ObjectWriteError) Unwrap() error { return e.Err }

// Writer writes objects with a bounded number of attempts each.
type Writer struct {
	OD       ObjectWriter
	Attempts int
	Timeout  time.Duration
	Log      logrus.FieldLogger
}

func NewWriter(od ObjectWriter, log logrus.FieldLogger) *Writer {
	return &Writer{OD: od, Attempts: DefaultAttempts, Timeout: DefaultTimeout, Log: log}
}

func (w *Writer) Write(slave int, index uint16, subindex uint8, data []byte) error {
	o := retry.Do(w.Attempts, func(int) error {
		wkc, err := w.OD.Write(slave, index, subindex, data, w.Timeout)
		if err != nil {
			return err
		}
		if wkc <= 0 {
			return errNotAcknowledged
		}
		return nil
	})
	if o.Ok() {
		if o.Attempts > 1 && w.Log != nil {
			w.Log.WithFields(logrus.Fields{
				"slave":    slave,
				"object":   fmt.Sprintf("%04x:%02x", index, subindex),
				"attempts": o.Attempts,
			}).Debug("object write needed retries")
		}
		return nil
	}
	return &ObjectWriteError{slave, index, subindex, o.Attempts, o.Last}
}

// Read reads an object with the attempts and timeout of the writer. OD has
// to be an ObjectReader as well.
func (w *Writer) Read(slave int, index uint16, subindex uint8) ([]byte, error) {
	r, ok := w.OD.(ObjectReader)
	if !ok {
		return nil, errWriteOnly
	}
	d, o := retry.Value(w.Attempts, func(int) ([]byte, error) {
		d, ack, err := r.Read(slave, index, subindex, w.Timeout)
		if err != nil {
			return nil, err
		}
		if ack <= 0 {
			return nil, errNotAcknowledged
		}
		return d, nil
	})
	if !o.Ok() {
		return nil, errors.Wrapf(o.Err(), "slave %d: read %04x:%02x", slave, index, subindex)
	}
	return d, nil
}

func (w *Writer) WriteU8(slave int, index uint16, subindex uint8, v uint8) error {
	return w.Write(slave, index, subindex, []byte{v})
}

func (w *Writer) WriteU16(slave int, index uint16, subindex uint8, v uint16) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return w.Write(slave, index, subindex, b)
}

func (w *Writer) WriteU32(slave int, index uint16, subindex uint8, v uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return w.Write(slave, index, subindex, b)
}

// Configure writes t into the dictionary of slave. Failed writes do not
// stop the sequence; all failures are returned combined.
func (w *Writer) Configure(slave int, t Table) (err error) {
	err = multierr.Append(err, w.assign(slave, t.RxAssign, t.Rx))
	err = multierr.Append(err, w.assign(slave, t.TxAssign, t.Tx))
	return
}

func (w *Writer) assign(slave int, assign uint16, pdo PDO) (err error) {
	// unassign, then fill the PDO while its entry count is zero
	err = multierr.Append(err, w.WriteU8(slave, assign, 0, 0))
	err = multierr.Append(err, w.WriteU16(slave, assign, 1, pdo.Index))

	err = multierr.Append(err, w.WriteU8(slave, pdo.Index, 0, 0))
	for i, e := range pdo.Entries {
		err = multierr.Append(err, w.WriteU32(slave, pdo.Index, uint8(i+1), e.Encode()))
	}
	err = multierr.Append(err, w.WriteU8(slave, pdo.Index, 0, uint8(len(pdo.Entries))))

	err = multierr.Append(err, w.WriteU8(slave, assign, 0, 1))
	return
}
