package ecoe

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	MailboxHeaderLen = 6
	CoEHeaderLen     = 2
	SDOHeaderLen     = 4

	// bytes after the mailbox header for an expedited SDO
	sdoExpeditedLen = CoEHeaderLen + SDOHeaderLen + 4

	MailboxTypeCoE = 0x03

	ServiceSDORequest  = 0x02
	ServiceSDOResponse = 0x03
)

// SDO command bytes, CiA-301 encoding.
const (
	CmdDownloadExpedited = 0x23 // | (4-n)<<2
	CmdDownloadResponse  = 0x60
	CmdUploadRequest     = 0x40
	CmdUploadExpedited   = 0x43 // | (4-n)<<2
	CmdUploadNormal      = 0x41
	CmdAbort             = 0x80

	cmdSpecifierMask = 0xe0
	cmdExpedited     = 0x02
	cmdSizeIndicated = 0x01
)

// Message is one CoE SDO mailbox message. For expedited transfers Data holds
// at most 4 bytes, normal uploads carry the complete payload.
type Message struct {
	Counter  uint8
	Service  uint8
	Command  uint8
	Index    uint16
	Subindex uint8
	Data     []byte
}

func DownloadRequest(index uint16, subindex uint8, data []byte) (Message, error) {
	if len(data) == 0 || len(data) > 4 {
		return Message{}, errors.Errorf("expedited download carries 1 to 4 bytes, got %d", len(data))
	}
	return Message{
		Service:  ServiceSDORequest,
		Command:  CmdDownloadExpedited | uint8(4-len(data))<<2,
		Index:    index,
		Subindex: subindex,
		Data:     data,
	}, nil
}

func DownloadResponse(index uint16, subindex uint8) Message {
	return Message{Service: ServiceSDOResponse, Command: CmdDownloadResponse, Index: index, Subindex: subindex}
}

func UploadRequest(index uint16, subindex uint8) Message {
	return Message{Service: ServiceSDORequest, Command: CmdUploadRequest, Index: index, Subindex: subindex}
}

// UploadResponse answers expedited when data fits into the SDO header,
// with a normal transfer otherwise.
func UploadResponse(index uint16, subindex uint8, data []byte) Message {
	m := Message{Service: ServiceSDOResponse, Index: index, Subindex: subindex, Data: data}
	if len(data) <= 4 {
		m.Command = CmdUploadExpedited | uint8(4-len(data))<<2
	} else {
		m.Command = CmdUploadNormal
	}
	return m
}

func AbortMessage(service uint8, index uint16, subindex uint8, code uint32) Message {
	d := make([]byte, 4)
	binary.LittleEndian.PutUint32(d, code)
	return Message{Service: service, Command: CmdAbort, Index: index, Subindex: subindex, Data: d}
}

// Len is the number of bytes MarshalTo writes.
func (m *Message) Len() int {
	return MailboxHeaderLen + m.bodyLen()
}

func (m *Message) bodyLen() int {
	if m.Command == CmdUploadNormal {
		return CoEHeaderLen + SDOHeaderLen + 4 + len(m.Data)
	}
	return sdoExpeditedLen
}

func (m *Message) MarshalTo(b []byte) (n int, err error) {
	n = m.Len()
	if len(b) < n {
		err = errors.Errorf("mailbox of %d bytes cannot hold a %d byte message", len(b), n)
		return
	}

	for i := range b[:n] {
		b[i] = 0
	}

	binary.LittleEndian.PutUint16(b[0:], uint16(m.bodyLen()))
	// address 0 is the master, channel 0, priority 0
	b[5] = MailboxTypeCoE | (m.Counter&0x07)<<4

	binary.LittleEndian.PutUint16(b[6:], uint16(m.Service)<<12)

	s := b[MailboxHeaderLen+CoEHeaderLen:]
	s[0] = m.Command
	binary.LittleEndian.PutUint16(s[1:], m.Index)
	s[3] = m.Subindex
	if m.Command == CmdUploadNormal {
		binary.LittleEndian.PutUint32(s[4:], uint32(len(m.Data)))
		copy(s[8:], m.Data)
	} else {
		copy(s[4:8], m.Data)
	}
	return
}

// ParseMessage reads a CoE SDO message out of a mailbox buffer.
func ParseMessage(b []byte) (m Message, err error) {
	if len(b) < MailboxHeaderLen {
		err = errors.New("mailbox shorter than its header")
		return
	}

	l := int(binary.LittleEndian.Uint16(b[0:]))
	typ := b[5] & 0x0f
	m.Counter = (b[5] >> 4) & 0x07
	if typ != MailboxTypeCoE {
		err = errors.Errorf("mailbox type %#x is not CoE", typ)
		return
	}
	if l < sdoExpeditedLen || MailboxHeaderLen+l > len(b) {
		err = errors.Errorf("mailbox length %d out of range", l)
		return
	}

	body := b[MailboxHeaderLen : MailboxHeaderLen+l]
	m.Service = uint8(binary.LittleEndian.Uint16(body) >> 12)

	s := body[CoEHeaderLen:]
	m.Command = s[0]
	m.Index = binary.LittleEndian.Uint16(s[1:])
	m.Subindex = s[3]

	switch {
	case m.Command == CmdUploadNormal:
		size := int(binary.LittleEndian.Uint32(s[4:]))
		if 8+size > len(s) {
			err = errors.Errorf("upload of %d bytes does not fit the mailbox", size)
			return
		}
		m.Data = append([]byte(nil), s[8:8+size]...)
	case m.Command&cmdSpecifierMask == CmdDownloadExpedited&cmdSpecifierMask && m.Command&cmdExpedited != 0,
		m.Command&cmdSpecifierMask == CmdUploadExpedited&cmdSpecifierMask && m.Command&cmdExpedited != 0:
		n := 4
		if m.Command&cmdSizeIndicated != 0 {
			n = 4 - int(m.Command>>2&0x03)
		}
		m.Data = append([]byte(nil), s[4:4+n]...)
	default:
		m.Data = append([]byte(nil), s[4:8]...)
	}
	return
}

// Abort returns the abort carried by m, nil if m is no abort.
func (m *Message) Abort() *AbortError {
	if m.Command != CmdAbort || len(m.Data) < 4 {
		return nil
	}
	return &AbortError{
		Index:    m.Index,
		Subindex: m.Subindex,
		Code:     binary.LittleEndian.Uint32(m.Data),
	}
}

// IsDownload reports whether m is an expedited download request.
func (m *Message) IsDownload() bool {
	return m.Command&cmdSpecifierMask == CmdDownloadExpedited&cmdSpecifierMask
}

func (m *Message) IsUpload() bool {
	return m.Command == CmdUploadRequest
}
