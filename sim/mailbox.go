package sim

import (
	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecoe"
)

// Mailbox serves CoE SDO requests written to the sync manager 0 area and
// answers them through the sync manager 1 area.
type Mailbox struct {
	s *L2Slave

	full     bool
	resp     []byte
	readDone bool

	Requests int
}

func (m *Mailbox) handle(req []byte) {
	m.Requests++

	msg, err := ecoe.ParseMessage(req)
	if err != nil {
		// not CoE, nothing we answer
		return
	}

	var resp ecoe.Message
	switch {
	case m.s.App == nil:
		resp = ecoe.AbortMessage(ecoe.ServiceSDORequest, msg.Index, msg.Subindex, ecoe.AbortGeneralError)
	case msg.IsUpload():
		data, code := m.s.App.Upload(msg.Index, msg.Subindex)
		if code != 0 {
			resp = ecoe.AbortMessage(ecoe.ServiceSDORequest, msg.Index, msg.Subindex, code)
		} else {
			resp = ecoe.UploadResponse(msg.Index, msg.Subindex, data)
		}
	case msg.IsDownload():
		code := m.s.App.Download(msg.Index, msg.Subindex, msg.Data)
		if code != 0 {
			resp = ecoe.AbortMessage(ecoe.ServiceSDORequest, msg.Index, msg.Subindex, code)
		} else {
			resp = ecoe.DownloadResponse(msg.Index, msg.Subindex)
		}
	default:
		resp = ecoe.AbortMessage(ecoe.ServiceSDORequest, msg.Index, msg.Subindex, ecoe.AbortCommandUnknown)
	}
	resp.Counter = msg.Counter

	buf := make([]byte, m.s.syncManager(1).length)
	_, err = resp.MarshalTo(buf)
	if err != nil {
		return
	}

	m.resp = buf
	m.full = true
	m.s.setSyncManagerStatus(1, ecad.SMStatusMailboxFull, true)
}

type mailboxOut struct{ *Mailbox }

// the master cannot read back its own mailbox
func (m mailboxOut) Read(offs uint16, dp *uint8) bool { return false }

func (m mailboxOut) WriteInteract(offs uint16) bool { return true }

// A mailbox counts as written once its last byte was written.
func (m mailboxOut) Latch(shadow []byte, shadowWriteMask []bool) {
	if len(shadow) == 0 || !shadowWriteMask[len(shadow)-1] {
		return
	}
	m.handle(append([]byte(nil), shadow...))
}

type mailboxIn struct{ *Mailbox }

func (m mailboxIn) Read(offs uint16, dp *uint8) bool {
	if !m.full {
		return false
	}
	if int(offs) < len(m.resp) {
		*dp = m.resp[offs]
	}
	if int(offs) == len(m.resp)-1 {
		m.readDone = true
	}
	return true
}

func (m mailboxIn) WriteInteract(offs uint16) bool { return false }

func (m mailboxIn) Latch(shadow []byte, shadowWriteMask []bool) {
	if !m.readDone {
		return
	}
	m.readDone = false
	m.full = false
	m.resp = nil
	m.s.setSyncManagerStatus(1, ecad.SMStatusMailboxFull, false)
}
