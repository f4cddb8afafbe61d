// Package raweni reads EtherCAT slave information (ESI) files closely to
// their XML structure.
package raweni

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/distributed/ecatservo/ecad"
	"github.com/distributed/ecatservo/ecee"
	"github.com/distributed/ecatservo/ecoe"
	"github.com/distributed/ecatservo/pdomap"
	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
)

func ReadEtherCATInfoFromFile(filename string) (eci EtherCATInfo, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return
	}
	defer f.Close()

	return ReadEtherCATInfo(f)
}

// ReadEtherCATInfo decodes an ESI document. Vendors ship these in
// ISO-8859-1 as often as in UTF-8.
func ReadEtherCATInfo(r io.Reader) (eci EtherCATInfo, err error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	err = dec.Decode(&eci)
	if err != nil {
		err = errors.Wrap(err, "decode ESI")
		return
	}

	return
}

type EtherCATInfo struct {
	Vendor       Vendor
	Descriptions Descriptions
}

type Vendor struct {
	IdRaw string `xml:"Id"`
	Name  string
}

func (v Vendor) Id() uint32 {
	return uint32(bh2i(v.IdRaw))
}

type Descriptions struct {
	Groups  []Group  `xml:"Groups>Group"`
	Devices []Device `xml:"Devices>Device"`
}

type Group struct {
	Type  string
	Names []GroupName `xml:"Name"`
}

type GroupName struct {
	LcIdentifiedName
}

type LcIdentifiedName struct {
	String string `xml:",chardata"`
	LcId   uint   `xml:",attr"`
}

type Device struct {
	Type   DeviceType
	Names  []LcIdentifiedName `xml:"Name"`
	Sms    []Sm               `xml:"Sm"`
	RxPdos []Pdo              `xml:"RxPdo"`
	TxPdos []Pdo              `xml:"TxPdo"`
	Eeprom Eeprom
}

type DeviceType struct {
	Name           string `xml:",chardata"`
	ProductCodeRaw string `xml:"ProductCode,attr"`
	RevisionNoRaw  string `xml:"RevisionNo,attr"`
}

func (d DeviceType) ProductCode() uint32 {
	return uint32(bh2i(d.ProductCodeRaw))
}

func (d DeviceType) RevisionNo() uint32 {
	return uint32(bh2i(d.RevisionNoRaw))
}

type Sm struct {
	Name                          string `xml:",chardata"`
	MinSize, MaxSize, DefaultSize uint   `xml:",attr"`
	StartAddressRaw               string `xml:"StartAddress,attr"`
	ControlByteRaw                string `xml:"ControlByte,attr"`
}

func (s Sm) StartAddress() uint16 {
	return uint16(bh2i(s.StartAddressRaw))
}

func (s Sm) ControlByte() uint8 {
	return uint8(bh2i(s.ControlByteRaw))
}

type Pdo struct {
	IndexRaw string `xml:"Index"`
	Sm       int    `xml:",attr"`
	Fixed    bool   `xml:",attr"`
	Name     string
	Entries  []PdoEntry `xml:"Entry"`
}

func (p Pdo) Index() uint16 {
	return uint16(bh2i(p.IndexRaw))
}

type PdoEntry struct {
	IndexRaw    string `xml:"Index"`
	SubIndexRaw string `xml:"SubIndex"`
	BitLen      uint8
	Name        string
	DataType    string
}

func (e PdoEntry) Index() uint16 {
	return uint16(bh2i(e.IndexRaw))
}

func (e PdoEntry) SubIndex() uint8 {
	return uint8(bh2i(e.SubIndexRaw))
}

// beckhoff hex string to integer, 0 on failure
func bh2i(s string) uint64 {
	var (
		n   uint64
		err error
	)

	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#x") {
		// as s has 2 byte prefix, indexing is OK
		n, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		n, err = strconv.ParseUint(s, 10, 64)
	}

	if err != nil {
		return 0
	}

	return n
}

type Eeprom struct {
	ByteSize      uint
	ConfigDataRaw string `xml:"ConfigData"`
}

// Find returns the device description matching the identity read from a
// slave's SII. A revision of 0 in id matches any revision.
func (eci EtherCATInfo) Find(id ecee.Identity) (Device, bool) {
	if id.VendorID != eci.Vendor.Id() {
		return Device{}, false
	}
	for _, d := range eci.Descriptions.Devices {
		if d.Type.ProductCode() != id.ProductCode {
			continue
		}
		if id.Revision != 0 && d.Type.RevisionNo() != id.Revision {
			continue
		}
		return d, true
	}
	return Device{}, false
}

// Mailbox returns the mailbox sync managers of the device. Unnamed sync
// managers are recognized by their control byte.
func (d Device) Mailbox() (mbx ecoe.Mailbox, ok bool) {
	var haveOut, haveIn bool
	for _, sm := range d.Sms {
		name := strings.TrimSpace(sm.Name)
		switch {
		case name == "MBoxOut", name == "" && sm.ControlByte() == ecad.SMControlMailboxOut:
			mbx.OutStart, mbx.OutLen = sm.StartAddress(), uint16(sm.DefaultSize)
			haveOut = true
		case name == "MBoxIn", name == "" && sm.ControlByte() == ecad.SMControlMailboxIn:
			mbx.InStart, mbx.InLen = sm.StartAddress(), uint16(sm.DefaultSize)
			haveIn = true
		}
	}
	return mbx, haveOut && haveIn
}

// Table builds the mapping table from the first receive and the first
// transmit PDO of the device. Padding entries (index 0) are refused, the
// process image has no room for them.
func (d Device) Table() (t pdomap.Table, err error) {
	if len(d.RxPdos) == 0 || len(d.TxPdos) == 0 {
		err = errors.Errorf("device %s describes no RxPdo/TxPdo pair", d.Type.Name)
		return
	}

	t.RxAssign = 0x1c12
	t.TxAssign = 0x1c13
	t.Rx, err = d.RxPdos[0].pdo()
	if err != nil {
		return
	}
	t.Tx, err = d.TxPdos[0].pdo()
	return
}

func (p Pdo) pdo() (pdo pdomap.PDO, err error) {
	pdo.Index = p.Index()
	for _, e := range p.Entries {
		if e.Index() == 0 {
			err = errors.Errorf("PDO %#04x has a padding entry", pdo.Index)
			return
		}
		pdo.Entries = append(pdo.Entries, pdomap.Entry{
			Index:    e.Index(),
			Subindex: e.SubIndex(),
			Bits:     e.BitLen,
		})
	}
	return
}
