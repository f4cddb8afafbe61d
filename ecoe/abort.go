package ecoe

import "fmt"

// AbortError is an SDO abort received from a slave.
type AbortError struct {
	Index    uint16
	Subindex uint8
	Code     uint32
}

func (e *AbortError) Error() string {
	if msg, ok := abortText[e.Code]; ok {
		return fmt.Sprintf("sdo abort %#08x @ %04x:%02x: %s", e.Code, e.Index, e.Subindex, msg)
	}
	return fmt.Sprintf("sdo abort %#08x @ %04x:%02x", e.Code, e.Index, e.Subindex)
}

// Abort codes used by the simulator and worth matching on.
const (
	AbortCommandUnknown    = 0x05040001
	AbortWriteReadOnly     = 0x06010002
	AbortObjectMissing     = 0x06020000
	AbortLengthMismatch    = 0x06070010
	AbortSubindexMissing   = 0x06090011
	AbortDeviceState       = 0x08000022
	AbortGeneralError      = 0x08000000
	AbortParameterMismatch = 0x06040043
)

// CiA-301 abort codes
var abortText = map[uint32]string{
	0x05030000: "toggle bit not alternated",
	0x05040000: "SDO protocol timeout",
	0x05040001: "command specifier invalid or unknown",
	0x05040005: "out of memory",
	0x06010000: "unsupported access to object",
	0x06010001: "attempt to read a write-only object",
	0x06010002: "attempt to write a read-only object",
	0x06020000: "object does not exist",
	0x06040041: "object cannot be mapped to PDO",
	0x06040042: "PDO length exceeded",
	0x06040043: "general parameter incompatibility",
	0x06040047: "internal incompatibility in device",
	0x06060000: "hardware error",
	0x06070010: "data type does not match (length)",
	0x06070012: "data type does not match (length too high)",
	0x06070013: "data type does not match (length too low)",
	0x06090011: "sub-index does not exist",
	0x06090030: "value range exceeded",
	0x06090031: "value too high",
	0x06090032: "value too low",
	0x06090036: "maximum value less than minimum value",
	0x08000000: "general error",
	0x08000020: "data cannot be transferred/stored",
	0x08000021: "local control",
	0x08000022: "device state",
	0x08000023: "OD dynamic generation fails",
}
