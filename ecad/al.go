package ecad

import "fmt"

// ALState is the application layer state as found in the low nibble of the
// AL control and AL status registers.
type ALState uint8

const (
	StateNone   ALState = 0x00
	StateInit   ALState = 0x01
	StatePreOp  ALState = 0x02
	StateBoot   ALState = 0x03
	StateSafeOp ALState = 0x04
	StateOp     ALState = 0x08

	// set in AL status when the slave refused a transition, written to AL
	// control to acknowledge
	StateErrorFlag ALState = 0x10
)

func (s ALState) String() string {
	var n string
	switch s &^ StateErrorFlag {
	case StateNone:
		n = "NONE"
	case StateInit:
		n = "INIT"
	case StatePreOp:
		n = "PRE_OP"
	case StateBoot:
		n = "BOOT"
	case StateSafeOp:
		n = "SAFE_OP"
	case StateOp:
		n = "OPERATIONAL"
	default:
		n = fmt.Sprintf("ALState(%#02x)", uint8(s&^StateErrorFlag))
	}
	if s&StateErrorFlag != 0 {
		n += "+ERROR"
	}
	return n
}

// Base strips the error flag.
func (s ALState) Base() ALState { return s & 0x0f }

func (s ALState) Error() bool { return s&StateErrorFlag != 0 }

// ALStatusCodeString returns the ETG.1000 text for an AL status code.
func ALStatusCodeString(code uint16) string {
	if s, ok := alStatusText[code]; ok {
		return s
	}
	return "unknown AL status code"
}

var alStatusText = map[uint16]string{
	0x0000: "No error",
	0x0001: "Unspecified error",
	0x0002: "No memory",
	0x0011: "Invalid requested state change",
	0x0012: "Unknown requested state",
	0x0013: "Bootstrap not supported",
	0x0014: "No valid firmware",
	0x0015: "Invalid mailbox configuration",
	0x0016: "Invalid mailbox configuration",
	0x0017: "Invalid sync manager configuration",
	0x0018: "No valid inputs available",
	0x0019: "No valid outputs",
	0x001a: "Synchronization error",
	0x001b: "Sync manager watchdog",
	0x001c: "Invalid sync manager types",
	0x001d: "Invalid output configuration",
	0x001e: "Invalid input configuration",
	0x001f: "Invalid watchdog configuration",
	0x0020: "Slave needs cold start",
	0x0021: "Slave needs INIT",
	0x0022: "Slave needs PREOP",
	0x0023: "Slave needs SAFEOP",
	0x0024: "Invalid input mapping",
	0x0025: "Invalid output mapping",
	0x0026: "Inconsistent settings",
	0x0027: "Freerun not supported",
	0x0028: "Synchronisation not supported",
	0x0029: "Freerun needs 3buffer mode",
	0x002a: "Background watchdog",
	0x002b: "No valid inputs and outputs",
	0x002c: "Fatal sync error",
	0x002d: "No sync error",
	0x0030: "Invalid DC SYNC configuration",
	0x0031: "Invalid DC latch configuration",
	0x0032: "PLL error",
	0x0033: "DC sync IO error",
	0x0034: "DC sync timeout error",
	0x0035: "DC invalid sync cycle time",
	0x0036: "DC invalid sync0 cycle time",
	0x0037: "DC invalid sync1 cycle time",
	0x0042: "MBX_EOE",
	0x0043: "MBX_COE",
	0x0044: "MBX_FOE",
	0x0045: "MBX_SOE",
	0x004f: "MBX_VOE",
	0x0050: "EEPROM no access",
	0x0051: "EEPROM error",
	0x0060: "Slave restarted locally",
	0x0061: "Device identification value updated",
	0x00f0: "Application controller available",
}
