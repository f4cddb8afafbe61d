package ecad

const (
	Type                  = 0x0000
	Revision              = 0x0001
	Build                 = 0x0002
	FMMUsSupported        = 0x0004
	SyncManagersSupported = 0x0005
	RAMSize               = 0x0006
	PortDescriptor        = 0x0007
	ESCFeaturesSupported  = 0x0008

	ConfiguredStationAddress = 0x0010
	ConfiguredStationAlias   = 0x0012

	DLControl = 0x0100
	DLStatus  = 0x0110

	ALControl    = 0x0120
	ALStatus     = 0x0130
	ALStatusCode = 0x0134
	PDIControl   = 0x0140

	ECATEventMask = 0x0200

	ESIEEPROMInterface   = 0x0500
	EEPROMConfiguration  = 0x0500
	EEPROMPDIAccessState = 0x0501
	EEPROMControlStatus  = 0x0502
	EEPROMAddress        = 0x0504
	EEPROMData           = 0x0508

	FMMUBase            = 0x0600
	FMMUChannelLen      = 0x10
	FMMULogStartOffset  = 0x00
	FMMULengthOffset    = 0x04
	FMMULogStartBit     = 0x06
	FMMULogEndBit       = 0x07
	FMMUPhysStartOffset = 0x08
	FMMUPhysStartBit    = 0x0a
	FMMUTypeOffset      = 0x0b
	FMMUActivateOffset  = 0x0c

	SyncMangerBase                 = 0x0800
	SyncManagerChannelLen          = 0x08
	SyncManagerPhysStartAddrOffset = 0x00
	SyncManagerLengthOffset        = 0x02
	SyncManagerControlOffset       = 0x04
	SyncManagerStatusOffset        = 0x05
	SyncManagerActivateOffset      = 0x06
	SyncManagerPDIControlOffset    = 0x07

	DCReceiveTime      = 0x0900
	DCSystemTime       = 0x0910
	DCSystemTimeOffset = 0x0920
	DCSystemTimeDelay  = 0x0928
	DCCyclicUnitCtrl   = 0x0980
	DCActivation       = 0x0981
	DCSync0StartTime   = 0x0990
	DCSync0CycleTime   = 0x09a0
	DCSync1CycleTime   = 0x09a4
)

// FMMU types
const (
	FMMURead  = 0x01
	FMMUWrite = 0x02
)

// ESC feature bits
const (
	FeatureDC      = 0x0004
	FeatureDC64Bit = 0x0008
)

// sync manager control bytes
const (
	SMControlMailboxOut = 0x26 // mailbox, ECAT writes, PDI irq
	SMControlMailboxIn  = 0x22 // mailbox, ECAT reads, PDI irq
	SMControlOutputs    = 0x64 // 3-buffer, ECAT writes, watchdog
	SMControlInputs     = 0x20 // 3-buffer, ECAT reads

	SMStatusMailboxFull = 0x08
)

// SII EEPROM word addresses
const (
	SIIVendorID    = 0x0008
	SIIProductCode = 0x000a
	SIIRevision    = 0x000c
	SIISerial      = 0x000e
)

// SyncManager returns the register address of sync manager channel n.
func SyncManager(n int) uint16 {
	return uint16(SyncMangerBase + n*SyncManagerChannelLen)
}

// FMMU returns the register address of FMMU channel n.
func FMMU(n int) uint16 {
	return uint16(FMMUBase + n*FMMUChannelLen)
}
