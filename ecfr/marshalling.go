package ecfr

import "encoding/binary"

// EtherCAT is little endian on the wire.

func getUint8(b []byte) (uint8, []byte) {
	return b[0], b[1:]
}

func getUint16(b []byte) (uint16, []byte) {
	return binary.LittleEndian.Uint16(b), b[2:]
}

func getUint32(b []byte) (uint32, []byte) {
	return binary.LittleEndian.Uint32(b), b[4:]
}

func putUint8(b []byte, v uint8) []byte {
	b[0] = v
	return b[1:]
}

func putUint16(b []byte, v uint16) []byte {
	binary.LittleEndian.PutUint16(b, v)
	return b[2:]
}

func putUint32(b []byte, v uint32) []byte {
	binary.LittleEndian.PutUint32(b, v)
	return b[4:]
}
