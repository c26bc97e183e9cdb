package usb

import (
	"encoding/binary"
	"errors"
)

// Standard request codes (USB 2.0 Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0a
	RequestSetInterface     = 0x0b
	RequestSynchFrame       = 0x0c
)

// SetupPacket is the 8-byte header that begins every control transfer.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength, length of the data stage
}

// SetupPacketSize is the wire size of a SETUP packet in bytes.
const SetupPacketSize = 8

var ErrSetupTooShort = errors.New("usb: setup packet too short")

// ParseSetupPacket decodes a SETUP packet from its little-endian wire form.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return ErrSetupTooShort
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// Direction returns the data stage direction encoded in bmRequestType.
func (s *SetupPacket) Direction() Direction {
	return Direction(s.RequestType & 0x80)
}
