// Package usb defines the vocabulary shared between a USB device stack and
// the controller drivers underneath it: endpoint addressing, endpoint
// configuration and the abstract bus contract.
//
// It contains no hardware access.  Controller specifics live in the driver
// packages, e.g. otg.
package usb

import "errors"

// Direction of an endpoint or transfer, as seen from the host.
type Direction uint8

const (
	DirOut Direction = 0x00 // host to device
	DirIn  Direction = 0x80 // device to host
)

// Speed of the USB connection.
type Speed uint8

const (
	SpeedUnknown Speed = iota
	SpeedLow           // 1.5 Mbit/s
	SpeedFull          // 12 Mbit/s
	SpeedHigh          // 480 Mbit/s
)

// EndpointType as encoded in the endpoint descriptor's attributes field
// (USB 2.0 Table 9-13).
type EndpointType uint8

const (
	EndpointControl EndpointType = iota
	EndpointIsochronous
	EndpointBulk
	EndpointInterrupt
)

// EndpointAddress combines an endpoint number (0-15) with a direction bit,
// matching the bEndpointAddress wire encoding.
type EndpointAddress uint8

func NewEndpointAddress(number uint8, dir Direction) EndpointAddress {
	return EndpointAddress(number&0x0f) | EndpointAddress(dir)
}

// Number returns the endpoint number (0-15).
func (a EndpointAddress) Number() uint8 { return uint8(a) & 0x0f }

// Direction returns DirIn or DirOut.
func (a EndpointAddress) Direction() Direction { return Direction(uint8(a) & 0x80) }

func (a EndpointAddress) IsIn() bool  { return a.Direction() == DirIn }
func (a EndpointAddress) IsOut() bool { return a.Direction() == DirOut }

// EndpointConfig describes an endpoint requested from a bus driver's
// allocator, before any hardware resource is bound to it.
type EndpointConfig struct {
	// Requested endpoint number, or AnyEndpoint to pick the first free
	// one.  Endpoint 0 must always be requested explicitly.
	Number        int8
	Type          EndpointType
	MaxPacketSize uint16
	Interval      uint8 // polling interval for interrupt endpoints, in frames
}

// AnyEndpoint requests the first free endpoint number instead of a specific
// one.
const AnyEndpoint int8 = -1

// EndpointDescriptor is the result of a successful endpoint allocation.
// Immutable once returned.
type EndpointDescriptor struct {
	Address       EndpointAddress
	Type          EndpointType
	MaxPacketSize uint16
	Interval      uint8
}

// Errors returned by endpoint allocation and transfer operations.
var (
	// ErrInvalidEndpoint reports that a specifically requested endpoint
	// is already taken or out of range.
	ErrInvalidEndpoint = errors.New("usb: invalid endpoint")
	// ErrEndpointOverflow reports that no free endpoint remains in the
	// requested direction.
	ErrEndpointOverflow = errors.New("usb: out of endpoints")
	// ErrEndpointMemoryOverflow reports that the controller's packet
	// memory cannot hold another endpoint buffer.
	ErrEndpointMemoryOverflow = errors.New("usb: out of endpoint memory")
	// ErrWouldBlock reports that a transfer cannot proceed right now,
	// e.g. no packet was received yet or the transmit FIFO is full.
	ErrWouldBlock = errors.New("usb: would block")
	// ErrBufferOverflow reports that a received packet does not fit the
	// buffer passed by the caller.
	ErrBufferOverflow = errors.New("usb: buffer overflow")
)
