package otg

import (
	"github.com/embdrv/usbd/usb"
)

// EndpointIn is a device-to-host endpoint bound to one of the controller's
// IN endpoint register banks and its dedicated TX FIFO.
type EndpointIn struct {
	regs        *epInRegs
	fifo        *fifoRegs
	num         uint8
	desc        usb.EndpointDescriptor
	initialized bool
}

func (ep *EndpointIn) Address() usb.EndpointAddress { return ep.desc.Address }
func (ep *EndpointIn) IsInitialized() bool          { return ep.initialized }

func (ep *EndpointIn) init(desc usb.EndpointDescriptor) {
	ep.desc = desc
	ep.initialized = true
}

// fifoSizeWords returns the TX FIFO demand of this endpoint in words, zero
// if the endpoint was never allocated.
func (ep *EndpointIn) fifoSizeWords() uint32 {
	if !ep.initialized {
		return 0
	}
	return packetWords(ep.desc.MaxPacketSize)
}

// Caller must hold the bus critical section.
func (ep *EndpointIn) configure() {
	ctl := activeEp | setNak |
		epCtlFlags(ep.desc.Type)<<epTypShift |
		epCtlFlags(ep.num)<<txFifoShift
	if ep.num == 0 {
		ctl |= epCtlFlags(ep0MpsBits(ep.desc.MaxPacketSize))
	} else {
		ctl |= epCtlFlags(ep.desc.MaxPacketSize)&mpsizMask | setData0Pid
	}
	ep.regs.diepctl.Store(ctl)
}

// Caller must hold the bus critical section.  Idempotent.
func (ep *EndpointIn) deconfigure() {
	ep.regs.diepctl.Store(0)
	ep.regs.dieptsiz.Store(0)
	ep.regs.diepint.Store(xferCompl) // clear pending
}

// WritePacket arms the endpoint with one packet.  Returns ErrWouldBlock
// while the previous packet still occupies the TX FIFO.
func (ep *EndpointIn) WritePacket(p []byte) error {
	if !ep.initialized {
		return usb.ErrInvalidEndpoint
	}
	if len(p) > int(ep.desc.MaxPacketSize) {
		return usb.ErrBufferOverflow
	}
	if ep.regs.dieptsiz.Load()&pktCntMask != 0 {
		return usb.ErrWouldBlock
	}
	if ep.regs.dtxfsts.Load() < packetWords(uint16(len(p))) {
		return usb.ErrWouldBlock
	}

	ep.regs.dieptsiz.Store(1<<pktCntShift | uint32(len(p)))
	ep.regs.diepctl.SetBits(clearNak | epEnable)
	ep.fifo.writePacket(p)
	return nil
}

func (ep *EndpointIn) setStalled(stalled bool) {
	if stalled {
		ep.regs.diepctl.SetBits(stallEp)
	} else {
		ep.regs.diepctl.ClearBits(stallEp)
		ep.regs.diepctl.SetBits(setData0Pid)
	}
}

func (ep *EndpointIn) isStalled() bool {
	return ep.regs.diepctl.LoadBits(stallEp) != 0
}

// EndpointOut is a host-to-device endpoint.  Received packets are drained
// from the shared RX FIFO into the endpoint's software buffer by Bus.Poll;
// the consumer picks them up with ReadPacket.
type EndpointOut struct {
	regs        *epOutRegs
	num         uint8
	desc        usb.EndpointDescriptor
	buffer      *endpointBuffer
	initialized bool
}

func (ep *EndpointOut) Address() usb.EndpointAddress { return ep.desc.Address }
func (ep *EndpointOut) IsInitialized() bool          { return ep.initialized }

// BufferState reports whether the endpoint's buffer holds an unconsumed
// packet and of which kind.
func (ep *EndpointOut) BufferState() BufferState {
	if ep.buffer == nil {
		return BufferEmpty
	}
	return ep.buffer.bufferState()
}

func (ep *EndpointOut) init(desc usb.EndpointDescriptor, buffer *endpointBuffer) {
	ep.desc = desc
	ep.buffer = buffer
	ep.initialized = true
}

// Caller must hold the bus critical section.
func (ep *EndpointOut) configure() {
	mps := ep.desc.MaxPacketSize
	tsiz := 1<<pktCntShift | uint32(mps)&xfrSizMask
	ctl := activeEp | epEnable | clearNak |
		epCtlFlags(ep.desc.Type)<<epTypShift
	if ep.num == 0 {
		// Keep room for back to back SETUP packets.
		tsiz |= 3 << setupCntShift
		ctl |= epCtlFlags(ep0MpsBits(mps))
	} else {
		ctl |= epCtlFlags(mps)&mpsizMask | setData0Pid
	}
	ep.regs.doeptsiz.Store(tsiz)
	ep.regs.doepctl.Store(ctl)
}

// Caller must hold the bus critical section.  Idempotent.
func (ep *EndpointOut) deconfigure() {
	ep.regs.doepctl.Store(0)
	ep.regs.doeptsiz.Store(0)
}

// ReadPacket copies the pending packet to p and frees the endpoint's buffer
// for further reception.  Reports whether it was a SETUP packet.  Returns
// ErrWouldBlock if no packet is pending.
func (ep *EndpointOut) ReadPacket(p []byte) (n int, setup bool, err error) {
	if !ep.initialized {
		return 0, false, usb.ErrInvalidEndpoint
	}
	return ep.buffer.readPacket(p)
}

func (ep *EndpointOut) setStalled(stalled bool) {
	if stalled {
		ep.regs.doepctl.SetBits(stallEp)
	} else {
		ep.regs.doepctl.ClearBits(stallEp)
		ep.regs.doepctl.SetBits(setData0Pid)
	}
}

func (ep *EndpointOut) isStalled() bool {
	return ep.regs.doepctl.LoadBits(stallEp) != 0
}

// ep0MpsBits encodes endpoint 0's max packet size for the 2-bit MPSIZ field
// of its control registers.
func ep0MpsBits(mps uint16) uint32 {
	switch mps {
	case 64:
		return 0
	case 32:
		return 1
	case 16:
		return 2
	default: // 8
		return 3
	}
}
