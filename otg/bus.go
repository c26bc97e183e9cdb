package otg

import (
	"sync"

	"github.com/embdrv/usbd/debug"
	"github.com/embdrv/usbd/usb"
)

// Bus is the device-mode driver for one OTG core instance.  It implements
// usb.Bus.
//
// Foreground calls from the device stack and the interrupt handler that
// forwards into Poll share the register blocks.  Every access sequence is
// bracketed by a critical section that masks the controller's interrupt
// line and takes the bus mutex, so the multi-step sequences in bring-up and
// Poll are atomic with respect to each other.
type Bus struct {
	periph Peripheral
	regs   registers
	mtx    sync.Mutex

	alloc EndpointAllocator
	mem   *EndpointMemoryAllocator

	epIn  [NumEndpoints]EndpointIn
	epOut [NumEndpoints]EndpointOut
}

var _ usb.Bus = (*Bus)(nil)

// NewBus binds a driver to a controller instance.  epMemory is the RAM
// backing the OUT endpoints' software buffers; its size bounds how many OUT
// endpoints can be allocated.
func NewBus(periph Peripheral, epMemory []byte) *Bus {
	b := &Bus{
		periph: periph,
		regs:   newRegisters(periph.BaseAddr()),
		mem:    NewEndpointMemoryAllocator(epMemory),
	}
	for i := range b.epIn {
		b.epIn[i].regs = &b.regs.epIn[i]
		b.epIn[i].fifo = &b.regs.fifo[i]
		b.epIn[i].num = uint8(i)
	}
	for i := range b.epOut {
		b.epOut[i].regs = &b.regs.epOut[i]
		b.epOut[i].num = uint8(i)
	}
	return b
}

func (b *Bus) lock() {
	b.periph.MaskInterrupt()
	b.mtx.Lock()
}

func (b *Bus) unlock() {
	b.mtx.Unlock()
	b.periph.UnmaskInterrupt()
}

// AllocIn reserves an IN endpoint while the device's endpoint set is built.
// No hardware is touched until the next bring-up.
func (b *Bus) AllocIn(config *usb.EndpointConfig) (*EndpointIn, error) {
	desc, err := b.alloc.Alloc(config, usb.DirIn)
	if err != nil {
		return nil, err
	}
	ep := &b.epIn[desc.Address.Number()]
	ep.init(desc)
	return ep, nil
}

// AllocOut reserves an OUT endpoint and grants it a receive buffer from the
// endpoint memory allocator.
func (b *Bus) AllocOut(config *usb.EndpointConfig) (*EndpointOut, error) {
	desc, err := b.alloc.Alloc(config, usb.DirOut)
	if err != nil {
		return nil, err
	}
	buffer, err := b.mem.allocRxBuffer(config.MaxPacketSize)
	if err != nil {
		return nil, err
	}
	ep := &b.epOut[desc.Address.Number()]
	ep.init(desc, buffer)
	return ep, nil
}

// configureAll partitions the shared packet memory and activates every
// allocated endpoint.  Runs once per bus reset.  Caller must hold the
// critical section.
//
// The FIFO offsets are absolute, so the assignment order below must be
// preserved exactly: RX FIFO first, then TX FIFOs in endpoint order.
func (b *Bus) configureAll() {
	regs := b.regs

	var txDemand [NumEndpoints]uint32
	for i := range b.epIn {
		txDemand[i] = b.epIn[i].fifoSizeWords()
	}
	plan := PlanFIFO(b.mem.TotalRxBufferSizeWords(), txDemand, b.periph.HighSpeed())

	depth := b.periph.FIFODepthWords()
	regs.global.grxfsiz.Store(plan.RxWords)
	for i, seg := range plan.Tx {
		// A segment past the end of the packet memory is a static
		// misconfiguration of the endpoint sizes, never a runtime
		// condition.  Fail before programming it.
		if seg.Start+seg.Words > depth {
			panic("otg: endpoint FIFO sizes exceed packet memory")
		}
		v := seg.Words<<16 | seg.Start
		if i == 0 {
			regs.global.dieptxf0.Store(v)
		} else {
			regs.global.dieptxf[i-1].Store(v)
		}
	}

	// Flush all FIFOs so the new partition starts out empty.  TXFNUM
	// persists from earlier single FIFO flushes and must be replaced, not
	// ORed, or the flush-all encoding gets corrupted.
	v := regs.global.grstctl.Load()
	v = v&^txfNumMask | txfNumAll | rxfFlush | txfFlush
	regs.global.grstctl.Store(v)
	for regs.global.grstctl.LoadBits(rxfFlush|txfFlush) != 0 {
	}

	for i := range b.epIn {
		if ep := &b.epIn[i]; ep.IsInitialized() {
			regs.device.daintmsk.SetBits(1 << i)
			ep.configure()
		}
	}
	for i := range b.epOut {
		if ep := &b.epOut[i]; ep.IsInitialized() {
			if i == 0 {
				// Control OUT/SETUP interrupt.
				regs.device.daintmsk.SetBits(1 << daintOutShift)
			}
			ep.configure()
		}
	}
}

// deconfigureAll disables all per-endpoint interrupts and deactivates every
// endpoint, allocated or not.  Idempotent.  Caller must hold the critical
// section.
func (b *Bus) deconfigureAll() {
	b.regs.device.daintmsk.Store(0)
	for i := range b.epIn {
		b.epIn[i].deconfigure()
	}
	for i := range b.epOut {
		b.epOut[i].deconfigure()
	}
}

// Enable powers up the core, forces device mode and soft-connects to the
// host.  Called once at startup.
func (b *Bus) Enable() {
	b.periph.Enable()

	b.lock()
	defer b.unlock()
	regs := b.regs

	for regs.global.grstctl.LoadBits(ahbIdle) == 0 {
	}

	// Force device mode, set turnaround time, no SRP.  The full-speed
	// variant's PHYSEL is hardwired and stays untouched.
	cfg := regs.global.gusbcfg.Load()
	cfg &^= srpCapable | trdtMask | tocalMask
	if b.periph.HighSpeed() {
		cfg |= trdtHighSpeed<<trdtShift | 0x1 | physel
	} else {
		cfg |= trdtFullSpeed << trdtShift
	}
	cfg |= forceDevice
	regs.global.gusbcfg.Store(cfg)

	// No VBUS sensing, the core treats the bus as always powered.
	regs.global.gccfg.Store(noVbusSense)

	// Ungate the PHY clock.
	regs.pwrclk.Store(0)

	// Stay soft-disconnected until everything below is in place.
	regs.device.dctl.SetBits(softDisconnect)

	spd := speedFull
	if b.periph.HighSpeed() {
		spd = speedHigh
	}
	regs.device.dcfg.StoreBits(speedMask, spd)

	regs.device.diepmsk.Store(xferComplMask)

	// The core level interrupts Poll consumes.
	regs.global.gintmsk.Store(intReset | intEnumDone | intSuspend |
		intWakeup | intInEp | intRxLevel)

	// Drop anything pending from before.
	regs.global.gintsts.Store(^intFlags(0))

	regs.global.gahbcfg.SetBits(globalIntEnable)

	// Power the transceiver and connect.
	regs.global.gccfg.SetBits(transceiverOn)
	regs.device.dctl.ClearBits(softDisconnect)
}

// Reset reconfigures all endpoints after a bus reset.  A fresh enumeration
// always starts unaddressed.
func (b *Bus) Reset() {
	b.lock()
	defer b.unlock()

	b.configureAll()
	b.regs.device.dcfg.ClearBits(devAddrMask)
}

// Poll reads the controller's interrupt status once, acknowledges what it
// classified and returns the resulting bus event.  All state lives in the
// hardware registers and the endpoint buffers, so Poll itself carries
// nothing between calls.
func (b *Bus) Poll() usb.PollResult {
	b.lock()
	defer b.unlock()
	regs := b.regs

	st := regs.global.gintsts.Load()

	if st&intReset != 0 {
		regs.global.gintsts.Store(intReset)

		b.deconfigureAll()

		regs.global.grstctl.SetBits(rxfFlush)
		for regs.global.grstctl.LoadBits(rxfFlush) != 0 {
		}
		// Fall through, enumeration may already have finished in the
		// same snapshot.
	}

	switch {
	case st&intEnumDone != 0:
		regs.global.gintsts.Store(intEnumDone)
		return usb.PollResult{Kind: usb.PollReset}
	case st&intWakeup != 0:
		regs.global.gintsts.Store(intWakeup)
		return usb.PollResult{Kind: usb.PollResume}
	case st&intSuspend != 0:
		regs.global.gintsts.Store(intSuspend)
		return usb.PollResult{Kind: usb.PollSuspend}
	}

	var out, inComplete, setup uint8

	// RXFLVL and IEPINT are read-only summaries, no acknowledge needed.
	if st&intRxLevel != 0 {
		status := regs.global.grxstsr.Load() // peek, do not pop yet
		epnum := status.epNum()
		debug.Assert(epnum < NumEndpoints, "rx status for impossible endpoint")

		switch status.pktSts() {
		case pktOutReceived:
			out |= 1 << epnum
		case pktSetupReceived:
			// A stale IN packet left over from an aborted control
			// transfer must not linger in the TX FIFO.
			if regs.epIn[epnum].dieptsiz.Load()&pktCntMask != 0 {
				v := regs.global.grstctl.Load()
				v = v&^txfNumMask | rstFlags(epnum)<<txfNumShift | txfFlush
				regs.global.grstctl.Store(v)
				for regs.global.grstctl.LoadBits(txfFlush) != 0 {
				}
			}
			setup |= 1 << epnum
		case pktOutCompleted, pktSetupCompleted:
			// Re-arm the endpoint for further reception.
			regs.epOut[epnum].doepctl.SetBits(clearNak | epEnable)
			regs.global.grxstsp.Load() // pop
		default:
			regs.global.grxstsp.Load() // pop
		}

		if s := status.pktSts(); s == pktOutReceived || s == pktSetupReceived {
			ep := &b.epOut[epnum]
			if ep.BufferState() == BufferEmpty && ep.buffer != nil {
				regs.global.grxstsp.Load() // pop
				_ = ep.buffer.fillFromFIFO(&regs.fifo[epnum],
					status.byteCount(), s == pktSetupReceived)
			}
			// Otherwise the entry stays in the FIFO and is observed
			// again once the consumer freed the buffer.
		}
	}

	if st&intInEp != 0 {
		for i := range b.epIn {
			if !b.epIn[i].IsInitialized() {
				continue
			}
			if regs.epIn[i].diepint.LoadBits(xferCompl) != 0 {
				regs.epIn[i].diepint.Store(xferCompl)
				inComplete |= 1 << i
			}
		}
	}

	// Buffers filled on an earlier call but not yet consumed keep being
	// reported.
	for i := range b.epOut {
		if !b.epOut[i].IsInitialized() {
			continue
		}
		switch b.epOut[i].BufferState() {
		case BufferDataOut:
			out |= 1 << i
		case BufferDataSetup:
			setup |= 1 << i
		}
	}

	if out|inComplete|setup != 0 {
		return usb.PollResult{
			Kind:       usb.PollData,
			Out:        out,
			InComplete: inComplete,
			Setup:      setup,
		}
	}
	return usb.PollResult{}
}

// SetDeviceAddress writes the 7-bit device address.  Must be called before
// the SET_ADDRESS status stage is acknowledged, see SetAddressBeforeStatus.
func (b *Bus) SetDeviceAddress(addr uint8) {
	b.lock()
	defer b.unlock()

	b.regs.device.dcfg.StoreBits(devAddrMask, dcfgFlags(addr)<<devAddrShift)
}

// SetStalled sets or clears an endpoint's STALL condition.  Endpoint
// numbers the controller does not implement are ignored.
func (b *Bus) SetStalled(addr usb.EndpointAddress, stalled bool) {
	if addr.Number() >= NumEndpoints {
		return
	}

	b.lock()
	defer b.unlock()
	if addr.IsIn() {
		b.epIn[addr.Number()].setStalled(stalled)
	} else {
		b.epOut[addr.Number()].setStalled(stalled)
	}
}

// IsStalled reports an endpoint's STALL condition.  Endpoint numbers the
// controller does not implement report stalled.
func (b *Bus) IsStalled(addr usb.EndpointAddress) bool {
	if addr.Number() >= NumEndpoints {
		return true
	}

	b.lock()
	defer b.unlock()
	if addr.IsIn() {
		return b.epIn[addr.Number()].isStalled()
	}
	return b.epOut[addr.Number()].isStalled()
}

// Suspend and Resume have nothing to do beyond what Poll already performs
// on the corresponding interrupts.
func (b *Bus) Suspend() {}
func (b *Bus) Resume()  {}

// SetAddressBeforeStatus reports that this core requires the device address
// register to be written before the SET_ADDRESS status stage.
func (b *Bus) SetAddressBeforeStatus() bool { return true }
