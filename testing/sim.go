// Package testing provides a simulated OTG core for driver tests that run
// without the real peripheral.
//
// The simulation backs the controller's register and FIFO windows with RAM
// and models the little autonomous behavior the driver busy-waits on: the
// AHB idle flag and FIFO flush completion.  Status registers are plain
// memory, they do not implement write-1-to-clear or pop-on-read, so tests
// should raise exactly the state they need and assert per-call results.
package testing

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Register offsets, mirroring the hardware layout.
const (
	GAHBCFG  = 0x008
	GUSBCFG  = 0x00c
	GRSTCTL  = 0x010
	GINTSTS  = 0x014
	GINTMSK  = 0x018
	GRXSTSR  = 0x01c
	GRXSTSP  = 0x020
	GRXFSIZ  = 0x024
	DIEPTXF0 = 0x028
	GCCFG    = 0x038

	DCFG     = 0x800
	DCTL     = 0x804
	DIEPMSK  = 0x810
	DAINTMSK = 0x81c

	PCGCCTL = 0xe00
)

// DIEPTXF returns the offset of the DIEPTXFn register, n in 1..3.
func DIEPTXF(n int) uintptr { return 0x104 + uintptr(n-1)*4 }

// DIEPCTL, DIEPINT, DIEPTSIZ and DTXFSTS return per-IN-endpoint register
// offsets.
func DIEPCTL(n int) uintptr  { return 0x900 + uintptr(n)*0x20 }
func DIEPINT(n int) uintptr  { return 0x908 + uintptr(n)*0x20 }
func DIEPTSIZ(n int) uintptr { return 0x910 + uintptr(n)*0x20 }
func DTXFSTS(n int) uintptr  { return 0x918 + uintptr(n)*0x20 }

// DOEPCTL and DOEPTSIZ return per-OUT-endpoint register offsets.
func DOEPCTL(n int) uintptr  { return 0xb00 + uintptr(n)*0x20 }
func DOEPTSIZ(n int) uintptr { return 0xb10 + uintptr(n)*0x20 }

// FIFO returns the offset of endpoint n's FIFO window.
func FIFO(n int) uintptr { return 0x1000 + uintptr(n)*0x1000 }

// Interrupt bits of GINTSTS/GINTMSK.
const (
	IntRxLevel  = 1 << 4
	IntSuspend  = 1 << 11
	IntReset    = 1 << 12
	IntEnumDone = 1 << 13
	IntInEp     = 1 << 18
	IntWakeup   = 1 << 31
)

// GRSTCTL bits modeled by the simulation.
const (
	rstRxfFlush = 1 << 4
	rstTxfFlush = 1 << 5
	rstAhbIdle  = 1 << 31
)

// PKTSTS codes for PushRx.
const (
	PktOutReceived    = 0x02
	PktOutCompleted   = 0x03
	PktSetupCompleted = 0x04
	PktSetupReceived  = 0x06
)

// DIEPINT bits.
const IntXferCompl = 1 << 0

const simWords = 0x5000 / 4 // register window plus four FIFO windows

// Core simulates one OTG controller instance.  It implements the driver's
// Peripheral interface.
type Core struct {
	mem     []uint32
	hs      bool
	depth   uint32
	done    chan struct{}
	stopped chan struct{}
}

// NewCore starts a simulated core.  Callers must Close it, typically via
// t.Cleanup.
func NewCore(highSpeed bool) *Core {
	depth := uint32(320)
	if highSpeed {
		depth = 1024
	}
	c := &Core{
		mem:     make([]uint32, simWords),
		hs:      highSpeed,
		depth:   depth,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.SetReg(GRSTCTL, rstAhbIdle)
	go c.run()
	return c
}

// Close stops the simulation goroutine.
func (c *Core) Close() {
	close(c.done)
	<-c.stopped
}

// run completes FIFO flush requests and keeps the AHB idle flag set, the
// two conditions the driver busy-waits on.
func (c *Core) run() {
	defer close(c.stopped)
	p := &c.mem[GRSTCTL/4]
	for {
		select {
		case <-c.done:
			return
		default:
		}
		old := atomic.LoadUint32(p)
		want := old&^(rstRxfFlush|rstTxfFlush) | rstAhbIdle
		if want != old {
			atomic.CompareAndSwapUint32(p, old, want)
		}
		runtime.Gosched()
	}
}

// Peripheral interface.

func (c *Core) BaseAddr() uintptr      { return uintptr(unsafe.Pointer(&c.mem[0])) }
func (c *Core) HighSpeed() bool        { return c.hs }
func (c *Core) FIFODepthWords() uint32 { return c.depth }
func (c *Core) Enable()                {}
func (c *Core) MaskInterrupt()         {}
func (c *Core) UnmaskInterrupt()       {}

// Reg returns the register word at off.
func (c *Core) Reg(off uintptr) uint32 {
	return atomic.LoadUint32(&c.mem[off/4])
}

// SetReg stores v at register offset off.
func (c *Core) SetReg(off uintptr, v uint32) {
	atomic.StoreUint32(&c.mem[off/4], v)
}

// OrReg sets bits in the register at off.
func (c *Core) OrReg(off uintptr, bits uint32) {
	for {
		old := atomic.LoadUint32(&c.mem[off/4])
		if atomic.CompareAndSwapUint32(&c.mem[off/4], old, old|bits) {
			return
		}
	}
}

// RaiseInterrupt sets status bits in GINTSTS.
func (c *Core) RaiseInterrupt(bits uint32) {
	c.OrReg(GINTSTS, bits)
}

// PushRx places one status entry in the RX FIFO status registers, copies
// data into the endpoint's FIFO window and raises the RX level interrupt.
func (c *Core) PushRx(epnum int, pktsts uint32, data []byte) {
	status := uint32(epnum)&0xf | uint32(len(data))<<4 | pktsts<<17
	c.SetReg(GRXSTSR, status)
	c.SetReg(GRXSTSP, status)
	fifo := FIFO(epnum)
	for i := 0; i < len(data); i += 4 {
		var w uint32
		for j := 0; j < 4 && i+j < len(data); j++ {
			w |= uint32(data[i+j]) << (8 * j)
		}
		c.SetReg(fifo+uintptr(i), w)
	}
	c.RaiseInterrupt(IntRxLevel)
}
