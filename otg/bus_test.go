package otg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embdrv/usbd/otg"
	otgtest "github.com/embdrv/usbd/testing"
	"github.com/embdrv/usbd/usb"
)

// DIEPCTL/DOEPCTL bits asserted by the tests.
const (
	ctlUsbAep = 1 << 15
	ctlStall  = 1 << 21
	ctlCnak   = 1 << 26
	ctlSnak   = 1 << 27
	ctlSd0pid = 1 << 28
	ctlEpEna  = 1 << 31
)

func newBus(t *testing.T) (*otg.Bus, *otgtest.Core) {
	c := otgtest.NewCore(false)
	t.Cleanup(c.Close)
	return otg.NewBus(c, make([]byte, 512)), c
}

func mustAllocIn(t *testing.T, b *otg.Bus, cfg *usb.EndpointConfig) *otg.EndpointIn {
	ep, err := b.AllocIn(cfg)
	require.NoError(t, err)
	return ep
}

func mustAllocOut(t *testing.T, b *otg.Bus, cfg *usb.EndpointConfig) *otg.EndpointOut {
	ep, err := b.AllocOut(cfg)
	require.NoError(t, err)
	return ep
}

func TestEnable(t *testing.T) {
	b, c := newBus(t)

	b.Enable()

	assert.Equal(t, uint32(otgtest.IntReset|otgtest.IntEnumDone|
		otgtest.IntSuspend|otgtest.IntWakeup|otgtest.IntInEp|
		otgtest.IntRxLevel), c.Reg(otgtest.GINTMSK))

	usbcfg := c.Reg(otgtest.GUSBCFG)
	assert.NotZero(t, usbcfg&(1<<30), "device mode not forced")
	assert.Equal(t, uint32(0x6), usbcfg>>10&0xf, "full speed turnaround time")

	assert.Equal(t, uint32(0x3), c.Reg(otgtest.DCFG)&0x3, "full speed")
	assert.Equal(t, uint32(1), c.Reg(otgtest.GAHBCFG)&1, "global interrupt enable")
	assert.Equal(t, uint32(1<<21|1<<16), c.Reg(otgtest.GCCFG))
	assert.Zero(t, c.Reg(otgtest.DCTL)&0x2, "still soft-disconnected")
	assert.Zero(t, c.Reg(otgtest.PCGCCTL))
	assert.Equal(t, uint32(1), c.Reg(otgtest.DIEPMSK))
}

func TestEnableLeavesPhySelection(t *testing.T) {
	b, c := newBus(t)

	// PHYSEL is hardwired on the full-speed variant; bring-up must not
	// modify it.
	c.OrReg(otgtest.GUSBCFG, 1<<6)
	b.Enable()

	assert.NotZero(t, c.Reg(otgtest.GUSBCFG)&(1<<6))
}

func TestResetPartitionsFIFOs(t *testing.T) {
	b, c := newBus(t)
	mustAllocIn(t, b, control(0, 64))
	mustAllocOut(t, b, control(0, 64))
	mustAllocIn(t, b, bulk(1, 64))

	c.SetReg(otgtest.DCFG, 0x2a<<4) // pretend we were addressed before
	b.Reset()

	// One 64 byte OUT buffer -> 16 words demand, +20 words full-speed
	// headroom.
	assert.Equal(t, uint32(36), c.Reg(otgtest.GRXFSIZ))

	// TX FIFOs stack bottom up above the RX FIFO, 16 word minimum each.
	assert.Equal(t, uint32(16<<16|36), c.Reg(otgtest.DIEPTXF0))
	assert.Equal(t, uint32(16<<16|52), c.Reg(otgtest.DIEPTXF(1)))
	assert.Equal(t, uint32(16<<16|68), c.Reg(otgtest.DIEPTXF(2)))
	assert.Equal(t, uint32(16<<16|84), c.Reg(otgtest.DIEPTXF(3)))

	// Per-endpoint interrupts for the allocated endpoints only.
	assert.Equal(t, uint32(1<<0|1<<1|1<<16), c.Reg(otgtest.DAINTMSK))

	// EP0 IN: active, NAKed, control type, 64 byte packets (MPSIZ 0).
	assert.Equal(t, uint32(ctlUsbAep|ctlSnak), c.Reg(otgtest.DIEPCTL(0)))
	// Bulk IN 1: active, NAKed, bulk type, TX FIFO 1, DATA0.
	assert.Equal(t, uint32(ctlUsbAep|ctlSnak|ctlSd0pid|2<<18|1<<22|64),
		c.Reg(otgtest.DIEPCTL(1)))
	// EP0 OUT: active and armed for reception.
	assert.Equal(t, uint32(ctlUsbAep|ctlEpEna|ctlCnak), c.Reg(otgtest.DOEPCTL(0)))
	assert.Equal(t, uint32(3<<29|1<<19|64), c.Reg(otgtest.DOEPTSIZ(0)))

	// A fresh enumeration starts unaddressed.
	assert.Zero(t, c.Reg(otgtest.DCFG)>>4&0x7f)
}

func TestResetOverflowPanics(t *testing.T) {
	b, c := newBus(t)
	mustAllocIn(t, b, bulk(1, 512))
	mustAllocIn(t, b, bulk(2, 512))
	mustAllocIn(t, b, bulk(3, 512))

	// 20 + 16 + 3*128 words exceed the 320 word packet memory.
	assert.Panics(t, func() { b.Reset() })

	// Fail fast: the FIFOs below the overflow are programmed, the
	// overflowing one is not.
	assert.Equal(t, uint32(128<<16|164), c.Reg(otgtest.DIEPTXF(2)))
	assert.Zero(t, c.Reg(otgtest.DIEPTXF(3)))
}

func TestResetFlushesAllFIFOs(t *testing.T) {
	b, c := newBus(t)
	mustAllocOut(t, b, bulk(2, 64))

	// A stale IN transfer aborted by a SETUP latches that endpoint's
	// FIFO number into GRSTCTL.TXFNUM, where it persists after the
	// single FIFO flush completes.
	c.SetReg(otgtest.DIEPTSIZ(2), 1<<19|8)
	c.PushRx(2, otgtest.PktSetupReceived, make([]byte, 8))
	b.Poll()
	require.Equal(t, uint32(2), c.Reg(otgtest.GRSTCTL)>>6&0x1f)

	// The next reconfiguration must flush all FIFOs, not FIFO 2|0x10.
	b.Reset()
	assert.Equal(t, uint32(0x10), c.Reg(otgtest.GRSTCTL)>>6&0x1f)
}

func TestPollNone(t *testing.T) {
	b, c := newBus(t)

	assert.Equal(t, usb.PollResult{}, b.Poll())
	assert.Equal(t, usb.PollResult{}, b.Poll())
	assert.Zero(t, c.Reg(otgtest.GINTSTS))
}

func TestPollBusStates(t *testing.T) {
	b, c := newBus(t)

	c.RaiseInterrupt(otgtest.IntEnumDone)
	assert.Equal(t, usb.PollReset, b.Poll().Kind)

	c.SetReg(otgtest.GINTSTS, otgtest.IntWakeup)
	assert.Equal(t, usb.PollResume, b.Poll().Kind)

	c.SetReg(otgtest.GINTSTS, otgtest.IntSuspend)
	assert.Equal(t, usb.PollSuspend, b.Poll().Kind)
}

func TestPollPriority(t *testing.T) {
	b, c := newBus(t)
	mustAllocOut(t, b, control(0, 64))
	b.Reset()

	// Reset handling falls through to enumeration-done in the same
	// snapshot and wins against suspend.
	c.SetReg(otgtest.GINTSTS, otgtest.IntReset|otgtest.IntEnumDone|
		otgtest.IntSuspend)
	assert.Equal(t, usb.PollReset, b.Poll().Kind)

	// The reset path tore down all endpoints.
	assert.Zero(t, c.Reg(otgtest.DAINTMSK))
	assert.Zero(t, c.Reg(otgtest.DOEPCTL(0)))
}

func TestPollResetOnly(t *testing.T) {
	b, c := newBus(t)
	mustAllocIn(t, b, control(0, 64))
	b.Reset()

	c.SetReg(otgtest.GINTSTS, otgtest.IntReset)
	assert.Equal(t, usb.PollNone, b.Poll().Kind)
	assert.Zero(t, c.Reg(otgtest.DAINTMSK))
	assert.Zero(t, c.Reg(otgtest.DIEPCTL(0)))
}

func TestPollOutReceived(t *testing.T) {
	b, c := newBus(t)
	ep := mustAllocOut(t, b, control(0, 64))

	c.PushRx(0, otgtest.PktOutReceived, []byte{1, 2, 3, 4, 5})

	res := b.Poll()
	assert.Equal(t, usb.PollData, res.Kind)
	assert.Equal(t, uint8(1<<0), res.Out)
	assert.Zero(t, res.Setup)
	assert.Equal(t, otg.BufferDataOut, ep.BufferState())

	var buf [64]byte
	n, setup, err := ep.ReadPacket(buf[:])
	require.NoError(t, err)
	assert.False(t, setup)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, buf[:n])
	assert.Equal(t, otg.BufferEmpty, ep.BufferState())
}

func TestPollSetupReceived(t *testing.T) {
	b, c := newBus(t)
	ep := mustAllocOut(t, b, control(0, 64))

	setupPkt := []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x40, 0x00}
	c.PushRx(0, otgtest.PktSetupReceived, setupPkt)

	res := b.Poll()
	assert.Equal(t, usb.PollData, res.Kind)
	assert.Equal(t, uint8(1<<0), res.Setup)
	assert.Equal(t, otg.BufferDataSetup, ep.BufferState())

	// No stale IN packet was pending, so no TX flush was requested.
	assert.Zero(t, c.Reg(otgtest.GRSTCTL)>>6&0x1f)

	var buf [8]byte
	n, setup, err := ep.ReadPacket(buf[:])
	require.NoError(t, err)
	assert.True(t, setup)
	assert.Equal(t, setupPkt, buf[:n])

	var pkt usb.SetupPacket
	require.NoError(t, usb.ParseSetupPacket(buf[:n], &pkt))
	assert.Equal(t, uint8(usb.RequestGetDescriptor), pkt.Request)
	assert.Equal(t, uint16(64), pkt.Length)
}

func TestPollSetupFlushesStaleIn(t *testing.T) {
	b, c := newBus(t)
	ep := mustAllocOut(t, b, bulk(2, 64))

	// A packet count left in DIEPTSIZ2 marks a stale IN transfer from
	// an aborted control transfer.
	c.SetReg(otgtest.DIEPTSIZ(2), 1<<19|8)
	c.PushRx(2, otgtest.PktSetupReceived, make([]byte, 8))

	res := b.Poll()
	assert.Equal(t, uint8(1<<2), res.Setup)

	// TX FIFO 2 was selected for flushing before the SETUP was
	// reported.
	assert.Equal(t, uint32(2), c.Reg(otgtest.GRSTCTL)>>6&0x1f)
	assert.Equal(t, otg.BufferDataSetup, ep.BufferState())
}

func TestPollOutCompletedRearms(t *testing.T) {
	b, c := newBus(t)
	mustAllocOut(t, b, control(0, 64))

	c.PushRx(0, otgtest.PktOutCompleted, nil)

	assert.Equal(t, usb.PollNone, b.Poll().Kind)
	got := c.Reg(otgtest.DOEPCTL(0))
	assert.NotZero(t, got&ctlCnak)
	assert.NotZero(t, got&ctlEpEna)
}

func TestPollInComplete(t *testing.T) {
	b, c := newBus(t)
	mustAllocIn(t, b, bulk(1, 64))

	c.RaiseInterrupt(otgtest.IntInEp)
	c.SetReg(otgtest.DIEPINT(1), otgtest.IntXferCompl)
	// Interrupts of endpoints that were never allocated are ignored.
	c.SetReg(otgtest.DIEPINT(2), otgtest.IntXferCompl)

	res := b.Poll()
	assert.Equal(t, usb.PollData, res.Kind)
	assert.Equal(t, uint8(1<<1), res.InComplete)
	assert.Zero(t, res.Out)
}

func TestPollBackpressure(t *testing.T) {
	b, c := newBus(t)
	ep := mustAllocOut(t, b, control(0, 64))

	c.PushRx(0, otgtest.PktOutReceived, []byte{0xaa, 0xbb, 0xcc, 0xdd})
	res := b.Poll()
	assert.Equal(t, uint8(1<<0), res.Out)

	// A new packet arrives while the buffer is still full.  Poll keeps
	// reporting the endpoint but must not drain the FIFO over the
	// unconsumed packet.
	c.PushRx(0, otgtest.PktOutReceived, []byte{0x11, 0x22, 0x33, 0x44})
	for range 3 {
		res = b.Poll()
		assert.Equal(t, usb.PollData, res.Kind)
		assert.Equal(t, uint8(1<<0), res.Out)
	}

	var buf [64]byte
	n, _, err := ep.ReadPacket(buf[:])
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, buf[:n])

	// With the buffer free again, the pending entry is finally drained.
	res = b.Poll()
	assert.Equal(t, uint8(1<<0), res.Out)
	n, _, err = ep.ReadPacket(buf[:])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, buf[:n])
}

func TestWritePacket(t *testing.T) {
	b, c := newBus(t)
	ep := mustAllocIn(t, b, bulk(1, 64))

	c.SetReg(otgtest.DTXFSTS(1), 64) // plenty of FIFO space

	require.NoError(t, ep.WritePacket([]byte{1, 2, 3, 4, 5}))
	assert.Equal(t, uint32(1<<19|5), c.Reg(otgtest.DIEPTSIZ(1)))
	got := c.Reg(otgtest.DIEPCTL(1))
	assert.NotZero(t, got&ctlCnak)
	assert.NotZero(t, got&ctlEpEna)
	assert.Equal(t, uint32(0x04030201), c.Reg(otgtest.FIFO(1)))
	assert.Equal(t, uint32(0x05), c.Reg(otgtest.FIFO(1)+4))

	// The previous packet still occupies the FIFO.
	assert.ErrorIs(t, ep.WritePacket([]byte{6}), usb.ErrWouldBlock)

	c.SetReg(otgtest.DIEPTSIZ(1), 0)
	assert.ErrorIs(t, ep.WritePacket(make([]byte, 65)), usb.ErrBufferOverflow)
}

func TestWritePacketFIFOFull(t *testing.T) {
	b, c := newBus(t)
	ep := mustAllocIn(t, b, bulk(1, 64))

	c.SetReg(otgtest.DTXFSTS(1), 1)
	assert.ErrorIs(t, ep.WritePacket(make([]byte, 8)), usb.ErrWouldBlock)
}

func TestSetDeviceAddress(t *testing.T) {
	b, c := newBus(t)

	b.SetDeviceAddress(0x2a)
	assert.Equal(t, uint32(0x2a), c.Reg(otgtest.DCFG)>>4&0x7f)

	assert.True(t, b.SetAddressBeforeStatus())
}

func TestStall(t *testing.T) {
	b, c := newBus(t)
	mustAllocIn(t, b, bulk(1, 64))
	mustAllocOut(t, b, bulk(1, 64))

	in := usb.NewEndpointAddress(1, usb.DirIn)
	out := usb.NewEndpointAddress(1, usb.DirOut)

	b.SetStalled(in, true)
	assert.NotZero(t, c.Reg(otgtest.DIEPCTL(1))&ctlStall)
	assert.True(t, b.IsStalled(in))
	assert.False(t, b.IsStalled(out))

	b.SetStalled(in, false)
	assert.Zero(t, c.Reg(otgtest.DIEPCTL(1))&ctlStall)
	assert.NotZero(t, c.Reg(otgtest.DIEPCTL(1))&ctlSd0pid)

	b.SetStalled(out, true)
	assert.NotZero(t, c.Reg(otgtest.DOEPCTL(1))&ctlStall)
	assert.True(t, b.IsStalled(out))
}

func TestStallOutOfRange(t *testing.T) {
	b, _ := newBus(t)

	addr := usb.NewEndpointAddress(5, usb.DirIn)
	b.SetStalled(addr, true) // must not touch anything
	assert.True(t, b.IsStalled(addr))
}

func TestAllocOutMemoryOverflow(t *testing.T) {
	c := otgtest.NewCore(false)
	t.Cleanup(c.Close)
	b := otg.NewBus(c, make([]byte, 8))

	_, err := b.AllocOut(control(0, 64))
	assert.ErrorIs(t, err, usb.ErrEndpointMemoryOverflow)
}
