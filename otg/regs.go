package otg

import (
	"embedded/mmio"
	"unsafe"
)

// The controller exposes one 4 KiB register window followed by one 4 KiB
// FIFO window per endpoint.  Register blocks inside the first window:
const (
	deviceOffset = 0x0800
	epInOffset   = 0x0900
	epOutOffset  = 0x0b00
	pwrclkOffset = 0x0e00
	fifoOffset   = 0x1000
	fifoStride   = 0x1000
)

// NumEndpoints is the number of bidirectional endpoints the core implements,
// including the control endpoint 0.
const NumEndpoints = 4

type registers struct {
	global *globalRegs
	device *deviceRegs
	pwrclk *mmio.U32 // PCGCCTL
	epIn   *[NumEndpoints]epInRegs
	epOut  *[NumEndpoints]epOutRegs
	fifo   *[NumEndpoints]fifoRegs
}

func newRegisters(base uintptr) registers {
	return registers{
		global: (*globalRegs)(unsafe.Pointer(base)),
		device: (*deviceRegs)(unsafe.Pointer(base + deviceOffset)),
		pwrclk: (*mmio.U32)(unsafe.Pointer(base + pwrclkOffset)),
		epIn:   (*[NumEndpoints]epInRegs)(unsafe.Pointer(base + epInOffset)),
		epOut:  (*[NumEndpoints]epOutRegs)(unsafe.Pointer(base + epOutOffset)),
		fifo:   (*[NumEndpoints]fifoRegs)(unsafe.Pointer(base + fifoOffset)),
	}
}

type globalRegs struct {
	gotgctl  mmio.U32
	gotgint  mmio.U32
	gahbcfg  mmio.R32[ahbFlags]
	gusbcfg  mmio.R32[usbCfgFlags]
	grstctl  mmio.R32[rstFlags]
	gintsts  mmio.R32[intFlags]
	gintmsk  mmio.R32[intFlags]
	grxstsr  mmio.R32[rxStatus] // read without popping
	grxstsp  mmio.R32[rxStatus] // reading pops the status entry
	grxfsiz  mmio.U32
	dieptxf0 mmio.U32 // GNPTXFSIZ on high-speed cores
	hnptxsts mmio.U32
	_        [2]mmio.U32
	gccfg    mmio.R32[ccfgFlags]
	cid      mmio.U32
	_        [49]mmio.U32
	dieptxf  [NumEndpoints - 1]mmio.U32 // DIEPTXF1..3
}

type deviceRegs struct {
	dcfg     mmio.R32[dcfgFlags]
	dctl     mmio.R32[dctlFlags]
	dsts     mmio.U32
	_        mmio.U32
	diepmsk  mmio.R32[depMskFlags]
	doepmsk  mmio.U32
	daint    mmio.U32
	daintmsk mmio.U32
}

type epInRegs struct {
	diepctl  mmio.R32[epCtlFlags]
	_        mmio.U32
	diepint  mmio.R32[epIntFlags]
	_        mmio.U32
	dieptsiz mmio.U32
	_        mmio.U32
	dtxfsts  mmio.U32 // free space in the endpoint's TX FIFO, in words
	_        mmio.U32
}

type epOutRegs struct {
	doepctl  mmio.R32[epCtlFlags]
	_        mmio.U32
	doepint  mmio.U32
	_        mmio.U32
	doeptsiz mmio.U32
	_        [3]mmio.U32
}

// Each FIFO is accessed through any word of its 4 KiB window.  Reads pop,
// writes push.
type fifoRegs struct {
	w [fifoStride / 4]mmio.U32
}

// GAHBCFG
type ahbFlags uint32

const (
	globalIntEnable ahbFlags = 1 << 0 // GINT
)

// GUSBCFG
type usbCfgFlags uint32

const (
	tocalMask   usbCfgFlags = 0x7
	physel      usbCfgFlags = 1 << 6
	srpCapable  usbCfgFlags = 1 << 8
	trdtShift               = 10
	trdtMask    usbCfgFlags = 0xf << trdtShift
	forceDevice usbCfgFlags = 1 << 30 // FDMOD
)

// Turnaround time in PHY clocks, per speed variant.
const (
	trdtFullSpeed = 0x6
	trdtHighSpeed = 0x9
)

// GRSTCTL
type rstFlags uint32

const (
	coreReset   rstFlags = 1 << 0 // CSRST
	rxfFlush    rstFlags = 1 << 4 // RXFFLSH
	txfFlush    rstFlags = 1 << 5 // TXFFLSH
	txfNumShift          = 6
	txfNumMask  rstFlags = 0x1f << txfNumShift
	txfNumAll   rstFlags = 0x10 << txfNumShift // flush all TX FIFOs at once
	ahbIdle     rstFlags = 1 << 31 // AHBIDL
)

// GINTSTS and GINTMSK share the same layout.
type intFlags uint32

const (
	intRxLevel  intFlags = 1 << 4  // RXFLVL, RX FIFO non-empty
	intSuspend  intFlags = 1 << 11 // USBSUSP
	intReset    intFlags = 1 << 12 // USBRST
	intEnumDone intFlags = 1 << 13 // ENUMDNE
	intInEp     intFlags = 1 << 18 // IEPINT, per-endpoint IN summary
	intOutEp    intFlags = 1 << 19 // OEPINT
	intWakeup   intFlags = 1 << 31 // WKUPINT
)

// GCCFG
type ccfgFlags uint32

const (
	transceiverOn ccfgFlags = 1 << 16 // PWRDWN, deactivates the power down
	vbusBSense    ccfgFlags = 1 << 19 // VBUSBSEN
	noVbusSense   ccfgFlags = 1 << 21 // NOVBUSSENS
)

// GRXSTSR/GRXSTSP fields.
type rxStatus uint32

const (
	rxEpNumMask  rxStatus = 0xf
	rxBcntShift           = 4
	rxBcntMask   rxStatus = 0x7ff << rxBcntShift
	rxPktStsShift         = 17
	rxPktStsMask rxStatus = 0xf << rxPktStsShift
)

func (s rxStatus) epNum() uint8      { return uint8(s & rxEpNumMask) }
func (s rxStatus) byteCount() uint16 { return uint16((s & rxBcntMask) >> rxBcntShift) }
func (s rxStatus) pktSts() uint32    { return uint32((s & rxPktStsMask) >> rxPktStsShift) }

// PKTSTS codes in device mode.
const (
	pktGlobalOutNak   = 0x01
	pktOutReceived    = 0x02
	pktOutCompleted   = 0x03
	pktSetupCompleted = 0x04
	pktSetupReceived  = 0x06
)

// DCFG
type dcfgFlags uint32

const (
	speedMask     dcfgFlags = 0x3 // DSPD
	speedHigh     dcfgFlags = 0x0
	speedFull     dcfgFlags = 0x3 // internal full-speed PHY
	devAddrShift            = 4
	devAddrMask   dcfgFlags = 0x7f << devAddrShift // DAD
)

// DCTL
type dctlFlags uint32

const (
	remoteWakeup   dctlFlags = 1 << 0
	softDisconnect dctlFlags = 1 << 1 // SDIS
)

// DIEPMSK
type depMskFlags uint32

const (
	xferComplMask depMskFlags = 1 << 0 // XFRCM
)

// DAINTMSK: IN endpoints occupy bits 0..15, OUT endpoints bits 16..31.
const daintOutShift = 16

// DIEPCTLx/DOEPCTLx share a layout for the bits this driver touches.
type epCtlFlags uint32

const (
	mpsizMask   epCtlFlags = 0x7ff
	activeEp    epCtlFlags = 1 << 15 // USBAEP
	nakStatus   epCtlFlags = 1 << 17 // NAKSTS
	epTypShift             = 18
	epTypMask   epCtlFlags = 0x3 << epTypShift
	stallEp     epCtlFlags = 1 << 21 // STALL
	txFifoShift            = 22
	txFifoMask  epCtlFlags = 0xf << txFifoShift // TXFNUM, IN only
	clearNak    epCtlFlags = 1 << 26 // CNAK
	setNak      epCtlFlags = 1 << 27 // SNAK
	setData0Pid epCtlFlags = 1 << 28 // SD0PID/SEVNFRM
	epDisable   epCtlFlags = 1 << 30 // EPDIS
	epEnable    epCtlFlags = 1 << 31 // EPENA
)

// DIEPINTx
type epIntFlags uint32

const (
	xferCompl epIntFlags = 1 << 0 // XFRC
)

// DIEPTSIZx/DOEPTSIZx fields.
const (
	xfrSizMask    = 0x7ffff
	pktCntShift   = 19
	pktCntMask    = 0x3ff << pktCntShift
	setupCntShift = 29
	setupCntMask  = 0x3 << setupCntShift // DOEPTSIZ STUPCNT
)
