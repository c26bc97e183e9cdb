package otg

// Peripheral describes a concrete instance of the OTG core to the driver:
// where its registers live, which speed variant it is and how to gate its
// clock and interrupt line.  Implementations are chip specific.
type Peripheral interface {
	// BaseAddr returns the base address of the controller's register
	// window.
	BaseAddr() uintptr

	// HighSpeed reports whether this is the high-speed variant of the
	// core.  It selects turnaround time, PHY configuration and the RX
	// FIFO headroom.
	HighSpeed() bool

	// FIFODepthWords returns the total depth of the controller's shared
	// packet memory in 32-bit words.
	FIFODepthWords() uint32

	// Enable enables the peripheral clock so the register window becomes
	// accessible.
	Enable()

	// MaskInterrupt and UnmaskInterrupt gate the controller's interrupt
	// line at the interrupt controller.  The driver brackets every
	// register access sequence with them, so a foreground call and the
	// interrupt handler never interleave on the register blocks.
	MaskInterrupt()
	UnmaskInterrupt()
}
