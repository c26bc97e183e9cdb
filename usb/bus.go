package usb

// PollKind classifies the result of a single Bus.Poll call.
type PollKind uint8

const (
	PollNone    PollKind = iota // nothing happened
	PollReset                   // bus reset and speed negotiation completed
	PollResume                  // host resumed the bus
	PollSuspend                 // host suspended the bus
	PollData                    // endpoint data events, see the masks
)

// PollResult is returned by Bus.Poll.  The masks are only meaningful for
// PollData and are bitfields over endpoint numbers: bit n set means endpoint
// n has the corresponding event pending.
type PollResult struct {
	Kind       PollKind
	Out        uint8 // OUT data received
	InComplete uint8 // IN transfer completed
	Setup      uint8 // SETUP packet received
}

// Bus is the contract a device-mode controller driver exposes to the generic
// USB device stack.
//
// The stack calls Enable once, then drives everything through Poll, issuing
// the control operations synchronously in response to the events Poll
// surfaced.  Poll must be called often enough that controller FIFOs never
// back up, typically from the controller's interrupt handler.
type Bus interface {
	// Enable powers up the controller and connects to the host.
	Enable()

	// Reset (re)configures all allocated endpoints after a bus reset and
	// clears the device address.  Called by the stack in response to
	// PollReset.
	Reset()

	// Poll reads and acknowledges pending controller events.
	Poll() PollResult

	// SetDeviceAddress sets the 7-bit device address.  If the driver
	// reports the SetAddressBeforeStatus quirk, the stack must call this
	// before acknowledging the status stage of SET_ADDRESS.
	SetDeviceAddress(addr uint8)

	// SetStalled sets or clears an endpoint's STALL condition.
	SetStalled(addr EndpointAddress, stalled bool)

	// IsStalled reports whether an endpoint is stalled.  Endpoints that
	// cannot exist on the controller report true.
	IsStalled(addr EndpointAddress) bool

	// Suspend and Resume notify the driver of the corresponding bus
	// state.  Drivers that handle this in Poll may treat them as no-ops.
	Suspend()
	Resume()

	// SetAddressBeforeStatus reports the controller quirk that the
	// device address register must be written before the SET_ADDRESS
	// status stage is acknowledged.
	SetAddressBeforeStatus() bool
}
