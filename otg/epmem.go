package otg

import (
	"sync"

	"github.com/embdrv/usbd/debug"
	"github.com/embdrv/usbd/usb"
)

// BufferState tracks whether an OUT endpoint's software buffer holds an
// unconsumed packet.  The driver only ever fills an empty buffer; freeing it
// again is the consumer's side of the transition.
type BufferState uint8

const (
	BufferEmpty     BufferState = iota
	BufferDataOut               // an OUT data packet waits to be consumed
	BufferDataSetup             // a SETUP packet waits to be consumed
)

// EndpointMemoryAllocator partitions a caller-provided memory region into
// receive buffers for OUT endpoints and keeps the word accounting that later
// sizes the hardware RX FIFO.  Buffers are granted during endpoint
// allocation and never returned.
type EndpointMemoryAllocator struct {
	mem     []byte
	used    int
	rxWords uint32
}

func NewEndpointMemoryAllocator(mem []byte) *EndpointMemoryAllocator {
	return &EndpointMemoryAllocator{mem: mem}
}

func (a *EndpointMemoryAllocator) allocRxBuffer(maxPacketSize uint16) (*endpointBuffer, error) {
	words := packetWords(maxPacketSize)
	size := int(words) * 4
	if a.used+size > len(a.mem) {
		return nil, usb.ErrEndpointMemoryOverflow
	}
	buf := a.mem[a.used : a.used+size]
	a.used += size
	a.rxWords += words
	return &endpointBuffer{data: buf}, nil
}

// TotalRxBufferSizeWords returns the summed receive demand of all granted
// buffers in words.  The RX FIFO must hold at least this much plus the
// status entry headroom.
func (a *EndpointMemoryAllocator) TotalRxBufferSizeWords() uint32 {
	return a.rxWords
}

// endpointBuffer holds at most one unconsumed packet per OUT endpoint.  This
// is the backpressure point of the whole receive path: while it is
// non-empty, the driver leaves further packets in the hardware FIFO.
type endpointBuffer struct {
	mtx   sync.Mutex
	data  []byte
	count uint16
	state BufferState
}

func (b *endpointBuffer) bufferState() BufferState {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.state
}

// fillFromFIFO drains count bytes from the FIFO into the buffer and marks it
// as holding a SETUP or OUT packet.  Fails without touching the FIFO if the
// previous packet was not consumed yet.
func (b *endpointBuffer) fillFromFIFO(f *fifoRegs, count uint16, setup bool) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.state != BufferEmpty {
		return usb.ErrWouldBlock
	}
	debug.Assert(int(count) <= len(b.data), "rx packet exceeds endpoint buffer")

	f.readPacket(b.data[:count])
	b.count = count
	if setup {
		b.state = BufferDataSetup
	} else {
		b.state = BufferDataOut
	}
	return nil
}

// readPacket copies the pending packet to p and frees the buffer.  Reports
// whether the packet was a SETUP packet.
func (b *endpointBuffer) readPacket(p []byte) (n int, setup bool, err error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.state == BufferEmpty {
		return 0, false, usb.ErrWouldBlock
	}
	if len(p) < int(b.count) {
		return 0, false, usb.ErrBufferOverflow
	}
	n = copy(p, b.data[:b.count])
	setup = b.state == BufferDataSetup
	b.state = BufferEmpty
	return n, setup, nil
}
