package otg

import "encoding/binary"

// The packet FIFO moves data in little-endian 32-bit words.  A partial
// trailing word still occupies a full word slot.  Every word access inside
// the endpoint's 4 KiB FIFO window pops respectively pushes, so the copy
// loops below may walk the window instead of hammering a single address.

func packetWords(bytes uint16) uint32 {
	return (uint32(bytes) + 3) / 4
}

// readPacket pops len(p) bytes from the FIFO into p, rounded up to whole
// words.  Excess bytes of the last word are discarded.
func (f *fifoRegs) readPacket(p []byte) {
	var word [4]byte
	for i := 0; len(p) > 0; i++ {
		binary.LittleEndian.PutUint32(word[:], f.w[i].Load())
		n := copy(p, word[:])
		p = p[n:]
	}
}

// writePacket pushes p to the FIFO, zero-padding the last word.
func (f *fifoRegs) writePacket(p []byte) {
	var word [4]byte
	for i := 0; len(p) > 0; i++ {
		n := copy(word[:], p)
		for j := n; j < len(word); j++ {
			word[j] = 0
		}
		f.w[i].Store(binary.LittleEndian.Uint32(word[:]))
		p = p[n:]
	}
}
