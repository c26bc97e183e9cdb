package otg

// The shared packet memory is partitioned bottom up: the RX FIFO at word
// offset 0, then one TX FIFO per IN endpoint in endpoint order.  The
// partition is programmed once per bus reset and its offsets are absolute,
// so the assignment order must never change.

// RX FIFO headroom beyond the raw buffer demand, for status entries and
// SETUP packets, per speed variant.
const (
	rxHeadroomFullSpeed = 20
	rxHeadroomHighSpeed = 30
)

// minTxFifoWords is the smallest TX FIFO the core supports.
const minTxFifoWords = 16

// FIFOSegment is one TX FIFO: start offset and depth in words.
type FIFOSegment struct {
	Start uint32
	Words uint32
}

// FIFOPlan is a computed partition of the shared packet memory.
type FIFOPlan struct {
	RxWords uint32
	Tx      [NumEndpoints]FIFOSegment
	Top     uint32 // first word past the last TX FIFO
}

// PlanFIFO computes the FIFO partition for a total RX buffer demand and the
// per-IN-endpoint TX demands, all in words.  Zero TX demand (an unallocated
// endpoint) still yields the minimum FIFO size, the hardware needs every
// FIFO to exist.
func PlanFIFO(rxDemandWords uint32, txDemandWords [NumEndpoints]uint32, highSpeed bool) FIFOPlan {
	var plan FIFOPlan

	plan.RxWords = rxDemandWords + rxHeadroomFullSpeed
	if highSpeed {
		plan.RxWords = rxDemandWords + rxHeadroomHighSpeed
	}

	top := plan.RxWords
	for i, words := range txDemandWords {
		words = max(words, minTxFifoWords)
		plan.Tx[i] = FIFOSegment{Start: top, Words: words}
		top += words
	}
	plan.Top = top
	return plan
}

// Fits reports whether the plan fits into a packet memory of the given
// depth.
func (p *FIFOPlan) Fits(depthWords uint32) bool {
	return p.Top <= depthWords
}
