package cqf

// shaper.go holds the FlowShaper, which turns an admitted flow's
// rate and burst constraints into the lazy sequence of packets the
// scheduler feeds to the flow's ingress node.  Arrivals follow a
// leaky bucket: up to one burst's worth of packets may appear
// back-to-back, after which the bucket refills at the flow's
// arrival rate, one cycle at a time.

import (
	"math"
)

// A FlowShaper generates the packet arrivals of one admitted flow.
// It is restartable per run: create a fresh shaper for each
// simulation of the same flow set.
type FlowShaper struct {
	flow *Flow
	T    float64

	sizes   []float64 // sizes of the packets still to be created
	nxtSeq  int
	bucket  float64 // KB the leaky bucket currently holds
	started bool
}

// CreateFlowShaper is a constructor.  pcktCount bounds the total
// number of packets the shaper will produce; zero selects one full
// burst, which is the demand the admission decision was made for.
func CreateFlowShaper(flow *Flow, T float64, pcktCount int) *FlowShaper {
	fs := new(FlowShaper)
	fs.flow = flow
	fs.T = T
	fs.bucket = flow.BurstSize

	burstPckts := int(math.Ceil(flow.BurstSize / flow.MaxPktSize))
	if pcktCount <= 0 {
		pcktCount = burstPckts
	}

	// scatter the burst into maximum-size packets with a short tail,
	// then continue with maximum-size packets up to pcktCount
	fs.sizes = make([]float64, 0, pcktCount)
	remaining := flow.BurstSize
	for idx := 0; idx < pcktCount; idx += 1 {
		size := flow.MaxPktSize
		if idx < burstPckts && remaining < size {
			size = remaining
		}
		fs.sizes = append(fs.sizes, size)
		remaining -= size
	}

	return fs
}

// Exhausted reports whether the shaper has produced all its packets
func (fs *FlowShaper) Exhausted() bool {
	return len(fs.sizes) == 0
}

// Arrivals returns the packets the flow presents to its ingress node
// during the given cycle.  The first call drains the initial bucket;
// later calls are throttled by the per-cycle refill.
func (fs *FlowShaper) Arrivals(cycle int) []*Packet {
	if len(fs.sizes) == 0 {
		return nil
	}
	if fs.started {
		fs.bucket += fs.flow.rateKBperCycle(fs.T)
		if fs.bucket > fs.flow.BurstSize {
			fs.bucket = fs.flow.BurstSize
		}
	}
	fs.started = true

	pckts := make([]*Packet, 0)
	for len(fs.sizes) > 0 && fs.sizes[0] <= fs.bucket+delayEps {
		size := fs.sizes[0]
		fs.sizes = fs.sizes[1:]
		fs.bucket -= size
		pckts = append(pckts, createPacket(fs.flow, size, fs.nxtSeq, cycle))
		fs.nxtSeq += 1
	}
	return pckts
}
