package cqf

// flow.go holds the Flow and Packet types that move through the
// cycle-aligned network, and the constructors that build them.
//
// Unit conventions used throughout the simulator:
//   times (cycle duration, delays) are in microseconds,
//   packet and burst sizes are in KB,
//   flow arrival rates are in Mbps,
//   link bandwidths are in KB per microsecond.

import (
	"fmt"
)

// mbpsToKBperUsec converts a rate in Mbps to KB per microsecond
const mbpsToKBperUsec float64 = 0.000125

// A Flow describes one traffic demand placed on the network.  The
// demand attributes (rate, burst, bound, endpoints) are fixed at
// creation; Path, ShapingParameter and Admitted are written exactly
// once, by the admission engine.
type Flow struct {
	FlowID      int     // unique identifier for the flow
	ArrivalRate float64 // rate at which traffic arrives, in Mbps
	BurstSize   float64 // largest burst the source may present, in KB
	MaxE2EDelay float64 // end-to-end delay bound, in microseconds
	MaxPktSize  float64 // largest packet the flow may carry, in KB
	Src         int     // id of the ingress node where the flow enters
	Dst         int     // id of the egress node where the flow leaves

	// set by the admission engine, empty/zero until then
	Path             []int   // node ids from Src to Dst, inclusive
	ShapingParameter float64 // per-cycle release budget at the ingress, in KB
	Admitted         bool
}

// CreateFlow is a constructor.  It performs the sanity checks that do
// not require knowledge of the topology; endpoint validation happens
// when the flow list is bound to a network.
func CreateFlow(flowID int, arrivalRate, burstSize, maxE2EDelay, maxPktSize float64,
	src, dst int) (*Flow, error) {

	if arrivalRate <= 0.0 || burstSize <= 0.0 || maxPktSize <= 0.0 {
		return nil, fmt.Errorf("flow %d: rate, burst and packet size must be positive: %w",
			flowID, ErrConfig)
	}
	if maxE2EDelay <= 0.0 {
		return nil, fmt.Errorf("flow %d: non-positive delay bound: %w", flowID, ErrConfig)
	}
	if src == dst {
		return nil, fmt.Errorf("flow %d: source equals destination: %w", flowID, ErrConfig)
	}

	flow := new(Flow)
	flow.FlowID = flowID
	flow.ArrivalRate = arrivalRate
	flow.BurstSize = burstSize
	flow.MaxE2EDelay = maxE2EDelay
	flow.MaxPktSize = maxPktSize
	flow.Src = src
	flow.Dst = dst
	flow.Path = []int{}

	return flow, nil
}

// rateKBperCycle gives the flow's arrival rate expressed as KB
// accumulated over one cycle of duration T
func (flow *Flow) rateKBperCycle(T float64) float64 {
	return flow.ArrivalRate * mbpsToKBperUsec * T
}

// nxtPcktID hands out unique packet identifiers
var nxtPcktID int = 0

// A Packet is one shaped unit of a flow's traffic.  The per-hop cycle
// stamps record when the packet arrived at, and departed from, each
// node on the flow's path, indexed in path order.
type Packet struct {
	PcktID     int     // unique identifier
	FlowID     int     // flow the packet belongs to
	Size       float64 // size in KB, no more than the flow's MaxPktSize
	Seq        int     // per-flow sequence number, monotone at creation
	CreationCycle int  // cycle in which the shaper released the packet

	ArrivalCycles   []int // arrival cycle at each node visited
	DepartureCycles []int // departure cycle from each node visited

	hopIdx      int // index into the flow's path of the node holding the packet
	matureCycle int // first cycle in which the current node may forward it
}

// createPacket is a constructor.  Packets are only created by the
// flow shaper, so it stays unexported.
func createPacket(flow *Flow, size float64, seq, cycle int) *Packet {
	nxtPcktID += 1
	pckt := new(Packet)
	pckt.PcktID = nxtPcktID
	pckt.FlowID = flow.FlowID
	pckt.Size = size
	pckt.Seq = seq
	pckt.CreationCycle = cycle
	pckt.ArrivalCycles = []int{cycle}
	pckt.DepartureCycles = []int{}
	pckt.hopIdx = 0
	pckt.matureCycle = cycle
	return pckt
}
