package cqf

// flowgen.go generates random flow demands over a topology, for
// experiments that do not carry an explicit flow list.  Sources are
// drawn from the ingress nodes and destinations from the egress
// nodes; a named rng stream keeps the draw reproducible.

import (
	"fmt"

	"github.com/iti/rngstream"
)

// parameter ranges for generated flows, matching the scale of the
// unit conventions in flow.go
const (
	genRateLow   = 5.0  // Mbps
	genRateHigh  = 15.0 // Mbps
	genPktLow    = 1.0  // KB
	genPktHigh   = 2.0  // KB
	genPcktsLow  = 3    // packets per burst
	genPcktsHigh = 8    // packets per burst
	genDelayLow  = 30.0 // microseconds
	genDelayHigh = 70.0 // microseconds
)

// GenerateRandomFlows builds count random flows over the network,
// drawing from the rng stream with the given name.  The same name
// over the same topology reproduces the same flow set.
func GenerateRandomFlows(net *Network, count int, streamName string) ([]*Flow, error) {
	ingress := make([]int, 0)
	egress := make([]int, 0)
	for _, id := range net.NodeIDs() {
		switch net.Nodes[id].Role {
		case IngressRole:
			ingress = append(ingress, id)
		case EgressRole:
			egress = append(egress, id)
		}
	}
	if len(ingress) == 0 || len(egress) == 0 {
		return nil, fmt.Errorf("random flows need at least one ingress and one egress node: %w",
			ErrConfig)
	}

	rng := rngstream.New(streamName)
	flows := make([]*Flow, 0, count)
	for idx := 1; idx <= count; idx += 1 {
		src := ingress[rng.RandInt(0, len(ingress)-1)]
		dst := egress[rng.RandInt(0, len(egress)-1)]

		rate := uniform(rng, genRateLow, genRateHigh)
		pktSize := uniform(rng, genPktLow, genPktHigh)
		pckts := rng.RandInt(genPcktsLow, genPcktsHigh)
		burst := float64(pckts) * pktSize
		bound := uniform(rng, genDelayLow, genDelayHigh)

		flow, err := CreateFlow(idx, rate, burst, bound, pktSize, src, dst)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, nil
}

// uniform draws from [low, high)
func uniform(rng *rngstream.RngStream, low, high float64) float64 {
	return low + (high-low)*rng.RandU01()
}
