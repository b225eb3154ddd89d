package cqf

// admit.go implements the CGRR admission engine.  For each flow it
// selects a route, derives a shaping parameter from the flow's burst
// and rate, checks the cycle-aligned worst-case delay against the
// flow's bound, and reserves bandwidth on every link of the route.
// Flows are processed in ascending flow id; rejection is a recorded
// decision, not an error.

import (
	"math"
	"sort"
)

// An AdmissionEngine holds the state accumulated while deciding a
// set of flows: the route cache and the per-link reservation ledger.
// The ledger is distinct from the scheduler's per-cycle bandwidth
// budget; it exists only to turn away infeasible flows before the
// simulation starts.
type AdmissionEngine struct {
	net *Network
	tt  TauTable
	T   float64
	rtr *router

	// KB per cycle already promised on each link, keyed by the
	// link's canonical hop
	committed map[Hop]float64
}

// CreateAdmissionEngine is a constructor
func CreateAdmissionEngine(net *Network, tt TauTable, T float64) *AdmissionEngine {
	ae := new(AdmissionEngine)
	ae.net = net
	ae.tt = tt
	ae.T = T
	ae.rtr = createRouter(net)
	ae.committed = make(map[Hop]float64)
	return ae
}

// AdmitFlows runs the admission decision for every flow, in ascending
// flow id order, and returns the number admitted.  Each flow's
// Admitted, Path and ShapingParameter fields are written exactly once.
func AdmitFlows(net *Network, tt TauTable, T float64, flows []*Flow) int {
	ae := CreateAdmissionEngine(net, tt, T)
	ordered := make([]*Flow, len(flows))
	copy(ordered, flows)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].FlowID < ordered[j].FlowID
	})

	admitted := 0
	for _, flow := range ordered {
		if ae.admitFlow(flow) {
			admitted += 1
		}
	}
	return admitted
}

// admitFlow decides one flow.  The decision has three gates: a route
// must exist, the route's cycle-aligned delay must meet the bound,
// and some shaping parameter must fit the remaining bandwidth on
// every link of the route.
func (ae *AdmissionEngine) admitFlow(flow *Flow) bool {
	route, ok := ae.rtr.routeFrom(flow.Src, flow.Dst)
	if !ok {
		return false
	}

	delay := ae.pathDelay(route)
	if delay > flow.MaxE2EDelay+delayEps {
		return false
	}

	shaping, ok := ae.chooseShaping(flow, route, delay)
	if !ok {
		return false
	}

	// commit the reservation and record the positive decision
	for idx := 0; idx < len(route)-1; idx += 1 {
		lnk, _ := ae.net.LinkByHop(route[idx], route[idx+1])
		ae.committed[lnk.key()] += shaping
	}
	flow.Path = route
	flow.ShapingParameter = shaping
	flow.Admitted = true
	return true
}

// pathDelay accumulates the worst-case end-to-end delay of a packet
// along a route: per hop, the downstream node's queuing delay, the
// link's propagation delay, the hop's tau offset and one full cycle
// of mandatory alignment cost.
func (ae *AdmissionEngine) pathDelay(route []int) float64 {
	total := 0.0
	for idx := 0; idx < len(route)-1; idx += 1 {
		here := route[idx]
		nxt := route[idx+1]
		lnk, _ := ae.net.LinkByHop(here, nxt)
		total += lnk.Delay + ae.net.QueuingDelay(nxt) + ae.tt.Tau(here, nxt) + ae.T
	}
	return total
}

// shapingCandidates enumerates the shaping parameters the flow could
// use: the burst can be scattered over n cycles only while the
// per-cycle share stays at or above one cycle's worth of arrivals,
// and each candidate is rounded up to a whole number of packets.
func shapingCandidates(flow *Flow, T float64) []float64 {
	mps := flow.MaxPktSize
	burst := flow.BurstSize
	perCycle := flow.rateKBperCycle(T)

	found := make(map[float64]bool)
	prevShare := math.Inf(1)
	for n := 1; ; n += 1 {
		share := math.Ceil(burst / float64(n))
		if share < perCycle {
			break
		}
		found[mps*math.Ceil(burst/(float64(n)*mps))] = true
		if share >= prevShare {
			break
		}
		prevShare = share
	}

	candidates := make([]float64, 0, len(found))
	for b := range found {
		candidates = append(candidates, b)
	}
	sort.Float64s(candidates)
	return candidates
}

// chooseShaping picks the flow's shaping parameter: the smallest
// candidate that fits the remaining bandwidth on every link of the
// route, preferring candidates whose shaping delay at the ingress
// still leaves the end-to-end bound intact.
func (ae *AdmissionEngine) chooseShaping(flow *Flow, route []int, routeDelay float64) (float64, bool) {
	fits := func(b float64) bool {
		for idx := 0; idx < len(route)-1; idx += 1 {
			lnk, _ := ae.net.LinkByHop(route[idx], route[idx+1])
			if ae.committed[lnk.key()]+b > lnk.capacityKBperCycle(ae.T)+delayEps {
				return false
			}
		}
		return true
	}

	fallback := 0.0
	haveFallback := false
	for _, b := range shapingCandidates(flow, ae.T) {
		if !fits(b) {
			continue
		}
		if ae.shapingDelay(flow, b)+routeDelay <= flow.MaxE2EDelay+delayEps {
			return b, true
		}
		if !haveFallback {
			fallback = b
			haveFallback = true
		}
	}
	return fallback, haveFallback
}

// shapingDelay is the time the last packet of a full burst waits at
// the ingress before release: the burst drains over ceil(burst/b)
// cycles, plus the cycle that releases it.
func (ae *AdmissionEngine) shapingDelay(flow *Flow, shaping float64) float64 {
	return math.Ceil(flow.BurstSize/shaping)*ae.T + ae.T
}
