package cqf

// nodes.go holds the per-role node state machines the cycle
// scheduler drives: ingress nodes buffer and release shaped flows,
// core nodes relay matured packets, egress nodes terminate them.
// The scheduler dispatches through the simNode interface rather
// than switching on the role.

import (
	"fmt"
	"sort"
)

// simNode is the behavior the scheduler expects of every node.
// receive runs during the reception phase, transmit during the
// transmission phase; the scheduler guarantees the ordering.
type simNode interface {
	nodeID() int
	receive(cs *CycleScheduler, pckt *Packet, from, cycle int) error
	transmit(cs *CycleScheduler, cycle int) error
}

// createSimNode builds the state machine matching a node's role
func createSimNode(node *Node) simNode {
	switch node.Role {
	case IngressRole:
		return createIngressNode(node.ID)
	case EgressRole:
		return createEgressNode(node.ID)
	default:
		return createCoreNode(node.ID)
	}
}

// ingressState tracks where an ingress node is in its
// buffer-and-release cycle
type ingressState int

const (
	ingressIdle ingressState = iota
	ingressBuffering
	ingressReleasing
)

// An ingressNode accepts packets from its flows' shapers, holds them,
// and releases them toward the first hop at no more than the flow's
// shaping parameter per cycle.
type ingressNode struct {
	id    int
	state ingressState

	flowIDs  []int            // flows sourced here, ascending
	buffered map[int][]*Packet // per-flow FIFO of unreleased packets
}

func createIngressNode(id int) *ingressNode {
	ign := new(ingressNode)
	ign.id = id
	ign.state = ingressIdle
	ign.buffered = make(map[int][]*Packet)
	return ign
}

func (ign *ingressNode) nodeID() int { return ign.id }

// accept buffers a packet the flow's shaper presented this cycle
func (ign *ingressNode) accept(pckt *Packet) {
	_, present := ign.buffered[pckt.FlowID]
	if !present {
		ign.flowIDs = append(ign.flowIDs, pckt.FlowID)
		sort.Ints(ign.flowIDs)
	}
	ign.buffered[pckt.FlowID] = append(ign.buffered[pckt.FlowID], pckt)
	ign.state = ingressBuffering
}

// receive exists to satisfy simNode; the router never places an
// ingress node in the interior of a path, so a link delivery here
// means the forwarding state is corrupt
func (ign *ingressNode) receive(cs *CycleScheduler, pckt *Packet, from, cycle int) error {
	return fmt.Errorf("ingress node %d received transit packet %d from node %d",
		ign.id, pckt.PcktID, from)
}

// transmit releases buffered packets, per flow, up to the flow's
// shaping parameter worth of KB this cycle
func (ign *ingressNode) transmit(cs *CycleScheduler, cycle int) error {
	released := false
	for _, flowID := range ign.flowIDs {
		flow := cs.flows[flowID]
		budget := flow.ShapingParameter
		queue := ign.buffered[flowID]
		for len(queue) > 0 {
			pckt := queue[0]
			if pckt.matureCycle > cycle || pckt.Size > budget+delayEps {
				break
			}
			err := cs.sendPacket(pckt, ign.id, cycle)
			if err != nil {
				return err
			}
			budget -= pckt.Size
			queue = queue[1:]
			released = true
		}
		ign.buffered[flowID] = queue
	}

	switch {
	case released:
		ign.state = ingressReleasing
	case ign.pending() > 0:
		ign.state = ingressBuffering
	default:
		ign.state = ingressIdle
	}
	return nil
}

// pending counts packets still buffered across all flows
func (ign *ingressNode) pending() int {
	count := 0
	for _, queue := range ign.buffered {
		count += len(queue)
	}
	return count
}

// coreState tracks where a core node is in its relay cycle
type coreState int

const (
	coreIdle coreState = iota
	coreQueued
	coreForwarding
)

// A coreNode keeps one FIFO queue per incoming link and forwards
// matured packets toward the next hop of their flow's path
type coreNode struct {
	id    int
	state coreState

	inLinks []int             // upstream node ids with queues, ascending
	queues  map[int][]*Packet // keyed by upstream node id
}

func createCoreNode(id int) *coreNode {
	crn := new(coreNode)
	crn.id = id
	crn.state = coreIdle
	crn.queues = make(map[int][]*Packet)
	return crn
}

func (crn *coreNode) nodeID() int { return crn.id }

// receive enqueues an arriving packet on the queue of the link it
// came in on, stamped with its arrival cycle
func (crn *coreNode) receive(cs *CycleScheduler, pckt *Packet, from, cycle int) error {
	_, present := crn.queues[from]
	if !present {
		crn.inLinks = append(crn.inLinks, from)
		sort.Ints(crn.inLinks)
	}
	pckt.ArrivalCycles = append(pckt.ArrivalCycles, cycle)
	crn.queues[from] = append(crn.queues[from], pckt)
	crn.state = coreQueued
	return nil
}

// transmit forwards the matured prefix of every incoming-link queue.
// Packets on the same queue mature in arrival order, so the scan can
// stop at the first unmatured packet.
func (crn *coreNode) transmit(cs *CycleScheduler, cycle int) error {
	forwarded := false
	for _, from := range crn.inLinks {
		queue := crn.queues[from]
		for len(queue) > 0 && queue[0].matureCycle <= cycle {
			err := cs.sendPacket(queue[0], crn.id, cycle)
			if err != nil {
				return err
			}
			queue = queue[1:]
			forwarded = true
		}
		crn.queues[from] = queue
	}

	switch {
	case forwarded:
		crn.state = coreForwarding
	case crn.queued() > 0:
		crn.state = coreQueued
	default:
		crn.state = coreIdle
	}
	return nil
}

// queued counts packets held across all incoming-link queues
func (crn *coreNode) queued() int {
	count := 0
	for _, queue := range crn.queues {
		count += len(queue)
	}
	return count
}

// egressState tracks whether the egress node saw traffic this cycle
type egressState int

const (
	egressIdle egressState = iota
	egressReceived
)

// An egressNode terminates packets: it records the completion cycle,
// computes the observed end-to-end delay and reports the delivery to
// the completion tracker
type egressNode struct {
	id    int
	state egressState
}

func createEgressNode(id int) *egressNode {
	egn := new(egressNode)
	egn.id = id
	egn.state = egressIdle
	return egn
}

func (egn *egressNode) nodeID() int { return egn.id }

func (egn *egressNode) receive(cs *CycleScheduler, pckt *Packet, from, cycle int) error {
	egn.state = egressReceived
	pckt.ArrivalCycles = append(pckt.ArrivalCycles, cycle)

	flow := cs.flows[pckt.FlowID]
	observed := float64(cycle-pckt.CreationCycle) * cs.T
	inOrder := cs.tracker.PacketDelivered(pckt.FlowID, pckt.Seq, observed, flow.MaxE2EDelay)

	AddCycleTrace(cs.tm, cycle, egn.id, from, pckt, "deliver", 0.0)
	if observed > flow.MaxE2EDelay+delayEps {
		// the admission model promised better; flag the defect
		// signal but keep the run going
		AddCycleTrace(cs.tm, cycle, egn.id, from, pckt, "bound-exceeded", 0.0)
	}
	if !inOrder {
		AddCycleTrace(cs.tm, cycle, egn.id, from, pckt, "out-of-order", 0.0)
	}
	return nil
}

func (egn *egressNode) transmit(cs *CycleScheduler, cycle int) error {
	egn.state = egressIdle
	return nil
}
