package cqf

// sched.go holds the CycleScheduler, the single global clock of the
// simulation.  It advances in fixed increments of the cycle duration
// T, and at every tick executes two phases in a fixed order: first
// reception for all nodes, then transmission for all nodes, each
// sweeping the nodes in ascending id.  A packet advances at most one
// hop per cycle; that is the mechanism that keeps end-to-end delay
// bounded and predictable.
//
// The tick itself is an event on the evtm event manager, scheduled
// at multiples of T and rescheduling itself until the run completes,
// times out, is interrupted, or aborts on an integrity violation.

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// ErrBandwidthIntegrity marks the fatal runtime condition of a node
// unable to forward a matured packet of an admitted flow within the
// cycle's bandwidth budget.  It indicates a defect in the admission
// feasibility model, not an ordinary incompletion.
var ErrBandwidthIntegrity = errors.New("bandwidth integrity violation")

// inflightPckt is a packet in passage between two nodes
type inflightPckt struct {
	pckt         *Packet
	from         int
	to           int
	arrivalCycle int // cycle whose reception phase ingests the packet
}

// A CycleScheduler owns the cycle clock and drives the node state
// machines.  It is single threaded; the logical simultaneity of the
// nodes within one cycle comes entirely from the two-phase protocol.
type CycleScheduler struct {
	net *Network
	tt  TauTable
	T   float64

	order []int           // node ids, ascending
	nodes map[int]simNode // state machine per node

	flows    map[int]*Flow // admitted flows by id
	flowIDs  []int         // ascending
	shapers  map[int]*FlowShaper
	inflight []inflightPckt
	budget   map[Hop]float64 // per-link KB remaining this cycle

	tracker *CompletionTracker
	tm      *TraceManager

	cycle         int
	timeoutCycles int
	interrupt     <-chan struct{}

	done  bool
	cause string
	err   error
}

// CreateCycleScheduler is a constructor.  Only admitted flows take
// part; pcktCount bounds each flow's shaper as in CreateFlowShaper.
func CreateCycleScheduler(net *Network, tt TauTable, flows []*Flow, T float64,
	timeoutCycles, pcktCount int, interrupt <-chan struct{}, tm *TraceManager) *CycleScheduler {

	cs := new(CycleScheduler)
	cs.net = net
	cs.tt = tt
	cs.T = T
	cs.order = net.NodeIDs()
	cs.nodes = make(map[int]simNode)
	for _, id := range cs.order {
		cs.nodes[id] = createSimNode(net.Nodes[id])
	}

	cs.flows = make(map[int]*Flow)
	cs.shapers = make(map[int]*FlowShaper)
	for _, flow := range flows {
		if !flow.Admitted {
			continue
		}
		cs.flows[flow.FlowID] = flow
		cs.shapers[flow.FlowID] = CreateFlowShaper(flow, T, pcktCount)
		cs.flowIDs = append(cs.flowIDs, flow.FlowID)
	}
	sort.Ints(cs.flowIDs)

	cs.inflight = make([]inflightPckt, 0)
	cs.budget = make(map[Hop]float64)
	cs.tracker = CreateCompletionTracker(flows)
	if tm == nil {
		tm = CreateTraceManager("", false)
	}
	cs.tm = tm
	cs.timeoutCycles = timeoutCycles
	cs.interrupt = interrupt
	cs.cause = CauseRunning

	return cs
}

// RunSimulation builds a scheduler over the admitted flows, runs it
// to completion, timeout or interruption, and returns the final (or
// partial) completion snapshot.  The returned error is non-nil only
// for a bandwidth integrity violation; timeout and interruption are
// reported through the snapshot's cause.
func RunSimulation(net *Network, tt TauTable, flows []*Flow, T float64,
	timeoutCycles int, interrupt <-chan struct{}, tm *TraceManager) (*SimSnapshot, error) {

	if timeoutCycles <= 0 {
		timeoutCycles = DefaultTimeoutCycles(flows, T)
	}
	cs := CreateCycleScheduler(net, tt, flows, T, timeoutCycles, 0, interrupt, tm)
	return cs.Run()
}

// Run drives the scheduler through the event manager until it stops
func (cs *CycleScheduler) Run() (*SimSnapshot, error) {
	evtMgr := evtm.New()
	evtMgr.Schedule(cs, nil, cycleTick, vrtime.SecondsToTime(0.0))
	evtMgr.Run(float64(cs.timeoutCycles+2) * cs.T)
	return cs.Snapshot(), cs.err
}

// Snapshot returns a consistent view of the run.  The scheduler only
// mutates state inside a tick, so between ticks (and after Run
// returns) the snapshot always reflects fully processed cycles.
func (cs *CycleScheduler) Snapshot() *SimSnapshot {
	return cs.tracker.snapshot(cs.cycle, cs.cause)
}

// Cycle reports the current cycle index
func (cs *CycleScheduler) Cycle() int {
	return cs.cycle
}

// cycleTick is the event handler for one cycle.  Cancellation is
// only ever observed here, at the boundary, never mid-cycle.
func cycleTick(evtMgr *evtm.EventManager, context any, msg any) any {
	cs := context.(*CycleScheduler)
	if cs.done {
		return nil
	}

	if cs.interrupted() {
		cs.finish(CauseInterrupted)
		return nil
	}
	if cs.tracker.AllComplete() && len(cs.inflight) == 0 {
		cs.finish(CauseCompleted)
		return nil
	}
	if cs.cycle >= cs.timeoutCycles {
		cs.finish(CauseTimeout)
		return nil
	}

	err := cs.step()
	if err != nil {
		cs.err = err
		cs.finish(CauseAborted)
		return nil
	}

	cs.cycle += 1
	evtMgr.Schedule(cs, nil, cycleTick, vrtime.SecondsToTime(cs.T))
	return nil
}

// interrupted polls the external cancellation signal without blocking
func (cs *CycleScheduler) interrupted() bool {
	if cs.interrupt == nil {
		return false
	}
	select {
	case <-cs.interrupt:
		return true
	default:
		return false
	}
}

// finish marks the run over and records why
func (cs *CycleScheduler) finish(cause string) {
	cs.done = true
	cs.cause = cause
}

// step executes one full cycle: reception for every node, then
// transmission for every node, both sweeps in ascending node id
func (cs *CycleScheduler) step() error {
	err := cs.receptionPhase()
	if err != nil {
		return err
	}
	err = cs.transmissionPhase()
	if err != nil {
		return err
	}
	cs.refreshCompletion()
	return nil
}

// receptionPhase ingests this cycle's shaped arrivals at the ingress
// nodes and delivers in-flight packets whose propagation has elapsed
func (cs *CycleScheduler) receptionPhase() error {
	for _, flowID := range cs.flowIDs {
		flow := cs.flows[flowID]
		ign, ok := cs.nodes[flow.Src].(*ingressNode)
		if !ok {
			return fmt.Errorf("flow %d source node %d lost its ingress machine", flowID, flow.Src)
		}
		for _, pckt := range cs.shapers[flowID].Arrivals(cs.cycle) {
			cs.tracker.PacketGenerated(flowID)
			ign.accept(pckt)
			AddCycleTrace(cs.tm, cs.cycle, flow.Src, flow.Src, pckt, "arrive", 0.0)
		}
	}

	for _, id := range cs.order {
		remaining := cs.inflight[:0:0]
		for _, inf := range cs.inflight {
			if inf.to != id || inf.arrivalCycle > cs.cycle {
				remaining = append(remaining, inf)
				continue
			}
			err := cs.nodes[id].receive(cs, inf.pckt, inf.from, cs.cycle)
			if err != nil {
				return err
			}
		}
		cs.inflight = remaining
	}
	return nil
}

// transmissionPhase resets the per-cycle link budgets and lets every
// node forward its matured packets
func (cs *CycleScheduler) transmissionPhase() error {
	for _, lnk := range cs.net.Links {
		cs.budget[lnk.key()] = lnk.capacityKBperCycle(cs.T)
	}
	for _, id := range cs.order {
		err := cs.nodes[id].transmit(cs, cs.cycle)
		if err != nil {
			return err
		}
	}
	return nil
}

// sendPacket moves a packet one hop along its flow's path, charging
// the link's per-cycle budget and stamping the cycle arithmetic that
// keeps the packet aligned to the grid downstream
func (cs *CycleScheduler) sendPacket(pckt *Packet, from, cycle int) error {
	flow := cs.flows[pckt.FlowID]
	if pckt.hopIdx+1 >= len(flow.Path) {
		return fmt.Errorf("packet %d of flow %d has no next hop at node %d",
			pckt.PcktID, pckt.FlowID, from)
	}
	nxt := flow.Path[pckt.hopIdx+1]
	lnk, present := cs.net.LinkByHop(from, nxt)
	if !present {
		return fmt.Errorf("flow %d path hop (%d,%d) has no link", pckt.FlowID, from, nxt)
	}

	key := lnk.key()
	if cs.budget[key] < pckt.Size-delayEps {
		return fmt.Errorf("node %d cycle %d: matured packet %d of admitted flow %d needs %.3f KB, %.3f KB left on link (%d,%d): %w",
			from, cycle, pckt.PcktID, pckt.FlowID, pckt.Size, cs.budget[key],
			lnk.Node1, lnk.Node2, ErrBandwidthIntegrity)
	}
	cs.budget[key] -= pckt.Size

	pckt.DepartureCycles = append(pckt.DepartureCycles, cycle)
	pckt.hopIdx += 1
	pckt.matureCycle = cycle + hopCycles(lnk.Delay, cs.T)

	arrival := cycle + int(math.Ceil((lnk.Delay-delayEps)/cs.T))
	if arrival <= cycle {
		arrival = cycle + 1
	}
	cs.inflight = append(cs.inflight, inflightPckt{
		pckt: pckt, from: from, to: nxt, arrivalCycle: arrival})

	AddCycleTrace(cs.tm, cycle, from, nxt, pckt, "forward", cs.tt.Tau(from, nxt))
	return nil
}

// refreshCompletion updates per-flow completion at the end of the
// cycle, once deliveries for the cycle have landed
func (cs *CycleScheduler) refreshCompletion() {
	for _, flowID := range cs.flowIDs {
		cs.tracker.RefreshComplete(flowID, cs.shapers[flowID].Exhausted())
	}
}

// timeout sizing used when the caller does not supply a horizon
const (
	timeoutSafetyMultiple = 4
	timeoutMarginCycles   = 16
)

// DefaultTimeoutCycles derives a horizon from the largest delay bound
// among the admitted flows, with margin for the shaped release of the
// burst at the ingress
func DefaultTimeoutCycles(flows []*Flow, T float64) int {
	maxBound := 0.0
	for _, flow := range flows {
		if flow.Admitted && flow.MaxE2EDelay > maxBound {
			maxBound = flow.MaxE2EDelay
		}
	}
	if maxBound == 0.0 {
		return timeoutMarginCycles
	}
	return timeoutSafetyMultiple*int(math.Ceil(maxBound/T)) + timeoutMarginCycles
}
