package cqf

// tracker.go holds the CompletionTracker, the record of what each
// admitted flow has generated and delivered, and the snapshot type
// the scheduler hands back at cycle boundaries.

import (
	"sort"
)

// A FlowRecord accumulates one admitted flow's progress through a run
type FlowRecord struct {
	Generated int  // packets the shaper has created
	Delivered int  // packets that reached the egress node
	Complete  bool // all generated packets arrived and the shaper is done

	LastSeq          int     // highest sequence number seen at the egress
	MaxObservedDelay float64 // largest end-to-end delay observed, in microseconds
	SeqViolations    int     // out-of-order arrivals, expected to stay zero
	BoundViolations  int     // deliveries later than the admitted bound
}

// A CompletionTracker maintains the flow records for one run
type CompletionTracker struct {
	byFlow map[int]*FlowRecord
	ids    []int // tracked flow ids, ascending
}

// CreateCompletionTracker is a constructor; only admitted flows are
// tracked, rejection having already been recorded at admission time
func CreateCompletionTracker(flows []*Flow) *CompletionTracker {
	ct := new(CompletionTracker)
	ct.byFlow = make(map[int]*FlowRecord)
	for _, flow := range flows {
		if !flow.Admitted {
			continue
		}
		ct.byFlow[flow.FlowID] = &FlowRecord{LastSeq: -1}
		ct.ids = append(ct.ids, flow.FlowID)
	}
	sort.Ints(ct.ids)
	return ct
}

// PacketGenerated counts a packet created by the flow's shaper
func (ct *CompletionTracker) PacketGenerated(flowID int) {
	ct.byFlow[flowID].Generated += 1
}

// PacketDelivered records a delivery at the egress node.  It returns
// false when the arrival breaks the flow's sequence order, a
// condition the forwarding discipline is supposed to exclude.
func (ct *CompletionTracker) PacketDelivered(flowID, seq int, delay, bound float64) bool {
	rec := ct.byFlow[flowID]
	rec.Delivered += 1
	if delay > rec.MaxObservedDelay {
		rec.MaxObservedDelay = delay
	}
	if delay > bound+delayEps {
		rec.BoundViolations += 1
	}
	if seq < rec.LastSeq {
		rec.SeqViolations += 1
		return false
	}
	rec.LastSeq = seq
	return true
}

// RefreshComplete updates a flow's completion status given whether
// its shaper has produced its last packet
func (ct *CompletionTracker) RefreshComplete(flowID int, shaperDone bool) {
	rec := ct.byFlow[flowID]
	rec.Complete = shaperDone && rec.Delivered == rec.Generated
}

// AllComplete reports whether every tracked flow has completed
func (ct *CompletionTracker) AllComplete() bool {
	for _, id := range ct.ids {
		if !ct.byFlow[id].Complete {
			return false
		}
	}
	return true
}

// Record returns the record of one flow, nil if untracked
func (ct *CompletionTracker) Record(flowID int) *FlowRecord {
	return ct.byFlow[flowID]
}

// Causes a snapshot can carry.  Timeout and interruption are not
// errors; they produce the same partial snapshot shape, told apart
// only by this metadata.
const (
	CauseRunning     = "running"
	CauseCompleted   = "completed"
	CauseTimeout     = "timeout"
	CauseInterrupted = "interrupted"
	CauseAborted     = "aborted"
)

// A SimSnapshot is a consistent view of a run at a cycle boundary.
// No partially processed cycle is ever visible in one.
type SimSnapshot struct {
	Cycle              int
	SimulationComplete bool
	Cause              string
	Flows              map[int]FlowRecord
}

// snapshot copies the tracker state into a SimSnapshot
func (ct *CompletionTracker) snapshot(cycle int, cause string) *SimSnapshot {
	snap := new(SimSnapshot)
	snap.Cycle = cycle
	snap.Cause = cause
	snap.SimulationComplete = cause == CauseCompleted
	snap.Flows = make(map[int]FlowRecord)
	for _, id := range ct.ids {
		snap.Flows[id] = *ct.byFlow[id]
	}
	return snap
}

// CompletionStatus gives the per-flow completion booleans in the
// form the results writer persists
func (snap *SimSnapshot) CompletionStatus() map[int]bool {
	status := make(map[int]bool)
	for id, rec := range snap.Flows {
		status[id] = rec.Complete
	}
	return status
}
