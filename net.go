package cqf

// net.go holds the runtime representation of the network: nodes with
// roles and queuing delays, bidirectional links with propagation delay
// and bandwidth, and the tau table of per-hop cycle-alignment offsets.

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/slices"
)

// ErrConfig marks fatal configuration problems detected before
// admission: malformed topology, bad cycle duration, flows that
// reference unknown or unreachable endpoints.
var ErrConfig = errors.New("invalid configuration")

// NodeRole distinguishes the three per-node state machines driven by
// the cycle scheduler
type NodeRole int

const (
	IngressRole NodeRole = iota
	CoreRole
	EgressRole
)

var roleToStr map[NodeRole]string = map[NodeRole]string{
	IngressRole: "ingress", CoreRole: "core", EgressRole: "egress"}

func (role NodeRole) String() string {
	return roleToStr[role]
}

// RoleFromString maps the configuration spelling of a role to its
// internal representation
func RoleFromString(str string) (NodeRole, error) {
	for role, name := range roleToStr {
		if name == str {
			return role, nil
		}
	}
	return CoreRole, fmt.Errorf("unrecognized node role %q: %w", str, ErrConfig)
}

// A Node is one forwarding element of the network
type Node struct {
	ID           int
	Role         NodeRole
	QueuingDelay float64 // extra latency incurred at this node, in microseconds
}

// A Link is an undirected edge of the network.  Each of its two
// directions gets its own tau table entry.
type Link struct {
	Node1     int
	Node2     int
	Delay     float64 // propagation delay, in microseconds
	Bandwidth float64 // in KB per microsecond
}

// key gives the canonical (low id first) identity of the link,
// used for bandwidth ledgers shared by both directions
func (lnk *Link) key() Hop {
	if lnk.Node1 < lnk.Node2 {
		return Hop{lnk.Node1, lnk.Node2}
	}
	return Hop{lnk.Node2, lnk.Node1}
}

// capacityKBperCycle gives the volume the link can carry in one cycle
func (lnk *Link) capacityKBperCycle(T float64) float64 {
	return lnk.Bandwidth * T
}

// A Hop identifies one direction of a link
type Hop struct {
	From int
	To   int
}

// A Network is the immutable graph the simulation runs over
type Network struct {
	Nodes map[int]*Node
	Links []*Link

	linkByHop map[Hop]*Link // both directions of every link
	nbrs      map[int][]int // neighbor ids, kept sorted
}

// CreateNetwork is a constructor
func CreateNetwork() *Network {
	net := new(Network)
	net.Nodes = make(map[int]*Node)
	net.Links = make([]*Link, 0)
	net.linkByHop = make(map[Hop]*Link)
	net.nbrs = make(map[int][]int)
	return net
}

// AddNode includes a node in the network, complaining if the id
// is already present
func (net *Network) AddNode(id int, role NodeRole, queuingDelay float64) error {
	_, present := net.Nodes[id]
	if present {
		return fmt.Errorf("node %d declared multiple times: %w", id, ErrConfig)
	}
	if queuingDelay < 0.0 {
		return fmt.Errorf("node %d: negative queuing delay: %w", id, ErrConfig)
	}
	net.Nodes[id] = &Node{ID: id, Role: role, QueuingDelay: queuingDelay}
	return nil
}

// AddLink includes a bidirectional link between two declared nodes.
// Propagation delay must be positive so that reception of a packet
// always lands strictly after the cycle that transmitted it.
func (net *Network) AddLink(node1, node2 int, delay, bandwidth float64) error {
	for _, id := range []int{node1, node2} {
		_, present := net.Nodes[id]
		if !present {
			return fmt.Errorf("link (%d,%d) references unknown node %d: %w",
				node1, node2, id, ErrConfig)
		}
	}
	if node1 == node2 {
		return fmt.Errorf("link (%d,%d) is a self loop: %w", node1, node2, ErrConfig)
	}
	if delay <= 0.0 {
		return fmt.Errorf("link (%d,%d): non-positive propagation delay: %w",
			node1, node2, ErrConfig)
	}
	if bandwidth <= 0.0 {
		return fmt.Errorf("link (%d,%d): non-positive bandwidth: %w",
			node1, node2, ErrConfig)
	}
	_, present := net.linkByHop[Hop{node1, node2}]
	if present {
		return fmt.Errorf("link (%d,%d) declared multiple times: %w",
			node1, node2, ErrConfig)
	}

	lnk := &Link{Node1: node1, Node2: node2, Delay: delay, Bandwidth: bandwidth}
	net.Links = append(net.Links, lnk)
	net.linkByHop[Hop{node1, node2}] = lnk
	net.linkByHop[Hop{node2, node1}] = lnk

	net.nbrs[node1] = append(net.nbrs[node1], node2)
	net.nbrs[node2] = append(net.nbrs[node2], node1)
	sort.Ints(net.nbrs[node1])
	sort.Ints(net.nbrs[node2])

	return nil
}

// LinkByHop returns the link carrying the given directed hop, if any
func (net *Network) LinkByHop(from, to int) (*Link, bool) {
	lnk, present := net.linkByHop[Hop{from, to}]
	return lnk, present
}

// Neighbors returns the sorted ids of the nodes adjacent to id
func (net *Network) Neighbors(id int) []int {
	return net.nbrs[id]
}

// QueuingDelay reports the queuing delay configured for a node,
// zero when the node carries none
func (net *Network) QueuingDelay(id int) float64 {
	node, present := net.Nodes[id]
	if !present {
		return 0.0
	}
	return node.QueuingDelay
}

// NodeIDs returns all node ids in ascending order.  The scheduler
// leans on this ordering for its deterministic per-cycle sweep.
func (net *Network) NodeIDs() []int {
	ids := make([]int, 0, len(net.Nodes))
	for id := range net.Nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// BindFlows checks a list of flow demands against the topology.  The
// endpoints must exist and carry the right roles; src and dst must
// lie in the same connected component.  The check runs before any
// admission work so that a malformed experiment fails fast.
func (net *Network) BindFlows(flows []*Flow) error {
	for _, flow := range flows {
		src, present := net.Nodes[flow.Src]
		if !present {
			return fmt.Errorf("flow %d references unknown source node %d: %w",
				flow.FlowID, flow.Src, ErrConfig)
		}
		dst, present := net.Nodes[flow.Dst]
		if !present {
			return fmt.Errorf("flow %d references unknown destination node %d: %w",
				flow.FlowID, flow.Dst, ErrConfig)
		}
		if src.Role != IngressRole {
			return fmt.Errorf("flow %d: source node %d is not an ingress node: %w",
				flow.FlowID, flow.Src, ErrConfig)
		}
		if dst.Role != EgressRole {
			return fmt.Errorf("flow %d: destination node %d is not an egress node: %w",
				flow.FlowID, flow.Dst, ErrConfig)
		}
		if !net.connected(flow.Src, flow.Dst) {
			return fmt.Errorf("flow %d: nodes %d and %d are disconnected: %w",
				flow.FlowID, flow.Src, flow.Dst, ErrConfig)
		}
	}
	return nil
}

// connected reports whether two nodes lie in the same component,
// ignoring roles.  Role-aware reachability is the router's business;
// this is the cheap sanity screen.
func (net *Network) connected(src, dst int) bool {
	seen := []int{src}
	frontier := []int{src}
	for len(frontier) > 0 {
		here := frontier[0]
		frontier = frontier[1:]
		if here == dst {
			return true
		}
		for _, nbr := range net.nbrs[here] {
			if !slices.Contains(seen, nbr) {
				seen = append(seen, nbr)
				frontier = append(frontier, nbr)
			}
		}
	}
	return false
}

// A TauTable maps every directed hop to the waiting offset that
// aligns its reception with the next cycle boundary.  Entries always
// satisfy 0 <= tau < T.
type TauTable map[Hop]float64

// tauFor computes the alignment offset for one directed hop.  A
// packet transmitted at a cycle boundary finishes reception at
// d + T (propagation plus one transmission unit); tau is the gap
// from there to the next cycle boundary.
func tauFor(delay, T float64) float64 {
	receptionEnd := delay + T
	nxtCycleStart := math.Ceil(receptionEnd/T) * T
	tau := nxtCycleStart - receptionEnd
	// guard the fenceposts against rounding
	if tau < 0.0 {
		tau = 0.0
	}
	if tau >= T {
		tau -= T
	}
	return tau
}

// hopCycles gives the number of whole cycles a hop occupies: the
// propagation delay, the transmission unit and the tau offset always
// add up to an exact multiple of T.
func hopCycles(delay, T float64) int {
	return int(math.Ceil((delay + T - delayEps) / T))
}

// delayEps absorbs floating point noise in delay comparisons
const delayEps float64 = 1e-9

// ComputeTauTable derives the full tau table in one pass over the
// links, both directions of each.  The only failure mode is a bad
// cycle duration.
func ComputeTauTable(net *Network, T float64) (TauTable, error) {
	if T <= 0.0 {
		return nil, fmt.Errorf("non-positive cycle duration %v: %w", T, ErrConfig)
	}
	tt := make(TauTable)
	for _, lnk := range net.Links {
		tt[Hop{lnk.Node1, lnk.Node2}] = tauFor(lnk.Delay, T)
		tt[Hop{lnk.Node2, lnk.Node1}] = tauFor(lnk.Delay, T)
	}
	return tt, nil
}

// Tau looks up the offset for a directed hop
func (tt TauTable) Tau(from, to int) float64 {
	return tt[Hop{From: from, To: to}]
}
