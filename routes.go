package cqf

// routes.go provides route discovery for the admission engine.  The
// network is converted into the data structures used by the gonum
// graph package, whose Dijkstra implementation finds the minimum
// total propagation delay between a flow's endpoints.  Ties among
// delay-optimal paths are broken deterministically: fewest hops
// first, then the lexicographically smallest node-id sequence, so
// that repeated runs over the same input reproduce the same routes.
//
// Only core nodes may appear in the interior of a path.  Ingress and
// egress nodes are endpoints of the forwarding state machines, not
// relays, so the search runs over the subgraph induced by the core
// nodes plus the two endpoints of the query.

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// router caches shortest path computations per endpoint pair
type router struct {
	net    *Network
	cached map[Hop][]int // empty slice records a known negative answer
}

// createRouter is a constructor
func createRouter(net *Network) *router {
	rtr := new(router)
	rtr.net = net
	rtr.cached = make(map[Hop][]int)
	return rtr
}

// buildConnGraph returns a gonum graph holding the core nodes plus
// the named endpoints, each link weighted by its propagation delay
func (rtr *router) buildConnGraph(src, dst int) graph.Graph {
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))

	allowed := func(id int) bool {
		return id == src || id == dst || rtr.net.Nodes[id].Role == CoreRole
	}

	for id := range rtr.net.Nodes {
		if allowed(id) {
			connGraph.AddNode(simple.Node(id))
		}
	}
	for _, lnk := range rtr.net.Links {
		if !allowed(lnk.Node1) || !allowed(lnk.Node2) {
			continue
		}
		weightedEdge := simple.WeightedEdge{
			F: simple.Node(lnk.Node1), T: simple.Node(lnk.Node2), W: lnk.Delay}
		connGraph.SetWeightedEdge(weightedEdge)
	}
	return connGraph
}

// routeFrom returns the delay-minimal, tie-broken path from src to
// dst as a sequence of node ids, or ok == false when no path exists
func (rtr *router) routeFrom(src, dst int) ([]int, bool) {
	route, present := rtr.cached[Hop{src, dst}]
	if present {
		return route, len(route) > 0
	}

	route = rtr.computeRoute(src, dst)
	rtr.cached[Hop{src, dst}] = route
	return route, len(route) > 0
}

// computeRoute does the actual search.  Dijkstra rooted in the
// destination yields the delay of the best continuation from every
// node; walking forward from the source along edges that preserve
// that delay enumerates exactly the delay-optimal paths, and the
// tie-break picks one of them.
func (rtr *router) computeRoute(src, dst int) []int {
	connGraph := rtr.buildConnGraph(src, dst)
	if connGraph.Node(int64(src)) == nil || connGraph.Node(int64(dst)) == nil {
		return []int{}
	}

	// shortest path tree rooted in the destination; the graph is
	// undirected so distances read in either direction
	spTree := path.DijkstraFrom(simple.Node(dst), connGraph)

	if math.IsInf(spTree.WeightTo(int64(src)), 1) {
		return []int{}
	}

	// onward(u,v) holds when hop u->v lies on some delay-minimal
	// continuation toward the destination
	toDst := func(id int) float64 { return spTree.WeightTo(int64(id)) }
	onward := func(from, to int) bool {
		lnk, present := rtr.net.LinkByHop(from, to)
		if !present {
			return false
		}
		if connGraph.Node(int64(to)) == nil {
			return false
		}
		return math.Abs(toDst(from)-(lnk.Delay+toDst(to))) < delayEps
	}

	// minimum hop count to the destination along delay-optimal
	// continuations, computed in order of increasing distance so
	// every successor is resolved before its predecessors
	ids := make([]int, 0, len(rtr.net.Nodes))
	for id := range rtr.net.Nodes {
		if connGraph.Node(int64(id)) != nil && !math.IsInf(toDst(id), 1) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return toDst(ids[i]) < toDst(ids[j]) })

	minHops := make(map[int]int)
	minHops[dst] = 0
	for _, id := range ids {
		if id == dst {
			continue
		}
		best := math.MaxInt
		for _, nbr := range rtr.net.Neighbors(id) {
			hops, present := minHops[nbr]
			if present && onward(id, nbr) && hops+1 < best {
				best = hops + 1
			}
		}
		if best < math.MaxInt {
			minHops[id] = best
		}
	}

	// walk from the source, always taking the smallest-id neighbor
	// that stays delay-optimal and hop-minimal
	route := []int{src}
	here := src
	for here != dst {
		advanced := false
		for _, nbr := range rtr.net.Neighbors(here) {
			hops, present := minHops[nbr]
			if present && onward(here, nbr) && hops == minHops[here]-1 {
				route = append(route, nbr)
				here = nbr
				advanced = true
				break
			}
		}
		if !advanced {
			// unreachable given the reachability test above
			return []int{}
		}
	}
	return route
}
