package cqf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustFlow(t *testing.T, id int, rate, burst, bound, mps float64, src, dst int) *Flow {
	t.Helper()
	flow, err := CreateFlow(id, rate, burst, bound, mps, src, dst)
	require.NoError(t, err)
	return flow
}

func TestAdmitWorkedExample(t *testing.T) {
	// network {1,2,3,4}, links (1-2 d=1 bw=100) and (2-4 d=1 bw=100),
	// T=10: tau is 9 on both hops, so each hop costs d+tau+T = 20 and
	// the flow with a 50us bound is admitted on path [1,2,4]
	net := lineNetwork(t)
	T := 10.0
	tt, err := ComputeTauTable(net, T)
	require.NoError(t, err)
	require.InDelta(t, 9.0, tt.Tau(1, 2), 1e-12)
	require.InDelta(t, 9.0, tt.Tau(2, 4), 1e-12)

	flow := mustFlow(t, 1, 8.0, 4.0, 50.0, 2.0, 1, 4)
	admitted := AdmitFlows(net, tt, T, []*Flow{flow})
	require.Equal(t, 1, admitted)
	require.True(t, flow.Admitted)
	require.Equal(t, []int{1, 2, 4}, flow.Path)
	require.Greater(t, flow.ShapingParameter, 0.0)
}

func TestAdmitRejectsTightBound(t *testing.T) {
	// two hops at 20us each exceed a 30us bound
	net := lineNetwork(t)
	tt, err := ComputeTauTable(net, 10.0)
	require.NoError(t, err)

	flow := mustFlow(t, 1, 8.0, 4.0, 30.0, 2.0, 1, 4)
	admitted := AdmitFlows(net, tt, 10.0, []*Flow{flow})
	require.Equal(t, 0, admitted)
	require.False(t, flow.Admitted)
	require.Empty(t, flow.Path)
	require.Zero(t, flow.ShapingParameter)
}

func TestAdmitRejectsNoPath(t *testing.T) {
	net := CreateNetwork()
	require.NoError(t, net.AddNode(1, IngressRole, 0.0))
	require.NoError(t, net.AddNode(2, CoreRole, 0.0))
	require.NoError(t, net.AddNode(4, EgressRole, 0.0))
	require.NoError(t, net.AddLink(1, 2, 1.0, 100.0))
	tt, err := ComputeTauTable(net, 10.0)
	require.NoError(t, err)

	flow := mustFlow(t, 1, 8.0, 4.0, 50.0, 2.0, 1, 4)
	require.Equal(t, 0, AdmitFlows(net, tt, 10.0, []*Flow{flow}))
	require.False(t, flow.Admitted)
	require.Empty(t, flow.Path)
	require.Zero(t, flow.ShapingParameter)
}

func TestAdmitAccountsQueuingDelay(t *testing.T) {
	net := CreateNetwork()
	require.NoError(t, net.AddNode(1, IngressRole, 0.0))
	require.NoError(t, net.AddNode(2, CoreRole, 6.0))
	require.NoError(t, net.AddNode(4, EgressRole, 5.0))
	require.NoError(t, net.AddLink(1, 2, 1.0, 100.0))
	require.NoError(t, net.AddLink(2, 4, 1.0, 100.0))
	T := 10.0
	tt, err := ComputeTauTable(net, T)
	require.NoError(t, err)

	// path cost is 20+6 + 20+5 = 51
	tight := mustFlow(t, 1, 8.0, 4.0, 50.0, 2.0, 1, 4)
	loose := mustFlow(t, 2, 8.0, 4.0, 51.0, 2.0, 1, 4)
	require.Equal(t, 1, AdmitFlows(net, tt, T, []*Flow{tight, loose}))
	require.False(t, tight.Admitted)
	require.True(t, loose.Admitted)
}

func TestAdmissionFeasibilityInvariant(t *testing.T) {
	// every admitted flow's per-hop sum of queuing, propagation, tau
	// and T stays within its bound
	net := CreateNetwork()
	require.NoError(t, net.AddNode(1, IngressRole, 0.0))
	require.NoError(t, net.AddNode(2, IngressRole, 0.0))
	require.NoError(t, net.AddNode(3, CoreRole, 1.5))
	require.NoError(t, net.AddNode(4, CoreRole, 0.5))
	require.NoError(t, net.AddNode(5, EgressRole, 0.0))
	require.NoError(t, net.AddNode(6, EgressRole, 0.0))
	require.NoError(t, net.AddLink(1, 3, 2.0, 100.0))
	require.NoError(t, net.AddLink(2, 3, 4.0, 100.0))
	require.NoError(t, net.AddLink(3, 4, 3.0, 100.0))
	require.NoError(t, net.AddLink(4, 5, 2.0, 100.0))
	require.NoError(t, net.AddLink(4, 6, 7.0, 100.0))
	T := 10.0
	tt, err := ComputeTauTable(net, T)
	require.NoError(t, err)

	flows, err := GenerateRandomFlows(net, 12, "feasibility")
	require.NoError(t, err)
	require.NoError(t, net.BindFlows(flows))
	AdmitFlows(net, tt, T, flows)

	ae := CreateAdmissionEngine(net, tt, T)
	for _, flow := range flows {
		if !flow.Admitted {
			require.Empty(t, flow.Path)
			require.Zero(t, flow.ShapingParameter)
			continue
		}
		require.Equal(t, flow.Src, flow.Path[0])
		require.Equal(t, flow.Dst, flow.Path[len(flow.Path)-1])
		for idx := 0; idx < len(flow.Path)-1; idx += 1 {
			_, present := net.LinkByHop(flow.Path[idx], flow.Path[idx+1])
			require.True(t, present)
		}
		require.LessOrEqual(t, ae.pathDelay(flow.Path), flow.MaxE2EDelay+delayEps)
	}
}

func TestAdmitBandwidthLedger(t *testing.T) {
	// the shared link carries 1 KB per cycle; each flow needs a
	// shaping parameter of at least 1 KB, so only the first fits
	net := CreateNetwork()
	require.NoError(t, net.AddNode(1, IngressRole, 0.0))
	require.NoError(t, net.AddNode(2, CoreRole, 0.0))
	require.NoError(t, net.AddNode(4, EgressRole, 0.0))
	require.NoError(t, net.AddLink(1, 2, 1.0, 100.0))
	require.NoError(t, net.AddLink(2, 4, 1.0, 0.1))
	T := 10.0
	tt, err := ComputeTauTable(net, T)
	require.NoError(t, err)

	first := mustFlow(t, 1, 8.0, 1.0, 100.0, 1.0, 1, 4)
	second := mustFlow(t, 2, 8.0, 1.0, 100.0, 1.0, 1, 4)
	require.Equal(t, 1, AdmitFlows(net, tt, T, []*Flow{second, first}))

	// ascending flow id is the processing order, so flow 1 wins
	require.True(t, first.Admitted)
	require.False(t, second.Admitted)
}

func TestShapingCandidates(t *testing.T) {
	flow := mustFlow(t, 1, 8.0, 4.0, 50.0, 2.0, 1, 4)
	candidates := shapingCandidates(flow, 10.0)
	require.Equal(t, []float64{2.0, 4.0}, candidates)

	// a burst smaller than one packet still yields one candidate
	small := mustFlow(t, 2, 8.0, 1.0, 50.0, 2.0, 1, 4)
	require.Equal(t, []float64{2.0}, shapingCandidates(small, 10.0))
}
