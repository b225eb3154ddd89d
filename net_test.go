package cqf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// lineNetwork builds the topology of the worked admission example:
// ingress 1, core 2 and 3, egress 4, with 1-2 and 2-4 linked
func lineNetwork(t *testing.T) *Network {
	t.Helper()
	net := CreateNetwork()
	require.NoError(t, net.AddNode(1, IngressRole, 0.0))
	require.NoError(t, net.AddNode(2, CoreRole, 0.0))
	require.NoError(t, net.AddNode(3, CoreRole, 0.0))
	require.NoError(t, net.AddNode(4, EgressRole, 0.0))
	require.NoError(t, net.AddLink(1, 2, 1.0, 100.0))
	require.NoError(t, net.AddLink(2, 4, 1.0, 100.0))
	return net
}

func TestTauWithinCycle(t *testing.T) {
	net := CreateNetwork()
	require.NoError(t, net.AddNode(1, IngressRole, 0.0))
	require.NoError(t, net.AddNode(2, EgressRole, 0.0))

	delays := []float64{0.5, 1.0, 3.7, 10.0, 11.0, 25.0, 99.9}
	for idx, d := range delays {
		require.NoError(t, net.AddNode(10+idx, CoreRole, 0.0))
		require.NoError(t, net.AddLink(1, 10+idx, d, 100.0))
	}

	T := 10.0
	tt, err := ComputeTauTable(net, T)
	require.NoError(t, err)
	for hop, tau := range tt {
		require.GreaterOrEqual(t, tau, 0.0, "hop %v", hop)
		require.Less(t, tau, T, "hop %v", hop)
	}
}

func TestTauAlignsReceptionToCycleStart(t *testing.T) {
	// d=1, T=10: reception ends at 11, the next boundary is 20
	require.InDelta(t, 9.0, tauFor(1.0, 10.0), 1e-12)
	// exact boundary leaves nothing to wait for
	require.InDelta(t, 0.0, tauFor(10.0, 10.0), 1e-12)
	// delay longer than a cycle
	require.InDelta(t, 5.0, tauFor(25.0, 10.0), 1e-12)
}

func TestHopCyclesMatchesTau(t *testing.T) {
	T := 10.0
	for _, d := range []float64{0.5, 1.0, 9.999, 10.0, 11.0, 25.0, 30.0} {
		cycles := hopCycles(d, T)
		require.InDelta(t, float64(cycles)*T, d+T+tauFor(d, T), 1e-9, "d=%v", d)
	}
}

func TestTauTableIdempotent(t *testing.T) {
	net := lineNetwork(t)
	first, err := ComputeTauTable(net, 10.0)
	require.NoError(t, err)
	second, err := ComputeTauTable(net, 10.0)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestTauTableRejectsBadCycleDuration(t *testing.T) {
	net := lineNetwork(t)
	_, err := ComputeTauTable(net, 0.0)
	require.ErrorIs(t, err, ErrConfig)
	_, err = ComputeTauTable(net, -1.0)
	require.ErrorIs(t, err, ErrConfig)
}

func TestTopologyValidation(t *testing.T) {
	net := CreateNetwork()
	require.NoError(t, net.AddNode(1, IngressRole, 0.0))
	require.NoError(t, net.AddNode(2, CoreRole, 0.0))

	require.ErrorIs(t, net.AddNode(1, CoreRole, 0.0), ErrConfig)
	require.ErrorIs(t, net.AddLink(1, 9, 1.0, 10.0), ErrConfig)
	require.ErrorIs(t, net.AddLink(1, 1, 1.0, 10.0), ErrConfig)
	require.ErrorIs(t, net.AddLink(1, 2, 0.0, 10.0), ErrConfig)
	require.ErrorIs(t, net.AddLink(1, 2, 1.0, 0.0), ErrConfig)

	require.NoError(t, net.AddLink(1, 2, 1.0, 10.0))
	require.ErrorIs(t, net.AddLink(2, 1, 1.0, 10.0), ErrConfig)
}

func TestBindFlowsChecksEndpoints(t *testing.T) {
	net := lineNetwork(t)

	flow, err := CreateFlow(1, 8.0, 4.0, 50.0, 2.0, 1, 4)
	require.NoError(t, err)
	require.NoError(t, net.BindFlows([]*Flow{flow}))

	unknown, _ := CreateFlow(2, 8.0, 4.0, 50.0, 2.0, 1, 99)
	require.ErrorIs(t, net.BindFlows([]*Flow{unknown}), ErrConfig)

	// node 5 has no links, so it is unreachable even though declared
	require.NoError(t, net.AddNode(5, EgressRole, 0.0))
	disconnected, _ := CreateFlow(3, 8.0, 4.0, 50.0, 2.0, 1, 5)
	require.ErrorIs(t, net.BindFlows([]*Flow{disconnected}), ErrConfig)

	// roles must match the endpoints
	backwards, _ := CreateFlow(4, 8.0, 4.0, 50.0, 2.0, 4, 1)
	require.ErrorIs(t, net.BindFlows([]*Flow{backwards}), ErrConfig)
}

func TestCreateFlowValidation(t *testing.T) {
	_, err := CreateFlow(1, 0.0, 4.0, 50.0, 2.0, 1, 4)
	require.ErrorIs(t, err, ErrConfig)
	_, err = CreateFlow(1, 8.0, 4.0, -1.0, 2.0, 1, 4)
	require.ErrorIs(t, err, ErrConfig)
	_, err = CreateFlow(1, 8.0, 4.0, 50.0, 2.0, 1, 1)
	require.ErrorIs(t, err, ErrConfig)
}
