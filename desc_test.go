package cqf

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exampleCfg() *ExprCfg {
	cfg := CreateExprCfg(10.0)
	cfg.Network.Nodes = []NodeDesc{
		{ID: 1, Role: "ingress"},
		{ID: 2, Role: "core", QueuingDelay: 0.5},
		{ID: 3, Role: "core"},
		{ID: 4, Role: "egress"},
	}
	cfg.Network.Links = []LinkDesc{
		{Node1: 1, Node2: 2, Delay: 1.0, Bandwidth: 100.0},
		{Node1: 2, Node2: 4, Delay: 1.0, Bandwidth: 100.0},
	}
	cfg.Flows = []FlowDesc{
		{FlowID: 1, ArrivalRate: 8.0, BurstSize: 4.0, MaxE2EDelay: 60.0,
			MaxPktSize: 2.0, Src: 1, Dest: 4},
		{FlowID: 2, ArrivalRate: 8.0, BurstSize: 4.0, MaxE2EDelay: 30.0,
			MaxPktSize: 2.0, Src: 1, Dest: 4},
	}
	return cfg
}

func TestExprCfgRoundTrip(t *testing.T) {
	cfg := exampleCfg()
	for _, name := range []string{"cfg.json", "cfg.yaml"} {
		filename := filepath.Join(t.TempDir(), name)
		require.NoError(t, cfg.WriteToFile(filename))

		read, err := ReadExprCfg(filename, filepath.Ext(name) == ".yaml", nil)
		require.NoError(t, err)
		require.Equal(t, cfg, read)
	}
}

func TestExprCfgBuild(t *testing.T) {
	cfg := exampleCfg()
	net, err := cfg.BuildNetwork()
	require.NoError(t, err)
	require.Len(t, net.Nodes, 4)
	require.Len(t, net.Links, 2)
	require.InDelta(t, 0.5, net.QueuingDelay(2), 1e-12)

	flows, err := cfg.BuildFlows(net)
	require.NoError(t, err)
	require.Len(t, flows, 2)
}

func TestExprCfgRejectsBadRole(t *testing.T) {
	cfg := exampleCfg()
	cfg.Network.Nodes[0].Role = "relay"
	_, err := cfg.BuildNetwork()
	require.ErrorIs(t, err, ErrConfig)
}

func TestExprCfgRejectsDuplicateFlow(t *testing.T) {
	cfg := exampleCfg()
	cfg.Flows[1].FlowID = 1
	net, err := cfg.BuildNetwork()
	require.NoError(t, err)
	_, err = cfg.BuildFlows(net)
	require.ErrorIs(t, err, ErrConfig)
}

func TestResultsDescCheckpoints(t *testing.T) {
	cfg := exampleCfg()
	net, err := cfg.BuildNetwork()
	require.NoError(t, err)
	flows, err := cfg.BuildFlows(net)
	require.NoError(t, err)

	T := cfg.SimParams.CycleDurationT
	tt, err := ComputeTauTable(net, T)
	require.NoError(t, err)

	// flow 1's 60us bound clears the 40us path, flow 2's 30us does not
	require.Equal(t, 1, AdmitFlows(net, tt, T, flows))
	results := CreateResultsDesc(cfg, flows)
	require.Equal(t, 1, results.AdmittedFlowsCount)
	require.Equal(t, 2, results.TotalFlowsCount)

	require.True(t, results.Flows[0].Admitted)
	require.NotNil(t, results.Flows[0].ShapingParameter)
	require.Equal(t, []int{1, 2, 4}, results.Flows[0].Path)

	require.False(t, results.Flows[1].Admitted)
	require.Nil(t, results.Flows[1].ShapingParameter)
	require.Empty(t, results.Flows[1].Path)

	snap, err := RunSimulation(net, tt, flows, T, 0, nil, nil)
	require.NoError(t, err)
	results.UpdateCompletion(snap)

	require.True(t, results.SimulationComplete)
	require.Equal(t, CauseCompleted, results.Cause)
	require.Equal(t, map[string]bool{"1": true}, results.CompletionStatus)
	require.Empty(t, results.IncompleteFlows)

	filename := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, results.WriteToFile(filename))
}
