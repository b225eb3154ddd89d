package cqf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShaperScattersBurst(t *testing.T) {
	// a 5 KB burst over 2 KB packets becomes 2+2+1, all presented
	// back-to-back in the first cycle
	flow := mustFlow(t, 1, 8.0, 5.0, 50.0, 2.0, 1, 4)
	fs := CreateFlowShaper(flow, 10.0, 0)

	pckts := fs.Arrivals(0)
	require.Len(t, pckts, 3)
	require.InDelta(t, 2.0, pckts[0].Size, 1e-12)
	require.InDelta(t, 2.0, pckts[1].Size, 1e-12)
	require.InDelta(t, 1.0, pckts[2].Size, 1e-12)
	require.True(t, fs.Exhausted())

	// sequence numbers are monotone from zero
	for idx, pckt := range pckts {
		require.Equal(t, idx, pckt.Seq)
		require.Equal(t, flow.FlowID, pckt.FlowID)
		require.Equal(t, 0, pckt.CreationCycle)
	}
}

func TestShaperThrottlesBeyondBurst(t *testing.T) {
	// after the initial burst drains the bucket, arrivals wait for
	// the per-cycle refill of rate*T
	flow := mustFlow(t, 1, 800.0, 2.0, 50.0, 2.0, 1, 4)
	T := 10.0 // refill is 800 Mbps * T = 1 KB per cycle
	fs := CreateFlowShaper(flow, T, 3)

	require.Len(t, fs.Arrivals(0), 1)
	require.Empty(t, fs.Arrivals(1))
	require.Len(t, fs.Arrivals(2), 1)
	require.Empty(t, fs.Arrivals(3))
	require.Len(t, fs.Arrivals(4), 1)
	require.True(t, fs.Exhausted())
}

func TestShaperPacketSizesBounded(t *testing.T) {
	flow := mustFlow(t, 1, 8.0, 7.5, 50.0, 2.0, 1, 4)
	fs := CreateFlowShaper(flow, 10.0, 0)
	total := 0.0
	for _, pckt := range fs.Arrivals(0) {
		require.LessOrEqual(t, pckt.Size, flow.MaxPktSize)
		total += pckt.Size
	}
	require.InDelta(t, flow.BurstSize, total, 1e-9)
}

func TestShaperRestartablePerRun(t *testing.T) {
	flow := mustFlow(t, 1, 8.0, 4.0, 50.0, 2.0, 1, 4)
	first := CreateFlowShaper(flow, 10.0, 0)
	second := CreateFlowShaper(flow, 10.0, 0)

	a := first.Arrivals(0)
	b := second.Arrivals(0)
	require.Equal(t, len(a), len(b))
	for idx := range a {
		require.Equal(t, a[idx].Seq, b[idx].Seq)
		require.InDelta(t, a[idx].Size, b[idx].Size, 1e-12)
	}
}
