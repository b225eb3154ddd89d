package cqf

// desc.go holds the serializable descriptions that cross the
// simulator's boundary: the experiment configuration read before a
// run, and the results dictionary written at checkpoints (after
// admission, on completion, on timeout, on interruption).  Files
// serialize to json or yaml, selected by the file name extension.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// A NodeDesc describes one node of the topology
type NodeDesc struct {
	ID           int     `json:"id" yaml:"id"`
	Role         string  `json:"role" yaml:"role"`
	QueuingDelay float64 `json:"queuing_delay" yaml:"queuingdelay"`
}

// A LinkDesc describes one bidirectional link
type LinkDesc struct {
	Node1     int     `json:"node1" yaml:"node1"`
	Node2     int     `json:"node2" yaml:"node2"`
	Delay     float64 `json:"delay" yaml:"delay"`
	Bandwidth float64 `json:"bandwidth" yaml:"bandwidth"`
}

// A FlowDesc describes one flow demand
type FlowDesc struct {
	FlowID      int     `json:"flow_id" yaml:"flowid"`
	ArrivalRate float64 `json:"arrival_rate" yaml:"arrivalrate"`
	BurstSize   float64 `json:"burst_size" yaml:"burstsize"`
	MaxE2EDelay float64 `json:"max_e2e_delay" yaml:"maxe2edelay"`
	MaxPktSize  float64 `json:"max_pkt_size" yaml:"maxpktsize"`
	Src         int     `json:"src" yaml:"src"`
	Dest        int     `json:"dest" yaml:"dest"`
}

// A NetworkDesc gathers the topology description
type NetworkDesc struct {
	Nodes []NodeDesc `json:"nodes" yaml:"nodes"`
	Links []LinkDesc `json:"links" yaml:"links"`
}

// SimParamsDesc carries the parameters of the run itself
type SimParamsDesc struct {
	CycleDurationT float64 `json:"cycle_duration_t" yaml:"cycledurationt"`

	// optional; zero selects a horizon derived from the delay bounds
	TimeoutCycles int `json:"timeout_cycles,omitempty" yaml:"timeoutcycles,omitempty"`

	// optional; zero selects one burst's worth of packets per flow
	PacketCount int `json:"packet_count,omitempty" yaml:"packetcount,omitempty"`
}

// An ExprCfg is the full configuration of one experiment
type ExprCfg struct {
	SimParams SimParamsDesc `json:"simulation_parameters" yaml:"simulationparameters"`
	Network   NetworkDesc   `json:"network" yaml:"network"`
	Flows     []FlowDesc    `json:"flows" yaml:"flows"`
}

// CreateExprCfg is an initialization constructor
func CreateExprCfg(T float64) *ExprCfg {
	cfg := new(ExprCfg)
	cfg.SimParams = SimParamsDesc{CycleDurationT: T}
	cfg.Network = NetworkDesc{Nodes: []NodeDesc{}, Links: []LinkDesc{}}
	cfg.Flows = []FlowDesc{}
	return cfg
}

// ReadExprCfg deserializes a byte slice holding a representation of
// an ExprCfg.  If the dict argument is empty, the named file is read
// to acquire the bytes.
func ReadExprCfg(filename string, useYAML bool, dict []byte) (*ExprCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExprCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// WriteToFile stores the ExprCfg to the named file, as json or yaml
// by extension
func (cfg *ExprCfg) WriteToFile(filename string) error {
	return writeDescFile(filename, *cfg)
}

// BuildNetwork turns the serialized topology into the runtime model,
// validating it on the way
func (cfg *ExprCfg) BuildNetwork() (*Network, error) {
	net := CreateNetwork()
	for _, nd := range cfg.Network.Nodes {
		role, err := RoleFromString(nd.Role)
		if err != nil {
			return nil, err
		}
		err = net.AddNode(nd.ID, role, nd.QueuingDelay)
		if err != nil {
			return nil, err
		}
	}
	for _, ld := range cfg.Network.Links {
		err := net.AddLink(ld.Node1, ld.Node2, ld.Delay, ld.Bandwidth)
		if err != nil {
			return nil, err
		}
	}
	return net, nil
}

// BuildFlows turns the flow descriptions into runtime flows bound to
// the network
func (cfg *ExprCfg) BuildFlows(net *Network) ([]*Flow, error) {
	flows := make([]*Flow, 0, len(cfg.Flows))
	seen := make(map[int]bool)
	for _, fd := range cfg.Flows {
		if seen[fd.FlowID] {
			return nil, fmt.Errorf("flow %d declared multiple times: %w", fd.FlowID, ErrConfig)
		}
		seen[fd.FlowID] = true
		flow, err := CreateFlow(fd.FlowID, fd.ArrivalRate, fd.BurstSize,
			fd.MaxE2EDelay, fd.MaxPktSize, fd.Src, fd.Dest)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	err := net.BindFlows(flows)
	if err != nil {
		return nil, err
	}
	return flows, nil
}

// A FlowResultDesc echoes a flow's demand augmented with its
// admission decision.  ShapingParameter stays null for flows that
// were not admitted.
type FlowResultDesc struct {
	FlowDesc         `yaml:",inline"`
	Admitted         bool     `json:"admitted" yaml:"admitted"`
	Path             []int    `json:"path" yaml:"path"`
	ShapingParameter *float64 `json:"shaping_parameter" yaml:"shapingparameter"`
}

// A ResultsDesc is the output record of one run, persisted by the
// external writer at every checkpoint
type ResultsDesc struct {
	SimParams SimParamsDesc `json:"simulation_parameters" yaml:"simulationparameters"`
	Network   NetworkDesc   `json:"network" yaml:"network"`

	Flows []FlowResultDesc `json:"flows" yaml:"flows"`

	AdmittedFlowsCount int `json:"admitted_flows_count" yaml:"admittedflowscount"`
	TotalFlowsCount    int `json:"total_flows_count" yaml:"totalflowscount"`

	SimulationComplete bool            `json:"simulation_complete" yaml:"simulationcomplete"`
	CompletionStatus   map[string]bool `json:"completion_status,omitempty" yaml:"completionstatus,omitempty"`
	Cause              string          `json:"cause,omitempty" yaml:"cause,omitempty"`
	IncompleteFlows    []int           `json:"incomplete_flows,omitempty" yaml:"incompleteflows,omitempty"`
}

// CreateResultsDesc assembles the results record from the
// configuration and the decided flows, before any simulation has run
func CreateResultsDesc(cfg *ExprCfg, flows []*Flow) *ResultsDesc {
	rd := new(ResultsDesc)
	rd.SimParams = cfg.SimParams
	rd.Network = cfg.Network
	rd.TotalFlowsCount = len(flows)

	ordered := make([]*Flow, len(flows))
	copy(ordered, flows)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].FlowID < ordered[j].FlowID })

	for _, flow := range ordered {
		frd := FlowResultDesc{
			FlowDesc: FlowDesc{
				FlowID:      flow.FlowID,
				ArrivalRate: flow.ArrivalRate,
				BurstSize:   flow.BurstSize,
				MaxE2EDelay: flow.MaxE2EDelay,
				MaxPktSize:  flow.MaxPktSize,
				Src:         flow.Src,
				Dest:        flow.Dst,
			},
			Admitted: flow.Admitted,
			Path:     flow.Path,
		}
		if flow.Admitted {
			shaping := flow.ShapingParameter
			frd.ShapingParameter = &shaping
			rd.AdmittedFlowsCount += 1
		}
		rd.Flows = append(rd.Flows, frd)
	}
	return rd
}

// UpdateCompletion folds a snapshot into the results record, at any
// of the post-admission checkpoints
func (rd *ResultsDesc) UpdateCompletion(snap *SimSnapshot) {
	rd.SimulationComplete = snap.SimulationComplete
	rd.Cause = snap.Cause
	rd.CompletionStatus = make(map[string]bool)
	rd.IncompleteFlows = []int{}

	ids := make([]int, 0, len(snap.Flows))
	for id := range snap.Flows {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		complete := snap.Flows[id].Complete
		rd.CompletionStatus[strconv.Itoa(id)] = complete
		if !complete {
			rd.IncompleteFlows = append(rd.IncompleteFlows, id)
		}
	}
}

// WriteToFile stores the ResultsDesc to the named file, as json or
// yaml by extension
func (rd *ResultsDesc) WriteToFile(filename string) error {
	return writeDescFile(filename, *rd)
}

// FlowSummary renders a per-flow table of the admission outcome for
// operator consumption
func (rd *ResultsDesc) FlowSummary() string {
	summary := fmt.Sprintf("%-5s | %-11s | %-10s | %-14s | %-13s | %-6s | %-6s | %-8s\n",
		"ID", "Rate (Mbps)", "Burst (KB)", "Max Delay (us)", "Pkt Size (KB)", "Source", "Dest", "Admitted")
	for _, frd := range rd.Flows {
		summary += fmt.Sprintf("%-5d | %-11.2f | %-10.2f | %-14.2f | %-13.2f | %-6d | %-6d | %-8t\n",
			frd.FlowID, frd.ArrivalRate, frd.BurstSize, frd.MaxE2EDelay,
			frd.MaxPktSize, frd.Src, frd.Dest, frd.Admitted)
	}
	return summary
}

// writeDescFile serializes any of the description structs to the
// named file, selecting json or yaml by the extension
func writeDescFile(filename string, desc any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(desc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(desc, "", "\t")
	} else {
		return fmt.Errorf("unrecognized serialization extension %q", pathExt)
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	f.Close()
	return werr
}
