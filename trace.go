package cqf

// trace.go holds the TraceManager, which gathers the per-cycle
// transmission events of a run for post-run analysis.  Records are
// grouped by flow and serialized to json or yaml, selected by the
// extension of the output file name.

import (
	"encoding/json"
	"os"
	"path"
	"strconv"

	"gopkg.in/yaml.v3"
)

// A TraceInst is one stored trace record, already serialized
type TraceInst struct {
	TraceCycle string
	TraceType  string
	TraceStr   string
}

// NameType is an entry in the dictionary that maps object id numbers
// to a (name, type) pair for the trace file
type NameType struct {
	Name string
	Type string
}

// A TraceManager gathers information about one execution of a model.
// Testing the InUse flag inhibits gathering when a trace is not
// wanted, while the calls to its methods stay embedded everywhere
// they are needed.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, grouped by flow id
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the trace manager is gathering
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a serialized record under its flow id
func (tm *TraceManager) AddTrace(flowID int, trace TraceInst) {
	if !tm.InUse {
		return
	}
	_, present := tm.Traces[flowID]
	if !present {
		tm.Traces[flowID] = make([]TraceInst, 0)
	}
	tm.Traces[flowID] = append(tm.Traces[flowID], trace)
}

// AddName adds an element to the id -> (name, type) dictionary
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile stores the gathered traces to the file whose name is
// given.  Serialization to json or to yaml is selected based on the
// extension of this name.
func (tm *TraceManager) WriteToFile(filename string) bool {
	if !tm.InUse {
		return false
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
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
	return true
}

// A CycleTrace records one event of a packet's passage across the
// cycle grid: a shaped arrival, a forward over a hop, a delivery, or
// one of the anomaly markers
type CycleTrace struct {
	Cycle  int     // cycle index of the event
	Node   int     // node where the event happened
	Peer   int     // other end of the hop, equal to Node for arrivals
	FlowID int     // flow the packet belongs to
	PcktID int     // packet identity
	Seq    int     // per-flow sequence number
	Size   float64 // packet size in KB
	Op     string  // "arrive", "forward", "deliver", "bound-exceeded", "out-of-order"
	Tau    float64 // alignment offset of the hop, zero when not a forward
}

func (ctr *CycleTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*ctr)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddCycleTrace creates a record of one per-cycle event and stores it
func AddCycleTrace(tm *TraceManager, cycle, node, peer int, pckt *Packet, op string, tau float64) {
	if !tm.Active() {
		return
	}
	ctr := new(CycleTrace)
	ctr.Cycle = cycle
	ctr.Node = node
	ctr.Peer = peer
	ctr.FlowID = pckt.FlowID
	ctr.PcktID = pckt.PcktID
	ctr.Seq = pckt.Seq
	ctr.Size = pckt.Size
	ctr.Op = op
	ctr.Tau = tau

	trcInst := TraceInst{
		TraceCycle: strconv.Itoa(cycle),
		TraceType:  "cycle",
		TraceStr:   ctr.Serialize(),
	}
	tm.AddTrace(ctr.FlowID, trcInst)
}
