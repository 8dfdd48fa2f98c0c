package tornet

import (
	"encoding/json"
	"errors"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"
)

// TraceInst is one trace record, serialized, with the cycle it was taken
type TraceInst struct {
	TraceTime int64
	TraceType string
	TraceStr  string
}

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string
	Type string
}

// TraceManager gathers trace records from routers and host adapters. When it
// is not in use every call returns immediately, so calls may be embedded
// wherever they are needed.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// trace records by the id of the object that produced them
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

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a record under the id of the object that produced it
func (tm *TraceManager) AddTrace(objID int, trace TraceInst) {
	if !tm.InUse {
		return
	}
	tm.Traces[objID] = append(tm.Traces[objID], trace)
}

// AddName adds an element to the id -> (name,type) dictionary for the trace file.
// Routers and host adapters share ids, so the key is offset by type.
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.InUse {
		return
	}
	key := id
	if objDesc == "nic" {
		key = -(id + 1)
	}
	if _, present := tm.NameByID[key]; present {
		panic(errors.New("duplicated id in AddName"))
	}
	tm.NameByID[key] = NameType{Name: name, Type: objDesc}
}

// WriteToFile stores the traces in the named file. Serialization to json or
// to yaml is selected based on the extension of this name. With globalOrder
// all records are merged into one list ordered by cycle.
func (tm *TraceManager) WriteToFile(filename string, globalOrder bool) error {
	if !tm.InUse {
		return nil
	}

	out := tm
	if globalOrder {
		out = CreateTraceManager(tm.ExpName, true)
		for key, value := range tm.NameByID {
			out.NameByID[key] = value
		}
		merged := make([]TraceInst, 0)
		for _, valueList := range tm.Traces {
			merged = append(merged, valueList...)
		}
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].TraceTime < merged[j].TraceTime })
		out.Traces[0] = merged
	}

	var bytes []byte
	var merr error
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*out)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*out, "", "\t")
	default:
		return errors.New("trace file " + filename + " needs a .yaml, .yml or .json extension")
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// PacketTrace records a packet passing a point in the network
type PacketTrace struct {
	Cycle int64
	ObjID int
	Op    string // "inject", "arrive", "depart", "deliver"
	Src   int
	Dest  int
	VC    int
	Link  string
	Flits int
}

// Serialize renders the record as yaml
func (pt *PacketTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*pt)
	if merr != nil {
		panic(merr)
	}
	return string(bytes)
}

// AddPacketTrace creates a record of a packet event and stores it
func AddPacketTrace(tm *TraceManager, cycle int64, objID int, op string, ev *Event) {
	if tm == nil || !tm.InUse {
		return
	}
	pt := &PacketTrace{Cycle: cycle, ObjID: objID, Op: op, Src: ev.Packet.SrcNum, Dest: ev.Packet.DestNum,
		VC: ev.Packet.VC, Link: Direction(ev.Packet.Link).String(), Flits: ev.SizeInFlits()}
	tm.AddTrace(objID, TraceInst{TraceTime: cycle, TraceType: "packet", TraceStr: pt.Serialize()})
}

// RouterStateTrace is a periodic snapshot of a router's flow-control state
type RouterStateTrace struct {
	Cycle     int64
	ObjID     int
	Parcels   int
	Credits   map[string][]int
	InQFlits  map[string][]int
	OutQFlits map[string][]int
	Busy      map[string]string
}

// Serialize renders the record as yaml
func (rst *RouterStateTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*rst)
	if merr != nil {
		panic(merr)
	}
	return string(bytes)
}

// snapshot captures the router's current flow-control state
func (r *Router) snapshot() *RouterStateTrace {
	rst := &RouterStateTrace{Cycle: r.now, ObjID: r.ID, Parcels: r.parcels.inUse,
		Credits: make(map[string][]int), InQFlits: make(map[string][]int),
		OutQFlits: make(map[string][]int), Busy: make(map[string]string)}
	for l := Direction(0); l < NumPorts; l++ {
		name := l.String()
		rst.Credits[name] = append([]int{}, r.olcb[l].credits[:]...)
		rst.InQFlits[name] = append([]int{}, r.inq[l].flits[:]...)
		outQ := make([]int, NumVCs)
		for in := Direction(0); in < NumPorts; in++ {
			for vc := 0; vc < NumVCs; vc++ {
				outQ[vc] += r.outq[l][in][vc].flits
			}
		}
		rst.OutQFlits[name] = outQ
		busy := ""
		if r.ilcb[l].busy {
			busy += "i"
		}
		if r.inq[l].headBusy {
			busy += "h"
		}
		if r.olcb[l].internalBusy {
			busy += "o"
		}
		if r.olcb[l].externalBusy {
			busy += "x"
		}
		if len(busy) > 0 {
			rst.Busy[name] = busy
		}
	}
	return rst
}

// debugDump is the periodic state dump. It has no effect on the pipeline.
func (r *Router) debugDump(int32) {
	if r.traceMgr != nil && r.traceMgr.Active() {
		rst := r.snapshot()
		r.traceMgr.AddTrace(r.ID, TraceInst{TraceTime: r.now, TraceType: "router", TraceStr: rst.Serialize()})
	}
	r.schedule(r.debugInterval, debugXfer, -1)
}
