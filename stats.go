package tornet

// stats.go gathers per-port traffic counts and produces the end-of-run report.

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

type linkStats struct {
	txFlits, rxFlits int64
	txPckts, rxPckts int64
	rxFlitsVC        [NumVCs]int64
}

func (ls *linkStats) recordRx(vc, flits int) {
	ls.rxFlits += int64(flits)
	ls.rxFlitsVC[vc] += int64(flits)
	ls.rxPckts++
}

func (ls *linkStats) recordTx(flits int) {
	ls.txFlits += int64(flits)
	ls.txPckts++
}

// LinkReport summarizes the traffic through one port
type LinkReport struct {
	Port          string  `json:"port" yaml:"port"`
	TxFlits       int64   `json:"txflits" yaml:"txflits"`
	RxFlits       int64   `json:"rxflits" yaml:"rxflits"`
	TxPckts       int64   `json:"txpckts" yaml:"txpckts"`
	RxPckts       int64   `json:"rxpckts" yaml:"rxpckts"`
	RxFlitsVC     []int64 `json:"rxflitsvc" yaml:"rxflitsvc"`
	TxPcktsPerSec float64 `json:"txpcktspersec" yaml:"txpcktspersec"`
	RxPcktsPerSec float64 `json:"rxpcktspersec" yaml:"rxpcktspersec"`
}

// RouterReport is what a router reports at finish
type RouterReport struct {
	ID     int          `json:"id" yaml:"id"`
	Coord  [3]int       `json:"coord" yaml:"coord"`
	Cycles int64        `json:"cycles" yaml:"cycles"`
	Links  []LinkReport `json:"links" yaml:"links"`

	// MaxParcels is the largest number of packets the router held at once
	MaxParcels int `json:"maxparcels" yaml:"maxparcels"`
}

// Finish reports per-port flit counts and packet rates
func (r *Router) Finish() *RouterReport {
	rr := &RouterReport{ID: r.ID, Coord: r.coord, Cycles: r.cycles, MaxParcels: r.parcels.maxInUse}
	secs := r.eng.Seconds(r.cycles)
	for l := Direction(0); l < NumPorts; l++ {
		ls := &r.stats[l]
		lr := LinkReport{Port: l.String(), TxFlits: ls.txFlits, RxFlits: ls.rxFlits,
			TxPckts: ls.txPckts, RxPckts: ls.rxPckts, RxFlitsVC: slices.Clone(ls.rxFlitsVC[:])}
		if secs > 0 {
			lr.TxPcktsPerSec = float64(ls.txPckts) / secs
			lr.RxPcktsPerSec = float64(ls.rxPckts) / secs
		}
		rr.Links = append(rr.Links, lr)
	}
	return rr
}

// Link returns the report of the named port
func (rr *RouterReport) Link(port Direction) *LinkReport {
	idx := slices.IndexFunc(rr.Links, func(lr LinkReport) bool { return lr.Port == port.String() })
	if idx < 0 {
		return nil
	}
	return &rr.Links[idx]
}

// LatencySummary describes the delivery latencies seen by sinks, in cycles
type LatencySummary struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	Max    float64 `json:"max" yaml:"max"`
}

// summarizeLatency computes a LatencySummary over the samples
func summarizeLatency(samples []float64) LatencySummary {
	ls := LatencySummary{Count: len(samples)}
	if len(samples) == 0 {
		return ls
	}
	ls.Mean = stat.Mean(samples, nil)
	if len(samples) > 1 {
		ls.StdDev = stat.StdDev(samples, nil)
	}
	ls.Max = math.Inf(-1)
	for _, s := range samples {
		ls.Max = math.Max(ls.Max, s)
	}
	return ls
}

// NetReport collects the router reports of a run
type NetReport struct {
	Name      string          `json:"name" yaml:"name"`
	Cycles    int64           `json:"cycles" yaml:"cycles"`
	ClockHz   float64         `json:"clockhz" yaml:"clockhz"`
	Injected  int             `json:"injected" yaml:"injected"`
	Delivered int             `json:"delivered" yaml:"delivered"`
	Latency   LatencySummary  `json:"latency" yaml:"latency"`
	Routers   []*RouterReport `json:"routers" yaml:"routers"`
}

// WriteToFile stores the report in the named file.
// Serialization to json or to yaml is selected based on the extension of this name.
func (nr *NetReport) WriteToFile(filename string) error {
	var bytes []byte
	var merr error

	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*nr)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*nr, "", "\t")
	default:
		return errors.New("report file " + filename + " needs a .yaml, .yml or .json extension")
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// ReadNetReport deserializes a report, from dict if it is not empty and from the file otherwise
func ReadNetReport(filename string, useYAML bool, dict []byte) (*NetReport, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	nr := NetReport{}
	if useYAML {
		err = yaml.Unmarshal(dict, &nr)
	} else {
		err = json.Unmarshal(dict, &nr)
	}
	if err != nil {
		return nil, err
	}
	return &nr, nil
}
