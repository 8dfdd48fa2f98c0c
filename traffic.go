package tornet

// traffic.go drives host adapters: a TrafficGen injects packets by pattern and
// a Sink drains and checks what arrives.

import (
	"fmt"
	"math"

	"github.com/iti/rngstream"
	"golang.org/x/exp/slices"
)

// TrafficPatterns lists the destination patterns a TrafficGen knows
var TrafficPatterns = []string{"fixed", "uniform", "neighbor", "alltoall"}

// TrafficCfg describes the packets one generator injects
type TrafficCfg struct {
	Pattern string
	Dest    int // for "fixed"
	NicVC   int
	Words   int

	// Count is the number of packets to inject, 0 for no limit.
	// "alltoall" always sends one packet to every other node.
	Count int

	// Rate is the injection probability per cycle, or with Exponential the
	// mean number of packets per cycle
	Rate        float64
	Exponential bool

	// Backlog caps the packets left waiting in the adapter
	Backlog int
}

// Validate checks the configuration against a network of numNodes
func (tc *TrafficCfg) Validate(id, numNodes int) error {
	bad := func(param string, value any, reason string) error {
		return &ConfigError{Router: id, Param: param, Value: fmt.Sprint(value), Reason: reason}
	}
	if !slices.Contains(TrafficPatterns, tc.Pattern) {
		return bad("pattern", tc.Pattern, "unknown traffic pattern")
	}
	if tc.Pattern == "fixed" && (tc.Dest < 0 || tc.Dest >= numNodes) {
		return bad("dest", tc.Dest, fmt.Sprintf("outside [0,%d)", numNodes))
	}
	if tc.Pattern == "uniform" && numNodes < 2 {
		return bad("pattern", tc.Pattern, "needs at least two nodes")
	}
	if tc.NicVC < 0 || tc.NicVC >= NumNicVCs {
		return bad("vc", tc.NicVC, fmt.Sprintf("outside [0,%d)", NumNicVCs))
	}
	if flits := SizeInFlits(tc.Words); flits < 1 || flits > MaxPacketSize {
		return bad("words", tc.Words, fmt.Sprintf("packet must be 1 to %d flits", MaxPacketSize))
	}
	if !(tc.Rate > 0) || (!tc.Exponential && tc.Rate > 1.0) {
		return bad("rate", tc.Rate, "must be in (0,1]")
	}
	if tc.Count < 0 || tc.Backlog < 0 {
		return bad("count", tc.Count, "must not be negative")
	}
	return nil
}

// Stamp is the payload a TrafficGen attaches: the packet's position in the
// sequence sent from its source to its destination on its NIC VC
type Stamp struct {
	VC  int
	Seq int64
}

// TrafficGen injects packets into one host adapter
type TrafficGen struct {
	host *HostAdapter
	cfg  TrafficCfg
	dims [3]int
	rng  *rngstream.RngStream

	sent   int
	nextAt int64
	seq    map[int]int64
}

// CreateTrafficGen is a constructor. name selects the generator's random number stream.
func CreateTrafficGen(host *HostAdapter, dims [3]int, cfg TrafficCfg, name string) (*TrafficGen, error) {
	numNodes := dims[0] * dims[1] * dims[2]
	if err := cfg.Validate(host.ID, numNodes); err != nil {
		return nil, err
	}
	if cfg.Pattern == "alltoall" {
		cfg.Count = numNodes - 1
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = 64
	}
	tg := &TrafficGen{host: host, cfg: cfg, dims: dims, rng: rngstream.New(name), seq: make(map[int]int64)}
	return tg, nil
}

// Sent is the number of packets handed to the adapter
func (tg *TrafficGen) Sent() int {
	return tg.sent
}

// Done reports whether the generator has injected all it will
func (tg *TrafficGen) Done() bool {
	return tg.cfg.Count > 0 && tg.sent >= tg.cfg.Count
}

// Tick may inject one packet
func (tg *TrafficGen) Tick(cycle int64) {
	if tg.Done() || tg.host.Outbound(tg.cfg.NicVC) >= tg.cfg.Backlog {
		return
	}
	if tg.cfg.Exponential {
		if cycle < tg.nextAt {
			return
		}
		gap := int64(math.Round(expRV(tg.rng.RandU01(), tg.cfg.Rate)))
		tg.nextAt = cycle + max(gap, 1)
	} else if tg.rng.RandU01() >= tg.cfg.Rate {
		return
	}

	dest := tg.nextDest()
	key := dest*NumNicVCs + tg.cfg.NicVC
	stamp := Stamp{VC: tg.cfg.NicVC, Seq: tg.seq[key]}
	if err := tg.host.Send(tg.cfg.NicVC, dest, tg.cfg.Words, stamp); err != nil {
		panic(err)
	}
	tg.seq[key]++
	tg.sent++
}

func (tg *TrafficGen) nextDest() int {
	id := tg.host.ID
	numNodes := tg.dims[0] * tg.dims[1] * tg.dims[2]
	switch tg.cfg.Pattern {
	case "uniform":
		dest := tg.rng.RandInt(0, numNodes-2)
		if dest >= id {
			dest++
		}
		return dest
	case "neighbor":
		return Neighbor(id, Direction(tg.sent%NumNetPorts), tg.dims)
	case "alltoall":
		return (id + 1 + tg.sent) % numNodes
	}
	return tg.cfg.Dest
}

// expRV returns a sample of an exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// Sink receives every packet delivered to a host adapter as soon as it lands
type Sink struct {
	eng  *Engine
	host *HostAdapter

	Received   int64
	OutOfOrder int64
	BySource   map[int]int64

	expect    map[int]int64
	latencies []float64
}

// AttachSink creates a sink and makes it the adapter's consumer
func AttachSink(eng *Engine, host *HostAdapter) *Sink {
	snk := &Sink{eng: eng, host: host, BySource: make(map[int]int64),
		expect: make(map[int]int64), latencies: make([]float64, 0)}
	host.SetConsumer(func(h *HostAdapter, nicVC int) {
		snk.drain(nicVC)
	})
	return snk
}

func (snk *Sink) drain(nicVC int) {
	for {
		pkt, ok := snk.host.Recv(nicVC)
		if !ok {
			return
		}
		snk.Received++
		snk.BySource[pkt.SrcNum]++
		snk.latencies = append(snk.latencies, float64(snk.eng.Now()-pkt.InjectCycle))

		stamp, stamped := pkt.Payload.(Stamp)
		if !stamped {
			continue
		}
		key := pkt.SrcNum*NumNicVCs + stamp.VC
		if stamp.Seq != snk.expect[key] {
			snk.OutOfOrder++
		}
		snk.expect[key] = stamp.Seq + 1
	}
}

// Latencies returns the delivery latency of every packet received, in cycles
func (snk *Sink) Latencies() []float64 {
	return snk.latencies
}
