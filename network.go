package tornet

// network.go builds a whole torus from an experiment configuration: one
// router and one host adapter per node, wired together and to the clock.

import (
	"fmt"

	"github.com/iti/evt/evtm"
)

// Network is a torus of routers with a host adapter on every node
type Network struct {
	Name    string
	Dims    [3]int
	Eng     *Engine
	Routers []*Router
	Hosts   []*HostAdapter
	Gens    []*TrafficGen
	Sinks   []*Sink

	cfgs     []*RouterCfg
	traceMgr *TraceManager
}

// NumNodes is the number of routers
func (net *Network) NumNodes() int {
	return len(net.Routers)
}

// verifyRoutes checks the route tables of a torus before it is built
var verifyRoutes = VerifyRouteTables

// BuildNetwork creates and connects every router and host adapter the
// experiment describes, and registers them all on the clock
func BuildNetwork(evtMgr *evtm.EventManager, expCfg *ExpCfg, traceMgr *TraceManager) (*Network, error) {
	if err := expCfg.Validate(); err != nil {
		return nil, err
	}
	netParams := expCfg.ParamsFor("Network", -1, [3]int{})

	net := new(Network)
	net.Name = netParams.String("name", expCfg.Name)
	net.traceMgr = traceMgr
	dimParams := make(Params)
	for dim, name := range []string{"network.xDimSize", "network.yDimSize", "network.zDimSize"} {
		size, err := netParams.RequireInt(-1, name)
		if err != nil {
			return nil, err
		}
		if size < 1 {
			return nil, &ConfigError{Router: -1, Param: name, Value: fmt.Sprint(size), Reason: "must be at least 1"}
		}
		net.Dims[dim] = size
		dimParams[name] = fmt.Sprint(size)
	}

	if err := verifyRoutes(net.Dims); err != nil {
		return nil, &ConfigError{Router: -1, Param: "network.dims",
			Value: fmt.Sprintf("%dx%dx%d", net.Dims[0], net.Dims[1], net.Dims[2]), Reason: err.Error()}
	}

	eng, err := CreateEngine(evtMgr, netParams.String("clock", "1GHz"))
	if err != nil {
		return nil, err
	}
	net.Eng = eng

	numNodes := net.Dims[0] * net.Dims[1] * net.Dims[2]
	net.Routers = make([]*Router, numNodes)
	net.Hosts = make([]*HostAdapter, numNodes)
	net.cfgs = make([]*RouterCfg, numNodes)
	hcfgs := make([]*HostCfg, numNodes)

	for n := 0; n < numNodes; n++ {
		coord := Coord(n, net.Dims)
		base := dimParams.merge(Params{"id": fmt.Sprint(n)})
		rcfg, err := ParseRouterCfg(base.merge(expCfg.ParamsFor("Router", n, coord)))
		if err != nil {
			return nil, err
		}
		if net.Routers[n], err = CreateRouter(eng, rcfg, traceMgr); err != nil {
			return nil, err
		}
		net.cfgs[n] = rcfg

		if hcfgs[n], err = ParseHostCfg(expCfg.ParamsFor("Host", n, coord), rcfg); err != nil {
			return nil, err
		}
		net.Hosts[n] = CreateHostAdapter(eng, hcfgs[n], traceMgr)
	}

	errs := make([]error, 0)
	for n := 0; n < numNodes; n++ {
		for dim := 0; dim < numDims; dim++ {
			m := Neighbor(n, posDir(dim), net.Dims)
			ab, ba := eng.Connect(net.Routers[n], posDir(dim), net.Routers[m], negDir(dim))
			errs = append(errs, net.Routers[n].ConnectPort(posDir(dim), ab, net.cfgs[m].InputQSize))
			errs = append(errs, net.Routers[m].ConnectPort(negDir(dim), ba, net.cfgs[n].InputQSize))
		}
		toRtr, toHost := eng.Connect(net.Hosts[n], Host, net.Routers[n], Host)
		net.Hosts[n].ConnectRouter(toRtr)
		errs = append(errs, net.Routers[n].ConnectPort(Host, toHost, hcfgs[n].InboundSize))
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}

	for n := 0; n < numNodes; n++ {
		eng.RegisterClock(net.Routers[n])
		eng.RegisterClock(net.Hosts[n])
	}
	return net, nil
}

// AttachSinks puts a Sink on every host adapter
func (net *Network) AttachSinks() {
	net.Sinks = make([]*Sink, len(net.Hosts))
	for n, h := range net.Hosts {
		net.Sinks[n] = AttachSink(net.Eng, h)
	}
}

// AttachTraffic gives every node a generator configured by cfg. Each
// generator draws from its own random stream, named from seed and the node id.
func (net *Network) AttachTraffic(cfg TrafficCfg, seed string) error {
	for n, h := range net.Hosts {
		tg, err := CreateTrafficGen(h, net.Dims, cfg, fmt.Sprintf("%s-%d", seed, n))
		if err != nil {
			return err
		}
		net.AddGen(tg)
	}
	return nil
}

// AddGen registers a generator on the clock
func (net *Network) AddGen(tg *TrafficGen) {
	net.Gens = append(net.Gens, tg)
	net.Eng.RegisterClock(tg)
}

// Drained reports whether every generator has finished and no packet
// remains anywhere in the network
func (net *Network) Drained() bool {
	if net.Eng.InFlight() > 0 {
		return false
	}
	for _, tg := range net.Gens {
		if !tg.Done() {
			return false
		}
	}
	for n := range net.Routers {
		if !net.Routers[n].Idle() || !net.Hosts[n].Idle() {
			return false
		}
		for vc := 0; vc < NumNicVCs; vc++ {
			if net.Hosts[n].Inbound(vc) > 0 {
				return false
			}
		}
	}
	return true
}

// Run advances the network until it drains or limit cycles pass. It reports
// whether the network drained.
func (net *Network) Run(limit int64) bool {
	return net.Eng.RunUntil(limit, net.Drained)
}

// CheckInvariants verifies credit and capacity bounds on every router and adapter
func (net *Network) CheckInvariants() error {
	for n, r := range net.Routers {
		if err := r.CheckInvariants(); err != nil {
			return err
		}
		h := net.Hosts[n]
		for vc := 0; vc < NumNicVCs; vc++ {
			if h.tokens[vc] < 0 || h.tokens[vc] > h.maxTokens {
				return &InvariantViolation{Router: n, Component: "nic", Link: Host, VC: vc,
					Detail: fmt.Sprintf("tokens %d outside [0,%d]", h.tokens[vc], h.maxTokens)}
			}
			if h.inFlits[vc] > h.inMax {
				return &InvariantViolation{Router: n, Component: "nic", Link: Host, VC: vc,
					Detail: fmt.Sprintf("%d inbound flits exceed capacity %d", h.inFlits[vc], h.inMax)}
			}
		}
	}
	return nil
}

type invariantWatch struct {
	net *Network
}

func (iw *invariantWatch) Tick(cycle int64) {
	if err := iw.net.CheckInvariants(); err != nil {
		panic(err)
	}
}

// WatchInvariants checks the invariants of the whole network every cycle, panicking on the first failure
func (net *Network) WatchInvariants() {
	net.Eng.RegisterClock(&invariantWatch{net: net})
}

// Finish collects the router reports and the sinks' latency samples
func (net *Network) Finish() *NetReport {
	nr := &NetReport{Name: net.Name, ClockHz: net.Eng.ClockHz}
	for n, r := range net.Routers {
		rr := r.Finish()
		nr.Cycles = max(nr.Cycles, rr.Cycles)
		nr.Routers = append(nr.Routers, rr)
		nr.Injected += int(net.Hosts[n].Injected)
		nr.Delivered += int(net.Hosts[n].Delivered)
	}
	samples := make([]float64, 0)
	for _, snk := range net.Sinks {
		samples = append(samples, snk.Latencies()...)
	}
	nr.Latency = summarizeLatency(samples)
	return nr
}
