package tornet

// router.go holds the router's construction and its receive side: packets and
// credits arriving on a port, and the input LCB that drains arrivals one at a
// time into the input queues.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iti/evt/evtq"
)

// RouterCfg holds a router's construction parameters
type RouterCfg struct {
	ID   int
	Dims [3]int

	ILCBLat    int // link arrival to iLCB availability
	OLCBLat    int // OutQ->oLCB start to oLCB commit
	RoutingLat int // InQ->OutQ start to OutQ commit
	IQLat      int // iLCB start to input-queue commit

	InputQSize       int // per-VC input queue capacity, network ports
	OutputQSize      int // per-FIFO output queue capacity, network ports
	Router2NodeQSize int // output queue capacity toward the host
	Node2RouterQSize int // input queue capacity from the host

	OverheadMult float64

	// Dateline holds the dateline coordinate of each dimension
	Dateline [3]int
	VCRemap  [NumVCs]int

	// DebugInterval is the period in cycles of router state dumps, 0 for none
	DebugInterval int
	Trace         bool
}

// DefaultRouterCfg returns a configuration with every optional parameter at its default
func DefaultRouterCfg(id int, dims [3]int) *RouterCfg {
	return &RouterCfg{
		ID:               id,
		Dims:             dims,
		ILCBLat:          13,
		OLCBLat:          7,
		RoutingLat:       3,
		IQLat:            2,
		InputQSize:       128,
		OutputQSize:      128,
		Router2NodeQSize: 128,
		Node2RouterQSize: 128,
		OverheadMult:     1.0,
		VCRemap:          DefaultVCRemap,
	}
}

// ParseRouterCfg reads a router configuration from a parameter table. The
// torus dimensions and the id are required.
func ParseRouterCfg(p Params) (*RouterCfg, error) {
	id, err := p.RequireInt(-1, "id")
	if err != nil {
		return nil, err
	}
	var dims [3]int
	for dim, name := range []string{"network.xDimSize", "network.yDimSize", "network.zDimSize"} {
		if dims[dim], err = p.RequireInt(id, name); err != nil {
			return nil, err
		}
	}
	cfg := DefaultRouterCfg(id, dims)

	intParams := []struct {
		name string
		dst  *int
	}{
		{"iLCBLat", &cfg.ILCBLat},
		{"oLCBLat", &cfg.OLCBLat},
		{"routingLat", &cfg.RoutingLat},
		{"iQLat", &cfg.IQLat},
		{"InputQSize_flits", &cfg.InputQSize},
		{"OutputQSize_flits", &cfg.OutputQSize},
		{"Router2NodeQSize_flits", &cfg.Router2NodeQSize},
		{"Node2RouterQSize_flits", &cfg.Node2RouterQSize},
		{"routing.xDateline", &cfg.Dateline[0]},
		{"routing.yDateline", &cfg.Dateline[1]},
		{"routing.zDateline", &cfg.Dateline[2]},
		{"debugInterval", &cfg.DebugInterval},
	}
	for _, ip := range intParams {
		if *ip.dst, err = p.Int(id, ip.name, *ip.dst); err != nil {
			return nil, err
		}
	}
	if cfg.OverheadMult, err = p.Float(id, "overheadMult", cfg.OverheadMult); err != nil {
		return nil, err
	}
	if cfg.Trace, err = p.Bool(id, "trace", false); err != nil {
		return nil, err
	}
	if remap, present := p["routing.vcRemap"]; present {
		fields := strings.Split(remap, ",")
		if len(fields) != NumVCs {
			return nil, &ConfigError{Router: id, Param: "routing.vcRemap", Value: remap,
				Reason: fmt.Sprintf("needs %d entries", NumVCs)}
		}
		for vc, f := range fields {
			cfg.VCRemap[vc], err = strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, &ConfigError{Router: id, Param: "routing.vcRemap", Value: remap, Reason: err.Error()}
			}
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks the ranges of every parameter
func (cfg *RouterCfg) Validate() error {
	bad := func(param string, value any, reason string) error {
		return &ConfigError{Router: cfg.ID, Param: param, Value: fmt.Sprint(value), Reason: reason}
	}
	dimNames := []string{"x", "y", "z"}
	for dim := 0; dim < numDims; dim++ {
		if cfg.Dims[dim] < 1 {
			return bad("network."+dimNames[dim]+"DimSize", cfg.Dims[dim], "must be at least 1")
		}
		if cfg.Dateline[dim] < 0 || cfg.Dateline[dim] >= cfg.Dims[dim] {
			return bad("routing."+dimNames[dim]+"Dateline", cfg.Dateline[dim], "outside the dimension")
		}
	}
	numNodes := cfg.Dims[0] * cfg.Dims[1] * cfg.Dims[2]
	if cfg.ID < 0 || cfg.ID >= numNodes {
		return bad("id", cfg.ID, fmt.Sprintf("outside [0,%d)", numNodes))
	}
	for name, lat := range map[string]int{"iLCBLat": cfg.ILCBLat, "oLCBLat": cfg.OLCBLat,
		"routingLat": cfg.RoutingLat, "iQLat": cfg.IQLat, "debugInterval": cfg.DebugInterval} {
		if lat < 0 {
			return bad(name, lat, "must not be negative")
		}
	}
	for name, size := range map[string]int{"InputQSize_flits": cfg.InputQSize,
		"OutputQSize_flits": cfg.OutputQSize, "Router2NodeQSize_flits": cfg.Router2NodeQSize,
		"Node2RouterQSize_flits": cfg.Node2RouterQSize} {
		if size < MaxPacketSize {
			return bad(name, size, fmt.Sprintf("must hold a largest packet (%d flits)", MaxPacketSize))
		}
	}
	if cfg.OverheadMult < 1.0 {
		return bad("overheadMult", cfg.OverheadMult, "must be at least 1.0")
	}
	var seen [NumVCs]bool
	for _, vc := range cfg.VCRemap {
		if vc < 0 || vc >= NumVCs || seen[vc] {
			return bad("routing.vcRemap", cfg.VCRemap, "must be a permutation of the VCs")
		}
		seen[vc] = true
	}
	return nil
}

// parcel is a packet plus the routing decision made when it arrived
type parcel struct {
	ev    *Event
	ilink Direction
	ivc   int
	olink Direction
	ovc   int
	flits int
}

// inputLCB accepts arrivals from one port
type inputLCB struct {
	busy    bool
	waiting fifo
}

// Router is one node of the torus
type Router struct {
	ID       int
	Name     string
	coord    [3]int
	dims     [3]int
	dateline [3]bool
	vcRemap  [NumVCs]int
	routeTbl []Direction

	eng      *Engine
	links    [NumPorts]*Link
	traceMgr *TraceManager
	trace    bool

	iLCBLat, oLCBLat, routingLat, iQLat int
	overheadMult                        float64
	inQMax                              [NumPorts]int
	outQMax                             [NumPorts]int

	parcels pool[parcel]
	xferQ   *evtq.EventQueue

	ilcb [NumPorts]inputLCB
	inq  [NumPorts]inputQueue
	outq [NumPorts][NumPorts][NumVCs]outputQueue
	olcb [NumPorts]outputLCB

	readyILCB, readyInQ, readyOLCB bool

	now           int64
	cycles        int64
	debugInterval int
	stats         [NumPorts]linkStats
}

// CreateRouter is a constructor. Ports are attached afterwards with ConnectPort.
func CreateRouter(eng *Engine, cfg *RouterCfg, traceMgr *TraceManager) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := new(Router)
	r.ID = cfg.ID
	r.Name = fmt.Sprintf("rtr-%d", cfg.ID)
	r.dims = cfg.Dims
	r.coord = Coord(cfg.ID, cfg.Dims)
	for dim := 0; dim < numDims; dim++ {
		r.dateline[dim] = r.coord[dim] == cfg.Dateline[dim]
	}
	r.vcRemap = cfg.VCRemap
	r.routeTbl = buildRouteTable(cfg.ID, cfg.Dims)

	r.eng = eng
	r.traceMgr = traceMgr
	r.trace = cfg.Trace && traceMgr != nil && traceMgr.Active()
	if traceMgr != nil {
		traceMgr.AddName(r.ID, r.Name, "router")
	}

	r.iLCBLat = cfg.ILCBLat
	r.oLCBLat = cfg.OLCBLat
	r.routingLat = cfg.RoutingLat
	r.iQLat = cfg.IQLat
	r.overheadMult = cfg.OverheadMult
	for l := Direction(0); l < NumPorts; l++ {
		r.inQMax[l] = cfg.InputQSize
		r.outQMax[l] = cfg.OutputQSize
	}
	r.inQMax[Host] = cfg.Node2RouterQSize
	r.outQMax[Host] = cfg.Router2NodeQSize

	r.xferQ = evtq.New()
	r.debugInterval = cfg.DebugInterval
	if r.debugInterval > 0 {
		r.schedule(r.debugInterval, debugXfer, -1)
	}
	return r, nil
}

// ConnectPort attaches the outgoing link of port o. credits is the per-VC
// capacity of the buffer at the far end, which is where the output LCB's
// credit counters start.
func (r *Router) ConnectPort(o Direction, lnk *Link, credits int) error {
	if credits < MaxPacketSize {
		return &ConfigError{Router: r.ID, Param: o.String() + ".credits", Value: strconv.Itoa(credits),
			Reason: fmt.Sprintf("downstream buffer must hold a largest packet (%d flits)", MaxPacketSize)}
	}
	r.links[o] = lnk
	lcb := &r.olcb[o]
	lcb.maxCredits = credits
	for vc := 0; vc < NumVCs; vc++ {
		lcb.credits[vc] = credits
	}
	return nil
}

// Coord returns the router's torus coordinates
func (r *Router) Coord() [3]int {
	return r.coord
}

// IsDateline reports whether the router is the dateline of dimension dim
func (r *Router) IsDateline(dim int) bool {
	return r.dateline[dim]
}

// HandleEvent accepts a packet or a credit arriving on port
func (r *Router) HandleEvent(port Direction, ev *Event) {
	r.now = r.eng.Now()
	if ev.Type == CreditEvent {
		r.acceptCredit(port, ev)
		return
	}
	r.acceptPacket(port, ev)
}

// rtrVC translates a VC as numbered by the sender on port into router numbering
func (r *Router) rtrVC(port Direction, vc int, component string) int {
	if port == Host {
		if vc < 0 || vc >= NumNicVCs {
			violation(r.ID, component, port, vc, "NIC virtual channel out of range")
		}
		return Nic2RtrVC(vc)
	}
	if vc < 0 || vc >= NumVCs {
		violation(r.ID, component, port, vc, "virtual channel out of range")
	}
	return vc
}

func (r *Router) acceptPacket(port Direction, ev *Event) {
	pkt := &ev.Packet
	vc := r.rtrVC(port, pkt.VC, "iLCB")
	if pkt.Link != int(port) {
		violation(r.ID, "iLCB", port, vc, "link field %d does not match arrival port", pkt.Link)
	}
	flits := ev.SizeInFlits()
	if flits < 1 || flits > MaxPacketSize {
		violation(r.ID, "iLCB", port, vc, "packet of %d flits outside [1,%d]", flits, MaxPacketSize)
	}

	p := r.parcels.get()
	olink, err := r.Route(pkt.DestNum)
	if err != nil {
		r.parcels.put(p)
		panic(err)
	}
	r.stats[port].recordRx(vc, flits)

	*r.parcels.at(p) = parcel{ev: ev, ilink: port, ivc: vc, olink: olink,
		ovc: r.findOutputVC(vc, port, olink), flits: flits}
	if r.trace {
		AddPacketTrace(r.traceMgr, r.now, r.ID, "arrive", ev)
	}

	ilcb := &r.ilcb[port]
	if !ilcb.busy && ilcb.waiting.len() == 0 {
		r.iLCBStart(p)
	} else {
		ilcb.waiting.push(p)
	}
}

// iLCBStart begins draining a parcel from the iLCB into its input queue
func (r *Router) iLCBStart(p int32) {
	pc := r.parcels.at(p)
	r.ilcb[pc.ilink].busy = true
	r.schedule(pc.flits, iLCBInternalXferDone, p)
	r.schedule(r.iQLat, inQTailXferDone, p)
}

// iLCBXferDone frees the iLCB for its next waiting parcel
func (r *Router) iLCBXferDone(p int32) {
	ilcb := &r.ilcb[r.parcels.at(p).ilink]
	ilcb.busy = false
	if ilcb.waiting.len() > 0 {
		r.readyILCB = true
	}
}

func (r *Router) acceptCredit(port Direction, ev *Event) {
	vc := r.rtrVC(port, ev.Credit.VC, "credit")
	num := ev.Credit.Num
	r.eng.FreeEvent(ev)

	lcb := &r.olcb[port]
	before := lcb.credits[vc]
	lcb.credits[vc] += num
	if num < 0 || lcb.credits[vc] > lcb.maxCredits {
		violation(r.ID, "credit", port, vc, "credits %d+%d exceed capacity %d", before, num, lcb.maxCredits)
	}
	if before < MaxPacketSize && lcb.credits[vc] >= MaxPacketSize && lcb.pending[vc] > 0 && !lcb.internalBusy {
		r.readyOLCB = true
	}
}

// Credits is the credit counter of output port o on vc
func (r *Router) Credits(o Direction, vc int) int {
	r.checkPortVC("oLCB", o, vc)
	return r.olcb[o].credits[vc]
}

// CreditCapacity is the full credit count of output port o
func (r *Router) CreditCapacity(o Direction) int {
	r.checkPortVC("oLCB", o, 0)
	return r.olcb[o].maxCredits
}

// InputQueueFlits is the occupancy of input queue (l, vc)
func (r *Router) InputQueueFlits(l Direction, vc int) int {
	r.checkPortVC("inQ", l, vc)
	return r.inq[l].flits[vc]
}

// OutputQueueFlits is the occupancy of output queue (o, l, vc), including reserved space
func (r *Router) OutputQueueFlits(o, l Direction, vc int) int {
	r.checkPortVC("outQ", o, vc)
	r.checkPortVC("outQ", l, vc)
	return r.outq[o][l][vc].flits
}

// SkipListed reports the VCs of input port l waiting on the skip list, oldest first
func (r *Router) SkipListed(l Direction) []int {
	r.checkPortVC("inQ", l, 0)
	return r.inq[l].arb.skipped()
}

// OLCBSkipListed reports the VCs of output port o waiting on credits, oldest first
func (r *Router) OLCBSkipListed(o Direction) []int {
	r.checkPortVC("oLCB", o, 0)
	return r.olcb[o].arb.skipped()
}

// checkPortVC halts on a port or router VC outside its range
func (r *Router) checkPortVC(component string, l Direction, vc int) {
	if l < 0 || l >= NumPorts {
		violation(r.ID, component, l, vc, "port out of range")
	}
	if vc < 0 || vc >= NumVCs {
		violation(r.ID, component, l, vc, "virtual channel out of range")
	}
}

// CheckInvariants verifies the credit and capacity bounds of every port
func (r *Router) CheckInvariants() error {
	for l := Direction(0); l < NumPorts; l++ {
		lcb := &r.olcb[l]
		for vc := 0; vc < NumVCs; vc++ {
			if r.links[l] != nil && (lcb.credits[vc] < 0 || lcb.credits[vc] > lcb.maxCredits) {
				return &InvariantViolation{Router: r.ID, Component: "oLCB", Link: l, VC: vc,
					Detail: fmt.Sprintf("credits %d outside [0,%d]", lcb.credits[vc], lcb.maxCredits)}
			}
			if r.inq[l].flits[vc] > r.inQMax[l] {
				return &InvariantViolation{Router: r.ID, Component: "inQ", Link: l, VC: vc,
					Detail: fmt.Sprintf("%d flits exceed capacity %d", r.inq[l].flits[vc], r.inQMax[l])}
			}
			for in := Direction(0); in < NumPorts; in++ {
				if f := r.outq[l][in][vc].flits; f > r.outQMax[l] {
					return &InvariantViolation{Router: r.ID, Component: "outQ", Link: l, VC: vc,
						Detail: fmt.Sprintf("input %s holds %d flits, capacity %d", in, f, r.outQMax[l])}
				}
			}
		}
	}
	return nil
}
