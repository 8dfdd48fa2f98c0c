package tornet

// host.go holds the NIC side of a router's host port. The adapter offers two
// VCs to the traffic source above it and four to the router below; packets
// handed to the router are paced one flit per cycle and spend host tokens,
// which come back as credits when the router drains its host input queue.

import (
	"fmt"
)

// HostCfg holds a host adapter's construction parameters
type HostCfg struct {
	ID       int
	NumNodes int

	// Tokens is the router's host input-queue capacity, per NIC VC
	Tokens int

	// InboundSize is the adapter's receive buffer per NIC VC, which the
	// router's credits for the host port are drawn from
	InboundSize int

	Trace bool
}

// ParseHostCfg reads the adapter parameters. Buffer sizes come from the
// router the adapter is attached to so that both ends agree on them.
func ParseHostCfg(p Params, rcfg *RouterCfg) (*HostCfg, error) {
	numVC, err := p.Int(rcfg.ID, "num_vc", NumNicVCs)
	if err != nil {
		return nil, err
	}
	if numVC != NumNicVCs {
		return nil, &ConfigError{Router: rcfg.ID, Param: "num_vc", Value: fmt.Sprint(numVC),
			Reason: fmt.Sprintf("host adapter has %d VCs", NumNicVCs)}
	}
	hcfg := &HostCfg{ID: rcfg.ID, NumNodes: rcfg.Dims[0] * rcfg.Dims[1] * rcfg.Dims[2],
		Tokens: rcfg.Node2RouterQSize, InboundSize: rcfg.Router2NodeQSize}
	if hcfg.Trace, err = p.Bool(rcfg.ID, "trace", false); err != nil {
		return nil, err
	}
	return hcfg, nil
}

// HostAdapter is the network interface of one node
type HostAdapter struct {
	ID       int
	Name     string
	eng      *Engine
	link     *Link
	numNodes int

	tokens    [NumNicVCs]int
	maxTokens int
	outQ      [NumNicVCs][]*Event

	inQ     [NumNicVCs][]*Event
	inFlits [NumNicVCs]int
	inMax   int

	// reserved counts the cycles of link time already promised to packets handed off
	reserved int
	vcRR     int

	consumer func(h *HostAdapter, nicVC int)

	traceMgr *TraceManager
	trace    bool

	Injected  int64
	Delivered int64
	now       int64
}

// CreateHostAdapter is a constructor. The router link is attached afterwards with ConnectRouter.
func CreateHostAdapter(eng *Engine, cfg *HostCfg, traceMgr *TraceManager) *HostAdapter {
	h := new(HostAdapter)
	h.ID = cfg.ID
	h.Name = fmt.Sprintf("nic-%d", cfg.ID)
	h.eng = eng
	h.numNodes = cfg.NumNodes
	h.maxTokens = cfg.Tokens
	for vc := 0; vc < NumNicVCs; vc++ {
		h.tokens[vc] = cfg.Tokens
		h.outQ[vc] = make([]*Event, 0)
		h.inQ[vc] = make([]*Event, 0)
	}
	h.inMax = cfg.InboundSize
	h.traceMgr = traceMgr
	h.trace = cfg.Trace && traceMgr != nil && traceMgr.Active()
	if traceMgr != nil {
		traceMgr.AddName(h.ID, h.Name, "nic")
	}
	return h
}

// ConnectRouter attaches the link toward the router's host port
func (h *HostAdapter) ConnectRouter(lnk *Link) {
	h.link = lnk
}

// SetConsumer registers a function called whenever a packet lands in an
// inbound queue. It would normally call Recv.
func (h *HostAdapter) SetConsumer(fn func(h *HostAdapter, nicVC int)) {
	h.consumer = fn
}

func (h *HostAdapter) traceID() int {
	return -(h.ID + 1)
}

// Send queues a packet of words ints for dest on NIC VC nicVC
func (h *HostAdapter) Send(nicVC, dest, words int, payload any) error {
	if nicVC < 0 || nicVC >= NumNicVCs {
		return fmt.Errorf("nic %d: virtual channel %d outside [0,%d)", h.ID, nicVC, NumNicVCs)
	}
	if dest < 0 || dest >= h.numNodes {
		return &RoutingError{Router: h.ID, Dest: dest, NumNodes: h.numNodes}
	}
	if flits := SizeInFlits(words); flits < 1 || flits > MaxPacketSize {
		return fmt.Errorf("nic %d: packet of %d words is %d flits, outside [1,%d]", h.ID, words, flits, MaxPacketSize)
	}
	ev := h.eng.NewPacketEvent(h.ID, dest, words, payload)
	h.outQ[nicVC] = append(h.outQ[nicVC], ev)
	h.Injected++
	return nil
}

// Tick hands at most one packet to the router. The packet goes out on the
// link once the flits already handed off have been serialized.
func (h *HostAdapter) Tick(cycle int64) {
	h.now = cycle
	if h.reserved > 0 {
		h.reserved--
	}
	if h.link == nil {
		return
	}
	for i := 0; i < NumNicVCs; i++ {
		vc := (h.vcRR + i) % NumNicVCs
		if len(h.outQ[vc]) == 0 {
			continue
		}
		ev := h.outQ[vc][0]
		flits := ev.SizeInFlits()
		if flits > h.tokens[vc] {
			continue
		}
		h.outQ[vc][0] = nil
		h.outQ[vc] = h.outQ[vc][1:]
		h.tokens[vc] -= flits

		ev.Packet.VC = vc
		ev.Packet.Link = int(Host)
		ev.Packet.InjectCycle = cycle
		if h.trace {
			AddPacketTrace(h.traceMgr, cycle, h.traceID(), "inject", ev)
		}
		h.link.Send(h.reserved, ev)
		h.reserved += flits
		h.vcRR = (vc + 1) % NumNicVCs
		return
	}
}

// HandleEvent accepts a packet or a credit from the router
func (h *HostAdapter) HandleEvent(port Direction, ev *Event) {
	h.now = h.eng.Now()
	if ev.Type == CreditEvent {
		vc, num := ev.Credit.VC, ev.Credit.Num
		h.eng.FreeEvent(ev)
		if vc < 0 || vc >= NumNicVCs {
			violation(h.ID, "nic", port, vc, "credit for NIC virtual channel out of range")
		}
		h.tokens[vc] += num
		if num < 0 || h.tokens[vc] > h.maxTokens {
			violation(h.ID, "nic", port, vc, "tokens %d exceed capacity %d", h.tokens[vc], h.maxTokens)
		}
		return
	}

	if ev.Packet.VC < 0 || ev.Packet.VC >= NumVCs {
		violation(h.ID, "nic", port, ev.Packet.VC, "virtual channel out of range")
	}
	if ev.Packet.DestNum != h.ID {
		violation(h.ID, "nic", port, ev.Packet.VC, "packet for node %d delivered here", ev.Packet.DestNum)
	}
	nicVC := Rtr2NicVC(ev.Packet.VC)
	h.inFlits[nicVC] += ev.SizeInFlits()
	if h.inFlits[nicVC] > h.inMax {
		violation(h.ID, "nic", port, nicVC, "%d inbound flits exceed capacity %d", h.inFlits[nicVC], h.inMax)
	}
	h.inQ[nicVC] = append(h.inQ[nicVC], ev)
	if h.trace {
		AddPacketTrace(h.traceMgr, h.now, h.traceID(), "deliver", ev)
	}
	if h.consumer != nil {
		h.consumer(h, nicVC)
	}
}

// Recv removes the oldest packet of an inbound queue and returns its space
// to the router. ok is false when the queue is empty.
func (h *HostAdapter) Recv(nicVC int) (pkt Packet, ok bool) {
	h.checkNicVC(nicVC)
	if len(h.inQ[nicVC]) == 0 {
		return Packet{}, false
	}
	ev := h.inQ[nicVC][0]
	h.inQ[nicVC][0] = nil
	h.inQ[nicVC] = h.inQ[nicVC][1:]

	flits := ev.SizeInFlits()
	h.inFlits[nicVC] -= flits
	h.link.Send(creditDelay, h.eng.newCreditEvent(nicVC, flits))
	pkt = ev.Packet
	h.eng.FreeEvent(ev)
	h.Delivered++
	return pkt, true
}

// Tokens is the number of flits the adapter may still hand the router on nicVC
func (h *HostAdapter) Tokens(nicVC int) int {
	h.checkNicVC(nicVC)
	return h.tokens[nicVC]
}

// MaxTokens is the adapter's full token count
func (h *HostAdapter) MaxTokens() int {
	return h.maxTokens
}

// Outbound is the number of packets waiting to enter the network on nicVC
func (h *HostAdapter) Outbound(nicVC int) int {
	h.checkNicVC(nicVC)
	return len(h.outQ[nicVC])
}

// Inbound is the number of delivered packets not yet received on nicVC
func (h *HostAdapter) Inbound(nicVC int) int {
	h.checkNicVC(nicVC)
	return len(h.inQ[nicVC])
}

func (h *HostAdapter) checkNicVC(nicVC int) {
	if nicVC < 0 || nicVC >= NumNicVCs {
		violation(h.ID, "nic", Host, nicVC, "NIC virtual channel out of range")
	}
}

// Idle reports whether nothing waits to be sent and every token is home
func (h *HostAdapter) Idle() bool {
	for vc := 0; vc < NumNicVCs; vc++ {
		if len(h.outQ[vc]) > 0 || h.tokens[vc] != h.maxTokens {
			return false
		}
	}
	return true
}
