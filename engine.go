package tornet

// engine.go adapts the evt discrete-event manager to the cycle-driven view the
// router model needs: clock callbacks once per cycle, links that deliver an
// event a whole number of cycles after it is sent, and a free list of link events.
// One cycle is one unit of evt virtual time; ClockHz is only used to turn
// cycle counts into seconds when reporting.

import (
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// at equal timestamps link deliveries run before clock ticks, so that every
// event stamped with cycle c is in place before the cycle-c tick
const (
	linkPri  int64 = 1
	clockPri int64 = 2
)

// Clocked is implemented by components that act once per cycle
type Clocked interface {
	Tick(cycle int64)
}

// Receiver is implemented by components that own ports
type Receiver interface {
	HandleEvent(port Direction, ev *Event)
}

// Engine couples the model to an evtm.EventManager
type Engine struct {
	EvtMgr  *evtm.EventManager
	ClockHz float64

	stopped bool
	clocks  int

	// events sent on links and not yet delivered
	inFlight int

	// recycled link events
	evtFree []*Event
}

// CreateEngine is a constructor. clock is an SI frequency string such as "1GHz".
func CreateEngine(evtMgr *evtm.EventManager, clock string) (*Engine, error) {
	hz, err := ParseFreq(clock)
	if err != nil {
		return nil, &ConfigError{Router: -1, Param: "clock", Value: clock, Reason: err.Error()}
	}
	eng := new(Engine)
	eng.EvtMgr = evtMgr
	eng.ClockHz = hz
	eng.evtFree = make([]*Event, 0)
	return eng, nil
}

// Now returns the current cycle
func (eng *Engine) Now() int64 {
	return int64(math.Round(eng.EvtMgr.CurrentSeconds()))
}

// Seconds converts a cycle count to seconds of modelled time
func (eng *Engine) Seconds(cycles int64) float64 {
	return float64(cycles) / eng.ClockHz
}

type clockReg struct {
	eng *Engine
	c   Clocked
}

// RegisterClock arranges for c.Tick to be called every cycle, starting with the current one
func (eng *Engine) RegisterClock(c Clocked) {
	eng.clocks++
	cr := &clockReg{eng: eng, c: c}
	eng.EvtMgr.Schedule(cr, nil, clockTick, vrtime.SecondsToTimePri(0.0, clockPri))
}

// clockTick is the evtm handler behind RegisterClock
func clockTick(evtMgr *evtm.EventManager, context any, data any) any {
	cr := context.(*clockReg)
	if cr.eng.stopped {
		return nil
	}
	cr.c.Tick(cr.eng.Now())
	evtMgr.Schedule(cr, nil, clockTick, vrtime.SecondsToTimePri(1.0, clockPri))
	return nil
}

// InFlight is the number of packets and credits travelling on links
func (eng *Engine) InFlight() int {
	return eng.inFlight
}

// Stop ends all clocks. Events already in flight on links are still delivered.
func (eng *Engine) Stop() {
	eng.stopped = true
}

// Run advances the simulation until cycle limit, or until nothing is left to do
func (eng *Engine) Run(limit int64) {
	eng.EvtMgr.Run(float64(limit))
}

// RunUntil advances the simulation until done reports true (checked once per
// cycle) or cycle limit is reached. It reports whether done was satisfied.
func (eng *Engine) RunUntil(limit int64, done func() bool) bool {
	w := &watcher{eng: eng, done: done}
	eng.RegisterClock(w)
	eng.Run(limit)
	return w.satisfied
}

type watcher struct {
	eng       *Engine
	done      func() bool
	satisfied bool
}

func (w *watcher) Tick(cycle int64) {
	if !w.satisfied && w.done() {
		w.satisfied = true
		w.eng.Stop()
	}
}

// Link is one direction of a bidirectional port
type Link struct {
	eng  *Engine
	dst  Receiver
	port Direction
}

// Connect wires port aPort of a to port bPort of b and returns the a->b and b->a directions
func (eng *Engine) Connect(a Receiver, aPort Direction, b Receiver, bPort Direction) (*Link, *Link) {
	ab := &Link{eng: eng, dst: b, port: bPort}
	ba := &Link{eng: eng, dst: a, port: aPort}
	return ab, ba
}

// Send delivers ev to the far end of the link delay cycles from now.
// Ownership of ev passes to the receiver.
func (lnk *Link) Send(delay int, ev *Event) {
	lnk.eng.inFlight++
	lnk.eng.EvtMgr.Schedule(lnk, ev, deliverOnLink, vrtime.SecondsToTimePri(float64(delay), linkPri))
}

// Port names the port the link delivers to
func (lnk *Link) Port() Direction {
	return lnk.port
}

func deliverOnLink(evtMgr *evtm.EventManager, context any, data any) any {
	lnk := context.(*Link)
	lnk.eng.inFlight--
	lnk.dst.HandleEvent(lnk.port, data.(*Event))
	return nil
}

// NewPacketEvent draws an event from the free list and fills in a packet
func (eng *Engine) NewPacketEvent(src, dest, words int, payload any) *Event {
	ev := eng.allocEvent()
	ev.Type = PacketEvent
	ev.Packet = Packet{SrcNum: src, DestNum: dest, SizeWords: words, Payload: payload}
	return ev
}

func (eng *Engine) newCreditEvent(vc, num int) *Event {
	ev := eng.allocEvent()
	ev.Type = CreditEvent
	ev.Credit = Credit{VC: vc, Num: num}
	return ev
}

func (eng *Engine) allocEvent() *Event {
	n := len(eng.evtFree)
	if n == 0 {
		return new(Event)
	}
	ev := eng.evtFree[n-1]
	eng.evtFree = eng.evtFree[:n-1]
	return ev
}

// FreeEvent returns a consumed event to the free list
func (eng *Engine) FreeEvent(ev *Event) {
	ev.reset()
	eng.evtFree = append(eng.evtFree, ev)
}
