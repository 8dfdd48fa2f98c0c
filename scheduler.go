package tornet

// scheduler.go holds the router's internal event queue and its once-per-cycle
// tick. Multi-cycle transfers are not modelled by holding the tick; a stage
// starts a transfer, schedules the matching transfer-done event here, and
// returns. Events firing in the same cycle are dispatched in the order they
// were scheduled.

import (
	"github.com/iti/evt/vrtime"
)

// xferKind names a pipeline transition whose completion is scheduled
type xferKind int

const (
	iLCBInternalXferDone xferKind = iota
	inQTailXferDone
	inQHeadXferDone
	outQTailXferDone
	outQHeadXferDone
	oLCBInternalXferDone
	oLCBExternalXferDone
	debugXfer
	numXferKinds
)

var xferKindNames = [numXferKinds]string{
	"iLCB_internalXferDone", "InQ_tailXferDone", "InQ_headXferDone", "OutQ_tailXferDone",
	"OutQ_headXferDone", "oLCB_internalXferDone", "oLCB_externalXferDone", "Debug",
}

func (k xferKind) String() string {
	return xferKindNames[k]
}

// xferEvent is what the router's event queue carries
type xferEvent struct {
	kind   xferKind
	parcel int32
}

// xferHandlers is the dispatch table, indexed by kind
var xferHandlers [numXferKinds]func(r *Router, p int32)

func init() {
	xferHandlers = [numXferKinds]func(r *Router, p int32){
		iLCBInternalXferDone: (*Router).iLCBXferDone,
		inQTailXferDone:      (*Router).inQTailDone,
		inQHeadXferDone:      (*Router).inQHeadDone,
		outQTailXferDone:     (*Router).outQTailDone,
		outQHeadXferDone:     (*Router).outQHeadDone,
		oLCBInternalXferDone: (*Router).oLCBInternalDone,
		oLCBExternalXferDone: (*Router).oLCBExternalDone,
		debugXfer:            (*Router).debugDump,
	}
}

// schedule enqueues a transfer-done event delay cycles after the current one.
// The queue's time is counted in cycles; priority -1 has evtq number
// same-cycle events in insertion order.
func (r *Router) schedule(delay int, kind xferKind, p int32) {
	r.xferQ.Insert(xferEvent{kind: kind, parcel: p}, vrtime.CreateTime(r.now+int64(delay), -1))
}

// nextDue removes and returns the earliest event if it fires at or before cycle
func (r *Router) nextDue(cycle int64) (xferEvent, bool) {
	if r.xferQ.Len() == 0 || r.xferQ.MinTime().Ticks() > cycle {
		return xferEvent{}, false
	}
	return r.xferQ.Pop().(xferEvent), true
}

// drainEvents dispatches every event due at or before cycle
func (r *Router) drainEvents(cycle int64) {
	for {
		ev, ok := r.nextDue(cycle)
		if !ok {
			return
		}
		xferHandlers[ev.kind](r, ev.parcel)
	}
}

// Tick runs one cycle: due events, then the output LCBs, then the input
// queues, then the input LCBs. Output first makes credits freed this cycle
// visible to input-side arbitration.
func (r *Router) Tick(cycle int64) {
	r.now = cycle
	r.cycles++
	r.drainEvents(cycle)

	if r.readyOLCB {
		r.readyOLCB = false
		for o := Direction(0); o < NumPorts; o++ {
			r.lcbXferStart(o)
			r.outQToLCBStart(o)
			if r.oLCBHasWork(o) {
				r.readyOLCB = true
			}
		}
	}

	if r.readyInQ {
		r.readyInQ = false
		for l := Direction(0); l < NumPorts; l++ {
			r.inQToOutQStart(l)
			if r.inq[l].ready() {
				r.readyInQ = true
			}
		}
	}

	if r.readyILCB {
		r.readyILCB = false
		for l := Direction(0); l < NumPorts; l++ {
			ilcb := &r.ilcb[l]
			if !ilcb.busy && ilcb.waiting.len() > 0 {
				r.iLCBStart(ilcb.waiting.pop())
			}
		}
	}
}

// Idle reports whether the router holds no packets and has no pending transfers
func (r *Router) Idle() bool {
	return r.parcels.inUse == 0 && r.pendingXfers() == 0
}

func (r *Router) pendingXfers() int {
	n := r.xferQ.Len()
	if r.debugInterval > 0 {
		n--
	}
	return n
}
