package tornet

// queues.go moves parcels from the input queues to the output queues, and
// from the output queues through the output LCB onto the link. Credits for a
// downstream input buffer are spent when the output LCB pulls a parcel and
// returned when the parcel leaves that downstream input queue.

// creditDelay is the link latency of a credit return
const creditDelay = 1

// inputQueue holds one FIFO per VC for an input port
type inputQueue struct {
	vcQ      [NumVCs]fifo
	flits    [NumVCs]int
	readyVCs int
	headBusy bool
	arb      vcArbiter
}

func (q *inputQueue) ready() bool {
	return q.readyVCs > 0 && !q.headBusy
}

// outputQueue holds routed parcels for one (output, input, VC). flits counts
// committed parcels plus space reserved by transfers in progress.
type outputQueue struct {
	q     fifo
	flits int
}

// outputLCB stages parcels for one output port
type outputLCB struct {
	credits    [NumVCs]int
	maxCredits int

	// pending counts parcels committed to this port's output queues, per VC
	pending [NumVCs]int
	ilinkRR [NumVCs]int
	arb     vcArbiter

	internalBusy bool
	externalBusy bool
	dataQ        fifo
}

// inQTailDone commits a parcel from the iLCB into its input queue
func (r *Router) inQTailDone(p int32) {
	pc := r.parcels.at(p)
	q := &r.inq[pc.ilink]
	q.flits[pc.ivc] += pc.flits
	if q.flits[pc.ivc] > r.inQMax[pc.ilink] {
		violation(r.ID, "inQ", pc.ilink, pc.ivc, "%d flits exceed capacity %d", q.flits[pc.ivc], r.inQMax[pc.ilink])
	}
	if q.vcQ[pc.ivc].len() == 0 {
		q.readyVCs++
	}
	q.vcQ[pc.ivc].push(p)
	r.readyInQ = true
}

// inQToOutQStart arbitrates among the VCs of input port l and starts moving
// the winner's head parcel to its output queue
func (r *Router) inQToOutQStart(l Direction) {
	q := &r.inq[l]
	if !q.ready() {
		return
	}
	vc, ok := q.arb.pick(func(vc int) vcState {
		if q.vcQ[vc].len() == 0 {
			return vcEmpty
		}
		pc := r.parcels.at(q.vcQ[vc].front())
		if pc.flits > r.outQMax[pc.olink]-r.outq[pc.olink][l][pc.ovc].flits {
			return vcBlocked
		}
		return vcReady
	})
	if !ok {
		return
	}

	p := q.vcQ[vc].pop()
	if q.vcQ[vc].len() == 0 {
		q.readyVCs--
	}
	pc := r.parcels.at(p)
	oq := &r.outq[pc.olink][l][pc.ovc]
	oq.flits += pc.flits
	if oq.flits > r.outQMax[pc.olink] {
		violation(r.ID, "outQ", pc.olink, pc.ovc, "%d flits from %s exceed capacity %d", oq.flits, l, r.outQMax[pc.olink])
	}
	q.headBusy = true
	r.schedule(pc.flits, inQHeadXferDone, p)
	r.schedule(r.routingLat, outQTailXferDone, p)
}

// inQHeadDone frees the input queue head and returns the space upstream
func (r *Router) inQHeadDone(p int32) {
	pc := r.parcels.at(p)
	q := &r.inq[pc.ilink]
	q.headBusy = false
	q.flits[pc.ivc] -= pc.flits
	r.returnCredit(pc.ilink, pc.ivc, pc.flits)
	if q.readyVCs > 0 {
		r.readyInQ = true
	}
}

// returnCredit sends flits of credit for (l, vc) back to the sender on port l
func (r *Router) returnCredit(l Direction, vc, flits int) {
	lnk := r.links[l]
	if lnk == nil {
		return
	}
	if l == Host {
		vc = Rtr2NicVC(vc)
	}
	lnk.Send(creditDelay, r.eng.newCreditEvent(vc, flits))
}

// outQTailDone commits a routed parcel into its output queue
func (r *Router) outQTailDone(p int32) {
	pc := r.parcels.at(p)
	r.outq[pc.olink][pc.ilink][pc.ovc].q.push(p)
	r.olcb[pc.olink].pending[pc.ovc]++
	r.readyOLCB = true
}

// outQToLCBStart picks a VC with at least a largest packet's worth of credit,
// then an input port round-robin, and pulls that head parcel into the output LCB
func (r *Router) outQToLCBStart(o Direction) {
	lcb := &r.olcb[o]
	if lcb.internalBusy {
		return
	}
	vc, ok := lcb.arb.pick(func(vc int) vcState {
		if lcb.pending[vc] == 0 {
			return vcEmpty
		}
		if lcb.credits[vc] < MaxPacketSize {
			return vcBlocked
		}
		return vcReady
	})
	if !ok {
		return
	}

	in := -1
	for i := 0; i < NumPorts; i++ {
		cand := (lcb.ilinkRR[vc] + i) % NumPorts
		if r.outq[o][cand][vc].q.len() > 0 {
			in = cand
			break
		}
	}
	if in < 0 {
		violation(r.ID, "oLCB", o, vc, "%d parcels pending but every output queue is empty", lcb.pending[vc])
	}
	lcb.ilinkRR[vc] = (in + 1) % NumPorts

	p := r.outq[o][in][vc].q.pop()
	pc := r.parcels.at(p)
	lcb.pending[vc]--
	lcb.credits[vc] -= pc.flits
	if lcb.credits[vc] < 0 {
		violation(r.ID, "oLCB", o, vc, "credits went negative (%d)", lcb.credits[vc])
	}
	lcb.internalBusy = true
	r.schedule(pc.flits, outQHeadXferDone, p)
	r.schedule(r.oLCBLat, oLCBInternalXferDone, p)
}

// outQHeadDone releases the output queue space and the LCB's internal path
func (r *Router) outQHeadDone(p int32) {
	pc := r.parcels.at(p)
	r.outq[pc.olink][pc.ilink][pc.ovc].flits -= pc.flits
	r.olcb[pc.olink].internalBusy = false
	r.readyOLCB = true
	r.readyInQ = true
}

// oLCBInternalDone commits a parcel to the LCB's transmit queue
func (r *Router) oLCBInternalDone(p int32) {
	r.olcb[r.parcels.at(p).olink].dataQ.push(p)
	r.readyOLCB = true
}

// lcbXferStart puts the front parcel of the transmit queue on the link
func (r *Router) lcbXferStart(o Direction) {
	lcb := &r.olcb[o]
	if lcb.externalBusy || lcb.dataQ.len() == 0 {
		return
	}
	lnk := r.links[o]
	if lnk == nil {
		violation(r.ID, "oLCB", o, 0, "port is not connected")
	}

	p := lcb.dataQ.pop()
	pc := r.parcels.at(p)
	ev := pc.ev
	pc.ev = nil
	ev.Packet.VC = pc.ovc
	ev.Packet.Link = int(o.Opposite())
	if r.trace {
		AddPacketTrace(r.traceMgr, r.now, r.ID, "depart", ev)
	}
	lnk.Send(r.iLCBLat, ev)

	lcb.externalBusy = true
	r.schedule(int(float64(pc.flits)*r.overheadMult), oLCBExternalXferDone, p)
}

// oLCBExternalDone ends the serialization of a parcel onto the link
func (r *Router) oLCBExternalDone(p int32) {
	pc := r.parcels.at(p)
	r.olcb[pc.olink].externalBusy = false
	r.stats[pc.olink].recordTx(pc.flits)
	r.parcels.put(p)
	r.readyOLCB = true
}

// oLCBHasWork reports whether either sub-stage of port o could start next cycle
func (r *Router) oLCBHasWork(o Direction) bool {
	lcb := &r.olcb[o]
	if !lcb.externalBusy && lcb.dataQ.len() > 0 {
		return true
	}
	if lcb.internalBusy {
		return false
	}
	for vc := 0; vc < NumVCs; vc++ {
		if lcb.pending[vc] > 0 && lcb.credits[vc] >= MaxPacketSize {
			return true
		}
	}
	return false
}
