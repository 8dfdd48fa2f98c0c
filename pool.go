package tornet

// pool.go has the small containers the router pipeline is built from:
// an index pool with stable indices, a ring FIFO of pool indices, and the
// round-robin VC arbiter with its skip list.

// bitmap is a growable set of small non-negative integers
type bitmap []uint64

func (b bitmap) get(i int32) bool {
	w := int(i) / 64
	return w < len(b) && b[w]&(1<<(uint(i)%64)) != 0
}

func (b *bitmap) set(i int32) {
	w := int(i) / 64
	for len(*b) <= w {
		*b = append(*b, 0)
	}
	(*b)[w] |= 1 << (uint(i) % 64)
}

func (b bitmap) unset(i int32) {
	w := int(i) / 64
	if w < len(b) {
		b[w] &^= 1 << (uint(i) % 64)
	}
}

// pool hands out elements by index. Indices stay valid until put back, and a
// freed index is remembered in a bitmap so a second put is caught.
type pool[T any] struct {
	elts     []T
	free     []int32
	freeMap  bitmap
	inUse    int
	maxInUse int
}

func (p *pool[T]) get() int32 {
	p.inUse++
	if p.inUse > p.maxInUse {
		p.maxInUse = p.inUse
	}
	if n := len(p.free); n > 0 {
		i := p.free[n-1]
		p.free = p.free[:n-1]
		p.freeMap.unset(i)
		return i
	}
	var zero T
	p.elts = append(p.elts, zero)
	return int32(len(p.elts) - 1)
}

// put returns index i; it reports false if i was already free
func (p *pool[T]) put(i int32) bool {
	if p.freeMap.get(i) {
		return false
	}
	var zero T
	p.elts[i] = zero
	p.free = append(p.free, i)
	p.freeMap.set(i)
	p.inUse--
	return true
}

func (p *pool[T]) at(i int32) *T {
	return &p.elts[i]
}

// fifo is a ring buffer of pool indices that grows when full
type fifo struct {
	buf  []int32
	head int
	n    int
}

func (q *fifo) len() int { return q.n }

func (q *fifo) push(x int32) {
	if q.n == len(q.buf) {
		size := 2 * len(q.buf)
		if size == 0 {
			size = 8
		}
		nbuf := make([]int32, size)
		for i := 0; i < q.n; i++ {
			nbuf[i] = q.buf[(q.head+i)%len(q.buf)]
		}
		q.buf = nbuf
		q.head = 0
	}
	q.buf[(q.head+q.n)%len(q.buf)] = x
	q.n++
}

func (q *fifo) front() int32 {
	return q.buf[q.head]
}

func (q *fifo) pop() int32 {
	x := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return x
}

// vcState is what an arbiter learns about the head of one VC
type vcState int

const (
	vcEmpty vcState = iota
	vcBlocked
	vcReady
)

// vcArbiter picks a VC round-robin. A VC whose head could not advance goes on
// the skip list, and skip-listed VCs are offered first on the next attempt,
// oldest first, so a blocked head is served as soon as it can move.
type vcArbiter struct {
	rr     int
	skip   [NumVCs]uint8
	skipHd int
	skipN  int
	onSkip uint8
}

func (a *vcArbiter) skipPush(vc int) {
	if a.onSkip&(1<<vc) != 0 {
		return
	}
	a.skip[(a.skipHd+a.skipN)%NumVCs] = uint8(vc)
	a.skipN++
	a.onSkip |= 1 << vc
}

func (a *vcArbiter) skipPop() int {
	vc := int(a.skip[a.skipHd])
	a.skipHd = (a.skipHd + 1) % NumVCs
	a.skipN--
	a.onSkip &^= 1 << vc
	return vc
}

// skipped reports the skip list in order, oldest first
func (a *vcArbiter) skipped() []int {
	rtn := make([]int, 0, a.skipN)
	for i := 0; i < a.skipN; i++ {
		rtn = append(rtn, int(a.skip[(a.skipHd+i)%NumVCs]))
	}
	return rtn
}

// pick makes at most NumVCs + len(skip list) attempts and returns the first VC
// whose state is vcReady
func (a *vcArbiter) pick(state func(vc int) vcState) (int, bool) {
	// skip list first, each entry once
	for n := a.skipN; n > 0; n-- {
		vc := a.skipPop()
		switch state(vc) {
		case vcReady:
			return vc, true
		case vcBlocked:
			a.skipPush(vc)
		}
	}

	for i := 0; i < NumVCs; i++ {
		a.rr = (a.rr + 1) % NumVCs
		vc := a.rr
		if a.onSkip&(1<<vc) != 0 {
			continue
		}
		switch state(vc) {
		case vcReady:
			return vc, true
		case vcBlocked:
			a.skipPush(vc)
		}
	}
	return 0, false
}
