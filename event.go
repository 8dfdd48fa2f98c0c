package tornet

// event.go defines what travels on a port: packets and credits.

const (
	// intBytes is sizeof(int) on the modelled node
	intBytes = 4

	// HdrSize is the packet header size in words
	HdrSize = 8 / intBytes

	// PktSize is the largest packet body in words
	PktSize = 64 / intBytes

	// MaxPacketSize is the largest packet in flits, and the credit
	// threshold the output LCB requires before pulling any packet
	MaxPacketSize = HdrSize + PktSize
)

// EventType tags the two variants an Event may carry
type EventType int

const (
	PacketEvent EventType = iota
	CreditEvent
)

func (et EventType) String() string {
	if et == CreditEvent {
		return "credit"
	}
	return "packet"
}

// Packet is the unit routers move. The payload is never inspected or changed.
type Packet struct {
	SrcNum  int
	DestNum int

	// VC is expressed in the numbering of the receiving side of the link
	VC int

	// Link carries the receiver-side input port index
	Link int

	// SizeWords is the packet length in ints
	SizeWords int

	// InjectCycle is stamped by the host adapter when the packet enters the network
	InjectCycle int64

	Payload any
}

// Credit returns Num flits of buffer space on VC to the sender
type Credit struct {
	VC  int
	Num int
}

// Event is the tagged union carried on links
type Event struct {
	Type   EventType
	Packet Packet
	Credit Credit
}

// SizeInFlits returns the flit count of a packet with the given number of
// words: two words per flit, with an odd word taking a flit of its own
func SizeInFlits(words int) int {
	flits := words / 2
	if words%2 != 0 {
		flits++
	}
	return flits
}

// SizeInFlits is the packet's flit count
func (ev *Event) SizeInFlits() int {
	return SizeInFlits(ev.Packet.SizeWords)
}

// reset clears the event before it goes back on a free list
func (ev *Event) reset() {
	*ev = Event{}
}
