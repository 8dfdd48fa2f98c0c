package tornet

// routing.go holds the torus addressing, the dimension-order route table,
// dateline virtual-channel selection, and a check of the route table against
// shortest paths computed on a graph of the torus.

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Direction names one of a router's seven ports
type Direction int

const (
	XPos Direction = iota
	XNeg
	YPos
	YNeg
	ZPos
	ZNeg
	Host
)

const (
	// NumNetPorts is the number of network-side ports
	NumNetPorts = 6

	// NumPorts counts the network ports plus the host port; every router
	// has this many input queues and this many output queues
	NumPorts = 7

	// NumVCs is the number of router virtual channels
	NumVCs = 4

	// NumNicVCs is the number of virtual channels the host NIC presents
	NumNicVCs = 2

	numDims = 3
)

var portNames = []string{"xPos", "xNeg", "yPos", "yNeg", "zPos", "zNeg", "nic"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(portNames) {
		return fmt.Sprintf("port(%d)", int(d))
	}
	return portNames[d]
}

// PortFromName maps a port name (xPos ... nic) to its Direction
func PortFromName(name string) (Direction, bool) {
	idx := slices.Index(portNames, name)
	if idx < 0 {
		return 0, false
	}
	return Direction(idx), true
}

// Dim is the dimension a network port moves along; the host port has none
func (d Direction) Dim() int {
	if d == Host {
		return -1
	}
	return int(d) / 2
}

// Opposite is the port on the neighbor that faces this one
func (d Direction) Opposite() Direction {
	if d == Host {
		return Host
	}
	return d ^ 1
}

func posDir(dim int) Direction { return Direction(2 * dim) }
func negDir(dim int) Direction { return Direction(2*dim + 1) }

// Coord gives the (x,y,z) position of node n in a torus of the given dimensions
func Coord(n int, dims [3]int) [3]int {
	return [3]int{n % dims[0], (n / dims[0]) % dims[1], n / (dims[0] * dims[1])}
}

// NodeAt is the inverse of Coord
func NodeAt(c [3]int, dims [3]int) int {
	return c[0] + dims[0]*(c[1]+dims[1]*c[2])
}

// Neighbor returns the node reached by leaving n through port d
func Neighbor(n int, d Direction, dims [3]int) int {
	if d == Host {
		return n
	}
	c := Coord(n, dims)
	dim := d.Dim()
	if d == posDir(dim) {
		c[dim] = (c[dim] + 1) % dims[dim]
	} else {
		c[dim] = (c[dim] - 1 + dims[dim]) % dims[dim]
	}
	return NodeAt(c, dims)
}

// calcDirection chooses the way around one ring. Equal distances go positive.
func calcDirection(from, to, size, dim int) (Direction, bool) {
	pos := (to - from + size) % size
	if pos == 0 {
		return Host, false
	}
	neg := size - pos
	if pos <= neg {
		return posDir(dim), true
	}
	return negDir(dim), true
}

// buildRouteTable computes the output port for every destination, X first, then Y, then Z
func buildRouteTable(id int, dims [3]int) []Direction {
	numNodes := dims[0] * dims[1] * dims[2]
	tbl := make([]Direction, numNodes)
	me := Coord(id, dims)
	for dest := 0; dest < numNodes; dest++ {
		dc := Coord(dest, dims)
		tbl[dest] = Host
		for dim := 0; dim < numDims; dim++ {
			if dir, moves := calcDirection(me[dim], dc[dim], dims[dim], dim); moves {
				tbl[dest] = dir
				break
			}
		}
	}
	return tbl
}

// DefaultVCRemap is the dateline remap: each virtual network moves to the other
var DefaultVCRemap = [NumVCs]int{2, 3, 0, 1}

// Nic2RtrVC maps a NIC virtual channel to the router's numbering
func Nic2RtrVC(vc int) int {
	return 2 * vc
}

// Rtr2NicVC maps a router virtual channel to the NIC's numbering
func Rtr2NicVC(vc int) int {
	return vc / 2
}

// changeVC moves a packet crossing the dateline onto the other virtual network
func (r *Router) changeVC(vc int) int {
	return r.vcRemap[vc]
}

// findOutputVC chooses the virtual channel a packet leaves on. Packets from the
// host leave on VC0 of the virtual network they were injected into.
func (r *Router) findOutputVC(inVC int, inDir, outDir Direction) int {
	if outDir == Host {
		return 0
	}
	if inDir == Host {
		return inVC &^ 1
	}
	dim := inDir.Dim()
	if dim == outDir.Dim() && r.dateline[dim] {
		return r.changeVC(inVC)
	}
	return inVC
}

// Route returns the output port toward dest
func (r *Router) Route(dest int) (Direction, error) {
	if dest < 0 || dest >= len(r.routeTbl) {
		return Host, &RoutingError{Router: r.ID, Dest: dest, NumNodes: len(r.routeTbl)}
	}
	return r.routeTbl[dest], nil
}

// torusGraph represents the torus as an undirected graph with unit edge weights
func torusGraph(dims [3]int) *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	numNodes := dims[0] * dims[1] * dims[2]
	for n := 0; n < numNodes; n++ {
		g.AddNode(simple.Node(n))
	}
	for n := 0; n < numNodes; n++ {
		for d := XPos; d < Host; d++ {
			m := Neighbor(n, d, dims)
			if m == n || g.HasEdgeBetween(int64(n), int64(m)) {
				continue
			}
			g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(n), T: simple.Node(m), W: 1.0})
		}
	}
	return g
}

// VerifyRouteTables checks that, from every node to every destination, following
// the route tables reaches the destination in exactly the shortest-path hop count.
func VerifyRouteTables(dims [3]int) error {
	g := torusGraph(dims)
	numNodes := dims[0] * dims[1] * dims[2]
	tbls := make([][]Direction, numNodes)
	for n := 0; n < numNodes; n++ {
		tbls[n] = buildRouteTable(n, dims)
	}

	for src := 0; src < numNodes; src++ {
		spTree := path.DijkstraFrom(simple.Node(src), g)
		for dest := 0; dest < numNodes; dest++ {
			nodes, _ := spTree.To(int64(dest))
			if len(nodes) == 0 {
				return fmt.Errorf("node %d unreachable from %d", dest, src)
			}
			want := len(nodes) - 1

			hops := 0
			here := src
			for tbls[here][dest] != Host {
				here = Neighbor(here, tbls[here][dest], dims)
				hops++
				if hops > numNodes {
					return fmt.Errorf("route from %d to %d does not terminate", src, dest)
				}
			}
			if here != dest {
				return fmt.Errorf("route from %d to %d ends at %d", src, dest, here)
			}
			if hops != want {
				return fmt.Errorf("route from %d to %d takes %d hops, shortest is %d", src, dest, hops, want)
			}
		}
	}
	return nil
}
