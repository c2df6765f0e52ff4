package rwan

// net.go contains the run-time representation of the modeled network:
// nodes, the interfaces they hold, and the point-to-point links
// between interfaces.  The structures here are built once from a
// TopoDesc and are immutable for the length of a run, with the single
// exception of link state, which only the link-state controller in
// transition.go mutates.

import (
	"fmt"
	"math"
	"net/netip"

	"github.com/iti/rngstream"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// linkState is the availability of a link.  There is no partial
// failure: a link is up or it is down.
type linkState int

const (
	linkUp linkState = iota
	linkDown
)

var lsToStr map[linkState]string = map[linkState]string{linkUp: "up", linkDown: "down"}

func linkStateFromStr(action string) (linkState, error) {
	switch action {
	case "up", "UP", "Up":
		return linkUp, nil
	case "down", "DOWN", "Down":
		return linkDown, nil
	}
	return linkUp, fmt.Errorf("unrecognized link state %s", action)
}

// The intrfcStruct holds information about a network interface
// embedded in a node.  An interface belongs to exactly one node and
// terminates exactly one link.
type intrfcStruct struct {
	name   string       // unique name, generated by the topology builder
	number int          // unique integer id, locally generated
	device *nodeStruct  // node holding the interface
	addr   netip.Addr   // address assigned to the interface
	subnet netip.Prefix // subnet of the link the interface terminates
	link   *linkStruct  // the link the interface terminates
}

// createIntrfcStruct is a constructor, building an intrfcStruct from a
// desc description of the interface.  The link pointer is filled in
// when the links are built.
func createIntrfcStruct(topo *topoStruct, intrfc *IntrfcDesc) *intrfcStruct {
	is := new(intrfcStruct)
	is.name = intrfc.Name
	is.number = topo.nxtID()

	device, present := topo.nodeByName[intrfc.Device]
	if !present {
		panic(fmt.Errorf("interface %s names undeclared device %s", intrfc.Name, intrfc.Device))
	}
	is.device = device

	addr, err := netip.ParseAddr(intrfc.Addr)
	if err != nil {
		panic(fmt.Errorf("interface %s address %s unparseable", intrfc.Name, intrfc.Addr))
	}
	subnet, err := netip.ParsePrefix(intrfc.Subnet)
	if err != nil {
		panic(fmt.Errorf("interface %s subnet %s unparseable", intrfc.Name, intrfc.Subnet))
	}
	subnet = subnet.Masked()
	if !subnet.Contains(addr) {
		panic(fmt.Errorf("interface %s address %s outside subnet %s",
			intrfc.Name, intrfc.Addr, intrfc.Subnet))
	}
	is.addr = addr
	is.subnet = subnet
	return is
}

// A linkStruct holds the attributes of one point-to-point link: the
// two interfaces it connects, its state, its propagation delay
// (seconds), its capacity (Mbits/sec), and its MTU (bytes).
type linkStruct struct {
	name    string
	number  int
	intrfcA *intrfcStruct
	intrfcB *intrfcStruct
	state   linkState
	delay   float64
	rate    float64
	mtu     int
}

// peer returns the interface on the far side of the link from the one
// given
func (lk *linkStruct) peer(intrfc *intrfcStruct) *intrfcStruct {
	if intrfc == lk.intrfcA {
		return lk.intrfcB
	}
	return lk.intrfcA
}

// transitDelay gives the time for a packet of pcktLen bytes to cross
// the link: serialization at the link rate plus propagation delay
func (lk *linkStruct) transitDelay(pcktLen int) float64 {
	serialize := float64(pcktLen*8) / (lk.rate * 1e6)
	return serialize + lk.delay
}

// createLinkStruct is a constructor.  Both named interfaces must exist
// already, share a subnet, and sit on different nodes.
func createLinkStruct(topo *topoStruct, ld *LinkDesc) *linkStruct {
	lk := new(linkStruct)
	lk.name = ld.Name
	lk.number = topo.nxtID()

	intrfcA, present := topo.intrfcByName[ld.IntrfcA]
	if !present {
		panic(fmt.Errorf("link %s names unknown interface %s", ld.Name, ld.IntrfcA))
	}
	intrfcB, present := topo.intrfcByName[ld.IntrfcB]
	if !present {
		panic(fmt.Errorf("link %s names unknown interface %s", ld.Name, ld.IntrfcB))
	}
	if intrfcA.device == intrfcB.device {
		panic(fmt.Errorf("link %s endpoints both on node %s", ld.Name, intrfcA.device.name))
	}
	if intrfcA.subnet != intrfcB.subnet {
		panic(fmt.Errorf("link %s endpoints in different subnets", ld.Name))
	}

	lk.intrfcA = intrfcA
	lk.intrfcB = intrfcB
	lk.state = linkUp
	lk.delay = ld.Delay
	lk.rate = ld.Rate
	lk.mtu = ld.MTU
	if lk.rate <= 0.0 {
		panic(fmt.Errorf("link %s rate %f not positive", ld.Name, ld.Rate))
	}
	if lk.mtu == 0 {
		lk.mtu = 1500
	}

	intrfcA.link = lk
	intrfcB.link = lk
	return lk
}

// A nodeStruct is one device of the topology.  Every node forwards
// traffic and may also source and sink echo exchanges.
type nodeStruct struct {
	name    string
	number  int
	groups  []string
	intrfcs []*intrfcStruct // ordered; static routes address these by ordinal
	rtTable *routingTable
	rngstrm *rngstream.RngStream
	servers map[int]*echoServer // port-keyed echo responders
	topo    *topoStruct
}

// createNodeStruct is a constructor
func createNodeStruct(topo *topoStruct, nd *NodeDesc) *nodeStruct {
	node := new(nodeStruct)
	node.name = nd.Name
	node.number = topo.nxtID()
	node.groups = nd.Groups
	node.intrfcs = make([]*intrfcStruct, 0)
	node.rngstrm = rngstream.New(nd.Name)
	node.servers = make(map[int]*echoServer)
	node.topo = topo
	node.rtTable = createRoutingTable(node)
	return node
}

func (node *nodeStruct) devName() string {
	return node.name
}

func (node *nodeStruct) devRng() *rngstream.RngStream {
	return node.rngstrm
}

func (node *nodeStruct) addIntrfc(intrfc *intrfcStruct) {
	node.intrfcs = append(node.intrfcs, intrfc)
}

// ownsAddr reports whether the destination address is one of the
// node's own interface addresses, i.e., whether a packet so addressed
// has arrived
func (node *nodeStruct) ownsAddr(addr netip.Addr) bool {
	for _, intrfc := range node.intrfcs {
		if intrfc.addr == addr {
			return true
		}
	}
	return false
}

// The topoStruct owns the whole run-time topology: the nodes, links,
// and the lookup maps over them.  One topoStruct belongs to one
// experiment; nothing here is process state, so independent
// simulations can coexist.
type topoStruct struct {
	name string

	nodes []*nodeStruct
	links []*linkStruct

	nodeByName   map[string]*nodeStruct
	intrfcByName map[string]*intrfcStruct
	linkByName   map[string]*linkStruct
	intrfcByAddr map[netip.Addr]*intrfcStruct

	traceMgr *TraceManager

	// graph view of the topology for connectivity checking and
	// backup path discovery
	gNodes map[int]simple.Node

	idCounter  int
	msgCounter int
}

// nxtID vends unique object ids within the topology
func (topo *topoStruct) nxtID() int {
	topo.idCounter += 1
	return topo.idCounter
}

// nxtMsgID vends unique packet ids within the topology
func (topo *topoStruct) nxtMsgID() int {
	topo.msgCounter += 1
	return topo.msgCounter
}

// buildTopo assembles the run-time topology from its description.
// Malformed descriptions panic: they indicate an inconsistent
// scenario, not a run-time condition to recover from.
func buildTopo(td *TopoDesc, traceMgr *TraceManager) *topoStruct {
	topo := new(topoStruct)
	topo.name = td.Name
	topo.nodeByName = make(map[string]*nodeStruct)
	topo.intrfcByName = make(map[string]*intrfcStruct)
	topo.linkByName = make(map[string]*linkStruct)
	topo.intrfcByAddr = make(map[netip.Addr]*intrfcStruct)
	topo.traceMgr = traceMgr

	for idx := range td.Nodes {
		node := createNodeStruct(topo, &td.Nodes[idx])
		if _, present := topo.nodeByName[node.name]; present {
			panic(fmt.Errorf("node name %s duplicated", node.name))
		}
		topo.nodes = append(topo.nodes, node)
		topo.nodeByName[node.name] = node
		traceMgr.AddName(node.number, node.name, "node")
	}

	for idx := range td.Intrfcs {
		intrfc := createIntrfcStruct(topo, &td.Intrfcs[idx])
		if _, present := topo.intrfcByName[intrfc.name]; present {
			panic(fmt.Errorf("interface name %s duplicated", intrfc.name))
		}
		if _, present := topo.intrfcByAddr[intrfc.addr]; present {
			panic(fmt.Errorf("interface address %s duplicated", intrfc.addr))
		}
		topo.intrfcByName[intrfc.name] = intrfc
		topo.intrfcByAddr[intrfc.addr] = intrfc
		intrfc.device.addIntrfc(intrfc)
		traceMgr.AddName(intrfc.number, intrfc.name, "intrfc")
	}

	for idx := range td.Links {
		lk := createLinkStruct(topo, &td.Links[idx])
		if _, present := topo.linkByName[lk.name]; present {
			panic(fmt.Errorf("link name %s duplicated", lk.name))
		}
		topo.links = append(topo.links, lk)
		topo.linkByName[lk.name] = lk
		traceMgr.AddName(lk.number, lk.name, "link")
	}

	// every interface must terminate a link
	for _, intrfc := range topo.intrfcByName {
		if intrfc.link == nil {
			panic(fmt.Errorf("interface %s terminates no link", intrfc.name))
		}
	}

	// install the static routes after all interfaces exist, so the
	// egress ordinals can be validated
	for idx := range td.Routes {
		rd := &td.Routes[idx]
		node, present := topo.nodeByName[rd.Node]
		if !present {
			panic(fmt.Errorf("route names undeclared node %s", rd.Node))
		}
		destNet, err := netip.ParsePrefix(rd.DestNet)
		if err != nil {
			panic(fmt.Errorf("route destination %s unparseable", rd.DestNet))
		}
		nextHop, err := netip.ParseAddr(rd.NextHop)
		if err != nil {
			panic(fmt.Errorf("route next hop %s unparseable", rd.NextHop))
		}
		ierr := node.rtTable.installRoute(destNet, nextHop, rd.EgressIndex)
		if ierr != nil {
			panic(ierr)
		}
	}

	checkConnections(topo)
	return topo
}

// buildConnGraph converts the topology into the graph package's
// representation, each link an edge of weight 1
func (topo *topoStruct) buildConnGraph(avoid *linkStruct) graph.Graph {
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	if topo.gNodes == nil {
		topo.gNodes = make(map[int]simple.Node)
		for _, node := range topo.nodes {
			topo.gNodes[node.number] = simple.Node(node.number)
		}
	}
	for _, lk := range topo.links {
		if lk == avoid {
			continue
		}
		weightedEdge := simple.WeightedEdge{
			F: topo.gNodes[lk.intrfcA.device.number],
			T: topo.gNodes[lk.intrfcB.device.number],
			W: 1.0,
		}
		connGraph.SetWeightedEdge(weightedEdge)
	}
	return connGraph
}

// checkConnections verifies that the topology graph is connected,
// panicking if some node is unreachable from the first
func checkConnections(topo *topoStruct) {
	if len(topo.nodes) < 2 {
		return
	}
	connGraph := topo.buildConnGraph(nil)
	root := topo.nodes[0]
	spTree := path.DijkstraFrom(topo.gNodes[root.number], connGraph)
	for _, node := range topo.nodes[1:] {
		nodeSeq, _ := spTree.To(int64(node.number))
		if len(nodeSeq) == 0 {
			panic(fmt.Errorf("topology not connected: no path from %s to %s",
				root.name, node.name))
		}
	}
}

// backupPath reports the node-name sequence of a shortest path from
// src to dst that avoids the given link, or "" when none exists.  The
// result documents redundancy; nothing installs it as a route.
func (topo *topoStruct) backupPath(src, dst *nodeStruct, avoid *linkStruct) string {
	connGraph := topo.buildConnGraph(avoid)
	spTree := path.DijkstraFrom(topo.gNodes[src.number], connGraph)
	nodeSeq, _ := spTree.To(int64(dst.number))
	if len(nodeSeq) == 0 {
		return ""
	}
	return topo.showPath(nodeSeq)
}

// showPath renders a sequence of graph nodes as the comma-joined list
// of device names it visits
func (topo *topoStruct) showPath(nodeSeq []graph.Node) string {
	pathString := ""
	for idx, gn := range nodeSeq {
		for _, node := range topo.nodes {
			if int64(node.number) == gn.ID() {
				if idx > 0 {
					pathString += ","
				}
				pathString += node.name
				break
			}
		}
	}
	return pathString
}
