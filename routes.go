package rwan

// routes.go implements the per-node static routing table and the
// lookup used by packet forwarding.  Routes are provisioned once at
// setup and never recomputed: a link failure does not retract or
// replace any entry, which is exactly the limitation the model
// demonstrates.
//
// Lookup order on a node is
//   1. a destination inside one of the node's own interface subnets
//      uses the implicit connected route over that interface, with the
//      destination itself as next hop, even if a static entry covers
//      the same network;
//   2. otherwise the static entries are consulted with longest-prefix
//      match.  Two entries never share a prefix: a second install of
//      the same network is refused, so the earliest installed entry
//      wins ties by construction;
//   3. no match is a noRoute drop.
// A selected egress whose link is down yields linkDown: static routes
// are blind to link health and nothing here retries or reroutes.

import (
	"fmt"
	"net/netip"

	"github.com/gaissmai/bart"
)

// fwdOutcome classifies the result of one forwarding decision
type fwdOutcome int

const (
	fwdOK fwdOutcome = iota
	fwdDelivered
	fwdNoRoute
	fwdLinkDown
	fwdTTLExpired
)

var foToStr map[fwdOutcome]string = map[fwdOutcome]string{
	fwdOK:         "forward",
	fwdDelivered:  "delivered",
	fwdNoRoute:    "noRoute",
	fwdLinkDown:   "linkDown",
	fwdTTLExpired: "ttlExpired",
}

// A routeEntry is one static route: destination network, next hop
// address, and the ordinal of the egress interface on the owning node
type routeEntry struct {
	destNet   netip.Prefix
	nextHop   netip.Addr
	egressIdx int
	order     int // installation order, for dumps
}

// A routingTable holds a node's static entries.  The entries slice
// preserves installation order for dumps and reports; the bart table
// gives longest-prefix lookup over the same entries.
type routingTable struct {
	node    *nodeStruct
	entries []*routeEntry
	lpm     bart.Table[*routeEntry]
}

// createRoutingTable is a constructor
func createRoutingTable(node *nodeStruct) *routingTable {
	rt := new(routingTable)
	rt.node = node
	rt.entries = make([]*routeEntry, 0)
	return rt
}

// installRoute adds a static entry.  The egress ordinal must name one
// of the node's interfaces, and the destination network must not
// already have an entry: the first installation of a network is the
// one that serves it.
func (rt *routingTable) installRoute(destNet netip.Prefix, nextHop netip.Addr, egressIdx int) error {
	node := rt.node
	if egressIdx < 0 || egressIdx >= len(node.intrfcs) {
		return fmt.Errorf("node %s: egress index %d out of range", node.name, egressIdx)
	}

	destNet = destNet.Masked()
	if _, present := rt.lpm.Get(destNet); present {
		return fmt.Errorf("node %s: network %s already routed, first entry retained",
			node.name, destNet)
	}

	entry := &routeEntry{
		destNet:   destNet,
		nextHop:   nextHop,
		egressIdx: egressIdx,
		order:     len(rt.entries),
	}
	rt.entries = append(rt.entries, entry)
	rt.lpm.Insert(destNet, entry)
	return nil
}

// resolveNextHop performs the routing decision for a destination
// address on this node.  On fwdOK the returned interface is the egress
// and the returned address the next hop.  fwdNoRoute and fwdLinkDown
// report the two ways the decision fails.
func (node *nodeStruct) resolveNextHop(dstAddr netip.Addr) (*intrfcStruct, netip.Addr, fwdOutcome) {
	var egress *intrfcStruct
	nextHop := dstAddr

	// connected routes take precedence over any static entry
	for _, intrfc := range node.intrfcs {
		if intrfc.subnet.Contains(dstAddr) {
			egress = intrfc
			break
		}
	}

	if egress == nil {
		entry, found := node.rtTable.lpm.Lookup(dstAddr)
		if !found {
			return nil, netip.Addr{}, fwdNoRoute
		}
		egress = node.intrfcs[entry.egressIdx]
		nextHop = entry.nextHop
	}

	if egress.link.state == linkDown {
		return egress, nextHop, fwdLinkDown
	}
	return egress, nextHop, fwdOK
}

// An RtDumpEntry is one line of a routing table snapshot.  Backup
// holds the node sequence of an alternate path to the destination
// network that avoids the entry's own egress link, when one exists;
// it documents redundancy and is not consulted by forwarding.
type RtDumpEntry struct {
	DestNet string `json:"destnet" yaml:"destnet"`
	NextHop string `json:"nexthop" yaml:"nexthop"`
	Egress  string `json:"egress" yaml:"egress"`
	Kind    string `json:"kind" yaml:"kind"`
	Backup  string `json:"backup" yaml:"backup"`
}

// rtDump snapshots the node's routing table: the implicit connected
// routes first, then the static entries in installation order
func (node *nodeStruct) rtDump() []RtDumpEntry {
	dump := make([]RtDumpEntry, 0)

	for _, intrfc := range node.intrfcs {
		dump = append(dump, RtDumpEntry{
			DestNet: intrfc.subnet.String(),
			NextHop: "",
			Egress:  intrfc.name,
			Kind:    "connected",
		})
	}

	for _, entry := range node.rtTable.entries {
		egress := node.intrfcs[entry.egressIdx]
		dump = append(dump, RtDumpEntry{
			DestNet: entry.destNet.String(),
			NextHop: entry.nextHop.String(),
			Egress:  egress.name,
			Kind:    "static",
			Backup:  node.topo.entryBackup(node, entry),
		})
	}
	return dump
}

// entryBackup finds the redundancy report for one static entry: a
// shortest path from the entry's node to a node inside the destination
// network that does not use the entry's egress link
func (topo *topoStruct) entryBackup(node *nodeStruct, entry *routeEntry) string {
	egress := node.intrfcs[entry.egressIdx]

	// locate a device with an interface inside the destination network
	for _, dst := range topo.nodes {
		if dst == node {
			continue
		}
		for _, intrfc := range dst.intrfcs {
			if entry.destNet.Contains(intrfc.addr) {
				return topo.backupPath(node, dst, egress.link)
			}
		}
	}
	return ""
}

// rtDumpAll snapshots every node's table and records the snapshots on
// the trace stream.  Schedulable: context is the *topoStruct, data is
// unused.
func rtDumpAll(evtMgr *EventManager, context any, data any) any {
	topo := context.(*topoStruct)
	for _, node := range topo.nodes {
		AddRtDumpTrace(topo.traceMgr, evtMgr.CurrentTime(), node, node.rtDump())
	}
	return nil
}
