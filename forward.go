package rwan

// forward.go moves packets through the topology.  Each hop is one
// event: the handler runs the routing decision on the node the packet
// currently occupies, and either delivers the packet locally, drops
// it, or charges the link's serialization and propagation delay and
// schedules the same handler on the far node.  Drops are silent to the
// sender; every decision is recorded on the trace stream.

import (
	"net/netip"

	"github.com/iti/evt/vrtime"
)

// default hop budget given to a freshly created packet
const defaultHopLimit int = 64

// A netMsg is one packet in flight.  It is created by the traffic
// layer and never mutated in transit except for the hop budget
// decrement charged at each forwarding step.
type netMsg struct {
	msgID     int
	srcAddr   netip.Addr
	dstAddr   netip.Addr
	pcktLen   int // bytes
	port      int
	hops      int // remaining hop budget
	echoReply bool
	origin    *echoClient // client whose request started the exchange
	startTime float64     // virtual time of creation
}

// createNetMsg is a constructor
func createNetMsg(topo *topoStruct, srcAddr, dstAddr netip.Addr,
	pcktLen, port int, startTime float64) *netMsg {

	nm := new(netMsg)
	nm.msgID = topo.nxtMsgID()
	nm.srcAddr = srcAddr
	nm.dstAddr = dstAddr
	nm.pcktLen = pcktLen
	nm.port = port
	nm.hops = defaultHopLimit
	nm.startTime = startTime
	return nm
}

// launchMsg enters a packet into the network at its source node.  The
// forwarding handler fires at the current virtual time, FIFO with
// anything else scheduled at this instant.
func launchMsg(evtMgr *EventManager, node *nodeStruct, nm *netMsg) {
	evtMgr.Schedule(node, nm, forwardMsg, vrtime.SecondsToTime(0.0))
}

// forwardMsg is the per-hop event handler.  The context is the
// *nodeStruct the packet occupies, the data the *netMsg itself.
func forwardMsg(evtMgr *EventManager, context any, data any) any {
	node := context.(*nodeStruct)
	nm := data.(*netMsg)
	topo := node.topo

	// arrived?
	if node.ownsAddr(nm.dstAddr) {
		AddFwdTrace(topo.traceMgr, evtMgr.CurrentTime(), nm, node, fwdDelivered, nil, netip.Addr{})
		node.deliverLocal(evtMgr, nm)
		return nil
	}

	egress, nextHop, outcome := node.resolveNextHop(nm.dstAddr)
	if outcome != fwdOK {
		AddFwdTrace(topo.traceMgr, evtMgr.CurrentTime(), nm, node, outcome, egress, nextHop)
		return nil
	}

	// the hop budget pays for node-to-node traversals; a packet out
	// of budget before its destination dies where it stands
	if nm.hops == 0 {
		AddFwdTrace(topo.traceMgr, evtMgr.CurrentTime(), nm, node, fwdTTLExpired, egress, nextHop)
		return nil
	}
	nm.hops -= 1

	AddFwdTrace(topo.traceMgr, evtMgr.CurrentTime(), nm, node, fwdOK, egress, nextHop)

	transit := egress.link.transitDelay(nm.pcktLen)
	peer := egress.link.peer(egress)
	evtMgr.Schedule(peer.device, nm, forwardMsg, vrtime.SecondsToTime(transit))
	return nil
}

// deliverLocal hands an arrived packet to the application layer on the
// node: replies complete their originating exchange, requests reach
// the port's echo server if one is active
func (node *nodeStruct) deliverLocal(evtMgr *EventManager, nm *netMsg) {
	if nm.echoReply {
		if nm.origin != nil {
			nm.origin.echoed += 1
		}
		return
	}

	server, present := node.servers[nm.port]
	if !present {
		return
	}
	server.handleRequest(evtMgr, nm)
}
