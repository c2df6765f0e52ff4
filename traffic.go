package rwan

// traffic.go implements the echo exchange: responders registered on a
// node and port, and clients that schedule trains of requests.  The
// exchange models connectionless best-effort delivery: every
// request/reply pair stands alone, a dropped packet is simply gone,
// and nobody retransmits.

import (
	"fmt"
	"net/netip"

	"github.com/iti/evt/vrtime"
)

// An echoServer responds to requests addressed to its node on its
// port, inside its active window [start, stop).  The reply carries the
// request's length back to the requester with no processing delay of
// its own; only link delays separate request from reply.
type echoServer struct {
	node     *nodeStruct
	port     int
	start    float64
	stop     float64
	received int
	replied  int
}

// startEchoServer registers a responder.  A port hosts at most one
// server per node.
func startEchoServer(node *nodeStruct, port int, start, stop float64) (*echoServer, error) {
	if _, present := node.servers[port]; present {
		return nil, fmt.Errorf("node %s already serves port %d", node.name, port)
	}
	server := &echoServer{node: node, port: port, start: start, stop: stop}
	node.servers[port] = server
	return server, nil
}

// active reports whether the server responds at the given time
func (server *echoServer) active(t float64) bool {
	return server.start <= t && t < server.stop
}

// handleRequest is called when a request packet is delivered on the
// server's node and port.  Inside the active window the server turns
// the packet around: the reply is a fresh packet, source and
// destination swapped, same length, full hop budget.
func (server *echoServer) handleRequest(evtMgr *EventManager, nm *netMsg) {
	server.received += 1
	if !server.active(evtMgr.CurrentSeconds()) {
		return
	}

	topo := server.node.topo
	reply := createNetMsg(topo, nm.dstAddr, nm.srcAddr, nm.pcktLen, nm.port,
		evtMgr.CurrentSeconds())
	reply.echoReply = true
	reply.origin = nm.origin

	server.replied += 1
	launchMsg(evtMgr, server.node, reply)
}

// An echoClient schedules count request sends spaced interval apart
// from start, suppressing any send that would land at or after stop.
// sent and echoed count the requests actually launched and the replies
// that made it back.
type echoClient struct {
	node     *nodeStruct
	target   netip.Addr
	port     int
	count    int
	interval float64
	pcktLen  int
	start    float64
	stop     float64
	jitter   float64
	sent     int
	echoed   int
}

// startEchoClient builds a client from its description and schedules
// its sends.  Called before the run, while the clock reads zero.  When
// jitter is positive each send is displaced by a uniform draw from the
// node's own RNG stream; at zero the schedule is exact and the run
// fully deterministic.
func startEchoClient(evtMgr *EventManager, node *nodeStruct, desc *EchoClientDesc) (*echoClient, error) {
	target, err := netip.ParseAddr(desc.Target)
	if err != nil {
		return nil, fmt.Errorf("client target %s unparseable: %w", desc.Target, err)
	}
	if desc.Count < 0 || desc.Interval < 0.0 || desc.Jitter < 0.0 {
		return nil, fmt.Errorf("client on node %s has negative schedule parameters", node.name)
	}

	client := &echoClient{
		node:     node,
		target:   target,
		port:     desc.Port,
		count:    desc.Count,
		interval: desc.Interval,
		pcktLen:  desc.PcktLen,
		start:    desc.Start,
		stop:     desc.Stop,
		jitter:   desc.Jitter,
	}

	for k := 0; k < client.count; k++ {
		when := client.start + float64(k)*client.interval
		if client.jitter > 0.0 {
			when += client.jitter * node.devRng().RandU01()
		}
		if when >= client.stop {
			continue
		}
		evtMgr.Schedule(client, nil, echoSend, vrtime.SecondsToTime(when))
	}
	return client, nil
}

// echoSend is the event handler for one client request.  The source
// address is the egress interface the routing decision would pick at
// this moment; when no route resolves the packet still launches from
// the node's first interface and the forwarding step records the drop.
func echoSend(evtMgr *EventManager, context any, data any) any {
	client := context.(*echoClient)
	node := client.node

	srcAddr := node.intrfcs[0].addr
	if egress, _, outcome := node.resolveNextHop(client.target); outcome != fwdNoRoute && egress != nil {
		srcAddr = egress.addr
	}

	nm := createNetMsg(node.topo, srcAddr, client.target, client.pcktLen, client.port,
		evtMgr.CurrentSeconds())
	nm.origin = client

	client.sent += 1
	launchMsg(evtMgr, node, nm)
	return nil
}
