package rwan

// sim.go assembles and drives a complete experiment: one event
// manager, one topology built from its description, the fault
// timeline, the routing table dumps, and the echo traffic.  Faults are
// scheduled before any traffic, so at a shared timestamp a link
// transition is visible to every forwarding decision made at that
// instant.

import (
	"fmt"

	"github.com/iti/evt/vrtime"
)

// An Experiment binds the pieces of one simulation run
type Experiment struct {
	EvtMgr   *EventManager
	TraceMgr *TraceManager

	topo    *topoStruct
	servers []*echoServer
	clients []*echoClient
	stopAt  float64
}

// BuildExperiment is called from the module that creates and runs a
// simulation.  The topology description is validated and realized, the
// scenario's faults, dumps, servers, and clients are entered into the
// event queue, and the result is ready for Run.  A malformed topology
// panics; scenario errors return.
func BuildExperiment(td *TopoDesc, sd *ScenarioDesc, traceMgr *TraceManager) (*Experiment, error) {
	ex := new(Experiment)
	ex.EvtMgr = CreateEventManager()
	ex.TraceMgr = traceMgr
	ex.topo = buildTopo(td, traceMgr)
	ex.stopAt = sd.StopAt

	if err := scheduleFaults(ex.EvtMgr, ex.topo, sd.Faults); err != nil {
		return nil, err
	}

	for _, t := range sd.DumpAt {
		ex.EvtMgr.Schedule(ex.topo, nil, rtDumpAll, vrtime.SecondsToTime(t))
	}

	for idx := range sd.Servers {
		sdesc := &sd.Servers[idx]
		node, present := ex.topo.nodeByName[sdesc.Node]
		if !present {
			return nil, fmt.Errorf("server names unknown node %s", sdesc.Node)
		}
		server, err := startEchoServer(node, sdesc.Port, sdesc.Start, sdesc.Stop)
		if err != nil {
			return nil, err
		}
		ex.servers = append(ex.servers, server)
	}

	for idx := range sd.Clients {
		cdesc := &sd.Clients[idx]
		node, present := ex.topo.nodeByName[cdesc.Node]
		if !present {
			return nil, fmt.Errorf("client names unknown node %s", cdesc.Node)
		}
		client, err := startEchoClient(ex.EvtMgr, node, cdesc)
		if err != nil {
			return nil, err
		}
		ex.clients = append(ex.clients, client)
	}

	return ex, nil
}

// Run executes the experiment to its horizon, or drains the event
// queue when no horizon was given
func (ex *Experiment) Run() {
	if ex.stopAt > 0.0 {
		ex.EvtMgr.RunToTime(ex.stopAt)
	} else {
		ex.EvtMgr.RunToEnd()
	}
}

// ClientCounts reports, per client in scenario order, the number of
// requests launched and the number of replies received
func (ex *Experiment) ClientCounts() [][2]int {
	counts := make([][2]int, 0, len(ex.clients))
	for _, client := range ex.clients {
		counts = append(counts, [2]int{client.sent, client.echoed})
	}
	return counts
}

// ServerCounts reports, per server in scenario order, the number of
// requests received and replies issued
func (ex *Experiment) ServerCounts() [][2]int {
	counts := make([][2]int, 0, len(ex.servers))
	for _, server := range ex.servers {
		counts = append(counts, [2]int{server.received, server.replied})
	}
	return counts
}
