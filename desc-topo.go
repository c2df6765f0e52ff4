package rwan

// desc-topo.go holds the serializable description of a simulation
// scenario: the topology (nodes, point-to-point links, static routes),
// the fault timeline, and the echo traffic to offer.  These structs
// are the external configuration boundary; they are produced by setup
// logic or read from file, consumed once when the experiment is built,
// and immutable afterwards.

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// A NodeDesc names one device in the topology.  Every node both hosts
// traffic and forwards it.
type NodeDesc struct {
	Name   string   `json:"name" yaml:"name"`
	Groups []string `json:"groups" yaml:"groups"`
}

// An IntrfcDesc describes a network interface: the device that holds
// it, its address, the subnet the link it terminates occupies, and the
// name of that link.
type IntrfcDesc struct {
	Name   string `json:"name" yaml:"name"`
	Device string `json:"device" yaml:"device"`
	Addr   string `json:"addr" yaml:"addr"`
	Subnet string `json:"subnet" yaml:"subnet"`
	Link   string `json:"link" yaml:"link"`
}

// A LinkDesc describes a point-to-point link between two interfaces.
// Delay is the propagation delay in seconds, Rate the capacity in
// Mbits/sec.
type LinkDesc struct {
	Name    string  `json:"name" yaml:"name"`
	IntrfcA string  `json:"intrfca" yaml:"intrfca"`
	IntrfcB string  `json:"intrfcb" yaml:"intrfcb"`
	Delay   float64 `json:"delay" yaml:"delay"`
	Rate    float64 `json:"rate" yaml:"rate"`
	MTU     int     `json:"mtu" yaml:"mtu"`
}

// A RouteDesc describes one static route entry: on node Node, traffic
// for DestNet goes to NextHop out the interface with ordinal
// EgressIndex in the node's interface list.
type RouteDesc struct {
	Node        string `json:"node" yaml:"node"`
	DestNet     string `json:"destnet" yaml:"destnet"`
	NextHop     string `json:"nexthop" yaml:"nexthop"`
	EgressIndex int    `json:"egressindex" yaml:"egressindex"`
}

// A FaultDesc schedules one link-state transition.  Action is "down"
// or "up"; Time is in seconds of virtual time.
type FaultDesc struct {
	Time   float64 `json:"time" yaml:"time"`
	Link   string  `json:"link" yaml:"link"`
	Action string  `json:"action" yaml:"action"`
}

// An EchoServerDesc registers an echo responder on a node and port,
// active over the window [Start, Stop).
type EchoServerDesc struct {
	Node  string  `json:"node" yaml:"node"`
	Port  int     `json:"port" yaml:"port"`
	Start float64 `json:"start" yaml:"start"`
	Stop  float64 `json:"stop" yaml:"stop"`
}

// An EchoClientDesc schedules a train of echo requests from a node to
// a target address and port: Count sends spaced Interval apart
// starting at Start, each of PcktLen bytes.  Sends that would occur at
// or after Stop are suppressed.  Jitter, when positive, spreads each
// send uniformly over [0, Jitter) past its nominal time.
type EchoClientDesc struct {
	Node     string  `json:"node" yaml:"node"`
	Target   string  `json:"target" yaml:"target"`
	Port     int     `json:"port" yaml:"port"`
	Count    int     `json:"count" yaml:"count"`
	Interval float64 `json:"interval" yaml:"interval"`
	PcktLen  int     `json:"pcktlen" yaml:"pcktlen"`
	Start    float64 `json:"start" yaml:"start"`
	Stop     float64 `json:"stop" yaml:"stop"`
	Jitter   float64 `json:"jitter" yaml:"jitter"`
}

// A TopoDesc gathers the full static description of a topology
type TopoDesc struct {
	Name    string       `json:"name" yaml:"name"`
	Nodes   []NodeDesc   `json:"nodes" yaml:"nodes"`
	Intrfcs []IntrfcDesc `json:"intrfcs" yaml:"intrfcs"`
	Links   []LinkDesc   `json:"links" yaml:"links"`
	Routes  []RouteDesc  `json:"routes" yaml:"routes"`
}

// A ScenarioDesc gathers everything about a run other than the
// topology: the fault timeline, the traffic, requested routing table
// dumps, and the simulation horizon.
type ScenarioDesc struct {
	Name    string           `json:"name" yaml:"name"`
	Faults  []FaultDesc      `json:"faults" yaml:"faults"`
	Servers []EchoServerDesc `json:"servers" yaml:"servers"`
	Clients []EchoClientDesc `json:"clients" yaml:"clients"`
	DumpAt  []float64        `json:"dumpat" yaml:"dumpat"`
	StopAt  float64          `json:"stopat" yaml:"stopat"`
}

// WriteToFile stores the TopoDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (td *TopoDesc) WriteToFile(filename string) error {
	bytes, err := serializeByExt(filename, td)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bytes, 0644)
}

// WriteToFile stores the ScenarioDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sd *ScenarioDesc) WriteToFile(filename string) error {
	bytes, err := serializeByExt(filename, sd)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bytes, 0644)
}

// serializeByExt marshals v as yaml or json depending on the file
// name's extension
func serializeByExt(filename string, v any) ([]byte, error) {
	pathExt := path.Ext(filename)
	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		return yaml.Marshal(v)
	case ".json", ".JSON":
		return json.MarshalIndent(v, "", "\t")
	}
	return nil, fmt.Errorf("unrecognized serialization extension %s", pathExt)
}

// ReadTopoDesc deserializes a byte slice holding a representation of a
// TopoDesc struct.  If the input dict of bytes is empty, the file whose
// name is given is read to acquire them.
func ReadTopoDesc(filename string, useYAML bool, dict []byte) (*TopoDesc, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := TopoDesc{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// ReadScenarioDesc deserializes a byte slice holding a representation
// of a ScenarioDesc struct, reading the named file if the slice is
// empty.
func ReadScenarioDesc(filename string, useYAML bool, dict []byte) (*ScenarioDesc, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ScenarioDesc{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// A TopoFrame accumulates a topology under construction, checking
// consistency as elements arrive, and transforms into the serializable
// TopoDesc form when done.
type TopoFrame struct {
	Name    string
	nodes   []string
	intrfcs []IntrfcDesc
	links   []LinkDesc

	// interfaces created so far on each node, for egress ordinals
	intrfcsOfNode map[string][]string

	// addresses already assigned within each subnet
	addrsOfSubnet map[netip.Prefix][]netip.Addr

	routes []RouteDesc
}

// CreateTopoFrame is a constructor
func CreateTopoFrame(name string) *TopoFrame {
	tf := new(TopoFrame)
	tf.Name = name
	tf.nodes = []string{}
	tf.intrfcsOfNode = make(map[string][]string)
	tf.addrsOfSubnet = make(map[netip.Prefix][]netip.Addr)
	return tf
}

// AddNode introduces a named node.  Node names are unique.
func (tf *TopoFrame) AddNode(name string) error {
	if slices.Contains(tf.nodes, name) {
		return fmt.Errorf("node name %s duplicated", name)
	}
	tf.nodes = append(tf.nodes, name)
	tf.intrfcsOfNode[name] = []string{}
	return nil
}

// ConnectNodes creates a point-to-point link between two named nodes,
// building one interface on each side.  The two addresses must be
// distinct, lie within the given subnet, and not collide with an
// address already assigned in that subnet.  The return is the name of
// the created link.
func (tf *TopoFrame) ConnectNodes(nodeA, addrA, nodeB, addrB, subnet string,
	delay, rate float64, mtu int) (string, error) {

	if !slices.Contains(tf.nodes, nodeA) {
		return "", fmt.Errorf("node %s not declared", nodeA)
	}
	if !slices.Contains(tf.nodes, nodeB) {
		return "", fmt.Errorf("node %s not declared", nodeB)
	}
	if nodeA == nodeB {
		return "", fmt.Errorf("link endpoints both on node %s", nodeA)
	}

	prefix, err := netip.ParsePrefix(subnet)
	if err != nil {
		return "", fmt.Errorf("subnet %s unparseable: %w", subnet, err)
	}
	prefix = prefix.Masked()

	ipA, err := netip.ParseAddr(addrA)
	if err != nil {
		return "", fmt.Errorf("address %s unparseable: %w", addrA, err)
	}
	ipB, err := netip.ParseAddr(addrB)
	if err != nil {
		return "", fmt.Errorf("address %s unparseable: %w", addrB, err)
	}

	if ipA == ipB {
		return "", fmt.Errorf("link endpoint addresses identical: %s", addrA)
	}
	if !prefix.Contains(ipA) {
		return "", fmt.Errorf("address %s outside subnet %s", addrA, subnet)
	}
	if !prefix.Contains(ipB) {
		return "", fmt.Errorf("address %s outside subnet %s", addrB, subnet)
	}

	assigned := tf.addrsOfSubnet[prefix]
	if slices.Contains(assigned, ipA) {
		return "", fmt.Errorf("address %s already assigned in subnet %s", addrA, subnet)
	}
	if slices.Contains(assigned, ipB) {
		return "", fmt.Errorf("address %s already assigned in subnet %s", addrB, subnet)
	}
	tf.addrsOfSubnet[prefix] = append(assigned, ipA, ipB)

	linkName := fmt.Sprintf("link(%s:%s)", nodeA, nodeB)

	intrfcNameA := fmt.Sprintf("intrfc@%s[%d]", nodeA, len(tf.intrfcsOfNode[nodeA]))
	intrfcNameB := fmt.Sprintf("intrfc@%s[%d]", nodeB, len(tf.intrfcsOfNode[nodeB]))
	tf.intrfcsOfNode[nodeA] = append(tf.intrfcsOfNode[nodeA], intrfcNameA)
	tf.intrfcsOfNode[nodeB] = append(tf.intrfcsOfNode[nodeB], intrfcNameB)

	tf.intrfcs = append(tf.intrfcs,
		IntrfcDesc{Name: intrfcNameA, Device: nodeA, Addr: addrA, Subnet: prefix.String(), Link: linkName},
		IntrfcDesc{Name: intrfcNameB, Device: nodeB, Addr: addrB, Subnet: prefix.String(), Link: linkName})

	tf.links = append(tf.links,
		LinkDesc{Name: linkName, IntrfcA: intrfcNameA, IntrfcB: intrfcNameB,
			Delay: delay, Rate: rate, MTU: mtu})

	return linkName, nil
}

// AddStaticRoute installs a static route description: on the named
// node, traffic for destNet is sent to nextHop out the interface with
// the given ordinal.
func (tf *TopoFrame) AddStaticRoute(node, destNet, nextHop string, egressIndex int) error {
	if !slices.Contains(tf.nodes, node) {
		return fmt.Errorf("node %s not declared", node)
	}
	if _, err := netip.ParsePrefix(destNet); err != nil {
		return fmt.Errorf("destination network %s unparseable: %w", destNet, err)
	}
	if _, err := netip.ParseAddr(nextHop); err != nil {
		return fmt.Errorf("next hop %s unparseable: %w", nextHop, err)
	}
	if egressIndex < 0 || egressIndex >= len(tf.intrfcsOfNode[node]) {
		return fmt.Errorf("egress index %d out of range on node %s", egressIndex, node)
	}
	tf.routes = append(tf.routes,
		RouteDesc{Node: node, DestNet: destNet, NextHop: nextHop, EgressIndex: egressIndex})
	return nil
}

// Transform turns the accumulated frame into the serializable TopoDesc
// representation
func (tf *TopoFrame) Transform() TopoDesc {
	td := TopoDesc{Name: tf.Name}
	for _, nodeName := range tf.nodes {
		td.Nodes = append(td.Nodes, NodeDesc{Name: nodeName})
	}
	td.Intrfcs = append(td.Intrfcs, tf.intrfcs...)
	td.Links = append(td.Links, tf.links...)
	td.Routes = append(td.Routes, tf.routes...)
	return td
}
