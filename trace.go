package rwan

// trace.go implements the observability boundary.  The simulation core
// pushes three kinds of records at the TraceManager: forwarding
// decisions tagged with packet identity, link-state transitions, and
// routing table snapshots.  External consumers (visualizers, report
// writers) read the records after the run; nothing in the core ever
// reads them back.

import (
	"encoding/json"
	"net/netip"
	"os"
	"path"
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

type TraceRecordType int

const (
	FwdType TraceRecordType = iota
	LinkType
	RtDumpType
)

var trtToStr map[TraceRecordType]string = map[TraceRecordType]string{
	FwdType: "fwd", LinkType: "link", RtDumpType: "rtdump"}

// A TraceInst is one record as stored: the time it was made, its kind,
// and the serialized record body
type TraceInst struct {
	TraceTime string
	TraceType string
	TraceStr  string
}

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string
	Type string
}

// TraceManager gathers the observable event streams of a run.  Log is
// the full stream in the order the records were made; Traces groups
// the forwarding records by packet id.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// every record of the run, in emission order
	Log []TraceInst `json:"log" yaml:"log"`

	// forwarding records grouped by packet id
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the
// experiment and a flag indicating whether the trace manager is
// active; when inactive every Add call is a no-op, so tracing calls
// can stay embedded everywhere without cost.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Log = make([]TraceInst, 0)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// addTrace appends a record to the stream, and, when a packet id is
// given (>= 0), to that packet's group
func (tm *TraceManager) addTrace(vrt vrtime.Time, trt TraceRecordType, msgID int, body string) {
	if !tm.InUse {
		return
	}
	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)
	trcInst := TraceInst{TraceTime: traceTime, TraceType: trtToStr[trt], TraceStr: body}
	tm.Log = append(tm.Log, trcInst)

	if msgID >= 0 {
		tm.Traces[msgID] = append(tm.Traces[msgID], trcInst)
	}
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile stores the trace to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) bool {
	if !tm.InUse {
		return false
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	f.Close()
	return true
}

// A FwdTrace records one forwarding decision
type FwdTrace struct {
	Time    float64 // time in float64
	Ticks   int64   // ticks variable of time
	MsgID   int     // packet identity
	Node    string  // node making the decision
	Src     string  // packet source address
	Dst     string  // packet destination address
	Port    int     // destination port
	Hops    int     // hop budget remaining after the decision
	Reply   bool    // true for the reply leg of an exchange
	Outcome string  // forward, delivered, noRoute, linkDown, ttlExpired
	Egress  string  // egress interface selected, when one was
	NextHop string  // next hop address, when one resolved
}

func (ft *FwdTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*ft)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddFwdTrace creates a forwarding record from its calling arguments and stores it
func AddFwdTrace(tm *TraceManager, vrt vrtime.Time, nm *netMsg, node *nodeStruct,
	outcome fwdOutcome, egress *intrfcStruct, nextHop netip.Addr) {

	if !tm.InUse {
		return
	}
	ft := new(FwdTrace)
	ft.Time = vrt.Seconds()
	ft.Ticks = vrt.Ticks()
	ft.MsgID = nm.msgID
	ft.Node = node.name
	ft.Src = nm.srcAddr.String()
	ft.Dst = nm.dstAddr.String()
	ft.Port = nm.port
	ft.Hops = nm.hops
	ft.Reply = nm.echoReply
	ft.Outcome = foToStr[outcome]
	if egress != nil {
		ft.Egress = egress.name
	}
	if nextHop.IsValid() {
		ft.NextHop = nextHop.String()
	}
	tm.addTrace(vrt, FwdType, nm.msgID, ft.Serialize())
}

// A LinkTrace records one link-state transition
type LinkTrace struct {
	Time  float64
	Ticks int64
	Link  string
	State string
}

func (lt *LinkTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*lt)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddLinkTrace creates a link transition record and stores it
func AddLinkTrace(tm *TraceManager, vrt vrtime.Time, lk *linkStruct) {
	if !tm.InUse {
		return
	}
	lt := new(LinkTrace)
	lt.Time = vrt.Seconds()
	lt.Ticks = vrt.Ticks()
	lt.Link = lk.name
	lt.State = lsToStr[lk.state]
	tm.addTrace(vrt, LinkType, -1, lt.Serialize())
}

// An RtDumpTrace records one node's routing table snapshot
type RtDumpTrace struct {
	Time    float64
	Node    string
	Entries []RtDumpEntry
}

func (rdt *RtDumpTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*rdt)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddRtDumpTrace creates a routing table snapshot record and stores it
func AddRtDumpTrace(tm *TraceManager, vrt vrtime.Time, node *nodeStruct, entries []RtDumpEntry) {
	if !tm.InUse {
		return
	}
	rdt := new(RtDumpTrace)
	rdt.Time = vrt.Seconds()
	rdt.Node = node.name
	rdt.Entries = entries
	tm.addTrace(vrt, RtDumpType, -1, rdt.Serialize())
}
