package rwan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// triangleScenario reproduces the modeled fault drill: servers on
// Branch:9 and DC:10, three request trains, and an HQ-DC outage over
// [4s, 8s).
func triangleScenario() *ScenarioDesc {
	return &ScenarioDesc{
		Name: "primary-outage",
		Faults: []FaultDesc{
			{Time: 4.0, Link: "link(HQ:DC)", Action: "down"},
			{Time: 8.0, Link: "link(HQ:DC)", Action: "up"},
		},
		Servers: []EchoServerDesc{
			{Node: "Branch", Port: 9, Start: 1.0, Stop: 11.0},
			{Node: "DC", Port: 10, Start: 1.0, Stop: 11.0},
		},
		Clients: []EchoClientDesc{
			{Node: "HQ", Target: "10.1.1.2", Port: 9, Count: 4, Interval: 2.0, PcktLen: 1024, Start: 2.0, Stop: 11.0},
			{Node: "HQ", Target: "10.1.3.2", Port: 10, Count: 4, Interval: 2.0, PcktLen: 1024, Start: 3.0, Stop: 11.0},
			{Node: "Branch", Target: "10.1.2.2", Port: 10, Count: 4, Interval: 2.5, PcktLen: 512, Start: 4.0, Stop: 11.0},
		},
		DumpAt: []float64{1.0},
		StopAt: 12.0,
	}
}

func runTriangle(t *testing.T) (*Experiment, *TraceManager) {
	t.Helper()
	tm := CreateTraceManager("triangle", true)
	ex, err := BuildExperiment(triangleTopo(t), triangleScenario(), tm)
	require.NoError(t, err)
	ex.Run()
	return ex, tm
}

func TestOutageDropsOnlyThePrimaryFlow(t *testing.T) {
	ex, tm := runTriangle(t)
	counts := ex.ClientCounts()
	require.Len(t, counts, 3)

	// HQ->Branch never touches the failed link: every exchange
	// completes
	assert.Equal(t, [2]int{4, 4}, counts[0])

	// HQ->DC sends at 3, 5, 7, 9; the sends inside the outage window
	// are dropped with no reroute, the rest complete
	assert.Equal(t, [2]int{4, 2}, counts[1])

	// Branch->DC sends at 4, 6.5, 9; the 11.5 send falls past the
	// client's stop time and is suppressed
	assert.Equal(t, [2]int{3, 3}, counts[2])

	// the two losses appear on the trace stream as linkDown drops at
	// exactly the in-window send times
	dropTimes := []float64{}
	for _, trcInst := range tm.Log {
		if trcInst.TraceType != trtToStr[FwdType] {
			continue
		}
		ft := FwdTrace{}
		require.NoError(t, yaml.Unmarshal([]byte(trcInst.TraceStr), &ft))
		if ft.Outcome == "linkDown" {
			dropTimes = append(dropTimes, ft.Time)
		}
	}
	assert.Equal(t, []float64{5.0, 7.0}, dropTimes)
}

func TestServersAccountForSuppressedTraffic(t *testing.T) {
	ex, _ := runTriangle(t)
	counts := ex.ServerCounts()
	require.Len(t, counts, 2)

	// Branch:9 sees all four HQ requests
	assert.Equal(t, [2]int{4, 4}, counts[0])

	// DC:10 sees the two surviving HQ requests plus three from Branch
	assert.Equal(t, [2]int{5, 5}, counts[1])
}

func TestRoutingDumpBeforeTraffic(t *testing.T) {
	_, tm := runTriangle(t)

	dumps := make([]RtDumpTrace, 0)
	for _, trcInst := range tm.Log {
		if trcInst.TraceType != trtToStr[RtDumpType] {
			continue
		}
		rdt := RtDumpTrace{}
		require.NoError(t, yaml.Unmarshal([]byte(trcInst.TraceStr), &rdt))
		dumps = append(dumps, rdt)
	}
	require.Len(t, dumps, 3, "one snapshot per node")

	var hqDump *RtDumpTrace
	for idx := range dumps {
		if dumps[idx].Node == "HQ" {
			hqDump = &dumps[idx]
		}
		assert.Equal(t, 1.0, dumps[idx].Time)
	}
	require.NotNil(t, hqDump)

	// the static entry for the far subnet is listed even though no
	// packet has needed it by t=1
	found := false
	for _, entry := range hqDump.Entries {
		if entry.Kind == "static" && entry.DestNet == "10.1.2.0/30" {
			found = true
			assert.Equal(t, "10.1.3.2", entry.NextHop)
			assert.Equal(t, "HQ,Branch", entry.Backup)
		}
	}
	assert.True(t, found)
}

func TestIdenticalScenariosTraceIdentically(t *testing.T) {
	tmA := CreateTraceManager("run-a", true)
	exA, err := BuildExperiment(triangleTopo(t), triangleScenario(), tmA)
	require.NoError(t, err)
	exA.Run()

	tmB := CreateTraceManager("run-b", true)
	exB, err := BuildExperiment(triangleTopo(t), triangleScenario(), tmB)
	require.NoError(t, err)
	exB.Run()

	require.Equal(t, len(tmA.Log), len(tmB.Log))
	assert.Equal(t, tmA.Log, tmB.Log)
	assert.Equal(t, exA.ClientCounts(), exB.ClientCounts())
}

func TestServerIgnoresRequestsOutsideWindow(t *testing.T) {
	tm := CreateTraceManager("window", true)
	sd := &ScenarioDesc{
		Servers: []EchoServerDesc{{Node: "Branch", Port: 9, Start: 1.0, Stop: 2.0}},
		Clients: []EchoClientDesc{
			// arrives before the window opens
			{Node: "HQ", Target: "10.1.1.2", Port: 9, Count: 1, Interval: 1.0, PcktLen: 256, Start: 0.5, Stop: 10.0},
			// arrives inside the window
			{Node: "HQ", Target: "10.1.1.2", Port: 9, Count: 1, Interval: 1.0, PcktLen: 256, Start: 1.5, Stop: 10.0},
			// arrives after it closes
			{Node: "HQ", Target: "10.1.1.2", Port: 9, Count: 1, Interval: 1.0, PcktLen: 256, Start: 3.0, Stop: 10.0},
		},
		StopAt: 12.0,
	}
	ex, err := BuildExperiment(triangleTopo(t), sd, tm)
	require.NoError(t, err)
	ex.Run()

	counts := ex.ClientCounts()
	assert.Equal(t, [2]int{1, 0}, counts[0])
	assert.Equal(t, [2]int{1, 1}, counts[1])
	assert.Equal(t, [2]int{1, 0}, counts[2])

	serverCounts := ex.ServerCounts()
	assert.Equal(t, [2]int{3, 1}, serverCounts[0], "requests heard, one answered")
}

func TestClientStopSuppressesLateSends(t *testing.T) {
	tm := CreateTraceManager("stop", true)
	sd := &ScenarioDesc{
		Servers: []EchoServerDesc{{Node: "Branch", Port: 9, Start: 0.0, Stop: 100.0}},
		Clients: []EchoClientDesc{
			{Node: "HQ", Target: "10.1.1.2", Port: 9, Count: 10, Interval: 2.0, PcktLen: 256, Start: 1.0, Stop: 6.0},
		},
		StopAt: 20.0,
	}
	ex, err := BuildExperiment(triangleTopo(t), sd, tm)
	require.NoError(t, err)
	ex.Run()

	// sends at 1, 3, 5; the rest land at or past the stop time
	assert.Equal(t, [2]int{3, 3}, ex.ClientCounts()[0])
}

func TestScenarioSerializationRoundTrip(t *testing.T) {
	sd := triangleScenario()
	bytes, err := yaml.Marshal(sd)
	require.NoError(t, err)

	read, err := ReadScenarioDesc("", true, bytes)
	require.NoError(t, err)
	assert.Equal(t, sd, read)

	td := triangleTopo(t)
	tdBytes, err := yaml.Marshal(td)
	require.NoError(t, err)
	readTopo, err := ReadTopoDesc("", true, tdBytes)
	require.NoError(t, err)

	// a topology rebuilt from its serialized description behaves the
	// same: the experiment still validates and builds
	tm := CreateTraceManager("roundtrip", false)
	_, err = BuildExperiment(readTopo, read, tm)
	assert.NoError(t, err)
}
