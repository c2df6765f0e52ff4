package rwan

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forkTopo builds a node A with two links, to B and to C, for lookup
// tests that need two distinct egresses
func forkTopo(t *testing.T) *topoStruct {
	t.Helper()
	tf := CreateTopoFrame("fork")
	require.NoError(t, tf.AddNode("A"))
	require.NoError(t, tf.AddNode("B"))
	require.NoError(t, tf.AddNode("C"))
	_, err := tf.ConnectNodes("A", "10.2.0.1", "B", "10.2.0.2", "10.2.0.0/30", 0.002, 5.0, 1500)
	require.NoError(t, err)
	_, err = tf.ConnectNodes("A", "10.3.0.1", "C", "10.3.0.2", "10.3.0.0/30", 0.002, 5.0, 1500)
	require.NoError(t, err)
	_, err = tf.ConnectNodes("B", "10.4.0.1", "C", "10.4.0.2", "10.4.0.0/30", 0.002, 5.0, 1500)
	require.NoError(t, err)

	td := tf.Transform()
	tm := CreateTraceManager("fork", false)
	return buildTopo(&td, tm)
}

func TestLongestPrefixMatchWins(t *testing.T) {
	topo := forkTopo(t)
	a := topo.nodeByName["A"]

	// a /24 through B overlapped by a /30 through C
	require.NoError(t, a.rtTable.installRoute(
		netip.MustParsePrefix("10.9.0.0/24"), netip.MustParseAddr("10.2.0.2"), 0))
	require.NoError(t, a.rtTable.installRoute(
		netip.MustParsePrefix("10.9.0.4/30"), netip.MustParseAddr("10.3.0.2"), 1))

	// inside the /30: the more specific entry is selected
	egress, nextHop, outcome := a.resolveNextHop(netip.MustParseAddr("10.9.0.5"))
	require.Equal(t, fwdOK, outcome)
	assert.Same(t, a.intrfcs[1], egress)
	assert.Equal(t, netip.MustParseAddr("10.3.0.2"), nextHop)

	// outside the /30 but inside the /24: the broad entry serves
	egress, nextHop, outcome = a.resolveNextHop(netip.MustParseAddr("10.9.0.99"))
	require.Equal(t, fwdOK, outcome)
	assert.Same(t, a.intrfcs[0], egress)
	assert.Equal(t, netip.MustParseAddr("10.2.0.2"), nextHop)
}

func TestConnectedRouteBeatsStaticEntry(t *testing.T) {
	topo := forkTopo(t)
	a := topo.nodeByName["A"]

	// a conflicting static entry for a network A touches directly:
	// it installs, but the connected route keeps precedence
	require.NoError(t, a.rtTable.installRoute(
		netip.MustParsePrefix("10.3.0.0/30"), netip.MustParseAddr("10.2.0.2"), 0))

	egress, nextHop, outcome := a.resolveNextHop(netip.MustParseAddr("10.3.0.2"))
	require.Equal(t, fwdOK, outcome)
	assert.Same(t, a.intrfcs[1], egress, "direct interface, not the static detour")
	assert.Equal(t, netip.MustParseAddr("10.3.0.2"), nextHop, "next hop is the destination itself")
}

func TestFirstInstalledEntryRetained(t *testing.T) {
	topo := forkTopo(t)
	a := topo.nodeByName["A"]

	require.NoError(t, a.rtTable.installRoute(
		netip.MustParsePrefix("10.9.0.0/24"), netip.MustParseAddr("10.2.0.2"), 0))
	err := a.rtTable.installRoute(
		netip.MustParsePrefix("10.9.0.0/24"), netip.MustParseAddr("10.3.0.2"), 1)
	assert.Error(t, err)

	_, nextHop, outcome := a.resolveNextHop(netip.MustParseAddr("10.9.0.1"))
	require.Equal(t, fwdOK, outcome)
	assert.Equal(t, netip.MustParseAddr("10.2.0.2"), nextHop)
}

func TestNoRouteToHost(t *testing.T) {
	topo := forkTopo(t)
	a := topo.nodeByName["A"]

	egress, _, outcome := a.resolveNextHop(netip.MustParseAddr("172.16.0.1"))
	assert.Equal(t, fwdNoRoute, outcome)
	assert.Nil(t, egress)
}

func TestDownLinkReportedEvenWithValidRoute(t *testing.T) {
	topo := forkTopo(t)
	a := topo.nodeByName["A"]

	require.NoError(t, a.rtTable.installRoute(
		netip.MustParsePrefix("10.9.0.0/24"), netip.MustParseAddr("10.3.0.2"), 1))
	a.intrfcs[1].link.state = linkDown

	egress, _, outcome := a.resolveNextHop(netip.MustParseAddr("10.9.0.1"))
	assert.Equal(t, fwdLinkDown, outcome)
	assert.Same(t, a.intrfcs[1], egress, "the route still resolves; only the link refuses")
}

func TestRtDumpListsConnectedThenStatic(t *testing.T) {
	td := triangleTopo(t)
	tm := CreateTraceManager("dump", false)
	topo := buildTopo(td, tm)

	hq := topo.nodeByName["HQ"]
	dump := hq.rtDump()
	require.Len(t, dump, 3)

	assert.Equal(t, "connected", dump[0].Kind)
	assert.Equal(t, "10.1.1.0/30", dump[0].DestNet)
	assert.Equal(t, "connected", dump[1].Kind)
	assert.Equal(t, "10.1.3.0/30", dump[1].DestNet)

	// the provisioned static route appears even though no traffic
	// needs it yet
	assert.Equal(t, "static", dump[2].Kind)
	assert.Equal(t, "10.1.2.0/30", dump[2].DestNet)
	assert.Equal(t, "10.1.3.2", dump[2].NextHop)
}

func TestRtDumpReportsBackupPath(t *testing.T) {
	td := triangleTopo(t)
	tm := CreateTraceManager("backup", false)
	topo := buildTopo(td, tm)

	hq := topo.nodeByName["HQ"]
	dump := hq.rtDump()

	// HQ's static route to the Branch-DC subnet egresses over the
	// HQ-DC link; the documented alternate avoids that link
	assert.Equal(t, "HQ,Branch", dump[2].Backup)
}
