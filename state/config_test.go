package state

import (
	"net/netip"
	"testing"

	"github.com/encodeous/aramid/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGraphSimplePairing(t *testing.T) {
	pairs, err := ParseGraph([]string{"a, b"}, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []Pair[NodeId, NodeId]{{"a", "b"}}, pairs)
}

func TestParseGraphInterconnectsPairwise(t *testing.T) {
	pairs, err := ParseGraph([]string{"a, b, c"}, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []Pair[NodeId, NodeId]{{"a", "b"}, {"a", "c"}, {"b", "c"}}, pairs)
}

func TestParseGraphGroups(t *testing.T) {
	graph := []string{
		"leaves = l1, l2",
		"leaves, hub",
	}
	pairs, err := ParseGraph(graph, []string{"l1", "l2", "hub"})
	require.NoError(t, err)
	// group members connect to the hub, not to each other
	assert.Equal(t, []Pair[NodeId, NodeId]{{"hub", "l1"}, {"hub", "l2"}}, pairs)
}

func TestParseGraphNestedGroups(t *testing.T) {
	graph := []string{
		"east = e1, e2",
		"all = east, w1",
		"all, hub",
	}
	pairs, err := ParseGraph(graph, []string{"e1", "e2", "w1", "hub"})
	require.NoError(t, err)
	assert.Equal(t, []Pair[NodeId, NodeId]{{"e1", "hub"}, {"e2", "hub"}, {"hub", "w1"}}, pairs)
}

func TestParseGraphRejectsCycles(t *testing.T) {
	graph := []string{
		"g1 = g2, a",
		"g2 = g1, b",
		"g1, g2",
	}
	_, err := ParseGraph(graph, []string{"a", "b"})
	assert.ErrorContains(t, err, "cycle")
}

func TestParseGraphRejectsUnknownSymbols(t *testing.T) {
	_, err := ParseGraph([]string{"a, ghost"}, []string{"a", "b"})
	assert.Error(t, err)
}

func TestParseGraphRejectsDuplicateGroup(t *testing.T) {
	_, err := ParseGraph([]string{"g = a", "g = b", "g, b"}, []string{"a", "b"})
	assert.ErrorContains(t, err, "duplicate group")
}

func TestParseGraphRejectsGroupNamedLikeNode(t *testing.T) {
	_, err := ParseGraph([]string{"a = b", "a, b"}, []string{"a", "b"})
	assert.ErrorContains(t, err, "must not be a node name")
}

func TestP2PCircuitIdSymmetric(t *testing.T) {
	assert.Equal(t, P2PCircuitId("a", "b"), P2PCircuitId("b", "a"))
	assert.Equal(t, CircuitId("p2p:a~b"), P2PCircuitId("b", "a"))
	assert.Equal(t, CircuitId("lan:seg0"), SegmentCircuitId("seg0"))
}

func TestCircuitsFor(t *testing.T) {
	cfg := CentralCfg{
		Nodes: []NodeCfg{
			{Id: "a", Scopes: []ScopeId{"main"}},
			{Id: "b", Scopes: []ScopeId{"main"}},
			{Id: "c", Scopes: []ScopeId{"main"}},
		},
		Scopes: []ScopeCfg{{Id: "main"}},
		Graph:  []string{"a, b"},
		Costs:  []Triple[NodeId, NodeId, uint32]{{"a", "b", 42}},
		Segments: []SegmentCfg{
			{Id: "seg0", Scope: "main", Members: []NodeId{"a", "c"}},
		},
	}

	specs, err := cfg.CircuitsFor("a")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, CircuitSpec{
		Id:    P2PCircuitId("a", "b"),
		Mode:  protocol.ModePointToPoint,
		Cost:  42,
		Peers: []NodeId{"b"},
	}, specs[0])
	assert.Equal(t, CircuitSpec{
		Id:      SegmentCircuitId("seg0"),
		Mode:    protocol.ModeBroadcast,
		Scope:   "main",
		Segment: "seg0",
		Cost:    DefaultCost,
		Peers:   []NodeId{"c"},
	}, specs[1])

	// b is not on the segment
	specs, err = cfg.CircuitsFor("b")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, protocol.ModePointToPoint, specs[0].Mode)
}

func TestCostOf(t *testing.T) {
	cfg := CentralCfg{Costs: []Triple[NodeId, NodeId, uint32]{{"a", "b", 7}}}
	assert.Equal(t, uint32(7), cfg.CostOf("a", "b"))
	assert.Equal(t, uint32(7), cfg.CostOf("b", "a"))
	assert.Equal(t, DefaultCost, cfg.CostOf("a", "c"))
}

func TestScopeHelpers(t *testing.T) {
	cfg := CentralCfg{
		Nodes: []NodeCfg{
			{Id: "core", Scopes: []ScopeId{"backbone"}},
			{Id: "border", Scopes: []ScopeId{"backbone", "edge"}},
			{Id: "leaf", Scopes: []ScopeId{"edge"}},
		},
		Scopes: []ScopeCfg{
			{Id: "backbone", Backbone: true},
			{Id: "edge"},
		},
	}
	assert.True(t, cfg.IsBackboneScope("backbone"))
	assert.False(t, cfg.IsBackboneScope("edge"))
	assert.True(t, cfg.IsBackboneMember("border"))
	assert.False(t, cfg.IsBackboneMember("leaf"))
	assert.True(t, cfg.IsBorder("border"))
	assert.False(t, cfg.IsBorder("core"))
	assert.Equal(t, []ScopeId{"backbone", "edge"}, cfg.ScopesOf("border"))
	assert.Nil(t, cfg.ScopesOf("ghost"))
}

func TestGetPriorityAndCostDefaults(t *testing.T) {
	n := NodeCfg{Id: "a"}
	assert.Equal(t, DefaultPriority, n.GetPriority())
	p := uint8(200)
	n.Priority = &p
	assert.Equal(t, uint8(200), n.GetPriority())

	seg := SegmentCfg{Id: "s"}
	assert.Equal(t, DefaultCost, seg.GetCost())
	seg.Cost = 3
	assert.Equal(t, uint32(3), seg.GetCost())
}

func TestCoalescePrefix(t *testing.T) {
	out := CoalescePrefix([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/25"),
		netip.MustParsePrefix("10.0.0.128/25"),
		netip.MustParsePrefix("192.168.1.0/24"),
	})
	assert.ElementsMatch(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/24"),
		netip.MustParsePrefix("192.168.1.0/24"),
	}, out)
}

func TestSubtractPrefix(t *testing.T) {
	out := SubtractPrefix(
		[]netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")},
		[]netip.Prefix{netip.MustParsePrefix("10.0.0.0/25")},
	)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.128/25")}, out)
}
