package core

import (
	"net/netip"
	"testing"

	"github.com/encodeous/aramid/mock"
	"github.com/encodeous/aramid/state"
	"github.com/stretchr/testify/assert"
)

func TestRibInstallsScopeResults(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "core1")
	r := Get[*RibInstaller](s)

	p := netip.MustParsePrefix("10.1.0.0/24")
	res := spfResult("backbone", true)
	res.Prefixes[p] = &state.SpfPrefix{Cost: 3, NextHops: []state.NodeId{"core2"}, Intra: true}
	r.Update(s, res)

	rib := s.ReadRib()
	e, ok := rib.Get(p)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), e.Cost)
	assert.Equal(t, []state.NodeId{"core2"}, e.NextHops)
	assert.Equal(t, state.ScopeId("backbone"), e.Scope)
	assert.Equal(t, uint64(1), rib.Sequence)

	// longest prefix match resolves through the table
	le, ok := rib.Lookup(netip.MustParseAddr("10.1.0.42"))
	assert.True(t, ok)
	assert.Equal(t, p, le.Prefix)
}

func TestRibSelfHostedPrefixPointsToSelf(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "core1")
	r := Get[*RibInstaller](s)

	p := netip.MustParsePrefix("10.0.0.0/24")
	res := spfResult("backbone", true)
	res.Prefixes[p] = &state.SpfPrefix{Cost: 0, Intra: true}
	r.Update(s, res)

	e, ok := s.ReadRib().Get(p)
	assert.True(t, ok)
	assert.Equal(t, []state.NodeId{"core1"}, e.NextHops)
}

func TestRibMergesAcrossScopes(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "border")
	r := Get[*RibInstaller](s)

	p := netip.MustParsePrefix("10.7.0.0/24")
	bb := spfResult("backbone", true)
	bb.Prefixes[p] = &state.SpfPrefix{Cost: 5, NextHops: []state.NodeId{"core1"}, Intra: true}
	edge := spfResult("edge", false)
	edge.Prefixes[p] = &state.SpfPrefix{Cost: 2, NextHops: []state.NodeId{"leaf1"}, Intra: true}

	r.Update(s, bb)
	r.Update(s, edge)

	// the cheaper scope wins
	e, ok := s.ReadRib().Get(p)
	assert.True(t, ok)
	assert.Equal(t, uint32(2), e.Cost)
	assert.Equal(t, []state.NodeId{"leaf1"}, e.NextHops)
	assert.Equal(t, state.ScopeId("edge"), e.Scope)
}

func TestRibMergesEqualCostHops(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "border")
	r := Get[*RibInstaller](s)

	p := netip.MustParsePrefix("10.7.0.0/24")
	bb := spfResult("backbone", true)
	bb.Prefixes[p] = &state.SpfPrefix{Cost: 2, NextHops: []state.NodeId{"core1"}, Intra: true}
	edge := spfResult("edge", false)
	edge.Prefixes[p] = &state.SpfPrefix{Cost: 2, NextHops: []state.NodeId{"leaf1"}, Intra: true}

	r.Update(s, bb)
	r.Update(s, edge)

	e, _ := s.ReadRib().Get(p)
	assert.Equal(t, []state.NodeId{"core1", "leaf1"}, e.NextHops)
}

func TestRibDefaultRouteForDetachedNodes(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "leaf1")
	r := Get[*RibInstaller](s)

	res := spfResult("edge", false)
	res.Attached["border"] = &state.SpfNode{Cost: 3, NextHops: []state.NodeId{"border"}}
	r.Update(s, res)

	rib := s.ReadRib()
	for _, addr := range []string{"203.0.113.9", "2001:db8::1"} {
		e, ok := rib.Lookup(netip.MustParseAddr(addr))
		assert.True(t, ok, addr)
		assert.True(t, e.Default)
		assert.Equal(t, uint32(3), e.Cost)
		assert.Equal(t, []state.NodeId{"border"}, e.NextHops)
	}
}

func TestRibNoDefaultForBackboneMembers(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "border")
	r := Get[*RibInstaller](s)

	res := spfResult("edge", false)
	res.Attached["border2"] = &state.SpfNode{Cost: 3, NextHops: []state.NodeId{"border2"}}
	r.Update(s, res)

	_, ok := s.ReadRib().Lookup(netip.MustParseAddr("203.0.113.9"))
	assert.False(t, ok)
}

func TestRibSkipsUnreachablePrefixes(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "core1")
	r := Get[*RibInstaller](s)

	p := netip.MustParsePrefix("10.7.0.0/24")
	res := spfResult("backbone", true)
	res.Prefixes[p] = &state.SpfPrefix{Cost: state.INF, NextHops: []state.NodeId{"core2"}, Intra: true}
	r.Update(s, res)

	assert.Zero(t, s.ReadRib().Size())
}

func TestAttachedDefaultsPrefersCheaperBorder(t *testing.T) {
	res := spfResult("edge", false)
	res.Attached["b2"] = &state.SpfNode{Cost: 3, NextHops: []state.NodeId{"b2"}}
	res.Attached["b3"] = &state.SpfNode{Cost: 1, NextHops: []state.NodeId{"b3"}}

	cost, hops := attachedDefaults(res)
	assert.Equal(t, uint32(1), cost)
	assert.Equal(t, []state.NodeId{"b3"}, hops)
}

func TestAttachedDefaultsUnionsEqualCostBorders(t *testing.T) {
	res := spfResult("edge", false)
	res.Attached["b2"] = &state.SpfNode{Cost: 3, NextHops: []state.NodeId{"b2"}}
	res.Attached["b1"] = &state.SpfNode{Cost: 3, NextHops: []state.NodeId{"b1"}}
	res.Attached["b3"] = &state.SpfNode{Cost: 9, NextHops: []state.NodeId{"b3"}}

	cost, hops := attachedDefaults(res)
	assert.Equal(t, uint32(3), cost)
	assert.Equal(t, []state.NodeId{"b1", "b2"}, hops)
}

func TestRibDefaultSpreadsAcrossEqualCostBorders(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "leaf1")
	r := Get[*RibInstaller](s)

	res := spfResult("edge", false)
	res.Attached["b1"] = &state.SpfNode{Cost: 3, NextHops: []state.NodeId{"b1"}}
	res.Attached["b2"] = &state.SpfNode{Cost: 3, NextHops: []state.NodeId{"b2"}}
	r.Update(s, res)

	e, ok := s.ReadRib().Lookup(netip.MustParseAddr("203.0.113.9"))
	assert.True(t, ok)
	assert.True(t, e.Default)
	assert.Equal(t, uint32(3), e.Cost)
	assert.Equal(t, []state.NodeId{"b1", "b2"}, e.NextHops)
}
