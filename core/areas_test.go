package core

import (
	"context"
	"log/slog"
	"net/netip"
	"reflect"
	"testing"
	"time"

	"github.com/encodeous/aramid/mock"
	"github.com/encodeous/aramid/state"
	"github.com/stretchr/testify/assert"
)

// newTestState builds a node-loop State with a registered installer, the
// way initModules does but without a fabric.
func newTestState(t *testing.T, cfg state.CentralCfg, self state.NodeId) *state.State {
	ctx, cancel := context.WithCancelCause(context.Background())
	t.Cleanup(func() { cancel(nil) })
	env := &state.Env{
		Context:       ctx,
		Cancel:        cancel,
		CentralCfg:    cfg,
		LocalCfg:      state.LocalCfg{Id: self},
		Log:           slog.New(slog.DiscardHandler),
		Sched:         state.NewScheduler(ctx),
		ScopeDispatch: make(map[state.ScopeId]chan<- func(*state.ScopeState) error),
	}
	s := &state.State{
		Env:     env,
		Modules: make(map[string]state.Module),
		Scopes:  make(map[state.ScopeId]*state.ScopeState),
	}
	ri := &RibInstaller{}
	s.Modules[reflect.TypeOf(ri).String()] = ri
	assert.NoError(t, ri.Init(s))
	return s
}

func spfResult(scope state.ScopeId, backbone bool) *state.SpfResult {
	return &state.SpfResult{
		Scope:    scope,
		Backbone: backbone,
		Nodes:    make(map[state.NodeRef]*state.SpfNode),
		Prefixes: make(map[netip.Prefix]*state.SpfPrefix),
		Attached: make(map[state.NodeId]*state.SpfNode),
		Computed: time.Now(),
	}
}

func TestSummarizeCoalescesAdjacentPrefixes(t *testing.T) {
	res := spfResult("edge", false)
	res.Prefixes[netip.MustParsePrefix("10.20.0.0/24")] = &state.SpfPrefix{Cost: 3, NextHops: []state.NodeId{"leaf1"}, Intra: true}
	res.Prefixes[netip.MustParsePrefix("10.20.1.0/24")] = &state.SpfPrefix{Cost: 7, NextHops: []state.NodeId{"leaf2"}, Intra: true}

	decls := summarize(res, true)
	assert.Equal(t, []state.SpfPrefixDecl{
		// the condensed prefix inherits the worst covered cost
		{Prefix: netip.MustParsePrefix("10.20.0.0/23"), Cost: 7},
	}, decls)
}

func TestSummarizeIntraOnlyExcludesForeignSummaries(t *testing.T) {
	res := spfResult("edge", false)
	intra := netip.MustParsePrefix("10.20.0.0/24")
	injected := netip.MustParsePrefix("10.99.0.0/16")
	res.Prefixes[intra] = &state.SpfPrefix{Cost: 3, NextHops: []state.NodeId{"leaf1"}, Intra: true}
	res.Prefixes[injected] = &state.SpfPrefix{Cost: 5, NextHops: []state.NodeId{"border2"}}

	decls := summarize(res, true)
	assert.Equal(t, []state.SpfPrefixDecl{{Prefix: intra, Cost: 3}}, decls)

	// out of the backbone everything reachable qualifies
	decls = summarize(res, false)
	assert.Len(t, decls, 2)
}

func TestSummarizeSkipsUnreachableAndSelfHosted(t *testing.T) {
	res := spfResult("edge", false)
	res.Prefixes[netip.MustParsePrefix("10.1.0.0/24")] = &state.SpfPrefix{Cost: state.INF, NextHops: []state.NodeId{"x"}, Intra: true}
	res.Prefixes[netip.MustParsePrefix("10.2.0.0/24")] = &state.SpfPrefix{Cost: 1, Intra: true}

	assert.Empty(t, summarize(res, true))
}

func TestOnSpfCompletePublishesSummaries(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "border")

	edgeCh := make(chan func(*state.ScopeState) error, 8)
	s.ScopeDispatch["edge"] = edgeCh
	edge := newTestScope(t, cfg, "border", "edge")

	res := spfResult("backbone", true)
	res.Prefixes[netip.MustParsePrefix("10.0.0.0/24")] = &state.SpfPrefix{Cost: 4, NextHops: []state.NodeId{"core1"}, Intra: true}

	assert.NoError(t, OnSpfComplete(s, res))

	// the backbone result is condensed into the detailed scope
	select {
	case fun := <-edgeCh:
		assert.NoError(t, fun(edge))
	default:
		t.Fatal("no summary dispatched to the edge scope")
	}
	assert.Equal(t, []state.SpfPrefixDecl{
		{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Cost: 4},
	}, edge.Summaries["backbone"])
}

func TestSummariesIntoScopeExcludeItsOwnPrefixes(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "border")

	edgeCh := make(chan func(*state.ScopeState) error, 8)
	s.ScopeDispatch["edge"] = edgeCh
	edge := newTestScope(t, cfg, "border", "edge")

	res := spfResult("backbone", true)
	res.Prefixes[netip.MustParsePrefix("10.0.0.0/24")] = &state.SpfPrefix{Cost: 4, NextHops: []state.NodeId{"core1"}, Intra: true}
	// our own condensed edge summary shows up again in the backbone result
	res.Prefixes[netip.MustParsePrefix("10.20.0.0/23")] = &state.SpfPrefix{Cost: 6, NextHops: []state.NodeId{"core1"}}

	assert.NoError(t, OnSpfComplete(s, res))
	fun := <-edgeCh
	assert.NoError(t, fun(edge))

	// the echo is stripped before it reaches the detailed scope
	assert.Equal(t, []state.SpfPrefixDecl{
		{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Cost: 4},
	}, edge.Summaries["backbone"])
}

func TestExcludeScopeOwnedKeepsRemainder(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	decls := []state.SpfPrefixDecl{{Prefix: netip.MustParsePrefix("10.20.0.0/22"), Cost: 5}}

	out := excludeScopeOwned(&cfg, "edge", decls)
	assert.Equal(t, []state.SpfPrefixDecl{
		{Prefix: netip.MustParsePrefix("10.20.2.0/23"), Cost: 5},
	}, out)
}

func TestOnSpfCompleteDetailedFlowsToBackboneOnly(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "border")

	bbCh := make(chan func(*state.ScopeState) error, 8)
	s.ScopeDispatch["backbone"] = bbCh
	bb := newTestScope(t, cfg, "border", "backbone")

	res := spfResult("edge", false)
	res.Prefixes[netip.MustParsePrefix("10.20.0.0/24")] = &state.SpfPrefix{Cost: 2, NextHops: []state.NodeId{"leaf1"}, Intra: true}
	// a summary another border injected must not be re-exported
	res.Prefixes[netip.MustParsePrefix("10.99.0.0/16")] = &state.SpfPrefix{Cost: 9, NextHops: []state.NodeId{"border2"}}

	assert.NoError(t, OnSpfComplete(s, res))

	select {
	case fun := <-bbCh:
		assert.NoError(t, fun(bb))
	default:
		t.Fatal("no summary dispatched to the backbone scope")
	}
	assert.Equal(t, []state.SpfPrefixDecl{
		{Prefix: netip.MustParsePrefix("10.20.0.0/24"), Cost: 2},
	}, bb.Summaries["edge"])
}

func TestOnSpfCompleteNonBorderPublishesNothing(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "leaf1")

	edgeCh := make(chan func(*state.ScopeState) error, 8)
	s.ScopeDispatch["edge"] = edgeCh

	res := spfResult("edge", false)
	res.Prefixes[netip.MustParsePrefix("10.20.1.0/24")] = &state.SpfPrefix{Cost: 2, NextHops: []state.NodeId{"leaf2"}, Intra: true}
	assert.NoError(t, OnSpfComplete(s, res))
	assert.Empty(t, edgeCh)
}

func TestUnchangedSummariesNotRepublished(t *testing.T) {
	cfg := mock.TwoScopeCfg()
	s := newTestState(t, cfg, "border")

	edgeCh := make(chan func(*state.ScopeState) error, 8)
	s.ScopeDispatch["edge"] = edgeCh
	edge := newTestScope(t, cfg, "border", "edge")

	res := spfResult("backbone", true)
	res.Prefixes[netip.MustParsePrefix("10.0.0.0/24")] = &state.SpfPrefix{Cost: 4, NextHops: []state.NodeId{"core1"}, Intra: true}

	assert.NoError(t, OnSpfComplete(s, res))
	fun := <-edgeCh
	assert.NoError(t, fun(edge))
	assert.Len(t, edge.Summaries["backbone"], 1)

	// same result again: the scope is asked, but nothing changes
	assert.NoError(t, OnSpfComplete(s, res))
	fun = <-edgeCh
	assert.NoError(t, fun(edge))
	assert.Len(t, edge.Summaries["backbone"], 1)
}
