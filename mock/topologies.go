package mock

import (
	"fmt"
	"net/netip"

	"github.com/encodeous/aramid/state"
)

func prefixOf(i int) netip.Prefix {
	return netip.MustParsePrefix(fmt.Sprintf("10.%d.0.0/24", i))
}

func nodes(scope state.ScopeId, names ...string) []state.NodeCfg {
	cfgs := make([]state.NodeCfg, 0, len(names))
	for i, name := range names {
		cfgs = append(cfgs, state.NodeCfg{
			Id:       state.NodeId(name),
			Scopes:   []state.ScopeId{scope},
			Prefixes: []netip.Prefix{prefixOf(i)},
		})
	}
	return cfgs
}

// RingCfg is a single-scope ring of n nodes, n0 through n<n-1>, each
// advertising one prefix.
func RingCfg(n int) state.CentralCfg {
	names := make([]string, 0, n)
	graph := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, fmt.Sprintf("n%d", i))
	}
	for i := 0; i < n; i++ {
		graph = append(graph, fmt.Sprintf("%s, %s", names[i], names[(i+1)%n]))
	}
	return state.CentralCfg{
		Nodes:  nodes("main", names...),
		Scopes: []state.ScopeCfg{{Id: "main"}},
		Graph:  graph,
	}
}

// SegmentCfg is a single broadcast segment with the given members.
func SegmentCfg(members ...string) state.CentralCfg {
	ids := make([]state.NodeId, 0, len(members))
	for _, m := range members {
		ids = append(ids, state.NodeId(m))
	}
	return state.CentralCfg{
		Nodes:  nodes("main", members...),
		Scopes: []state.ScopeCfg{{Id: "main"}},
		Segments: []state.SegmentCfg{{
			Id:      "seg0",
			Scope:   "main",
			Members: ids,
		}},
	}
}

// CrossAreaCfg joins two detailed scopes through the backbone, plus a
// direct circuit between the leaves that shares no scope and so can
// never carry traffic:
//
//	   b1 ------- b2         backbone
//	   /            \
//	leaf1 -------- leaf2     area1 | area2
func CrossAreaCfg() state.CentralCfg {
	return state.CentralCfg{
		Nodes: []state.NodeCfg{
			{Id: "b1", Scopes: []state.ScopeId{"backbone", "area1"}},
			{Id: "b2", Scopes: []state.ScopeId{"backbone", "area2"}},
			{Id: "leaf1", Scopes: []state.ScopeId{"area1"}, Prefixes: []netip.Prefix{netip.MustParsePrefix("10.31.0.0/24")}},
			{Id: "leaf2", Scopes: []state.ScopeId{"area2"}, Prefixes: []netip.Prefix{netip.MustParsePrefix("10.32.0.0/24")}},
		},
		Scopes: []state.ScopeCfg{
			{Id: "backbone", Backbone: true},
			{Id: "area1"},
			{Id: "area2"},
		},
		Graph: []string{
			"b1, b2",
			"b1, leaf1",
			"b2, leaf2",
			"leaf1, leaf2",
		},
	}
}

// TwoScopeCfg builds a backbone scope bridged to one detailed scope:
//
//	core1 --- core2          backbone
//	   \       /
//	  border (in both scopes)
//	   /       \
//	leaf1 --- leaf2          detailed
func TwoScopeCfg() state.CentralCfg {
	cfg := state.CentralCfg{
		Scopes: []state.ScopeCfg{
			{Id: "backbone", Backbone: true},
			{Id: "edge"},
		},
		Graph: []string{
			"core1, core2",
			"core1, border",
			"core2, border",
			"border, leaf1",
			"border, leaf2",
			"leaf1, leaf2",
		},
	}
	cfg.Nodes = append(cfg.Nodes, nodes("backbone", "core1", "core2")...)
	cfg.Nodes = append(cfg.Nodes, state.NodeCfg{
		Id:     "border",
		Scopes: []state.ScopeId{"backbone", "edge"},
	})
	leaves := nodes("edge", "leaf1", "leaf2")
	for i := range leaves {
		leaves[i].Prefixes = []netip.Prefix{netip.MustParsePrefix(fmt.Sprintf("10.20.%d.0/24", i))}
	}
	cfg.Nodes = append(cfg.Nodes, leaves...)
	return cfg
}
