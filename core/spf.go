package core

import (
	"container/heap"
	"net/netip"
	"slices"
	"time"

	"github.com/encodeous/aramid/perf"
	"github.com/encodeous/aramid/protocol"
	"github.com/encodeous/aramid/state"
)

type spfItem struct {
	ref   state.NodeRef
	cost  uint32
	index int
}

type spfQueue []*spfItem

func (q spfQueue) Len() int            { return len(q) }
func (q spfQueue) Less(i, j int) bool  { return q[i].cost < q[j].cost }
func (q spfQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *spfQueue) Push(x any)         { it := x.(*spfItem); it.index = len(*q); *q = append(*q, it) }
func (q *spfQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// spfGraph is the topology view extracted from the database: only edges
// confirmed by both endpoints survive into it.
type spfGraph struct {
	edges    map[state.NodeRef][]spfEdge
	prefixes map[state.NodeRef][]prefixSrc
	attached map[state.NodeRef]bool
}

type prefixSrc struct {
	decl  protocol.PrefixDecl
	intra bool // declared in fragment zero, not a border summary
}

type spfEdge struct {
	to   state.NodeRef
	cost uint32
}

func buildGraph(ss *state.ScopeState) *spfGraph {
	g := &spfGraph{
		edges:    make(map[state.NodeRef][]spfEdge),
		prefixes: make(map[state.NodeRef][]prefixSrc),
		attached: make(map[state.NodeRef]bool),
	}
	declared := make(map[state.NodeRef]map[state.NodeRef]uint32)
	for key, e := range ss.DB {
		if e.Exhausted {
			continue
		}
		from := key.Origin
		if _, ok := declared[from]; !ok {
			declared[from] = make(map[state.NodeRef]uint32)
		}
		for _, l := range e.LSA.Links {
			to := state.NodeRef{Node: state.NodeId(l.Neighbor), Pseudo: l.Pseudo}
			if cur, ok := declared[from][to]; !ok || l.Cost < cur {
				declared[from][to] = l.Cost
			}
		}
		for _, decl := range e.LSA.Prefixes {
			g.prefixes[from] = append(g.prefixes[from], prefixSrc{decl: decl, intra: key.Fragment == 0})
		}
		if e.LSA.Flags&protocol.FlagAttached != 0 {
			g.attached[from] = true
		}
	}
	// the two-way check: an edge counts only when the far end declares it
	// back, so a half-dead link can never attract traffic
	for from, outs := range declared {
		for to, cost := range outs {
			if _, ok := declared[to][from]; !ok {
				continue
			}
			g.edges[from] = append(g.edges[from], spfEdge{to: to, cost: cost})
		}
	}
	return g
}

// ComputeSpf runs shortest paths over the scope database from the local
// node, keeping every equal-cost predecessor so the result carries the
// full set of loop-free next hops per destination.
func ComputeSpf(ss *state.ScopeState) *state.SpfResult {
	start := time.Now()
	g := buildGraph(ss)
	root := state.NodeRef{Node: ss.LocalCfg.Id}

	dist := map[state.NodeRef]uint32{root: 0}
	preds := make(map[state.NodeRef][]state.NodeRef)
	done := make(map[state.NodeRef]bool)

	q := &spfQueue{}
	heap.Init(q)
	heap.Push(q, &spfItem{ref: root, cost: 0})
	for q.Len() > 0 {
		it := heap.Pop(q).(*spfItem)
		u := it.ref
		if done[u] || it.cost != dist[u] {
			continue
		}
		done[u] = true
		for _, edge := range g.edges[u] {
			nd := AddCost(dist[u], edge.cost)
			if nd == state.INF {
				continue
			}
			cur, seen := dist[edge.to]
			switch {
			case !seen || nd < cur:
				dist[edge.to] = nd
				preds[edge.to] = []state.NodeRef{u}
				heap.Push(q, &spfItem{ref: edge.to, cost: nd})
			case nd == cur:
				if !slices.Contains(preds[edge.to], u) {
					preds[edge.to] = append(preds[edge.to], u)
				}
			}
		}
	}

	hops := newHopResolver(root, preds)
	res := &state.SpfResult{
		Scope:    ss.Id,
		Backbone: ss.Backbone,
		Nodes:    make(map[state.NodeRef]*state.SpfNode),
		Prefixes: make(map[netip.Prefix]*state.SpfPrefix),
		Attached: make(map[state.NodeId]*state.SpfNode),
		Computed: start,
	}
	for ref, d := range dist {
		n := &state.SpfNode{Cost: d, NextHops: hops.resolve(ref)}
		res.Nodes[ref] = n
		if ref.IsPseudo() {
			continue
		}
		if g.attached[ref] && ref != root {
			res.Attached[ref.Node] = n
		}
		for _, src := range g.prefixes[ref] {
			cost := AddCost(d, src.decl.Cost)
			cur, ok := res.Prefixes[src.decl.Prefix]
			switch {
			case !ok || cost < cur.Cost:
				res.Prefixes[src.decl.Prefix] = &state.SpfPrefix{
					Cost:     cost,
					NextHops: slices.Clone(n.NextHops),
					Intra:    src.intra,
				}
			case cost == cur.Cost:
				for _, nh := range n.NextHops {
					if !slices.Contains(cur.NextHops, nh) {
						cur.NextHops = append(cur.NextHops, nh)
					}
				}
				slices.Sort(cur.NextHops)
				cur.Intra = cur.Intra || src.intra
			}
		}
	}
	perf.SpfRuns.Add(1)
	perf.SpfLatency.Add(float64(time.Since(start).Microseconds()))
	return res
}

// hopResolver walks predecessor chains back to the root to find the first
// real hop of every destination. A destination whose predecessor is the
// root, or a pseudonode the root sits on, is its own next hop.
type hopResolver struct {
	root  state.NodeRef
	preds map[state.NodeRef][]state.NodeRef
	memo  map[state.NodeRef][]state.NodeId
}

func newHopResolver(root state.NodeRef, preds map[state.NodeRef][]state.NodeRef) *hopResolver {
	return &hopResolver{root: root, preds: preds, memo: make(map[state.NodeRef][]state.NodeId)}
}

func (h *hopResolver) resolve(v state.NodeRef) []state.NodeId {
	if v == h.root {
		return nil
	}
	if hops, ok := h.memo[v]; ok {
		return hops
	}
	h.memo[v] = nil // cycle guard; preds of a shortest-path DAG are acyclic
	set := make([]state.NodeId, 0, 1)
	for _, p := range h.preds[v] {
		if p == h.root || (p.IsPseudo() && slices.Contains(h.preds[p], h.root)) {
			if !v.IsPseudo() && !slices.Contains(set, v.Node) {
				set = append(set, v.Node)
			}
			continue
		}
		for _, nh := range h.resolve(p) {
			if !slices.Contains(set, nh) {
				set = append(set, nh)
			}
		}
	}
	slices.Sort(set)
	h.memo[v] = set
	return set
}

// RunSpf recomputes shortest paths for the scope and hands the result to
// the node loop for table installation and border summarization.
func RunSpf(ss *state.ScopeState, io ScopeIO) error {
	res := ComputeSpf(ss)
	ss.LastSpf = res
	if state.DBG_log_spf {
		ss.Log.Debug("spf complete", "scope", ss.Id, "nodes", len(res.Nodes), "prefixes", len(res.Prefixes))
	}
	ss.Dispatch(func(s *state.State) error {
		return OnSpfComplete(s, res)
	})
	return nil
}
