package core

import (
	"net/netip"
	"slices"

	"github.com/encodeous/aramid/perf"
	"github.com/encodeous/aramid/state"
)

var (
	defaultV4 = netip.MustParsePrefix("0.0.0.0/0")
	defaultV6 = netip.MustParsePrefix("::/0")
)

// RibInstaller merges the per-scope shortest-path results into one
// forwarding table and publishes it atomically. It lives on the node
// loop; readers only ever see complete snapshots.
type RibInstaller struct {
	results map[state.ScopeId]*state.SpfResult
	seq     uint64
}

func (r *RibInstaller) Init(s *state.State) error {
	r.results = make(map[state.ScopeId]*state.SpfResult)
	s.RIB.Store(state.NewRib(0))
	return nil
}

func (r *RibInstaller) Cleanup(s *state.State) error {
	r.results = nil
	return nil
}

// Update records a scope's latest result and rebuilds the table.
func (r *RibInstaller) Update(s *state.State, res *state.SpfResult) {
	r.results[res.Scope] = res
	r.rebuild(s)
}

func (r *RibInstaller) rebuild(s *state.State) {
	self := s.LocalCfg.Id
	r.seq++
	rib := state.NewRib(r.seq)

	merged := make(map[netip.Prefix]*state.RibEntry)
	scopes := make([]state.ScopeId, 0, len(r.results))
	for id := range r.results {
		scopes = append(scopes, id)
	}
	slices.Sort(scopes)
	for _, id := range scopes {
		res := r.results[id]
		for p, sp := range res.Prefixes {
			if sp.Cost == state.INF {
				continue
			}
			hops := sp.NextHops
			if len(hops) == 0 {
				// a prefix we host ourselves
				hops = []state.NodeId{self}
			}
			cur, ok := merged[p]
			switch {
			case !ok || sp.Cost < cur.Cost:
				merged[p] = &state.RibEntry{
					Prefix:   p,
					Cost:     sp.Cost,
					NextHops: slices.Clone(hops),
					Scope:    id,
				}
			case sp.Cost == cur.Cost:
				for _, nh := range hops {
					if !slices.Contains(cur.NextHops, nh) {
						cur.NextHops = append(cur.NextHops, nh)
					}
				}
				slices.Sort(cur.NextHops)
			}
		}
	}

	// non-backbone nodes fall back to the nearest attached borders for
	// anything the detailed scope cannot resolve
	if !s.IsBackboneMember(self) {
		for _, id := range scopes {
			res := r.results[id]
			cost, hops := attachedDefaults(res)
			if len(hops) == 0 {
				continue
			}
			for _, def := range []netip.Prefix{defaultV4, defaultV6} {
				cur, ok := merged[def]
				switch {
				case !ok || cost < cur.Cost:
					merged[def] = &state.RibEntry{
						Prefix:   def,
						Cost:     cost,
						NextHops: slices.Clone(hops),
						Scope:    id,
						Default:  true,
					}
				case cost == cur.Cost:
					for _, nh := range hops {
						if !slices.Contains(cur.NextHops, nh) {
							cur.NextHops = append(cur.NextHops, nh)
						}
					}
					slices.Sort(cur.NextHops)
				}
			}
		}
	}

	for _, e := range merged {
		rib.Add(*e)
	}
	s.RIB.Store(rib)
	perf.RibPublishes.Add(1)
	if state.DBG_log_rib {
		s.Log.Debug("table published", "seq", rib.Sequence, "entries", rib.Size())
	}
}

// attachedDefaults finds the minimal cost at which any border node
// advertising backbone reachability can be reached, and unions the next
// hops of every border at that cost so the default spreads across them.
func attachedDefaults(res *state.SpfResult) (uint32, []state.NodeId) {
	cost := state.INF
	var hops []state.NodeId
	for _, node := range res.Attached {
		if node.Cost == state.INF || len(node.NextHops) == 0 {
			continue
		}
		switch {
		case node.Cost < cost:
			cost = node.Cost
			hops = slices.Clone(node.NextHops)
		case node.Cost == cost:
			for _, nh := range node.NextHops {
				if !slices.Contains(hops, nh) {
					hops = append(hops, nh)
				}
			}
		}
	}
	slices.Sort(hops)
	return cost, hops
}
