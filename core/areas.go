package core

import (
	"net/netip"
	"slices"

	"github.com/encodeous/aramid/state"
)

// OnSpfComplete runs on the node loop every time a scope finishes a
// shortest-path run: the forwarding table is rebuilt from the latest
// results, and if this node borders other scopes the result is condensed
// into summaries for them. Summaries only ever flow between a detailed
// scope and the backbone; two detailed scopes never exchange them
// directly, so traffic between them always transits the backbone.
func OnSpfComplete(s *state.State, res *state.SpfResult) error {
	r := Get[*RibInstaller](s)
	r.Update(s, res)

	self := s.LocalCfg.Id
	if !s.IsBorder(self) {
		return nil
	}
	if res.Backbone {
		for _, target := range s.ScopesOf(self) {
			if s.IsBackboneScope(target) {
				continue
			}
			decls := excludeScopeOwned(&s.CentralCfg, target, summarize(res, false))
			publishSummaries(s, target, res.Scope, decls)
		}
	} else if s.IsBackboneMember(self) {
		for _, target := range s.ScopesOf(self) {
			if s.IsBackboneScope(target) {
				publishSummaries(s, target, res.Scope, summarize(res, true))
			}
		}
	}
	return nil
}

// summarize condenses a scope's reachable prefixes. Out of a detailed
// scope only intra prefixes qualify, so summaries injected by other
// borders are not re-exported; out of the backbone everything reachable
// qualifies. The condensed prefix inherits the worst cost among what it
// covers, keeping the advertised cost an upper bound.
func summarize(res *state.SpfResult, intraOnly bool) []state.SpfPrefixDecl {
	eligible := make([]netip.Prefix, 0, len(res.Prefixes))
	for p, sp := range res.Prefixes {
		if sp.Cost == state.INF || len(sp.NextHops) == 0 {
			continue
		}
		if intraOnly && !sp.Intra {
			continue
		}
		eligible = append(eligible, p)
	}
	coalesced := state.CoalescePrefix(eligible)
	decls := make([]state.SpfPrefixDecl, 0, len(coalesced))
	for _, c := range coalesced {
		cost := uint32(0)
		for p, sp := range res.Prefixes {
			if c.Overlaps(p) && sp.Cost > cost && sp.Cost != state.INF {
				cost = sp.Cost
			}
		}
		decls = append(decls, state.SpfPrefixDecl{Prefix: c, Cost: cost})
	}
	slices.SortFunc(decls, func(a, b state.SpfPrefixDecl) int {
		if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
			return c
		}
		return a.Prefix.Bits() - b.Prefix.Bits()
	})
	return decls
}

// excludeScopeOwned strips the target scope's own address space from
// summaries heading into it, so a border never echoes a scope's prefixes
// back at it. Partially overlapping declarations keep their cost on the
// surviving remainder.
func excludeScopeOwned(cfg *state.CentralCfg, target state.ScopeId, decls []state.SpfPrefixDecl) []state.SpfPrefixDecl {
	owned := make([]netip.Prefix, 0)
	for _, n := range cfg.Nodes {
		if slices.Contains(n.Scopes, target) {
			owned = append(owned, n.Prefixes...)
		}
	}
	if len(owned) == 0 {
		return decls
	}
	out := make([]state.SpfPrefixDecl, 0, len(decls))
	for _, d := range decls {
		for _, rem := range state.SubtractPrefix([]netip.Prefix{d.Prefix}, owned) {
			out = append(out, state.SpfPrefixDecl{Prefix: rem, Cost: d.Cost})
		}
	}
	slices.SortFunc(out, func(a, b state.SpfPrefixDecl) int {
		if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
			return c
		}
		return a.Prefix.Bits() - b.Prefix.Bits()
	})
	return out
}

func publishSummaries(s *state.State, target, source state.ScopeId, decls []state.SpfPrefixDecl) {
	s.DispatchScope(target, func(ss *state.ScopeState) error {
		if slices.Equal(ss.Summaries[source], decls) {
			return nil
		}
		if len(decls) == 0 {
			delete(ss.Summaries, source)
		} else {
			ss.Summaries[source] = decls
		}
		ss.OriginateDebounce.Trigger()
		return nil
	})
}
