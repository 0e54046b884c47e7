package core

import (
	"slices"
	"time"

	"github.com/encodeous/aramid/perf"
	"github.com/encodeous/aramid/protocol"
	"github.com/encodeous/aramid/state"
)

// OriginationPass rebuilds the set of records this node should originate
// into the scope and reconciles the database against it: changed content
// gets a new sequence number, stale-but-identical records are refreshed,
// and slots no longer wanted are withdrawn.
func OriginationPass(ss *state.ScopeState, io ScopeIO) error {
	desired := buildDesired(ss)
	now := time.Now()
	var flood []protocol.LSA
	for key, want := range desired {
		held, ok := ss.DB[key]
		if ok && held.Exhausted {
			continue
		}
		if ok && sameContent(&held.LSA, &want) {
			if RemainingLifetime(held, now) > state.MaxLifetime/2 {
				continue
			}
			if state.DBG_log_flood {
				io.Log(LsaRefreshed, "record refreshed", "key", key)
			}
		}
		lsa, ok := originate(ss, io, key, want)
		if ok {
			flood = append(flood, lsa)
		}
	}
	for key, held := range ss.DB {
		if !held.SelfOrigin || held.Exhausted {
			continue
		}
		if _, wanted := desired[key]; wanted {
			continue
		}
		dead := held.LSA
		dead.Lifetime = 0
		dead.ComputeChecksum()
		if state.DBG_log_flood {
			io.Log(LsaWithdrawn, "withdrawing own record", "key", key)
		}
		PurgeLSA(ss, key, dead.Seq)
		flood = append(flood, dead)
	}
	if len(flood) > 0 {
		Flood(ss, io, "", flood)
		ss.SpfDebounce.Trigger()
	}
	return nil
}

// originate installs the next version of a self-originated slot. The
// returned record is ready to flood; ok is false while the slot waits out
// sequence exhaustion.
func originate(ss *state.ScopeState, io ScopeIO, key state.LSAKey, want protocol.LSA) (protocol.LSA, bool) {
	seq := state.InitialSequence
	if held, ok := ss.DB[key]; ok {
		if held.LSA.Seq >= state.MaxSequence {
			beginSeqExhaustion(ss, io, key, held.LSA.Seq)
			return protocol.LSA{}, false
		}
		seq = held.LSA.Seq + 1
	}
	if guard := ss.PurgeGuard.Get(key); guard != nil && seq <= guard.Value() {
		if guard.Value() >= state.MaxSequence {
			beginSeqExhaustion(ss, io, key, guard.Value())
			return protocol.LSA{}, false
		}
		seq = guard.Value() + 1
	}
	want.Seq = seq
	want.Lifetime = state.MaxLifetime
	want.ComputeChecksum()
	InstallLSA(ss, want, true)
	perf.Originations.Add(1)
	return want, true
}

// beginSeqExhaustion runs the sequence rollover procedure: the slot is
// withdrawn at the maximal sequence number, then left dormant long enough
// for every in-flight copy to age out everywhere before numbering
// restarts from the beginning.
func beginSeqExhaustion(ss *state.ScopeState, io ScopeIO, key state.LSAKey, seq uint32) {
	if held, ok := ss.DB[key]; ok && held.Exhausted {
		return
	}
	io.Log(SequenceExhausted, "sequence space exhausted, withdrawing and waiting", "key", key, "wait", state.SeqExhaustWait)
	perf.SeqExhaustions.Add(1)

	dead := protocol.LSA{
		Origin:   string(key.Origin.Node),
		Pseudo:   key.Origin.Pseudo,
		Fragment: key.Fragment,
		Seq:      state.MaxSequence,
		Lifetime: 0,
	}
	dead.ComputeChecksum()
	Flood(ss, io, "", []protocol.LSA{dead})

	ss.DB[key] = &state.DBEntry{
		LSA:        dead,
		SelfOrigin: true,
		Exhausted:  true,
		UpdatedAt:  time.Now(),
	}
	scope := ss.Id
	ss.ScheduleScopeTask(scope, func(ss *state.ScopeState) error {
		if held, ok := ss.DB[key]; ok && held.Exhausted {
			delete(ss.DB, key)
			ss.OriginateDebounce.Trigger()
		}
		return nil
	}, state.SeqExhaustWait)
}

func sameContent(a, b *protocol.LSA) bool {
	return a.Flags == b.Flags &&
		slices.Equal(a.Links, b.Links) &&
		slices.Equal(a.Prefixes, b.Prefixes)
}

// buildDesired computes every record this node currently wants to
// originate into the scope: fragment zero carries the adjacency links,
// local prefixes and the attached flag, higher fragments carry border
// summaries, and one extra slot per segment we are DIS of carries the
// pseudonode record.
func buildDesired(ss *state.ScopeState) map[state.LSAKey]protocol.LSA {
	self := ss.LocalCfg.Id
	desired := make(map[state.LSAKey]protocol.LSA)

	links := make([]protocol.LinkDecl, 0, len(ss.Adjacencies))
	for neigh, adj := range ss.Adjacencies {
		if adj.Mode == protocol.ModePointToPoint {
			links = append(links, protocol.LinkDecl{
				Neighbor: string(neigh),
				Cost:     adj.Cost,
			})
		}
	}
	// broadcast segments appear as a single link to the pseudonode, not as
	// links to each member
	for _, seg := range ss.Segments {
		if seg.DIS == "" {
			continue
		}
		links = append(links, protocol.LinkDecl{
			Neighbor: string(seg.DIS),
			Pseudo:   seg.PseudoId,
			Cost:     seg.Cost,
		})
	}
	slices.SortFunc(links, func(a, b protocol.LinkDecl) int {
		if a.Neighbor != b.Neighbor {
			if a.Neighbor < b.Neighbor {
				return -1
			}
			return 1
		}
		return int(a.Pseudo) - int(b.Pseudo)
	})

	prefixes := make([]protocol.PrefixDecl, 0)
	if cfg := ss.TryGetNode(self); cfg != nil {
		for _, p := range cfg.Prefixes {
			prefixes = append(prefixes, protocol.PrefixDecl{Prefix: p})
		}
	}

	var flags uint8
	if !ss.Backbone && ss.IsBackboneMember(self) {
		flags |= protocol.FlagAttached
	}

	desired[state.LSAKey{Origin: state.NodeRef{Node: self}}] = protocol.LSA{
		Origin:   string(self),
		Flags:    flags,
		Links:    links,
		Prefixes: prefixes,
	}

	// border summaries, one fragment per source scope in stable order
	srcScopes := make([]state.ScopeId, 0, len(ss.Summaries))
	for src := range ss.Summaries {
		srcScopes = append(srcScopes, src)
	}
	slices.Sort(srcScopes)
	frag := uint8(1)
	for _, src := range srcScopes {
		decls := ss.Summaries[src]
		if len(decls) == 0 {
			continue
		}
		sp := make([]protocol.PrefixDecl, 0, len(decls))
		for _, d := range decls {
			sp = append(sp, protocol.PrefixDecl{Prefix: d.Prefix, Cost: d.Cost})
		}
		desired[state.LSAKey{Origin: state.NodeRef{Node: self}, Fragment: frag}] = protocol.LSA{
			Origin:   string(self),
			Fragment: frag,
			Flags:    flags,
			Prefixes: sp,
		}
		frag++
	}

	// pseudonode records for segments we are DIS of
	for _, seg := range ss.Segments {
		if seg.DIS != self {
			continue
		}
		members := []protocol.LinkDecl{{Neighbor: string(self)}}
		for neigh, adj := range ss.Adjacencies {
			if adj.Segment == seg.Id {
				members = append(members, protocol.LinkDecl{Neighbor: string(neigh)})
			}
		}
		slices.SortFunc(members, func(a, b protocol.LinkDecl) int {
			if a.Neighbor < b.Neighbor {
				return -1
			}
			if a.Neighbor > b.Neighbor {
				return 1
			}
			return 0
		})
		desired[state.LSAKey{Origin: state.NodeRef{Node: self, Pseudo: seg.PseudoId}}] = protocol.LSA{
			Origin: string(self),
			Pseudo: seg.PseudoId,
			Links:  members,
		}
	}
	return desired
}
