package core

import (
	"slices"

	"github.com/encodeous/aramid/state"
)

// SegmentPseudoId derives the pseudonode tag of a broadcast segment. The
// tag must be agreed on by every member before any election has run, so
// it is computed from the shared configuration: segments of a scope are
// numbered in name order starting at one.
func SegmentPseudoId(cfg *state.CentralCfg, scope state.ScopeId, segment string) uint8 {
	ids := make([]string, 0)
	for _, seg := range cfg.Segments {
		if seg.Scope == scope {
			ids = append(ids, seg.Id)
		}
	}
	slices.Sort(ids)
	idx := slices.Index(ids, segment)
	if idx < 0 {
		return 0
	}
	return uint8(idx + 1)
}

// RunElections recomputes the designated node of every broadcast segment
// in the scope. The election is preemptive: a better candidate coming Up
// takes over immediately. Highest priority wins; ties go to the higher
// node id so every member converges on the same winner.
func RunElections(ss *state.ScopeState, io ScopeIO) error {
	self := ss.LocalCfg.Id
	changed := false
	for _, seg := range ss.Segments {
		bestId := self
		bestPrio := ss.GetNode(self).GetPriority()
		for neigh, adj := range ss.Adjacencies {
			if adj.Segment != seg.Id {
				continue
			}
			if adj.Priority > bestPrio || (adj.Priority == bestPrio && neigh > bestId) {
				bestId = neigh
				bestPrio = adj.Priority
			}
		}
		if bestId == seg.DIS {
			continue
		}
		if seg.DIS == self && state.DBG_log_election {
			io.Log(DisResigned, "no longer designated", "segment", seg.Id, "successor", bestId)
		}
		if state.DBG_log_election {
			io.Log(DisElected, "designated node elected", "segment", seg.Id, "dis", bestId, "priority", bestPrio)
		}
		seg.DIS = bestId
		changed = true
	}
	if changed {
		// link and pseudonode records follow the new designation
		ss.OriginateDebounce.Trigger()
	}
	return nil
}
