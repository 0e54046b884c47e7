package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/aramid/protocol"
	"github.com/encodeous/aramid/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jellydator/ttlcache/v3"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

// ScopeHarness records every send a scope algorithm performs, one event
// per record so tests can assert on individual slots.
type ScopeHarness struct {
	actions []HarnessEvent
}

func (h *ScopeHarness) SendUpdate(neigh state.NodeId, lsas []protocol.LSA) {
	for i := range lsas {
		h.actions = append(h.actions, MakeEvent("SEND_UPDATE", neigh, state.KeyOf(&lsas[i]), lsas[i].Seq, lsas[i].Lifetime))
	}
}

func (h *ScopeHarness) SendIndex(neigh state.NodeId, full bool, entries []protocol.IndexEntry) {
	for i := range entries {
		h.actions = append(h.actions, MakeEvent("SEND_INDEX", neigh, full, keyOfIndexEntry(&entries[i]), entries[i].Seq))
	}
}

func (h *ScopeHarness) SendRequest(neigh state.NodeId, keys []protocol.RequestKey) {
	for _, k := range keys {
		key := state.LSAKey{
			Origin:   state.NodeRef{Node: state.NodeId(k.Origin), Pseudo: k.Pseudo},
			Fragment: k.Fragment,
		}
		h.actions = append(h.actions, MakeEvent("SEND_REQUEST", neigh, key))
	}
}

func (h *ScopeHarness) TearDown(neigh state.NodeId) {
	h.actions = append(h.actions, MakeEvent("TEAR_DOWN", neigh))
}

func (h *ScopeHarness) Log(event ScopeEvent, desc string, args ...any) {
	x := make([]any, 0)
	x = append(x, event)
	x = append(x, desc)
	x = append(x, args...)
	h.actions = append(h.actions, MakeEvent("LOG", x...))
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

func (h *ScopeHarness) GetActions() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if action.Message != "LOG" {
			x = append(x, action)
		}
	}

	h.actions = make([]HarnessEvent, 0)
	return x
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message == msg {
			if len(event.Args) >= len(args) {
				match := true
				for i, arg := range args {
					if !cmp.Equal(event.Args[i], arg, cmpopts.EquateComparable(netip.Prefix{})) {
						match = false
						break
					}
				}
				if match {
					return true
				}
			}
		}
	}
	return false
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

// newTestScope builds a ScopeState the way startScopes does, minus the
// loops: the debounces are armed far in the future so they never fire
// during a test.
func newTestScope(t *testing.T, cfg state.CentralCfg, self state.NodeId, scope state.ScopeId) *state.ScopeState {
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
	ss := &state.ScopeState{
		Env:          env,
		Id:           scope,
		Backbone:     cfg.IsBackboneScope(scope),
		DB:           make(map[state.LSAKey]*state.DBEntry),
		Adjacencies:  make(map[state.NodeId]*state.ScopeAdjacency),
		Segments:     make(map[string]*state.SegmentState),
		Summaries:    make(map[state.ScopeId][]state.SpfPrefixDecl),
		PurgeGuard:   ttlcache.New(ttlcache.WithTTL[state.LSAKey, uint32](state.PurgeGuardTTL)),
		RequestDedup: ttlcache.New(ttlcache.WithTTL[state.LSAKey, struct{}](state.RequestDedupTTL)),
	}
	ss.OriginateDebounce = state.NewDebounce(env.Sched, time.Hour, time.Hour, func() {})
	ss.SpfDebounce = state.NewDebounce(env.Sched, time.Hour, time.Hour, func() {})
	return ss
}

func addP2P(ss *state.ScopeState, neigh state.NodeId, cost uint32) {
	ss.Adjacencies[neigh] = &state.ScopeAdjacency{
		Neighbor: neigh,
		Circuit:  state.P2PCircuitId(ss.LocalCfg.Id, neigh),
		Mode:     protocol.ModePointToPoint,
		Cost:     cost,
		Pending:  make(map[state.LSAKey]*state.PendingFlood),
	}
}

func addSegmentAdj(ss *state.ScopeState, neigh state.NodeId, segment string, cost uint32, prio uint8) {
	ss.Adjacencies[neigh] = &state.ScopeAdjacency{
		Neighbor: neigh,
		Circuit:  state.SegmentCircuitId(segment),
		Mode:     protocol.ModeBroadcast,
		Segment:  segment,
		Cost:     cost,
		Priority: prio,
		Pending:  make(map[state.LSAKey]*state.PendingFlood),
	}
}

func keyOf(node string) state.LSAKey {
	return state.LSAKey{Origin: state.NodeRef{Node: state.NodeId(node)}}
}

func link(neigh string, cost uint32) protocol.LinkDecl {
	return protocol.LinkDecl{Neighbor: neigh, Cost: cost}
}

func plink(neigh string, pseudo uint8, cost uint32) protocol.LinkDecl {
	return protocol.LinkDecl{Neighbor: neigh, Pseudo: pseudo, Cost: cost}
}

func makeLSA(origin string, pseudo, fragment uint8, seq uint32, links ...protocol.LinkDecl) protocol.LSA {
	l := protocol.LSA{
		Origin:   origin,
		Pseudo:   pseudo,
		Fragment: fragment,
		Seq:      seq,
		Lifetime: state.MaxLifetime,
		Links:    links,
	}
	l.ComputeChecksum()
	return l
}

func withdrawnCopy(l protocol.LSA) protocol.LSA {
	l.Lifetime = 0
	l.ComputeChecksum()
	return l
}

// seed installs records directly, bypassing the flooding path.
func seed(ss *state.ScopeState, lsas ...protocol.LSA) {
	for _, l := range lsas {
		ss.DB[state.KeyOf(&l)] = &state.DBEntry{
			LSA:        l,
			SelfOrigin: string(ss.LocalCfg.Id) == l.Origin,
			UpdatedAt:  time.Now(),
		}
	}
}
