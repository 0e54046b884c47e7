//go:build integration

package integration

import (
	"log/slog"
	"net/netip"
	"slices"
	"testing"
	"time"

	"github.com/encodeous/aramid/core"
	"github.com/encodeous/aramid/mock"
	"github.com/encodeous/aramid/state"
)

// Harness runs one engine instance per configured node, all wired
// through an in-memory mock network.
type Harness struct {
	Central state.CentralCfg
	Net     *mock.Network
	Ids     []state.NodeId
	States  []*state.State
	errs    chan error
}

func NewHarness(cfg state.CentralCfg) *Harness {
	return &Harness{
		Central: cfg,
		Net:     mock.NewNetwork(),
		errs:    make(chan error, 128),
	}
}

func (h *Harness) State(id state.NodeId) *state.State {
	idx := slices.Index(h.Ids, id)
	return h.States[idx]
}

// Start launches every node and blocks until all main loops run.
func (h *Harness) Start(t *testing.T) chan error {
	for _, n := range h.Central.Nodes {
		h.Ids = append(h.Ids, n.Id)
	}
	h.States = make([]*state.State, len(h.Ids))
	for idx, id := range h.Ids {
		go func() {
			_, err := core.Start(h.Central, state.LocalCfg{Id: id}, slog.LevelError, h.Net.FabricFor(id), &h.States[idx])
			if err != nil {
				h.errs <- err
			}
		}()
	}
	deadline := time.After(10 * time.Second)
	for {
		started := true
		for idx := range h.Ids {
			if h.States[idx] == nil || !h.States[idx].Started.Load() {
				started = false
				break
			}
		}
		if started {
			return h.errs
		}
		select {
		case <-deadline:
			t.Fatal("nodes did not start in time")
		case err := <-h.errs:
			t.Fatal(err)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (h *Harness) Stop() {
	for _, s := range h.States {
		if s != nil {
			core.Stop(s)
		}
	}
}

// WaitFor polls until cond holds, failing the test after the timeout.
func (h *Harness) WaitFor(t *testing.T, desc string, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		select {
		case err := <-h.errs:
			t.Fatal(err)
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// WaitForRoute waits until node resolves addr and returns the entry.
func (h *Harness) WaitForRoute(t *testing.T, node state.NodeId, addr string, timeout time.Duration) state.RibEntry {
	var entry state.RibEntry
	dst := netip.MustParseAddr(addr)
	h.WaitFor(t, "route to "+addr+" on "+string(node), timeout, func() bool {
		e, ok := h.State(node).ReadRib().Lookup(dst)
		if ok {
			entry = e
		}
		return ok
	})
	return entry
}

// WaitForNoRoute waits until node can no longer resolve addr.
func (h *Harness) WaitForNoRoute(t *testing.T, node state.NodeId, addr string, timeout time.Duration) {
	dst := netip.MustParseAddr(addr)
	h.WaitFor(t, "loss of route to "+addr+" on "+string(node), timeout, func() bool {
		_, ok := h.State(node).ReadRib().Lookup(dst)
		return !ok
	})
}

// readScope runs f on the scope loop of the given node and returns its
// result, so tests never touch scope state off its owning goroutine.
func readScope[T any](s *state.State, scope state.ScopeId, f func(ss *state.ScopeState) T) T {
	ch := make(chan T, 1)
	s.DispatchScope(scope, func(ss *state.ScopeState) error {
		ch <- f(ss)
		return nil
	})
	return <-ch
}
