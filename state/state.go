package state

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Module is one engine component with a lifecycle bound to the node.
type Module interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State is the node-level mutable state: adjacency registry, latest SPF
// results and the RIB build inputs. Access must be done only on the main
// loop goroutine.
type State struct {
	*Env
	Modules map[string]Module
	// Scopes is populated once during startup; afterwards each ScopeState
	// is owned exclusively by its scope loop and must be reached via
	// DispatchScope.
	Scopes map[ScopeId]*ScopeState
}

// ScopeState is the per-scope mutable state: the LSDB, the scope's view of
// Up adjacencies and flooding bookkeeping. Owned by one scope loop; no
// internal locking.
type ScopeState struct {
	*Env
	Id       ScopeId
	Backbone bool

	DB          map[LSAKey]*DBEntry
	Adjacencies map[NodeId]*ScopeAdjacency

	// Segments tracks broadcast segments provisioned in this scope:
	// segment id -> current DIS (empty until elected).
	Segments map[string]*SegmentState

	// Summaries holds per-peer-scope prefix summaries this border node
	// currently originates into this scope, keyed by source scope.
	Summaries map[ScopeId][]SpfPrefixDecl

	OriginateDebounce *Debounce
	SpfDebounce       *Debounce

	// PurgeGuard holds tombstones of freshly purged records so stale
	// in-flight copies cannot resurrect them.
	PurgeGuard *ttlcache.Cache[LSAKey, uint32]
	// RequestDedup suppresses repeated re-flood requests for the same slot.
	RequestDedup *ttlcache.Cache[LSAKey, struct{}]

	LastSpf *SpfResult
}

// SegmentState is the scope loop's view of one broadcast segment.
type SegmentState struct {
	Id      string
	Cost    uint32
	Circuit CircuitId
	DIS     NodeId // empty while no election has completed
	// PseudoId is the pseudonode tag used when the local node is DIS.
	PseudoId uint8
}

// SpfPrefixDecl is a prefix summary pending origination.
type SpfPrefixDecl struct {
	Prefix netip.Prefix
	Cost   uint32
}

// Env can be read from any goroutine.
type Env struct {
	DispatchChannel chan<- func(s *State) error
	CentralCfg
	LocalCfg
	Context context.Context
	Cancel  context.CancelCauseFunc
	Log     *slog.Logger
	Sched   *Scheduler

	// ScopeDispatch is populated once during startup, read-only afterwards.
	ScopeDispatch map[ScopeId]chan<- func(ss *ScopeState) error

	// RIB is the only cross-component shared resource: written by the
	// installer via atomic swap, read-only to consumers.
	RIB atomic.Pointer[Rib]

	Started  atomic.Bool
	Stopping atomic.Bool
	// Restarting asks Bootstrap to start a fresh instance after shutdown.
	Restarting atomic.Bool
}

// Dispatch runs fun on the main loop without waiting for it to complete.
func (e *Env) Dispatch(fun func(*State) error) {
	defer func() {
		if r := recover(); r != nil {
			e.Cancel(fmt.Errorf("panic: %v", r))
		}
	}()
	select {
	case e.DispatchChannel <- fun:
	case <-e.Context.Done():
	}
}

// DispatchWait runs fun on the main loop and waits for its result.
func (e *Env) DispatchWait(fun func(*State) (any, error)) (any, error) {
	ret := make(chan Pair[any, error], 1)
	e.Dispatch(func(s *State) error {
		res, err := fun(s)
		ret <- Pair[any, error]{res, err}
		return err
	})
	select {
	case res := <-ret:
		return res.V1, res.V2
	case <-e.Context.Done():
		return nil, e.Context.Err()
	}
}

// DispatchScope runs fun on the loop owning the given scope.
func (e *Env) DispatchScope(scope ScopeId, fun func(ss *ScopeState) error) {
	ch, ok := e.ScopeDispatch[scope]
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.Cancel(fmt.Errorf("panic: %v", r))
		}
	}()
	select {
	case ch <- fun:
	case <-e.Context.Done():
	}
}

// ScheduleTask runs fun on the main loop after the given delay.
func (e *Env) ScheduleTask(fun func(*State) error, delay time.Duration) *Timer {
	return e.Sched.Schedule(delay, func() {
		e.Dispatch(fun)
	})
}

// ScheduleScopeTask runs fun on the scope loop after the given delay.
func (e *Env) ScheduleScopeTask(scope ScopeId, fun func(*ScopeState) error, delay time.Duration) *Timer {
	return e.Sched.Schedule(delay, func() {
		e.DispatchScope(scope, fun)
	})
}

// RepeatTask dispatches fun to the main loop every delay until shutdown.
func (e *Env) RepeatTask(fun func(*State) error, delay time.Duration) {
	var t *Timer
	t = e.Sched.Schedule(delay, func() {
		e.Dispatch(fun)
		if e.Context.Err() == nil {
			t.Reset(delay)
		}
	})
}

// RepeatScopeTask dispatches fun to the scope loop every delay until
// shutdown.
func (e *Env) RepeatScopeTask(scope ScopeId, fun func(*ScopeState) error, delay time.Duration) {
	var t *Timer
	t = e.Sched.Schedule(delay, func() {
		e.DispatchScope(scope, fun)
		if e.Context.Err() == nil {
			t.Reset(delay)
		}
	})
}
