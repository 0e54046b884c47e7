package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/encodeous/aramid/perf"
	"github.com/encodeous/aramid/state"
	"github.com/encodeous/tint"
	"github.com/goccy/go-yaml"
	"github.com/jellydator/ttlcache/v3"
	slogmulti "github.com/samber/slog-multi"
)

func ReadCentralConfig(centralPath string) (*state.CentralCfg, error) {
	var cfg state.CentralCfg
	file, err := os.ReadFile(centralPath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ReadLocalConfig(nodePath string) (*state.LocalCfg, error) {
	var cfg state.LocalCfg
	file, err := os.ReadFile(nodePath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Bootstrap manages the lifetime of the whole process. The engine may be
// restarted multiple times, but Bootstrap is only called once.
func Bootstrap(centralPath, nodePath, logPath string, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	for {
		centralCfg, err := ReadCentralConfig(centralPath)
		if err != nil {
			panic(err)
		}
		localCfg, err := ReadLocalConfig(nodePath)
		if err != nil {
			panic(err)
		}
		if logPath != "" {
			localCfg.LogPath = logPath
		}
		if err := state.CentralConfigValidator(centralCfg); err != nil {
			panic(err)
		}
		if err := state.LocalConfigValidator(localCfg); err != nil {
			panic(err)
		}
		restart, err := Start(*centralCfg, *localCfg, level, NewUdpFabric(), nil)
		if err != nil {
			panic(err)
		}
		if !restart {
			break
		}
	}
}

// Start runs one engine instance to completion. initState, when non-nil,
// receives the State before the loops begin so tests can reach in.
func Start(ccfg state.CentralCfg, ncfg state.LocalCfg, logLevel slog.Level, fabric state.Fabric, initState **state.State) (bool, error) {
	ctx, cancel := context.WithCancelCause(context.Background())

	dispatch := make(chan func(env *state.State) error, 128)

	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: string(ncfg.Id),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if ncfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(ncfg.LogPath), 0700)
		if err != nil {
			cancel(nil)
			return false, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0700)
		if err != nil {
			cancel(nil)
			return false, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))

	env := &state.Env{
		Context:         ctx,
		Cancel:          cancel,
		DispatchChannel: dispatch,
		CentralCfg:      ccfg,
		LocalCfg:        ncfg,
		Log:             logger,
		Sched:           state.NewScheduler(ctx),
		ScopeDispatch:   make(map[state.ScopeId]chan<- func(*state.ScopeState) error),
	}
	s := state.State{
		Modules: make(map[string]state.Module),
		Scopes:  make(map[state.ScopeId]*state.ScopeState),
		Env:     env,
	}
	if initState != nil {
		*initState = &s
	}

	scopeChans := startScopes(&s)

	s.Log.Info("init modules")
	err := initModules(&s, fabric)
	if err != nil {
		cancel(err)
		return false, err
	}
	s.Log.Info("init modules complete")

	// seed the first origination of every scope so fragment zero exists
	// before any neighbour comes up
	for _, ss := range s.Scopes {
		ss.OriginateDebounce.Trigger()
		ss.SpfDebounce.Trigger()
	}

	s.Log.Info("aramid has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			s.Cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()

	err = MainLoop(&s, dispatch)
	for _, ch := range scopeChans {
		close(ch)
	}
	if err != nil {
		return false, err
	}
	if s.Restarting.Load() {
		s.Log.Info("restarting...")
		return true, nil
	}
	return false, nil
}

// startScopes builds one ScopeState and one loop goroutine per scope the
// local node participates in.
func startScopes(s *state.State) []chan func(*state.ScopeState) error {
	env := s.Env
	chans := make([]chan func(*state.ScopeState) error, 0)
	for _, scope := range s.ScopesOf(s.LocalCfg.Id) {
		ss := &state.ScopeState{
			Env:          env,
			Id:           scope,
			Backbone:     s.IsBackboneScope(scope),
			DB:           make(map[state.LSAKey]*state.DBEntry),
			Adjacencies:  make(map[state.NodeId]*state.ScopeAdjacency),
			Segments:     make(map[string]*state.SegmentState),
			Summaries:    make(map[state.ScopeId][]state.SpfPrefixDecl),
			PurgeGuard:   ttlcache.New(ttlcache.WithTTL[state.LSAKey, uint32](state.PurgeGuardTTL)),
			RequestDedup: ttlcache.New(ttlcache.WithTTL[state.LSAKey, struct{}](state.RequestDedupTTL), ttlcache.WithDisableTouchOnHit[state.LSAKey, struct{}]()),
		}
		for _, seg := range s.Segments {
			if seg.Scope != scope || !slices.Contains(seg.Members, s.LocalCfg.Id) {
				continue
			}
			ss.Segments[seg.Id] = &state.SegmentState{
				Id:       seg.Id,
				Cost:     seg.GetCost(),
				Circuit:  state.SegmentCircuitId(seg.Id),
				PseudoId: SegmentPseudoId(&s.CentralCfg, scope, seg.Id),
			}
		}
		id := scope
		ss.OriginateDebounce = state.NewDebounce(env.Sched, state.DebounceInitial, state.DebounceMax, func() {
			env.DispatchScope(id, func(ss *state.ScopeState) error {
				return OriginationPass(ss, &scopeIO{ss})
			})
		})
		ss.SpfDebounce = state.NewDebounce(env.Sched, state.SpfDebounceInitial, state.SpfDebounceMax, func() {
			env.DispatchScope(id, func(ss *state.ScopeState) error {
				return RunSpf(ss, &scopeIO{ss})
			})
		})

		ch := make(chan func(*state.ScopeState) error, 128)
		env.ScopeDispatch[scope] = ch
		s.Scopes[scope] = ss
		chans = append(chans, ch)
		go scopeLoop(ss, ch)

		env.RepeatScopeTask(scope, func(ss *state.ScopeState) error {
			ss.PurgeGuard.DeleteExpired()
			ss.RequestDedup.DeleteExpired()
			return AgeScope(ss, &scopeIO{ss})
		}, state.AgeTickInterval)
		env.RepeatScopeTask(scope, func(ss *state.ScopeState) error {
			return RetransmitSweep(ss, &scopeIO{ss})
		}, state.RetransmitInterval)
		env.RepeatScopeTask(scope, func(ss *state.ScopeState) error {
			return SyncTick(ss, &scopeIO{ss})
		}, state.IndexInterval)
	}
	return chans
}

func scopeLoop(ss *state.ScopeState, dispatch <-chan func(*state.ScopeState) error) {
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				return
			}
			if err := fun(ss); err != nil {
				ss.Log.Error("error occurred during scope dispatch: ", "scope", ss.Id, "error", err)
				ss.Cancel(err)
			}
		case <-ss.Context.Done():
			ss.OriginateDebounce.Stop()
			ss.SpfDebounce.Stop()
			return
		}
	}
}

func initModules(s *state.State, fabric state.Fabric) error {
	var modules []state.Module
	modules = append(modules, &RibInstaller{})
	modules = append(modules, &AdjacencyManager{Fabric: fabric})

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return nil
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	if s.DispatchChannel != nil {
		close(s.DispatchChannel)
		s.DispatchChannel = nil
	}
	s.Log.Info("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}
