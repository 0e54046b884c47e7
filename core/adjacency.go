package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"slices"
	"time"

	"github.com/encodeous/aramid/perf"
	"github.com/encodeous/aramid/protocol"
	"github.com/encodeous/aramid/state"
)

type AdjPhase int

const (
	PhaseDown AdjPhase = iota
	PhaseInit
	PhaseUp
)

func (p AdjPhase) String() string {
	switch p {
	case PhaseInit:
		return "Init"
	case PhaseUp:
		return "Up"
	default:
		return "Down"
	}
}

// Adjacency is the node loop's view of one neighbour on one circuit.
type Adjacency struct {
	Neighbor  state.NodeId
	Phase     AdjPhase
	Priority  uint8
	Scopes    []state.ScopeId // common scopes, reconciled on every hello
	HoldUntil time.Time
}

type circuitState struct {
	spec   state.CircuitSpec
	link   state.Link
	scopes []state.ScopeId // scopes this circuit can serve
	seen   map[state.NodeId]time.Time
	adj    map[state.NodeId]*Adjacency
}

// AdjacencyManager owns the Hello protocol: it advertises the local node
// on every circuit, walks neighbours through the Down/Init/Up phases and
// tears them down when their hold time lapses. Scope loops only ever see
// fully Up adjacencies.
type AdjacencyManager struct {
	// Fabric is provided by the caller before Init.
	Fabric state.Fabric

	env      *state.Env
	auth     []byte
	circuits map[state.CircuitId]*circuitState
}

func authDigest(key string) []byte {
	if key == "" {
		return nil
	}
	sum := sha256.Sum256([]byte("aramid-auth:" + key))
	return sum[:]
}

func (m *AdjacencyManager) Init(s *state.State) error {
	m.env = s.Env
	m.auth = authDigest(s.LocalCfg.AuthKey)
	m.circuits = make(map[state.CircuitId]*circuitState)

	specs, err := s.CircuitsFor(s.LocalCfg.Id)
	if err != nil {
		return err
	}
	links, err := m.Fabric.Open(s.Env, specs, m.recv)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		var scopes []state.ScopeId
		if spec.Mode == protocol.ModeBroadcast {
			scopes = []state.ScopeId{spec.Scope}
		} else {
			// a p2p circuit serves every scope both ends belong to
			for _, sc := range s.ScopesOf(s.LocalCfg.Id) {
				if slices.Contains(s.ScopesOf(spec.Peers[0]), sc) {
					scopes = append(scopes, sc)
				}
			}
		}
		m.circuits[spec.Id] = &circuitState{
			spec:   spec,
			link:   links[spec.Id],
			scopes: scopes,
			seen:   make(map[state.NodeId]time.Time),
			adj:    make(map[state.NodeId]*Adjacency),
		}
	}

	s.RepeatTask(m.helloTick, state.HelloInterval)
	s.RepeatTask(m.holdSweep, state.HelloInterval)
	m.helloTick(s)
	return nil
}

func (m *AdjacencyManager) Cleanup(s *state.State) error {
	if m.Fabric != nil {
		return m.Fabric.Close()
	}
	return nil
}

// recv runs on transport goroutines: hellos go to the node loop, scoped
// traffic goes straight to the owning scope loop.
func (m *AdjacencyManager) recv(from state.NodeId, pkt protocol.Packet) {
	switch p := pkt.(type) {
	case *protocol.Hello:
		m.env.Dispatch(func(s *state.State) error {
			return m.handleHello(s, from, p)
		})
	case *protocol.Update:
		m.env.DispatchScope(state.ScopeId(p.Scope), func(ss *state.ScopeState) error {
			return HandleUpdate(ss, &scopeIO{ss}, from, p)
		})
	case *protocol.Index:
		m.env.DispatchScope(state.ScopeId(p.Scope), func(ss *state.ScopeState) error {
			return HandleIndex(ss, &scopeIO{ss}, from, p)
		})
	case *protocol.Request:
		m.env.DispatchScope(state.ScopeId(p.Scope), func(ss *state.ScopeState) error {
			return HandleRequest(ss, &scopeIO{ss}, from, p)
		})
	}
}

func (m *AdjacencyManager) handleHello(s *state.State, from state.NodeId, h *protocol.Hello) error {
	perf.HellosReceived.Add(1)
	cs, ok := m.circuits[state.CircuitId(h.Circuit)]
	if !ok {
		perf.DropUnknownCircuit.Add(1)
		return nil
	}
	if !slices.Contains(cs.spec.Peers, from) || state.NodeId(h.Sender) != from {
		s.Log.Warn("hello from unexpected node", "circuit", h.Circuit, "from", from, "sender", h.Sender)
		perf.DropUnknownSender.Add(1)
		return nil
	}
	if subtle.ConstantTimeEq(int32(len(h.Auth)), int32(len(m.auth))) == 0 ||
		subtle.ConstantTimeCompare(h.Auth, m.auth) == 0 {
		perf.DropAuth.Add(1)
		if state.DBG_log_adjacency {
			s.Log.Warn("hello failed authentication", "circuit", h.Circuit, "from", from)
		}
		return nil
	}
	if h.Mode != cs.spec.Mode {
		s.Log.Warn("hello mode mismatch", "circuit", h.Circuit, "from", from, "mode", h.Mode)
		return nil
	}

	now := time.Now()
	cs.seen[from] = now

	adj, ok := cs.adj[from]
	if !ok {
		adj = &Adjacency{Neighbor: from}
		cs.adj[from] = adj
	}
	hold := time.Duration(h.HoldMillis) * time.Millisecond
	adj.HoldUntil = now.Add(hold)

	common := commonScopes(cs, h)
	if len(common) == 0 {
		// adjacency can never form; diagnose instead of silently staying Down
		if adj.Phase != PhaseDown || state.DBG_log_adjacency {
			s.Log.Warn("no common scope with neighbour, adjacency stays down",
				"circuit", h.Circuit, "from", from, "theirs", h.Scopes)
		}
		m.transition(s, cs, adj, PhaseDown)
		return nil
	}

	twoWay := false
	if cs.spec.Mode == protocol.ModePointToPoint {
		twoWay = h.EchoCircuit == string(cs.spec.Id)
	} else {
		twoWay = slices.Contains(h.Seen, string(s.LocalCfg.Id))
	}

	if adj.Phase == PhaseUp && adj.Priority != h.Priority {
		adj.Priority = h.Priority
		m.updatePriority(cs, adj)
	}
	adj.Priority = h.Priority

	if twoWay && adj.Phase == PhaseUp {
		// the neighbour can change its scope membership without bouncing
		// the whole adjacency; only the affected scopes go down or up
		for _, sc := range adj.Scopes {
			if !slices.Contains(common, sc) {
				if state.DBG_log_adjacency {
					s.Log.Debug("scope left adjacency", "circuit", cs.spec.Id, "neigh", adj.Neighbor, "scope", sc)
				}
				m.scopeDown(cs, adj, sc)
			}
		}
		for _, sc := range common {
			if !slices.Contains(adj.Scopes, sc) {
				if state.DBG_log_adjacency {
					s.Log.Debug("scope joined adjacency", "circuit", cs.spec.Id, "neigh", adj.Neighbor, "scope", sc)
				}
				m.scopeUp(cs, adj, sc)
			}
		}
		adj.Scopes = common
		return nil
	}

	adj.Scopes = common
	if twoWay {
		m.transition(s, cs, adj, PhaseUp)
	} else if adj.Phase != PhaseUp {
		m.transition(s, cs, adj, PhaseInit)
	}
	return nil
}

func commonScopes(cs *circuitState, h *protocol.Hello) []state.ScopeId {
	common := make([]state.ScopeId, 0, len(cs.scopes))
	for _, sc := range cs.scopes {
		if slices.Contains(h.Scopes, string(sc)) {
			common = append(common, sc)
		}
	}
	return common
}

func (m *AdjacencyManager) transition(s *state.State, cs *circuitState, adj *Adjacency, phase AdjPhase) {
	if adj.Phase == phase {
		return
	}
	old := adj.Phase
	adj.Phase = phase
	if state.DBG_log_adjacency {
		s.Log.Debug("adjacency phase change", "circuit", cs.spec.Id, "neigh", adj.Neighbor, "from", old.String(), "to", phase.String())
	}
	switch {
	case phase == PhaseUp:
		s.Log.Info("adjacency up", "circuit", cs.spec.Id, "neigh", adj.Neighbor, "scopes", adj.Scopes)
		for _, sc := range adj.Scopes {
			m.scopeUp(cs, adj, sc)
		}
	case old == PhaseUp:
		s.Log.Info("adjacency down", "circuit", cs.spec.Id, "neigh", adj.Neighbor)
		for _, sc := range adj.Scopes {
			m.scopeDown(cs, adj, sc)
		}
	}
}

func (m *AdjacencyManager) scopeUp(cs *circuitState, adj *Adjacency, scope state.ScopeId) {
	spec := cs.spec
	link := cs.link
	neigh := adj.Neighbor
	prio := adj.Priority
	m.env.DispatchScope(scope, func(ss *state.ScopeState) error {
		ss.Adjacencies[neigh] = &state.ScopeAdjacency{
			Neighbor: neigh,
			Circuit:  spec.Id,
			Mode:     spec.Mode,
			Segment:  spec.Segment,
			Cost:     spec.Cost,
			Priority: prio,
			Link:     link,
			Pending:  make(map[state.LSAKey]*state.PendingFlood),
		}
		io := &scopeIO{ss}
		if spec.Mode == protocol.ModePointToPoint {
			// initial database exchange
			io.SendIndex(neigh, true, fullIndex(ss))
		} else {
			RunElections(ss, io)
		}
		ss.OriginateDebounce.Trigger()
		return nil
	})
}

func (m *AdjacencyManager) scopeDown(cs *circuitState, adj *Adjacency, scope state.ScopeId) {
	neigh := adj.Neighbor
	broadcast := cs.spec.Mode == protocol.ModeBroadcast
	m.env.DispatchScope(scope, func(ss *state.ScopeState) error {
		if _, ok := ss.Adjacencies[neigh]; !ok {
			return nil
		}
		delete(ss.Adjacencies, neigh)
		if broadcast {
			RunElections(ss, &scopeIO{ss})
		}
		ss.OriginateDebounce.Trigger()
		ss.SpfDebounce.Trigger()
		return nil
	})
}

// DropNeighbor forces a neighbour back to Down after the flooding layer
// declared it faulty. Hellos re-form the adjacency from scratch if the
// neighbour recovers.
func (m *AdjacencyManager) DropNeighbor(s *state.State, neigh state.NodeId) error {
	for _, cs := range m.circuits {
		if adj, ok := cs.adj[neigh]; ok && adj.Phase != PhaseDown {
			s.Log.Warn("dropping faulty adjacency", "circuit", cs.spec.Id, "neigh", neigh)
			m.transition(s, cs, adj, PhaseDown)
			delete(cs.seen, neigh)
		}
	}
	return nil
}

func (m *AdjacencyManager) updatePriority(cs *circuitState, adj *Adjacency) {
	if cs.spec.Mode != protocol.ModeBroadcast {
		return
	}
	neigh := adj.Neighbor
	prio := adj.Priority
	m.env.DispatchScope(cs.spec.Scope, func(ss *state.ScopeState) error {
		if sa, ok := ss.Adjacencies[neigh]; ok {
			sa.Priority = prio
			return RunElections(ss, &scopeIO{ss})
		}
		return nil
	})
}

func (m *AdjacencyManager) helloTick(s *state.State) error {
	now := time.Now()
	hold := state.HelloInterval * time.Duration(state.HoldMultiplier)
	prio := s.GetNode(s.LocalCfg.Id).GetPriority()
	for _, cs := range m.circuits {
		seen := make([]string, 0, len(cs.seen))
		for id, at := range cs.seen {
			if now.Sub(at) <= hold {
				seen = append(seen, string(id))
			} else {
				delete(cs.seen, id)
			}
		}
		slices.Sort(seen)
		scopes := make([]string, 0, len(cs.scopes))
		for _, sc := range cs.scopes {
			scopes = append(scopes, string(sc))
		}
		h := &protocol.Hello{
			Sender:     string(s.LocalCfg.Id),
			Circuit:    string(cs.spec.Id),
			Mode:       cs.spec.Mode,
			HoldMillis: uint32(hold.Milliseconds()),
			Priority:   prio,
			Scopes:     scopes,
			Seen:       seen,
			Auth:       m.auth,
		}
		if cs.spec.Mode == protocol.ModePointToPoint && len(seen) > 0 {
			h.EchoCircuit = string(cs.spec.Id)
		}
		data, err := protocol.Encode(h)
		if err != nil {
			return err
		}
		if err := cs.link.Send(data); err != nil {
			s.Log.Debug("hello send failed", "circuit", cs.spec.Id, "err", err)
		}
		perf.HellosSent.Add(1)
	}
	return nil
}

func (m *AdjacencyManager) holdSweep(s *state.State) error {
	now := time.Now()
	for _, cs := range m.circuits {
		for _, adj := range cs.adj {
			if adj.Phase != PhaseDown && now.After(adj.HoldUntil) {
				if state.DBG_log_adjacency {
					s.Log.Debug("hold time expired", "circuit", cs.spec.Id, "neigh", adj.Neighbor)
				}
				m.transition(s, cs, adj, PhaseDown)
			}
		}
	}
	return nil
}

// scopeIO is the production ScopeIO: it encodes and sends over the
// adjacency links held by the scope.
type scopeIO struct {
	ss *state.ScopeState
}

func (io *scopeIO) send(neigh state.NodeId, pkt protocol.Packet) {
	adj, ok := io.ss.Adjacencies[neigh]
	if !ok {
		return
	}
	data, err := protocol.Encode(pkt)
	if err != nil {
		io.ss.Log.Error("failed to encode packet", "kind", pkt.Kind(), "err", err)
		return
	}
	if err := adj.Link.Send(data); err != nil {
		io.ss.Log.Debug("send failed", "neigh", neigh, "err", err)
	}
}

// packetLen measures a candidate frame. Encode failures report the hard
// cap so the caller keeps splitting while it still can.
func packetLen(pkt protocol.Packet) int {
	data, err := protocol.Encode(pkt)
	if err != nil {
		return protocol.MaxPacketSize
	}
	return len(data)
}

// splitBatch bisects items until every frame encodes within SafeMTU. A
// lone item over the budget is sent as is; the codec still caps it at
// MaxPacketSize.
func splitBatch[T any](items []T, encodedLen func([]T) int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 || encodedLen(items) <= state.SafeMTU {
		return [][]T{items}
	}
	mid := len(items) / 2
	return append(splitBatch(items[:mid], encodedLen), splitBatch(items[mid:], encodedLen)...)
}

func (io *scopeIO) SendUpdate(neigh state.NodeId, lsas []protocol.LSA) {
	scope := string(io.ss.Id)
	for _, batch := range splitBatch(lsas, func(x []protocol.LSA) int {
		return packetLen(&protocol.Update{Scope: scope, LSAs: x})
	}) {
		io.send(neigh, &protocol.Update{Scope: scope, LSAs: batch})
	}
}

func (io *scopeIO) SendIndex(neigh state.NodeId, full bool, entries []protocol.IndexEntry) {
	scope := string(io.ss.Id)
	if full {
		// a full index is a completeness claim over the whole database, so
		// it must travel as a single frame
		io.send(neigh, &protocol.Index{Scope: scope, Full: true, Entries: entries})
		return
	}
	for _, batch := range splitBatch(entries, func(x []protocol.IndexEntry) int {
		return packetLen(&protocol.Index{Scope: scope, Entries: x})
	}) {
		io.send(neigh, &protocol.Index{Scope: scope, Entries: batch})
	}
}

func (io *scopeIO) SendRequest(neigh state.NodeId, keys []protocol.RequestKey) {
	scope := string(io.ss.Id)
	for _, batch := range splitBatch(keys, func(x []protocol.RequestKey) int {
		return packetLen(&protocol.Request{Scope: scope, Keys: x})
	}) {
		io.send(neigh, &protocol.Request{Scope: scope, Keys: batch})
	}
}

func (io *scopeIO) TearDown(neigh state.NodeId) {
	io.ss.Dispatch(func(s *state.State) error {
		return Get[*AdjacencyManager](s).DropNeighbor(s, neigh)
	})
}

func (io *scopeIO) Log(event ScopeEvent, desc string, args ...any) {
	x := append([]any{"scope", io.ss.Id}, args...)
	if event >= 1000 {
		io.ss.Log.Warn(event.String()+" "+desc, x...)
	} else {
		io.ss.Log.Debug(event.String()+" "+desc, x...)
	}
}
