// Package mock provides an in-memory circuit fabric and canned
// topologies for tests: multiple engine instances exchange packets
// through a Network without touching real sockets.
package mock

import (
	"sync"

	"github.com/encodeous/aramid/protocol"
	"github.com/encodeous/aramid/state"
)

// Network connects the mock fabrics of several nodes. Links can be cut
// and restored at runtime to simulate failures and partitions.
type Network struct {
	mu      sync.Mutex
	fabrics map[state.NodeId]*Fabric
	cut     map[state.Pair[state.NodeId, state.NodeId]]bool
}

func NewNetwork() *Network {
	return &Network{
		fabrics: make(map[state.NodeId]*Fabric),
		cut:     make(map[state.Pair[state.NodeId, state.NodeId]]bool),
	}
}

// FabricFor returns the fabric a node should be started with.
func (n *Network) FabricFor(node state.NodeId) *Fabric {
	n.mu.Lock()
	defer n.mu.Unlock()
	f, ok := n.fabrics[node]
	if !ok {
		f = &Fabric{net: n, node: node}
		n.fabrics[node] = f
	}
	return f
}

// SetCut blocks or restores delivery between two nodes, both directions.
func (n *Network) SetCut(a, b state.NodeId, blocked bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[state.MakeSortedPair(a, b)] = blocked
}

func (n *Network) deliver(from, to state.NodeId, data []byte) {
	n.mu.Lock()
	blocked := n.cut[state.MakeSortedPair(from, to)]
	f := n.fabrics[to]
	var recv func(state.NodeId, protocol.Packet)
	if f != nil {
		recv = f.recv
	}
	n.mu.Unlock()
	if blocked || recv == nil {
		return
	}
	pkt, err := protocol.Decode(data)
	if err != nil {
		return
	}
	// deliver off the sender's goroutine, like a real transport would
	go recv(from, pkt)
}

type Fabric struct {
	net  *Network
	node state.NodeId
	recv func(state.NodeId, protocol.Packet)
}

func (f *Fabric) Open(e *state.Env, specs []state.CircuitSpec, recv func(state.NodeId, protocol.Packet)) (map[state.CircuitId]state.Link, error) {
	f.net.mu.Lock()
	f.recv = recv
	f.net.mu.Unlock()
	links := make(map[state.CircuitId]state.Link, len(specs))
	for _, spec := range specs {
		links[spec.Id] = &mockLink{
			net:   f.net,
			self:  f.node,
			id:    spec.Id,
			mode:  spec.Mode,
			peers: spec.Peers,
		}
	}
	return links, nil
}

func (f *Fabric) Close() error {
	f.net.mu.Lock()
	f.recv = nil
	f.net.mu.Unlock()
	return nil
}

type mockLink struct {
	net   *Network
	self  state.NodeId
	id    state.CircuitId
	mode  protocol.Mode
	peers []state.NodeId
}

func (l *mockLink) Circuit() state.CircuitId { return l.id }
func (l *mockLink) Mode() protocol.Mode      { return l.mode }

func (l *mockLink) Send(data []byte) error {
	for _, peer := range l.peers {
		l.net.deliver(l.self, peer, data)
	}
	return nil
}

func (l *mockLink) Close() error { return nil }
