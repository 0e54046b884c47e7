package state

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/encodeous/aramid/protocol"
)

type NodeId string
type ScopeId string
type CircuitId string

// NodeRef identifies a vertex in the topology graph: a real router
// (Pseudo == 0) or a pseudonode originated by the DIS of a broadcast
// segment (Pseudo != 0). NodeId is opaque; the algorithms rely only on
// equality and lexicographic order.
type NodeRef struct {
	Node   NodeId
	Pseudo uint8
}

func (r NodeRef) IsPseudo() bool {
	return r.Pseudo != 0
}

func (r NodeRef) String() string {
	if r.Pseudo == 0 {
		return string(r.Node)
	}
	return fmt.Sprintf("%s.%d", r.Node, r.Pseudo)
}

// LSAKey identifies one record slot within a scope. Successive versions of
// the same slot are ordered by sequence number.
type LSAKey struct {
	Origin   NodeRef
	Fragment uint8
}

func (k LSAKey) String() string {
	return fmt.Sprintf("%s/%d", k.Origin, k.Fragment)
}

func KeyOf(l *protocol.LSA) LSAKey {
	return LSAKey{
		Origin:   NodeRef{Node: NodeId(l.Origin), Pseudo: l.Pseudo},
		Fragment: l.Fragment,
	}
}

// DBEntry is one stored record plus its bookkeeping.
type DBEntry struct {
	LSA        protocol.LSA
	SelfOrigin bool
	// Exhausted marks a self-originated slot waiting out sequence
	// exhaustion before numbering restarts.
	Exhausted bool
	UpdatedAt time.Time
}

func (e *DBEntry) Key() LSAKey {
	return KeyOf(&e.LSA)
}

// PendingFlood tracks one unacknowledged record flooded over a
// point-to-point adjacency.
type PendingFlood struct {
	Seq      uint32
	Retries  int
	Deadline time.Time
}

// Link is the transport collaborator for one circuit. Send must be safe to
// call from multiple goroutines.
type Link interface {
	Circuit() CircuitId
	Mode() protocol.Mode
	Send(data []byte) error
	Close() error
}

// CircuitSpec describes one circuit the local node participates in.
type CircuitSpec struct {
	Id      CircuitId
	Mode    protocol.Mode
	Scope   ScopeId  // broadcast segments are provisioned in one scope; empty for p2p
	Segment string   // segment name for broadcast circuits
	Cost    uint32
	Peers   []NodeId // remote members
}

// Fabric opens the circuits of the local node. recv is invoked from
// transport goroutines with each decoded packet and the node it came
// from; the fabric drops traffic from unknown senders.
type Fabric interface {
	Open(e *Env, specs []CircuitSpec, recv func(from NodeId, pkt protocol.Packet)) (map[CircuitId]Link, error)
	Close() error
}

// ScopeAdjacency is a scope loop's view of one Up adjacency participating
// in its scope. It is owned by the scope loop; the Link is the only field
// shared with the adjacency runner.
type ScopeAdjacency struct {
	Neighbor NodeId
	Circuit  CircuitId
	Mode     protocol.Mode
	Segment  string // set for broadcast circuits
	Cost     uint32
	Priority uint8 // advertised in the neighbour's Hellos
	Link     Link
	// Pending holds unacknowledged floods (p2p only).
	Pending map[LSAKey]*PendingFlood
}

// SpfNode is the computed result for one reachable vertex.
type SpfNode struct {
	Cost     uint32
	NextHops []NodeId
}

// SpfPrefix is the computed result for one reachable prefix. Intra marks
// prefixes declared directly by a node in this scope as opposed to
// summaries injected by a border node; only intra prefixes are eligible
// for summarization onwards.
type SpfPrefix struct {
	Cost     uint32
	NextHops []NodeId
	Intra    bool
}

// SpfResult is the output of one shortest-path run over a scope's LSDB.
// Unreachable destinations simply have no entry.
type SpfResult struct {
	Scope    ScopeId
	Backbone bool
	Nodes    map[NodeRef]*SpfNode
	Prefixes map[netip.Prefix]*SpfPrefix
	// Attached lists border nodes that signaled backbone reachability,
	// with the local cost to reach them.
	Attached map[NodeId]*SpfNode
	Computed time.Time
}

// RibEntry is one installed forwarding entry. NextHops are opaque node
// identifiers consumed by the forwarding plane.
type RibEntry struct {
	Prefix   netip.Prefix
	Cost     uint32
	NextHops []NodeId
	Scope    ScopeId
	Default  bool
}
