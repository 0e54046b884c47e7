// Package protocol defines the aramid wire contract: the four control
// packet kinds exchanged between adjacent nodes, and their binary codec.
// The layout is deliberately field-oriented rather than byte-compatible
// with any one RFC; both ends of a circuit must run aramid.
package protocol

import "net/netip"

const (
	// Version is bumped on any incompatible layout change.
	Version = 1

	// MaxPacketSize bounds a single encoded control packet.
	MaxPacketSize = 64 * 1024
)

type Kind uint8

const (
	KindHello Kind = iota + 1
	KindUpdate
	KindIndex
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "Hello"
	case KindUpdate:
		return "Update"
	case KindIndex:
		return "Index"
	case KindRequest:
		return "Request"
	default:
		return "Unknown"
	}
}

type Mode uint8

const (
	ModeBroadcast Mode = iota
	ModePointToPoint
)

func (m Mode) String() string {
	if m == ModePointToPoint {
		return "p2p"
	}
	return "broadcast"
}

// Packet is the tagged union of the four control packet kinds. Decode
// returns one of *Hello, *Update, *Index, *Request.
type Packet interface {
	Kind() Kind
}

// Hello announces a node on a circuit and keeps its adjacencies alive.
type Hello struct {
	Sender      string
	Circuit     string // sender's name for the circuit the Hello was sent on
	Mode        Mode
	HoldMillis  uint32
	Priority    uint8
	Scopes      []string
	Seen        []string // node ids heard on this circuit since the last hold interval
	EchoCircuit string   // p2p three-way handshake: remote circuit id being acknowledged
	Auth        []byte   // opaque authentication digest, compared verbatim
}

func (*Hello) Kind() Kind { return KindHello }

// LinkDecl declares a directed edge from the LSA's origin.
type LinkDecl struct {
	Neighbor string
	Pseudo   uint8 // non-zero when the neighbor is a pseudonode
	Cost     uint32
}

// PrefixDecl declares a reachable prefix at the given cost from the origin.
type PrefixDecl struct {
	Prefix netip.Prefix
	Cost   uint32
}

const (
	// FlagAttached marks the origin as having backbone reachability.
	FlagAttached uint8 = 1 << iota
)

// LSA is one versioned topology record. Origin+Pseudo+Fragment identify the
// record within a scope; Seq orders successive versions.
type LSA struct {
	Origin   string
	Pseudo   uint8 // non-zero for pseudonode records, owned by the electing DIS
	Fragment uint8
	Seq      uint32
	Lifetime uint16 // remaining lifetime in seconds; zero means withdrawn
	Checksum uint16
	Flags    uint8
	Links    []LinkDecl
	Prefixes []PrefixDecl
}

// Update carries one or more LSAs being flooded within a single scope.
type Update struct {
	Scope string
	LSAs  []LSA
}

func (*Update) Kind() Kind { return KindUpdate }

type IndexEntry struct {
	Origin   string
	Pseudo   uint8
	Fragment uint8
	Seq      uint32
	Checksum uint16
}

// Index summarizes held LSAs. A full index (DIS-originated on broadcast
// circuits) implies completeness: anything absent is not held. A partial
// index acknowledges receipt of the listed entries on p2p circuits.
type Index struct {
	Scope   string
	Full    bool
	Entries []IndexEntry
}

func (*Index) Kind() Kind { return KindIndex }

type RequestKey struct {
	Origin   string
	Pseudo   uint8
	Fragment uint8
}

// Request asks the receiver to re-flood the listed records.
type Request struct {
	Scope string
	Keys  []RequestKey
}

func (*Request) Kind() Kind { return KindRequest }
