package state

import (
	"cmp"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"

	"github.com/cilium/cilium/pkg/ip"
	"github.com/encodeous/aramid/protocol"
)

type Pair[Ty1, Ty2 any] struct {
	V1 Ty1
	V2 Ty2
}

type Triple[Ty1, Ty2, Ty3 any] struct {
	V1 Ty1
	V2 Ty2
	V3 Ty3
}

func MakeSortedPair[T cmp.Ordered](a, b T) Pair[T, T] {
	if a < b {
		return Pair[T, T]{a, b}
	}
	return Pair[T, T]{b, a}
}

func SortPairs[T cmp.Ordered](pairs []Pair[T, T]) {
	slices.SortFunc(pairs, func(a, b Pair[T, T]) int {
		if c := cmp.Compare(a.V1, b.V1); c != 0 {
			return c
		}
		return cmp.Compare(a.V2, b.V2)
	})
}

// NodeCfg is the central description of one node.
type NodeCfg struct {
	Id       NodeId
	Scopes   []ScopeId
	Priority *uint8         `yaml:",omitempty"` // DIS priority, DefaultPriority when unset
	Prefixes []netip.Prefix `yaml:",omitempty"`
	Endpoint netip.AddrPort `yaml:",omitempty"` // UDP control transport endpoint
}

func (n NodeCfg) GetPriority() uint8 {
	if n.Priority == nil {
		return DefaultPriority
	}
	return *n.Priority
}

type ScopeCfg struct {
	Id       ScopeId
	Backbone bool `yaml:",omitempty"`
}

// SegmentCfg declares one broadcast segment. Segments are provisioned in
// exactly one scope; the DIS is elected among Up members.
type SegmentCfg struct {
	Id      string
	Scope   ScopeId
	Members []NodeId
	Cost    uint32 `yaml:",omitempty"`
}

func (s *SegmentCfg) GetCost() uint32 {
	if s.Cost == 0 {
		return DefaultCost
	}
	return s.Cost
}

// CentralCfg is the network-global configuration shared by every node.
type CentralCfg struct {
	Nodes    []NodeCfg
	Scopes   []ScopeCfg
	Graph    []string                       // point-to-point circuit DSL, see ParseGraph
	Costs    []Triple[NodeId, NodeId, uint32] `yaml:",omitempty"`
	Segments []SegmentCfg                   `yaml:",omitempty"`
	Timestamp int64                         `yaml:",omitempty"`
}

// LocalCfg is node-local configuration.
type LocalCfg struct {
	Id      NodeId
	Port    uint16 `yaml:",omitempty"`
	AuthKey string `yaml:"auth_key,omitempty"` // opaque digest carried in Hellos
	LogPath string `yaml:"log_path,omitempty"`
}

func (c *CentralCfg) TryGetNode(node NodeId) *NodeCfg {
	idx := slices.IndexFunc(c.Nodes, func(cfg NodeCfg) bool {
		return cfg.Id == node
	})
	if idx == -1 {
		return nil
	}
	return &c.Nodes[idx]
}

func (c *CentralCfg) GetNode(node NodeId) NodeCfg {
	val := c.TryGetNode(node)
	if val == nil {
		panic("node " + string(node) + " not found")
	}
	return *val
}

func (c *CentralCfg) IsNode(node NodeId) bool {
	return c.TryGetNode(node) != nil
}

func (c *CentralCfg) ScopesOf(node NodeId) []ScopeId {
	cfg := c.TryGetNode(node)
	if cfg == nil {
		return nil
	}
	return cfg.Scopes
}

func (c *CentralCfg) IsBackboneScope(scope ScopeId) bool {
	idx := slices.IndexFunc(c.Scopes, func(cfg ScopeCfg) bool {
		return cfg.Id == scope
	})
	return idx != -1 && c.Scopes[idx].Backbone
}

// IsBackboneMember reports whether the node participates in any backbone
// scope.
func (c *CentralCfg) IsBackboneMember(node NodeId) bool {
	for _, s := range c.ScopesOf(node) {
		if c.IsBackboneScope(s) {
			return true
		}
	}
	return false
}

// IsBorder reports whether the node participates in two or more scopes.
func (c *CentralCfg) IsBorder(node NodeId) bool {
	return len(c.ScopesOf(node)) >= 2
}

// CostOf returns the configured cost of the p2p circuit between a and b.
func (c *CentralCfg) CostOf(a, b NodeId) uint32 {
	for _, t := range c.Costs {
		if (t.V1 == a && t.V2 == b) || (t.V1 == b && t.V2 == a) {
			return t.V3
		}
	}
	return DefaultCost
}

// Edges evaluates the graph DSL down to the set of p2p circuits.
func (c *CentralCfg) Edges() ([]Pair[NodeId, NodeId], error) {
	names := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		names = append(names, string(n.Id))
	}
	return ParseGraph(c.Graph, names)
}

// P2PCircuitId names the circuit between two nodes, independent of which
// end computes it.
func P2PCircuitId(a, b NodeId) CircuitId {
	p := MakeSortedPair(a, b)
	return CircuitId(fmt.Sprintf("p2p:%s~%s", p.V1, p.V2))
}

func SegmentCircuitId(segment string) CircuitId {
	return CircuitId("lan:" + segment)
}

// CircuitsFor computes every circuit the node participates in: one p2p
// circuit per graph edge touching it, one broadcast circuit per segment
// listing it.
func (c *CentralCfg) CircuitsFor(node NodeId) ([]CircuitSpec, error) {
	edges, err := c.Edges()
	if err != nil {
		return nil, err
	}
	specs := make([]CircuitSpec, 0)
	for _, e := range edges {
		var peer NodeId
		switch node {
		case e.V1:
			peer = e.V2
		case e.V2:
			peer = e.V1
		default:
			continue
		}
		specs = append(specs, CircuitSpec{
			Id:    P2PCircuitId(e.V1, e.V2),
			Mode:  protocol.ModePointToPoint,
			Cost:  c.CostOf(e.V1, e.V2),
			Peers: []NodeId{peer},
		})
	}
	for _, seg := range c.Segments {
		if !slices.Contains(seg.Members, node) {
			continue
		}
		peers := make([]NodeId, 0, len(seg.Members)-1)
		for _, m := range seg.Members {
			if m != node {
				peers = append(peers, m)
			}
		}
		specs = append(specs, CircuitSpec{
			Id:      SegmentCircuitId(seg.Id),
			Mode:    protocol.ModeBroadcast,
			Scope:   seg.Scope,
			Segment: seg.Id,
			Cost:    seg.GetCost(),
			Peers:   peers,
		})
	}
	return specs, nil
}

// GetPrefixes returns all unique prefixes advertised across the network.
func (c *CentralCfg) GetPrefixes() []netip.Prefix {
	seen := make(map[netip.Prefix]bool)
	prefixes := make([]netip.Prefix, 0)
	for _, n := range c.Nodes {
		for _, p := range n.Prefixes {
			if !seen[p] {
				seen[p] = true
				prefixes = append(prefixes, p)
			}
		}
	}
	return prefixes
}

func parseSymbolList(s string, validSymbols []string) ([]string, error) {
	spl := strings.Split(strings.TrimSpace(s), ",")
	line := make([]string, 0)
	for _, s := range spl {
		x := strings.TrimSpace(s)
		if x == "" {
			continue
		}
		if !slices.Contains(validSymbols, x) {
			return nil, fmt.Errorf(`%s is not a valid node/group`, x)
		}
		line = append(line, x)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf(`node/group list must not be empty`)
	}
	slices.Sort(line)
	return line, nil
}

/*
ParseGraph evaluates the circuit DSL:

Group1 = node1, node2, node3

Group2 = node4, node5

Group1, Group2, OtherNode // members of the listed symbols are interconnected pairwise

node8, node9 // a single circuit between node8 and node9

graph holds the DSL lines; nodes is the set of terminal node names the
graph may reference.
*/
func ParseGraph(graph []string, nodes []string) ([]Pair[NodeId, NodeId], error) {
	parsedPairings := make([]Pair[string, string], 0)
	groups := make(map[string][]string)
	symbols := slices.Clone(nodes)

	// pass 0, collect all symbols
	for _, line := range graph {
		line = strings.ToLower(strings.TrimSpace(line))
		if strings.Contains(line, "=") {
			spl := strings.Split(line, "=")
			if len(spl) != 2 {
				return nil, fmt.Errorf("invalid graph: %s. group definition must contain one '='", line)
			}
			grp := strings.TrimSpace(spl[0])
			if slices.Contains(nodes, grp) {
				return nil, fmt.Errorf("group name must not be a node name: %s", grp)
			}
			symbols = append(symbols, grp)
		}
	}
	slices.Sort(symbols)
	symbols = slices.Compact(symbols)

	// map: group -> groups the definition depends on, for topological sorting
	topo := make(map[string][]string)
	expansion := make(map[string][]string)

	// pass 1, parse graph
	for _, line := range graph {
		line = strings.ToLower(strings.TrimSpace(line))
		if strings.Contains(line, "=") {
			spl := strings.Split(line, "=")
			grp := strings.TrimSpace(spl[0])
			if _, ok := groups[grp]; ok {
				return nil, fmt.Errorf("duplicate group name: %s", grp)
			}
			lst, err := parseSymbolList(spl[1], symbols)
			if err != nil {
				return nil, err
			}
			deps := make([]string, 0)
			for _, l := range lst {
				if !slices.Contains(nodes, l) {
					deps = append(deps, l)
				} else {
					expansion[grp] = append(expansion[grp], l)
				}
			}
			slices.Sort(deps)
			deps = slices.Compact(deps)

			topo[grp] = deps
			groups[grp] = lst
		} else {
			names, err := parseSymbolList(line, symbols)
			if err != nil {
				return nil, err
			}
			if len(names) < 2 {
				return nil, fmt.Errorf("invalid pairing, %v", names)
			}
			interconnect := make([]NodeId, 0)
			for _, name := range names {
				for _, node := range interconnect {
					parsedPairings = append(parsedPairings, MakeSortedPair(string(node), name))
				}
				interconnect = append(interconnect, NodeId(name))
			}
			SortPairs(parsedPairings)
			parsedPairings = slices.Compact(parsedPairings)
		}
	}

	// pass 2, expand group names in topological order
	for len(topo) > 0 {
		var group string
		for k, v := range topo {
			if len(v) == 0 {
				group = k
				break
			}
		}
		if group == "" {
			cycleNodes := make([]string, 0)
			for node := range topo {
				cycleNodes = append(cycleNodes, node)
			}
			slices.Sort(cycleNodes)
			return nil, fmt.Errorf("cycle detected in graph: %v", cycleNodes)
		}
		delete(topo, group)

		for k, deps := range topo {
			if slices.Contains(deps, group) {
				expansion[k] = append(expansion[k], expansion[group]...)
				slices.Sort(expansion[k])
				expansion[k] = slices.Compact(expansion[k])

				x := 0
				for _, dep := range deps {
					if dep != group {
						deps[x] = dep
						x++
					}
				}
				topo[k] = deps[:x]
			}
		}
	}

	// pass 3, rewrite pairings down to terminal nodes
	pairings := make([]Pair[NodeId, NodeId], 0)
	for _, pair := range parsedPairings {
		x := make([]NodeId, 0)
		if slices.Contains(nodes, pair.V1) {
			x = append(x, NodeId(pair.V1))
		} else {
			for _, exp := range expansion[pair.V1] {
				x = append(x, NodeId(exp))
			}
		}
		y := make([]NodeId, 0)
		if slices.Contains(nodes, pair.V2) {
			y = append(y, NodeId(pair.V2))
		} else {
			for _, exp := range expansion[pair.V2] {
				y = append(y, NodeId(exp))
			}
		}
		for _, x1 := range x {
			for _, y1 := range y {
				if x1 != y1 {
					pairings = append(pairings, MakeSortedPair(x1, y1))
				}
			}
		}
		SortPairs(pairings)
		pairings = slices.Compact(pairings)
	}
	return pairings, nil
}

func toIPNets(prefixes []netip.Prefix) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(prefixes))
	for _, p := range prefixes {
		if p.IsValid() {
			nets = append(nets, &net.IPNet{
				IP:   p.Addr().AsSlice(),
				Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
			})
		}
	}
	return nets
}

func fromIPNets(nets []*net.IPNet) []netip.Prefix {
	output := make([]netip.Prefix, 0, len(nets))
	for _, n := range nets {
		if addr, ok := netip.AddrFromSlice(n.IP); ok {
			ones, _ := n.Mask.Size()
			output = append(output, netip.PrefixFrom(addr.Unmap(), ones))
		}
	}
	return output
}

// CoalescePrefix merges adjacent and contained prefixes. Used when a border
// node condenses a scope's reachable prefixes into summaries.
func CoalescePrefix(prefixes []netip.Prefix) []netip.Prefix {
	ipv4, ipv6 := ip.CoalesceCIDRs(toIPNets(prefixes))
	return fromIPNets(append(ipv4, ipv6...))
}

// SubtractPrefix removes the excluded ranges from the included set.
func SubtractPrefix(includesPrefix, excludesPrefix []netip.Prefix) []netip.Prefix {
	result := ip.RemoveCIDRs(toIPNets(includesPrefix), toIPNets(excludesPrefix))
	ipv4, ipv6 := ip.CoalesceCIDRs(result)
	return fromIPNets(append(ipv4, ipv6...))
}
