package core

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/encodeous/aramid/perf"
	"github.com/encodeous/aramid/protocol"
	"github.com/encodeous/aramid/state"
)

// UdpFabric carries every circuit of the node over one UDP socket.
// Broadcast segments are emulated by sending to each member; the wire
// never assumes a shared medium.
type UdpFabric struct {
	conn   *net.UDPConn
	byAddr map[netip.AddrPort]state.NodeId
	done   chan struct{}
}

func NewUdpFabric() *UdpFabric {
	return &UdpFabric{}
}

func (f *UdpFabric) Open(e *state.Env, specs []state.CircuitSpec, recv func(state.NodeId, protocol.Packet)) (map[state.CircuitId]state.Link, error) {
	port := e.LocalCfg.Port
	if port == 0 {
		port = state.DefaultPort
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("failed to bind control socket: %w", err)
	}
	f.conn = conn
	f.done = make(chan struct{})
	f.byAddr = make(map[netip.AddrPort]state.NodeId)
	for _, n := range e.Nodes {
		if n.Endpoint.IsValid() {
			f.byAddr[n.Endpoint] = n.Id
		}
	}

	links := make(map[state.CircuitId]state.Link, len(specs))
	for _, spec := range specs {
		dests := make([]netip.AddrPort, 0, len(spec.Peers))
		for _, peer := range spec.Peers {
			ep := e.GetNode(peer).Endpoint
			if !ep.IsValid() {
				e.Log.Warn("peer has no endpoint, circuit will be silent towards it", "circuit", spec.Id, "peer", peer)
				continue
			}
			dests = append(dests, ep)
		}
		links[spec.Id] = &udpLink{fabric: f, id: spec.Id, mode: spec.Mode, dests: dests}
	}

	go f.readLoop(recv)
	return links, nil
}

func (f *UdpFabric) readLoop(recv func(state.NodeId, protocol.Packet)) {
	defer close(f.done)
	buf := make([]byte, protocol.MaxPacketSize)
	for {
		n, addr, err := f.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		perf.RecvBytes.Add(float64(n))
		node, ok := f.byAddr[addr]
		if !ok {
			perf.DropUnknownSender.Add(1)
			continue
		}
		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			perf.DropDecode.Add(1)
			continue
		}
		recv(node, pkt)
	}
}

func (f *UdpFabric) Close() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	<-f.done
	return err
}

type udpLink struct {
	fabric *UdpFabric
	id     state.CircuitId
	mode   protocol.Mode
	dests  []netip.AddrPort
}

func (l *udpLink) Circuit() state.CircuitId { return l.id }
func (l *udpLink) Mode() protocol.Mode      { return l.mode }

func (l *udpLink) Send(data []byte) error {
	var firstErr error
	for _, dest := range l.dests {
		n, err := l.fabric.conn.WriteToUDPAddrPort(data, dest)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		perf.SentBytes.Add(float64(n))
	}
	return firstErr
}

func (l *udpLink) Close() error { return nil }
