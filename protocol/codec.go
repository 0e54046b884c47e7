package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrTruncated  = errors.New("packet truncated")
	ErrChecksum   = errors.New("packet checksum mismatch")
	ErrBadVersion = errors.New("unsupported protocol version")
	ErrBadKind    = errors.New("unknown packet kind")
	ErrTooLarge   = errors.New("packet exceeds maximum size")
	ErrBadField   = errors.New("malformed field")
)

const headerLen = 6 // version, kind, length, checksum

// checksum is the ones-complement sum used for whole-packet integrity.
func checksum(data []byte) uint16 {
	var sum uint32
	l := len(data)
	for i := 0; i < l; i += 2 {
		if i+1 < l {
			sum += uint32(data[i])<<8 | uint32(data[i+1])
		} else {
			sum += uint32(data[i]) << 8
		}
	}
	sum = (sum >> 16) + (sum & 0xffff)
	sum += sum >> 16
	return ^uint16(sum)
}

// fletcher16 guards individual LSAs independently of the packets that
// carry them.
func fletcher16(data []byte) uint16 {
	var c0, c1 uint32
	for _, b := range data {
		c0 = (c0 + uint32(b)) % 255
		c1 = (c1 + c0) % 255
	}
	return uint16(c1<<8 | c0)
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *writer) str(s string) {
	if len(s) > 255 {
		s = s[:255]
	}
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) bytes(b []byte) {
	if len(b) > 255 {
		b = b[:255]
	}
	w.u8(uint8(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) strs(ss []string) {
	w.u16(uint16(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

func (w *writer) prefix(p netip.Prefix) {
	addr := p.Addr().AsSlice()
	w.u8(uint8(len(addr)))
	w.buf = append(w.buf, addr...)
	w.u8(uint8(p.Bits()))
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = ErrTruncated
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil || r.off+1 > len(r.buf) {
		r.fail()
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil || r.off+2 > len(r.buf) {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil || r.off+4 > len(r.buf) {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) str() string {
	n := int(r.u8())
	if r.err != nil || r.off+n > len(r.buf) {
		r.fail()
		return ""
	}
	v := string(r.buf[r.off : r.off+n])
	r.off += n
	return v
}

func (r *reader) bytes() []byte {
	n := int(r.u8())
	if r.err != nil || r.off+n > len(r.buf) {
		r.fail()
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+n])
	r.off += n
	return v
}

func (r *reader) strs() []string {
	n := int(r.u16())
	if n > MaxPacketSize {
		r.fail()
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.str())
	}
	return out
}

func (r *reader) prefix() netip.Prefix {
	n := int(r.u8())
	if r.err != nil || r.off+n > len(r.buf) {
		r.fail()
		return netip.Prefix{}
	}
	addr, ok := netip.AddrFromSlice(r.buf[r.off : r.off+n])
	r.off += n
	bits := int(r.u8())
	if !ok || r.err != nil {
		if r.err == nil {
			r.err = ErrBadField
		}
		return netip.Prefix{}
	}
	p := netip.PrefixFrom(addr, bits)
	if !p.IsValid() {
		r.err = ErrBadField
		return netip.Prefix{}
	}
	return p
}

func appendLSABody(w *writer, l *LSA) {
	w.str(l.Origin)
	w.u8(l.Pseudo)
	w.u8(l.Fragment)
	w.u32(l.Seq)
	w.u8(l.Flags)
	w.u16(uint16(len(l.Links)))
	for _, ln := range l.Links {
		w.str(ln.Neighbor)
		w.u8(ln.Pseudo)
		w.u32(ln.Cost)
	}
	w.u16(uint16(len(l.Prefixes)))
	for _, p := range l.Prefixes {
		w.prefix(p.Prefix)
		w.u32(p.Cost)
	}
}

func (l *LSA) bodyChecksum() uint16 {
	var w writer
	appendLSABody(&w, l)
	return fletcher16(w.buf)
}

// ComputeChecksum fills in the Fletcher-16 guard over the LSA's invariant
// body. Lifetime is excluded so that aging does not invalidate the guard.
func (l *LSA) ComputeChecksum() {
	l.Checksum = l.bodyChecksum()
}

// VerifyChecksum reports whether the stored guard matches the body.
func (l *LSA) VerifyChecksum() bool {
	return l.Checksum == l.bodyChecksum()
}

func appendLSA(w *writer, l *LSA) {
	w.u16(l.Lifetime)
	w.u16(l.Checksum)
	appendLSABody(w, l)
}

func readLSA(r *reader) LSA {
	var l LSA
	l.Lifetime = r.u16()
	l.Checksum = r.u16()
	l.Origin = r.str()
	l.Pseudo = r.u8()
	l.Fragment = r.u8()
	l.Seq = r.u32()
	l.Flags = r.u8()
	nl := int(r.u16())
	if nl > MaxPacketSize {
		r.fail()
		return l
	}
	for i := 0; i < nl && r.err == nil; i++ {
		l.Links = append(l.Links, LinkDecl{
			Neighbor: r.str(),
			Pseudo:   r.u8(),
			Cost:     r.u32(),
		})
	}
	np := int(r.u16())
	if np > MaxPacketSize {
		r.fail()
		return l
	}
	for i := 0; i < np && r.err == nil; i++ {
		l.Prefixes = append(l.Prefixes, PrefixDecl{
			Prefix: r.prefix(),
			Cost:   r.u32(),
		})
	}
	return l
}

// Encode serializes a packet, filling in the header checksum.
func Encode(p Packet) ([]byte, error) {
	w := &writer{buf: make([]byte, headerLen)}
	w.buf[0] = Version
	w.buf[1] = byte(p.Kind())

	switch v := p.(type) {
	case *Hello:
		w.str(v.Sender)
		w.str(v.Circuit)
		w.u8(uint8(v.Mode))
		w.u32(v.HoldMillis)
		w.u8(v.Priority)
		w.strs(v.Scopes)
		w.strs(v.Seen)
		w.str(v.EchoCircuit)
		w.bytes(v.Auth)
	case *Update:
		w.str(v.Scope)
		w.u16(uint16(len(v.LSAs)))
		for i := range v.LSAs {
			appendLSA(w, &v.LSAs[i])
		}
	case *Index:
		w.str(v.Scope)
		full := uint8(0)
		if v.Full {
			full = 1
		}
		w.u8(full)
		w.u16(uint16(len(v.Entries)))
		for _, e := range v.Entries {
			w.str(e.Origin)
			w.u8(e.Pseudo)
			w.u8(e.Fragment)
			w.u32(e.Seq)
			w.u16(e.Checksum)
		}
	case *Request:
		w.str(v.Scope)
		w.u16(uint16(len(v.Keys)))
		for _, k := range v.Keys {
			w.str(k.Origin)
			w.u8(k.Pseudo)
			w.u8(k.Fragment)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrBadKind, p)
	}

	if len(w.buf) > MaxPacketSize {
		return nil, ErrTooLarge
	}
	binary.BigEndian.PutUint16(w.buf[2:4], uint16(len(w.buf)))
	binary.BigEndian.PutUint16(w.buf[4:6], 0)
	binary.BigEndian.PutUint16(w.buf[4:6], checksum(w.buf))
	return w.buf, nil
}

// Decode parses one packet, verifying length and header checksum.
func Decode(data []byte) (Packet, error) {
	if len(data) < headerLen {
		return nil, ErrTruncated
	}
	if data[0] != Version {
		return nil, ErrBadVersion
	}
	if int(binary.BigEndian.Uint16(data[2:4])) != len(data) {
		return nil, ErrTruncated
	}
	want := binary.BigEndian.Uint16(data[4:6])
	scratch := make([]byte, len(data))
	copy(scratch, data)
	binary.BigEndian.PutUint16(scratch[4:6], 0)
	if checksum(scratch) != want {
		return nil, ErrChecksum
	}

	r := &reader{buf: data, off: headerLen}
	var p Packet
	switch Kind(data[1]) {
	case KindHello:
		h := &Hello{}
		h.Sender = r.str()
		h.Circuit = r.str()
		h.Mode = Mode(r.u8())
		h.HoldMillis = r.u32()
		h.Priority = r.u8()
		h.Scopes = r.strs()
		h.Seen = r.strs()
		h.EchoCircuit = r.str()
		h.Auth = r.bytes()
		p = h
	case KindUpdate:
		u := &Update{}
		u.Scope = r.str()
		n := int(r.u16())
		if n > MaxPacketSize {
			return nil, ErrTruncated
		}
		for i := 0; i < n && r.err == nil; i++ {
			u.LSAs = append(u.LSAs, readLSA(r))
		}
		p = u
	case KindIndex:
		ix := &Index{}
		ix.Scope = r.str()
		ix.Full = r.u8() == 1
		n := int(r.u16())
		if n > MaxPacketSize {
			return nil, ErrTruncated
		}
		for i := 0; i < n && r.err == nil; i++ {
			ix.Entries = append(ix.Entries, IndexEntry{
				Origin:   r.str(),
				Pseudo:   r.u8(),
				Fragment: r.u8(),
				Seq:      r.u32(),
				Checksum: r.u16(),
			})
		}
		p = ix
	case KindRequest:
		rq := &Request{}
		rq.Scope = r.str()
		n := int(r.u16())
		if n > MaxPacketSize {
			return nil, ErrTruncated
		}
		for i := 0; i < n && r.err == nil; i++ {
			rq.Keys = append(rq.Keys, RequestKey{
				Origin:   r.str(),
				Pseudo:   r.u8(),
				Fragment: r.u8(),
			})
		}
		p = rq
	default:
		return nil, ErrBadKind
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}
