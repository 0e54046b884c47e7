package state

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/gaissmai/bart"
)

// Rib is one immutable snapshot of the forwarding table. The installer
// builds a fresh Rib and publishes it with an atomic swap; consumers only
// ever observe complete snapshots.
type Rib struct {
	table    bart.Table[RibEntry]
	Sequence uint64 // incremented on every publish
}

func NewRib(seq uint64) *Rib {
	return &Rib{Sequence: seq}
}

// Add inserts one entry. Only the installer calls this, before publishing.
func (r *Rib) Add(e RibEntry) {
	r.table.Insert(e.Prefix, e)
}

// Lookup returns the longest-prefix-match entry for the address.
func (r *Rib) Lookup(addr netip.Addr) (RibEntry, bool) {
	return r.table.Lookup(addr)
}

// Get returns the entry for an exact prefix.
func (r *Rib) Get(p netip.Prefix) (RibEntry, bool) {
	return r.table.Get(p)
}

func (r *Rib) Size() int {
	return r.table.Size()
}

// Entries returns all installed entries in CIDR sort order.
func (r *Rib) Entries() []RibEntry {
	out := make([]RibEntry, 0, r.table.Size())
	for _, e := range r.table.AllSorted() {
		out = append(out, e)
	}
	return out
}

func (r *Rib) String() string {
	var b strings.Builder
	for _, e := range r.Entries() {
		kind := ""
		if e.Default {
			kind = " (default)"
		}
		fmt.Fprintf(&b, "%s via %v cost %d scope %s%s\n", e.Prefix, e.NextHops, e.Cost, e.Scope, kind)
	}
	return b.String()
}

// ReadRib returns the current snapshot, or an empty table before the first
// publish.
func (e *Env) ReadRib() *Rib {
	r := e.RIB.Load()
	if r == nil {
		return NewRib(0)
	}
	return r
}
