package core

import (
	"cmp"
	"time"

	"github.com/encodeous/aramid/perf"
	"github.com/encodeous/aramid/protocol"
	"github.com/encodeous/aramid/state"
)

// CompareLSA orders two versions of the same record slot. Positive means a
// is newer. At equal sequence numbers a withdrawn copy supersedes a live
// one; beyond that the checksum breaks the tie so all nodes agree on a
// single winner.
func CompareLSA(a, b *protocol.LSA) int {
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	aDead := a.Lifetime == 0
	bDead := b.Lifetime == 0
	if aDead != bDead {
		if aDead {
			return 1
		}
		return -1
	}
	return cmp.Compare(a.Checksum, b.Checksum)
}

// RemainingLifetime computes how many seconds the entry has left, aged
// from the moment it was installed.
func RemainingLifetime(e *state.DBEntry, now time.Time) uint16 {
	age := now.Sub(e.UpdatedAt) / time.Second
	if age >= time.Duration(e.LSA.Lifetime) {
		return 0
	}
	return e.LSA.Lifetime - uint16(age)
}

// snapshotLSA returns a copy of the stored record with its lifetime aged
// down, suitable for putting on the wire.
func snapshotLSA(e *state.DBEntry, now time.Time) protocol.LSA {
	lsa := e.LSA
	lsa.Lifetime = RemainingLifetime(e, now)
	return lsa
}

// InstallLSA stores a received or self-originated record. It returns false
// when the record is refused: resurrection of a freshly purged slot, or a
// full database refusing records from new origins.
func InstallLSA(ss *state.ScopeState, lsa protocol.LSA, selfOrigin bool) bool {
	key := state.KeyOf(&lsa)
	if guard := ss.PurgeGuard.Get(key); guard != nil && lsa.Seq <= guard.Value() {
		perf.DropResurrect.Add(1)
		return false
	}
	if _, held := ss.DB[key]; !held && len(ss.DB) >= state.LSDBMaxEntries {
		perf.DropDbFull.Add(1)
		ss.Log.Warn("database full, refusing record", "scope", ss.Id, "key", key)
		return false
	}
	ss.DB[key] = &state.DBEntry{
		LSA:        lsa,
		SelfOrigin: selfOrigin,
		UpdatedAt:  time.Now(),
	}
	return true
}

// PurgeLSA removes a record from the database, leaving a tombstone so a
// stale copy still in flight cannot bring it back. Callers flood the
// withdrawn copy themselves.
func PurgeLSA(ss *state.ScopeState, key state.LSAKey, seq uint32) {
	ss.PurgeGuard.Set(key, seq, state.PurgeGuardTTL)
	delete(ss.DB, key)
	perf.Purges.Add(1)
}

// AgeScope walks the database once per aging tick. Foreign records past
// their lifetime are removed locally; only the originator may put a
// withdrawn copy on the wire, every other node ages out on its own and
// the index exchange reconciles any straggler. Self-originated records
// past half their lifetime are refreshed with a new sequence number
// before anyone else ages them out.
func AgeScope(ss *state.ScopeState, io ScopeIO) error {
	now := time.Now()
	expired := false
	refresh := false
	for key, e := range ss.DB {
		if e.Exhausted {
			continue
		}
		remaining := RemainingLifetime(e, now)
		if e.SelfOrigin {
			// refresh at half-life so the record never ages out elsewhere
			if remaining <= state.MaxLifetime/2 {
				refresh = true
			}
			continue
		}
		if remaining == 0 {
			if state.DBG_log_flood {
				io.Log(LsaExpired, "record aged out", "key", key)
			}
			PurgeLSA(ss, key, e.LSA.Seq)
			expired = true
		}
	}
	if expired {
		ss.SpfDebounce.Trigger()
	}
	if refresh {
		ss.OriginateDebounce.Trigger()
	}
	return nil
}
