package core

import (
	"time"

	"github.com/encodeous/aramid/perf"
	"github.com/encodeous/aramid/protocol"
	"github.com/encodeous/aramid/state"
	"github.com/jellydator/ttlcache/v3"
)

type ScopeEvent int

// trace events

const (
	LsaInstalled ScopeEvent = iota
	LsaRefreshed
	LsaExpired
	LsaWithdrawn
	DupDropped
	StaleAnswered
	SyncRequested
	DisElected
	DisResigned
)

// warn events

const (
	ChecksumFailed ScopeEvent = iota + 1000
	UnknownNeighbour
	RetransmitGaveUp
	SequenceExhausted
)

func (e ScopeEvent) String() string {
	switch e {
	case LsaInstalled:
		return "LSA_INSTALLED"
	case LsaRefreshed:
		return "LSA_REFRESHED"
	case LsaExpired:
		return "LSA_EXPIRED"
	case LsaWithdrawn:
		return "LSA_WITHDRAWN"
	case DupDropped:
		return "DUP_DROPPED"
	case StaleAnswered:
		return "STALE_ANSWERED"
	case SyncRequested:
		return "SYNC_REQUESTED"
	case DisElected:
		return "DIS_ELECTED"
	case DisResigned:
		return "DIS_RESIGNED"
	case ChecksumFailed:
		return "CHECKSUM_FAILED"
	case UnknownNeighbour:
		return "UNKNOWN_NEIGHBOUR"
	case RetransmitGaveUp:
		return "RETRANSMIT_GAVE_UP"
	case SequenceExhausted:
		return "SEQUENCE_EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// ScopeIO is the sending side of one scope, implemented over the real
// circuit links in production and recorded verbatim by the test harness.
type ScopeIO interface {
	SendUpdate(neigh state.NodeId, lsas []protocol.LSA)
	SendIndex(neigh state.NodeId, full bool, entries []protocol.IndexEntry)
	SendRequest(neigh state.NodeId, keys []protocol.RequestKey)
	// TearDown reports the adjacency as faulty to the hello layer.
	TearDown(neigh state.NodeId)
	Log(event ScopeEvent, desc string, args ...any)
}

// Flood sends the records to every adjacency in the scope except the one
// they arrived from, and arms retransmission tracking on point-to-point
// adjacencies.
func Flood(ss *state.ScopeState, io ScopeIO, except state.NodeId, lsas []protocol.LSA) {
	if len(lsas) == 0 {
		return
	}
	now := time.Now()
	for neigh, adj := range ss.Adjacencies {
		if neigh == except {
			continue
		}
		if adj.Mode == protocol.ModePointToPoint {
			for i := range lsas {
				adj.Pending[state.KeyOf(&lsas[i])] = &state.PendingFlood{
					Seq:      lsas[i].Seq,
					Deadline: now.Add(state.RetransmitInterval),
				}
			}
		}
		io.SendUpdate(neigh, lsas)
	}
	perf.Floods.Add(float64(len(lsas)))
}

// HandleUpdate processes a flooded batch from an Up neighbour, installing
// anything newer than what we hold, acknowledging on point-to-point
// circuits and re-flooding onwards with split horizon.
func HandleUpdate(ss *state.ScopeState, io ScopeIO, from state.NodeId, upd *protocol.Update) error {
	if _, ok := ss.Adjacencies[from]; !ok {
		io.Log(UnknownNeighbour, "update from node without adjacency", "from", from)
		perf.DropNoAdjacency.Add(1)
		return nil
	}
	var acks []protocol.IndexEntry
	var reflood []protocol.LSA
	changed := false
	for i := range upd.LSAs {
		lsa := upd.LSAs[i]
		if !lsa.VerifyChecksum() {
			io.Log(ChecksumFailed, "corrupt record dropped", "from", from, "key", state.KeyOf(&lsa))
			perf.DropChecksum.Add(1)
			continue
		}
		key := state.KeyOf(&lsa)

		if key.Origin.Node == ss.LocalCfg.Id && handleSelfSlot(ss, io, key, &lsa) {
			acks = append(acks, indexEntryOf(&lsa))
			continue
		}

		held, ok := ss.DB[key]
		switch {
		case !ok && lsa.Lifetime == 0:
			// withdrawal of something we never held; acknowledge so the
			// sender stops retransmitting, but keep the tombstone
			ss.PurgeGuard.Set(key, lsa.Seq, state.PurgeGuardTTL)
			acks = append(acks, indexEntryOf(&lsa))
		case !ok || CompareLSA(&lsa, &held.LSA) > 0:
			if lsa.Lifetime == 0 {
				if state.DBG_log_flood {
					io.Log(LsaWithdrawn, "record withdrawn", "from", from, "key", key)
				}
				PurgeLSA(ss, key, lsa.Seq)
			} else if !InstallLSA(ss, lsa, false) {
				continue
			} else if state.DBG_log_flood {
				io.Log(LsaInstalled, "record installed", "from", from, "key", key, "seq", lsa.Seq)
			}
			acks = append(acks, indexEntryOf(&lsa))
			reflood = append(reflood, lsa)
			changed = true
		case CompareLSA(&lsa, &held.LSA) == 0:
			if state.DBG_log_flood {
				io.Log(DupDropped, "duplicate dropped", "from", from, "key", key)
			}
			perf.DropDuplicate.Add(1)
			acks = append(acks, indexEntryOf(&lsa))
		default:
			// sender is behind; answer with our copy so it catches up
			io.Log(StaleAnswered, "stale copy answered", "from", from, "key", key, "theirs", lsa.Seq, "ours", held.LSA.Seq)
			perf.DropStale.Add(1)
			io.SendUpdate(from, []protocol.LSA{snapshotLSA(held, time.Now())})
		}
	}
	if adj := ss.Adjacencies[from]; adj.Mode == protocol.ModePointToPoint && len(acks) > 0 {
		io.SendIndex(from, false, acks)
	}
	Flood(ss, io, from, reflood)
	if changed {
		ss.SpfDebounce.Trigger()
	}
	return nil
}

// handleSelfSlot deals with copies of records we originate ourselves. A
// newer copy than our own means we restarted and the network still
// carries our past life: we must leapfrog its sequence number or withdraw
// the slot if we no longer originate it.
func handleSelfSlot(ss *state.ScopeState, io ScopeIO, key state.LSAKey, lsa *protocol.LSA) bool {
	held, ok := ss.DB[key]
	if ok && held.Exhausted {
		return true
	}
	if ok && CompareLSA(lsa, &held.LSA) <= 0 {
		return false // our copy wins, fall through to the normal path
	}
	if lsa.Seq >= state.MaxSequence {
		beginSeqExhaustion(ss, io, key, lsa.Seq)
		return true
	}
	if ok {
		// reclaim the slot one past the network's copy
		held.LSA.Seq = lsa.Seq + 1
		held.LSA.Lifetime = state.MaxLifetime
		held.LSA.ComputeChecksum()
		held.UpdatedAt = time.Now()
		Flood(ss, io, "", []protocol.LSA{held.LSA})
	} else {
		// a past life's record we no longer originate
		dead := *lsa
		dead.Seq = lsa.Seq + 1
		dead.Lifetime = 0
		dead.ComputeChecksum()
		ss.PurgeGuard.Set(key, dead.Seq, state.PurgeGuardTTL)
		Flood(ss, io, "", []protocol.LSA{dead})
	}
	ss.OriginateDebounce.Trigger()
	return true
}

func indexEntryOf(lsa *protocol.LSA) protocol.IndexEntry {
	return protocol.IndexEntry{
		Origin:   lsa.Origin,
		Pseudo:   lsa.Pseudo,
		Fragment: lsa.Fragment,
		Seq:      lsa.Seq,
		Checksum: lsa.Checksum,
	}
}

func keyOfIndexEntry(e *protocol.IndexEntry) state.LSAKey {
	return state.LSAKey{
		Origin:   state.NodeRef{Node: state.NodeId(e.Origin), Pseudo: e.Pseudo},
		Fragment: e.Fragment,
	}
}

// HandleIndex diffs a received database summary against our own. Entries
// the sender holds newer are requested, entries we hold newer are sent
// back, and on point-to-point circuits the listed entries acknowledge our
// pending floods. A full index additionally implies the sender holds
// nothing else, so anything we hold beyond it is flooded to the sender.
func HandleIndex(ss *state.ScopeState, io ScopeIO, from state.NodeId, idx *protocol.Index) error {
	adj, ok := ss.Adjacencies[from]
	if !ok {
		io.Log(UnknownNeighbour, "index from node without adjacency", "from", from)
		perf.DropNoAdjacency.Add(1)
		return nil
	}
	now := time.Now()
	var wanted []protocol.RequestKey
	var fresher []protocol.LSA
	listed := make(map[state.LSAKey]bool, len(idx.Entries))
	for i := range idx.Entries {
		e := &idx.Entries[i]
		key := keyOfIndexEntry(e)
		listed[key] = true

		if adj.Mode == protocol.ModePointToPoint {
			if p, pending := adj.Pending[key]; pending && e.Seq >= p.Seq {
				delete(adj.Pending, key)
			}
		}

		held, have := ss.DB[key]
		theirs := protocol.LSA{Seq: e.Seq, Lifetime: 1, Checksum: e.Checksum}
		switch {
		case !have:
			if guard := ss.PurgeGuard.Get(key); guard != nil && e.Seq <= guard.Value() {
				continue
			}
			wanted = append(wanted, requestKeyOf(key))
		case CompareLSA(&theirs, &held.LSA) > 0:
			wanted = append(wanted, requestKeyOf(key))
		case CompareLSA(&theirs, &held.LSA) < 0:
			fresher = append(fresher, snapshotLSA(held, now))
		}
	}
	if idx.Full {
		for key, held := range ss.DB {
			if !listed[key] && !held.Exhausted {
				fresher = append(fresher, snapshotLSA(held, now))
			}
		}
	}
	if len(wanted) > 0 {
		deduped := wanted[:0]
		for _, k := range wanted {
			key := state.LSAKey{Origin: state.NodeRef{Node: state.NodeId(k.Origin), Pseudo: k.Pseudo}, Fragment: k.Fragment}
			if ss.RequestDedup.Has(key) {
				continue
			}
			ss.RequestDedup.Set(key, struct{}{}, ttlcache.DefaultTTL)
			deduped = append(deduped, k)
		}
		if len(deduped) > 0 {
			if state.DBG_log_flood {
				io.Log(SyncRequested, "requesting records", "from", from, "count", len(deduped))
			}
			io.SendRequest(from, deduped)
		}
	}
	if len(fresher) > 0 {
		io.SendUpdate(from, fresher)
	}
	return nil
}

func requestKeyOf(key state.LSAKey) protocol.RequestKey {
	return protocol.RequestKey{
		Origin:   string(key.Origin.Node),
		Pseudo:   key.Origin.Pseudo,
		Fragment: key.Fragment,
	}
}

// HandleRequest answers a re-flood request with the records we hold.
func HandleRequest(ss *state.ScopeState, io ScopeIO, from state.NodeId, req *protocol.Request) error {
	if _, ok := ss.Adjacencies[from]; !ok {
		io.Log(UnknownNeighbour, "request from node without adjacency", "from", from)
		perf.DropNoAdjacency.Add(1)
		return nil
	}
	now := time.Now()
	var found []protocol.LSA
	for _, k := range req.Keys {
		key := state.LSAKey{
			Origin:   state.NodeRef{Node: state.NodeId(k.Origin), Pseudo: k.Pseudo},
			Fragment: k.Fragment,
		}
		if held, ok := ss.DB[key]; ok && !held.Exhausted {
			found = append(found, snapshotLSA(held, now))
		}
	}
	if len(found) > 0 {
		io.SendUpdate(from, found)
	}
	return nil
}

// RetransmitSweep re-sends unacknowledged point-to-point floods past their
// deadline. A neighbour that never acknowledges within the retry budget is
// declared faulty and its adjacency is torn down; hellos must walk it back
// up before it floods again.
func RetransmitSweep(ss *state.ScopeState, io ScopeIO) error {
	now := time.Now()
	for neigh, adj := range ss.Adjacencies {
		if adj.Mode != protocol.ModePointToPoint {
			continue
		}
		var resend []protocol.LSA
		faulty := false
		for key, p := range adj.Pending {
			if now.Before(p.Deadline) {
				continue
			}
			held, ok := ss.DB[key]
			if !ok || held.LSA.Seq < p.Seq {
				delete(adj.Pending, key)
				continue
			}
			if p.Retries >= state.MaxFloodRetries {
				io.Log(RetransmitGaveUp, "adjacency faulty, tearing down", "neigh", neigh, "key", key)
				perf.RetransmitDrops.Add(1)
				faulty = true
				break
			}
			p.Retries++
			p.Deadline = now.Add(state.RetransmitInterval)
			p.Seq = held.LSA.Seq
			resend = append(resend, snapshotLSA(held, now))
			perf.Retransmits.Add(1)
		}
		if faulty {
			delete(ss.Adjacencies, neigh)
			io.TearDown(neigh)
			ss.OriginateDebounce.Trigger()
			ss.SpfDebounce.Trigger()
			continue
		}
		if len(resend) > 0 {
			io.SendUpdate(neigh, resend)
		}
	}
	return nil
}

// SyncTick is the periodic database synchronization pass: the elected DIS
// of each broadcast segment advertises a full index to the segment so
// members can detect gaps.
func SyncTick(ss *state.ScopeState, io ScopeIO) error {
	entries := fullIndex(ss)
	for _, seg := range ss.Segments {
		if seg.DIS != ss.LocalCfg.Id {
			continue
		}
		for neigh, adj := range ss.Adjacencies {
			if adj.Segment == seg.Id {
				io.SendIndex(neigh, true, entries)
			}
		}
	}
	return nil
}

func fullIndex(ss *state.ScopeState) []protocol.IndexEntry {
	entries := make([]protocol.IndexEntry, 0, len(ss.DB))
	for _, held := range ss.DB {
		if held.Exhausted {
			continue
		}
		entries = append(entries, indexEntryOf(&held.LSA))
	}
	return entries
}
