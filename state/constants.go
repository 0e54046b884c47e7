package state

import "time"

const (
	// INF marks an unreachable cost.
	INF = ^(uint32)(0)

	// InitialSequence is the first sequence number an origin uses.
	InitialSequence = uint32(1)
	// MaxSequence is the largest usable sequence number. Reaching it forces
	// the purge-and-wait re-origination procedure before numbering restarts.
	MaxSequence = uint32(1<<31 - 1)
)

var (
	HelloInterval  = time.Second * 3
	HoldMultiplier = 3 // hold = HoldMultiplier * HelloInterval

	DefaultPriority = uint8(64)
	DefaultCost     = uint32(10)

	// flooding
	RetransmitInterval = time.Second * 2
	MaxFloodRetries    = 5
	IndexInterval      = time.Second * 10
	RequestDedupTTL    = 2 * RetransmitInterval

	// lsdb aging
	AgeTickInterval = time.Second * 1
	MaxLifetime     = uint16(1200) // seconds
	// PurgeGuardTTL keeps a tombstone for freshly purged records so an
	// in-flight stale copy cannot resurrect them.
	PurgeGuardTTL = time.Second * 60
	// SeqExhaustWait delays re-origination after sequence exhaustion until
	// in-flight old-numbered copies have expired everywhere.
	SeqExhaustWait = time.Duration(MaxLifetime) * time.Second

	LSDBMaxEntries = 65536

	// origination and SPF debounce share one backoff shape: a small initial
	// delay doubling up to the cap, resetting once triggers go quiet.
	DebounceInitial = time.Millisecond * 50
	DebounceMax     = time.Second * 5

	SpfDebounceInitial = time.Millisecond * 100
	SpfDebounceMax     = time.Second * 10

	// default port for the UDP control transport
	DefaultPort = uint16(57190)

	SafeMTU = 1200
)

// debug toggles, bound to CLI flags
var (
	DBG_log_adjacency = false
	DBG_log_flood     = false
	DBG_log_spf       = false
	DBG_log_rib       = false
	DBG_log_election  = false
)
