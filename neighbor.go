package apkes

import (
	"errors"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/kahnreaz/apkes/replay"
)

// NeighborStatus is the per-entry lifecycle state of spec.md section 3.
type NeighborStatus int

const (
	StatusFree NeighborStatus = iota
	StatusTentative
	StatusTentativeAwaitingAck
	StatusPermanent
)

func (s NeighborStatus) String() string {
	switch s {
	case StatusFree:
		return "FREE"
	case StatusTentative:
		return "TENTATIVE"
	case StatusTentativeAwaitingAck:
		return "TENTATIVE_AWAITING_ACK"
	case StatusPermanent:
		return "PERMANENT"
	default:
		return "UNKNOWN"
	}
}

// NeighborEntry is a single slot of the fixed-capacity neighbor table.
// metadata is only meaningful while status is Tentative or
// TentativeAwaitingAck (spec.md invariant 5).
type NeighborEntry struct {
	ids            Identity
	status         NeighborStatus
	localIndex     uint8
	pairwiseKey    [PairwiseKeyLen]byte
	metadata       [MetadataLen]byte
	antiReplay     replay.Filter
	broadcastKey   [NeighborBroadcastKeyLen]byte
	hasBroadcast   bool
	expirationTime time.Time
}

// NeighborHandle is a stable reference to a table slot: a small integer, not
// a pointer, so the wait-timer pool never dangles across table compaction
// (spec.md section 9, "self-referential wait-timer" note).
type NeighborHandle int

const invalidHandle NeighborHandle = -1

var (
	ErrNeighborTableFull = errors.New("apkes: neighbor table full")
	ErrDuplicateIdentity = errors.New("apkes: identity already has a neighbor entry")
)

// NeighborTable is a fixed-capacity table of neighbor entries, keyed by
// identity, modeled on the teacher's IndexTable (src/index.go) generalized
// to a true fixed-size array per spec.md section 5 ("all allocations are
// from fixed pools").
type NeighborTable struct {
	mutex   deadlock.RWMutex
	entries []NeighborEntry
	used    []bool
	byID    map[[ExtendedAddrLen]byte]NeighborHandle
}

func NewNeighborTable(capacity int) *NeighborTable {
	return &NeighborTable{
		entries: make([]NeighborEntry, capacity),
		used:    make([]bool, capacity),
		byID:    make(map[[ExtendedAddrLen]byte]NeighborHandle, capacity),
	}
}

// Lookup returns the handle for an identity, or invalidHandle/false if
// unknown (spec.md invariant 6: the same identity never has two concurrent
// entries, enforced here by byID being the single source of truth). Only
// the extended address is significant; see Identity.key.
func (t *NeighborTable) Lookup(ids Identity) (NeighborHandle, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	h, ok := t.byID[ids.key()]
	return h, ok
}

// Alloc reserves a free slot for ids. It fails with ErrNeighborTableFull if
// no slot is free, and with ErrDuplicateIdentity if ids already has an
// entry — callers must check Lookup first when that distinction matters;
// Alloc itself treats both as the same "cannot admit" outcome, matching
// spec.md section 9's note that the HELLO handler conflates "already known"
// with "out of memory" into a single observable drop.
func (t *NeighborTable) Alloc(ids Identity) (NeighborHandle, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	key := ids.key()
	if _, ok := t.byID[key]; ok {
		return invalidHandle, ErrDuplicateIdentity
	}

	for i := range t.entries {
		if !t.used[i] {
			t.used[i] = true
			t.entries[i] = NeighborEntry{ids: ids, status: StatusTentative}
			t.byID[key] = NeighborHandle(i)
			return NeighborHandle(i), nil
		}
	}
	return invalidHandle, ErrNeighborTableFull
}

// Free reclaims a slot, removing it from the identity index.
func (t *NeighborTable) Free(h NeighborHandle) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if h < 0 || int(h) >= len(t.entries) || !t.used[h] {
		return
	}
	key := t.entries[h].ids.key()
	t.used[h] = false
	t.entries[h] = NeighborEntry{}
	delete(t.byID, key)
}

// Get returns a copy of the entry at h. Callers that need to mutate use
// Mutate below.
func (t *NeighborTable) Get(h NeighborHandle) (NeighborEntry, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if h < 0 || int(h) >= len(t.entries) || !t.used[h] {
		return NeighborEntry{}, false
	}
	return t.entries[h], true
}

// Mutate applies fn to the entry at h while holding the table lock, the
// same "hold the lock, read-modify-write, release" discipline as the
// teacher's IndexTable methods.
func (t *NeighborTable) Mutate(h NeighborHandle, fn func(*NeighborEntry)) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if h < 0 || int(h) >= len(t.entries) || !t.used[h] {
		return false
	}
	fn(&t.entries[h])
	return true
}

// ReclaimExpired frees any non-permanent entry whose expiration_time has
// passed. Called periodically by the engine, not on every event, since
// expiry is a background-hygiene concern rather than a protocol step.
func (t *NeighborTable) ReclaimExpired(now time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for i := range t.entries {
		if !t.used[i] {
			continue
		}
		e := &t.entries[i]
		if e.status == StatusPermanent {
			continue
		}
		if now.After(e.expirationTime) {
			key := e.ids.key()
			t.used[i] = false
			t.entries[i] = NeighborEntry{}
			delete(t.byID, key)
		}
	}
}
