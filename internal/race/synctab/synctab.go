package synctab

import "sync"

// kPartCount is the number of independent partitions the table is split
// into. Picking the partition by address spreads unrelated mutexes across
// different locks, so two goroutines locking different mutexes almost
// never contend on the table itself.
const kPartCount = 1009

type part struct {
	mu   sync.RWMutex
	head *SyncVar
}

// SyncTab is the process-wide table of SyncVars, partitioned by address to
// keep lookups for unrelated synchronization primitives from contending on
// a single lock.
type SyncTab struct {
	parts [kPartCount]part
}

// New creates an empty sync table.
func New() *SyncTab {
	return &SyncTab{}
}

func partIdx(addr uintptr) uintptr {
	return (addr >> 3) % kPartCount
}

// GetAndLock returns the SyncVar for addr, creating it if this is the
// first time addr has been seen, and locks it in the requested mode
// before returning. The partition lock is always released before
// GetAndLock returns; only the SyncVar's own lock is held.
//
// Callers must pair this with an Unlock/RUnlock on the returned SyncVar
// once they're done recording the acquire or release.
func (t *SyncTab) GetAndLock(addr uintptr, writeLock bool) *SyncVar {
	p := &t.parts[partIdx(addr)]

	p.mu.RLock()
	for v := p.head; v != nil; v = v.next {
		if v.Addr == addr {
			p.mu.RUnlock()
			lockSyncVar(v, writeLock)
			return v
		}
	}
	p.mu.RUnlock()

	// Not found under a read lock: upgrade to a write lock and re-scan,
	// since another goroutine may have inserted addr in the gap between
	// the RUnlock above and the Lock below.
	p.mu.Lock()
	for v := p.head; v != nil; v = v.next {
		if v.Addr == addr {
			p.mu.Unlock()
			lockSyncVar(v, writeLock)
			return v
		}
	}

	v := newSyncVar(addr)
	v.next = p.head
	p.head = v
	p.mu.Unlock()

	lockSyncVar(v, writeLock)
	return v
}

func lockSyncVar(v *SyncVar, writeLock bool) {
	if writeLock {
		v.Lock()
	} else {
		v.RLock()
	}
}

// GetAndRemove unlinks and returns the SyncVar for addr, or nil if addr
// was never seen. Before returning, it takes and releases the SyncVar's
// own lock once, which drains any goroutine still mid-acquire on it - by
// the time GetAndRemove returns, no one holds a reference through the
// table anymore and no one is blocked trying to acquire one.
//
// Used when a synchronization primitive's address is being reused for
// something else (for example, a mutex embedded in a struct that gets
// freed and its memory reused), so stale shadow state doesn't leak onto
// the new occupant.
func (t *SyncTab) GetAndRemove(addr uintptr) *SyncVar {
	p := &t.parts[partIdx(addr)]

	p.mu.Lock()
	var prev *SyncVar
	v := p.head
	for v != nil && v.Addr != addr {
		prev = v
		v = v.next
	}
	if v != nil {
		if prev == nil {
			p.head = v.next
		} else {
			prev.next = v.next
		}
		v.next = nil
	}
	p.mu.Unlock()

	if v != nil {
		v.Lock()
		v.Unlock()
	}
	return v
}

// Reset clears every partition. Not safe for concurrent access; callers
// must quiesce all instrumented goroutines first.
func (t *SyncTab) Reset() {
	for i := range t.parts {
		t.parts[i] = part{}
	}
}
