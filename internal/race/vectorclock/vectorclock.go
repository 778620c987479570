// Package vectorclock implements vector clocks for tracking happens-before relations.
//
// Unlike a dense fixed-size array, VectorClock grows lazily: the backing slice
// is only as large as the highest thread ID ever observed (maxTID). Programs
// with thousands of short-lived goroutines never pay for the full 65536-slot
// address space, matching the engine's chunked vector-clock design.
//
// Key operations:
//   - Join: Synchronization (point-wise maximum) - used on lock acquire/release.
//   - LessOrEqual: Happens-before check (partial order) - used for race detection.
//
// Clock values are 64-bit to accommodate the engine's wide epoch encoding
// (16-bit thread ID, 40-bit clock); see package epoch.
package vectorclock

import (
	"strings"
	"sync"
)

const (
	// MaxThreads is the largest thread ID the clock can address (16-bit TID space).
	MaxThreads = 1 << 16

	// initialCapacity is the slice length a fresh VectorClock starts with.
	// Most goroutine trees stay well under this before growing.
	initialCapacity = 64
)

// VectorClock represents logical time across multiple threads.
//
// The backing store grows on demand: clocks[i] holds thread i's logical time
// for i in [0, maxTID]; any tid beyond maxTID implicitly reads as 0. This
// keeps memory proportional to the number of threads actually seen by this
// particular clock, not to MaxThreads.
type VectorClock struct {
	mu     sync.Mutex
	clocks []uint64
	maxTID uint16
	used   bool // tracks whether any Set/Increment has touched tid 0 (maxTID alone can't tell 0 from unused)
}

// New creates a zero-initialized vector clock.
func New() *VectorClock {
	return &VectorClock{clocks: make([]uint64, 0, initialCapacity)}
}

var pool = sync.Pool{
	New: func() any { return New() },
}

// NewFromPool fetches a reset VectorClock from a shared sync.Pool, avoiding
// a fresh allocation on the hot acquire/release path.
func NewFromPool() *VectorClock {
	return pool.Get().(*VectorClock)
}

// Release clears the clock and returns it to the pool. The VectorClock must
// not be used again by the caller after calling Release.
func (vc *VectorClock) Release() {
	vc.mu.Lock()
	for i := range vc.clocks {
		vc.clocks[i] = 0
	}
	vc.maxTID = 0
	vc.used = false
	vc.mu.Unlock()
	pool.Put(vc)
}

// growLocked ensures clocks has room for tid; caller must hold vc.mu.
func (vc *VectorClock) growLocked(tid uint16) {
	if int(tid) < len(vc.clocks) {
		return
	}
	grown := make([]uint64, int(tid)+1)
	copy(grown, vc.clocks)
	vc.clocks = grown
}

// Clone creates a deep copy of the vector clock.
func (vc *VectorClock) Clone() *VectorClock {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	clone := &VectorClock{
		clocks: make([]uint64, len(vc.clocks)),
		maxTID: vc.maxTID,
		used:   vc.used,
	}
	copy(clone.clocks, vc.clocks)
	return clone
}

// Join performs point-wise maximum: vc = vc ⊔ other.
//
// This is the synchronization operation for happens-before: a thread
// acquiring a lock joins its own clock with the lock's released clock.
func (vc *VectorClock) Join(other *VectorClock) {
	other.mu.Lock()
	otherLen := len(other.clocks)
	otherClocks := make([]uint64, otherLen)
	copy(otherClocks, other.clocks)
	otherMax := other.maxTID
	other.mu.Unlock()

	vc.mu.Lock()
	defer vc.mu.Unlock()
	if otherLen > len(vc.clocks) {
		vc.growLocked(uint16(otherLen - 1))
	}
	for i := 0; i < otherLen; i++ {
		if otherClocks[i] > vc.clocks[i] {
			vc.clocks[i] = otherClocks[i]
		}
	}
	if otherMax > vc.maxTID {
		vc.maxTID = otherMax
	}
}

// LessOrEqual checks partial order: vc ⊑ other (vc[i] <= other[i] for all i).
func (vc *VectorClock) LessOrEqual(other *VectorClock) bool {
	vc.mu.Lock()
	mine := make([]uint64, len(vc.clocks))
	copy(mine, vc.clocks)
	vc.mu.Unlock()

	other.mu.Lock()
	theirs := make([]uint64, len(other.clocks))
	copy(theirs, other.clocks)
	other.mu.Unlock()

	for i, v := range mine {
		var o uint64
		if i < len(theirs) {
			o = theirs[i]
		}
		if v > o {
			return false
		}
	}
	return true
}

// HappensBefore is an alias for LessOrEqual, used where the happens-before
// phrasing reads more naturally at the call site.
func (vc *VectorClock) HappensBefore(other *VectorClock) bool {
	return vc.LessOrEqual(other)
}

// Increment advances the clock for thread tid by one.
func (vc *VectorClock) Increment(tid uint16) {
	vc.mu.Lock()
	vc.growLocked(tid)
	vc.clocks[tid]++
	if tid > vc.maxTID || !vc.used {
		vc.maxTID = tid
	}
	vc.used = true
	vc.mu.Unlock()
}

// Get returns the clock value for thread tid. Threads never observed by this
// clock read as 0.
func (vc *VectorClock) Get(tid uint16) uint64 {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if int(tid) >= len(vc.clocks) {
		return 0
	}
	return vc.clocks[tid]
}

// Set sets the clock value for thread tid.
func (vc *VectorClock) Set(tid uint16, clock uint64) {
	vc.mu.Lock()
	vc.growLocked(tid)
	vc.clocks[tid] = clock
	if tid > vc.maxTID || !vc.used {
		vc.maxTID = tid
	}
	vc.used = true
	vc.mu.Unlock()
}

// GetMaxTID returns the highest thread ID this clock has recorded a value
// for. A fresh clock reports 0, same as a clock that has only recorded tid 0.
func (vc *VectorClock) GetMaxTID() uint16 {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.maxTID
}

// String returns a debug representation of the vector clock.
//
// Format: "{tid1:clock1, tid2:clock2, ...}" showing only non-zero clocks,
// in ascending tid order.
func (vc *VectorClock) String() string {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	var parts []string
	for i, c := range vc.clocks {
		if c != 0 {
			parts = append(parts, itoa(uint64(i))+":"+itoa(c))
		}
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// itoa converts an integer to string without fmt import.
// Kept to match the rest of the engine's allocation-sensitive packages,
// which avoid fmt on hot paths.
func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	tmp := n
	digits := 0
	for tmp > 0 {
		digits++
		tmp /= 10
	}
	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf)
}
