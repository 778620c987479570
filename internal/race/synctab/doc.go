// Package synctab implements shadow state for synchronization primitives:
// mutexes, channels, and wait groups.
//
// # Happens-before from synchronization
//
// Every sync primitive has a SyncVar holding a release clock - the vector
// clock of the goroutine that last released it. Acquiring the primitive
// joins that clock into the acquirer's own clock:
//
//	Release(m):  Lm := Ct ;  Ct[t]++
//	Acquire(m):  Ct := Ct ⊔ Lm ;  Ct[t]++
//
// where Ct is thread t's vector clock, Lm is the primitive's release clock,
// and ⊔ is element-wise max (VectorClock.Join). This is the same rule for
// mutexes, RWMutex read/write sections, channel send/receive, and
// WaitGroup Add/Wait; ChannelState and WaitGroupState only exist because
// those primitives need more than one clock (a channel needs its send,
// receive, and close clocks kept apart; a WaitGroup needs the Done clock
// kept apart from the counter).
//
// # The table
//
// SyncVar lookup is address-partitioned rather than behind a single lock or
// a single sync.Map: addr>>3 modulo the partition count picks a bucket, and
// each bucket is an independent mutex-guarded linked list. GetAndLock scans
// the bucket read-locked, and only upgrades to a write lock (re-scanning in
// case of a concurrent insert) when the SyncVar doesn't exist yet; the
// returned SyncVar is locked in the caller's requested mode before
// GetAndLock returns, with the partition lock already released. This
// mirrors a real TSan runtime's sync table, which cannot afford one global
// lock across every mutex and channel in the process.
package synctab
