// Package shadowmem implements the shadow memory used for data-race detection.
//
// # Overview
//
// Every 8-byte-aligned window of instrumented application memory is backed
// by a ShadowCell, a fixed-width record of the last ShadowCnt accesses to
// that window. Each access is packed into a single 64-bit slot encoding the
// accessing epoch, whether it was a read or write, and the sub-word byte
// range it touched.
//
// CheckAccess applies one new access against a cell's existing slots: it
// looks for an overlapping record from another thread that the new access
// does not happen-after, reports that as a race, and otherwise folds the new
// access into the cell (reusing a same-thread slot, filling an empty one, or
// evicting pseudo-randomly when the cell is full).
//
// # Components
//
// ShadowCell: fixed-size per-window access history (this file's cell.go).
//
// CheckAccess: the access handler / race check (varstate.go).
//
// ShadowMemory: the process-wide address -> ShadowCell map, backed by
// sync.Map by default (shadow_map.go), with a lock-free open-addressed array
// backend available for latency-sensitive callers (shadow_cas.go,
// CASShadowMemory).
//
// # Thread Safety
//
// ShadowCell slots are accessed with plain atomic loads/stores rather than a
// mutex. Two goroutines racing on the *shadow state itself* (not the
// application memory it describes) can occasionally clobber each other's
// slot update; this is an accepted relaxation, not a correctness bug in the
// happens-before check, mirroring the same trade TSan's own shadow words
// make. Reset() is not safe for concurrent access.
package shadowmem
