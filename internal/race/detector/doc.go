// Package detector implements dynamic data-race detection: a fixed
// multi-slot shadow cell per aligned 8-byte word, vector clocks for full
// happens-before tracking, and synchronization handlers for mutexes,
// channels, wait groups, and goroutine lifecycle.
//
// # Architecture
//
// The detector wires four packages together:
//
//  1. shadowmem: per-address ShadowCell, four rotating access slots
//  2. vectorclock/epoch: happens-before state per goroutine
//  3. synctab: release/acquire clocks for locks, channels, wait groups
//  4. threadregistry: goroutine create/start/exit/join/detach lifecycle
//
// OnRead and OnWrite are the hot path, called on every instrumented
// memory access. They look up (or create) the address's shadow cell,
// run CheckAccess against the calling goroutine's current epoch and
// vector clock, and report through reportRaceV2 on a hit.
//
// # Synchronization model
//
// Every lock-shaped primitive (sync.Mutex, sync.RWMutex, channels, wait
// groups) is backed by one SyncVar in the sync table, keyed by its
// address. OnRelease captures the releasing goroutine's clock; OnAcquire
// joins it into the acquirer's. RWMutex read unlock uses OnReleaseMerge;
// it shares OnRelease's merge, so multiple readers' clocks accumulate into
// one release clock instead of the last one winning.
//
// # Sampling
//
// When a Sampler is configured, onAccess may skip an access entirely
// before touching shadow memory, trading detection probability for
// throughput on hot loops.
//
// # Thread safety
//
// ShadowMemory is backed by sync.Map; the sync table is partitioned and
// per-partition mutex guarded; RaceContext state is owned by exactly one
// goroutine and never touched concurrently.
package detector
