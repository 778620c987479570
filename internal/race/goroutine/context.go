package goroutine

import (
	"github.com/kolkov/racedetector/internal/race/epoch"
	"github.com/kolkov/racedetector/internal/race/trace"
	"github.com/kolkov/racedetector/internal/race/vectorclock"
)

// RaceContext represents the race detection state for a single goroutine.
//
// Each goroutine has its own RaceContext tracking logical time and happens-before
// relationships. The context maintains both a full vector clock (C) and a cached
// epoch (Epoch) for the current thread.
//
// The epoch cache enables FastTrack's critical optimization: most operations
// (96%+) only need the epoch value, avoiding expensive vector clock operations.
//
// Layout:
//   - TID: Thread/Goroutine ID (0-65535, uint16)
//   - C: Full vector clock (growable, one uint64 per thread) tracking all threads
//   - Epoch: Cached value of C[TID] as compact 64-bit epoch
//
// Invariant: Epoch must ALWAYS equal epoch.NewEpoch(TID, C[TID]).
// This invariant is maintained by IncrementClock(), which updates both in turn.
type RaceContext struct {
	// TID is the thread/goroutine identifier (0-65535).
	// 16-bit uint for production (65,536 concurrent goroutines max).
	TID uint16

	// C is the full vector clock tracking logical time for all threads.
	// C[i] represents the logical time for thread i.
	// This is used for happens-before checks when epoch fast-path fails.
	C *vectorclock.VectorClock

	// Epoch is the cached epoch for this goroutine: Epoch == C[TID].
	// This enables O(1) access to the current logical time without
	// accessing the full vector clock array.
	//
	// CRITICAL: This field is on the hot path for every memory access!
	// Must be kept in sync with C[TID] at all times.
	Epoch epoch.Epoch

	// Stack is this goroutine's shadow call stack, pushed/popped by
	// FuncEnter/FuncExit.
	Stack *trace.ShadowStack

	// Trace is this goroutine's event ring buffer, written once per
	// IncrementClock call so past accesses can be reconstructed with
	// their call context in a race report.
	Trace *trace.Trace

	// inRTL is a nesting counter marking this goroutine as currently
	// executing detector-internal bookkeeping (formatting or logging a
	// race report). While nonzero, instrumented accesses performed by
	// that bookkeeping itself must not be re-checked for races, or the
	// detector could report races against its own report buffers.
	inRTL int32
}

// EnterRTL increments the runtime-library nesting counter. Call before
// doing any instrumented work on behalf of the detector itself.
func (ctx *RaceContext) EnterRTL() {
	ctx.inRTL++
}

// ExitRTL decrements the runtime-library nesting counter.
func (ctx *RaceContext) ExitRTL() {
	ctx.inRTL--
}

// InRTL reports whether this goroutine is currently inside
// detector-internal bookkeeping (EnterRTL called more times than
// ExitRTL so far).
func (ctx *RaceContext) InRTL() bool {
	return ctx.inRTL > 0
}

// Alloc creates and initializes a new RaceContext for the given thread ID.
//
// The context is initialized with:
//   - TID set to the provided tid
//   - C initialized with C[tid] = 1 and every other thread at time 0
//   - Epoch set to epoch.NewEpoch(tid, 1) (TID@1)
//
// This represents a newly started goroutine at the beginning of logical time.
// Clocks start at 1 so that the zero epoch stays the "never written" sentinel.
//
// Example:
//
//	ctx := Alloc(5)
//	// ctx.TID = 5
//	// ctx.C = {5:1, all others:0}
//	// ctx.Epoch = 1@5 (clock=1, tid=5)
func Alloc(tid uint16) *RaceContext {
	ctx := &RaceContext{
		TID:   tid,
		C:     vectorclock.New(),
		Stack: trace.NewShadowStack(),
		Trace: trace.NewTrace(),
	}
	// Initialize own clock and epoch cache to TID@1.
	ctx.C.Set(tid, 1)
	ctx.Epoch = epoch.NewEpoch(tid, 1)
	return ctx
}

// IncrementClock advances the logical clock for this goroutine.
//
// This is called on every memory access by this goroutine to represent
// forward progress in logical time. It performs two plain (non-atomic) updates:
//  1. Increments C[TID] in the vector clock
//  2. Updates the cached Epoch to reflect the new C[TID] value
//
// The updates are performed sequentially to maintain the invariant:
//
//	Epoch == epoch.NewEpoch(TID, C[TID])
//
// Performance: Target <200ns/op (VectorClock.Increment + Epoch creation).
// This is on the hot path - called millions of times during execution.
//
// Example:
//
//	ctx := Alloc(5)
//	// ctx.C[5] = 1, ctx.Epoch = 1@5
//	ctx.IncrementClock()
//	// ctx.C[5] = 2, ctx.Epoch = 2@5
//	ctx.IncrementClock()
//	// ctx.C[5] = 3, ctx.Epoch = 3@5
func (rc *RaceContext) IncrementClock() {
	// Step 1: Increment the vector clock for this thread.
	rc.C.Increment(rc.TID)

	// Step 2: Update the cached epoch to match C[TID].
	// This maintains the invariant: Epoch == epoch.NewEpoch(TID, C[TID]).
	rc.Epoch = epoch.NewEpoch(rc.TID, uint64(rc.C.Get(rc.TID)))
}

// RecordEvent writes one trace record at the goroutine's current clock
// value and, at a part boundary, snapshots the shadow stack into that
// part's header. Callers advance the clock via IncrementClock first, so
// exactly one RecordEvent call corresponds to exactly one clock advance -
// the invariant the trace ring buffer depends on.
//
// pc is the program counter of the access or call, when known; 0 is a
// valid placeholder where the caller (like raceread/racewrite) hasn't
// threaded a PC through yet.
func (rc *RaceContext) RecordEvent(evt trace.EventType, pc uintptr) {
	rc.Trace.Record(rc.C.Get(rc.TID), evt, pc, rc.Stack)
}

// FuncEnter pushes pc onto the shadow call stack. It records no trace
// event.
func (rc *RaceContext) FuncEnter(pc uintptr) {
	rc.Stack.FuncEnter(pc)
}

// FuncExit pops the shadow call stack.
func (rc *RaceContext) FuncExit() {
	rc.Stack.FuncExit()
}

// GetEpoch returns the cached epoch for this goroutine.
//
// This is the CRITICAL HOT PATH operation - called on every memory access
// for race detection. It must be:
//   - O(1): Just a field access, no computation
//   - Zero allocations
//   - Inline-candidate (no function call overhead)
//   - //go:nosplit to prevent stack growth
//
// The cached epoch represents the current logical time for this goroutine
// as a compact 64-bit value (16-bit TID above a 40-bit clock).
//
// Performance: Target <1ns/op (single field read).
//
// Example:
//
//	ctx := Alloc(5)
//	e := ctx.GetEpoch()  // Returns 1@5 (clock=1, tid=5)
//	ctx.IncrementClock()
//	e = ctx.GetEpoch()   // Returns 2@5 (clock=2, tid=5)
//
//go:nosplit
func (rc *RaceContext) GetEpoch() epoch.Epoch {
	return rc.Epoch
}
