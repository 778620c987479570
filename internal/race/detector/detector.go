package detector

import (
	"sync"

	"github.com/kolkov/racedetector/internal/race/goroutine"
	"github.com/kolkov/racedetector/internal/race/ignore"
	"github.com/kolkov/racedetector/internal/race/shadowmem"
	"github.com/kolkov/racedetector/internal/race/synctab"
	"github.com/kolkov/racedetector/internal/race/threadregistry"
	"github.com/kolkov/racedetector/internal/race/trace"
	"github.com/rs/zerolog"
)

// DetectorOptions configures a Detector at construction time.
type DetectorOptions struct {
	// Sampling controls probabilistic access checking; the zero value
	// means every access is checked.
	Sampling SamplerConfig

	// Logger receives structured warnings for bad input from
	// instrumentation (an unmatched Join, a Detach of an unknown thread).
	// The zero value is a disabled logger, so an instrumented program
	// pays nothing unless the host opts in.
	Logger zerolog.Logger
}

// Detector is the event dispatcher every raceread/racewrite/raceacquire/...
// entry point in package api routes through. It owns the three pieces of
// process-wide state a happens-before race detector needs: shadow memory
// (per-address access history), the sync-variable table (per-lock release
// clocks), and the thread registry (goroutine lifecycle and slot reuse).
type Detector struct {
	shadow  *shadowmem.ShadowMemory
	syncTab *synctab.SyncTab
	threads *threadregistry.Registry
	sampler *Sampler

	mu            sync.Mutex
	racesDetected int
	reportedRaces sync.Map

	log zerolog.Logger

	// ignoreLists holds parsed obj:/src:/fun:/fun_r:/fun_hist: suppression
	// rules (nil means none loaded). Checked in reportRaceV2 against
	// whatever function/file names are available for the current and
	// previous access; since this engine doesn't yet thread a resolved
	// function/file name through the hot path (see internal/race/trace's
	// pc=0 placeholder), the check only ever sees empty components today
	// and so never suppresses a report - the hook exists and is exercised
	// by the ignore list tests, but real suppression needs symbol
	// resolution this pass doesn't add.
	ignoreLists *ignore.Lists
}

// NewDetector creates a Detector with sampling disabled (every access
// checked) and a disabled logger.
func NewDetector() *Detector {
	return NewDetectorWithOptions(DetectorOptions{})
}

// NewDetectorWithOptions creates a Detector with the given sampling and
// logging configuration.
func NewDetectorWithOptions(opts DetectorOptions) *Detector {
	threads := threadregistry.New()
	threads.SetLogger(opts.Logger)
	return &Detector{
		shadow:  shadowmem.NewShadowMemory(),
		syncTab: synctab.New(),
		threads: threads,
		sampler: NewSampler(opts.Sampling),
		log:     opts.Logger,
	}
}

// SetLogger installs the logger the detector reports bad-input conditions
// to. Safe to call at any point; not safe for concurrent use with the
// detector's hot-path methods.
func (d *Detector) SetLogger(l zerolog.Logger) {
	d.log = l
	d.threads.SetLogger(l)
}

// SetIgnoreLists installs the parsed suppression rules a report is checked
// against before being printed. Pass nil to clear.
func (d *Detector) SetIgnoreLists(lists *ignore.Lists) {
	d.ignoreLists = lists
}

// IsSuppressed reports whether a race involving the given function, object
// file, and source file should be dropped per the installed ignore lists.
// Empty strings mean "unknown" for that component, per
// ignore.TripleVectorMatchKnown's semantics.
func (d *Detector) IsSuppressed(fun, obj, file string) bool {
	if d.ignoreLists == nil {
		return false
	}
	return d.ignoreLists.MatchesFun(fun) ||
		d.ignoreLists.MatchesObj(obj) ||
		d.ignoreLists.MatchesSrc(file)
}

// accessWordSize is the access size raceread/racewrite assume when the
// instrumentation front-end doesn't carry an explicit size (the common
// case: a scalar load or store). Multi-byte accesses go through
// OnAccessRange instead.
const accessWordSize = 8

// OnWrite handles a single scalar write to addr.
//
//go:nosplit
func (d *Detector) OnWrite(addr uintptr, ctx *goroutine.RaceContext) {
	d.onAccess(addr, ctx, shadowmem.Write, accessWordSize)
}

// OnRead handles a single scalar read from addr.
//
//go:nosplit
func (d *Detector) OnRead(addr uintptr, ctx *goroutine.RaceContext) {
	d.onAccess(addr, ctx, shadowmem.Read, accessWordSize)
}

// OnAccessRange handles a contiguous multi-byte access - a slice copy, a
// string comparison, a struct assignment - that the instrumentation
// front-end cannot size-log down to a single 1/2/4/8-byte word. It
// decomposes the range into an unaligned head, an 8-byte-aligned middle
// run, and an unaligned tail, checking each independently against shadow
// memory. This mirrors a TSan runtime's MemoryAccessRange.
func (d *Detector) OnAccessRange(addr, size uintptr, ctx *goroutine.RaceContext, kind shadowmem.AccessKind) {
	if size == 0 {
		return
	}
	end := addr + size
	cur := addr

	for cur < end && shadowmem.CellOffset(cur) != 0 {
		d.onAccess(cur, ctx, kind, 1)
		cur++
	}

	for cur+shadowmem.ShadowCellBytes <= end {
		d.onAccess(cur, ctx, kind, shadowmem.ShadowCellBytes)
		cur += shadowmem.ShadowCellBytes
	}

	for cur < end {
		d.onAccess(cur, ctx, kind, 1)
		cur++
	}
}

//go:nosplit
func (d *Detector) onAccess(addr uintptr, ctx *goroutine.RaceContext, kind shadowmem.AccessKind, size uint8) {
	if ctx.InRTL() {
		// This access was made by the detector's own report formatting/
		// logging, not by instrumented user code - don't recurse into
		// shadow-memory checks over it.
		return
	}

	if d.sampler != nil && !d.sampler.ShouldSample() {
		return
	}

	ctx.IncrementClock()
	evt := trace.EventMemoryWrite
	if kind == shadowmem.Read {
		evt = trace.EventMemoryRead
	}
	ctx.RecordEvent(evt, 0)

	cell := d.shadow.GetOrCreate(addr)
	offset := shadowmem.CellOffset(addr)
	race := shadowmem.CheckAccess(cell, ctx.TID, ctx.GetEpoch(), ctx.C, kind, offset, size)
	if race == nil {
		return
	}

	prevEpoch := shadowmem.SlotEpoch(race.PrevSlot)
	ctx.EnterRTL()
	d.reportRaceV2(raceTypeString(race.Kind), addr, nil, prevEpoch, ctx.GetEpoch())
	ctx.ExitRTL()
}

func raceTypeString(k shadowmem.RaceKind) string {
	switch k {
	case shadowmem.RaceWriteWrite:
		return RaceTypeWriteWrite
	case shadowmem.RaceReadWrite:
		return RaceTypeReadWrite
	case shadowmem.RaceWriteRead:
		return RaceTypeWriteRead
	default:
		return RaceTypeWriteWrite
	}
}

// OnAcquire establishes happens-before from the last release of addr (a
// mutex, RWMutex, or any other plain lock-shaped primitive) to this
// acquire: the acquiring goroutine joins the primitive's release clock
// into its own, then advances its own clock past the join point.
//
//go:nosplit
func (d *Detector) OnAcquire(addr uintptr, ctx *goroutine.RaceContext) {
	sv := d.syncTab.GetAndLock(addr, false)
	rc := sv.ReleaseClock()
	sv.RUnlock()

	ctx.C.Join(rc)
	ctx.IncrementClock()
	ctx.RecordEvent(trace.EventLock, 0)
}

// OnRelease captures the releasing goroutine's clock into addr's release
// clock, for a future OnAcquire to join. Release advances the releasing
// goroutine's own clock first, so the captured clock reflects every
// access made up to and including the unlock.
//
//go:nosplit
func (d *Detector) OnRelease(addr uintptr, ctx *goroutine.RaceContext) {
	d.release(addr, ctx)
}

// OnReleaseMerge is OnRelease's counterpart for RWMutex.RUnlock, where
// multiple readers may release out of program order. Like OnRelease, it
// merges into (rather than overwrites) the release clock, so no reader's
// happens-before contribution is lost regardless of unlock order.
//
//go:nosplit
func (d *Detector) OnReleaseMerge(addr uintptr, ctx *goroutine.RaceContext) {
	d.release(addr, ctx)
}

func (d *Detector) release(addr uintptr, ctx *goroutine.RaceContext) {
	ctx.IncrementClock()
	ctx.RecordEvent(trace.EventUnlock, 0)

	sv := d.syncTab.GetAndLock(addr, true)
	sv.MergeReleaseClock(ctx.C)
	sv.Unlock()
}

// OnChannelSendBefore is called before a channel send blocks/completes.
// Reserved for a future rendezvous check against a synchronous channel's
// pending receivers; currently a no-op.
func (d *Detector) OnChannelSendBefore(ch uintptr, ctx *goroutine.RaceContext) {}

// OnChannelSendAfter captures the sender's clock into ch's send clock,
// establishing happens-before to every subsequent receive.
func (d *Detector) OnChannelSendAfter(ch uintptr, ctx *goroutine.RaceContext) {
	ctx.IncrementClock()
	ctx.RecordEvent(trace.EventChannelSend, 0)

	sv := d.syncTab.GetAndLock(ch, true)
	sv.Channel().MergeSendClock(ctx.C)
	sv.Unlock()
}

// OnChannelRecvBefore is called before a channel receive operation.
// Currently a no-op, mirroring OnChannelSendBefore.
func (d *Detector) OnChannelRecvBefore(ch uintptr, ctx *goroutine.RaceContext) {}

// OnChannelRecvAfter merges ch's accumulated send and close clocks into
// the receiver's clock, establishing happens-before from every send (and
// from close, if the channel was closed) that preceded this receive.
func (d *Detector) OnChannelRecvAfter(ch uintptr, ctx *goroutine.RaceContext) {
	sv := d.syncTab.GetAndLock(ch, true)
	cs := sv.Channel()
	sendClock := cs.SendClock()
	closeClock, _ := cs.CloseClock()
	sv.Unlock()

	ctx.C.Join(sendClock)
	ctx.C.Join(closeClock)
	ctx.IncrementClock()
	ctx.RecordEvent(trace.EventChannelRecv, 0)
}

// OnChannelClose captures the closer's clock into ch's close clock, so
// every future receive that observes the channel closed happens-after it.
func (d *Detector) OnChannelClose(ch uintptr, ctx *goroutine.RaceContext) {
	ctx.IncrementClock()
	ctx.RecordEvent(trace.EventChannelClose, 0)

	sv := d.syncTab.GetAndLock(ch, true)
	sv.Channel().Close(ctx.C)
	sv.Unlock()
}

// OnWaitGroupAdd tracks a WaitGroup counter change. Add itself never
// establishes happens-before; only Done (which merges a clock) and Wait
// (which joins the accumulated clock) do.
func (d *Detector) OnWaitGroupAdd(wg uintptr, delta int, ctx *goroutine.RaceContext) {
	sv := d.syncTab.GetAndLock(wg, true)
	sv.WaitGroup().Add(int32(delta))
	sv.Unlock()
}

// OnWaitGroupDone merges the calling goroutine's clock into wg's done
// clock, so a Wait() that later observes the counter reaching zero can
// join every Done() that contributed to it.
func (d *Detector) OnWaitGroupDone(wg uintptr, ctx *goroutine.RaceContext) {
	ctx.IncrementClock()
	ctx.RecordEvent(trace.EventWaitGroupDone, 0)

	sv := d.syncTab.GetAndLock(wg, true)
	sv.WaitGroup().MergeDoneClock(ctx.C)
	sv.Unlock()
}

// OnWaitGroupWaitBefore is called before WaitGroup.Wait() blocks.
// Currently a no-op.
func (d *Detector) OnWaitGroupWaitBefore(wg uintptr, ctx *goroutine.RaceContext) {}

// OnWaitGroupWaitAfter joins wg's accumulated done clock into the
// waiter's clock once Wait() returns, establishing happens-before from
// every Done() call to the waiter.
func (d *Detector) OnWaitGroupWaitAfter(wg uintptr, ctx *goroutine.RaceContext) {
	sv := d.syncTab.GetAndLock(wg, true)
	doneClock := sv.WaitGroup().DoneClock()
	sv.Unlock()

	ctx.C.Join(doneClock)
}

// OnGoroutineCreate registers a new thread slot for uid (the host's
// identifier for the spawned goroutine) and releases the creator's clock
// into it, mirroring a TSan runtime's ThreadCreate. The creator's own
// clock is advanced first, so the released clock reflects the creating
// access.
func (d *Detector) OnGoroutineCreate(uid uint64, detached bool, ctx *goroutine.RaceContext) *threadregistry.ThreadContext {
	ctx.IncrementClock()
	ctx.RecordEvent(trace.EventGoroutineCreate, 0)
	tc, err := d.threads.Create(uid, detached, ctx.C)
	if err != nil {
		d.log.Error().Err(err).Uint64("uid", uid).Msg("thread registry exhausted")
		return nil
	}
	return tc
}

// OnGoroutineStart transitions tc to Running and acquires its sync clock
// into the newly started goroutine's own clock, completing the
// parent-creates-child happens-before edge.
func (d *Detector) OnGoroutineStart(tc *threadregistry.ThreadContext, ctx *goroutine.RaceContext) error {
	started, err := d.threads.Start(tc.Slot)
	if err != nil {
		d.log.Warn().Err(err).Msg("thread start on unexpected state")
		return err
	}
	ctx.C.Join(started.SyncClock)
	return nil
}

// OnGoroutineExit releases the finishing goroutine's clock into its slot
// and transitions it to Finished (or straight to Dead, if detached).
func (d *Detector) OnGoroutineExit(tc *threadregistry.ThreadContext, ctx *goroutine.RaceContext) error {
	ctx.IncrementClock()
	ctx.RecordEvent(trace.EventGoroutineExit, 0)
	_, clock := ctx.GetEpoch().Decode()
	if err := d.threads.Finish(tc.Slot, ctx.C, clock); err != nil {
		d.log.Warn().Err(err).Msg("thread finish on unexpected state")
		return err
	}
	return nil
}

// OnGoroutineJoin acquires the sync clock released by a Finished thread
// identified by uid, joining it into the joiner's clock. Joining an
// unknown or not-yet-finished uid is bad input from instrumentation, not
// a fatal condition: it's logged and treated as a no-op.
func (d *Detector) OnGoroutineJoin(uid uint64, ctx *goroutine.RaceContext) {
	clock, err := d.threads.Join(uid)
	if err != nil {
		d.log.Error().Err(err).Uint64("uid", uid).Msg("join of unknown thread")
		return
	}
	if clock != nil {
		ctx.C.Join(clock)
	}
}

// OnGoroutineDetach marks uid's thread as detached, so it never reports
// as leaked at process exit and its slot is reclaimed as soon as it
// finishes rather than waiting for a Join that will never come.
func (d *Detector) OnGoroutineDetach(uid uint64) {
	if !d.threads.Detach(uid) {
		d.log.Error().Uint64("uid", uid).Msg("detach of unknown thread")
	}
}

// FinalizeThreads reports every thread still live (or finished but never
// joined) and not detached at process exit - candidates for a goroutine
// leak warning.
func (d *Detector) FinalizeThreads() []*threadregistry.ThreadContext {
	return d.threads.Finalize()
}

// RacesDetected returns the number of unique races reported so far.
func (d *Detector) RacesDetected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.racesDetected
}

// Reset clears all detector state: shadow memory, the sync table, the
// thread registry, and the race counter. Not safe for concurrent use;
// callers must quiesce all instrumented goroutines first.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.racesDetected = 0
	d.reportedRaces = sync.Map{}
	d.mu.Unlock()

	d.shadow.Reset()
	d.syncTab.Reset()
	d.threads = threadregistry.New()
	d.threads.SetLogger(d.log)
}
