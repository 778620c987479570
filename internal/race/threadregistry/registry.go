package threadregistry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kolkov/racedetector/internal/race/vectorclock"
	"github.com/rs/zerolog"
)

// Status is a ThreadContext's position in the lifecycle state machine.
type Status int

const (
	StatusInvalid Status = iota
	StatusCreated
	StatusRunning
	StatusFinished
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "invalid"
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// kMaxTid bounds the number of live+quarantined slots the registry will
// ever allocate; exceeding it with an empty dead list is a fatal resource
// exhaustion (there is nowhere left to put the new thread).
const kMaxTid = 8192

// kThreadQuarantineSize is how many dead slots accumulate before the
// registry starts reusing them for new Create calls, delaying slot reuse
// to reduce the chance a report about to be formatted still references
// the old incarnation's shadow state.
const kThreadQuarantineSize = 100

// ErrThreadLimitExceeded is returned by Create when every slot up to
// kMaxTid is in use and the dead list (the only source of reusable slots
// past that point) is empty. Callers should treat this as fatal.
var ErrThreadLimitExceeded = errors.New("threadregistry: thread limit exceeded")

// ThreadContext is one slot in the registry: the lifecycle and
// happens-before state for one incarnation of one goroutine slot.
type ThreadContext struct {
	Slot uint16

	// UID is the host's identifier for the goroutine occupying this slot
	// (for example, a runtime goroutine id). Zero once Dead.
	UID uint64

	Status     Status
	Detached   bool
	ReuseCount uint32

	// Epoch0/Epoch1 bound the logical-clock range this incarnation of the
	// slot owns: [Epoch0, Epoch1]. Epoch1 is provisional (unset) until
	// Finish records the final epoch reached.
	Epoch0 uint64
	Epoch1 uint64

	// SyncClock is released into by Create (from the creator) and Finish
	// (from the finisher), and acquired from by Start and Join.
	SyncClock *vectorclock.VectorClock

	// CreationStackHash identifies the stack captured at Create, for
	// reports that need to show where a thread was spawned.
	CreationStackHash uint32

	next *ThreadContext // dead-list FIFO chain
}

// Registry is the process-wide table of thread slots, their lifecycle
// status, and the FIFO quarantine of dead slots awaiting reuse.
type Registry struct {
	mu sync.Mutex

	slots     []*ThreadContext
	threadSeq uint32

	// uidIndex maps a live (Created/Running/Finished) UID to its slot, so
	// Join/Detach don't need a linear scan over every slot.
	uidIndex map[uint64]uint16

	deadHead, deadTail *ThreadContext
	deadSize           int

	log zerolog.Logger
}

// New creates an empty thread registry with a disabled logger; call
// SetLogger to receive leaked-thread warnings from Finalize.
func New() *Registry {
	return &Registry{uidIndex: make(map[uint64]uint16), log: zerolog.Nop()}
}

// SetLogger installs the logger Finalize uses to report leaked threads.
func (r *Registry) SetLogger(l zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = l
}

// Create allocates (or reuses, from the dead list) a slot for a new
// goroutine identified by uid, and releases creatorClock into its sync
// clock. creatorClock should be the creating goroutine's clock after its
// own epoch has already been advanced by the caller (the dispatcher),
// matching a real engine's ThreadCreate: the creator's epoch increment
// and trace event happen before the release, not inside Create.
func (r *Registry) Create(uid uint64, detached bool, creatorClock *vectorclock.VectorClock) (*ThreadContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tc *ThreadContext

	if r.deadSize > kThreadQuarantineSize || uint32(r.threadSeq) >= kMaxTid {
		if r.deadSize == 0 {
			return nil, fmt.Errorf("%w: %d", ErrThreadLimitExceeded, kMaxTid)
		}
		tc = r.deadHead
		r.deadHead = tc.next
		r.deadSize--
		if r.deadSize == 0 {
			r.deadTail = nil
		}
		tc.next = nil
		tc.ReuseCount++
		tc.Status = StatusInvalid
		// Fresh clock for the new incarnation: the dead incarnation's
		// SyncClock carries happens-before edges from everything that
		// Join'd/Detach'd against it, and those must not leak onto
		// whatever this slot represents next. tc.Epoch1 is deliberately
		// NOT reset here - it still holds the prior incarnation's final
		// epoch, and Start uses it as the continuation base
		// (Epoch0 = Epoch1 + 1) so the two incarnations' epoch ranges on
		// this slot never overlap.
		tc.SyncClock = vectorclock.New()
	} else {
		slot := uint16(r.threadSeq)
		r.threadSeq++
		tc = &ThreadContext{Slot: slot, SyncClock: vectorclock.New()}
		r.slots = append(r.slots, tc)
	}

	tc.Status = StatusCreated
	tc.UID = uid
	tc.Detached = detached
	tc.Epoch0 = 0

	if creatorClock != nil {
		tc.SyncClock.Join(creatorClock)
	}

	r.uidIndex[uid] = tc.Slot
	return tc, nil
}

// Start transitions slot from Created to Running, fixing the epoch range
// this incarnation starts at one past the previous incarnation's high
// water mark (or zero, for a fresh slot). Returns the sync clock the
// caller should acquire into the new goroutine's own clock.
func (r *Registry) Start(slot uint16) (*ThreadContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tc, err := r.lockedSlot(slot)
	if err != nil {
		return nil, err
	}
	if tc.Status != StatusCreated {
		return nil, fmt.Errorf("threadregistry: Start on slot %d in state %s, want %s", slot, tc.Status, StatusCreated)
	}

	tc.Status = StatusRunning
	tc.Epoch0 = tc.Epoch1 + 1
	return tc, nil
}

// Finish transitions slot to Finished (or straight to Dead if detached),
// releasing finalClock into the slot's sync clock and recording
// finalEpoch as the incarnation's high-water mark.
func (r *Registry) Finish(slot uint16, finalClock *vectorclock.VectorClock, finalEpoch uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tc, err := r.lockedSlot(slot)
	if err != nil {
		return err
	}
	if tc.Status != StatusRunning {
		return fmt.Errorf("threadregistry: Finish on slot %d in state %s, want %s", slot, tc.Status, StatusRunning)
	}

	if finalClock != nil {
		tc.SyncClock.Join(finalClock)
	}
	tc.Epoch1 = finalEpoch

	if tc.Detached {
		r.markDeadLocked(tc)
	} else {
		tc.Status = StatusFinished
	}
	return nil
}

// Join finds the Finished slot for uid, acquires its sync clock (the
// caller should Join the returned clock into its own), and promotes the
// slot to Dead. Returns nil, nil if uid is unknown or hasn't finished -
// callers should log and continue, matching a bad-input-from-
// instrumentation policy rather than treating it as fatal.
func (r *Registry) Join(uid uint64) (*vectorclock.VectorClock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.uidIndex[uid]
	if !ok {
		return nil, nil
	}
	tc := r.slots[slot]
	if tc.Status != StatusFinished {
		return nil, nil
	}

	clock := tc.SyncClock.Clone()
	r.markDeadLocked(tc)
	return clock, nil
}

// Detach marks uid's slot detached; if it has already finished, this
// immediately promotes it to Dead (mirroring a Join that no one will ever
// call). Returns false if uid is unknown.
func (r *Registry) Detach(uid uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.uidIndex[uid]
	if !ok {
		return false
	}
	tc := r.slots[slot]
	if tc.Status == StatusFinished {
		r.markDeadLocked(tc)
	} else {
		tc.Detached = true
	}
	return true
}

// Finalize scans every slot for threads still live (or finished but
// un-joined) and not detached - these are leaked threads, reported but
// not fatal.
func (r *Registry) Finalize() []*ThreadContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	var leaked []*ThreadContext
	for _, tc := range r.slots {
		if tc.Detached {
			continue
		}
		switch tc.Status {
		case StatusCreated, StatusRunning, StatusFinished:
			leaked = append(leaked, tc)
			r.log.Warn().Uint16("slot", tc.Slot).Uint64("uid", tc.UID).Str("status", tc.Status.String()).Msg("thread leaked at process exit")
		}
	}
	return leaked
}

// markDeadLocked promotes tc to Dead and appends it to the FIFO dead
// list. Callers must hold r.mu.
func (r *Registry) markDeadLocked(tc *ThreadContext) {
	tc.Status = StatusDead
	delete(r.uidIndex, tc.UID)
	tc.UID = 0
	tc.next = nil

	if r.deadSize == 0 {
		r.deadHead = tc
	} else {
		r.deadTail.next = tc
	}
	r.deadTail = tc
	r.deadSize++
}

func (r *Registry) lockedSlot(slot uint16) (*ThreadContext, error) {
	if int(slot) >= len(r.slots) {
		return nil, fmt.Errorf("threadregistry: unknown slot %d", slot)
	}
	return r.slots[slot], nil
}
