package synctab

import (
	"sync"

	"github.com/kolkov/racedetector/internal/race/vectorclock"
)

// ChannelState tracks the three clocks a Go channel needs to establish
// happens-before across send/receive/close:
//
//   - sendClock: joined into a receiver's clock on a successful recv, so a
//     receive happens-after every send that preceded it in the channel's
//     FIFO order (approximated: the latest send clock covers all prior
//     sends since each send joins the channel's outgoing clock first).
//   - recvClock: joined into a sender's clock when the channel is
//     synchronous/unbuffered and a send must rendezvous with a receive.
//   - closeClock: joined into every goroutine that subsequently observes
//     the channel closed (a receive that returns ok=false), since close()
//     happens-before every such observation.
type ChannelState struct {
	mu         sync.Mutex
	sendClock  *vectorclock.VectorClock
	recvClock  *vectorclock.VectorClock
	closeClock *vectorclock.VectorClock
	isClosed   bool
}

func newChannelState() *ChannelState {
	return &ChannelState{
		sendClock:  vectorclock.New(),
		recvClock:  vectorclock.New(),
		closeClock: vectorclock.New(),
	}
}

// MergeSendClock joins clock into the channel's send clock under lock.
func (cs *ChannelState) MergeSendClock(clock *vectorclock.VectorClock) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.sendClock.Join(clock)
}

// SendClock returns a clone of the channel's current send clock.
func (cs *ChannelState) SendClock() *vectorclock.VectorClock {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.sendClock.Clone()
}

// MergeRecvClock joins clock into the channel's receive clock under lock.
func (cs *ChannelState) MergeRecvClock(clock *vectorclock.VectorClock) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.recvClock.Join(clock)
}

// RecvClock returns a clone of the channel's current receive clock.
func (cs *ChannelState) RecvClock() *vectorclock.VectorClock {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.recvClock.Clone()
}

// Close records clock as the close clock and marks the channel closed.
// A no-op if the channel is already closed (a second close is a program
// bug the detector doesn't need to special-case here).
func (cs *ChannelState) Close(clock *vectorclock.VectorClock) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.isClosed {
		return
	}
	cs.closeClock.Join(clock)
	cs.isClosed = true
}

// CloseClock returns a clone of the channel's close clock, and whether the
// channel has been closed at all.
func (cs *ChannelState) CloseClock() (*vectorclock.VectorClock, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.closeClock.Clone(), cs.isClosed
}

// WaitGroupState tracks the clock a WaitGroup's Wait() happens-after: the
// join of every Add(-n)/Done call that brought the counter to zero.
type WaitGroupState struct {
	mu        sync.Mutex
	doneClock *vectorclock.VectorClock
	counter   int32
}

func newWaitGroupState() *WaitGroupState {
	return &WaitGroupState{doneClock: vectorclock.New()}
}

// Add applies delta to the counter and returns the resulting value.
func (ws *WaitGroupState) Add(delta int32) int32 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.counter += delta
	return ws.counter
}

// Counter returns the current counter value.
func (ws *WaitGroupState) Counter() int32 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.counter
}

// MergeDoneClock joins clock into the WaitGroup's done clock. Called from
// every Done() so that by the time the counter reaches zero, the done
// clock covers every goroutine that called Done.
func (ws *WaitGroupState) MergeDoneClock(clock *vectorclock.VectorClock) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.doneClock.Join(clock)
}

// DoneClock returns a clone of the accumulated done clock.
func (ws *WaitGroupState) DoneClock() *vectorclock.VectorClock {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.doneClock.Clone()
}

// SyncVar is the shadow state for one synchronization primitive, keyed by
// its runtime address. The mutex mu guards accessorClock and the lazily
// created channel/waitGroup extension state, and is also the lock that
// SyncTab.GetAndLock hands back to callers in the requested mode - it is
// not only an implementation detail, it IS the lock API callers take.
type SyncVar struct {
	Addr uintptr

	mu sync.RWMutex

	// releaseClock is the plain mutex/RWMutex case: the clock of the
	// goroutine that last released this primitive.
	releaseClock *vectorclock.VectorClock

	// isRW marks a primitive that supports a shared read-locked mode
	// (sync.RWMutex); GetAndLock honors this by taking mu.RLock instead
	// of mu.Lock when the caller asks for a read acquire.
	isRW bool

	channel   *ChannelState
	waitGroup *WaitGroupState

	// next chains this SyncVar into its partition's bucket list.
	next *SyncVar
}

func newSyncVar(addr uintptr) *SyncVar {
	return &SyncVar{
		Addr:         addr,
		releaseClock: vectorclock.New(),
	}
}

// Lock locks the SyncVar's own mutex for an exclusive (write) acquire.
func (sv *SyncVar) Lock() { sv.mu.Lock() }

// Unlock releases an exclusive acquire taken by Lock.
func (sv *SyncVar) Unlock() { sv.mu.Unlock() }

// RLock locks the SyncVar's own mutex for a shared (read) acquire.
func (sv *SyncVar) RLock() { sv.mu.RLock() }

// RUnlock releases a shared acquire taken by RLock.
func (sv *SyncVar) RUnlock() { sv.mu.RUnlock() }

// MarkRW flags this SyncVar as backing a sync.RWMutex, so SyncTab callers
// know a read acquire is legal.
func (sv *SyncVar) MarkRW() { sv.isRW = true }

// IsRW reports whether this SyncVar was marked as a RWMutex.
func (sv *SyncVar) IsRW() bool { return sv.isRW }

// MergeReleaseClock joins clock into the release clock under the SyncVar's
// own lock, which the caller is expected to already hold via GetAndLock.
func (sv *SyncVar) MergeReleaseClock(clock *vectorclock.VectorClock) {
	sv.releaseClock.Join(clock)
}

// ReleaseClock returns a clone of the current release clock.
func (sv *SyncVar) ReleaseClock() *vectorclock.VectorClock {
	return sv.releaseClock.Clone()
}

// Channel returns this SyncVar's channel extension state, allocating it on
// first use. Not safe to call without holding sv's lock.
func (sv *SyncVar) Channel() *ChannelState {
	if sv.channel == nil {
		sv.channel = newChannelState()
	}
	return sv.channel
}

// WaitGroup returns this SyncVar's wait-group extension state, allocating
// it on first use. Not safe to call without holding sv's lock.
func (sv *SyncVar) WaitGroup() *WaitGroupState {
	if sv.waitGroup == nil {
		sv.waitGroup = newWaitGroupState()
	}
	return sv.waitGroup
}
