package synctab

import (
	"sync"
	"testing"

	"github.com/kolkov/racedetector/internal/race/vectorclock"
)

func TestGetAndLockCreatesOnFirstAccess(t *testing.T) {
	tab := New()
	v := tab.GetAndLock(0x1000, true)
	if v == nil {
		t.Fatal("GetAndLock returned nil")
	}
	if v.Addr != 0x1000 {
		t.Errorf("Addr = %#x, want 0x1000", v.Addr)
	}
	v.Unlock()
}

func TestGetAndLockReturnsSameSyncVar(t *testing.T) {
	tab := New()
	v1 := tab.GetAndLock(0x2000, true)
	v1.Unlock()

	v2 := tab.GetAndLock(0x2000, true)
	v2.Unlock()

	if v1 != v2 {
		t.Error("GetAndLock for the same address returned different SyncVars")
	}
}

func TestGetAndLockWriteModeExclusive(t *testing.T) {
	tab := New()
	v := tab.GetAndLock(0x3000, true)

	acquired := make(chan struct{})
	go func() {
		v2 := tab.GetAndLock(0x3000, true)
		v2.Unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("write lock was acquired concurrently with an outstanding write lock")
	default:
	}
	v.Unlock()
	<-acquired
}

func TestGetAndLockReadModeShared(t *testing.T) {
	tab := New()
	v1 := tab.GetAndLock(0x4000, false)
	v2 := tab.GetAndLock(0x4000, false)
	v1.RUnlock()
	v2.RUnlock()
}

func TestGetAndRemoveUnlinksAndDrains(t *testing.T) {
	tab := New()
	v := tab.GetAndLock(0x5000, true)
	v.Unlock()

	removed := tab.GetAndRemove(0x5000)
	if removed == nil {
		t.Fatal("GetAndRemove returned nil for a known address")
	}
	if removed.Addr != 0x5000 {
		t.Errorf("Addr = %#x, want 0x5000", removed.Addr)
	}

	v2 := tab.GetAndLock(0x5000, true)
	v2.Unlock()
	if v2 == removed {
		t.Error("GetAndLock after GetAndRemove should allocate a fresh SyncVar")
	}
}

func TestGetAndRemoveMissingReturnsNil(t *testing.T) {
	tab := New()
	if v := tab.GetAndRemove(0x6000); v != nil {
		t.Error("GetAndRemove on an untouched address should return nil")
	}
}

func TestConcurrentGetAndLockDistinctAddresses(t *testing.T) {
	tab := New()
	var wg sync.WaitGroup
	for i := uintptr(0); i < 256; i++ {
		wg.Add(1)
		go func(addr uintptr) {
			defer wg.Done()
			v := tab.GetAndLock(addr*8, true)
			v.MergeReleaseClock(vectorclock.New())
			v.Unlock()
		}(i)
	}
	wg.Wait()
}

func TestReleaseAcquireHappensBefore(t *testing.T) {
	tab := New()

	c1 := vectorclock.New()
	c1.Increment(1)

	// Thread 1 releases.
	sv := tab.GetAndLock(0x7000, true)
	sv.MergeReleaseClock(c1)
	released := sv.ReleaseClock()
	sv.Unlock()

	// Thread 2 acquires and joins the release clock.
	c2 := vectorclock.New()
	c2.Increment(2)
	sv2 := tab.GetAndLock(0x7000, true)
	acquired := sv2.ReleaseClock()
	sv2.Unlock()
	c2.Join(acquired)

	if !released.LessOrEqual(c2) {
		t.Error("acquirer's clock should dominate the releaser's clock after Join")
	}
}

func TestChannelStateSendRecvClose(t *testing.T) {
	tab := New()
	sv := tab.GetAndLock(0x8000, true)
	ch := sv.Channel()
	sv.Unlock()

	sendClock := vectorclock.New()
	sendClock.Increment(1)
	ch.MergeSendClock(sendClock)

	got := ch.SendClock()
	if !sendClock.LessOrEqual(got) {
		t.Error("SendClock should reflect the merged send clock")
	}

	if _, closed := ch.CloseClock(); closed {
		t.Error("channel should not be closed before Close is called")
	}

	closeClock := vectorclock.New()
	closeClock.Increment(2)
	ch.Close(closeClock)

	if _, closed := ch.CloseClock(); !closed {
		t.Error("channel should be closed after Close")
	}
}

func TestWaitGroupStateCounterAndDoneClock(t *testing.T) {
	tab := New()
	sv := tab.GetAndLock(0x9000, true)
	wgState := sv.WaitGroup()
	sv.Unlock()

	if n := wgState.Add(2); n != 2 {
		t.Errorf("Add(2) = %d, want 2", n)
	}

	c1 := vectorclock.New()
	c1.Increment(1)
	wgState.MergeDoneClock(c1)
	if n := wgState.Add(-1); n != 1 {
		t.Errorf("Add(-1) = %d, want 1", n)
	}

	c2 := vectorclock.New()
	c2.Increment(2)
	wgState.MergeDoneClock(c2)
	if n := wgState.Add(-1); n != 0 {
		t.Errorf("Add(-1) = %d, want 0", n)
	}

	done := wgState.DoneClock()
	if !c1.LessOrEqual(done) || !c2.LessOrEqual(done) {
		t.Error("DoneClock should dominate every goroutine's Done clock")
	}
}

func TestMarkRW(t *testing.T) {
	tab := New()
	v := tab.GetAndLock(0xA000, true)
	v.MarkRW()
	v.Unlock()

	v2 := tab.GetAndLock(0xA000, false)
	defer v2.RUnlock()
	if !v2.IsRW() {
		t.Error("IsRW should persist across lookups for the same address")
	}
}

func TestResetClearsTable(t *testing.T) {
	tab := New()
	v := tab.GetAndLock(0xB000, true)
	v.Unlock()

	tab.Reset()

	if removed := tab.GetAndRemove(0xB000); removed != nil {
		t.Error("Reset should have cleared all SyncVars")
	}
}
