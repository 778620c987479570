package shadowmem

import (
	"sync/atomic"

	"github.com/kolkov/racedetector/internal/race/epoch"
)

const (
	// ShadowCellBytes is the number of consecutive application bytes a single
	// ShadowCell covers. All accesses within the same 8-byte-aligned window
	// share one cell.
	ShadowCellBytes = 8

	// ShadowCnt is the number of access records ("slots") held per cell.
	// TSan ships this as a build-time knob (2/4/8); 4 is the balance this
	// engine ships between memory footprint and how many distinct
	// sub-word accesses a cell can remember before eviction kicks in.
	ShadowCnt = 4

	slotEpochShift  = 8
	slotWriteBit    = 1 << 7
	slotOffsetShift = 4
	slotOffsetMask  = 0x7
	slotSizeShift   = 2
	slotSizeMask    = 0x3
)

// packSlot encodes one access record into the 64-bit shadow-word format:
// [epoch:56][is_write:1][byte_offset:3][access_size_log:2][reserved:2].
func packSlot(e epoch.Epoch, isWrite bool, byteOffset, accessSizeLog uint8) uint64 {
	v := uint64(e) << slotEpochShift
	if isWrite {
		v |= slotWriteBit
	}
	v |= uint64(byteOffset&slotOffsetMask) << slotOffsetShift
	v |= uint64(accessSizeLog&slotSizeMask) << slotSizeShift
	return v
}

// slotEpoch extracts the epoch from a packed slot.
func slotEpoch(v uint64) epoch.Epoch {
	return epoch.Epoch(v >> slotEpochShift)
}

// SlotEpoch extracts the epoch embedded in a packed shadow slot. Exported
// for callers outside this package that only have the raw PrevSlot value
// from a Race (race reports need the conflicting access's thread/clock to
// format a report).
func SlotEpoch(v uint64) epoch.Epoch {
	return slotEpoch(v)
}

// slotIsWrite reports whether the packed slot recorded a write.
func slotIsWrite(v uint64) bool {
	return v&slotWriteBit != 0
}

// slotOffset extracts the byte offset (0-7) within the shadow cell.
func slotOffset(v uint64) uint8 {
	return uint8((v >> slotOffsetShift) & slotOffsetMask)
}

// slotSizeLog extracts access_size_log (0=1 byte, 1=2 bytes, 2=4 bytes, 3=8 bytes).
func slotSizeLog(v uint64) uint8 {
	return uint8((v >> slotSizeShift) & slotSizeMask)
}

// slotSize returns the access size in bytes implied by access_size_log.
func slotSize(v uint64) uint8 {
	return 1 << slotSizeLog(v)
}

// slotEmpty reports whether a slot has never been written (zero value).
func slotEmpty(v uint64) bool {
	return v == 0
}

// slotsOverlap reports whether two packed slots' byte ranges intersect.
func slotsOverlap(a, b uint64) bool {
	aStart, aEnd := slotOffset(a), slotOffset(a)+slotSize(a)
	bStart, bEnd := slotOffset(b), slotOffset(b)+slotSize(b)
	return aStart < bEnd && bStart < aEnd
}

// ShadowCell is the fixed-width access history for one ShadowCellBytes-aligned
// window of application memory. Slots are read and written with plain atomic
// loads/stores rather than a mutex: races on the shadow state itself are a
// deliberately accepted relaxation (see package doc), the same trade TSan
// makes in its own shadow words.
type ShadowCell struct {
	slots [ShadowCnt]atomic.Uint64
	evict atomic.Uint32
}

// NewShadowCell returns a cell with all slots empty.
func NewShadowCell() *ShadowCell {
	return &ShadowCell{}
}

// Load returns a point-in-time snapshot of all slots.
func (c *ShadowCell) Load() [ShadowCnt]uint64 {
	var snap [ShadowCnt]uint64
	for i := range c.slots {
		snap[i] = c.slots[i].Load()
	}
	return snap
}

// StoreSlot writes v into slot index i.
func (c *ShadowCell) StoreSlot(i int, v uint64) {
	c.slots[i].Store(v)
}

// CompareAndSwapSlot attempts to replace slot i's value, used when updating
// a same-thread record in place without disturbing concurrent readers of
// other slots.
func (c *ShadowCell) CompareAndSwapSlot(i int, old, newV uint64) bool {
	return c.slots[i].CompareAndSwap(old, newV)
}

// PickEvictSlot returns a pseudo-randomly chosen slot index to overwrite
// when every slot is occupied by a non-mergeable record. This mirrors TSan's
// own choice of a cheap rotating counter over a true LRU policy: a full cell
// is already a rare, best-effort scenario, so eviction accuracy matters less
// than keeping the check branch-free.
func (c *ShadowCell) PickEvictSlot() int {
	n := c.evict.Add(1)
	return int(n % ShadowCnt)
}
