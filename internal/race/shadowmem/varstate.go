package shadowmem

import (
	"github.com/kolkov/racedetector/internal/race/epoch"
	"github.com/kolkov/racedetector/internal/race/vectorclock"
)

// AccessKind distinguishes a plain read from a write for CheckAccess.
type AccessKind uint8

const (
	Read AccessKind = iota
	Write
)

// RaceKind classifies the access-pair combination that produced a race.
type RaceKind uint8

const (
	// RaceNone means no race was found.
	RaceNone RaceKind = iota
	RaceWriteWrite
	RaceWriteRead
	RaceReadWrite
)

// Race describes a conflicting pair of accesses found by CheckAccess.
type Race struct {
	Kind     RaceKind
	PrevSlot uint64 // packed slot of the earlier, conflicting access
}

// CheckAccess applies one memory access (at cellOffset/size within a
// ShadowCellBytes-aligned cell) against the cell's existing slots, returning
// the first conflicting access found, if any, and recording the new access
// into the cell.
//
// Algorithm, mirroring TSan v2's shadow-word scan:
//  1. Scan every non-empty slot whose byte range overlaps this access.
//  2. Same thread as the slot's epoch: the earlier record is superseded;
//     remember it as a candidate to overwrite in place.
//  3. Different thread: if either side is a write and the earlier epoch does
//     NOT happen-before the current thread's vector clock, that's a race.
//     Read/read pairs across threads never race.
//  4. If no overlapping same-thread slot was found to reuse, write into the
//     first empty slot; if the cell is full, evict pseudo-randomly.
func CheckAccess(
	cell *ShadowCell,
	tid uint16,
	currentEpoch epoch.Epoch,
	vc *vectorclock.VectorClock,
	kind AccessKind,
	cellOffset, accessSize uint8,
) *Race {
	sizeLog := sizeLogOf(accessSize)
	newSlot := packSlot(currentEpoch, kind == Write, cellOffset, sizeLog)

	snap := cell.Load()

	reuseIdx := -1
	emptyIdx := -1
	var race *Race

	for i, v := range snap {
		if slotEmpty(v) {
			if emptyIdx == -1 {
				emptyIdx = i
			}
			continue
		}
		if !slotsOverlap(v, newSlot) {
			continue
		}

		prevTID, _ := slotEpoch(v).Decode()
		if prevTID == tid {
			// Same thread: this record is stale for happens-before purposes
			// the instant the new access lands, since a single thread's own
			// accesses are totally ordered. But it's only safe to overwrite
			// in place when the new access's byte range fully covers the
			// old one - otherwise the old slot still documents bytes this
			// access never touched, and dropping it would let a later,
			// different thread access those untouched bytes without being
			// checked against it.
			prevStart, prevEnd := slotOffset(v), slotOffset(v)+slotSize(v)
			newStart, newEnd := cellOffset, cellOffset+accessSize
			if newStart <= prevStart && prevEnd <= newEnd && reuseIdx == -1 {
				reuseIdx = i
			}
			continue
		}

		prevIsWrite := slotIsWrite(v)
		if kind == Read && !prevIsWrite {
			continue // read/read never races
		}

		if !slotEpoch(v).HappensBefore(vc) {
			k := RaceWriteRead
			switch {
			case prevIsWrite && kind == Write:
				k = RaceWriteWrite
			case prevIsWrite && kind == Read:
				k = RaceWriteRead
			case !prevIsWrite && kind == Write:
				k = RaceReadWrite
			}
			if race == nil {
				race = &Race{Kind: k, PrevSlot: v}
			}
		}
	}

	switch {
	case reuseIdx != -1:
		cell.StoreSlot(reuseIdx, newSlot)
	case emptyIdx != -1:
		cell.StoreSlot(emptyIdx, newSlot)
	default:
		cell.StoreSlot(cell.PickEvictSlot(), newSlot)
	}

	return race
}

// sizeLogOf converts a byte count (1,2,4,8) into access_size_log (0-3).
func sizeLogOf(size uint8) uint8 {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	default:
		return 3
	}
}
