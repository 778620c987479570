package trace

import "testing"

func TestShadowStack_PushPop(t *testing.T) {
	s := NewShadowStack()
	if s.Depth() != 0 {
		t.Fatalf("new stack depth = %d, want 0", s.Depth())
	}
	s.FuncEnter(0x1000)
	s.FuncEnter(0x2000)
	if s.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", s.Depth())
	}
	snap := s.Snapshot()
	if len(snap) != 2 || snap[0] != 0x1000 || snap[1] != 0x2000 {
		t.Fatalf("snapshot = %v, want [0x1000 0x2000]", snap)
	}
	s.FuncExit()
	if s.Depth() != 1 {
		t.Fatalf("depth after FuncExit = %d, want 1", s.Depth())
	}
}

func TestShadowStack_ExitOnEmptyIsNoop(t *testing.T) {
	s := NewShadowStack()
	s.FuncExit()
	if s.Depth() != 0 {
		t.Error("FuncExit on an empty stack should not panic or go negative")
	}
}

func TestShadowStack_SnapshotIsIndependentCopy(t *testing.T) {
	s := NewShadowStack()
	s.FuncEnter(0x1000)
	snap := s.Snapshot()
	s.FuncEnter(0x2000)
	if len(snap) != 1 {
		t.Error("earlier snapshot should not observe a later FuncEnter")
	}
}

func TestTrace_RecordAndReadBack(t *testing.T) {
	tr := NewTrace()
	stack := NewShadowStack()
	stack.FuncEnter(0xAAAA)

	tr.Record(5, EventMemoryWrite, 0xDEAD, stack)

	evt, pc, _ := tr.EventAt(5)
	if evt != EventMemoryWrite {
		t.Errorf("eventType = %v, want EventMemoryWrite", evt)
	}
	if pc != 0xDEAD {
		t.Errorf("pc = %#x, want 0xDEAD", pc)
	}
}

func TestTrace_PartBoundarySnapshotsStack(t *testing.T) {
	tr := NewTrace()
	stack := NewShadowStack()
	stack.FuncEnter(0x1111)

	tr.Record(0, EventFuncEnter, 0x1111, stack) // epoch 0 is a part boundary

	_, _, header := tr.EventAt(0)
	if len(header.Stack) != 1 || header.Stack[0] != 0x1111 {
		t.Errorf("part header stack = %v, want [0x1111]", header.Stack)
	}
	if header.Epoch0 != 0 {
		t.Errorf("header.Epoch0 = %d, want 0", header.Epoch0)
	}
}

func TestTrace_WrapsAroundRingBuffer(t *testing.T) {
	tr := NewTrace()
	stack := NewShadowStack()

	tr.Record(TraceSize+3, EventMemoryRead, 0x7, stack)
	evt, pc, _ := tr.EventAt(3)
	if evt != EventMemoryRead || pc != 0x7 {
		t.Error("recording at epoch TraceSize+3 should land on the same slot as epoch 3")
	}
}
