package timing

import "testing"

func TestDrainAllReturnsFIFOOrder(t *testing.T) {
	ch := NewChannel()
	ch.Push(Tick{PeriodFrames: 1024, NextTime: 100, NextPosition: 1024})
	ch.Push(Tick{PeriodFrames: 1024, NextTime: 200, NextPosition: 2048})

	ticks := ch.DrainAll()
	if len(ticks) != 2 {
		t.Fatalf("DrainAll() returned %d ticks, want 2", len(ticks))
	}
	if ticks[0].NextTime != 100 || ticks[1].NextTime != 200 {
		t.Fatalf("DrainAll() = %+v, want ordered by arrival", ticks)
	}
}

func TestDrainAllOnEmptyReturnsNil(t *testing.T) {
	ch := NewChannel()
	if ticks := ch.DrainAll(); ticks != nil {
		t.Fatalf("DrainAll() on empty channel = %v, want nil", ticks)
	}
}
