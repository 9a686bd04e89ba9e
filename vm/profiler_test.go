package vm

import (
	"sync"
	"testing"
)

func TestProfilerCallThreshold(t *testing.T) {
	p := NewProfiler()
	p.FunctionHotThreshold = 5

	var hot []uint16
	p.OnHot = func(entry uint16, _ *FunctionProfile) { hot = append(hot, entry) }

	if p.RecordCall(0x40) {
		t.Error("function should not be hot after 1 call")
	}
	profile := p.Function(0x40)
	if profile == nil {
		t.Fatal("profile should exist after a call")
	}
	if profile.Calls != 1 {
		t.Errorf("calls = %d, want 1", profile.Calls)
	}

	var becameHot bool
	for range 4 {
		becameHot = p.RecordCall(0x40)
	}
	if !becameHot || !p.IsHot(0x40) {
		t.Error("function should become hot at the threshold")
	}
	if p.RecordCall(0x40) {
		t.Error("function should not re-trigger hot")
	}
	if len(hot) != 1 || hot[0] != 0x40 {
		t.Errorf("OnHot saw %v, want [0x40]", hot)
	}
	if p.Function(0x99) != nil || p.IsHot(0x99) {
		t.Error("an uncalled function has no profile")
	}
}

func TestProfilerConcurrentCalls(t *testing.T) {
	p := NewProfiler()
	p.FunctionHotThreshold = 1000

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				p.RecordCall(7)
				p.RecordInstruction(OpCALL)
			}
		}()
	}
	wg.Wait()

	stats := p.Stats()
	if stats.Calls != 1000 || stats.Instructions != 1000 {
		t.Errorf("stats = %+v, want 1000 calls and instructions", stats)
	}
	if stats.HotFunctions != 1 || !p.IsHot(7) {
		t.Errorf("function 7 should be hot exactly once, stats = %+v", stats)
	}
}

func TestProfilerTopFunctions(t *testing.T) {
	p := NewProfiler()
	for entry, calls := range map[uint16]int{0x10: 3, 0x20: 7, 0x30: 3, 0x40: 1} {
		for range calls {
			p.RecordCall(entry)
		}
	}

	top := p.TopFunctions(3)
	want := []uint16{0x20, 0x10, 0x30}
	if len(top) != len(want) {
		t.Fatalf("got %d functions, want %d", len(top), len(want))
	}
	for i, e := range want {
		if top[i].Entry != e {
			t.Errorf("top[%d] = %04x, want %04x", i, top[i].Entry, e)
		}
	}
	if got := len(p.TopFunctions(10)); got != 4 {
		t.Errorf("TopFunctions(10) returned %d, want 4", got)
	}
}

func TestProfilerRecordsMachine(t *testing.T) {
	a := NewAssembler()
	f := a.NewLabel()
	for range 3 {
		a.Jump(OpCALL, f)
	}
	a.Emit(OpExit)
	a.Mark(f)
	a.Emit(OpRET)

	p := NewProfiler()
	p.FunctionHotThreshold = 3
	r := start(t, newScript(a.Code()), nil, nil, WithProfiler(p))
	runToEnd(t, r.m)
	if f := r.m.Fault(); f != nil {
		t.Fatalf("fault: %v", f)
	}

	if r.m.Profiler() != p {
		t.Error("Profiler() should return the attached profiler")
	}
	counts := p.OpcodeCounts()
	if counts[OpCALL] != 3 || counts[OpRET] != 3 || counts[OpExit] != 1 {
		t.Errorf("opcode counts = %v", counts)
	}
	if len(counts) != 3 {
		t.Errorf("counted %d opcodes, want 3", len(counts))
	}
	if hot := p.HotFunctions(); len(hot) != 1 || hot[0] != 7 {
		t.Errorf("hot functions = %v, want [7]", hot)
	}
	if stats := p.Stats(); stats.Instructions != r.m.Steps() {
		t.Errorf("profiled %d instructions, machine counted %d", stats.Instructions, r.m.Steps())
	}

	p.Reset()
	if stats := p.Stats(); stats != (ProfilerStats{}) {
		t.Errorf("stats after Reset = %+v", stats)
	}
}
