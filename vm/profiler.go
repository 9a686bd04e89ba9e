package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Profiler counts executed opcodes and local function calls to find the hot
// spots of a conversation. Menu loops and riddle checks show up as hot
// functions; nothing time-slices the interpreter, so they are what stalls a
// tick.

// FunctionProfile holds profiling data for one local function.
type FunctionProfile struct {
	Entry uint16
	Calls uint64 // atomic
	IsHot bool   // true once Calls reached the threshold
}

// Profiler collects counts for one or more machines. It is safe for use
// from several goroutines.
type Profiler struct {
	opcodes   [NumOpcodes]atomic.Uint64
	functions sync.Map // uint16 entry -> *FunctionProfile

	// FunctionHotThreshold is the call count at which a function is hot.
	FunctionHotThreshold uint64 // Default: 100

	// OnHot is called once per function when it becomes hot.
	OnHot func(entry uint16, profile *FunctionProfile)

	hotCount atomic.Uint64
}

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{FunctionHotThreshold: 100}
}

// WithProfiler records every instruction and call of the machine in p.
func WithProfiler(p *Profiler) Option {
	return func(m *Machine) { m.profiler = p }
}

// RecordInstruction counts one executed instruction.
func (p *Profiler) RecordInstruction(op Opcode) {
	if op.Valid() {
		p.opcodes[op].Add(1)
	}
}

// RecordCall counts a CALL of the function at entry. It returns true if
// this call made the function hot.
func (p *Profiler) RecordCall(entry uint16) bool {
	val, _ := p.functions.LoadOrStore(entry, &FunctionProfile{Entry: entry})
	profile := val.(*FunctionProfile)

	count := atomic.AddUint64(&profile.Calls, 1)
	if count != p.FunctionHotThreshold {
		return false
	}
	profile.IsHot = true
	p.hotCount.Add(1)
	if p.OnHot != nil {
		p.OnHot(entry, profile)
	}
	return true
}

// Function returns the profile of the function at entry, or nil if it was
// never called.
func (p *Profiler) Function(entry uint16) *FunctionProfile {
	if val, ok := p.functions.Load(entry); ok {
		return val.(*FunctionProfile)
	}
	return nil
}

// IsHot reports whether the function at entry reached the threshold.
func (p *Profiler) IsHot(entry uint16) bool {
	profile := p.Function(entry)
	return profile != nil && profile.IsHot
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Instructions uint64 // executed instructions
	Calls        uint64 // local function calls
	Functions    int    // distinct functions called
	HotFunctions int
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	for i := range p.opcodes {
		stats.Instructions += p.opcodes[i].Load()
	}
	p.functions.Range(func(_, value any) bool {
		stats.Functions++
		stats.Calls += atomic.LoadUint64(&value.(*FunctionProfile).Calls)
		return true
	})
	stats.HotFunctions = int(p.hotCount.Load())
	return stats
}

// OpcodeCounts returns the execution count of every opcode that ran.
func (p *Profiler) OpcodeCounts() map[Opcode]uint64 {
	out := make(map[Opcode]uint64)
	for i := range p.opcodes {
		if n := p.opcodes[i].Load(); n > 0 {
			out[Opcode(i)] = n
		}
	}
	return out
}

// HotFunctions returns the entries of all hot functions in address order.
func (p *Profiler) HotFunctions() []uint16 {
	var hot []uint16
	p.functions.Range(func(key, value any) bool {
		if value.(*FunctionProfile).IsHot {
			hot = append(hot, key.(uint16))
		}
		return true
	})
	sort.Slice(hot, func(i, j int) bool { return hot[i] < hot[j] })
	return hot
}

// TopFunctions returns up to n function profiles, most called first. Ties
// are ordered by entry address.
func (p *Profiler) TopFunctions(n int) []FunctionProfile {
	var all []FunctionProfile
	p.functions.Range(func(_, value any) bool {
		fp := value.(*FunctionProfile)
		all = append(all, FunctionProfile{Entry: fp.Entry, Calls: atomic.LoadUint64(&fp.Calls), IsHot: fp.IsHot})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Calls != all[j].Calls {
			return all[i].Calls > all[j].Calls
		}
		return all[i].Entry < all[j].Entry
	})
	return all[:min(n, len(all))]
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	for i := range p.opcodes {
		p.opcodes[i].Store(0)
	}
	p.functions.Clear()
	p.hotCount.Store(0)
}
