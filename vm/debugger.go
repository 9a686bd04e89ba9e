package vm

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Debugger: instruction-level conversation debugger
// ---------------------------------------------------------------------------

// Debugger stops a conversation at breakpoints and steps through it one
// instruction at a time. It attaches to a Machine as its Observer; control
// calls may come from another goroutine while the machine is stepped.
type Debugger struct {
	m           *Machine
	state       DebugState
	breakpoints map[uint16]bool
	eventChan   chan DebugEvent
	mu          sync.Mutex

	// Stepping state
	stepMode  StepMode
	stepDepth int  // call depth when the step was requested
	resumed   bool // the next instruction is the one we stopped at

	pauseRequested bool
	breakPC        uint16
	breakDepth     int
}

// DebugState is the debugger's view of the conversation.
type DebugState int

const (
	DebugInactive DebugState = iota
	DebugRunning
	DebugBreak
)

func (s DebugState) String() string {
	switch s {
	case DebugInactive:
		return "inactive"
	case DebugRunning:
		return "running"
	case DebugBreak:
		return "break"
	}
	return fmt.Sprintf("DebugState(%d)", int(s))
}

// StepMode indicates the current stepping mode.
type StepMode int

const (
	StepNone StepMode = iota
	StepOver
	StepInto
	StepOut
)

// DebugEvent is sent to clients when execution stops or continues.
type DebugEvent struct {
	Type   string // "stopped", "continued", "finished"
	Reason string
	PC     uint16
	Opcode string
	Depth  int
}

// Breakpoint is a code address execution stops at.
type Breakpoint struct {
	ID     int
	PC     uint16
	Active bool
}

// StackFrame describes one active local call, innermost first.
type StackFrame struct {
	ID       int
	Function string
	Entry    uint16
	ReturnPC uint16
}

// ---------------------------------------------------------------------------
// Debugger creation and lifecycle
// ---------------------------------------------------------------------------

// NewDebugger creates a debugger for m. It does nothing until activated.
func NewDebugger(m *Machine) *Debugger {
	return &Debugger{
		m:           m,
		breakpoints: make(map[uint16]bool),
		eventChan:   make(chan DebugEvent, 64),
	}
}

// Activate attaches the debugger to its machine.
func (d *Debugger) Activate() {
	d.mu.Lock()
	d.state = DebugRunning
	d.stepMode = StepNone
	d.mu.Unlock()
	d.m.SetObserver(d)
}

// Deactivate detaches the debugger and clears all breakpoints.
func (d *Debugger) Deactivate() {
	d.mu.Lock()
	d.state = DebugInactive
	d.breakpoints = make(map[uint16]bool)
	d.mu.Unlock()
	d.m.SetObserver(nil)
}

// State returns the debugger state.
func (d *Debugger) State() DebugState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Events returns the event channel for receiving debug events.
func (d *Debugger) Events() <-chan DebugEvent {
	return d.eventChan
}

// ---------------------------------------------------------------------------
// Breakpoint management
// ---------------------------------------------------------------------------

// SetBreakpoint sets a breakpoint at a code address, which must hold an
// instruction start inside the code.
func (d *Debugger) SetBreakpoint(pc uint16) error {
	code := d.m.Script().Code
	if int(pc) >= len(code) {
		return fmt.Errorf("breakpoint %04x outside code (%d words)", pc, len(code))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[pc] = true
	return nil
}

// RemoveBreakpoint removes the breakpoint at pc.
func (d *Debugger) RemoveBreakpoint(pc uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.breakpoints[pc]; !exists {
		return fmt.Errorf("no breakpoint at %04x", pc)
	}
	delete(d.breakpoints, pc)
	return nil
}

// EnableBreakpoint re-enables a disabled breakpoint.
func (d *Debugger) EnableBreakpoint(pc uint16) error {
	return d.setActive(pc, true)
}

// DisableBreakpoint keeps a breakpoint but ignores it.
func (d *Debugger) DisableBreakpoint(pc uint16) error {
	return d.setActive(pc, false)
}

func (d *Debugger) setActive(pc uint16, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.breakpoints[pc]; !exists {
		return fmt.Errorf("no breakpoint at %04x", pc)
	}
	d.breakpoints[pc] = active
	return nil
}

// ListBreakpoints returns all breakpoints ordered by address.
func (d *Debugger) ListBreakpoints() []Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := make([]Breakpoint, 0, len(d.breakpoints))
	for pc, active := range d.breakpoints {
		result = append(result, Breakpoint{PC: pc, Active: active})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PC < result[j].PC })
	for i := range result {
		result[i].ID = i + 1
	}
	return result
}

// ClearAllBreakpoints removes all breakpoints.
func (d *Debugger) ClearAllBreakpoints() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints = make(map[uint16]bool)
}

// ---------------------------------------------------------------------------
// Execution control
// ---------------------------------------------------------------------------

// Pause stops before the next instruction.
func (d *Debugger) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DebugRunning {
		d.pauseRequested = true
	}
}

// Resume runs until a breakpoint or the end of the conversation.
func (d *Debugger) Resume() {
	d.command(StepNone)
}

// StepInto executes one instruction, following calls.
func (d *Debugger) StepInto() {
	d.command(StepInto)
}

// StepOver executes one instruction, running called functions to their
// return.
func (d *Debugger) StepOver() {
	d.command(StepOver)
}

// StepOut runs until the current function returns.
func (d *Debugger) StepOut() {
	d.command(StepOut)
}

func (d *Debugger) command(mode StepMode) {
	d.mu.Lock()
	if d.state == DebugInactive {
		d.mu.Unlock()
		return
	}
	wasBreak := d.state == DebugBreak
	d.state = DebugRunning
	d.stepMode = mode
	d.stepDepth = d.breakDepth
	d.resumed = wasBreak
	d.mu.Unlock()

	if mode == StepNone {
		d.sendEvent(DebugEvent{Type: "continued", Reason: "resume"})
	}
}

// IsPaused reports whether execution is stopped.
func (d *Debugger) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == DebugBreak
}

// ---------------------------------------------------------------------------
// Observer hooks (called by the machine)
// ---------------------------------------------------------------------------

// BeforeInstruction decides whether to stop before the instruction at the
// machine's pc.
func (d *Debugger) BeforeInstruction(m *Machine) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case DebugInactive:
		return false
	case DebugBreak:
		return true
	}

	pc, depth := m.PC(), m.Depth()
	first := d.resumed
	d.resumed = false

	var reason string
	switch {
	case d.pauseRequested:
		reason = "pause"
	case first:
		// leave the instruction we stopped at
	case d.breakpoints[pc]:
		reason = "breakpoint"
	case d.stepMode == StepInto:
		reason = "step"
	case d.stepMode == StepOver && depth <= d.stepDepth:
		reason = "step"
	case d.stepMode == StepOut && depth < d.stepDepth:
		reason = "step"
	}
	if reason == "" {
		return false
	}

	d.state = DebugBreak
	d.pauseRequested = false
	d.stepMode = StepNone
	d.breakPC, d.breakDepth = pc, depth
	d.sendEvent(DebugEvent{
		Type:   "stopped",
		Reason: reason,
		PC:     pc,
		Opcode: Opcode(m.Script().Code[pc]).String(),
		Depth:  depth,
	})
	return true
}

// Stopped reports the end of the conversation.
func (d *Debugger) Stopped(m *Machine) {
	d.mu.Lock()
	d.state = DebugInactive
	d.mu.Unlock()

	reason := "exit"
	if f := m.Fault(); f != nil {
		reason = f.Error()
	}
	d.sendEvent(DebugEvent{Type: "finished", Reason: reason, PC: m.PC()})
}

// sendEvent sends a debug event to listeners.
func (d *Debugger) sendEvent(event DebugEvent) {
	select {
	case d.eventChan <- event:
	default:
		// Channel full, drop event
	}
}

// ---------------------------------------------------------------------------
// Call stack inspection
// ---------------------------------------------------------------------------

// CallStack returns the active local calls, innermost first, followed by
// main.
func (d *Debugger) CallStack() []StackFrame {
	snap, ok := d.m.Context()
	if !ok {
		return nil
	}
	labels := Labels(d.m.Script().Code)

	frames := make([]StackFrame, 0, len(snap.Frames)+1)
	for i := len(snap.Frames) - 1; i >= 0; i-- {
		f := snap.Frames[i]
		frames = append(frames, StackFrame{
			ID:       i + 1,
			Function: labels[f.Entry],
			Entry:    f.Entry,
			ReturnPC: f.ReturnPC,
		})
	}
	frames = append(frames, StackFrame{ID: 0, Function: "main"})
	return frames
}
