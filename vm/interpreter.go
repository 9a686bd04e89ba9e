package vm

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/chazu/convm/ark"
	"github.com/chazu/convm/globals"
	"github.com/tliron/commonlog"
)

var logger = commonlog.GetLogger("convm.vm")

// ---------------------------------------------------------------------------
// Machine: conversation interpreter
// ---------------------------------------------------------------------------

// Observer is consulted before every instruction. Returning true stops
// Step before the instruction executes; Step then reports true without any
// host-visible effect and the dialogue stays Running.
type Observer interface {
	BeforeInstruction(m *Machine) bool
	Stopped(m *Machine)
}

// Machine executes one conversation script against the session's globals.
// It is single-threaded: the host calls Step once per game tick and answers
// suspensions between calls.
type Machine struct {
	script  *ark.Script
	globals *globals.Globals
	logic   GameLogic

	intrinsics map[uint16]Intrinsic
	importedAt map[int]ark.ImportEntry

	cb       CodeCallback
	npc      NPC
	ctx      *ExecutionContext
	strings  []string
	dirty    map[int]bool
	reserved int
	dialogue dialogue
	fault    *Fault
	flushed  bool
	steps    uint64

	limit    int
	rng      *rand.Rand
	observer Observer
	profiler *Profiler
}

// Option configures a Machine.
type Option func(*Machine)

// WithStackLimit sets the maximum number of memory cells.
func WithStackLimit(n int) Option {
	return func(m *Machine) { m.limit = n }
}

// WithSeed makes the random intrinsic deterministic.
func WithSeed(seed uint64) Option {
	return func(m *Machine) { m.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithObserver attaches a debugger or tracer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// New prepares a machine for script. Nothing runs until Init.
func New(script *ark.Script, g *globals.Globals, logic GameLogic, opts ...Option) *Machine {
	m := &Machine{
		script:     script,
		globals:    g,
		logic:      logic,
		intrinsics: make(map[uint16]Intrinsic),
		importedAt: make(map[int]ark.ImportEntry),
		limit:      DefaultStackLimit,
		dialogue:   dialogue{state: StateFinished},
	}
	for _, o := range opts {
		o(m)
	}
	if m.rng == nil {
		seed := uint64(time.Now().UnixNano())
		m.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}

	for _, e := range script.Imports {
		switch e.Kind {
		case ark.ImportGlobal:
			m.importedAt[int(e.ID)] = e
		case ark.ImportIntrinsic:
			m.intrinsics[e.ID] = LookupIntrinsic(e.Name)
		}
	}
	return m
}

// SetObserver attaches or detaches an observer between steps.
func (m *Machine) SetObserver(o Observer) {
	m.observer = o
}

// Init starts the conversation with the NPC at objectPos on level. The
// slot's globals are copied into memory, followed by the imported globals
// read from the game.
func (m *Machine) Init(level int, objectPos uint16, cb CodeCallback, localStrings []string) error {
	m.cb = cb
	m.npc = NPC{Level: level, ObjectPos: objectPos}
	m.strings = append([]string(nil), localStrings...)
	m.dirty = make(map[int]bool)
	m.fault = nil
	m.flushed = false
	m.steps = 0

	slotGlobals := m.globals.Slot(int(m.script.Slot))
	m.reserved = max(int(m.script.StackSize), len(slotGlobals))

	size := max(int(m.script.StackSize)+1, len(slotGlobals))
	for addr := range m.importedAt {
		size = max(size, addr+1)
	}
	if size > m.limit {
		return fmt.Errorf("%w: need %d cells, limit %d", ErrStackTooSmall, size, m.limit)
	}

	m.ctx = &ExecutionContext{
		Stack:   newConvStack(size, m.limit),
		Result:  Int(0),
		Running: true,
	}
	m.ctx.Stack.floor = m.reserved
	for i, w := range slotGlobals {
		m.ctx.Stack.cells[i] = Word(w)
	}
	for addr, e := range m.importedAt {
		m.ctx.Stack.cells[addr] = m.loadImported(e)
	}

	m.dialogue = dialogue{state: StateRunning}
	logger.Infof("conversation slot %d started (level %d, object %d, %d code words, %d strings)",
		m.script.Slot, level, objectPos, len(m.script.Code), len(m.strings))
	return nil
}

func (m *Machine) loadImported(e ark.ImportEntry) Value {
	if e.Name == "play_name" {
		return StringHandle(m.AllocString(m.logic.PlayerName()))
	}
	v, ok := m.logic.Global(e.Name, m.npc)
	if !ok {
		logger.Debugf("unknown imported global %s, using 0", e.Name)
		return Int(0)
	}
	return Int(v)
}

func (m *Machine) storeImported(e ark.ImportEntry, v Value) {
	if e.Name == "play_name" {
		if name, ok := m.localString(v.Handle()); ok {
			m.logic.SetPlayerName(name)
		}
		return
	}
	if !m.logic.SetGlobal(e.Name, m.npc, v.Int()) {
		logger.Debugf("game ignored store to imported global %s = %d", e.Name, v.Int())
	}
}

// ---------------------------------------------------------------------------
// Step: run until a host-visible effect
// ---------------------------------------------------------------------------

// Step executes instructions until one has an effect the host must present
// (a spoken line, a menu, a text prompt, a printed line) and then returns
// true. It returns false once the conversation has ended, normally or by a
// fault. While a menu or text answer is pending Step returns true without
// executing anything.
func (m *Machine) Step() (more bool) {
	if m.ctx == nil || !m.ctx.Running {
		return false
	}
	if m.dialogue.state.AwaitingInput() {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			more = false
			if m.ctx != nil {
				m.raise(recovered(r), m.ctx.PC)
			}
		}
	}()

	code := m.script.Code
	for {
		if int(m.ctx.PC) >= len(code) {
			logger.Debugf("pc %04x fell off the end of code", m.ctx.PC)
			m.stop()
			return false
		}
		if m.observer != nil && m.observer.BeforeInstruction(m) {
			return true
		}

		pc := m.ctx.PC
		in, err := Decode(code, pc)
		if err != nil {
			m.raise(err, pc)
			return false
		}
		m.steps++
		if m.profiler != nil {
			m.profiler.RecordInstruction(in.Op)
		}
		if logger.AllowLevel(commonlog.Debug) {
			logger.Debugf("%04x %-16s sp=%d bp=%d", pc, in, m.ctx.Stack.Len(), m.ctx.BP)
		}

		effect, err := m.execute(in)
		if err != nil {
			m.raise(asFault(err, pc, in.Op), pc)
			return false
		}
		if m.ctx == nil {
			// the host aborted from inside a callback
			return false
		}
		if !m.ctx.Running {
			m.stop()
			return false
		}
		if effect {
			return true
		}
	}
}

// recovered turns a panic value into a fault.
func recovered(r any) error {
	switch v := r.(type) {
	case *Fault:
		return v
	case error:
		return &Fault{Kind: FaultInternal, Detail: v.Error()}
	}
	return &Fault{Kind: FaultInternal, Detail: fmt.Sprint(r)}
}

func (m *Machine) raise(err error, pc uint16) {
	op := Opcode(0)
	if int(pc) < len(m.script.Code) {
		op = Opcode(m.script.Code[pc])
	}
	m.fault = asFault(err, pc, op)
	logger.Errorf("conversation slot %d: %v", m.script.Slot, m.fault)
	m.stop()
}

func (m *Machine) stop() {
	m.ctx.Running = false
	m.dialogue.stop()
	if m.observer != nil {
		m.observer.Stopped(m)
	}
}

// execute runs one decoded instruction and reports whether it produced a
// host-visible effect.
func (m *Machine) execute(in Instruction) (bool, error) {
	c := m.ctx
	s := c.Stack
	next := in.Addr + uint16(in.Size())

	switch in.Op {
	case OpNOP, OpStart:

	case OpAdd, OpMul, OpSub, OpDiv, OpMod, OpOr, OpAnd,
		OpTstGT, OpTstGE, OpTstLT, OpTstLE, OpTstEQ, OpTstNE:
		rhs, err := s.Pop()
		if err != nil {
			return false, err
		}
		lhs, err := s.Pop()
		if err != nil {
			return false, err
		}
		v, err := binaryOp(in.Op, lhs.Int(), rhs.Int())
		if err != nil {
			return false, err
		}
		if err := s.Push(v); err != nil {
			return false, err
		}

	case OpNot, OpNeg:
		v, err := s.Pop()
		if err != nil {
			return false, err
		}
		if in.Op == OpNot {
			v = boolValue(!v.Truth())
		} else {
			v = Int(wrap16(-v.Int()))
		}
		if err := s.Push(v); err != nil {
			return false, err
		}

	case OpJMP:
		return false, m.jump(in.Operand)

	case OpBEQ, OpBNE:
		v, err := s.Pop()
		if err != nil {
			return false, err
		}
		if v.Truth() == (in.Op == OpBNE) {
			return false, m.jump(in.Target())
		}

	case OpBRA:
		return false, m.jump(in.Target())

	case OpCALL:
		if err := s.Push(Address(uint32(next))); err != nil {
			return false, err
		}
		c.Frames = append(c.Frames, Frame{ReturnPC: next, SavedBP: c.BP, Entry: in.Operand})
		if m.profiler != nil {
			m.profiler.RecordCall(in.Operand)
		}
		return false, m.jump(in.Operand)

	case OpCALLI:
		c.PC = next
		return m.callIntrinsic(in.Operand)

	case OpRET:
		if len(c.Frames) == 0 {
			logger.Debugf("return from main at %04x", in.Addr)
			c.Running = false
			return false, nil
		}
		f := c.Frames[len(c.Frames)-1]
		link, err := s.Pop()
		if err != nil {
			return false, &Fault{Kind: FaultUnmatchedReturn, Detail: "no return link on stack"}
		}
		if link.Raw != int32(f.ReturnPC) {
			return false, &Fault{Kind: FaultCorruptLink,
				Detail: fmt.Sprintf("link %s, expected %04x", link, f.ReturnPC)}
		}
		c.Frames = c.Frames[:len(c.Frames)-1]
		c.BP = f.SavedBP
		return false, m.jump(f.ReturnPC)

	case OpPushI:
		if err := s.Push(Word(in.Operand)); err != nil {
			return false, err
		}

	case OpPushIEff:
		addr := c.frameAddr(int(int16(in.Operand)))
		if err := s.Push(Address(uint32(addr))); err != nil {
			return false, err
		}

	case OpPop:
		if _, err := s.Pop(); err != nil {
			return false, err
		}

	case OpSwap:
		a, err := s.Pop()
		if err != nil {
			return false, err
		}
		b, err := s.Pop()
		if err != nil {
			return false, err
		}
		s.Push(a)
		s.Push(b)

	case OpPushBP:
		if err := s.Push(Address(uint32(c.BP))); err != nil {
			return false, err
		}

	case OpPopBP:
		v, err := s.Pop()
		if err != nil {
			return false, err
		}
		c.BP = v.Addr()

	case OpSPToBP:
		c.BP = s.Len()

	case OpBPToSP:
		if err := s.Truncate(c.BP); err != nil {
			return false, err
		}

	case OpAddSP:
		v, err := s.Pop()
		if err != nil {
			return false, err
		}
		if n := int(v.Int()); n >= 0 {
			err = s.Grow(n, filler)
		} else {
			err = s.Truncate(s.Len() + n)
		}
		if err != nil {
			return false, err
		}

	case OpFetchM:
		a, err := s.Pop()
		if err != nil {
			return false, err
		}
		v, err := s.At(a.Addr())
		if err != nil {
			return false, err
		}
		if err := s.Push(v); err != nil {
			return false, err
		}

	case OpSto:
		v, err := s.Pop()
		if err != nil {
			return false, err
		}
		a, err := s.Pop()
		if err != nil {
			return false, err
		}
		if err := m.store(a.Addr(), v); err != nil {
			return false, err
		}

	case OpOffset:
		index, err := s.Pop()
		if err != nil {
			return false, err
		}
		base, err := s.Pop()
		if err != nil {
			return false, err
		}
		if err := s.Push(Address(uint32(base.Raw + index.Raw - 1))); err != nil {
			return false, err
		}

	case OpSaveReg:
		v, err := s.Pop()
		if err != nil {
			return false, err
		}
		c.Result = v

	case OpPushReg:
		if err := s.Push(c.Result); err != nil {
			return false, err
		}

	case OpStrCmp:
		a, err := s.Pop()
		if err != nil {
			return false, err
		}
		b, err := s.Pop()
		if err != nil {
			return false, err
		}
		sa, err := m.checkedString(a.Handle())
		if err != nil {
			return false, err
		}
		sb, err := m.checkedString(b.Handle())
		if err != nil {
			return false, err
		}
		if err := s.Push(boolValue(sa == sb)); err != nil {
			return false, err
		}

	case OpExit:
		c.Running = false

	case OpSay:
		v, err := s.Pop()
		if err != nil {
			return false, err
		}
		text, err := m.checkedString(v.Handle())
		if err != nil {
			return false, err
		}
		c.PC = next
		m.cb.Say(v.Handle(), m.ReplacePlaceholder(text))
		return true, nil

	case OpRespond:
		logger.Debugf("respond at %04x", in.Addr)

	default:
		return false, &Fault{Kind: FaultUnknownOpcode}
	}

	c.PC = next
	return false, nil
}

func binaryOp(op Opcode, lhs, rhs int32) (Value, error) {
	switch op {
	case OpAdd:
		return Int(wrap16(lhs + rhs)), nil
	case OpMul:
		return Int(wrap16(lhs * rhs)), nil
	case OpSub:
		return Int(wrap16(lhs - rhs)), nil
	case OpDiv:
		if rhs == 0 {
			return Value{}, &Fault{Kind: FaultDivideByZero}
		}
		return Int(wrap16(lhs / rhs)), nil
	case OpMod:
		if rhs == 0 {
			return Value{}, &Fault{Kind: FaultDivideByZero}
		}
		return Int(wrap16(lhs % rhs)), nil
	case OpOr:
		return boolValue(lhs != 0 || rhs != 0), nil
	case OpAnd:
		return boolValue(lhs != 0 && rhs != 0), nil
	case OpTstGT:
		return boolValue(lhs > rhs), nil
	case OpTstGE:
		return boolValue(lhs >= rhs), nil
	case OpTstLT:
		return boolValue(lhs < rhs), nil
	case OpTstLE:
		return boolValue(lhs <= rhs), nil
	case OpTstEQ:
		return boolValue(lhs == rhs), nil
	case OpTstNE:
		return boolValue(lhs != rhs), nil
	}
	return Value{}, &Fault{Kind: FaultInternal, Detail: "not a binary operator"}
}

// jump transfers control; targets must lie inside code.
func (m *Machine) jump(target uint16) error {
	if int(target) >= len(m.script.Code) {
		return &Fault{Kind: FaultPCRange, Detail: fmt.Sprintf("target %04x outside %d code words", target, len(m.script.Code))}
	}
	m.ctx.PC = target
	return nil
}

// store writes memory and forwards writes to imported globals to the game.
func (m *Machine) store(addr int, v Value) error {
	if err := m.ctx.Stack.Set(addr, v); err != nil {
		return err
	}
	m.markDirty(addr)
	if e, ok := m.importedAt[addr]; ok {
		m.storeImported(e, v)
	}
	return nil
}

func (m *Machine) markDirty(addr int) {
	if addr < m.reserved {
		m.dirty[addr] = true
	}
}

// ---------------------------------------------------------------------------
// Host answers
// ---------------------------------------------------------------------------

// SelectMenu answers a pending menu with the 0-based index of the chosen
// candidate; its value goes to the result register.
func (m *Machine) SelectMenu(index int) error {
	c, err := m.dialogue.choose(index)
	if err != nil {
		return err
	}
	m.ctx.Result = Int(c.Value)
	logger.Debugf("menu answer %d: value %d", index, c.Value)
	return nil
}

// SubmitText answers a pending text prompt. The text becomes a new local
// string whose handle goes to the result register.
func (m *Machine) SubmitText(text string) error {
	if err := m.dialogue.answerText(); err != nil {
		return err
	}
	m.ctx.Result = StringHandle(m.AllocString(text))
	return nil
}

// Acknowledge confirms the end of the conversation and flushes globals.
func (m *Machine) Acknowledge() error {
	if err := m.dialogue.acknowledge(); err != nil {
		return err
	}
	m.Done()
	return nil
}

// Abort tears the conversation down from any state. Globals written so far
// are still flushed.
func (m *Machine) Abort() {
	if m.ctx != nil && m.ctx.Running {
		logger.Infof("conversation slot %d aborted at %04x", m.script.Slot, m.ctx.PC)
		m.ctx.Running = false
	}
	m.Done()
}

// Done flushes the globals written by STO back into the slot's array and
// drops the execution context. It never fails and may be called more than
// once, also after a fault.
func (m *Machine) Done() {
	if !m.flushed && m.ctx != nil {
		slot := int(m.script.Slot)
		for addr := range m.dirty {
			if addr >= m.ctx.Stack.Len() {
				logger.Warningf("global %d was dropped from memory, not flushed", addr)
				continue
			}
			vals := m.globals.Slot(slot)
			if addr >= len(vals) {
				vals = m.globals.Reserve(slot, addr+1)
			}
			vals[addr] = m.ctx.Stack.cells[addr].Word()
		}
		logger.Infof("conversation slot %d done: %d globals written, %d instructions",
			slot, len(m.dirty), m.steps)
		m.flushed = true
	}
	m.ctx = nil
	m.dialogue.finish()
}

// SetResultRegister sets the value the next PUSH_REG pushes.
func (m *Machine) SetResultRegister(v Value) {
	if m.ctx != nil {
		m.ctx.Result = v
	}
}

// ---------------------------------------------------------------------------
// Local strings
// ---------------------------------------------------------------------------

// AllocString appends a local string and returns its handle.
func (m *Machine) AllocString(text string) uint32 {
	m.strings = append(m.strings, text)
	return uint32(len(m.strings) - 1)
}

// GetLocalString returns the local string for handle, or "" for a handle
// that was never allocated.
func (m *Machine) GetLocalString(handle uint32) string {
	s, ok := m.localString(handle)
	if !ok {
		logger.Warningf("invalid local string handle %d", handle)
	}
	return s
}

func (m *Machine) localString(handle uint32) (string, bool) {
	if int64(handle) >= int64(len(m.strings)) {
		return "", false
	}
	return m.strings[handle], true
}

func (m *Machine) checkedString(handle uint32) (string, error) {
	s, ok := m.localString(handle)
	if !ok {
		return "", &Fault{Kind: FaultBadString, Detail: stringDetail(handle, len(m.strings))}
	}
	return s, nil
}

func stringDetail(handle uint32, n int) string {
	return fmt.Sprintf("handle %d, %d local strings", handle, n)
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// StringBlock returns the string block holding this conversation's texts.
func (m *Machine) StringBlock() uint16 {
	return m.script.StringBlock
}

// Script returns the script being executed.
func (m *Machine) Script() *ark.Script {
	return m.script
}

// State returns the dialogue state.
func (m *Machine) State() State {
	return m.dialogue.state
}

// Candidates returns the pending menu, if any.
func (m *Machine) Candidates() []MenuCandidate {
	return append([]MenuCandidate(nil), m.dialogue.candidates...)
}

// Fault returns the fault that stopped the conversation, or nil.
func (m *Machine) Fault() *Fault {
	return m.fault
}

// Running reports whether the conversation is still executing.
func (m *Machine) Running() bool {
	return m.ctx != nil && m.ctx.Running
}

// PC returns the address of the next instruction.
func (m *Machine) PC() uint16 {
	if m.ctx == nil {
		return 0
	}
	return m.ctx.PC
}

// Depth returns the number of active local calls.
func (m *Machine) Depth() int {
	if m.ctx == nil {
		return 0
	}
	return m.ctx.Depth()
}

// ResultRegister returns the current result register.
func (m *Machine) ResultRegister() Value {
	if m.ctx == nil {
		return Value{}
	}
	return m.ctx.Result
}

// Context returns a copy of the execution context. ok is false before Init
// and after Done.
func (m *Machine) Context() (Snapshot, bool) {
	if m.ctx == nil {
		return Snapshot{}, false
	}
	return m.ctx.snapshot(), true
}

// Profiler returns the attached profiler, or nil.
func (m *Machine) Profiler() *Profiler {
	return m.profiler
}

// Steps returns the number of instructions executed since Init.
func (m *Machine) Steps() uint64 {
	return m.steps
}
