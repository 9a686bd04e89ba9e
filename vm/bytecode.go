package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is one conversation instruction code. Code is a stream of 16-bit
// words; an opcode occupies one word and is followed by at most one operand
// word.
type Opcode uint16

// Arithmetic and logic
const (
	OpNOP   Opcode = 0x00 // no operation
	OpAdd   Opcode = 0x01 // s1 + s0
	OpMul   Opcode = 0x02 // s1 * s0
	OpSub   Opcode = 0x03 // s1 - s0
	OpDiv   Opcode = 0x04 // s1 / s0
	OpMod   Opcode = 0x05 // s1 % s0
	OpOr    Opcode = 0x06 // s1 || s0
	OpAnd   Opcode = 0x07 // s1 && s0
	OpNot   Opcode = 0x08 // !s0
	OpTstGT Opcode = 0x09 // s1 > s0
	OpTstGE Opcode = 0x0A // s1 >= s0
	OpTstLT Opcode = 0x0B // s1 < s0
	OpTstLE Opcode = 0x0C // s1 <= s0
	OpTstEQ Opcode = 0x0D // s1 == s0
	OpTstNE Opcode = 0x0E // s1 != s0
)

// Control flow
const (
	OpJMP   Opcode = 0x0F // absolute jump (operand: target)
	OpBEQ   Opcode = 0x10 // pop, branch if zero (operand: relative offset)
	OpBNE   Opcode = 0x11 // pop, branch if not zero (operand: relative offset)
	OpBRA   Opcode = 0x12 // branch always (operand: relative offset)
	OpCALL  Opcode = 0x13 // call local function (operand: target)
	OpCALLI Opcode = 0x14 // call imported function (operand: function id)
	OpRET   Opcode = 0x15 // return from local function
)

// Stack and memory
const (
	OpPushI    Opcode = 0x16 // push immediate (operand: value)
	OpPushIEff Opcode = 0x17 // push frame-relative address (operand: offset)
	OpPop      Opcode = 0x18 // discard s0
	OpSwap     Opcode = 0x19 // exchange s0 and s1
	OpPushBP   Opcode = 0x1A // push base pointer
	OpPopBP    Opcode = 0x1B // pop base pointer
	OpSPToBP   Opcode = 0x1C // base pointer := stack pointer
	OpBPToSP   Opcode = 0x1D // stack pointer := base pointer
	OpAddSP    Opcode = 0x1E // pop n, reserve n cells (or drop -n)
	OpFetchM   Opcode = 0x1F // pop address, push memory[address]
	OpSto      Opcode = 0x20 // pop value and address, memory[address] := value
	OpOffset   Opcode = 0x21 // pop index and base, push base + index - 1
)

// Conversation
const (
	OpStart   Opcode = 0x22 // program start marker
	OpSaveReg Opcode = 0x23 // pop into result register
	OpPushReg Opcode = 0x24 // push result register
	OpStrCmp  Opcode = 0x25 // pop two string handles, push equality
	OpExit    Opcode = 0x26 // end conversation
	OpSay     Opcode = 0x27 // pop string handle, NPC says it
	OpRespond Opcode = 0x28 // NPC finished speaking
	OpNeg     Opcode = 0x29 // -s0
)

// NumOpcodes is the number of defined opcodes; every code word at or above
// it is invalid.
const NumOpcodes = 0x2A

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // mnemonic
	Operands    int    // operand words following the opcode (0 or 1)
	StackEffect int    // net effect on the stack, -1 if variable
	Relative    bool   // operand is a branch offset
}

var opcodeTable = [NumOpcodes]OpcodeInfo{
	OpNOP:   {"NOP", 0, 0, false},
	OpAdd:   {"OPADD", 0, -1, false},
	OpMul:   {"OPMUL", 0, -1, false},
	OpSub:   {"OPSUB", 0, -1, false},
	OpDiv:   {"OPDIV", 0, -1, false},
	OpMod:   {"OPMOD", 0, -1, false},
	OpOr:    {"OPOR", 0, -1, false},
	OpAnd:   {"OPAND", 0, -1, false},
	OpNot:   {"OPNOT", 0, 0, false},
	OpTstGT: {"TSTGT", 0, -1, false},
	OpTstGE: {"TSTGE", 0, -1, false},
	OpTstLT: {"TSTLT", 0, -1, false},
	OpTstLE: {"TSTLE", 0, -1, false},
	OpTstEQ: {"TSTEQ", 0, -1, false},
	OpTstNE: {"TSTNE", 0, -1, false},

	OpJMP:   {"JMP", 1, 0, false},
	OpBEQ:   {"BEQ", 1, -1, true},
	OpBNE:   {"BNE", 1, -1, true},
	OpBRA:   {"BRA", 1, 0, true},
	OpCALL:  {"CALL", 1, 1, false},
	OpCALLI: {"CALLI", 1, 0, false},
	OpRET:   {"RET", 0, -1, false},

	OpPushI:    {"PUSHI", 1, 1, false},
	OpPushIEff: {"PUSHI_EFF", 1, 1, false},
	OpPop:      {"POP", 0, -1, false},
	OpSwap:     {"SWAP", 0, 0, false},
	OpPushBP:   {"PUSHBP", 0, 1, false},
	OpPopBP:    {"POPBP", 0, -1, false},
	OpSPToBP:   {"SPTOBP", 0, 0, false},
	OpBPToSP:   {"BPTOSP", 0, -1, false},
	OpAddSP:    {"ADDSP", 0, -1, false},
	OpFetchM:   {"FETCHM", 0, 0, false},
	OpSto:      {"STO", 0, -2, false},
	OpOffset:   {"OFFSET", 0, -1, false},

	OpStart:   {"START", 0, 0, false},
	OpSaveReg: {"SAVE_REG", 0, -1, false},
	OpPushReg: {"PUSH_REG", 0, 1, false},
	OpStrCmp:  {"STRCMP", 0, -1, false},
	OpExit:    {"EXIT_OP", 0, 0, false},
	OpSay:     {"SAY_OP", 0, -1, false},
	OpRespond: {"RESPOND_OP", 0, 0, false},
	OpNeg:     {"OPNEG", 0, 0, false},
}

// Valid reports whether op is one of the defined opcodes.
func (op Opcode) Valid() bool {
	return op < NumOpcodes
}

// Info returns metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if !op.Valid() {
		return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%04X", uint16(op)), StackEffect: -1}
	}
	return opcodeTable[op]
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Operands returns the number of operand words for an opcode.
func (op Opcode) Operands() int {
	return op.Info().Operands
}

// Size returns the instruction length in words.
func (op Opcode) Size() int {
	return 1 + op.Operands()
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// LookupOpcode maps a mnemonic back to its opcode.
func LookupOpcode(name string) (Opcode, bool) {
	for i, info := range opcodeTable {
		if info.Name == name {
			return Opcode(i), true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction.
type Instruction struct {
	Addr    uint16
	Op      Opcode
	Operand uint16
}

// Size returns the instruction length in words.
func (in Instruction) Size() int {
	return in.Op.Size()
}

// Target returns the absolute code address a control transfer goes to.
// Only meaningful for JMP, CALL and the relative branches.
func (in Instruction) Target() uint16 {
	if in.Op.Info().Relative {
		return branchTarget(in.Addr, in.Operand)
	}
	return in.Operand
}

func (in Instruction) String() string {
	switch {
	case in.Op.Info().Relative:
		return fmt.Sprintf("%s %04x", in.Op, in.Target())
	case in.Op == OpPushI || in.Op == OpPushIEff:
		return fmt.Sprintf("%s #%d", in.Op, int16(in.Operand))
	case in.Op.Operands() == 1:
		return fmt.Sprintf("%s %04x", in.Op, in.Operand)
	}
	return in.Op.String()
}

// Decode reads the instruction at addr. It fails for an unknown opcode or
// an operand that runs past the end of code.
func Decode(code []uint16, addr uint16) (Instruction, error) {
	if int(addr) >= len(code) {
		return Instruction{}, &Fault{Kind: FaultPCRange, PC: addr, Detail: "outside code"}
	}
	in := Instruction{Addr: addr, Op: Opcode(code[addr])}
	if !in.Op.Valid() {
		return in, &Fault{Kind: FaultUnknownOpcode, PC: addr, Opcode: in.Op}
	}
	if in.Op.Operands() == 1 {
		if int(addr)+1 >= len(code) {
			return in, &Fault{Kind: FaultPCRange, PC: addr, Opcode: in.Op, Detail: "operand past end of code"}
		}
		in.Operand = code[addr+1]
	}
	return in, nil
}

// branchTarget resolves a relative branch: the offset counts from the
// operand word, wrapping at 16 bits.
func branchTarget(addr, offset uint16) uint16 {
	return addr + 1 + offset
}

// ---------------------------------------------------------------------------
// Assembler: helper for constructing code
// ---------------------------------------------------------------------------

// Assembler builds code word by word. It is used by tests and tools that
// synthesize scripts.
type Assembler struct {
	code []uint16
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{code: make([]uint16, 0, 64)}
}

// Code returns the assembled words.
func (a *Assembler) Code() []uint16 {
	return a.code
}

// Len returns the current length in words, which is also the address of the
// next emitted word.
func (a *Assembler) Len() int {
	return len(a.code)
}

// Emit appends an opcode with no operand.
func (a *Assembler) Emit(op Opcode) *Assembler {
	a.code = append(a.code, uint16(op))
	return a
}

// EmitOp appends an opcode with its operand word.
func (a *Assembler) EmitOp(op Opcode, operand uint16) *Assembler {
	a.code = append(a.code, uint16(op), operand)
	return a
}

// Push appends PUSHI with a signed immediate.
func (a *Assembler) Push(v int16) *Assembler {
	return a.EmitOp(OpPushI, uint16(v))
}

// Raw appends an arbitrary word.
func (a *Assembler) Raw(w uint16) *Assembler {
	a.code = append(a.code, w)
	return a
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a code position that may be referenced before it is marked.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	at       int // index of the operand word
	relative bool
}

// NewLabel creates an unresolved label.
func (a *Assembler) NewLabel() *Label {
	return &Label{}
}

// Mark resolves a label to the current position.
func (a *Assembler) Mark(l *Label) *Assembler {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.position = len(a.code)
	for _, ref := range l.refs {
		a.patch(ref, l.position)
	}
	l.refs = nil
	return a
}

// Jump emits JMP, CALL or a relative branch to a label.
func (a *Assembler) Jump(op Opcode, l *Label) *Assembler {
	a.code = append(a.code, uint16(op), 0)
	ref := labelRef{at: len(a.code) - 1, relative: op.Info().Relative}
	if l.resolved {
		a.patch(ref, l.position)
	} else {
		l.refs = append(l.refs, ref)
	}
	return a
}

func (a *Assembler) patch(ref labelRef, target int) {
	if ref.relative {
		a.code[ref.at] = uint16(target - ref.at)
		return
	}
	a.code[ref.at] = uint16(target)
}
