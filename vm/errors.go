package vm

import (
	"errors"
	"fmt"
)

// FaultKind classifies a fault that stopped a conversation.
type FaultKind uint8

const (
	// Decode faults: the code itself is malformed.
	FaultUnknownOpcode FaultKind = iota
	FaultPCRange

	// Runtime faults: the code is well-formed but misbehaves.
	FaultStackUnderflow
	FaultStackOverflow
	FaultBadAddress
	FaultBadString
	FaultBadArgument
	FaultUnmatchedReturn
	FaultCorruptLink
	FaultDivideByZero
	FaultInternal
)

var faultNames = [...]string{
	FaultUnknownOpcode:   "unknown opcode",
	FaultPCRange:         "pc out of range",
	FaultStackUnderflow:  "stack underflow",
	FaultStackOverflow:   "stack overflow",
	FaultBadAddress:      "address out of range",
	FaultBadString:       "invalid string handle",
	FaultBadArgument:     "bad intrinsic argument",
	FaultUnmatchedReturn: "unmatched return",
	FaultCorruptLink:     "corrupt return link",
	FaultDivideByZero:    "division by zero",
	FaultInternal:        "internal error",
}

func (k FaultKind) String() string {
	if int(k) < len(faultNames) {
		return faultNames[k]
	}
	return fmt.Sprintf("FaultKind(%d)", uint8(k))
}

// IsDecode reports whether the fault stems from malformed code rather than
// from executing well-formed code.
func (k FaultKind) IsDecode() bool {
	return k == FaultUnknownOpcode || k == FaultPCRange
}

// Fault is the error that ends a conversation abnormally. It never escapes
// Step as a panic; the machine records it and stops.
type Fault struct {
	Kind   FaultKind
	PC     uint16
	Opcode Opcode
	Detail string
}

func (f *Fault) Error() string {
	class := "runtime fault"
	if f.Kind.IsDecode() {
		class = "decode fault"
	}
	msg := fmt.Sprintf("%s at %04x (%s): %s", class, f.PC, f.Opcode, f.Kind)
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	return msg
}

// Is matches faults by kind, so errors.Is(err, &Fault{Kind: k}) works.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == f.Kind
}

// Sentinel errors for host-side misuse and non-fatal conditions.
var (
	ErrUnresolvedIntrinsic = errors.New("unresolved intrinsic")
	ErrNotRunning          = errors.New("conversation not running")
	ErrWrongState          = errors.New("operation not valid in current dialogue state")
	ErrBadSelection        = errors.New("menu selection out of range")
	ErrStackTooSmall       = errors.New("stack limit too small for conversation globals")
)

// asFault converts any error from instruction execution into a fault tagged
// with the failing instruction.
func asFault(err error, pc uint16, op Opcode) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		f.PC, f.Opcode = pc, op
		return f
	}
	return &Fault{Kind: FaultInternal, PC: pc, Opcode: op, Detail: err.Error()}
}

func addrDetail(addr, size int) string {
	return fmt.Sprintf("address %d, %d cells in use", addr, size)
}
