// Package vm implements the conversation virtual machine.
//
// This package contains:
//   - the 42-opcode instruction set and an assembler for it
//   - tagged stack values and the conversation memory stack
//   - the interpreter with its Step/suspend/resume protocol
//   - the intrinsic bridge into host game logic and UI
//   - the dialogue state machine observed by the host
//   - a disassembler and an instruction-level debugger
package vm
