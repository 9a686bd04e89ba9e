package vm

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chazu/convm/ark"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Labels returns the symbolic names for code addresses that are control
// transfer targets: "main" for address 0, func_XXXX for CALL targets and
// label_XXXX for jump and branch targets.
func Labels(code []uint16) map[uint16]string {
	labels := map[uint16]string{0: "main"}
	for addr := 0; addr < len(code); {
		in, err := Decode(code, uint16(addr))
		if err != nil {
			addr++
			continue
		}
		switch {
		case in.Op == OpCALL:
			labels[in.Target()] = fmt.Sprintf("func_%04x", in.Target())
		case in.Op == OpJMP || in.Op.Info().Relative:
			if _, ok := labels[in.Target()]; !ok {
				labels[in.Target()] = fmt.Sprintf("label_%04x", in.Target())
			}
		}
		addr += in.Size()
	}
	return labels
}

// DisassembleInstruction formats the instruction at addr and returns the
// text and the instruction size. Undecodable words come out as data.
func DisassembleInstruction(s *ark.Script, addr uint16, labels map[uint16]string) (string, int) {
	in, err := Decode(s.Code, addr)
	if err != nil {
		return fmt.Sprintf("%04x  %04x       .word %04x", addr, s.Code[addr], s.Code[addr]), 1
	}

	words := fmt.Sprintf("%04x", uint16(in.Op))
	if in.Op.Operands() == 1 {
		words += fmt.Sprintf(" %04x", in.Operand)
	} else {
		words += "     "
	}

	var text string
	switch {
	case in.Op == OpCALL || in.Op == OpJMP || in.Op.Info().Relative:
		target := fmt.Sprintf("%04x", in.Target())
		if l, ok := labels[in.Target()]; ok {
			target = l
		}
		text = fmt.Sprintf("%s %s", in.Op, target)
	case in.Op == OpCALLI:
		name := "?"
		if e, ok := s.Function(in.Operand); ok {
			name = e.Name
		}
		text = fmt.Sprintf("CALLI %s", name)
	default:
		text = in.String()
	}
	return fmt.Sprintf("%04x  %s  %s", addr, words, text), in.Size()
}

// Disassemble writes a listing of s to w: the import table followed by the
// code with labels. When strs holds the conversation's string block, PUSHI
// operands that feed SAY_OP are annotated with their text.
func Disassemble(w io.Writer, s *ark.Script, strs []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "; conversation slot %d, string block %04x, %d globals, %d code words\n",
		s.Slot, s.StringBlock, s.StackSize, len(s.Code))

	imports := append([]ark.ImportEntry(nil), s.Imports...)
	sort.SliceStable(imports, func(i, j int) bool { return imports[i].ID < imports[j].ID })
	b.WriteString(";\n; imports:\n")
	for _, e := range imports {
		fmt.Fprintf(&b, ";   %s\n", e)
	}
	b.WriteString("\n")

	labels := Labels(s.Code)
	for addr := 0; addr < len(s.Code); {
		if l, ok := labels[uint16(addr)]; ok {
			if strings.HasPrefix(l, "func_") || l == "main" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s:\n", l)
		}
		line, n := DisassembleInstruction(s, uint16(addr), labels)
		b.WriteString("  ")
		b.WriteString(line)
		if c := sayComment(s.Code, addr, strs); c != "" {
			fmt.Fprintf(&b, "    ; %q", c)
		}
		b.WriteString("\n")
		addr += n
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// sayComment returns the text pushed by "PUSHI n; SAY_OP" at addr.
func sayComment(code []uint16, addr int, strs []string) string {
	if addr+2 >= len(code) || Opcode(code[addr]) != OpPushI || Opcode(code[addr+2]) != OpSay {
		return ""
	}
	idx := int(code[addr+1])
	if idx >= len(strs) {
		return ""
	}
	return strs[idx]
}
