package vm

import (
	"strconv"
	"strings"
)

// ReplacePlaceholder substitutes the @-tokens in text. A token is '@', a
// source letter, a type letter and a decimal number:
//
//	source G  memory cell <number>
//	source S  frame cell <number> relative to the base pointer
//	source P  cell addressed by frame cell <number>
//	type   S  the cell holds a local string handle
//	type   I  the cell holds an integer
//
// Malformed tokens are left in place. Unreadable cells expand to nothing.
func (m *Machine) ReplacePlaceholder(text string) string {
	if !strings.Contains(text, "@") {
		return text
	}

	var b strings.Builder
	for {
		i := strings.IndexByte(text, '@')
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:i])
		text = text[i:]

		repl, n, ok := m.expandToken(text)
		if !ok {
			b.WriteByte('@')
			text = text[1:]
			continue
		}
		b.WriteString(repl)
		text = text[n:]
	}
}

// expandToken expands the token at the start of tok and returns the
// replacement and the token length.
func (m *Machine) expandToken(tok string) (string, int, bool) {
	if len(tok) < 4 {
		return "", 0, false
	}
	source, kind := tok[1], tok[2]
	if !strings.ContainsRune("GSP", rune(source)) || !strings.ContainsRune("SI", rune(kind)) {
		return "", 0, false
	}

	n := 3
	if tok[n] == '-' || tok[n] == '+' {
		n++
	}
	start := n
	for n < len(tok) && tok[n] >= '0' && tok[n] <= '9' {
		n++
	}
	if n == start {
		return "", 0, false
	}
	param, err := strconv.Atoi(tok[3:n])
	if err != nil {
		return "", 0, false
	}

	v, ok := m.placeholderValue(source, param)
	if !ok {
		logger.Warningf("placeholder %s refers to an unreadable cell", tok[:n])
		return "", n, true
	}
	if kind == 'S' {
		return m.GetLocalString(v.Handle()), n, true
	}
	return strconv.Itoa(int(v.Int())), n, true
}

func (m *Machine) placeholderValue(source byte, param int) (Value, bool) {
	if m.ctx == nil {
		return Value{}, false
	}
	s := m.ctx.Stack
	var addr int
	switch source {
	case 'G':
		addr = param
	case 'S':
		addr = m.ctx.frameAddr(param)
	case 'P':
		ptr, err := s.At(m.ctx.frameAddr(param))
		if err != nil {
			return Value{}, false
		}
		addr = ptr.Addr()
	}
	v, err := s.At(addr)
	return v, err == nil
}
