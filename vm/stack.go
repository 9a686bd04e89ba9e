package vm

// ---------------------------------------------------------------------------
// ConvStack: conversation memory
// ---------------------------------------------------------------------------

// DefaultStackLimit is the maximum number of cells a conversation may use.
const DefaultStackLimit = 4096

// ConvStack is the conversation's memory: the low cells hold the
// conversation globals and imported globals, everything above is the
// operand stack. Addresses index cells from the bottom.
type ConvStack struct {
	cells []Value
	limit int
	floor int // cells below the floor belong to the globals region
}

func newConvStack(size, limit int) *ConvStack {
	return &ConvStack{cells: make([]Value, size, max(size, 64)), limit: limit}
}

// Len returns the number of cells in use; the top cell has address Len()-1.
func (s *ConvStack) Len() int {
	return len(s.cells)
}

// Limit returns the maximum number of cells.
func (s *ConvStack) Limit() int {
	return s.limit
}

// Push adds a cell on top.
func (s *ConvStack) Push(v Value) error {
	if len(s.cells) >= s.limit {
		return &Fault{Kind: FaultStackOverflow}
	}
	s.cells = append(s.cells, v)
	return nil
}

// Pop removes and returns the top cell.
func (s *ConvStack) Pop() (Value, error) {
	if len(s.cells) == 0 {
		return Value{}, &Fault{Kind: FaultStackUnderflow}
	}
	v := s.cells[len(s.cells)-1]
	s.cells = s.cells[:len(s.cells)-1]
	return v, nil
}

// Top returns the cell depth positions below the top without removing it.
func (s *ConvStack) Top(depth int) (Value, error) {
	i := len(s.cells) - 1 - depth
	if depth < 0 || i < 0 {
		return Value{}, &Fault{Kind: FaultStackUnderflow}
	}
	return s.cells[i], nil
}

// At reads the cell at addr.
func (s *ConvStack) At(addr int) (Value, error) {
	if addr < 0 || addr >= len(s.cells) {
		return Value{}, &Fault{Kind: FaultBadAddress, Detail: addrDetail(addr, len(s.cells))}
	}
	return s.cells[addr], nil
}

// Set writes the cell at addr.
func (s *ConvStack) Set(addr int, v Value) error {
	if addr < 0 || addr >= len(s.cells) {
		return &Fault{Kind: FaultBadAddress, Detail: addrDetail(addr, len(s.cells))}
	}
	s.cells[addr] = v
	return nil
}

// Floor returns the number of cells Truncate never drops.
func (s *ConvStack) Floor() int {
	return s.floor
}

// Truncate drops cells so that exactly n remain. It refuses to cut into the
// globals region below the floor.
func (s *ConvStack) Truncate(n int) error {
	if n < s.floor || n > len(s.cells) {
		return &Fault{Kind: FaultStackUnderflow, Detail: addrDetail(n, len(s.cells))}
	}
	s.cells = s.cells[:n]
	return nil
}

// Grow pushes n copies of fill.
func (s *ConvStack) Grow(n int, fill Value) error {
	if len(s.cells)+n > s.limit {
		return &Fault{Kind: FaultStackOverflow}
	}
	for i := 0; i < n; i++ {
		s.cells = append(s.cells, fill)
	}
	return nil
}

// Cells returns a copy of all cells, bottom first.
func (s *ConvStack) Cells() []Value {
	out := make([]Value, len(s.cells))
	copy(out, s.cells)
	return out
}
