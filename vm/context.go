package vm

// ---------------------------------------------------------------------------
// ExecutionContext: state of one running conversation
// ---------------------------------------------------------------------------

// Frame is one active local function call.
type Frame struct {
	ReturnPC uint16 // instruction after the CALL
	SavedBP  int    // base pointer at the time of the call
	Entry    uint16 // called function
}

// ExecutionContext is created by Init and dropped by Done.
type ExecutionContext struct {
	PC      uint16
	Stack   *ConvStack
	BP      int // stack length recorded by the last SPTOBP
	Result  Value
	Running bool
	Frames  []Frame
}

// Depth returns the number of active local calls.
func (c *ExecutionContext) Depth() int {
	return len(c.Frames)
}

// frameAddr resolves a base-pointer-relative offset to an address. BP is a
// stack length, so the cell it names is one below it.
func (c *ExecutionContext) frameAddr(offset int) int {
	return c.BP - 1 + offset
}

// Snapshot is a copy of the context for inspection by debuggers.
type Snapshot struct {
	PC      uint16
	BP      int
	Result  Value
	Running bool
	Frames  []Frame
	Stack   []Value
}

func (c *ExecutionContext) snapshot() Snapshot {
	return Snapshot{
		PC:      c.PC,
		BP:      c.BP,
		Result:  c.Result,
		Running: c.Running,
		Frames:  append([]Frame(nil), c.Frames...),
		Stack:   c.Stack.Cells(),
	}
}
