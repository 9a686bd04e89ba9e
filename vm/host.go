package vm

// ---------------------------------------------------------------------------
// Host collaborators
// ---------------------------------------------------------------------------

// CodeCallback is implemented by the conversation UI.
type CodeCallback interface {
	// Say shows a line spoken by the NPC. text has placeholders replaced.
	Say(handle uint32, text string)

	// Print shows a narration line in the message scroll.
	Print(text string)

	// BablMenu offers the player a choice. A callback that can answer at
	// once returns the 0-based selection and true; otherwise the machine
	// suspends until SelectMenu is called.
	BablMenu(candidates []MenuCandidate) (int, bool)

	// BablAsk asks the player for free text, with the same immediate or
	// suspended protocol as BablMenu.
	BablAsk() (string, bool)

	// ExternalFunc runs an intrinsic the machine does not implement itself.
	// handled false marks the intrinsic as unresolved.
	ExternalFunc(name string, args *Args) (result int32, handled bool)
}

// Gender is the player's gender as seen by the sex intrinsic.
type Gender uint8

const (
	Male Gender = iota
	Female
)

// NPC identifies the conversation partner.
type NPC struct {
	Level     int
	ObjectPos uint16
}

// GameLogic is the game state conversations read and write.
type GameLogic interface {
	PlayerName() string
	SetPlayerName(name string)
	PlayerGender() Gender

	// Global returns an imported global other than play_name. ok is false
	// for names the game does not know.
	Global(name string, npc NPC) (value int32, ok bool)
	SetGlobal(name string, npc NPC, value int32) bool

	Quest(index int) int32
	SetQuest(index int, value int32)
}

// ---------------------------------------------------------------------------
// Args: intrinsic argument view
// ---------------------------------------------------------------------------

// Args is the view of the stack an intrinsic receives. The top cell holds
// the argument count; argument i (1-based) sits i cells below it and holds
// the address of the argument's value.
//
// Accessors that hit an invalid reference abort the running conversation
// with a fault.
type Args struct {
	m     *Machine
	count int
}

func newArgs(m *Machine) (*Args, error) {
	top, err := m.ctx.Stack.Top(0)
	if err != nil {
		return nil, err
	}
	n := int(top.Raw)
	if n < 0 || n >= m.ctx.Stack.Len() {
		return nil, &Fault{Kind: FaultBadArgument, Detail: "argument count out of range"}
	}
	return &Args{m: m, count: n}, nil
}

// Len returns the declared argument count.
func (a *Args) Len() int {
	return a.count
}

// Stack returns the underlying memory.
func (a *Args) Stack() *ConvStack {
	return a.m.ctx.Stack
}

// Ref returns the address held in argument i.
func (a *Args) Ref(i int) int {
	if i < 1 || i > a.count {
		panic(&Fault{Kind: FaultBadArgument, Detail: "argument index out of range"})
	}
	v, err := a.m.ctx.Stack.Top(i)
	if err != nil {
		panic(err)
	}
	return v.Addr()
}

// Value returns the cell argument i points to.
func (a *Args) Value(i int) Value {
	v, err := a.m.ctx.Stack.At(a.Ref(i))
	if err != nil {
		panic(err)
	}
	return v
}

// Int returns the integer argument i points to.
func (a *Args) Int(i int) int32 {
	return a.Value(i).Int()
}

// String returns the local string whose handle argument i points to.
func (a *Args) String(i int) string {
	h := a.Value(i).Handle()
	s, ok := a.m.localString(h)
	if !ok {
		panic(&Fault{Kind: FaultBadString, Detail: stringDetail(h, len(a.m.strings))})
	}
	return s
}

// Set stores v into the cell argument i points to.
func (a *Args) Set(i int, v Value) {
	addr := a.Ref(i)
	if err := a.m.ctx.Stack.Set(addr, v); err != nil {
		panic(err)
	}
	a.m.markDirty(addr)
}

// List returns the cells starting at the address in argument i, up to but
// excluding the first zero cell.
func (a *Args) List(i int) []Value {
	var out []Value
	for addr := a.Ref(i); ; addr++ {
		v, err := a.m.ctx.Stack.At(addr)
		if err != nil {
			panic(err)
		}
		if v.Raw == 0 {
			return out
		}
		out = append(out, v)
	}
}

// AllocString adds a local string and returns its handle.
func (a *Args) AllocString(text string) uint32 {
	return a.m.AllocString(text)
}
