package vm

import (
	"testing"

	"github.com/chazu/convm/ark"
	"github.com/chazu/convm/globals"
)

// ---------------------------------------------------------------------------
// Host fakes
// ---------------------------------------------------------------------------

type fakeLogic struct {
	name    string
	gender  Gender
	globals map[string]int32
	quests  map[int]int32
}

func newFakeLogic() *fakeLogic {
	return &fakeLogic{
		name:    "Avatar",
		globals: map[string]int32{},
		quests:  map[int]int32{},
	}
}

func (l *fakeLogic) PlayerName() string        { return l.name }
func (l *fakeLogic) SetPlayerName(name string) { l.name = name }
func (l *fakeLogic) PlayerGender() Gender      { return l.gender }

func (l *fakeLogic) Global(name string, _ NPC) (int32, bool) {
	v, ok := l.globals[name]
	return v, ok
}

func (l *fakeLogic) SetGlobal(name string, _ NPC, value int32) bool {
	l.globals[name] = value
	return true
}

func (l *fakeLogic) Quest(index int) int32            { return l.quests[index] }
func (l *fakeLogic) SetQuest(index int, value int32) { l.quests[index] = value }

type fakeCallback struct {
	said     []string
	printed  []string
	menus    [][]MenuCandidate
	answer   int // immediate menu answer, -1 to suspend
	text     string
	askNow   bool
	external func(name string, args *Args) (int32, bool)
}

func newFakeCallback() *fakeCallback {
	return &fakeCallback{answer: -1}
}

func (c *fakeCallback) Say(_ uint32, text string) { c.said = append(c.said, text) }
func (c *fakeCallback) Print(text string)         { c.printed = append(c.printed, text) }

func (c *fakeCallback) BablMenu(candidates []MenuCandidate) (int, bool) {
	c.menus = append(c.menus, candidates)
	if c.answer < 0 {
		return 0, false
	}
	return c.answer, true
}

func (c *fakeCallback) BablAsk() (string, bool) {
	return c.text, c.askNow
}

func (c *fakeCallback) ExternalFunc(name string, args *Args) (int32, bool) {
	if c.external == nil {
		return 0, false
	}
	return c.external(name, args)
}

// ---------------------------------------------------------------------------
// Machine setup
// ---------------------------------------------------------------------------

const testSlot = 1

func intrinsicImport(id uint16, name string) ark.ImportEntry {
	return ark.ImportEntry{ID: id, Name: name, Kind: ark.ImportIntrinsic, ReturnType: ark.ReturnInt}
}

func globalImport(id uint16, name string) ark.ImportEntry {
	return ark.ImportEntry{ID: id, Name: name, Kind: ark.ImportGlobal}
}

func newScript(code []uint16, imports ...ark.ImportEntry) *ark.Script {
	return &ark.Script{Slot: testSlot, StackSize: 8, Code: code, Imports: imports}
}

type testRig struct {
	m       *Machine
	cb      *fakeCallback
	logic   *fakeLogic
	globals *globals.Globals
}

// start builds and initializes a machine. slotGlobals seeds the test slot.
func start(t *testing.T, s *ark.Script, slotGlobals []uint16, strs []string, opts ...Option) *testRig {
	t.Helper()
	g := globals.New()
	if slotGlobals != nil {
		g.SetSlot(testSlot, slotGlobals)
	}
	r := &testRig{cb: newFakeCallback(), logic: newFakeLogic(), globals: g}
	r.m = New(s, g, r.logic, append([]Option{WithSeed(1)}, opts...)...)
	if err := r.m.Init(1, 42, r.cb, strs); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

// runToEnd steps until the machine stops, failing if it suspends for input.
func runToEnd(t *testing.T, m *Machine) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if !m.Step() {
			return
		}
		if m.State().AwaitingInput() {
			t.Fatalf("unexpected suspension in state %s", m.State())
		}
	}
	t.Fatal("machine did not stop")
}

func topOfStack(t *testing.T, m *Machine) Value {
	t.Helper()
	snap, ok := m.Context()
	if !ok {
		t.Fatal("no execution context")
	}
	if len(snap.Stack) == 0 {
		t.Fatal("empty stack")
	}
	return snap.Stack[len(snap.Stack)-1]
}
