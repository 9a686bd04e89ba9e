package server

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/convm/ark"
	"github.com/chazu/convm/game"
	"github.com/chazu/convm/globals"
	"github.com/chazu/convm/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// Every test gets its own library, since conversations write globals. The
// archive holds three slots:
//
//	0: empty
//	2: greeting, a two-answer menu, stores the answer in global 3
//	3: truncated record
// ---------------------------------------------------------------------------

const (
	greetSlot  = 2
	brokenSlot = 3
)

var greetStrings = []string{"Hail, stranger.", "Who are you?", "Farewell."}

// greetScript says string 0, offers strings 1 and 2, and stores the chosen
// position in global 3.
func greetScript() *ark.Script {
	a := vm.NewAssembler()
	a.Push(0).Emit(vm.OpSay)
	a.Push(0).Push(1).EmitOp(vm.OpCALLI, 0).Emit(vm.OpPop).Emit(vm.OpPop)
	a.Push(3).Emit(vm.OpPushReg).Emit(vm.OpSto)
	a.Emit(vm.OpExit)
	return &ark.Script{
		Unknown1:    0x0828,
		StringBlock: StringBlockBase + greetSlot,
		StackSize:   4,
		Imports: []ark.ImportEntry{
			{ID: 0, Name: "babl_menu", Kind: ark.ImportIntrinsic, ReturnType: ark.ReturnInt},
		},
		Code: a.Code(),
	}
}

func testArchive(t *testing.T) *ark.Archive {
	t.Helper()
	broken := ark.EncodeScript(greetScript())
	records := map[int][]byte{
		greetSlot:  ark.EncodeScript(greetScript()),
		brokenSlot: broken[:len(broken)-4],
	}
	a, err := ark.FromBytes(ark.BuildArchive(4, records))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	return a
}

// testEnv bundles an isolated library with its worker and session store.
type testEnv struct {
	Lib      *Library
	Worker   *Worker
	Sessions *SessionStore
	Svc      *DebugService
}

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	strs := game.NewStringTable()
	strs.SetBlock(StringBlockBase+greetSlot, greetStrings)

	g := globals.New()
	g.SetSlot(greetSlot, []uint16{1, 2, 0, 0})

	store, err := globals.OpenSQLStore(filepath.Join(t.TempDir(), "saves.db"))
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &Library{
		Archive: testArchive(t),
		Strings: strs,
		Globals: g,
		Game:    game.NewState("Avatar", vm.Male),
		Store:   store,
		Seed:    1,
	}
}

// newTestEnv creates an isolated environment. It is stopped when the test
// ends.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	lib := newTestLibrary(t)
	w := NewWorker(lib)
	s := NewSessionStore(w)
	t.Cleanup(func() {
		s.DestroyAll()
		w.Stop()
	})
	return &testEnv{Lib: lib, Worker: w, Sessions: s, Svc: NewDebugService(w, s)}
}

// start begins a conversation in slot and returns its session id.
func (e *testEnv) start(t *testing.T, slot int, debug bool) string {
	t.Helper()
	resp, err := e.Svc.Start(bg(), connectReq(&StartRequest{Slot: slot, Level: 1, ObjectPos: 42, Debug: debug}))
	if err != nil {
		t.Fatalf("Start(%d): %v", slot, err)
	}
	return resp.Msg.SessionID
}

func (e *testEnv) step(t *testing.T, id string) Status {
	t.Helper()
	resp, err := e.Svc.Step(bg(), connectReq(&StepRequest{SessionID: id}))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	return *resp.Msg
}

// ---------------------------------------------------------------------------
// Request builder helpers
// ---------------------------------------------------------------------------

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}

func wantCode(t *testing.T, err error, code connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", code)
	}
	if got := connect.CodeOf(err); got != code {
		t.Errorf("error code = %v, want %v (%v)", got, code, err)
	}
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

// newHTTPServer serves a fresh ConvServer over httptest.
func newHTTPServer(t *testing.T, opts ...ServerOption) (*ConvServer, *httptest.Server) {
	t.Helper()
	s := New(newTestLibrary(t), opts...)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		hs.Close()
	})
	return s, hs
}

// call invokes a procedure over HTTP with the CBOR codec.
func call[Req, Res any](hs *httptest.Server, procedure string, req *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](hs.Client(), hs.URL+procedure, connect.WithCodec(Codec{}))
	resp, err := client.CallUnary(bg(), connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
