package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/convm/ark"
	"github.com/chazu/convm/globals"
	"github.com/chazu/convm/vm"
)

// DebugServiceName is the Connect service name.
const DebugServiceName = "convm.v1.DebugService"

// Procedure paths.
const (
	StartProcedure       = "/" + DebugServiceName + "/Start"
	StepProcedure        = "/" + DebugServiceName + "/Step"
	SelectProcedure      = "/" + DebugServiceName + "/Select"
	AnswerProcedure      = "/" + DebugServiceName + "/Answer"
	AcknowledgeProcedure = "/" + DebugServiceName + "/Acknowledge"
	EndProcedure         = "/" + DebugServiceName + "/End"
	InspectProcedure     = "/" + DebugServiceName + "/Inspect"
	BreakpointProcedure  = "/" + DebugServiceName + "/Breakpoint"
	ControlProcedure     = "/" + DebugServiceName + "/Control"
	DisassembleProcedure = "/" + DebugServiceName + "/Disassemble"
	SlotsProcedure       = "/" + DebugServiceName + "/Slots"
	SaveProcedure        = "/" + DebugServiceName + "/SaveGlobals"
	LoadProcedure        = "/" + DebugServiceName + "/LoadGlobals"
)

// DebugService runs conversations on behalf of remote clients and exposes
// the conversation debugger.
type DebugService struct {
	worker   *Worker
	sessions *SessionStore
}

// NewDebugService creates a DebugService.
func NewDebugService(worker *Worker, sessions *SessionStore) *DebugService {
	return &DebugService{worker: worker, sessions: sessions}
}

// register mounts every procedure on mux.
func (s *DebugService) register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	mux.Handle(StartProcedure, connect.NewUnaryHandler(StartProcedure, s.Start, opts...))
	mux.Handle(StepProcedure, connect.NewUnaryHandler(StepProcedure, s.Step, opts...))
	mux.Handle(SelectProcedure, connect.NewUnaryHandler(SelectProcedure, s.Select, opts...))
	mux.Handle(AnswerProcedure, connect.NewUnaryHandler(AnswerProcedure, s.Answer, opts...))
	mux.Handle(AcknowledgeProcedure, connect.NewUnaryHandler(AcknowledgeProcedure, s.Acknowledge, opts...))
	mux.Handle(EndProcedure, connect.NewUnaryHandler(EndProcedure, s.End, opts...))
	mux.Handle(InspectProcedure, connect.NewUnaryHandler(InspectProcedure, s.Inspect, opts...))
	mux.Handle(BreakpointProcedure, connect.NewUnaryHandler(BreakpointProcedure, s.Breakpoint, opts...))
	mux.Handle(ControlProcedure, connect.NewUnaryHandler(ControlProcedure, s.Control, opts...))
	mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, s.Disassemble, opts...))
	mux.Handle(SlotsProcedure, connect.NewUnaryHandler(SlotsProcedure, s.Slots, opts...))
	mux.Handle(SaveProcedure, connect.NewUnaryHandler(SaveProcedure, s.SaveGlobals, opts...))
	mux.Handle(LoadProcedure, connect.NewUnaryHandler(LoadProcedure, s.LoadGlobals, opts...))
}

// ---------------------------------------------------------------------------
// Worker plumbing
// ---------------------------------------------------------------------------

// run executes fn on the worker goroutine and maps its error to a Connect
// error.
func run[T any](ctx context.Context, w *Worker, fn func(*Library) (T, error)) (T, error) {
	var out T
	var fnErr error
	err := w.Do(ctx, func(l *Library) error {
		out, fnErr = fn(l)
		return nil
	})
	switch {
	case errors.Is(err, context.Canceled):
		return out, connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return out, connect.NewError(connect.CodeDeadlineExceeded, err)
	case err != nil:
		return out, connect.NewError(connect.CodeInternal, err)
	case fnErr != nil:
		return out, connectError(fnErr)
	}
	return out, nil
}

// withSession looks up a session and runs fn with it on the worker.
func withSession[T any](ctx context.Context, s *DebugService, id string, fn func(*Library, *Session) (T, error)) (T, error) {
	var zero T
	if id == "" {
		return zero, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		return zero, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return run(ctx, s.worker, func(l *Library) (T, error) { return fn(l, sess) })
}

func connectError(err error) error {
	var ce *connect.Error
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, vm.ErrWrongState):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, vm.ErrBadSelection):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ark.ErrSlotEmpty), errors.Is(err, ark.ErrSlotRange), errors.Is(err, globals.ErrNoSave):
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// status reports a session's state. Must be called on the worker goroutine.
func status(sess *Session) Status {
	m := sess.Machine
	st := Status{
		State:      m.State().String(),
		Running:    m.Running(),
		PC:         m.PC(),
		Output:     sess.host.drain(),
		Candidates: toCandidates(m.Candidates()),
	}
	if f := m.Fault(); f != nil {
		st.Fault = f.Error()
	}
	if sess.Debugger != nil {
		st.Paused = sess.Debugger.IsPaused()
	}
	return st
}

// ---------------------------------------------------------------------------
// Conversation lifecycle
// ---------------------------------------------------------------------------

// Start loads a slot and starts its conversation.
func (s *DebugService) Start(
	ctx context.Context,
	req *connect.Request[StartRequest],
) (*connect.Response[StartResponse], error) {
	msg := req.Msg
	resp, err := run(ctx, s.worker, func(l *Library) (*StartResponse, error) {
		script, strs, err := l.Open(msg.Slot)
		if err != nil {
			return nil, err
		}
		l.EnsureNPC(msg.Slot, vm.NPC{Level: msg.Level, ObjectPos: msg.ObjectPos})
		var opts []vm.Option
		if msg.Debug {
			opts = append(opts, vm.WithProfiler(vm.NewProfiler()))
		}
		h := newHub()
		sess := &Session{Slot: msg.Slot, Machine: l.NewMachine(script, opts...), host: newSessionHost(h), hub: h}
		if msg.Debug {
			sess.Debugger = vm.NewDebugger(sess.Machine)
			sess.Debugger.Activate()
			sess.Debugger.Pause()
		}
		if err := sess.Machine.Init(msg.Level, msg.ObjectPos, sess.host, strs); err != nil {
			return nil, connect.NewError(connect.CodeResourceExhausted, err)
		}
		s.sessions.Add(sess)
		return &StartResponse{SessionID: sess.ID, Status: status(sess)}, nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Step advances a conversation to its next host-visible effect.
func (s *DebugService) Step(
	ctx context.Context,
	req *connect.Request[StepRequest],
) (*connect.Response[Status], error) {
	count := max(req.Msg.Count, 1)
	st, err := withSession(ctx, s, req.Msg.SessionID, func(_ *Library, sess *Session) (Status, error) {
		m := sess.Machine
		for range count {
			if !m.Step() || m.State().AwaitingInput() {
				break
			}
			if sess.Debugger != nil && sess.Debugger.IsPaused() {
				break
			}
		}
		return status(sess), nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&st), nil
}

// Select answers a pending menu.
func (s *DebugService) Select(
	ctx context.Context,
	req *connect.Request[SelectRequest],
) (*connect.Response[Status], error) {
	st, err := withSession(ctx, s, req.Msg.SessionID, func(_ *Library, sess *Session) (Status, error) {
		if err := sess.Machine.SelectMenu(req.Msg.Index); err != nil {
			return Status{}, err
		}
		return status(sess), nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&st), nil
}

// Answer answers a pending text prompt.
func (s *DebugService) Answer(
	ctx context.Context,
	req *connect.Request[AnswerRequest],
) (*connect.Response[Status], error) {
	st, err := withSession(ctx, s, req.Msg.SessionID, func(_ *Library, sess *Session) (Status, error) {
		if err := sess.Machine.SubmitText(req.Msg.Text); err != nil {
			return Status{}, err
		}
		return status(sess), nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&st), nil
}

// Acknowledge confirms the end of a conversation, flushing its globals.
func (s *DebugService) Acknowledge(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[Status], error) {
	st, err := withSession(ctx, s, req.Msg.SessionID, func(_ *Library, sess *Session) (Status, error) {
		if err := sess.Machine.Acknowledge(); err != nil {
			return Status{}, err
		}
		return status(sess), nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&st), nil
}

// End aborts a conversation if it is still going and discards the session.
func (s *DebugService) End(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[Empty], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	if !s.sessions.Destroy(req.Msg.SessionID) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", req.Msg.SessionID))
	}
	return connect.NewResponse(&Empty{}), nil
}

// ---------------------------------------------------------------------------
// Debugging
// ---------------------------------------------------------------------------

// Inspect returns a snapshot of a conversation's execution context.
func (s *DebugService) Inspect(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[InspectResponse], error) {
	resp, err := withSession(ctx, s, req.Msg.SessionID, func(_ *Library, sess *Session) (*InspectResponse, error) {
		m := sess.Machine
		snap, ok := m.Context()
		if !ok {
			return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("conversation is over"))
		}
		out := &InspectResponse{
			PC:     snap.PC,
			BP:     snap.BP,
			Result: snap.Result.String(),
			Steps:  m.Steps(),
			State:  m.State().String(),
		}
		for _, v := range snap.Stack {
			out.Stack = append(out.Stack, v.String())
		}
		labels := vm.Labels(m.Script().Code)
		for i := len(snap.Frames) - 1; i >= 0; i-- {
			f := snap.Frames[i]
			out.Frames = append(out.Frames, Frame{Function: labels[f.Entry], Entry: f.Entry, ReturnPC: f.ReturnPC})
		}
		if p := m.Profiler(); p != nil {
			out.Profile = profile(p, labels)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// topFunctions bounds the functions reported by Inspect.
const topFunctions = 10

func profile(p *vm.Profiler, labels map[uint16]string) *Profile {
	out := &Profile{
		Instructions: p.Stats().Instructions,
		Opcodes:      make(map[string]uint64),
	}
	for op, n := range p.OpcodeCounts() {
		out.Opcodes[op.String()] = n
	}
	for _, fp := range p.TopFunctions(topFunctions) {
		out.Functions = append(out.Functions, FunctionCount{
			Function: labels[fp.Entry],
			Entry:    fp.Entry,
			Calls:    fp.Calls,
			Hot:      fp.IsHot,
		})
	}
	return out
}

func debuggerOf(sess *Session) (*vm.Debugger, error) {
	if sess.Debugger == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("session %s was not started for debugging", sess.ID))
	}
	return sess.Debugger, nil
}

// Breakpoint sets or removes a breakpoint.
func (s *DebugService) Breakpoint(
	ctx context.Context,
	req *connect.Request[BreakpointRequest],
) (*connect.Response[BreakpointResponse], error) {
	msg := req.Msg
	resp, err := withSession(ctx, s, msg.SessionID, func(_ *Library, sess *Session) (*BreakpointResponse, error) {
		d, err := debuggerOf(sess)
		if err != nil {
			return nil, err
		}
		if msg.Remove {
			err = d.RemoveBreakpoint(msg.PC)
		} else {
			err = d.SetBreakpoint(msg.PC)
		}
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		out := &BreakpointResponse{}
		for _, bp := range d.ListBreakpoints() {
			out.Breakpoints = append(out.Breakpoints, bp.PC)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Control issues a debugger command. Execution itself happens on the next
// Step call.
func (s *DebugService) Control(
	ctx context.Context,
	req *connect.Request[ControlRequest],
) (*connect.Response[Status], error) {
	msg := req.Msg
	st, err := withSession(ctx, s, msg.SessionID, func(_ *Library, sess *Session) (Status, error) {
		d, err := debuggerOf(sess)
		if err != nil {
			return Status{}, err
		}
		switch msg.Command {
		case "resume":
			d.Resume()
		case "pause":
			d.Pause()
		case "step-into":
			d.StepInto()
		case "step-over":
			d.StepOver()
		case "step-out":
			d.StepOut()
		default:
			return Status{}, connect.NewError(connect.CodeInvalidArgument,
				fmt.Errorf("unknown debugger command %q", msg.Command))
		}
		return status(sess), nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&st), nil
}

// ---------------------------------------------------------------------------
// Archive and saves
// ---------------------------------------------------------------------------

// Disassemble returns the listing of a slot.
func (s *DebugService) Disassemble(
	ctx context.Context,
	req *connect.Request[SlotRequest],
) (*connect.Response[DisassembleResponse], error) {
	resp, err := run(ctx, s.worker, func(l *Library) (*DisassembleResponse, error) {
		script, strs, err := l.Open(req.Msg.Slot)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		if err := vm.Disassemble(&b, script, strs); err != nil {
			return nil, err
		}
		return &DisassembleResponse{Listing: b.String()}, nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Slots describes the archive's conversations.
func (s *DebugService) Slots(
	ctx context.Context,
	req *connect.Request[SlotsRequest],
) (*connect.Response[SlotsResponse], error) {
	resp, err := run(ctx, s.worker, func(l *Library) (*SlotsResponse, error) {
		out := &SlotsResponse{}
		for slot := 0; slot < l.Archive.NumSlots(); slot++ {
			if !l.Archive.IsAvailable(slot) {
				continue
			}
			info := SlotInfo{Slot: slot}
			if script, err := l.Archive.Load(slot); err != nil {
				info.Error = err.Error()
			} else {
				info.StringBlock = script.StringBlock
				info.CodeWords = len(script.Code)
				info.Imports = len(script.Imports)
			}
			out.Slots = append(out.Slots, info)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

func storeOf(l *Library) (*globals.SQLStore, error) {
	if l.Store == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("no save store configured"))
	}
	return l.Store, nil
}

// SaveGlobals writes the current globals to the save store.
func (s *DebugService) SaveGlobals(
	ctx context.Context,
	req *connect.Request[SaveRequest],
) (*connect.Response[SaveResponse], error) {
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	resp, err := run(ctx, s.worker, func(l *Library) (*SaveResponse, error) {
		store, err := storeOf(l)
		if err != nil {
			return nil, err
		}
		if err := store.Save(ctx, req.Msg.Name, l.Globals); err != nil {
			return nil, err
		}
		saves, err := store.Saves(ctx)
		if err != nil {
			return nil, err
		}
		return &SaveResponse{Saves: saves}, nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// LoadGlobals replaces the globals with a save. Running conversations hold
// the old globals, so loading is refused while any session exists.
func (s *DebugService) LoadGlobals(
	ctx context.Context,
	req *connect.Request[SaveRequest],
) (*connect.Response[Empty], error) {
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	_, err := run(ctx, s.worker, func(l *Library) (*Empty, error) {
		if n := s.sessions.Len(); n > 0 {
			return nil, connect.NewError(connect.CodeFailedPrecondition,
				fmt.Errorf("%d conversations running", n))
		}
		store, err := storeOf(l)
		if err != nil {
			return nil, err
		}
		g, err := store.Load(ctx, req.Msg.Name)
		if err != nil {
			return nil, err
		}
		l.Globals = g
		logger.Infof("loaded globals %q (%d slots)", req.Msg.Name, g.NumSlots())
		return &Empty{}, nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&Empty{}), nil
}
