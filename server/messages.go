package server

// ---------------------------------------------------------------------------
// Debug service messages (CBOR)
// ---------------------------------------------------------------------------

// StartRequest starts the conversation in Slot with the NPC at ObjectPos.
type StartRequest struct {
	Slot      int    `cbor:"1,keyasint"`
	Level     int    `cbor:"2,keyasint"`
	ObjectPos uint16 `cbor:"3,keyasint"`
	Debug     bool   `cbor:"4,keyasint,omitempty"` // attach a debugger, paused before main
}

// StartResponse names the new session.
type StartResponse struct {
	SessionID string `cbor:"1,keyasint"`
	Status    Status `cbor:"2,keyasint"`
}

// SessionRequest addresses a session.
type SessionRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

// StepRequest advances a session by up to Count steps, stopping early when
// the conversation waits for an answer or ends.
type StepRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Count     int    `cbor:"2,keyasint,omitempty"`
}

// SelectRequest answers a menu with a 0-based candidate index.
type SelectRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Index     int    `cbor:"2,keyasint"`
}

// AnswerRequest answers a text prompt.
type AnswerRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Text      string `cbor:"2,keyasint"`
}

// Status is the host-visible state of a session after a call.
type Status struct {
	State      string      `cbor:"1,keyasint"`
	Running    bool        `cbor:"2,keyasint"`
	PC         uint16      `cbor:"3,keyasint"`
	Output     []Line      `cbor:"4,keyasint,omitempty"` // lines produced by this call
	Candidates []Candidate `cbor:"5,keyasint,omitempty"`
	Fault      string      `cbor:"6,keyasint,omitempty"`
	Paused     bool        `cbor:"7,keyasint,omitempty"`
}

// Line is one line of conversation output.
type Line struct {
	Kind string `cbor:"1,keyasint"` // "say" or "print"
	Text string `cbor:"2,keyasint"`
}

// Candidate is one menu answer.
type Candidate struct {
	Value int32  `cbor:"1,keyasint"`
	Text  string `cbor:"2,keyasint"`
}

// BreakpointRequest sets or removes a breakpoint.
type BreakpointRequest struct {
	SessionID string `cbor:"1,keyasint"`
	PC        uint16 `cbor:"2,keyasint"`
	Remove    bool   `cbor:"3,keyasint,omitempty"`
}

// BreakpointResponse lists the session's breakpoints.
type BreakpointResponse struct {
	Breakpoints []uint16 `cbor:"1,keyasint"`
}

// ControlRequest drives the debugger: "resume", "pause", "step-into",
// "step-over" or "step-out".
type ControlRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Command   string `cbor:"2,keyasint"`
}

// InspectResponse is a snapshot of a session's execution context.
type InspectResponse struct {
	PC     uint16   `cbor:"1,keyasint"`
	BP     int      `cbor:"2,keyasint"`
	Result string   `cbor:"3,keyasint"`
	Stack  []string `cbor:"4,keyasint"`
	Frames []Frame  `cbor:"5,keyasint,omitempty"`
	Steps  uint64   `cbor:"6,keyasint"`
	State  string   `cbor:"7,keyasint"`

	Profile *Profile `cbor:"8,keyasint,omitempty"` // debug sessions only
}

// Profile is the instruction profile of a debug session.
type Profile struct {
	Instructions uint64            `cbor:"1,keyasint"`
	Opcodes      map[string]uint64 `cbor:"2,keyasint,omitempty"`
	Functions    []FunctionCount   `cbor:"3,keyasint,omitempty"` // most called first
}

// FunctionCount is how often a local function was called.
type FunctionCount struct {
	Function string `cbor:"1,keyasint"`
	Entry    uint16 `cbor:"2,keyasint"`
	Calls    uint64 `cbor:"3,keyasint"`
	Hot      bool   `cbor:"4,keyasint,omitempty"`
}

// Frame is one active local call, innermost first.
type Frame struct {
	Function string `cbor:"1,keyasint"`
	Entry    uint16 `cbor:"2,keyasint"`
	ReturnPC uint16 `cbor:"3,keyasint"`
}

// SlotRequest addresses an archive slot.
type SlotRequest struct {
	Slot int `cbor:"1,keyasint"`
}

// DisassembleResponse carries a listing.
type DisassembleResponse struct {
	Listing string `cbor:"1,keyasint"`
}

// SlotsRequest asks for the archive's slot table.
type SlotsRequest struct{}

// SlotsResponse describes every available slot.
type SlotsResponse struct {
	Slots []SlotInfo `cbor:"1,keyasint"`
}

// SlotInfo describes one conversation.
type SlotInfo struct {
	Slot        int    `cbor:"1,keyasint"`
	StringBlock uint16 `cbor:"2,keyasint"`
	CodeWords   int    `cbor:"3,keyasint"`
	Imports     int    `cbor:"4,keyasint"`
	Error       string `cbor:"5,keyasint,omitempty"`
}

// SaveRequest names a save in the store.
type SaveRequest struct {
	Name string `cbor:"1,keyasint"`
}

// SaveResponse lists the saves in the store.
type SaveResponse struct {
	Saves []string `cbor:"1,keyasint"`
}

// Empty is returned by calls with nothing to report.
type Empty struct{}
