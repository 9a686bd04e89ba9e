package vm

import "fmt"

// ---------------------------------------------------------------------------
// Dialogue state machine
// ---------------------------------------------------------------------------

// State is the suspend/resume state a conversation exposes to the host.
type State uint8

const (
	StateRunning State = iota
	StateAwaitingMenuSelection
	StateAwaitingFreeText
	StateWaitingForContinue
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateAwaitingMenuSelection:
		return "AwaitingMenuSelection"
	case StateAwaitingFreeText:
		return "AwaitingFreeText"
	case StateWaitingForContinue:
		return "WaitingForContinue"
	case StateFinished:
		return "Finished"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// AwaitingInput reports whether the host must answer before Step proceeds.
func (s State) AwaitingInput() bool {
	return s == StateAwaitingMenuSelection || s == StateAwaitingFreeText
}

// MenuCandidate is one answer offered to the player. Value is what lands in
// the result register when it is chosen.
type MenuCandidate struct {
	Value  int32
	Handle uint32
	Text   string
}

// dialogue tracks the state and the pending menu.
type dialogue struct {
	state      State
	candidates []MenuCandidate
}

func (d *dialogue) transition(from []State, to State) error {
	for _, s := range from {
		if d.state == s {
			d.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrWrongState, d.state, to)
}

func (d *dialogue) awaitMenu(c []MenuCandidate) error {
	if err := d.transition([]State{StateRunning}, StateAwaitingMenuSelection); err != nil {
		return err
	}
	d.candidates = c
	return nil
}

func (d *dialogue) awaitText() error {
	return d.transition([]State{StateRunning}, StateAwaitingFreeText)
}

// choose resolves a pending menu and returns the chosen candidate.
func (d *dialogue) choose(index int) (MenuCandidate, error) {
	if d.state != StateAwaitingMenuSelection {
		return MenuCandidate{}, fmt.Errorf("%w: %s, not awaiting a menu selection", ErrWrongState, d.state)
	}
	if index < 0 || index >= len(d.candidates) {
		return MenuCandidate{}, fmt.Errorf("%w: %d of %d", ErrBadSelection, index, len(d.candidates))
	}
	c := d.candidates[index]
	d.candidates = nil
	d.state = StateRunning
	return c, nil
}

func (d *dialogue) answerText() error {
	return d.transition([]State{StateAwaitingFreeText}, StateRunning)
}

func (d *dialogue) stop() {
	if d.state != StateFinished {
		d.state = StateWaitingForContinue
		d.candidates = nil
	}
}

func (d *dialogue) acknowledge() error {
	return d.transition([]State{StateWaitingForContinue}, StateFinished)
}

func (d *dialogue) finish() {
	d.state = StateFinished
	d.candidates = nil
}
