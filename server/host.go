package server

import "github.com/chazu/convm/vm"

// sessionHost is the CodeCallback of a served conversation. It collects
// output for the next RPC response and mirrors it to event subscribers.
// Menus and prompts always suspend; clients answer with Select and Answer.
type sessionHost struct {
	session string
	output  []Line
	hub     *hub
}

func newSessionHost(h *hub) *sessionHost {
	return &sessionHost{hub: h}
}

func (h *sessionHost) Say(_ uint32, text string) {
	h.emit(Line{Kind: "say", Text: text})
}

func (h *sessionHost) Print(text string) {
	h.emit(Line{Kind: "print", Text: text})
}

func (h *sessionHost) emit(l Line) {
	h.output = append(h.output, l)
	h.hub.publish(Event{Session: h.session, Type: l.Kind, Text: l.Text})
}

func (h *sessionHost) BablMenu(candidates []vm.MenuCandidate) (int, bool) {
	h.hub.publish(Event{Session: h.session, Type: "menu", Candidates: toCandidates(candidates)})
	return 0, false
}

func (h *sessionHost) BablAsk() (string, bool) {
	h.hub.publish(Event{Session: h.session, Type: "ask"})
	return "", false
}

func (h *sessionHost) ExternalFunc(name string, args *vm.Args) (int32, bool) {
	logger.Debugf("session %s: %s(%d args) not implemented by the server", h.session, name, args.Len())
	return 0, false
}

// drain returns and clears the collected output.
func (h *sessionHost) drain() []Line {
	out := h.output
	h.output = nil
	return out
}

func toCandidates(cs []vm.MenuCandidate) []Candidate {
	out := make([]Candidate, len(cs))
	for i, c := range cs {
		out[i] = Candidate{Value: c.Value, Text: c.Text}
	}
	return out
}
