package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/convm/server"
	"github.com/chazu/convm/vm"
)

const promptAnswer = "> "

// prompter reads one line of input; *liner.State is one.
type prompter interface {
	Prompt(prompt string) (string, error)
}

// console is the CodeCallback of a terminal conversation. Menus and text
// prompts suspend the machine; run answers them from the prompter.
type console struct {
	out io.Writer
}

func (c *console) Say(_ uint32, text string) { fmt.Fprintf(c.out, "\n%s\n", text) }
func (c *console) Print(text string)         { fmt.Fprintf(c.out, "%s\n", text) }

func (c *console) BablMenu([]vm.MenuCandidate) (int, bool) { return 0, false }
func (c *console) BablAsk() (string, bool)                 { return "", false }

func (c *console) ExternalFunc(name string, args *vm.Args) (int32, bool) {
	logger.Debugf("%s(%d args) has no effect on the terminal", name, args.Len())
	return 0, false
}

// play runs the conversation in slot to its end on the terminal. A non-nil
// prof records the run and is printed afterwards.
func play(lib *server.Library, slot int, npc vm.NPC, prof *vm.Profiler) error {
	s, strs, err := lib.Open(slot)
	if err != nil {
		return err
	}
	lib.EnsureNPC(slot, npc)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	var opts []vm.Option
	if prof != nil {
		opts = append(opts, vm.WithProfiler(prof))
	}
	m := lib.NewMachine(s, opts...)
	c := &console{out: os.Stdout}
	if err := m.Init(npc.Level, npc.ObjectPos, c, strs); err != nil {
		return err
	}
	if err := run(m, c, ln); err != nil {
		return err
	}
	if prof != nil {
		printProfile(c.out, prof, s.Code)
	}
	return nil
}

// run steps m until the conversation ends, answering menus and prompts from
// p. Reading past the end of input aborts the conversation.
func run(m *vm.Machine, c *console, p prompter) error {
	for m.Step() {
		var err error
		switch m.State() {
		case vm.StateAwaitingMenuSelection:
			err = chooseAnswer(m, c, p)
		case vm.StateAwaitingFreeText:
			err = typeAnswer(m, p)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			m.Abort()
			fmt.Fprintln(c.out, "\n(conversation aborted)")
			return nil
		}
		if err != nil {
			m.Abort()
			return err
		}
	}

	if f := m.Fault(); f != nil {
		fmt.Fprintf(c.out, "\n(conversation stopped: %v)\n", f)
	}
	if m.State() == vm.StateWaitingForContinue {
		return m.Acknowledge()
	}
	m.Done()
	return nil
}

// printProfile writes the instruction profile of a finished conversation.
func printProfile(w io.Writer, prof *vm.Profiler, code []uint16) {
	stats := prof.Stats()
	fmt.Fprintf(w, "\n%d instructions, %d calls into %d functions\n",
		stats.Instructions, stats.Calls, stats.Functions)

	counts := prof.OpcodeCounts()
	ops := make([]vm.Opcode, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return counts[ops[i]] > counts[ops[j]] })
	for _, op := range ops {
		fmt.Fprintf(w, "  %-12s %8d\n", op, counts[op])
	}

	labels := vm.Labels(code)
	for _, fp := range prof.TopFunctions(10) {
		hot := ""
		if fp.IsHot {
			hot = "  hot"
		}
		fmt.Fprintf(w, "  %-12s %8d%s\n", labels[fp.Entry], fp.Calls, hot)
	}
}

func chooseAnswer(m *vm.Machine, c *console, p prompter) error {
	cands := m.Candidates()
	fmt.Fprintln(c.out)
	for i, cand := range cands {
		fmt.Fprintf(c.out, "  %d. %s\n", i+1, cand.Text)
	}
	for {
		line, err := p.Prompt(promptAnswer)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || n < 1 || n > len(cands) {
			fmt.Fprintf(c.out, "Choose 1-%d.\n", len(cands))
			continue
		}
		return m.SelectMenu(n - 1)
	}
}

func typeAnswer(m *vm.Machine, p prompter) error {
	line, err := p.Prompt(promptAnswer)
	if err != nil {
		return err
	}
	return m.SubmitText(strings.TrimSpace(line))
}
