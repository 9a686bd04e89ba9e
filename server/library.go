package server

import (
	"errors"

	"github.com/chazu/convm/ark"
	"github.com/chazu/convm/game"
	"github.com/chazu/convm/globals"
	"github.com/chazu/convm/vm"
	"github.com/tliron/commonlog"
)

var logger = commonlog.GetLogger("convm.server")

// StringBlockBase is the first conversation string block; slot n's texts
// usually live in block StringBlockBase+n.
const StringBlockBase = 0x0e00

// Library is the game data conversations run against. Everything in it is
// owned by the worker goroutine once the server starts.
type Library struct {
	Archive *ark.Archive
	Strings *game.StringTable
	Globals *globals.Globals
	Game    *game.State
	Store   *globals.SQLStore // optional

	Seed       uint64 // 0 seeds the random intrinsic from the clock
	StackLimit int    // 0 uses vm.DefaultStackLimit
}

// Open loads the script in slot and its local strings. A missing string
// block yields no strings; SAY_OP then faults on the first line.
func (l *Library) Open(slot int) (*ark.Script, []string, error) {
	s, err := l.Archive.Load(slot)
	if err != nil {
		return nil, nil, err
	}
	var strs []string
	if l.Strings != nil {
		strs, err = l.Strings.Block(s.StringBlock)
		if errors.Is(err, game.ErrNoBlock) {
			logger.Warningf("slot %d: %v", slot, err)
		}
	}
	return s, strs, nil
}

// NewMachine prepares a machine for s against the library's globals and
// game state. opts are applied after the library's own.
func (l *Library) NewMachine(s *ark.Script, extra ...vm.Option) *vm.Machine {
	var opts []vm.Option
	if l.Seed != 0 {
		opts = append(opts, vm.WithSeed(l.Seed))
	}
	if l.StackLimit != 0 {
		opts = append(opts, vm.WithStackLimit(l.StackLimit))
	}
	return vm.New(s, l.Globals, l.Game, append(opts, extra...)...)
}

// EnsureNPC places a default record for npc unless the game already knows
// it, so the npc_* globals resolve for conversations started by hand.
func (l *Library) EnsureNPC(slot int, npc vm.NPC) {
	if _, ok := l.Game.NPC(npc); ok {
		return
	}
	l.Game.PlaceNPC(npc, game.NPCInfo{Attitude: 2, Level: int32(npc.Level), WhoAmI: int32(slot)})
}
