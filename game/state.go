// Package game holds reference implementations of the host collaborators a
// conversation needs: the game state it reads and changes, and the string
// table its texts come from.
package game

import (
	"strings"
	"sync"

	"github.com/chazu/convm/vm"
	"github.com/tliron/commonlog"
)

var logger = commonlog.GetLogger("convm.game")

// NumQuestFlags is the size of the quest flag array.
const NumQuestFlags = 64

// ---------------------------------------------------------------------------
// NPC and player records
// ---------------------------------------------------------------------------

// NPCInfo is the per-NPC state a conversation can read and change through
// the npc_* imported globals.
type NPCInfo struct {
	XHome    int32
	YHome    int32
	Attitude int32
	Goal     int32
	GTarg    int32
	HP       int32
	Hunger   int32
	Level    int32
	TalkedTo bool
	WhoAmI   int32 // conversation slot, 0 for generic
}

// Player is the avatar.
type Player struct {
	Name   string
	Gender vm.Gender

	// Attributes holds the play_* globals other than play_name, keyed
	// without the prefix ("hunger", "health", "mana", ...).
	Attributes map[string]int32
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is an in-memory game state. It implements vm.GameLogic and is safe
// for use from the conversation worker and inspection calls at once.
type State struct {
	mu     sync.Mutex
	player Player
	quests [NumQuestFlags]int32
	npcs   map[vm.NPC]*NPCInfo
	world  map[string]int32 // dungeon_level, game_time, riddlecounter, ...
}

// NewState creates a state for a player called name.
func NewState(name string, gender vm.Gender) *State {
	return &State{
		player: Player{Name: name, Gender: gender, Attributes: make(map[string]int32)},
		npcs:   make(map[vm.NPC]*NPCInfo),
		world:  make(map[string]int32),
	}
}

// PlaceNPC registers the NPC at npc's position.
func (s *State) PlaceNPC(npc vm.NPC, info NPCInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.npcs[npc] = &info
}

// NPC returns a copy of the NPC record at npc's position.
func (s *State) NPC(npc vm.NPC) (NPCInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.npcs[npc]
	if !ok {
		return NPCInfo{}, false
	}
	return *info, true
}

// Player returns a copy of the player record.
func (s *State) Player() Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.player
	p.Attributes = make(map[string]int32, len(s.player.Attributes))
	for k, v := range s.player.Attributes {
		p.Attributes[k] = v
	}
	return p
}

// SetAttribute sets a play_* attribute, named without the prefix.
func (s *State) SetAttribute(name string, v int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player.Attributes[name] = v
}

// SetWorld sets a world global such as game_days.
func (s *State) SetWorld(name string, v int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world[name] = v
}

// ---------------------------------------------------------------------------
// vm.GameLogic
// ---------------------------------------------------------------------------

func (s *State) PlayerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.Name
}

func (s *State) SetPlayerName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger.Infof("player renamed %q -> %q", s.player.Name, name)
	s.player.Name = name
}

func (s *State) PlayerGender() vm.Gender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.Gender
}

// Global reads an imported global for the conversation with npc.
func (s *State) Global(name string, npc vm.NPC) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if field, ok := npcField(name); ok {
		info, ok := s.npcs[npc]
		if !ok {
			logger.Warningf("no npc at level %d object %d", npc.Level, npc.ObjectPos)
			return 0, false
		}
		return *field(info), true
	}
	switch name {
	case "npc_talkedto":
		info, ok := s.npcs[npc]
		if !ok {
			return 0, false
		}
		if info.TalkedTo {
			return 1, true
		}
		return 0, true
	case "play_sex":
		return int32(s.player.Gender), true
	}
	if attr, ok := playAttribute(name); ok {
		v, ok := s.player.Attributes[attr]
		return v, ok
	}
	v, ok := s.world[name]
	return v, ok
}

// SetGlobal writes an imported global for the conversation with npc.
func (s *State) SetGlobal(name string, npc vm.NPC, value int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if field, ok := npcField(name); ok {
		info, ok := s.npcs[npc]
		if !ok {
			return false
		}
		*field(info) = value
		return true
	}
	switch name {
	case "npc_talkedto":
		info, ok := s.npcs[npc]
		if !ok {
			return false
		}
		info.TalkedTo = value != 0
		return true
	case "play_sex":
		s.player.Gender = vm.Gender(value)
		return true
	}
	if attr, ok := playAttribute(name); ok {
		s.player.Attributes[attr] = value
		return true
	}
	s.world[name] = value
	return true
}

// Quest returns quest flag index; out-of-range flags read as 0.
func (s *State) Quest(index int) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= NumQuestFlags {
		logger.Warningf("quest flag %d out of range", index)
		return 0
	}
	return s.quests[index]
}

// SetQuest sets quest flag index; out-of-range writes are dropped.
func (s *State) SetQuest(index int, value int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= NumQuestFlags {
		logger.Warningf("quest flag %d out of range, dropping %d", index, value)
		return
	}
	s.quests[index] = value
}

func npcField(name string) (func(*NPCInfo) *int32, bool) {
	switch name {
	case "npc_xhome":
		return func(i *NPCInfo) *int32 { return &i.XHome }, true
	case "npc_yhome":
		return func(i *NPCInfo) *int32 { return &i.YHome }, true
	case "npc_attitude":
		return func(i *NPCInfo) *int32 { return &i.Attitude }, true
	case "npc_goal":
		return func(i *NPCInfo) *int32 { return &i.Goal }, true
	case "npc_gtarg":
		return func(i *NPCInfo) *int32 { return &i.GTarg }, true
	case "npc_hp":
		return func(i *NPCInfo) *int32 { return &i.HP }, true
	case "npc_hunger":
		return func(i *NPCInfo) *int32 { return &i.Hunger }, true
	case "npc_level":
		return func(i *NPCInfo) *int32 { return &i.Level }, true
	case "npc_whoami":
		return func(i *NPCInfo) *int32 { return &i.WhoAmI }, true
	}
	return nil, false
}

func playAttribute(name string) (string, bool) {
	attr, ok := strings.CutPrefix(name, "play_")
	if !ok || attr == "" || attr == "name" {
		return "", false
	}
	return attr, true
}
