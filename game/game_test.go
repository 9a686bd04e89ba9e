package game

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/convm/vm"
)

var shopkeeper = vm.NPC{Level: 1, ObjectPos: 0x0123}

func TestNPCGlobals(t *testing.T) {
	s := NewState("Avatar", vm.Male)
	s.PlaceNPC(shopkeeper, NPCInfo{Attitude: 2, XHome: 30, WhoAmI: 9})

	if v, ok := s.Global("npc_attitude", shopkeeper); !ok || v != 2 {
		t.Errorf("npc_attitude = %d, %v, want 2", v, ok)
	}
	if v, ok := s.Global("npc_talkedto", shopkeeper); !ok || v != 0 {
		t.Errorf("npc_talkedto = %d, %v, want 0", v, ok)
	}

	if !s.SetGlobal("npc_attitude", shopkeeper, 3) || !s.SetGlobal("npc_talkedto", shopkeeper, 1) {
		t.Fatal("SetGlobal refused an npc global")
	}
	info, _ := s.NPC(shopkeeper)
	if info.Attitude != 3 || !info.TalkedTo || info.XHome != 30 || info.WhoAmI != 9 {
		t.Errorf("npc = %+v", info)
	}

	other := vm.NPC{Level: 2, ObjectPos: 5}
	if _, ok := s.Global("npc_hp", other); ok {
		t.Error("global of an unplaced npc should not resolve")
	}
	if s.SetGlobal("npc_hp", other, 1) {
		t.Error("SetGlobal on an unplaced npc should be refused")
	}
}

func TestPlayerGlobals(t *testing.T) {
	s := NewState("Avatar", vm.Female)
	s.SetAttribute("mana", 12)

	if v, ok := s.Global("play_mana", shopkeeper); !ok || v != 12 {
		t.Errorf("play_mana = %d, %v, want 12", v, ok)
	}
	if v, _ := s.Global("play_sex", shopkeeper); v != int32(vm.Female) {
		t.Errorf("play_sex = %d, want %d", v, vm.Female)
	}
	s.SetGlobal("play_hunger", shopkeeper, 4)
	if got := s.Player().Attributes["hunger"]; got != 4 {
		t.Errorf("hunger = %d, want 4", got)
	}
	if _, ok := s.Global("play_name", shopkeeper); ok {
		t.Error("play_name is not an integer global")
	}

	s.SetPlayerName("Iolo")
	if s.PlayerName() != "Iolo" {
		t.Errorf("name = %q, want Iolo", s.PlayerName())
	}
}

func TestWorldGlobals(t *testing.T) {
	s := NewState("Avatar", vm.Male)
	if _, ok := s.Global("game_days", shopkeeper); ok {
		t.Error("unset world global should not resolve")
	}
	s.SetWorld("game_days", 3)
	s.SetGlobal("riddlecounter", shopkeeper, 2)
	if v, _ := s.Global("game_days", shopkeeper); v != 3 {
		t.Errorf("game_days = %d, want 3", v)
	}
	if v, _ := s.Global("riddlecounter", shopkeeper); v != 2 {
		t.Errorf("riddlecounter = %d, want 2", v)
	}
}

func TestQuestFlags(t *testing.T) {
	s := NewState("Avatar", vm.Male)
	s.SetQuest(3, 1)
	s.SetQuest(NumQuestFlags, 9)
	if s.Quest(3) != 1 {
		t.Errorf("quest 3 = %d, want 1", s.Quest(3))
	}
	if s.Quest(-1) != 0 || s.Quest(NumQuestFlags) != 0 {
		t.Error("out-of-range quest flags should read 0")
	}
}

const sampleStrings = `
[[block]]
id = 0x0e01
strings = ["Hello, @GS8.", "Farewell."]

[[block]]
id = 0x0001
strings = ["sword"]
`

func TestDecodeStrings(t *testing.T) {
	tbl, err := DecodeStrings(strings.NewReader(sampleStrings))
	if err != nil {
		t.Fatalf("DecodeStrings: %v", err)
	}
	b, err := tbl.Block(0x0e01)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2 || b[1] != "Farewell." {
		t.Errorf("block = %q", b)
	}
	b[0] = "changed"
	if again, _ := tbl.Block(0x0e01); again[0] != "Hello, @GS8." {
		t.Error("Block should return a copy")
	}
	if ids := tbl.Blocks(); len(ids) != 2 || ids[0] != 1 || ids[1] != 0x0e01 {
		t.Errorf("Blocks() = %v", ids)
	}
	if _, err := tbl.Block(0x0e02); !errors.Is(err, ErrNoBlock) {
		t.Errorf("missing block err = %v, want ErrNoBlock", err)
	}
}

func TestDecodeStringsRejectsDuplicates(t *testing.T) {
	dup := "[[block]]\nid = 1\nstrings = []\n[[block]]\nid = 1\nstrings = []\n"
	if _, err := DecodeStrings(strings.NewReader(dup)); err == nil {
		t.Error("expected an error for a duplicate block")
	}
}

func TestLoadStringsFromEncodedFile(t *testing.T) {
	tbl := NewStringTable()
	tbl.SetBlock(0x0e05, []string{"Who art thou?", "quote \" and newline\n"})

	path := filepath.Join(t.TempDir(), "strings.toml")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.Encode(f); err != nil {
		t.Fatal(err)
	}
	f.Close()

	loaded, err := LoadStrings(path)
	if err != nil {
		t.Fatalf("LoadStrings: %v", err)
	}
	b, err := loaded.Block(0x0e05)
	if err != nil || len(b) != 2 || b[1] != "quote \" and newline\n" {
		t.Errorf("block = %q, %v", b, err)
	}
}
