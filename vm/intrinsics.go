package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/convm/ark"
)

// ---------------------------------------------------------------------------
// Intrinsic: closed set of imported functions
// ---------------------------------------------------------------------------

// Intrinsic identifies an imported function known to conversation scripts.
type Intrinsic uint8

const (
	IntrinsicUnresolved Intrinsic = iota
	IntrinsicBablMenu
	IntrinsicBablFMenu
	IntrinsicPrint
	IntrinsicBablAsk
	IntrinsicCompare
	IntrinsicRandom
	IntrinsicPlural
	IntrinsicContains
	IntrinsicAppend
	IntrinsicCopy
	IntrinsicFind
	IntrinsicLength
	IntrinsicVal
	IntrinsicSay
	IntrinsicRespond
	IntrinsicGetQuest
	IntrinsicSetQuest
	IntrinsicSex
	IntrinsicShowInv
	IntrinsicGiveToNPC
	IntrinsicGivePtrNPC
	IntrinsicTakeFromNPC
	IntrinsicTakeIDFromNPC
	IntrinsicIdentifyInv
	IntrinsicDoOffer
	IntrinsicDoDemand
	IntrinsicDoInvCreate
	IntrinsicDoInvDelete
	IntrinsicCheckInvQuality
	IntrinsicSetInvQuality
	IntrinsicCountInv
	IntrinsicSetupToBarter
	IntrinsicEndBarter
	IntrinsicDoJudgement
	IntrinsicDoDecline
	IntrinsicPause
	IntrinsicSetLikesDislikes
	IntrinsicGronkDoor
	IntrinsicSetRaceAttitude
	IntrinsicPlaceObject
	IntrinsicTakeFromNPCInv
	IntrinsicAddToNPCInv
	IntrinsicRemoveTalker
	IntrinsicSetAttitude
	IntrinsicXSkills
	IntrinsicXTraps
	IntrinsicXObjPos
	IntrinsicXObjStuff
	IntrinsicFindInv
	IntrinsicFindBarter
	IntrinsicFindBarterTotal

	numIntrinsics
)

var intrinsicNames = [numIntrinsics]string{
	IntrinsicUnresolved:       "",
	IntrinsicBablMenu:         "babl_menu",
	IntrinsicBablFMenu:        "babl_fmenu",
	IntrinsicPrint:            "print",
	IntrinsicBablAsk:          "babl_ask",
	IntrinsicCompare:          "compare",
	IntrinsicRandom:           "random",
	IntrinsicPlural:           "plural",
	IntrinsicContains:         "contains",
	IntrinsicAppend:           "append",
	IntrinsicCopy:             "copy",
	IntrinsicFind:             "find",
	IntrinsicLength:           "length",
	IntrinsicVal:              "val",
	IntrinsicSay:              "say",
	IntrinsicRespond:          "respond",
	IntrinsicGetQuest:         "get_quest",
	IntrinsicSetQuest:         "set_quest",
	IntrinsicSex:              "sex",
	IntrinsicShowInv:          "show_inv",
	IntrinsicGiveToNPC:        "give_to_npc",
	IntrinsicGivePtrNPC:       "give_ptr_npc",
	IntrinsicTakeFromNPC:      "take_from_npc",
	IntrinsicTakeIDFromNPC:    "take_id_from_npc",
	IntrinsicIdentifyInv:      "identify_inv",
	IntrinsicDoOffer:          "do_offer",
	IntrinsicDoDemand:         "do_demand",
	IntrinsicDoInvCreate:      "do_inv_create",
	IntrinsicDoInvDelete:      "do_inv_delete",
	IntrinsicCheckInvQuality:  "check_inv_quality",
	IntrinsicSetInvQuality:    "set_inv_quality",
	IntrinsicCountInv:         "count_inv",
	IntrinsicSetupToBarter:    "setup_to_barter",
	IntrinsicEndBarter:        "end_barter",
	IntrinsicDoJudgement:      "do_judgement",
	IntrinsicDoDecline:        "do_decline",
	IntrinsicPause:            "pause",
	IntrinsicSetLikesDislikes: "set_likes_dislikes",
	IntrinsicGronkDoor:        "gronk_door",
	IntrinsicSetRaceAttitude:  "set_race_attitude",
	IntrinsicPlaceObject:      "place_object",
	IntrinsicTakeFromNPCInv:   "take_from_npc_inv",
	IntrinsicAddToNPCInv:      "add_to_npc_inv",
	IntrinsicRemoveTalker:     "remove_talker",
	IntrinsicSetAttitude:      "set_attitude",
	IntrinsicXSkills:          "x_skills",
	IntrinsicXTraps:           "x_traps",
	IntrinsicXObjPos:          "x_obj_pos",
	IntrinsicXObjStuff:        "x_obj_stuff",
	IntrinsicFindInv:          "find_inv",
	IntrinsicFindBarter:       "find_barter",
	IntrinsicFindBarterTotal:  "find_barter_total",
}

var intrinsicByName = func() map[string]Intrinsic {
	m := make(map[string]Intrinsic, numIntrinsics)
	for i, name := range intrinsicNames {
		if name != "" {
			m[name] = Intrinsic(i)
		}
	}
	return m
}()

// LookupIntrinsic maps an import name to its intrinsic, or
// IntrinsicUnresolved for names no game version uses.
func LookupIntrinsic(name string) Intrinsic {
	return intrinsicByName[name]
}

func (i Intrinsic) String() string {
	if i == IntrinsicUnresolved {
		return "unresolved"
	}
	if i < numIntrinsics {
		return intrinsicNames[i]
	}
	return fmt.Sprintf("Intrinsic(%d)", uint8(i))
}

// ---------------------------------------------------------------------------
// Intrinsic bridge
// ---------------------------------------------------------------------------

// callIntrinsic runs CALLI id. The stack is left as is; the caller pops the
// arguments afterwards.
func (m *Machine) callIntrinsic(id uint16) (bool, error) {
	entry, found := m.script.Function(id)
	if !found {
		logger.Warningf("%v: CALLI %04x has no import", ErrUnresolvedIntrinsic, id)
		return false, nil
	}
	if entry.Kind == ark.ImportUnresolved {
		logger.Warningf("%v: CALLI %04x has no usable import (%s)", ErrUnresolvedIntrinsic, id, entry.Name)
		return false, nil
	}

	args, err := newArgs(m)
	if err != nil {
		return false, err
	}

	fn := m.intrinsics[id]
	logger.Debugf("CALLI %s with %d arguments", entry.Name, args.Len())

	switch fn {
	case IntrinsicBablMenu:
		return m.bablMenu(menuCandidates(m, args))
	case IntrinsicBablFMenu:
		return m.bablMenu(filteredCandidates(m, args))
	case IntrinsicBablAsk:
		return m.bablAsk()

	case IntrinsicPrint:
		m.cb.Print(m.ReplacePlaceholder(args.String(1)))
		return true, nil
	case IntrinsicSay:
		m.cb.Say(args.Value(1).Handle(), m.ReplacePlaceholder(args.String(1)))
		return true, nil

	case IntrinsicCompare:
		m.setResult(entry, boolValue(strings.EqualFold(args.String(1), args.String(2))))
	case IntrinsicContains:
		m.setResult(entry, boolValue(strings.Contains(
			strings.ToLower(args.String(1)), strings.ToLower(args.String(2)))))
	case IntrinsicLength:
		m.setResult(entry, Int(int32(len(args.String(1)))))
	case IntrinsicVal:
		n, err := strconv.Atoi(strings.TrimSpace(args.String(1)))
		if err != nil {
			n = 0
		}
		m.setResult(entry, Int(wrap16(int32(n))))
	case IntrinsicRandom:
		m.setResult(entry, Int(m.random(args.Int(1))))
	case IntrinsicSex:
		v := args.Value(1)
		if m.logic.PlayerGender() == Male {
			v = args.Value(2)
		}
		m.setResult(entry, v)
	case IntrinsicGetQuest:
		m.setResult(entry, Int(m.logic.Quest(int(args.Int(1)))))
	case IntrinsicSetQuest:
		m.logic.SetQuest(int(args.Int(2)), args.Int(1))

	default:
		// Everything else, including names outside the known set, is the
		// host's business.
		result, handled := m.cb.ExternalFunc(entry.Name, args)
		if !handled {
			logger.Warningf("%v: %s (id %04x)", ErrUnresolvedIntrinsic, entry.Name, id)
			return false, nil
		}
		m.setResult(entry, Int(result))
	}
	return false, nil
}

// setResult deposits an intrinsic result, tagged by the import's declared
// return type.
func (m *Machine) setResult(entry ark.ImportEntry, v Value) {
	if entry.ReturnType == ark.ReturnString {
		v = StringHandle(v.Handle())
	}
	m.ctx.Result = v
}

// random returns a number in 1..n.
func (m *Machine) random(n int32) int32 {
	if n < 1 {
		return 1
	}
	return m.rng.Int32N(n) + 1
}

// menuCandidates reads babl_menu's zero-terminated string list; an answer's
// value is its 1-based position.
func menuCandidates(m *Machine, args *Args) []MenuCandidate {
	var out []MenuCandidate
	for i, v := range args.List(1) {
		out = append(out, m.candidate(int32(i+1), v.Handle()))
	}
	return out
}

// filteredCandidates reads babl_fmenu's string list and its parallel flag
// list; an answer is offered when its flag is set and its value is the
// string handle.
func filteredCandidates(m *Machine, args *Args) []MenuCandidate {
	flags := args.Ref(2)
	var out []MenuCandidate
	for i, v := range args.List(1) {
		flag, err := m.ctx.Stack.At(flags + i)
		if err != nil {
			panic(err)
		}
		if flag.Truth() {
			out = append(out, m.candidate(int32(v.Handle()), v.Handle()))
		}
	}
	return out
}

func (m *Machine) candidate(value int32, handle uint32) MenuCandidate {
	return MenuCandidate{Value: value, Handle: handle, Text: m.ReplacePlaceholder(m.GetLocalString(handle))}
}

func (m *Machine) bablMenu(candidates []MenuCandidate) (bool, error) {
	if len(candidates) == 0 {
		logger.Warningf("menu without answers at %04x", m.ctx.PC)
		m.ctx.Result = Int(0)
		return false, nil
	}
	if sel, ok := m.cb.BablMenu(candidates); ok {
		if sel < 0 || sel >= len(candidates) {
			return false, &Fault{Kind: FaultBadArgument, Detail: fmt.Sprintf("%v: %d", ErrBadSelection, sel)}
		}
		m.ctx.Result = Int(candidates[sel].Value)
		return true, nil
	}
	return true, m.dialogue.awaitMenu(candidates)
}

func (m *Machine) bablAsk() (bool, error) {
	if text, ok := m.cb.BablAsk(); ok {
		m.ctx.Result = StringHandle(m.AllocString(text))
		return true, nil
	}
	return true, m.dialogue.awaitText()
}
