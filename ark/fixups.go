package ark

// fixup patches one code word of a known broken script.
type fixup struct {
	slot  uint16
	addr  int
	value uint16
	note  string
}

var fixups = []fixup{
	{slot: 6, addr: 0x076e, value: 0x0016, note: "Marrowsuck: wrong opcode, should be PUSHI"},
	{slot: 15, addr: 0x0584, value: 0x0666, note: "Sseetharee: call to function at 0xffff"},
	{slot: 23, addr: 0x04fd, value: 3, note: "Judy: random argument 2 never reaches the third answer"},
}

func applyFixups(s *Script) {
	for _, f := range fixups {
		if f.slot != s.Slot {
			continue
		}
		if f.addr >= len(s.Code) {
			logger.Warningf("slot %d: fixup at %04x outside code (%d words), skipped", s.Slot, f.addr, len(s.Code))
			continue
		}
		logger.Infof("slot %d: patching %04x: %04x -> %04x (%s)", s.Slot, f.addr, s.Code[f.addr], f.value, f.note)
		s.Code[f.addr] = f.value
	}
}
