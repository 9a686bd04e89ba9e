package ark

import "encoding/binary"

// EncodeScript serializes s in the on-disk record layout. Imports keep their
// raw type words, so unresolved records round-trip unchanged.
func EncodeScript(s *Script) []byte {
	buf := make([]byte, 0, 16+len(s.Code)*2)
	buf = binary.LittleEndian.AppendUint32(buf, s.Unknown1)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Code)))
	buf = binary.LittleEndian.AppendUint16(buf, s.Unknown2)
	buf = binary.LittleEndian.AppendUint16(buf, s.StringBlock)
	buf = binary.LittleEndian.AppendUint16(buf, s.StackSize)

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s.Imports)))
	for _, e := range s.Imports {
		rawType, rawReturn := e.RawType, e.RawReturn
		if rawType == 0 {
			rawType, rawReturn = rawWords(e)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Name)))
		buf = append(buf, e.Name...)
		buf = binary.LittleEndian.AppendUint16(buf, e.ID)
		buf = binary.LittleEndian.AppendUint16(buf, 1)
		buf = binary.LittleEndian.AppendUint16(buf, rawType)
		buf = binary.LittleEndian.AppendUint16(buf, rawReturn)
	}

	for _, w := range s.Code {
		buf = binary.LittleEndian.AppendUint16(buf, w)
	}
	return buf
}

func rawWords(e ImportEntry) (uint16, uint16) {
	ret := returnTypeVoid
	switch e.ReturnType {
	case ReturnInt:
		ret = returnTypeInt
	case ReturnString:
		ret = returnTypeString
	}
	if e.Kind == ImportGlobal {
		return importTypeGlobal, ret
	}
	return importTypeIntrinsic, ret
}

// BuildArchive lays out records into an archive with numSlots slots. Slots
// missing from records are written as empty (offset 0).
func BuildArchive(numSlots int, records map[int][]byte) []byte {
	header := 2 + 4*numSlots
	buf := make([]byte, header)
	binary.LittleEndian.PutUint16(buf, uint16(numSlots))

	for slot := 0; slot < numSlots; slot++ {
		rec, ok := records[slot]
		if !ok {
			continue
		}
		binary.LittleEndian.PutUint32(buf[2+4*slot:], uint32(len(buf)))
		buf = append(buf, rec...)
	}
	return buf
}
