package ark

import "fmt"

// ---------------------------------------------------------------------------
// Import table
// ---------------------------------------------------------------------------

// Raw import record type words.
const (
	importTypeGlobal    uint16 = 0x010F
	importTypeIntrinsic uint16 = 0x0111

	returnTypeVoid   uint16 = 0x0000
	returnTypeInt    uint16 = 0x0129
	returnTypeString uint16 = 0x012B
)

// ImportKind classifies an imported item.
type ImportKind uint8

const (
	// ImportGlobal is a global variable living at memory address ID.
	ImportGlobal ImportKind = iota
	// ImportIntrinsic is a host function called through CALLI.
	ImportIntrinsic
	// ImportUnresolved is a record with an unrecognised import type. It is
	// kept so that ids of the following records stay stable.
	ImportUnresolved
)

func (k ImportKind) String() string {
	switch k {
	case ImportGlobal:
		return "GlobalSlot"
	case ImportIntrinsic:
		return "Intrinsic"
	case ImportUnresolved:
		return "Unresolved"
	}
	return fmt.Sprintf("ImportKind(%d)", uint8(k))
}

// ReturnType is the declared type of an intrinsic's result.
type ReturnType uint8

const (
	ReturnUnknown ReturnType = iota
	ReturnVoid
	ReturnInt
	ReturnString
)

func (t ReturnType) String() string {
	switch t {
	case ReturnVoid:
		return "void"
	case ReturnInt:
		return "int"
	case ReturnString:
		return "string"
	}
	return "unknown"
}

func returnTypeOf(raw uint16) ReturnType {
	switch raw {
	case returnTypeVoid:
		return ReturnVoid
	case returnTypeInt:
		return ReturnInt
	case returnTypeString:
		return ReturnString
	}
	return ReturnUnknown
}

// ImportEntry is one record of a script's import table.
type ImportEntry struct {
	ID         uint16
	Name       string
	Kind       ImportKind
	ReturnType ReturnType // only meaningful for ImportIntrinsic
	RawType    uint16     // import type word as stored in the file
	RawReturn  uint16     // return type word as stored in the file
}

func (e ImportEntry) String() string {
	switch e.Kind {
	case ImportIntrinsic:
		return fmt.Sprintf("%s %s() id=%04x", e.ReturnType, e.Name, e.ID)
	case ImportGlobal:
		return fmt.Sprintf("global %s id=%04x", e.Name, e.ID)
	}
	return fmt.Sprintf("unresolved %s id=%04x type=%04x", e.Name, e.ID, e.RawType)
}

// ---------------------------------------------------------------------------
// Script
// ---------------------------------------------------------------------------

// Script is one decoded conversation. It is never modified after loading,
// apart from the fixups applied by the archive right after decoding.
type Script struct {
	Slot        uint16 // archive slot the script was loaded from
	Unknown1    uint32 // header word, 0x0828 in all known files
	Unknown2    uint16
	StringBlock uint16 // string block holding this conversation's texts
	StackSize   uint16 // memory words reserved for globals at start of the stack
	Imports     []ImportEntry
	Code        []uint16 // program, addressed by word offset
}

// Function returns the callable import with the given id. Global imports are
// never returned; they share the id space with memory addresses.
func (s *Script) Function(id uint16) (ImportEntry, bool) {
	for _, e := range s.Imports {
		if e.ID == id && e.Kind != ImportGlobal {
			return e, true
		}
	}
	return ImportEntry{}, false
}

// Globals returns the imported global variables in file order.
func (s *Script) Globals() []ImportEntry {
	var out []ImportEntry
	for _, e := range s.Imports {
		if e.Kind == ImportGlobal {
			out = append(out, e)
		}
	}
	return out
}

// GlobalAt returns the imported global living at memory address addr.
func (s *Script) GlobalAt(addr uint16) (ImportEntry, bool) {
	for _, e := range s.Imports {
		if e.Kind == ImportGlobal && e.ID == addr {
			return e, true
		}
	}
	return ImportEntry{}, false
}

// Unresolved returns the import records that could not be classified.
func (s *Script) Unresolved() []ImportEntry {
	var out []ImportEntry
	for _, e := range s.Imports {
		if e.Kind == ImportUnresolved {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Record decoding
// ---------------------------------------------------------------------------

// DecodeScript decodes the record starting at data[off:]. end bounds the
// record (the next record's offset, or len(data) for the last one).
func DecodeScript(data []byte, off, end int) (*Script, error) {
	c := newCursor(data, off, end)
	s := &Script{}

	var err error
	if s.Unknown1, err = c.u32(); err != nil {
		return nil, fail(c, err)
	}
	codeSize, err := c.u32()
	if err != nil {
		return nil, fail(c, err)
	}
	if s.Unknown2, err = c.u16(); err != nil {
		return nil, fail(c, err)
	}
	if s.StringBlock, err = c.u16(); err != nil {
		return nil, fail(c, err)
	}
	if s.StackSize, err = c.u16(); err != nil {
		return nil, fail(c, err)
	}

	if s.Imports, err = decodeImports(c); err != nil {
		return nil, fail(c, err)
	}

	if int64(codeSize)*2 > int64(c.remaining()) {
		return nil, fail(c, fmt.Errorf("%w: code needs %d words, %d bytes left", ErrTruncated, codeSize, c.remaining()))
	}
	if s.Code, err = c.words(int(codeSize)); err != nil {
		return nil, fail(c, err)
	}

	return s, nil
}

func decodeImports(c *cursor) ([]ImportEntry, error) {
	count, err := c.u16()
	if err != nil {
		return nil, err
	}

	imports := make([]ImportEntry, 0, count)
	for i := 0; i < int(count); i++ {
		nameLen, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("%w: import %d of %d", err, i+1, count)
		}
		name, err := c.bytes(int(nameLen))
		if err != nil {
			return nil, fmt.Errorf("%w: import %d of %d", err, i+1, count)
		}

		var fields [4]uint16
		for j := range fields {
			if fields[j], err = c.u16(); err != nil {
				return nil, fmt.Errorf("%w: import %d of %d", err, i+1, count)
			}
		}

		e := ImportEntry{
			ID:        fields[0],
			Name:      trimName(name),
			RawType:   fields[2],
			RawReturn: fields[3],
		}
		switch e.RawType {
		case importTypeGlobal:
			e.Kind = ImportGlobal
			e.ReturnType = returnTypeOf(e.RawReturn)
		case importTypeIntrinsic:
			e.Kind = ImportIntrinsic
			e.ReturnType = returnTypeOf(e.RawReturn)
		default:
			e.Kind = ImportUnresolved
			logger.Warningf("import %q (id %04x) has unknown type %04x", e.Name, e.ID, e.RawType)
		}
		imports = append(imports, e)
	}
	return imports, nil
}

// trimName drops the trailing NUL some records carry inside nameLen.
func trimName(b []byte) string {
	for i, ch := range b {
		if ch == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func fail(c *cursor, err error) error {
	return &LoadError{Slot: -1, Offset: c.off, Err: err}
}
