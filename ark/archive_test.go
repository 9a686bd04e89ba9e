package ark

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func sampleScript() *Script {
	return &Script{
		Unknown1:    0x0828,
		StringBlock: 0x0e01,
		StackSize:   0x20,
		Imports: []ImportEntry{
			{ID: 0x0010, Name: "play_name", RawType: 0x010F, RawReturn: 0x012B},
			{ID: 0x0002, Name: "babl_menu", RawType: 0x0111, RawReturn: 0x0129},
		},
		Code: []uint16{0x0016, 0x0005, 0x0016, 0x0003, 0x0003, 0x0026},
	}
}

// truncatedRecord declares five imports but only carries two.
func truncatedRecord() []byte {
	s := sampleScript()
	s.Code = nil
	rec := EncodeScript(s)
	binary.LittleEndian.PutUint16(rec[14:], 5)
	return rec
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func TestDecodeScriptHeader(t *testing.T) {
	rec := EncodeScript(sampleScript())
	s, err := DecodeScript(rec, 0, len(rec))
	if err != nil {
		t.Fatalf("DecodeScript: %v", err)
	}
	if s.Unknown1 != 0x0828 {
		t.Errorf("Unknown1 = %04x, want 0828", s.Unknown1)
	}
	if s.StringBlock != 0x0e01 {
		t.Errorf("StringBlock = %04x, want 0e01", s.StringBlock)
	}
	if s.StackSize != 0x20 {
		t.Errorf("StackSize = %d, want 32", s.StackSize)
	}
	want := []uint16{0x0016, 0x0005, 0x0016, 0x0003, 0x0003, 0x0026}
	if len(s.Code) != len(want) {
		t.Fatalf("len(Code) = %d, want %d", len(s.Code), len(want))
	}
	for i, w := range want {
		if s.Code[i] != w {
			t.Errorf("Code[%d] = %04x, want %04x", i, s.Code[i], w)
		}
	}
}

func TestDecodeImportClassification(t *testing.T) {
	rec := EncodeScript(sampleScript())
	s, err := DecodeScript(rec, 0, len(rec))
	if err != nil {
		t.Fatalf("DecodeScript: %v", err)
	}
	if len(s.Imports) != 2 {
		t.Fatalf("len(Imports) = %d, want 2", len(s.Imports))
	}
	if s.Imports[0].Kind != ImportGlobal {
		t.Errorf("Imports[0].Kind = %v, want GlobalSlot", s.Imports[0].Kind)
	}
	if s.Imports[1].Kind != ImportIntrinsic || s.Imports[1].ReturnType != ReturnInt {
		t.Errorf("Imports[1] = %v/%v, want Intrinsic(int)", s.Imports[1].Kind, s.Imports[1].ReturnType)
	}
	if s.Imports[1].Name != "babl_menu" {
		t.Errorf("Imports[1].Name = %q, want babl_menu", s.Imports[1].Name)
	}
}

func TestDecodeReturnTypes(t *testing.T) {
	tests := []struct {
		raw  uint16
		want ReturnType
	}{
		{0x0000, ReturnVoid},
		{0x0129, ReturnInt},
		{0x012B, ReturnString},
		{0x0777, ReturnUnknown},
	}
	for _, tt := range tests {
		s := &Script{Imports: []ImportEntry{{ID: 1, Name: "f", RawType: 0x0111, RawReturn: tt.raw}}}
		rec := EncodeScript(s)
		got, err := DecodeScript(rec, 0, len(rec))
		if err != nil {
			t.Fatalf("raw %04x: %v", tt.raw, err)
		}
		if got.Imports[0].ReturnType != tt.want {
			t.Errorf("raw %04x: ReturnType = %v, want %v", tt.raw, got.Imports[0].ReturnType, tt.want)
		}
	}
}

func TestDecodeKeepsUnresolvedImports(t *testing.T) {
	s := &Script{Imports: []ImportEntry{
		{ID: 1, Name: "odd", RawType: 0x0200},
		{ID: 2, Name: "get_quest", RawType: 0x0111, RawReturn: 0x0129},
	}}
	rec := EncodeScript(s)
	got, err := DecodeScript(rec, 0, len(rec))
	if err != nil {
		t.Fatalf("DecodeScript: %v", err)
	}
	if len(got.Imports) != 2 {
		t.Fatalf("len(Imports) = %d, want 2", len(got.Imports))
	}
	if got.Imports[0].Kind != ImportUnresolved || got.Imports[0].ID != 1 {
		t.Errorf("Imports[0] = %+v, want unresolved id 1", got.Imports[0])
	}
	if e, ok := got.Function(2); !ok || e.Name != "get_quest" {
		t.Errorf("Function(2) = %+v, %v", e, ok)
	}
	if len(got.Unresolved()) != 1 {
		t.Errorf("len(Unresolved()) = %d, want 1", len(got.Unresolved()))
	}
}

func TestDecodeTruncatedCode(t *testing.T) {
	rec := EncodeScript(sampleScript())
	rec = rec[:len(rec)-3]
	_, err := DecodeScript(rec, 0, len(rec))
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("err is %T, want *LoadError", err)
	}
}

func TestFunctionIgnoresGlobals(t *testing.T) {
	s := &Script{Imports: []ImportEntry{
		{ID: 3, Name: "npc_hp", Kind: ImportGlobal},
		{ID: 3, Name: "random", Kind: ImportIntrinsic},
	}}
	e, ok := s.Function(3)
	if !ok || e.Name != "random" {
		t.Errorf("Function(3) = %+v, %v; want random", e, ok)
	}
	g, ok := s.GlobalAt(3)
	if !ok || g.Name != "npc_hp" {
		t.Errorf("GlobalAt(3) = %+v, %v; want npc_hp", g, ok)
	}
}

// ---------------------------------------------------------------------------
// Archive
// ---------------------------------------------------------------------------

func TestArchiveTruncatedSlotDoesNotAffectOthers(t *testing.T) {
	data := BuildArchive(3, map[int][]byte{
		0: EncodeScript(sampleScript()),
		2: truncatedRecord(),
	})
	a, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if a.NumSlots() != 3 {
		t.Errorf("NumSlots = %d, want 3", a.NumSlots())
	}

	_, err = a.Load(2)
	if !IsTruncated(err) {
		t.Fatalf("Load(2) err = %v, want truncated", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Slot != 2 {
		t.Errorf("LoadError slot = %+v, want 2", le)
	}

	s, err := a.Load(0)
	if err != nil {
		t.Fatalf("Load(0): %v", err)
	}
	if s.Slot != 0 || len(s.Code) != 6 {
		t.Errorf("slot 0 = slot %d, %d words", s.Slot, len(s.Code))
	}

	scripts, errs := a.LoadAll()
	if len(scripts) != 1 || len(errs) != 1 {
		t.Errorf("LoadAll = %d scripts, %d errors; want 1, 1", len(scripts), len(errs))
	}
}

func TestArchiveRecordBoundedByNextOffset(t *testing.T) {
	// The truncated record sits before a good one; it must not read into it.
	data := BuildArchive(2, map[int][]byte{
		0: truncatedRecord(),
		1: EncodeScript(sampleScript()),
	})
	a, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if _, err := a.Load(0); !IsTruncated(err) {
		t.Errorf("Load(0) err = %v, want truncated", err)
	}
	if _, err := a.Load(1); err != nil {
		t.Errorf("Load(1): %v", err)
	}
}

func TestArchiveEmptyAndOutOfRangeSlots(t *testing.T) {
	data := BuildArchive(2, map[int][]byte{1: EncodeScript(sampleScript())})
	a, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if a.IsAvailable(0) {
		t.Error("slot 0 should be empty")
	}
	if !a.IsAvailable(1) {
		t.Error("slot 1 should be available")
	}
	if _, err := a.Load(0); !errors.Is(err, ErrSlotEmpty) {
		t.Errorf("Load(0) err = %v, want ErrSlotEmpty", err)
	}
	if _, err := a.Load(7); !errors.Is(err, ErrSlotRange) {
		t.Errorf("Load(7) err = %v, want ErrSlotRange", err)
	}
}

func TestArchiveBadHeader(t *testing.T) {
	if _, err := FromBytes([]byte{0x05}); !errors.Is(err, ErrBadHeader) {
		t.Errorf("1-byte archive err = %v, want ErrBadHeader", err)
	}
	if _, err := FromBytes([]byte{0x02, 0x00, 0x10, 0x00}); !errors.Is(err, ErrBadHeader) {
		t.Errorf("short slot table err = %v, want ErrBadHeader", err)
	}
}

func TestArchiveBadOffset(t *testing.T) {
	data := []byte{0x01, 0x00, 0xff, 0x00, 0x00, 0x00}
	a, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if _, err := a.Load(0); !errors.Is(err, ErrBadOffset) {
		t.Errorf("Load(0) err = %v, want ErrBadOffset", err)
	}
}

func TestOpenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cnv.ark")
	data := BuildArchive(1, map[int][]byte{0: EncodeScript(sampleScript())})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !a.IsAvailable(0) {
		t.Error("slot 0 should be available")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.ark")); err == nil {
		t.Error("Open of missing file should fail")
	}
}

// ---------------------------------------------------------------------------
// Fixups
// ---------------------------------------------------------------------------

func TestFixupsApplied(t *testing.T) {
	s := sampleScript()
	s.Code = make([]uint16, 0x0800)
	data := BuildArchive(7, map[int][]byte{6: EncodeScript(s)})

	plain, _ := FromBytes(data)
	got, err := plain.Load(6)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Code[0x076e] != 0 {
		t.Errorf("without fixups word = %04x, want 0", got.Code[0x076e])
	}

	fixed, _ := FromBytes(data, WithFixups(true))
	got, err = fixed.Load(6)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Code[0x076e] != 0x0016 {
		t.Errorf("with fixups word = %04x, want 0016", got.Code[0x076e])
	}
}

func TestFixupOutsideCodeSkipped(t *testing.T) {
	data := BuildArchive(16, map[int][]byte{15: EncodeScript(sampleScript())})
	a, _ := FromBytes(data, WithFixups(true))
	s, err := a.Load(15)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Code) != 6 {
		t.Errorf("len(Code) = %d, want 6", len(s.Code))
	}
}
