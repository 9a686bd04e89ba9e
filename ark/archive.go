// Package ark reads compiled conversation scripts out of a conversation
// archive ("cnv.ark").
//
// The archive starts with a u16 slot count followed by one u32 offset per
// slot; an offset of zero marks an empty slot. Every record holds a small
// header, the import table and the code words. Decoding is purely mechanical:
// words are kept untyped and interpreted later by the virtual machine.
package ark

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/tliron/commonlog"
)

var logger = commonlog.GetLogger("convm.ark")

// Archive is an opened conversation archive.
type Archive struct {
	data    []byte
	offsets []uint32
	ends    map[uint32]int // record start -> end bound
	fixups  bool
}

// Option configures an Archive.
type Option func(*Archive)

// WithFixups enables the patches for known broken scripts (see fixups.go).
func WithFixups(enabled bool) Option {
	return func(a *Archive) { a.fixups = enabled }
}

// Open reads the archive at path.
func Open(path string, opts ...Option) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return FromBytes(data, opts...)
}

// FromBytes parses the slot table of an in-memory archive. Records are only
// decoded on Load.
func FromBytes(data []byte, opts ...Option) (*Archive, error) {
	c := newCursor(data, 0, len(data))
	count, err := c.u16()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}

	offsets := make([]uint32, count)
	for i := range offsets {
		if offsets[i], err = c.u32(); err != nil {
			return nil, fmt.Errorf("%w: slot table has %d entries, file ends at entry %d", ErrBadHeader, count, i)
		}
	}

	a := &Archive{data: data, offsets: offsets}
	for _, opt := range opts {
		opt(a)
	}
	a.computeBounds()
	return a, nil
}

// computeBounds derives each record's end from the next higher record
// offset; the last record is bounded by the archive length.
func (a *Archive) computeBounds() {
	starts := make([]uint32, 0, len(a.offsets))
	for _, off := range a.offsets {
		if off != 0 {
			starts = append(starts, off)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	a.ends = make(map[uint32]int, len(starts))
	for i, off := range starts {
		end := len(a.data)
		for j := i + 1; j < len(starts); j++ {
			if starts[j] > off {
				end = int(starts[j])
				break
			}
		}
		a.ends[off] = end
	}
}

// NumSlots returns the number of slots in the slot table.
func (a *Archive) NumSlots() int {
	return len(a.offsets)
}

// IsAvailable reports whether slot holds a conversation.
func (a *Archive) IsAvailable(slot int) bool {
	return slot >= 0 && slot < len(a.offsets) && a.offsets[slot] != 0
}

// Load decodes the conversation in slot. Any error is a *LoadError.
func (a *Archive) Load(slot int) (*Script, error) {
	if slot < 0 || slot >= len(a.offsets) {
		return nil, &LoadError{Slot: slot, Err: fmt.Errorf("%w: %d of %d", ErrSlotRange, slot, len(a.offsets))}
	}
	off := a.offsets[slot]
	if off == 0 {
		return nil, &LoadError{Slot: slot, Err: ErrSlotEmpty}
	}
	if int(off) >= len(a.data) {
		return nil, &LoadError{Slot: slot, Offset: int(off), Err: ErrBadOffset}
	}

	s, err := DecodeScript(a.data, int(off), a.ends[off])
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Slot = slot
			return nil, le
		}
		return nil, &LoadError{Slot: slot, Offset: int(off), Err: err}
	}
	s.Slot = uint16(slot)

	if a.fixups {
		applyFixups(s)
	}

	logger.Debugf("loaded slot %d: %d code words, %d imports, string block %04x",
		slot, len(s.Code), len(s.Imports), s.StringBlock)
	return s, nil
}

// LoadAll decodes every available slot. A slot that fails to decode is
// reported in errs and does not stop the others.
func (a *Archive) LoadAll() (scripts map[int]*Script, errs map[int]error) {
	scripts = make(map[int]*Script)
	errs = make(map[int]error)
	for slot := range a.offsets {
		if !a.IsAvailable(slot) {
			continue
		}
		s, err := a.Load(slot)
		if err != nil {
			logger.Errorf("%v", err)
			errs[slot] = err
			continue
		}
		scripts[slot] = s
	}
	return scripts, errs
}
