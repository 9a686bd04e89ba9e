package globals

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrCorruptFile is returned when a globals file ends inside an entry.
var ErrCorruptFile = errors.New("corrupt conversation globals file")

// Read parses a globals file: repeated {u16 slot, u16 size, size x u16}.
// With initial set the file is the "babglobs.dat" form, which carries only
// slot/size pairs; all variables then start at zero.
func Read(r io.Reader, initial bool) (*Globals, error) {
	br := bufio.NewReader(r)
	g := New()

	var hdr [4]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return g, nil
			}
			return nil, fmt.Errorf("%w: entry header: %v", ErrCorruptFile, err)
		}
		slot := int(binary.LittleEndian.Uint16(hdr[0:]))
		size := int(binary.LittleEndian.Uint16(hdr[2:]))

		values := make([]uint16, size)
		if !initial {
			if err := binary.Read(br, binary.LittleEndian, values); err != nil {
				return nil, fmt.Errorf("%w: slot %d: %v", ErrCorruptFile, slot, err)
			}
		}
		g.SetSlot(slot, values)
	}
}

// ReadFile reads the globals file at path.
func ReadFile(path string, initial bool) (*Globals, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	g, err := Read(f, initial)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Infof("loaded conversation globals for %d slots from %s", g.NumSlots(), path)
	return g, nil
}

// WriteTo writes g in the saved ("bglobals.dat") form. Slots that were never
// set are omitted.
func (g *Globals) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for slot, values := range g.slots {
		if values == nil {
			continue
		}
		buf := make([]byte, 4+2*len(values))
		binary.LittleEndian.PutUint16(buf[0:], uint16(slot))
		binary.LittleEndian.PutUint16(buf[2:], uint16(len(values)))
		for i, v := range values {
			binary.LittleEndian.PutUint16(buf[4+2*i:], v)
		}
		m, err := bw.Write(buf)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// WriteFile writes g to path in the saved form.
func (g *Globals) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if _, err := g.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return f.Close()
}
