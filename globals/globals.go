// Package globals holds the conversation globals: one array of 16-bit
// variables per conversation slot, shared by every conversation of a game
// session and persisted with the save game.
package globals

import (
	"slices"

	"github.com/tliron/commonlog"
)

var logger = commonlog.GetLogger("convm.globals")

// Globals is the process-wide conversation globals table. It performs no
// locking: at most one conversation runs at a time.
type Globals struct {
	slots [][]uint16
}

// New returns an empty table.
func New() *Globals {
	return &Globals{}
}

// NumSlots returns one past the highest slot that was ever set.
func (g *Globals) NumSlots() int {
	return len(g.slots)
}

// Slot returns the live variable array of slot. The returned slice aliases
// the table; writes through it are visible to later readers. A slot that was
// never set yields nil.
func (g *Globals) Slot(slot int) []uint16 {
	if slot < 0 || slot >= len(g.slots) {
		return nil
	}
	return g.slots[slot]
}

// SetSlot replaces the variables of slot, growing the table as needed.
func (g *Globals) SetSlot(slot int, values []uint16) {
	if slot < 0 {
		return
	}
	for len(g.slots) <= slot {
		g.slots = append(g.slots, nil)
	}
	g.slots[slot] = values
}

// Reserve makes sure slot has at least size variables, zero filled.
func (g *Globals) Reserve(slot, size int) []uint16 {
	cur := g.Slot(slot)
	if len(cur) >= size {
		return cur
	}
	grown := make([]uint16, size)
	copy(grown, cur)
	g.SetSlot(slot, grown)
	return grown
}

// Clone returns a deep copy.
func (g *Globals) Clone() *Globals {
	c := &Globals{slots: make([][]uint16, len(g.slots))}
	for i, s := range g.slots {
		if s != nil {
			c.slots[i] = slices.Clone(s)
		}
	}
	return c
}

// Equal reports whether both tables hold the same slots and values.
func (g *Globals) Equal(o *Globals) bool {
	n := max(len(g.slots), len(o.slots))
	for i := 0; i < n; i++ {
		if !slices.Equal(g.Slot(i), o.Slot(i)) {
			return false
		}
	}
	return true
}

// Diff lists (slot, index) pairs whose values differ between g and o.
func (g *Globals) Diff(o *Globals) []Cell {
	var out []Cell
	n := max(len(g.slots), len(o.slots))
	for slot := 0; slot < n; slot++ {
		a, b := g.Slot(slot), o.Slot(slot)
		m := max(len(a), len(b))
		for i := 0; i < m; i++ {
			if i >= len(a) || i >= len(b) || a[i] != b[i] {
				out = append(out, Cell{Slot: slot, Index: i})
			}
		}
	}
	return out
}

// Cell addresses one variable.
type Cell struct {
	Slot  int
	Index int
}
