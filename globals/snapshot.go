package globals

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("globals: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is the CBOR form of a globals table, used by the debug server and
// the save store.
type Snapshot struct {
	Slots   map[uint16][]uint16 `cbor:"1,keyasint"`
	SavedAt int64               `cbor:"2,keyasint,omitempty"`
}

// NewSnapshot captures g.
func NewSnapshot(g *Globals) *Snapshot {
	s := &Snapshot{Slots: make(map[uint16][]uint16), SavedAt: time.Now().Unix()}
	for slot, values := range g.slots {
		if values == nil {
			continue
		}
		s.Slots[uint16(slot)] = append([]uint16(nil), values...)
	}
	return s
}

// Globals rebuilds a table from the snapshot.
func (s *Snapshot) Globals() *Globals {
	g := New()
	for slot, values := range s.Slots {
		g.SetSlot(int(slot), append([]uint16(nil), values...))
	}
	return g
}

// MarshalSnapshot serializes g to canonical CBOR.
func MarshalSnapshot(g *Globals) ([]byte, error) {
	return cborEncMode.Marshal(NewSnapshot(g))
}

// UnmarshalSnapshot decodes data produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Globals, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("globals: unmarshal snapshot: %w", err)
	}
	return s.Globals(), nil
}
