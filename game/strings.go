package game

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// ErrNoBlock is returned for a string block the table does not hold.
var ErrNoBlock = errors.New("no such string block")

// StringTable holds the game's string blocks. Conversation texts live in
// block 0x0e00 + slot.
//
// The on-disk form is TOML:
//
//	[[block]]
//	id = 0x0e01
//	strings = ["Hello.", "Goodbye."]
type StringTable struct {
	blocks map[uint16][]string
}

type stringFile struct {
	Block []stringBlock `toml:"block"`
}

type stringBlock struct {
	ID      uint16   `toml:"id"`
	Strings []string `toml:"strings"`
}

// NewStringTable creates an empty table.
func NewStringTable() *StringTable {
	return &StringTable{blocks: make(map[uint16][]string)}
}

// DecodeStrings reads a TOML string table.
func DecodeStrings(r io.Reader) (*StringTable, error) {
	var f stringFile
	if _, err := toml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("string table: %w", err)
	}
	t := NewStringTable()
	for _, b := range f.Block {
		if _, dup := t.blocks[b.ID]; dup {
			return nil, fmt.Errorf("string table: block %04x defined twice", b.ID)
		}
		t.blocks[b.ID] = b.Strings
	}
	return t, nil
}

// LoadStrings reads a TOML string table from path.
func LoadStrings(path string) (*StringTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := DecodeStrings(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Infof("loaded %d string blocks from %s", len(t.blocks), path)
	return t, nil
}

// SetBlock replaces a block.
func (t *StringTable) SetBlock(id uint16, strs []string) {
	t.blocks[id] = strs
}

// Block returns a copy of block id, ready to seed a conversation's local
// strings.
func (t *StringTable) Block(id uint16) ([]string, error) {
	b, ok := t.blocks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %04x", ErrNoBlock, id)
	}
	return append([]string(nil), b...), nil
}

// Blocks returns the block ids in ascending order.
func (t *StringTable) Blocks() []uint16 {
	ids := make([]uint16, 0, len(t.blocks))
	for id := range t.blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Encode writes the table in its TOML form.
func (t *StringTable) Encode(w io.Writer) error {
	var f stringFile
	for _, id := range t.Blocks() {
		f.Block = append(f.Block, stringBlock{ID: id, Strings: t.blocks[id]})
	}
	return toml.NewEncoder(w).Encode(f)
}
