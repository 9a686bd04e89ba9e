package ark

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Load errors
// ---------------------------------------------------------------------------

var (
	ErrTruncated = errors.New("truncated conversation record")
	ErrBadHeader = errors.New("corrupt archive header")
	ErrBadOffset = errors.New("slot offset outside archive")
	ErrSlotEmpty = errors.New("no conversation in slot")
	ErrSlotRange = errors.New("slot number out of range")
)

// LoadError reports a failure to decode one conversation slot. It never
// affects the other slots of the same archive.
type LoadError struct {
	Slot   int   // archive slot being loaded
	Offset int   // byte offset in the archive where decoding stopped
	Err    error // one of the sentinel errors above, possibly wrapped
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("ark: slot %d at offset 0x%04x: %v", e.Slot, e.Offset, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsTruncated reports whether err is a LoadError caused by a record that
// runs past its bound.
func IsTruncated(err error) bool {
	return errors.Is(err, ErrTruncated)
}
