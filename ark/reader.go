package ark

import "encoding/binary"

// cursor reads little-endian values from data[off:end]. end bounds the
// current record so that a corrupt length can never read into the next one.
type cursor struct {
	data []byte
	off  int
	end  int
}

func newCursor(data []byte, off, end int) *cursor {
	if end > len(data) {
		end = len(data)
	}
	return &cursor{data: data, off: off, end: end}
}

func (c *cursor) remaining() int {
	return c.end - c.off
}

func (c *cursor) u16() (uint16, error) {
	if c.off+2 > c.end {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint16(c.data[c.off:])
	c.off += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.off+4 > c.end {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.off+n > c.end {
		return nil, ErrTruncated
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) words(n int) ([]uint16, error) {
	if n < 0 || c.off+2*n > c.end {
		return nil, ErrTruncated
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(c.data[c.off:])
		c.off += 2
	}
	return out, nil
}
