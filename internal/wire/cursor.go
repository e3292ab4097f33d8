// Package wire provides a bounds-checked little-endian cursor over a
// single datagram's bytes. Both capture formats encode fields
// little-endian; a short read is an error, never a panic.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrShortRead reports an attempted read past the end of the record.
type ErrShortRead struct {
	Pos  int
	Need int
	Len  int
}

func (e *ErrShortRead) Error() string {
	return fmt.Sprintf("short read at offset %d: need %d bytes, %d in record", e.Pos, e.Need, e.Len)
}

// Cursor walks a fixed byte buffer sequentially.
type Cursor struct {
	buf []byte
	pos int
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Pos returns the current offset within the record.
func (c *Cursor) Pos() int {
	return c.pos
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, &ErrShortRead{Pos: c.pos, Need: n, Len: len(c.buf)}
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Skip advances the cursor without interpreting the bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.take(n)
	return err
}

// Seek moves the cursor to an absolute offset within the record.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return &ErrShortRead{Pos: pos, Need: 0, Len: len(c.buf)}
	}
	c.pos = pos
	return nil
}

// Bytes returns the next n bytes as a sub-slice of the record buffer.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	return c.take(n)
}

func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *Cursor) Int16() (int16, error) {
	v, err := c.Uint16()
	return int16(v), err
}

func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *Cursor) Float32() (float32, error) {
	v, err := c.Uint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (c *Cursor) Float64() (float64, error) {
	v, err := c.Uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// String reads n bytes and trims trailing NULs, the padding convention
// used by fixed-width text fields in both formats.
func (c *Cursor) String(n int) (string, error) {
	b, err := c.take(n)
	if err != nil {
		return "", err
	}
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end]), nil
}
